// Command persuade runs schema-validated extractions from the command line.
//
//	persuade run --schema person.schema.json --input note.txt
//
// Exit codes: 0 success, 1 validation exhausted, 2 provider error,
// 3 configuration error, 4 I/O error.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"goa.design/clue/log"
	"gopkg.in/yaml.v3"

	"github.com/persuadehq/persuade"
	"github.com/persuadehq/persuade/features/provider/anthropic"
	"github.com/persuadehq/persuade/features/provider/openai"
	redisstore "github.com/persuadehq/persuade/features/session/redis"
	"github.com/persuadehq/persuade/runtime/engine"
	"github.com/persuadehq/persuade/runtime/prompt"
	"github.com/persuadehq/persuade/runtime/provider"
	"github.com/persuadehq/persuade/runtime/schema"
	"github.com/persuadehq/persuade/runtime/session"
	"github.com/persuadehq/persuade/runtime/telemetry"
)

const (
	exitOK         = 0
	exitValidation = 1
	exitProvider   = 2
	exitConfig     = 3
	exitIO         = 4
)

// fileConfig is the optional YAML configuration. Flags override it.
type fileConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	Retries  *int   `yaml:"retries"`
	Context  string `yaml:"context"`
	Lens     string `yaml:"lens"`

	Store    string `yaml:"store"`
	RedisURL string `yaml:"redis_url"`
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		usage()
		return exitConfig
	}
	switch args[0] {
	case "run":
		return runExtract(args[1:])
	case "-h", "--help", "help":
		usage()
		return exitOK
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", args[0])
		usage()
		return exitConfig
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: persuade run --schema <path> --input <path-or-glob> [flags]

Flags:
  --schema      path to a JSON Schema document (required)
  --input       input file path or glob (required)
  --output      write results to this file instead of stdout
  --session-id  logical session to reuse
  --context     durable instruction for the session
  --lens        per-call perspective modifier
  --retries     additional attempts after the first (default 3)
  --model       model identifier override
  --provider    provider name: anthropic, openai, openai-local
  --config      YAML config file (default persuade.yaml when present)
  --dry-run     print the composed prompt without contacting the provider
  --verbose     log per-attempt progress
  --debug       enable debug logs`)
}

func runExtract(args []string) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	var (
		schemaF   = fs.String("schema", "", "path to JSON Schema document")
		inputF    = fs.String("input", "", "input file path or glob")
		outputF   = fs.String("output", "", "output file path")
		sessionF  = fs.String("session-id", "", "logical session id to reuse")
		contextF  = fs.String("context", "", "durable session instruction")
		lensF     = fs.String("lens", "", "per-call perspective modifier")
		retriesF  = fs.Int("retries", -1, "additional attempts after the first")
		modelF    = fs.String("model", "", "model identifier")
		providerF = fs.String("provider", "", "provider name")
		configF   = fs.String("config", "", "YAML config file")
		dryRunF   = fs.Bool("dry-run", false, "print prompt without provider contact")
		verboseF  = fs.Bool("verbose", false, "log per-attempt progress")
		debugF    = fs.Bool("debug", false, "enable debug logs")
	)
	if err := fs.Parse(args); err != nil {
		return exitConfig
	}

	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	if *debugF {
		ctx = log.Context(ctx, log.WithDebug())
		log.Debugf(ctx, "debug logs enabled")
	}

	cfg, err := loadConfig(*configF)
	if err != nil {
		log.Errorf(ctx, err, "load config")
		return exitConfig
	}
	providerName := firstNonEmpty(*providerF, cfg.Provider, "anthropic")
	model := firstNonEmpty(*modelF, cfg.Model)
	sessionContext := firstNonEmpty(*contextF, cfg.Context)
	lens := firstNonEmpty(*lensF, cfg.Lens)
	retries := cfg.Retries
	if *retriesF >= 0 {
		retries = retriesF
	}

	if *schemaF == "" {
		fmt.Fprintln(os.Stderr, "--schema is required")
		return exitConfig
	}
	if *inputF == "" {
		fmt.Fprintln(os.Stderr, "--input is required")
		return exitConfig
	}

	schemaData, err := os.ReadFile(*schemaF)
	if err != nil {
		log.Errorf(ctx, err, "read schema %q", *schemaF)
		return exitIO
	}
	sch, err := schema.FromJSONSchema(schemaData)
	if err != nil {
		log.Errorf(ctx, err, "parse schema %q", *schemaF)
		return exitConfig
	}

	inputs, err := collectInputs(*inputF)
	if err != nil {
		log.Errorf(ctx, err, "collect inputs %q", *inputF)
		return exitIO
	}
	if len(inputs) == 0 {
		fmt.Fprintf(os.Stderr, "no inputs match %q\n", *inputF)
		return exitIO
	}

	if *dryRunF {
		return dryRun(ctx, sch, sessionContext, lens, inputs)
	}

	adapter, err := buildAdapter(providerName, model)
	if err != nil {
		log.Errorf(ctx, err, "configure provider %q", providerName)
		return exitConfig
	}
	store, err := buildStore(ctx, cfg)
	if err != nil {
		log.Errorf(ctx, err, "configure session store")
		return exitConfig
	}

	if err := persuade.Configure(persuade.Config{
		Adapter: adapter,
		Store:   store,
		Logger:  telemetry.NewClueLogger(),
	}); err != nil {
		log.Errorf(ctx, err, "configure runtime")
		return exitConfig
	}
	defer func() {
		if err := persuade.Shutdown(ctx); err != nil {
			log.Errorf(ctx, err, "shutdown")
		}
	}()

	out := os.Stdout
	if *outputF != "" {
		f, err := os.Create(*outputF)
		if err != nil {
			log.Errorf(ctx, err, "create output %q", *outputF)
			return exitIO
		}
		defer f.Close()
		out = f
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")

	code := exitOK
	for _, in := range inputs {
		opts := persuade.Options{
			Schema:    sch,
			Input:     in.value,
			Context:   sessionContext,
			Lens:      lens,
			SessionID: *sessionF,
			Model:     model,
		}
		if retries != nil {
			opts.Retries = persuade.Int(*retries)
		}
		res, err := persuade.Persuade(ctx, opts)
		if err != nil {
			log.Errorf(ctx, err, "run %q", in.path)
			return exitConfig
		}
		if *verboseF {
			log.Print(ctx, log.KV{K: "msg", V: "input processed"},
				log.KV{K: "path", V: in.path},
				log.KV{K: "ok", V: res.Ok},
				log.KV{K: "attempts", V: res.Attempts},
				log.KV{K: "session_id", V: res.SessionID},
				log.KV{K: "duration", V: res.Metadata.Duration.Round(time.Millisecond).String()})
		}
		if !res.Ok {
			log.Errorf(ctx, res.Err, "extraction failed for %q after %d attempts", in.path, res.Attempts)
			code = worst(code, exitFor(res.Err))
			continue
		}
		if err := enc.Encode(res.Value); err != nil {
			log.Errorf(ctx, err, "write result for %q", in.path)
			return exitIO
		}
	}
	return code
}

type input struct {
	path  string
	value any
}

// collectInputs expands a glob (or single path) and decodes each file. JSON
// documents become structured values; anything else passes through as text.
func collectInputs(pattern string) ([]input, error) {
	paths := []string{pattern}
	if strings.ContainsAny(pattern, "*?[") {
		matched, err := filepath.Glob(pattern)
		if err != nil {
			return nil, err
		}
		paths = matched
	}
	out := make([]input, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		var v any
		if json.Unmarshal(data, &v) == nil {
			out = append(out, input{path: path, value: v})
			continue
		}
		out = append(out, input{path: path, value: string(data)})
	}
	return out, nil
}

func dryRun(ctx context.Context, sch *schema.Schema, sessionContext, lens string, inputs []input) int {
	for _, in := range inputs {
		composed, err := prompt.Build(prompt.Parts{
			Context: sessionContext,
			Lens:    lens,
			Schema:  sch,
			Input:   in.value,
		})
		if err != nil {
			log.Errorf(ctx, err, "compose prompt for %q", in.path)
			return exitConfig
		}
		fmt.Println(composed)
	}
	return exitOK
}

func buildAdapter(name, model string) (provider.Adapter, error) {
	switch name {
	case "anthropic":
		key := os.Getenv("ANTHROPIC_API_KEY")
		if key == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY is not set")
		}
		return anthropic.NewFromAPIKey(key, firstNonEmpty(model, "claude-sonnet-4-5"))
	case "openai":
		key := os.Getenv("OPENAI_API_KEY")
		if key == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is not set")
		}
		return openai.NewFromAPIKey(key, firstNonEmpty(model, "gpt-4o"))
	case "openai-local":
		base := os.Getenv("OPENAI_BASE_URL")
		if base == "" {
			return nil, fmt.Errorf("OPENAI_BASE_URL is not set")
		}
		return openai.NewLocal(base, model)
	default:
		return nil, fmt.Errorf("unknown provider %q (valid: anthropic, openai, openai-local)", name)
	}
}

func buildStore(ctx context.Context, cfg fileConfig) (session.Store, error) {
	switch cfg.Store {
	case "", "memory":
		return nil, nil // Configure falls back to the in-memory store.
	case "redis":
		url := firstNonEmpty(cfg.RedisURL, os.Getenv("REDIS_URL"))
		if url == "" {
			return nil, fmt.Errorf("redis store selected but no redis_url configured")
		}
		return redisstore.NewFromURL(ctx, url, session.DefaultTTL)
	default:
		return nil, fmt.Errorf("unknown store %q (valid: memory, redis)", cfg.Store)
	}
}

func loadConfig(path string) (fileConfig, error) {
	var cfg fileConfig
	explicit := path != ""
	if path == "" {
		path = "persuade.yaml"
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if explicit {
			return cfg, err
		}
		return cfg, nil
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

func exitFor(err *engine.Error) int {
	if err == nil {
		return exitOK
	}
	switch err.Kind {
	case engine.KindValidation:
		return exitValidation
	case engine.KindProvider, engine.KindCancelled:
		return exitProvider
	default:
		return exitConfig
	}
}

func worst(a, b int) int {
	if b > a {
		return b
	}
	return a
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
