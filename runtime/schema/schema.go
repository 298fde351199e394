// Package schema defines the declarative output schema tree used to validate
// LLM responses. Schemas are plain data: a finite tree of Schema nodes that
// can be traversed, described, serialized, and evaluated against decoded JSON
// values without side effects. Construction helpers (Object, Array, String,
// Enum, ...) build the tree; chainable setters refine constraints.
package schema

type (
	// Schema is a single node in the schema tree. Kind selects which of the
	// remaining fields are meaningful; unused fields are zero and omitted from
	// serialized form.
	Schema struct {
		// Kind identifies the node type.
		Kind Kind `json:"kind"`

		// Description is a human-readable explanation of the value, surfaced in
		// schema descriptions and corrective feedback.
		Description string `json:"description,omitempty"`

		// Fields lists the named members of an object schema, in declaration
		// order. Order matters for deterministic descriptions and examples.
		Fields []Field `json:"fields,omitempty"`

		// Open permits keys beyond Fields on an object schema. Objects are
		// closed by default: unknown keys produce unrecognized_keys issues.
		Open bool `json:"open,omitempty"`

		// Elem is the element schema of an array.
		Elem *Schema `json:"elem,omitempty"`

		// MinItems and MaxItems bound array length when non-nil.
		MinItems *int `json:"min_items,omitempty"`
		MaxItems *int `json:"max_items,omitempty"`

		// MinLen and MaxLen bound string length when non-nil.
		MinLen *int `json:"min_len,omitempty"`
		MaxLen *int `json:"max_len,omitempty"`

		// Format names a well-known string format (email, url, uuid).
		Format Format `json:"format,omitempty"`

		// Min and Max bound numeric values when non-nil.
		Min *float64 `json:"min,omitempty"`
		Max *float64 `json:"max,omitempty"`

		// Integer restricts a number schema to integral values.
		Integer bool `json:"integer,omitempty"`

		// Options enumerates the literal values accepted by an enum schema.
		Options []any `json:"options,omitempty"`

		// Variants lists the member schemas of a union.
		Variants []*Schema `json:"variants,omitempty"`

		// Discriminator names the object field that selects a union variant.
		// Empty for untagged unions.
		Discriminator string `json:"discriminator,omitempty"`
	}

	// Field is a named member of an object schema.
	Field struct {
		// Name is the JSON key.
		Name string `json:"name"`
		// Schema describes the member value.
		Schema *Schema `json:"schema"`
		// Optional marks the member as omittable.
		Optional bool `json:"optional,omitempty"`
	}

	// Kind identifies the type of a schema node.
	Kind string

	// Format names a well-known string format.
	Format string
)

// Schema node kinds.
const (
	KindObject  Kind = "object"
	KindArray   Kind = "array"
	KindString  Kind = "string"
	KindNumber  Kind = "number"
	KindBoolean Kind = "boolean"
	KindEnum    Kind = "enum"
	KindUnion   Kind = "union"
	// KindAny accepts every JSON value. Unknown schema kinds degrade to it.
	KindAny Kind = "any"
)

// String formats.
const (
	FormatEmail Format = "email"
	FormatURL   Format = "url"
	FormatUUID  Format = "uuid"
)

// Object returns a closed object schema with the given fields.
func Object(fields ...Field) *Schema {
	return &Schema{Kind: KindObject, Fields: fields}
}

// F returns a required object field.
func F(name string, s *Schema) Field {
	return Field{Name: name, Schema: s}
}

// Opt returns an optional object field.
func Opt(name string, s *Schema) Field {
	return Field{Name: name, Schema: s, Optional: true}
}

// Array returns an array schema with the given element schema.
func Array(elem *Schema) *Schema {
	return &Schema{Kind: KindArray, Elem: elem}
}

// String returns a string schema.
func String() *Schema {
	return &Schema{Kind: KindString}
}

// Number returns a number schema.
func Number() *Schema {
	return &Schema{Kind: KindNumber}
}

// Int returns a number schema restricted to integral values.
func Int() *Schema {
	return &Schema{Kind: KindNumber, Integer: true}
}

// Boolean returns a boolean schema.
func Boolean() *Schema {
	return &Schema{Kind: KindBoolean}
}

// Enum returns an enum schema accepting exactly the given literal values.
func Enum(options ...any) *Schema {
	return &Schema{Kind: KindEnum, Options: options}
}

// Union returns an untagged union schema over the given variants. Use
// Discriminate to turn it into a tagged union.
func Union(variants ...*Schema) *Schema {
	return &Schema{Kind: KindUnion, Variants: variants}
}

// Any returns a schema accepting every JSON value.
func Any() *Schema {
	return &Schema{Kind: KindAny}
}

// Desc sets the human-readable description and returns the schema.
func (s *Schema) Desc(d string) *Schema {
	s.Description = d
	return s
}

// AllowUnknown opens an object schema to keys beyond its declared fields.
func (s *Schema) AllowUnknown() *Schema {
	s.Open = true
	return s
}

// MinLength sets the minimum string length.
func (s *Schema) MinLength(n int) *Schema {
	s.MinLen = &n
	return s
}

// MaxLength sets the maximum string length.
func (s *Schema) MaxLength(n int) *Schema {
	s.MaxLen = &n
	return s
}

// WithFormat sets the string format.
func (s *Schema) WithFormat(f Format) *Schema {
	s.Format = f
	return s
}

// Minimum sets the inclusive numeric lower bound.
func (s *Schema) Minimum(v float64) *Schema {
	s.Min = &v
	return s
}

// Maximum sets the inclusive numeric upper bound.
func (s *Schema) Maximum(v float64) *Schema {
	s.Max = &v
	return s
}

// MinLenItems sets the minimum array length.
func (s *Schema) MinLenItems(n int) *Schema {
	s.MinItems = &n
	return s
}

// MaxLenItems sets the maximum array length.
func (s *Schema) MaxLenItems(n int) *Schema {
	s.MaxItems = &n
	return s
}

// Discriminate names the field that selects the union variant. Each variant
// must be an object schema whose discriminator field is an enum of the
// variant's tag value(s).
func (s *Schema) Discriminate(field string) *Schema {
	s.Discriminator = field
	return s
}

// FieldNamed returns the object field with the given name, or nil.
func (s *Schema) FieldNamed(name string) *Field {
	for i := range s.Fields {
		if s.Fields[i].Name == name {
			return &s.Fields[i]
		}
	}
	return nil
}
