package schema

import "sort"

const (
	// similarityFloor is the minimum normalized similarity for a candidate to
	// be suggested.
	similarityFloor = 0.3
	// maxMatches caps the number of "did you mean" candidates.
	maxMatches = 3
)

// Match is a nearest-match candidate with its normalized similarity.
type Match struct {
	Value      string
	Similarity float64
}

// ClosestMatches ranks candidates by edit-distance similarity to the input,
// keeping those with similarity >= 0.3 and returning at most the top 3.
// Similarity is 1 - distance/len(longer); comparison is case-insensitive so
// casing mistakes rank highest.
func ClosestMatches(input string, candidates []string) []Match {
	if input == "" || len(candidates) == 0 {
		return nil
	}
	var out []Match
	for _, c := range candidates {
		if c == "" {
			continue
		}
		longer := len(input)
		if len(c) > longer {
			longer = len(c)
		}
		d := editDistance(lower(input), lower(c))
		sim := 1 - float64(d)/float64(longer)
		if sim >= similarityFloor {
			out = append(out, Match{Value: c, Similarity: sim})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	if len(out) > maxMatches {
		out = out[:maxMatches]
	}
	return out
}

// editDistance computes the Levenshtein distance between two strings using a
// rolling single-row table.
func editDistance(a, b string) int {
	if a == b {
		return 0
	}
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}
	row := make([]int, len(b)+1)
	for j := range row {
		row[j] = j
	}
	for i := 1; i <= len(a); i++ {
		prev := row[0]
		row[0] = i
		for j := 1; j <= len(b); j++ {
			cur := row[j]
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			row[j] = min3(row[j]+1, row[j-1]+1, prev+cost)
			prev = cur
		}
	}
	return row[len(b)]
}

func lower(s string) string {
	out := []byte(s)
	for i := range out {
		if out[i] >= 'A' && out[i] <= 'Z' {
			out[i] += 'a' - 'A'
		}
	}
	return string(out)
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}
