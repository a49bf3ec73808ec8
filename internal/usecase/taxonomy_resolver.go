package usecase

import (
	"strings"
)

// pathEscapeReplacer strips quoting and escape characters that wrap path
// segments in spreadsheet exports ("\"Rings\"", "Rings\\").
var pathEscapeReplacer = strings.NewReplacer(`"`, "", "'", "", "`", "", "\t", " ")

// TaxonomyResolver maps hierarchical category paths to vocabulary categories.
// It is read-only after construction and safe for concurrent use.
type TaxonomyResolver struct {
	vocab *Vocabulary
}

// NewTaxonomyResolver creates a resolver over the given vocabulary.
// A nil vocabulary uses DefaultVocabulary.
func NewTaxonomyResolver(vocab *Vocabulary) *TaxonomyResolver {
	if vocab == nil {
		vocab = DefaultVocabulary()
	}
	return &TaxonomyResolver{vocab: vocab}
}

// Resolve returns the category for a path string. The string may hold several
// alternative paths separated by ';'; the first one that resolves wins.
// Resolve never fails: unmatched input yields the vocabulary default.
func (r *TaxonomyResolver) Resolve(pathString string) string {
	if strings.TrimSpace(pathString) == "" {
		return r.vocab.defaultCategory
	}

	for _, candidate := range strings.Split(pathString, ";") {
		if category, ok := r.resolvePath(candidate); ok {
			return category
		}
	}
	return r.vocab.defaultCategory
}

// resolvePath resolves one candidate path, leaf segment first.
func (r *TaxonomyResolver) resolvePath(path string) (string, bool) {
	normalized := normalizePath(path)
	if normalized == "" {
		return "", false
	}

	segments := splitPath(normalized)
	for i := len(segments) - 1; i >= 0; i-- {
		if category, ok := r.matchSegment(segments[i]); ok {
			return category, true
		}
	}

	// Coarse fallback over the whole path
	for _, e := range r.vocab.entries {
		if strings.Contains(normalized, e.Keyword) {
			return e.Category, true
		}
	}
	return "", false
}

// matchSegment tries an exact keyword hit, then bidirectional containment in
// vocabulary order.
func (r *TaxonomyResolver) matchSegment(segment string) (string, bool) {
	if category, ok := r.vocab.exact[segment]; ok {
		return category, true
	}
	for _, e := range r.vocab.entries {
		if strings.Contains(segment, e.Keyword) || strings.Contains(e.Keyword, segment) {
			return e.Category, true
		}
	}
	return "", false
}

// normalizePath lowercases, trims and strips escape characters from a path.
func normalizePath(path string) string {
	path = pathEscapeReplacer.Replace(strings.ToLower(path))
	return strings.TrimSpace(multipleSpacesRegex.ReplaceAllString(path, " "))
}

// splitPath splits on any of the equivalent separators \ / > | and drops empty segments.
func splitPath(path string) []string {
	fields := strings.FieldsFunc(path, func(r rune) bool {
		return r == '\\' || r == '/' || r == '>' || r == '|'
	})
	segments := fields[:0]
	for _, f := range fields {
		if s := strings.TrimSpace(f); s != "" {
			segments = append(segments, s)
		}
	}
	return segments
}
