package usecase

import (
	"fmt"
	"slices"

	"github.com/catalogsync/backend/internal/domain"
)

// DefaultCategory is returned for paths that match no vocabulary keyword
const DefaultCategory = "jewelry"

// VocabularyEntry maps one normalized keyword to a category identifier.
type VocabularyEntry struct {
	Keyword  string `mapstructure:"keyword"`
	Category string `mapstructure:"category"`
}

// Vocabulary is the fixed keyword -> category table used by the taxonomy resolver.
// Entry order is significant: substring matching returns the first hit in
// insertion order, so more specific keywords ("earring") must precede keywords
// they contain ("ring").
type Vocabulary struct {
	entries         []VocabularyEntry
	exact           map[string]string
	defaultCategory string
}

// NewVocabulary builds a vocabulary from ordered entries. Keywords are normalized;
// when a keyword repeats, its first entry wins.
func NewVocabulary(defaultCategory string, entries []VocabularyEntry) (*Vocabulary, error) {
	if defaultCategory == "" {
		return nil, fmt.Errorf("%w: taxonomy default category is empty", domain.ErrInvalidConfig)
	}

	v := &Vocabulary{
		entries:         make([]VocabularyEntry, 0, len(entries)),
		exact:           make(map[string]string, len(entries)),
		defaultCategory: defaultCategory,
	}
	for i, e := range entries {
		kw := normalizeLabel(e.Keyword)
		if kw == "" || e.Category == "" {
			return nil, fmt.Errorf("%w: taxonomy entry %d needs both keyword and category", domain.ErrInvalidConfig, i)
		}
		if _, dup := v.exact[kw]; dup {
			continue
		}
		v.exact[kw] = e.Category
		v.entries = append(v.entries, VocabularyEntry{Keyword: kw, Category: e.Category})
	}
	return v, nil
}

// DefaultVocabulary returns the built-in jewelry vocabulary.
func DefaultVocabulary() *Vocabulary {
	v, err := NewVocabulary(DefaultCategory, defaultVocabularyEntries)
	if err != nil {
		panic(err)
	}
	return v
}

// DefaultVocabularyEntries returns a copy of the built-in entries, in order.
func DefaultVocabularyEntries() []VocabularyEntry {
	return slices.Clone(defaultVocabularyEntries)
}

// Default returns the category used when nothing matches.
func (v *Vocabulary) Default() string { return v.defaultCategory }

// Len returns the number of distinct keywords.
func (v *Vocabulary) Len() int { return len(v.entries) }

// Categories returns the distinct category identifiers, in first-seen order.
func (v *Vocabulary) Categories() []string {
	seen := make(map[string]bool)
	var out []string
	for _, e := range v.entries {
		if !seen[e.Category] {
			seen[e.Category] = true
			out = append(out, e.Category)
		}
	}
	return out
}

// Category identifiers of the built-in vocabulary
const (
	CategoryNecklaces = "jewelry.necklaces"
	CategoryPendants  = "jewelry.charms-pendants"
	CategoryEarrings  = "jewelry.earrings"
	CategoryRings     = "jewelry.rings"
	CategoryBracelets = "jewelry.bracelets"
	CategoryAnklets   = "jewelry.anklets"
	CategoryBrooches  = "jewelry.brooches-lapel-pins"
	CategoryBody      = "jewelry.body-jewelry"
	CategorySets      = "jewelry.jewelry-sets"
	CategoryWatches   = "jewelry.watches"
	CategoryCufflinks = "jewelry.cufflinks"
	CategoryLoose     = "jewelry.loose-stones"
)

var defaultVocabularyEntries = []VocabularyEntry{
	// earring before ring: "earrings" contains "ring"
	{"earring", CategoryEarrings}, {"earrings", CategoryEarrings},
	{"stud", CategoryEarrings}, {"studs", CategoryEarrings},
	{"hoop", CategoryEarrings}, {"hoops", CategoryEarrings},
	{"huggie", CategoryEarrings}, {"huggies", CategoryEarrings},
	{"drop earring", CategoryEarrings}, {"ear cuff", CategoryEarrings},

	// anklet before ankle bracelet handling, bracelet after
	{"anklet", CategoryAnklets}, {"anklets", CategoryAnklets},
	{"ankle bracelet", CategoryAnklets},

	{"necklace", CategoryNecklaces}, {"necklaces", CategoryNecklaces},
	{"chain", CategoryNecklaces}, {"chains", CategoryNecklaces},
	{"choker", CategoryNecklaces}, {"chokers", CategoryNecklaces},
	{"lariat", CategoryNecklaces}, {"rope", CategoryNecklaces},
	{"pendant", CategoryPendants}, {"pendants", CategoryPendants},
	{"charm", CategoryPendants}, {"charms", CategoryPendants},
	{"locket", CategoryPendants}, {"lockets", CategoryPendants},

	{"bracelet", CategoryBracelets}, {"bracelets", CategoryBracelets},
	{"bangle", CategoryBracelets}, {"bangles", CategoryBracelets},
	{"cuff", CategoryBracelets}, {"cuffs", CategoryBracelets},
	{"tennis", CategoryBracelets},

	{"cufflink", CategoryCufflinks}, {"cufflinks", CategoryCufflinks},

	{"wedding band", CategoryRings}, {"engagement", CategoryRings},
	{"ring", CategoryRings}, {"rings", CategoryRings},
	{"band", CategoryRings}, {"bands", CategoryRings},
	{"solitaire", CategoryRings},

	{"brooch", CategoryBrooches}, {"brooches", CategoryBrooches},
	{"pin", CategoryBrooches}, {"pins", CategoryBrooches},

	// no keyword may contain the root term "jewelry", or every unmatched
	// jewelry path would resolve through reverse containment
	{"body piercing", CategoryBody}, {"nose", CategoryBody},
	{"navel", CategoryBody}, {"piercing", CategoryBody},

	{"set", CategorySets}, {"sets", CategorySets},

	{"watch", CategoryWatches}, {"watches", CategoryWatches},

	{"loose diamond", CategoryLoose}, {"loose stone", CategoryLoose},
	{"gemstone", CategoryLoose}, {"gemstones", CategoryLoose},
}
