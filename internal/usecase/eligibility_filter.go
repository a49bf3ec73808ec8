package usecase

import (
	"strings"

	"github.com/catalogsync/backend/internal/domain"
)

// EligibilityFilter evaluates records against a fixed set of criteria.
// It holds only immutable, pre-normalized criteria and is safe for concurrent use.
type EligibilityFilter struct {
	criteria   domain.EligibilityCriteria
	lines      []string
	exclusions []string
}

// NewEligibilityFilter creates a filter with the criteria normalized once up front.
func NewEligibilityFilter(criteria domain.EligibilityCriteria) *EligibilityFilter {
	f := &EligibilityFilter{criteria: criteria}
	for _, line := range criteria.AcceptableLines {
		if n := normalizeLabel(line); n != "" {
			f.lines = append(f.lines, n)
		}
	}
	for _, ex := range criteria.ExclusionSubstrings {
		if n := normalizeLabel(ex); n != "" {
			f.exclusions = append(f.exclusions, n)
		}
	}
	return f
}

// Evaluate returns whether the record is eligible and every individual reason it is not,
// in evaluation order: price, then line, then exclusion rules.
func (f *EligibilityFilter) Evaluate(record domain.IncomingRecord) domain.EvaluationResult {
	var reasons []string

	price, ok := parsePrice(record.Price)
	switch {
	case !ok:
		reasons = append(reasons, domain.ReasonNoPriceData)
	case price.LessThan(f.criteria.PriceMin):
		reasons = append(reasons, domain.ReasonPriceBelowMin)
	case price.GreaterThan(f.criteria.PriceMax):
		reasons = append(reasons, domain.ReasonPriceAboveMax)
	}

	if len(f.lines) > 0 && !f.lineAccepted(record.Line) {
		reasons = append(reasons, domain.ReasonLineNotAccepted)
	}

	if f.excluded(record) {
		reasons = append(reasons, domain.ReasonExcluded)
	}

	return domain.EvaluationResult{
		Matches: len(reasons) == 0,
		Reasons: reasons,
	}
}

// lineAccepted matches the record's line label against the configured lines:
// exact after normalization, or substring containment in either direction.
func (f *EligibilityFilter) lineAccepted(label string) bool {
	line := normalizeLabel(label)
	if line == "" {
		return false
	}
	for _, accepted := range f.lines {
		if line == accepted || strings.Contains(accepted, line) || strings.Contains(line, accepted) {
			return true
		}
	}
	return false
}

// excluded reports whether any exclusion substring occurs in the category path,
// item type or description.
func (f *EligibilityFilter) excluded(record domain.IncomingRecord) bool {
	if len(f.exclusions) == 0 {
		return false
	}
	fields := []string{
		strings.ToLower(record.CategoryPath),
		strings.ToLower(record.ItemType),
		strings.ToLower(record.Description),
	}
	for _, ex := range f.exclusions {
		for _, field := range fields {
			if strings.Contains(field, ex) {
				return true
			}
		}
	}
	return false
}
