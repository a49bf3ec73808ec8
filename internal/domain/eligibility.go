package domain

import "github.com/shopspring/decimal"

// Rejection reason labels, in evaluation order
const (
	ReasonNoPriceData     = "no price data"
	ReasonPriceBelowMin   = "price below minimum"
	ReasonPriceAboveMax   = "price above maximum"
	ReasonLineNotAccepted = "line not in criteria"
	ReasonExcluded        = "excluded by content rule"

	// ReasonMultiple replaces the reason list when more than one criterion failed
	ReasonMultiple = "multiple criteria failed"
)

// EligibilityCriteria holds the inclusion/exclusion rules for one run.
type EligibilityCriteria struct {
	PriceMin            decimal.Decimal
	PriceMax            decimal.Decimal
	AcceptableLines     []string
	ExclusionSubstrings []string
}

// EvaluationResult is the outcome of evaluating one record against the criteria.
type EvaluationResult struct {
	Matches bool     `json:"matches"`
	Reasons []string `json:"reasons,omitempty"`
}

// CollapsedReason reduces the reason list to the single label used for reporting:
// the reason itself when exactly one criterion failed, ReasonMultiple otherwise.
// Returns "" for a matching result.
func (r EvaluationResult) CollapsedReason() string {
	switch len(r.Reasons) {
	case 0:
		return ""
	case 1:
		return r.Reasons[0]
	default:
		return ReasonMultiple
	}
}
