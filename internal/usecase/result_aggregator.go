package usecase

import (
	"maps"

	"github.com/catalogsync/backend/internal/domain"
)

const defaultErrorSampleSize = 20

// ResultAggregator folds executor outcomes into a run report.
type ResultAggregator struct {
	sampleSize int
}

// NewResultAggregator creates an aggregator that keeps at most sampleSize
// per-item errors in the report.
func NewResultAggregator(sampleSize int) *ResultAggregator {
	if sampleSize <= 0 {
		sampleSize = defaultErrorSampleSize
	}
	return &ResultAggregator{sampleSize: sampleSize}
}

// Fold returns a copy of base with the outcomes accumulated into it. Each
// outcome contributes exactly one increment to exactly one bucket, so the
// result does not depend on outcome order. base is not modified.
func (a *ResultAggregator) Fold(base domain.RunReport, outcomes []domain.BatchOutcome) domain.RunReport {
	report := base
	report.Rejections = maps.Clone(base.Rejections)
	report.Categories = maps.Clone(base.Categories)
	report.Errors = append([]domain.ItemError(nil), base.Errors...)

	var failed []domain.BatchOutcome
	for _, o := range outcomes {
		if !o.Success {
			report.Errored++
			failed = append(failed, o)
			continue
		}

		switch {
		case report.DryRun:
			report.Planned++
		case o.Action == domain.ActionCreate:
			report.Created++
		case o.Action == domain.ActionUpdate:
			report.Updated++
		}

		if o.Category != "" {
			if report.Categories == nil {
				report.Categories = make(map[string]int)
			}
			report.Categories[o.Category]++
		}
	}

	report.ErrorCount += len(failed)
	report.Errors = a.sampleErrors(report.Errors, failed)
	return report
}

// sampleErrors keeps up to sampleSize errors, preferring distinct messages so a
// single repeated failure does not crowd out the others.
func (a *ResultAggregator) sampleErrors(sample []domain.ItemError, failed []domain.BatchOutcome) []domain.ItemError {
	if len(sample) >= a.sampleSize || len(failed) == 0 {
		return sample
	}

	seen := make(map[string]bool, len(sample))
	for _, e := range sample {
		seen[e.Message] = true
	}
	taken := make([]bool, len(failed))

	for i, o := range failed {
		if len(sample) >= a.sampleSize {
			return sample
		}
		if seen[o.Error] {
			continue
		}
		seen[o.Error] = true
		taken[i] = true
		sample = append(sample, itemError(o))
	}
	for i, o := range failed {
		if len(sample) >= a.sampleSize {
			break
		}
		if !taken[i] {
			sample = append(sample, itemError(o))
		}
	}
	return sample
}

// CollapseRejections counts filtered records by their collapsed reason.
func CollapseRejections(filtered []domain.FilteredRecord) map[string]int {
	if len(filtered) == 0 {
		return nil
	}
	counts := make(map[string]int)
	for _, f := range filtered {
		result := domain.EvaluationResult{Reasons: f.Reasons}
		if reason := result.CollapsedReason(); reason != "" {
			counts[reason]++
		}
	}
	return counts
}

func itemError(o domain.BatchOutcome) domain.ItemError {
	return domain.ItemError{
		Identifier: o.Identifier,
		Action:     o.Action,
		Message:    o.Error,
	}
}
