package usecase

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/catalogsync/backend/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestResultAggregator_Fold(t *testing.T) {
	agg := NewResultAggregator(5)
	base := domain.RunReport{RunID: "r1", Considered: 6, Skipped: 2}

	outcomes := []domain.BatchOutcome{
		{Identifier: "a", Action: domain.ActionCreate, Success: true, Category: "rings"},
		{Identifier: "b", Action: domain.ActionUpdate, Success: true, Category: "rings"},
		{Identifier: "c", Action: domain.ActionUpdate, Success: true, Category: "necklaces"},
		{Identifier: "d", Action: domain.ActionCreate, Error: "timeout"},
	}

	report := agg.Fold(base, outcomes)

	assert.Equal(t, 1, report.Created)
	assert.Equal(t, 2, report.Updated)
	assert.Equal(t, 2, report.Skipped)
	assert.Equal(t, 1, report.Errored)
	assert.Equal(t, 1, report.ErrorCount)
	assert.Equal(t, []domain.ItemError{{Identifier: "d", Action: domain.ActionCreate, Message: "timeout"}}, report.Errors)
	assert.Equal(t, map[string]int{"rings": 2, "necklaces": 1}, report.Categories)
	assert.True(t, report.Balanced())

	// base is untouched
	assert.Zero(t, base.Created)
	assert.Nil(t, base.Categories)
}

func TestResultAggregator_OrderIndependentCounts(t *testing.T) {
	agg := NewResultAggregator(3)
	var outcomes []domain.BatchOutcome
	for i := 0; i < 40; i++ {
		o := domain.BatchOutcome{Identifier: fmt.Sprint(i), Action: domain.ActionCreate, Success: i%3 != 0}
		if !o.Success {
			o.Error = fmt.Sprintf("err %d", i%2)
		}
		outcomes = append(outcomes, o)
	}

	first := agg.Fold(domain.RunReport{}, outcomes)

	shuffled := append([]domain.BatchOutcome(nil), outcomes...)
	rand.New(rand.NewSource(7)).Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	second := agg.Fold(domain.RunReport{}, shuffled)

	assert.Equal(t, first.Created, second.Created)
	assert.Equal(t, first.Errored, second.Errored)
	assert.Equal(t, first.ErrorCount, second.ErrorCount)
	assert.Len(t, second.Errors, 3)
}

func TestResultAggregator_SamplePrefersDistinctMessages(t *testing.T) {
	agg := NewResultAggregator(3)
	outcomes := []domain.BatchOutcome{
		{Identifier: "1", Error: "rate limited"},
		{Identifier: "2", Error: "rate limited"},
		{Identifier: "3", Error: "rate limited"},
		{Identifier: "4", Error: "invalid sku"},
		{Identifier: "5", Error: "rate limited"},
	}

	report := agg.Fold(domain.RunReport{}, outcomes)

	assert.Equal(t, 5, report.ErrorCount)
	assert.Len(t, report.Errors, 3)
	ids := []string{report.Errors[0].Identifier, report.Errors[1].Identifier, report.Errors[2].Identifier}
	assert.Equal(t, []string{"1", "4", "2"}, ids)
}

func TestResultAggregator_DryRunCountsPlanned(t *testing.T) {
	agg := NewResultAggregator(0)
	report := agg.Fold(domain.RunReport{DryRun: true, Considered: 2}, []domain.BatchOutcome{
		{Identifier: "a", Action: domain.ActionCreate, Success: true},
		{Identifier: "b", Action: domain.ActionUpdate, Success: true},
	})

	assert.Equal(t, 2, report.Planned)
	assert.Zero(t, report.Created)
	assert.Zero(t, report.Updated)
	assert.True(t, report.Balanced())
}

func TestCollapseRejections(t *testing.T) {
	filtered := []domain.FilteredRecord{
		{Identifier: "a", Reasons: []string{domain.ReasonPriceBelowMin}},
		{Identifier: "b", Reasons: []string{domain.ReasonPriceBelowMin}},
		{Identifier: "c", Reasons: []string{domain.ReasonNoPriceData, domain.ReasonLineNotAccepted}},
		{Identifier: "d", Reasons: []string{domain.ReasonExcluded}},
	}

	got := CollapseRejections(filtered)
	assert.Equal(t, map[string]int{
		domain.ReasonPriceBelowMin: 2,
		domain.ReasonMultiple:      1,
		domain.ReasonExcluded:      1,
	}, got)

	// the per-record lists keep every individual reason
	assert.Len(t, filtered[2].Reasons, 2)
	assert.Nil(t, CollapseRejections(nil))
}
