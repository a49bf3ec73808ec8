package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// BatchOutcome is the result of executing one operation.
type BatchOutcome struct {
	Identifier string `json:"identifier"`
	RemoteID   string `json:"remoteId,omitempty"`
	Action     Action `json:"action"`
	Category   string `json:"category,omitempty"`
	Success    bool   `json:"success"`
	Error      string `json:"error,omitempty"`
	// Batch is the 0-based batch index the operation ran in.
	Batch int `json:"batch"`
}

// ItemError is a sampled per-item failure kept in the run report.
type ItemError struct {
	Identifier string `json:"identifier"`
	Action     Action `json:"action"`
	Message    string `json:"message"`
}

// FilteredRecord is a record rejected by the eligibility filter, with its full reason list.
type FilteredRecord struct {
	Identifier string   `json:"identifier"`
	Row        int      `json:"row"`
	Reasons    []string `json:"reasons"`
}

// RunReport summarizes one sync run.
//
// Created + Updated + Skipped + Errored always equals Considered, the number of
// records that passed the eligibility filter. Planned counts dry-run operations
// and is included in that sum instead of Created/Updated when DryRun is set.
type RunReport struct {
	RunID      string    `json:"runId"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
	DryRun     bool      `json:"dryRun"`

	// PartialSnapshot is set when paging the remote catalog was cut short by
	// rate limiting, so unmatched records may already exist remotely.
	PartialSnapshot bool `json:"partialSnapshot,omitempty"`

	Read       int `json:"read"`
	Malformed  int `json:"malformed"`
	Filtered   int `json:"filtered"`
	Considered int `json:"considered"`
	Created    int `json:"created"`
	Updated    int `json:"updated"`
	Skipped    int `json:"skipped"`
	Planned    int `json:"planned"`
	Errored    int `json:"errored"`

	Batches int `json:"batches"`
	Windows int `json:"windows"`

	// ErrorCount is always the full number of failed items, even when Errors is truncated.
	ErrorCount int         `json:"errorCount"`
	Errors     []ItemError `json:"errors,omitempty"`

	Rejections map[string]int `json:"rejections,omitempty"`
	Categories map[string]int `json:"categories,omitempty"`
}

// Duration returns the wall-clock time of the run.
func (r *RunReport) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Balanced reports whether every considered record has exactly one terminal bucket.
func (r *RunReport) Balanced() bool {
	return r.Created+r.Updated+r.Skipped+r.Planned+r.Errored == r.Considered
}

// Summary renders a human readable summary of the run.
func (r *RunReport) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "run %s: read=%d malformed=%d filtered=%d considered=%d\n",
		r.RunID, r.Read, r.Malformed, r.Filtered, r.Considered)
	fmt.Fprintf(&b, "  created=%d updated=%d skipped=%d errored=%d", r.Created, r.Updated, r.Skipped, r.Errored)
	if r.DryRun {
		fmt.Fprintf(&b, " planned=%d (dry run)", r.Planned)
	}
	fmt.Fprintf(&b, "\n  batches=%d windows=%d duration=%s\n", r.Batches, r.Windows, r.Duration().Round(time.Millisecond))
	if r.PartialSnapshot {
		b.WriteString("  warning: remote snapshot was partial (rate limited)\n")
	}

	if len(r.Rejections) > 0 {
		b.WriteString("  rejections:\n")
		for _, k := range sortedKeys(r.Rejections) {
			fmt.Fprintf(&b, "    %-28s %d\n", k, r.Rejections[k])
		}
	}

	if r.ErrorCount > 0 {
		fmt.Fprintf(&b, "  errors (%d total, showing %d):\n", r.ErrorCount, len(r.Errors))
		for _, e := range r.Errors {
			fmt.Fprintf(&b, "    [%s] %s: %s\n", e.Action, e.Identifier, e.Message)
		}
	}
	return b.String()
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
