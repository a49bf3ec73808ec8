package usecase

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/catalogsync/backend/internal/domain"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Phase is the executor state for one run
type Phase int32

const (
	PhaseIdle Phase = iota
	PhasePartitioning
	PhaseExecuting
	PhaseDraining
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhasePartitioning:
		return "partitioning"
	case PhaseExecuting:
		return "executing"
	case PhaseDraining:
		return "draining"
	case PhaseDone:
		return "done"
	default:
		return fmt.Sprintf("phase(%d)", int32(p))
	}
}

// BatchConfig holds configuration for the batch executor
type BatchConfig struct {
	BatchSize            int
	MaxConcurrentBatches int
	WindowDelay          time.Duration
	DryRun               bool
}

// ExecutionPlan is the partitioning of operations into batches and windows.
type ExecutionPlan struct {
	Batches [][]domain.Operation
	// Windows is the number of groups of at most MaxConcurrentBatches batches.
	Windows int
	// Delays is the number of pacing delays inserted between windows.
	Delays int
}

// PlanBatches splits ops into batches of batchSize, preserving order, and
// groups the batches into windows of maxConcurrent.
func PlanBatches(ops []domain.Operation, batchSize, maxConcurrent int) ExecutionPlan {
	if len(ops) == 0 || batchSize <= 0 || maxConcurrent <= 0 {
		return ExecutionPlan{}
	}

	batches := make([][]domain.Operation, 0, (len(ops)+batchSize-1)/batchSize)
	for start := 0; start < len(ops); start += batchSize {
		end := min(start+batchSize, len(ops))
		batches = append(batches, ops[start:end])
	}

	windows := (len(batches) + maxConcurrent - 1) / maxConcurrent
	return ExecutionPlan{
		Batches: batches,
		Windows: windows,
		Delays:  max(windows-1, 0),
	}
}

// BatchExecutor runs create/update operations against the remote catalog.
//
// Batches inside a window run in parallel, windows run one after another with
// a pacing delay in between, and every item of a batch is issued in parallel.
// One item's failure never cancels its siblings; every operation yields
// exactly one outcome.
type BatchExecutor struct {
	writer  domain.CatalogWriter
	builder domain.PayloadBuilder
	config  BatchConfig
	logger  logrus.FieldLogger
	phase   atomic.Int32

	// sleep waits between windows; replaced in tests
	sleep func(ctx context.Context, d time.Duration) error
}

// NewBatchExecutor creates a batch executor. Non-positive sizes fall back to 10 items
// per batch and 3 concurrent batches.
func NewBatchExecutor(
	writer domain.CatalogWriter,
	builder domain.PayloadBuilder,
	config BatchConfig,
	logger logrus.FieldLogger,
) *BatchExecutor {
	if config.BatchSize <= 0 {
		config.BatchSize = 10
	}
	if config.MaxConcurrentBatches <= 0 {
		config.MaxConcurrentBatches = 3
	}
	if config.WindowDelay < 0 {
		config.WindowDelay = 0
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return &BatchExecutor{
		writer:  writer,
		builder: builder,
		config:  config,
		logger:  logger,
		sleep:   sleepContext,
	}
}

// Phase returns the current executor phase.
func (e *BatchExecutor) Phase() Phase {
	return Phase(e.phase.Load())
}

func (e *BatchExecutor) setPhase(p Phase) {
	e.phase.Store(int32(p))
	e.logger.WithField("phase", p.String()).Info("executor phase")
}

// Execute runs every operation once and returns one outcome per operation, in
// input order, together with the plan that was executed.
func (e *BatchExecutor) Execute(ctx context.Context, ops []domain.Operation) ([]domain.BatchOutcome, ExecutionPlan) {
	e.setPhase(PhasePartitioning)
	plan := PlanBatches(ops, e.config.BatchSize, e.config.MaxConcurrentBatches)
	outcomes := make([]domain.BatchOutcome, len(ops))

	e.logger.WithFields(logrus.Fields{
		"operations": len(ops),
		"batches":    len(plan.Batches),
		"windows":    plan.Windows,
	}).Info("execution planned")

	e.setPhase(PhaseExecuting)
	for w := 0; w < plan.Windows; w++ {
		if w > 0 && e.config.WindowDelay > 0 && !e.config.DryRun {
			if err := e.sleep(ctx, e.config.WindowDelay); err != nil {
				e.logger.WithError(err).Warn("pacing delay interrupted")
			}
		}

		first := w * e.config.MaxConcurrentBatches
		last := min(first+e.config.MaxConcurrentBatches, len(plan.Batches))
		started := time.Now()

		// Slots of outcomes are disjoint per batch, so no locking is needed.
		var g errgroup.Group
		for b := first; b < last; b++ {
			offset := b * e.config.BatchSize
			batch := plan.Batches[b]
			g.Go(func() error {
				e.runBatch(ctx, b, batch, outcomes[offset:offset+len(batch)])
				return nil // never fail the group - outcomes carry the errors
			})
		}
		_ = g.Wait()

		e.logger.WithFields(logrus.Fields{
			"window":  w + 1,
			"of":      plan.Windows,
			"batches": last - first,
			"elapsed": time.Since(started).Round(time.Millisecond).String(),
		}).Info("window complete")
	}

	e.setPhase(PhaseDraining)
	for i := range outcomes {
		if outcomes[i].Identifier == "" && outcomes[i].Action == "" {
			outcomes[i] = dispatchFailure(ops[i], i/e.config.BatchSize, fmt.Errorf("%w: no outcome recorded", domain.ErrBatchDispatch))
		}
	}
	e.setPhase(PhaseDone)

	return outcomes, plan
}

// runBatch issues every item of a batch in parallel and waits for all of them.
// If the batch cannot be dispatched, every item without an outcome is marked
// failed with the shared cause.
func (e *BatchExecutor) runBatch(ctx context.Context, index int, batch []domain.Operation, out []domain.BatchOutcome) {
	done := make([]bool, len(batch))

	defer func() {
		if r := recover(); r != nil {
			e.failBatch(index, batch, out, done, fmt.Errorf("%w: %v", domain.ErrBatchDispatch, r))
		}
	}()

	if err := ctx.Err(); err != nil {
		e.failBatch(index, batch, out, done, fmt.Errorf("%w: %v", domain.ErrBatchDispatch, err))
		return
	}

	var g errgroup.Group
	for i, op := range batch {
		g.Go(func() error {
			out[i] = e.runItem(ctx, index, op)
			done[i] = true
			return nil
		})
	}
	_ = g.Wait()
}

// failBatch attributes cause to every item of the batch that has no outcome yet.
func (e *BatchExecutor) failBatch(index int, batch []domain.Operation, out []domain.BatchOutcome, done []bool, cause error) {
	e.logger.WithField("batch", index).WithError(cause).Error("batch dispatch failed")
	for i := range batch {
		if !done[i] {
			out[i] = dispatchFailure(batch[i], index, cause)
		}
	}
}

// runItem builds the payload and performs exactly one create or update call.
func (e *BatchExecutor) runItem(ctx context.Context, batch int, op domain.Operation) (out domain.BatchOutcome) {
	out = domain.BatchOutcome{
		Identifier: op.Identifier(),
		Action:     op.Decision.Action,
		Batch:      batch,
	}

	defer func() {
		if r := recover(); r != nil {
			out.Success = false
			out.Error = fmt.Sprintf("%v: panic: %v", domain.ErrItemOperation, r)
		}
		if !out.Success {
			e.logger.WithFields(logrus.Fields{
				"batch":  batch,
				"item":   out.Identifier,
				"action": out.Action,
			}).Warn(out.Error)
		}
	}()

	payload, err := e.builder.Build(op.Record)
	if err != nil {
		out.Error = fmt.Sprintf("build payload: %v", err)
		return out
	}
	out.Category = payload.ProductType

	if e.config.DryRun {
		out.Success = true
		return out
	}

	var remote *domain.RemoteRecord
	switch op.Decision.Action {
	case domain.ActionCreate:
		remote, err = e.writer.Create(ctx, payload)
	case domain.ActionUpdate:
		if op.Decision.Remote == nil || op.Decision.Remote.ID == "" {
			err = fmt.Errorf("%w: update without remote identifier", domain.ErrItemOperation)
			break
		}
		remote, err = e.writer.Update(ctx, op.Decision.Remote.ID, payload)
	default:
		err = fmt.Errorf("%w: unexpected action %q", domain.ErrItemOperation, op.Decision.Action)
	}
	if err != nil {
		out.Error = err.Error()
		return out
	}

	out.Success = true
	if remote != nil {
		out.RemoteID = remote.ID
	} else if op.Decision.Remote != nil {
		out.RemoteID = op.Decision.Remote.ID
	}
	return out
}

func dispatchFailure(op domain.Operation, batch int, cause error) domain.BatchOutcome {
	return domain.BatchOutcome{
		Identifier: op.Identifier(),
		Action:     op.Decision.Action,
		Batch:      batch,
		Error:      cause.Error(),
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
