package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/catalogsync/backend/internal/domain"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeWriter is an in-memory CatalogWriter that records calls and can fail or
// panic for chosen SKUs.
type fakeWriter struct {
	mu       sync.Mutex
	creates  []string
	updates  []string
	deletes  []string
	failSKUs map[string]error
	panicSKU string
	delay    time.Duration

	inflight    atomic.Int32
	maxInflight atomic.Int32
	nextID      atomic.Int64
}

func newFakeWriter() *fakeWriter {
	return &fakeWriter{failSKUs: make(map[string]error)}
}

func (w *fakeWriter) enter() func() {
	n := w.inflight.Add(1)
	for {
		cur := w.maxInflight.Load()
		if n <= cur || w.maxInflight.CompareAndSwap(cur, n) {
			break
		}
	}
	if w.delay > 0 {
		time.Sleep(w.delay)
	}
	return func() { w.inflight.Add(-1) }
}

func (w *fakeWriter) check(payload *domain.ProductPayload) error {
	sku := payload.Variants[0].SKU
	if sku == w.panicSKU && sku != "" {
		panic("writer exploded")
	}
	if err, ok := w.failSKUs[sku]; ok {
		return err
	}
	return nil
}

func (w *fakeWriter) Create(ctx context.Context, payload *domain.ProductPayload) (*domain.RemoteRecord, error) {
	defer w.enter()()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := w.check(payload); err != nil {
		return nil, err
	}
	w.mu.Lock()
	w.creates = append(w.creates, payload.Variants[0].SKU)
	w.mu.Unlock()
	return &domain.RemoteRecord{ID: fmt.Sprintf("new-%d", w.nextID.Add(1)), Title: payload.Title}, nil
}

func (w *fakeWriter) Update(ctx context.Context, id string, payload *domain.ProductPayload) (*domain.RemoteRecord, error) {
	defer w.enter()()
	if err := w.check(payload); err != nil {
		return nil, err
	}
	w.mu.Lock()
	w.updates = append(w.updates, id)
	w.mu.Unlock()
	return &domain.RemoteRecord{ID: id, Title: payload.Title}, nil
}

func (w *fakeWriter) Delete(ctx context.Context, id string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.deletes = append(w.deletes, id)
	return nil
}

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func createOps(n int) []domain.Operation {
	ops := make([]domain.Operation, n)
	for i := range ops {
		ops[i] = domain.Operation{
			Record: domain.IncomingRecord{
				ID:           fmt.Sprintf("SKU-%02d", i),
				Title:        fmt.Sprintf("Item %d", i),
				Price:        "1500",
				CategoryPath: `\Jewelry\Rings`,
			},
			Decision: domain.ReconciliationDecision{Action: domain.ActionCreate},
		}
	}
	return ops
}

func newTestExecutor(w domain.CatalogWriter, cfg BatchConfig) (*BatchExecutor, *[]time.Duration) {
	exec := NewBatchExecutor(w, NewCatalogPayloadBuilder(NewTaxonomyResolver(nil)), cfg, quietLogger())
	var sleeps []time.Duration
	exec.sleep = func(ctx context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	}
	return exec, &sleeps
}

func TestPlanBatches(t *testing.T) {
	tests := []struct {
		n, size, concurrent    int
		batches, windows, gaps int
	}{
		{0, 10, 3, 0, 0, 0},
		{1, 10, 3, 1, 1, 0},
		{10, 10, 3, 1, 1, 0},
		{23, 10, 3, 3, 1, 0},
		{31, 10, 3, 4, 2, 1},
		{100, 7, 2, 15, 8, 7},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("n=%d/size=%d/conc=%d", tt.n, tt.size, tt.concurrent), func(t *testing.T) {
			ops := createOps(tt.n)
			plan := PlanBatches(ops, tt.size, tt.concurrent)

			assert.Len(t, plan.Batches, tt.batches)
			assert.Equal(t, tt.windows, plan.Windows)
			assert.Equal(t, tt.gaps, plan.Delays)

			// order is preserved across batches
			var flat []domain.Operation
			for _, b := range plan.Batches {
				assert.LessOrEqual(t, len(b), tt.size)
				flat = append(flat, b...)
			}
			assert.Equal(t, len(ops), len(flat))
			for i := range flat {
				assert.Equal(t, ops[i].Record.ID, flat[i].Record.ID)
			}
		})
	}
}

func TestBatchExecutor_SingleWindowScenario(t *testing.T) {
	writer := newFakeWriter()
	exec, sleeps := newTestExecutor(writer, BatchConfig{BatchSize: 10, MaxConcurrentBatches: 3, WindowDelay: time.Second})

	outcomes, plan := exec.Execute(context.Background(), createOps(23))

	assert.Len(t, plan.Batches, 3)
	assert.Equal(t, 1, plan.Windows)
	assert.Empty(t, *sleeps, "no pacing delay for a single window")
	assert.Len(t, outcomes, 23)
	assert.Len(t, writer.creates, 23)
	assert.Equal(t, PhaseDone, exec.Phase())

	for i, o := range outcomes {
		assert.True(t, o.Success, "outcome %d: %s", i, o.Error)
		assert.Equal(t, domain.ActionCreate, o.Action)
		assert.Equal(t, i/10, o.Batch)
		assert.NotEmpty(t, o.RemoteID)
		assert.Equal(t, CategoryRings, o.Category)
	}
}

func TestBatchExecutor_PacingBetweenWindows(t *testing.T) {
	writer := newFakeWriter()
	exec, sleeps := newTestExecutor(writer, BatchConfig{BatchSize: 2, MaxConcurrentBatches: 2, WindowDelay: 250 * time.Millisecond})

	outcomes, plan := exec.Execute(context.Background(), createOps(9))

	// 5 batches -> 3 windows -> 2 delays, none after the last window
	assert.Len(t, plan.Batches, 5)
	assert.Equal(t, 3, plan.Windows)
	assert.Equal(t, []time.Duration{250 * time.Millisecond, 250 * time.Millisecond}, *sleeps)
	assert.Len(t, outcomes, 9)
}

func TestBatchExecutor_BoundsConcurrency(t *testing.T) {
	writer := newFakeWriter()
	writer.delay = 20 * time.Millisecond
	exec, _ := newTestExecutor(writer, BatchConfig{BatchSize: 3, MaxConcurrentBatches: 2})

	exec.Execute(context.Background(), createOps(18))

	assert.LessOrEqual(t, int(writer.maxInflight.Load()), 6, "at most batchSize*maxConcurrentBatches calls in flight")
	assert.Greater(t, int(writer.maxInflight.Load()), 1, "items should overlap")
}

func TestBatchExecutor_FailureIsolation(t *testing.T) {
	writer := newFakeWriter()
	writer.failSKUs["SKU-01"] = errors.New("422 unprocessable")
	writer.panicSKU = "SKU-03"
	exec, _ := newTestExecutor(writer, BatchConfig{BatchSize: 5, MaxConcurrentBatches: 1})

	outcomes, _ := exec.Execute(context.Background(), createOps(5))
	require.Len(t, outcomes, 5)

	assert.False(t, outcomes[1].Success)
	assert.Equal(t, "SKU-01", outcomes[1].Identifier)
	assert.Contains(t, outcomes[1].Error, "422")

	assert.False(t, outcomes[3].Success)
	assert.Contains(t, outcomes[3].Error, "panic")

	for _, i := range []int{0, 2, 4} {
		assert.True(t, outcomes[i].Success, "sibling %d should complete", i)
	}
	sort.Strings(writer.creates)
	assert.Equal(t, []string{"SKU-00", "SKU-02", "SKU-04"}, writer.creates)
}

func TestBatchExecutor_EveryIdentifierExactlyOnce(t *testing.T) {
	writer := newFakeWriter()
	writer.failSKUs["SKU-07"] = errors.New("boom")
	exec, _ := newTestExecutor(writer, BatchConfig{BatchSize: 4, MaxConcurrentBatches: 2})

	ops := createOps(17)
	outcomes, plan := exec.Execute(context.Background(), ops)

	assert.Len(t, plan.Batches, 5) // ceil(17/4)
	seen := make(map[string]int)
	for _, o := range outcomes {
		seen[o.Identifier]++
	}
	assert.Len(t, seen, len(ops))
	for _, op := range ops {
		assert.Equal(t, 1, seen[op.Record.ID], op.Record.ID)
	}
}

func TestBatchExecutor_Updates(t *testing.T) {
	writer := newFakeWriter()
	exec, _ := newTestExecutor(writer, BatchConfig{BatchSize: 10, MaxConcurrentBatches: 1})

	ops := createOps(2)
	ops[0].Decision = domain.ReconciliationDecision{
		Action: domain.ActionUpdate,
		Remote: &domain.RemoteRecord{ID: "gid-9"},
	}
	ops[1].Decision = domain.ReconciliationDecision{Action: domain.ActionUpdate}

	outcomes, _ := exec.Execute(context.Background(), ops)

	assert.True(t, outcomes[0].Success)
	assert.Equal(t, "gid-9", outcomes[0].RemoteID)
	assert.Equal(t, []string{"gid-9"}, writer.updates)

	assert.False(t, outcomes[1].Success)
	assert.Contains(t, outcomes[1].Error, domain.ErrItemOperation.Error())
}

func TestBatchExecutor_CancelledContextFailsEveryItem(t *testing.T) {
	writer := newFakeWriter()
	exec, _ := newTestExecutor(writer, BatchConfig{BatchSize: 3, MaxConcurrentBatches: 1})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcomes, _ := exec.Execute(ctx, createOps(7))
	require.Len(t, outcomes, 7)
	for _, o := range outcomes {
		assert.False(t, o.Success)
		assert.Contains(t, o.Error, domain.ErrBatchDispatch.Error())
		assert.NotEmpty(t, o.Identifier)
	}
	assert.Empty(t, writer.creates)
}

func TestBatchExecutor_DryRun(t *testing.T) {
	writer := newFakeWriter()
	exec, sleeps := newTestExecutor(writer, BatchConfig{BatchSize: 1, MaxConcurrentBatches: 1, WindowDelay: time.Minute, DryRun: true})

	outcomes, plan := exec.Execute(context.Background(), createOps(3))

	assert.Equal(t, 3, plan.Windows)
	assert.Empty(t, *sleeps)
	assert.Empty(t, writer.creates)
	for _, o := range outcomes {
		assert.True(t, o.Success)
		assert.Equal(t, CategoryRings, o.Category)
	}
}

func TestBatchExecutor_BuildFailure(t *testing.T) {
	writer := newFakeWriter()
	exec, _ := newTestExecutor(writer, BatchConfig{BatchSize: 2, MaxConcurrentBatches: 1})

	ops := createOps(2)
	ops[0].Record = domain.IncomingRecord{} // no title, no identifier

	outcomes, _ := exec.Execute(context.Background(), ops)
	assert.False(t, outcomes[0].Success)
	assert.Contains(t, outcomes[0].Error, "build payload")
	assert.True(t, outcomes[1].Success)
}

func TestBatchExecutor_Defaults(t *testing.T) {
	exec := NewBatchExecutor(newFakeWriter(), nil, BatchConfig{WindowDelay: -time.Second}, nil)
	assert.Equal(t, 10, exec.config.BatchSize)
	assert.Equal(t, 3, exec.config.MaxConcurrentBatches)
	assert.Equal(t, time.Duration(0), exec.config.WindowDelay)
	assert.Equal(t, PhaseIdle, exec.Phase())
	assert.Equal(t, "draining", PhaseDraining.String())
}
