package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"sync"
	"testing"
	"time"

	"github.com/catalogsync/backend/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sliceFeed yields fixed records; an entry with a non-nil err is yielded as a row error.
type sliceFeed struct {
	rows []feedRow
}

type feedRow struct {
	rec domain.IncomingRecord
	err error
}

func (f *sliceFeed) Records(ctx context.Context) iter.Seq2[domain.IncomingRecord, error] {
	return func(yield func(domain.IncomingRecord, error) bool) {
		for _, r := range f.rows {
			if !yield(r.rec, r.err) {
				return
			}
		}
	}
}

func feedOf(records ...domain.IncomingRecord) *sliceFeed {
	f := &sliceFeed{}
	for _, r := range records {
		f.rows = append(f.rows, feedRow{rec: r})
	}
	return f
}

type fakeReader struct {
	records []domain.RemoteRecord
	partial bool
	err     error
	calls   int
}

func (r *fakeReader) FetchAll(ctx context.Context) ([]domain.RemoteRecord, bool, error) {
	r.calls++
	return r.records, !r.partial, r.err
}

// MockCacheRepository is a mock implementation of domain.CacheRepository
type MockCacheRepository struct {
	mu       sync.Mutex
	data     map[string][]byte
	setError error
	deleted  []string
}

func NewMockCacheRepository() *MockCacheRepository {
	return &MockCacheRepository{data: make(map[string][]byte)}
}

func (m *MockCacheRepository) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.data[key]; ok {
		return v, nil
	}
	return nil, domain.ErrCacheMiss
}

func (m *MockCacheRepository) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.setError != nil {
		return m.setError
	}
	m.data[key] = value
	return nil
}

func (m *MockCacheRepository) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	m.deleted = append(m.deleted, key)
	return nil
}

func (m *MockCacheRepository) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.data[key]
	return ok, nil
}

type fakeLocker struct {
	held     bool
	released bool
}

func (l *fakeLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	if l.held {
		return nil, domain.ErrRunInProgress
	}
	l.held = true
	return func(context.Context) error {
		l.held = false
		l.released = true
		return nil
	}, nil
}

type fakeReports struct {
	saved []*domain.RunReport
}

func (r *fakeReports) Save(ctx context.Context, report *domain.RunReport) error {
	r.saved = append(r.saved, report)
	return nil
}

func (r *fakeReports) Get(ctx context.Context, id string) (*domain.RunReport, error) {
	return nil, domain.ErrNotFound
}

func (r *fakeReports) List(ctx context.Context, limit int) ([]*domain.RunReport, error) {
	return r.saved, nil
}

type fakeMetrics struct {
	runs int
}

func (m *fakeMetrics) ObserveRun(report *domain.RunReport) { m.runs++ }

func testSyncConfig() SyncServiceConfig {
	return SyncServiceConfig{
		Criteria: domain.EligibilityCriteria{
			PriceMin:        decimal.NewFromInt(1000),
			PriceMax:        decimal.NewFromInt(2000),
			AcceptableLines: []string{"RING", "NECKLACE"},
		},
		Batch:         BatchConfig{BatchSize: 2, MaxConcurrentBatches: 2},
		EnableUpdates: true,
		SnapshotTTL:   time.Minute,
	}
}

func newTestSyncService(t *testing.T, deps SyncDependencies, cfg SyncServiceConfig) *SyncService {
	t.Helper()
	if deps.Builder == nil {
		deps.Builder = NewCatalogPayloadBuilder(NewTaxonomyResolver(nil))
	}
	deps.Logger = quietLogger()
	svc, err := NewSyncService(deps, cfg)
	require.NoError(t, err)
	svc.executor.sleep = func(context.Context, time.Duration) error { return nil }
	return svc
}

func TestSyncServiceConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(c *SyncServiceConfig)
	}{
		{"zero price max", func(c *SyncServiceConfig) { c.Criteria.PriceMax = decimal.Zero }},
		{"negative price min", func(c *SyncServiceConfig) { c.Criteria.PriceMin = decimal.NewFromInt(-1) }},
		{"min above max", func(c *SyncServiceConfig) { c.Criteria.PriceMin = decimal.NewFromInt(5000) }},
		{"zero batch size", func(c *SyncServiceConfig) { c.Batch.BatchSize = 0 }},
		{"zero concurrency", func(c *SyncServiceConfig) { c.Batch.MaxConcurrentBatches = 0 }},
		{"negative delay", func(c *SyncServiceConfig) { c.Batch.WindowDelay = -time.Second }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testSyncConfig()
			tt.modify(&cfg)
			assert.ErrorIs(t, cfg.Validate(), domain.ErrInvalidConfig)

			_, err := NewSyncService(SyncDependencies{Reader: &fakeReader{}, Writer: newFakeWriter()}, cfg)
			assert.ErrorIs(t, err, domain.ErrInvalidConfig)
		})
	}

	assert.NoError(t, testSyncConfig().Validate())
}

func TestNewSyncService_RequiresCollaborators(t *testing.T) {
	_, err := NewSyncService(SyncDependencies{}, testSyncConfig())
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
}

func TestSyncService_Run(t *testing.T) {
	reader := &fakeReader{records: []domain.RemoteRecord{
		{
			ID: "gid-1", Title: "Gold Ring", Status: "active",
			Variants: []domain.RemoteVariant{{SKU: "R-1", Price: decimal.NewFromInt(1500), InventoryQuantity: 2}},
		},
		{
			ID: "gid-2", Title: "Silver Necklace", Status: "active",
			Variants: []domain.RemoteVariant{{SKU: "N-1", Price: decimal.NewFromInt(1200), InventoryQuantity: 1}},
		},
	}}
	writer := newFakeWriter()
	writer.failSKUs["R-9"] = fmt.Errorf("%w: 500", domain.ErrItemOperation)
	cache := NewMockCacheRepository()
	locker := &fakeLocker{}
	reports := &fakeReports{}
	metrics := &fakeMetrics{}

	feed := &sliceFeed{rows: []feedRow{
		// unchanged -> skip
		{rec: domain.IncomingRecord{Row: 1, ID: "R-1", Title: "Gold Ring", Price: "1500", Line: "Ring", Inventory: "2", Status: "active"}},
		// price changed -> update
		{rec: domain.IncomingRecord{Row: 2, ID: "N-1", Title: "Silver Necklace", Price: "1300", Line: "Necklace", Inventory: "1", Status: "active"}},
		// new -> create
		{rec: domain.IncomingRecord{Row: 3, ID: "R-2", Title: "Rose Ring", Price: "1100", Line: "ring", CategoryPath: `\Jewelry\Rings`}},
		// new, remote fails -> errored
		{rec: domain.IncomingRecord{Row: 4, ID: "R-9", Title: "Broken Ring", Price: "1100", Line: "ring"}},
		// filtered
		{rec: domain.IncomingRecord{Row: 5, ID: "B-1", Price: "1800", Line: "Bracelet"}},
		{rec: domain.IncomingRecord{Row: 6, ID: "R-3", Price: "800", Line: "Ring"}},
		{rec: domain.IncomingRecord{Row: 7, ID: "X-1", Price: "", Line: "Watch"}},
		// malformed row
		{err: fmt.Errorf("%w: row 8: wrong number of fields", domain.ErrMalformedRow)},
	}}

	svc := newTestSyncService(t, SyncDependencies{
		Reader: reader, Writer: writer, Cache: cache, Locker: locker, Reports: reports, Metrics: metrics,
	}, testSyncConfig())

	report, err := svc.Run(context.Background(), feed)
	require.NoError(t, err)

	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, 7, report.Read)
	assert.Equal(t, 1, report.Malformed)
	assert.Equal(t, 3, report.Filtered)
	assert.Equal(t, 4, report.Considered)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 1, report.Updated)
	assert.Equal(t, 1, report.Created)
	assert.Equal(t, 1, report.Errored)
	assert.True(t, report.Balanced())
	assert.Equal(t, 2, report.Batches)
	assert.Equal(t, 1, report.Windows)
	assert.Equal(t, map[string]int{
		domain.ReasonLineNotAccepted: 1,
		domain.ReasonPriceBelowMin:   1,
		domain.ReasonMultiple:        1,
	}, report.Rejections)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, "R-9", report.Errors[0].Identifier)
	assert.False(t, report.FinishedAt.Before(report.StartedAt))

	assert.Equal(t, []string{"gid-2"}, writer.updates)
	assert.Equal(t, []string{"R-2"}, writer.creates)

	assert.True(t, locker.released)
	assert.Len(t, reports.saved, 1)
	assert.Equal(t, 1, metrics.runs)
	assert.Equal(t, []string{SnapshotCacheKey}, cache.deleted, "successful writes invalidate the snapshot")
	assert.Contains(t, report.Summary(), "errors (1 total, showing 1)")
}

func TestSyncService_UsesCachedSnapshot(t *testing.T) {
	cached := []domain.RemoteRecord{{
		ID: "gid-1", Title: "Gold Ring", Status: "active",
		Variants: []domain.RemoteVariant{{SKU: "R-1", Price: decimal.NewFromInt(1500)}},
	}}
	raw, err := json.Marshal(cached)
	require.NoError(t, err)

	cache := NewMockCacheRepository()
	cache.data[SnapshotCacheKey] = raw
	reader := &fakeReader{}
	writer := newFakeWriter()

	svc := newTestSyncService(t, SyncDependencies{Reader: reader, Writer: writer, Cache: cache}, testSyncConfig())
	report, err := svc.Run(context.Background(), feedOf(
		domain.IncomingRecord{ID: "R-1", Title: "Gold Ring", Price: "1500", Line: "ring", Status: "active"},
	))
	require.NoError(t, err)

	assert.Equal(t, 0, reader.calls)
	assert.Equal(t, 1, report.Skipped)
	assert.Empty(t, cache.deleted, "no writes, snapshot stays cached")
}

func TestSyncService_CachesFetchedSnapshot(t *testing.T) {
	cache := NewMockCacheRepository()
	reader := &fakeReader{records: []domain.RemoteRecord{{ID: "1", Title: "A"}}}

	svc := newTestSyncService(t, SyncDependencies{Reader: reader, Writer: newFakeWriter(), Cache: cache}, testSyncConfig())
	_, err := svc.Run(context.Background(), feedOf())
	require.NoError(t, err)

	ok, _ := cache.Exists(context.Background(), SnapshotCacheKey)
	assert.True(t, ok)
	assert.Equal(t, 1, reader.calls)
}

func TestSyncService_DoesNotCachePartialSnapshot(t *testing.T) {
	cache := NewMockCacheRepository()
	reader := &fakeReader{partial: true, records: []domain.RemoteRecord{{
		ID: "gid-1", Title: "Gold Ring", Status: "active",
		Variants: []domain.RemoteVariant{{SKU: "R-1", Price: decimal.NewFromInt(1500)}},
	}}}
	config := testSyncConfig()
	config.Batch.DryRun = true

	svc := newTestSyncService(t, SyncDependencies{Reader: reader, Writer: newFakeWriter(), Cache: cache}, config)
	feed := feedOf(
		domain.IncomingRecord{ID: "R-1", Title: "Gold Ring", Price: "1500", Line: "ring", Status: "active"},
		domain.IncomingRecord{ID: "R-2", Title: "Rose Ring", Price: "1500", Line: "ring", Status: "active"},
	)

	report, err := svc.Run(context.Background(), feed)
	require.NoError(t, err)
	assert.True(t, report.PartialSnapshot)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 1, report.Planned)
	assert.Contains(t, report.Summary(), "snapshot was partial")

	ok, _ := cache.Exists(context.Background(), SnapshotCacheKey)
	assert.False(t, ok, "partial snapshot must not be cached")

	// the next run refetches instead of reconciling against the truncated catalog
	reader.partial = false
	report, err = svc.Run(context.Background(), feed)
	require.NoError(t, err)
	assert.Equal(t, 2, reader.calls)
	assert.False(t, report.PartialSnapshot)
	ok, _ = cache.Exists(context.Background(), SnapshotCacheKey)
	assert.True(t, ok)
}

func TestSyncService_CacheFailureIsNotFatal(t *testing.T) {
	cache := NewMockCacheRepository()
	cache.setError = errors.New("redis down")

	svc := newTestSyncService(t, SyncDependencies{Reader: &fakeReader{}, Writer: newFakeWriter(), Cache: cache}, testSyncConfig())
	_, err := svc.Run(context.Background(), feedOf())
	assert.NoError(t, err)
}

func TestSyncService_AbortsBeforeProcessing(t *testing.T) {
	t.Run("remote unavailable", func(t *testing.T) {
		svc := newTestSyncService(t, SyncDependencies{
			Reader: &fakeReader{err: errors.New("connection refused")},
			Writer: newFakeWriter(),
		}, testSyncConfig())

		_, err := svc.Run(context.Background(), feedOf())
		assert.ErrorIs(t, err, domain.ErrRemoteUnavailable)
	})

	t.Run("run in progress", func(t *testing.T) {
		svc := newTestSyncService(t, SyncDependencies{
			Reader: &fakeReader{},
			Writer: newFakeWriter(),
			Locker: &fakeLocker{held: true},
		}, testSyncConfig())

		_, err := svc.Run(context.Background(), feedOf())
		assert.ErrorIs(t, err, domain.ErrRunInProgress)
	})

	t.Run("feed fails", func(t *testing.T) {
		writer := newFakeWriter()
		svc := newTestSyncService(t, SyncDependencies{Reader: &fakeReader{}, Writer: writer}, testSyncConfig())

		feed := &sliceFeed{rows: []feedRow{
			{rec: domain.IncomingRecord{ID: "R-1", Price: "1500", Line: "ring", Title: "x"}},
			{err: errors.New("disk read error")},
		}}
		_, err := svc.Run(context.Background(), feed)
		assert.ErrorIs(t, err, domain.ErrFeedUnavailable)
		assert.Empty(t, writer.creates)
	})
}

func TestSyncService_AllItemsFailStillReports(t *testing.T) {
	writer := newFakeWriter()
	for i := 0; i < 5; i++ {
		writer.failSKUs[fmt.Sprintf("R-%d", i)] = errors.New("503 service unavailable")
	}
	svc := newTestSyncService(t, SyncDependencies{Reader: &fakeReader{}, Writer: writer}, testSyncConfig())

	var records []domain.IncomingRecord
	for i := 0; i < 5; i++ {
		records = append(records, domain.IncomingRecord{ID: fmt.Sprintf("R-%d", i), Title: "Ring", Price: "1500", Line: "ring"})
	}

	report, err := svc.Run(context.Background(), feedOf(records...))
	require.NoError(t, err)
	assert.Equal(t, 5, report.Errored)
	assert.Equal(t, 5, report.ErrorCount)
	assert.True(t, report.Balanced())
}

func TestSyncService_DryRun(t *testing.T) {
	cfg := testSyncConfig()
	cfg.Batch.DryRun = true
	writer := newFakeWriter()
	cache := NewMockCacheRepository()

	svc := newTestSyncService(t, SyncDependencies{Reader: &fakeReader{}, Writer: writer, Cache: cache}, cfg)
	report, err := svc.Run(context.Background(), feedOf(
		domain.IncomingRecord{ID: "R-1", Title: "Ring", Price: "1500", Line: "ring"},
		domain.IncomingRecord{ID: "R-2", Title: "Ring 2", Price: "1500", Line: "ring"},
	))
	require.NoError(t, err)

	assert.True(t, report.DryRun)
	assert.Equal(t, 2, report.Planned)
	assert.True(t, report.Balanced())
	assert.Empty(t, writer.creates)
	assert.Empty(t, cache.deleted)
}

func TestSyncService_UpdatesDisabled(t *testing.T) {
	cfg := testSyncConfig()
	cfg.EnableUpdates = false
	reader := &fakeReader{records: []domain.RemoteRecord{{ID: "gid-1", Title: "Old", Variants: []domain.RemoteVariant{{SKU: "R-1"}}}}}
	writer := newFakeWriter()

	svc := newTestSyncService(t, SyncDependencies{Reader: reader, Writer: writer}, cfg)
	report, err := svc.Run(context.Background(), feedOf(
		domain.IncomingRecord{ID: "R-1", Title: "New", Price: "1500", Line: "ring"},
	))
	require.NoError(t, err)
	assert.Equal(t, 1, report.Skipped)
	assert.Empty(t, writer.updates)
}
