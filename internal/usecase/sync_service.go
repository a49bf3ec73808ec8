package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/catalogsync/backend/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const (
	// SnapshotCacheKey is the cache key of the remote catalog snapshot
	SnapshotCacheKey = "catalog:snapshot"
	// RunLockKey is the lock held for the duration of a run
	RunLockKey = "catalogsync:run"
)

// SyncServiceConfig holds configuration for the sync service
type SyncServiceConfig struct {
	Criteria        domain.EligibilityCriteria
	Batch           BatchConfig
	EnableUpdates   bool
	SnapshotTTL     time.Duration
	LockTTL         time.Duration
	ErrorSampleSize int
}

// Validate checks the configuration eagerly so a bad configuration aborts the
// run before any record is read.
func (c SyncServiceConfig) Validate() error {
	if c.Criteria.PriceMax.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("%w: price max must be positive", domain.ErrInvalidConfig)
	}
	if c.Criteria.PriceMin.IsNegative() {
		return fmt.Errorf("%w: price min must not be negative", domain.ErrInvalidConfig)
	}
	if c.Criteria.PriceMin.GreaterThan(c.Criteria.PriceMax) {
		return fmt.Errorf("%w: price min %s exceeds price max %s",
			domain.ErrInvalidConfig, c.Criteria.PriceMin, c.Criteria.PriceMax)
	}
	if c.Batch.BatchSize <= 0 {
		return fmt.Errorf("%w: batch size must be positive, got %d", domain.ErrInvalidConfig, c.Batch.BatchSize)
	}
	if c.Batch.MaxConcurrentBatches <= 0 {
		return fmt.Errorf("%w: max concurrent batches must be positive, got %d",
			domain.ErrInvalidConfig, c.Batch.MaxConcurrentBatches)
	}
	if c.Batch.WindowDelay < 0 {
		return fmt.Errorf("%w: window delay must not be negative", domain.ErrInvalidConfig)
	}
	return nil
}

// SyncDependencies are the collaborators of the sync service. Cache, Locker,
// Reports and Metrics are optional.
type SyncDependencies struct {
	Reader  domain.CatalogReader
	Writer  domain.CatalogWriter
	Builder domain.PayloadBuilder
	Cache   domain.CacheRepository
	Locker  domain.RunLocker
	Reports domain.ReportRepository
	Metrics domain.MetricsRecorder
	Logger  logrus.FieldLogger
}

// SyncService reconciles a feed against the remote catalog and executes the
// resulting operations.
// Flow: lock -> snapshot (cache or remote) -> index -> filter + diff per record -> execute -> fold -> persist
type SyncService struct {
	deps       SyncDependencies
	config     SyncServiceConfig
	filter     *EligibilityFilter
	diff       *DiffCalculator
	executor   *BatchExecutor
	aggregator *ResultAggregator
	logger     logrus.FieldLogger
	now        func() time.Time
}

// NewSyncService creates a sync service, returning ErrInvalidConfig for an unusable configuration.
func NewSyncService(deps SyncDependencies, config SyncServiceConfig) (*SyncService, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if deps.Reader == nil || deps.Writer == nil || deps.Builder == nil {
		return nil, fmt.Errorf("%w: catalog reader, writer and payload builder are required", domain.ErrInvalidConfig)
	}
	if deps.Logger == nil {
		deps.Logger = logrus.StandardLogger()
	}
	if config.LockTTL <= 0 {
		config.LockTTL = time.Hour
	}

	logger := deps.Logger.WithField("module", "sync")
	return &SyncService{
		deps:       deps,
		config:     config,
		filter:     NewEligibilityFilter(config.Criteria),
		diff:       NewDiffCalculator(config.EnableUpdates),
		executor:   NewBatchExecutor(deps.Writer, deps.Builder, config.Batch, logger),
		aggregator: NewResultAggregator(config.ErrorSampleSize),
		logger:     logger,
		now:        time.Now,
	}, nil
}

// Run performs one sync run over the feed. It only returns an error when the
// run cannot start; per-record problems are reported in the RunReport.
func (s *SyncService) Run(ctx context.Context, feed domain.FeedSource) (*domain.RunReport, error) {
	runID := uuid.NewString()
	logger := s.logger.WithField("run_id", runID)
	started := s.now()

	if s.deps.Locker != nil {
		release, err := s.deps.Locker.Acquire(ctx, RunLockKey, s.config.LockTTL)
		if err != nil {
			return nil, err
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				logger.WithError(err).Warn("failed to release run lock")
			}
		}()
	}

	snapshot, complete, err := s.loadSnapshot(ctx, logger)
	if err != nil {
		return nil, err
	}
	index := BuildReconciliationIndex(snapshot)
	ids, titles := index.Keys()
	logger.WithFields(logrus.Fields{
		"remote_records": index.Size(),
		"sku_keys":       ids,
		"title_keys":     titles,
	}).Info("reconciliation index built")

	base := domain.RunReport{
		RunID:     runID,
		StartedAt: started,
		DryRun:    s.config.Batch.DryRun,

		PartialSnapshot: !complete,
	}
	ops, filtered, err := s.plan(ctx, feed, index, &base, logger)
	if err != nil {
		return nil, err
	}
	base.Rejections = CollapseRejections(filtered)

	outcomes, plan := s.executor.Execute(ctx, ops)
	base.Batches = len(plan.Batches)
	base.Windows = plan.Windows

	report := s.aggregator.Fold(base, outcomes)
	report.FinishedAt = s.now()

	if !report.DryRun && report.Created+report.Updated > 0 {
		s.invalidateSnapshot(ctx, logger)
	}
	s.persist(ctx, &report, logger)

	logger.WithFields(logrus.Fields{
		"read":       report.Read,
		"filtered":   report.Filtered,
		"considered": report.Considered,
		"created":    report.Created,
		"updated":    report.Updated,
		"skipped":    report.Skipped,
		"errored":    report.Errored,
	}).Info("sync run complete")

	return &report, nil
}

// plan reads the feed, filters it and turns every eligible record into either a
// skip or an operation.
func (s *SyncService) plan(
	ctx context.Context,
	feed domain.FeedSource,
	index *ReconciliationIndex,
	report *domain.RunReport,
	logger logrus.FieldLogger,
) ([]domain.Operation, []domain.FilteredRecord, error) {
	var (
		ops      []domain.Operation
		filtered []domain.FilteredRecord
	)

	for record, err := range feed.Records(ctx) {
		if err != nil {
			if errors.Is(err, domain.ErrMalformedRow) {
				report.Malformed++
				logger.WithError(err).Warn("skipping malformed row")
				continue
			}
			return nil, nil, fmt.Errorf("%w: %v", domain.ErrFeedUnavailable, err)
		}
		report.Read++

		result := s.filter.Evaluate(record)
		if !result.Matches {
			report.Filtered++
			filtered = append(filtered, domain.FilteredRecord{
				Identifier: record.ID,
				Row:        record.Row,
				Reasons:    result.Reasons,
			})
			continue
		}

		report.Considered++
		decision := s.diff.Decide(record, index.Lookup(record))
		if decision.Action == domain.ActionSkip {
			report.Skipped++
			continue
		}
		ops = append(ops, domain.Operation{Record: record, Decision: decision})
	}

	return ops, filtered, nil
}

// loadSnapshot returns the remote catalog, from cache when fresh. Only
// complete snapshots are cached.
func (s *SyncService) loadSnapshot(ctx context.Context, logger logrus.FieldLogger) ([]domain.RemoteRecord, bool, error) {
	if s.deps.Cache != nil && s.config.SnapshotTTL > 0 {
		if raw, err := s.deps.Cache.Get(ctx, SnapshotCacheKey); err == nil {
			var cached []domain.RemoteRecord
			if err := json.Unmarshal(raw, &cached); err == nil {
				logger.WithField("records", len(cached)).Info("using cached catalog snapshot")
				return cached, true, nil
			}
		}
	}

	snapshot, complete, err := s.deps.Reader.FetchAll(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", domain.ErrRemoteUnavailable, err)
	}
	if !complete {
		logger.WithField("records", len(snapshot)).Warn("catalog snapshot is partial, not caching it")
		return snapshot, false, nil
	}

	if s.deps.Cache != nil && s.config.SnapshotTTL > 0 {
		raw, err := json.Marshal(snapshot)
		if err == nil {
			err = s.deps.Cache.Set(ctx, SnapshotCacheKey, raw, s.config.SnapshotTTL)
		}
		if err != nil {
			// Caching is best effort
			logger.WithError(err).Warn("failed to cache catalog snapshot")
		}
	}
	return snapshot, true, nil
}

func (s *SyncService) invalidateSnapshot(ctx context.Context, logger logrus.FieldLogger) {
	if s.deps.Cache == nil {
		return
	}
	if err := s.deps.Cache.Delete(ctx, SnapshotCacheKey); err != nil {
		logger.WithError(err).Warn("failed to invalidate catalog snapshot")
	}
}

func (s *SyncService) persist(ctx context.Context, report *domain.RunReport, logger logrus.FieldLogger) {
	if s.deps.Metrics != nil {
		s.deps.Metrics.ObserveRun(report)
	}
	if s.deps.Reports == nil {
		return
	}
	if err := s.deps.Reports.Save(context.WithoutCancel(ctx), report); err != nil {
		logger.WithError(err).Error("failed to save run report")
	}
}
