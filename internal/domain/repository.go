package domain

import (
	"context"
	"iter"
	"time"
)

// FeedSource produces the incoming records of a feed. Each call to Records
// restarts from the first row. A malformed row is yielded as an error wrapping
// ErrMalformedRow and iteration continues; any other error ends the sequence.
type FeedSource interface {
	Records(ctx context.Context) iter.Seq2[IncomingRecord, error]
}

// CatalogReader fetches the full remote catalog. When rate limited it returns
// the records fetched so far, complete=false and a nil error.
type CatalogReader interface {
	FetchAll(ctx context.Context) (records []RemoteRecord, complete bool, err error)
}

// CatalogWriter performs single-record writes against the remote catalog.
// Every call is independent; batching happens above this layer.
type CatalogWriter interface {
	Create(ctx context.Context, payload *ProductPayload) (*RemoteRecord, error)
	Update(ctx context.Context, id string, payload *ProductPayload) (*RemoteRecord, error)
	Delete(ctx context.Context, id string) error
}

// PayloadBuilder maps a record into the remote payload. It must be deterministic.
type PayloadBuilder interface {
	Build(record IncomingRecord) (*ProductPayload, error)
}

// CacheRepository defines the interface for caching operations
type CacheRepository interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
}

// RunLocker guards against two runs writing to the same catalog at once.
type RunLocker interface {
	// Acquire returns ErrRunInProgress when the lock is held elsewhere.
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, err error)
}

// ReportRepository persists run reports
type ReportRepository interface {
	Save(ctx context.Context, report *RunReport) error
	Get(ctx context.Context, runID string) (*RunReport, error)
	List(ctx context.Context, limit int) ([]*RunReport, error)
}

// MetricsRecorder receives run-level observations
type MetricsRecorder interface {
	ObserveRun(report *RunReport)
}
