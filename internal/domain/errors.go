package domain

import "errors"

var (
	// ErrInvalidConfig is returned when the run configuration cannot be used.
	// It is the only error class that aborts a run before any record is processed.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrNoPriceData is returned when a price field is empty or not numeric
	ErrNoPriceData = errors.New("no price data")

	// ErrMalformedRow is yielded by feed sources for a single unreadable row
	ErrMalformedRow = errors.New("malformed feed row")

	// ErrFeedUnavailable is returned when the feed cannot be opened at all
	ErrFeedUnavailable = errors.New("feed unavailable")

	// ErrRemoteUnavailable is returned when the remote catalog snapshot cannot be fetched
	ErrRemoteUnavailable = errors.New("remote catalog unavailable")

	// ErrRateLimited is returned when the remote catalog answers 429
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrItemOperation is returned when a remote create/update call fails
	ErrItemOperation = errors.New("item operation failed")

	// ErrBatchDispatch is attributed to every item of a batch whose dispatch failed
	// before any item-level outcome was produced
	ErrBatchDispatch = errors.New("batch dispatch failed")

	// ErrRunInProgress is returned when another run holds the run lock
	ErrRunInProgress = errors.New("another sync run is in progress")

	// ErrCacheMiss is returned when data is not found in cache
	ErrCacheMiss = errors.New("cache miss")

	// ErrNotFound is returned when a run report or remote record does not exist
	ErrNotFound = errors.New("not found")
)
