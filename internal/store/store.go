// Package store holds the pending-code records, one live record per
// principal. Backends share last-writer-wins upsert semantics and an atomic
// attempt counter; TTL enforcement here is best-effort, the verification
// service always re-checks expiry at read time.
package store

import (
	"context"
	"errors"
	"time"

	"verify-service/internal/model"
)

// ErrNotFound is returned by Get when no record exists for a principal.
var ErrNotFound = errors.New("record not found")

// RecordStore is the durable keyed storage for pending codes.
type RecordStore interface {
	// Put upserts the record for a principal, replacing any existing one.
	Put(ctx context.Context, principal string, rec *model.Record, ttl time.Duration) error
	// Get returns the record for a principal or ErrNotFound.
	Get(ctx context.Context, principal string) (*model.Record, error)
	// Delete removes the record. Deleting an absent record is not an error.
	Delete(ctx context.Context, principal string) error
	// IncrementAttempts atomically bumps the failed-attempt counter and
	// returns the new count. When the record no longer exists the call is a
	// no-op and returns 0 with a nil error.
	IncrementAttempts(ctx context.Context, principal string) (int, error)
}

// Sweeper is implemented by backends that need an active expiry sweep because
// their storage has no native TTL.
type Sweeper interface {
	// SweepExpired deletes records whose ExpiresAt is before now and returns
	// how many were removed.
	SweepExpired(ctx context.Context, now time.Time) (int, error)
}
