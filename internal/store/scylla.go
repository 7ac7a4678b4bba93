package store

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"verify-service/internal/client"
	"verify-service/internal/model"
	"verify-service/internal/util"
)

// Expected schema:
//
//	CREATE TABLE otp_records (
//	    principal    text PRIMARY KEY,
//	    code_digest  text,
//	    created_at   timestamp,
//	    expires_at   timestamp,
//	    attempts     int,
//	    max_attempts int,
//	    context      text
//	);
//
// Rows are written USING TTL so the database reclaims them on its own; the
// verification service still checks expires_at on read.

const casRetries = 3

// ScyllaStore is the durable record store for multi-instance deployments.
type ScyllaStore struct {
	client *client.ScyllaClient
}

func NewScyllaStore(c *client.ScyllaClient) *ScyllaStore {
	return &ScyllaStore{client: c}
}

func (s *ScyllaStore) Put(ctx context.Context, principal string, rec *model.Record, ttl time.Duration) error {
	ttlSeconds := int(ttl / time.Second)
	if ttlSeconds < 1 {
		ttlSeconds = 1
	}

	// INSERT is an upsert on the principal partition key; last writer wins.
	err := s.client.Session.Query(`
		INSERT INTO otp_records (principal, code_digest, created_at, expires_at, attempts, max_attempts, context)
		VALUES (?, ?, ?, ?, ?, ?, ?) USING TTL ?`,
		principal, rec.CodeDigest, rec.CreatedAt.UTC(), rec.ExpiresAt.UTC(),
		rec.Attempts, rec.MaxAttempts, rec.Context, ttlSeconds,
	).WithContext(ctx).Exec()
	if err != nil {
		util.Error("Failed to store record",
			zap.String("principal", util.MaskPrincipal(principal)),
			zap.Error(err))
		return fmt.Errorf("failed to store record: %w", err)
	}
	return nil
}

func (s *ScyllaStore) Get(ctx context.Context, principal string) (*model.Record, error) {
	rec := &model.Record{Principal: principal}

	err := s.client.Session.Query(`
		SELECT code_digest, created_at, expires_at, attempts, max_attempts, context
		FROM otp_records WHERE principal = ?`,
		principal,
	).WithContext(ctx).Scan(
		&rec.CodeDigest, &rec.CreatedAt, &rec.ExpiresAt,
		&rec.Attempts, &rec.MaxAttempts, &rec.Context,
	)
	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read record: %w", err)
	}
	return rec, nil
}

func (s *ScyllaStore) Delete(ctx context.Context, principal string) error {
	err := s.client.Session.Query(`DELETE FROM otp_records WHERE principal = ?`, principal).
		WithContext(ctx).Exec()
	if err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	return nil
}

// IncrementAttempts uses a lightweight-transaction CAS loop so concurrent
// wrong guesses cannot under-count toward the attempt ceiling.
func (s *ScyllaStore) IncrementAttempts(ctx context.Context, principal string) (int, error) {
	for i := 0; i < casRetries; i++ {
		var current int
		err := s.client.Session.Query(`SELECT attempts FROM otp_records WHERE principal = ?`, principal).
			WithContext(ctx).Scan(&current)
		if err != nil {
			if err == gocql.ErrNotFound {
				// Record vanished; increment-after-delete is a no-op.
				return 0, nil
			}
			return 0, fmt.Errorf("failed to read attempts: %w", err)
		}

		applied, err := s.client.Session.Query(`
			UPDATE otp_records SET attempts = ? WHERE principal = ? IF attempts = ?`,
			current+1, principal, current,
		).WithContext(ctx).ScanCAS(&current)
		if err != nil {
			return 0, fmt.Errorf("failed to increment attempts: %w", err)
		}
		if applied {
			return current + 1, nil
		}
	}
	return 0, fmt.Errorf("failed to increment attempts after %d CAS retries", casRetries)
}
