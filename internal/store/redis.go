package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"verify-service/internal/client"
	"verify-service/internal/model"
	"verify-service/internal/util"
)

const recordKeyPrefix = "otp:rec:"

// incrAttemptsScript bumps the attempts field only while the record still
// exists; incrementing after a delete must stay a no-op rather than
// resurrecting a key with nothing but a counter in it.
const incrAttemptsScript = `
if redis.call("EXISTS", KEYS[1]) == 1 then
  return redis.call("HINCRBY", KEYS[1], "attempts", 1)
end
return -1
`

const redisOpTimeout = 5 * time.Second

// RedisStore keeps each record as a hash under otp:rec:<principal> with the
// TTL carried by the key itself. Redis expiry handles most cleanup; the
// verification service still checks expires_at on read.
type RedisStore struct {
	client *client.RedisClient
}

func NewRedisStore(c *client.RedisClient) *RedisStore {
	return &RedisStore{client: c}
}

func (s *RedisStore) Put(ctx context.Context, principal string, rec *model.Record, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()

	key := recordKeyPrefix + principal

	// Del first so a replaced record cannot inherit stale fields, then the
	// pipeline writes and arms the TTL atomically.
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key,
		"digest", rec.CodeDigest,
		"created_at", rec.CreatedAt.UTC().Format(time.RFC3339Nano),
		"expires_at", rec.ExpiresAt.UTC().Format(time.RFC3339Nano),
		"attempts", rec.Attempts,
		"max_attempts", rec.MaxAttempts,
		"context", rec.Context,
	)
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		util.Error("Failed to store record",
			zap.String("principal", util.MaskPrincipal(principal)),
			zap.Error(err))
		return fmt.Errorf("failed to store record: %w", err)
	}

	return nil
}

func (s *RedisStore) Get(ctx context.Context, principal string) (*model.Record, error) {
	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()

	key := recordKeyPrefix + principal

	fields, err := s.client.HGetAll(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to read record: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}

	rec, err := recordFromFields(principal, fields)
	if err != nil {
		util.Error("Corrupt record in redis",
			zap.String("principal", util.MaskPrincipal(principal)),
			zap.Error(err))
		return nil, fmt.Errorf("corrupt record: %w", err)
	}
	return rec, nil
}

func (s *RedisStore) Delete(ctx context.Context, principal string) error {
	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()

	if err := s.client.Del(ctx, recordKeyPrefix+principal); err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	return nil
}

func (s *RedisStore) IncrementAttempts(ctx context.Context, principal string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()

	res, err := s.client.Eval(ctx, incrAttemptsScript, []string{recordKeyPrefix + principal})
	if err != nil {
		return 0, fmt.Errorf("failed to increment attempts: %w", err)
	}

	n, ok := res.(int64)
	if !ok {
		return 0, fmt.Errorf("unexpected increment result type %T", res)
	}
	if n < 0 {
		// Record vanished between read and increment; not an error.
		return 0, nil
	}
	return int(n), nil
}

func recordFromFields(principal string, fields map[string]string) (*model.Record, error) {
	createdAt, err := time.Parse(time.RFC3339Nano, fields["created_at"])
	if err != nil {
		return nil, fmt.Errorf("bad created_at: %w", err)
	}
	expiresAt, err := time.Parse(time.RFC3339Nano, fields["expires_at"])
	if err != nil {
		return nil, fmt.Errorf("bad expires_at: %w", err)
	}
	attempts, err := strconv.Atoi(fields["attempts"])
	if err != nil {
		return nil, fmt.Errorf("bad attempts: %w", err)
	}
	maxAttempts, err := strconv.Atoi(fields["max_attempts"])
	if err != nil {
		return nil, fmt.Errorf("bad max_attempts: %w", err)
	}

	return &model.Record{
		Principal:   principal,
		CodeDigest:  fields["digest"],
		CreatedAt:   createdAt,
		ExpiresAt:   expiresAt,
		Attempts:    attempts,
		MaxAttempts: maxAttempts,
		Context:     fields["context"],
	}, nil
}
