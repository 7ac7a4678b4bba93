// Package bucketing assigns principals and timestamps to stable numeric
// buckets. Buckets key Kafka partitions and ClickHouse aggregates without
// exposing the principal itself.
package bucketing

import (
	"fmt"
	"hash"
	"sync"
	"time"

	"github.com/spaolacci/murmur3"
)

const (
	// PrincipalBuckets is the fixed bucket count. Changing it remaps every
	// principal, so it is a constant rather than configuration.
	PrincipalBuckets = 1024

	hashSeed = 0x9747b28c
)

// Manager computes murmur3 buckets. Hashers are pooled since the hot path
// runs once per issue and once per verify.
type Manager struct {
	pool sync.Pool
}

func NewManager() *Manager {
	return &Manager{
		pool: sync.Pool{
			New: func() interface{} {
				return murmur3.New64WithSeed(hashSeed)
			},
		},
	}
}

// PrincipalBucket maps a canonical principal to [0, PrincipalBuckets).
func (m *Manager) PrincipalBucket(principal string) uint32 {
	h := m.pool.Get().(hash.Hash64)
	h.Reset()
	_, _ = h.Write([]byte(principal))
	sum := h.Sum64()
	m.pool.Put(h)
	return uint32(sum % PrincipalBuckets)
}

// PrincipalKey returns the bucket formatted as a partition key.
func (m *Manager) PrincipalKey(principal string) string {
	return fmt.Sprintf("b%04d", m.PrincipalBucket(principal))
}

// DateBucket returns the UTC calendar date as yyyy-mm-dd, the partition
// dimension for audit rows.
func (m *Manager) DateBucket(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
