// Package audit writes an append-only trail of issue and verify outcomes to
// ClickHouse. Rows carry masked principals and bucket numbers only.
package audit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"verify-service/internal/bucketing"
	"verify-service/internal/client"
	"verify-service/internal/util"
)

// Expected table:
//
//	CREATE TABLE verify.audit_log (
//	    event_time DateTime,
//	    event_date Date,
//	    bucket     UInt32,
//	    principal  String,
//	    operation  LowCardinality(String),
//	    outcome    LowCardinality(String),
//	    channel    LowCardinality(String)
//	) ENGINE = MergeTree()
//	PARTITION BY toYYYYMM(event_date)
//	ORDER BY (event_date, bucket, event_time)
const insertQuery = `INSERT INTO audit_log (event_time, event_date, bucket, principal, operation, outcome, channel)`

const (
	OpIssue  = "issue"
	OpVerify = "verify"
)

type entry struct {
	at        time.Time
	bucket    uint32
	principal string
	operation string
	outcome   string
	channel   string
}

// Recorder batches audit rows in memory and flushes them on a ticker or when
// the buffer fills. Record never blocks the request path: if the buffer is
// full the row is dropped and counted.
type Recorder struct {
	ch      *client.ClickHouseClient
	buckets *bucketing.Manager
	logger  *zap.Logger

	entries   chan entry
	flushSize int

	dropped uint64
	mu      sync.Mutex

	done chan struct{}
	once sync.Once
}

func NewRecorder(ch *client.ClickHouseClient, buckets *bucketing.Manager, logger *zap.Logger) *Recorder {
	r := &Recorder{
		ch:        ch,
		buckets:   buckets,
		logger:    logger,
		entries:   make(chan entry, 1024),
		flushSize: 200,
		done:      make(chan struct{}),
	}
	go r.run()
	return r
}

// Record queues one audit row. Safe to call on a nil Recorder.
func (r *Recorder) Record(operation, outcome, principal, channel string) {
	if r == nil {
		return
	}

	e := entry{
		at:        time.Now().UTC(),
		bucket:    r.buckets.PrincipalBucket(principal),
		principal: util.MaskPrincipal(principal),
		operation: operation,
		outcome:   outcome,
		channel:   channel,
	}

	select {
	case r.entries <- e:
	default:
		r.mu.Lock()
		r.dropped++
		r.mu.Unlock()
	}
}

// Close flushes buffered rows and stops the background loop.
func (r *Recorder) Close() {
	if r == nil {
		return
	}
	r.once.Do(func() {
		close(r.entries)
		<-r.done
	})
}

func (r *Recorder) run() {
	defer close(r.done)

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	batch := make([]entry, 0, r.flushSize)
	for {
		select {
		case e, ok := <-r.entries:
			if !ok {
				r.flush(batch)
				return
			}
			batch = append(batch, e)
			if len(batch) >= r.flushSize {
				r.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				r.flush(batch)
				batch = batch[:0]
			}
			r.reportDropped()
		}
	}
}

func (r *Recorder) flush(batch []entry) {
	if len(batch) == 0 {
		return
	}

	rows := make([][]interface{}, 0, len(batch))
	for _, e := range batch {
		rows = append(rows, r.row(e))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := r.ch.BatchInsert(ctx, insertQuery, rows); err != nil {
		r.logger.Error("failed to flush audit batch",
			zap.Error(err),
			zap.Int("rows", len(rows)),
		)
	}
}

// row lays out one entry in audit_log column order. The event_date column is
// the UTC date bucket, matching the table's partition key.
func (r *Recorder) row(e entry) []interface{} {
	return []interface{}{
		e.at,
		r.buckets.DateBucket(e.at),
		e.bucket,
		e.principal,
		e.operation,
		e.outcome,
		e.channel,
	}
}

func (r *Recorder) reportDropped() {
	r.mu.Lock()
	n := r.dropped
	r.dropped = 0
	r.mu.Unlock()
	if n > 0 {
		r.logger.Warn("audit rows dropped under backpressure", zap.Uint64("count", n))
	}
}
