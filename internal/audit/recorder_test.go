package audit

import (
	"testing"
	"time"

	"go.uber.org/zap"

	"verify-service/internal/bucketing"
)

func TestRecordMasksAndBuckets(t *testing.T) {
	buckets := bucketing.NewManager()
	r := &Recorder{
		buckets: buckets,
		logger:  zap.NewNop(),
		entries: make(chan entry, 4),
	}

	r.Record(OpVerify, "verified", "sergeant@example.com", "email")

	var e entry
	select {
	case e = <-r.entries:
	default:
		t.Fatal("no entry queued")
	}

	if e.principal == "sergeant@example.com" {
		t.Fatal("raw principal in audit entry")
	}
	if e.bucket != buckets.PrincipalBucket("sergeant@example.com") {
		t.Fatalf("bucket %d does not match principal bucket", e.bucket)
	}
	if e.operation != OpVerify || e.outcome != "verified" || e.channel != "email" {
		t.Fatalf("entry fields: %+v", e)
	}
}

func TestRowUsesDateBucket(t *testing.T) {
	r := &Recorder{buckets: bucketing.NewManager()}

	at := time.Date(2026, 8, 24, 13, 47, 12, 0, time.UTC)
	row := r.row(entry{
		at:        at,
		bucket:    7,
		principal: "se************@example.com",
		operation: OpIssue,
		outcome:   "issued",
		channel:   "email",
	})

	if len(row) != 7 {
		t.Fatalf("row width: %d", len(row))
	}
	if row[0] != at {
		t.Fatalf("event_time: %v", row[0])
	}
	if row[1] != "2026-08-24" {
		t.Fatalf("event_date: %v", row[1])
	}
	if row[2] != uint32(7) || row[4] != OpIssue || row[5] != "issued" {
		t.Fatalf("row: %v", row)
	}
}

func TestRecordDropsUnderBackpressure(t *testing.T) {
	r := &Recorder{
		buckets: bucketing.NewManager(),
		logger:  zap.NewNop(),
		entries: make(chan entry, 1),
	}

	r.Record(OpIssue, "issued", "a@example.com", "email")
	r.Record(OpIssue, "issued", "b@example.com", "email")

	r.mu.Lock()
	dropped := r.dropped
	r.mu.Unlock()
	if dropped != 1 {
		t.Fatalf("dropped = %d, want 1", dropped)
	}
}

func TestNilRecorderIsSafe(t *testing.T) {
	var r *Recorder
	r.Record(OpVerify, "verified", "a@example.com", "email")
	r.Close()
}
