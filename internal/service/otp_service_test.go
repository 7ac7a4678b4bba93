package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"verify-service/internal/encryption"
	"verify-service/internal/model"
	"verify-service/internal/otp"
	"verify-service/internal/store"
)

type captureDispatcher struct {
	calls   int
	channel model.Channel
	to      string
	code    string
	err     error
}

func (d *captureDispatcher) Send(ctx context.Context, channel model.Channel, to, code string, ttl time.Duration) error {
	d.calls++
	d.channel = channel
	d.to = to
	d.code = code
	return d.err
}

type fixture struct {
	svc        *OTPService
	store      *store.MemoryStore
	dispatcher *captureDispatcher
	clock      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		store:      store.NewMemoryStore(),
		dispatcher: &captureDispatcher{},
		clock:      time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC),
	}

	f.svc = NewOTPService(
		f.store,
		otp.NewGenerator(6, ""),
		otp.NewDigester("test-pepper"),
		f.dispatcher,
		encryption.NewManager(nil, ""),
		nil,
		nil,
		10*time.Minute,
		3,
		zap.NewNop(),
	)
	f.svc.now = func() time.Time { return f.clock }
	return f
}

func (f *fixture) advance(d time.Duration) {
	f.clock = f.clock.Add(d)
}

func TestIssueAndVerify(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Issue(ctx, "Sergeant@Example.com", model.LeadContext{"name": "SSG Jones", "rank": "E-6"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if res.Principal != "sergeant@example.com" {
		t.Fatalf("principal not canonicalized: %q", res.Principal)
	}
	if res.Channel != model.ChannelEmail {
		t.Fatalf("channel: %q", res.Channel)
	}
	if want := f.clock.Add(10 * time.Minute); !res.ExpiresAt.Equal(want) {
		t.Fatalf("expires_at = %v, want %v", res.ExpiresAt, want)
	}
	if f.dispatcher.calls != 1 || f.dispatcher.to != "sergeant@example.com" {
		t.Fatalf("dispatch: %+v", f.dispatcher)
	}
	if len(f.dispatcher.code) != 6 {
		t.Fatalf("dispatched code %q is not 6 digits", f.dispatcher.code)
	}

	// The raw code must not be what sits in the store.
	rec, err := f.store.Get(ctx, "sergeant@example.com")
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if rec.CodeDigest == f.dispatcher.code {
		t.Fatal("raw code stored")
	}

	out, err := f.svc.Verify(ctx, "sergeant@example.com", f.dispatcher.code)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if out.Context["name"] != "SSG Jones" || out.Context["rank"] != "E-6" {
		t.Fatalf("lead context lost: %+v", out.Context)
	}

	// Consumed: the same code cannot verify twice.
	if _, err := f.svc.Verify(ctx, "sergeant@example.com", f.dispatcher.code); !errors.Is(err, ErrNotFound) {
		t.Fatalf("replay should fail with ErrNotFound, got %v", err)
	}
}

func TestIssueRejectsInvalidPrincipal(t *testing.T) {
	f := newFixture(t)

	for _, raw := range []string{"", "not-an-address", "a@b@c", "555-01"} {
		if _, err := f.svc.Issue(context.Background(), raw, nil); !errors.Is(err, ErrValidation) {
			t.Fatalf("%q: expected ErrValidation, got %v", raw, err)
		}
	}
	if f.dispatcher.calls != 0 {
		t.Fatal("dispatch happened for invalid principal")
	}
	if f.store.Len() != 0 {
		t.Fatal("record stored for invalid principal")
	}
}

func TestIssueDeliveryFailureKeepsRecord(t *testing.T) {
	f := newFixture(t)
	f.dispatcher.err = errors.New("smtp timeout")

	_, err := f.svc.Issue(context.Background(), "a@example.com", nil)
	if !errors.Is(err, ErrDelivery) {
		t.Fatalf("expected ErrDelivery, got %v", err)
	}
	if f.store.Len() != 1 {
		t.Fatal("record should survive a delivery failure")
	}
}

func TestIssueReplacesExistingRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Issue(ctx, "a@example.com", nil); err != nil {
		t.Fatalf("first issue: %v", err)
	}
	firstCode := f.dispatcher.code

	// Burn an attempt against the first code.
	wrong := "000000"
	if wrong == firstCode {
		wrong = "000001"
	}
	if _, err := f.svc.Verify(ctx, "a@example.com", wrong); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("expected ErrInvalidCode, got %v", err)
	}

	if _, err := f.svc.Issue(ctx, "a@example.com", nil); err != nil {
		t.Fatalf("second issue: %v", err)
	}

	rec, err := f.store.Get(ctx, "a@example.com")
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if rec.Attempts != 0 {
		t.Fatalf("re-issue must reset attempts, got %d", rec.Attempts)
	}

	// Only the fresh code verifies.
	if firstCode != f.dispatcher.code {
		if _, err := f.svc.Verify(ctx, "a@example.com", firstCode); !errors.Is(err, ErrInvalidCode) {
			t.Fatalf("stale code should fail, got %v", err)
		}
	}
	if _, err := f.svc.Verify(ctx, "a@example.com", f.dispatcher.code); err != nil {
		t.Fatalf("fresh code: %v", err)
	}
}

func TestVerifyUnknownPrincipal(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Verify(context.Background(), "nobody@example.com", "123456")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestVerifyMalformedCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Issue(ctx, "a@example.com", nil); err != nil {
		t.Fatalf("issue: %v", err)
	}

	for _, code := range []string{"", "12345", "1234567", "12a456", "12 456"} {
		if _, err := f.svc.Verify(ctx, "a@example.com", code); !errors.Is(err, ErrValidation) {
			t.Fatalf("%q: expected ErrValidation, got %v", code, err)
		}
	}

	// Malformed submissions must not burn attempts.
	rec, err := f.store.Get(ctx, "a@example.com")
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if rec.Attempts != 0 {
		t.Fatalf("malformed codes consumed attempts: %d", rec.Attempts)
	}
}

func TestVerifyExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Issue(ctx, "a@example.com", nil); err != nil {
		t.Fatalf("issue: %v", err)
	}
	code := f.dispatcher.code

	f.advance(10*time.Minute + time.Second)

	if _, err := f.svc.Verify(ctx, "a@example.com", code); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
	if f.store.Len() != 0 {
		t.Fatal("expired record should be deleted on touch")
	}

	// And a second try now reports not found.
	if _, err := f.svc.Verify(ctx, "a@example.com", code); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after cleanup, got %v", err)
	}
}

func TestVerifyAttemptCeiling(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Issue(ctx, "a@example.com", nil); err != nil {
		t.Fatalf("issue: %v", err)
	}
	code := f.dispatcher.code
	wrong := "000000"
	if wrong == code {
		wrong = "000001"
	}

	for i := 0; i < 3; i++ {
		if _, err := f.svc.Verify(ctx, "a@example.com", wrong); !errors.Is(err, ErrInvalidCode) {
			t.Fatalf("attempt %d: expected ErrInvalidCode, got %v", i+1, err)
		}
	}

	// Ceiling reached: even the right code is refused and the record dies.
	if _, err := f.svc.Verify(ctx, "a@example.com", code); !errors.Is(err, ErrTooManyAttempts) {
		t.Fatalf("expected ErrTooManyAttempts, got %v", err)
	}
	if f.store.Len() != 0 {
		t.Fatal("exhausted record should be deleted")
	}
}

func TestVerifyPhonePrincipal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Issue(ctx, "(555) 555-0123", nil); err != nil {
		t.Fatalf("issue: %v", err)
	}
	if f.dispatcher.channel != model.ChannelSMS {
		t.Fatalf("channel: %q", f.dispatcher.channel)
	}
	if f.dispatcher.to != "+15555550123" {
		t.Fatalf("dispatched to %q", f.dispatcher.to)
	}

	// Verify with a differently formatted but equivalent number.
	out, err := f.svc.Verify(ctx, "+1 555 555 0123", f.dispatcher.code)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if out.Principal != "+15555550123" {
		t.Fatalf("principal: %q", out.Principal)
	}
}

func TestVerifyWithoutContext(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Issue(ctx, "a@example.com", nil); err != nil {
		t.Fatalf("issue: %v", err)
	}
	out, err := f.svc.Verify(ctx, "a@example.com", f.dispatcher.code)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if len(out.Context) != 0 {
		t.Fatalf("unexpected context: %+v", out.Context)
	}
}

func TestStaticCodeMode(t *testing.T) {
	f := newFixture(t)
	f.svc.generator = otp.NewGenerator(6, "111222")
	ctx := context.Background()

	if _, err := f.svc.Issue(ctx, "a@example.com", nil); err != nil {
		t.Fatalf("issue: %v", err)
	}
	if f.dispatcher.code != "111222" {
		t.Fatalf("static code not used: %q", f.dispatcher.code)
	}
	if _, err := f.svc.Verify(ctx, "a@example.com", "111222"); err != nil {
		t.Fatalf("verify static code: %v", err)
	}
}
