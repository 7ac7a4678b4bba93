// Package service implements the verification code lifecycle: issue a code to
// a principal, verify a submitted code against the stored record.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"verify-service/internal/audit"
	"verify-service/internal/events"
	"verify-service/internal/model"
	"verify-service/internal/otp"
	"verify-service/internal/principal"
	"verify-service/internal/store"
	"verify-service/internal/util"
)

// Sentinel errors for the handler layer. Everything except ErrStore and
// ErrDelivery is caused by client input.
var (
	ErrValidation      = errors.New("invalid request")
	ErrNotFound        = errors.New("no active code")
	ErrExpired         = errors.New("code expired")
	ErrTooManyAttempts = errors.New("too many attempts")
	ErrInvalidCode     = errors.New("invalid code")
	ErrDelivery        = errors.New("delivery failed")
	ErrStore           = errors.New("store failure")
)

// Dispatcher sends an issued code over the principal's channel.
type Dispatcher interface {
	Send(ctx context.Context, channel model.Channel, to, code string, ttl time.Duration) error
}

// ContextCipher seals and opens the lead context blob.
type ContextCipher interface {
	Encrypt(ctx context.Context, plaintext []byte) (string, error)
	Decrypt(ctx context.Context, blob string) ([]byte, error)
}

type IssueResult struct {
	Principal string
	Channel   model.Channel
	ExpiresAt time.Time
}

type VerifyResult struct {
	Principal string
	Channel   model.Channel
	Context   model.LeadContext
}

// OTPService owns the issue and verify operations.
type OTPService struct {
	store      store.RecordStore
	generator  *otp.Generator
	digester   *otp.Digester
	dispatcher Dispatcher
	cipher     ContextCipher
	publisher  *events.Publisher
	auditor    *audit.Recorder
	logger     *zap.Logger

	ttl         time.Duration
	maxAttempts int

	now func() time.Time
}

func NewOTPService(
	recordStore store.RecordStore,
	generator *otp.Generator,
	digester *otp.Digester,
	dispatcher Dispatcher,
	cipher ContextCipher,
	publisher *events.Publisher,
	auditor *audit.Recorder,
	ttl time.Duration,
	maxAttempts int,
	logger *zap.Logger,
) *OTPService {
	return &OTPService{
		store:       recordStore,
		generator:   generator,
		digester:    digester,
		dispatcher:  dispatcher,
		cipher:      cipher,
		publisher:   publisher,
		auditor:     auditor,
		logger:      logger,
		ttl:         ttl,
		maxAttempts: maxAttempts,
		now:         time.Now,
	}
}

// Issue generates a fresh code for the principal, persists its digest, and
// dispatches it over the detected channel. Re-issuing replaces any existing
// record, which also resets the attempt counter.
func (s *OTPService) Issue(ctx context.Context, rawPrincipal string, leadCtx model.LeadContext) (*IssueResult, error) {
	canonical, channel, err := principal.Canonicalize(rawPrincipal)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	masked := util.MaskPrincipal(canonical)

	code, err := s.generator.Generate()
	if err != nil {
		s.logger.Error("code generation failed", zap.Error(err))
		return nil, fmt.Errorf("%w: generate", ErrStore)
	}

	var contextBlob string
	if len(leadCtx) > 0 {
		raw, err := json.Marshal(leadCtx)
		if err != nil {
			return nil, fmt.Errorf("%w: bad context", ErrValidation)
		}
		contextBlob, err = s.cipher.Encrypt(ctx, raw)
		if err != nil {
			s.logger.Error("context encryption failed", zap.Error(err), zap.String("principal", masked))
			return nil, fmt.Errorf("%w: seal context", ErrStore)
		}
	}

	nowTS := s.now().UTC()
	rec := &model.Record{
		Principal:   canonical,
		CodeDigest:  s.digester.Digest(code, canonical),
		CreatedAt:   nowTS,
		ExpiresAt:   nowTS.Add(s.ttl),
		Attempts:    0,
		MaxAttempts: s.maxAttempts,
		Context:     contextBlob,
	}

	if err := s.store.Put(ctx, canonical, rec, s.ttl); err != nil {
		s.logger.Error("failed to persist code record", zap.Error(err), zap.String("principal", masked))
		s.auditor.Record(audit.OpIssue, "store_error", canonical, string(channel))
		return nil, fmt.Errorf("%w: %v", ErrStore, err)
	}

	if err := s.dispatcher.Send(ctx, channel, canonical, code, s.ttl); err != nil {
		// The record stays: the caller may retry delivery by re-issuing, and
		// a stored-but-undelivered code is harmless.
		s.logger.Warn("code delivery failed",
			zap.Error(err),
			zap.String("principal", masked),
			zap.String("channel", string(channel)),
		)
		s.publisher.Publish(ctx, events.EventDeliveryFailed, canonical, channel, "send_failed")
		s.auditor.Record(audit.OpIssue, "delivery_failed", canonical, string(channel))
		return nil, fmt.Errorf("%w: %v", ErrDelivery, err)
	}

	s.logger.Info("code issued",
		zap.String("principal", masked),
		zap.String("channel", string(channel)),
		zap.Time("expires_at", rec.ExpiresAt),
	)
	s.publisher.Publish(ctx, events.EventIssued, canonical, channel, "")
	s.auditor.Record(audit.OpIssue, "issued", canonical, string(channel))

	return &IssueResult{
		Principal: canonical,
		Channel:   channel,
		ExpiresAt: rec.ExpiresAt,
	}, nil
}

// Verify checks a submitted code. On success the record is consumed so the
// code cannot be replayed; on mismatch the attempt counter advances.
func (s *OTPService) Verify(ctx context.Context, rawPrincipal, code string) (*VerifyResult, error) {
	canonical, channel, err := principal.Canonicalize(rawPrincipal)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	masked := util.MaskPrincipal(canonical)

	if !s.codeShapeOK(code) {
		return nil, fmt.Errorf("%w: malformed code", ErrValidation)
	}

	rec, err := s.store.Get(ctx, canonical)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.reject(ctx, canonical, channel, "not_found")
			return nil, ErrNotFound
		}
		s.logger.Error("failed to load code record", zap.Error(err), zap.String("principal", masked))
		return nil, fmt.Errorf("%w: %v", ErrStore, err)
	}

	nowTS := s.now().UTC()
	if rec.Expired(nowTS) {
		if err := s.store.Delete(ctx, canonical); err != nil {
			s.logger.Warn("failed to delete expired record", zap.Error(err), zap.String("principal", masked))
		}
		s.reject(ctx, canonical, channel, "expired")
		return nil, ErrExpired
	}

	if rec.Exhausted() {
		if err := s.store.Delete(ctx, canonical); err != nil {
			s.logger.Warn("failed to delete exhausted record", zap.Error(err), zap.String("principal", masked))
		}
		s.reject(ctx, canonical, channel, "too_many_attempts")
		return nil, ErrTooManyAttempts
	}

	if !s.digester.Compare(rec.CodeDigest, code, canonical) {
		if _, err := s.store.IncrementAttempts(ctx, canonical); err != nil {
			s.logger.Warn("failed to record failed attempt", zap.Error(err), zap.String("principal", masked))
		}
		s.reject(ctx, canonical, channel, "code_mismatch")
		return nil, ErrInvalidCode
	}

	// Consume before reporting success. If the delete fails the code would
	// remain replayable, so the whole verification fails.
	if err := s.store.Delete(ctx, canonical); err != nil {
		s.logger.Error("failed to consume verified record", zap.Error(err), zap.String("principal", masked))
		return nil, fmt.Errorf("%w: %v", ErrStore, err)
	}

	var leadCtx model.LeadContext
	if rec.Context != "" {
		raw, err := s.cipher.Decrypt(ctx, rec.Context)
		if err != nil {
			s.logger.Error("failed to open lead context", zap.Error(err), zap.String("principal", masked))
		} else if err := json.Unmarshal(raw, &leadCtx); err != nil {
			s.logger.Error("failed to decode lead context", zap.Error(err), zap.String("principal", masked))
		}
	}

	s.logger.Info("code verified",
		zap.String("principal", masked),
		zap.String("channel", string(channel)),
	)
	s.publisher.Publish(ctx, events.EventVerified, canonical, channel, "")
	s.auditor.Record(audit.OpVerify, "verified", canonical, string(channel))

	return &VerifyResult{
		Principal: canonical,
		Channel:   channel,
		Context:   leadCtx,
	}, nil
}

func (s *OTPService) reject(ctx context.Context, canonical string, channel model.Channel, reason string) {
	s.logger.Info("verification rejected",
		zap.String("principal", util.MaskPrincipal(canonical)),
		zap.String("reason", reason),
	)
	s.publisher.Publish(ctx, events.EventRejected, canonical, channel, reason)
	s.auditor.Record(audit.OpVerify, reason, canonical, string(channel))
}

func (s *OTPService) codeShapeOK(code string) bool {
	if len(code) != s.generator.Width() {
		return false
	}
	for _, c := range code {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
