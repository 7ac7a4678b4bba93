package principal

import (
	"errors"
	"testing"

	"verify-service/internal/model"
)

func TestCanonicalizeEmail(t *testing.T) {
	p, ch, err := Canonicalize("  Recruit.Jones@Example.COM ")
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	if p != "recruit.jones@example.com" {
		t.Fatalf("expected lowercased email, got %q", p)
	}
	if ch != model.ChannelEmail {
		t.Fatalf("expected email channel, got %s", ch)
	}
}

func TestCanonicalizePhone(t *testing.T) {
	cases := map[string]string{
		"+15555550123":    "+15555550123",
		"(555) 555-0123":  "+15555550123",
		"555-555-0123":    "+15555550123",
		"1 555 555 0123":  "+15555550123",
		"+44 20 7946 095": "+44207946095",
	}
	for in, want := range cases {
		p, ch, err := Canonicalize(in)
		if err != nil {
			t.Fatalf("canonicalize %q: %v", in, err)
		}
		if p != want {
			t.Fatalf("canonicalize %q: got %q want %q", in, p, want)
		}
		if ch != model.ChannelSMS {
			t.Fatalf("canonicalize %q: expected sms channel, got %s", in, ch)
		}
	}
}

func TestCanonicalizeRejectsMalformed(t *testing.T) {
	for _, in := range []string{
		"",
		"   ",
		"not-an-email@",
		"@example.com",
		"555",
		"+1555555012345678901",
		"abc-def-ghij",
	} {
		if _, _, err := Canonicalize(in); !errors.Is(err, ErrInvalidPrincipal) {
			t.Fatalf("expected ErrInvalidPrincipal for %q, got %v", in, err)
		}
	}
}
