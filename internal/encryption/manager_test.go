package encryption

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	m := NewManager(nil, "")
	ctx := context.Background()

	plaintext := []byte(`{"name":"SSG Jones","rank":"E-6","phone":"+15555550123"}`)
	blob, err := m.Encrypt(ctx, plaintext)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if strings.Contains(blob, "SSG Jones") {
		t.Fatal("plaintext visible in envelope")
	}

	out, err := m.Decrypt(ctx, blob)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if string(out) != string(plaintext) {
		t.Fatalf("round trip mangled: %s", out)
	}
}

func TestDecryptAcrossManagerInstances(t *testing.T) {
	// Local-mode envelopes are self-contained, so a different process (a
	// different Manager) must be able to open them.
	ctx := context.Background()
	blob, err := NewManager(nil, "").Encrypt(ctx, []byte("lead context"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	out, err := NewManager(nil, "").Decrypt(ctx, blob)
	if err != nil {
		t.Fatalf("decrypt with fresh manager: %v", err)
	}
	if string(out) != "lead context" {
		t.Fatalf("round trip mangled: %s", out)
	}
}

func TestDecryptRejectsTamper(t *testing.T) {
	m := NewManager(nil, "")
	ctx := context.Background()

	blob, err := m.Encrypt(ctx, []byte("lead context"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	tampered := strings.Replace(blob, `"ct":"`, `"ct":"AAAA`, 1)
	if _, err := m.Decrypt(ctx, tampered); !errors.Is(err, ErrDecryptionFailed) {
		t.Fatalf("expected ErrDecryptionFailed, got %v", err)
	}

	if _, err := m.Decrypt(ctx, "not-json"); !errors.Is(err, ErrDecryptionFailed) {
		t.Fatalf("expected ErrDecryptionFailed for garbage, got %v", err)
	}
}

func TestEncryptUniqueEnvelopes(t *testing.T) {
	m := NewManager(nil, "")
	ctx := context.Background()

	a, err := m.Encrypt(ctx, []byte("same plaintext"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	b, err := m.Encrypt(ctx, []byte("same plaintext"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if a == b {
		t.Fatal("two encryptions of the same plaintext produced identical envelopes")
	}
}
