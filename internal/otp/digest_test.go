package otp

import "testing"

func TestDigestDeterministic(t *testing.T) {
	d := NewDigester("test-pepper")
	a := d.Digest("482913", "a@example.com")
	b := d.Digest("482913", "a@example.com")
	if a != b {
		t.Fatalf("digest not deterministic: %s vs %s", a, b)
	}
}

func TestDigestPrincipalBinding(t *testing.T) {
	d := NewDigester("test-pepper")
	a := d.Digest("482913", "a@example.com")
	b := d.Digest("482913", "b@example.com")
	if a == b {
		t.Fatal("same code for two principals produced identical digests")
	}
}

func TestDigestNeverEqualsRawCode(t *testing.T) {
	d := NewDigester("test-pepper")
	if d.Digest("482913", "a@example.com") == "482913" {
		t.Fatal("digest equals raw code")
	}
}

func TestDigestPepperMatters(t *testing.T) {
	a := NewDigester("pepper-one").Digest("482913", "a@example.com")
	b := NewDigester("pepper-two").Digest("482913", "a@example.com")
	if a == b {
		t.Fatal("pepper has no effect on digest")
	}
}

func TestCompare(t *testing.T) {
	d := NewDigester("test-pepper")
	stored := d.Digest("482913", "a@example.com")

	if !d.Compare(stored, "482913", "a@example.com") {
		t.Fatal("correct code rejected")
	}
	if d.Compare(stored, "482914", "a@example.com") {
		t.Fatal("wrong code accepted")
	}
	if d.Compare(stored, "482913", "b@example.com") {
		t.Fatal("digest validated against the wrong principal")
	}
}
