// Package principal canonicalizes and validates the identity strings codes
// are issued against: lowercased email addresses or E.164 phone numbers. The
// canonical form is the store key, so two spellings of the same address or
// number must always collapse to one principal.
package principal

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"

	"verify-service/internal/model"
)

var ErrInvalidPrincipal = errors.New("invalid principal")

var validate = validator.New()

// Canonicalize normalizes a raw principal and returns its canonical form and
// the delivery channel it implies. No state is touched: a failure here must
// have zero side effects.
func Canonicalize(raw string) (string, model.Channel, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", "", ErrInvalidPrincipal
	}

	if strings.ContainsRune(s, '@') {
		s = strings.ToLower(s)
		if err := validate.Var(s, "required,email"); err != nil {
			return "", "", ErrInvalidPrincipal
		}
		return s, model.ChannelEmail, nil
	}

	s = normalizePhone(s)
	if err := validate.Var(s, "required,e164"); err != nil {
		return "", "", ErrInvalidPrincipal
	}
	return s, model.ChannelSMS, nil
}

// normalizePhone strips the punctuation people type into phone fields and
// assumes a US number when the country code is missing, matching the
// marketing site's audience.
func normalizePhone(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '(' || r == ')' || r == '.':
			// dropped
		default:
			// Leave unexpected characters in place so validation rejects them.
			b.WriteRune(r)
		}
	}
	out := b.String()
	if !strings.HasPrefix(out, "+") {
		if len(out) == 10 {
			out = "+1" + out
		} else if len(out) == 11 && strings.HasPrefix(out, "1") {
			out = "+" + out
		}
	}
	return out
}
