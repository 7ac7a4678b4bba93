package util

import "strings"

// MaskPrincipal redacts an email or phone principal for log and telemetry
// fields. Enough of the value survives to correlate events for one principal
// by eye, never enough to contact them.
func MaskPrincipal(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}

	if at := strings.IndexByte(p, '@'); at > 0 {
		local, domain := p[:at], p[at+1:]
		return maskPart(local) + "@" + domain
	}

	// Phone: keep the prefix and the last two digits.
	if len(p) <= 5 {
		return strings.Repeat("*", len(p))
	}
	return p[:3] + strings.Repeat("*", len(p)-5) + p[len(p)-2:]
}

func maskPart(s string) string {
	switch {
	case len(s) <= 1:
		return "*"
	case len(s) <= 3:
		return s[:1] + strings.Repeat("*", len(s)-1)
	default:
		return s[:2] + strings.Repeat("*", len(s)-2)
	}
}
