package model

import "time"

// Channel is the out-of-band delivery medium for a code.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// LeadContext is the opaque identity metadata captured when a lead requests a
// code (display name, rank/title, callback phone). It rides along with the
// record and is returned after a successful verification; it is not part of
// the security boundary.
type LeadContext map[string]string

// Record is the single pending code per principal. CodeDigest is the only
// representation of the secret at rest; the raw code never reaches storage.
type Record struct {
	Principal   string    `json:"principal"`
	CodeDigest  string    `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	Attempts    int       `json:"attempts"`
	MaxAttempts int       `json:"max_attempts"`
	// Context is the lead context, encrypted at rest.
	Context string `json:"-"`
}

// Expired reports whether the record is past its TTL at the given instant.
func (r *Record) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// Exhausted reports whether the failed-attempt ceiling has been reached.
func (r *Record) Exhausted() bool {
	return r.Attempts >= r.MaxAttempts
}
