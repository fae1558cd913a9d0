package auth

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/goliatone/go-subsync/core"
)

const (
	// MinTokenLength is a floor that rejects obviously truncated input. It is
	// not a security bound.
	MinTokenLength = 15

	// StructuredHeaderPrefix is the base64url encoding of
	// {"alg":"HS256","typ":"JWT"} followed by the segment separator.
	StructuredHeaderPrefix = "eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9."

	SubscriptionAccess = "subscription"
)

// Verifier checks subscription tokens in either wire format against a
// snapshot of rotating secrets. It holds no state and is safe for concurrent
// use.
type Verifier struct{}

func NewVerifier() *Verifier {
	return &Verifier{}
}

// Verify returns the claim carried by token, or a *core.TokenRejection.
// Secrets whose rotation window excludes now are not tried.
func (v *Verifier) Verify(token string, secrets core.SecretSet, now time.Time) (core.Claim, error) {
	if utf8.RuneCountInString(token) < MinTokenLength {
		return core.Claim{}, core.Reject(core.RejectionTooShort, "")
	}
	active := secrets.Active(now)
	if DetectFormat(token) == core.TokenFormatStructured {
		return verifyStructured(token, active)
	}
	return verifyCompact(token, active)
}

func DetectFormat(token string) core.TokenFormat {
	if strings.HasPrefix(token, StructuredHeaderPrefix) {
		return core.TokenFormatStructured
	}
	return core.TokenFormatCompact
}

var _ core.TokenVerifier = (*Verifier)(nil)
