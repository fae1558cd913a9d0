package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/goliatone/go-subsync/core"
)

// CompactSignatureLength is the number of encoded signature characters
// appended to a compact token.
const CompactSignatureLength = 10

func verifyCompact(token string, secrets []core.Secret) (core.Claim, error) {
	runes := []rune(token)
	payload := string(runes[:len(runes)-CompactSignatureLength])
	signature := string(runes[len(runes)-CompactSignatureLength:])

	identity, issuedAt, err := decodeCompactPayload(payload)
	if err != nil {
		return core.Claim{}, core.Reject(core.RejectionMalformed, core.TokenFormatCompact)
	}

	for _, secret := range secrets {
		expected := compactSignature(payload, secret.Value)
		if subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1 {
			return core.Claim{
				ExternalIdentity: identity,
				IssuedAt:         issuedAt,
				Format:           core.TokenFormatCompact,
			}, nil
		}
	}
	return core.Claim{}, core.Reject(core.RejectionInvalidSignature, core.TokenFormatCompact)
}

// decodeCompactPayload decodes "<identity>,<issued_at_unix>" from its
// unpadded URL-safe base64 form.
func decodeCompactPayload(payload string) (string, time.Time, error) {
	if payload == "" {
		return "", time.Time{}, fmt.Errorf("auth: empty compact payload")
	}
	for _, r := range payload {
		if !isURLAlphabet(r) {
			return "", time.Time{}, fmt.Errorf("auth: compact payload has invalid character %q", r)
		}
	}
	padded := payload
	if rem := len(padded) % 4; rem != 0 {
		padded += strings.Repeat("=", 4-rem)
	}
	decoded, err := base64.URLEncoding.DecodeString(padded)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: decode compact payload: %w", err)
	}
	if !utf8.Valid(decoded) {
		return "", time.Time{}, fmt.Errorf("auth: compact payload is not utf-8")
	}
	fields := strings.Split(string(decoded), ",")
	if len(fields) != 2 {
		return "", time.Time{}, fmt.Errorf("auth: compact payload must have two fields, got %d", len(fields))
	}
	if fields[0] == "" {
		return "", time.Time{}, fmt.Errorf("auth: compact payload identity is empty")
	}
	seconds, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: compact payload issued_at: %w", err)
	}
	return fields[0], time.Unix(seconds, 0).UTC(), nil
}

// compactSignature is the first CompactSignatureLength characters of the
// URL-safe base64 SHA-256 digest of the payload as written, followed by the
// secret.
func compactSignature(payload string, secret []byte) string {
	digest := sha256.New()
	_, _ = digest.Write([]byte(payload))
	_, _ = digest.Write(secret)
	return base64.URLEncoding.EncodeToString(digest.Sum(nil))[:CompactSignatureLength]
}

func isURLAlphabet(r rune) bool {
	switch {
	case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9':
		return true
	case r == '-', r == '_':
		return true
	default:
		return false
	}
}

// IssueCompact builds a compact subscription token for identity.
func IssueCompact(identity string, issuedAt time.Time, secret []byte) (string, error) {
	if identity == "" {
		return "", fmt.Errorf("auth: compact token identity is required")
	}
	if strings.Contains(identity, ",") {
		return "", fmt.Errorf("auth: compact token identity must not contain ','")
	}
	if len(secret) == 0 {
		return "", fmt.Errorf("auth: compact token secret is required")
	}
	plain := identity + "," + strconv.FormatInt(issuedAt.Unix(), 10)
	payload := base64.RawURLEncoding.EncodeToString([]byte(plain))
	return payload + compactSignature(payload, secret), nil
}
