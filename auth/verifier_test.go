package auth

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/goliatone/go-subsync/core"
)

const (
	aliceCompactPayload = "YWxpY2UsMTcwMDAwMDAwMA"
	aliceSignatureS1    = "PlqE7AuI8F"
	aliceSignatureS2    = "XcAdVxzYkV"
)

var verifyAt = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func expectRejection(t *testing.T, err error, reason core.RejectionReason) {
	t.Helper()
	got, ok := core.RejectionReasonOf(err)
	if !ok {
		t.Fatalf("expected rejection %q, got %v", reason, err)
	}
	if got != reason {
		t.Fatalf("expected rejection %q, got %q", reason, got)
	}
}

func TestVerifier_Compact_AcceptsAnyRotatedSecret(t *testing.T) {
	verifier := NewVerifier()
	token := aliceCompactPayload + aliceSignatureS2
	claim, err := verifier.Verify(token, core.SecretSetFromStrings("s1", "s2"), verifyAt)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claim.ExternalIdentity != "alice" {
		t.Fatalf("expected alice, got %q", claim.ExternalIdentity)
	}
	if !claim.IssuedAt.Equal(time.Unix(1700000000, 0)) {
		t.Fatalf("unexpected issued_at %v", claim.IssuedAt)
	}
	if claim.Format != core.TokenFormatCompact {
		t.Fatalf("expected compact format, got %q", claim.Format)
	}

	if _, err := verifier.Verify(aliceCompactPayload+aliceSignatureS1, core.SecretSetFromStrings("s1", "s2"), verifyAt); err != nil {
		t.Fatalf("verify with first secret: %v", err)
	}
}

func TestVerifier_Compact_RejectsAlteredSignature(t *testing.T) {
	verifier := NewVerifier()
	altered := "Q" + aliceSignatureS2[1:]
	_, err := verifier.Verify(aliceCompactPayload+altered, core.SecretSetFromStrings("s1", "s2"), verifyAt)
	expectRejection(t, err, core.RejectionInvalidSignature)

	_, err = verifier.Verify(aliceCompactPayload+aliceSignatureS2, core.SecretSetFromStrings("s1"), verifyAt)
	expectRejection(t, err, core.RejectionInvalidSignature)
}

func TestVerifier_Compact_RejectsMalformedPayloads(t *testing.T) {
	verifier := NewVerifier()
	encode := func(plain string) string {
		return base64.RawURLEncoding.EncodeToString([]byte(plain))
	}
	cases := map[string]string{
		"invalid characters": "YWxp*2UsMTcwMDAwMDAwMA" + aliceSignatureS1,
		"padding present":    "YWxpY2UsMTcwMDAwMDAwMA==" + aliceSignatureS1,
		"impossible length":  "YWxpY2UsMTcwMDAwMDAwM" + aliceSignatureS1,
		"single field":       encode("alice1700000000") + aliceSignatureS1,
		"three fields":       encode("alice,1700000000,x") + aliceSignatureS1,
		"non-integer time":   encode("alice,yesterday") + aliceSignatureS1,
		"empty identity":     encode(",1700000000") + aliceSignatureS1,
		"invalid utf-8":      base64.RawURLEncoding.EncodeToString([]byte{0xff, 0xfe, ',', '1', '2'}) + aliceSignatureS1,
	}
	for name, token := range cases {
		_, err := verifier.Verify(token, core.SecretSetFromStrings("s1"), verifyAt)
		if reason, ok := core.RejectionReasonOf(err); !ok || reason != core.RejectionMalformed {
			t.Fatalf("%s: expected malformed rejection, got %v", name, err)
		}
	}
}

func TestVerifier_RejectsShortTokens(t *testing.T) {
	verifier := NewVerifier()
	for _, token := range []string{"", "short", strings.Repeat("a", MinTokenLength-1)} {
		_, err := verifier.Verify(token, core.SecretSetFromStrings("s1"), verifyAt)
		expectRejection(t, err, core.RejectionTooShort)
	}
}

func TestVerifier_Structured_AcceptsSubscriptionToken(t *testing.T) {
	verifier := NewVerifier()
	issuedAt := time.Unix(1700000000, 0)
	token, err := IssueStructured("alice", issuedAt, []byte("s2"))
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if !strings.HasPrefix(token, StructuredHeaderPrefix) {
		t.Fatalf("expected canonical header prefix, got %q", token)
	}

	claim, err := verifier.Verify(token, core.SecretSetFromStrings("s1", "s2"), verifyAt)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claim.ExternalIdentity != "alice" || !claim.IssuedAt.Equal(issuedAt) {
		t.Fatalf("unexpected claim %#v", claim)
	}
	if claim.Format != core.TokenFormatStructured {
		t.Fatalf("expected structured format, got %q", claim.Format)
	}
}

func TestVerifier_Structured_RejectsUnknownSecret(t *testing.T) {
	verifier := NewVerifier()
	token, err := IssueStructured("alice", time.Unix(1700000000, 0), []byte("s3"))
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	_, err = verifier.Verify(token, core.SecretSetFromStrings("s1", "s2"), verifyAt)
	expectRejection(t, err, core.RejectionInvalidSignature)
}

func TestVerifier_Structured_AlteredSignature(t *testing.T) {
	verifier := NewVerifier()
	token, err := IssueStructured("alice", time.Unix(1700000000, 0), []byte("s1"))
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	dot := strings.LastIndex(token, ".")
	signature := token[dot+1:]
	replacement := "A"
	if signature[0] == 'A' {
		replacement = "B"
	}
	altered := token[:dot+1] + replacement + signature[1:]
	_, err = verifier.Verify(altered, core.SecretSetFromStrings("s1"), verifyAt)
	expectRejection(t, err, core.RejectionInvalidSignature)
}

func TestVerifier_Structured_AlteredTrailingSignatureBits(t *testing.T) {
	const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_"
	verifier := NewVerifier()
	token, err := IssueStructured("alice", time.Unix(1700000000, 0), []byte("s1"))
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	last := strings.IndexByte(alphabet, token[len(token)-1])
	if last < 0 {
		t.Fatalf("unexpected signature character %q", token[len(token)-1])
	}
	altered := token[:len(token)-1] + string(alphabet[last^1])
	_, err = verifier.Verify(altered, core.SecretSetFromStrings("s1"), verifyAt)
	expectRejection(t, err, core.RejectionInvalidSignature)
}

func TestVerifier_Structured_WrongPurposeIsFinal(t *testing.T) {
	verifier := NewVerifier()
	token, err := issueStructured("alice", "admin", time.Unix(1700000000, 0), []byte("s1"))
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	_, err = verifier.Verify(token, core.SecretSetFromStrings("s1", "s2"), verifyAt)
	expectRejection(t, err, core.RejectionWrongPurpose)
}

func TestVerifier_Structured_RejectsMalformedTokens(t *testing.T) {
	verifier := NewVerifier()
	cases := []string{
		StructuredHeaderPrefix + "not-json",
		StructuredHeaderPrefix + "e30",
		StructuredHeaderPrefix + "e30.sig.extra",
	}
	for _, token := range cases {
		_, err := verifier.Verify(token, core.SecretSetFromStrings("s1"), verifyAt)
		expectRejection(t, err, core.RejectionMalformed)
	}
}

func TestVerifier_SkipsSecretsOutsideRotationWindow(t *testing.T) {
	verifier := NewVerifier()
	token := aliceCompactPayload + aliceSignatureS2
	secrets := core.NewSecretSet(
		core.Secret{Value: []byte("s1"), Version: "v1"},
		core.Secret{
			Value:   []byte("s2"),
			Version: "v2",
			Window:  core.RotationWindow{NotAfter: verifyAt.Add(-time.Hour)},
		},
	)
	_, err := verifier.Verify(token, secrets, verifyAt)
	expectRejection(t, err, core.RejectionInvalidSignature)

	if _, err := verifier.Verify(token, secrets, verifyAt.Add(-2*time.Hour)); err != nil {
		t.Fatalf("expected secret inside its window to verify, got %v", err)
	}
}

func TestIssueCompact_MatchesKnownVector(t *testing.T) {
	token, err := IssueCompact("alice", time.Unix(1700000000, 0), []byte("s1"))
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if token != aliceCompactPayload+aliceSignatureS1 {
		t.Fatalf("unexpected compact token %q", token)
	}
	if _, err := IssueCompact("a,b", time.Unix(0, 0), []byte("s1")); err == nil {
		t.Fatalf("expected identity containing a comma to be rejected")
	}
}

func TestDetectFormat(t *testing.T) {
	if DetectFormat(StructuredHeaderPrefix+"x.y") != core.TokenFormatStructured {
		t.Fatalf("expected structured format")
	}
	if DetectFormat(aliceCompactPayload+aliceSignatureS1) != core.TokenFormatCompact {
		t.Fatalf("expected compact format")
	}
}
