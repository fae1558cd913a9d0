package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/goliatone/go-subsync/core"
)

type subscriptionClaims struct {
	Access string `json:"access"`
	jwt.RegisteredClaims
}

var structuredParser = jwt.NewParser(
	jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	jwt.WithoutClaimsValidation(),
	jwt.WithStrictDecoding(),
)

// verifyStructured tries each secret in order. The first secret whose HMAC
// matches is authoritative: a wrong purpose under it is final.
func verifyStructured(token string, secrets []core.Secret) (core.Claim, error) {
	if _, _, err := structuredParser.ParseUnverified(token, &subscriptionClaims{}); err != nil {
		return core.Claim{}, core.Reject(core.RejectionMalformed, core.TokenFormatStructured)
	}
	// A signature segment that is not canonical base64url cannot match any secret.
	if _, err := structuredParser.DecodeSegment(token[strings.LastIndex(token, ".")+1:]); err != nil {
		return core.Claim{}, core.Reject(core.RejectionInvalidSignature, core.TokenFormatStructured)
	}

	for _, secret := range secrets {
		key := secret.Value
		claims := &subscriptionClaims{}
		_, err := structuredParser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
			return key, nil
		})
		if err != nil {
			if errors.Is(err, jwt.ErrTokenSignatureInvalid) {
				continue
			}
			return core.Claim{}, core.Reject(core.RejectionMalformed, core.TokenFormatStructured)
		}
		return structuredClaim(claims)
	}
	return core.Claim{}, core.Reject(core.RejectionInvalidSignature, core.TokenFormatStructured)
}

func structuredClaim(claims *subscriptionClaims) (core.Claim, error) {
	if claims.Access != SubscriptionAccess {
		return core.Claim{}, core.Reject(core.RejectionWrongPurpose, core.TokenFormatStructured)
	}
	if strings.TrimSpace(claims.Subject) == "" || claims.IssuedAt == nil {
		return core.Claim{}, core.Reject(core.RejectionMalformed, core.TokenFormatStructured)
	}
	return core.Claim{
		ExternalIdentity: claims.Subject,
		IssuedAt:         claims.IssuedAt.Time.UTC(),
		Format:           core.TokenFormatStructured,
	}, nil
}

// IssueStructured signs an HS256 subscription token for identity.
func IssueStructured(identity string, issuedAt time.Time, secret []byte) (string, error) {
	return issueStructured(identity, SubscriptionAccess, issuedAt, secret)
}

func issueStructured(identity string, access string, issuedAt time.Time, secret []byte) (string, error) {
	if strings.TrimSpace(identity) == "" {
		return "", fmt.Errorf("auth: structured token identity is required")
	}
	if len(secret) == 0 {
		return "", fmt.Errorf("auth: structured token secret is required")
	}
	claims := subscriptionClaims{
		Access: access,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  identity,
			IssuedAt: jwt.NewNumericDate(issuedAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign structured token: %w", err)
	}
	return signed, nil
}
