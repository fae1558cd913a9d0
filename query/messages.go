package query

import "strings"

const (
	TypeAuthenticate    = "subsync.query.token.authenticate"
	TypeResolveIdentity = "subsync.query.identity.resolve"
	TypeSecretVersions  = "subsync.query.secrets.versions"
)

type AuthenticateMessage struct {
	Token string
}

func (AuthenticateMessage) Type() string { return TypeAuthenticate }

// Validate only checks presence; length and format are left to the verifier.
func (m AuthenticateMessage) Validate() error {
	if m.Token == "" {
		return queryValidationError("token", "token is required")
	}
	return nil
}

type ResolveIdentityMessage struct {
	ExternalIdentity string
}

func (ResolveIdentityMessage) Type() string { return TypeResolveIdentity }

func (m ResolveIdentityMessage) Validate() error {
	if strings.TrimSpace(m.ExternalIdentity) == "" {
		return queryValidationError("external_identity", "external identity is required")
	}
	return nil
}

type SecretVersionsMessage struct{}

func (SecretVersionsMessage) Type() string { return TypeSecretVersions }

func (SecretVersionsMessage) Validate() error { return nil }

// SecretVersions lists the versions of the secrets currently accepted. Secret
// values are never returned.
type SecretVersions struct {
	Versions []string
}
