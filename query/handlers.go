package query

import (
	"context"

	"github.com/goliatone/go-subsync/core"
)

type Authenticator interface {
	Authenticate(ctx context.Context, token string) (core.Authentication, error)
}

type IdentityReader interface {
	ResolveIdentity(ctx context.Context, externalIdentity string) (string, error)
}

type SecretReader interface {
	Secrets() core.SecretSet
}

type AuthenticateQuery struct {
	service Authenticator
}

func NewAuthenticateQuery(service Authenticator) *AuthenticateQuery {
	return &AuthenticateQuery{service: service}
}

func (q *AuthenticateQuery) Query(ctx context.Context, msg AuthenticateMessage) (core.Authentication, error) {
	if q == nil || q.service == nil {
		return core.Authentication{}, queryDependencyError("query: authenticator is required")
	}
	return q.service.Authenticate(ctx, msg.Token)
}

type ResolveIdentityQuery struct {
	reader IdentityReader
}

func NewResolveIdentityQuery(reader IdentityReader) *ResolveIdentityQuery {
	return &ResolveIdentityQuery{reader: reader}
}

func (q *ResolveIdentityQuery) Query(ctx context.Context, msg ResolveIdentityMessage) (string, error) {
	if q == nil || q.reader == nil {
		return "", queryDependencyError("query: identity reader is required")
	}
	return q.reader.ResolveIdentity(ctx, msg.ExternalIdentity)
}

type SecretVersionsQuery struct {
	reader SecretReader
}

func NewSecretVersionsQuery(reader SecretReader) *SecretVersionsQuery {
	return &SecretVersionsQuery{reader: reader}
}

func (q *SecretVersionsQuery) Query(_ context.Context, _ SecretVersionsMessage) (SecretVersions, error) {
	if q == nil || q.reader == nil {
		return SecretVersions{}, queryDependencyError("query: secret reader is required")
	}
	return SecretVersions{Versions: q.reader.Secrets().Versions()}, nil
}
