package query

import (
	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-subsync/core"
)

var (
	_ gocmd.Querier[AuthenticateMessage, core.Authentication] = (*AuthenticateQuery)(nil)
	_ gocmd.Querier[ResolveIdentityMessage, string]            = (*ResolveIdentityQuery)(nil)
	_ gocmd.Querier[SecretVersionsMessage, SecretVersions]     = (*SecretVersionsQuery)(nil)
)
