package subsync

import (
	"context"

	persistence "github.com/goliatone/go-persistence-bun"

	"github.com/goliatone/go-subsync/auth"
	"github.com/goliatone/go-subsync/core"
	"github.com/goliatone/go-subsync/identity"
	"github.com/goliatone/go-subsync/security"
	sqlstore "github.com/goliatone/go-subsync/store/sql"
	"github.com/goliatone/go-subsync/usage"
)

type Config = core.Config

type Option = core.Option

type Service = core.Service

type ServiceDependencies = core.ServiceDependencies

type Claim = core.Claim
type Authentication = core.Authentication
type SecretSet = core.SecretSet
type Secret = core.Secret
type UsageRecord = core.UsageRecord
type UsageKey = core.UsageKey
type UsageScope = core.UsageScope
type UsageCounters = core.UsageCounters
type MergeReport = core.MergeReport
type MigrationBatch = core.MigrationBatch
type MigrationReport = core.MigrationReport
type SourceAccount = core.SourceAccount

type SecretOpener = security.SecretOpener

var (
	WithLogger            = core.WithLogger
	WithLoggerProvider    = core.WithLoggerProvider
	WithMetricsRecorder   = core.WithMetricsRecorder
	WithErrorFactory      = core.WithErrorFactory
	WithErrorMapper       = core.WithErrorMapper
	WithPersistenceClient = core.WithPersistenceClient
	WithRepositoryFactory = core.WithRepositoryFactory
	WithConfigProvider    = core.WithConfigProvider
	WithOptionsResolver   = core.WithOptionsResolver
	WithTokenVerifier     = core.WithTokenVerifier
	WithIdentityResolver  = core.WithIdentityResolver
	WithUsageReconciler   = core.WithUsageReconciler
	WithSecretSource      = core.WithSecretSource
	WithAccountStore      = core.WithAccountStore
	WithUsageLedger       = core.WithUsageLedger
	WithMergeMarker       = core.WithMergeMarker
	WithJobEnqueuer       = core.WithJobEnqueuer
	WithClock             = core.WithClock
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}

// DefaultComponents wires the built-in verifier, resolver, reconciler and a
// rotating secret store seeded from configuration. Sealed secrets are opened
// with opener, which may be nil when no secret is sealed.
func DefaultComponents(opener SecretOpener) core.ComponentDefaults {
	return core.ComponentDefaults{
		TokenVerifier: func(core.Config) core.TokenVerifier {
			return auth.NewVerifier()
		},
		IdentityResolver: func(cfg core.Config) core.IdentityResolver {
			return identity.NewResolver(identity.Config{MaxLength: cfg.Identity.MaxLength})
		},
		UsageReconciler: func(core.Config) core.UsageReconciler {
			return usage.NewReconciler()
		},
		SecretSource: func(ctx context.Context, cfg core.Config) (core.SecretSource, error) {
			return security.SecretsFromConfig(ctx, cfg, opener)
		},
	}
}

// WithSecretOpener replaces the default components with ones that open
// sealed configuration secrets through opener.
func WithSecretOpener(opener SecretOpener) Option {
	return core.WithComponentDefaults(DefaultComponents(opener))
}

// WithSQLStores backs accounts, usage and merge markers with the SQL stores
// built on client.
func WithSQLStores(client *persistence.Client, opts ...sqlstore.FactoryOption) Option {
	return core.ComposeOptions(
		core.WithPersistenceClient(client),
		core.WithRepositoryFactory(sqlstore.NewRepositoryFactory(opts...)),
	)
}

// NewService builds a service with the default components. Explicit options
// override them.
func NewService(cfg Config, opts ...Option) (*Service, error) {
	all := make([]Option, 0, len(opts)+1)
	all = append(all, core.WithComponentDefaults(DefaultComponents(nil)))
	all = append(all, opts...)
	return core.NewService(cfg, all...)
}

func Setup(cfg Config, opts ...Option) (*Service, error) {
	return NewService(cfg, opts...)
}
