package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-config/cfgx"
	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	opts "github.com/goliatone/go-options"
)

type ErrorFactory func(message string, category ...goerrors.Category) *goerrors.Error

type ErrorMapper func(err error) *goerrors.Error

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

type serviceBuilder struct {
	runtimeConfig     Config
	logger            Logger
	loggerProvider    LoggerProvider
	metricsRecorder   MetricsRecorder
	errorFactory      ErrorFactory
	errorMapper       ErrorMapper
	persistenceClient any
	repositoryFactory any
	configProvider    ConfigProvider
	optionsResolver   OptionsResolver
	tokenVerifier     TokenVerifier
	identityResolver  IdentityResolver
	usageReconciler   UsageReconciler
	secretSource      SecretSource
	accountStore      AccountStore
	usageLedger       UsageLedger
	mergeMarker       MergeMarker
	jobEnqueuer       JobEnqueuer
	componentDefaults ComponentDefaults
	now               func() time.Time
}

type Option func(*serviceBuilder)

// ComponentDefaults builds the components no option supplied explicitly.
// Each factory receives the fully resolved configuration.
type ComponentDefaults struct {
	TokenVerifier    func(cfg Config) TokenVerifier
	IdentityResolver func(cfg Config) IdentityResolver
	UsageReconciler  func(cfg Config) UsageReconciler
	SecretSource     func(ctx context.Context, cfg Config) (SecretSource, error)
}

func WithComponentDefaults(defaults ComponentDefaults) Option {
	return func(b *serviceBuilder) {
		b.componentDefaults = defaults
	}
}

// ComposeOptions applies opts in order as a single option.
func ComposeOptions(opts ...Option) Option {
	return func(b *serviceBuilder) {
		for _, opt := range opts {
			if opt != nil {
				opt(b)
			}
		}
	}
}

func WithLogger(logger Logger) Option {
	return func(b *serviceBuilder) {
		b.logger = logger
	}
}

func WithLoggerProvider(provider LoggerProvider) Option {
	return func(b *serviceBuilder) {
		b.loggerProvider = provider
	}
}

func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(b *serviceBuilder) {
		b.metricsRecorder = recorder
	}
}

func WithErrorFactory(factory ErrorFactory) Option {
	return func(b *serviceBuilder) {
		b.errorFactory = factory
	}
}

func WithErrorMapper(mapper ErrorMapper) Option {
	return func(b *serviceBuilder) {
		b.errorMapper = mapper
	}
}

func WithPersistenceClient(client any) Option {
	return func(b *serviceBuilder) {
		b.persistenceClient = client
	}
}

func WithRepositoryFactory(factory any) Option {
	return func(b *serviceBuilder) {
		b.repositoryFactory = factory
	}
}

func WithConfigProvider(provider ConfigProvider) Option {
	return func(b *serviceBuilder) {
		b.configProvider = provider
	}
}

func WithOptionsResolver(resolver OptionsResolver) Option {
	return func(b *serviceBuilder) {
		b.optionsResolver = resolver
	}
}

func WithTokenVerifier(verifier TokenVerifier) Option {
	return func(b *serviceBuilder) {
		b.tokenVerifier = verifier
	}
}

func WithIdentityResolver(resolver IdentityResolver) Option {
	return func(b *serviceBuilder) {
		b.identityResolver = resolver
	}
}

func WithUsageReconciler(reconciler UsageReconciler) Option {
	return func(b *serviceBuilder) {
		b.usageReconciler = reconciler
	}
}

// WithSecretSource overrides the secrets taken from configuration.
func WithSecretSource(source SecretSource) Option {
	return func(b *serviceBuilder) {
		b.secretSource = source
	}
}

func WithAccountStore(store AccountStore) Option {
	return func(b *serviceBuilder) {
		b.accountStore = store
	}
}

func WithUsageLedger(ledger UsageLedger) Option {
	return func(b *serviceBuilder) {
		b.usageLedger = ledger
	}
}

func WithMergeMarker(marker MergeMarker) Option {
	return func(b *serviceBuilder) {
		b.mergeMarker = marker
	}
}

func WithJobEnqueuer(enqueuer JobEnqueuer) Option {
	return func(b *serviceBuilder) {
		b.jobEnqueuer = enqueuer
	}
}

func WithClock(now func() time.Time) Option {
	return func(b *serviceBuilder) {
		b.now = now
	}
}

func defaultServiceBuilder(runtime Config) serviceBuilder {
	loggerProvider, logger := glog.Resolve("subsync", nil, nil)
	return serviceBuilder{
		runtimeConfig:   runtime,
		loggerProvider:  loggerProvider,
		logger:          logger,
		metricsRecorder: NopMetricsRecorder{},
		errorFactory:    goerrors.New,
		errorMapper:     defaultErrorMapper,
		configProvider:  NewCfgxConfigProvider(nil),
		optionsResolver: GoOptionsResolver{},
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func defaultErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}
	return serviceErrorMapper(err)
}

type staticRawConfigLoader struct {
	Values map[string]any
}

func (l staticRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.Values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.Values))
	for key, value := range l.Values {
		out[key] = value
	}
	return out, nil
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = staticRawConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	defaultLayer := configToLayerMap(defaults, true)
	loadedLayer := configToLayerMap(loaded, false)
	runtimeLayer := configToLayerMap(runtime, false)

	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			defaultLayer,
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			loadedLayer,
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			runtimeLayer,
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	if err := resolved.Validate(); err != nil {
		return Config{}, err
	}
	return resolved, nil
}

func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	layer := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.ServiceName) != "" {
		layer["service_name"] = cfg.ServiceName
	}
	if includeZero || cfg.Identity.MaxLength > 0 {
		layer["identity"] = map[string]any{
			"max_length": cfg.Identity.MaxLength,
		}
	}

	usage := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.Usage.BucketSize) != "" {
		usage["bucket_size"] = cfg.Usage.BucketSize
	}
	if includeZero || cfg.Usage.TrackMerges {
		usage["track_merges"] = cfg.Usage.TrackMerges
	}
	if len(usage) > 0 {
		layer["usage"] = usage
	}

	if includeZero || len(cfg.Secrets) > 0 {
		secrets := make([]any, 0, len(cfg.Secrets))
		for _, secret := range cfg.Secrets {
			secrets = append(secrets, map[string]any{
				"value":      secret.Value,
				"version":    secret.Version,
				"not_before": secret.NotBefore,
				"not_after":  secret.NotAfter,
			})
		}
		layer["secrets"] = secrets
	}

	migration := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.Migration.Source) != "" {
		migration["source"] = cfg.Migration.Source
	}
	if includeZero || strings.TrimSpace(cfg.Migration.ExistingAccounts) != "" {
		migration["existing_accounts"] = cfg.Migration.ExistingAccounts
	}
	if len(migration) > 0 {
		layer["migration"] = migration
	}
	return layer
}
