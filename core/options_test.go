package core

import (
	"context"
	"errors"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

type fixedConfigProvider struct {
	cfg Config
}

func (p *fixedConfigProvider) Load(context.Context, Config) (Config, error) {
	return p.cfg, nil
}

type fixedOptionsResolver struct {
	cfg Config
}

func (r *fixedOptionsResolver) Resolve(Config, Config, Config) (Config, error) {
	return r.cfg, nil
}

func TestNewService_DefaultDependencies(t *testing.T) {
	svc, err := NewService(Config{})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	deps := svc.Dependencies()
	if deps.Logger == nil {
		t.Fatalf("expected default logger")
	}
	if deps.LoggerProvider == nil {
		t.Fatalf("expected default logger provider")
	}
	if deps.ErrorFactory == nil {
		t.Fatalf("expected default error factory")
	}
	if deps.ErrorMapper == nil {
		t.Fatalf("expected default error mapper")
	}
	if deps.ConfigProvider == nil {
		t.Fatalf("expected default config provider")
	}
	if deps.OptionsResolver == nil {
		t.Fatalf("expected default options resolver")
	}
	if deps.SecretSource == nil {
		t.Fatalf("expected secret source built from config")
	}
	if deps.MergeMarker != nil {
		t.Fatalf("expected no merge marker unless usage.track_merges is set")
	}
	cfg := svc.Config()
	if cfg.ServiceName != "subsync" {
		t.Fatalf("expected default config service_name=subsync, got %q", cfg.ServiceName)
	}
	if cfg.Identity.MaxLength != DefaultIdentityMaxLength {
		t.Fatalf("expected default max length %d, got %d", DefaultIdentityMaxLength, cfg.Identity.MaxLength)
	}
	if cfg.ExistingAccountPolicy() != ExistingAccountRename {
		t.Fatalf("expected rename policy by default, got %q", cfg.ExistingAccountPolicy())
	}
}

func TestNewService_WithXOverrides(t *testing.T) {
	customLogger := stubLogger{}
	customProvider := stubLoggerProvider{logger: customLogger}
	customFactory := func(message string, category ...goerrors.Category) *goerrors.Error {
		return goerrors.New("custom:"+message, category...)
	}
	sentinel := errors.New("sentinel")
	customMapper := func(error) *goerrors.Error {
		return goerrors.Wrap(sentinel, goerrors.CategoryOperation, "mapped")
	}
	persistenceClient := &struct{ Name string }{Name: "persistence"}
	configProvider := &fixedConfigProvider{cfg: Config{ServiceName: "from-provider"}}
	resolvedCfg := DefaultConfig()
	resolvedCfg.ServiceName = "resolved"
	optionsResolver := &fixedOptionsResolver{cfg: resolvedCfg}
	secrets := testSecrets("override")
	marker := NewMemoryMergeLedger()
	enqueuer := &recordingEnqueuer{}

	svc, err := NewService(Config{ServiceName: "runtime"},
		WithLogger(customLogger),
		WithLoggerProvider(customProvider),
		WithErrorFactory(customFactory),
		WithErrorMapper(customMapper),
		WithSecretSource(secrets),
		WithPersistenceClient(persistenceClient),
		WithConfigProvider(configProvider),
		WithOptionsResolver(optionsResolver),
		WithMergeMarker(marker),
		WithJobEnqueuer(enqueuer),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	deps := svc.Dependencies()
	if deps.Logger != customLogger {
		t.Fatalf("expected custom logger override")
	}
	if resolved := deps.LoggerProvider.GetLogger("subsync.override"); resolved != customLogger {
		t.Fatalf("expected logger provider to resolve custom logger")
	}
	if deps.PersistenceClient != persistenceClient {
		t.Fatalf("expected custom persistence client override")
	}
	if deps.ConfigProvider != configProvider {
		t.Fatalf("expected custom config provider override")
	}
	if deps.OptionsResolver != optionsResolver {
		t.Fatalf("expected custom options resolver override")
	}
	if deps.SecretSource != secrets {
		t.Fatalf("expected custom secret source override")
	}
	if deps.MergeMarker != marker {
		t.Fatalf("expected custom merge marker override")
	}
	if deps.JobEnqueuer != enqueuer {
		t.Fatalf("expected custom job enqueuer override")
	}
	if got := svc.Config().ServiceName; got != "resolved" {
		t.Fatalf("expected options resolver output config, got %q", got)
	}
}

func TestNewService_ConfigLayeringPrecedence(t *testing.T) {
	provider := NewCfgxConfigProvider(mapRawLoader{values: map[string]any{
		"service_name": "from-config",
		"identity": map[string]any{
			"max_length": 24,
		},
		"usage": map[string]any{
			"bucket_size": "24h",
		},
	}})

	svc, err := NewService(Config{ServiceName: "from-runtime"}, WithConfigProvider(provider))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	cfg := svc.Config()
	if cfg.ServiceName != "from-runtime" {
		t.Fatalf("expected runtime value to override config/default, got %q", cfg.ServiceName)
	}
	if cfg.Identity.MaxLength != 24 {
		t.Fatalf("expected config layer max_length=24, got %d", cfg.Identity.MaxLength)
	}
	size, err := cfg.BucketDuration()
	if err != nil {
		t.Fatalf("bucket duration: %v", err)
	}
	if size != 24*time.Hour {
		t.Fatalf("expected config layer bucket size, got %s", size)
	}
}

func TestNewService_SecretsFromConfig(t *testing.T) {
	runtime := Config{
		Secrets: []SecretConfig{
			{Value: "current", Version: "v2"},
			{Value: "retired", Version: "v1", NotAfter: "2026-01-01T00:00:00Z"},
		},
	}
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	svc, err := NewService(runtime, WithLogger(stubLogger{}), WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	secrets := svc.Secrets()
	if secrets.Len() != 2 {
		t.Fatalf("expected two configured secrets, got %d", secrets.Len())
	}
	active := secrets.Active(now)
	if len(active) != 1 || string(active[0].Value) != "current" {
		t.Fatalf("expected only the current secret to be active, got %#v", active)
	}
}

func TestNewService_TrackMergesBuildsMemoryLedger(t *testing.T) {
	svc, err := NewService(Config{Usage: UsageConfig{TrackMerges: true}}, WithLogger(stubLogger{}))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if _, ok := svc.Dependencies().MergeMarker.(*MemoryMergeLedger); !ok {
		t.Fatalf("expected memory merge ledger, got %T", svc.Dependencies().MergeMarker)
	}
}

func TestNewService_StoresFromRepositoryFactory(t *testing.T) {
	stores := memoryStores{
		accounts: newMemoryAccountStore(),
		usage:    newMemoryUsageLedger(),
		marker:   NewMemoryMergeLedger(),
	}
	svc, err := NewService(Config{Usage: UsageConfig{TrackMerges: true}},
		WithLogger(stubLogger{}),
		WithRepositoryFactory(stores),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	deps := svc.Dependencies()
	if deps.AccountStore != stores.accounts {
		t.Fatalf("expected account store from repository factory")
	}
	if deps.UsageLedger != stores.usage {
		t.Fatalf("expected usage ledger from repository factory")
	}
	if deps.MergeMarker != stores.marker {
		t.Fatalf("expected merge marker from repository factory")
	}
}

func TestNewService_RejectsInvalidConfig(t *testing.T) {
	_, err := NewService(Config{Usage: UsageConfig{BucketSize: "soon"}}, WithLogger(stubLogger{}))
	if err == nil {
		t.Fatalf("expected invalid bucket size to fail")
	}
}

func TestYAMLConfigLoader_LoadRaw(t *testing.T) {
	loader := &YAMLConfigLoader{Data: []byte(`
service_name: subsync-test
identity:
  max_length: 20
secrets:
  - value: s1
    version: v1
  - value: s2
    version: v2
    not_before: "2026-01-01T00:00:00Z"
migration:
  existing_accounts: skip
`)}

	svc, err := NewService(Config{}, WithLogger(stubLogger{}), WithConfigProvider(NewCfgxConfigProvider(loader)))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	cfg := svc.Config()
	if cfg.ServiceName != "subsync-test" {
		t.Fatalf("expected yaml service name, got %q", cfg.ServiceName)
	}
	if cfg.Identity.MaxLength != 20 {
		t.Fatalf("expected yaml max_length, got %d", cfg.Identity.MaxLength)
	}
	if cfg.ExistingAccountPolicy() != ExistingAccountSkip {
		t.Fatalf("expected skip policy, got %q", cfg.ExistingAccountPolicy())
	}
	if len(cfg.Secrets) != 2 || cfg.Secrets[1].Version != "v2" {
		t.Fatalf("expected yaml secrets, got %#v", cfg.Secrets)
	}
}

func TestYAMLConfigLoader_RejectsNonMapping(t *testing.T) {
	loader := &YAMLConfigLoader{Data: []byte("- a\n- b\n")}
	if _, err := loader.LoadRaw(context.Background()); err == nil {
		t.Fatalf("expected non-mapping yaml to fail")
	}
}
