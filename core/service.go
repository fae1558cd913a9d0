package core

import (
	"context"
	"fmt"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
)

type Service struct {
	config            Config
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
	bucketSize        time.Duration
	now               func() time.Time
}

type ServiceDependencies struct {
	Logger            Logger
	LoggerProvider    LoggerProvider
	MetricsRecorder   MetricsRecorder
	ErrorFactory      ErrorFactory
	ErrorMapper       ErrorMapper
	PersistenceClient any
	RepositoryFactory any
	ConfigProvider    ConfigProvider
	OptionsResolver   OptionsResolver
	TokenVerifier     TokenVerifier
	IdentityResolver  IdentityResolver
	UsageReconciler   UsageReconciler
	SecretSource      SecretSource
	AccountStore      AccountStore
	UsageLedger       UsageLedger
	MergeMarker       MergeMarker
	JobEnqueuer       JobEnqueuer
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	builder := defaultServiceBuilder(cfg)
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&builder)
	}

	provider, logger := glog.Resolve("subsync", builder.loggerProvider, builder.logger)
	logger = glog.Ensure(logger)
	if provider != nil {
		if named := provider.GetLogger("subsync"); named != nil {
			logger = glog.Ensure(named)
		}
	}

	if builder.errorFactory == nil {
		builder.errorFactory = goerrors.New
	}
	if builder.metricsRecorder == nil {
		builder.metricsRecorder = NopMetricsRecorder{}
	}
	if builder.errorMapper == nil {
		builder.errorMapper = defaultErrorMapper
	}
	if builder.configProvider == nil {
		builder.configProvider = NewCfgxConfigProvider(nil)
	}
	if builder.optionsResolver == nil {
		builder.optionsResolver = GoOptionsResolver{}
	}
	if builder.now == nil {
		builder.now = func() time.Time {
			return time.Now().UTC()
		}
	}

	defaults := DefaultConfig()
	loaded, err := builder.configProvider.Load(context.Background(), defaults)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	finalConfig, err := builder.optionsResolver.Resolve(defaults, loaded, builder.runtimeConfig)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	bucketSize, err := finalConfig.BucketDuration()
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}

	if err := builder.applyComponentDefaults(context.Background(), finalConfig); err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	if builder.secretSource == nil {
		secrets, secretErr := finalConfig.SecretSet()
		if secretErr != nil {
			return nil, mapBuildError(builder.errorMapper, secretErr)
		}
		builder.secretSource = staticSecretSource{secrets: secrets}
	}

	if builder.repositoryFactory != nil {
		var stores StoreProvider
		if storeFactory, ok := builder.repositoryFactory.(RepositoryStoreFactory); ok {
			built, buildErr := storeFactory.BuildStores(builder.persistenceClient)
			if buildErr != nil {
				return nil, mapBuildError(builder.errorMapper, buildErr)
			}
			stores = built
		} else if provider, ok := builder.repositoryFactory.(StoreProvider); ok {
			stores = provider
		}
		if stores != nil {
			if builder.accountStore == nil {
				builder.accountStore = stores.AccountStore()
			}
			if builder.usageLedger == nil {
				builder.usageLedger = stores.UsageLedger()
			}
			if builder.mergeMarker == nil && finalConfig.Usage.TrackMerges {
				builder.mergeMarker = stores.MergeMarker()
			}
		}
	}
	if builder.mergeMarker == nil && finalConfig.Usage.TrackMerges {
		builder.mergeMarker = NewMemoryMergeLedger()
	}

	return &Service{
		config:            finalConfig,
		logger:            logger,
		loggerProvider:    provider,
		metricsRecorder:   builder.metricsRecorder,
		errorFactory:      builder.errorFactory,
		errorMapper:       builder.errorMapper,
		persistenceClient: builder.persistenceClient,
		repositoryFactory: builder.repositoryFactory,
		configProvider:    builder.configProvider,
		optionsResolver:   builder.optionsResolver,
		tokenVerifier:     builder.tokenVerifier,
		identityResolver:  builder.identityResolver,
		usageReconciler:   builder.usageReconciler,
		secretSource:      builder.secretSource,
		accountStore:      builder.accountStore,
		usageLedger:       builder.usageLedger,
		mergeMarker:       builder.mergeMarker,
		jobEnqueuer:       builder.jobEnqueuer,
		bucketSize:        bucketSize,
		now:               builder.now,
	}, nil
}

func (b *serviceBuilder) applyComponentDefaults(ctx context.Context, cfg Config) error {
	defaults := b.componentDefaults
	if b.tokenVerifier == nil && defaults.TokenVerifier != nil {
		b.tokenVerifier = defaults.TokenVerifier(cfg)
	}
	if b.identityResolver == nil && defaults.IdentityResolver != nil {
		b.identityResolver = defaults.IdentityResolver(cfg)
	}
	if b.usageReconciler == nil && defaults.UsageReconciler != nil {
		b.usageReconciler = defaults.UsageReconciler(cfg)
	}
	if b.secretSource == nil && defaults.SecretSource != nil {
		source, err := defaults.SecretSource(ctx, cfg)
		if err != nil {
			return err
		}
		b.secretSource = source
	}
	return nil
}

func Setup(cfg Config, opts ...Option) (*Service, error) {
	return NewService(cfg, opts...)
}

func mapBuildError(mapper ErrorMapper, err error) error {
	if err == nil {
		return nil
	}
	if mapper == nil {
		return err
	}
	mapped := mapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}

func (s *Service) Config() Config {
	if s == nil {
		return Config{}
	}
	return s.config
}

func (s *Service) Dependencies() ServiceDependencies {
	if s == nil {
		return ServiceDependencies{}
	}
	return ServiceDependencies{
		Logger:            s.logger,
		LoggerProvider:    s.loggerProvider,
		MetricsRecorder:   s.metricsRecorder,
		ErrorFactory:      s.errorFactory,
		ErrorMapper:       s.errorMapper,
		PersistenceClient: s.persistenceClient,
		RepositoryFactory: s.repositoryFactory,
		ConfigProvider:    s.configProvider,
		OptionsResolver:   s.optionsResolver,
		TokenVerifier:     s.tokenVerifier,
		IdentityResolver:  s.identityResolver,
		UsageReconciler:   s.usageReconciler,
		SecretSource:      s.secretSource,
		AccountStore:      s.accountStore,
		UsageLedger:       s.usageLedger,
		MergeMarker:       s.mergeMarker,
		JobEnqueuer:       s.jobEnqueuer,
	}
}

// Secrets returns the secret snapshot a verification started now would use.
func (s *Service) Secrets() SecretSet {
	if s == nil || s.secretSource == nil {
		return SecretSet{}
	}
	return s.secretSource.Snapshot(s.currentTime())
}

func (s *Service) currentTime() time.Time {
	if s == nil || s.now == nil {
		return time.Now().UTC()
	}
	return s.now().UTC()
}

func (s *Service) mapError(err error) error {
	if err == nil {
		return nil
	}
	if s == nil || s.errorMapper == nil {
		return err
	}
	mapped := s.errorMapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}

func dependencyError(name string) error {
	return fmt.Errorf("core: %s is not configured", name)
}

type staticSecretSource struct {
	secrets SecretSet
}

func (s staticSecretSource) Snapshot(time.Time) SecretSet {
	return s.secrets
}
