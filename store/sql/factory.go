package sqlstore

import (
	"fmt"

	persistence "github.com/goliatone/go-persistence-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-subsync/core"
)

type RepositoryFactory struct {
	db    *bun.DB
	cache repositorycache.CacheService

	accountStore     *AccountStore
	cachedAccounts   *CachedAccountStore
	usageStore       *UsageStore
	mergeMarkerStore *MergeMarkerStore
}

type FactoryOption func(*RepositoryFactory)

// WithAccountCache serves account reads through cacheService.
func WithAccountCache(cacheService repositorycache.CacheService) FactoryOption {
	return func(f *RepositoryFactory) {
		f.cache = cacheService
	}
}

func NewRepositoryFactory(opts ...FactoryOption) *RepositoryFactory {
	factory := &RepositoryFactory{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(factory)
	}
	return factory
}

func NewRepositoryFactoryFromPersistence(client *persistence.Client, opts ...FactoryOption) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory(opts...)
	if _, err := factory.BuildStores(client); err != nil {
		return nil, err
	}
	return factory, nil
}

func NewRepositoryFactoryFromDB(db *bun.DB, opts ...FactoryOption) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory(opts...)
	if _, err := factory.BuildStores(db); err != nil {
		return nil, err
	}
	return factory, nil
}

func (f *RepositoryFactory) BuildStores(persistenceClient any) (core.StoreProvider, error) {
	if f == nil {
		return nil, fmt.Errorf("sqlstore: repository factory is nil")
	}
	if f.db == nil {
		db, err := resolveBunDB(persistenceClient)
		if err != nil {
			return nil, err
		}
		f.db = db
	}
	if f.accountStore != nil && f.usageStore != nil {
		return f, nil
	}
	if err := f.initStores(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *RepositoryFactory) AccountStore() core.AccountStore {
	if f == nil {
		return nil
	}
	if f.cachedAccounts != nil {
		return f.cachedAccounts
	}
	if f.accountStore == nil {
		return nil
	}
	return f.accountStore
}

func (f *RepositoryFactory) UsageLedger() core.UsageLedger {
	if f == nil || f.usageStore == nil {
		return nil
	}
	return f.usageStore
}

func (f *RepositoryFactory) MergeMarker() core.MergeMarker {
	if f == nil || f.mergeMarkerStore == nil {
		return nil
	}
	return f.mergeMarkerStore
}

func (f *RepositoryFactory) UsageStore() *UsageStore {
	if f == nil {
		return nil
	}
	return f.usageStore
}

func (f *RepositoryFactory) DB() *bun.DB {
	if f == nil {
		return nil
	}
	return f.db
}

func (f *RepositoryFactory) initStores() error {
	accountStore, err := NewAccountStore(f.db)
	if err != nil {
		return err
	}
	f.accountStore = accountStore
	if f.cache != nil {
		cached, err := NewCachedAccountStore(accountStore, f.cache)
		if err != nil {
			return err
		}
		f.cachedAccounts = cached
	}
	usageStore, err := NewUsageStore(f.db)
	if err != nil {
		return err
	}
	f.usageStore = usageStore
	mergeMarkerStore, err := NewMergeMarkerStore(f.db)
	if err != nil {
		return err
	}
	f.mergeMarkerStore = mergeMarkerStore
	return nil
}

func resolveBunDB(candidate any) (*bun.DB, error) {
	switch typed := candidate.(type) {
	case nil:
		return nil, fmt.Errorf("sqlstore: persistence client is required")
	case *bun.DB:
		return typed, nil
	case interface{ DB() *bun.DB }:
		db := typed.DB()
		if db == nil {
			return nil, fmt.Errorf("sqlstore: persistence client returned nil bun db")
		}
		return db, nil
	default:
		return nil, fmt.Errorf("sqlstore: unsupported persistence client type %T", candidate)
	}
}
