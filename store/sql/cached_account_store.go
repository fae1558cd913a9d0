package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	repositorycache "github.com/goliatone/go-repository-cache/cache"

	"github.com/goliatone/go-subsync/core"
)

const accountCacheKeyPrefix = "go-subsync::account::v1"

// CachedAccountStore serves repeated account reads of the authentication
// path from a cache. Misses are never cached, so a freshly created account is
// visible on the next read.
type CachedAccountStore struct {
	base  core.AccountStore
	cache repositorycache.CacheService
}

func NewCachedAccountStore(base core.AccountStore, cacheService repositorycache.CacheService) (*CachedAccountStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base account store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: account cache service is required")
	}
	return &CachedAccountStore{base: base, cache: cacheService}, nil
}

// AccountCacheKey builds go-subsync::account::v1::<kind>::<segments...> with
// each segment URL-path escaped.
func AccountCacheKey(kind string, segments ...string) string {
	parts := make([]string, 0, len(segments)+2)
	parts = append(parts, accountCacheKeyPrefix, kind)
	for _, segment := range segments {
		parts = append(parts, url.PathEscape(strings.TrimSpace(segment)))
	}
	return strings.Join(parts, "::")
}

func (s *CachedAccountStore) Exists(ctx context.Context, username string) (bool, error) {
	if s == nil || s.base == nil {
		return false, fmt.Errorf("sqlstore: cached account store is not configured")
	}
	return s.base.Exists(ctx, username)
}

func (s *CachedAccountStore) GetByUsername(ctx context.Context, username string) (core.Account, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.Account{}, fmt.Errorf("sqlstore: cached account store is not configured")
	}
	return repositorycache.GetOrFetch(ctx, s.cache, AccountCacheKey("username", username), func(ctx context.Context) (core.Account, error) {
		return s.base.GetByUsername(ctx, username)
	})
}

func (s *CachedAccountStore) FindByExternalIdentity(ctx context.Context, source string, externalIdentity string) (core.Account, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.Account{}, fmt.Errorf("sqlstore: cached account store is not configured")
	}
	key := AccountCacheKey("external", strings.ToLower(source), externalIdentity)
	return repositorycache.GetOrFetch(ctx, s.cache, key, func(ctx context.Context) (core.Account, error) {
		return s.base.FindByExternalIdentity(ctx, source, externalIdentity)
	})
}

func (s *CachedAccountStore) Create(ctx context.Context, in core.CreateAccountInput) (core.Account, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.Account{}, fmt.Errorf("sqlstore: cached account store is not configured")
	}
	created, err := s.base.Create(ctx, in)
	if err != nil {
		return core.Account{}, err
	}
	if err := s.cache.Delete(ctx, AccountCacheKey("username", created.Username)); err != nil {
		return core.Account{}, err
	}
	if err := s.cache.Delete(ctx, AccountCacheKey("external", created.Source, created.ExternalIdentity)); err != nil {
		return core.Account{}, err
	}
	return created, nil
}

func (s *CachedAccountStore) LinkExternalIdentity(ctx context.Context, username, source, externalIdentity string) (core.Account, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.Account{}, fmt.Errorf("sqlstore: cached account store is not configured")
	}
	linked, err := s.base.LinkExternalIdentity(ctx, username, source, externalIdentity)
	if err != nil {
		return core.Account{}, err
	}
	if err := s.cache.Delete(ctx, AccountCacheKey("username", linked.Username)); err != nil {
		return core.Account{}, err
	}
	if err := s.cache.Delete(ctx, AccountCacheKey("external", linked.Source, linked.ExternalIdentity)); err != nil {
		return core.Account{}, err
	}
	return linked, nil
}
