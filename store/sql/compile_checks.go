package sqlstore

import "github.com/goliatone/go-subsync/core"

var (
	_ core.AccountStore           = (*AccountStore)(nil)
	_ core.AccountStore           = (*CachedAccountStore)(nil)
	_ core.UsageLedger            = (*UsageStore)(nil)
	_ core.MergeMarker            = (*MergeMarkerStore)(nil)
	_ core.StoreProvider          = (*RepositoryFactory)(nil)
	_ core.RepositoryStoreFactory = (*RepositoryFactory)(nil)
)
