package core

import glog "github.com/goliatone/go-logger/glog"

var (
	_ SubscriptionService = (*Service)(nil)
	_ MergeMarker         = (*MemoryMergeLedger)(nil)
	_ SecretSource        = staticSecretSource{}

	_ Logger         = glog.Nop()
	_ LoggerProvider = glog.ProviderFromLogger(glog.Nop())
)
