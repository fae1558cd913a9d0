package command

import gocmd "github.com/goliatone/go-command"

var (
	_ gocmd.Commander[MergeUsageMessage]        = (*MergeUsageCommand)(nil)
	_ gocmd.Commander[EnqueueUsageMergeMessage] = (*EnqueueUsageMergeCommand)(nil)
	_ gocmd.Commander[MigrateAccountsMessage]   = (*MigrateAccountsCommand)(nil)
)
