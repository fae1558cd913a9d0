package command

import (
	"context"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-subsync/core"
)

type MutatingService interface {
	MergeUsage(ctx context.Context, records []core.UsageRecord) (core.MergeReport, error)
	MigrateAccounts(ctx context.Context, batch core.MigrationBatch) (core.MigrationReport, error)
}

type UsageMergeEnqueuer interface {
	EnqueueUsageMerge(ctx context.Context, batchID string, records []core.UsageRecord) (*core.JobExecutionMessage, error)
}

type MergeUsageCommand struct {
	service MutatingService
}

func NewMergeUsageCommand(service MutatingService) *MergeUsageCommand {
	return &MergeUsageCommand{service: service}
}

func (c *MergeUsageCommand) Execute(ctx context.Context, msg MergeUsageMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: usage merge service is required")
	}
	out, err := c.service.MergeUsage(ctx, msg.Records)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type EnqueueUsageMergeCommand struct {
	service UsageMergeEnqueuer
}

func NewEnqueueUsageMergeCommand(service UsageMergeEnqueuer) *EnqueueUsageMergeCommand {
	return &EnqueueUsageMergeCommand{service: service}
}

func (c *EnqueueUsageMergeCommand) Execute(ctx context.Context, msg EnqueueUsageMergeMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: usage merge enqueuer is required")
	}
	out, err := c.service.EnqueueUsageMerge(ctx, msg.BatchID, msg.Records)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type MigrateAccountsCommand struct {
	service MutatingService
}

func NewMigrateAccountsCommand(service MutatingService) *MigrateAccountsCommand {
	return &MigrateAccountsCommand{service: service}
}

func (c *MigrateAccountsCommand) Execute(ctx context.Context, msg MigrateAccountsMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: account migration service is required")
	}
	out, err := c.service.MigrateAccounts(ctx, msg.Batch)
	// The report is stored even when the batch stops early.
	storeResult(ctx, out)
	return err
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
