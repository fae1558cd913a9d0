package command

import (
	"fmt"
	"strings"

	"github.com/goliatone/go-subsync/core"
)

const (
	TypeMergeUsage        = "subsync.command.usage.merge"
	TypeEnqueueUsageMerge = "subsync.command.usage.enqueue"
	TypeMigrateAccounts   = "subsync.command.accounts.migrate"
)

type MergeUsageMessage struct {
	Records []core.UsageRecord
}

func (MergeUsageMessage) Type() string { return TypeMergeUsage }

func (m MergeUsageMessage) Validate() error {
	return validateUsageRecords(m.Records)
}

type EnqueueUsageMergeMessage struct {
	BatchID string
	Records []core.UsageRecord
}

func (EnqueueUsageMergeMessage) Type() string { return TypeEnqueueUsageMerge }

func (m EnqueueUsageMergeMessage) Validate() error {
	if strings.TrimSpace(m.BatchID) == "" {
		return commandValidationError("batch_id", "batch id is required")
	}
	return validateUsageRecords(m.Records)
}

type MigrateAccountsMessage struct {
	Batch core.MigrationBatch
}

func (MigrateAccountsMessage) Type() string { return TypeMigrateAccounts }

func (m MigrateAccountsMessage) Validate() error {
	if len(m.Batch.Accounts) == 0 {
		return commandValidationError("accounts", "at least one account is required")
	}
	for i, account := range m.Batch.Accounts {
		if strings.TrimSpace(account.ExternalIdentity) == "" {
			return commandValidationError(
				fmt.Sprintf("accounts[%d].external_identity", i),
				"external identity is required",
			)
		}
		for j, record := range account.Usage {
			if strings.TrimSpace(record.Key.Scope.ID) == "" {
				return commandValidationError(
					fmt.Sprintf("accounts[%d].usage[%d].scope_id", i, j),
					"scope id is required",
				)
			}
		}
	}
	return nil
}

func validateUsageRecords(records []core.UsageRecord) error {
	if len(records) == 0 {
		return commandValidationError("records", "at least one usage record is required")
	}
	for i, record := range records {
		if err := record.Key.Scope.Validate(); err != nil {
			return commandWrapValidation(err, fmt.Sprintf("command: usage record %d", i))
		}
		if record.Key.Bucket.IsZero() {
			return commandValidationError(fmt.Sprintf("records[%d].bucket", i), "bucket is required")
		}
	}
	return nil
}
