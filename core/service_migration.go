package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// MigrateAccounts carries a batch of source accounts into the target store.
// Store and oracle failures stop the batch; the report covers the accounts
// handled so far.
func (s *Service) MigrateAccounts(ctx context.Context, batch MigrationBatch) (report MigrationReport, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"batch_id": batch.ID,
		"accounts": len(batch.Accounts),
	}
	defer func() {
		fields["migrated"] = report.Count(AccountMigrated)
		fields["renamed"] = report.Count(AccountRenamed)
		fields["updated"] = report.Count(AccountUpdated)
		fields["reused"] = report.Count(AccountReused)
		fields["skipped"] = report.Count(AccountSkipped)
		fields["unresolvable"] = report.Count(AccountUnresolvable)
		fields["usage_processed"] = report.Usage.Processed
		s.observeOperation(ctx, startedAt, "migrate_accounts", err, fields)
	}()

	report.BatchID = strings.TrimSpace(batch.ID)
	if s == nil || s.identityResolver == nil {
		err = s.mapError(dependencyError("identity resolver"))
		return report, err
	}
	if s.accountStore == nil {
		err = s.mapError(dependencyError("account store"))
		return report, err
	}

	source := strings.TrimSpace(strings.ToLower(batch.Source))
	if source == "" {
		source = s.config.MigrationSource()
	}
	fields["source"] = source
	policy := s.config.ExistingAccountPolicy()

	for _, sourceAccount := range batch.Accounts {
		migration, migrateErr := s.migrateAccount(ctx, source, policy, sourceAccount)
		if migrateErr != nil {
			err = s.mapError(migrateErr)
			return report, err
		}
		report.Accounts = append(report.Accounts, migration)
		report.Usage = report.Usage.Add(migration.Usage)
	}
	return report, nil
}

func (s *Service) migrateAccount(
	ctx context.Context,
	source string,
	policy ExistingAccountPolicy,
	in SourceAccount,
) (AccountMigration, error) {
	external := strings.TrimSpace(in.ExternalIdentity)
	migration := AccountMigration{ExternalIdentity: external}

	account, err := s.accountStore.FindByExternalIdentity(ctx, source, external)
	switch {
	case err == nil:
		migration.Identity = account.Username
		migration.Outcome = AccountReused
	case errors.Is(err, ErrAccountNotFound):
		identity, outcome, resolveErr := s.targetIdentity(ctx, policy, external)
		if resolveErr != nil {
			return migration, resolveErr
		}
		migration.Identity = identity
		migration.Outcome = outcome
		switch outcome {
		case AccountSkipped, AccountUnresolvable:
			return migration, nil
		case AccountUpdated:
			account, err = s.accountStore.LinkExternalIdentity(ctx, identity, source, external)
			if errors.Is(err, ErrAccountLinked) {
				migration.Outcome = AccountSkipped
				return migration, nil
			}
		default:
			account, err = s.accountStore.Create(ctx, CreateAccountInput{
				Username:         identity,
				ExternalIdentity: external,
				Source:           source,
			})
		}
		if err != nil {
			return migration, err
		}
	default:
		return migration, err
	}

	if len(in.Usage) == 0 {
		return migration, nil
	}
	usage, err := s.mergeUsage(ctx, accountUsageRecords(account, in.Usage))
	migration.Usage = usage
	if err != nil {
		return migration, fmt.Errorf("core: merge usage for %q: %w", migration.Identity, err)
	}
	return migration, nil
}

func (s *Service) targetIdentity(ctx context.Context, policy ExistingAccountPolicy, external string) (string, AccountOutcome, error) {
	base := s.identityResolver.Normalize(external)
	if policy == ExistingAccountSkip || policy == ExistingAccountUpdate {
		if base == "" || utf8.RuneCountInString(base) > s.config.Identity.MaxLength {
			return "", AccountUnresolvable, nil
		}
		exists, err := s.accountStore.Exists(ctx, base)
		if err != nil {
			return "", "", err
		}
		switch {
		case !exists:
			return base, AccountMigrated, nil
		case policy == ExistingAccountUpdate:
			return base, AccountUpdated, nil
		default:
			return base, AccountSkipped, nil
		}
	}

	identity, ok, err := s.identityResolver.Resolve(ctx, external, s.accountStore.Exists)
	if err != nil {
		return "", "", err
	}
	if !ok {
		return "", AccountUnresolvable, nil
	}
	if identity == base {
		return identity, AccountMigrated, nil
	}
	return identity, AccountRenamed, nil
}

// accountUsageRecords scopes per-user records, whose scope id names only the
// node, to the target account.
func accountUsageRecords(account Account, records []UsageRecord) []UsageRecord {
	out := make([]UsageRecord, 0, len(records))
	for _, record := range records {
		scopeType := strings.TrimSpace(strings.ToLower(record.Key.Scope.Type))
		if scopeType == "" || scopeType == string(UsageScopeUserNode) {
			record.Key.Scope = UserNodeScope(account.ID, record.Key.Scope.ID)
		}
		out = append(out, record)
	}
	return out
}
