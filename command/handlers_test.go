package command

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	gocmd "github.com/goliatone/go-command"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-subsync/core"
)

type stubMutatingService struct {
	mergeUsageFn      func(context.Context, []core.UsageRecord) (core.MergeReport, error)
	migrateAccountsFn func(context.Context, core.MigrationBatch) (core.MigrationReport, error)
	enqueueFn         func(context.Context, string, []core.UsageRecord) (*core.JobExecutionMessage, error)
}

func (s stubMutatingService) MergeUsage(ctx context.Context, records []core.UsageRecord) (core.MergeReport, error) {
	if s.mergeUsageFn == nil {
		return core.MergeReport{}, nil
	}
	return s.mergeUsageFn(ctx, records)
}

func (s stubMutatingService) MigrateAccounts(ctx context.Context, batch core.MigrationBatch) (core.MigrationReport, error) {
	if s.migrateAccountsFn == nil {
		return core.MigrationReport{}, nil
	}
	return s.migrateAccountsFn(ctx, batch)
}

func (s stubMutatingService) EnqueueUsageMerge(
	ctx context.Context,
	batchID string,
	records []core.UsageRecord,
) (*core.JobExecutionMessage, error) {
	if s.enqueueFn == nil {
		return nil, nil
	}
	return s.enqueueFn(ctx, batchID, records)
}

func sampleUsageRecord() core.UsageRecord {
	return core.UsageRecord{
		Key: core.UsageKey{
			Bucket: time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC),
			Scope:  core.UsageScope{Type: string(core.UsageScopeNode), ID: "node-1"},
		},
		Counters: core.UsageCounters{Uplink: 10, Downlink: 20, UsedTraffic: 30},
		SourceID: "src-1",
	}
}

func TestMergeUsageCommand_ExecuteDelegatesAndStoresResult(t *testing.T) {
	expected := core.MergeReport{Processed: 1, Inserted: 1}
	called := false
	svc := stubMutatingService{
		mergeUsageFn: func(_ context.Context, records []core.UsageRecord) (core.MergeReport, error) {
			called = true
			if len(records) != 1 || records[0].SourceID != "src-1" {
				t.Fatalf("unexpected records: %#v", records)
			}
			return expected, nil
		},
	}

	cmd := NewMergeUsageCommand(svc)
	collector := gocmd.NewResult[core.MergeReport]()
	ctx := gocmd.ContextWithResult(context.Background(), collector)
	if err := cmd.Execute(ctx, MergeUsageMessage{Records: []core.UsageRecord{sampleUsageRecord()}}); err != nil {
		t.Fatalf("execute merge usage: %v", err)
	}
	if !called {
		t.Fatalf("expected merge usage invocation")
	}
	result, ok := collector.Load()
	if !ok {
		t.Fatalf("expected result to be stored")
	}
	if result != expected {
		t.Fatalf("unexpected result: %#v", result)
	}
}

func TestMigrateAccountsCommand_StoresPartialReportOnError(t *testing.T) {
	partial := core.MigrationReport{
		BatchID: "b1",
		Accounts: []core.AccountMigration{
			{ExternalIdentity: "alice", Identity: "alice", Outcome: core.AccountMigrated},
		},
	}
	boom := errors.New("store unavailable")
	svc := stubMutatingService{
		migrateAccountsFn: func(_ context.Context, batch core.MigrationBatch) (core.MigrationReport, error) {
			if batch.ID != "b1" {
				t.Fatalf("unexpected batch: %#v", batch)
			}
			return partial, boom
		},
	}

	cmd := NewMigrateAccountsCommand(svc)
	collector := gocmd.NewResult[core.MigrationReport]()
	ctx := gocmd.ContextWithResult(context.Background(), collector)
	err := cmd.Execute(ctx, MigrateAccountsMessage{Batch: core.MigrationBatch{
		ID:       "b1",
		Accounts: []core.SourceAccount{{ExternalIdentity: "alice"}, {ExternalIdentity: "bob"}},
	}})
	if !errors.Is(err, boom) {
		t.Fatalf("expected store error, got %v", err)
	}
	result, ok := collector.Load()
	if !ok || len(result.Accounts) != 1 {
		t.Fatalf("expected partial report to be stored, got %#v", result)
	}
}

func TestEnqueueUsageMergeCommand_ExecuteDelegates(t *testing.T) {
	svc := stubMutatingService{
		enqueueFn: func(_ context.Context, batchID string, records []core.UsageRecord) (*core.JobExecutionMessage, error) {
			return core.EncodeUsageMergeJob(batchID, records)
		},
	}
	cmd := NewEnqueueUsageMergeCommand(svc)
	collector := gocmd.NewResult[*core.JobExecutionMessage]()
	ctx := gocmd.ContextWithResult(context.Background(), collector)
	err := cmd.Execute(ctx, EnqueueUsageMergeMessage{
		BatchID: "batch-7",
		Records: []core.UsageRecord{sampleUsageRecord()},
	})
	if err != nil {
		t.Fatalf("execute enqueue: %v", err)
	}
	msg, ok := collector.Load()
	if !ok || msg == nil {
		t.Fatalf("expected job message to be stored")
	}
	if msg.JobID != core.UsageMergeJobID || msg.IdempotencyKey != "usage-merge:batch-7" {
		t.Fatalf("unexpected job message: %#v", msg)
	}
}

func TestCommands_NilServiceReturnsRichError(t *testing.T) {
	var merge *MergeUsageCommand
	errs := []error{
		merge.Execute(context.Background(), MergeUsageMessage{}),
		NewMigrateAccountsCommand(nil).Execute(context.Background(), MigrateAccountsMessage{}),
		NewEnqueueUsageMergeCommand(nil).Execute(context.Background(), EnqueueUsageMergeMessage{}),
	}
	for i, err := range errs {
		var rich *goerrors.Error
		if !goerrors.As(err, &rich) {
			t.Fatalf("case %d: expected go-errors envelope, got %T", i, err)
		}
		if rich.Category != goerrors.CategoryInternal {
			t.Fatalf("case %d: expected internal category, got %q", i, rich.Category)
		}
	}
}

func TestMessages_Validate(t *testing.T) {
	valid := sampleUsageRecord()
	noScope := valid
	noScope.Key.Scope = core.UsageScope{Type: "galaxy", ID: "x"}
	noBucket := valid
	noBucket.Key.Bucket = time.Time{}

	cases := []struct {
		name  string
		msg   interface{ Validate() error }
		field string
		ok    bool
	}{
		{name: "merge ok", msg: MergeUsageMessage{Records: []core.UsageRecord{valid}}, ok: true},
		{name: "merge empty", msg: MergeUsageMessage{}, field: "records"},
		{name: "merge bad scope", msg: MergeUsageMessage{Records: []core.UsageRecord{noScope}}},
		{name: "merge zero bucket", msg: MergeUsageMessage{Records: []core.UsageRecord{noBucket}}, field: "records[0].bucket"},
		{name: "enqueue missing batch", msg: EnqueueUsageMergeMessage{Records: []core.UsageRecord{valid}}, field: "batch_id"},
		{name: "migrate empty", msg: MigrateAccountsMessage{}, field: "accounts"},
		{
			name: "migrate blank identity",
			msg: MigrateAccountsMessage{Batch: core.MigrationBatch{
				Accounts: []core.SourceAccount{{ExternalIdentity: "alice"}, {ExternalIdentity: " "}},
			}},
			field: "accounts[1].external_identity",
		},
		{
			name: "migrate ok",
			msg: MigrateAccountsMessage{Batch: core.MigrationBatch{
				Accounts: []core.SourceAccount{{ExternalIdentity: "alice", Usage: []core.UsageRecord{valid}}},
			}},
			ok: true,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.msg.Validate()
			if tc.ok {
				if err != nil {
					t.Fatalf("expected valid message, got %v", err)
				}
				return
			}
			var rich *goerrors.Error
			if !goerrors.As(err, &rich) {
				t.Fatalf("expected go-errors envelope, got %T (%v)", err, err)
			}
			if rich.TextCode != core.ServiceErrorBadInput || rich.Code != http.StatusBadRequest {
				t.Fatalf("unexpected envelope: %#v", rich)
			}
			if tc.field == "" {
				return
			}
			validation := rich.AllValidationErrors()
			if len(validation) == 0 || validation[0].Field != tc.field {
				t.Fatalf("expected validation field %q, got %#v", tc.field, validation)
			}
		})
	}
}
