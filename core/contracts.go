package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

type TokenVerifier interface {
	Verify(token string, secrets SecretSet, now time.Time) (Claim, error)
}

// ExistsFunc reports whether a canonical identity is already taken.
type ExistsFunc func(ctx context.Context, candidate string) (bool, error)

type IdentityResolver interface {
	// Resolve returns a canonical identity not yet taken. ok is false when
	// no candidate fits the length bound.
	Resolve(ctx context.Context, externalIdentity string, exists ExistsFunc) (identity string, ok bool, err error)
	// Locate walks the same candidate chain as Resolve and returns the first
	// candidate that is taken.
	Locate(ctx context.Context, externalIdentity string, exists ExistsFunc) (identity string, ok bool, err error)
	Normalize(externalIdentity string) string
}

type UsageLookupFunc func(ctx context.Context, key UsageKey) (UsageRecord, bool, error)

type UsageUpsertFunc func(ctx context.Context, record UsageRecord) error

type UsageReconciler interface {
	Merge(ctx context.Context, records []UsageRecord, lookup UsageLookupFunc, upsert UsageUpsertFunc) (MergeReport, error)
}

type SecretSource interface {
	Snapshot(now time.Time) SecretSet
}

type AccountStore interface {
	Exists(ctx context.Context, username string) (bool, error)
	GetByUsername(ctx context.Context, username string) (Account, error)
	FindByExternalIdentity(ctx context.Context, source string, externalIdentity string) (Account, error)
	Create(ctx context.Context, in CreateAccountInput) (Account, error)
	// LinkExternalIdentity maps an existing account to a source account. It
	// fails with ErrAccountLinked when the account already belongs to a
	// different external identity.
	LinkExternalIdentity(ctx context.Context, username string, source string, externalIdentity string) (Account, error)
}

type UsageLedger interface {
	Lookup(ctx context.Context, key UsageKey) (UsageRecord, bool, error)
	Upsert(ctx context.Context, record UsageRecord) error
}

// MergeMarker remembers which source records were already merged so a batch
// can be re-run without double-counting.
type MergeMarker interface {
	Seen(ctx context.Context, key string) (bool, error)
	Mark(ctx context.Context, key string) error
}

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

type StoreProvider interface {
	AccountStore() AccountStore
	UsageLedger() UsageLedger
	MergeMarker() MergeMarker
}

type RepositoryStoreFactory interface {
	BuildStores(persistenceClient any) (StoreProvider, error)
}

// SubscriptionService is the operation surface consumed by commands, queries
// and job processors.
type SubscriptionService interface {
	Authenticate(ctx context.Context, token string) (Authentication, error)
	ResolveIdentity(ctx context.Context, externalIdentity string) (string, error)
	MergeUsage(ctx context.Context, records []UsageRecord) (MergeReport, error)
	MigrateAccounts(ctx context.Context, batch MigrationBatch) (MigrationReport, error)
}

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

type JobExecutionMessage struct {
	JobID          string
	ScriptPath     string
	Parameters     map[string]any
	IdempotencyKey string
	DedupPolicy    string
}

type JobNackOptions struct {
	Delay      time.Duration
	Requeue    bool
	DeadLetter bool
	Reason     string
}

type JobEnqueuer interface {
	Enqueue(ctx context.Context, msg *JobExecutionMessage) error
}

type JobDelivery interface {
	Message() *JobExecutionMessage
	Ack(ctx context.Context) error
	Nack(ctx context.Context, opts JobNackOptions) error
}

type JobDequeuer interface {
	Dequeue(ctx context.Context) (JobDelivery, error)
}

type JobWorkerEvent struct {
	Message   *JobExecutionMessage
	Attempt   int
	Delay     time.Duration
	Err       error
	StartedAt time.Time
	Duration  time.Duration
}

type JobWorkerHook interface {
	OnStart(ctx context.Context, event JobWorkerEvent)
	OnSuccess(ctx context.Context, event JobWorkerEvent)
	OnFailure(ctx context.Context, event JobWorkerEvent)
	OnRetry(ctx context.Context, event JobWorkerEvent)
}
