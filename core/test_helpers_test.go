package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

type stubLogger struct{}

func (stubLogger) Trace(string, ...any) {}
func (stubLogger) Debug(string, ...any) {}
func (stubLogger) Info(string, ...any)  {}
func (stubLogger) Warn(string, ...any)  {}
func (stubLogger) Error(string, ...any) {}
func (stubLogger) Fatal(string, ...any) {}
func (s stubLogger) WithContext(context.Context) Logger {
	return s
}

type stubLoggerProvider struct {
	logger Logger
}

func (s stubLoggerProvider) GetLogger(string) Logger {
	return s.logger
}

type mapRawLoader struct {
	values map[string]any
}

func (l mapRawLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.values))
	for key, value := range l.values {
		out[key] = value
	}
	return out, nil
}

// stubVerifier accepts tokens of the form "<identity>.<secret>" when secret
// is part of the active set.
type stubVerifier struct {
	issuedAt time.Time
}

func (v stubVerifier) Verify(token string, secrets SecretSet, now time.Time) (Claim, error) {
	if len(token) < 15 {
		return Claim{}, Reject(RejectionTooShort, "")
	}
	identity, secret, ok := strings.Cut(token, ".")
	if !ok {
		return Claim{}, Reject(RejectionMalformed, TokenFormatCompact)
	}
	for _, candidate := range secrets.Active(now) {
		if string(candidate.Value) == secret {
			return Claim{ExternalIdentity: identity, IssuedAt: v.issuedAt, Format: TokenFormatCompact}, nil
		}
	}
	return Claim{}, Reject(RejectionInvalidSignature, TokenFormatCompact)
}

// stubResolver lowercases identities and appends "_<n>" on collisions.
type stubResolver struct {
	maxLength int
}

func (r stubResolver) Normalize(externalIdentity string) string {
	return strings.ToLower(strings.TrimSpace(externalIdentity))
}

func (r stubResolver) candidates(externalIdentity string) []string {
	base := r.Normalize(externalIdentity)
	if base == "" {
		return nil
	}
	out := []string{}
	for i := 0; i < 4; i++ {
		candidate := base
		if i > 0 {
			candidate = fmt.Sprintf("%s_%d", base, i)
		}
		if r.maxLength > 0 && len(candidate) > r.maxLength {
			break
		}
		out = append(out, candidate)
	}
	return out
}

func (r stubResolver) Resolve(ctx context.Context, externalIdentity string, exists ExistsFunc) (string, bool, error) {
	for _, candidate := range r.candidates(externalIdentity) {
		taken, err := exists(ctx, candidate)
		if err != nil {
			return "", false, err
		}
		if !taken {
			return candidate, true, nil
		}
	}
	return "", false, nil
}

func (r stubResolver) Locate(ctx context.Context, externalIdentity string, exists ExistsFunc) (string, bool, error) {
	for _, candidate := range r.candidates(externalIdentity) {
		taken, err := exists(ctx, candidate)
		if err != nil {
			return "", false, err
		}
		if taken {
			return candidate, true, nil
		}
	}
	return "", false, nil
}

type additiveReconciler struct{}

func (additiveReconciler) Merge(
	ctx context.Context,
	records []UsageRecord,
	lookup UsageLookupFunc,
	upsert UsageUpsertFunc,
) (MergeReport, error) {
	report := MergeReport{}
	for _, record := range records {
		existing, found, err := lookup(ctx, record.Key)
		if err != nil {
			return report, err
		}
		if found {
			record.Counters = existing.Counters.Add(record.Counters)
		}
		if err := upsert(ctx, record); err != nil {
			return report, err
		}
		report.Processed++
		if found {
			report.Updated++
		} else {
			report.Inserted++
		}
	}
	return report, nil
}

type memoryAccountStore struct {
	mu        sync.Mutex
	accounts  map[string]Account
	existsErr error
	nextID    int
}

func newMemoryAccountStore(usernames ...string) *memoryAccountStore {
	store := &memoryAccountStore{accounts: map[string]Account{}}
	for _, username := range usernames {
		_, _ = store.Create(context.Background(), CreateAccountInput{Username: username})
	}
	return store
}

func (s *memoryAccountStore) Exists(_ context.Context, username string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.existsErr != nil {
		return false, s.existsErr
	}
	_, ok := s.accounts[username]
	return ok, nil
}

func (s *memoryAccountStore) GetByUsername(_ context.Context, username string) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accounts[username]
	if !ok {
		return Account{}, fmt.Errorf("%w: username %q", ErrAccountNotFound, username)
	}
	return account, nil
}

func (s *memoryAccountStore) FindByExternalIdentity(_ context.Context, source string, externalIdentity string) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, account := range s.accounts {
		if account.ExternalIdentity == "" {
			continue
		}
		if account.Source == source && account.ExternalIdentity == externalIdentity {
			return account, nil
		}
	}
	return Account{}, fmt.Errorf("%w: external identity %q", ErrAccountNotFound, externalIdentity)
}

func (s *memoryAccountStore) Create(_ context.Context, in CreateAccountInput) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[in.Username]; ok {
		return Account{}, fmt.Errorf("core: account %q already exists", in.Username)
	}
	s.nextID++
	account := Account{
		ID:               fmt.Sprintf("acct_%d", s.nextID),
		Username:         in.Username,
		ExternalIdentity: in.ExternalIdentity,
		Source:           in.Source,
		CreatedAt:        time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	s.accounts[in.Username] = account
	return account, nil
}

func (s *memoryAccountStore) LinkExternalIdentity(_ context.Context, username, source, externalIdentity string) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accounts[username]
	if !ok {
		return Account{}, fmt.Errorf("%w: username %q", ErrAccountNotFound, username)
	}
	if account.ExternalIdentity != "" && (account.Source != source || account.ExternalIdentity != externalIdentity) {
		return Account{}, fmt.Errorf("%w: %q", ErrAccountLinked, username)
	}
	account.Source = source
	account.ExternalIdentity = externalIdentity
	s.accounts[username] = account
	return account, nil
}

type memoryUsageLedger struct {
	mu        sync.Mutex
	records   map[string]UsageRecord
	upsertErr error
}

func newMemoryUsageLedger() *memoryUsageLedger {
	return &memoryUsageLedger{records: map[string]UsageRecord{}}
}

func (l *memoryUsageLedger) Lookup(_ context.Context, key UsageKey) (UsageRecord, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	record, ok := l.records[key.String()]
	return record, ok, nil
}

func (l *memoryUsageLedger) Upsert(_ context.Context, record UsageRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.upsertErr != nil {
		return l.upsertErr
	}
	l.records[record.Key.String()] = record
	return nil
}

func (l *memoryUsageLedger) get(key UsageKey) (UsageRecord, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	record, ok := l.records[key.String()]
	return record, ok
}

type memoryStores struct {
	accounts *memoryAccountStore
	usage    *memoryUsageLedger
	marker   MergeMarker
}

func (s memoryStores) AccountStore() AccountStore { return s.accounts }
func (s memoryStores) UsageLedger() UsageLedger   { return s.usage }
func (s memoryStores) MergeMarker() MergeMarker   { return s.marker }

type recordingEnqueuer struct {
	messages []*JobExecutionMessage
	err      error
}

func (e *recordingEnqueuer) Enqueue(_ context.Context, msg *JobExecutionMessage) error {
	if e.err != nil {
		return e.err
	}
	e.messages = append(e.messages, msg)
	return nil
}

type recordingDelivery struct {
	msg    *JobExecutionMessage
	acked  bool
	nacked []JobNackOptions
}

func (d *recordingDelivery) Message() *JobExecutionMessage { return d.msg }

func (d *recordingDelivery) Ack(context.Context) error {
	d.acked = true
	return nil
}

func (d *recordingDelivery) Nack(_ context.Context, opts JobNackOptions) error {
	d.nacked = append(d.nacked, opts)
	return nil
}

type fixedSecretSource struct {
	secrets SecretSet
}

func (s *fixedSecretSource) Snapshot(time.Time) SecretSet {
	return s.secrets
}

func testSecrets(values ...string) *fixedSecretSource {
	return &fixedSecretSource{secrets: SecretSetFromStrings(values...)}
}

func newTestService(cfg Config, opts ...Option) (*Service, error) {
	base := []Option{
		WithLogger(stubLogger{}),
		WithTokenVerifier(stubVerifier{issuedAt: time.Unix(1700000000, 0).UTC()}),
		WithIdentityResolver(stubResolver{maxLength: DefaultIdentityMaxLength}),
		WithUsageReconciler(additiveReconciler{}),
		WithSecretSource(testSecrets("secret-one", "secret-two")),
	}
	return NewService(cfg, append(base, opts...)...)
}

func hourBucket(hour int) time.Time {
	return time.Date(2026, 3, 1, hour, 0, 0, 0, time.UTC)
}
