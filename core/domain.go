package core

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

var (
	ErrTokenRejected        = errors.New("core: subscription token rejected")
	ErrInvalidUsageScope    = errors.New("core: invalid usage scope")
	ErrAccountNotFound      = errors.New("core: account not found")
	ErrAccountLinked        = errors.New("core: account linked to another external identity")
	ErrUsageRecordNotFound  = errors.New("core: usage record not found")
	ErrIdentityUnresolvable = errors.New("core: identity unresolvable")
)

// IdentityUnresolvableError reports an external identity for which no free
// canonical identity fits within MaxLength.
type IdentityUnresolvableError struct {
	ExternalIdentity string
	MaxLength        int
}

func (e *IdentityUnresolvableError) Error() string {
	if e == nil {
		return ErrIdentityUnresolvable.Error()
	}
	return fmt.Sprintf("%s: %q exceeds %d characters", ErrIdentityUnresolvable.Error(), e.ExternalIdentity, e.MaxLength)
}

func (e *IdentityUnresolvableError) Unwrap() error {
	return ErrIdentityUnresolvable
}

func (e *IdentityUnresolvableError) ToServiceError() *goerrors.Error {
	return goerrors.New(e.Error(), goerrors.CategoryOperation).
		WithCode(http.StatusUnprocessableEntity).
		WithTextCode(ServiceErrorIdentityUnresolvable)
}

// RotationWindow gates when a secret version is accepted for verification.
type RotationWindow struct {
	NotBefore time.Time
	NotAfter  time.Time
}

func (w RotationWindow) Allows(at time.Time) bool {
	ts := at.UTC()
	if !w.NotBefore.IsZero() && ts.Before(w.NotBefore.UTC()) {
		return false
	}
	if !w.NotAfter.IsZero() && ts.After(w.NotAfter.UTC()) {
		return false
	}
	return true
}

type Secret struct {
	Value   []byte
	Version string
	Window  RotationWindow
}

func (s Secret) clone() Secret {
	out := s
	out.Value = append([]byte(nil), s.Value...)
	return out
}

// SecretSet is an immutable, ordered snapshot of the shared secrets still
// accepted for token verification. Order does not imply preference.
type SecretSet struct {
	secrets []Secret
}

func NewSecretSet(secrets ...Secret) SecretSet {
	out := make([]Secret, 0, len(secrets))
	for _, secret := range secrets {
		if len(secret.Value) == 0 {
			continue
		}
		out = append(out, secret.clone())
	}
	return SecretSet{secrets: out}
}

// SecretSetFromStrings builds an unversioned set, one secret per value.
func SecretSetFromStrings(values ...string) SecretSet {
	secrets := make([]Secret, 0, len(values))
	for _, value := range values {
		secrets = append(secrets, Secret{Value: []byte(value)})
	}
	return NewSecretSet(secrets...)
}

func (s SecretSet) Len() int {
	return len(s.secrets)
}

// Active returns copies of the secrets whose rotation window allows at, in
// snapshot order.
func (s SecretSet) Active(at time.Time) []Secret {
	out := make([]Secret, 0, len(s.secrets))
	for _, secret := range s.secrets {
		if !secret.Window.Allows(at) {
			continue
		}
		out = append(out, secret.clone())
	}
	return out
}

// Secrets returns copies of every secret in the set, regardless of window.
func (s SecretSet) Secrets() []Secret {
	out := make([]Secret, 0, len(s.secrets))
	for _, secret := range s.secrets {
		out = append(out, secret.clone())
	}
	return out
}

func (s SecretSet) Versions() []string {
	out := make([]string, 0, len(s.secrets))
	for _, secret := range s.secrets {
		out = append(out, secret.Version)
	}
	return out
}

type TokenFormat string

const (
	TokenFormatStructured TokenFormat = "structured"
	TokenFormatCompact    TokenFormat = "compact"
)

// Claim is the authenticated payload of a verified subscription token.
type Claim struct {
	ExternalIdentity string
	IssuedAt         time.Time
	Format           TokenFormat
}

type RejectionReason string

const (
	RejectionTooShort         RejectionReason = "too_short"
	RejectionMalformed        RejectionReason = "malformed"
	RejectionInvalidSignature RejectionReason = "invalid_signature"
	RejectionWrongPurpose     RejectionReason = "wrong_purpose"
)

func (r RejectionReason) Valid() bool {
	switch r {
	case RejectionTooShort, RejectionMalformed, RejectionInvalidSignature, RejectionWrongPurpose:
		return true
	default:
		return false
	}
}

type TokenRejection struct {
	Reason RejectionReason
	Format TokenFormat
}

func (e *TokenRejection) Error() string {
	if e == nil {
		return ErrTokenRejected.Error()
	}
	if e.Format == "" {
		return fmt.Sprintf("%s: %s", ErrTokenRejected.Error(), e.Reason)
	}
	return fmt.Sprintf("%s: %s (%s)", ErrTokenRejected.Error(), e.Reason, e.Format)
}

func (e *TokenRejection) Unwrap() error {
	return ErrTokenRejected
}

func Reject(reason RejectionReason, format TokenFormat) error {
	return &TokenRejection{Reason: reason, Format: format}
}

// RejectionReasonOf extracts the rejection reason from err, if any.
func RejectionReasonOf(err error) (RejectionReason, bool) {
	var rejection *TokenRejection
	if errors.As(err, &rejection) && rejection != nil {
		return rejection.Reason, true
	}
	return "", false
}

type UsageScopeType string

const (
	UsageScopeNode     UsageScopeType = "node"
	UsageScopeUserNode UsageScopeType = "user_node"
	UsageScopeSystem   UsageScopeType = "system"
)

type UsageScope struct {
	Type string
	ID   string
}

func (s UsageScope) Validate() error {
	switch UsageScopeType(strings.TrimSpace(strings.ToLower(s.Type))) {
	case UsageScopeNode, UsageScopeUserNode, UsageScopeSystem:
	default:
		return fmt.Errorf("%w: type %q", ErrInvalidUsageScope, s.Type)
	}
	if strings.TrimSpace(s.ID) == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidUsageScope)
	}
	return nil
}

// UserNodeScope builds the scope of a per-user, per-node usage record.
func UserNodeScope(accountID string, nodeID string) UsageScope {
	return UsageScope{
		Type: string(UsageScopeUserNode),
		ID:   strings.TrimSpace(accountID) + ":" + strings.TrimSpace(nodeID),
	}
}

type UsageKey struct {
	Bucket time.Time
	Scope  UsageScope
}

// Normalize truncates the bucket to bucketSize and canonicalizes the scope.
func (k UsageKey) Normalize(bucketSize time.Duration) UsageKey {
	bucket := k.Bucket.UTC()
	if bucketSize > 0 {
		bucket = bucket.Truncate(bucketSize)
	}
	return UsageKey{
		Bucket: bucket,
		Scope: UsageScope{
			Type: strings.TrimSpace(strings.ToLower(k.Scope.Type)),
			ID:   strings.TrimSpace(k.Scope.ID),
		},
	}
}

func (k UsageKey) String() string {
	return k.Scope.Type + "/" + k.Scope.ID + "@" + k.Bucket.UTC().Format(time.RFC3339)
}

type UsageCounters struct {
	Uplink      int64
	Downlink    int64
	UsedTraffic int64
}

func (c UsageCounters) Add(other UsageCounters) UsageCounters {
	return UsageCounters{
		Uplink:      c.Uplink + other.Uplink,
		Downlink:    c.Downlink + other.Downlink,
		UsedTraffic: c.UsedTraffic + other.UsedTraffic,
	}
}

type UsageRecord struct {
	Key      UsageKey
	Counters UsageCounters
	// SourceID identifies the record in the source ledger; merge markers
	// are keyed by it.
	SourceID string
}

type MergeReport struct {
	Processed int
	Inserted  int
	Updated   int
	Skipped   int
}

func (r MergeReport) Add(other MergeReport) MergeReport {
	return MergeReport{
		Processed: r.Processed + other.Processed,
		Inserted:  r.Inserted + other.Inserted,
		Updated:   r.Updated + other.Updated,
		Skipped:   r.Skipped + other.Skipped,
	}
}

type Account struct {
	ID               string
	Username         string
	ExternalIdentity string
	Source           string
	CreatedAt        time.Time
}

type CreateAccountInput struct {
	Username         string
	ExternalIdentity string
	Source           string
}

// Authentication is the live-path result: a verified claim and the
// canonical identity it maps to in the target account store.
type Authentication struct {
	Claim    Claim
	Identity string
	Account  *Account
}

type ExistingAccountPolicy string

const (
	ExistingAccountSkip   ExistingAccountPolicy = "skip"
	ExistingAccountRename ExistingAccountPolicy = "rename"
	// ExistingAccountUpdate keeps the existing account under the base name
	// and links it to the source account.
	ExistingAccountUpdate ExistingAccountPolicy = "update"
)

type SourceAccount struct {
	ExternalIdentity string
	Usage            []UsageRecord
}

type MigrationBatch struct {
	ID       string
	Source   string
	Accounts []SourceAccount
}

type AccountOutcome string

const (
	AccountMigrated     AccountOutcome = "migrated"
	AccountRenamed      AccountOutcome = "renamed"
	AccountUpdated      AccountOutcome = "updated"
	AccountSkipped      AccountOutcome = "skipped"
	AccountUnresolvable AccountOutcome = "unresolvable"
)

// AccountReused marks an account created by an earlier run for the same
// source; only its usage is merged again.
const AccountReused AccountOutcome = "reused"

type AccountMigration struct {
	ExternalIdentity string
	Identity         string
	Outcome          AccountOutcome
	Usage            MergeReport
}

type MigrationReport struct {
	BatchID  string
	Accounts []AccountMigration
	Usage    MergeReport
}

func (r MigrationReport) Count(outcome AccountOutcome) int {
	count := 0
	for _, account := range r.Accounts {
		if account.Outcome == outcome {
			count++
		}
	}
	return count
}
