package sqlstore

import (
	"strings"
	"time"

	"github.com/uptrace/bun"

	"github.com/goliatone/go-subsync/core"
)

type accountRecord struct {
	bun.BaseModel `bun:"table:subsync_accounts,alias:sa"`

	ID               string    `bun:"id,pk"`
	Username         string    `bun:"username,notnull"`
	ExternalIdentity string    `bun:"external_identity,notnull"`
	Source           string    `bun:"source,notnull"`
	CreatedAt        time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt        time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

// usageRecordRow stores one (bucket, scope) counter row. Buckets are kept as
// unix seconds so equality lookups behave the same on every dialect.
type usageRecordRow struct {
	bun.BaseModel `bun:"table:subsync_usage_records,alias:sur"`

	ID           string    `bun:"id,pk"`
	Bucket       int64     `bun:"bucket,notnull"`
	ScopeType    string    `bun:"scope_type,notnull"`
	ScopeID      string    `bun:"scope_id,notnull"`
	Uplink       int64     `bun:"uplink,notnull"`
	Downlink     int64     `bun:"downlink,notnull"`
	UsedTraffic  int64     `bun:"used_traffic,notnull"`
	LastSourceID string    `bun:"last_source_id,notnull"`
	CreatedAt    time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt    time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type mergeMarkerRecord struct {
	bun.BaseModel `bun:"table:subsync_merge_markers,alias:smm"`

	SourceID string    `bun:"source_id,pk"`
	MergedAt time.Time `bun:"merged_at,nullzero,notnull,default:current_timestamp"`
}

func newAccountRecord(in core.CreateAccountInput, now time.Time) *accountRecord {
	return &accountRecord{
		Username:         strings.TrimSpace(in.Username),
		ExternalIdentity: strings.TrimSpace(in.ExternalIdentity),
		Source:           strings.TrimSpace(strings.ToLower(in.Source)),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func (r *accountRecord) toDomain() core.Account {
	if r == nil {
		return core.Account{}
	}
	return core.Account{
		ID:               r.ID,
		Username:         r.Username,
		ExternalIdentity: r.ExternalIdentity,
		Source:           r.Source,
		CreatedAt:        r.CreatedAt.UTC(),
	}
}

func newUsageRecordRow(record core.UsageRecord, now time.Time) *usageRecordRow {
	row := &usageRecordRow{CreatedAt: now}
	row.apply(record, now)
	return row
}

func (r *usageRecordRow) apply(record core.UsageRecord, now time.Time) {
	r.Bucket = record.Key.Bucket.UTC().Unix()
	r.ScopeType = record.Key.Scope.Type
	r.ScopeID = record.Key.Scope.ID
	r.Uplink = record.Counters.Uplink
	r.Downlink = record.Counters.Downlink
	r.UsedTraffic = record.Counters.UsedTraffic
	r.LastSourceID = strings.TrimSpace(record.SourceID)
	r.UpdatedAt = now
}

func (r *usageRecordRow) toDomain() core.UsageRecord {
	if r == nil {
		return core.UsageRecord{}
	}
	return core.UsageRecord{
		Key: core.UsageKey{
			Bucket: time.Unix(r.Bucket, 0).UTC(),
			Scope:  core.UsageScope{Type: r.ScopeType, ID: r.ScopeID},
		},
		Counters: core.UsageCounters{
			Uplink:      r.Uplink,
			Downlink:    r.Downlink,
			UsedTraffic: r.UsedTraffic,
		},
		SourceID: r.LastSourceID,
	}
}
