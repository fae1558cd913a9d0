package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-subsync/core"
)

// UsageStore is the target usage ledger. A unique (bucket, scope_type,
// scope_id) index keeps at most one row per key.
type UsageStore struct {
	db   *bun.DB
	repo repository.Repository[*usageRecordRow]
}

func NewUsageStore(db *bun.DB) (*UsageStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*usageRecordRow](db, usageRecordHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid usage repository wiring: %w", err)
		}
	}
	return &UsageStore{db: db, repo: repo}, nil
}

func (s *UsageStore) Lookup(ctx context.Context, key core.UsageKey) (core.UsageRecord, bool, error) {
	if s == nil || s.db == nil {
		return core.UsageRecord{}, false, fmt.Errorf("sqlstore: usage store is not configured")
	}
	row, err := s.findByKey(ctx, s.db, key)
	if err != nil || row == nil {
		return core.UsageRecord{}, false, err
	}
	return row.toDomain(), true, nil
}

// Upsert stores record as the current value of its key.
func (s *UsageStore) Upsert(ctx context.Context, record core.UsageRecord) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: usage store is not configured")
	}
	if err := record.Key.Scope.Validate(); err != nil {
		return err
	}
	now := time.Now().UTC()
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		existing, err := s.findByKey(ctx, tx, record.Key)
		if err != nil {
			return err
		}
		if existing == nil {
			row := newUsageRecordRow(record, now)
			row.ID = uuid.NewString()
			_, err := tx.NewInsert().Model(row).Exec(ctx)
			return err
		}
		existing.apply(record, now)
		_, err = tx.NewUpdate().
			Model(existing).
			Column("uplink", "downlink", "used_traffic", "last_source_id", "updated_at").
			WherePK().
			Exec(ctx)
		return err
	})
}

// ListByScope returns the rows of a scope ordered by bucket.
func (s *UsageStore) ListByScope(ctx context.Context, scope core.UsageScope) ([]core.UsageRecord, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: usage store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("scope_type", "=", scope.Type),
		repository.SelectBy("scope_id", "=", scope.ID),
		repository.OrderBy("bucket ASC"),
	)
	if err != nil {
		return nil, err
	}
	out := make([]core.UsageRecord, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

func (s *UsageStore) findByKey(ctx context.Context, db bun.IDB, key core.UsageKey) (*usageRecordRow, error) {
	row := &usageRecordRow{}
	err := db.NewSelect().
		Model(row).
		Where("?TableAlias.bucket = ?", key.Bucket.UTC().Unix()).
		Where("?TableAlias.scope_type = ?", key.Scope.Type).
		Where("?TableAlias.scope_id = ?", key.Scope.ID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return row, nil
}
