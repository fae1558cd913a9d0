package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/bun"
)

// MergeMarkerStore records merged source usage ids so a re-run batch skips
// them.
type MergeMarkerStore struct {
	db *bun.DB
}

func NewMergeMarkerStore(db *bun.DB) (*MergeMarkerStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	return &MergeMarkerStore{db: db}, nil
}

func (s *MergeMarkerStore) Seen(ctx context.Context, key string) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("sqlstore: merge marker store is not configured")
	}
	return s.db.NewSelect().
		Model((*mergeMarkerRecord)(nil)).
		Where("?TableAlias.source_id = ?", strings.TrimSpace(key)).
		Exists(ctx)
}

func (s *MergeMarkerStore) Mark(ctx context.Context, key string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: merge marker store is not configured")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("sqlstore: merge key is required")
	}
	_, err := s.db.NewInsert().
		Model(&mergeMarkerRecord{SourceID: key, MergedAt: time.Now().UTC()}).
		On("CONFLICT (source_id) DO NOTHING").
		Exec(ctx)
	return err
}
