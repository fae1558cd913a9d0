package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-subsync/core"
)

// AccountStore persists canonical accounts together with the external
// identity each one was created from.
type AccountStore struct {
	db   *bun.DB
	repo repository.Repository[*accountRecord]
}

func NewAccountStore(db *bun.DB) (*AccountStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*accountRecord](db, accountHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid account repository wiring: %w", err)
		}
	}
	return &AccountStore{db: db, repo: repo}, nil
}

func (s *AccountStore) Exists(ctx context.Context, username string) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("sqlstore: account store is not configured")
	}
	return s.db.NewSelect().
		Model((*accountRecord)(nil)).
		Where("?TableAlias.username = ?", strings.TrimSpace(username)).
		Exists(ctx)
}

func (s *AccountStore) GetByUsername(ctx context.Context, username string) (core.Account, error) {
	if s == nil || s.repo == nil {
		return core.Account{}, fmt.Errorf("sqlstore: account store is not configured")
	}
	trimmed := strings.TrimSpace(username)
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("username", "=", trimmed),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return core.Account{}, err
	}
	if len(records) == 0 {
		return core.Account{}, fmt.Errorf("%w: username %q", core.ErrAccountNotFound, trimmed)
	}
	return records[0].toDomain(), nil
}

func (s *AccountStore) FindByExternalIdentity(ctx context.Context, source string, externalIdentity string) (core.Account, error) {
	if s == nil || s.repo == nil {
		return core.Account{}, fmt.Errorf("sqlstore: account store is not configured")
	}
	source = strings.TrimSpace(strings.ToLower(source))
	externalIdentity = strings.TrimSpace(externalIdentity)
	if externalIdentity == "" {
		return core.Account{}, fmt.Errorf("%w: external identity is empty", core.ErrAccountNotFound)
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("source", "=", source),
		repository.SelectBy("external_identity", "=", externalIdentity),
		repository.OrderBy("created_at ASC"),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return core.Account{}, err
	}
	if len(records) == 0 {
		return core.Account{}, fmt.Errorf("%w: external identity %q", core.ErrAccountNotFound, externalIdentity)
	}
	return records[0].toDomain(), nil
}

func (s *AccountStore) Create(ctx context.Context, in core.CreateAccountInput) (core.Account, error) {
	if s == nil || s.repo == nil {
		return core.Account{}, fmt.Errorf("sqlstore: account store is not configured")
	}
	if strings.TrimSpace(in.Username) == "" {
		return core.Account{}, fmt.Errorf("sqlstore: username is required")
	}
	record := newAccountRecord(in, time.Now().UTC())
	record.ID = uuid.NewString()
	created, err := s.repo.Create(ctx, record)
	if err != nil {
		return core.Account{}, err
	}
	return created.toDomain(), nil
}

// LinkExternalIdentity maps the account named username to a source account.
// Only unlinked accounts, or accounts already linked to the same pair, are
// updated.
func (s *AccountStore) LinkExternalIdentity(ctx context.Context, username, source, externalIdentity string) (core.Account, error) {
	if s == nil || s.db == nil {
		return core.Account{}, fmt.Errorf("sqlstore: account store is not configured")
	}
	username = strings.TrimSpace(username)
	source = strings.TrimSpace(strings.ToLower(source))
	externalIdentity = strings.TrimSpace(externalIdentity)
	if externalIdentity == "" {
		return core.Account{}, fmt.Errorf("sqlstore: external identity is required")
	}

	result, err := s.db.NewUpdate().
		Model((*accountRecord)(nil)).
		Set("external_identity = ?", externalIdentity).
		Set("source = ?", source).
		Set("updated_at = ?", time.Now().UTC()).
		Where("username = ?", username).
		WhereGroup(" AND ", func(q *bun.UpdateQuery) *bun.UpdateQuery {
			return q.
				Where("external_identity = ''").
				WhereGroup(" OR ", func(q *bun.UpdateQuery) *bun.UpdateQuery {
					return q.Where("source = ?", source).Where("external_identity = ?", externalIdentity)
				})
		}).
		Exec(ctx)
	if err != nil {
		return core.Account{}, err
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		if _, err := s.GetByUsername(ctx, username); err != nil {
			return core.Account{}, err
		}
		return core.Account{}, fmt.Errorf("%w: %q", core.ErrAccountLinked, username)
	}
	return s.GetByUsername(ctx, username)
}
