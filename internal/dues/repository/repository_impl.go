package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/iuran/internal/docstore"
	"github.com/smallbiznis/iuran/internal/docstore/feed"
	"github.com/smallbiznis/iuran/internal/dues/domain"
)

type repo struct {
	docs *docstore.Collection[domain.Record]
}

func New(docs *docstore.Collection[domain.Record]) domain.Repository {
	return &repo{docs: docs}
}

func (r *repo) Create(ctx context.Context, record *domain.Record) error {
	return translate(r.docs.Create(ctx, record.ID, record))
}

func (r *repo) Get(ctx context.Context, id snowflake.ID) (*domain.Record, error) {
	record, err := r.docs.Get(ctx, id)
	if err != nil {
		return nil, translate(err)
	}
	return record, nil
}

func (r *repo) FindByMemberPeriod(ctx context.Context, memberID snowflake.ID, period string) (*domain.Record, error) {
	records, err := r.docs.Query(ctx, docstore.Query{
		Filters: []docstore.Filter{
			docstore.Eq("member_id", memberID),
			docstore.Eq("period", period),
		},
		Limit: 1,
	})
	if err != nil {
		return nil, translate(err)
	}
	if len(records) == 0 {
		return nil, nil
	}
	return &records[0], nil
}

func (r *repo) ListForMember(ctx context.Context, memberID snowflake.ID, limit int) ([]domain.Record, error) {
	records, err := r.docs.Query(ctx, docstore.Query{
		Filters: []docstore.Filter{docstore.Eq("member_id", memberID)},
		Order: []docstore.Order{
			{Field: "created_at", Desc: true},
			{Field: "id", Desc: true},
		},
		Limit: limit,
	})
	return records, translate(err)
}

func (r *repo) ListPending(ctx context.Context, limit int) ([]domain.Record, error) {
	records, err := r.docs.Query(ctx, docstore.Query{
		Filters: []docstore.Filter{docstore.Eq("status", domain.StatusPendingValidation)},
		Order: []docstore.Order{
			{Field: "paid_at"},
			{Field: "id"},
		},
		Limit: limit,
	})
	return records, translate(err)
}

func (r *repo) ListByPeriod(ctx context.Context, period string, limit int) ([]domain.Record, error) {
	records, err := r.docs.Query(ctx, docstore.Query{
		Filters: []docstore.Filter{docstore.Eq("period", period)},
		Order:   []docstore.Order{{Field: "id"}},
		Limit:   limit,
	})
	return records, translate(err)
}

func (r *repo) CountByStatus(ctx context.Context, status domain.Status) (int64, error) {
	n, err := r.docs.Count(ctx, docstore.Eq("status", status))
	return n, translate(err)
}

func (r *repo) UpdateIf(ctx context.Context, id snowflake.ID, expected map[string]any, set map[string]any) (*domain.Record, error) {
	record, err := r.docs.ConditionalUpdate(ctx, id, expected, set)
	if err != nil {
		return nil, translate(err)
	}
	return record, nil
}

func (r *repo) Subscribe(predicate func(domain.Record) bool) *feed.Subscription[domain.Record] {
	return r.docs.Subscribe(predicate)
}

// translate maps store errors onto dues error kinds. Duplicates keep the
// docstore kind so callers can tell an existing row from other failures.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, docstore.ErrNotFound):
		return domain.ErrNotFound
	case errors.Is(err, docstore.ErrConflict):
		return domain.ErrConflict
	case errors.Is(err, docstore.ErrUnavailable):
		return fmt.Errorf("%w: %w", domain.ErrUnavailable, err)
	default:
		return err
	}
}
