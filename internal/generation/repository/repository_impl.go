package repository

import (
	"context"

	"github.com/smallbiznis/iuran/internal/generation/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, batch *domain.Batch) error {
	return db.WithContext(ctx).Create(batch).Error
}

func (r *repo) FindByPeriod(ctx context.Context, db *gorm.DB, period string) (*domain.Batch, error) {
	var batch domain.Batch
	err := db.WithContext(ctx).Raw(
		`SELECT period, amount_per_member, created_count, skipped_count, created_by, created_at
		 FROM generation_batches WHERE period = ?`,
		period,
	).Scan(&batch).Error
	if err != nil {
		return nil, err
	}
	if batch.Period == "" {
		return nil, nil
	}
	return &batch, nil
}
