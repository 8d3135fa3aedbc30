package domain

import (
	"context"

	"gorm.io/gorm"
)

type Service interface {
	// Generate creates one UNPAID record per active member for period.
	Generate(ctx context.Context, period string, amountPerMember int64) (Result, error)
	// Get returns the marker for period, or nil when the period is open.
	Get(ctx context.Context, period string) (*Batch, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, batch *Batch) error
	FindByPeriod(ctx context.Context, db *gorm.DB, period string) (*Batch, error)
}
