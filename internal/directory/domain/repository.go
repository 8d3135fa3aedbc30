package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, member *Member) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Member, error)
	FindByUserID(ctx context.Context, db *gorm.DB, userID string) (*Member, error)
	FindByIDs(ctx context.Context, db *gorm.DB, ids []snowflake.ID) ([]Member, error)
	List(ctx context.Context, db *gorm.DB, activeOnly bool) ([]Member, error)
	Count(ctx context.Context, db *gorm.DB, activeOnly bool) (int64, error)
}
