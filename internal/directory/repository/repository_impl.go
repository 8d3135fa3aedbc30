package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/iuran/internal/directory/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, member *domain.Member) error {
	return db.WithContext(ctx).Create(member).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Member, error) {
	var member domain.Member
	err := db.WithContext(ctx).Raw(
		`SELECT id, user_id, display_name, unit, active, created_at
		 FROM members WHERE id = ?`,
		id,
	).Scan(&member).Error
	if err != nil {
		return nil, err
	}
	if member.ID == 0 {
		return nil, nil
	}
	return &member, nil
}

func (r *repo) FindByUserID(ctx context.Context, db *gorm.DB, userID string) (*domain.Member, error) {
	var member domain.Member
	err := db.WithContext(ctx).Raw(
		`SELECT id, user_id, display_name, unit, active, created_at
		 FROM members WHERE user_id = ?`,
		userID,
	).Scan(&member).Error
	if err != nil {
		return nil, err
	}
	if member.ID == 0 {
		return nil, nil
	}
	return &member, nil
}

func (r *repo) FindByIDs(ctx context.Context, db *gorm.DB, ids []snowflake.ID) ([]domain.Member, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var members []domain.Member
	err := db.WithContext(ctx).
		Model(&domain.Member{}).
		Where("id IN ?", ids).
		Find(&members).Error
	if err != nil {
		return nil, err
	}
	return members, nil
}

func (r *repo) Count(ctx context.Context, db *gorm.DB, activeOnly bool) (int64, error) {
	var n int64
	stmt := db.WithContext(ctx).Model(&domain.Member{})
	if activeOnly {
		stmt = stmt.Where("active = ?", true)
	}
	if err := stmt.Count(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, activeOnly bool) ([]domain.Member, error) {
	var members []domain.Member
	stmt := db.WithContext(ctx).Model(&domain.Member{})
	if activeOnly {
		stmt = stmt.Where("active = ?", true)
	}
	err := stmt.
		Order("display_name asc, id asc").
		Find(&members).Error
	if err != nil {
		return nil, err
	}
	return members, nil
}
