package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type CreateMemberRequest struct {
	UserID      string
	DisplayName string
	Unit        string
}

type Service interface {
	Create(ctx context.Context, req CreateMemberRequest) (Member, error)
	// ListMembers returns active members when activeOnly is set.
	ListMembers(ctx context.Context, activeOnly bool) ([]Member, error)
	CountMembers(ctx context.Context, activeOnly bool) (int64, error)
	Get(ctx context.Context, id snowflake.ID) (Member, error)
	FindByUserID(ctx context.Context, userID string) (Member, error)
	// Names resolves display names for ids; unknown ids are absent from the map.
	Names(ctx context.Context, ids []snowflake.ID) (map[snowflake.ID]Member, error)
}

var (
	ErrInvalidName   = errors.New("invalid_name")
	ErrInvalidUserID = errors.New("invalid_user_id")
	ErrNotFound      = errors.New("member_not_found")
	ErrUserIDTaken   = errors.New("user_id_taken")
)
