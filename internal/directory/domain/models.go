package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Member is a resident household in the community directory.
type Member struct {
	ID          snowflake.ID `gorm:"primaryKey" json:"id"`
	// UserID is the login bound to the household; nil for members without one.
	UserID      *string      `gorm:"column:user_id;uniqueIndex:idx_members_user_id" json:"user_id,omitempty"`
	DisplayName string       `gorm:"column:display_name;not null" json:"display_name"`
	Unit        string       `gorm:"column:unit" json:"unit"`
	Active      bool         `gorm:"column:active;not null" json:"active"`
	CreatedAt   time.Time    `gorm:"not null" json:"created_at"`
}

func (Member) TableName() string { return "members" }
