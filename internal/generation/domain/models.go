package domain

import "time"

// Batch marks a period as generated. It is written once the member walk
// completes and is never updated.
type Batch struct {
	Period          string    `gorm:"primaryKey;column:period;size:7" json:"period"`
	AmountPerMember int64     `gorm:"column:amount_per_member;not null" json:"amount_per_member"`
	CreatedCount    int       `gorm:"column:created_count;not null" json:"created_count"`
	SkippedCount    int       `gorm:"column:skipped_count;not null" json:"skipped_count"`
	CreatedBy       string    `gorm:"column:created_by;size:128;not null" json:"created_by"`
	CreatedAt       time.Time `gorm:"column:created_at;not null" json:"created_at"`
}

func (Batch) TableName() string { return "generation_batches" }

// Result summarises one Generate call.
type Result struct {
	Period  string `json:"period"`
	Created int    `json:"created"`
	Skipped int    `json:"skipped"`
	Members int    `json:"members"`
}
