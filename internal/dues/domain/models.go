package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Status string

const (
	StatusUnpaid            Status = "UNPAID"
	StatusPendingValidation Status = "PENDING_VALIDATION"
	StatusPaid              Status = "PAID"
)

func (s Status) Valid() bool {
	switch s {
	case StatusUnpaid, StatusPendingValidation, StatusPaid:
		return true
	default:
		return false
	}
}

// RequiresProof reports whether a record in status s must carry a proof.
func (s Status) RequiresProof() bool {
	return s == StatusPendingValidation || s == StatusPaid
}

// Record is one member's obligation for one period.
type Record struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	MemberID  snowflake.ID `gorm:"column:member_id;not null;uniqueIndex:ux_dues_member_period" json:"member_id"`
	Period    string       `gorm:"column:period;size:7;not null;uniqueIndex:ux_dues_member_period;index" json:"period"`
	Amount    int64        `gorm:"column:amount;not null" json:"amount"`
	Status    Status       `gorm:"column:status;size:32;not null;index" json:"status"`
	ProofRef  *string      `gorm:"column:proof_ref" json:"proof_ref,omitempty"`
	PaidAt    *time.Time   `gorm:"column:paid_at" json:"paid_at,omitempty"`
	CreatedAt time.Time    `gorm:"column:created_at;not null" json:"created_at"`
	UpdatedAt time.Time    `gorm:"column:updated_at;not null" json:"updated_at"`
}

func (Record) TableName() string { return Collection }

// Collection is the table and change feed name for dues records.
const Collection = "dues"

// ProofConsistent reports whether the proof reference agrees with the status.
func (r Record) ProofConsistent() bool {
	return (r.ProofRef != nil) == r.Status.RequiresProof()
}
