package domain

import (
	"context"
	"io"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/iuran/internal/docstore/feed"
)

// Proof is an uploaded payment receipt.
type Proof struct {
	ContentType string
	Size        int64
	Body        io.Reader
}

// AmendPatch is an administrator correction. Nil fields are left unchanged.
type AmendPatch struct {
	Amount *int64
	Status *Status
	Reason string
}

type Service interface {
	SubmitProof(ctx context.Context, id snowflake.ID, proof Proof) (Record, error)
	Approve(ctx context.Context, id snowflake.ID) (Record, error)
	Reject(ctx context.Context, id snowflake.ID, reason string) (Record, error)
	Amend(ctx context.Context, id snowflake.ID, patch AmendPatch) (Record, error)

	Get(ctx context.Context, id snowflake.ID) (Record, error)
	ListForMember(ctx context.Context, memberID snowflake.ID) ([]Record, error)
	ListPending(ctx context.Context, limit int) ([]Record, error)
	ListByPeriod(ctx context.Context, period string, limit int) ([]Record, error)
	CountPending(ctx context.Context) (int64, error)
	ProofURL(ctx context.Context, id snowflake.ID) (string, error)

	// Subscribe streams committed writes matching predicate.
	Subscribe(predicate func(Record) bool) *feed.Subscription[Record]
}

// Repository is the storage boundary for dues records.
type Repository interface {
	Create(ctx context.Context, record *Record) error
	Get(ctx context.Context, id snowflake.ID) (*Record, error)
	FindByMemberPeriod(ctx context.Context, memberID snowflake.ID, period string) (*Record, error)
	ListForMember(ctx context.Context, memberID snowflake.ID, limit int) ([]Record, error)
	ListPending(ctx context.Context, limit int) ([]Record, error)
	ListByPeriod(ctx context.Context, period string, limit int) ([]Record, error)
	CountByStatus(ctx context.Context, status Status) (int64, error)
	UpdateIf(ctx context.Context, id snowflake.ID, expected map[string]any, set map[string]any) (*Record, error)
	Subscribe(predicate func(Record) bool) *feed.Subscription[Record]
}
