package reconciler

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/iuran/internal/docstore/feed"
	"github.com/smallbiznis/iuran/internal/dues/domain"
)

// Source is the read side of the dues ledger a view reconciles against.
type Source interface {
	ListForMember(ctx context.Context, memberID snowflake.ID) ([]domain.Record, error)
	ListPending(ctx context.Context, limit int) ([]domain.Record, error)
	Subscribe(predicate func(domain.Record) bool) *feed.Subscription[domain.Record]
}

// Scope decides which records a view holds and in what order.
type Scope interface {
	Name() string
	// Interest selects the feed events the view must see. It is wider than
	// Match so records leaving the scope can be evicted.
	Interest(domain.Record) bool
	Match(domain.Record) bool
	Less(a, b domain.Record) bool
	// Limit caps how many records the view keeps; zero or less is unbounded.
	Limit() int
	Baseline(ctx context.Context, src Source) ([]domain.Record, error)
}

type memberScope struct {
	memberID snowflake.ID
}

// MemberScope holds every record of one member, newest first.
func MemberScope(memberID snowflake.ID) Scope {
	return memberScope{memberID: memberID}
}

func (memberScope) Name() string { return "member" }

func (s memberScope) Interest(r domain.Record) bool { return r.MemberID == s.memberID }

func (s memberScope) Match(r domain.Record) bool { return r.MemberID == s.memberID }

func (memberScope) Less(a, b domain.Record) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}

func (memberScope) Limit() int { return 0 }

func (s memberScope) Baseline(ctx context.Context, src Source) ([]domain.Record, error) {
	return src.ListForMember(ctx, s.memberID)
}

type pendingQueueScope struct {
	limit int
}

// PendingQueueScope holds records awaiting validation, oldest submission first.
func PendingQueueScope(limit int) Scope {
	return pendingQueueScope{limit: limit}
}

func (pendingQueueScope) Name() string { return "pending" }

func (pendingQueueScope) Interest(domain.Record) bool { return true }

func (pendingQueueScope) Match(r domain.Record) bool {
	return r.Status == domain.StatusPendingValidation
}

func (pendingQueueScope) Less(a, b domain.Record) bool {
	switch {
	case a.PaidAt == nil && b.PaidAt == nil:
	case a.PaidAt == nil:
		return false
	case b.PaidAt == nil:
		return true
	case !a.PaidAt.Equal(*b.PaidAt):
		return a.PaidAt.Before(*b.PaidAt)
	}
	return a.ID < b.ID
}

func (s pendingQueueScope) Limit() int { return s.limit }

func (s pendingQueueScope) Baseline(ctx context.Context, src Source) ([]domain.Record, error) {
	return src.ListPending(ctx, s.limit)
}
