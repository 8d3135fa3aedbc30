package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/iuran/internal/audit/domain"
	"github.com/smallbiznis/iuran/internal/blobstore"
	"github.com/smallbiznis/iuran/internal/clock"
	"github.com/smallbiznis/iuran/internal/config"
	"github.com/smallbiznis/iuran/internal/docstore"
	"github.com/smallbiznis/iuran/internal/docstore/feed"
	"github.com/smallbiznis/iuran/internal/dues/domain"
	"github.com/smallbiznis/iuran/internal/dues/repository"
	"github.com/smallbiznis/iuran/internal/testutil"
	"github.com/smallbiznis/iuran/internal/viewer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"pgregory.net/rapid"
)

type auditStub struct {
	mu      sync.Mutex
	entries []auditdomain.Entry
}

func (a *auditStub) AuditLog(_ context.Context, entry auditdomain.Entry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, entry)
	return nil
}

func (a *auditStub) List(context.Context, auditdomain.ListAuditLogRequest) (auditdomain.ListAuditLogResponse, error) {
	return auditdomain.ListAuditLogResponse{}, nil
}

func (a *auditStub) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.entries))
	for _, e := range a.entries {
		out = append(out, e.Action)
	}
	return out
}

type fixture struct {
	svc   domain.Service
	repo  domain.Repository
	audit *auditStub
	clock *clock.FakeClock
	node  *snowflake.Node
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.OpenDB(t, &domain.Record{})
	docs := docstore.NewCollection(db, domain.Collection, feed.NewHub[domain.Record](feed.DefaultSubscriberBuffer))
	repo := repository.New(docs)

	blobs, err := blobstore.NewFS(t.TempDir(), "/blobs", nil)
	require.NoError(t, err)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	cfg := config.DefaultDuesConfig()
	cfg.Proof.MaxBytes = 64

	audit := &auditStub{}
	fake := clock.NewFakeClock(time.Date(2025, 7, 5, 9, 0, 0, 0, time.UTC))
	svc := New(Params{
		Log:      zaptest.NewLogger(t),
		Clock:    fake,
		Repo:     repo,
		Blobs:    blobs,
		Config:   config.NewStaticDuesConfigHolder(cfg),
		AuditSvc: audit,
	})
	return &fixture{svc: svc, repo: repo, audit: audit, clock: fake, node: node}
}

func (f *fixture) seed(t *testing.T, memberID snowflake.ID, period string) domain.Record {
	t.Helper()
	now := f.clock.Now()
	record := domain.Record{
		ID:        f.node.Generate(),
		MemberID:  memberID,
		Period:    period,
		Amount:    100000,
		Status:    domain.StatusUnpaid,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, f.repo.Create(context.Background(), &record))
	return record
}

func memberCtx(memberID snowflake.ID) context.Context {
	return viewer.WithViewer(context.Background(), viewer.Viewer{
		UserID:   "user-" + memberID.String(),
		Role:     viewer.RoleMember,
		MemberID: memberID,
	})
}

func adminCtx() context.Context {
	return viewer.WithViewer(context.Background(), viewer.Viewer{UserID: "treasurer", Role: viewer.RoleAdmin})
}

func pngProof(body string) domain.Proof {
	return domain.Proof{ContentType: "image/png", Size: int64(len(body)), Body: strings.NewReader(body)}
}

func TestSubmitProofMovesToPending(t *testing.T) {
	f := newFixture(t)
	record := f.seed(t, 7, "2025-07")

	updated, err := f.svc.SubmitProof(memberCtx(7), record.ID, pngProof("receipt"))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPendingValidation, updated.Status)
	require.NotNil(t, updated.ProofRef)
	require.NotNil(t, updated.PaidAt)
	assert.True(t, updated.PaidAt.Equal(f.clock.Now()))
	assert.Equal(t, []string{"dues.submit_proof"}, f.audit.actions())

	_, err = f.svc.SubmitProof(memberCtx(7), record.ID, pngProof("again"))
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestSubmitProofHidesOtherMembersRecords(t *testing.T) {
	f := newFixture(t)
	record := f.seed(t, 7, "2025-07")

	_, err := f.svc.SubmitProof(memberCtx(8), record.ID, pngProof("receipt"))
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.svc.SubmitProof(adminCtx(), record.ID, pngProof("receipt"))
	require.ErrorIs(t, err, domain.ErrForbidden)
}

func TestSubmitProofRejectsBadUploads(t *testing.T) {
	f := newFixture(t)
	record := f.seed(t, 7, "2025-07")
	ctx := memberCtx(7)

	_, err := f.svc.SubmitProof(ctx, record.ID, domain.Proof{ContentType: "text/html", Size: 4, Body: strings.NewReader("<p/>")})
	require.ErrorIs(t, err, domain.ErrInvalidProof)

	// declared size lies; the stream is capped anyway
	big := strings.Repeat("x", 100)
	_, err = f.svc.SubmitProof(ctx, record.ID, domain.Proof{ContentType: "image/png", Size: 1, Body: strings.NewReader(big)})
	require.ErrorIs(t, err, domain.ErrInvalidProof)

	stored, err := f.repo.Get(context.Background(), record.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusUnpaid, stored.Status)
	assert.Nil(t, stored.ProofRef)
}

func TestApproveAndRejectRequirePending(t *testing.T) {
	f := newFixture(t)
	ctx := adminCtx()

	unpaid := f.seed(t, 7, "2025-07")
	_, err := f.svc.Approve(ctx, unpaid.ID)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
	_, err = f.svc.Reject(ctx, unpaid.ID, "")
	require.ErrorIs(t, err, domain.ErrInvalidTransition)

	paid := f.seed(t, 8, "2025-07")
	_, err = f.svc.SubmitProof(memberCtx(8), paid.ID, pngProof("receipt"))
	require.NoError(t, err)
	_, err = f.svc.Approve(ctx, paid.ID)
	require.NoError(t, err)

	_, err = f.svc.Approve(ctx, paid.ID)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
	_, err = f.svc.Reject(ctx, paid.ID, "")
	require.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = f.svc.Approve(memberCtx(8), paid.ID)
	require.ErrorIs(t, err, domain.ErrForbidden)
}

func TestRejectClearsProofAndAuditsHistory(t *testing.T) {
	f := newFixture(t)
	record := f.seed(t, 7, "2025-07")
	pending, err := f.svc.SubmitProof(memberCtx(7), record.ID, pngProof("receipt"))
	require.NoError(t, err)

	rejected, err := f.svc.Reject(adminCtx(), record.ID, "  blurry photo ")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusUnpaid, rejected.Status)
	assert.Nil(t, rejected.ProofRef)
	assert.Nil(t, rejected.PaidAt)

	f.audit.mu.Lock()
	last := f.audit.entries[len(f.audit.entries)-1]
	f.audit.mu.Unlock()
	assert.Equal(t, "dues.reject", last.Action)
	assert.Equal(t, "blurry photo", last.Metadata["reason"])
	assert.Equal(t, *pending.ProofRef, last.Metadata["rejected_proof_ref"])
}

// readBarrierRepo holds every Get until all expected readers have loaded
// the record, so each caller decides on the same snapshot.
type readBarrierRepo struct {
	domain.Repository
	readers sync.WaitGroup
}

func newReadBarrierRepo(inner domain.Repository, readers int) *readBarrierRepo {
	r := &readBarrierRepo{Repository: inner}
	r.readers.Add(readers)
	return r
}

func (r *readBarrierRepo) Get(ctx context.Context, id snowflake.ID) (*domain.Record, error) {
	record, err := r.Repository.Get(ctx, id)
	r.readers.Done()
	r.readers.Wait()
	return record, err
}

func TestConcurrentApproveAndReject(t *testing.T) {
	for i := 0; i < 10; i++ {
		f := newFixture(t)
		record := f.seed(t, 7, "2025-07")
		_, err := f.svc.SubmitProof(memberCtx(7), record.ID, pngProof("receipt"))
		require.NoError(t, err)

		svc := New(Params{
			Log:      zaptest.NewLogger(t),
			Clock:    f.clock,
			Repo:     newReadBarrierRepo(f.repo, 2),
			Config:   config.NewStaticDuesConfigHolder(config.DefaultDuesConfig()),
			AuditSvc: f.audit,
		})

		var wg sync.WaitGroup
		errs := make([]error, 2)
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, errs[0] = svc.Approve(adminCtx(), record.ID)
		}()
		go func() {
			defer wg.Done()
			_, errs[1] = svc.Reject(adminCtx(), record.ID, "")
		}()
		wg.Wait()

		var successes, conflicts int
		for _, err := range errs {
			switch {
			case err == nil:
				successes++
			case errors.Is(err, domain.ErrConflict):
				conflicts++
			default:
				t.Fatalf("unexpected error: %v", err)
			}
		}
		require.Equal(t, 1, successes)
		require.Equal(t, 1, conflicts)

		stored, err := f.repo.Get(context.Background(), record.ID)
		require.NoError(t, err)
		assert.Contains(t, []domain.Status{domain.StatusPaid, domain.StatusUnpaid}, stored.Status)
		assert.True(t, stored.ProofConsistent())
	}
}

func TestCountPendingIsAdminOnly(t *testing.T) {
	f := newFixture(t)
	first := f.seed(t, 7, "2025-07")
	f.seed(t, 7, "2025-08")
	_, err := f.svc.SubmitProof(memberCtx(7), first.ID, pngProof("receipt"))
	require.NoError(t, err)

	n, err := f.svc.CountPending(adminCtx())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = f.svc.CountPending(memberCtx(7))
	require.ErrorIs(t, err, domain.ErrForbidden)
}

func TestLateReaderSeesInvalidTransition(t *testing.T) {
	f := newFixture(t)
	record := f.seed(t, 7, "2025-07")
	_, err := f.svc.SubmitProof(memberCtx(7), record.ID, pngProof("receipt"))
	require.NoError(t, err)

	_, err = f.svc.Approve(adminCtx(), record.ID)
	require.NoError(t, err)
	_, err = f.svc.Reject(adminCtx(), record.ID, "")
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestLosingConditionalWriteReturnsConflict(t *testing.T) {
	f := newFixture(t)
	record := f.seed(t, 7, "2025-07")
	_, err := f.svc.SubmitProof(memberCtx(7), record.ID, pngProof("receipt"))
	require.NoError(t, err)

	// a stale reader still believes the record is pending
	_, err = f.svc.Approve(adminCtx(), record.ID)
	require.NoError(t, err)
	_, err = f.repo.UpdateIf(context.Background(), record.ID,
		map[string]any{"status": domain.StatusPendingValidation},
		map[string]any{"status": domain.StatusUnpaid},
	)
	require.ErrorIs(t, err, domain.ErrConflict)
}

func TestAmend(t *testing.T) {
	f := newFixture(t)
	ctx := adminCtx()
	record := f.seed(t, 7, "2025-07")

	amount := int64(75000)
	amended, err := f.svc.Amend(ctx, record.ID, domain.AmendPatch{Amount: &amount, Reason: "discount"})
	require.NoError(t, err)
	assert.Equal(t, amount, amended.Amount)

	paid := domain.StatusPaid
	_, err = f.svc.Amend(ctx, record.ID, domain.AmendPatch{Status: &paid})
	require.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = f.svc.SubmitProof(memberCtx(7), record.ID, pngProof("receipt"))
	require.NoError(t, err)
	amended, err = f.svc.Amend(ctx, record.ID, domain.AmendPatch{Status: &paid})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPaid, amended.Status)
	assert.NotNil(t, amended.ProofRef)

	unpaid := domain.StatusUnpaid
	amended, err = f.svc.Amend(ctx, record.ID, domain.AmendPatch{Status: &unpaid})
	require.NoError(t, err)
	assert.Nil(t, amended.ProofRef)
	assert.Nil(t, amended.PaidAt)

	_, err = f.svc.Amend(memberCtx(7), record.ID, domain.AmendPatch{Amount: &amount})
	require.ErrorIs(t, err, domain.ErrForbidden)

	negative := int64(-1)
	_, err = f.svc.Amend(ctx, record.ID, domain.AmendPatch{Amount: &negative})
	require.ErrorIs(t, err, domain.ErrInvalidAmount)

	f.audit.mu.Lock()
	last := f.audit.entries[len(f.audit.entries)-1]
	f.audit.mu.Unlock()
	assert.Equal(t, "dues.amend", last.Action)
	assert.Equal(t, true, last.Metadata["privileged"])
}

func TestReadsRespectOwnership(t *testing.T) {
	f := newFixture(t)
	own := f.seed(t, 7, "2025-06")
	f.clock.Advance(time.Hour)
	newer := f.seed(t, 7, "2025-07")
	other := f.seed(t, 8, "2025-07")

	records, err := f.svc.ListForMember(memberCtx(7), 7)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, newer.ID, records[0].ID)
	assert.Equal(t, own.ID, records[1].ID)

	_, err = f.svc.ListForMember(memberCtx(7), 8)
	require.ErrorIs(t, err, domain.ErrForbidden)

	_, err = f.svc.Get(memberCtx(7), other.ID)
	require.ErrorIs(t, err, domain.ErrNotFound)

	got, err := f.svc.Get(adminCtx(), other.ID)
	require.NoError(t, err)
	assert.Equal(t, other.ID, got.ID)

	_, err = f.svc.ProofURL(adminCtx(), other.ID)
	require.ErrorIs(t, err, domain.ErrNotFound)

	byPeriod, err := f.svc.ListByPeriod(adminCtx(), "2025-07", 0)
	require.NoError(t, err)
	assert.Len(t, byPeriod, 2)

	_, err = f.svc.ListByPeriod(adminCtx(), "2025-13", 0)
	require.ErrorIs(t, err, domain.ErrInvalidPeriod)
}

func TestListPendingOrdersByPaidAt(t *testing.T) {
	f := newFixture(t)
	first := f.seed(t, 7, "2025-07")
	second := f.seed(t, 8, "2025-07")

	_, err := f.svc.SubmitProof(memberCtx(8), second.ID, pngProof("b"))
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	_, err = f.svc.SubmitProof(memberCtx(7), first.ID, pngProof("a"))
	require.NoError(t, err)

	pending, err := f.svc.ListPending(adminCtx(), 0)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, second.ID, pending[0].ID)
	assert.Equal(t, first.ID, pending[1].ID)

	url, err := f.svc.ProofURL(memberCtx(7), first.ID)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, "/blobs/"))
}

func TestWritesReachSubscribers(t *testing.T) {
	f := newFixture(t)
	record := f.seed(t, 7, "2025-07")

	sub := f.svc.Subscribe(func(r domain.Record) bool { return r.MemberID == 7 })
	defer sub.Close()

	_, err := f.svc.SubmitProof(memberCtx(7), record.ID, pngProof("receipt"))
	require.NoError(t, err)

	select {
	case ev := <-sub.Events():
		assert.Equal(t, feed.EventUpdate, ev.Type)
		assert.Equal(t, domain.StatusPendingValidation, ev.Document.Status)
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}
}

func TestProofInvariantHoldsUnderRandomOperations(t *testing.T) {
	f := newFixture(t)
	statuses := []domain.Status{domain.StatusUnpaid, domain.StatusPendingValidation, domain.StatusPaid}
	var memberSeq snowflake.ID

	rapid.Check(t, func(rt *rapid.T) {
		memberSeq++
		memberID := memberSeq
		record := f.seed(t, memberID, "2025-07")

		steps := rapid.IntRange(1, 12).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			var err error
			switch rapid.IntRange(0, 3).Draw(rt, "op") {
			case 0:
				_, err = f.svc.SubmitProof(memberCtx(memberID), record.ID, pngProof("receipt"))
			case 1:
				_, err = f.svc.Approve(adminCtx(), record.ID)
			case 2:
				_, err = f.svc.Reject(adminCtx(), record.ID, "")
			case 3:
				status := rapid.SampledFrom(statuses).Draw(rt, "status")
				_, err = f.svc.Amend(adminCtx(), record.ID, domain.AmendPatch{Status: &status})
			}
			if err != nil && !errors.Is(err, domain.ErrInvalidTransition) {
				rt.Fatalf("unexpected error: %v", err)
			}

			stored, err := f.repo.Get(context.Background(), record.ID)
			if err != nil {
				rt.Fatalf("get: %v", err)
			}
			if !stored.ProofConsistent() {
				rt.Fatalf("proof invariant broken: status=%s proof=%v", stored.Status, stored.ProofRef)
			}
		}
	})
}
