package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/iuran/internal/audit/domain"
	"github.com/smallbiznis/iuran/internal/blobstore"
	"github.com/smallbiznis/iuran/internal/clock"
	"github.com/smallbiznis/iuran/internal/config"
	"github.com/smallbiznis/iuran/internal/docstore/feed"
	"github.com/smallbiznis/iuran/internal/dues/domain"
	obslogger "github.com/smallbiznis/iuran/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/iuran/internal/observability/metrics"
	"github.com/smallbiznis/iuran/internal/viewer"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log      *zap.Logger
	Clock    clock.Clock
	Repo     domain.Repository
	Blobs    blobstore.Store
	Config   *config.DuesConfigHolder
	AuditSvc auditdomain.Service `optional:"true"`
}

type Service struct {
	log      *zap.Logger
	clock    clock.Clock
	repo     domain.Repository
	blobs    blobstore.Store
	cfg      *config.DuesConfigHolder
	auditSvc auditdomain.Service
	metrics  *obsmetrics.DuesMetrics
}

func New(p Params) domain.Service {
	return &Service{
		log:      p.Log.Named("dues.service"),
		clock:    p.Clock,
		repo:     p.Repo,
		blobs:    p.Blobs,
		cfg:      p.Config,
		auditSvc: p.AuditSvc,
		metrics:  obsmetrics.Dues(),
	}
}

func (s *Service) SubmitProof(ctx context.Context, id snowflake.ID, proof domain.Proof) (domain.Record, error) {
	v, err := requireMember(ctx)
	if err != nil {
		return domain.Record{}, err
	}
	if err := s.validateProof(proof); err != nil {
		return domain.Record{}, err
	}

	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return domain.Record{}, err
	}
	if current.MemberID != v.MemberID {
		return domain.Record{}, domain.ErrNotFound
	}
	if err := domain.TransitionSubmit.Check(current.Status); err != nil {
		return domain.Record{}, err
	}

	maxBytes := s.cfg.Get().Proof.MaxBytes
	blobID, err := s.blobs.Put(ctx, proof.ContentType, &cappedReader{r: proof.Body, remaining: maxBytes})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidProof) {
			return domain.Record{}, err
		}
		return domain.Record{}, fmt.Errorf("%w: store proof: %w", domain.ErrUnavailable, err)
	}

	now := s.clock.Now()
	updated, err := s.repo.UpdateIf(ctx, id,
		map[string]any{"status": domain.TransitionSubmit.From},
		map[string]any{
			"status":     domain.TransitionSubmit.To,
			"proof_ref":  blobID,
			"paid_at":    now,
			"updated_at": now,
		},
	)
	if err != nil {
		s.recordFailure(ctx, domain.TransitionSubmit.Name, id, err, zap.String("orphan_blob_id", blobID))
		return domain.Record{}, err
	}

	s.metrics.RecordTransition(string(domain.TransitionSubmit.From), string(domain.TransitionSubmit.To))
	s.audit(ctx, "dues.submit_proof", updated, map[string]any{
		"from":      string(domain.TransitionSubmit.From),
		"to":        string(domain.TransitionSubmit.To),
		"proof_ref": blobID,
	})
	return *updated, nil
}

func (s *Service) Approve(ctx context.Context, id snowflake.ID) (domain.Record, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.Record{}, err
	}
	t := domain.TransitionApprove

	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return domain.Record{}, err
	}
	if err := t.Check(current.Status); err != nil {
		return domain.Record{}, err
	}

	updated, err := s.repo.UpdateIf(ctx, id,
		map[string]any{"status": t.From},
		map[string]any{
			"status":     t.To,
			"updated_at": s.clock.Now(),
		},
	)
	if err != nil {
		s.recordFailure(ctx, t.Name, id, err)
		return domain.Record{}, err
	}

	s.metrics.RecordTransition(string(t.From), string(t.To))
	s.audit(ctx, "dues.approve", updated, map[string]any{
		"from": string(t.From),
		"to":   string(t.To),
	})
	return *updated, nil
}

func (s *Service) Reject(ctx context.Context, id snowflake.ID, reason string) (domain.Record, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.Record{}, err
	}
	t := domain.TransitionReject

	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return domain.Record{}, err
	}
	if err := t.Check(current.Status); err != nil {
		return domain.Record{}, err
	}

	updated, err := s.repo.UpdateIf(ctx, id,
		map[string]any{"status": t.From},
		map[string]any{
			"status":     t.To,
			"proof_ref":  nil,
			"paid_at":    nil,
			"updated_at": s.clock.Now(),
		},
	)
	if err != nil {
		s.recordFailure(ctx, t.Name, id, err)
		return domain.Record{}, err
	}

	// the record forgets the proof; the audit entry keeps it
	meta := map[string]any{
		"from":   string(t.From),
		"to":     string(t.To),
		"reason": strings.TrimSpace(reason),
	}
	if current.ProofRef != nil {
		meta["rejected_proof_ref"] = *current.ProofRef
	}
	if current.PaidAt != nil {
		meta["rejected_paid_at"] = current.PaidAt.UTC().Format(time.RFC3339)
	}

	s.metrics.RecordTransition(string(t.From), string(t.To))
	s.audit(ctx, "dues.reject", updated, meta)
	return *updated, nil
}

func (s *Service) Amend(ctx context.Context, id snowflake.ID, patch domain.AmendPatch) (domain.Record, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.Record{}, err
	}
	if patch.Amount == nil && patch.Status == nil {
		return domain.Record{}, domain.ErrInvalidAmount
	}
	if patch.Amount != nil && *patch.Amount < 0 {
		return domain.Record{}, domain.ErrInvalidAmount
	}
	if patch.Status != nil && !patch.Status.Valid() {
		return domain.Record{}, domain.ErrInvalidStatus
	}

	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return domain.Record{}, err
	}

	set := map[string]any{"updated_at": s.clock.Now()}
	if patch.Amount != nil {
		set["amount"] = *patch.Amount
	}
	if patch.Status != nil {
		next := *patch.Status
		switch {
		case next == domain.StatusUnpaid:
			set["proof_ref"] = nil
			set["paid_at"] = nil
		case next.RequiresProof() && current.ProofRef == nil:
			return domain.Record{}, domain.ErrInvalidTransition
		}
		set["status"] = next
	}

	updated, err := s.repo.UpdateIf(ctx, id,
		map[string]any{
			"status": current.Status,
			"amount": current.Amount,
		},
		set,
	)
	if err != nil {
		s.recordFailure(ctx, "amend", id, err)
		return domain.Record{}, err
	}

	if updated.Status != current.Status {
		s.metrics.RecordTransition(string(current.Status), string(updated.Status))
	}
	s.audit(ctx, "dues.amend", updated, map[string]any{
		"privileged": true,
		"reason":     strings.TrimSpace(patch.Reason),
		"before":     snapshot(*current),
		"after":      snapshot(*updated),
	})
	return *updated, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (domain.Record, error) {
	v, ok := viewer.FromContext(ctx)
	if !ok {
		return domain.Record{}, domain.ErrForbidden
	}
	record, err := s.repo.Get(ctx, id)
	if err != nil {
		return domain.Record{}, err
	}
	if !v.IsAdmin() && record.MemberID != v.MemberID {
		return domain.Record{}, domain.ErrNotFound
	}
	return *record, nil
}

func (s *Service) ListForMember(ctx context.Context, memberID snowflake.ID) ([]domain.Record, error) {
	v, ok := viewer.FromContext(ctx)
	if !ok {
		return nil, domain.ErrForbidden
	}
	if !v.IsAdmin() && memberID != v.MemberID {
		return nil, domain.ErrForbidden
	}
	if memberID == 0 {
		return nil, domain.ErrInvalidID
	}
	return s.repo.ListForMember(ctx, memberID, s.cfg.Get().Report.MaxRecords)
}

func (s *Service) ListPending(ctx context.Context, limit int) ([]domain.Record, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	max := s.cfg.Get().Pending.MaxRecords
	if limit <= 0 || limit > max {
		limit = max
	}
	return s.repo.ListPending(ctx, limit)
}

// CountPending is not bounded by the pending queue cap.
func (s *Service) CountPending(ctx context.Context) (int64, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return 0, err
	}
	return s.repo.CountByStatus(ctx, domain.StatusPendingValidation)
}

func (s *Service) ListByPeriod(ctx context.Context, period string, limit int) ([]domain.Record, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	normalized, err := domain.ParsePeriod(period)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = s.cfg.Get().Report.MaxRecords
	}
	return s.repo.ListByPeriod(ctx, normalized, limit)
}

func (s *Service) ProofURL(ctx context.Context, id snowflake.ID) (string, error) {
	record, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if record.ProofRef == nil {
		return "", domain.ErrNotFound
	}
	url, err := s.blobs.URLFor(ctx, *record.ProofRef)
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrUnavailable, err)
	}
	return url, nil
}

func (s *Service) Subscribe(predicate func(domain.Record) bool) *feed.Subscription[domain.Record] {
	return s.repo.Subscribe(predicate)
}

func (s *Service) validateProof(proof domain.Proof) error {
	if proof.Body == nil {
		return domain.ErrInvalidProof
	}
	cfg := s.cfg.Get().Proof
	if proof.Size > cfg.MaxBytes {
		return domain.ErrInvalidProof
	}
	contentType := strings.ToLower(strings.TrimSpace(proof.ContentType))
	for _, allowed := range cfg.AllowedTypes {
		if contentType == strings.ToLower(allowed) {
			return nil
		}
	}
	return domain.ErrInvalidProof
}

func (s *Service) recordFailure(ctx context.Context, operation string, id snowflake.ID, err error, fields ...zap.Field) {
	log := obslogger.WithRecord(obslogger.WithContext(ctx, s.log), id.String())
	if errors.Is(err, domain.ErrConflict) {
		s.metrics.RecordConflict(operation)
		log.Info("dues write lost race", append(fields, zap.String("operation", operation))...)
		return
	}
	log.Warn("dues write failed", append(fields, zap.String("operation", operation), zap.Error(err))...)
}

func (s *Service) audit(ctx context.Context, action string, record *domain.Record, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	metadata["member_id"] = record.MemberID.String()
	metadata["period"] = record.Period
	if err := s.auditSvc.AuditLog(ctx, auditdomain.Entry{
		Action:     action,
		TargetType: domain.Collection,
		TargetID:   record.ID.String(),
		Metadata:   metadata,
	}); err != nil {
		obslogger.WithContext(ctx, s.log).Warn("audit write failed",
			zap.String("action", action),
			zap.String("record_id", record.ID.String()),
			zap.Error(err),
		)
	}
}

func snapshot(r domain.Record) map[string]any {
	out := map[string]any{
		"amount": r.Amount,
		"status": string(r.Status),
	}
	if r.ProofRef != nil {
		out["proof_ref"] = *r.ProofRef
	}
	return out
}

func requireAdmin(ctx context.Context) (viewer.Viewer, error) {
	v, ok := viewer.FromContext(ctx)
	if !ok || !v.IsAdmin() {
		return viewer.Viewer{}, domain.ErrForbidden
	}
	return v, nil
}

func requireMember(ctx context.Context) (viewer.Viewer, error) {
	v, ok := viewer.FromContext(ctx)
	if !ok || v.Role != viewer.RoleMember || v.MemberID == 0 {
		return viewer.Viewer{}, domain.ErrForbidden
	}
	return v, nil
}

// cappedReader fails the upload once more than remaining bytes are read.
type cappedReader struct {
	r         io.Reader
	remaining int64
}

func (c *cappedReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.remaining -= int64(n)
	if c.remaining < 0 {
		return n, domain.ErrInvalidProof
	}
	return n, err
}
