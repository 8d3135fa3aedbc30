package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/iuran/internal/audit/domain"
	"github.com/smallbiznis/iuran/internal/clock"
	directorydomain "github.com/smallbiznis/iuran/internal/directory/domain"
	"github.com/smallbiznis/iuran/internal/docstore"
	duesdomain "github.com/smallbiznis/iuran/internal/dues/domain"
	"github.com/smallbiznis/iuran/internal/generation/domain"
	"github.com/smallbiznis/iuran/internal/lock"
	obslogger "github.com/smallbiznis/iuran/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/iuran/internal/observability/metrics"
	"github.com/smallbiznis/iuran/internal/viewer"
	"github.com/smallbiznis/iuran/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const lockTTL = 5 * time.Minute

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Repo      domain.Repository
	Dues      duesdomain.Repository
	Directory directorydomain.Service
	Locker    *lock.Locker        `optional:"true"`
	AuditSvc  auditdomain.Service `optional:"true"`
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	clock     clock.Clock
	repo      domain.Repository
	dues      duesdomain.Repository
	directory directorydomain.Service
	locker    *lock.Locker
	auditSvc  auditdomain.Service
	metrics   *obsmetrics.DuesMetrics
}

func New(p Params) domain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("generation.service"),
		genID:     p.GenID,
		clock:     p.Clock,
		repo:      p.Repo,
		dues:      p.Dues,
		directory: p.Directory,
		locker:    p.Locker,
		auditSvc:  p.AuditSvc,
		metrics:   obsmetrics.Dues(),
	}
}

func (s *Service) Get(ctx context.Context, period string) (*domain.Batch, error) {
	normalized, err := duesdomain.ParsePeriod(period)
	if err != nil {
		return nil, err
	}
	batch, err := s.repo.FindByPeriod(ctx, s.db, normalized)
	if err != nil {
		return nil, unavailable(err)
	}
	return batch, nil
}

func (s *Service) Generate(ctx context.Context, period string, amountPerMember int64) (domain.Result, error) {
	v, ok := viewer.FromContext(ctx)
	if !ok || (!v.IsAdmin() && v.Role != viewer.RoleSystem) {
		return domain.Result{}, duesdomain.ErrForbidden
	}
	normalized, err := duesdomain.ParsePeriod(period)
	if err != nil {
		return domain.Result{}, err
	}
	if amountPerMember <= 0 {
		return domain.Result{}, duesdomain.ErrInvalidAmount
	}
	log := obslogger.WithPeriod(obslogger.WithContext(ctx, s.log), normalized)

	if err := s.ensureOpen(ctx, normalized); err != nil {
		return domain.Result{}, err
	}

	if s.locker.Enabled() {
		key := "dues:generate:" + normalized
		token, acquired, err := s.locker.TryLock(ctx, key, lockTTL)
		if err != nil {
			return domain.Result{}, fmt.Errorf("%w: generation lock: %w", duesdomain.ErrUnavailable, err)
		}
		if !acquired {
			log.Info("generation already running elsewhere")
			return domain.Result{}, duesdomain.ErrConflict
		}
		defer func() {
			if err := s.locker.Release(context.WithoutCancel(ctx), key, token); err != nil {
				log.Warn("release generation lock failed", zap.Error(err))
			}
		}()
		// the holder before us may have finished
		if err := s.ensureOpen(ctx, normalized); err != nil {
			return domain.Result{}, err
		}
	}

	members, err := s.directory.ListMembers(ctx, true)
	if err != nil {
		return domain.Result{}, unavailable(err)
	}

	result := domain.Result{Period: normalized, Members: len(members)}
	for _, member := range members {
		created, err := s.createFor(ctx, member.ID, normalized, amountPerMember)
		if err != nil {
			s.metrics.AddGenerated(result.Created, result.Skipped)
			log.Warn("generation stopped before marker",
				zap.Int("created", result.Created),
				zap.Int("skipped", result.Skipped),
				zap.Error(err),
			)
			return result, err
		}
		if created {
			result.Created++
		} else {
			result.Skipped++
		}
	}
	s.metrics.AddGenerated(result.Created, result.Skipped)

	batch := &domain.Batch{
		Period:          normalized,
		AmountPerMember: amountPerMember,
		CreatedCount:    result.Created,
		SkippedCount:    result.Skipped,
		CreatedBy:       v.Subject(),
		CreatedAt:       s.clock.Now(),
	}
	if err := s.repo.Insert(ctx, s.db, batch); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return result, duesdomain.ErrAlreadyGenerated
		}
		return result, unavailable(err)
	}

	log.Info("period generated",
		zap.Int("members", result.Members),
		zap.Int("created", result.Created),
		zap.Int("skipped", result.Skipped),
	)
	s.audit(ctx, batch, result)
	return result, nil
}

func (s *Service) ensureOpen(ctx context.Context, period string) error {
	existing, err := s.repo.FindByPeriod(ctx, s.db, period)
	if err != nil {
		return unavailable(err)
	}
	if existing != nil {
		return duesdomain.ErrAlreadyGenerated
	}
	return nil
}

// createFor reports false when the member already has a record for period.
func (s *Service) createFor(ctx context.Context, memberID snowflake.ID, period string, amount int64) (bool, error) {
	existing, err := s.dues.FindByMemberPeriod(ctx, memberID, period)
	if err != nil {
		return false, err
	}
	if existing != nil {
		return false, nil
	}

	now := s.clock.Now()
	record := &duesdomain.Record{
		ID:        s.genID.Generate(),
		MemberID:  memberID,
		Period:    period,
		Amount:    amount,
		Status:    duesdomain.StatusUnpaid,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.dues.Create(ctx, record); err != nil {
		if errors.Is(err, docstore.ErrDuplicate) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *Service) audit(ctx context.Context, batch *domain.Batch, result domain.Result) {
	if s.auditSvc == nil {
		return
	}
	err := s.auditSvc.AuditLog(ctx, auditdomain.Entry{
		Action:     "generation.run",
		TargetType: "generation_batch",
		TargetID:   batch.Period,
		Metadata: map[string]any{
			"amount_per_member": batch.AmountPerMember,
			"members":           result.Members,
			"created":           result.Created,
			"skipped":           result.Skipped,
		},
	})
	if err != nil {
		s.log.Warn("audit write failed", zap.String("period", batch.Period), zap.Error(err))
	}
}

func unavailable(err error) error {
	if errors.Is(err, duesdomain.ErrUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", duesdomain.ErrUnavailable, err)
}
