package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/iuran/internal/audit/domain"
	"github.com/smallbiznis/iuran/internal/clock"
	"github.com/smallbiznis/iuran/internal/config"
	duesdomain "github.com/smallbiznis/iuran/internal/dues/domain"
	generationdomain "github.com/smallbiznis/iuran/internal/generation/domain"
	obscontext "github.com/smallbiznis/iuran/internal/observability/context"
	obsmetrics "github.com/smallbiznis/iuran/internal/observability/metrics"
	"github.com/smallbiznis/iuran/internal/viewer"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const JobGenerate = "generate_dues"

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

type Params struct {
	fx.In

	Log        *zap.Logger
	Generation generationdomain.Service
	GenID      *snowflake.Node
	Clock      clock.Clock
	Config     config.Config
}

type Scheduler struct {
	log        *zap.Logger
	cfg        config.SchedulerConfig
	genID      *snowflake.Node
	clock      clock.Clock
	generation generationdomain.Service
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.Generation == nil || p.GenID == nil || p.Clock == nil {
		return nil, ErrInvalidConfig
	}
	cfg := p.Config.Scheduler
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	return &Scheduler{
		log:        p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:        cfg,
		genID:      p.GenID,
		clock:      p.Clock,
		generation: p.Generation,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	timeout time.Duration,
	fn func(ctx context.Context, run *jobRun) error,
) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx = viewer.System(ctx)
	ctx = obscontext.WithActor(ctx, string(auditdomain.ActorTypeSystem), "scheduler")
	run := s.startJobRun(name)
	s.logJobStart(ctx, run)

	m := obsmetrics.Dues()
	m.RecordJobRun(name)

	err := fn(ctx, run)
	if err == nil {
		s.logJobFinish(ctx, run)
		return nil
	}

	m.RecordJobError(name, err)
	// a deadline is a soft failure; the next tick tries again
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		run.outcome = outcomeTimeout
		s.logJobFinish(ctx, run)
		s.logger(ctx).Warn("job timed out",
			zap.String("job", name),
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}
	run.outcome = outcomeFailed
	s.logJobFinish(ctx, run)
	return fmt.Errorf("%s: %w", name, err)
}

// RunOnce generates the current period when it is still open.
func (s *Scheduler) RunOnce(parent context.Context) error {
	return s.runJob(parent, JobGenerate, s.cfg.Timeout, s.GenerateJob)
}

// GenerateJob treats a period that is already generated, or being generated
// by another replica, as done.
func (s *Scheduler) GenerateJob(ctx context.Context, run *jobRun) error {
	period := duesdomain.PeriodOf(s.clock.Now())
	result, err := s.generation.Generate(ctx, period, s.cfg.AmountPerMember)
	switch {
	case errors.Is(err, duesdomain.ErrAlreadyGenerated):
		run.recordResult(period, 0, 0, outcomeAlreadyGenerated)
		return nil
	case errors.Is(err, duesdomain.ErrConflict):
		run.recordResult(period, 0, 0, outcomeHeldElsewhere)
		return nil
	case err != nil:
		run.recordResult(period, result.Created, result.Skipped, outcomeFailed)
		return err
	}

	run.recordResult(result.Period, result.Created, result.Skipped, outcomeGenerated)
	return nil
}
