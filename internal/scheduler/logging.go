package scheduler

import (
	"context"
	"time"

	obslogger "github.com/smallbiznis/iuran/internal/observability/logger"
	"go.uber.org/zap"
)

const (
	outcomeGenerated        = "generated"
	outcomeAlreadyGenerated = "already_generated"
	outcomeHeldElsewhere    = "held_elsewhere"
	outcomeTimeout          = "timeout"
	outcomeFailed           = "failed"
)

// jobRun accumulates what one tick did so the finish line carries it.
type jobRun struct {
	job       string
	runID     string
	startedAt time.Time

	period  string
	created int
	skipped int
	outcome string
}

func (r *jobRun) recordResult(period string, created, skipped int, outcome string) {
	if r == nil {
		return
	}
	r.period = period
	r.created += created
	r.skipped += skipped
	r.outcome = outcome
}

func (s *Scheduler) startJobRun(job string) *jobRun {
	return &jobRun{
		job:       job,
		runID:     s.genID.Generate().String(),
		startedAt: s.clock.Now(),
	}
}

func (s *Scheduler) logger(ctx context.Context) *zap.Logger {
	return obslogger.WithContext(ctx, s.log)
}

func (s *Scheduler) logJobStart(ctx context.Context, run *jobRun) {
	s.logger(ctx).Info("scheduler.job.start",
		zap.String("job", run.job),
		zap.String("run_id", run.runID),
	)
}

func (s *Scheduler) logJobFinish(ctx context.Context, run *jobRun) {
	fields := []zap.Field{
		zap.String("job", run.job),
		zap.String("run_id", run.runID),
		zap.String("outcome", run.outcome),
		zap.Int64("duration_ms", s.clock.Now().Sub(run.startedAt).Milliseconds()),
	}
	if run.period != "" {
		fields = append(fields,
			zap.String("period", run.period),
			zap.Int("created", run.created),
			zap.Int("skipped", run.skipped),
		)
	}

	log := s.logger(ctx)
	switch run.outcome {
	case outcomeFailed, outcomeTimeout:
		log.Warn("scheduler.job.finish", fields...)
	default:
		log.Info("scheduler.job.finish", fields...)
	}
}
