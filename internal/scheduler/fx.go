package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/smallbiznis/iuran/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("scheduler",
	fx.Provide(New),
	fx.Invoke(NewScheduler),
)

// NewScheduler registers the generation job on a UTC cron when enabled.
func NewScheduler(lc fx.Lifecycle, cfg config.Config, sched *Scheduler) error {
	if !cfg.Scheduler.Enabled {
		return nil
	}
	if cfg.Scheduler.AmountPerMember <= 0 {
		sched.log.Warn("scheduler enabled without SCHEDULER_AMOUNT_PER_MEMBER; generation job not registered")
		return nil
	}

	c := cron.New(cron.WithLocation(time.UTC))
	ctx, cancel := context.WithCancel(context.Background())
	if _, err := c.AddFunc(cfg.Scheduler.Spec, func() {
		if err := sched.RunOnce(ctx); err != nil {
			sched.log.Error("scheduled job failed", zap.Error(err))
		}
	}); err != nil {
		cancel()
		return err
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			c.Start()
			sched.log.Info("scheduler started", zap.String("spec", cfg.Scheduler.Spec))
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-c.Stop().Done():
			case <-stopCtx.Done():
			}
			return nil
		},
	})
	return nil
}
