package reconciler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

var Module = fx.Module("reconciler",
	fx.Provide(ProvideConfig),
	fx.Provide(New),
	fx.Invoke(Schedule),
)

// Schedule registers the sweep on a cron scheduler bound to the app lifecycle.
func Schedule(lc fx.Lifecycle, cfg Config, r *Reconciler, log *zap.Logger) error {
	if !cfg.Enabled {
		log.Info("reconciler disabled")
		lc.Append(fx.Hook{OnStop: func(context.Context) error {
			r.Close()
			return nil
		}})
		return nil
	}

	sched := cron.New(cron.WithParser(cronParser), cron.WithLocation(time.UTC))
	ctx, cancel := context.WithCancel(context.Background())

	if _, err := sched.AddFunc(cfg.Schedule, func() {
		_, _ = r.Sweep(ctx)
	}); err != nil {
		cancel()
		return err
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			sched.Start()
			log.Info("reconciler scheduled", zap.String("schedule", cfg.Schedule), zap.Int("workers", cfg.Workers))
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-sched.Stop().Done():
			case <-stopCtx.Done():
			}
			r.Close()
			return nil
		},
	})
	return nil
}
