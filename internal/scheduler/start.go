package scheduler

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	"courier-dispatch/internal/common/logger"
	"courier-dispatch/internal/config"
	"courier-dispatch/internal/connections/database"
	"courier-dispatch/internal/connections/rabbitmq"
	"courier-dispatch/internal/notifier"
	"courier-dispatch/internal/scheduler/repository"
	"courier-dispatch/internal/scheduler/service"
)

// Run registers the periodic maintenance jobs and blocks until ctx is
// canceled.
func Run(ctx context.Context, cfg *config.Config) error {
	log := logger.New("scheduler")

	pool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()

	mq, err := rabbitmq.Dial(cfg.RabbitMQ)
	if err != nil {
		return fmt.Errorf("rabbitmq: %w", err)
	}
	defer mq.Close()
	if err := mq.DeclareTopology(); err != nil {
		return fmt.Errorf("declare topology: %w", err)
	}

	maintenance := service.NewMaintenance(
		repository.NewPostgresMaintenance(pool),
		notifier.New(mq),
		cfg.Scheduler.WaitingAge,
		log,
	)

	c := cron.New()
	jobs := []struct {
		spec string
		name string
		run  func(context.Context) error
	}{
		{cfg.Scheduler.DailyReset, "daily_reset", maintenance.ResetDaily},
		{cfg.Scheduler.MonthlyReset, "monthly_reset", maintenance.ResetMonthly},
		{cfg.Scheduler.WaitingSweep, "waiting_sweep", maintenance.SweepWaiting},
	}
	for _, j := range jobs {
		j := j
		if _, err := c.AddFunc(j.spec, func() { _ = j.run(ctx) }); err != nil {
			return fmt.Errorf("schedule %s (%q): %w", j.name, j.spec, err)
		}
		log.Info("job_scheduled", map[string]any{"job": j.name, "spec": j.spec})
	}

	c.Start()
	<-ctx.Done()
	log.Info("graceful_shutdown", nil)
	<-c.Stop().Done() // let a running job finish
	return nil
}
