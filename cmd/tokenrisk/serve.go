package main

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"

	"token-risk-lab/internal/api"
	"token-risk-lab/internal/logging"
	"token-risk-lab/internal/orchestrator"
	"token-risk-lab/internal/scheduler"
)

func newServeCmd(configPath *string) *cobra.Command {
	var (
		addr       string
		noWorkers  bool
		noSchedule bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API with workers, watchdog and scheduled jobs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			if noWorkers && cfg.Queue.Driver != "redis" {
				return errors.New("--no-workers requires queue.driver=redis, tasks would never run")
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			a, err := newApp(ctx, cfg, log, appOptions{withQueue: true})
			if err != nil {
				return err
			}
			defer a.Close()

			srv := api.NewServer(api.Options{
				Service:  a.orchestrator,
				Logger:   logging.Component(log, "api"),
				Gatherer: a.registry,
				Checks:   a.checks,
				Debug:    cfg.Logging.Level == "debug",
			})

			var sched *scheduler.Scheduler
			if cfg.Scheduler.Enabled && !noSchedule {
				sched, err = newScheduler(a)
				if err != nil {
					return err
				}
				sched.Start()
			}

			errCh := make(chan error, 3)
			running := 1
			go func() { errCh <- srv.Run(ctx, cfg.Server.Addr) }()

			if !noWorkers {
				running += 2
				pool := startWorkers(ctx, a)
				go func() { pool.Wait(); errCh <- nil }()
				go func() { errCh <- runWatchdog(ctx, a) }()
			}

			log.Info().Str("addr", cfg.Server.Addr).Bool("workers", !noWorkers).Bool("scheduler", sched != nil).
				Msg("tokenrisk serving")

			err = runUntilDone(errCh, running, cancel)
			if sched != nil {
				stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				if serr := sched.Stop(stopCtx); serr != nil {
					log.Warn().Err(serr).Msg("scheduler did not stop cleanly")
				}
			}
			log.Info().Msg("shutdown complete")
			return err
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	cmd.Flags().BoolVar(&noWorkers, "no-workers", false, "do not run task workers in this process")
	cmd.Flags().BoolVar(&noSchedule, "no-scheduler", false, "do not run periodic jobs in this process")
	return cmd
}

func newWorkerCmd(configPath *string) *cobra.Command {
	var workers int

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Consume queued tasks from redis",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if cfg.Queue.Driver != "redis" {
				return errors.New("worker requires queue.driver=redis; use serve for in-process workers")
			}
			if workers > 0 {
				cfg.Orchestrator.Workers = workers
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			a, err := newApp(ctx, cfg, log, appOptions{withQueue: true})
			if err != nil {
				return err
			}
			defer a.Close()

			errCh := make(chan error, 2)
			pool := startWorkers(ctx, a)
			go func() { pool.Wait(); errCh <- nil }()
			go func() { errCh <- runWatchdog(ctx, a) }()

			err = runUntilDone(errCh, 2, cancel)
			log.Info().Msg("worker stopped")
			return err
		},
	}

	cmd.Flags().IntVar(&workers, "workers", 0, "number of workers (overrides orchestrator.workers)")
	return cmd
}

func startWorkers(ctx context.Context, a *app) *orchestrator.Pool {
	pool := orchestrator.NewPool(a.orchestrator, a.queue, a.cfg.Orchestrator.Workers,
		logging.Component(a.log, "pool"), a.metrics)
	pool.Start(ctx)
	return pool
}

func runWatchdog(ctx context.Context, a *app) error {
	w := orchestrator.NewWatchdog(a.tasks, a.queue, a.cfg.Orchestrator.StaleAfter, a.cfg.Orchestrator.WatchdogEvery,
		logging.Component(a.log, "watchdog"))
	w.Run(ctx)
	return nil
}

func newScheduler(a *app) (*scheduler.Scheduler, error) {
	sc := a.cfg.Scheduler
	return scheduler.New(scheduler.Options{
		Config: scheduler.Config{
			TrendingSpec:  sc.TrendingSpec,
			TrendingLimit: sc.TrendingLimit,
			MetricsSpec:   sc.MetricsSpec,
			MetricsBatch:  sc.MetricsBatch,
			RecentWindow:  time.Duration(sc.RecentWindowHour) * time.Hour,
			CleanupSpec:   sc.CleanupSpec,
			Retention:     time.Duration(sc.RetentionDays) * 24 * time.Hour,
		},
		Submitter: a.orchestrator,
		Feed:      a.dexScreener,
		Collector: a.collector,
		Tasks:     a.tasks,
		Metrics:   a.samples,
		Logger:    logging.Component(a.log, "scheduler"),
		Observer:  a.metrics,
	})
}
