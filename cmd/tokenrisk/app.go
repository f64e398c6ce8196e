package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"token-risk-lab/internal/aggregate"
	"token-risk-lab/internal/api"
	"token-risk-lab/internal/cache"
	"token-risk-lab/internal/collector"
	"token-risk-lab/internal/config"
	"token-risk-lab/internal/heuristic"
	"token-risk-lab/internal/logging"
	"token-risk-lab/internal/observability"
	"token-risk-lab/internal/orchestrator"
	"token-risk-lab/internal/queue"
	"token-risk-lab/internal/riskmodel"
	"token-risk-lab/internal/smartmoney"
	"token-risk-lab/internal/sources"
	"token-risk-lab/internal/sources/dex"
	"token-risk-lab/internal/sources/etherscan"
	"token-risk-lab/internal/sources/goplus"
	"token-risk-lab/internal/sources/solana"
	"token-risk-lab/internal/storage"
	chstore "token-risk-lab/internal/storage/clickhouse"
	"token-risk-lab/internal/storage/memory"
	pgstore "token-risk-lab/internal/storage/postgres"
)

// app holds every wired component of one process.
type app struct {
	cfg      config.Config
	log      zerolog.Logger
	registry *prometheus.Registry
	metrics  *observability.Metrics

	tasks   storage.TaskStore
	samples storage.TokenMetricsStore
	queue   queue.Queue

	dexScreener  *dex.DexScreener
	collector    *collector.Collector
	orchestrator *orchestrator.Orchestrator

	checks  map[string]api.HealthCheck
	closers []func()
}

type appOptions struct {
	// withQueue is false for one-shot runs that execute tasks in the caller.
	withQueue bool
}

func loadConfig(path string) (config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, zerolog.Nop(), err
	}
	log := logging.New(cfg.Logging.Level, cfg.Logging.Format)

	warnings, err := cfg.Validate()
	for _, w := range warnings {
		log.Warn().Msg(w)
	}
	if err != nil {
		return config.Config{}, log, err
	}
	return cfg, log, nil
}

func newApp(ctx context.Context, cfg config.Config, log zerolog.Logger, opts appOptions) (_ *app, err error) {
	a := &app{
		cfg:      cfg,
		log:      log,
		registry: prometheus.NewRegistry(),
		checks:   make(map[string]api.HealthCheck),
	}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics = observability.NewMetrics(a.registry, "token_risk")

	if err := a.openStores(ctx); err != nil {
		return nil, err
	}

	redisClient := a.redisClient()

	var backend cache.Backend = cache.NewMemoryBackend()
	if cfg.Cache.RedisAddr != "" {
		backend = cache.NewRedisBackend(redisClient, "tokenrisk:snapshot:")
	}
	snapshots := cache.New(backend, cfg.Cache.TTL(), logging.Component(log, "cache"), a.metrics)

	if opts.withQueue {
		switch cfg.Queue.Driver {
		case "redis":
			a.queue = queue.NewRedisQueue(redisClient, cfg.Queue.Key)
		default:
			mq := queue.NewMemoryQueue(cfg.Queue.Capacity)
			a.queue = mq
			a.closers = append(a.closers, mq.Close)
		}
	}

	a.collector = collector.New(
		a.buildSources(),
		snapshots,
		collector.Options{
			PerSourceTimeout: cfg.Collector.PerSourceTimeout(),
			MaxConcurrency:   cfg.Collector.MaxConcurrency,
		},
		logging.Component(log, "collector"),
		a.metrics,
	)

	agg := cfg.Aggregation
	a.orchestrator = orchestrator.New(orchestrator.Options{
		Store:     a.tasks,
		Queue:     a.queue,
		Collector: a.collector,
		Engine: heuristic.NewEngine(heuristic.Config{
			MinLiquidityUSD: cfg.Analysis.MinLiquidityUSD,
			MinHolders:      cfg.Analysis.MinHolders,
			MaxRiskScore:    cfg.Analysis.MaxRiskScore,
		}),
		Scorer:     riskmodel.LoadScorer(cfg.Model.Path, logging.Component(log, "riskmodel")),
		SmartMoney: smartmoney.NewAnalyzer(cfg.SmartMoney.KnownWallets, logging.Component(log, "smartmoney")),
		Aggregator: aggregate.New(aggregate.Config{
			HeuristicWeight:         agg.HeuristicWeight,
			MLWeight:                agg.MLWeight,
			SmartMoneyWeight:        agg.SmartMoneyWeight,
			AvoidAbove:              agg.AvoidAbove,
			InvestigateBelow:        agg.InvestigateBelow,
			SmartMoneyInterestAbove: agg.SmartMoneyInterestAbove,
			MLNoteAbove:             agg.MLNoteAbove,
			MaxCriticalReasons:      agg.MaxCriticalReasons,
		}),
		TaskTimeout:    cfg.Orchestrator.TaskTimeout,
		PersistRetries: cfg.Orchestrator.PersistRetries,
		Logger:         logging.Component(log, "orchestrator"),
		Metrics:        a.metrics,
	})

	return a, nil
}

// openStores selects the task store and the metrics time series store.
func (a *app) openStores(ctx context.Context) error {
	switch a.cfg.Storage.Driver {
	case "postgres":
		pool, err := pgstore.NewPool(ctx, a.cfg.Storage.PostgresDSN, postgresPoolOptions(a.cfg.Storage))
		if err != nil {
			return err
		}
		a.closers = append(a.closers, pool.Close)
		a.checks["postgres"] = func(ctx context.Context) error { return pool.Ping(ctx) }
		a.tasks = storage.InstrumentTaskStore(pgstore.NewTaskStore(pool), "postgres", a.metrics)
	default:
		a.tasks = storage.InstrumentTaskStore(memory.NewTaskStore(), "memory", a.metrics)
	}

	if a.cfg.Storage.ClickHouseDSN == "" {
		a.samples = memory.NewTokenMetricsStore()
		return nil
	}
	conn, err := chstore.NewConn(ctx, a.cfg.Storage.ClickHouseDSN)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, func() { _ = conn.Close() })
	a.checks["clickhouse"] = func(ctx context.Context) error { return conn.Ping(ctx) }
	a.samples = chstore.NewTokenMetricsStore(conn)
	return nil
}

func postgresPoolOptions(sc config.StorageConfig) pgstore.PoolOptions {
	return pgstore.PoolOptions{
		MaxConns:        sc.PostgresMaxConns,
		MaxConnIdleTime: sc.PostgresMaxConnIdle(),
	}
}

// redisClient returns a shared client when any component is configured for
// redis, nil otherwise.
func (a *app) redisClient() *redis.Client {
	addr := a.cfg.Cache.RedisAddr
	if a.cfg.Queue.Driver == "redis" && a.cfg.Queue.RedisAddr != "" {
		addr = a.cfg.Queue.RedisAddr
	}
	if addr == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	a.closers = append(a.closers, func() { _ = client.Close() })
	a.checks["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
	return client
}

// buildSources wires the collaborators, each behind a rate limiter and breaker.
func (a *app) buildSources() *sources.Registry {
	sc := a.cfg.Sources
	httpClient := sources.NewHTTPClient()
	log := logging.Component(a.log, "sources")

	a.dexScreener = dex.NewDexScreener(sc.DexScreenerURL, httpClient)
	integrations := []dex.Integration{a.dexScreener}
	if sc.DEXToolsAPIKey != "" {
		integrations = append(integrations, dex.NewDEXTools(sc.DEXToolsURL, sc.DEXToolsAPIKey, httpClient))
	}

	explorer := etherscan.NewClient(sc.EtherscanURL, sc.EtherscanAPIKey, httpClient)
	rpc := solana.NewHTTPClient(sc.SolanaRPCURL, solana.WithHTTPClient(httpClient), solana.WithRetry(2, 200*time.Millisecond))

	raw := []sources.Source{
		dex.NewAggregator(log, integrations...),
		etherscan.NewExplorer(explorer, log),
		solana.NewMintSource(rpc, log),
		etherscan.NewHolders(explorer, log),
		solana.NewHolderSource(rpc, log),
		goplus.New(sc.GoPlusURL, sc.GoPlusAPIKey, httpClient),
	}

	reg := sources.NewRegistry()
	for _, src := range raw {
		reg.Register(sources.NewGuard(src, sources.GuardOptions{
			RequestsPerSecond: sc.RequestsPerSecond,
			MaxFailures:       sc.BreakerMaxFailures,
			Logger:            log,
		}))
	}
	return reg
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// runUntilDone collects n goroutine results. The first one to return cancels
// the rest; context cancellation is not reported as an error.
func runUntilDone(errCh <-chan error, n int, cancel context.CancelFunc) error {
	var errs []error
	for i := 0; i < n; i++ {
		err := <-errCh
		cancel()
		if err != nil && !errors.Is(err, context.Canceled) {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("shutdown: %w", errors.Join(errs...))
	}
	return nil
}
