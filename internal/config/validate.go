package config

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// Validate checks option ranges. It returns warnings for optional settings
// that are missing (degraded but runnable) and an error listing every
// invalid option.
func (c Config) Validate() (warnings []string, err error) {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if c.Analysis.MinLiquidityUSD < 0 {
		add("analysis.minLiquidityUSD must be >= 0")
	}
	if c.Analysis.MinHolders < 0 {
		add("analysis.minHolders must be >= 0")
	}
	if !unit(c.Analysis.MaxRiskScore) {
		add("analysis.maxRiskScore must be in [0,1]")
	}
	if c.Cache.TTLSeconds <= 0 {
		add("cache.ttlSeconds must be > 0")
	}
	if c.Collector.PerSourceTimeoutMs <= 0 {
		add("collector.perSourceTimeoutMs must be > 0")
	}
	if c.Collector.MaxConcurrency <= 0 {
		add("collector.maxConcurrency must be > 0")
	}

	a := c.Aggregation
	for _, f := range []struct {
		name string
		v    float64
	}{
		{"aggregation.heuristicWeight", a.HeuristicWeight},
		{"aggregation.mlWeight", a.MLWeight},
		{"aggregation.smartMoneyWeight", a.SmartMoneyWeight},
		{"aggregation.avoidAbove", a.AvoidAbove},
		{"aggregation.investigateBelow", a.InvestigateBelow},
		{"aggregation.smartMoneyInterestAbove", a.SmartMoneyInterestAbove},
		{"aggregation.mlNoteAbove", a.MLNoteAbove},
	} {
		if !unit(f.v) {
			add("%s must be in [0,1]", f.name)
		}
	}
	if sum := a.HeuristicWeight + a.MLWeight + a.SmartMoneyWeight; math.Abs(sum-1) > 1e-9 {
		add("aggregation weights must sum to 1, got %.4f", sum)
	}
	if a.InvestigateBelow > a.AvoidAbove {
		add("aggregation.investigateBelow must not exceed aggregation.avoidAbove")
	}
	if a.MaxCriticalReasons < 0 {
		add("aggregation.maxCriticalReasons must be >= 0")
	}

	o := c.Orchestrator
	if o.Workers <= 0 {
		add("orchestrator.workers must be > 0")
	}
	if o.TaskTimeout <= 0 {
		add("orchestrator.taskTimeout must be > 0")
	}
	if o.PersistRetries < 0 {
		add("orchestrator.persistRetries must be >= 0")
	}
	if o.StaleAfter <= 0 {
		add("orchestrator.staleAfter must be > 0")
	}
	if o.WatchdogEvery <= 0 {
		add("orchestrator.watchdogEvery must be > 0")
	}

	switch c.Storage.Driver {
	case "memory":
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			add("storage.postgresDSN is required when storage.driver=postgres")
		}
	default:
		add("storage.driver must be memory or postgres, got %q", c.Storage.Driver)
	}
	if c.Storage.PostgresMaxConns < 0 {
		add("storage.postgresMaxConns must be >= 0")
	}
	if c.Storage.PostgresMaxConnIdleSeconds < 0 {
		add("storage.postgresMaxConnIdleSeconds must be >= 0")
	}

	switch c.Queue.Driver {
	case "memory":
		if c.Queue.Capacity <= 0 {
			add("queue.capacity must be > 0")
		}
	case "redis":
		if c.Queue.RedisAddr == "" {
			add("queue.redisAddr is required when queue.driver=redis")
		}
	default:
		add("queue.driver must be memory or redis, got %q", c.Queue.Driver)
	}

	if c.Scheduler.Enabled && c.Scheduler.RetentionDays <= 0 {
		add("scheduler.retentionDays must be > 0")
	}

	if c.Sources.EtherscanAPIKey == "" {
		warnings = append(warnings, "sources.etherscanApiKey not set: explorer and holder data will use defaults")
	}
	if c.Sources.GoPlusAPIKey == "" {
		warnings = append(warnings, "sources.goPlusApiKey not set: security data is rate limited")
	}
	if c.Sources.DEXToolsAPIKey == "" {
		warnings = append(warnings, "sources.dexToolsApiKey not set: DEXTools integration disabled")
	}
	if c.Model.Path == "" {
		warnings = append(warnings, "model.path not set: using fallback scoring formula")
	}
	if c.Storage.ClickHouseDSN == "" {
		warnings = append(warnings, "storage.clickhouseDSN not set: token metrics kept in memory")
	}

	if len(problems) > 0 {
		return warnings, fmt.Errorf("%w: %v", ErrInvalidConfig, problems)
	}
	return warnings, nil
}

func unit(v float64) bool {
	return v >= 0 && v <= 1 && !math.IsNaN(v)
}
