package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	configPathEnv = "TOKENRISK_CONFIG"

	envPostgresDSN     = "DATABASE_URL"
	envClickHouseDSN   = "CLICKHOUSE_DSN"
	envRedisAddr       = "REDIS_ADDR"
	envLogLevel        = "LOG_LEVEL"
	envLogFormat       = "LOG_FORMAT"
	envServerAddr      = "SERVER_ADDR"
	envMinLiquidity    = "MIN_LIQUIDITY_USD"
	envMinHolders      = "MIN_HOLDERS"
	envMaxRiskScore    = "MAX_RISK_SCORE"
	envCacheTTL        = "CACHE_TTL_SECONDS"
	envSourceTimeoutMs = "PER_SOURCE_TIMEOUT_MS"
	envSmartWallets    = "SMART_WALLETS"
	envModelPath       = "SCAM_MODEL_PATH"
	envEtherscanKey    = "ETHERSCAN_API_KEY"
	envDEXToolsKey     = "DEXTOOLS_API_KEY"
	envGoPlusKey       = "GOPLUS_API_KEY"
	envSolanaRPC       = "SOLANA_RPC_URL"
	envStorageDriver   = "STORAGE_DRIVER"
	envQueueDriver     = "QUEUE_DRIVER"
)

// Config holds every recognized option of the analysis service.
type Config struct {
	Analysis     AnalysisConfig     `yaml:"analysis"`
	Cache        CacheConfig        `yaml:"cache"`
	Collector    CollectorConfig    `yaml:"collector"`
	SmartMoney   SmartMoneyConfig   `yaml:"smartMoney"`
	Aggregation  AggregationConfig  `yaml:"aggregation"`
	Model        ModelConfig        `yaml:"model"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Storage      StorageConfig      `yaml:"storage"`
	Queue        QueueConfig        `yaml:"queue"`
	Server       ServerConfig       `yaml:"server"`
	Sources      SourcesConfig      `yaml:"sources"`
	Scheduler    SchedulerConfig    `yaml:"scheduler"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// AnalysisConfig drives heuristic thresholds.
type AnalysisConfig struct {
	MinLiquidityUSD float64 `yaml:"minLiquidityUSD"`
	MinHolders      int     `yaml:"minHolders"`
	MaxRiskScore    float64 `yaml:"maxRiskScore"`
}

// CacheConfig configures the snapshot cache.
type CacheConfig struct {
	TTLSeconds int    `yaml:"ttlSeconds"`
	RedisAddr  string `yaml:"redisAddr"` // empty = in-process cache
}

// TTL returns the cache TTL as a duration.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// CollectorConfig configures source fan-out.
type CollectorConfig struct {
	PerSourceTimeoutMs int `yaml:"perSourceTimeoutMs"`
	MaxConcurrency     int `yaml:"maxConcurrency"`
}

// PerSourceTimeout returns the per-call deadline.
func (c CollectorConfig) PerSourceTimeout() time.Duration {
	return time.Duration(c.PerSourceTimeoutMs) * time.Millisecond
}

// SmartMoneyConfig seeds the known smart wallet set.
type SmartMoneyConfig struct {
	KnownWallets []string `yaml:"knownWallets"`
}

// AggregationConfig holds the overall-risk weights and recommendation thresholds.
type AggregationConfig struct {
	HeuristicWeight         float64 `yaml:"heuristicWeight"`
	MLWeight                float64 `yaml:"mlWeight"`
	SmartMoneyWeight        float64 `yaml:"smartMoneyWeight"`
	AvoidAbove              float64 `yaml:"avoidAbove"`
	InvestigateBelow        float64 `yaml:"investigateBelow"`
	SmartMoneyInterestAbove float64 `yaml:"smartMoneyInterestAbove"`
	MLNoteAbove             float64 `yaml:"mlNoteAbove"`
	MaxCriticalReasons      int     `yaml:"maxCriticalReasons"`
}

// ModelConfig points at an optional exported logistic model.
type ModelConfig struct {
	Path string `yaml:"path"`
}

// OrchestratorConfig configures task execution.
type OrchestratorConfig struct {
	Workers        int           `yaml:"workers"`
	TaskTimeout    time.Duration `yaml:"taskTimeout"`
	PersistRetries int           `yaml:"persistRetries"`
	StaleAfter     time.Duration `yaml:"staleAfter"`
	WatchdogEvery  time.Duration `yaml:"watchdogEvery"`
}

// StorageConfig selects the task store backend.
type StorageConfig struct {
	Driver        string `yaml:"driver"` // memory | postgres
	PostgresDSN   string `yaml:"postgresDSN"`
	ClickHouseDSN string `yaml:"clickhouseDSN"`

	// pgx pool sizing; zero keeps the pgxpool default
	PostgresMaxConns           int32 `yaml:"postgresMaxConns"`
	PostgresMaxConnIdleSeconds int   `yaml:"postgresMaxConnIdleSeconds"`
}

// PostgresMaxConnIdle returns the idle connection lifetime.
func (c StorageConfig) PostgresMaxConnIdle() time.Duration {
	return time.Duration(c.PostgresMaxConnIdleSeconds) * time.Second
}

// QueueConfig selects the job queue backend.
type QueueConfig struct {
	Driver    string `yaml:"driver"` // memory | redis
	RedisAddr string `yaml:"redisAddr"`
	Key       string `yaml:"key"`
	Capacity  int    `yaml:"capacity"`
}

// ServerConfig configures the HTTP transport.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// SourcesConfig holds external collaborator endpoints and keys.
type SourcesConfig struct {
	DexScreenerURL     string  `yaml:"dexScreenerUrl"`
	DEXToolsURL        string  `yaml:"dexToolsUrl"`
	DEXToolsAPIKey     string  `yaml:"dexToolsApiKey"`
	EtherscanURL       string  `yaml:"etherscanUrl"`
	EtherscanAPIKey    string  `yaml:"etherscanApiKey"`
	GoPlusURL          string  `yaml:"goPlusUrl"`
	GoPlusAPIKey       string  `yaml:"goPlusApiKey"`
	SolanaRPCURL       string  `yaml:"solanaRpcUrl"`
	RequestsPerSecond  float64 `yaml:"requestsPerSecond"`
	BreakerMaxFailures uint32  `yaml:"breakerMaxFailures"`
}

// SchedulerConfig holds cron specs for housekeeping jobs.
type SchedulerConfig struct {
	Enabled          bool   `yaml:"enabled"`
	TrendingSpec     string `yaml:"trendingSpec"`
	TrendingLimit    int    `yaml:"trendingLimit"`
	MetricsSpec      string `yaml:"metricsSpec"`
	MetricsBatch     int    `yaml:"metricsBatch"`
	CleanupSpec      string `yaml:"cleanupSpec"`
	RetentionDays    int    `yaml:"retentionDays"`
	RecentWindowHour int    `yaml:"recentWindowHours"`
}

// LoggingConfig configures zerolog output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json | console
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Analysis: AnalysisConfig{
			MinLiquidityUSD: 10000,
			MinHolders:      50,
			MaxRiskScore:    0.7,
		},
		Cache: CacheConfig{TTLSeconds: 60},
		Collector: CollectorConfig{
			PerSourceTimeoutMs: 15000,
			MaxConcurrency:     5,
		},
		Aggregation: AggregationConfig{
			HeuristicWeight:         0.4,
			MLWeight:                0.4,
			SmartMoneyWeight:        0.2,
			AvoidAbove:              0.7,
			InvestigateBelow:        0.3,
			SmartMoneyInterestAbove: 0.7,
			MLNoteAbove:             0.7,
			MaxCriticalReasons:      2,
		},
		Orchestrator: OrchestratorConfig{
			Workers:        4,
			TaskTimeout:    2 * time.Minute,
			PersistRetries: 3,
			StaleAfter:     10 * time.Minute,
			WatchdogEvery:  time.Minute,
		},
		Storage: StorageConfig{
			Driver:                     "memory",
			PostgresMaxConns:           10,
			PostgresMaxConnIdleSeconds: 300,
		},
		Queue: QueueConfig{
			Driver:   "memory",
			Key:      "tokenrisk:tasks",
			Capacity: 1024,
		},
		Server: ServerConfig{Addr: ":8080"},
		Sources: SourcesConfig{
			DexScreenerURL:     "https://api.dexscreener.com",
			DEXToolsURL:        "https://public-api.dextools.io/trial/v2",
			EtherscanURL:       "https://api.etherscan.io/v2/api",
			GoPlusURL:          "https://api.gopluslabs.io/api/v1",
			SolanaRPCURL:       "https://api.mainnet-beta.solana.com",
			RequestsPerSecond:  5,
			BreakerMaxFailures: 5,
		},
		Scheduler: SchedulerConfig{
			Enabled:          true,
			TrendingSpec:     "*/15 * * * *",
			TrendingLimit:    10,
			MetricsSpec:      "*/30 * * * *",
			MetricsBatch:     50,
			CleanupSpec:      "0 2 * * *",
			RetentionDays:    30,
			RecentWindowHour: 24,
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
	}
}

// Load reads .env (if present), the YAML file at path (or $TOKENRISK_CONFIG)
// over the defaults, then applies environment overrides.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	if path == "" {
		path = os.Getenv(configPathEnv)
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() error {
	setString(&c.Storage.PostgresDSN, envPostgresDSN)
	setString(&c.Storage.ClickHouseDSN, envClickHouseDSN)
	setString(&c.Storage.Driver, envStorageDriver)
	setString(&c.Queue.Driver, envQueueDriver)
	setString(&c.Logging.Level, envLogLevel)
	setString(&c.Logging.Format, envLogFormat)
	setString(&c.Server.Addr, envServerAddr)
	setString(&c.Model.Path, envModelPath)
	setString(&c.Sources.EtherscanAPIKey, envEtherscanKey)
	setString(&c.Sources.DEXToolsAPIKey, envDEXToolsKey)
	setString(&c.Sources.GoPlusAPIKey, envGoPlusKey)
	setString(&c.Sources.SolanaRPCURL, envSolanaRPC)

	if v := os.Getenv(envRedisAddr); v != "" {
		c.Cache.RedisAddr = v
		c.Queue.RedisAddr = v
	}
	if v := os.Getenv(envSmartWallets); v != "" {
		c.SmartMoney.KnownWallets = splitList(v)
	}

	var errs []error
	if v := os.Getenv(envMinLiquidity); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		errs = append(errs, envErr(envMinLiquidity, err))
		c.Analysis.MinLiquidityUSD = f
	}
	if v := os.Getenv(envMaxRiskScore); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		errs = append(errs, envErr(envMaxRiskScore, err))
		c.Analysis.MaxRiskScore = f
	}
	if v := os.Getenv(envMinHolders); v != "" {
		n, err := strconv.Atoi(v)
		errs = append(errs, envErr(envMinHolders, err))
		c.Analysis.MinHolders = n
	}
	if v := os.Getenv(envCacheTTL); v != "" {
		n, err := strconv.Atoi(v)
		errs = append(errs, envErr(envCacheTTL, err))
		c.Cache.TTLSeconds = n
	}
	if v := os.Getenv(envSourceTimeoutMs); v != "" {
		n, err := strconv.Atoi(v)
		errs = append(errs, envErr(envSourceTimeoutMs, err))
		c.Collector.PerSourceTimeoutMs = n
	}
	return errors.Join(errs...)
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envErr(key string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("env %s: %w", key, err)
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
