package domain

// Config holds the complete Harrier configuration.
type Config struct {
	Server ServerConfig `json:"server" koanf:"server"`

	// Tier determines which backing services are wired in.
	Tier Tier `json:"tier" koanf:"tier"`

	// Engine holds the anomaly-scoring parameters passed explicitly into
	// every run; components never read them from ambient state.
	Engine EngineConfig `json:"engine" koanf:"engine"`

	Repository RepositoryConfig `json:"repository" koanf:"repository"`
	Cache      CacheConfig      `json:"cache" koanf:"cache"`
	EventBus   EventBusConfig   `json:"eventBus" koanf:"event_bus"`

	Logging LoggingConfig `json:"logging" koanf:"logging"`
	Tracing TracingConfig `json:"tracing" koanf:"tracing"`
}

// EngineConfig holds the decision-engine parameters.
type EngineConfig struct {
	// Contamination is the expected fraction of the batch that is
	// anomalous; it converts continuous scores into outlier flags via the
	// batch's own score distribution. Must be in (0, 1].
	Contamination float64 `json:"contamination" koanf:"contamination"`

	// MinBatchSize is the smallest batch the anomaly scorer will fit.
	// Smaller batches produce not-scored results.
	MinBatchSize int `json:"minBatchSize" koanf:"min_batch_size"`

	// TopFeatures bounds the per-record explainability list.
	TopFeatures int `json:"topFeatures" koanf:"top_features"`

	// TopAnomalies bounds the report's highest-score listing.
	TopAnomalies int `json:"topAnomalies" koanf:"top_anomalies"`

	// MaxWorkers bounds rule-evaluation concurrency across records.
	MaxWorkers int `json:"maxWorkers" koanf:"max_workers"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host" koanf:"host"`
	Port         int    `json:"port" koanf:"port"`
	ReadTimeout  int    `json:"readTimeout" koanf:"read_timeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout" koanf:"write_timeout"` // seconds
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level" koanf:"level"`   // debug, info, warn, error
	Format string `json:"format" koanf:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `json:"enabled" koanf:"enabled"`
	ServiceName string `json:"serviceName" koanf:"service_name"`
	Endpoint    string `json:"endpoint" koanf:"endpoint"`
}

// Tier represents the deployment tier.
type Tier string

const (
	// TierCommunity runs on SQLite + in-process channels + local LRU.
	TierCommunity Tier = "community"

	// TierPro runs on PostgreSQL + NATS + Redis.
	TierPro Tier = "pro"
)

// DefaultConfig returns the Community tier defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 60,
		},
		Tier: TierCommunity,
		Engine: EngineConfig{
			Contamination: 0.05,
			MinBatchSize:  10,
			TopFeatures:   3,
			TopAnomalies:  5,
			MaxWorkers:    16,
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./harrier.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 1000,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "harrier",
		},
	}
}

// ProConfig returns the Pro tier defaults.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "harrier",
	}
	cfg.Cache = CacheConfig{
		Type:      "redis",
		RedisAddr: "localhost:6379",
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Tracing.Enabled = true
	return cfg
}
