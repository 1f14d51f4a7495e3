package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Neo4j        Neo4jConfig        `mapstructure:"neo4j"`
	Kafka        KafkaConfig        `mapstructure:"kafka"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	Tournament   TournamentConfig   `mapstructure:"tournament"`
	Matching     MatchingConfig     `mapstructure:"matching"`
	Learning     LearningConfig     `mapstructure:"learning"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Feedback     FeedbackConfig     `mapstructure:"feedback"`
	Monitoring   MonitoringConfig   `mapstructure:"monitoring"`
	Security     SecurityConfig     `mapstructure:"security"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

type DatabaseConfig struct {
	Driver         string        `mapstructure:"driver"` // postgres, memory
	URL            string        `mapstructure:"url"`
	MaxConnections int           `mapstructure:"max_connections"`
	MaxIdleTime    time.Duration `mapstructure:"max_idle_time"`
	MaxLifetime    time.Duration `mapstructure:"max_lifetime"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

type RedisConfig struct {
	URL        string        `mapstructure:"url"`
	MaxRetries int           `mapstructure:"max_retries"`
	PoolSize   int           `mapstructure:"pool_size"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

type Neo4jConfig struct {
	URL      string `mapstructure:"url"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topics  struct {
		FeedbackEvents    string `mapstructure:"feedback_events"`
		WeightAdjustments string `mapstructure:"weight_adjustments"`
	} `mapstructure:"topics"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type TournamentConfig struct {
	MinImages  int           `mapstructure:"min_images"`
	MaxPool    int           `mapstructure:"max_pool"`
	StaleAfter time.Duration `mapstructure:"stale_after"`
	Categories []string      `mapstructure:"categories"`
	RandomSeed int64         `mapstructure:"random_seed"` // 0 seeds from the clock
}

type MatchingConfig struct {
	DefaultMaxDistanceKm    float64       `mapstructure:"default_max_distance_km"`
	RecentInteractionWindow time.Duration `mapstructure:"recent_interaction_window"`
	MaxParallel             int           `mapstructure:"max_parallel"`
}

type LearningConfig struct {
	MinEvents          int           `mapstructure:"min_events"`
	AnalysisWindow     time.Duration `mapstructure:"analysis_window"`
	TrendThreshold     float64       `mapstructure:"trend_threshold"`
	AdaptationRate     float64       `mapstructure:"adaptation_rate"`
	MaxDelta           float64       `mapstructure:"max_delta"`
	MinApplyConfidence float64       `mapstructure:"min_apply_confidence"`
	HistoryWindow      time.Duration `mapstructure:"history_window"`
	MinBucketSamples   int           `mapstructure:"min_bucket_samples"`
	MinMoodSamples     int           `mapstructure:"min_mood_samples"`
}

type OrchestratorConfig struct {
	WeightsTTL          time.Duration `mapstructure:"weights_ttl"`
	ProfileTTL          time.Duration `mapstructure:"profile_ttl"`
	ResultsTTL          time.Duration `mapstructure:"results_ttl"`
	ExplorationRate     float64       `mapstructure:"exploration_rate"`
	CandidateMultiplier int           `mapstructure:"candidate_multiplier"`
	FetchTimeout        time.Duration `mapstructure:"fetch_timeout"`
	AdjustmentInterval  time.Duration `mapstructure:"adjustment_interval"`
	EvictionInterval    time.Duration `mapstructure:"eviction_interval"`
	TrendInterval       time.Duration `mapstructure:"trend_interval"`
	ActiveUserWindow    time.Duration `mapstructure:"active_user_window"`
	SweepWorkers        int           `mapstructure:"sweep_workers"`
	ShownHistorySize    int           `mapstructure:"shown_history_size"`
	RandomSeed          int64         `mapstructure:"random_seed"`
}

type FeedbackConfig struct {
	BatchSize         int           `mapstructure:"batch_size"`
	BatchInterval     time.Duration `mapstructure:"batch_interval"`
	QueueSize         int           `mapstructure:"queue_size"`
	SessionGap        time.Duration `mapstructure:"session_gap"`
	CriticalLookback  time.Duration `mapstructure:"critical_lookback"`
	CriticalThreshold int           `mapstructure:"critical_threshold"`
	TriggerEvents     int           `mapstructure:"trigger_events"`
	TriggerWindow     time.Duration `mapstructure:"trigger_window"`
	TriggerCooldown   time.Duration `mapstructure:"trigger_cooldown"`
}

type MonitoringConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	MetricsPath string `mapstructure:"metrics_path"`
}

type SecurityConfig struct {
	CORS CORSConfig `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers"`
}

func Load() (*Config, error) {
	viper.SetConfigName("app")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./config")
	viper.AddConfigPath(".")

	setDefaults()

	// Environment variable overrides
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		// Config file is optional, continue with env vars and defaults
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// Default returns the configuration produced by defaults alone.
func Default() *Config {
	v := viper.New()
	applyDefaults(v)
	var config Config
	_ = v.Unmarshal(&config)
	return &config
}

func setDefaults() {
	applyDefaults(viper.GetViper())
}

func applyDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "development")

	// Database defaults
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.max_idle_time", "15m")
	v.SetDefault("database.max_lifetime", "1h")
	v.SetDefault("database.connect_timeout", "10s")

	// Redis defaults
	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.timeout", "5s")

	// Kafka defaults
	v.SetDefault("kafka.topics.feedback_events", "feedback-events")
	v.SetDefault("kafka.topics.weight_adjustments", "weight-adjustments")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	// Tournament defaults
	v.SetDefault("tournament.min_images", 16)
	v.SetDefault("tournament.max_pool", 100)
	v.SetDefault("tournament.stale_after", "24h")
	v.SetDefault("tournament.categories", []string{"footwear", "clothing", "color", "accessories"})

	// Matching defaults
	v.SetDefault("matching.default_max_distance_km", 50.0)
	v.SetDefault("matching.recent_interaction_window", "24h")
	v.SetDefault("matching.max_parallel", 8)

	// Learning defaults
	v.SetDefault("learning.min_events", 10)
	v.SetDefault("learning.analysis_window", "168h")
	v.SetDefault("learning.trend_threshold", 0.2)
	v.SetDefault("learning.adaptation_rate", 0.1)
	v.SetDefault("learning.max_delta", 0.2)
	v.SetDefault("learning.min_apply_confidence", 0.6)
	v.SetDefault("learning.history_window", "720h")
	v.SetDefault("learning.min_bucket_samples", 3)
	v.SetDefault("learning.min_mood_samples", 5)

	// Orchestrator defaults
	v.SetDefault("orchestrator.weights_ttl", "5m")
	v.SetDefault("orchestrator.profile_ttl", "5m")
	v.SetDefault("orchestrator.results_ttl", "30m")
	v.SetDefault("orchestrator.exploration_rate", 0.1)
	v.SetDefault("orchestrator.candidate_multiplier", 3)
	v.SetDefault("orchestrator.fetch_timeout", "2s")
	v.SetDefault("orchestrator.adjustment_interval", "5m")
	v.SetDefault("orchestrator.eviction_interval", "10m")
	v.SetDefault("orchestrator.trend_interval", "60m")
	v.SetDefault("orchestrator.active_user_window", "1h")
	v.SetDefault("orchestrator.sweep_workers", 4)
	v.SetDefault("orchestrator.shown_history_size", 200)

	// Feedback defaults
	v.SetDefault("feedback.batch_size", 10)
	v.SetDefault("feedback.batch_interval", "5s")
	v.SetDefault("feedback.queue_size", 1000)
	v.SetDefault("feedback.session_gap", "30m")
	v.SetDefault("feedback.critical_lookback", "1h")
	v.SetDefault("feedback.critical_threshold", 3)
	v.SetDefault("feedback.trigger_events", 20)
	v.SetDefault("feedback.trigger_window", "24h")
	v.SetDefault("feedback.trigger_cooldown", "6h")

	// Monitoring defaults
	v.SetDefault("monitoring.enabled", true)
	v.SetDefault("monitoring.metrics_path", "/metrics")

	// Security defaults
	v.SetDefault("security.cors.allowed_origins", []string{"*"})
	v.SetDefault("security.cors.allowed_methods", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"})
	v.SetDefault("security.cors.allowed_headers", []string{"*"})
}
