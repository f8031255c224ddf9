// Package config loads the engine configuration from file and environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/viper"

	"github.com/cognidex/crystal/pkg/confidence"
	"github.com/cognidex/crystal/pkg/types"
)

// Config holds all configuration for the application
type Config struct {
	// Log configuration
	Log LogConfig `mapstructure:"log"`

	// Server configuration for the admin surface
	Server ServerConfig `mapstructure:"server"`

	// Database configuration for the graph store
	Database DatabaseConfig `mapstructure:"database"`

	// Badger configuration for the audit trail and watermark
	Badger BadgerConfig `mapstructure:"badger"`

	// Pipeline configuration for the batch orchestrator
	Pipeline PipelineConfig `mapstructure:"pipeline"`

	// Promotion configuration for the gate
	Promotion PromotionConfig `mapstructure:"promotion"`

	// Decay configuration for temporal relevance
	Decay DecayConfig `mapstructure:"decay"`

	// Bridge configuration for fact building and propagation
	Bridge BridgeConfig `mapstructure:"bridge"`

	// Ontology configuration for domain validation
	Ontology OntologyConfig `mapstructure:"ontology"`

	// Export configuration for Parquet snapshots
	Export ExportConfig `mapstructure:"export"`

	// Alert configuration
	Alert AlertConfig `mapstructure:"alert"`

	// CircuitBreaker configuration
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // gin mode: debug, release, test
}

// DatabaseConfig holds graph store configuration
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"` // memory, neo4j
	URI      string `mapstructure:"uri"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
}

// BadgerConfig holds the embedded key-value store configuration
type BadgerConfig struct {
	Path string `mapstructure:"path"`
}

// PipelineConfig holds orchestrator configuration
type PipelineConfig struct {
	BatchSize      int `mapstructure:"batch_size"`      // flush threshold
	FlushInterval  int `mapstructure:"flush_interval"`  // in seconds
	PullLimit      int `mapstructure:"pull_limit"`      // max observations per pull
	MaxParallelism int `mapstructure:"max_parallelism"` // concurrent fact commits
}

// PromotionConfig holds gate thresholds
type PromotionConfig struct {
	MinObservations        int     `mapstructure:"min_observations"`
	SemanticMinConfidence  float64 `mapstructure:"semantic_min_confidence"`
	ReasoningMinConfidence float64 `mapstructure:"reasoning_min_confidence"`
	StabilityWindowHours   int     `mapstructure:"stability_window_hours"`

	// RiskOverrides maps entity/relationship types onto low, medium, high.
	RiskOverrides map[string]string `mapstructure:"risk_overrides"`
}

// DecayConfig holds temporal relevance lambdas, in 1/hour
type DecayConfig struct {
	DefaultLambda float64            `mapstructure:"default_lambda"`
	ClassLambdas  map[string]float64 `mapstructure:"class_lambdas"`

	// ClassByType assigns decay classes to entity types. Unlisted types
	// use the default class.
	ClassByType map[string]string `mapstructure:"class_by_type"`
}

// BridgeConfig holds hypergraph thresholds
type BridgeConfig struct {
	ExtractionFloor      float64 `mapstructure:"extraction_floor"`
	PropagationThreshold float64 `mapstructure:"propagation_threshold"`

	// MergeStrategy selects the evidence-merging policy: weighted,
	// authoritative_first, or mean.
	MergeStrategy string `mapstructure:"merge_strategy"`
}

// OntologyConfig holds domain classifier configuration
type OntologyConfig struct {
	TablePath string `mapstructure:"table_path"`
}

// ExportConfig holds Parquet export configuration
type ExportConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// AlertConfig holds configuration for alerting
type AlertConfig struct {
	Enabled  bool     `mapstructure:"enabled"`
	SMTPHost string   `mapstructure:"smtp_host"`
	SMTPPort int      `mapstructure:"smtp_port"`
	Username string   `mapstructure:"username"`
	Password string   `mapstructure:"password"`
	From     string   `mapstructure:"from"`
	To       []string `mapstructure:"to"`
}

// CircuitBreakerConfig holds configuration for circuit breaking
type CircuitBreakerConfig struct {
	Enabled          bool    `mapstructure:"enabled"`
	MaxRequests      uint32  `mapstructure:"max_requests"`
	Interval         int     `mapstructure:"interval"` // in seconds
	Timeout          int     `mapstructure:"timeout"`  // in seconds
	ReadyToTripRatio float64 `mapstructure:"ready_to_trip_ratio"`
}

// Load loads configuration from file and environment variables
func Load() (*Config, error) {
	setDefaults()

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	overrideWithEnv(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	// Log defaults
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "text")

	// Server defaults
	viper.SetDefault("server.host", "localhost")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.mode", "debug")

	// Database defaults
	viper.SetDefault("database.driver", "memory")
	viper.SetDefault("database.uri", "bolt://localhost:7687")
	viper.SetDefault("database.username", "")
	viper.SetDefault("database.password", "")
	viper.SetDefault("database.database", "")

	// Badger and export paths
	home, err := os.UserHomeDir()
	if err == nil {
		viper.SetDefault("badger.path", fmt.Sprintf("%s/.crystal/state", home))
		viper.SetDefault("export.path", fmt.Sprintf("%s/.crystal/export", home))
	}

	// Pipeline defaults
	viper.SetDefault("pipeline.batch_size", 100)
	viper.SetDefault("pipeline.flush_interval", 30)
	viper.SetDefault("pipeline.pull_limit", 500)
	viper.SetDefault("pipeline.max_parallelism", 4)

	// Promotion defaults
	viper.SetDefault("promotion.min_observations", 3)
	viper.SetDefault("promotion.semantic_min_confidence", 0.6)
	viper.SetDefault("promotion.reasoning_min_confidence", 0.8)
	viper.SetDefault("promotion.stability_window_hours", 48)

	// Decay defaults
	viper.SetDefault("decay.default_lambda", 0.001)
	viper.SetDefault("decay.class_lambdas", map[string]float64{
		"transient": 0.05,
		"episodic":  0.01,
		"stable":    0.001,
		"permanent": 0.0,
	})

	// Bridge defaults
	viper.SetDefault("bridge.extraction_floor", 0.5)
	viper.SetDefault("bridge.propagation_threshold", 0.7)
	viper.SetDefault("bridge.merge_strategy", "weighted")

	// Circuit breaker defaults
	viper.SetDefault("circuit_breaker.enabled", true)
	viper.SetDefault("circuit_breaker.max_requests", 3)
	viper.SetDefault("circuit_breaker.interval", 60)
	viper.SetDefault("circuit_breaker.timeout", 30)
	viper.SetDefault("circuit_breaker.ready_to_trip_ratio", 0.6)
}

// overrideWithEnv overrides config with environment variables
func overrideWithEnv(config *Config) {
	if uri := os.Getenv("NEO4J_URI"); uri != "" {
		config.Database.URI = uri
	}
	if user := os.Getenv("NEO4J_USER"); user != "" {
		config.Database.Username = user
	}
	if pass := os.Getenv("NEO4J_PASSWORD"); pass != "" {
		config.Database.Password = pass
	}
	if driver := os.Getenv("DB_DRIVER"); driver != "" {
		config.Database.Driver = driver
	}
	if uri := os.Getenv("DB_URI"); uri != "" {
		config.Database.URI = uri
	}
	if path := os.Getenv("BADGER_PATH"); path != "" {
		config.Badger.Path = path
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if pass := os.Getenv("SMTP_PASSWORD"); pass != "" {
		config.Alert.Password = pass
	}
}

// Validate rejects configurations that cannot run.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "memory", "neo4j":
	default:
		return fmt.Errorf("config: unknown database driver %q", c.Database.Driver)
	}

	if c.Pipeline.BatchSize < 1 {
		return fmt.Errorf("config: pipeline batch_size must be at least 1, got %d", c.Pipeline.BatchSize)
	}
	if c.Pipeline.FlushInterval < 1 {
		return fmt.Errorf("config: pipeline flush_interval must be at least 1s, got %d", c.Pipeline.FlushInterval)
	}
	if c.Pipeline.MaxParallelism < 1 {
		return fmt.Errorf("config: pipeline max_parallelism must be at least 1, got %d", c.Pipeline.MaxParallelism)
	}

	if c.Promotion.MinObservations < 1 {
		return fmt.Errorf("config: promotion min_observations must be at least 1, got %d", c.Promotion.MinObservations)
	}
	if c.Promotion.SemanticMinConfidence <= 0 || c.Promotion.SemanticMinConfidence > 1 {
		return fmt.Errorf("config: semantic_min_confidence %f outside (0,1]", c.Promotion.SemanticMinConfidence)
	}
	if c.Promotion.ReasoningMinConfidence < c.Promotion.SemanticMinConfidence || c.Promotion.ReasoningMinConfidence > 1 {
		return fmt.Errorf("config: reasoning_min_confidence %f must lie in [semantic_min_confidence, 1]",
			c.Promotion.ReasoningMinConfidence)
	}
	if c.Promotion.StabilityWindowHours < 1 {
		return fmt.Errorf("config: stability_window_hours must be at least 1, got %d", c.Promotion.StabilityWindowHours)
	}
	for typ, risk := range c.Promotion.RiskOverrides {
		if !types.RiskClass(risk).Valid() {
			return fmt.Errorf("config: unknown risk class %q for type %q", risk, typ)
		}
	}

	if c.Decay.DefaultLambda < 0 {
		return fmt.Errorf("config: default_lambda must be non-negative, got %f", c.Decay.DefaultLambda)
	}
	for class, lambda := range c.Decay.ClassLambdas {
		if !types.EntityClass(class).Valid() {
			return fmt.Errorf("config: unknown entity class %q", class)
		}
		if lambda < 0 {
			return fmt.Errorf("config: lambda for class %q must be non-negative, got %f", class, lambda)
		}
	}
	for typ, class := range c.Decay.ClassByType {
		if !types.EntityClass(class).Valid() {
			return fmt.Errorf("config: unknown entity class %q for type %q", class, typ)
		}
	}

	if c.Bridge.ExtractionFloor < 0 || c.Bridge.ExtractionFloor > 1 {
		return fmt.Errorf("config: extraction_floor %f outside [0,1]", c.Bridge.ExtractionFloor)
	}
	if c.Bridge.PropagationThreshold < 0 || c.Bridge.PropagationThreshold > 1 {
		return fmt.Errorf("config: propagation_threshold %f outside [0,1]", c.Bridge.PropagationThreshold)
	}
	if _, err := confidence.ParseStrategy(c.Bridge.MergeStrategy); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// FlushInterval returns the pipeline flush interval as a duration.
func (c *Config) FlushInterval() time.Duration {
	return time.Duration(c.Pipeline.FlushInterval) * time.Second
}

// StabilityWindow returns the promotion stability window as a duration.
func (c *Config) StabilityWindow() time.Duration {
	return time.Duration(c.Promotion.StabilityWindowHours) * time.Hour
}
