// Package config handles cnpjgraph configuration.
//
// Values come from four layers, each overriding the previous one:
//
//  1. DefaultConfig()
//  2. an optional YAML file (LoadFile)
//  3. environment variables, including a .env file in the working directory
//     (ApplyEnv, LoadDotEnv)
//  4. command-line flags, applied by the caller
//
// Example Usage:
//
//	cfg, err := config.Load("cnpjgraph.yaml")
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := cfg.Validate(); err != nil {
//		log.Fatalf("Invalid config: %v", err)
//	}
//
// Environment Variables:
//
// Neo4j-Compatible:
//   - NEO4J_URI="bolt://localhost:7687"
//   - NEO4J_AUTH="username/password" or "none"
//   - NEO4J_DATABASE="neo4j"
//
// cnpjgraph-Specific:
//   - CNPJGRAPH_STORE="bolt" or "embedded"
//   - CNPJGRAPH_DATA_DIR="./data"
//   - CNPJGRAPH_HIGH_WATER_MARK=300
//   - CNPJGRAPH_WRITE_TIMEOUT=30s
//   - CNPJGRAPH_PROGRESS_INTERVAL=10s
//   - CNPJGRAPH_LOG_LEVEL="info"
//   - CNPJGRAPH_LOG_FORMAT="auto", "json" or "console"
//   - CNPJGRAPH_METRICS_ADDR=":9090"
//   - CNPJGRAPH_FILTER_UF, CNPJGRAPH_FILTER_MUNICIPIO, CNPJGRAPH_FILTER_BAIRRO
//   - CNPJGRAPH_INCLUDE_BAIXADAS=false
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/orneryd/cnpjgraph/pkg/filter"
)

// Store kinds
const (
	StoreBolt     = "bolt"
	StoreEmbedded = "embedded"
)

// Config holds all cnpjgraph configuration.
//
// Configuration is organized into logical sections:
//   - Store: which graph backend to write to and how to reach it
//   - Ingest: flow control and write timeouts
//   - Filter: which records are loaded
//   - Logging: level and output format
//   - Metrics: optional Prometheus endpoint
type Config struct {
	Store   StoreConfig      `yaml:"store"`
	Ingest  IngestConfig     `yaml:"ingest"`
	Filter  filter.Predicate `yaml:"filter"`
	Logging LoggingConfig    `yaml:"logging"`
	Metrics MetricsConfig    `yaml:"metrics"`
}

// StoreConfig selects and configures the graph backend.
type StoreConfig struct {
	// Kind is "bolt" (a Neo4j-compatible server) or "embedded" (BadgerDB).
	Kind string `yaml:"kind" validate:"oneof=bolt embedded"`

	// Bolt
	URI                   string `yaml:"uri" validate:"required_if=Kind bolt"`
	Username              string `yaml:"username"`
	Password              string `yaml:"password"`
	Database              string `yaml:"database"`
	MaxConnectionPoolSize int    `yaml:"max_connection_pool_size" validate:"gte=0"`

	// Embedded
	DataDir    string `yaml:"data_dir" validate:"required_if=Kind embedded"`
	SyncWrites bool   `yaml:"sync_writes"`
}

// IngestConfig tunes the pipeline.
type IngestConfig struct {
	// HighWaterMark is the number of in-flight writes at which reading pauses.
	HighWaterMark    int           `yaml:"high_water_mark" validate:"gt=0"`
	WriteTimeout     time.Duration `yaml:"write_timeout" validate:"gt=0"`
	ProgressInterval time.Duration `yaml:"progress_interval" validate:"gt=0"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`
	// Format "auto" selects console output on a terminal and JSON otherwise.
	Format string `yaml:"format" validate:"oneof=auto json console"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	// Addr is the listen address for /metrics; empty disables it.
	Addr string `yaml:"addr"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Kind:    StoreBolt,
			URI:     "bolt://localhost:7687",
			DataDir: "./data",
		},
		Ingest: IngestConfig{
			HighWaterMark:    300,
			WriteTimeout:     30 * time.Second,
			ProgressInterval: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "auto",
		},
	}
}

// Load builds a Config from defaults, the YAML file at path (skipped when
// path is empty), a .env file if present, and the environment.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		if err := LoadFile(path, cfg); err != nil {
			return nil, err
		}
	}
	if err := LoadDotEnv(); err != nil {
		return nil, err
	}
	ApplyEnv(cfg)
	return cfg, nil
}

// LoadFromEnv returns the defaults overlaid with environment variables.
func LoadFromEnv() *Config {
	cfg := DefaultConfig()
	ApplyEnv(cfg)
	return cfg
}

// LoadFile decodes the YAML file at path onto cfg. Keys absent from the file
// keep their current value; unknown keys are an error.
func LoadFile(path string, cfg *Config) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening config file: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return nil
}

// LoadDotEnv loads variables from the given .env files (default ".env") into
// the process environment. Missing files are ignored; variables already set
// are not overridden.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, file := range files {
		if err := godotenv.Load(file); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("loading %s: %w", file, err)
		}
	}
	return nil
}

// ApplyEnv overlays environment variables onto cfg.
func ApplyEnv(cfg *Config) {
	cfg.Store.Kind = strings.ToLower(getEnv("CNPJGRAPH_STORE", cfg.Store.Kind))
	cfg.Store.URI = getEnv("NEO4J_URI", cfg.Store.URI)
	cfg.Store.Database = getEnv("NEO4J_DATABASE", cfg.Store.Database)
	if auth := os.Getenv("NEO4J_AUTH"); auth != "" {
		cfg.Store.Username, cfg.Store.Password = ParseAuth(auth)
	}
	cfg.Store.DataDir = getEnv("CNPJGRAPH_DATA_DIR", cfg.Store.DataDir)

	cfg.Ingest.HighWaterMark = getEnvInt("CNPJGRAPH_HIGH_WATER_MARK", cfg.Ingest.HighWaterMark)
	cfg.Ingest.WriteTimeout = getEnvDuration("CNPJGRAPH_WRITE_TIMEOUT", cfg.Ingest.WriteTimeout)
	cfg.Ingest.ProgressInterval = getEnvDuration("CNPJGRAPH_PROGRESS_INTERVAL", cfg.Ingest.ProgressInterval)

	cfg.Filter.State = getEnv("CNPJGRAPH_FILTER_UF", cfg.Filter.State)
	cfg.Filter.Municipality = getEnv("CNPJGRAPH_FILTER_MUNICIPIO", cfg.Filter.Municipality)
	cfg.Filter.Neighborhood = getEnv("CNPJGRAPH_FILTER_BAIRRO", cfg.Filter.Neighborhood)
	cfg.Filter.IncludeClosed = getEnvBool("CNPJGRAPH_INCLUDE_BAIXADAS", cfg.Filter.IncludeClosed)

	cfg.Logging.Level = strings.ToLower(getEnv("CNPJGRAPH_LOG_LEVEL", cfg.Logging.Level))
	cfg.Logging.Format = strings.ToLower(getEnv("CNPJGRAPH_LOG_FORMAT", cfg.Logging.Format))

	cfg.Metrics.Addr = getEnv("CNPJGRAPH_METRICS_ADDR", cfg.Metrics.Addr)
}

// ParseAuth splits NEO4J_AUTH ("username/password" or "none").
// "none" yields empty credentials, which disables authentication.
func ParseAuth(s string) (username, password string) {
	if strings.EqualFold(s, "none") {
		return "", ""
	}
	parts := strings.SplitN(s, "/", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return "neo4j", s
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the configuration for invalid values.
//
// Returns nil if configuration is valid, or an error describing every
// offending field.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}

	if c.Store.Password != "" && c.Store.Username == "" {
		return errors.New("invalid config: store password set without username")
	}
	if c.Metrics.Addr != "" {
		if _, port, err := net.SplitHostPort(c.Metrics.Addr); err != nil || port == "" {
			return fmt.Errorf("invalid config: metrics addr %q", c.Metrics.Addr)
		}
	}
	return nil
}

// String returns a safe string representation of the Config.
//
// The password is never included, making this safe for logging.
func (c *Config) String() string {
	target := c.Store.URI
	if c.Store.Kind == StoreEmbedded {
		target = c.Store.DataDir
	}
	auth := "none"
	if c.Store.Username != "" {
		auth = c.Store.Username + "/***"
	}
	return fmt.Sprintf(
		"Config{Store: %s %s, Auth: %s, HighWaterMark: %d, WriteTimeout: %s, Filter: %s, Log: %s/%s}",
		c.Store.Kind, target, auth,
		c.Ingest.HighWaterMark, c.Ingest.WriteTimeout,
		c.Filter, c.Logging.Level, c.Logging.Format,
	)
}

// Helper functions for environment variable parsing

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		val = strings.ToLower(val)
		return val == "true" || val == "1" || val == "yes" || val == "on"
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
		// Try parsing as seconds
		if secs, err := strconv.Atoi(val); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultVal
}
