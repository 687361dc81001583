// Package config provides configuration for the cube query and statistics
// services.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/arkilian/cubecore/pkg/types"
	"gopkg.in/yaml.v3"
)

// Precision bounds of the statistics sketches.
const (
	MinPrecision = 4
	MaxPrecision = 18
)

// Config holds the configuration shared by cube-query and cube-stats.
type Config struct {
	// DataDir is the base directory for all data files
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// HTTP configuration
	HTTP HTTPConfig `json:"http" yaml:"http"`

	// Query configuration
	Query QueryConfig `json:"query" yaml:"query"`

	// Statistics configuration
	Statistics StatisticsConfig `json:"statistics" yaml:"statistics"`

	// Storage configuration
	Storage StorageConfig `json:"storage" yaml:"storage"`

	// Cube is the cube served by this process
	Cube CubeConfig `json:"cube" yaml:"cube"`
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	// Addr is the HTTP address of the query endpoint
	Addr string `json:"addr" yaml:"addr"`

	// ReadTimeout is the HTTP read timeout
	ReadTimeout time.Duration `json:"read_timeout" yaml:"read_timeout"`

	// WriteTimeout is the HTTP write timeout
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`

	// IdleTimeout is the HTTP idle timeout
	IdleTimeout time.Duration `json:"idle_timeout" yaml:"idle_timeout"`
}

// QueryConfig holds query execution configuration.
type QueryConfig struct {
	// DefaultScanThreshold caps the rows one query may scan when the
	// session does not set scan_threshold. Zero disables the cap.
	DefaultScanThreshold int64 `json:"default_scan_threshold" yaml:"default_scan_threshold"`

	// SQLitePath is the database file holding the stored cuboid rows
	SQLitePath string `json:"sqlite_path" yaml:"sqlite_path"`

	// MaxRows bounds the rows returned by one HTTP query
	MaxRows int `json:"max_rows" yaml:"max_rows"`
}

// StatisticsConfig holds cuboid statistics configuration.
type StatisticsConfig struct {
	// Precision is the sketch precision (register count 2^precision)
	Precision int `json:"precision" yaml:"precision"`

	// MaxEntries caps the cuboid entries persisted per artifact
	MaxEntries int `json:"max_entries" yaml:"max_entries"`

	// Compress enables snappy compression of the artifact body
	Compress bool `json:"compress" yaml:"compress"`

	// CacheMaxCost is the byte budget of the decoded statistics cache
	CacheMaxCost int64 `json:"cache_max_cost" yaml:"cache_max_cost"`

	// CollectConcurrency is the number of partitions ingested in parallel
	CollectConcurrency int `json:"collect_concurrency" yaml:"collect_concurrency"`

	// ArtifactPath is the object path statistics are published to
	ArtifactPath string `json:"artifact_path" yaml:"artifact_path"`

	// WorkDir holds temporary and downloaded artifacts
	WorkDir string `json:"work_dir" yaml:"work_dir"`
}

// StorageConfig holds storage configuration.
type StorageConfig struct {
	// Type is the storage type: local, s3
	Type string `json:"type" yaml:"type"`

	// Path is the local storage path (for local type)
	Path string `json:"path" yaml:"path"`

	// S3 configuration (for s3 type)
	S3 S3Config `json:"s3" yaml:"s3"`
}

// S3Config holds S3 storage configuration.
type S3Config struct {
	// Bucket is the S3 bucket name
	Bucket string `json:"bucket" yaml:"bucket"`

	// Region is the AWS region
	Region string `json:"region" yaml:"region"`

	// Endpoint is the S3 endpoint (for S3-compatible storage)
	Endpoint string `json:"endpoint" yaml:"endpoint"`

	// UsePathStyle enables path-style addressing
	UsePathStyle bool `json:"use_path_style" yaml:"use_path_style"`

	// Prefix is the key prefix under which artifacts are stored
	Prefix string `json:"prefix" yaml:"prefix"`
}

// CubeConfig describes a cube: its fact table, which fact columns are stored
// as dimensions, and the measures it pre-aggregates.
type CubeConfig struct {
	Name       string              `json:"name" yaml:"name"`
	FactTable  string              `json:"fact_table" yaml:"fact_table"`
	Columns    []string            `json:"columns" yaml:"columns"`
	Dimensions []string            `json:"dimensions" yaml:"dimensions"`
	Measures   []types.MeasureDesc `json:"measures" yaml:"measures"`
}

// DefaultConfig returns the default configuration for local development.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "./data/cubecore",
		HTTP: HTTPConfig{
			Addr:         ":8081",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		Query: QueryConfig{
			DefaultScanThreshold: 10_000_000,
			MaxRows:              100_000,
		},
		Statistics: StatisticsConfig{
			Precision:          14,
			MaxEntries:         4096,
			Compress:           true,
			CacheMaxCost:       64 << 20,
			CollectConcurrency: 4,
			ArtifactPath:       "statistics/cuboid_statistics.seq",
		},
		Storage: StorageConfig{
			Type: "local",
		},
	}
}

// Resolve resolves relative paths and sets defaults based on DataDir.
func (c *Config) Resolve() {
	if c.DataDir == "" {
		c.DataDir = "./data/cubecore"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = filepath.Join(c.DataDir, "storage")
	}
	if c.Query.SQLitePath == "" {
		c.Query.SQLitePath = filepath.Join(c.DataDir, "cube.db")
	}
	if c.Statistics.WorkDir == "" {
		c.Statistics.WorkDir = filepath.Join(c.DataDir, "work")
	}
	if c.Statistics.CollectConcurrency <= 0 {
		c.Statistics.CollectConcurrency = 1
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}

	if c.Storage.Type != "local" && c.Storage.Type != "s3" {
		return fmt.Errorf("invalid storage type: %s (must be local or s3)", c.Storage.Type)
	}
	if c.Storage.Type == "s3" && c.Storage.S3.Bucket == "" {
		return fmt.Errorf("s3.bucket is required when storage type is s3")
	}

	if c.Statistics.Precision < MinPrecision || c.Statistics.Precision > MaxPrecision {
		return fmt.Errorf("statistics.precision must be between %d and %d, got %d",
			MinPrecision, MaxPrecision, c.Statistics.Precision)
	}
	if c.Statistics.MaxEntries <= 0 {
		return fmt.Errorf("statistics.max_entries must be positive, got %d", c.Statistics.MaxEntries)
	}
	if c.Query.DefaultScanThreshold < 0 {
		return fmt.Errorf("query.default_scan_threshold must not be negative")
	}

	return c.Cube.Validate()
}

// Validate checks the cube description. An empty cube is allowed for tools
// that only inspect artifacts.
func (c *CubeConfig) Validate() error {
	if c.Name == "" && c.FactTable == "" && len(c.Dimensions) == 0 {
		return nil
	}
	if c.FactTable == "" {
		return fmt.Errorf("cube.fact_table is required")
	}
	if len(c.Dimensions) > 64 {
		return fmt.Errorf("cube %s has %d dimensions, at most 64 are supported", c.Name, len(c.Dimensions))
	}

	known := make(map[string]bool, len(c.Columns))
	for _, col := range c.Columns {
		known[strings.ToUpper(col)] = true
	}
	for _, dim := range c.Dimensions {
		if !known[strings.ToUpper(dim)] {
			return fmt.Errorf("cube %s: dimension %s is not a fact table column", c.Name, dim)
		}
	}
	for _, m := range c.Measures {
		if m.Function.Expression == "" {
			return fmt.Errorf("cube %s: measure %s has no function", c.Name, m.Name)
		}
		if m.Function.IsColumnParameter() && !known[strings.ToUpper(m.Function.Parameter.Value)] {
			return fmt.Errorf("cube %s: measure %s references unknown column %s",
				c.Name, m.Name, m.Function.Parameter.Value)
		}
	}
	return nil
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// Load builds the effective configuration: defaults, then the file at path
// if given, then CUBECORE_ environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		var err error
		if cfg, err = LoadFromFile(path); err != nil {
			return nil, err
		}
	}
	LoadFromEnv(cfg)
	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the CUBECORE_ prefix.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("CUBECORE_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}

	// HTTP configuration
	if v := os.Getenv("CUBECORE_HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}

	// Query configuration
	if v := os.Getenv("CUBECORE_QUERY_DEFAULT_SCAN_THRESHOLD"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Query.DefaultScanThreshold = n
		}
	}
	if v := os.Getenv("CUBECORE_QUERY_SQLITE_PATH"); v != "" {
		cfg.Query.SQLitePath = v
	}

	// Statistics configuration
	if v := os.Getenv("CUBECORE_STATISTICS_PRECISION"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Statistics.Precision)
	}
	if v := os.Getenv("CUBECORE_STATISTICS_MAX_ENTRIES"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Statistics.MaxEntries)
	}
	if v := os.Getenv("CUBECORE_STATISTICS_COMPRESS"); v != "" {
		cfg.Statistics.Compress = v == "true" || v == "1"
	}
	if v := os.Getenv("CUBECORE_STATISTICS_ARTIFACT_PATH"); v != "" {
		cfg.Statistics.ArtifactPath = v
	}

	// Storage configuration
	if v := os.Getenv("CUBECORE_STORAGE_TYPE"); v != "" {
		cfg.Storage.Type = v
	}
	if v := os.Getenv("CUBECORE_STORAGE_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("CUBECORE_S3_BUCKET"); v != "" {
		cfg.Storage.S3.Bucket = v
	}
	if v := os.Getenv("CUBECORE_S3_REGION"); v != "" {
		cfg.Storage.S3.Region = v
	}
	if v := os.Getenv("CUBECORE_S3_ENDPOINT"); v != "" {
		cfg.Storage.S3.Endpoint = v
	}
	if v := os.Getenv("CUBECORE_S3_PREFIX"); v != "" {
		cfg.Storage.S3.Prefix = v
	}
}

// EnsureDirectories creates all required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.DataDir, c.Statistics.WorkDir}
	if c.Storage.Type == "local" {
		dirs = append(dirs, c.Storage.Path)
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}
