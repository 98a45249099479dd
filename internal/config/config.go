// Package config provides configuration loading and validation for the
// CoralFS metadata server. Supports YAML files with environment variable
// overrides.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for a CoralFS MDS.
type Config struct {
	MDS           MDSConfig           `yaml:"mds"`
	Metadata      MetadataConfig      `yaml:"metadata"`
	ObjectStore   ObjectStoreConfig   `yaml:"objectStore"`
	Journal       JournalConfig       `yaml:"journal"`
	Purge         PurgeConfig         `yaml:"purge"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// MDSConfig identifies this metadata server instance.
type MDSConfig struct {
	// Rank is the MDS rank; each rank owns its own purge queue journal.
	Rank int32 `yaml:"rank"`

	// MetadataPool is the pool holding journal head records and journal
	// segments.
	MetadataPool int64 `yaml:"metadataPool"`
}

// MetadataConfig configures the Oxia checkpoint store.
type MetadataConfig struct {
	OxiaEndpoint string `yaml:"oxiaEndpoint"`
	Namespace    string `yaml:"namespace"`
}

// ObjectStoreConfig configures the backing object store.
type ObjectStoreConfig struct {
	Endpoint     string `yaml:"endpoint"`
	Bucket       string `yaml:"bucket"`
	Region       string `yaml:"region"`
	AccessKey    string `yaml:"accessKey"`
	SecretKey    string `yaml:"secretKey"`
	UsePathStyle bool   `yaml:"usePathStyle"`
}

// JournalConfig configures the purge queue journal.
type JournalConfig struct {
	// SegmentSizeBytes is the target size of a journal segment object.
	SegmentSizeBytes int64 `yaml:"segmentSizeBytes"`

	// FlushIntervalMs bounds how long appended entries may sit unflushed.
	FlushIntervalMs int64 `yaml:"flushIntervalMs"`

	// Compression selects the segment compression codec:
	// "none", "snappy", "lz4" or "zstd".
	Compression string `yaml:"compression"`
}

// PurgeConfig configures the purge queue engine.
type PurgeConfig struct {
	// MaxInFlight bounds concurrent purge item executions.
	MaxInFlight int `yaml:"maxInFlight"`
}

// ObservabilityConfig configures logging and metrics.
type ObservabilityConfig struct {
	MetricsAddr string `yaml:"metricsAddr"`
	LogLevel    string `yaml:"logLevel"`
	LogFormat   string `yaml:"logFormat"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		MDS: MDSConfig{
			Rank:         0,
			MetadataPool: 0,
		},
		Metadata: MetadataConfig{
			OxiaEndpoint: "localhost:6648",
			Namespace:    "coralfs",
		},
		ObjectStore: ObjectStoreConfig{
			Region: "us-east-1",
		},
		Journal: JournalConfig{
			SegmentSizeBytes: 4 * 1024 * 1024,
			FlushIntervalMs:  100,
			Compression:      "none",
		},
		Purge: PurgeConfig{
			MaxInFlight: 1,
		},
		Observability: ObservabilityConfig{
			MetricsAddr: ":9090",
			LogLevel:    "info",
			LogFormat:   "json",
		},
	}
}

// Load returns the default configuration with environment overrides
// applied.
func Load() (*Config, error) {
	cfg := Default()
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromPath reads a YAML config file, then applies environment
// overrides on top.
func LoadFromPath(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	if c.MDS.Rank < 0 {
		return fmt.Errorf("config: mds.rank must be non-negative, got %d", c.MDS.Rank)
	}
	if c.MDS.MetadataPool < 0 {
		return fmt.Errorf("config: mds.metadataPool must be non-negative, got %d", c.MDS.MetadataPool)
	}
	if c.Journal.SegmentSizeBytes <= 0 {
		return fmt.Errorf("config: journal.segmentSizeBytes must be positive, got %d", c.Journal.SegmentSizeBytes)
	}
	switch c.Journal.Compression {
	case "none", "snappy", "lz4", "zstd":
	default:
		return fmt.Errorf("config: unknown journal.compression %q", c.Journal.Compression)
	}
	if c.Purge.MaxInFlight < 1 {
		return fmt.Errorf("config: purge.maxInFlight must be at least 1, got %d", c.Purge.MaxInFlight)
	}
	return nil
}

func (c *Config) applyEnv() {
	setString := func(dst *string, key string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	setBool := func(dst *bool, key string) {
		if v, ok := os.LookupEnv(key); ok {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			}
		}
	}
	setInt64 := func(dst *int64, key string) {
		if v, ok := os.LookupEnv(key); ok {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				*dst = n
			}
		}
	}
	setInt := func(dst *int, key string) {
		if v, ok := os.LookupEnv(key); ok {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	if v, ok := os.LookupEnv("CORALFS_MDS_RANK"); ok {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			c.MDS.Rank = int32(n)
		}
	}
	setInt64(&c.MDS.MetadataPool, "CORALFS_METADATA_POOL")

	setString(&c.Metadata.OxiaEndpoint, "CORALFS_OXIA_ENDPOINT")
	setString(&c.Metadata.Namespace, "CORALFS_OXIA_NAMESPACE")

	setString(&c.ObjectStore.Endpoint, "CORALFS_S3_ENDPOINT")
	setString(&c.ObjectStore.Bucket, "CORALFS_S3_BUCKET")
	setString(&c.ObjectStore.Region, "CORALFS_S3_REGION")
	setString(&c.ObjectStore.AccessKey, "CORALFS_S3_ACCESS_KEY")
	setString(&c.ObjectStore.SecretKey, "CORALFS_S3_SECRET_KEY")
	setBool(&c.ObjectStore.UsePathStyle, "CORALFS_S3_PATH_STYLE")

	setInt64(&c.Journal.SegmentSizeBytes, "CORALFS_JOURNAL_SEGMENT_SIZE")
	setInt64(&c.Journal.FlushIntervalMs, "CORALFS_JOURNAL_FLUSH_INTERVAL_MS")
	setString(&c.Journal.Compression, "CORALFS_JOURNAL_COMPRESSION")

	setInt(&c.Purge.MaxInFlight, "CORALFS_PURGE_MAX_IN_FLIGHT")

	setString(&c.Observability.MetricsAddr, "CORALFS_METRICS_ADDR")
	setString(&c.Observability.LogLevel, "CORALFS_LOG_LEVEL")
	setString(&c.Observability.LogFormat, "CORALFS_LOG_FORMAT")
}
