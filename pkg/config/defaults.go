package config

import (
	"strings"
	"time"

	"github.com/permafrost-sh/permafrost/pkg/catalog"
	"github.com/permafrost-sh/permafrost/pkg/rotate"
	"github.com/permafrost-sh/permafrost/pkg/thaw"
)

// ApplyDefaults fills unspecified configuration fields with defaults.
// Zero values are replaced; explicit values are preserved.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyClusterDefaults(&cfg.Cluster)
	applyS3Defaults(&cfg.S3)
	applyCatalogDefaults(&cfg.Catalog)
	applyRotationDefaults(&cfg.Rotation)
	applyThawDefaults(&cfg.Thaw)
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stderr"
	}
}

func applyClusterDefaults(cfg *ClusterConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "http://localhost:9200"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
}

func applyS3Defaults(cfg *S3Config) {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
}

func applyCatalogDefaults(cfg *CatalogConfig) {
	if cfg.Index == "" {
		cfg.Index = catalog.DefaultIndex
	}
}

func applyRotationDefaults(cfg *RotationConfig) {
	if cfg.Keep == 0 {
		cfg.Keep = rotate.DefaultKeep
	}
}

func applyThawDefaults(cfg *ThawConfig) {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = thaw.DefaultPollInterval
	}
}

// GetDefaultConfig returns a configuration with every default applied.
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
