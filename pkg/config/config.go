// Package config loads and validates the permafrost configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config is the permafrost configuration.
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (PERMAFROST_*)
//  3. Configuration file (YAML)
//  4. Default values (lowest priority)
type Config struct {
	// Logging controls log output behavior.
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Cluster configures the search cluster connection.
	Cluster ClusterConfig `mapstructure:"cluster" yaml:"cluster"`

	// S3 configures object storage access.
	S3 S3Config `mapstructure:"s3" yaml:"s3"`

	// Catalog configures where lifecycle state is stored.
	Catalog CatalogConfig `mapstructure:"catalog" yaml:"catalog"`

	// Rotation configures rotation defaults.
	Rotation RotationConfig `mapstructure:"rotation" yaml:"rotation"`

	// Thaw configures thaw polling defaults.
	Thaw ThawConfig `mapstructure:"thaw" yaml:"thaw"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output.
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive).
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format: text or json.
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written: stdout, stderr, or a file path.
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// ClusterConfig configures the search cluster connection.
type ClusterConfig struct {
	// Endpoint is the cluster base URL.
	Endpoint string `mapstructure:"endpoint" validate:"required,url" yaml:"endpoint"`

	// Username and Password enable basic authentication when set.
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password"`

	// APIKey enables key authentication when set; it wins over basic auth.
	APIKey string `mapstructure:"api_key" yaml:"api_key"`

	// Timeout bounds each cluster request.
	Timeout time.Duration `mapstructure:"timeout" validate:"gt=0" yaml:"timeout"`
}

// S3Config configures object storage access. Credentials left empty fall
// back to the ambient AWS credential chain.
type S3Config struct {
	Region          string `mapstructure:"region" validate:"required" yaml:"region"`
	Endpoint        string `mapstructure:"endpoint" validate:"omitempty,url" yaml:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id" yaml:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key" yaml:"secret_access_key"`

	// ForcePathStyle addresses buckets by path, needed for MinIO and most
	// other S3-compatible endpoints.
	ForcePathStyle bool `mapstructure:"force_path_style" yaml:"force_path_style"`
}

// CatalogConfig configures where lifecycle state is stored.
type CatalogConfig struct {
	// Index is the name of the status catalog index.
	Index string `mapstructure:"index" validate:"required" yaml:"index"`
}

// RotationConfig configures rotation defaults.
type RotationConfig struct {
	// Keep is how many of the newest mounted repositories stay mounted.
	Keep int `mapstructure:"keep" validate:"gte=1" yaml:"keep"`
}

// ThawConfig configures thaw polling defaults.
type ThawConfig struct {
	// PollInterval is how often a synchronous thaw re-checks progress.
	PollInterval time.Duration `mapstructure:"poll_interval" validate:"gt=0" yaml:"poll_interval"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (PERMAFROST_*)
//  2. Configuration file
//  3. Default values
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	configFileFound, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}
	if !configFileFound {
		cfg := GetDefaultConfig()
		applyEnvOverrides(v, cfg)
		if err := Validate(cfg); err != nil {
			return nil, fmt.Errorf("configuration validation failed: %w", err)
		}
		return cfg, nil
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// MustLoad loads configuration with helpful error messages when the file
// is missing.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"Please initialize a configuration file first:\n"+
				"  permafrost setup\n\n"+
				"Or specify a custom config file:\n"+
				"  permafrost <command> --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s", configPath)
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// SaveConfig writes the configuration to path in YAML. Restrictive
// permissions: the file can carry cluster and S3 credentials.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// setupViper configures environment variables and config file search.
// Environment variables use the PERMAFROST_ prefix and underscores, e.g.
// PERMAFROST_CLUSTER_ENDPOINT=https://search.internal:9200.
func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("PERMAFROST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists. A missing file
// is not an error; defaults apply.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

// applyEnvOverrides applies environment values on top of a default config
// when no config file exists. AutomaticEnv only covers keys viper already
// knows about, so the relevant ones are probed explicitly.
func applyEnvOverrides(v *viper.Viper, cfg *Config) {
	if s := v.GetString("cluster.endpoint"); s != "" {
		cfg.Cluster.Endpoint = s
	}
	if s := v.GetString("cluster.username"); s != "" {
		cfg.Cluster.Username = s
	}
	if s := v.GetString("cluster.password"); s != "" {
		cfg.Cluster.Password = s
	}
	if s := v.GetString("cluster.api_key"); s != "" {
		cfg.Cluster.APIKey = s
	}
	if s := v.GetString("s3.region"); s != "" {
		cfg.S3.Region = s
	}
	if s := v.GetString("s3.endpoint"); s != "" {
		cfg.S3.Endpoint = s
	}
	if s := v.GetString("s3.access_key_id"); s != "" {
		cfg.S3.AccessKeyID = s
	}
	if s := v.GetString("s3.secret_access_key"); s != "" {
		cfg.S3.SecretAccessKey = s
	}
	if s := v.GetString("catalog.index"); s != "" {
		cfg.Catalog.Index = s
	}
	if s := v.GetString("logging.level"); s != "" {
		cfg.Logging.Level = strings.ToUpper(s)
	}
}

// configDecodeHooks returns the combined decode hook for custom types.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
	)
}

// durationDecodeHook converts strings like "30s" or "5m" and raw numbers
// (nanoseconds) into time.Duration.
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns the configuration directory path. Uses
// XDG_CONFIG_HOME if set, otherwise ~/.config, falling back to the current
// directory if the home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "permafrost")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "permafrost")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists checks for a config file at the default location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}
