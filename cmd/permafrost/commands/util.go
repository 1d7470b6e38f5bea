package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/permafrost-sh/permafrost/internal/cli/output"
	"github.com/permafrost-sh/permafrost/internal/logger"
	"github.com/permafrost-sh/permafrost/pkg/catalog"
	"github.com/permafrost-sh/permafrost/pkg/config"
	"github.com/permafrost-sh/permafrost/pkg/gateway/cluster"
	"github.com/permafrost-sh/permafrost/pkg/gateway/objstore"
	s3gw "github.com/permafrost-sh/permafrost/pkg/gateway/objstore/s3"
)

// runtimeEnv bundles everything a command needs to talk to the cluster
// and object storage.
type runtimeEnv struct {
	cfg      *config.Config
	store    *catalog.Store
	cluster  cluster.Gateway
	objstore objstore.Gateway
}

// newEnv loads configuration, initializes logging, and wires up the
// gateways and catalog store. It requires a config file to exist.
func newEnv(ctx context.Context) (*runtimeEnv, error) {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return nil, err
	}
	return buildEnv(ctx, cfg)
}

// newEnvLenient is newEnv without requiring a config file. Setup uses it
// because it runs before any configuration exists; defaults plus
// PERMAFROST_* environment overrides apply.
func newEnvLenient(ctx context.Context) (*runtimeEnv, error) {
	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return buildEnv(ctx, cfg)
}

func buildEnv(ctx context.Context, cfg *config.Config) (*runtimeEnv, error) {
	if rootVerbose {
		cfg.Logging.Level = "DEBUG"
	}
	if err := InitLogger(cfg); err != nil {
		return nil, err
	}

	cl := cluster.NewClient(cluster.ClientConfig{
		Endpoint: cfg.Cluster.Endpoint,
		Username: cfg.Cluster.Username,
		Password: cfg.Cluster.Password,
		APIKey:   cfg.Cluster.APIKey,
		Timeout:  cfg.Cluster.Timeout,
	})

	osGw, err := s3gw.NewFromConfig(ctx, s3gw.Config{
		Region:          cfg.S3.Region,
		Endpoint:        cfg.S3.Endpoint,
		AccessKeyID:     cfg.S3.AccessKeyID,
		SecretAccessKey: cfg.S3.SecretAccessKey,
		ForcePathStyle:  cfg.S3.ForcePathStyle,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize object storage: %w", err)
	}

	return &runtimeEnv{
		cfg:      cfg,
		store:    catalog.NewStore(cl, cfg.Catalog.Index),
		cluster:  cl,
		objstore: osGw,
	}, nil
}

// InitLogger initializes the structured logger from configuration.
func InitLogger(cfg *config.Config) error {
	loggerCfg := logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}
	if err := logger.Init(loggerCfg); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	return nil
}

// newPrinter builds a printer from the global output flags.
func newPrinter() (*output.Printer, error) {
	format, err := output.ParseFormat(rootOutput)
	if err != nil {
		return nil, err
	}
	return output.NewPrinter(os.Stdout, format, !rootNoColor), nil
}
