package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/permafrost-sh/permafrost/pkg/catalog"
	"github.com/permafrost-sh/permafrost/pkg/config"
	"github.com/permafrost-sh/permafrost/pkg/gateway/objstore"
	"github.com/permafrost-sh/permafrost/pkg/rotate"
)

var (
	setupRepoPrefix     string
	setupBucketPrefix   string
	setupBasePathPrefix string
	setupCannedACL      string
	setupStorageClass   string
	setupRotateBy       string
	setupStyle          string
	setupPolicyName     string
	setupRestoreDays    int
	setupRetrievalTier  string
	setupRetainDone     time.Duration
	setupRetainFailed   time.Duration
	setupRetainRefroze  time.Duration
	setupWriteConfig    bool
	setupDryRun         bool
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Initialize the lifecycle catalog and first repository",
	Long: `Initialize a cluster for lifecycle management.

Setup creates the status catalog index, stores the lifecycle settings,
and provisions the first repository: its bucket (or base path), its
cluster registration, and the first version of the archival policy.
Running setup against an already-initialized cluster fails.

Examples:
  # Initialize with defaults
  permafrost setup

  # Custom naming and date-style suffixes
  permafrost setup --repo-prefix logs-archive --style date

  # Shared bucket with per-repository base paths
  permafrost setup --rotate-by path --bucket-prefix archive --base-path-prefix snapshots

  # Preview without mutating anything
  permafrost setup --dry-run`,
	RunE: runSetup,
}

func init() {
	setupCmd.Flags().StringVar(&setupRepoPrefix, "repo-prefix", "permafrost", "Prefix for repository names")
	setupCmd.Flags().StringVar(&setupBucketPrefix, "bucket-prefix", "permafrost", "Prefix for bucket names")
	setupCmd.Flags().StringVar(&setupBasePathPrefix, "base-path-prefix", "snapshots", "Prefix for base paths inside a shared bucket")
	setupCmd.Flags().StringVar(&setupCannedACL, "canned-acl", "private", "Canned ACL applied to created buckets and copied objects")
	setupCmd.Flags().StringVar(&setupStorageClass, "storage-class", string(objstore.ClassGlacier), "Cold storage class for archived repositories")
	setupCmd.Flags().StringVar(&setupRotateBy, "rotate-by", string(catalog.RotateByPath), "Rotation storage strategy (bucket|path)")
	setupCmd.Flags().StringVar(&setupStyle, "style", string(catalog.StyleOneup), "Repository suffix style (oneup|date)")
	setupCmd.Flags().StringVar(&setupPolicyName, "policy-name", "permafrost", "Base name of the versioned archival policy")
	setupCmd.Flags().IntVar(&setupRestoreDays, "restore-days", 7, "Days a thawed restore stays readable")
	setupCmd.Flags().StringVar(&setupRetrievalTier, "retrieval-tier", "Standard", "Retrieval tier for thaw restores")
	setupCmd.Flags().DurationVar(&setupRetainDone, "retain-completed", 30*24*time.Hour, "How long completed thaw requests are kept (0 = forever)")
	setupCmd.Flags().DurationVar(&setupRetainFailed, "retain-failed", 7*24*time.Hour, "How long failed thaw requests are kept (0 = forever)")
	setupCmd.Flags().DurationVar(&setupRetainRefroze, "retain-refrozen", 24*time.Hour, "How long refrozen thaw requests are kept (0 = forever)")
	setupCmd.Flags().BoolVar(&setupWriteConfig, "write-config", false, "Write the effective configuration to the default config path")
	setupCmd.Flags().BoolVar(&setupDryRun, "dry-run", false, "Report what would be created without mutating anything")
}

func runSetup(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	env, err := newEnvLenient(ctx)
	if err != nil {
		return err
	}
	printer, err := newPrinter()
	if err != nil {
		return err
	}

	settings := catalog.Settings{
		RepoPrefix:      setupRepoPrefix,
		BucketPrefix:    setupBucketPrefix,
		BasePathPrefix:  setupBasePathPrefix,
		CannedACL:       setupCannedACL,
		StorageClass:    setupStorageClass,
		RotateBy:        catalog.RotateBy(setupRotateBy),
		Style:           catalog.SuffixStyle(setupStyle),
		PolicyName:      setupPolicyName,
		RestoreDays:     setupRestoreDays,
		RetrievalTier:   setupRetrievalTier,
		RetainCompleted: catalog.Duration(setupRetainDone),
		RetainFailed:    catalog.Duration(setupRetainFailed),
		RetainRefrozen:  catalog.Duration(setupRetainRefroze),
	}

	if setupDryRun {
		exists, err := env.store.Exists(ctx)
		if err != nil {
			return err
		}
		if exists {
			return catalog.NewError(catalog.ErrPreconditionFailed, "setup",
				"catalog index "+env.store.Index()+" already exists")
		}
		printer.Printf("Would create catalog index %q\n", env.store.Index())
		printer.Printf("Would store settings (repo prefix %q, rotate by %s, style %s)\n",
			settings.RepoPrefix, settings.RotateBy, settings.Style)
		printer.Printf("Would provision the first repository and policy %q\n", settings.PolicyName)
		return nil
	}

	if err := env.store.Create(ctx); err != nil {
		return err
	}
	if _, err := env.store.CreateSettings(ctx, settings); err != nil {
		return err
	}

	// The first repository is provisioned by an ordinary rotation against
	// the freshly stored settings.
	engine := rotate.New(env.store, env.cluster, env.objstore)
	result, err := engine.Run(ctx, rotate.Config{Keep: env.cfg.Rotation.Keep})
	if err != nil {
		return err
	}

	if setupWriteConfig && GetConfigFile() == "" && !config.DefaultConfigExists() {
		path := config.GetDefaultConfigPath()
		if err := config.SaveConfig(env.cfg, path); err != nil {
			return err
		}
		printer.Printf("Configuration written to %s\n", path)
	}

	printer.Success(fmt.Sprintf("Initialized catalog %q", env.store.Index()))
	printer.Printf("Repository: %s\n", result.Repository)
	printer.Printf("Bucket:     %s\n", result.Bucket)
	if result.BasePath != "" {
		printer.Printf("Base path:  %s\n", result.BasePath)
	}
	printer.Printf("Policy:     %s\n", result.Policy)
	return nil
}
