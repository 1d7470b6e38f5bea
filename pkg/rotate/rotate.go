// Package rotate implements repository rotation: provisioning a fresh
// repository, re-versioning the archival policy to point at it, and
// archiving aged-out repositories to cold storage.
package rotate

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/permafrost-sh/permafrost/internal/logger"
	"github.com/permafrost-sh/permafrost/pkg/catalog"
	"github.com/permafrost-sh/permafrost/pkg/gateway/cluster"
	"github.com/permafrost-sh/permafrost/pkg/gateway/objstore"
)

// DefaultKeep is how many mounted repositories a rotation leaves mounted
// when not told otherwise.
const DefaultKeep = 6

// Config parameterizes one rotation run.
type Config struct {
	// Keep is how many of the newest mounted repositories stay mounted.
	Keep int

	// Year and Month override the date-style suffix. Ignored for oneup.
	Year  int
	Month int

	// DryRun computes every selection but skips all mutations.
	DryRun bool
}

// Engine runs rotations.
type Engine struct {
	store    *catalog.Store
	cluster  cluster.Gateway
	objstore objstore.Gateway
}

// New creates a rotation engine.
func New(store *catalog.Store, cl cluster.Gateway, os objstore.Gateway) *Engine {
	return &Engine{store: store, cluster: cl, objstore: os}
}

// Result reports what one rotation run did (or, on dry run, would do).
type Result struct {
	Suffix     string `json:"suffix"`
	Repository string `json:"repository"`
	Bucket     string `json:"bucket"`
	BasePath   string `json:"base_path"`
	Policy     string `json:"policy"`

	// RepointedTemplates lists templates rebound from the prior policy
	// version to the new one.
	RepointedTemplates []string `json:"repointed_templates"`

	Archived []ArchiveOutcome `json:"archived"`
	DryRun   bool             `json:"dry_run"`
}

// ArchiveOutcome tallies one repository's archival.
type ArchiveOutcome struct {
	Repository string `json:"repository"`
	Copied     int    `json:"copied"`
	Failed     int    `json:"failed"`
	Error      string `json:"error,omitempty"`
}

// Run performs one rotation. Failure to provision the new repository
// aborts; one repository's archival failure does not block the others.
func (e *Engine) Run(ctx context.Context, cfg Config) (*Result, error) {
	if cfg.Keep <= 0 {
		cfg.Keep = DefaultKeep
	}

	settings, err := e.store.GetSettings(ctx)
	if err != nil {
		return nil, err
	}

	suffix, err := catalog.NextSuffix(settings.Style, settings.LastSuffix, cfg.Year, cfg.Month)
	if err != nil {
		return nil, err
	}
	if settings.Style == catalog.StyleDate && suffix == settings.LastSuffix {
		return nil, catalog.NewError(catalog.ErrPreconditionFailed, "rotate",
			"suffix "+suffix+" was already issued")
	}

	repoName := settings.RepoPrefix + "-" + suffix
	prevSuffix := settings.LastSuffix
	bucket, basePath := backingStorage(settings, suffix)

	result := &Result{
		Suffix:     suffix,
		Repository: repoName,
		Bucket:     bucket,
		BasePath:   basePath,
		Policy:     policyName(settings.PolicyName, suffix),
		DryRun:     cfg.DryRun,
	}

	logger.InfoCtx(ctx, "Rotation: provisioning repository",
		"repository", repoName, "bucket", bucket, "base_path", basePath, "dry_run", cfg.DryRun)

	if !cfg.DryRun {
		if err := e.provision(ctx, settings, repoName, bucket, basePath); err != nil {
			return nil, err
		}

		settings.LastSuffix = suffix
		if settings, err = e.store.SaveSettings(ctx, settings); err != nil {
			return nil, err
		}
	}

	repointed, err := e.updatePolicy(ctx, settings, prevSuffix, suffix, repoName, cfg.DryRun)
	if err != nil {
		return nil, err
	}
	result.RepointedTemplates = repointed

	archived, err := e.archiveAgedOut(ctx, settings, repoName, cfg)
	if err != nil {
		return nil, err
	}
	result.Archived = archived

	return result, nil
}

// backingStorage derives bucket and base path for a new repository per the
// configured rotation mode.
func backingStorage(settings catalog.Settings, suffix string) (bucket, basePath string) {
	if settings.RotateBy == catalog.RotateByPath {
		return settings.BucketPrefix, settings.BasePathPrefix + "-" + suffix
	}
	return settings.BucketPrefix + "-" + suffix, settings.BasePathPrefix
}

// provision creates backing storage, registers the repository with the
// cluster, and persists the ledger entry. Any failure here aborts the run.
func (e *Engine) provision(ctx context.Context, settings catalog.Settings, repoName, bucket, basePath string) error {
	exists, err := e.objstore.BucketExists(ctx, bucket)
	if err != nil {
		return catalog.WrapError(catalog.ErrActionFailed, "check bucket "+bucket, err)
	}
	if !exists {
		if err := e.objstore.CreateBucket(ctx, bucket, settings.CannedACL); err != nil {
			return catalog.WrapError(catalog.ErrActionFailed, "create bucket "+bucket, err)
		}
	}

	spec := cluster.RepositorySpec{
		Name:      repoName,
		Bucket:    bucket,
		BasePath:  basePath,
		CannedACL: settings.CannedACL,
	}
	if err := e.cluster.CreateRepository(ctx, spec); err != nil {
		return catalog.WrapError(catalog.ErrActionFailed, "create repository "+repoName, err)
	}

	repo := catalog.Repository{
		Name:     repoName,
		Bucket:   bucket,
		BasePath: basePath,
		State:    catalog.StateActive,
		Mounted:  true,
	}
	if _, err := e.store.CreateRepository(ctx, repo); err != nil {
		return err
	}
	return nil
}

// archiveAgedOut archives every mounted repository beyond the keep newest.
func (e *Engine) archiveAgedOut(ctx context.Context, settings catalog.Settings, newRepo string, cfg Config) ([]ArchiveOutcome, error) {
	repos, err := e.store.ListRepositories(ctx)
	if err != nil {
		return nil, err
	}

	targets := selectAgedOut(repos, newRepo, cfg.Keep)
	outcomes := make([]ArchiveOutcome, 0, len(targets))

	for _, repo := range targets {
		outcome := e.archiveOne(ctx, settings, repo, cfg.DryRun)
		if outcome.Error != "" {
			logger.WarnCtx(ctx, "Rotation: repository archival failed",
				"repository", repo.Name, "error", outcome.Error)
		} else {
			logger.InfoCtx(ctx, "Rotation: repository archived",
				"repository", repo.Name, "copied", outcome.Copied, "failed", outcome.Failed)
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes, nil
}

// selectAgedOut picks the mounted repositories beyond the keep newest,
// ordered by name. On dry run the new repository is not yet persisted, so
// it is injected into the ordering to keep selection identical.
func selectAgedOut(repos []catalog.Repository, newRepo string, keep int) []catalog.Repository {
	mounted := make([]catalog.Repository, 0, len(repos)+1)
	haveNew := false
	for _, r := range repos {
		if r.Name == newRepo {
			haveNew = true
		}
		if r.Mounted {
			mounted = append(mounted, r)
		}
	}
	if !haveNew {
		mounted = append(mounted, catalog.Repository{Name: newRepo, Mounted: true, State: catalog.StateActive})
	}

	// Newest first; names embed sortable suffixes.
	sort.Slice(mounted, func(i, j int) bool { return mounted[i].Name > mounted[j].Name })

	if len(mounted) <= keep {
		return nil
	}
	aged := mounted[keep:]

	// The placeholder for a not-yet-persisted new repository is never a
	// target; everything else beyond keep is.
	targets := make([]catalog.Repository, 0, len(aged))
	for _, r := range aged {
		if r.Name == newRepo && !haveNew {
			continue
		}
		targets = append(targets, r)
	}
	return targets
}

// archiveOne copies a repository's objects to the archival storage class,
// unmounts it, and resets it to frozen. Per-object copy failures are
// tallied and do not stop the copy loop.
func (e *Engine) archiveOne(ctx context.Context, settings catalog.Settings, repo catalog.Repository, dryRun bool) ArchiveOutcome {
	outcome := ArchiveOutcome{Repository: repo.Name}

	objects, err := e.objstore.ListObjects(ctx, repo.Bucket, repo.BasePath)
	if err != nil {
		outcome.Error = fmt.Sprintf("list objects: %v", err)
		return outcome
	}

	target := objstore.StorageClass(settings.StorageClass)
	for _, obj := range objects {
		if obj.StorageClass == target {
			continue
		}
		if dryRun {
			outcome.Copied++
			continue
		}
		if err := e.objstore.CopyObject(ctx, repo.Bucket, obj.Key, target, settings.CannedACL); err != nil {
			logger.DebugCtx(ctx, "Rotation: object copy failed",
				"repository", repo.Name, "key", obj.Key, "error", err)
			outcome.Failed++
			continue
		}
		outcome.Copied++
	}

	if dryRun {
		return outcome
	}

	// The covered range comes from the snapshot listing, which needs the
	// repository still registered. Without it the repository could never be
	// matched to a thaw window again.
	repo, err = e.recordRange(ctx, repo)
	if err != nil {
		outcome.Error = fmt.Sprintf("record range: %v", err)
		return outcome
	}

	if err := e.cluster.DeleteRepository(ctx, repo.Name); err != nil && !errors.Is(err, cluster.ErrRepositoryNotFound) {
		outcome.Error = fmt.Sprintf("unmount: %v", err)
		return outcome
	}

	frozen, err := repo.MarkFrozen()
	if err != nil {
		outcome.Error = err.Error()
		return outcome
	}
	if _, err := e.store.SaveRepository(ctx, frozen); err != nil {
		outcome.Error = err.Error()
	}
	return outcome
}

// recordRange widens the repository's recorded range from the timestamps of
// its snapshot indices. Indices without usable timestamps cannot widen the
// range and are skipped.
func (e *Engine) recordRange(ctx context.Context, repo catalog.Repository) (catalog.Repository, error) {
	indices, err := e.cluster.SnapshotIndices(ctx, repo.Name)
	if err != nil {
		return repo, err
	}

	for _, index := range indices {
		r, err := e.cluster.TimestampRange(ctx, index)
		if err != nil {
			logger.DebugCtx(ctx, "Rotation: no timestamp range",
				"repository", repo.Name, "index", index, "error", err)
			continue
		}
		repo = repo.ExtendRange(r.Min, r.Max)
	}
	return repo, nil
}
