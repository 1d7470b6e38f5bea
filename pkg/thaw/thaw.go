// Package thaw implements temporary restores of frozen repositories: it
// issues archival restore requests for a date range, tracks their progress,
// and mounts the restored snapshots back into the cluster.
package thaw

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/permafrost-sh/permafrost/internal/logger"
	"github.com/permafrost-sh/permafrost/pkg/catalog"
	"github.com/permafrost-sh/permafrost/pkg/gateway/cluster"
	"github.com/permafrost-sh/permafrost/pkg/gateway/objstore"
)

// Engine drives thaw requests.
type Engine struct {
	store    *catalog.Store
	cluster  cluster.Gateway
	objstore objstore.Gateway

	// now is swappable for tests.
	now func() time.Time
}

// New creates a thaw engine.
func New(store *catalog.Store, cl cluster.Gateway, os objstore.Gateway) *Engine {
	return &Engine{store: store, cluster: cl, objstore: os, now: time.Now}
}

// WithClock replaces the engine's clock. Tests use this to pin time.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// RepositoryRestore tallies the restore requests issued for one repository.
type RepositoryRestore struct {
	Repository string `json:"repository"`

	// Requested counts objects a restore was issued for.
	Requested int `json:"requested"`

	// Available counts objects already readable, restore not needed.
	Available int `json:"available"`
}

// InitiateResult reports what initiating a thaw did.
type InitiateResult struct {
	RequestID    string              `json:"request_id,omitempty"`
	Start        time.Time           `json:"start"`
	End          time.Time           `json:"end"`
	ExpiresAt    time.Time           `json:"expires_at"`
	Repositories []RepositoryRestore `json:"repositories"`
	DryRun       bool                `json:"dry_run"`
}

// Initiate selects the frozen repositories whose recorded range overlaps
// [start, end], issues restore requests for their archival objects, and
// records the thaw request. A repository already claimed by an in-flight
// thaw fails the whole request with a conflict.
func (e *Engine) Initiate(ctx context.Context, start, end time.Time, dryRun bool) (*InitiateResult, error) {
	if end.Before(start) {
		return nil, catalog.NewError(catalog.ErrPreconditionFailed, "thaw",
			"range end precedes start")
	}

	settings, err := e.store.GetSettings(ctx)
	if err != nil {
		return nil, err
	}

	repos, err := e.store.ListRepositories(ctx)
	if err != nil {
		return nil, err
	}

	var selected []catalog.Repository
	var claimed []string
	for _, repo := range repos {
		if !repo.Covers(start, end) {
			continue
		}
		switch repo.State {
		case catalog.StateFrozen:
			selected = append(selected, repo)
		case catalog.StateThawing, catalog.StateThawed:
			claimed = append(claimed, repo.Name)
		}
	}
	if len(claimed) > 0 {
		return nil, catalog.NewError(catalog.ErrConflict, "thaw",
			"repositories already claimed by an in-flight thaw: "+strings.Join(claimed, ", "))
	}
	if len(selected) == 0 {
		return nil, catalog.NewError(catalog.ErrNoRepositoriesInRange, "thaw",
			fmt.Sprintf("no frozen repository overlaps [%s, %s]",
				start.Format(time.RFC3339), end.Format(time.RFC3339)))
	}

	now := e.now().UTC()
	expiresAt := now.Add(time.Duration(settings.RestoreDays) * 24 * time.Hour)
	result := &InitiateResult{
		Start:     start,
		End:       end,
		ExpiresAt: expiresAt,
		DryRun:    dryRun,
	}

	spec := objstore.RestoreSpec{Days: settings.RestoreDays, Tier: settings.RetrievalTier}
	repoNames := make([]string, 0, len(selected))
	for _, repo := range selected {
		repoNames = append(repoNames, repo.Name)
	}

	if dryRun {
		for _, repo := range selected {
			tally, err := e.restoreRepository(ctx, repo, spec, true)
			if err != nil {
				return nil, err
			}
			result.Repositories = append(result.Repositories, tally)
		}
		return result, nil
	}

	// The request is recorded before any repository is claimed: a crash
	// mid-claim then leaves a resumable in-progress request, and CheckStatus
	// re-claims the repositories still frozen.
	req := catalog.ThawRequest{
		ID:        uuid.NewString(),
		Start:     start,
		End:       end,
		Repos:     repoNames,
		ExpiresAt: expiresAt,
		Status:    catalog.StatusInProgress,
		CreatedAt: now,
	}
	if req, err = e.store.CreateRequest(ctx, req); err != nil {
		return nil, err
	}
	result.RequestID = req.ID

	for _, repo := range selected {
		tally, err := e.claimRepository(ctx, repo, spec, expiresAt)
		if err != nil {
			return nil, err
		}
		result.Repositories = append(result.Repositories, tally)
	}

	logger.InfoCtx(ctx, "Thaw initiated",
		"request_id", req.ID, "repositories", len(repoNames),
		"expires_at", expiresAt.Format(time.RFC3339))
	return result, nil
}

// claimRepository issues restores for one repository and moves it to
// thawing. Initiate claims every selected repository; CheckStatus re-issues
// the claim for repositories an interrupted initiate left frozen.
func (e *Engine) claimRepository(ctx context.Context, repo catalog.Repository, spec objstore.RestoreSpec, expiresAt time.Time) (RepositoryRestore, error) {
	tally, err := e.restoreRepository(ctx, repo, spec, false)
	if err != nil {
		return tally, err
	}

	thawing, err := repo.MarkThawing(expiresAt)
	if err != nil {
		return tally, err
	}
	if _, err := e.store.SaveRepository(ctx, thawing); err != nil {
		return tally, err
	}
	return tally, nil
}

// restoreRepository issues restores for every archival object of one
// repository that has no restore in flight yet.
func (e *Engine) restoreRepository(ctx context.Context, repo catalog.Repository, spec objstore.RestoreSpec, dryRun bool) (RepositoryRestore, error) {
	tally := RepositoryRestore{Repository: repo.Name}

	objects, err := e.objstore.ListObjects(ctx, repo.Bucket, repo.BasePath)
	if err != nil {
		return tally, catalog.WrapError(catalog.ErrActionFailed,
			"list objects for "+repo.Name, err)
	}

	for _, obj := range objects {
		if obj.Available() {
			tally.Available++
			continue
		}
		if !dryRun {
			if err := e.objstore.RestoreObject(ctx, repo.Bucket, obj.Key, spec); err != nil {
				return tally, catalog.WrapError(catalog.ErrActionFailed,
					"restore "+obj.Key+" in "+repo.Name, err)
			}
		}
		tally.Requested++
	}

	logger.DebugCtx(ctx, "Thaw: restores issued",
		"repository", repo.Name, "requested", tally.Requested, "available", tally.Available)
	return tally, nil
}
