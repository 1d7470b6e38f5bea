// Package refreeze returns thawed repositories to the frozen state: it
// unmounts the indices a thaw mounted, deregisters the repositories, and
// closes out the thaw request.
package refreeze

import (
	"context"
	"errors"
	"fmt"

	"github.com/permafrost-sh/permafrost/internal/logger"
	"github.com/permafrost-sh/permafrost/pkg/catalog"
	"github.com/permafrost-sh/permafrost/pkg/gateway/cluster"
)

// Engine runs refreezes.
type Engine struct {
	store   *catalog.Store
	cluster cluster.Gateway
}

// New creates a refreeze engine.
func New(store *catalog.Store, cl cluster.Gateway) *Engine {
	return &Engine{store: store, cluster: cl}
}

// RepositoryOutcome reports one repository's refreeze.
type RepositoryOutcome struct {
	Repository string   `json:"repository"`
	Unmounted  []string `json:"unmounted,omitempty"`
	Error      string   `json:"error,omitempty"`
}

// Result reports one request's refreeze.
type Result struct {
	RequestID    string                `json:"request_id"`
	Status       catalog.RequestStatus `json:"status"`
	Repositories []RepositoryOutcome   `json:"repositories,omitempty"`
	DryRun       bool                  `json:"dry_run"`
}

// Run refreezes one completed request. A request already refrozen is a
// no-op success, so a partially failed refreeze can simply be re-run.
func (e *Engine) Run(ctx context.Context, requestID string, dryRun bool) (*Result, error) {
	req, err := e.store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	return e.run(ctx, req, dryRun)
}

// RunAll refreezes every completed request.
func (e *Engine) RunAll(ctx context.Context, dryRun bool) ([]*Result, error) {
	reqs, err := e.store.ListRequests(ctx, catalog.StatusCompleted)
	if err != nil {
		return nil, err
	}

	results := make([]*Result, 0, len(reqs))
	for _, req := range reqs {
		res, err := e.run(ctx, req, dryRun)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

func (e *Engine) run(ctx context.Context, req catalog.ThawRequest, dryRun bool) (*Result, error) {
	result := &Result{RequestID: req.ID, Status: req.Status, DryRun: dryRun}

	switch req.Status {
	case catalog.StatusRefrozen:
		return result, nil
	case catalog.StatusCompleted:
	default:
		return nil, catalog.NewError(catalog.ErrPreconditionFailed, "refreeze "+req.ID,
			"request status is "+string(req.Status)+", not completed")
	}

	allOK := true
	for _, name := range req.Repos {
		outcome := e.refreezeRepository(ctx, req, name, dryRun)
		if outcome.Error != "" {
			allOK = false
			logger.WarnCtx(ctx, "Refreeze: repository failed",
				"request_id", req.ID, "repository", name, "error", outcome.Error)
		}
		result.Repositories = append(result.Repositories, outcome)
	}

	if dryRun || !allOK {
		// The request stays completed so a later run retries the leftovers.
		return result, nil
	}

	done, err := req.Advance(catalog.StatusRefrozen)
	if err != nil {
		return result, err
	}
	if done, err = e.store.SaveRequest(ctx, done); err != nil {
		return result, err
	}
	result.Status = done.Status

	logger.InfoCtx(ctx, "Refreeze completed",
		"request_id", req.ID, "repositories", len(req.Repos))
	return result, nil
}

// refreezeRepository deletes the indices the thaw mounted, deregisters the
// repository, and returns it to frozen. Every step tolerates having
// already happened.
func (e *Engine) refreezeRepository(ctx context.Context, req catalog.ThawRequest, name string, dryRun bool) RepositoryOutcome {
	outcome := RepositoryOutcome{Repository: name}

	repo, err := e.store.GetRepository(ctx, name)
	if err != nil {
		outcome.Error = err.Error()
		return outcome
	}

	indices, err := e.mountedIndices(ctx, req, name)
	if err != nil {
		outcome.Error = err.Error()
		return outcome
	}

	for _, index := range indices {
		exists, err := e.cluster.IndexExists(ctx, index)
		if err != nil {
			outcome.Error = fmt.Sprintf("check index %s: %v", index, err)
			return outcome
		}
		if !exists {
			continue
		}
		if dryRun {
			outcome.Unmounted = append(outcome.Unmounted, index)
			continue
		}
		if err := e.cluster.DeleteIndex(ctx, index); err != nil {
			outcome.Error = fmt.Sprintf("delete index %s: %v", index, err)
			return outcome
		}
		outcome.Unmounted = append(outcome.Unmounted, index)
	}

	if dryRun {
		return outcome
	}

	if err := e.cluster.DeleteRepository(ctx, name); err != nil && !errors.Is(err, cluster.ErrRepositoryNotFound) {
		outcome.Error = fmt.Sprintf("deregister: %v", err)
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

// mountedIndices resolves which index names to delete for a repository.
// Requests carry the names recorded at mount time; requests from before
// that bookkeeping existed fall back to probing the naming variants a
// mount can produce.
func (e *Engine) mountedIndices(ctx context.Context, req catalog.ThawRequest, repository string) ([]string, error) {
	if recorded, ok := req.MountedIndices[repository]; ok {
		return recorded, nil
	}

	snapshot, err := e.cluster.SnapshotIndices(ctx, repository)
	if err != nil {
		return nil, fmt.Errorf("list snapshot indices: %w", err)
	}

	var candidates []string
	for _, index := range snapshot {
		candidates = append(candidates, index, "partial-"+index, "restored-"+index)
	}
	return candidates, nil
}
