package thaw

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/permafrost-sh/permafrost/internal/logger"
	"github.com/permafrost-sh/permafrost/pkg/catalog"
	"github.com/permafrost-sh/permafrost/pkg/gateway/cluster"
	"github.com/permafrost-sh/permafrost/pkg/gateway/objstore"
)

// DefaultProbeWorkers caps the number of concurrent object probes per
// repository.
const DefaultProbeWorkers = 15

// RepositoryProgress reports restore progress over one repository's objects.
type RepositoryProgress struct {
	Repository string `json:"repository"`
	Total      int    `json:"total"`
	Restored   int    `json:"restored"`
	InProgress int    `json:"in_progress"`
	NotStarted int    `json:"not_started"`
	Errors     int    `json:"errors"`
	Complete   bool   `json:"complete"`
}

// StatusResult is a point-in-time view of a thaw request.
type StatusResult struct {
	RequestID    string                `json:"request_id"`
	Status       catalog.RequestStatus `json:"status"`
	Repositories []RepositoryProgress  `json:"repositories,omitempty"`
	Mounted      map[string][]string   `json:"mounted_indices,omitempty"`
	Done         bool                  `json:"done"`
}

// CheckStatus probes the restore progress of an in-flight request. Once
// every object of every repository is restored it mounts the repositories,
// mounts the snapshot indices that intersect the request window, and
// advances the request to completed. Checking a finished request is a
// no-op returning its recorded outcome.
func (e *Engine) CheckStatus(ctx context.Context, requestID string) (*StatusResult, error) {
	req, err := e.store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}

	result := &StatusResult{RequestID: req.ID, Status: req.Status, Mounted: req.MountedIndices}
	if req.Status != catalog.StatusInProgress {
		result.Done = true
		return result, nil
	}

	complete := true
	var spec *objstore.RestoreSpec
	for _, name := range req.Repos {
		repo, err := e.store.GetRepository(ctx, name)
		if err != nil {
			return nil, err
		}
		if repo.State == catalog.StateFrozen {
			// An initiate interrupted mid-claim left this repository
			// frozen; re-issue its restores under the request's deadline.
			if spec == nil {
				settings, err := e.store.GetSettings(ctx)
				if err != nil {
					return nil, err
				}
				spec = &objstore.RestoreSpec{Days: settings.RestoreDays, Tier: settings.RetrievalTier}
			}
			logger.InfoCtx(ctx, "Thaw: resuming interrupted claim",
				"request_id", req.ID, "repository", name)
			if _, err := e.claimRepository(ctx, repo, *spec, req.ExpiresAt); err != nil {
				return nil, err
			}
		}
		progress, err := e.probeRepository(ctx, repo)
		if err != nil {
			return nil, err
		}
		result.Repositories = append(result.Repositories, progress)
		complete = complete && progress.Complete
	}
	if !complete {
		return result, nil
	}

	if err := e.finalize(ctx, &req, result); err != nil {
		return result, err
	}
	return result, nil
}

// probeRepository heads every object under the repository prefix with a
// bounded worker pool and classifies its restore state. Probe failures
// count as errors and keep the repository incomplete.
func (e *Engine) probeRepository(ctx context.Context, repo catalog.Repository) (RepositoryProgress, error) {
	progress := RepositoryProgress{Repository: repo.Name}

	objects, err := e.objstore.ListObjects(ctx, repo.Bucket, repo.BasePath)
	if err != nil {
		return progress, catalog.WrapError(catalog.ErrActionFailed,
			"list objects for "+repo.Name, err)
	}
	progress.Total = len(objects)
	if progress.Total == 0 {
		progress.Complete = true
		return progress, nil
	}

	workers := DefaultProbeWorkers
	if len(objects) < workers {
		workers = len(objects)
	}

	keys := make(chan string)
	probes := make(chan probeResult, len(objects))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for key := range keys {
				obj, err := e.objstore.HeadObject(ctx, repo.Bucket, key)
				probes <- probeResult{info: obj, err: err}
			}
		}()
	}

	go func() {
		defer close(keys)
		for _, obj := range objects {
			select {
			case keys <- obj.Key:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(probes)
	}()

	for probe := range probes {
		switch {
		case probe.err != nil:
			progress.Errors++
		case probe.info.Available():
			progress.Restored++
		case probe.info.Restore == objstore.RestoreInProgress:
			progress.InProgress++
		default:
			progress.NotStarted++
		}
	}
	if err := ctx.Err(); err != nil {
		return progress, err
	}

	progress.Complete = progress.Restored == progress.Total
	return progress, nil
}

type probeResult struct {
	info objstore.ObjectInfo
	err  error
}

// finalize mounts every repository of a fully restored request, mounts the
// snapshot indices intersecting the request window, and advances the
// request. Any mount failure fails the request.
func (e *Engine) finalize(ctx context.Context, req *catalog.ThawRequest, result *StatusResult) error {
	settings, err := e.store.GetSettings(ctx)
	if err != nil {
		return err
	}

	mounted := make(map[string][]string, len(req.Repos))
	for _, name := range req.Repos {
		repo, err := e.store.GetRepository(ctx, name)
		if err != nil {
			return err
		}
		indices, err := e.mountRepository(ctx, settings, repo, req.Start, req.End)
		if err != nil {
			return e.fail(ctx, req, result, err)
		}
		mounted[name] = indices

		thawed, err := repo.MarkThawed(e.now().UTC())
		if err != nil {
			return e.fail(ctx, req, result, err)
		}
		if _, err := e.store.SaveRepository(ctx, thawed); err != nil {
			return err
		}
	}

	req.MountedIndices = mounted
	done, err := req.Advance(catalog.StatusCompleted)
	if err != nil {
		return err
	}
	if done, err = e.store.SaveRequest(ctx, done); err != nil {
		return err
	}

	result.Status = done.Status
	result.Mounted = mounted
	result.Done = true
	logger.InfoCtx(ctx, "Thaw completed", "request_id", req.ID, "repositories", len(req.Repos))
	return nil
}

// mountRepository registers the repository and mounts the indices from its
// snapshots whose timestamps intersect [start, end]. Mounted indices
// outside the window are unmounted again. Returns the kept mounted names.
func (e *Engine) mountRepository(ctx context.Context, settings catalog.Settings, repo catalog.Repository, start, end time.Time) ([]string, error) {
	spec := cluster.RepositorySpec{
		Name:      repo.Name,
		Bucket:    repo.Bucket,
		BasePath:  repo.BasePath,
		CannedACL: settings.CannedACL,
	}
	if err := e.cluster.CreateRepository(ctx, spec); err != nil {
		return nil, catalog.WrapError(catalog.ErrActionFailed, "mount repository "+repo.Name, err)
	}

	indices, err := e.cluster.SnapshotIndices(ctx, repo.Name)
	if err != nil {
		return nil, catalog.WrapError(catalog.ErrActionFailed, "list snapshot indices of "+repo.Name, err)
	}

	var kept []string
	for _, index := range indices {
		mountedName, err := e.cluster.MountIndex(ctx, repo.Name, index)
		if err != nil {
			return nil, catalog.WrapError(catalog.ErrActionFailed, "mount index "+index, err)
		}

		r, err := e.cluster.TimestampRange(ctx, mountedName)
		if err != nil {
			// No usable timestamps means the index cannot be matched to the
			// window; unmount it rather than leave it dangling.
			logger.DebugCtx(ctx, "Thaw: no timestamp range, unmounting",
				"index", mountedName, "error", err)
			if err := e.cluster.DeleteIndex(ctx, mountedName); err != nil {
				return nil, catalog.WrapError(catalog.ErrActionFailed, "unmount index "+mountedName, err)
			}
			continue
		}
		if !r.Overlaps(start, end) {
			if err := e.cluster.DeleteIndex(ctx, mountedName); err != nil {
				return nil, catalog.WrapError(catalog.ErrActionFailed, "unmount index "+mountedName, err)
			}
			continue
		}
		kept = append(kept, mountedName)
	}

	sort.Strings(kept)
	return kept, nil
}

// fail moves the request to failed, records it, and returns the cause.
func (e *Engine) fail(ctx context.Context, req *catalog.ThawRequest, result *StatusResult, cause error) error {
	failed, err := req.Advance(catalog.StatusFailed)
	if err != nil {
		return cause
	}
	if failed, err = e.store.SaveRequest(ctx, failed); err != nil {
		logger.WarnCtx(ctx, "Thaw: could not record failure",
			"request_id", req.ID, "error", err)
		return cause
	}
	result.Status = failed.Status
	result.Done = true
	logger.WarnCtx(ctx, "Thaw failed", "request_id", req.ID, "error", cause)
	return cause
}
