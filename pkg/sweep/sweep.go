// Package sweep implements cleanup: expiring lapsed thaws, pruning stale
// thaw requests, and deleting orphaned policy versions. The three sweeps
// are independent; one failing does not stop the others.
package sweep

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/permafrost-sh/permafrost/internal/logger"
	"github.com/permafrost-sh/permafrost/pkg/catalog"
	"github.com/permafrost-sh/permafrost/pkg/gateway/cluster"
)

// Engine runs cleanup sweeps.
type Engine struct {
	store   *catalog.Store
	cluster cluster.Gateway

	// now is swappable for tests.
	now func() time.Time
}

// New creates a cleanup engine.
func New(store *catalog.Store, cl cluster.Gateway) *Engine {
	return &Engine{store: store, cluster: cl, now: time.Now}
}

// WithClock replaces the engine's clock. Tests use this to pin time.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// RepositoryAction records one repository returned to frozen.
type RepositoryAction struct {
	Repository string        `json:"repository"`
	From       catalog.State `json:"from"`
	Unmounted  bool          `json:"unmounted"`
	Error      string        `json:"error,omitempty"`
}

// RequestAction records one stale request pruned.
type RequestAction struct {
	RequestID string                `json:"request_id"`
	Status    catalog.RequestStatus `json:"status"`
	Age       time.Duration         `json:"age"`
	Error     string                `json:"error,omitempty"`
}

// PolicyAction records one orphaned policy version deleted.
type PolicyAction struct {
	Policy     string `json:"policy"`
	Repository string `json:"repository"`
	Error      string `json:"error,omitempty"`
}

// Report is the outcome of one cleanup run.
type Report struct {
	Repositories []RepositoryAction `json:"repositories,omitempty"`
	Requests     []RequestAction    `json:"requests,omitempty"`
	Policies     []PolicyAction     `json:"policies,omitempty"`
	DryRun       bool               `json:"dry_run"`
}

// Empty reports whether the run found nothing to clean.
func (r *Report) Empty() bool {
	return len(r.Repositories) == 0 && len(r.Requests) == 0 && len(r.Policies) == 0
}

// Run executes all three sweeps and returns what they did. Per-item
// failures are recorded in the report rather than aborting the run.
func (e *Engine) Run(ctx context.Context, dryRun bool) (*Report, error) {
	settings, err := e.store.GetSettings(ctx)
	if err != nil {
		return nil, err
	}

	report := &Report{DryRun: dryRun}
	now := e.now().UTC()

	repoActs, err := e.sweepRepositories(ctx, now, dryRun)
	if err != nil {
		return nil, err
	}
	report.Repositories = repoActs

	reqActs, err := e.sweepRequests(ctx, settings, now, dryRun)
	if err != nil {
		return nil, err
	}
	report.Requests = reqActs

	polActs, err := e.sweepPolicies(ctx, settings, dryRun)
	if err != nil {
		return nil, err
	}
	report.Policies = polActs

	logger.InfoCtx(ctx, "Cleanup finished",
		"repositories", len(report.Repositories),
		"requests", len(report.Requests),
		"policies", len(report.Policies),
		"dry_run", dryRun)
	return report, nil
}

// sweepRepositories returns expired repositories, and thawed ones whose
// restore window lapsed, to the frozen state, unmounting them on the way.
func (e *Engine) sweepRepositories(ctx context.Context, now time.Time, dryRun bool) ([]RepositoryAction, error) {
	repos, err := e.store.ListRepositories(ctx)
	if err != nil {
		return nil, err
	}

	var actions []RepositoryAction
	for _, repo := range repos {
		lapsed := repo.ThawLapsed(now)
		if repo.State != catalog.StateExpired && !lapsed {
			continue
		}

		action := RepositoryAction{Repository: repo.Name, From: repo.State}
		if dryRun {
			action.Unmounted = repo.Mounted
			actions = append(actions, action)
			continue
		}

		if lapsed {
			if repo, err = repo.MarkExpired(); err != nil {
				action.Error = err.Error()
				actions = append(actions, action)
				continue
			}
		}

		if repo.Mounted {
			err := e.cluster.DeleteRepository(ctx, repo.Name)
			if err != nil && !errors.Is(err, cluster.ErrRepositoryNotFound) {
				action.Error = err.Error()
				actions = append(actions, action)
				continue
			}
			action.Unmounted = true
		}

		frozen, err := repo.MarkFrozen()
		if err != nil {
			action.Error = err.Error()
			actions = append(actions, action)
			continue
		}
		if _, err := e.store.SaveRepository(ctx, frozen); err != nil {
			action.Error = err.Error()
		}
		actions = append(actions, action)
	}
	return actions, nil
}

// sweepRequests prunes terminal requests older than their status-specific
// retention window. A zero window keeps requests indefinitely.
func (e *Engine) sweepRequests(ctx context.Context, settings catalog.Settings, now time.Time, dryRun bool) ([]RequestAction, error) {
	var actions []RequestAction
	for _, status := range []catalog.RequestStatus{
		catalog.StatusCompleted, catalog.StatusFailed, catalog.StatusRefrozen,
	} {
		retention := settings.RetentionFor(status)
		if retention <= 0 {
			continue
		}
		reqs, err := e.store.ListRequests(ctx, status)
		if err != nil {
			return nil, err
		}
		for _, req := range reqs {
			age := now.Sub(req.CreatedAt)
			if age <= retention {
				continue
			}
			action := RequestAction{RequestID: req.ID, Status: req.Status, Age: age}
			if !dryRun {
				if err := e.store.DeleteRequest(ctx, req.ID); err != nil {
					action.Error = err.Error()
				}
			}
			actions = append(actions, action)
		}
	}
	return actions, nil
}

// sweepPolicies deletes versioned policies whose repository is no longer
// registered with the cluster and that nothing references anymore.
func (e *Engine) sweepPolicies(ctx context.Context, settings catalog.Settings, dryRun bool) ([]PolicyAction, error) {
	if settings.PolicyName == "" {
		return nil, nil
	}

	policies, err := e.cluster.ListPolicies(ctx, settings.PolicyName+"-")
	if err != nil {
		return nil, catalog.WrapError(catalog.ErrActionFailed, "list policies", err)
	}

	var actions []PolicyAction
	for _, policy := range policies {
		if !strings.HasPrefix(policy.Name, settings.PolicyName+"-") {
			continue
		}
		if policy.Repository == "" {
			continue
		}

		registered, err := e.cluster.RepositoryExists(ctx, policy.Repository)
		if err != nil {
			return actions, catalog.WrapError(catalog.ErrActionFailed,
				"check repository "+policy.Repository, err)
		}
		if registered {
			continue
		}

		usage, err := e.cluster.GetPolicyUsage(ctx, policy.Name)
		if err != nil {
			return actions, catalog.WrapError(catalog.ErrActionFailed,
				"check usage of "+policy.Name, err)
		}
		if !usage.Empty() {
			continue
		}

		action := PolicyAction{Policy: policy.Name, Repository: policy.Repository}
		if !dryRun {
			if err := e.cluster.DeletePolicy(ctx, policy.Name); err != nil {
				action.Error = err.Error()
			}
		}
		actions = append(actions, action)
	}
	return actions, nil
}
