// Package repair reconciles the catalog with reality: it derives each
// repository's lifecycle state from the storage classes and restore status
// of its objects and corrects catalog entries that drifted.
package repair

import (
	"context"

	"github.com/permafrost-sh/permafrost/internal/logger"
	"github.com/permafrost-sh/permafrost/pkg/catalog"
	"github.com/permafrost-sh/permafrost/pkg/gateway/cluster"
	"github.com/permafrost-sh/permafrost/pkg/gateway/objstore"
)

// Engine runs catalog repairs.
type Engine struct {
	store    *catalog.Store
	cluster  cluster.Gateway
	objstore objstore.Gateway
}

// New creates a repair engine.
func New(store *catalog.Store, cl cluster.Gateway, os objstore.Gateway) *Engine {
	return &Engine{store: store, cluster: cl, objstore: os}
}

// Classification counts a repository's objects by access tier.
type Classification struct {
	// Instant counts objects readable right now, including restored copies.
	Instant int `json:"instant"`

	// Archival counts cold objects with no restore activity.
	Archival int `json:"archival"`

	// Restoring counts cold objects with a restore in flight.
	Restoring int `json:"restoring"`
}

// Total returns the number of classified objects.
func (c Classification) Total() int {
	return c.Instant + c.Archival + c.Restoring
}

// Finding reports one repository's derived state against its recorded one.
type Finding struct {
	Repository string         `json:"repository"`
	Recorded   catalog.State  `json:"recorded"`
	Derived    catalog.State  `json:"derived"`
	Objects    Classification `json:"objects"`
	Drifted    bool           `json:"drifted"`

	// MountDrifted reports that the recorded mount flag disagreed with the
	// cluster's repository registration.
	MountDrifted bool `json:"mount_drifted,omitempty"`

	Corrected bool   `json:"corrected"`
	Error     string `json:"error,omitempty"`
}

// Report is the outcome of one repair run.
type Report struct {
	Findings []Finding `json:"findings"`
	DryRun   bool      `json:"dry_run"`
}

// Drifted counts findings where recorded and derived state disagree.
func (r *Report) Drifted() int {
	n := 0
	for _, f := range r.Findings {
		if f.Drifted {
			n++
		}
	}
	return n
}

// Run inspects every catalogued repository and corrects drifted entries.
// Active repositories are exempt: their objects legitimately sit in
// instant-access classes while the repository is still written to.
func (e *Engine) Run(ctx context.Context, dryRun bool) (*Report, error) {
	repos, err := e.store.ListRepositories(ctx)
	if err != nil {
		return nil, err
	}

	report := &Report{DryRun: dryRun}
	for _, repo := range repos {
		finding := e.inspect(ctx, repo, dryRun)
		if finding.Drifted || finding.MountDrifted {
			logger.InfoCtx(ctx, "Repair: state drift",
				"repository", repo.Name,
				"recorded", finding.Recorded, "derived", finding.Derived,
				"corrected", finding.Corrected)
		}
		report.Findings = append(report.Findings, finding)
	}
	return report, nil
}

func (e *Engine) inspect(ctx context.Context, repo catalog.Repository, dryRun bool) Finding {
	finding := Finding{Repository: repo.Name, Recorded: repo.State}

	objects, err := e.objstore.ListObjects(ctx, repo.Bucket, repo.BasePath)
	if err != nil {
		finding.Error = err.Error()
		return finding
	}
	finding.Objects = Classify(objects)
	finding.Derived = DeriveState(finding.Objects)

	registered, err := e.cluster.RepositoryExists(ctx, repo.Name)
	if err != nil {
		finding.Error = err.Error()
		return finding
	}

	switch {
	case repo.State == catalog.StateActive:
		// An active repository always classifies as such; its contents are
		// legitimately in instant-access classes.
		finding.Derived = catalog.StateActive
	case repo.State == catalog.StateExpired && finding.Derived == catalog.StateThawed:
		// expired and thawed classify identically; the recorded expired
		// entry is the more precise statement.
		finding.Derived = catalog.StateExpired
	}

	finding.Drifted = finding.Derived != repo.State
	finding.MountDrifted = registered != repo.Mounted
	if !finding.Drifted && !finding.MountDrifted {
		return finding
	}
	if dryRun {
		return finding
	}

	// Drift comes from outside the state machine (lifecycle transitions in
	// the object store, operator action), so the state is overwritten
	// rather than transitioned.
	repo.State = finding.Derived
	repo.Mounted = registered
	if repo.State == catalog.StateFrozen {
		repo.ThawedAt = nil
		repo.ExpiresAt = nil
	}
	if _, err := e.store.SaveRepository(ctx, repo); err != nil {
		finding.Error = err.Error()
		return finding
	}
	finding.Corrected = true
	return finding
}

// Classify buckets objects by access tier.
func Classify(objects []objstore.ObjectInfo) Classification {
	var c Classification
	for _, obj := range objects {
		switch {
		case obj.Available():
			c.Instant++
		case obj.Restore == objstore.RestoreInProgress:
			c.Restoring++
		default:
			c.Archival++
		}
	}
	return c
}

// DeriveState maps an object classification to the lifecycle state it
// implies: nothing stored yet means active, any restore in flight means
// thawing, all cold means frozen, anything readable means thawed.
func DeriveState(c Classification) catalog.State {
	switch {
	case c.Total() == 0:
		return catalog.StateActive
	case c.Restoring > 0:
		return catalog.StateThawing
	case c.Instant == 0:
		return catalog.StateFrozen
	default:
		return catalog.StateThawed
	}
}
