package sweep_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/permafrost-sh/permafrost/pkg/catalog"
	"github.com/permafrost-sh/permafrost/pkg/gateway/cluster"
	clustermem "github.com/permafrost-sh/permafrost/pkg/gateway/cluster/memory"
	"github.com/permafrost-sh/permafrost/pkg/sweep"
)

var now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	store   *catalog.Store
	cluster *clustermem.Gateway
	engine  *sweep.Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	clus := clustermem.New()
	store := catalog.NewStore(clus, catalog.DefaultIndex)
	require.NoError(t, store.Create(ctx))
	_, err := store.CreateSettings(ctx, catalog.Settings{
		RepoPrefix:      "deepfreeze",
		PolicyName:      "deepfreeze",
		RetainCompleted: catalog.Duration(30 * 24 * time.Hour),
		RetainFailed:    catalog.Duration(7 * 24 * time.Hour),
		RetainRefrozen:  catalog.Duration(24 * time.Hour),
	})
	require.NoError(t, err)

	engine := sweep.New(store, clus).WithClock(func() time.Time { return now })
	return &fixture{store: store, cluster: clus, engine: engine}
}

func TestSweepExpiredRepositories(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	// A thawed repository whose restore window lapsed yesterday.
	lapsed := now.Add(-24 * time.Hour)
	thawedAt := now.Add(-8 * 24 * time.Hour)
	require.NoError(t, f.cluster.CreateRepository(ctx, cluster.RepositorySpec{Name: "deepfreeze-000001"}))
	_, err := f.store.CreateRepository(ctx, catalog.Repository{
		Name:      "deepfreeze-000001",
		State:     catalog.StateThawed,
		Mounted:   true,
		ThawedAt:  &thawedAt,
		ExpiresAt: &lapsed,
	})
	require.NoError(t, err)

	// One already marked expired, and one still within its window.
	_, err = f.store.CreateRepository(ctx, catalog.Repository{
		Name: "deepfreeze-000002", State: catalog.StateExpired,
	})
	require.NoError(t, err)
	future := now.Add(24 * time.Hour)
	_, err = f.store.CreateRepository(ctx, catalog.Repository{
		Name: "deepfreeze-000003", State: catalog.StateThawed, Mounted: true, ExpiresAt: &future,
	})
	require.NoError(t, err)

	report, err := f.engine.Run(ctx, false)
	require.NoError(t, err)

	require.Len(t, report.Repositories, 2)
	byName := map[string]sweep.RepositoryAction{}
	for _, a := range report.Repositories {
		byName[a.Repository] = a
	}
	assert.Equal(t, catalog.StateThawed, byName["deepfreeze-000001"].From)
	assert.True(t, byName["deepfreeze-000001"].Unmounted)
	assert.Equal(t, catalog.StateExpired, byName["deepfreeze-000002"].From)

	for _, name := range []string{"deepfreeze-000001", "deepfreeze-000002"} {
		repo, err := f.store.GetRepository(ctx, name)
		require.NoError(t, err)
		assert.Equal(t, catalog.StateFrozen, repo.State, name)
		assert.False(t, repo.Mounted, name)
		assert.Nil(t, repo.ExpiresAt, name)
	}
	assert.False(t, f.cluster.HasRepository("deepfreeze-000001"))

	kept, err := f.store.GetRepository(ctx, "deepfreeze-000003")
	require.NoError(t, err)
	assert.Equal(t, catalog.StateThawed, kept.State)
}

func TestSweepStaleRequests(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	seed := func(id string, status catalog.RequestStatus, age time.Duration) {
		_, err := f.store.CreateRequest(ctx, catalog.ThawRequest{
			ID: id, Status: status, CreatedAt: now.Add(-age),
		})
		require.NoError(t, err)
	}
	seed("old-completed", catalog.StatusCompleted, 31*24*time.Hour)
	seed("new-completed", catalog.StatusCompleted, 2*24*time.Hour)
	seed("old-failed", catalog.StatusFailed, 8*24*time.Hour)
	seed("old-refrozen", catalog.StatusRefrozen, 48*time.Hour)
	seed("running", catalog.StatusInProgress, 90*24*time.Hour)

	report, err := f.engine.Run(ctx, false)
	require.NoError(t, err)

	pruned := map[string]bool{}
	for _, a := range report.Requests {
		pruned[a.RequestID] = true
	}
	assert.True(t, pruned["old-completed"])
	assert.True(t, pruned["old-failed"])
	assert.True(t, pruned["old-refrozen"])
	assert.False(t, pruned["new-completed"])
	assert.False(t, pruned["running"])

	// In-flight requests are never pruned, regardless of age.
	_, err = f.store.GetRequest(ctx, "running")
	require.NoError(t, err)
	_, err = f.store.GetRequest(ctx, "old-completed")
	assert.True(t, catalog.IsCode(err, catalog.ErrNotFound))
}

func TestSweepOrphanedPolicies(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	// Current version: its repository is still registered.
	require.NoError(t, f.cluster.CreateRepository(ctx, cluster.RepositorySpec{Name: "deepfreeze-000003"}))
	require.NoError(t, f.cluster.PutPolicy(ctx, cluster.Policy{Name: "deepfreeze-000003", Repository: "deepfreeze-000003"}))

	// Orphan: repository unmounted, nothing references the policy.
	require.NoError(t, f.cluster.PutPolicy(ctx, cluster.Policy{Name: "deepfreeze-000001", Repository: "deepfreeze-000001"}))

	// Unmounted repository but the policy is still referenced.
	require.NoError(t, f.cluster.PutPolicy(ctx, cluster.Policy{Name: "deepfreeze-000002", Repository: "deepfreeze-000002"}))
	f.cluster.SetPolicyUsage("deepfreeze-000002", cluster.PolicyUsage{Indices: []string{"logs-1"}})

	report, err := f.engine.Run(ctx, false)
	require.NoError(t, err)

	require.Len(t, report.Policies, 1)
	assert.Equal(t, "deepfreeze-000001", report.Policies[0].Policy)

	_, err = f.cluster.GetPolicy(ctx, "deepfreeze-000001")
	assert.ErrorIs(t, err, cluster.ErrPolicyNotFound)
	_, err = f.cluster.GetPolicy(ctx, "deepfreeze-000002")
	assert.NoError(t, err)
	_, err = f.cluster.GetPolicy(ctx, "deepfreeze-000003")
	assert.NoError(t, err)
}

func TestSweepDryRun(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.store.CreateRepository(ctx, catalog.Repository{
		Name: "deepfreeze-000001", State: catalog.StateExpired,
	})
	require.NoError(t, err)
	_, err = f.store.CreateRequest(ctx, catalog.ThawRequest{
		ID: "old", Status: catalog.StatusRefrozen, CreatedAt: now.Add(-48 * time.Hour),
	})
	require.NoError(t, err)
	require.NoError(t, f.cluster.PutPolicy(ctx, cluster.Policy{Name: "deepfreeze-000001", Repository: "deepfreeze-000001"}))

	report, err := f.engine.Run(ctx, true)
	require.NoError(t, err)

	assert.True(t, report.DryRun)
	assert.Len(t, report.Repositories, 1)
	assert.Len(t, report.Requests, 1)
	assert.Len(t, report.Policies, 1)

	// Everything is still there.
	repo, err := f.store.GetRepository(ctx, "deepfreeze-000001")
	require.NoError(t, err)
	assert.Equal(t, catalog.StateExpired, repo.State)
	_, err = f.store.GetRequest(ctx, "old")
	require.NoError(t, err)
	_, err = f.cluster.GetPolicy(ctx, "deepfreeze-000001")
	require.NoError(t, err)
}

func TestSweepNothingToDo(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	report, err := f.engine.Run(context.Background(), false)
	require.NoError(t, err)
	assert.True(t, report.Empty())
}
