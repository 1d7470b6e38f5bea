package refreeze_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/permafrost-sh/permafrost/pkg/catalog"
	"github.com/permafrost-sh/permafrost/pkg/gateway/cluster"
	clustermem "github.com/permafrost-sh/permafrost/pkg/gateway/cluster/memory"
	"github.com/permafrost-sh/permafrost/pkg/refreeze"
)

type fixture struct {
	store   *catalog.Store
	cluster *clustermem.Gateway
	engine  *refreeze.Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	clus := clustermem.New()
	store := catalog.NewStore(clus, catalog.DefaultIndex)
	require.NoError(t, store.Create(ctx))
	_, err := store.CreateSettings(ctx, catalog.Settings{RepoPrefix: "deepfreeze"})
	require.NoError(t, err)

	return &fixture{store: store, cluster: clus, engine: refreeze.New(store, clus)}
}

// seedThawed registers a thawed, mounted repository with the given mounted
// indices present in the cluster.
func (f *fixture) seedThawed(t *testing.T, name string, indices ...string) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, f.cluster.CreateRepository(ctx, cluster.RepositorySpec{Name: name, Bucket: name}))
	for _, index := range indices {
		require.NoError(t, f.cluster.CreateIndex(ctx, index))
	}

	now := time.Now().UTC()
	expires := now.Add(7 * 24 * time.Hour)
	_, err := f.store.CreateRepository(ctx, catalog.Repository{
		Name:      name,
		Bucket:    name,
		State:     catalog.StateThawed,
		Mounted:   true,
		ThawedAt:  &now,
		ExpiresAt: &expires,
	})
	require.NoError(t, err)
}

func (f *fixture) seedRequest(t *testing.T, id string, status catalog.RequestStatus, mounted map[string][]string) {
	t.Helper()

	repos := make([]string, 0, len(mounted))
	for name := range mounted {
		repos = append(repos, name)
	}
	_, err := f.store.CreateRequest(context.Background(), catalog.ThawRequest{
		ID:             id,
		Repos:          repos,
		MountedIndices: mounted,
		Status:         status,
		CreatedAt:      time.Now().UTC(),
	})
	require.NoError(t, err)
}

func TestRefreezeCompletedRequest(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	f.seedThawed(t, "deepfreeze-000001", "logs-2023.02")
	f.seedRequest(t, "req-1", catalog.StatusCompleted,
		map[string][]string{"deepfreeze-000001": {"logs-2023.02"}})

	res, err := f.engine.Run(ctx, "req-1", false)
	require.NoError(t, err)

	assert.Equal(t, catalog.StatusRefrozen, res.Status)
	require.Len(t, res.Repositories, 1)
	assert.Equal(t, []string{"logs-2023.02"}, res.Repositories[0].Unmounted)

	assert.False(t, f.cluster.HasIndex("logs-2023.02"))
	assert.False(t, f.cluster.HasRepository("deepfreeze-000001"))

	repo, err := f.store.GetRepository(ctx, "deepfreeze-000001")
	require.NoError(t, err)
	assert.Equal(t, catalog.StateFrozen, repo.State)
	assert.False(t, repo.Mounted)
	assert.Nil(t, repo.ThawedAt)
	assert.Nil(t, repo.ExpiresAt)

	req, err := f.store.GetRequest(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, catalog.StatusRefrozen, req.Status)
}

func TestRefreezeAlreadyRefrozen(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.seedRequest(t, "req-1", catalog.StatusRefrozen, nil)

	res, err := f.engine.Run(context.Background(), "req-1", false)
	require.NoError(t, err)
	assert.Equal(t, catalog.StatusRefrozen, res.Status)
	assert.Empty(t, res.Repositories)
}

func TestRefreezeRejectsInFlightRequest(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.seedRequest(t, "req-1", catalog.StatusInProgress, nil)

	_, err := f.engine.Run(context.Background(), "req-1", false)
	require.Error(t, err)
	assert.True(t, catalog.IsCode(err, catalog.ErrPreconditionFailed))
}

func TestRefreezePartialFailureStaysCompleted(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	f.seedThawed(t, "deepfreeze-000001", "logs-a")
	f.seedThawed(t, "deepfreeze-000002", "logs-b")
	f.seedRequest(t, "req-1", catalog.StatusCompleted, map[string][]string{
		"deepfreeze-000001": {"logs-a"},
		"deepfreeze-000002": {"logs-b"},
	})

	f.cluster.FailWith("DeleteIndex", "logs-a", errors.New("index busy"))

	res, err := f.engine.Run(ctx, "req-1", false)
	require.NoError(t, err)

	// The failing repository is reported; the other one refroze fine.
	assert.Equal(t, catalog.StatusCompleted, res.Status)
	outcomes := map[string]refreeze.RepositoryOutcome{}
	for _, o := range res.Repositories {
		outcomes[o.Repository] = o
	}
	assert.NotEmpty(t, outcomes["deepfreeze-000001"].Error)
	assert.Empty(t, outcomes["deepfreeze-000002"].Error)
	assert.False(t, f.cluster.HasIndex("logs-b"))
	assert.True(t, f.cluster.HasIndex("logs-a"))

	repo, err := f.store.GetRepository(ctx, "deepfreeze-000002")
	require.NoError(t, err)
	assert.Equal(t, catalog.StateFrozen, repo.State)

	// The request stays completed, so a retry finishes the job.
	f.cluster.FailWith("DeleteIndex", "logs-a", nil)
	res, err = f.engine.Run(ctx, "req-1", false)
	require.NoError(t, err)
	assert.Equal(t, catalog.StatusRefrozen, res.Status)
	assert.False(t, f.cluster.HasIndex("logs-a"))
}

func TestRefreezeLegacyRequestProbesNameVariants(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	// A request recorded before mount names were tracked: the index ended
	// up mounted under the restored- prefix.
	f.seedThawed(t, "deepfreeze-000001", "restored-logs-2023.02")
	f.cluster.SetSnapshotIndices("deepfreeze-000001", "logs-2023.02")
	f.seedRequest(t, "req-1", catalog.StatusCompleted, nil)
	req, err := f.store.GetRequest(ctx, "req-1")
	require.NoError(t, err)
	req.Repos = []string{"deepfreeze-000001"}
	_, err = f.store.SaveRequest(ctx, req)
	require.NoError(t, err)

	res, err := f.engine.Run(ctx, "req-1", false)
	require.NoError(t, err)

	assert.Equal(t, catalog.StatusRefrozen, res.Status)
	assert.Equal(t, []string{"restored-logs-2023.02"}, res.Repositories[0].Unmounted)
	assert.False(t, f.cluster.HasIndex("restored-logs-2023.02"))
}

func TestRefreezeDryRun(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	f.seedThawed(t, "deepfreeze-000001", "logs-2023.02")
	f.seedRequest(t, "req-1", catalog.StatusCompleted,
		map[string][]string{"deepfreeze-000001": {"logs-2023.02"}})

	res, err := f.engine.Run(ctx, "req-1", true)
	require.NoError(t, err)

	assert.True(t, res.DryRun)
	assert.Equal(t, catalog.StatusCompleted, res.Status)
	assert.Equal(t, []string{"logs-2023.02"}, res.Repositories[0].Unmounted)

	assert.True(t, f.cluster.HasIndex("logs-2023.02"))
	assert.True(t, f.cluster.HasRepository("deepfreeze-000001"))

	req, err := f.store.GetRequest(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, catalog.StatusCompleted, req.Status)
}

func TestRunAllRefreezesEveryCompletedRequest(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	f.seedThawed(t, "deepfreeze-000001", "logs-a")
	f.seedThawed(t, "deepfreeze-000002", "logs-b")
	f.seedRequest(t, "req-1", catalog.StatusCompleted,
		map[string][]string{"deepfreeze-000001": {"logs-a"}})
	f.seedRequest(t, "req-2", catalog.StatusCompleted,
		map[string][]string{"deepfreeze-000002": {"logs-b"}})
	f.seedRequest(t, "req-3", catalog.StatusInProgress, nil)

	results, err := f.engine.RunAll(ctx, false)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, res := range results {
		assert.Equal(t, catalog.StatusRefrozen, res.Status)
	}

	// The in-flight request is untouched.
	req, err := f.store.GetRequest(ctx, "req-3")
	require.NoError(t, err)
	assert.Equal(t, catalog.StatusInProgress, req.Status)
}
