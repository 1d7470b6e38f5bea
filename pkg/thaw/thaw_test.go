package thaw_test

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
	"github.com/permafrost-sh/permafrost/pkg/gateway/objstore"
	objmem "github.com/permafrost-sh/permafrost/pkg/gateway/objstore/memory"
	"github.com/permafrost-sh/permafrost/pkg/rotate"
	"github.com/permafrost-sh/permafrost/pkg/thaw"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

type fixture struct {
	store    *catalog.Store
	cluster  *clustermem.Gateway
	objstore *objmem.Gateway
	engine   *thaw.Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	clus := clustermem.New()
	obj := objmem.New()
	store := catalog.NewStore(clus, catalog.DefaultIndex)
	require.NoError(t, store.Create(ctx))

	_, err := store.CreateSettings(ctx, catalog.Settings{
		RepoPrefix:    "deepfreeze",
		BucketPrefix:  "deepfreeze",
		StorageClass:  "GLACIER",
		RestoreDays:   7,
		RetrievalTier: "Standard",
	})
	require.NoError(t, err)

	return &fixture{
		store:    store,
		cluster:  clus,
		objstore: obj,
		engine:   thaw.New(store, clus, obj),
	}
}

// seedFrozen records a frozen repository covering [start, end] with two
// deep-archived objects in its bucket.
func (f *fixture) seedFrozen(t *testing.T, suffix string, start, end time.Time) catalog.Repository {
	t.Helper()
	ctx := context.Background()

	name := "deepfreeze-" + suffix
	bucket := "deepfreeze-" + suffix
	require.NoError(t, f.objstore.CreateBucket(ctx, bucket, ""))
	f.objstore.PutObject(bucket, objstore.ObjectInfo{Key: "indices/a", StorageClass: objstore.ClassGlacier})
	f.objstore.PutObject(bucket, objstore.ObjectInfo{Key: "indices/b", StorageClass: objstore.ClassGlacier})

	repo, err := f.store.CreateRepository(ctx, catalog.Repository{
		Name:   name,
		Bucket: bucket,
		Start:  start,
		End:    end,
		State:  catalog.StateFrozen,
	})
	require.NoError(t, err)
	return repo
}

// completeRestores marks every object of a bucket as restored.
func (f *fixture) completeRestores(bucket string) {
	expiry := time.Now().Add(7 * 24 * time.Hour)
	f.objstore.CompleteRestore(bucket, "indices/a", expiry)
	f.objstore.CompleteRestore(bucket, "indices/b", expiry)
}

func TestInitiateSelectsOverlappingRepositories(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	f.seedFrozen(t, "000001", date(2023, 1, 1), date(2023, 3, 31))
	f.seedFrozen(t, "000002", date(2023, 4, 1), date(2023, 6, 30))
	f.seedFrozen(t, "000003", date(2023, 7, 1), date(2023, 9, 30))

	res, err := f.engine.Initiate(ctx, date(2023, 3, 15), date(2023, 5, 15), false)
	require.NoError(t, err)

	require.NotEmpty(t, res.RequestID)
	require.Len(t, res.Repositories, 2)
	assert.Equal(t, "deepfreeze-000001", res.Repositories[0].Repository)
	assert.Equal(t, 2, res.Repositories[0].Requested)
	assert.Equal(t, "deepfreeze-000002", res.Repositories[1].Repository)

	// Restores are in flight and the repositories moved to thawing.
	obj, ok := f.objstore.Object("deepfreeze-000001", "indices/a")
	require.True(t, ok)
	assert.Equal(t, objstore.RestoreInProgress, obj.Restore)

	repo, err := f.store.GetRepository(ctx, "deepfreeze-000001")
	require.NoError(t, err)
	assert.Equal(t, catalog.StateThawing, repo.State)
	require.NotNil(t, repo.ExpiresAt)

	untouched, err := f.store.GetRepository(ctx, "deepfreeze-000003")
	require.NoError(t, err)
	assert.Equal(t, catalog.StateFrozen, untouched.State)

	req, err := f.store.GetRequest(ctx, res.RequestID)
	require.NoError(t, err)
	assert.Equal(t, catalog.StatusInProgress, req.Status)
	assert.Equal(t, []string{"deepfreeze-000001", "deepfreeze-000002"}, req.Repos)
	assert.True(t, req.ExpiresAt.Equal(res.ExpiresAt))
}

func TestInitiateFindsRepositoriesArchivedByRotation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	clus := clustermem.New()
	obj := objmem.New()
	store := catalog.NewStore(clus, catalog.DefaultIndex)
	require.NoError(t, store.Create(ctx))
	_, err := store.CreateSettings(ctx, catalog.Settings{
		RepoPrefix:    "deepfreeze",
		BucketPrefix:  "deepfreeze",
		StorageClass:  "GLACIER",
		RotateBy:      catalog.RotateByBucket,
		Style:         catalog.StyleOneup,
		RestoreDays:   7,
		RetrievalTier: "Standard",
	})
	require.NoError(t, err)

	rotator := rotate.New(store, clus, obj)
	_, err = rotator.Run(ctx, rotate.Config{Keep: 1})
	require.NoError(t, err)

	clus.SetSnapshotIndices("deepfreeze-000001", "logs-2023.02")
	clus.SetTimestampRange("logs-2023.02", cluster.TimeRange{
		Min: date(2023, 2, 1), Max: date(2023, 2, 28),
	})

	res, err := rotator.Run(ctx, rotate.Config{Keep: 1})
	require.NoError(t, err)
	require.Len(t, res.Archived, 1)
	require.Empty(t, res.Archived[0].Error)

	// The archived repository carries the range its snapshots covered, so
	// thawing that window finds it without any manual bookkeeping.
	thawed, err := thaw.New(store, clus, obj).Initiate(ctx, date(2023, 2, 10), date(2023, 2, 20), false)
	require.NoError(t, err)
	require.Len(t, thawed.Repositories, 1)
	assert.Equal(t, "deepfreeze-000001", thawed.Repositories[0].Repository)

	repo, err := store.GetRepository(ctx, "deepfreeze-000001")
	require.NoError(t, err)
	assert.Equal(t, catalog.StateThawing, repo.State)
	assert.Equal(t, date(2023, 2, 1), repo.Start)
	assert.Equal(t, date(2023, 2, 28), repo.End)
}

func TestInitiateNoOverlap(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	f.seedFrozen(t, "000001", date(2023, 1, 1), date(2023, 3, 31))

	_, err := f.engine.Initiate(ctx, date(2024, 1, 1), date(2024, 2, 1), false)
	require.Error(t, err)
	assert.True(t, catalog.IsCode(err, catalog.ErrNoRepositoriesInRange))
}

func TestInitiateRejectsClaimedRepositories(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	f.seedFrozen(t, "000001", date(2023, 1, 1), date(2023, 3, 31))
	f.seedFrozen(t, "000002", date(2023, 4, 1), date(2023, 6, 30))

	_, err := f.engine.Initiate(ctx, date(2023, 1, 15), date(2023, 2, 15), false)
	require.NoError(t, err)

	// A second request touching the claimed repository conflicts, even
	// though 000002 would be free.
	_, err = f.engine.Initiate(ctx, date(2023, 3, 1), date(2023, 5, 1), false)
	require.Error(t, err)
	assert.True(t, catalog.IsCode(err, catalog.ErrConflict))
}

func TestInitiateDryRun(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	f.seedFrozen(t, "000001", date(2023, 1, 1), date(2023, 3, 31))

	res, err := f.engine.Initiate(ctx, date(2023, 2, 1), date(2023, 2, 28), true)
	require.NoError(t, err)

	assert.True(t, res.DryRun)
	assert.Empty(t, res.RequestID)
	require.Len(t, res.Repositories, 1)
	assert.Equal(t, 2, res.Repositories[0].Requested)

	// Nothing moved.
	obj, ok := f.objstore.Object("deepfreeze-000001", "indices/a")
	require.True(t, ok)
	assert.Equal(t, objstore.RestoreNone, obj.Restore)

	repo, err := f.store.GetRepository(ctx, "deepfreeze-000001")
	require.NoError(t, err)
	assert.Equal(t, catalog.StateFrozen, repo.State)

	reqs, err := f.store.ListRequests(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, reqs)
}

func TestCheckStatusResumesInterruptedInitiate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	f.seedFrozen(t, "000001", date(2023, 1, 1), date(2023, 3, 31))

	// An initiate that died right after recording its request leaves the
	// repository frozen with no restore in flight.
	expiresAt := time.Now().UTC().Add(7 * 24 * time.Hour)
	req, err := f.store.CreateRequest(ctx, catalog.ThawRequest{
		ID:        "08f5b8f0-24c1-4f91-9e3a-52a3a1c7d0de",
		Start:     date(2023, 2, 1),
		End:       date(2023, 2, 28),
		Repos:     []string{"deepfreeze-000001"},
		ExpiresAt: expiresAt,
		Status:    catalog.StatusInProgress,
		CreatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)

	status, err := f.engine.CheckStatus(ctx, req.ID)
	require.NoError(t, err)
	assert.False(t, status.Done)
	require.Len(t, status.Repositories, 1)
	assert.Equal(t, 2, status.Repositories[0].InProgress)

	// The check re-claimed the repository under the recorded deadline.
	repo, err := f.store.GetRepository(ctx, "deepfreeze-000001")
	require.NoError(t, err)
	assert.Equal(t, catalog.StateThawing, repo.State)
	require.NotNil(t, repo.ExpiresAt)
	assert.True(t, repo.ExpiresAt.Equal(expiresAt))

	obj, ok := f.objstore.Object("deepfreeze-000001", "indices/a")
	require.True(t, ok)
	assert.Equal(t, objstore.RestoreInProgress, obj.Restore)

	// From here the request finishes like any other.
	f.completeRestores("deepfreeze-000001")
	final, err := f.engine.CheckStatus(ctx, req.ID)
	require.NoError(t, err)
	assert.True(t, final.Done)
	assert.Equal(t, catalog.StatusCompleted, final.Status)

	repo, err = f.store.GetRepository(ctx, "deepfreeze-000001")
	require.NoError(t, err)
	assert.Equal(t, catalog.StateThawed, repo.State)
}

func TestCheckStatusWhileRestoring(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	f.seedFrozen(t, "000001", date(2023, 1, 1), date(2023, 3, 31))

	res, err := f.engine.Initiate(ctx, date(2023, 2, 1), date(2023, 2, 28), false)
	require.NoError(t, err)

	status, err := f.engine.CheckStatus(ctx, res.RequestID)
	require.NoError(t, err)

	assert.False(t, status.Done)
	assert.Equal(t, catalog.StatusInProgress, status.Status)
	require.Len(t, status.Repositories, 1)
	progress := status.Repositories[0]
	assert.Equal(t, 2, progress.Total)
	assert.Equal(t, 2, progress.InProgress)
	assert.Zero(t, progress.Restored)
	assert.False(t, progress.Complete)
}

func TestCheckStatusCompletesAndMounts(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	f.seedFrozen(t, "000001", date(2023, 1, 1), date(2023, 3, 31))
	f.cluster.SetSnapshotIndices("deepfreeze-000001", "logs-2023.02", "logs-2022.11")
	f.cluster.SetTimestampRange("logs-2023.02", cluster.TimeRange{
		Min: date(2023, 2, 1), Max: date(2023, 2, 28),
	})
	f.cluster.SetTimestampRange("logs-2022.11", cluster.TimeRange{
		Min: date(2022, 11, 1), Max: date(2022, 11, 30),
	})

	res, err := f.engine.Initiate(ctx, date(2023, 2, 1), date(2023, 2, 28), false)
	require.NoError(t, err)
	f.completeRestores("deepfreeze-000001")

	status, err := f.engine.CheckStatus(ctx, res.RequestID)
	require.NoError(t, err)

	assert.True(t, status.Done)
	assert.Equal(t, catalog.StatusCompleted, status.Status)
	assert.Equal(t, []string{"logs-2023.02"}, status.Mounted["deepfreeze-000001"])

	// Only the index intersecting the window stays mounted.
	assert.True(t, f.cluster.HasIndex("logs-2023.02"))
	assert.False(t, f.cluster.HasIndex("logs-2022.11"))
	assert.True(t, f.cluster.HasRepository("deepfreeze-000001"))

	repo, err := f.store.GetRepository(ctx, "deepfreeze-000001")
	require.NoError(t, err)
	assert.Equal(t, catalog.StateThawed, repo.State)
	assert.True(t, repo.Mounted)
	require.NotNil(t, repo.ThawedAt)

	req, err := f.store.GetRequest(ctx, res.RequestID)
	require.NoError(t, err)
	assert.Equal(t, catalog.StatusCompleted, req.Status)
	assert.Equal(t, []string{"logs-2023.02"}, req.MountedIndices["deepfreeze-000001"])

	// Checking a finished request is a stable no-op.
	again, err := f.engine.CheckStatus(ctx, res.RequestID)
	require.NoError(t, err)
	assert.True(t, again.Done)
	assert.Equal(t, catalog.StatusCompleted, again.Status)
}

func TestCheckStatusMountFailureFailsRequest(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	f.seedFrozen(t, "000001", date(2023, 1, 1), date(2023, 3, 31))
	f.cluster.SetSnapshotIndices("deepfreeze-000001", "logs-2023.02")
	f.cluster.SetTimestampRange("logs-2023.02", cluster.TimeRange{
		Min: date(2023, 2, 1), Max: date(2023, 2, 28),
	})
	f.cluster.FailWith("MountIndex", "logs-2023.02", errors.New("shard allocation failed"))

	res, err := f.engine.Initiate(ctx, date(2023, 2, 1), date(2023, 2, 28), false)
	require.NoError(t, err)
	f.completeRestores("deepfreeze-000001")

	status, err := f.engine.CheckStatus(ctx, res.RequestID)
	require.Error(t, err)
	assert.True(t, catalog.IsCode(err, catalog.ErrActionFailed))
	require.NotNil(t, status)
	assert.Equal(t, catalog.StatusFailed, status.Status)

	req, err := f.store.GetRequest(ctx, res.RequestID)
	require.NoError(t, err)
	assert.Equal(t, catalog.StatusFailed, req.Status)

	// Failed is terminal: another check reports it without retrying.
	again, err := f.engine.CheckStatus(ctx, res.RequestID)
	require.NoError(t, err)
	assert.True(t, again.Done)
	assert.Equal(t, catalog.StatusFailed, again.Status)
}

func TestWaitReturnsOnceComplete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	f.seedFrozen(t, "000001", date(2023, 1, 1), date(2023, 3, 31))

	res, err := f.engine.Initiate(ctx, date(2023, 2, 1), date(2023, 2, 28), false)
	require.NoError(t, err)
	f.completeRestores("deepfreeze-000001")

	status, err := f.engine.Wait(ctx, res.RequestID, 10*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, status.Done)
	assert.Equal(t, catalog.StatusCompleted, status.Status)
}

func TestWaitHonorsCancellation(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.seedFrozen(t, "000001", date(2023, 1, 1), date(2023, 3, 31))

	res, err := f.engine.Initiate(context.Background(), date(2023, 2, 1), date(2023, 2, 28), false)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = f.engine.Wait(ctx, res.RequestID, time.Hour)
	require.ErrorIs(t, err, context.Canceled)
}
