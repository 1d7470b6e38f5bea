package repair_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/permafrost-sh/permafrost/pkg/catalog"
	"github.com/permafrost-sh/permafrost/pkg/gateway/cluster"
	clustermem "github.com/permafrost-sh/permafrost/pkg/gateway/cluster/memory"
	"github.com/permafrost-sh/permafrost/pkg/gateway/objstore"
	objmem "github.com/permafrost-sh/permafrost/pkg/gateway/objstore/memory"
	"github.com/permafrost-sh/permafrost/pkg/repair"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	expiry := time.Now().Add(24 * time.Hour)
	c := repair.Classify([]objstore.ObjectInfo{
		{Key: "a", StorageClass: objstore.ClassStandard},
		{Key: "b", StorageClass: objstore.ClassGlacierIR},
		{Key: "c", StorageClass: objstore.ClassGlacier},
		{Key: "d", StorageClass: objstore.ClassGlacier, Restore: objstore.RestoreInProgress},
		{Key: "e", StorageClass: objstore.ClassDeepArchive, Restore: objstore.RestoreDone, RestoreExpiry: &expiry},
	})

	assert.Equal(t, 3, c.Instant)
	assert.Equal(t, 1, c.Archival)
	assert.Equal(t, 1, c.Restoring)
	assert.Equal(t, 5, c.Total())
}

func TestDeriveState(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		c    repair.Classification
		want catalog.State
	}{
		{"empty", repair.Classification{}, catalog.StateActive},
		{"all cold", repair.Classification{Archival: 4}, catalog.StateFrozen},
		{"restore in flight", repair.Classification{Archival: 2, Restoring: 1}, catalog.StateThawing},
		{"all readable", repair.Classification{Instant: 3}, catalog.StateThawed},
		{"partially readable", repair.Classification{Instant: 1, Archival: 2}, catalog.StateThawed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, repair.DeriveState(tt.c))
		})
	}
}

type fixture struct {
	store    *catalog.Store
	cluster  *clustermem.Gateway
	objstore *objmem.Gateway
	engine   *repair.Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	clus := clustermem.New()
	obj := objmem.New()
	store := catalog.NewStore(clus, catalog.DefaultIndex)
	require.NoError(t, store.Create(ctx))
	_, err := store.CreateSettings(ctx, catalog.Settings{RepoPrefix: "deepfreeze"})
	require.NoError(t, err)

	return &fixture{store: store, cluster: clus, objstore: obj, engine: repair.New(store, clus, obj)}
}

func (f *fixture) seed(t *testing.T, name string, state catalog.State, mounted bool, class objstore.StorageClass) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, f.objstore.CreateBucket(ctx, name, ""))
	f.objstore.PutObject(name, objstore.ObjectInfo{Key: "indices/a", StorageClass: class})
	if mounted {
		require.NoError(t, f.cluster.CreateRepository(ctx, cluster.RepositorySpec{Name: name, Bucket: name}))
	}
	_, err := f.store.CreateRepository(ctx, catalog.Repository{
		Name: name, Bucket: name, State: state, Mounted: mounted,
	})
	require.NoError(t, err)
}

func TestRepairCorrectsDriftedState(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	// Recorded thawed, but every object is back in cold storage.
	f.seed(t, "deepfreeze-000001", catalog.StateThawed, false, objstore.ClassGlacier)

	// Recorded frozen and genuinely frozen.
	f.seed(t, "deepfreeze-000002", catalog.StateFrozen, false, objstore.ClassDeepArchive)

	report, err := f.engine.Run(ctx, false)
	require.NoError(t, err)
	require.Len(t, report.Findings, 2)
	assert.Equal(t, 1, report.Drifted())

	drifted := report.Findings[0]
	assert.Equal(t, "deepfreeze-000001", drifted.Repository)
	assert.Equal(t, catalog.StateThawed, drifted.Recorded)
	assert.Equal(t, catalog.StateFrozen, drifted.Derived)
	assert.True(t, drifted.Corrected)

	repo, err := f.store.GetRepository(ctx, "deepfreeze-000001")
	require.NoError(t, err)
	assert.Equal(t, catalog.StateFrozen, repo.State)
	assert.Nil(t, repo.ThawedAt)

	clean := report.Findings[1]
	assert.False(t, clean.Drifted)
	assert.False(t, clean.Corrected)
}

func TestRepairDetectsThawing(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	f.seed(t, "deepfreeze-000001", catalog.StateFrozen, false, objstore.ClassGlacier)
	require.NoError(t, f.objstore.RestoreObject(ctx, "deepfreeze-000001", "indices/a", objstore.RestoreSpec{Days: 7}))

	report, err := f.engine.Run(ctx, false)
	require.NoError(t, err)

	finding := report.Findings[0]
	assert.Equal(t, catalog.StateThawing, finding.Derived)
	assert.True(t, finding.Drifted)

	repo, err := f.store.GetRepository(ctx, "deepfreeze-000001")
	require.NoError(t, err)
	assert.Equal(t, catalog.StateThawing, repo.State)
}

func TestRepairLeavesActiveAndExpiredAlone(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	// Active repositories hold instant-access objects by design.
	f.seed(t, "deepfreeze-000001", catalog.StateActive, true, objstore.ClassStandard)

	// Expired classifies like thawed; the record is the finer statement.
	f.seed(t, "deepfreeze-000002", catalog.StateExpired, false, objstore.ClassStandard)

	report, err := f.engine.Run(context.Background(), false)
	require.NoError(t, err)
	assert.Zero(t, report.Drifted())
	for _, finding := range report.Findings {
		assert.False(t, finding.Corrected, finding.Repository)
	}
}

func TestRepairCorrectsMountFlag(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	// Catalog says mounted, cluster disagrees.
	f.seed(t, "deepfreeze-000001", catalog.StateFrozen, false, objstore.ClassGlacier)
	repo, err := f.store.GetRepository(ctx, "deepfreeze-000001")
	require.NoError(t, err)
	repo.Mounted = true
	_, err = f.store.SaveRepository(ctx, repo)
	require.NoError(t, err)

	report, err := f.engine.Run(ctx, false)
	require.NoError(t, err)

	finding := report.Findings[0]
	assert.False(t, finding.Drifted)
	assert.True(t, finding.MountDrifted)
	assert.True(t, finding.Corrected)

	repo, err = f.store.GetRepository(ctx, "deepfreeze-000001")
	require.NoError(t, err)
	assert.False(t, repo.Mounted)
}

func TestRepairDryRun(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	f.seed(t, "deepfreeze-000001", catalog.StateThawed, false, objstore.ClassGlacier)

	report, err := f.engine.Run(ctx, true)
	require.NoError(t, err)

	assert.True(t, report.DryRun)
	finding := report.Findings[0]
	assert.True(t, finding.Drifted)
	assert.False(t, finding.Corrected)

	repo, err := f.store.GetRepository(ctx, "deepfreeze-000001")
	require.NoError(t, err)
	assert.Equal(t, catalog.StateThawed, repo.State)
}
