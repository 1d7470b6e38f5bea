package report_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/permafrost-sh/permafrost/pkg/catalog"
	"github.com/permafrost-sh/permafrost/pkg/gateway/cluster"
	clustermem "github.com/permafrost-sh/permafrost/pkg/gateway/cluster/memory"
	objmem "github.com/permafrost-sh/permafrost/pkg/gateway/objstore/memory"
	"github.com/permafrost-sh/permafrost/pkg/report"
)

func TestCollect(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	clus := clustermem.New()
	obj := objmem.New()
	store := catalog.NewStore(clus, catalog.DefaultIndex)
	require.NoError(t, store.Create(ctx))
	_, err := store.CreateSettings(ctx, catalog.Settings{
		RepoPrefix: "deepfreeze",
		PolicyName: "deepfreeze",
		LastSuffix: "000002",
	})
	require.NoError(t, err)

	require.NoError(t, obj.CreateBucket(ctx, "deepfreeze-000002", ""))
	_, err = store.CreateRepository(ctx, catalog.Repository{
		Name:   "deepfreeze-000001",
		Bucket: "deepfreeze-000001",
		State:  catalog.StateFrozen,
		Start:  time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC),
		End:    time.Date(2023, 3, 31, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	_, err = store.CreateRepository(ctx, catalog.Repository{
		Name: "deepfreeze-000002", Bucket: "deepfreeze-000002",
		State: catalog.StateActive, Mounted: true,
	})
	require.NoError(t, err)

	_, err = store.CreateRequest(ctx, catalog.ThawRequest{
		ID:        "req-1",
		Status:    catalog.StatusInProgress,
		Repos:     []string{"deepfreeze-000001"},
		CreatedAt: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	require.NoError(t, clus.PutPolicy(ctx, cluster.Policy{Name: "deepfreeze-000002", Repository: "deepfreeze-000002"}))
	clus.SetPolicyUsage("deepfreeze-000002", cluster.PolicyUsage{Templates: []string{"logs"}})

	status, err := report.Collect(ctx, store, clus, obj)
	require.NoError(t, err)

	assert.Equal(t, catalog.DefaultIndex, status.CatalogIndex)
	assert.Equal(t, "000002", status.Settings.LastSuffix)

	require.Len(t, status.Repositories, 2)
	frozen := status.Repositories[0]
	assert.Equal(t, "deepfreeze-000001", frozen.Name)
	assert.Equal(t, catalog.StateFrozen, frozen.State)
	require.NotNil(t, frozen.Start)
	assert.False(t, frozen.BucketSeen)
	assert.True(t, status.Repositories[1].BucketSeen)

	require.Len(t, status.Requests, 1)
	assert.Equal(t, "req-1", status.Requests[0].ID)

	require.Len(t, status.Policies, 1)
	assert.Equal(t, "deepfreeze-000002", status.Policies[0].Name)
	assert.True(t, status.Policies[0].InUse)
}

func TestTableRenderers(t *testing.T) {
	t.Parallel()

	start := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2023, 3, 31, 0, 0, 0, 0, time.UTC)

	repoTable := report.RepositoryTable{
		{Name: "deepfreeze-000001", State: catalog.StateFrozen, Bucket: "deepfreeze-000001", Start: &start, End: &end},
		{Name: "deepfreeze-000002", State: catalog.StateActive, Bucket: "deepfreeze-000002", Mounted: true},
	}
	assert.Len(t, repoTable.Headers(), 6)
	rows := repoTable.Rows()
	require.Len(t, rows, 2)
	assert.Equal(t, "2023-01-01 .. 2023-03-31", rows[0][3])
	assert.Equal(t, "-", rows[1][3])
	assert.Equal(t, "true", rows[1][4])

	reqTable := report.RequestTable{
		{ID: "req-1", Status: catalog.StatusCompleted, Start: start, End: end,
			Repositories: []string{"a", "b"}, CreatedAt: start},
	}
	rows = reqTable.Rows()
	require.Len(t, rows, 1)
	assert.Equal(t, "2", rows[0][3])

	polTable := report.PolicyTable{{Name: "deepfreeze-000002", Repository: "deepfreeze-000002", InUse: true}}
	rows = polTable.Rows()
	assert.Equal(t, []string{"deepfreeze-000002", "deepfreeze-000002", "true"}, rows[0])
}
