package cluster

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// snapshotList is the wire form of GET /_snapshot/{repo}/_all.
type snapshotList struct {
	Snapshots []struct {
		Snapshot string   `json:"snapshot"`
		Indices  []string `json:"indices"`
		EndTime  string   `json:"end_time"`
	} `json:"snapshots"`
}

// SnapshotIndices returns the union of index names across all snapshots in
// the repository, sorted.
func (c *Client) SnapshotIndices(ctx context.Context, repository string) ([]string, error) {
	var list snapshotList
	if err := c.get(ctx, "/_snapshot/"+pathEscape(repository)+"/_all", &list); err != nil {
		if apiErr, ok := err.(*APIError); ok && apiErr.IsNotFound() {
			return nil, ErrRepositoryNotFound
		}
		return nil, fmt.Errorf("failed to list snapshots of %q: %w", repository, err)
	}

	seen := make(map[string]struct{})
	for _, snap := range list.Snapshots {
		for _, index := range snap.Indices {
			seen[index] = struct{}{}
		}
	}

	indices := make([]string, 0, len(seen))
	for index := range seen {
		indices = append(indices, index)
	}
	sort.Strings(indices)
	return indices, nil
}

// MountIndex mounts an index from the newest repository snapshot containing
// it and returns the name it was mounted under. When the original name is
// taken, the mount uses a "restored-" prefix.
func (c *Client) MountIndex(ctx context.Context, repository, index string) (string, error) {
	var list snapshotList
	if err := c.get(ctx, "/_snapshot/"+pathEscape(repository)+"/_all", &list); err != nil {
		return "", fmt.Errorf("failed to list snapshots of %q: %w", repository, err)
	}

	snapshot := ""
	var newest time.Time
	for _, snap := range list.Snapshots {
		for _, idx := range snap.Indices {
			if idx != index {
				continue
			}
			end, _ := time.Parse(time.RFC3339, snap.EndTime)
			if snapshot == "" || end.After(newest) {
				snapshot = snap.Snapshot
				newest = end
			}
		}
	}
	if snapshot == "" {
		return "", fmt.Errorf("no snapshot in %q contains index %q", repository, index)
	}

	mounted := index
	taken, err := c.IndexExists(ctx, index)
	if err != nil {
		return "", err
	}
	if taken {
		mounted = "restored-" + index
	}

	body := map[string]any{
		"index": index,
	}
	if mounted != index {
		body["renamed_index"] = mounted
	}
	path := "/_snapshot/" + pathEscape(repository) + "/" + pathEscape(snapshot) + "/_mount?storage=shared_cache&wait_for_completion=true"
	if err := c.post(ctx, path, body, nil); err != nil {
		return "", fmt.Errorf("failed to mount index %q from %q: %w", index, repository, err)
	}
	return mounted, nil
}

// timestampAggs is the wire form of the min/max timestamp aggregation.
type timestampAggs struct {
	Aggregations struct {
		MinTimestamp aggValue `json:"min_timestamp"`
		MaxTimestamp aggValue `json:"max_timestamp"`
	} `json:"aggregations"`
}

type aggValue struct {
	Value         *float64 `json:"value"`
	ValueAsString string   `json:"value_as_string"`
}

// TimestampRange aggregates the min and max event timestamp over an index.
func (c *Client) TimestampRange(ctx context.Context, index string) (TimeRange, error) {
	body := map[string]any{
		"size": 0,
		"aggs": map[string]any{
			"min_timestamp": map[string]any{"min": map[string]any{"field": "@timestamp"}},
			"max_timestamp": map[string]any{"max": map[string]any{"field": "@timestamp"}},
		},
	}

	var result timestampAggs
	if err := c.post(ctx, "/"+pathEscape(index)+"/_search", body, &result); err != nil {
		if apiErr, ok := err.(*APIError); ok && apiErr.IsNotFound() {
			return TimeRange{}, ErrIndexNotFound
		}
		return TimeRange{}, fmt.Errorf("failed to aggregate timestamps of %q: %w", index, err)
	}

	min, err := parseAggTime(result.Aggregations.MinTimestamp)
	if err != nil {
		return TimeRange{}, fmt.Errorf("index %q: %w", index, err)
	}
	max, err := parseAggTime(result.Aggregations.MaxTimestamp)
	if err != nil {
		return TimeRange{}, fmt.Errorf("index %q: %w", index, err)
	}
	return TimeRange{Min: min, Max: max}, nil
}

// parseAggTime decodes an aggregation value: the string form when present,
// otherwise epoch milliseconds.
func parseAggTime(v aggValue) (time.Time, error) {
	if v.ValueAsString != "" {
		parsed, err := time.Parse(time.RFC3339, v.ValueAsString)
		if err == nil {
			return parsed, nil
		}
	}
	if v.Value == nil {
		return time.Time{}, fmt.Errorf("timestamp aggregation returned no value")
	}
	ms := int64(*v.Value)
	return time.UnixMilli(ms).UTC(), nil
}
