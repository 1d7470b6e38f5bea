// Package report assembles the current lifecycle picture: catalogued
// repositories, thaw requests, and the versioned policy chain.
package report

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/permafrost-sh/permafrost/pkg/catalog"
	"github.com/permafrost-sh/permafrost/pkg/gateway/cluster"
	"github.com/permafrost-sh/permafrost/pkg/gateway/objstore"
)

// RepositoryRow is one repository in the status report.
type RepositoryRow struct {
	Name       string        `json:"name"`
	State      catalog.State `json:"state"`
	Bucket     string        `json:"bucket"`
	BasePath   string        `json:"base_path,omitempty"`
	Start      *time.Time    `json:"start,omitempty"`
	End        *time.Time    `json:"end,omitempty"`
	Mounted    bool          `json:"mounted"`
	ExpiresAt  *time.Time    `json:"expires_at,omitempty"`
	BucketSeen bool          `json:"bucket_seen"`
}

// RequestRow is one thaw request in the status report.
type RequestRow struct {
	ID           string                `json:"id"`
	Status       catalog.RequestStatus `json:"status"`
	Start        time.Time             `json:"start"`
	End          time.Time             `json:"end"`
	Repositories []string              `json:"repositories"`
	CreatedAt    time.Time             `json:"created_at"`
}

// PolicyRow is one versioned policy in the status report.
type PolicyRow struct {
	Name       string `json:"name"`
	Repository string `json:"repository"`
	InUse      bool   `json:"in_use"`
}

// Status is the full assembled report.
type Status struct {
	CatalogIndex string           `json:"catalog_index"`
	Settings     catalog.Settings `json:"settings"`
	Repositories []RepositoryRow  `json:"repositories"`
	Requests     []RequestRow     `json:"requests"`
	Policies     []PolicyRow      `json:"policies"`
}

// Collect assembles the status report from the catalog and both gateways.
func Collect(ctx context.Context, store *catalog.Store, cl cluster.Gateway, os objstore.Gateway) (*Status, error) {
	settings, err := store.GetSettings(ctx)
	if err != nil {
		return nil, err
	}
	status := &Status{CatalogIndex: store.Index(), Settings: settings}

	repos, err := store.ListRepositories(ctx)
	if err != nil {
		return nil, err
	}
	for _, repo := range repos {
		row := RepositoryRow{
			Name:      repo.Name,
			State:     repo.State,
			Bucket:    repo.Bucket,
			BasePath:  repo.BasePath,
			Mounted:   repo.Mounted,
			ExpiresAt: repo.ExpiresAt,
		}
		if !repo.Start.IsZero() {
			start, end := repo.Start, repo.End
			row.Start, row.End = &start, &end
		}
		if row.BucketSeen, err = os.BucketExists(ctx, repo.Bucket); err != nil {
			return nil, catalog.WrapError(catalog.ErrActionFailed, "check bucket "+repo.Bucket, err)
		}
		status.Repositories = append(status.Repositories, row)
	}

	reqs, err := store.ListRequests(ctx, "")
	if err != nil {
		return nil, err
	}
	for _, req := range reqs {
		status.Requests = append(status.Requests, RequestRow{
			ID:           req.ID,
			Status:       req.Status,
			Start:        req.Start,
			End:          req.End,
			Repositories: req.Repos,
			CreatedAt:    req.CreatedAt,
		})
	}

	if settings.PolicyName != "" {
		policies, err := cl.ListPolicies(ctx, settings.PolicyName+"-")
		if err != nil {
			return nil, catalog.WrapError(catalog.ErrActionFailed, "list policies", err)
		}
		for _, policy := range policies {
			usage, err := cl.GetPolicyUsage(ctx, policy.Name)
			if err != nil {
				return nil, catalog.WrapError(catalog.ErrActionFailed, "check usage of "+policy.Name, err)
			}
			status.Policies = append(status.Policies, PolicyRow{
				Name:       policy.Name,
				Repository: policy.Repository,
				InUse:      !usage.Empty(),
			})
		}
	}

	return status, nil
}

// RepositoryTable renders the repository section.
type RepositoryTable []RepositoryRow

func (t RepositoryTable) Headers() []string {
	return []string{"Repository", "State", "Bucket", "Range", "Mounted", "Expires"}
}

func (t RepositoryTable) Rows() [][]string {
	rows := make([][]string, 0, len(t))
	for _, r := range t {
		rng := "-"
		if r.Start != nil {
			rng = fmt.Sprintf("%s .. %s", r.Start.Format("2006-01-02"), r.End.Format("2006-01-02"))
		}
		expires := "-"
		if r.ExpiresAt != nil {
			expires = r.ExpiresAt.Format(time.RFC3339)
		}
		rows = append(rows, []string{
			r.Name, string(r.State), r.Bucket, rng, strconv.FormatBool(r.Mounted), expires,
		})
	}
	return rows
}

// RequestTable renders the thaw request section.
type RequestTable []RequestRow

func (t RequestTable) Headers() []string {
	return []string{"Request", "Status", "Window", "Repositories", "Created"}
}

func (t RequestTable) Rows() [][]string {
	rows := make([][]string, 0, len(t))
	for _, r := range t {
		rows = append(rows, []string{
			r.ID,
			string(r.Status),
			fmt.Sprintf("%s .. %s", r.Start.Format("2006-01-02"), r.End.Format("2006-01-02")),
			strconv.Itoa(len(r.Repositories)),
			r.CreatedAt.Format(time.RFC3339),
		})
	}
	return rows
}

// PolicyTable renders the policy section.
type PolicyTable []PolicyRow

func (t PolicyTable) Headers() []string {
	return []string{"Policy", "Repository", "In Use"}
}

func (t PolicyTable) Rows() [][]string {
	rows := make([][]string, 0, len(t))
	for _, p := range t {
		rows = append(rows, []string{p.Name, p.Repository, strconv.FormatBool(p.InUse)})
	}
	return rows
}
