package cluster

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// policyEntry is the wire form of a lifecycle policy as returned by the
// cluster: the policy body plus reverse references.
type policyEntry struct {
	Policy  policyBody  `json:"policy"`
	InUseBy policyUsage `json:"in_use_by"`
}

type policyBody struct {
	Phases map[string]policyPhase `json:"phases"`
}

type policyPhase struct {
	MinAge  string                 `json:"min_age,omitempty"`
	Actions map[string]policyActon `json:"actions"`
}

type policyActon struct {
	SnapshotRepository string `json:"snapshot_repository,omitempty"`
}

type policyUsage struct {
	Indices             []string `json:"indices"`
	DataStreams         []string `json:"data_streams"`
	ComposableTemplates []string `json:"composable_templates"`
}

// repositoryOf extracts the repository referenced by the frozen-phase
// searchable snapshot action, if any.
func (b policyBody) repositoryOf() string {
	frozen, ok := b.Phases["frozen"]
	if !ok {
		return ""
	}
	action, ok := frozen.Actions["searchable_snapshot"]
	if !ok {
		return ""
	}
	return action.SnapshotRepository
}

// GetPolicy fetches a lifecycle policy by name.
func (c *Client) GetPolicy(ctx context.Context, name string) (Policy, error) {
	var result map[string]policyEntry
	if err := c.get(ctx, "/_ilm/policy/"+pathEscape(name), &result); err != nil {
		if apiErr, ok := err.(*APIError); ok && apiErr.IsNotFound() {
			return Policy{}, ErrPolicyNotFound
		}
		return Policy{}, err
	}
	entry, ok := result[name]
	if !ok {
		return Policy{}, ErrPolicyNotFound
	}
	return Policy{Name: name, Repository: entry.Policy.repositoryOf()}, nil
}

// ListPolicies fetches all lifecycle policies whose name starts with prefix.
func (c *Client) ListPolicies(ctx context.Context, prefix string) ([]Policy, error) {
	var result map[string]policyEntry
	if err := c.get(ctx, "/_ilm/policy", &result); err != nil {
		return nil, fmt.Errorf("failed to list policies: %w", err)
	}

	policies := make([]Policy, 0, len(result))
	for name, entry := range result {
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		policies = append(policies, Policy{Name: name, Repository: entry.Policy.repositoryOf()})
	}
	sort.Slice(policies, func(i, j int) bool { return policies[i].Name < policies[j].Name })
	return policies, nil
}

// PutPolicy creates or replaces a lifecycle policy whose frozen phase mounts
// searchable snapshots from policy.Repository.
func (c *Client) PutPolicy(ctx context.Context, policy Policy) error {
	body := map[string]policyBody{
		"policy": {
			Phases: map[string]policyPhase{
				"frozen": {
					Actions: map[string]policyActon{
						"searchable_snapshot": {SnapshotRepository: policy.Repository},
					},
				},
				"delete": {
					Actions: map[string]policyActon{
						"delete": {},
					},
				},
			},
		},
	}
	if err := c.put(ctx, "/_ilm/policy/"+pathEscape(policy.Name), body, nil); err != nil {
		return fmt.Errorf("failed to put policy %q: %w", policy.Name, err)
	}
	return nil
}

// DeletePolicy deletes a lifecycle policy.
func (c *Client) DeletePolicy(ctx context.Context, name string) error {
	err := c.delete(ctx, "/_ilm/policy/"+pathEscape(name))
	if apiErr, ok := err.(*APIError); ok && apiErr.IsNotFound() {
		return ErrPolicyNotFound
	}
	return err
}

// GetPolicyUsage reports the indices, templates and data streams bound to
// the policy.
func (c *Client) GetPolicyUsage(ctx context.Context, name string) (PolicyUsage, error) {
	var result map[string]policyEntry
	if err := c.get(ctx, "/_ilm/policy/"+pathEscape(name), &result); err != nil {
		if apiErr, ok := err.(*APIError); ok && apiErr.IsNotFound() {
			return PolicyUsage{}, ErrPolicyNotFound
		}
		return PolicyUsage{}, err
	}
	entry, ok := result[name]
	if !ok {
		return PolicyUsage{}, ErrPolicyNotFound
	}
	return PolicyUsage{
		Indices:     entry.InUseBy.Indices,
		Templates:   entry.InUseBy.ComposableTemplates,
		DataStreams: entry.InUseBy.DataStreams,
	}, nil
}
