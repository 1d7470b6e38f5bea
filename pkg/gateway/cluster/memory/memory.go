// Package memory provides an in-memory cluster.Gateway for tests and
// local development. All operations are safe for concurrent use.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/permafrost-sh/permafrost/pkg/gateway/cluster"
)

// Gateway is an in-memory implementation of cluster.Gateway.
type Gateway struct {
	mu sync.RWMutex

	repositories map[string]cluster.RepositorySpec
	indices      map[string]struct{}
	policies     map[string]cluster.Policy
	usage        map[string]cluster.PolicyUsage
	templates    map[string]cluster.Template

	// snapshots maps repository name to the indices its snapshots contain.
	snapshots map[string][]string

	// ranges maps index name to its timestamp range.
	ranges map[string]cluster.TimeRange

	// documents maps index name to id to stored document.
	documents map[string]map[string]cluster.Document

	// failures maps "op:target" to an error to inject.
	failures map[string]error
}

// New creates an empty in-memory gateway.
func New() *Gateway {
	return &Gateway{
		repositories: make(map[string]cluster.RepositorySpec),
		indices:      make(map[string]struct{}),
		policies:     make(map[string]cluster.Policy),
		usage:        make(map[string]cluster.PolicyUsage),
		templates:    make(map[string]cluster.Template),
		snapshots:    make(map[string][]string),
		ranges:       make(map[string]cluster.TimeRange),
		documents:    make(map[string]map[string]cluster.Document),
		failures:     make(map[string]error),
	}
}

// FailWith injects an error for the given operation and target, e.g.
// FailWith("MountIndex", "logs-2023.06", err). Pass target "" to fail the
// operation for every target.
func (g *Gateway) FailWith(op, target string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failures[op+":"+target] = err
}

func (g *Gateway) injected(op, target string) error {
	if err, ok := g.failures[op+":"+target]; ok {
		return err
	}
	if err, ok := g.failures[op+":"]; ok {
		return err
	}
	return nil
}

// SetSnapshotIndices seeds the indices contained in a repository's snapshots.
func (g *Gateway) SetSnapshotIndices(repository string, indices ...string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.snapshots[repository] = append([]string(nil), indices...)
}

// SetTimestampRange seeds the timestamp range of an index.
func (g *Gateway) SetTimestampRange(index string, r cluster.TimeRange) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ranges[index] = r
}

// SetPolicyUsage seeds the usage report for a policy.
func (g *Gateway) SetPolicyUsage(name string, usage cluster.PolicyUsage) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.usage[name] = usage
}

// PutTemplate seeds a template.
func (g *Gateway) PutTemplate(t cluster.Template) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.templates[templateKey(t.Name, t.Legacy)] = t
}

// HasIndex reports whether the index exists. Test helper.
func (g *Gateway) HasIndex(name string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.indices[name]
	return ok
}

// HasRepository reports whether the repository is registered. Test helper.
func (g *Gateway) HasRepository(name string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.repositories[name]
	return ok
}

func templateKey(name string, legacy bool) string {
	if legacy {
		return "legacy:" + name
	}
	return "composable:" + name
}

// RepositoryExists implements cluster.Gateway.
func (g *Gateway) RepositoryExists(_ context.Context, name string) (bool, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if err := g.injected("RepositoryExists", name); err != nil {
		return false, err
	}
	_, ok := g.repositories[name]
	return ok, nil
}

// CreateRepository implements cluster.Gateway.
func (g *Gateway) CreateRepository(_ context.Context, spec cluster.RepositorySpec) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.injected("CreateRepository", spec.Name); err != nil {
		return err
	}
	g.repositories[spec.Name] = spec
	return nil
}

// DeleteRepository implements cluster.Gateway.
func (g *Gateway) DeleteRepository(_ context.Context, name string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.injected("DeleteRepository", name); err != nil {
		return err
	}
	if _, ok := g.repositories[name]; !ok {
		return cluster.ErrRepositoryNotFound
	}
	delete(g.repositories, name)
	return nil
}

// IndexExists implements cluster.Gateway.
func (g *Gateway) IndexExists(_ context.Context, name string) (bool, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if err := g.injected("IndexExists", name); err != nil {
		return false, err
	}
	_, ok := g.indices[name]
	return ok, nil
}

// CreateIndex implements cluster.Gateway.
func (g *Gateway) CreateIndex(_ context.Context, name string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.injected("CreateIndex", name); err != nil {
		return err
	}
	g.indices[name] = struct{}{}
	if _, ok := g.documents[name]; !ok {
		g.documents[name] = make(map[string]cluster.Document)
	}
	return nil
}

// DeleteIndex implements cluster.Gateway.
func (g *Gateway) DeleteIndex(_ context.Context, name string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.injected("DeleteIndex", name); err != nil {
		return err
	}
	if _, ok := g.indices[name]; !ok {
		return cluster.ErrIndexNotFound
	}
	delete(g.indices, name)
	delete(g.documents, name)
	return nil
}

// FlushIndex implements cluster.Gateway.
func (g *Gateway) FlushIndex(_ context.Context, name string) error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if err := g.injected("FlushIndex", name); err != nil {
		return err
	}
	if _, ok := g.indices[name]; !ok {
		return cluster.ErrIndexNotFound
	}
	return nil
}

// GetPolicy implements cluster.Gateway.
func (g *Gateway) GetPolicy(_ context.Context, name string) (cluster.Policy, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if err := g.injected("GetPolicy", name); err != nil {
		return cluster.Policy{}, err
	}
	policy, ok := g.policies[name]
	if !ok {
		return cluster.Policy{}, cluster.ErrPolicyNotFound
	}
	return policy, nil
}

// ListPolicies implements cluster.Gateway.
func (g *Gateway) ListPolicies(_ context.Context, prefix string) ([]cluster.Policy, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if err := g.injected("ListPolicies", ""); err != nil {
		return nil, err
	}
	policies := make([]cluster.Policy, 0, len(g.policies))
	for name, policy := range g.policies {
		if strings.HasPrefix(name, prefix) {
			policies = append(policies, policy)
		}
	}
	sort.Slice(policies, func(i, j int) bool { return policies[i].Name < policies[j].Name })
	return policies, nil
}

// PutPolicy implements cluster.Gateway.
func (g *Gateway) PutPolicy(_ context.Context, policy cluster.Policy) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.injected("PutPolicy", policy.Name); err != nil {
		return err
	}
	g.policies[policy.Name] = policy
	return nil
}

// DeletePolicy implements cluster.Gateway.
func (g *Gateway) DeletePolicy(_ context.Context, name string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.injected("DeletePolicy", name); err != nil {
		return err
	}
	if _, ok := g.policies[name]; !ok {
		return cluster.ErrPolicyNotFound
	}
	delete(g.policies, name)
	delete(g.usage, name)
	return nil
}

// GetPolicyUsage implements cluster.Gateway.
func (g *Gateway) GetPolicyUsage(_ context.Context, name string) (cluster.PolicyUsage, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if err := g.injected("GetPolicyUsage", name); err != nil {
		return cluster.PolicyUsage{}, err
	}
	if _, ok := g.policies[name]; !ok {
		return cluster.PolicyUsage{}, cluster.ErrPolicyNotFound
	}
	return g.usage[name], nil
}

// ListTemplates implements cluster.Gateway.
func (g *Gateway) ListTemplates(_ context.Context) ([]cluster.Template, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if err := g.injected("ListTemplates", ""); err != nil {
		return nil, err
	}
	templates := make([]cluster.Template, 0, len(g.templates))
	for _, t := range g.templates {
		templates = append(templates, t)
	}
	sort.Slice(templates, func(i, j int) bool { return templates[i].Name < templates[j].Name })
	return templates, nil
}

// SetTemplatePolicy implements cluster.Gateway.
func (g *Gateway) SetTemplatePolicy(_ context.Context, name string, legacy bool, policy string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.injected("SetTemplatePolicy", name); err != nil {
		return err
	}
	key := templateKey(name, legacy)
	t, ok := g.templates[key]
	if !ok {
		return fmt.Errorf("template %q not found", name)
	}
	t.Policy = policy
	g.templates[key] = t
	return nil
}

// SnapshotIndices implements cluster.Gateway.
func (g *Gateway) SnapshotIndices(_ context.Context, repository string) ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if err := g.injected("SnapshotIndices", repository); err != nil {
		return nil, err
	}
	indices := append([]string(nil), g.snapshots[repository]...)
	sort.Strings(indices)
	return indices, nil
}

// MountIndex implements cluster.Gateway.
func (g *Gateway) MountIndex(_ context.Context, repository, index string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.injected("MountIndex", index); err != nil {
		return "", err
	}

	found := false
	for _, idx := range g.snapshots[repository] {
		if idx == index {
			found = true
			break
		}
	}
	if !found {
		return "", fmt.Errorf("no snapshot in %q contains index %q", repository, index)
	}

	mounted := index
	if _, taken := g.indices[index]; taken {
		mounted = "restored-" + index
	}
	g.indices[mounted] = struct{}{}
	if r, ok := g.ranges[index]; ok {
		g.ranges[mounted] = r
	}
	return mounted, nil
}

// TimestampRange implements cluster.Gateway.
func (g *Gateway) TimestampRange(_ context.Context, index string) (cluster.TimeRange, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if err := g.injected("TimestampRange", index); err != nil {
		return cluster.TimeRange{}, err
	}
	r, ok := g.ranges[index]
	if !ok {
		return cluster.TimeRange{}, cluster.ErrIndexNotFound
	}
	return r, nil
}

// GetDocument implements cluster.Gateway.
func (g *Gateway) GetDocument(_ context.Context, index, id string) (cluster.Document, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if err := g.injected("GetDocument", id); err != nil {
		return cluster.Document{}, err
	}
	docs, ok := g.documents[index]
	if !ok {
		return cluster.Document{}, cluster.ErrIndexNotFound
	}
	doc, ok := docs[id]
	if !ok {
		return cluster.Document{}, cluster.ErrDocumentNotFound
	}
	return doc, nil
}

// CreateDocument implements cluster.Gateway.
func (g *Gateway) CreateDocument(_ context.Context, index, id string, source json.RawMessage) (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.injected("CreateDocument", id); err != nil {
		return 0, err
	}
	docs, ok := g.documents[index]
	if !ok {
		return 0, cluster.ErrIndexNotFound
	}
	if _, exists := docs[id]; exists {
		return 0, cluster.ErrDocumentExists
	}
	docs[id] = cluster.Document{ID: id, Seq: 0, Source: append(json.RawMessage(nil), source...)}
	return 0, nil
}

// UpdateDocument implements cluster.Gateway.
func (g *Gateway) UpdateDocument(_ context.Context, index, id string, source json.RawMessage, ifSeq int64) (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.injected("UpdateDocument", id); err != nil {
		return 0, err
	}
	docs, ok := g.documents[index]
	if !ok {
		return 0, cluster.ErrIndexNotFound
	}
	doc, ok := docs[id]
	if !ok {
		return 0, cluster.ErrDocumentNotFound
	}
	if doc.Seq != ifSeq {
		return 0, cluster.ErrSeqConflict
	}
	doc.Seq++
	doc.Source = append(json.RawMessage(nil), source...)
	docs[id] = doc
	return doc.Seq, nil
}

// DeleteDocument implements cluster.Gateway.
func (g *Gateway) DeleteDocument(_ context.Context, index, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.injected("DeleteDocument", id); err != nil {
		return err
	}
	docs, ok := g.documents[index]
	if !ok {
		return cluster.ErrIndexNotFound
	}
	if _, ok := docs[id]; !ok {
		return cluster.ErrDocumentNotFound
	}
	delete(docs, id)
	return nil
}

// SearchDocuments implements cluster.Gateway.
func (g *Gateway) SearchDocuments(_ context.Context, index string, terms map[string]string) ([]cluster.Document, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if err := g.injected("SearchDocuments", ""); err != nil {
		return nil, err
	}
	docs, ok := g.documents[index]
	if !ok {
		return nil, cluster.ErrIndexNotFound
	}

	var matches []cluster.Document
	for _, doc := range docs {
		var source map[string]any
		if err := json.Unmarshal(doc.Source, &source); err != nil {
			continue
		}
		matched := true
		for field, want := range terms {
			got, ok := source[field].(string)
			if !ok || got != want {
				matched = false
				break
			}
		}
		if matched {
			matches = append(matches, doc)
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].ID < matches[j].ID })
	return matches, nil
}

var _ cluster.Gateway = (*Gateway)(nil)
