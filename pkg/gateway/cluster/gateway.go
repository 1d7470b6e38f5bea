// Package cluster defines the gateway to the search cluster: snapshot
// repository registration, index and policy administration, searchable
// snapshot mounts, and the document operations backing the status catalog.
package cluster

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Sentinel errors returned by Gateway implementations. Callers match these
// with errors.Is and translate them into their own error taxonomy.
var (
	// ErrIndexNotFound indicates the target index does not exist.
	ErrIndexNotFound = errors.New("index not found")

	// ErrDocumentNotFound indicates the addressed document does not exist.
	ErrDocumentNotFound = errors.New("document not found")

	// ErrDocumentExists indicates a create collided with an existing document.
	ErrDocumentExists = errors.New("document already exists")

	// ErrSeqConflict indicates a conditional update lost against a concurrent
	// writer: the document's sequence number no longer matches the expected one.
	ErrSeqConflict = errors.New("document sequence conflict")

	// ErrRepositoryNotFound indicates the snapshot repository is not registered.
	ErrRepositoryNotFound = errors.New("repository not found")

	// ErrPolicyNotFound indicates the lifecycle policy does not exist.
	ErrPolicyNotFound = errors.New("policy not found")
)

// RepositorySpec describes a snapshot repository to register with the cluster.
type RepositorySpec struct {
	Name     string
	Bucket   string
	BasePath string

	// CannedACL is applied to objects the repository writes, when set.
	CannedACL string

	// StorageClass is the storage class for objects the repository writes.
	StorageClass string
}

// Policy is a versioned archival lifecycle policy. Repository names the
// snapshot repository the policy's frozen-phase searchable snapshot action
// mounts from.
type Policy struct {
	Name       string
	Repository string
}

// PolicyUsage reports what currently references a policy.
type PolicyUsage struct {
	Indices     []string
	Templates   []string
	DataStreams []string
}

// Empty reports whether nothing references the policy.
func (u PolicyUsage) Empty() bool {
	return len(u.Indices) == 0 && len(u.Templates) == 0 && len(u.DataStreams) == 0
}

// Template is an index template binding indices to a lifecycle policy.
// Legacy distinguishes legacy templates from composable ones.
type Template struct {
	Name   string
	Policy string
	Legacy bool
}

// TimeRange is a closed timestamp interval observed over an index.
type TimeRange struct {
	Min time.Time
	Max time.Time
}

// Overlaps reports whether the range intersects [start, end].
func (r TimeRange) Overlaps(start, end time.Time) bool {
	return !r.Min.After(end) && !r.Max.Before(start)
}

// Document is a catalog document together with its sequence metadata.
// Seq increments on every write and is the token for conditional updates.
type Document struct {
	ID     string
	Seq    int64
	Source json.RawMessage
}

// Gateway is the consumed surface of the search cluster.
//
// Implementations: Client (REST) and memory.Gateway (tests, dry runs).
type Gateway interface {
	// Snapshot repositories.
	RepositoryExists(ctx context.Context, name string) (bool, error)
	CreateRepository(ctx context.Context, spec RepositorySpec) error
	// DeleteRepository removes the repository registration only; the backing
	// bucket and its snapshots are untouched.
	DeleteRepository(ctx context.Context, name string) error

	// Indices.
	IndexExists(ctx context.Context, name string) (bool, error)
	CreateIndex(ctx context.Context, name string) error
	DeleteIndex(ctx context.Context, name string) error
	FlushIndex(ctx context.Context, name string) error

	// Lifecycle policies.
	GetPolicy(ctx context.Context, name string) (Policy, error)
	ListPolicies(ctx context.Context, prefix string) ([]Policy, error)
	PutPolicy(ctx context.Context, policy Policy) error
	DeletePolicy(ctx context.Context, name string) error
	GetPolicyUsage(ctx context.Context, name string) (PolicyUsage, error)

	// Index templates, composable and legacy.
	ListTemplates(ctx context.Context) ([]Template, error)
	SetTemplatePolicy(ctx context.Context, name string, legacy bool, policy string) error

	// Searchable snapshots.
	SnapshotIndices(ctx context.Context, repository string) ([]string, error)
	// MountIndex mounts an index from the repository's snapshots and returns
	// the name it was mounted under.
	MountIndex(ctx context.Context, repository, index string) (string, error)

	// TimestampRange aggregates the min and max event timestamp over an index.
	TimestampRange(ctx context.Context, index string) (TimeRange, error)

	// Catalog documents.
	GetDocument(ctx context.Context, index, id string) (Document, error)
	// CreateDocument fails with ErrDocumentExists when the id is taken.
	CreateDocument(ctx context.Context, index, id string, source json.RawMessage) (int64, error)
	// UpdateDocument is conditional on ifSeq and fails with ErrSeqConflict on
	// a lost race. It returns the new sequence number.
	UpdateDocument(ctx context.Context, index, id string, source json.RawMessage, ifSeq int64) (int64, error)
	DeleteDocument(ctx context.Context, index, id string) error
	// SearchDocuments returns documents whose source matches every term
	// (field equality) in terms.
	SearchDocuments(ctx context.Context, index string, terms map[string]string) ([]Document, error)
}
