// Package catalog defines the status-store data model for the archival
// lifecycle manager: the settings singleton, the repository ledger, and
// thaw requests, together with the repository lifecycle state machine and
// the store persisting them as documents in a dedicated cluster index.
//
// All records are immutable value snapshots: mutating helpers return a new
// value, and persisting returns the stored snapshot with its fresh sequence
// number. Documents round-trip to flat JSON objects discriminated by a
// "doctype" field, with RFC 3339 timestamps.
package catalog

import (
	"time"
)

// DocType discriminates catalog documents.
type DocType string

const (
	DocTypeSettings    DocType = "settings"
	DocTypeRepository  DocType = "repository"
	DocTypeThawRequest DocType = "thaw_request"
)

// RotateBy selects how rotation provisions backing storage.
type RotateBy string

const (
	// RotateByBucket creates a fresh bucket per repository.
	RotateByBucket RotateBy = "bucket"
	// RotateByPath creates a fresh base path in a shared bucket.
	RotateByPath RotateBy = "path"
)

// SuffixStyle selects how repository name suffixes are generated.
type SuffixStyle string

const (
	// StyleOneup numbers repositories with a zero-padded counter.
	StyleOneup SuffixStyle = "oneup"
	// StyleDate names repositories after year and month.
	StyleDate SuffixStyle = "date"
)

// Settings is the singleton configuration record. Created at setup;
// LastSuffix is mutated only by rotation.
type Settings struct {
	Doctype DocType `json:"doctype"`

	// RepoPrefix names repositories: "<RepoPrefix>-<suffix>".
	RepoPrefix string `json:"repo_prefix"`

	// BucketPrefix names buckets. With RotateByBucket each repository gets
	// "<BucketPrefix>-<suffix>"; with RotateByPath the bucket is BucketPrefix.
	BucketPrefix string `json:"bucket_prefix"`

	// BasePathPrefix prefixes base paths inside the bucket.
	BasePathPrefix string `json:"base_path_prefix"`

	// CannedACL is applied to created buckets and copied objects.
	CannedACL string `json:"canned_acl"`

	// StorageClass is the archival storage class for frozen repositories.
	StorageClass string `json:"storage_class"`

	RotateBy RotateBy    `json:"rotate_by"`
	Style    SuffixStyle `json:"style"`

	// LastSuffix is the most recently issued repository suffix.
	LastSuffix string `json:"last_suffix"`

	// PolicyName is the base name of the versioned archival policy.
	PolicyName string `json:"policy_name"`

	// RestoreDays and RetrievalTier parameterize thaw restores.
	RestoreDays   int    `json:"restore_days"`
	RetrievalTier string `json:"retrieval_tier"`

	// Retention windows for thaw requests, keyed by terminal status.
	RetainCompleted Duration `json:"retain_completed"`
	RetainFailed    Duration `json:"retain_failed"`
	RetainRefrozen  Duration `json:"retain_refrozen"`

	// Seq is the document sequence number used for conditional updates.
	// It lives in document metadata, not in the source.
	Seq int64 `json:"-"`
}

// RetentionFor returns the retention window for a terminal request status.
// A zero window means requests with that status are kept indefinitely.
func (s Settings) RetentionFor(status RequestStatus) time.Duration {
	switch status {
	case StatusCompleted:
		return time.Duration(s.RetainCompleted)
	case StatusFailed:
		return time.Duration(s.RetainFailed)
	case StatusRefrozen:
		return time.Duration(s.RetainRefrozen)
	default:
		return 0
	}
}

// Repository is a ledger entry for one snapshot repository. Entries are
// never physically deleted.
type Repository struct {
	Doctype DocType `json:"doctype"`

	Name     string `json:"name"`
	Bucket   string `json:"bucket"`
	BasePath string `json:"base_path"`

	// Start and End bound the covered date range. The range only ever
	// widens; see ExtendRange.
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`

	// Mounted reports whether the repository is registered with the cluster.
	Mounted bool `json:"mounted"`

	State State `json:"state"`

	// ThawedAt records when the last restore completed; ExpiresAt when the
	// restore window lapses. Both are cleared on the return to frozen.
	ThawedAt  *time.Time `json:"thawed_at,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`

	Seq int64 `json:"-"`
}

// Covers reports whether the repository's recorded range overlaps the
// window [start, end].
func (r Repository) Covers(start, end time.Time) bool {
	if r.Start.IsZero() && r.End.IsZero() {
		return false
	}
	return !r.Start.After(end) && !r.End.Before(start)
}

// ExtendRange widens the covered range to include every observed timestamp.
// The result is [min(existing start, ts...), max(existing end, ts...)];
// the range never shrinks. Returns the widened snapshot.
func (r Repository) ExtendRange(timestamps ...time.Time) Repository {
	for _, ts := range timestamps {
		if ts.IsZero() {
			continue
		}
		if r.Start.IsZero() || ts.Before(r.Start) {
			r.Start = ts
		}
		if r.End.IsZero() || ts.After(r.End) {
			r.End = ts
		}
	}
	return r
}

// RequestStatus is the lifecycle status of a thaw request. Status only
// moves forward; see Advance.
type RequestStatus string

const (
	StatusInProgress RequestStatus = "in_progress"
	StatusCompleted  RequestStatus = "completed"
	StatusFailed     RequestStatus = "failed"
	StatusRefrozen   RequestStatus = "refrozen"
)

// Terminal reports whether no further automatic progress is expected.
func (s RequestStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusRefrozen
}

// requestOrder defines the forward ordering of request statuses.
var requestOrder = map[RequestStatus]int{
	StatusInProgress: 0,
	StatusCompleted:  1,
	StatusFailed:     1,
	StatusRefrozen:   2,
}

// CanAdvance reports whether moving from s to next is a forward move.
// Advancing to the current status is allowed as a no-op.
func (s RequestStatus) CanAdvance(next RequestStatus) bool {
	from, ok := requestOrder[s]
	if !ok {
		return false
	}
	to, ok := requestOrder[next]
	if !ok {
		return false
	}
	if s == next {
		return true
	}
	// failed is terminal: it never becomes refrozen.
	if s == StatusFailed {
		return false
	}
	return to > from
}

// ThawRequest tracks one thaw of a date range across a set of repositories.
type ThawRequest struct {
	Doctype DocType `json:"doctype"`

	ID string `json:"id"`

	// Start and End bound the requested window.
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`

	// Repos names every repository covered by the request.
	Repos []string `json:"repos"`

	// ExpiresAt is when the restores issued for the request lapse. Recorded
	// on the request so an interrupted initiate can be resumed with the
	// same deadline.
	ExpiresAt time.Time `json:"expires_at"`

	// MountedIndices records, per repository, the names indices were
	// actually mounted under, so refreeze deletes exactly what was mounted.
	MountedIndices map[string][]string `json:"mounted_indices,omitempty"`

	Status    RequestStatus `json:"status"`
	CreatedAt time.Time     `json:"created_at"`

	Seq int64 `json:"-"`
}

// Advance returns a snapshot with the status moved forward, or an
// InvalidTransition error for a backward move. Advancing to the current
// status is a no-op success.
func (t ThawRequest) Advance(next RequestStatus) (ThawRequest, error) {
	if !t.Status.CanAdvance(next) {
		return t, NewError(ErrInvalidTransition, "thaw request "+t.ID,
			"status "+string(t.Status)+" cannot advance to "+string(next))
	}
	t.Status = next
	return t, nil
}

// Duration is a time.Duration that marshals as a duration string, keeping
// retention windows readable in catalog documents ("720h").
type Duration time.Duration

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Duration(d).String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}
