// Package objstore defines the gateway to tiered object storage: bucket
// management, object listing and introspection, storage-class transitions,
// and archival restores.
package objstore

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors returned by Gateway implementations.
var (
	// ErrBucketNotFound indicates the bucket does not exist.
	ErrBucketNotFound = errors.New("bucket not found")

	// ErrObjectNotFound indicates the object does not exist.
	ErrObjectNotFound = errors.New("object not found")
)

// StorageClass is an object storage class.
type StorageClass string

// Storage classes the lifecycle manager cares about. Instant classes serve
// reads directly; archival classes require a restore first.
const (
	ClassStandard           StorageClass = "STANDARD"
	ClassStandardIA         StorageClass = "STANDARD_IA"
	ClassOneZoneIA          StorageClass = "ONEZONE_IA"
	ClassIntelligentTiering StorageClass = "INTELLIGENT_TIERING"
	ClassGlacierIR          StorageClass = "GLACIER_IR"
	ClassGlacier            StorageClass = "GLACIER"
	ClassDeepArchive        StorageClass = "DEEP_ARCHIVE"
)

// Archival reports whether the class requires a restore before reads.
// GLACIER_IR serves reads directly despite the name.
func (c StorageClass) Archival() bool {
	switch c {
	case ClassGlacier, ClassDeepArchive:
		return true
	default:
		return false
	}
}

// RestoreState describes where an archival object stands in the restore
// lifecycle.
type RestoreState int

const (
	// RestoreNone means no restore has been requested.
	RestoreNone RestoreState = iota
	// RestoreInProgress means a restore was requested and is still running.
	RestoreInProgress
	// RestoreDone means a restored copy is available until RestoreExpiry.
	RestoreDone
)

// String returns a human-readable name for the restore state.
func (s RestoreState) String() string {
	switch s {
	case RestoreNone:
		return "none"
	case RestoreInProgress:
		return "in_progress"
	case RestoreDone:
		return "done"
	default:
		return "unknown"
	}
}

// ObjectInfo describes one object: its key, size, storage class, and
// restore status.
type ObjectInfo struct {
	Key           string
	Size          int64
	StorageClass  StorageClass
	Restore       RestoreState
	RestoreExpiry *time.Time
}

// Available reports whether the object can be read right now: either its
// class serves reads directly or a restored copy exists.
func (o ObjectInfo) Available() bool {
	return !o.StorageClass.Archival() || o.Restore == RestoreDone
}

// RestoreSpec parameterizes an archival restore request.
type RestoreSpec struct {
	// Days is how long the restored copy stays available.
	Days int
	// Tier is the retrieval tier: Standard, Expedited, or Bulk.
	Tier string
}

// Gateway is the consumed surface of the object store.
//
// Implementations: s3.Gateway (AWS SDK) and memory.Gateway (tests, dry runs).
type Gateway interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	CreateBucket(ctx context.Context, bucket, cannedACL string) error

	// ListObjects returns every object under prefix with storage class and
	// restore status populated.
	ListObjects(ctx context.Context, bucket, prefix string) ([]ObjectInfo, error)

	// HeadObject introspects one object.
	HeadObject(ctx context.Context, bucket, key string) (ObjectInfo, error)

	// CopyObject copies an object onto itself with a new storage class.
	CopyObject(ctx context.Context, bucket, key string, target StorageClass, cannedACL string) error

	// RestoreObject requests a temporary restore of an archival object.
	// Restoring an object with a restore already in flight is a no-op.
	RestoreObject(ctx context.Context, bucket, key string, spec RestoreSpec) error
}
