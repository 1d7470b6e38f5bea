// Package memory provides an in-memory objstore.Gateway for tests and
// local development. All operations are safe for concurrent use.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/permafrost-sh/permafrost/pkg/gateway/objstore"
)

// Gateway is an in-memory implementation of objstore.Gateway.
type Gateway struct {
	mu sync.RWMutex

	// buckets maps bucket name to key to object.
	buckets map[string]map[string]objstore.ObjectInfo

	// failures maps "op:key" to an error to inject.
	failures map[string]error
}

// New creates an empty in-memory gateway.
func New() *Gateway {
	return &Gateway{
		buckets:  make(map[string]map[string]objstore.ObjectInfo),
		failures: make(map[string]error),
	}
}

// FailWith injects an error for the given operation and key. Pass key ""
// to fail the operation for every key.
func (g *Gateway) FailWith(op, key string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failures[op+":"+key] = err
}

func (g *Gateway) injected(op, key string) error {
	if err, ok := g.failures[op+":"+key]; ok {
		return err
	}
	if err, ok := g.failures[op+":"]; ok {
		return err
	}
	return nil
}

// PutObject seeds an object. Test helper.
func (g *Gateway) PutObject(bucket string, info objstore.ObjectInfo) {
	g.mu.Lock()
	defer g.mu.Unlock()
	objects, ok := g.buckets[bucket]
	if !ok {
		objects = make(map[string]objstore.ObjectInfo)
		g.buckets[bucket] = objects
	}
	objects[info.Key] = info
}

// CompleteRestore marks an in-flight restore as done. Test helper.
func (g *Gateway) CompleteRestore(bucket, key string, expiry time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if obj, ok := g.buckets[bucket][key]; ok {
		obj.Restore = objstore.RestoreDone
		obj.RestoreExpiry = &expiry
		g.buckets[bucket][key] = obj
	}
}

// Object returns a seeded object. Test helper.
func (g *Gateway) Object(bucket, key string) (objstore.ObjectInfo, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	obj, ok := g.buckets[bucket][key]
	return obj, ok
}

// BucketExists implements objstore.Gateway.
func (g *Gateway) BucketExists(_ context.Context, bucket string) (bool, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if err := g.injected("BucketExists", bucket); err != nil {
		return false, err
	}
	_, ok := g.buckets[bucket]
	return ok, nil
}

// CreateBucket implements objstore.Gateway.
func (g *Gateway) CreateBucket(_ context.Context, bucket, _ string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.injected("CreateBucket", bucket); err != nil {
		return err
	}
	if _, ok := g.buckets[bucket]; !ok {
		g.buckets[bucket] = make(map[string]objstore.ObjectInfo)
	}
	return nil
}

// ListObjects implements objstore.Gateway.
func (g *Gateway) ListObjects(_ context.Context, bucket, prefix string) ([]objstore.ObjectInfo, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if err := g.injected("ListObjects", ""); err != nil {
		return nil, err
	}
	objects, ok := g.buckets[bucket]
	if !ok {
		return nil, objstore.ErrBucketNotFound
	}

	var infos []objstore.ObjectInfo
	for key, obj := range objects {
		if strings.HasPrefix(key, prefix) {
			infos = append(infos, obj)
		}
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos, nil
}

// HeadObject implements objstore.Gateway.
func (g *Gateway) HeadObject(_ context.Context, bucket, key string) (objstore.ObjectInfo, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if err := g.injected("HeadObject", key); err != nil {
		return objstore.ObjectInfo{}, err
	}
	obj, ok := g.buckets[bucket][key]
	if !ok {
		return objstore.ObjectInfo{}, objstore.ErrObjectNotFound
	}
	return obj, nil
}

// CopyObject implements objstore.Gateway.
func (g *Gateway) CopyObject(_ context.Context, bucket, key string, target objstore.StorageClass, _ string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.injected("CopyObject", key); err != nil {
		return err
	}
	obj, ok := g.buckets[bucket][key]
	if !ok {
		return objstore.ErrObjectNotFound
	}
	obj.StorageClass = target
	obj.Restore = objstore.RestoreNone
	obj.RestoreExpiry = nil
	g.buckets[bucket][key] = obj
	return nil
}

// RestoreObject implements objstore.Gateway. The restore stays in progress
// until CompleteRestore is called.
func (g *Gateway) RestoreObject(_ context.Context, bucket, key string, _ objstore.RestoreSpec) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.injected("RestoreObject", key); err != nil {
		return err
	}
	obj, ok := g.buckets[bucket][key]
	if !ok {
		return objstore.ErrObjectNotFound
	}
	if obj.Restore == objstore.RestoreNone {
		obj.Restore = objstore.RestoreInProgress
		g.buckets[bucket][key] = obj
	}
	return nil
}

var _ objstore.Gateway = (*Gateway)(nil)
