package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Registry is a hierarchical view over a JetStream key-value bucket.
// A path /a/b is stored under key a.b and its children are the keys a.b.*.
type Registry struct {
	logger *zap.Logger
	nc     *nats.Conn
	kv     nats.KeyValue
}

// OpenBucket binds to a KV bucket, creating it when it does not exist yet.
// A non-zero ttl expires every key that is not rewritten in time.
func OpenBucket(js nats.JetStreamContext, bucket string, ttl time.Duration) (nats.KeyValue, error) {
	kv, err := js.KeyValue(bucket)
	if err == nil {
		return kv, nil
	}
	if !errors.Is(err, nats.ErrBucketNotFound) {
		return nil, fmt.Errorf("failed to bind bucket %s: %w", bucket, err)
	}

	kv, err = js.CreateKeyValue(&nats.KeyValueConfig{
		Bucket:  bucket,
		History: 1,
		TTL:     ttl,
		Storage: nats.FileStorage,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create bucket %s: %w", bucket, err)
	}
	return kv, nil
}

// New creates a registry over the named bucket
func New(nc *nats.Conn, js nats.JetStreamContext, bucket string, logger *zap.Logger) (*Registry, error) {
	kv, err := OpenBucket(js, bucket, 0)
	if err != nil {
		return nil, err
	}

	logger.Info("Service registry opened", zap.String("bucket", bucket))

	return &Registry{
		logger: logger.Named("registry"),
		nc:     nc,
		kv:     kv,
	}, nil
}

// Connected reports whether the underlying NATS connection is up
func (r *Registry) Connected() bool {
	return r.nc != nil && r.nc.IsConnected()
}

// Set writes data at path, creating the node if needed
func (r *Registry) Set(path string, data []byte) error {
	key, err := KeyFor(path)
	if err != nil {
		return err
	}
	if _, err := r.kv.Put(key, data); err != nil {
		return fmt.Errorf("failed to set %s: %w", path, err)
	}
	return nil
}

// Get returns the data stored at path
func (r *Registry) Get(path string) ([]byte, error) {
	key, err := KeyFor(path)
	if err != nil {
		return nil, err
	}
	entry, err := r.kv.Get(key)
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", path, err)
	}
	return entry.Value(), nil
}

// Delete removes the node at path
func (r *Registry) Delete(path string) error {
	key, err := KeyFor(path)
	if err != nil {
		return err
	}
	if err := r.kv.Delete(key); err != nil {
		return fmt.Errorf("failed to delete %s: %w", path, err)
	}
	return nil
}

// Children returns the sorted names of the direct children of path
func (r *Registry) Children(ctx context.Context, path string) ([]string, error) {
	if !r.Connected() {
		return nil, ErrNotConnected
	}

	key, err := KeyFor(path)
	if err != nil {
		return nil, err
	}

	w, err := r.kv.Watch(key+".*", nats.IgnoreDeletes(), nats.MetaOnly())
	if err != nil {
		return nil, fmt.Errorf("failed to list children of %s: %w", path, err)
	}
	defer w.Stop()

	children := make([]string, 0)
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case entry, ok := <-w.Updates():
			if !ok {
				return nil, ErrWatchClosed
			}
			if entry == nil {
				sort.Strings(children)
				return children, nil
			}
			children = append(children, lastToken(entry.Key()))
		}
	}
}

// Watch calls fn once the current children of path are known and again after
// every later change to them. It returns after the watch is registered; the
// watch lives until ctx is cancelled.
func (r *Registry) Watch(ctx context.Context, path string, fn func(path string)) error {
	key, err := KeyFor(path)
	if err != nil {
		return err
	}

	w, err := r.kv.Watch(key+".*", nats.MetaOnly())
	if err != nil {
		return fmt.Errorf("failed to watch %s: %w", path, err)
	}

	r.logger.Debug("Watching path", zap.String("path", path), zap.String("key", key))

	go func() {
		defer w.Stop()

		initialized := false
		for {
			select {
			case <-ctx.Done():
				return
			case entry, ok := <-w.Updates():
				if !ok {
					r.logger.Warn("Watch closed", zap.String("path", path))
					return
				}
				if entry == nil {
					initialized = true
					fn(path)
					continue
				}
				if !initialized {
					continue
				}
				r.logger.Debug("Path changed",
					zap.String("path", path),
					zap.String("key", entry.Key()),
					zap.String("op", entry.Operation().String()))
				fn(path)
			}
		}
	}()

	return nil
}
