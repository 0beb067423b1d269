package cluster

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Lock is a cluster scoped mutual exclusion handle backed by a single KV key.
// The key holds the owner's identity; the owner keeps it alive with
// revision-checked updates and everyone else retries creating it.
type Lock struct {
	logger    *zap.Logger
	kv        nats.KeyValue
	key       string
	owner     string
	interval  time.Duration
	connected func() bool

	mu       sync.Mutex
	revision uint64

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func newLock(kv nats.KeyValue, key, owner string, interval time.Duration, connected func() bool, logger *zap.Logger) *Lock {
	return &Lock{
		logger:    logger.Named("lock").With(zap.String("key", key)),
		kv:        kv,
		key:       key,
		owner:     owner,
		interval:  interval,
		connected: connected,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Key returns the KV key guarding the lock
func (l *Lock) Key() string {
	return l.key
}

// Held reports whether this agent currently owns the lock. The answer is read
// from the store on every call; any failure to read it counts as not held.
func (l *Lock) Held(ctx context.Context) bool {
	if l.connected != nil && !l.connected() {
		return false
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultLockWait)
		defer cancel()
	}

	type result struct {
		entry nats.KeyValueEntry
		err   error
	}
	ch := make(chan result, 1)
	go func() {
		entry, err := l.kv.Get(l.key)
		ch <- result{entry: entry, err: err}
	}()

	select {
	case <-ctx.Done():
		l.logger.Warn("Lock status check timed out", zap.Error(ctx.Err()))
		return false
	case res := <-ch:
		if res.err != nil {
			if !errors.Is(res.err, nats.ErrKeyNotFound) {
				l.logger.Warn("Lock status check failed", zap.Error(res.err))
			}
			return false
		}
		return string(res.entry.Value()) == l.owner
	}
}

// Close stops competing for the lock and releases it when held
func (l *Lock) Close() {
	l.stopOnce.Do(func() {
		close(l.stop)
		<-l.done

		l.mu.Lock()
		rev := l.revision
		l.revision = 0
		l.mu.Unlock()

		if rev == 0 {
			return
		}
		if err := l.kv.Delete(l.key, nats.LastRevision(rev)); err != nil {
			l.logger.Warn("Failed to release lock", zap.Error(err))
			return
		}
		l.logger.Info("Lock released", zap.String("owner", l.owner))
	})
}

func (l *Lock) start() {
	go l.keep()
}

// tryAcquire makes a single non-blocking attempt to create the lock key
func (l *Lock) tryAcquire() bool {
	rev, err := l.kv.Create(l.key, []byte(l.owner))
	if err == nil {
		l.setRevision(rev)
		l.logger.Info("Lock acquired", zap.String("owner", l.owner))
		return true
	}

	if !errors.Is(err, nats.ErrKeyExists) {
		l.logger.Warn("Lock acquisition failed", zap.Error(err))
		return false
	}

	// A previous incarnation with the same identity may still own the key.
	entry, err := l.kv.Get(l.key)
	if err == nil && string(entry.Value()) == l.owner {
		l.setRevision(entry.Revision())
		return true
	}
	return false
}

// refresh extends a held lock, or competes for it when not held
func (l *Lock) refresh() {
	l.mu.Lock()
	rev := l.revision
	l.mu.Unlock()

	if rev == 0 {
		l.tryAcquire()
		return
	}

	next, err := l.kv.Update(l.key, []byte(l.owner), rev)
	if err != nil {
		l.logger.Warn("Lock lost", zap.String("owner", l.owner), zap.Error(err))
		l.setRevision(0)
		return
	}
	l.setRevision(next)
}

func (l *Lock) keep() {
	defer close(l.done)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.refresh()
		}
	}
}

func (l *Lock) setRevision(rev uint64) {
	l.mu.Lock()
	l.revision = rev
	l.mu.Unlock()
}
