// Package alerts turns compliance changes into notifications. The Dispatcher
// keeps one record per path, debounces errors for the path's cancel timeout
// and delivers through every configured backend, but only while this agent
// holds the cluster-wide alerter lock.
package alerts

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/t77yq/registry-monitor/internal/model"
)

// Locker reports whether this agent is the one allowed to deliver alerts
type Locker interface {
	Held(ctx context.Context) bool
}

// HistoryRecorder persists delivery attempts
type HistoryRecorder interface {
	StoreDelivery(ctx context.Context, d *model.Delivery) error
}

// DispatcherOptions holds optional dispatcher collaborators
type DispatcherOptions struct {
	// History receives every delivery attempt when set.
	History HistoryRecorder
}

// Dispatcher is the per-path alert state machine
type Dispatcher struct {
	logger   *zap.Logger
	lock     Locker
	backends *Registry
	paths    map[string]model.PathConfig
	history  HistoryRecorder

	mu      sync.Mutex
	records map[string]*model.PathRecord
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDispatcher creates a dispatcher. The caller acquires lock right before
// construction so that leadership is contended from process start.
func NewDispatcher(logger *zap.Logger, lock Locker, backends *Registry, paths map[string]model.PathConfig, opts DispatcherOptions) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	if backends == nil {
		backends = NewRegistry()
	}
	if paths == nil {
		paths = make(map[string]model.PathConfig)
	}

	return &Dispatcher{
		logger:   logger.Named("dispatcher"),
		lock:     lock,
		backends: backends,
		paths:    paths,
		history:  opts.History,
		records:  make(map[string]*model.PathRecord),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Update records the latest state of path and schedules whatever delivery
// that implies. The record is updated before Update returns; the returned
// channel is closed once the deferred debounce and delivery have finished.
func (d *Dispatcher) Update(path string, state model.State, reason string) <-chan struct{} {
	done := make(chan struct{})
	logger := d.logger.With(zap.String("path", path))

	d.mu.Lock()
	rec, ok := d.records[path]
	if !ok {
		rec = &model.PathRecord{Path: path, NextAction: model.ActionNone}
		d.records[path] = rec
	}
	rec.State = state
	rec.Reason = reason

	if state == model.StateOK {
		prev := rec.NextAction
		rec.NextAction = model.ActionNone

		switch prev {
		case model.ActionAlert:
			d.mu.Unlock()
			logger.Info("Path back in compliance before cancel timeout, alert cancelled")
			suppressedTotal.WithLabelValues("cancelled").Inc()
			close(done)
		case model.ActionSent:
			snapshot := *rec
			started := d.spawnLocked(done, func(ctx context.Context) {
				logger.Info("Path back in compliance, sending recovery notification")
				d.sendAlerts(ctx, snapshot)
			})
			d.mu.Unlock()
			if !started {
				close(done)
			}
		default:
			d.mu.Unlock()
			close(done)
		}
		return done
	}

	rec.NextAction = model.ActionAlert
	timeout := d.paths[path].CancelTimeout
	started := d.spawnLocked(done, func(ctx context.Context) {
		d.confirm(ctx, path, timeout)
	})
	d.mu.Unlock()

	if !started {
		close(done)
		return done
	}
	logger.Debug("Alert pending", zap.Duration("cancel_timeout", timeout))
	return done
}

// spawnLocked runs fn on a tracked goroutine and closes done when it returns.
// d.mu must be held. It refuses new work once the dispatcher is closed.
func (d *Dispatcher) spawnLocked(done chan struct{}, fn func(ctx context.Context)) bool {
	if d.closed {
		return false
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer close(done)
		fn(d.ctx)
	}()
	return true
}

// confirm waits out the cancel timeout and delivers if the alert is still
// pending. A later update may have cancelled or already delivered it, so the
// record is re-read rather than trusting what Update saw.
func (d *Dispatcher) confirm(ctx context.Context, path string, timeout time.Duration) {
	if timeout > 0 {
		pendingAlerts.Inc()
		timer := time.NewTimer(timeout)
		select {
		case <-timer.C:
			pendingAlerts.Dec()
		case <-ctx.Done():
			timer.Stop()
			pendingAlerts.Dec()
			d.logger.Debug("Dispatcher closed, pending alert abandoned", zap.String("path", path))
			return
		}
	}

	d.mu.Lock()
	rec := d.records[path]
	if rec.NextAction != model.ActionAlert {
		d.mu.Unlock()
		return
	}
	rec.NextAction = model.ActionSent
	snapshot := *rec
	d.mu.Unlock()

	d.sendAlerts(ctx, snapshot)
}

// sendAlerts delivers rec through every backend configured for its path
func (d *Dispatcher) sendAlerts(ctx context.Context, rec model.PathRecord) []model.Delivery {
	logger := d.logger.With(zap.String("path", rec.Path))

	held := d.lock.Held(ctx)
	setAlerting(held)
	if !held {
		logger.Info("Not the alerting agent, notification left to the lock holder",
			zap.String("state", string(rec.State)))
		suppressedTotal.WithLabelValues("not_leader").Inc()
		return nil
	}

	cfg := d.paths[rec.Path]
	if len(cfg.Alerter) == 0 {
		logger.Warn("No alerters configured for path")
		return nil
	}

	n := model.Notification{
		ID:        uuid.New().String(),
		Path:      rec.Path,
		State:     rec.State,
		Message:   rec.Reason,
		CreatedAt: time.Now().UTC(),
	}

	names := make([]string, 0, len(cfg.Alerter))
	for name := range cfg.Alerter {
		names = append(names, name)
	}
	sort.Strings(names)

	var deliveries []model.Delivery
	for _, name := range names {
		backend, ok := d.backends.Get(name)
		if !ok {
			logger.Error("Alert type specified but not available", zap.String("backend", name))
			deliveriesTotal.WithLabelValues(name, "unknown").Inc()
			continue
		}
		deliveries = append(deliveries, d.deliver(ctx, backend, n, cfg.Alerter[name]))
	}
	return deliveries
}

func (d *Dispatcher) deliver(ctx context.Context, backend Backend, n model.Notification, params model.Params) model.Delivery {
	name := backend.Name()
	logger := d.logger.With(zap.String("path", n.Path), zap.String("backend", name))
	logger.Warn("Firing alert",
		zap.String("state", string(n.State)),
		zap.String("message", n.Message))

	start := time.Now()
	err := backend.Send(ctx, n, params)
	deliveryDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())

	delivery := model.Delivery{
		ID:             uuid.New().String(),
		NotificationID: n.ID,
		Path:           n.Path,
		Backend:        name,
		State:          n.State,
		Message:        n.Message,
		Delivered:      err == nil,
		SentAt:         time.Now().UTC(),
	}

	if err != nil {
		delivery.Error = err.Error()
		logger.Error("Alert delivery failed", zap.Error(err))
		deliveriesTotal.WithLabelValues(name, "failed").Inc()
	} else {
		deliveriesTotal.WithLabelValues(name, "delivered").Inc()
	}

	if d.history != nil {
		if herr := d.history.StoreDelivery(ctx, &delivery); herr != nil {
			logger.Warn("Failed to record delivery", zap.Error(herr))
		}
	}

	return delivery
}

// Status reports the registered backends and whether this agent may alert
func (d *Dispatcher) Status(ctx context.Context) model.DispatcherStatus {
	held := d.lock.Held(ctx)
	setAlerting(held)
	return model.DispatcherStatus{
		Alerters: d.backends.Names(),
		Alerting: held,
	}
}

// Record returns a copy of the record kept for path
func (d *Dispatcher) Record(path string) (model.PathRecord, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	rec, ok := d.records[path]
	if !ok {
		return model.PathRecord{}, false
	}
	return *rec, true
}

// Records returns copies of all records, sorted by path
func (d *Dispatcher) Records() []model.PathRecord {
	d.mu.Lock()
	records := make([]model.PathRecord, 0, len(d.records))
	for _, rec := range d.records {
		records = append(records, *rec)
	}
	d.mu.Unlock()

	sort.Slice(records, func(i, j int) bool { return records[i].Path < records[j].Path })
	return records
}

// Wait blocks until all deferred work started so far has finished
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Close stops accepting work and abandons pending debounce waits. In-flight
// sends see a cancelled context.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.cancel()
	d.mu.Unlock()

	d.wg.Wait()
	d.logger.Info("Dispatcher stopped")
}

func setAlerting(held bool) {
	if held {
		alertingGauge.Set(1)
		return
	}
	alertingGauge.Set(0)
}
