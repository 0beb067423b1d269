// Package monitor keeps watched registry paths under compliance evaluation
// and reports every meaningful change to the alert dispatcher.
package monitor

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/registry-monitor/internal/model"
)

const (
	evaluationTimeout = 10 * time.Second

	reasonNoInformation = "No information is available about this path."
	reasonAllChecksPass = "All checks pass."
)

// Updater receives compliance changes, normally the alert dispatcher
type Updater interface {
	Update(path string, state model.State, reason string) <-chan struct{}
}

// PathRegistry is the part of the service registry the monitor reads
type PathRegistry interface {
	Connected() bool
	Children(ctx context.Context, path string) ([]string, error)
	Watch(ctx context.Context, path string, fn func(path string)) error
}

// Monitor evaluates configured paths and forwards state changes
type Monitor struct {
	logger     *zap.Logger
	dispatcher Updater
	registry   PathRegistry
	paths      map[string]model.PathConfig

	// mu serialises evaluations so updates for a path reach the dispatcher in order.
	mu     sync.Mutex
	states map[string]model.State

	cancel context.CancelFunc
}

// New creates a monitor over paths
func New(dispatcher Updater, registry PathRegistry, paths map[string]model.PathConfig, logger *zap.Logger) *Monitor {
	if paths == nil {
		paths = make(map[string]model.PathConfig)
	}
	return &Monitor{
		logger:     logger.Named("monitor"),
		dispatcher: dispatcher,
		registry:   registry,
		paths:      paths,
		states:     make(map[string]model.State),
		cancel:     func() {},
	}
}

// Start registers a watch on every configured path. Each watch fires once
// straight away, which performs the initial evaluation.
func (m *Monitor) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	for _, path := range m.Paths() {
		m.logger.Debug("Watching path", zap.String("path", path))
		if err := m.registry.Watch(ctx, path, func(p string) { m.Handle(p) }); err != nil {
			cancel()
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
	}

	m.logger.Info("Monitor started", zap.Int("paths", len(m.paths)))
	return nil
}

// Stop cancels all watches
func (m *Monitor) Stop() {
	m.cancel()
}

// Paths returns the configured paths, sorted
func (m *Monitor) Paths() []string {
	paths := make([]string, 0, len(m.paths))
	for path := range m.paths {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

// Handle re-evaluates path after a change. It returns the dispatcher's
// completion channel, or nil when the transition is silent.
func (m *Monitor) Handle(path string) <-chan struct{} {
	return m.evaluate(path, false)
}

func (m *Monitor) evaluate(path string, changesOnly bool) <-chan struct{} {
	if _, ok := m.paths[path]; !ok {
		m.logger.Warn("Update for unconfigured path", zap.String("path", path))
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), evaluationTimeout)
	defer cancel()

	m.mu.Lock()
	defer m.mu.Unlock()

	state, reason := m.Compliance(ctx, path)
	old := m.state(path)
	m.states[path] = state
	recordState(path, state)

	m.logger.Debug("Path evaluated",
		zap.String("path", path),
		zap.String("from", string(old)),
		zap.String("to", string(state)))

	if silent(old, state) || (changesOnly && old == state) {
		return nil
	}
	return m.dispatcher.Update(path, state, reason)
}

// Resync re-evaluates every path and forwards only states that changed.
// Watches can miss changes made while the store connection was down; a
// periodic resync catches them.
func (m *Monitor) Resync() {
	if !m.registry.Connected() {
		m.logger.Warn("Service registry disconnected, skipping resync")
		return
	}
	for _, path := range m.Paths() {
		m.evaluate(path, true)
	}
}

// Compliance reports whether path is currently within its configured limits
func (m *Monitor) Compliance(ctx context.Context, path string) (model.State, string) {
	cfg := m.paths[path]
	if cfg.Children == nil {
		return model.StateUnknown, reasonNoInformation
	}

	children, err := m.registry.Children(ctx, path)
	if err != nil {
		m.logger.Error("Failed to read children", zap.String("path", path), zap.Error(err))
		return model.StateUnknown, fmt.Sprintf("failed to read children: %v", err)
	}

	minimum := *cfg.Children
	count := len(children)
	if count < minimum {
		return model.StateError, fmt.Sprintf("%d children is less than minimum %d", count, minimum)
	}
	return model.StateOK, reasonAllChecksPass
}

// State returns the last evaluated state of path
func (m *Monitor) State(path string) model.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state(path)
}

func (m *Monitor) state(path string) model.State {
	if s, ok := m.states[path]; ok {
		return s
	}
	return model.StateUnknown
}

// Status evaluates every path live for the status page
func (m *Monitor) Status(ctx context.Context) map[string]model.ComplianceStatus {
	status := make(map[string]model.ComplianceStatus, len(m.paths))
	for _, path := range m.Paths() {
		state, reason := m.Compliance(ctx, path)
		status[path] = model.ComplianceStatus{State: state, Message: reason}
	}
	return status
}

// silent reports transitions that are not worth telling the dispatcher about
func silent(from, to model.State) bool {
	return to == model.StateOK && (from == model.StateUnknown || from == model.StateOK)
}
