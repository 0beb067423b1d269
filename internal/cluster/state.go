// Package cluster coordinates cooperating monitor agents through a JetStream
// key-value bucket. Every agent registers itself under <namespace>/agents and
// competes for named locks under <namespace>/locks. Keys in the bucket expire
// after a TTL unless their owner keeps rewriting them, so a crashed agent drops
// out of the cluster on its own.
package cluster

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/shirou/gopsutil/v3/host"
	"go.uber.org/zap"

	"github.com/t77yq/registry-monitor/internal/registry"
)

const (
	defaultTTL      = 15 * time.Second
	minRefresh      = 100 * time.Millisecond
	defaultLockWait = 5 * time.Second
	agentsSegment   = "agents"
	locksSegment    = "locks"
)

var invalidKeyChars = regexp.MustCompile(`[^-_=A-Za-z0-9]`)

// Config configures the cluster state engine
type Config struct {
	// Bucket is the KV bucket shared by all agents of every cluster.
	Bucket string

	// Path is the cluster namespace, e.g. /zk_monitor/prod.
	Path string

	// TTL is how long a registration or lock survives without a refresh.
	TTL time.Duration

	// Name overrides the agent identity derived from host and process id.
	Name string
}

// AgentInfo is the payload an agent stores under its registration node
type AgentInfo struct {
	Name          string    `json:"name"`
	Hostname      string    `json:"hostname"`
	PID           int       `json:"pid"`
	OS            string    `json:"os,omitempty"`
	Platform      string    `json:"platform,omitempty"`
	KernelVersion string    `json:"kernel_version,omitempty"`
	StartedAt     time.Time `json:"started_at"`
}

// State is the cluster state engine of a single agent
type State struct {
	logger   *zap.Logger
	nc       *nats.Conn
	kv       nats.KeyValue
	path     string
	name     string
	ttl      time.Duration
	info     AgentInfo
	agentKey string

	mu    sync.Mutex
	locks []*Lock

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewState opens the cluster bucket and registers this agent. A failed
// registration is logged and the agent keeps running without cluster presence.
func NewState(nc *nats.Conn, js nats.JetStreamContext, cfg Config, logger *zap.Logger) (*State, error) {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}

	kv, err := registry.OpenBucket(js, cfg.Bucket, ttl)
	if err != nil {
		return nil, err
	}

	info := describeAgent()
	name := sanitize(cfg.Name)
	if name == "" {
		name = info.Name
	}
	info.Name = name

	agentKey, err := registry.KeyFor(registry.Join(cfg.Path, agentsSegment, name))
	if err != nil {
		return nil, fmt.Errorf("invalid cluster path: %w", err)
	}

	s := &State{
		logger:   logger.Named("cluster"),
		nc:       nc,
		kv:       kv,
		path:     cfg.Path,
		name:     name,
		ttl:      ttl,
		info:     info,
		agentKey: agentKey,
		stop:     make(chan struct{}),
	}

	s.logger.Info("Initializing cluster state engine",
		zap.String("path", cfg.Path),
		zap.String("agent", name))

	if err := s.register(); err != nil {
		s.logger.Error("Agent registration failed, running without cluster presence",
			zap.Error(err))
	}

	s.wg.Add(1)
	go s.heartbeat()

	return s, nil
}

// Name returns the agent identity
func (s *State) Name() string {
	return s.name
}

// Path returns the cluster namespace
func (s *State) Path() string {
	return s.path
}

// Connected reports whether the coordination store connection is up
func (s *State) Connected() bool {
	return s.nc != nil && s.nc.IsConnected()
}

// Agents lists the identities of the agents currently registered
func (s *State) Agents() ([]string, error) {
	prefix := s.agentKey[:len(s.agentKey)-len(s.name)]
	keys, err := s.kv.Keys()
	if err != nil {
		if errors.Is(err, nats.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}

	var agents []string
	for _, key := range keys {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			agents = append(agents, key[len(prefix):])
		}
	}
	return agents, nil
}

// AcquireLock makes one non-blocking attempt to take the named lock and keeps
// competing for it in the background. Ownership may arrive later, once the
// current holder goes away, without any further call.
func (s *State) AcquireLock(name string) (*Lock, error) {
	key, err := registry.KeyFor(registry.Join(s.path, locksSegment, sanitize(name)))
	if err != nil {
		return nil, err
	}

	l := newLock(s.kv, key, s.name, s.refreshInterval(), s.Connected, s.logger)
	l.tryAcquire()
	l.start()

	s.mu.Lock()
	s.locks = append(s.locks, l)
	s.mu.Unlock()

	return l, nil
}

// Close releases held locks and deregisters the agent
func (s *State) Close() {
	s.stopOnce.Do(func() {
		close(s.stop)
		s.wg.Wait()

		s.mu.Lock()
		locks := s.locks
		s.mu.Unlock()
		for _, l := range locks {
			l.Close()
		}

		if err := s.kv.Delete(s.agentKey); err != nil {
			s.logger.Warn("Failed to deregister agent", zap.Error(err))
		}
	})
}

func (s *State) register() error {
	data, err := json.Marshal(s.info)
	if err != nil {
		return fmt.Errorf("failed to marshal agent info: %w", err)
	}
	if _, err := s.kv.Put(s.agentKey, data); err != nil {
		return fmt.Errorf("failed to register agent: %w", err)
	}
	return nil
}

// heartbeat rewrites the registration before the bucket TTL drops it
func (s *State) heartbeat() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.refreshInterval())
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			if err := s.register(); err != nil {
				s.logger.Warn("Agent heartbeat failed", zap.Error(err))
			}
		}
	}
}

func (s *State) refreshInterval() time.Duration {
	interval := s.ttl / 3
	if interval < minRefresh {
		interval = minRefresh
	}
	return interval
}

// Identity returns <hostname>-<pid>, restricted to characters valid in a key
func Identity() string {
	return describeAgent().Name
}

func describeAgent() AgentInfo {
	info := AgentInfo{
		PID:       os.Getpid(),
		StartedAt: time.Now().UTC(),
	}

	if hi, err := host.Info(); err == nil {
		info.Hostname = hi.Hostname
		info.OS = hi.OS
		info.Platform = hi.Platform
		info.KernelVersion = hi.KernelVersion
	}
	if info.Hostname == "" {
		info.Hostname, _ = os.Hostname()
	}
	if info.Hostname == "" {
		info.Hostname = "unknown"
	}

	info.Name = sanitize(fmt.Sprintf("%s-%d", info.Hostname, info.PID))
	return info
}

func sanitize(s string) string {
	return invalidKeyChars.ReplaceAllString(s, "_")
}
