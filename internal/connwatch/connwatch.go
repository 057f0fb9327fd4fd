// Package connwatch tracks whether the assistant's network dependencies
// are reachable.
//
// CheckOnce is the startup gate: without connectivity the assistant
// exits before it starts listening. A Watcher keeps probing a single
// service afterwards (the internet, Home Assistant, the MCP server),
// first with exponential backoff and then on a fixed poll interval, and
// reports transitions through callbacks.
package connwatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// ProbeFunc checks whether a service is reachable. nil means healthy.
type ProbeFunc func(ctx context.Context) error

// DialProbe returns a probe that opens and closes a TCP connection to
// addr ("host:port"). The default target is a public DNS resolver.
func DialProbe(addr string) ProbeFunc {
	return func(ctx context.Context) error {
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return fmt.Errorf("dial %s: %w", addr, err)
		}
		return conn.Close()
	}
}

// CheckOnce runs probe with timeout. It is the one-shot connectivity
// check done before the session starts.
func CheckOnce(ctx context.Context, probe ProbeFunc, timeout time.Duration) error {
	if probe == nil {
		return errors.New("connwatch: nil probe")
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return probe(ctx)
}

// BackoffConfig controls probe timing.
type BackoffConfig struct {
	// InitialDelay is the delay before the first retry (default 2s).
	InitialDelay time.Duration
	// MaxDelay caps the backoff (default 60s).
	MaxDelay time.Duration
	// Multiplier scales the delay after each retry (default 2).
	Multiplier float64
	// MaxRetries bounds the startup attempts (default 10).
	MaxRetries int
	// PollInterval is the steady-state check interval (default 60s).
	PollInterval time.Duration
	// ProbeTimeout limits each probe (default 10s).
	ProbeTimeout time.Duration
}

// DefaultBackoffConfig returns 2s, 4s, 8s ... capped at 60s, with ten
// startup attempts and one-minute polling.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		InitialDelay: 2 * time.Second,
		MaxDelay:     60 * time.Second,
		Multiplier:   2.0,
		MaxRetries:   10,
		PollInterval: 60 * time.Second,
		ProbeTimeout: 10 * time.Second,
	}
}

func (b BackoffConfig) withDefaults() BackoffConfig {
	d := DefaultBackoffConfig()
	if b.InitialDelay <= 0 {
		b.InitialDelay = d.InitialDelay
	}
	if b.MaxDelay <= 0 {
		b.MaxDelay = d.MaxDelay
	}
	if b.Multiplier <= 0 {
		b.Multiplier = d.Multiplier
	}
	if b.MaxRetries <= 0 {
		b.MaxRetries = d.MaxRetries
	}
	if b.PollInterval <= 0 {
		b.PollInterval = d.PollInterval
	}
	if b.ProbeTimeout <= 0 {
		b.ProbeTimeout = d.ProbeTimeout
	}
	return b
}

// WatcherConfig configures one watcher.
type WatcherConfig struct {
	// Name identifies the service in logs and status ("network",
	// "homeassistant", "mcp").
	Name    string
	Probe   ProbeFunc
	Backoff BackoffConfig
	// OnReady and OnDown run in their own goroutine on transitions.
	OnReady func()
	OnDown  func(err error)
	Logger  *slog.Logger
}

// ServiceStatus is a snapshot of one watcher.
type ServiceStatus struct {
	Name      string    `json:"name"`
	Ready     bool      `json:"ready"`
	LastCheck time.Time `json:"last_check"`
	LastError string    `json:"last_error,omitempty"`
}

// Watcher monitors one service.
type Watcher struct {
	config WatcherConfig
	ready  atomic.Bool
	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	lastErr   error
	lastCheck time.Time
}

// IsReady reports whether the last probe succeeded.
func (w *Watcher) IsReady() bool {
	return w.ready.Load()
}

// LastError returns the most recent probe error.
func (w *Watcher) LastError() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastErr
}

// Status returns a snapshot.
func (w *Watcher) Status() ServiceStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	s := ServiceStatus{Name: w.config.Name, Ready: w.ready.Load(), LastCheck: w.lastCheck}
	if w.lastErr != nil {
		s.LastError = w.lastErr.Error()
	}
	return s
}

// Recheck probes immediately and updates readiness. The session loop
// uses it after a recognition service failure to tell a dead network
// from a flaky service.
func (w *Watcher) Recheck(ctx context.Context) error {
	err := w.probe(ctx)
	w.record(err)
	w.transition(err)
	return err
}

// Stop cancels the watcher and waits for it to exit.
func (w *Watcher) Stop() {
	w.cancel()
	<-w.done
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)
	cfg := w.config.Backoff
	logger := w.config.Logger

	delay := cfg.InitialDelay
	for attempt := 1; attempt <= cfg.MaxRetries; attempt++ {
		err := w.probe(ctx)
		w.record(err)
		if err == nil {
			logger.Info("service connected", "service", w.config.Name, "after_attempts", attempt)
			w.transition(nil)
			break
		}
		if attempt == cfg.MaxRetries {
			logger.Info("startup connection failed, polling in background",
				"service", w.config.Name, "attempts", attempt, "error", err)
			break
		}
		logger.Debug("startup probe failed, retrying",
			"service", w.config.Name, "attempt", attempt, "next_delay", delay.String(), "error", err)
		if !sleepCtx(ctx, delay) {
			return
		}
		delay = min(time.Duration(float64(delay)*cfg.Multiplier), cfg.MaxDelay)
	}

	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := w.probe(ctx)
			w.record(err)
			w.transition(err)
		}
	}
}

// transition updates readiness from a probe result and fires the
// matching callback when the state changed.
func (w *Watcher) transition(err error) {
	logger := w.config.Logger
	switch wasReady := w.ready.Load(); {
	case wasReady && err != nil:
		w.ready.Store(false)
		logger.Warn("service became unreachable", "service", w.config.Name, "error", err)
		if w.config.OnDown != nil {
			go w.config.OnDown(err)
		}
	case !wasReady && err == nil:
		w.ready.Store(true)
		logger.Info("service ready", "service", w.config.Name)
		if w.config.OnReady != nil {
			go w.config.OnReady()
		}
	case err != nil:
		logger.Debug("service still unreachable", "service", w.config.Name, "error", err)
	}
}

func (w *Watcher) probe(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, w.config.Backoff.ProbeTimeout)
	defer cancel()
	return w.config.Probe(probeCtx)
}

func (w *Watcher) record(err error) {
	w.mu.Lock()
	w.lastErr = err
	w.lastCheck = time.Now()
	w.mu.Unlock()
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// Manager owns a set of watchers.
type Manager struct {
	mu       sync.RWMutex
	watchers map[string]*Watcher
	logger   *slog.Logger
}

// NewManager creates an empty manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{watchers: make(map[string]*Watcher), logger: logger}
}

// Watch starts a watcher in the background. An empty Name or a nil
// Probe is a programming error and panics. Zero backoff fields get
// defaults.
func (m *Manager) Watch(ctx context.Context, cfg WatcherConfig) *Watcher {
	if cfg.Name == "" {
		panic("connwatch: WatcherConfig.Name must not be empty")
	}
	if cfg.Probe == nil {
		panic("connwatch: WatcherConfig.Probe must not be nil")
	}
	if cfg.Logger == nil {
		cfg.Logger = m.logger
	}
	cfg.Backoff = cfg.Backoff.withDefaults()

	watchCtx, cancel := context.WithCancel(ctx)
	w := &Watcher{config: cfg, cancel: cancel, done: make(chan struct{})}
	go w.run(watchCtx)

	m.mu.Lock()
	m.watchers[cfg.Name] = w
	m.mu.Unlock()
	return w
}

// Get returns the watcher registered under name.
func (m *Manager) Get(name string) (*Watcher, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.watchers[name]
	return w, ok
}

// Status returns every watcher's snapshot.
func (m *Manager) Status() map[string]ServiceStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	status := make(map[string]ServiceStatus, len(m.watchers))
	for name, w := range m.watchers {
		status[name] = w.Status()
	}
	return status
}

// Stop shuts every watcher down and waits for them.
func (m *Manager) Stop() {
	m.mu.RLock()
	watchers := make([]*Watcher, 0, len(m.watchers))
	for _, w := range m.watchers {
		watchers = append(watchers, w)
	}
	m.mu.RUnlock()
	for _, w := range watchers {
		w.Stop()
	}
}
