// Package probe tracks reachability of kubechat's upstream dependencies:
// the model provider and the cluster API server.
//
// This is distinct from httpkit's transport-level retry, which covers
// sub-second dial races. probe covers real outages — provider restarts,
// cluster upgrades, network partitions — by polling each dependency in
// the background and recording state transitions for the health endpoint.
package probe

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Func checks whether a dependency is reachable. Return nil if healthy.
type Func func(ctx context.Context) error

// Status is the health of one tracked dependency, shaped for the
// health endpoint's JSON response.
type Status struct {
	Name      string    `json:"name"`
	Ready     bool      `json:"ready"`
	CheckedAt time.Time `json:"checked_at"`
	Error     string    `json:"error,omitempty"`
}

// Monitor polls a set of dependencies in background goroutines.
// While a dependency is down, checks back off exponentially from
// baseDelay up to maxDelay; once it recovers, checks settle into
// the steady pollInterval.
type Monitor struct {
	logger *slog.Logger

	// Overridable for tests; production uses the NewMonitor defaults.
	pollInterval time.Duration
	baseDelay    time.Duration
	maxDelay     time.Duration
	probeTimeout time.Duration

	mu   sync.Mutex
	deps map[string]*dependency
	wg   sync.WaitGroup
	stop context.CancelFunc
}

type dependency struct {
	name  string
	check Func

	mu        sync.Mutex
	ready     bool
	checkedAt time.Time
	lastErr   error
}

// NewMonitor creates a monitor with production polling defaults.
func NewMonitor(logger *slog.Logger) *Monitor {
	return &Monitor{
		logger:       logger,
		pollInterval: time.Minute,
		baseDelay:    2 * time.Second,
		maxDelay:     time.Minute,
		probeTimeout: 10 * time.Second,
		deps:         make(map[string]*dependency),
	}
}

// Track registers a dependency and starts polling it. The first check
// runs immediately so the health endpoint has a result soon after
// startup. Polling stops when ctx is cancelled or Stop is called.
func (m *Monitor) Track(ctx context.Context, name string, check Func) {
	d := &dependency{name: name, check: check}

	m.mu.Lock()
	if m.stop == nil {
		ctx, m.stop = context.WithCancel(ctx)
	}
	m.deps[name] = d
	m.wg.Add(1)
	m.mu.Unlock()

	go m.watch(ctx, d)
}

// Ready reports whether the named dependency passed its last check.
// Unknown names report false.
func (m *Monitor) Ready(name string) bool {
	m.mu.Lock()
	d := m.deps[name]
	m.mu.Unlock()
	if d == nil {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ready
}

// Status returns the current health of every tracked dependency.
func (m *Monitor) Status() map[string]Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]Status, len(m.deps))
	for name, d := range m.deps {
		d.mu.Lock()
		s := Status{Name: d.name, Ready: d.ready, CheckedAt: d.checkedAt}
		if d.lastErr != nil {
			s.Error = d.lastErr.Error()
		}
		d.mu.Unlock()
		out[name] = s
	}
	return out
}

// Stop cancels all polling goroutines and waits for them to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	stop := m.stop
	m.mu.Unlock()
	if stop != nil {
		stop()
	}
	m.wg.Wait()
}

// watch is the per-dependency polling loop. A failing dependency is
// rechecked on an exponential backoff schedule; a healthy one on the
// steady poll interval. Only transitions are logged at Info.
func (m *Monitor) watch(ctx context.Context, d *dependency) {
	defer m.wg.Done()

	delay := m.baseDelay
	for {
		err := m.runCheck(ctx, d)
		if ctx.Err() != nil {
			return
		}

		wait := m.pollInterval
		if err != nil {
			wait = delay
			delay *= 2
			if delay > m.maxDelay {
				delay = m.maxDelay
			}
		} else {
			delay = m.baseDelay
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// runCheck executes one probe with a timeout and records the outcome.
func (m *Monitor) runCheck(ctx context.Context, d *dependency) error {
	checkCtx, cancel := context.WithTimeout(ctx, m.probeTimeout)
	err := d.check(checkCtx)
	cancel()

	d.mu.Lock()
	wasReady, firstCheck := d.ready, d.checkedAt.IsZero()
	d.ready = err == nil
	d.checkedAt = time.Now()
	d.lastErr = err
	d.mu.Unlock()

	switch {
	case err == nil && (firstCheck || !wasReady):
		m.logger.Info("dependency reachable", "dependency", d.name)
	case err != nil && (firstCheck || wasReady):
		m.logger.Warn("dependency unreachable", "dependency", d.name, "error", err)
	case err != nil:
		m.logger.Debug("dependency still unreachable", "dependency", d.name, "error", err)
	}
	return err
}
