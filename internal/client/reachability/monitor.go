// Package reachability tracks whether the device has connectivity and
// whether the backend actually answers.
//
// The OS connectivity signal alone is not trusted: a captive portal or a
// dead upstream still reports "online". Only a successful probe within the
// timeout moves the monitor to OnlineReachable, and only OnlineReachable
// allows remote calls.
package reachability

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/dmitrijs2005/balancesync/internal/client/events"
	"github.com/dmitrijs2005/balancesync/internal/client/metrics"
	"github.com/dmitrijs2005/balancesync/internal/logging"
)

type Status int

const (
	Unknown Status = iota
	OnlineReachable
	OnlineUnreachable
	Offline
)

func (s Status) String() string {
	switch s {
	case OnlineReachable:
		return "online"
	case OnlineUnreachable:
		return "unreachable"
	case Offline:
		return "offline"
	default:
		return "unknown"
	}
}

// State is a snapshot of the monitor. IsReachable implies IsOnline.
type State struct {
	Status      Status
	IsOnline    bool
	IsReachable bool
	LastChecked time.Time
}

// Prober performs the lightweight reachability request.
type Prober interface {
	Probe(ctx context.Context) error
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context) error

func (f ProberFunc) Probe(ctx context.Context) error { return f(ctx) }

const (
	DefaultTimeout  = 3 * time.Second
	DefaultInterval = 30 * time.Second
)

type Monitor struct {
	prober   Prober
	timeout  time.Duration
	interval time.Duration
	logger   logging.Logger
	now      func() time.Time

	mu    sync.RWMutex
	state State
	// gen is bumped on every OS connectivity change so that a probe started
	// before the change cannot overwrite the newer state.
	gen uint64

	probes singleflight.Group
	bus    *events.Bus[State]
}

type Option func(*Monitor)

func WithTimeout(d time.Duration) Option  { return func(m *Monitor) { m.timeout = d } }
func WithInterval(d time.Duration) Option { return func(m *Monitor) { m.interval = d } }
func WithLogger(l logging.Logger) Option  { return func(m *Monitor) { m.logger = l } }
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// NewMonitor returns a monitor in the Unknown state, assuming the OS is
// online until told otherwise.
func NewMonitor(p Prober, opts ...Option) *Monitor {
	m := &Monitor{
		prober:   p,
		timeout:  DefaultTimeout,
		interval: DefaultInterval,
		logger:   logging.Discard(),
		now:      time.Now,
		state:    State{Status: Unknown, IsOnline: true},
		bus:      events.NewBus[State](),
	}
	for _, o := range opts {
		o(m)
	}
	m.logger = m.logger.With("component", "reachability")
	return m
}

// Current returns the state synchronously.
func (m *Monitor) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Reachable reports whether remote calls are currently allowed.
func (m *Monitor) Reachable() bool {
	return m.Current().Status == OnlineReachable
}

// Subscribe registers fn for status transitions.
func (m *Monitor) Subscribe(fn func(State)) (unsubscribe func()) {
	return m.bus.Subscribe(fn)
}

// set stores next if gen still matches and publishes on a status change.
func (m *Monitor) set(gen uint64, next State) bool {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return false
	}
	prev := m.state
	m.state = next
	m.mu.Unlock()

	if next.Status == OnlineReachable {
		metrics.Reachability.Set(1)
	} else {
		metrics.Reachability.Set(0)
	}
	if prev.Status != next.Status {
		m.logger.Info(context.Background(), "reachability changed", "from", prev.Status, "to", next.Status)
		m.bus.Publish(next)
	}
	return true
}

// SetConnectivity feeds the OS connectivity signal. Losing connectivity
// moves to Offline before returning. Regaining it moves to Unknown and
// probes.
func (m *Monitor) SetConnectivity(ctx context.Context, online bool) State {
	m.mu.Lock()
	m.gen++
	gen := m.gen
	wasOnline := m.state.IsOnline
	checked := m.state.LastChecked
	m.mu.Unlock()

	if !online {
		m.set(gen, State{Status: Offline, LastChecked: checked})
		return m.Current()
	}
	if !wasOnline {
		m.set(gen, State{Status: Unknown, IsOnline: true, LastChecked: checked})
	}
	return m.Check(ctx)
}

// Check probes the backend now, bounded by the probe timeout. While Offline
// it returns the current state without probing. Concurrent callers share
// one probe.
func (m *Monitor) Check(ctx context.Context) State {
	m.mu.RLock()
	gen := m.gen
	offline := !m.state.IsOnline
	m.mu.RUnlock()
	if offline {
		return m.Current()
	}

	_, _, _ = m.probes.Do(fmt.Sprint(gen), func() (any, error) {
		pctx, cancel := context.WithTimeout(ctx, m.timeout)
		defer cancel()

		err := m.prober.Probe(pctx)
		next := State{Status: OnlineReachable, IsOnline: true, IsReachable: true, LastChecked: m.now()}
		if err != nil {
			m.logger.Debug(ctx, "probe failed", "error", err)
			next = State{Status: OnlineUnreachable, IsOnline: true, LastChecked: m.now()}
		}
		m.set(gen, next)
		return nil, nil
	})
	return m.Current()
}

// Run probes once and then every interval until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	m.Check(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Check(ctx)
		case <-ctx.Done():
			return
		}
	}
}
