package netcall

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/five82/hackops/internal/metrics"
)

const (
	defaultProbeInterval = 5 * time.Second
	maxBackoff           = 30 * time.Second
	offlineAfter         = 2
)

// ProbeFunc checks whether the API answers.
type ProbeFunc func(ctx context.Context) error

// MonitorOptions configure a Monitor.
type MonitorOptions struct {
	Probe    ProbeFunc
	Interval time.Duration
	Log      *logrus.Entry
	Metrics  *metrics.Recorder
}

// Monitor tracks API reachability. It starts online, goes offline after
// repeated failures (or when forced), and tells listeners about transitions.
type Monitor struct {
	probe    ProbeFunc
	interval time.Duration
	log      *logrus.Entry
	metrics  *metrics.Recorder

	mu        sync.Mutex
	online    bool
	forced    bool
	failures  int
	nextID    int
	listeners map[int]func(online bool)
	seq       uint64 // bumped on every transition

	deliverMu sync.Mutex
	delivered uint64
}

var _ Reachability = (*Monitor)(nil)

// NewMonitor builds a Monitor. Probe may be nil when only call results and
// SetOnline drive the state.
func NewMonitor(opts MonitorOptions) *Monitor {
	log := opts.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = defaultProbeInterval
	}
	m := &Monitor{
		probe:     opts.Probe,
		interval:  interval,
		log:       log.WithField("component", "monitor"),
		metrics:   opts.Metrics,
		online:    true,
		listeners: make(map[int]func(bool)),
	}
	m.metrics.Online(true)
	return m
}

// Online implements Reachability.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online && !m.forced
}

// Failures returns the number of consecutive failures seen.
func (m *Monitor) Failures() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failures
}

// Forced reports whether the operator pinned the client offline.
func (m *Monitor) Forced() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.forced
}

// OnChange registers fn for online/offline transitions and returns a function
// that removes it. fn runs on the goroutine that observed the transition,
// one delivery at a time and in transition order; it must not block or call
// back into the Monitor.
func (m *Monitor) OnChange(fn func(online bool)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.listeners, id)
	}
}

// ReportFailure implements Reachability.
func (m *Monitor) ReportFailure(err error) {
	before, after, seq := m.update(func() {
		m.failures++
		if m.failures >= offlineAfter {
			m.online = false
		}
	})
	if before != after {
		m.log.WithError(err).Warn("api unreachable, switching to offline")
	}
	m.deliver(before, after, seq)
}

// ReportSuccess implements Reachability.
func (m *Monitor) ReportSuccess() {
	before, after, seq := m.update(func() {
		m.failures = 0
		m.online = true
	})
	if before != after {
		m.log.Info("api reachable again")
	}
	m.deliver(before, after, seq)
}

// SetOnline overrides the detected state, as a platform connectivity event would.
func (m *Monitor) SetOnline(online bool) {
	m.deliver(m.update(func() {
		m.online = online
		if online {
			m.failures = 0
		}
	}))
}

// SetForced pins the client offline until released.
func (m *Monitor) SetForced(forced bool) {
	m.deliver(m.update(func() { m.forced = forced }))
}

// Run probes until ctx is cancelled, backing off while the API is down.
func (m *Monitor) Run(ctx context.Context) {
	if m.probe == nil {
		<-ctx.Done()
		return
	}
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		m.ProbeOnce(ctx)
		timer.Reset(calculateBackoff(m.Failures(), m.interval))
	}
}

// ProbeOnce runs a single probe and records its result.
func (m *Monitor) ProbeOnce(ctx context.Context) {
	if m.probe == nil {
		return
	}
	probeCtx, cancel := context.WithTimeout(ctx, m.interval)
	defer cancel()
	if err := m.probe(probeCtx); err != nil {
		if ctx.Err() != nil {
			return
		}
		m.ReportFailure(err)
		return
	}
	m.ReportSuccess()
}

// update applies change under mu and numbers the transition, if any.
func (m *Monitor) update(change func()) (before, after bool, seq uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	before = m.online && !m.forced
	change()
	after = m.online && !m.forced
	if before != after {
		m.seq++
	}
	return before, after, m.seq
}

// deliver hands transition seq to the listeners. A transition older than one
// already delivered is dropped, so listeners always end on the latest state.
func (m *Monitor) deliver(before, after bool, seq uint64) {
	if before == after {
		return
	}
	m.deliverMu.Lock()
	defer m.deliverMu.Unlock()
	if seq <= m.delivered {
		return
	}
	m.delivered = seq
	m.metrics.Online(after)

	m.mu.Lock()
	fns := make([]func(bool), 0, len(m.listeners))
	for _, fn := range m.listeners {
		fns = append(fns, fn)
	}
	m.mu.Unlock()
	for _, fn := range fns {
		fn(after)
	}
}

// calculateBackoff doubles the interval per consecutive failure, capped at maxBackoff.
func calculateBackoff(failures int, base time.Duration) time.Duration {
	if failures <= 0 {
		return base
	}
	d := base
	for i := 0; i < failures; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	return d
}
