package netcall

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/five82/hackops/internal/metrics"
)

// ErrOffline is returned when a call is refused because the API is unreachable.
var ErrOffline = errors.New("offline")

// Notifier surfaces non-blocking notices to the user.
type Notifier interface {
	Notify(msg string)
}

// Reachability reports whether the API is reachable and learns from call results.
type Reachability interface {
	Online() bool
	ReportFailure(err error)
	ReportSuccess()
}

// Options configure a Caller.
type Options struct {
	Reachability Reachability // nil means always online
	Notifier     Notifier     // nil drops notices
	Log          *logrus.Entry
	Metrics      *metrics.Recorder
}

// Caller applies the connectivity, error and loading policy to remote calls.
type Caller struct {
	reach   Reachability
	notify  Notifier
	log     *logrus.Entry
	metrics *metrics.Recorder

	inflight atomic.Int64

	mu        sync.RWMutex
	lastErr   string
	lastErrAt time.Time
}

// New builds a Caller.
func New(opts Options) *Caller {
	log := opts.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Caller{
		reach:   opts.Reachability,
		notify:  opts.Notifier,
		log:     log.WithField("component", "netcall"),
		metrics: opts.Metrics,
	}
}

// Loading reports whether any foreground call is in flight.
func (c *Caller) Loading() bool {
	return c.inflight.Load() > 0
}

// InFlight returns the number of foreground calls in flight.
func (c *Caller) InFlight() int64 {
	return c.inflight.Load()
}

// LastError returns the most recent call error and when it happened; empty
// after a successful call.
func (c *Caller) LastError() (string, time.Time) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr, c.lastErrAt
}

// Online reports the reachability the caller is working with.
func (c *Caller) Online() bool {
	return c.reach == nil || c.reach.Online()
}

// Call runs op under the call policy. See Do.
func (c *Caller) Call(ctx context.Context, label string, background bool, op func(context.Context) error) error {
	_, err := Do(ctx, c, label, background, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// Do runs op unless the API is offline.
//
// Offline: op is not attempted and ErrOffline is returned; foreground calls
// also post a notice. Online: foreground calls hold the loading counter for
// the duration of op. A failure is recorded as the process-wide error and
// returned; a success clears it.
func Do[T any](ctx context.Context, c *Caller, label string, background bool, op func(context.Context) (T, error)) (T, error) {
	var zero T
	if !c.Online() {
		c.metrics.Call(label, "offline")
		if !background && c.notify != nil {
			c.notify.Notify(fmt.Sprintf("You are offline; %s was not sent.", label))
		}
		return zero, fmt.Errorf("%s: %w", label, ErrOffline)
	}

	if !background {
		c.metrics.Inflight(c.inflight.Add(1))
		defer func() { c.metrics.Inflight(c.inflight.Add(-1)) }()
	}

	result, err := op(ctx)
	if err != nil {
		c.recordError(label, err)
		c.metrics.Call(label, "error")
		if c.reach != nil && isTransport(err) && ctx.Err() == nil {
			c.reach.ReportFailure(err)
		}
		entry := c.log.WithError(err).WithField("label", label)
		if background {
			entry.Debug("background call failed")
		} else {
			entry.Warn("call failed")
		}
		return zero, fmt.Errorf("%s: %w", label, err)
	}

	c.clearError()
	c.metrics.Call(label, "ok")
	if c.reach != nil {
		c.reach.ReportSuccess()
	}
	return result, nil
}

func (c *Caller) recordError(label string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastErr = fmt.Sprintf("%s: %v", label, err)
	c.lastErrAt = time.Now()
}

func (c *Caller) clearError() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastErr = ""
}

// isTransport reports failures where no HTTP response was received.
func isTransport(err error) bool {
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}
