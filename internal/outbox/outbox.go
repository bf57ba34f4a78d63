// Package outbox persists writes made while the API was unreachable and replays
// them in order once it comes back.
package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/five82/hackops/internal/api"
	"github.com/five82/hackops/internal/kv"
	"github.com/five82/hackops/internal/metrics"
	"github.com/five82/hackops/internal/netcall"
)

// Key is the kv entry holding the queue.
const Key = "outbox"

const defaultMaxAttempts = 5

// Status is the lifecycle state of an Entry.
type Status string

const (
	StatusPending Status = "pending"
	StatusDead    Status = "dead"
)

// Entry is one deferred write.
type Entry struct {
	ID          string      `json:"id"`
	Label       string      `json:"label"`
	Ref         string      `json:"ref,omitempty"`
	Request     api.Request `json:"request"`
	Attempts    int         `json:"attempts"`
	MaxAttempts int         `json:"maxAttempts"`
	Status      Status      `json:"status"`
	LastError   string      `json:"lastError,omitempty"`
	CreatedAt   time.Time   `json:"createdAt"`
}

// Executor sends one request.
type Executor func(ctx context.Context, req api.Request) error

// DrainReport summarizes one Drain pass.
type DrainReport struct {
	Replayed     int
	Failed       int
	DeadLettered int
	Remaining    int
	Skipped      bool // another drain was already running
}

// Options configure a Queue.
type Options struct {
	KV          kv.Store
	MaxAttempts int
	Log         *logrus.Entry
	Metrics     *metrics.Recorder
}

// Queue is a FIFO of deferred writes backed by a kv.Store.
type Queue struct {
	kv          kv.Store
	maxAttempts int
	log         *logrus.Entry
	metrics     *metrics.Recorder

	draining atomic.Bool

	mu      sync.Mutex
	entries []Entry
}

// Open loads the persisted queue. A corrupt entry is logged and replaced by an
// empty queue.
func Open(ctx context.Context, opts Options) (*Queue, error) {
	if opts.KV == nil {
		return nil, fmt.Errorf("outbox requires a kv store")
	}
	log := opts.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	q := &Queue{
		kv:          opts.KV,
		maxAttempts: maxAttempts,
		log:         log.WithField("component", "outbox"),
		metrics:     opts.Metrics,
	}

	data, ok, err := opts.KV.Get(ctx, Key)
	if err != nil {
		return nil, fmt.Errorf("load outbox: %w", err)
	}
	if ok && len(data) > 0 {
		if err := json.Unmarshal(data, &q.entries); err != nil {
			q.log.WithError(err).Warn("discarding unreadable outbox")
			q.entries = nil
			if err := opts.KV.Delete(ctx, Key); err != nil {
				return nil, fmt.Errorf("reset outbox: %w", err)
			}
		}
	}
	q.mu.Lock()
	q.publishLocked()
	q.mu.Unlock()
	if n := len(q.entries); n > 0 {
		q.log.WithField("entries", n).Info("restored outbox")
	}
	return q, nil
}

// Enqueue appends a write. ref ties it to a local record so it can be
// cancelled if that record is deleted before replay.
func (q *Queue) Enqueue(ctx context.Context, label, ref string, req api.Request) (Entry, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Entry{}, fmt.Errorf("outbox id: %w", err)
	}
	e := Entry{
		ID:          id.String(),
		Label:       label,
		Ref:         ref,
		Request:     req,
		MaxAttempts: q.maxAttempts,
		Status:      StatusPending,
		CreatedAt:   time.Now().UTC(),
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = append(q.entries, e)
	if err := q.saveLocked(ctx); err != nil {
		q.entries = q.entries[:len(q.entries)-1]
		return Entry{}, err
	}
	q.log.WithFields(logrus.Fields{"label": label, "id": e.ID}).Info("queued write")
	return e, nil
}

// Drain replays pending entries oldest first, one at a time. A failed entry
// stops the pass so later writes are not sent ahead of it, unless the failure
// exhausted its attempts and moved it to the dead letters. Calls made while
// a drain is running return immediately with Skipped set.
func (q *Queue) Drain(ctx context.Context, exec Executor) (DrainReport, error) {
	if !q.draining.CompareAndSwap(false, true) {
		return DrainReport{Skipped: true}, nil
	}
	defer q.draining.Store(false)

	var report DrainReport
	for {
		if err := ctx.Err(); err != nil {
			report.Remaining = len(q.Pending())
			return report, err
		}
		e, ok := q.nextPending()
		if !ok {
			break
		}
		err := exec(ctx, e.Request)
		if errors.Is(err, netcall.ErrOffline) {
			break
		}
		if err != nil && ctx.Err() != nil {
			report.Remaining = len(q.Pending())
			return report, ctx.Err()
		}
		if err == nil {
			report.Replayed++
			q.metrics.Replay("ok")
			if err := q.remove(ctx, e.ID); err != nil {
				return report, err
			}
			continue
		}

		report.Failed++
		dead, saveErr := q.recordFailure(ctx, e.ID, err)
		if saveErr != nil {
			return report, saveErr
		}
		entry := q.log.WithError(err).WithFields(logrus.Fields{"label": e.Label, "id": e.ID})
		if dead {
			report.DeadLettered++
			q.metrics.Replay("dead")
			entry.Error("write moved to dead letters")
			continue
		}
		q.metrics.Replay("error")
		entry.Warn("replay failed")
		break
	}
	report.Remaining = len(q.Pending())
	return report, nil
}

// Draining reports whether a drain pass is running.
func (q *Queue) Draining() bool {
	return q.draining.Load()
}

// Pending returns the entries awaiting replay, oldest first.
func (q *Queue) Pending() []Entry {
	return q.filter(StatusPending)
}

// Dead returns the entries that exhausted their attempts.
func (q *Queue) Dead() []Entry {
	return q.filter(StatusDead)
}

// Requeue moves a dead entry back to the end of the pending queue with a
// fresh attempt budget.
func (q *Queue) Requeue(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	i := q.indexLocked(id)
	if i < 0 {
		return fmt.Errorf("outbox entry %q not found", id)
	}
	if q.entries[i].Status != StatusDead {
		return fmt.Errorf("outbox entry %q is not dead", id)
	}
	prev := cloneEntries(q.entries)
	e := q.entries[i]
	e.Status = StatusPending
	e.Attempts = 0
	e.LastError = ""
	q.entries = append(append(q.entries[:i:i], q.entries[i+1:]...), e)
	if err := q.saveLocked(ctx); err != nil {
		q.entries = prev
		return err
	}
	return nil
}

// Discard drops an entry regardless of status.
func (q *Queue) Discard(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.indexLocked(id) < 0 {
		return fmt.Errorf("outbox entry %q not found", id)
	}
	return q.removeLocked(ctx, func(e Entry) bool { return e.ID == id })
}

// Supersede drops the pending entries tied to ref, except the entry with id
// keep, and returns how many were removed. An empty keep drops them all.
func (q *Queue) Supersede(ctx context.Context, ref, keep string) (int, error) {
	if ref == "" {
		return 0, nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	before := len(q.entries)
	if err := q.removeLocked(ctx, func(e Entry) bool {
		return e.Ref == ref && e.ID != keep && e.Status == StatusPending
	}); err != nil {
		return 0, err
	}
	return before - len(q.entries), nil
}

func (q *Queue) nextPending() (Entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, e := range q.entries {
		if e.Status == StatusPending {
			return e, true
		}
	}
	return Entry{}, false
}

func (q *Queue) remove(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.removeLocked(ctx, func(e Entry) bool { return e.ID == id })
}

func (q *Queue) recordFailure(ctx context.Context, id string, cause error) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	i := q.indexLocked(id)
	if i < 0 {
		// Cancelled while the request was in flight.
		return false, nil
	}
	e := &q.entries[i]
	e.Attempts++
	e.LastError = cause.Error()
	if e.Attempts >= e.MaxAttempts {
		e.Status = StatusDead
	}
	return e.Status == StatusDead, q.saveLocked(ctx)
}

func (q *Queue) removeLocked(ctx context.Context, drop func(Entry) bool) error {
	prev := q.entries
	kept := make([]Entry, 0, len(q.entries))
	for _, e := range q.entries {
		if !drop(e) {
			kept = append(kept, e)
		}
	}
	if len(kept) == len(prev) {
		return nil
	}
	q.entries = kept
	if err := q.saveLocked(ctx); err != nil {
		q.entries = prev
		return err
	}
	return nil
}

func (q *Queue) saveLocked(ctx context.Context) error {
	data, err := json.Marshal(q.entries)
	if err != nil {
		return fmt.Errorf("encode outbox: %w", err)
	}
	if err := q.kv.Put(ctx, Key, data); err != nil {
		return fmt.Errorf("save outbox: %w", err)
	}
	q.publishLocked()
	return nil
}

func (q *Queue) publishLocked() {
	pending, dead := 0, 0
	for _, e := range q.entries {
		if e.Status == StatusDead {
			dead++
		} else {
			pending++
		}
	}
	q.metrics.Outbox(pending, dead)
}

func (q *Queue) filter(status Status) []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []Entry
	for _, e := range q.entries {
		if e.Status == status {
			out = append(out, e)
		}
	}
	return out
}

func (q *Queue) indexLocked(id string) int {
	for i, e := range q.entries {
		if e.ID == id {
			return i
		}
	}
	return -1
}

func cloneEntries(entries []Entry) []Entry {
	dup := make([]Entry, len(entries))
	copy(dup, entries)
	return dup
}
