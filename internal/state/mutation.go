package state

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/five82/hackops/internal/api"
	"github.com/five82/hackops/internal/cache"
	"github.com/five82/hackops/internal/netcall"
)

// ProvisionalPrefix marks identifiers minted locally for records the server
// has not assigned an id to yet.
const ProvisionalPrefix = "new-"

// Op is the kind of change a Mutation makes.
type Op int

const (
	OpAdd Op = iota + 1
	OpUpdate
	OpDelete
)

func (o Op) String() string {
	switch o {
	case OpAdd:
		return "add"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	default:
		return fmt.Sprintf("op(%d)", int(o))
	}
}

// Mutation describes one optimistic change to a cache. ID is ignored for adds;
// Record is ignored for deletes. Fields, when set on an update, limits the
// remote write to those JSON fields while Record still replaces the cached copy.
type Mutation[T any] struct {
	Op     Op
	ID     string
	Record T
	Fields map[string]any
}

// Outcome is how a mutation settled.
type Outcome int

const (
	Committed Outcome = iota + 1
	RolledBack
	Deferred
)

func (o Outcome) String() string {
	switch o {
	case Committed:
		return "committed"
	case RolledBack:
		return "rolled_back"
	case Deferred:
		return "deferred"
	default:
		return "unknown"
	}
}

// Result reports a settled mutation. ID is the record's local identifier,
// provisional for adds until the next refresh replaces it.
type Result struct {
	Outcome Outcome
	ID      string
}

// IsProvisional reports whether id was minted locally.
func IsProvisional(id string) bool {
	return strings.HasPrefix(id, ProvisionalPrefix)
}

func provisionalID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("provisional id: %w", err)
	}
	return ProvisionalPrefix + id.String(), nil
}

// entity binds a record type to its cache, endpoint and presentation.
type entity[T any] struct {
	name     string
	cache    *cache.List[T]
	coll     api.Collection[T]
	withID   func(T, string) T
	describe func(T) string
	audit    bool
	reload   bool // refresh after a committed add
	refetch  func(ctx context.Context) error
}

// plan is a mutation after the provisional-id rules have been applied.
type plan[T any] struct {
	op       Op // remote operation
	localID  string
	record   T
	redirect bool // update of a provisional record sent as a create
	fields   map[string]any
}

// mutate applies m to e's cache, sends the write and reconciles.
func mutate[T any](ctx context.Context, s *Store, e *entity[T], m Mutation[T]) (Result, error) {
	p, err := planMutation(e, m)
	if err != nil {
		return Result{Outcome: RolledBack, ID: m.ID}, err
	}
	label := fmt.Sprintf("%s %s", m.Op, e.name)
	log := s.log.WithFields(logrus.Fields{"kind": e.name, "op": m.Op.String(), "id": p.localID})

	var snap cache.Snapshot[T]
	switch m.Op {
	case OpAdd:
		snap, err = e.cache.Append(p.record)
	case OpUpdate:
		snap, err = e.cache.ReplaceByID(p.localID, p.record)
	case OpDelete:
		snap, err = e.cache.RemoveByID(p.localID)
	}
	if err != nil {
		s.metrics.Mutation(e.name, m.Op.String(), RolledBack.String())
		return Result{Outcome: RolledBack, ID: p.localID}, fmt.Errorf("%s: %w", label, err)
	}

	if p.op == OpDelete && IsProvisional(p.localID) {
		// Never reached the server; drop anything still queued for it.
		s.cancelQueued(ctx, p.localID)
		s.metrics.Mutation(e.name, m.Op.String(), Committed.String())
		log.Debug("removed unsaved record locally")
		return Result{Outcome: Committed, ID: p.localID}, nil
	}

	req, err := buildRequest(e, p)
	if err != nil {
		restore(s, e, snap, log)
		s.metrics.Mutation(e.name, m.Op.String(), RolledBack.String())
		return Result{Outcome: RolledBack, ID: p.localID}, fmt.Errorf("%s: %w", label, err)
	}

	// deferWrite queues req behind whatever is already in the outbox.
	deferWrite := func(cause error, notice string) (Result, error) {
		entry, qerr := s.outbox.Enqueue(ctx, label, p.localID, req)
		if qerr != nil {
			log.WithError(qerr).Error("could not queue write")
			restore(s, e, snap, log)
			s.metrics.Mutation(e.name, m.Op.String(), RolledBack.String())
			s.Notify(fmt.Sprintf("%s was not saved.", capitalize(label)))
			return Result{Outcome: RolledBack, ID: p.localID}, errors.Join(cause, qerr)
		}
		if p.redirect {
			s.supersede(ctx, p.localID, entry.ID)
		}
		s.metrics.Mutation(e.name, m.Op.String(), Deferred.String())
		s.Notify(notice)
		log.Info("mutation deferred to outbox")
		return Result{Outcome: Deferred, ID: p.localID}, nil
	}

	backlogNotice := fmt.Sprintf("Earlier writes are still queued; %s will be sent after them.", label)
	if p.redirect && s.queued(p.localID) {
		// The create is still queued; replace it rather than sending a second one.
		res, err := deferWrite(nil, backlogNotice)
		if res.Outcome == Deferred && s.caller.Online() {
			s.goBackground(func(ctx context.Context) { s.drainBacklog(ctx) })
		}
		return res, err
	}
	// Queued writes go first; a live write only overtakes them when it cannot queue.
	if s.caller.Online() && s.drainBacklog(ctx) && s.queueOffline {
		return deferWrite(nil, backlogNotice)
	}

	err = s.caller.Call(ctx, label, true, func(ctx context.Context) error {
		return s.client.Exec(ctx, req)
	})
	switch {
	case err == nil:
		if p.redirect {
			s.cancelQueued(ctx, p.localID)
		}
		s.metrics.Mutation(e.name, m.Op.String(), Committed.String())
		log.Debug("mutation committed")
		if e.audit {
			s.audit(ctx, label, e.describe(p.record))
		}
		if p.op == OpAdd && e.reload {
			s.goBackground(func(ctx context.Context) { _ = s.Refresh(ctx) })
		}
		return Result{Outcome: Committed, ID: p.localID}, nil

	case errors.Is(err, netcall.ErrOffline) && s.queueOffline && s.outbox != nil:
		return deferWrite(err, fmt.Sprintf("You are offline; %s will be sent when the connection returns.", label))

	default:
		restore(s, e, snap, log)
		s.metrics.Mutation(e.name, m.Op.String(), RolledBack.String())
		if errors.Is(err, netcall.ErrOffline) {
			s.Notify(fmt.Sprintf("You are offline; %s was not saved.", label))
		} else {
			s.Notify(fmt.Sprintf("Could not %s: %v", label, errors.Unwrap(err)))
		}
		return Result{Outcome: RolledBack, ID: p.localID}, err
	}
}

func planMutation[T any](e *entity[T], m Mutation[T]) (plan[T], error) {
	switch m.Op {
	case OpAdd:
		id, err := provisionalID()
		if err != nil {
			return plan[T]{}, err
		}
		return plan[T]{op: OpAdd, localID: id, record: e.withID(m.Record, id)}, nil
	case OpUpdate:
		if strings.TrimSpace(m.ID) == "" {
			return plan[T]{}, fmt.Errorf("update %s: missing id", e.name)
		}
		p := plan[T]{op: OpUpdate, localID: m.ID, record: e.withID(m.Record, m.ID), fields: m.Fields}
		if IsProvisional(m.ID) {
			p.op = OpAdd
			p.redirect = true
		}
		return p, nil
	case OpDelete:
		if strings.TrimSpace(m.ID) == "" {
			return plan[T]{}, fmt.Errorf("delete %s: missing id", e.name)
		}
		return plan[T]{op: OpDelete, localID: m.ID}, nil
	default:
		return plan[T]{}, fmt.Errorf("%s: unknown mutation %v", e.name, m.Op)
	}
}

func buildRequest[T any](e *entity[T], p plan[T]) (api.Request, error) {
	switch p.op {
	case OpAdd:
		// The server assigns the real id.
		return e.coll.CreateRequest(e.withID(p.record, ""))
	case OpUpdate:
		if len(p.fields) > 0 {
			return e.coll.PatchRequest(p.localID, p.fields)
		}
		return e.coll.UpdateRequest(p.localID, p.record)
	default:
		return e.coll.DeleteRequest(p.localID), nil
	}
}

// restore rolls e back to snap. When the cache has moved on since the
// mutation, the rollback is dropped and the cache is refetched instead.
func restore[T any](s *Store, e *entity[T], snap cache.Snapshot[T], log *logrus.Entry) {
	if e.cache.Restore(snap) {
		log.Debug("mutation rolled back")
		return
	}
	s.conflicts.Add(1)
	s.metrics.Conflict(e.name)
	log.WithFields(logrus.Fields{
		"mutation_version": snap.After,
		"cache_version":    e.cache.Version(),
	}).Warn("rollback conflict: cache changed since mutation, refetching")
	if e.refetch != nil {
		s.goBackground(func(ctx context.Context) { _ = e.refetch(ctx) })
	}
}

func (s *Store) cancelQueued(ctx context.Context, ref string) {
	s.supersede(ctx, ref, "")
}

// queued reports whether a write for ref is waiting in the outbox.
func (s *Store) queued(ref string) bool {
	if s.outbox == nil {
		return false
	}
	for _, e := range s.outbox.Pending() {
		if e.Ref == ref {
			return true
		}
	}
	return false
}

// supersede drops pending writes for ref other than the entry keep.
func (s *Store) supersede(ctx context.Context, ref, keep string) {
	if s.outbox == nil {
		return
	}
	n, err := s.outbox.Supersede(ctx, ref, keep)
	if err != nil {
		s.log.WithError(err).WithField("ref", ref).Warn("could not cancel queued writes")
		return
	}
	if n > 0 {
		s.log.WithFields(logrus.Fields{"ref": ref, "cancelled": n}).Info("cancelled queued writes")
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// audit records an action in the audit log. Failures only roll back the log
// entry itself.
func (s *Store) audit(ctx context.Context, action, details string) {
	if _, err := s.AddLog(ctx, action, details); err != nil {
		s.log.WithError(err).WithField("action", action).Debug("audit log entry not written")
	}
}

// AddLog appends an audit log entry for the current session.
func (s *Store) AddLog(ctx context.Context, action, details string) (Result, error) {
	actor := ""
	if sess := s.session.Current(); sess != nil {
		actor = sess.DisplayName
		if actor == "" {
			actor = sess.ID
		}
	}
	return mutate(ctx, s, s.logs, Mutation[api.LogEntry]{
		Op: OpAdd,
		Record: api.LogEntry{
			Action:    action,
			Actor:     actor,
			Details:   details,
			CreatedAt: time.Now().UTC().Format(time.RFC3339),
		},
	})
}

// UpdateSettings optimistically replaces the settings singleton.
func (s *Store) UpdateSettings(ctx context.Context, next api.Settings) (Result, error) {
	const label = "update settings"
	log := s.log.WithFields(logrus.Fields{"kind": "settings", "op": OpUpdate.String()})

	req, err := api.UpdateSettingsRequest(next)
	if err != nil {
		return Result{Outcome: RolledBack}, fmt.Errorf("%s: %w", label, err)
	}
	snap := s.settings.Swap(next)

	rollback := func() {
		if s.settings.Restore(snap) {
			return
		}
		s.conflicts.Add(1)
		s.metrics.Conflict("settings")
		log.Warn("rollback conflict: settings changed since mutation, refetching")
		s.goBackground(func(ctx context.Context) { _ = s.FetchSettings(ctx, true) })
	}

	deferWrite := func(cause error, notice string) (Result, error) {
		entry, qerr := s.outbox.Enqueue(ctx, label, "settings", req)
		if qerr != nil {
			rollback()
			s.metrics.Mutation("settings", OpUpdate.String(), RolledBack.String())
			return Result{Outcome: RolledBack}, errors.Join(cause, qerr)
		}
		// Only the newest settings write matters.
		s.supersede(ctx, "settings", entry.ID)
		s.metrics.Mutation("settings", OpUpdate.String(), Deferred.String())
		s.Notify(notice)
		return Result{Outcome: Deferred}, nil
	}

	if s.caller.Online() && s.drainBacklog(ctx) && s.queueOffline {
		return deferWrite(nil, "Earlier writes are still queued; update settings will be sent after them.")
	}

	err = s.caller.Call(ctx, label, true, func(ctx context.Context) error {
		return s.client.Exec(ctx, req)
	})
	switch {
	case err == nil:
		s.metrics.Mutation("settings", OpUpdate.String(), Committed.String())
		s.audit(ctx, label, next.EventName)
		return Result{Outcome: Committed}, nil
	case errors.Is(err, netcall.ErrOffline) && s.queueOffline && s.outbox != nil:
		return deferWrite(err, "You are offline; update settings will be sent when the connection returns.")
	default:
		rollback()
		s.metrics.Mutation("settings", OpUpdate.String(), RolledBack.String())
		s.Notify(fmt.Sprintf("Could not %s: %v", label, errors.Unwrap(err)))
		return Result{Outcome: RolledBack}, err
	}
}
