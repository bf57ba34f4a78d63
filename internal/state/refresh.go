package state

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/five82/hackops/internal/api"
	"github.com/five82/hackops/internal/outbox"
	"github.com/five82/hackops/internal/session"
)

// Refresh reloads settings and then, in parallel, every cache the session's
// role is entitled to. It waits for the session to be restored first, and for
// every fetch to settle before returning. Queued writes are replayed before
// anything is fetched. All calls are background calls.
func (s *Store) Refresh(ctx context.Context) error {
	if err := s.session.Wait(ctx); err != nil {
		return err
	}
	s.drainBacklog(ctx)
	s.refreshing.Add(1)
	defer s.refreshing.Add(-1)

	var (
		mu   sync.Mutex
		errs []error
	)
	record := func(err error) {
		if err == nil {
			return
		}
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	}

	record(s.FetchSettings(ctx, true))

	if sess := s.session.Current(); sess != nil {
		var g errgroup.Group
		for _, fetch := range s.fetchesFor(sess) {
			g.Go(func() error {
				record(fetch(ctx))
				return nil
			})
		}
		_ = g.Wait()
	}

	err := errors.Join(errs...)
	s.mu.Lock()
	s.lastRefresh = time.Now()
	s.refreshErr = ""
	if err != nil {
		s.refreshErr = err.Error()
	}
	s.mu.Unlock()
	return err
}

func (s *Store) fetchesFor(sess *session.Session) []func(context.Context) error {
	switch sess.Class() {
	case session.ClassElevated:
		return []func(context.Context) error{
			func(ctx context.Context) error { return s.FetchParticipants(ctx, true) },
			func(ctx context.Context) error { return s.FetchCoordinators(ctx, true) },
			func(ctx context.Context) error { return s.FetchLogs(ctx, true) },
			func(ctx context.Context) error { return s.FetchLabs(ctx, true) },
			func(ctx context.Context) error { return s.FetchSupportRequests(ctx, "", true) },
		}
	case session.ClassField:
		lab := sess.Lab
		return []func(context.Context) error{
			func(ctx context.Context) error { return s.FetchParticipants(ctx, true) },
			func(ctx context.Context) error { return s.FetchLogs(ctx, true) },
			func(ctx context.Context) error { return s.FetchSupportRequests(ctx, lab, true) },
		}
	default:
		return []func(context.Context) error{
			func(ctx context.Context) error { return s.FetchParticipants(ctx, true) },
		}
	}
}

// DrainOutbox replays queued writes now and reports what happened.
func (s *Store) DrainOutbox(ctx context.Context) (outbox.DrainReport, error) {
	if s.outbox == nil {
		return outbox.DrainReport{}, nil
	}
	report, err := s.outbox.Drain(ctx, s.replay)
	if err != nil {
		return report, err
	}
	if report.Replayed+report.Failed > 0 {
		s.log.WithFields(logrus.Fields{
			"replayed":      report.Replayed,
			"failed":        report.Failed,
			"dead_lettered": report.DeadLettered,
			"remaining":     report.Remaining,
		}).Info("outbox drained")
	}
	if report.DeadLettered > 0 {
		s.Notify(fmt.Sprintf("%d queued write(s) could not be delivered and were set aside.", report.DeadLettered))
	}
	return report, nil
}

// RequeueDead moves a dead-lettered write back into the queue.
func (s *Store) RequeueDead(ctx context.Context, id string) error {
	if s.outbox == nil {
		return fmt.Errorf("no outbox configured")
	}
	return s.outbox.Requeue(ctx, id)
}

// drainBacklog replays queued writes when there are any and the client is
// online. It reports whether writes are still queued afterwards.
func (s *Store) drainBacklog(ctx context.Context) bool {
	if s.outbox == nil || len(s.outbox.Pending()) == 0 {
		return false
	}
	if s.caller.Online() {
		if _, err := s.DrainOutbox(ctx); err != nil {
			s.log.WithError(err).Warn("outbox drain interrupted")
		}
	}
	return len(s.outbox.Pending()) > 0
}

// replay sends one queued write. The metric label stays fixed per method;
// the path only goes to the log.
func (s *Store) replay(ctx context.Context, req api.Request) error {
	label := "replay " + strings.ToLower(req.Method)
	err := s.caller.Call(ctx, label, true, func(ctx context.Context) error {
		return s.client.Exec(ctx, req)
	})
	if err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{"method": req.Method, "path": req.Path}).Debug("replay failed")
	}
	return err
}

// reconnect runs on every offline to online transition. Refresh replays the
// outbox before fetching.
func (s *Store) reconnect(ctx context.Context) {
	s.log.Info("connection restored")
	if err := s.Refresh(ctx); err != nil {
		s.log.WithError(err).Debug("refresh after reconnect incomplete")
	}
}
