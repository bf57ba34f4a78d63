package state

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/five82/hackops/internal/api"
	"github.com/five82/hackops/internal/netcall"
	"github.com/five82/hackops/internal/session"
)

// ErrStaleData reports a fetch whose response could not be used. The cache
// keeps its previous contents.
var ErrStaleData = errors.New("stale data")

// FetchParticipants reloads the participant cache. For a participant-role
// session it also updates the current-user projection.
func (s *Store) FetchParticipants(ctx context.Context, background bool) error {
	if err := fetchList(ctx, s, s.participants, nil, background); err != nil {
		return err
	}
	s.projectCurrentUser()
	return nil
}

func (s *Store) FetchCoordinators(ctx context.Context, background bool) error {
	return fetchList(ctx, s, s.coordinators, nil, background)
}

func (s *Store) FetchLabs(ctx context.Context, background bool) error {
	return fetchList(ctx, s, s.labs, nil, background)
}

func (s *Store) FetchLogs(ctx context.Context, background bool) error {
	return fetchList(ctx, s, s.logs, nil, background)
}

// FetchSupportRequests reloads support requests, limited to lab when set.
func (s *Store) FetchSupportRequests(ctx context.Context, lab string, background bool) error {
	var query url.Values
	if lab = strings.TrimSpace(lab); lab != "" {
		query = url.Values{"lab": {lab}}
	}
	return fetchList(ctx, s, s.supportRequests, query, background)
}

// FetchSettings reloads the settings singleton.
func (s *Store) FetchSettings(ctx context.Context, background bool) error {
	settings, err := netcall.Do(ctx, s.caller, "load settings", background, s.client.FetchSettings)
	if err != nil {
		return s.fetchFailed("settings", s.settings.MarkStale, err)
	}
	s.settings.Replace(settings)
	s.metrics.Fetch("settings", "ok")
	return nil
}

func fetchList[T any](ctx context.Context, s *Store, e *entity[T], query url.Values, background bool) error {
	kind := e.cache.Kind()
	items, err := netcall.Do(ctx, s.caller, "load "+kind, background, func(ctx context.Context) ([]T, error) {
		return e.coll.List(ctx, query)
	})
	if err != nil {
		return s.fetchFailed(kind, e.cache.MarkStale, err)
	}
	if err := e.cache.Replace(items); err != nil {
		return s.fetchFailed(kind, e.cache.MarkStale, fmt.Errorf("%w: %v", api.ErrUnexpectedShape, err))
	}
	s.metrics.Fetch(kind, "ok")
	return nil
}

func (s *Store) fetchFailed(kind string, markStale func(error), err error) error {
	switch {
	case errors.Is(err, api.ErrUnexpectedShape):
		stale := fmt.Errorf("%s: %w: %w", kind, ErrStaleData, err)
		markStale(stale)
		s.metrics.Fetch(kind, "stale")
		s.log.WithError(err).WithField("kind", kind).Warn("keeping previous data")
		return stale
	case errors.Is(err, netcall.ErrOffline):
		s.metrics.Fetch(kind, "offline")
	default:
		s.metrics.Fetch(kind, "error")
	}
	return err
}

// fetchSupportForSession reloads support requests with the scope the session
// is entitled to.
func (s *Store) fetchSupportForSession(ctx context.Context) error {
	sess := s.session.Current()
	if sess != nil && sess.Class() == session.ClassField {
		return s.FetchSupportRequests(ctx, sess.Lab, true)
	}
	return s.FetchSupportRequests(ctx, "", true)
}

func (s *Store) projectCurrentUser() {
	sess := s.session.Current()
	if sess == nil || sess.Class() != session.ClassParticipant {
		return
	}
	if p, ok := s.participants.cache.Find(sess.ID); ok {
		s.currentUser.Replace(p)
		return
	}
	s.currentUser.Clear()
}
