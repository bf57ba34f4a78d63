package state

import (
	"context"
	"fmt"

	"github.com/five82/hackops/internal/api"
	"github.com/five82/hackops/internal/cache"
)

func (s *Store) bindEntities() {
	s.participants = &entity[api.Participant]{
		name:  "participant",
		cache: cache.NewList("participants", func(p api.Participant) string { return p.ID }),
		withID: func(p api.Participant, id string) api.Participant {
			p.ID = id
			return p
		},
		describe: func(p api.Participant) string { return p.Name },
		audit:    true,
		reload:   true,
		refetch:  func(ctx context.Context) error { return s.FetchParticipants(ctx, true) },
	}
	s.participants.coll = api.NewCollection(s.client, api.PathParticipants, s.participants.cache.ID)

	s.coordinators = &entity[api.Coordinator]{
		name:  "coordinator",
		cache: cache.NewList("coordinators", func(c api.Coordinator) string { return c.ID }),
		withID: func(c api.Coordinator, id string) api.Coordinator {
			c.ID = id
			return c
		},
		describe: func(c api.Coordinator) string { return c.Name },
		audit:    true,
		reload:   true,
		refetch:  func(ctx context.Context) error { return s.FetchCoordinators(ctx, true) },
	}
	s.coordinators.coll = api.NewCollection(s.client, api.PathCoordinators, s.coordinators.cache.ID)

	s.labs = &entity[api.Lab]{
		name:  "lab",
		cache: cache.NewList("labs", func(l api.Lab) string { return l.ID }),
		withID: func(l api.Lab, id string) api.Lab {
			l.ID = id
			return l
		},
		describe: func(l api.Lab) string { return l.Name },
		audit:    true,
		reload:   true,
		refetch:  func(ctx context.Context) error { return s.FetchLabs(ctx, true) },
	}
	s.labs.coll = api.NewCollection(s.client, api.PathLabs, s.labs.cache.ID)

	s.supportRequests = &entity[api.SupportRequest]{
		name:  "support request",
		cache: cache.NewList("support requests", func(r api.SupportRequest) string { return r.ID }),
		withID: func(r api.SupportRequest, id string) api.SupportRequest {
			r.ID = id
			return r
		},
		describe: func(r api.SupportRequest) string { return r.Category + " in " + r.Lab },
		audit:    true,
		reload:   true,
		refetch:  s.fetchSupportForSession,
	}
	s.supportRequests.coll = api.NewCollection(s.client, api.PathSupportRequests, s.supportRequests.cache.ID)

	s.logs = &entity[api.LogEntry]{
		name:  "log",
		cache: cache.NewList("logs", func(l api.LogEntry) string { return l.ID }),
		withID: func(l api.LogEntry, id string) api.LogEntry {
			l.ID = id
			return l
		},
		describe: func(l api.LogEntry) string { return l.Action },
		refetch:  func(ctx context.Context) error { return s.FetchLogs(ctx, true) },
	}
	s.logs.coll = api.NewCollection(s.client, api.PathLogs, s.logs.cache.ID)
}

// AddParticipant appends p with a provisional id and creates it on the server.
func (s *Store) AddParticipant(ctx context.Context, p api.Participant) (Result, error) {
	return mutate(ctx, s, s.participants, Mutation[api.Participant]{Op: OpAdd, Record: p})
}

// UpdateParticipant replaces the participant with id.
func (s *Store) UpdateParticipant(ctx context.Context, id string, p api.Participant) (Result, error) {
	return mutate(ctx, s, s.participants, Mutation[api.Participant]{Op: OpUpdate, ID: id, Record: p})
}

// DeleteParticipant removes the participant with id.
func (s *Store) DeleteParticipant(ctx context.Context, id string) (Result, error) {
	return mutate(ctx, s, s.participants, Mutation[api.Participant]{Op: OpDelete, ID: id})
}

func (s *Store) AddCoordinator(ctx context.Context, c api.Coordinator) (Result, error) {
	return mutate(ctx, s, s.coordinators, Mutation[api.Coordinator]{Op: OpAdd, Record: c})
}

func (s *Store) UpdateCoordinator(ctx context.Context, id string, c api.Coordinator) (Result, error) {
	return mutate(ctx, s, s.coordinators, Mutation[api.Coordinator]{Op: OpUpdate, ID: id, Record: c})
}

func (s *Store) DeleteCoordinator(ctx context.Context, id string) (Result, error) {
	return mutate(ctx, s, s.coordinators, Mutation[api.Coordinator]{Op: OpDelete, ID: id})
}

func (s *Store) AddLab(ctx context.Context, l api.Lab) (Result, error) {
	return mutate(ctx, s, s.labs, Mutation[api.Lab]{Op: OpAdd, Record: l})
}

func (s *Store) UpdateLab(ctx context.Context, id string, l api.Lab) (Result, error) {
	return mutate(ctx, s, s.labs, Mutation[api.Lab]{Op: OpUpdate, ID: id, Record: l})
}

func (s *Store) DeleteLab(ctx context.Context, id string) (Result, error) {
	return mutate(ctx, s, s.labs, Mutation[api.Lab]{Op: OpDelete, ID: id})
}

func (s *Store) AddSupportRequest(ctx context.Context, r api.SupportRequest) (Result, error) {
	return mutate(ctx, s, s.supportRequests, Mutation[api.SupportRequest]{Op: OpAdd, Record: r})
}

func (s *Store) UpdateSupportRequest(ctx context.Context, id string, r api.SupportRequest) (Result, error) {
	return mutate(ctx, s, s.supportRequests, Mutation[api.SupportRequest]{Op: OpUpdate, ID: id, Record: r})
}

func (s *Store) DeleteSupportRequest(ctx context.Context, id string) (Result, error) {
	return mutate(ctx, s, s.supportRequests, Mutation[api.SupportRequest]{Op: OpDelete, ID: id})
}

// SetSupportStatus changes the status of the support request with id. Only the
// status field is sent to the server.
func (s *Store) SetSupportStatus(ctx context.Context, id, status string) (Result, error) {
	r, ok := s.supportRequests.cache.Find(id)
	if !ok {
		return Result{Outcome: RolledBack, ID: id}, fmt.Errorf("update support request: %q not found", id)
	}
	r.Status = status
	return mutate(ctx, s, s.supportRequests, Mutation[api.SupportRequest]{
		Op:     OpUpdate,
		ID:     id,
		Record: r,
		Fields: map[string]any{"status": status},
	})
}
