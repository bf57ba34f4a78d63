package state

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/five82/hackops/internal/api"
)

// MarkAttendance records attendance for ids and then refreshes in the
// background.
func (s *Store) MarkAttendance(ctx context.Context, ids []string, mode, status string) error {
	req := api.AttendanceRequest{IDs: ids, Mode: mode, Status: status}
	if err := req.Validate(); err != nil {
		return fmt.Errorf("mark attendance: %w", err)
	}
	err := s.caller.Call(ctx, "mark attendance", false, func(ctx context.Context) error {
		return s.client.MarkAttendance(ctx, req)
	})
	if err != nil {
		return err
	}
	s.log.WithFields(logrus.Fields{"mode": mode, "status": status, "count": len(ids)}).Info("attendance marked")
	s.goBackground(func(ctx context.Context) { _ = s.Refresh(ctx) })
	return nil
}

// AllocateLabs asks the server to assign teams to labs.
func (s *Store) AllocateLabs(ctx context.Context) error {
	if err := s.caller.Call(ctx, "allocate labs", false, s.client.AllocateLabs); err != nil {
		return err
	}
	s.goBackground(func(ctx context.Context) { _ = s.Refresh(ctx) })
	return nil
}

// ProcessEmailQueue asks the server to send its queued emails.
func (s *Store) ProcessEmailQueue(ctx context.Context) error {
	if err := s.caller.Call(ctx, "process email queue", false, s.client.ProcessEmailQueue); err != nil {
		return err
	}
	s.goBackground(func(ctx context.Context) { _ = s.Refresh(ctx) })
	return nil
}
