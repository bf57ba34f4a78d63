package api

import (
	"encoding/json"
	"fmt"
	"time"
)

const apiTimestampLayout = "2006-01-02 15:04:05"

// Collection paths served by the event-operations API.
const (
	PathParticipants    = "/api/participants"
	PathCoordinators    = "/api/coordinators"
	PathLabs            = "/api/labs"
	PathSupportRequests = "/api/support-requests"
	PathLogs            = "/api/logs"
	PathSettings        = "/api/settings"
	PathAttendance      = "/api/attendance"
	PathAllocateLabs    = "/api/labs/allocate"
	PathProcessEmails   = "/api/email-queue/process"
	PathHealth          = "/api/health"
)

// Participant is a registered hackathon participant.
type Participant struct {
	ID         string          `json:"id,omitempty"`
	Name       string          `json:"name"`
	Email      string          `json:"email,omitempty"`
	Phone      string          `json:"phone,omitempty"`
	College    string          `json:"college,omitempty"`
	TeamName   string          `json:"teamName,omitempty"`
	Lab        string          `json:"lab,omitempty"`
	Status     string          `json:"status,omitempty"`
	Attendance map[string]bool `json:"attendance,omitempty"`
	CreatedAt  string          `json:"createdAt,omitempty"`
}

// Coordinator is a volunteer or faculty member assigned to a lab.
type Coordinator struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
	Lab   string `json:"lab,omitempty"`
}

// Lab is a physical room teams are allocated to.
type Lab struct {
	ID       string `json:"id,omitempty"`
	Name     string `json:"name"`
	Building string `json:"building,omitempty"`
	Capacity int    `json:"capacity,omitempty"`
}

// SupportRequest is a help ticket raised from a lab.
type SupportRequest struct {
	ID            string `json:"id,omitempty"`
	ParticipantID string `json:"participantId,omitempty"`
	Lab           string `json:"lab,omitempty"`
	Category      string `json:"category,omitempty"`
	Message       string `json:"message,omitempty"`
	Status        string `json:"status,omitempty"`
	CreatedAt     string `json:"createdAt,omitempty"`
}

// Support request statuses.
const (
	SupportOpen     = "open"
	SupportResolved = "resolved"
)

// ParsedCreatedAt returns when the request was raised, or the zero time.
func (r SupportRequest) ParsedCreatedAt() time.Time {
	return parseTime(r.CreatedAt)
}

// LogEntry is one audit log line.
type LogEntry struct {
	ID        string `json:"id,omitempty"`
	Action    string `json:"action"`
	Actor     string `json:"actor,omitempty"`
	Details   string `json:"details,omitempty"`
	CreatedAt string `json:"createdAt,omitempty"`
}


// Settings is the event-wide configuration singleton.
type Settings struct {
	EventName        string `json:"eventName,omitempty"`
	RegistrationOpen bool   `json:"registrationOpen"`
	AttendanceMode   string `json:"attendanceMode,omitempty"`
	SnacksRound      int    `json:"snacksRound,omitempty"`
	Announcement     string `json:"announcement,omitempty"`
	UpdatedAt        string `json:"updatedAt,omitempty"`
}

// Attendance modes accepted by /api/attendance.
const (
	AttendanceHackathon = "hackathon"
	AttendanceGate      = "gate"
	AttendanceSnacks    = "snacks"
)

// AttendanceRequest marks a set of participants for one attendance mode.
type AttendanceRequest struct {
	IDs    []string `json:"ids"`
	Mode   string   `json:"mode"`
	Status string   `json:"status"`
}

// Validate rejects requests the server would refuse.
func (r AttendanceRequest) Validate() error {
	if len(r.IDs) == 0 {
		return fmt.Errorf("attendance requires at least one id")
	}
	switch r.Mode {
	case AttendanceHackathon, AttendanceGate, AttendanceSnacks:
		return nil
	default:
		return fmt.Errorf("unknown attendance mode %q", r.Mode)
	}
}

// WriteResponse is the envelope some write endpoints return instead of the record.
type WriteResponse struct {
	Success *bool  `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

// Request describes one remote write. It is plain data so it can be queued
// and replayed after a restart.
type Request struct {
	Method string          `json:"method"`
	Path   string          `json:"path"`
	Body   json.RawMessage `json:"body,omitempty"`
}

func parseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, value); err == nil {
			return t
		}
	}
	if t, err := time.ParseInLocation(apiTimestampLayout, value, time.Local); err == nil {
		return t
	}
	return time.Time{}
}
