// Package api provides an HTTP client for the hackathon event-operations API.
//
// # Overview
//
// This package defines the transport the synchronization layer uses to read
// server-owned collections and to issue writes. It knows record identity and
// collection paths; business fields are carried but never interpreted.
//
// # Architecture
//
//   - client.go: Client, write execution, admin triggers, error mapping
//   - collection.go: generic Collection[T] with shape-checked List and write builders
//   - types.go: record types mirroring the API schema and the Request descriptor
//
// # Reads
//
// Collection.List decodes the response at the boundary and rejects anything
// that does not look like the collection:
//
//   - top level must be an array or an {"items": [...]} envelope
//   - every element must be an object that decodes into the record type
//   - every element must carry a non-empty, unique identifier
//
// Violations wrap ErrUnexpectedShape so callers can keep their previous data
// instead of replacing it with a truncated list.
//
// # Writes
//
// Writes are built as Request values (method, path, JSON body) and executed
// with Client.Exec. Keeping them as plain data lets the offline queue persist
// them and replay them after a restart.
//
// Write endpoints answer either with the stored record or with an envelope:
//
//	{"success": false, "message": "lab is full"}
//
// A false success flag is reported as ErrServerRejected.
//
// # API Endpoints
//
//   - /api/participants, /api/coordinators, /api/labs, /api/logs: list/create/update/patch/delete
//   - /api/support-requests: same, plus ?lab=<id> scoping
//   - /api/settings: GET and PUT of the singleton
//   - /api/attendance: POST {ids, mode, status}
//   - /api/labs/allocate, /api/email-queue/process: fire-and-wait triggers
//   - /api/health: reachability probe
//
// # Error Handling
//
// Example error messages:
//   - "execute request: dial tcp: connection refused"
//   - "api /api/labs returned status 500: database unavailable"
//   - "unexpected response shape: item 3 has no id"
//   - "server rejected request: lab is full"
//
// Transport failures keep the *url.Error from net/http in the chain, which the
// netcall package uses to feed reachability tracking.
//
// # Sessions
//
// The client is built with a cookie jar. The session package stores the
// session cookie in that jar so it rides along on every request for the
// server's route gating.
//
// # Thread Safety
//
// Client and Collection are safe for concurrent use.
package api
