// Package netcall wraps remote operations in a uniform connectivity, error and
// loading policy, and tracks whether the API is reachable.
//
// # Call Policy
//
// Every remote operation goes through Do (or Caller.Call):
//
//	offline?  ── yes ──> not attempted, ErrOffline
//	   │                 foreground: notice posted
//	   │                 background: silent
//	   no
//	   │
//	foreground? ── yes ──> loading counter +1 until op settles
//	   │
//	op(ctx) ── error ──> error slot = "<label>: <err>", error returned
//	   │
//	   ok ──> error slot cleared, result returned
//
// Loading is a counter, not a flag: overlapping foreground calls keep it
// raised until the last one settles. A hung call keeps it raised; callers
// bound that with their context.
//
// # Reachability
//
// Monitor starts online. It goes offline after two consecutive failures,
// reported either by its own probe loop or by Caller when a call fails
// without an HTTP response. Any success brings it back. SetOnline stands in
// for a platform connectivity event; SetForced lets the operator pin the
// client offline.
//
// Listeners registered with OnChange run on every transition; the state
// package uses the offline→online edge to replay the offline queue.
//
// While failing, the probe loop backs off exponentially from the configured
// interval up to 30 seconds.
package netcall
