// Package state is the client-side synchronization layer for hackops.
//
// # Overview
//
// A Store mirrors the server-owned collections (participants, coordinators,
// labs, support requests, audit logs and the settings singleton) in memory,
// applies optimistic local changes before the server confirms them, rolls
// them back when the server refuses, and decides which collections to reload
// based on the role of the active session.
//
// One Store is built per process with New and passed to whoever needs it.
// Dispose detaches it from the reachability monitor and waits for its
// background work, which is what tests use for teardown.
//
// # Architecture
//
//	UI / CLI action
//	      │
//	      ▼
//	┌──────────────┐  Append/ReplaceByID/RemoveByID  ┌──────────────┐
//	│   mutate()   │────────────────────────────────▶│ cache.List[T]│
//	│              │◀──── Snapshot (pre + version) ───│              │
//	└──────┬───────┘                                  └──────────────┘
//	       │ netcall.Caller.Call(background)
//	       ▼
//	  api.Client.Exec ──▶ ok:      commit, audit log, background Refresh (adds)
//	                  ──▶ offline: outbox.Enqueue (Deferred) or rollback
//	                  ──▶ error:   cache.Restore(snapshot) or conflict
//
// # Mutations
//
// Every entity kind goes through the same generic routine, driven by a
// Mutation descriptor {Op, ID, Record}:
//
//   - OpAdd appends the record under a provisional id ("new-" followed by a
//     UUIDv7) and POSTs it without an id. The provisional id stays in the
//     cache until the next refresh brings the server-assigned one.
//   - OpUpdate replaces the record in place and PUTs it. An update whose id
//     is still provisional is sent as a create instead.
//   - OpDelete removes the record and DELETEs it. Deleting a provisional
//     record never reaches the server and cancels any queued write for it.
//
// Writes are background calls, so routine edits do not raise the loading
// indicator. A failed write restores the snapshot taken when the change was
// applied and posts a notice.
//
// # Rollback conflicts
//
// Each cache carries a version that every change bumps. A snapshot records
// the version its own change produced, and Restore only applies while the
// cache is still at that version. When two mutations overlap and the earlier
// one fails after the later one (or a fetch) has already landed, the rollback
// is discarded, the conflict is logged and counted, and that cache is
// refetched so the server's state replaces the orphaned optimistic change.
//
// # Fetching
//
// A successful fetch replaces a cache wholesale. Responses are shape-checked
// by the api package; a response that does not look like the collection is
// rejected with ErrStaleData, the previous contents are kept and the cache is
// marked stale until the next good fetch.
//
// Refresh waits for the session to be restored, reloads settings, and then
// fans out in parallel:
//
//	elevated (admin, organizer):   participants, coordinators, logs, labs,
//	                               all support requests
//	field (coordinator, faculty):  participants, logs, support requests for
//	                               the session's lab
//	participant:                   participants (and the current-user record)
//
// # Offline writes
//
// With QueueOfflineWrites set, a change made while offline keeps its local
// effect and its request is persisted in the outbox (Outcome Deferred). When
// the monitor reports the API reachable again the Store drains the outbox in
// order and then refreshes.
package state
