// Package app is the composition root for hackops.
//
// # Overview
//
// Run wires configuration, logging, the client-local store, the API client,
// the session, reachability monitoring, the offline queue and the sync Store
// together, then either hands the terminal to the dashboard or, in headless
// mode, just keeps the caches in sync until the context is cancelled.
//
// # Startup Order
//
//  1. Load ~/.config/hackops/config.toml (or -config)
//  2. Configure logrus; the dashboard run logs to <data_dir>/hackops.log
//  3. Open <data_dir>/hackops.db (SQLite) for the session and outbox
//  4. Build the cookie jar and API client; the session cookie rides in the jar
//  5. Build the Monitor (probes probe_path), the outbox and the state.Store
//  6. Restore the persisted session, which releases the refresh barrier
//  7. Apply -login / -logout if given
//  8. Start the monitor loop, the optional /metrics listener and the poller
//  9. Run the dashboard (blocks) or wait for cancellation when headless
//
// # Components
//
//   - app.go: Run and logger setup
//   - poller.go: background goroutine calling Store.Refresh on a ticker
//   - metrics.go: optional Prometheus endpoint for the sync counters
//
// # Data Flow
//
//	┌──────────────┐     Refresh every poll_seconds     ┌──────────────┐
//	│   Poller     │───────────────────────────────────▶│ state.Store  │
//	└──────────────┘                                     │  caches      │
//	┌──────────────┐     offline → online transition     │  outbox      │
//	│   Monitor    │───────────────────────────────────▶│  (drain,     │
//	└──────────────┘                                     │   refresh)   │
//	┌──────────────┐     Snapshot() on each tick         └──────┬───────┘
//	│  Dashboard   │◀───────────────────────────────────────────┘
//	└──────────────┘
//
// Shutdown runs in reverse through defers: the dashboard returns, the Store
// is disposed (background work drained), then the database and log file are
// closed.
package app
