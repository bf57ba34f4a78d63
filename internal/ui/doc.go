// Package ui is the hackops terminal dashboard.
//
// # Architecture Overview
//
// The dashboard is a Bubble Tea program. It never touches caches directly:
// every tick it asks its Backend (a *state.Store in production) for a
// state.Snapshot and renders that. Operator actions run as tea.Cmds against
// the Backend and report back with an actionMsg that lands in the status line.
//
// # Package Structure
//
//   - app.go: Model, Options, Update loop, commands and Run
//   - render.go: header, pane tabs, pane bodies, log strip, help overlay
//   - keys.go: key bindings (bubbles/key) shared with the help view
//   - theme.go: Dracula and Slate palettes and their Lipgloss styles
//   - helpers.go: string and time formatting
//
// # Screen Layout
//
//	HackOps  ONLINE  Grace (admin)  ⠋ refreshing  2 queued  1 conflicts
//	error: fetch participants: stale data: ...        <- status line
//	 Caches  Outbox (2)  Support  Notices             <- pane tabs
//	...pane body...
//	──────────────── log strip (optional, l) ─────────
//	r refresh • d replay • o offline • tab next pane • ? help • q quit
//
// # Panes
//
//   - Caches: one row per cache with item count, version, loaded/stale state
//     and age, plus the event settings summary
//   - Outbox: queued writes in replay order followed by dead letters; R
//     requeues the selected dead letter
//   - Support: the support requests cache with each request's age; x marks
//     the selected request resolved
//   - Notices: non-blocking messages raised by the sync layer, newest first
//
// # Preferences
//
// Theme, selected pane and log strip visibility are saved to prefs.toml on
// every change and restored on the next start.
package ui
