// Package config loads the hackops TOML configuration.
//
// # Configuration Discovery
//
// The Load function follows this resolution order:
//
//  1. If a path is explicitly provided, use it
//  2. Otherwise, use ~/.config/hackops/config.toml (default)
//  3. If the config file doesn't exist, fall back to Defaults
//  4. If the file exists but fields are missing, empty or zero, use defaults
//
// # TOML Format
//
//	api_url = "http://127.0.0.1:3000"
//	data_dir = "~/.local/share/hackops"
//	poll_seconds = 15
//	probe_seconds = 5
//	probe_path = "/api/health"
//	outbox_max_attempts = 5
//	queue_offline_writes = true
//	log_level = "info"
//	theme = "Dracula"
//	metrics_addr = ""
//
// Every field is optional. String values are trimmed and paths get tilde
// expansion. metrics_addr empty means no metrics listener.
//
// # Derived Paths
//
// Everything hackops writes lives under data_dir:
//
//   - hackops.db: SQLite store holding the session and the offline queue
//   - hackops.log: log file used while the dashboard owns the terminal
//   - prefs.toml: dashboard preferences (theme)
package config
