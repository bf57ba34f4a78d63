// Package prefs persists dashboard preferences between runs.
// They live next to the client database, in <data_dir>/prefs.toml.
package prefs

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

// Prefs holds dashboard preferences.
type Prefs struct {
	Theme   string `toml:"theme"`
	Pane    string `toml:"pane"`
	ShowLog bool   `toml:"show_log"`
}

const (
	defaultTheme = "Dracula"
	defaultPane  = "caches"
)

// Defaults returns the preferences used when none are saved.
func Defaults() Prefs {
	return Prefs{Theme: defaultTheme, Pane: defaultPane}
}

// Load reads preferences from path. A missing or unreadable file yields
// defaults; preferences are never worth failing startup over.
func Load(path string) (Prefs, error) {
	prefs := Defaults()
	if strings.TrimSpace(path) == "" {
		return prefs, nil
	}

	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return prefs, nil
		}
		return prefs, nil // Graceful degradation
	}
	defer func() { _ = file.Close() }()

	bytes, err := io.ReadAll(file)
	if err != nil {
		return prefs, nil // Graceful degradation
	}

	if err := toml.Unmarshal(bytes, &prefs); err != nil {
		return Defaults(), nil // Graceful degradation
	}

	if strings.TrimSpace(prefs.Theme) == "" {
		prefs.Theme = defaultTheme
	}
	if strings.TrimSpace(prefs.Pane) == "" {
		prefs.Pane = defaultPane
	}
	return prefs, nil
}

// Save writes preferences to path, creating directories as needed.
func Save(path string, p Prefs) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("prefs path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create prefs dir: %w", err)
	}

	bytes, err := toml.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal prefs: %w", err)
	}

	if err := os.WriteFile(path, bytes, 0o644); err != nil {
		return fmt.Errorf("write prefs: %w", err)
	}
	return nil
}
