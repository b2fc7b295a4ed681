// Package config loads and saves the plugin's settings file, which lives
// next to the game executable.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// FileName of the settings file.
const FileName = "pocket-relay-client.json"

// Config is the on-disk settings structure.
type Config struct {
	// ConnectionURL is the saved server address, filled back in on the
	// next game start.
	ConnectionURL string `json:"connection_url"`
	// DebugConsole opens a console window mirroring the log output.
	DebugConsole bool `json:"debug_console,omitempty"`
	// SkipUpdateCheck disables the release check on startup.
	SkipUpdateCheck bool `json:"skip_update_check,omitempty"`
}

// Path returns the location of the settings file.
func Path() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("failed to locate executable: %w", err)
	}
	return filepath.Join(filepath.Dir(exe), FileName), nil
}

// Load reads the settings file at path. A missing file is not an error and
// yields the zero config.
func Load(path string) (Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// Save writes cfg to path, creating the file when missing.
func Save(path string, cfg Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
