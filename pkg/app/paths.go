package app

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Environment variables that override the default locations.
const (
	EnvConfig  = "SBRIDGE_CONFIG"
	EnvDataDir = "SBRIDGE_DATA_DIR"
)

const configFile = "sbridge.yaml"

// ResolveConfigPath finds the configuration file. $SBRIDGE_CONFIG wins
// and must exist. Otherwise the first existing file among the XDG config
// directory, /etc/sbridge and the working directory is used.
func ResolveConfigPath() (string, error) {
	if p := os.Getenv(EnvConfig); p != "" {
		if _, err := os.Stat(p); err != nil {
			return "", fmt.Errorf("%s: %w", EnvConfig, err)
		}
		return p, nil
	}

	candidates := configCandidates()
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("no configuration file found (searched %s): %w",
		strings.Join(candidates, ", "), os.ErrNotExist)
}

func configCandidates() []string {
	var out []string
	if dir, err := userConfigDir(); err == nil {
		out = append(out, filepath.Join(dir, "sbridge", configFile))
	}
	return append(out, filepath.Join("/etc", "sbridge", configFile), configFile)
}

// userConfigDir is $XDG_CONFIG_HOME or ~/.config, on every platform.
func userConfigDir() (string, error) {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config"), nil
}

// DefaultDataDir is where sessions, the WhatsApp device store and the
// audit log live: $SBRIDGE_DATA_DIR, else $XDG_DATA_HOME/sbridge, else
// ~/.local/share/sbridge. Without a home directory it falls back to
// ./sbridge-data.
func DefaultDataDir() string {
	if dir := os.Getenv(EnvDataDir); dir != "" {
		return dir
	}
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "sbridge")
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "sbridge-data"
	}
	return filepath.Join(home, ".local", "share", "sbridge")
}
