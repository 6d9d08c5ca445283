package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// ResolvePath applies CLI/XDG/home fallback rules for config.jsonc location.
func ResolvePath(explicit string) (string, error) {
	if strings.TrimSpace(explicit) != "" {
		return explicit, nil
	}

	if xdg := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME")); xdg != "" {
		return filepath.Join(xdg, "vcd", "config.jsonc"), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.New("unable to resolve user home for config fallback")
	}

	return filepath.Join(home, ".config", "vcd", "config.jsonc"), nil
}

// ResolveStorePath returns cfg.Store.Path, or vcd.db under the XDG state directory.
func ResolveStorePath(cfg Config) (string, error) {
	if p := strings.TrimSpace(cfg.Store.Path); p != "" {
		return p, nil
	}

	if xdg := strings.TrimSpace(os.Getenv("XDG_STATE_HOME")); xdg != "" {
		return filepath.Join(xdg, "vcd", "vcd.db"), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.New("unable to resolve user home for store fallback")
	}

	return filepath.Join(home, ".local", "state", "vcd", "vcd.db"), nil
}
