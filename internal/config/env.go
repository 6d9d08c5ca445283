package config

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
	"golang.org/x/text/language"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "VCD_"

// ApplyEnv overlays VCD_* environment variables onto cfg. Unset variables leave values as-is.
func ApplyEnv(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// NormalizeLanguage returns the canonical BCP 47 form of raw ("en_us" becomes "en-US").
func NormalizeLanguage(raw string) (string, error) {
	raw = strings.ReplaceAll(strings.TrimSpace(raw), "_", "-")
	if raw == "" {
		return "", fmt.Errorf("language must not be empty")
	}
	tag, err := language.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("language %q: %w", raw, err)
	}
	return tag.String(), nil
}

// finalize applies environment overrides, normalizes, and validates cfg.
func finalize(cfg Config, warnings []Warning) (Config, []Warning, error) {
	if err := ApplyEnv(&cfg); err != nil {
		return Config{}, nil, err
	}
	lang, err := NormalizeLanguage(cfg.Language)
	if err != nil {
		return Config{}, nil, err
	}
	cfg.Language = lang
	cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))

	validatedWarnings, err := Validate(cfg)
	if err != nil {
		return Config{}, nil, err
	}
	return cfg, append(warnings, validatedWarnings...), nil
}
