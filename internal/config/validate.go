package config

import (
	"fmt"
	"net"
	"strings"
)

// Validate enforces config invariants and returns non-fatal warnings.
func Validate(cfg Config) ([]Warning, error) {
	warnings := make([]Warning, 0)

	if strings.TrimSpace(cfg.Engine.Dir) == "" && strings.TrimSpace(cfg.Engine.Remote) == "" {
		return nil, fmt.Errorf("engine.dir must not be empty")
	}
	if cfg.Engine.DialTimeoutMS <= 0 {
		return nil, fmt.Errorf("engine.dial_timeout_ms must be > 0")
	}
	if cfg.Engine.CallTimeoutMS <= 0 {
		return nil, fmt.Errorf("engine.call_timeout_ms must be > 0")
	}
	if _, err := NormalizeLanguage(cfg.Language); err != nil {
		return nil, err
	}
	if cfg.Audio.StallTimeoutMS <= 0 {
		return nil, fmt.Errorf("audio.stall_timeout_ms must be > 0")
	}
	if strings.TrimSpace(cfg.MQTT.Broker) == "" {
		return nil, fmt.Errorf("mqtt.broker must not be empty")
	}
	if strings.TrimSpace(cfg.MQTT.ClientID) == "" {
		return nil, fmt.Errorf("mqtt.client_id must not be empty")
	}
	prefix := strings.TrimSpace(cfg.MQTT.TopicPrefix)
	if prefix == "" {
		return nil, fmt.Errorf("mqtt.topic_prefix must not be empty")
	}
	if strings.ContainsAny(prefix, "+#") {
		return nil, fmt.Errorf("mqtt.topic_prefix must not contain wildcards")
	}
	if cfg.MQTT.HelloTimeoutMS <= 0 {
		return nil, fmt.Errorf("mqtt.hello_timeout_ms must be > 0")
	}
	if cfg.Daemon.CleanupIntervalMS <= 0 {
		return nil, fmt.Errorf("daemon.cleanup_interval_ms must be > 0")
	}
	if cfg.Daemon.CleanupIntervalMS < cfg.MQTT.HelloTimeoutMS {
		warnings = append(warnings, Warning{Message: "daemon.cleanup_interval_ms is shorter than mqtt.hello_timeout_ms; sweeps may overlap"})
	}
	if cfg.Daemon.ResultRetryLimit <= 0 {
		return nil, fmt.Errorf("daemon.result_retry_limit must be > 0")
	}
	if cfg.Daemon.ResultRetryIntervalMS <= 0 {
		return nil, fmt.Errorf("daemon.result_retry_interval_ms must be > 0")
	}
	if addr := strings.TrimSpace(cfg.HTTP.Addr); addr != "" {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return nil, fmt.Errorf("http.addr %q: %w", addr, err)
		}
	}
	switch cfg.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return nil, fmt.Errorf("log.level must be one of: debug, info, warn, error")
	}

	return warnings, nil
}
