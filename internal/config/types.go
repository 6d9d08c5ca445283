// Package config resolves, parses, validates, and defaults vcd configuration.
package config

// Config is the fully materialized runtime configuration used by vcd.
type Config struct {
	Engine   EngineConfig
	Language string `env:"LANGUAGE"`
	Audio    AudioConfig
	MQTT     MQTTConfig
	Daemon   DaemonConfig
	Store    StoreConfig
	HTTP     HTTPConfig
	Log      LogConfig
}

// EngineConfig controls engine discovery.
type EngineConfig struct {
	Dir string `env:"ENGINE_DIR"`
	// Remote is an optional gRPC endpoint probed after the plugin directory.
	Remote        string `env:"ENGINE_REMOTE"`
	DialTimeoutMS int
	CallTimeoutMS int
}

// AudioConfig controls preferred and fallback input-source selection.
type AudioConfig struct {
	Input          string
	Fallback       string
	StallTimeoutMS int
}

// MQTTConfig controls the notification broker connection.
type MQTTConfig struct {
	Broker         string `env:"MQTT_BROKER"`
	ClientID       string
	Username       string `env:"MQTT_USERNAME"`
	Password       string `env:"MQTT_PASSWORD"`
	TopicPrefix    string
	HelloTimeoutMS int
}

// DaemonConfig controls client housekeeping and result delivery.
type DaemonConfig struct {
	CleanupIntervalMS     int
	IdleShutdown          bool
	ResultRetryLimit      int
	ResultRetryIntervalMS int
}

// StoreConfig locates the SQLite state database. An empty Path uses the XDG state dir.
type StoreConfig struct {
	Path string `env:"STORE_PATH"`
}

// HTTPConfig controls the local status API. An empty Addr disables it.
type HTTPConfig struct {
	Addr string `env:"HTTP_ADDR"`
}

// LogConfig controls the runtime logger.
type LogConfig struct {
	Level string `env:"LOG_LEVEL"`
}

// Warning is a non-fatal parse/validation message.
type Warning struct {
	Line    int
	Message string
}
