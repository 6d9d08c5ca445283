package config

// Default returns the canonical runtime configuration used when no file is present.
func Default() Config {
	return Config{
		Engine: EngineConfig{
			Dir:           "/usr/lib/vcd/engines",
			DialTimeoutMS: 3000,
			CallTimeoutMS: 10000,
		},
		Language: "en-US",
		Audio: AudioConfig{
			Input:          "default",
			Fallback:       "default",
			StallTimeoutMS: 3000,
		},
		MQTT: MQTTConfig{
			Broker:         "tcp://127.0.0.1:1883",
			ClientID:       "vcd",
			TopicPrefix:    "vcd",
			HelloTimeoutMS: 500,
		},
		Daemon: DaemonConfig{
			CleanupIntervalMS:     5000,
			ResultRetryLimit:      100,
			ResultRetryIntervalMS: 20,
		},
		Log: LogConfig{Level: "info"},
	}
}
