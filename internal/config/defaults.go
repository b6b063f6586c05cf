package config

import "time"

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Address:      "0.0.0.0:8080",
			Path:         "/saori",
			MaxBodyBytes: 1 << 20,
			TLS:          TLSConfig{Auto: false},
			HTTP3:        false,
		},
		Module: ModuleConfig{
			Name: "saori",
			Mode: ModeEmbedded,
			Env:  map[string]string{},
		},
		Pool: PoolConfig{
			MinWorkers:      2,
			MaxWorkers:      8,
			MaxJobs:         10000,
			AllocateTimeout: Duration(5 * time.Second),
			RequestTimeout:  Duration(10 * time.Second),
		},
		WebSocket: WebSocketConfig{
			Enabled:        false,
			Path:           "/ws",
			MaxConnections: 1000,
		},
		Logging: LogConfig{
			Level:      "info",
			Format:     "json",
			Output:     "stdout",
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 7,
			Compress:   true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Watch: WatchConfig{
			Enabled:  false,
			Paths:    []string{},
			Debounce: Duration(500 * time.Millisecond),
		},
	}
}
