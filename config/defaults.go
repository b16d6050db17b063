package config

import "time"

// DefaultConfig returns the configuration used when nothing is provided.
func DefaultConfig() *Config {
	return &Config{
		Server:    DefaultServerConfig(),
		Store:     DefaultStoreConfig(),
		Engine:    DefaultEngineConfig(),
		Completer: DefaultCompleterConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig returns the default HTTP settings.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 15 * time.Second,
	}
}

// DefaultStoreConfig returns the in-memory backend.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Type: "memory",
		Redis: RedisStoreConfig{
			Host:      "localhost",
			Port:      6379,
			PoolSize:  10,
			KeyPrefix: "gateflow",
		},
		SQL: SQLStoreConfig{
			Driver: "sqlite",
		},
	}
}

// DefaultEngineConfig returns the default execution settings.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		MaxRetries:          3,
		InitialBackoff:      500 * time.Millisecond,
		MaxBackoff:          10 * time.Second,
		BackoffMultiplier:   2.0,
		MaxConcurrentTurns:  64,
		ConfirmationTimeout: 5 * time.Minute,
		EventBuffer:         64,
	}
}

// DefaultCompleterConfig returns the default completer settings.
func DefaultCompleterConfig() CompleterConfig {
	return CompleterConfig{
		Model:          "gpt-4o-mini",
		Temperature:    0.7,
		MaxTokens:      2048,
		RateLimitRPS:   10,
		RateLimitBurst: 20,
		HistoryTokens:  8192,
	}
}

// DefaultLogConfig returns JSON logging at info level.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig returns telemetry disabled.
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		ServiceName:  "gateflow",
		OTLPEndpoint: "localhost:4317",
		SampleRate:   1.0,
	}
}
