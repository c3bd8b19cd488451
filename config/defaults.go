package config

import "time"

// DefaultConfig returns the configuration the server runs with when no
// file and no environment overrides are present.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:        8080,
			MetricsPort:     9090,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			RateLimit:       50,
			RateBurst:       100,
		},
		Session: SessionConfig{
			MaxSessions:   25,
			IdleTimeout:   5 * time.Minute,
			IdleAction:    "notify",
			CheckInterval: 15 * time.Second,
			DrainTimeout:  10 * time.Second,
			HistoryLimit:  0,
		},
		Pool: PoolConfig{
			Recognizers:    5,
			Generators:     5,
			Synthesizers:   5,
			AcquireTimeout: 5 * time.Second,
			Prewarm:        2,
		},
		Stage: StageConfig{
			Backend: "sim",
			Latency: 0,
		},
		Agent: AgentConfig{
			ID:           "default",
			Name:         "assistant",
			Instructions: "You are a helpful assistant.",
		},
		Log: LogConfig{
			Level:            "info",
			Format:           "json",
			OutputPaths:      []string{"stdout"},
			EnableCaller:     true,
			EnableStacktrace: false,
		},
		Telemetry: TelemetryConfig{
			Enabled:      false,
			OTLPEndpoint: "localhost:4317",
			ServiceName:  "voicegate",
			SampleRate:   1.0,
		},
	}
}
