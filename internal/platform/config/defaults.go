package config

import "time"

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			IP:   "0.0.0.0",
			Port: 8080,
			Auth: AuthConfig{
				Enabled: false,
				Expiry:  24 * time.Hour,
			},
		},
		Log: LogConfig{
			Level: "INFO",
			Dir:   "data/logs",
			File:  "server.log",
		},
		Web: WebConfig{
			Enabled:   true,
			StaticDir: "web",
			Websocket: "ws://localhost:8000/ws",
		},
		Transport: TransportConfig{
			WebSocket: WebSocketConfig{
				Enabled:          true,
				IP:               "0.0.0.0",
				Port:             8000,
				Path:             "/ws",
				HandshakeTimeout: 10 * time.Second,
				PingInterval:     30 * time.Second,
				WriteTimeout:     5 * time.Second,
				OutboundSize:     64,
				MaxFrameSize:     1 << 20,
			},
		},
		Audio: AudioConfig{
			SampleRate:      16000,
			NoiseThreshold:  0.02,
			SpeechZCR:       0.1,
			AdmissionRMS:    0.01,
			TargetPeak:      0.9,
			MaxDelay:        150 * time.Millisecond,
			SpeechOnFailure: true,
		},
		Recognizer: RecognizerConfig{
			Provider:       "google",
			Language:       "en-US",
			Punctuation:    true,
			Enhanced:       true,
			InterimResults: true,
		},
		Session: SessionConfig{
			QueueSize:       256,
			PollInterval:    time.Second,
			AudioTimeout:    60 * time.Second,
			EnqueueTimeout:  100 * time.Millisecond,
			DeliveryTimeout: 5 * time.Second,
			DrainTimeout:    2 * time.Second,
			InitialBackoff:  500 * time.Millisecond,
			MaxBackoff:      30 * time.Second,
			MaxRetries:      5,
		},
		Storage: StorageConfig{
			Driver: "sqlite",
			SQLite: SQLiteStorageConfig{DSN: "data/meetscribe.db"},
			Redis: RedisStorageConfig{
				Addr:   "127.0.0.1:6379",
				Prefix: "meetscribe",
			},
		},
		Insight: InsightConfig{
			Enabled:     false,
			Model:       "gpt-3.5-turbo",
			MaxTokens:   4000,
			Temperature: 0.3,
			Window:      5 * time.Minute,
			Timeout:     60 * time.Second,
		},
		Observability: ObservabilityConfig{
			MetricsEnabled: true,
			MetricsPath:    "/metrics",
		},
	}
}
