package config

import "time"

// DefaultConfig returns the default configuration. Values here are the
// single source of truth for every tunable the documentation mentions.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:        8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			RateLimitRPS:    10,
			RateLimitBurst:  20,
		},
		Database: DatabaseConfig{
			Driver:          "sqlite",
			Name:            "quickjot.db",
			MaxOpenConns:    20,
			MaxIdleConns:    5,
			ConnMaxLifetime: time.Hour,
		},
		Redis: RedisConfig{
			Addr:         "",
			DB:           0,
			PoolSize:     10,
			MinIdleConns: 2,
			ContextTTL:   10 * time.Minute,
		},
		LLM: LLMConfig{
			BaseURL:        "https://api.openai.com",
			Model:          "gpt-4o-mini",
			Timeout:        30 * time.Second,
			MaxTokens:      1024,
			RateLimitRPS:   5,
			RateLimitBurst: 10,
		},
		Router: RouterConfig{
			HistoryWindow:  5,
			DecideTimeout:  30 * time.Second,
			ExecuteTimeout: 60 * time.Second,
			PersistTimeout: 5 * time.Second,
		},
		Conversation: ConversationConfig{
			MaxTurns: 50,
		},
		Log: LogConfig{
			Level:       "info",
			Format:      "json",
			OutputPaths: []string{"stdout"},
		},
		Telemetry: TelemetryConfig{
			Enabled:      false,
			OTLPEndpoint: "localhost:4317",
			ServiceName:  "quickjot",
			SampleRate:   1.0,
		},
		Auth: AuthConfig{},
	}
}
