package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			DataDir:  "~/.automove",
			LogLevel: "info",
			EnvFile:  ".env",
		},
		Storage: StorageConfig{
			Driver:     "sqlite",
			Scope:      "automove",
			SQLitePath: "~/.automove/automove.db",
			Redis: RedisConfig{
				Addr: "localhost:6379",
			},
			Mongo: MongoConfig{
				URI:      "mongodb://localhost:27017",
				Database: "automove",
			},
		},
		Discord: DiscordConfig{
			Enabled:          false,
			RegisterCommands: true,
		},
		Routing: RoutingConfig{
			HistoryLimit:      100,
			CloseDelaySeconds: 3,
			MovesPerMinute:    30,
			MoveBurst:         5,
			QueueSize:         100,
		},
		HTTP: HTTPConfig{
			Host: "127.0.0.1",
			Port: 8095,
		},
		Webhook: WebhookConfig{
			Enabled: false,
			Path:    "/events/reply",
		},
		Metrics: MetricsConfig{
			Enabled:  false,
			Endpoint: "/metrics",
		},
	}
}
