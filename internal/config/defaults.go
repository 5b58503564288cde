package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel: "info",
			CatImage: "./cat.jpeg",
		},
		Runner: RunnerConfig{
			Shell: "sh",
		},
		Loop: LoopConfig{
			RetryDelaySeconds: 30,
		},
		Email: EmailConfig{
			SMTPPort:            465,
			IMAPPort:            993,
			POPPort:             995,
			PollIntervalSeconds: 10,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Listen:  "127.0.0.1:9464",
		},
	}
}
