package config

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Storage.PrefetchDir == "" {
		cfg.Storage.PrefetchDir = "./cache/prefetch"
	}
	if cfg.Storage.SignatureStore == "" {
		cfg.Storage.SignatureStore = "./cache/seen_pages.json"
	}
	if cfg.Storage.CounterPath == "" {
		cfg.Storage.CounterPath = "./cache/counter.json"
	}
	if cfg.Storage.SignatureBackend == "" {
		cfg.Storage.SignatureBackend = "file"
	}
	if cfg.Prefetch.PrewarmCount == 0 {
		cfg.Prefetch.PrewarmCount = 10
	}
	if cfg.Prefetch.LowWater == 0 {
		cfg.Prefetch.LowWater = 10
	}
	if cfg.Prefetch.FillTo == 0 {
		cfg.Prefetch.FillTo = 30
	}
	if cfg.Prefetch.ReviewBatch == 0 {
		cfg.Prefetch.ReviewBatch = 5
	}
	if cfg.Prefetch.MaxWorkers == 0 {
		cfg.Prefetch.MaxWorkers = 3
	}
	if cfg.Prefetch.ServeDelayMS == 0 {
		cfg.Prefetch.ServeDelayMS = 250
	}
	if cfg.Review.ProviderName == "" && len(cfg.Providers) > 0 {
		cfg.Review.ProviderName = cfg.Providers[0].Name
	}
	if cfg.RateLimit.RatePerSecond == 0 {
		cfg.RateLimit.RatePerSecond = 1
	}
	if cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = 5
	}
	for i := range cfg.Providers {
		if cfg.Providers[i].BackoffSecs == 0 {
			cfg.Providers[i].BackoffSecs = 30
		}
		if cfg.Providers[i].TimeoutSecs == 0 {
			cfg.Providers[i].TimeoutSecs = 75
		}
	}
}
