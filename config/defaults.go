package config

// Default returns the default console configuration for the given chain.
func Default(chain string) *Config {
	if chain == "" {
		chain = DefaultChain
	}
	return &Config{
		Chain:      chain,
		DataDir:    DefaultDataDir(),
		NodeBinary: "quantus-node",
		LogToFile:  true,
		Tracker: TrackerConfig{
			HealthInterval: 5,
			Grace:          60,
		},
		SafeMode: SafeModeConfig{
			Enabled:  true,
			Interval: 10,
		},
		Status: StatusConfig{
			Interval: 3,
		},
		Miner: ExternalMinerConfig{
			Enabled: false,
			Binary:  "quantus-miner",
			Cores:   1,
			Port:    9833,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9615",
		},
		Log: LogConfig{
			Level: "info",
			JSON:  false,
		},
	}
}
