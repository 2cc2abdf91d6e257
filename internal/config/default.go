package config

import "time"

// Default configuration values.
const (
	DefaultStorePath       = "nestkv.db"
	DefaultInterval        = time.Minute
	DefaultCompression     = "none"
	DefaultSyncMode        = "write"
	DefaultSyncInterval    = time.Second
	DefaultQueueSize       = 1024
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "text"
	DefaultMetricsAddr     = "127.0.0.1:9464"
	DefaultShutdownTimeout = 30 * time.Second
)

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Store: StoreSection{
			Path:         DefaultStorePath,
			Interval:     DefaultInterval,
			SyncMode:     DefaultSyncMode,
			SyncInterval: DefaultSyncInterval,
			QueueSize:    DefaultQueueSize,
		},
		Log: LogSection{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
		Metrics: MetricsSection{
			Enabled:         true,
			Addr:            DefaultMetricsAddr,
			ShutdownTimeout: DefaultShutdownTimeout,
		},
	}
}
