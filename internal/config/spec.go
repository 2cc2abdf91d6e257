package config

import "time"

// Config is the root nestkv configuration.
type Config struct {
	Store   StoreSection   `koanf:"store" yaml:"store" json:"store"`
	Log     LogSection     `koanf:"log" yaml:"log" json:"log"`
	Metrics MetricsSection `koanf:"metrics" yaml:"metrics" json:"metrics"`
}

// StoreSection configures the database.
type StoreSection struct {
	// Path is the database base path. The snapshot, journal and lock
	// files are named after it.
	Path string `koanf:"path" yaml:"path" json:"path"`

	// Interval between background checkpoints. Zero disables them.
	Interval time.Duration `koanf:"interval" yaml:"interval" json:"interval"`

	// Compression is the snapshot compression: none, gzip, zstd or snappy.
	Compression string `koanf:"compression" yaml:"compression" json:"compression"`

	// Compressed selects gzip when Compression is unset.
	Compressed bool `koanf:"compressed" yaml:"compressed" json:"compressed"`

	// SyncMode is async, write or sync.
	SyncMode     string        `koanf:"sync_mode" yaml:"sync_mode" json:"sync_mode"`
	SyncInterval time.Duration `koanf:"sync_interval" yaml:"sync_interval" json:"sync_interval"`
	QueueSize    int           `koanf:"queue_size" yaml:"queue_size" json:"queue_size"`
}

// LogSection configures logging.
type LogSection struct {
	Level     string `koanf:"level" yaml:"level" json:"level"`
	Format    string `koanf:"format" yaml:"format" json:"format"`
	AddSource bool   `koanf:"add_source" yaml:"add_source" json:"add_source"`
}

// MetricsSection configures the HTTP endpoint started by `nestkv serve`.
type MetricsSection struct {
	Enabled bool   `koanf:"enabled" yaml:"enabled" json:"enabled"`
	Addr    string `koanf:"addr" yaml:"addr" json:"addr"`

	// ShutdownTimeout bounds the graceful stop of serve.
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// EffectiveCompression resolves Compression and the Compressed shorthand.
func (s StoreSection) EffectiveCompression() string {
	if s.Compression != "" {
		return s.Compression
	}
	if s.Compressed {
		return "gzip"
	}
	return "none"
}
