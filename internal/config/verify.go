package config

import (
	"errors"
	"fmt"
	"net"

	"github.com/yndnr/nestkv/internal/storage/journal"
	"github.com/yndnr/nestkv/internal/storage/snapshot"
	"github.com/yndnr/nestkv/internal/telemetry/logger"
)

// Verify validates cfg and reports every problem found.
func Verify(cfg *Config) error {
	return errors.Join(
		verifyStore(&cfg.Store),
		verifyLog(&cfg.Log),
		verifyMetrics(&cfg.Metrics),
	)
}

func verifyStore(s *StoreSection) error {
	var errs []error
	if s.Path == "" {
		errs = append(errs, errors.New("store.path is required"))
	}
	if s.Interval < 0 {
		errs = append(errs, fmt.Errorf("store.interval must not be negative, got %s", s.Interval))
	}
	if _, err := snapshot.ParseCompression(s.EffectiveCompression()); err != nil {
		errs = append(errs, fmt.Errorf("store.compression: %w", err))
	}
	if _, err := journal.ParseSyncMode(s.SyncMode); err != nil {
		errs = append(errs, fmt.Errorf("store.sync_mode: %w", err))
	}
	if s.SyncInterval < 0 {
		errs = append(errs, fmt.Errorf("store.sync_interval must not be negative, got %s", s.SyncInterval))
	}
	if s.QueueSize < 0 {
		errs = append(errs, fmt.Errorf("store.queue_size must not be negative, got %d", s.QueueSize))
	}
	return errors.Join(errs...)
}

func verifyLog(l *LogSection) error {
	if _, err := logger.ParseLevel(l.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	switch l.Format {
	case "", "text", "console", "json":
		return nil
	default:
		return fmt.Errorf("log.format must be text or json, got %q", l.Format)
	}
}

func verifyMetrics(m *MetricsSection) error {
	if !m.Enabled {
		return nil
	}
	if _, _, err := net.SplitHostPort(m.Addr); err != nil {
		return fmt.Errorf("metrics.addr: %w", err)
	}
	return nil
}
