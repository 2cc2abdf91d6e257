package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Checkpoint results used as label values.
const (
	ResultOK      = "ok"
	ResultError   = "error"
	ResultSkipped = "skipped"
)

// Storage holds the collectors updated by the store.
type Storage struct {
	journalAppends     prometheus.Counter
	journalBytes       prometheus.Counter
	journalErrors      prometheus.Counter
	journalRotations   prometheus.Counter
	checkpoints        *prometheus.CounterVec
	checkpointDuration prometheus.Histogram
	snapshotBytes      prometheus.Gauge
	keys               prometheus.Gauge
	recoveredRecords   prometheus.Counter
}

// NewStorage creates the storage collectors and registers them with reg.
// A nil reg leaves the collectors unregistered.
func NewStorage(reg prometheus.Registerer) *Storage {
	return &Storage{
		journalAppends: register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "journal",
			Name:      "appends_total",
			Help:      "Records written to the journal",
		})),
		journalBytes: register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "journal",
			Name:      "written_bytes_total",
			Help:      "Bytes written to the journal",
		})),
		journalErrors: register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "journal",
			Name:      "errors_total",
			Help:      "Journal I/O failures",
		})),
		journalRotations: register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "journal",
			Name:      "rotations_total",
			Help:      "Journal rotations",
		})),
		checkpoints: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "checkpoint",
			Name:      "total",
			Help:      "Checkpoints by result",
		}, []string{"result"})),
		checkpointDuration: register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "checkpoint",
			Name:      "duration_seconds",
			Help:      "Time spent writing a snapshot and rotating the journal",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		})),
		snapshotBytes: register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "snapshot",
			Name:      "size_bytes",
			Help:      "Size of the last snapshot written",
		})),
		keys: register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "store",
			Name:      "keys",
			Help:      "Top-level keys held in memory",
		})),
		recoveredRecords: register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "recovery",
			Name:      "records_total",
			Help:      "Journal records replayed during recovery",
		})),
	}
}

// ObserveAppend records one journal write of n bytes.
func (s *Storage) ObserveAppend(n int) {
	if s == nil {
		return
	}
	s.journalAppends.Inc()
	s.journalBytes.Add(float64(n))
}

// ObserveJournalError records a journal I/O failure.
func (s *Storage) ObserveJournalError() {
	if s == nil {
		return
	}
	s.journalErrors.Inc()
}

// ObserveRotation records a journal rotation.
func (s *Storage) ObserveRotation() {
	if s == nil {
		return
	}
	s.journalRotations.Inc()
}

// ObserveCheckpoint records a checkpoint outcome. size is only used for
// successful checkpoints.
func (s *Storage) ObserveCheckpoint(result string, elapsed time.Duration, size int64) {
	if s == nil {
		return
	}
	s.checkpoints.WithLabelValues(result).Inc()
	if result == ResultOK {
		s.checkpointDuration.Observe(elapsed.Seconds())
		s.snapshotBytes.Set(float64(size))
	}
}

// SetKeys records the number of top-level keys.
func (s *Storage) SetKeys(n int) {
	if s == nil {
		return
	}
	s.keys.Set(float64(n))
}

// ObserveRecovery records the number of replayed journal records.
func (s *Storage) ObserveRecovery(records int) {
	if s == nil {
		return
	}
	s.recoveredRecords.Add(float64(records))
}
