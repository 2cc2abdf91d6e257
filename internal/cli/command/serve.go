package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/nestkv/internal/infra/buildinfo"
	"github.com/yndnr/nestkv/internal/infra/confloader"
	"github.com/yndnr/nestkv/internal/infra/shutdown"
	"github.com/yndnr/nestkv/internal/telemetry/logger"
	"github.com/yndnr/nestkv/internal/telemetry/metric"
	"github.com/yndnr/nestkv/pkg/store"
)

// ServeCommand returns the serve command.
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Keep the database open, checkpoint periodically and expose metrics",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "interval",
				Usage: "Checkpoint interval (overrides store.interval)",
			},
			&cli.StringFlag{
				Name:  "addr",
				Usage: "Metrics listen address (overrides metrics.addr)",
			},
		},
		Action: serve,
	}
}

func serve(c *cli.Context) error {
	cfg := configFrom(c)
	log := loggerFrom(c)

	interval := cfg.Store.Interval
	if c.IsSet("interval") {
		interval = c.Duration("interval")
	}
	addr := cfg.Metrics.Addr
	if c.IsSet("addr") {
		addr = c.String("addr")
	}

	reg := metric.NewRegistry()
	opts, err := StoreOptions(cfg, log, reg.Registerer())
	if err != nil {
		return err
	}
	opts = append(opts, store.WithErrorHandler(func(err error) {
		log.Error("background checkpoint failed", "error", err)
	}))

	db, err := store.Open(cfg.Store.Path, interval, opts...)
	if err != nil {
		return fmt.Errorf("open %s: %w", cfg.Store.Path, err)
	}

	h := shutdown.NewHandler(cfg.Metrics.ShutdownTimeout, log)
	h.OnShutdown("store", func(context.Context) error {
		_, err := db.Close()
		return err
	})

	if cfg.Metrics.Enabled {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			_ = h.Shutdown()
			return fmt.Errorf("listen %s: %w", addr, err)
		}
		srv := &http.Server{
			Handler:           NewServeMux(db, reg, log),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("http server failed", "error", err)
			}
		}()
		h.OnShutdown("http", srv.Shutdown)
		log.Info("http server listening", "addr", ln.Addr().String())
	}

	if path := c.String("config"); path != "" {
		if err := watchConfig(ParseGlobalFlags(c), log, h); err != nil {
			log.Warn("config reload disabled", "path", path, "error", err)
		}
	}

	log.Info("nestkv serving",
		"version", buildinfo.Version,
		"path", db.Path(),
		"interval", interval,
		"keys", db.Stats().Keys,
	)

	ctx := c.Context
	if ctx == nil {
		ctx = context.Background()
	}
	if err := h.Wait(ctx); err != nil {
		return err
	}
	log.Info("nestkv stopped")
	return nil
}

// watchConfig applies log level changes made to the config file while
// serving. Other settings need a restart.
func watchConfig(flags *GlobalFlags, log *slog.Logger, h *shutdown.Handler) error {
	w, err := confloader.NewWatcher(confloader.WithWatcherLogger(log))
	if err != nil {
		return err
	}
	if err := w.Watch(flags.Config); err != nil {
		w.Stop()
		return err
	}
	w.OnChange(func(string) {
		cfg, err := LoadConfig(flags)
		if err != nil {
			log.Warn("ignoring invalid configuration", "error", err)
			return
		}
		if cfg.Log.Level == logger.GetLevel() {
			return
		}
		if err := logger.SetLevel(cfg.Log.Level); err != nil {
			log.Warn("ignoring log level", "level", cfg.Log.Level, "error", err)
			return
		}
		log.Info("log level changed", "level", cfg.Log.Level)
	})
	w.StartAsync()
	h.OnShutdown("config-watcher", func(context.Context) error {
		return w.Stop()
	})
	return nil
}

// NewServeMux returns the HTTP handler of serve.
//
//	GET  /metrics     Prometheus metrics
//	GET  /healthz     200 unless the journal has failed
//	GET  /stats       store statistics as JSON
//	POST /checkpoint  run a checkpoint now
func NewServeMux(db *store.DB, reg *metric.Registry, log *slog.Logger) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", reg.Handler())

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := db.Stats().JournalError; err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok\n"))
	})

	mux.HandleFunc("GET /stats", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, db.Stats())
	})

	mux.HandleFunc("POST /checkpoint", func(w http.ResponseWriter, r *http.Request) {
		info, err := db.Checkpoint(r.Context())
		if err != nil {
			log.Warn("checkpoint request failed", "error", err)
			status := http.StatusInternalServerError
			if errors.Is(err, store.ErrClosed) {
				status = http.StatusServiceUnavailable
			}
			writeJSON(w, status, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, info)
	})
	return mux
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
