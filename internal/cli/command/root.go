package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"

	"github.com/yndnr/nestkv/internal/cli/output"
	"github.com/yndnr/nestkv/internal/config"
	"github.com/yndnr/nestkv/internal/infra/buildinfo"
	"github.com/yndnr/nestkv/internal/infra/confloader"
	"github.com/yndnr/nestkv/internal/telemetry/logger"
	"github.com/yndnr/nestkv/pkg/store"
)

const (
	configKey = "config"
	loggerKey = "logger"
)

// App creates the CLI application.
func App() *cli.App {
	return &cli.App{
		Name:    "nestkv",
		Usage:   "Embedded journaled key-value store",
		Version: buildinfo.String(),
		Flags:   globalFlags(),
		Commands: []*cli.Command{
			GetCommand(),
			SetCommand(),
			DelCommand(),
			DumpCommand(),
			CheckpointCommand(),
			JournalCommand(),
			StatCommand(),
			ServeCommand(),
		},
		Before: setup,
	}
}

// globalFlags returns the global CLI flags.
func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Path to a YAML configuration file",
			EnvVars: []string{"NESTKV_CONFIG"},
		},
		&cli.StringFlag{
			Name:    "db",
			Aliases: []string{"d"},
			Usage:   "Database base path (overrides store.path)",
		},
		&cli.StringFlag{
			Name:  "compression",
			Usage: "Snapshot compression: none, gzip, zstd, snappy",
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "Output format: table, json, yaml",
			Value:   "table",
		},
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "Log level: debug, info, warn, error",
		},
	}
}

// GlobalFlags defines flags available to all commands.
type GlobalFlags struct {
	Config      string
	DB          string
	Compression string
	Output      string
	LogLevel    string
}

// ParseGlobalFlags extracts global flags from context.
func ParseGlobalFlags(c *cli.Context) *GlobalFlags {
	return &GlobalFlags{
		Config:      c.String("config"),
		DB:          c.String("db"),
		Compression: c.String("compression"),
		Output:      c.String("output"),
		LogLevel:    c.String("log-level"),
	}
}

// LoadConfig builds the configuration from defaults, the config file,
// NESTKV_ environment variables and flags, in that order.
func LoadConfig(flags *GlobalFlags) (*config.Config, error) {
	cfg := config.Default()

	overrides := map[string]any{}
	if flags.DB != "" {
		overrides["store.path"] = flags.DB
	}
	if flags.Compression != "" {
		overrides["store.compression"] = flags.Compression
	}
	if flags.LogLevel != "" {
		overrides["log.level"] = flags.LogLevel
	}

	loader := confloader.NewLoader(
		confloader.WithConfigFile(flags.Config),
		confloader.WithFlags(overrides),
	)
	if err := loader.Load(cfg); err != nil {
		return nil, err
	}
	if err := config.Verify(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func setup(c *cli.Context) error {
	flags := ParseGlobalFlags(c)
	if _, err := output.ParseFormat(flags.Output); err != nil {
		return err
	}

	cfg, err := LoadConfig(flags)
	if err != nil {
		return err
	}

	log, err := logger.New(logger.Config{
		Level:     cfg.Log.Level,
		Format:    cfg.Log.Format,
		Output:    c.App.ErrWriter,
		AddSource: cfg.Log.AddSource,
	})
	if err != nil {
		return err
	}
	logger.SetDefault(log)

	c.App.Metadata[configKey] = cfg
	c.App.Metadata[loggerKey] = log
	return nil
}

func configFrom(c *cli.Context) *config.Config {
	if cfg, ok := c.App.Metadata[configKey].(*config.Config); ok {
		return cfg
	}
	return config.Default()
}

func loggerFrom(c *cli.Context) *slog.Logger {
	return logger.L(commandContext(c)).Slog()
}

// commandContext returns the command's context carrying the configured
// logger and the command name.
func commandContext(c *cli.Context) context.Context {
	ctx := c.Context
	if ctx == nil {
		ctx = context.Background()
	}
	if l, ok := c.App.Metadata[loggerKey].(logger.Logger); ok {
		ctx = logger.WithLogger(ctx, l)
	}
	if c.Command != nil && c.Command.Name != "" {
		ctx = logger.WithCommand(ctx, c.Command.Name)
	}
	return ctx
}

// StoreOptions translates the store section of cfg into store options.
// A nil reg leaves the store metrics unregistered.
func StoreOptions(cfg *config.Config, log *slog.Logger, reg prometheus.Registerer) ([]store.Option, error) {
	compression, err := store.ParseCompression(cfg.Store.EffectiveCompression())
	if err != nil {
		return nil, err
	}
	mode, err := store.ParseSyncMode(cfg.Store.SyncMode)
	if err != nil {
		return nil, err
	}
	opts := []store.Option{
		store.WithCompression(compression),
		store.WithSyncMode(mode),
		store.WithLogger(log),
	}
	if cfg.Store.SyncInterval > 0 {
		opts = append(opts, store.WithSyncInterval(cfg.Store.SyncInterval))
	}
	if cfg.Store.QueueSize > 0 {
		opts = append(opts, store.WithQueueSize(cfg.Store.QueueSize))
	}
	if reg != nil {
		opts = append(opts, store.WithRegisterer(reg))
	}
	return opts, nil
}

// withDB opens the configured database without a checkpoint scheduler,
// runs fn and closes the database again.
func withDB(c *cli.Context, fn func(ctx context.Context, db *store.DB) error) (err error) {
	cfg := configFrom(c)
	log := loggerFrom(c)

	opts, err := StoreOptions(cfg, log, nil)
	if err != nil {
		return err
	}
	db, err := store.Open(cfg.Store.Path, 0, opts...)
	if err != nil {
		return fmt.Errorf("open %s: %w", cfg.Store.Path, err)
	}
	defer func() {
		if _, cerr := db.Close(); cerr != nil {
			err = errors.Join(err, fmt.Errorf("close %s: %w", cfg.Store.Path, cerr))
		}
	}()

	ctx, cancel := context.WithTimeout(commandContext(c), commandTimeout)
	defer cancel()
	return fn(ctx, db)
}

// commandTimeout bounds a single one-shot command.
const commandTimeout = 5 * time.Minute

// printResult writes data in the selected output format.
func printResult(c *cli.Context, data any) error {
	format, err := output.ParseFormat(c.String("output"))
	if err != nil {
		return err
	}
	return output.NewFormatter(format).Format(c.App.Writer, data)
}

// PrintError prints an error message to stderr.
func PrintError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
}
