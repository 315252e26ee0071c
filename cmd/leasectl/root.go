package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/warp/lease-engine/config"
	"github.com/warp/lease-engine/engine"
	"github.com/warp/lease-engine/factory"
	"github.com/warp/lease-engine/lease"
	"github.com/warp/lease-engine/lease/store"
	"github.com/warp/lease-engine/resolver"
	"github.com/warp/lease-engine/store/postgres"
	"github.com/warp/lease-engine/store/sqlite"
	"github.com/warp/lease-engine/telemetry"
)

// app is the state shared by every command, built once in the root's
// PersistentPreRunE.
type app struct {
	configPath string
	logLevel   string
	feedPath   string

	cfg      config.Config
	policies factory.Policies
	logger   zerolog.Logger
	registry *telemetry.Registry
	out      io.Writer
}

func newRootCmd() *cobra.Command {
	a := &app{out: os.Stdout}

	root := &cobra.Command{
		Use:           "leasectl",
		Short:         "Lease amendment resolution and portfolio metrics",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd)
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "config file or directory holding config.yaml")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level (debug|info|warn|error), overrides log_level")
	root.PersistentFlags().StringVar(&a.feedPath, "feed", "", "JSON/YAML record feed; forces the memory driver")

	root.AddCommand(
		serveCmd(a),
		reportCmd(a),
		validateCmd(a),
	)
	return root
}

func (a *app) init(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.feedPath != "" {
		cfg.Store.Driver = config.DriverMemory
		cfg.Store.Feed = a.feedPath
	}
	a.cfg = cfg

	level := cfg.LogLevel
	if a.logLevel != "" {
		level = a.logLevel
	}
	a.logger, err = newLogger(cmd.ErrOrStderr(), level)
	if err != nil {
		return err
	}

	a.policies, err = cfg.Policies()
	if err != nil {
		return err
	}
	a.registry = telemetry.NewRegistry()
	a.out = cmd.OutOrStdout()

	if cfg.File != "" {
		a.logger.Debug().Str("file", cfg.File).Msg("configuration loaded")
	}
	return nil
}

func newLogger(w io.Writer, level string) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("log level %q: %w", level, err)
	}
	if lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	out := zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	return zerolog.New(out).Level(lvl).With().Timestamp().Logger(), nil
}

// =============================================================================
// WIRING
// =============================================================================

// source is an opened record source plus the optional writable store
// behind it.
type source struct {
	lease.Source
	sqlite *sqlite.Store
	close  func()
}

// openSource opens the configured store driver.
func (a *app) openSource(ctx context.Context) (*source, error) {
	c := a.cfg.Store
	log := a.logger.With().Str("driver", c.Driver).Logger()

	switch c.Driver {
	case config.DriverMemory:
		mem := store.NewMemory()
		if c.Feed != "" {
			feed, err := factory.LoadFile(c.Feed)
			if err != nil {
				return nil, err
			}
			rs, warnings := feed.RecordSet()
			for _, w := range warnings {
				log.Warn().Str("code", string(w.Code)).Str("amendment_id", string(w.AmendmentID)).Msg(w.Message)
			}
			if mem, err = store.NewMemoryFrom(rs); err != nil {
				return nil, err
			}
			log.Info().Str("feed", c.Feed).Int("amendments", len(rs.Amendments)).Msg("record feed loaded")
		}
		return &source{Source: mem, close: func() {}}, nil

	case config.DriverSQLite:
		db, err := sqlite.New(c.DSN, sqlite.WithLogger(log))
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		return &source{Source: db, sqlite: db, close: func() { _ = db.Close() }}, nil

	case config.DriverPostgres:
		pg, err := postgres.Connect(ctx, c.DSN, postgres.WithLogger(log))
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		return &source{Source: pg, close: pg.Close}, nil
	}
	return nil, fmt.Errorf("store driver %q: %w", c.Driver, config.ErrUnknownDriver)
}

// engineOptions returns the options shared by the configured engine and
// fixture replays.
func (a *app) engineOptions() []engine.Option {
	return []engine.Option{
		engine.WithWorkers(a.cfg.Engine.Workers),
		engine.WithLogger(a.logger),
		engine.WithRecorder(a.registry),
	}
}

// newEngine builds the engine with the configured memo cache. The returned
// func closes the cache.
func (a *app) newEngine(ctx context.Context) (*engine.Engine, func() error, error) {
	memo, closeCache, err := a.cfg.Cache.NewCache(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s cache: %w", a.cfg.Cache.Kind, err)
	}
	opts := append(a.engineOptions(), engine.WithCache(memo))
	eng := engine.New(resolver.New(a.policies.Resolver, resolver.WithLogger(a.logger)), a.policies.Charges, opts...)
	return eng, closeCache, nil
}

// reportDateFlag parses --date, defaulting to today.
func reportDateFlag(s string) (lease.Date, error) {
	if s == "" {
		return lease.DateOf(time.Now()), nil
	}
	return lease.ParseDate(s)
}

// periodFlags parses --start/--end. Both empty means no period.
func periodFlags(start, end string) (*lease.Period, error) {
	if start == "" && end == "" {
		return nil, nil
	}
	if start == "" || end == "" {
		return nil, fmt.Errorf("--start and --end go together: %w", lease.ErrInvalidPeriod)
	}
	s, err := lease.ParseDate(start)
	if err != nil {
		return nil, fmt.Errorf("--start: %w", err)
	}
	e, err := lease.ParseDate(end)
	if err != nil {
		return nil, fmt.Errorf("--end: %w", err)
	}
	p := lease.Period{Start: s, End: e}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}
