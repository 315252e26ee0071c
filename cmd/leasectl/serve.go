package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/warp/lease-engine/api"
	"github.com/warp/lease-engine/validation"
)

func serveCmd(a *app) *cobra.Command {
	var (
		port     int
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Long: `Serve the HTTP API over the configured record source.

With the sqlite driver the API also accepts record feeds, loads fixtures and
keeps validation history. When validation.reference is set, the reference is
re-scored every --validate-every as of validation.report_date, or as of the
last day of the previous month when that is unset.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("port") {
				a.cfg.Server.Port = port
			}
			return a.serve(cmd.Context(), interval)
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "HTTP port, overrides server.port")
	cmd.Flags().DurationVar(&interval, "validate-every", api.DefaultValidationInterval, "scheduled validation interval")
	return cmd
}

func (a *app) serve(ctx context.Context, interval time.Duration) error {
	if ctx == nil {
		ctx = context.Background()
	}
	log := a.logger

	src, err := a.openSource(ctx)
	if err != nil {
		return err
	}
	defer src.close()

	eng, closeCache, err := a.newEngine(ctx)
	if err != nil {
		return err
	}
	defer closeCache()

	opts := []api.HandlerOption{
		api.WithLogger(log),
		api.WithRegistry(a.registry),
		api.WithThresholds(a.cfg.Thresholds()),
	}
	if src.sqlite != nil {
		opts = append(opts, api.WithWriter(src.sqlite), api.WithRunStore(src.sqlite))
	}
	if dir := a.cfg.Validation.Fixtures; dir != "" {
		fixtures, err := a.fixtures()
		if err != nil {
			return err
		}
		log.Info().Str("dir", dir).Int("fixtures", len(fixtures)).Msg("fixtures loaded")
		opts = append(opts, api.WithFixtures(fixtures))
	}
	handler := api.NewHandler(src.Source, eng, a.policies, opts...)

	// Scheduled validation
	var scheduler *api.ValidationScheduler
	if path := a.cfg.Validation.Reference; path != "" {
		reference, err := validation.LoadReferenceFile(path)
		if err != nil {
			return fmt.Errorf("load reference %s: %w", path, err)
		}
		reportDate, err := a.cfg.Validation.ScheduledReportDate(time.Now)
		if err != nil {
			return err
		}
		scheduler = api.NewValidationScheduler(handler, reference)
		scheduler.Interval = interval
		scheduler.ReportDate = reportDate
		scheduler.Start()
		defer scheduler.Stop()
	}

	router := api.NewRouter(handler, api.RouterOptions{CORSOrigins: a.cfg.Server.CORSOrigins})
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Int("port", a.cfg.Server.Port).
			Str("driver", a.cfg.Store.Driver).
			Str("cache", a.cfg.Cache.Kind).
			Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-quit:
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	log.Info().Msg("server stopped")
	return nil
}

// fixtures returns the embedded fixtures plus those of validation.fixtures.
func (a *app) fixtures() ([]validation.Fixture, error) {
	fixtures, err := validation.DefaultFixtures()
	if err != nil {
		return nil, err
	}
	if dir := a.cfg.Validation.Fixtures; dir != "" {
		extra, err := validation.LoadFixtureDir(dir)
		if err != nil {
			return nil, fmt.Errorf("load fixtures %s: %w", dir, err)
		}
		fixtures = append(fixtures, extra...)
	}
	return fixtures, nil
}
