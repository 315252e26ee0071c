/*
scheduler.go - Periodic validation runs

PURPOSE:
  Re-scores the engine against a reference set on a fixed interval, so a
  drift between the engine and the books of record shows up in the run
  history and on /metrics without anyone calling POST /api/validation.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Each run takes its report date from ReportDate; the caller decides
    whether that is a pinned date or the last closed month. Without one,
    the scheduler stays off and RunNow fails
  - Results go through the same path as POST /api/validation: gate,
    telemetry, run history
  - A failing run is logged, never fatal

CONFIGURATION:
  - Interval: How often to run (default: 24 hours)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewValidationScheduler(handler, reference)
  scheduler.ReportDate = func() lease.Date { return quarterEnd }
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: Validate endpoint (manual runs)
  - validation/flatten.go: Evaluate
*/
package api

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/warp/lease-engine/lease"
	"github.com/warp/lease-engine/validation"
)

// DefaultValidationInterval is the scheduler interval when none is set.
const DefaultValidationInterval = 24 * time.Hour

// ValidationScheduler runs reference validation periodically.
type ValidationScheduler struct {
	Handler   *Handler
	Reference []validation.Value
	Interval  time.Duration
	Enabled   bool
	// ReportDate supplies the report date of each run. Required.
	ReportDate func() lease.Date
	// Period, when set, is passed to every run.
	Period *PeriodRequest

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex

	lastMu sync.Mutex
	last   *ValidationResponse
}

// NewValidationScheduler creates a new scheduler.
func NewValidationScheduler(h *Handler, reference []validation.Value) *ValidationScheduler {
	return &ValidationScheduler{
		Handler:   h,
		Reference: reference,
		Interval:  DefaultValidationInterval,
		Enabled:   true,
	}
}

// Start begins the scheduler.
func (s *ValidationScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := s.Handler.logger
	if !s.Enabled || len(s.Reference) == 0 {
		log.Info().Msg("validation scheduler disabled")
		return
	}
	if s.ReportDate == nil {
		log.Warn().Msg("validation scheduler disabled: no report date source")
		return
	}
	if s.ticker != nil {
		return
	}

	s.ticker = time.NewTicker(s.Interval)
	s.stop = make(chan struct{})
	s.wg.Add(1)

	go s.run()

	log.Info().Dur("interval", s.Interval).Int("reference_values", len(s.Reference)).Msg("validation scheduler started")
}

// Stop stops the scheduler and waits for a run in progress.
func (s *ValidationScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		s.ticker.Stop()
		close(s.stop)
		s.wg.Wait()
		s.ticker = nil
		s.Handler.logger.Info().Msg("validation scheduler stopped")
	}
}

func (s *ValidationScheduler) run() {
	defer s.wg.Done()

	// Run immediately on start
	s.runOnce()

	for {
		select {
		case <-s.ticker.C:
			s.runOnce()
		case <-s.stop:
			return
		}
	}
}

func (s *ValidationScheduler) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), s.Interval)
	defer cancel()

	if _, err := s.RunNow(ctx); err != nil {
		s.Handler.logger.Error().Err(err).Msg("scheduled validation failed to run")
	}
}

// RunNow triggers an immediate run (for testing/admin).
func (s *ValidationScheduler) RunNow(ctx context.Context) (ValidationResponse, error) {
	if s.ReportDate == nil {
		return ValidationResponse{}, fmt.Errorf("scheduled validation: %w", lease.ErrReportDateRequired)
	}
	reportDate := s.ReportDate()
	resp, err := s.Handler.validate(ctx, ValidationRequest{
		ReportDate: reportDate.String(),
		Period:     s.Period,
		Reference:  s.Reference,
	})
	if err != nil {
		return ValidationResponse{}, err
	}
	if !resp.Passed {
		s.Handler.logger.Warn().
			Str("run_id", resp.Report.RunID).
			Str("report_date", reportDate.String()).
			Int("failures", len(resp.Failures)).
			Msg("scheduled validation below threshold")
	}

	s.lastMu.Lock()
	s.last = &resp
	s.lastMu.Unlock()
	return resp, nil
}

// Last returns the most recent scheduled result, nil before the first run.
func (s *ValidationScheduler) Last() *ValidationResponse {
	s.lastMu.Lock()
	defer s.lastMu.Unlock()
	return s.last
}

