/*
fixtures.go - Built-in scenario endpoints

PURPOSE:
  The regression fixtures double as demo data sets. These endpoints list
  them, replay them through the engine, and load one into a writable store
  so the metric endpoints can be explored against known answers.

ENDPOINTS:
  GET    /api/fixtures            List fixtures
  GET    /api/fixtures/current    Fixture currently loaded, if any
  POST   /api/fixtures/replay     Replay every fixture, report failures
  POST   /api/fixtures/load       Reset the store and load one fixture's records

SEE ALSO:
  - validation/fixture.go: fixture format and replay
  - validation/fixtures/: the built-in set
*/
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/warp/lease-engine/engine"
	"github.com/warp/lease-engine/lease"
	"github.com/warp/lease-engine/validation"
)

type fixtures struct {
	list    []validation.Fixture
	loaded  bool
	mu      sync.Mutex
	current string
}

// fixtureList returns the configured fixtures, reading the built-in set on
// first use.
func (h *Handler) fixtureList() ([]validation.Fixture, error) {
	h.fixtures.mu.Lock()
	defer h.fixtures.mu.Unlock()

	if h.fixtures.list == nil && !h.fixtures.loaded {
		fs, err := validation.DefaultFixtures()
		if err != nil {
			return nil, err
		}
		h.fixtures.list = fs
	}
	h.fixtures.loaded = true
	return h.fixtures.list, nil
}

// ListFixtures returns available fixtures.
func (h *Handler) ListFixtures(w http.ResponseWriter, r *http.Request) {
	list, err := h.fixtureList()
	if err != nil {
		h.fail(w, r, "Failed to read fixtures", err)
		return
	}
	out := make([]FixtureDTO, 0, len(list))
	for _, f := range list {
		out = append(out, FixtureDTO{
			Name:        f.Name,
			Description: f.Description,
			ReportDate:  f.ReportDate,
			Amendments:  len(f.Records.Amendments),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// GetCurrentFixture returns the fixture last loaded into the store.
func (h *Handler) GetCurrentFixture(w http.ResponseWriter, r *http.Request) {
	h.fixtures.mu.Lock()
	name := h.fixtures.current
	h.fixtures.mu.Unlock()

	writeJSON(w, http.StatusOK, CurrentFixtureResponse{Name: name})
}

// ReplayFixtures runs every fixture and reports each failure.
func (h *Handler) ReplayFixtures(w http.ResponseWriter, r *http.Request) {
	list, err := h.fixtureList()
	if err != nil {
		h.fail(w, r, "Failed to read fixtures", err)
		return
	}

	opts := []engine.Option{engine.WithLogger(h.logger)}
	if h.registry != nil {
		opts = append(opts, engine.WithRecorder(h.registry))
	}
	results, err := validation.Replay(r.Context(), list, opts...)
	if err != nil {
		h.fail(w, r, "Replay interrupted", err)
		return
	}

	passed := validation.AllPassed(results)
	for _, res := range results {
		if !res.Passed {
			h.logger.Warn().Str("fixture", res.Name).Strs("failures", res.Failures).Msg("fixture failed")
		}
	}
	writeJSON(w, http.StatusOK, ReplayResponse{Passed: passed, Results: results})
}

// LoadFixture replaces the store content with one fixture's records.
func (h *Handler) LoadFixture(w http.ResponseWriter, r *http.Request) {
	if h.writer == nil {
		h.fail(w, r, "Cannot load fixture", ErrReadOnly)
		return
	}
	var req LoadFixtureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.fail(w, r, "Invalid request body", fmt.Errorf("%w: %v", ErrBadParameter, err))
		return
	}

	list, err := h.fixtureList()
	if err != nil {
		h.fail(w, r, "Failed to read fixtures", err)
		return
	}
	var found *validation.Fixture
	for i := range list {
		if list[i].Name == req.Name {
			found = &list[i]
			break
		}
	}
	if found == nil {
		h.fail(w, r, "Unknown fixture", fmt.Errorf("fixture %q: %w", req.Name, lease.ErrNotFound))
		return
	}

	ctx := r.Context()

	// Reset first
	h.fixtures.mu.Lock()
	defer h.fixtures.mu.Unlock()
	h.fixtures.current = ""
	if err := h.writer.Reset(ctx); err != nil {
		h.fail(w, r, "Failed to reset store", err)
		return
	}
	if err := h.writer.AppendFeed(ctx, found.Records); err != nil {
		h.fail(w, r, "Failed to load fixture", err)
		return
	}
	h.fixtures.current = found.Name

	writeJSON(w, http.StatusOK, map[string]string{
		"status":      "loaded",
		"fixture":     found.Name,
		"report_date": found.ReportDate,
	})
}
