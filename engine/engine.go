/*
Package engine runs one batch computation per report date.

PURPOSE:
  Turns a RecordSet into a Snapshot: every (property, tenant) pair
  resolved, priced and flagged for one report date. Metrics and the API
  read Snapshots; they never call the resolver directly.

PIPELINE:
  1. Sanitize      - drop malformed records, one warning each
  2. Group         - bucket amendments by (property, tenant)
  3. Map           - resolve + aggregate charges per group, in parallel
  4. Reduce        - collect slot results in key order, summarize warnings

CONCURRENCY:
  Groups share no mutable state. Each worker writes only its own slot of a
  pre-sized result slice, so the reduce step needs no lock. Cancelling the
  context abandons the whole run; there is no partial result.

MEMOIZATION:
  When the RecordSet has an ID, per-group results are cached under
  (set id + policy fingerprint, pair, report date). A cache failure is
  logged and the group is recomputed.

SEE ALSO:
  - resolver/resolver.go: step 3, canonical selection
  - charges/aggregator.go: step 3, rent
  - cache/cache.go: memo backends
*/
package engine

import (
	"context"
	"fmt"
	"hash/fnv"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/warp/lease-engine/cache"
	"github.com/warp/lease-engine/charges"
	"github.com/warp/lease-engine/lease"
	"github.com/warp/lease-engine/resolver"
)

// =============================================================================
// SNAPSHOT - Output of one run
// =============================================================================

// Snapshot is the resolved state of a portfolio on one report date.
type Snapshot struct {
	RunID       string                  `json:"run_id"`
	RecordSetID string                  `json:"record_set_id,omitempty"`
	ReportDate  lease.Date              `json:"report_date"`
	Leases      []lease.ResolvedLease   `json:"leases"`
	Future      []lease.AmendmentRecord `json:"future"`
	Warnings    []lease.Warning         `json:"warnings"`
	Quality     lease.QualityReport     `json:"quality"`

	// Records is the sanitized input the snapshot was computed from.
	Records *lease.RecordSet `json:"-"`
	// Charges prices any amendment of Records on any date.
	Charges *charges.Aggregator `json:"-"`
}

// Lease returns the resolved lease of a pair.
func (s *Snapshot) Lease(key lease.LeaseKey) (lease.ResolvedLease, bool) {
	i := sort.Search(len(s.Leases), func(i int) bool { return !s.Leases[i].Key().Less(key) })
	if i < len(s.Leases) && s.Leases[i].Key() == key {
		return s.Leases[i], true
	}
	return lease.ResolvedLease{}, false
}

// AddWarnings attaches warnings raised before the run, typically rows the
// source could not parse, and refreshes the quality report.
func (s *Snapshot) AddWarnings(ws ...lease.Warning) {
	if len(ws) == 0 {
		return
	}
	s.Warnings = append(append([]lease.Warning(nil), ws...), s.Warnings...)
	s.Quality = lease.Summarize(s.Warnings)
}

// Current returns the leases in force on the report date.
func (s *Snapshot) Current() []lease.ResolvedLease {
	var out []lease.ResolvedLease
	for _, l := range s.Leases {
		if l.IsCurrent(s.ReportDate) {
			out = append(out, l)
		}
	}
	return out
}

// WarningsFor returns the warnings attached to one pair.
func (s *Snapshot) WarningsFor(key lease.LeaseKey) []lease.Warning {
	var out []lease.Warning
	for _, w := range s.Warnings {
		if w.Key == key {
			out = append(out, w)
		}
	}
	return out
}

// =============================================================================
// ENGINE
// =============================================================================

// Recorder receives run telemetry. Implemented by telemetry.Registry.
type Recorder interface {
	ObserveRun(duration time.Duration, leases int, warnings []lease.Warning)
	ObserveCache(backend string, hit bool)
}

type nopRecorder struct{}

func (nopRecorder) ObserveRun(time.Duration, int, []lease.Warning) {}
func (nopRecorder) ObserveCache(string, bool)                      {}

type Engine struct {
	resolver     *resolver.Resolver
	chargePolicy charges.Policy
	cache        cache.Cache
	workers      int
	logger       zerolog.Logger
	recorder     Recorder
	now          func() time.Time
	fingerprint  string
}

type Option func(*Engine)

func WithCache(c cache.Cache) Option {
	return func(e *Engine) {
		if c != nil {
			e.cache = c
		}
	}
}

// WithWorkers bounds parallel group resolution. n <= 0 means GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(e *Engine) { e.workers = n }
}

func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

func WithRecorder(r Recorder) Option {
	return func(e *Engine) {
		if r != nil {
			e.recorder = r
		}
	}
}

// WithClock overrides the clock used to time runs. It never affects results.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func New(res *resolver.Resolver, chargePolicy charges.Policy, opts ...Option) *Engine {
	e := &Engine{
		resolver:     res,
		chargePolicy: chargePolicy,
		cache:        cache.Nop{},
		logger:       zerolog.Nop(),
		recorder:     nopRecorder{},
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.workers <= 0 {
		e.workers = runtime.GOMAXPROCS(0)
	}
	e.fingerprint = policyFingerprint(res.Policy(), chargePolicy)
	return e
}

// Run computes the snapshot of rs on reportDate.
func (e *Engine) Run(ctx context.Context, rs *lease.RecordSet, reportDate lease.Date) (*Snapshot, error) {
	if reportDate.IsZero() {
		return nil, lease.ErrReportDateRequired
	}
	if rs == nil {
		rs = &lease.RecordSet{}
	}
	started := e.now()
	runID := uuid.NewString()
	log := e.logger.With().Str("run_id", runID).Str("report_date", reportDate.String()).Logger()

	// 1. Sanitize
	clean, warnings := rs.Sanitize()
	for _, w := range warnings {
		log.Warn().Str("code", string(w.Code)).Msg(w.Message)
	}
	warnings = append(warnings, clean.OrphanedTerminations()...)

	// 2. Group
	agg := charges.NewAggregator(clean.Charges, e.chargePolicy)
	groups := lease.GroupAmendments(clean.Amendments)
	keys := lease.SortedKeys(groups)

	// 3. Map
	slots := make([]cache.Entry, len(keys))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i, key := range keys {
		i, key := i, key
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			slots[i] = e.resolveGroup(gctx, log, clean.ID, key, groups[key], agg, reportDate)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("run %s abandoned: %w", runID, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("run %s abandoned: %w", runID, err)
	}

	// 4. Reduce
	snap := &Snapshot{
		RunID:       runID,
		RecordSetID: clean.ID,
		ReportDate:  reportDate,
		Leases:      make([]lease.ResolvedLease, 0, len(keys)),
		Records:     clean,
		Charges:     agg,
	}
	for _, slot := range slots {
		if slot.Lease != nil {
			snap.Leases = append(snap.Leases, *slot.Lease)
		}
		if slot.Future != nil {
			snap.Future = append(snap.Future, *slot.Future)
		}
		warnings = append(warnings, slot.Warnings...)
	}
	snap.Warnings = warnings
	snap.Quality = lease.Summarize(warnings)

	elapsed := e.now().Sub(started)
	e.recorder.ObserveRun(elapsed, len(snap.Leases), warnings)
	log.Info().
		Int("pairs", len(keys)).
		Int("leases", len(snap.Leases)).
		Int("warnings", snap.Quality.Total).
		Dur("duration", elapsed).
		Msg("batch run complete")
	return snap, nil
}

func (e *Engine) resolveGroup(ctx context.Context, log zerolog.Logger, setID string, key lease.LeaseKey, group []lease.AmendmentRecord, agg *charges.Aggregator, reportDate lease.Date) cache.Entry {
	memoize := setID != ""
	ck := cache.Key{SetID: setID + "#" + e.fingerprint, Lease: key, ReportDate: reportDate}

	if memoize {
		entry, hit, err := e.cache.Get(ctx, ck)
		if err != nil {
			log.Warn().Err(err).Str("key", key.String()).Msg("cache lookup failed, recomputing")
		}
		e.recorder.ObserveCache(e.cache.Name(), hit)
		if hit {
			return entry
		}
	}

	res := e.resolver.ResolveGroup(key, group, reportDate)
	resolved, chargeWarnings := agg.Apply(res, reportDate)
	entry := cache.Entry{
		Lease:    resolved,
		Future:   res.Future,
		Warnings: append(res.Warnings, chargeWarnings...),
	}
	for _, w := range entry.Warnings {
		log.Debug().Str("code", string(w.Code)).Str("key", key.String()).Msg(w.Message)
	}

	if memoize {
		if err := e.cache.Set(ctx, ck, entry); err != nil {
			log.Warn().Err(err).Str("key", key.String()).Msg("cache store failed")
		}
	}
	return entry
}

// policyFingerprint distinguishes cache entries computed under different
// eligibility or rent-code configurations.
func policyFingerprint(rp resolver.Policy, cp charges.Policy) string {
	var parts []string
	for s, ok := range rp.EligibleStatuses {
		if ok {
			parts = append(parts, "s:"+s.String())
		}
	}
	for t, ok := range rp.ExcludedTypes {
		if ok {
			parts = append(parts, "t:"+t.String())
		}
	}
	for _, c := range cp.RentCodes {
		parts = append(parts, "c:"+strings.ToLower(string(c)))
	}
	parts = append(parts, fmt.Sprintf("f:%t", cp.FallbackToPriorSequence))
	sort.Strings(parts)

	h := fnv.New64a()
	_, _ = h.Write([]byte(strings.Join(parts, "|")))
	return fmt.Sprintf("%016x", h.Sum64())
}
