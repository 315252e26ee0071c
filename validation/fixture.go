package validation

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/warp/lease-engine/engine"
	"github.com/warp/lease-engine/factory"
	"github.com/warp/lease-engine/lease"
	"github.com/warp/lease-engine/metrics"
	"github.com/warp/lease-engine/resolver"
)

// =============================================================================
// FIXTURES - Edge-case scenarios replayed before any resolver change ships
// =============================================================================
//
// A fixture is a complete, self-contained scenario:
//
//   name: literal-example
//   report_date: 2025-06-30
//   period: {start: 2025-04-01, end: 2025-06-30}     # optional
//   policy: {...}                                    # factory.PolicyJSON
//   records: {amendments: [...], charges: [...]}     # factory.Feed
//   expect:
//     leases:      [{property_id, tenant_id, amendment_id, sequence,
//                    monthly_rent, rent_psf, flags}]
//     not_current: ["P1/T2"]
//     warnings:    {CHARGE_GAP: 1}
//     values:      [{category, metric, key, value}]
//
// Besides its own expectations every fixture is checked for idempotence
// (two runs, identical output), division safety and, when it has a period,
// the net absorption accounting identity.

//go:embed fixtures/*.yaml
var embedded embed.FS

type PeriodSpec struct {
	Start string `yaml:"start" json:"start"`
	End   string `yaml:"end" json:"end"`
}

type ExpectedLease struct {
	PropertyID  string       `yaml:"property_id"`
	TenantID    string       `yaml:"tenant_id"`
	AmendmentID string       `yaml:"amendment_id"`
	Sequence    *int         `yaml:"sequence"`
	MonthlyRent factory.Text `yaml:"monthly_rent"`
	RentPSF     factory.Text `yaml:"rent_psf"`
	Flags       []string     `yaml:"flags"`
}

type Expectation struct {
	Leases     []ExpectedLease `yaml:"leases"`
	NotCurrent []string        `yaml:"not_current"`
	Warnings   map[string]int  `yaml:"warnings"`
	Values     []valueRow      `yaml:"values"`
}

type Fixture struct {
	Name        string             `yaml:"name"`
	Description string             `yaml:"description"`
	ReportDate  string             `yaml:"report_date"`
	Period      *PeriodSpec        `yaml:"period"`
	Policy      factory.PolicyJSON `yaml:"policy"`
	Records     factory.Feed       `yaml:"records"`
	Expect      Expectation        `yaml:"expect"`
}

func ParseFixture(r io.Reader) (Fixture, error) {
	var f Fixture
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return Fixture{}, fmt.Errorf("failed to parse fixture: %w", err)
	}
	return f, nil
}

// LoadFixtures reads every *.yaml file of dir in fsys, ordered by name.
func LoadFixtures(fsys fs.FS, dir string) ([]Fixture, error) {
	names, err := fs.Glob(fsys, path.Join(dir, "*.yaml"))
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	out := make([]Fixture, 0, len(names))
	for _, name := range names {
		b, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, err
		}
		f, err := ParseFixture(bytes.NewReader(b))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		if f.Name == "" {
			f.Name = strings.TrimSuffix(path.Base(name), ".yaml")
		}
		out = append(out, f)
	}
	return out, nil
}

// DefaultFixtures returns the built-in regression scenarios.
func DefaultFixtures() ([]Fixture, error) {
	return LoadFixtures(embedded, "fixtures")
}

// LoadFixtureDir reads fixtures from a directory on disk.
func LoadFixtureDir(dir string) ([]Fixture, error) {
	return LoadFixtures(os.DirFS(dir), ".")
}

// =============================================================================
// REPLAY
// =============================================================================

// Result is the outcome of one fixture.
type Result struct {
	Name     string   `json:"name"`
	Passed   bool     `json:"passed"`
	Failures []string `json:"failures,omitempty"`
	Report   Report   `json:"report"`
}

// AllPassed reports whether every result passed.
func AllPassed(results []Result) bool {
	for _, r := range results {
		if !r.Passed {
			return false
		}
	}
	return true
}

// Replay runs every fixture through a fresh engine built with opts. A
// fixture that cannot even be set up fails; only context cancellation is
// returned as an error.
func Replay(ctx context.Context, fixtures []Fixture, opts ...engine.Option) ([]Result, error) {
	results := make([]Result, 0, len(fixtures))
	for _, f := range fixtures {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, err := replayOne(ctx, f, opts)
		if err != nil && ctx.Err() != nil {
			return nil, err
		}
		if err != nil {
			res.Failures = append(res.Failures, err.Error())
		}
		res.Name = f.Name
		res.Passed = len(res.Failures) == 0
		results = append(results, res)
	}
	return results, nil
}

type checker struct {
	failures []string
}

func (c *checker) failf(format string, args ...interface{}) {
	c.failures = append(c.failures, fmt.Sprintf(format, args...))
}

func replayOne(ctx context.Context, f Fixture, opts []engine.Option) (Result, error) {
	reportDate, err := lease.ParseDate(f.ReportDate)
	if err != nil {
		return Result{}, fmt.Errorf("report_date: %w", err)
	}
	var period *lease.Period
	if f.Period != nil {
		start, err := lease.ParseDate(f.Period.Start)
		if err != nil {
			return Result{}, fmt.Errorf("period start: %w", err)
		}
		end, err := lease.ParseDate(f.Period.End)
		if err != nil {
			return Result{}, fmt.Errorf("period end: %w", err)
		}
		period = &lease.Period{Start: start, End: end}
	}
	policies, err := f.Policy.Policies()
	if err != nil {
		return Result{}, fmt.Errorf("policy: %w", err)
	}
	reference, err := toValues(f.Expect.Values)
	if err != nil {
		return Result{}, err
	}

	rs, feedWarnings := f.Records.RecordSet()
	if rs.ID == "" {
		rs.ID = "fixture:" + f.Name
	}
	eng := engine.New(resolver.New(policies.Resolver), policies.Charges, opts...)
	first, err := eng.Run(ctx, rs, reportDate)
	if err != nil {
		return Result{}, err
	}
	second, err := eng.Run(ctx, rs, reportDate)
	if err != nil {
		return Result{}, err
	}

	c := &checker{}
	if !sameOutput(first, second) {
		c.failf("idempotence: two runs on identical input differ")
	}
	quality := lease.Summarize(append(append([]lease.Warning(nil), feedWarnings...), first.Warnings...))

	checkLeases(c, first, f.Expect)
	for code, want := range f.Expect.Warnings {
		if got := quality.Counts[lease.WarningCode(code)]; got != want {
			c.failf("warnings %s: want %d, got %d", code, want, got)
		}
	}

	calc := metrics.NewCalculator(first, policies.Resolver)
	computed, err := Flatten(calc, OptionsFrom(policies, period))
	if err != nil {
		return Result{}, err
	}
	report := Compare(computed, reference)
	report.RunID = first.RunID
	report.ReportDate = reportDate
	report.Quality = quality
	for _, d := range report.Discrepancies {
		c.failf("%s.%s[%s]: want %s, got %s", d.Category, d.Metric, d.Key, d.Reference, d.Computed)
	}
	for _, m := range report.Missing {
		c.failf("%s.%s[%s]: not computed", m.Category, m.Metric, m.Key)
	}

	checkInvariants(c, calc, period)
	return Result{Failures: c.failures, Report: report}, nil
}

func sameOutput(a, b *engine.Snapshot) bool {
	ja, errA := json.Marshal(struct {
		L []lease.ResolvedLease
		F []lease.AmendmentRecord
		W []lease.Warning
	}{a.Leases, a.Future, a.Warnings})
	jb, errB := json.Marshal(struct {
		L []lease.ResolvedLease
		F []lease.AmendmentRecord
		W []lease.Warning
	}{b.Leases, b.Future, b.Warnings})
	return errA == nil && errB == nil && bytes.Equal(ja, jb)
}

func parseKey(s string) lease.LeaseKey {
	p, t, _ := strings.Cut(s, "/")
	return lease.LeaseKey{PropertyID: lease.PropertyID(p), TenantID: lease.TenantID(t)}
}

func checkLeases(c *checker, snap *engine.Snapshot, want Expectation) {
	for _, e := range want.Leases {
		key := lease.LeaseKey{PropertyID: lease.PropertyID(e.PropertyID), TenantID: lease.TenantID(e.TenantID)}
		l, ok := snap.Lease(key)
		if !ok {
			c.failf("lease %s: not resolved", key)
			continue
		}
		if e.AmendmentID != "" && string(l.CanonicalAmendmentID) != e.AmendmentID {
			c.failf("lease %s: canonical amendment want %s, got %s", key, e.AmendmentID, l.CanonicalAmendmentID)
		}
		if e.Sequence != nil && l.Sequence != *e.Sequence {
			c.failf("lease %s: sequence want %d, got %d", key, *e.Sequence, l.Sequence)
		}
		checkDecimal(c, key.String()+" monthly_rent", e.MonthlyRent, l.MonthlyRent)
		checkDecimal(c, key.String()+" rent_psf", e.RentPSF, metrics.RentPSF(l.MonthlyRent, l.LeasedArea))
		if e.Flags != nil {
			got := make([]string, 0, len(l.DataQualityFlags))
			for _, f := range l.DataQualityFlags {
				got = append(got, string(f))
			}
			wantFlags := append([]string(nil), e.Flags...)
			sort.Strings(wantFlags)
			if strings.Join(got, ",") != strings.Join(wantFlags, ",") {
				c.failf("lease %s: flags want %v, got %v", key, wantFlags, got)
			}
		}
	}
	for _, k := range want.NotCurrent {
		key := parseKey(k)
		if l, ok := snap.Lease(key); ok && l.IsCurrent(snap.ReportDate) {
			c.failf("lease %s: expected not current on %s", key, snap.ReportDate)
		}
	}
}

func checkDecimal(c *checker, what string, want factory.Text, got decimal.Decimal) {
	if want.String() == "" {
		return
	}
	w, err := decimal.NewFromString(want.String())
	if err != nil {
		c.failf("%s: bad expectation %q", what, want)
		return
	}
	if !w.Equal(got) {
		c.failf("%s: want %s, got %s", what, w, got)
	}
}

func checkInvariants(c *checker, calc *metrics.Calculator, period *lease.Period) {
	for _, r := range calc.RentRoll() {
		if r.LeasedArea.IsZero() && !r.RentPSF.IsZero() {
			c.failf("division safety: %s/%s has zero area and rent_psf %s", r.PropertyID, r.TenantID, r.RentPSF)
		}
	}
	if period == nil {
		return
	}
	abs, err := calc.NetAbsorption(*period)
	if err != nil {
		c.failf("net absorption: %v", err)
		return
	}
	sum := decimal.Zero
	for _, r := range abs.Properties {
		sum = sum.Add(r.Net)
	}
	if !sum.Equal(abs.Portfolio.Commenced.Sub(abs.Portfolio.Expired)) {
		c.failf("absorption identity: property sum %s != commenced - expired %s", sum, abs.Portfolio.Commenced.Sub(abs.Portfolio.Expired))
	}
}
