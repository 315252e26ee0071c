/*
Package validation measures computed figures against a reference.

PURPOSE:
  A regression gate for the resolver and the metrics. Computed values are
  matched to reference values by (category, metric, key), scored 0..100,
  and aggregated per category and overall. Data-quality counts travel with
  the scores so a reader can tell a wrong formula from incomplete source
  data.

SCORING:
  both zero          -> 100
  opposite signs     -> 0
  otherwise          -> min(|c|, |r|) / max(|c|, |r|) * 100

  A reference value with no computed counterpart scores 0 and is listed as
  missing.

SEE ALSO:
  - flatten.go: metrics -> comparable values
  - reference.go: YAML, JSON and XLSX reference loaders
  - fixture.go: embedded edge-case scenarios and Replay
*/
package validation

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/warp/lease-engine/lease"
)

var hundred = decimal.NewFromInt(100)

// Categories produced by Flatten.
const (
	CategoryRentRoll      = "rent_roll"
	CategoryOccupancy     = "occupancy"
	CategoryExpirations   = "expirations"
	CategoryWALT          = "walt"
	CategoryActivity      = "leasing_activity"
	CategoryAbsorption    = "net_absorption"
	CategorySameStore     = "same_store_absorption"
	CategoryNOI           = "noi"
	CategoryConcentration = "concentration"
	CategoryHealth        = "health"

	// OverallKey names the overall threshold in Thresholds.
	OverallKey = "overall"
	// PortfolioKey is the key of portfolio-level values.
	PortfolioKey = "portfolio"
)

// Value is one comparable figure.
type Value struct {
	Category string          `json:"category"`
	Metric   string          `json:"metric"`
	Key      string          `json:"key"`
	Value    decimal.Decimal `json:"value"`
}

func (v Value) id() string { return v.Category + "|" + v.Metric + "|" + v.Key }

func (v Value) String() string {
	return fmt.Sprintf("%s.%s[%s]=%s", v.Category, v.Metric, v.Key, v.Value)
}

// Score compares one computed value to its reference.
func Score(computed, reference decimal.Decimal) decimal.Decimal {
	if computed.IsZero() && reference.IsZero() {
		return hundred
	}
	if computed.Sign()*reference.Sign() < 0 {
		return decimal.Zero
	}
	c, r := computed.Abs(), reference.Abs()
	lo, hi := decimal.Min(c, r), decimal.Max(c, r)
	return lo.Div(hi).Mul(hundred)
}

// =============================================================================
// REPORT
// =============================================================================

type Discrepancy struct {
	Category  string          `json:"category"`
	Metric    string          `json:"metric"`
	Key       string          `json:"key"`
	Computed  decimal.Decimal `json:"computed"`
	Reference decimal.Decimal `json:"reference"`
	Score     decimal.Decimal `json:"score"`
}

type CategoryScore struct {
	Category string          `json:"category"`
	Mean     decimal.Decimal `json:"mean"`
	Min      decimal.Decimal `json:"min"`
	Count    int             `json:"count"`
}

// Report is the accuracy report of one comparison.
type Report struct {
	RunID         string              `json:"run_id,omitempty"`
	ReportDate    lease.Date          `json:"report_date"`
	Overall       decimal.Decimal     `json:"overall"`
	Compared      int                 `json:"compared"`
	Categories    []CategoryScore     `json:"categories"`
	Discrepancies []Discrepancy       `json:"discrepancies"`
	Missing       []Value             `json:"missing"`
	Quality       lease.QualityReport `json:"quality"`
}

// Category returns the score of one category.
func (r Report) Category(name string) (CategoryScore, bool) {
	for _, c := range r.Categories {
		if c.Category == name {
			return c, true
		}
	}
	return CategoryScore{}, false
}

// CategoryMeans flattens the per-category means, overall included, for
// metric exporters.
func (r Report) CategoryMeans() map[string]float64 {
	out := make(map[string]float64, len(r.Categories)+1)
	for _, c := range r.Categories {
		out[c.Category] = c.Mean.InexactFloat64()
	}
	out[OverallKey] = r.Overall.InexactFloat64()
	return out
}

// Compare scores every reference value against its computed counterpart.
// Computed values with no reference are ignored.
func Compare(computed, reference []Value) Report {
	index := make(map[string]Value, len(computed))
	for _, v := range computed {
		index[v.id()] = v
	}

	type acc struct {
		sum, min decimal.Decimal
		n        int
	}
	byCat := make(map[string]*acc)
	report := Report{Overall: decimal.Zero}
	total := decimal.Zero

	for _, ref := range reference {
		c, ok := index[ref.id()]
		score := decimal.Zero
		if ok {
			score = Score(c.Value, ref.Value)
		} else {
			report.Missing = append(report.Missing, ref)
		}
		if ok && score.LessThan(hundred) {
			report.Discrepancies = append(report.Discrepancies, Discrepancy{
				Category: ref.Category, Metric: ref.Metric, Key: ref.Key,
				Computed: c.Value, Reference: ref.Value, Score: score,
			})
		}

		a, seen := byCat[ref.Category]
		if !seen {
			a = &acc{sum: decimal.Zero, min: score}
			byCat[ref.Category] = a
		}
		a.sum = a.sum.Add(score)
		a.min = decimal.Min(a.min, score)
		a.n++
		total = total.Add(score)
		report.Compared++
	}

	for name, a := range byCat {
		report.Categories = append(report.Categories, CategoryScore{
			Category: name,
			Mean:     a.sum.Div(decimal.NewFromInt(int64(a.n))),
			Min:      a.min,
			Count:    a.n,
		})
	}
	sort.Slice(report.Categories, func(i, j int) bool { return report.Categories[i].Category < report.Categories[j].Category })
	sort.SliceStable(report.Discrepancies, func(i, j int) bool {
		return report.Discrepancies[i].Score.LessThan(report.Discrepancies[j].Score)
	})
	if report.Compared > 0 {
		report.Overall = total.Div(decimal.NewFromInt(int64(report.Compared)))
	}
	return report
}

// =============================================================================
// GATE
// =============================================================================

// ErrGateFailed is wrapped by GateError.
var ErrGateFailed = errors.New("validation gate failed")

// Thresholds are minimum mean scores per category. OverallKey applies to
// the overall mean.
type Thresholds map[string]decimal.Decimal

type GateFailure struct {
	Category  string          `json:"category"`
	Score     decimal.Decimal `json:"score"`
	Threshold decimal.Decimal `json:"threshold"`
}

type GateError struct {
	Failures []GateFailure
}

func (e *GateError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s %s < %s", f.Category, f.Score.StringFixed(2), f.Threshold.StringFixed(2)))
	}
	return fmt.Sprintf("%s: %s", ErrGateFailed, strings.Join(parts, ", "))
}

func (e *GateError) Unwrap() error { return ErrGateFailed }

// Gate returns a *GateError listing every category below its threshold.
// A thresholded category absent from the report is not a failure.
func (r Report) Gate(th Thresholds) error {
	names := make([]string, 0, len(th))
	for name := range th {
		names = append(names, name)
	}
	sort.Strings(names)

	var failures []GateFailure
	for _, name := range names {
		min := th[name]
		if name == OverallKey {
			if r.Compared > 0 && r.Overall.LessThan(min) {
				failures = append(failures, GateFailure{Category: name, Score: r.Overall, Threshold: min})
			}
			continue
		}
		if c, ok := r.Category(name); ok && c.Mean.LessThan(min) {
			failures = append(failures, GateFailure{Category: name, Score: c.Mean, Threshold: min})
		}
	}
	if len(failures) > 0 {
		return &GateError{Failures: failures}
	}
	return nil
}
