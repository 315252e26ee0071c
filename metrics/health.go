package metrics

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// PORTFOLIO HEALTH SCORE - Pure lookup tables
// =============================================================================
//
// Four sub-scores, each bucketed independently onto 0..100 points, then
// weighted:
//
//   occupancy   30   occupied / rentable area
//   noi_margin  30   NOI / revenue
//   credit_mix  20   share of rent from investment-grade customers
//   retention   20   renewals / (renewals + terminations)
//
// A value takes the points of the first bucket whose floor it reaches.

type bucket struct {
	floor  decimal.Decimal
	points int
}

func tier(floor string, points int) bucket {
	return bucket{floor: decimal.RequireFromString(floor), points: points}
}

type healthTable struct {
	name    string
	weight  int
	buckets []bucket
}

var healthTables = []healthTable{
	{"occupancy", 30, []bucket{tier("0.95", 100), tier("0.90", 80), tier("0.85", 60), tier("0.75", 40), tier("0.60", 20)}},
	{"noi_margin", 30, []bucket{tier("0.65", 100), tier("0.55", 80), tier("0.45", 60), tier("0.35", 40), tier("0.20", 20)}},
	{"credit_mix", 20, []bucket{tier("0.60", 100), tier("0.45", 80), tier("0.30", 60), tier("0.15", 40), tier("0.05", 20)}},
	{"retention", 20, []bucket{tier("0.80", 100), tier("0.70", 80), tier("0.60", 60), tier("0.50", 40), tier("0.35", 20)}},
}

func (t healthTable) points(v decimal.Decimal) int {
	for _, bk := range t.buckets {
		if v.GreaterThanOrEqual(bk.floor) {
			return bk.points
		}
	}
	return 0
}

// HealthInputs are fractions in [0, 1].
type HealthInputs struct {
	Occupancy decimal.Decimal `json:"occupancy"`
	NOIMargin decimal.Decimal `json:"noi_margin"`
	CreditMix decimal.Decimal `json:"credit_mix"`
	Retention decimal.Decimal `json:"retention"`
}

type HealthComponent struct {
	Name   string          `json:"name"`
	Value  decimal.Decimal `json:"value"`
	Points int             `json:"points"`
	Weight int             `json:"weight"`
}

type HealthScore struct {
	Score      decimal.Decimal   `json:"score"` // 0..100
	Components []HealthComponent `json:"components"`
}

// ScoreHealth maps inputs through the fixed tables.
func ScoreHealth(in HealthInputs) HealthScore {
	values := []decimal.Decimal{in.Occupancy, in.NOIMargin, in.CreditMix, in.Retention}
	out := HealthScore{Components: make([]HealthComponent, 0, len(healthTables))}
	weighted := 0
	for i, t := range healthTables {
		p := t.points(values[i])
		weighted += p * t.weight
		out.Components = append(out.Components, HealthComponent{
			Name: t.name, Value: values[i], Points: p, Weight: t.weight,
		})
	}
	out.Score = decimal.NewFromInt(int64(weighted)).Div(decimal.NewFromInt(100))
	return out
}
