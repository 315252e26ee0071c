package metrics

import (
	"fmt"

	"github.com/warp/lease-engine/engine"
	"github.com/warp/lease-engine/lease"
	"github.com/warp/lease-engine/resolver"
)

// Calculator binds every figure to one engine snapshot, so callers pass
// only the parameters that are genuinely per-query (period, window, book).
type Calculator struct {
	snap      *engine.Snapshot
	policy    resolver.Policy
	hierarchy *Hierarchy
}

// NewCalculator wraps snap. policy must be the eligibility policy the
// snapshot was resolved with; activity classification reuses it.
func NewCalculator(snap *engine.Snapshot, policy resolver.Policy) *Calculator {
	records := snap.Records
	if records == nil {
		records = &lease.RecordSet{}
	}
	return &Calculator{
		snap:      snap,
		policy:    policy,
		hierarchy: NewHierarchy(records.Customers),
	}
}

func (c *Calculator) Snapshot() *engine.Snapshot { return c.snap }
func (c *Calculator) ReportDate() lease.Date     { return c.snap.ReportDate }
func (c *Calculator) Hierarchy() *Hierarchy      { return c.hierarchy }

func (c *Calculator) records() *lease.RecordSet {
	if c.snap.Records == nil {
		return &lease.RecordSet{}
	}
	return c.snap.Records
}

func (c *Calculator) RentRoll() []RentRollRow {
	return RentRoll(c.snap.Leases, c.snap.ReportDate)
}

func (c *Calculator) Occupancy() ([]OccupancyRow, OccupancyRow) {
	return Occupancy(c.snap.Leases, c.records().Properties, c.snap.ReportDate)
}

func (c *Calculator) Expirations(months int) ([]ExpirationRow, error) {
	return Expirations(c.snap.Leases, c.snap.ReportDate, months)
}

func (c *Calculator) FutureLeases() []FutureLeaseRow {
	return FutureLeases(c.snap.Future, c.snap.Charges, c.snap.ReportDate)
}

func (c *Calculator) WALT(policy WALTPolicy) WALTReport {
	return WALT(c.snap.Leases, c.snap.ReportDate, policy)
}

func (c *Calculator) LeasingActivity(period lease.Period) (ActivityResult, error) {
	rs := c.records()
	return LeasingActivity(rs.Amendments, rs.Terminations, period, c.policy)
}

func (c *Calculator) NetAbsorption(period lease.Period) (AbsorptionReport, error) {
	activity, err := c.LeasingActivity(period)
	if err != nil {
		return AbsorptionReport{}, err
	}
	return NetAbsorption(activity.Events, period)
}

func (c *Calculator) SameStoreNetAbsorption(period lease.Period, windowMonths int) (AbsorptionReport, error) {
	if windowMonths <= 0 {
		return AbsorptionReport{}, fmt.Errorf("window %d months: %w", windowMonths, lease.ErrStabilityWindowRequired)
	}
	activity, err := c.LeasingActivity(period)
	if err != nil {
		return AbsorptionReport{}, err
	}
	return SameStoreNetAbsorption(activity.Events, c.records().Properties, period, windowMonths)
}

func (c *Calculator) NOI(period lease.Period, policy NOIPolicy) (NOIReport, error) {
	return NOI(c.records().Ledger, period, policy)
}

func (c *Calculator) Concentration() ([]ConcentrationRow, []lease.Warning) {
	return Concentration(c.snap.Leases, c.hierarchy, c.snap.ReportDate)
}

// HealthReport carries the derived inputs next to the score, so a reader
// can trace every point.
type HealthReport struct {
	Period lease.Period `json:"period"`
	Inputs HealthInputs `json:"inputs"`
	Score  HealthScore  `json:"score"`
}

// Health scores the portfolio: occupancy on the report date, NOI margin and
// retention over period, credit mix on the report date.
func (c *Calculator) Health(period lease.Period, noi NOIPolicy) (HealthReport, error) {
	_, occ := c.Occupancy()
	noiReport, err := c.NOI(period, noi)
	if err != nil {
		return HealthReport{}, fmt.Errorf("health noi: %w", err)
	}
	activity, err := c.LeasingActivity(period)
	if err != nil {
		return HealthReport{}, fmt.Errorf("health activity: %w", err)
	}
	in := HealthInputs{
		Occupancy: occ.Rate,
		NOIMargin: noiReport.Portfolio.Margin,
		CreditMix: CreditMix(c.snap.Leases, c.hierarchy, c.snap.ReportDate),
		Retention: Retention(activity.Events),
	}
	return HealthReport{Period: period, Inputs: in, Score: ScoreHealth(in)}, nil
}
