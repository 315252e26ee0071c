package validation

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/lease-engine/factory"
	"github.com/warp/lease-engine/lease"
	"github.com/warp/lease-engine/metrics"
)

// DefaultExpirationMonths is the expiration window Flatten reports when
// none is given.
const DefaultExpirationMonths = 12

// FlattenOptions selects the period-bound figures. Without a Period only
// report-date figures are produced; NOI and health also need a NOI policy,
// same-store absorption a window.
type FlattenOptions struct {
	Period                *lease.Period
	WALT                  metrics.WALTPolicy
	ExpirationMonths      int
	SameStoreWindowMonths int
	NOI                   *metrics.NOIPolicy
}

// OptionsFrom derives flatten options from configured policies.
func OptionsFrom(p factory.Policies, period *lease.Period) FlattenOptions {
	return FlattenOptions{
		Period:                period,
		WALT:                  p.WALT,
		SameStoreWindowMonths: p.SameStoreWindowMonths,
		NOI:                   p.NOI,
	}
}

type collector struct {
	out []Value
}

func (c *collector) add(category, metric, key string, v decimal.Decimal) {
	c.out = append(c.out, Value{Category: category, Metric: metric, Key: key, Value: v})
}

func (c *collector) count(category, metric, key string, n int) {
	c.add(category, metric, key, decimal.NewFromInt(int64(n)))
}

// Flatten turns the figures of one snapshot into comparable values.
// Lease-level keys are "property/tenant", property-level keys the property
// id, portfolio-level keys PortfolioKey.
func Flatten(calc *metrics.Calculator, opts FlattenOptions) ([]Value, error) {
	c := &collector{}

	// Rent roll
	rows := calc.RentRoll()
	totalRent := decimal.Zero
	for _, r := range rows {
		key := lease.LeaseKey{PropertyID: r.PropertyID, TenantID: r.TenantID}.String()
		c.add(CategoryRentRoll, "monthly_rent", key, r.MonthlyRent)
		c.add(CategoryRentRoll, "rent_psf", key, r.RentPSF)
		c.add(CategoryRentRoll, "leased_area", key, r.LeasedArea)
		totalRent = totalRent.Add(r.MonthlyRent)
	}
	c.count(CategoryRentRoll, "leases", PortfolioKey, len(rows))
	c.add(CategoryRentRoll, "monthly_rent", PortfolioKey, totalRent)

	// Occupancy
	occ, total := calc.Occupancy()
	for _, r := range occ {
		c.add(CategoryOccupancy, "rate", string(r.PropertyID), r.Rate)
	}
	c.add(CategoryOccupancy, "rate", PortfolioKey, total.Rate)
	c.add(CategoryOccupancy, "occupied_area", PortfolioKey, total.OccupiedArea)

	// Expirations
	months := opts.ExpirationMonths
	if months == 0 {
		months = DefaultExpirationMonths
	}
	exp, err := calc.Expirations(months)
	if err != nil {
		return nil, err
	}
	expArea := decimal.Zero
	for _, r := range exp {
		expArea = expArea.Add(r.LeasedArea)
	}
	c.count(CategoryExpirations, "leases", PortfolioKey, len(exp))
	c.add(CategoryExpirations, "area", PortfolioKey, expArea)

	// WALT
	walt := calc.WALT(opts.WALT)
	for _, r := range walt.Properties {
		c.add(CategoryWALT, "months", string(r.PropertyID), r.Months)
	}
	c.add(CategoryWALT, "months", PortfolioKey, walt.Portfolio.Months)
	c.count(CategoryWALT, "excluded_month_to_month", PortfolioKey, walt.Portfolio.ExcludedMonthToMonth)

	// Concentration
	conc, _ := calc.Concentration()
	for _, r := range conc {
		c.add(CategoryConcentration, "rent_share", r.ParentID, r.RentShare)
	}

	if opts.Period == nil {
		return c.out, nil
	}
	period := *opts.Period

	// Leasing activity
	activity, err := calc.LeasingActivity(period)
	if err != nil {
		return nil, err
	}
	_, summary := metrics.SummarizeActivity(activity.Events)
	for _, k := range metrics.ActivityKinds {
		c.count(CategoryActivity, string(k)+"_count", PortfolioKey, summary.Counts[k])
		c.add(CategoryActivity, string(k)+"_area", PortfolioKey, summary.Area[k])
	}
	c.add(CategoryActivity, "retention", PortfolioKey, metrics.Retention(activity.Events))

	// Absorption
	abs, err := metrics.NetAbsorption(activity.Events, period)
	if err != nil {
		return nil, err
	}
	for _, r := range abs.Properties {
		c.add(CategoryAbsorption, "net", string(r.PropertyID), r.Net)
	}
	c.add(CategoryAbsorption, "commenced", PortfolioKey, abs.Portfolio.Commenced)
	c.add(CategoryAbsorption, "expired", PortfolioKey, abs.Portfolio.Expired)
	c.add(CategoryAbsorption, "net", PortfolioKey, abs.Portfolio.Net)

	if opts.SameStoreWindowMonths > 0 {
		same, err := calc.SameStoreNetAbsorption(period, opts.SameStoreWindowMonths)
		if err != nil {
			return nil, err
		}
		c.add(CategorySameStore, "net", PortfolioKey, same.Portfolio.Net)
	}

	if opts.NOI == nil {
		return c.out, nil
	}

	// NOI
	noi, err := calc.NOI(period, *opts.NOI)
	if err != nil {
		return nil, fmt.Errorf("flatten noi: %w", err)
	}
	for _, r := range noi.Properties {
		c.add(CategoryNOI, "noi", string(r.PropertyID), r.NOI)
	}
	c.add(CategoryNOI, "revenue", PortfolioKey, noi.Portfolio.Revenue)
	c.add(CategoryNOI, "expense", PortfolioKey, noi.Portfolio.Expense)
	c.add(CategoryNOI, "noi", PortfolioKey, noi.Portfolio.NOI)
	c.add(CategoryNOI, "margin", PortfolioKey, noi.Portfolio.Margin)

	// Health
	health, err := calc.Health(period, *opts.NOI)
	if err != nil {
		return nil, err
	}
	c.add(CategoryHealth, "score", PortfolioKey, health.Score.Score)
	for _, comp := range health.Score.Components {
		c.count(CategoryHealth, comp.Name+"_points", PortfolioKey, comp.Points)
	}
	return c.out, nil
}

// Evaluate flattens calc, scores it against reference and attaches the
// snapshot's data-quality counts.
func Evaluate(calc *metrics.Calculator, reference []Value, opts FlattenOptions) (Report, error) {
	computed, err := Flatten(calc, opts)
	if err != nil {
		return Report{}, err
	}
	report := Compare(computed, reference)
	report.RunID = uuid.NewString()
	report.ReportDate = calc.ReportDate()
	report.Quality = calc.Snapshot().Quality
	return report, nil
}
