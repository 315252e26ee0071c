package metrics

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/warp/lease-engine/lease"
)

// =============================================================================
// NET ABSORPTION
// =============================================================================
//
//   commenced = Σ area of NewLease + Renewal events starting in the period
//   expired   = Σ area of Termination events ending in the period
//   net       = commenced - expired
//
// Computed per property, then summed. The portfolio row is always the sum
// of the property rows, so Σ(property net) == portfolio commenced - expired.

type AbsorptionRow struct {
	PropertyID lease.PropertyID `json:"property_id,omitempty"`
	Commenced  decimal.Decimal  `json:"sf_commenced"`
	Expired    decimal.Decimal  `json:"sf_expired"`
	Net        decimal.Decimal  `json:"net_absorption"`
}

type AbsorptionReport struct {
	Period     lease.Period    `json:"period"`
	SameStore  bool            `json:"same_store"`
	Window     int             `json:"stability_window_months,omitempty"`
	Properties []AbsorptionRow `json:"properties"`
	Portfolio  AbsorptionRow   `json:"portfolio"`
}

// NetAbsorption aggregates classified events of period.
func NetAbsorption(events []ActivityEvent, period lease.Period) (AbsorptionReport, error) {
	if err := period.Validate(); err != nil {
		return AbsorptionReport{}, err
	}
	return absorb(events, period, func(lease.PropertyID) bool { return true }), nil
}

// SameStoreNetAbsorption restricts NetAbsorption to properties held for the
// whole comparison: acquired on or before period start minus windowMonths
// and not disposed by period end. Properties without an acquisition date
// are not same-store. windowMonths has no default and must be positive.
func SameStoreNetAbsorption(events []ActivityEvent, properties []lease.Property, period lease.Period, windowMonths int) (AbsorptionReport, error) {
	if windowMonths <= 0 {
		return AbsorptionReport{}, fmt.Errorf("window %d months: %w", windowMonths, lease.ErrStabilityWindowRequired)
	}
	if err := period.Validate(); err != nil {
		return AbsorptionReport{}, err
	}
	stable := SameStoreProperties(properties, period, windowMonths)
	report := absorb(events, period, func(id lease.PropertyID) bool { return stable[id] })
	report.SameStore = true
	report.Window = windowMonths
	return report, nil
}

// SameStoreProperties returns the set of properties held across period
// plus the stability window.
func SameStoreProperties(properties []lease.Property, period lease.Period, windowMonths int) map[lease.PropertyID]bool {
	cutoff := period.Start.AddMonths(-windowMonths)
	out := make(map[lease.PropertyID]bool)
	for _, p := range properties {
		if p.AcquireDate == nil || p.AcquireDate.After(cutoff) {
			continue
		}
		if p.DisposeDate != nil && !p.DisposeDate.After(period.End) {
			continue
		}
		out[p.ID] = true
	}
	return out
}

func absorb(events []ActivityEvent, period lease.Period, include func(lease.PropertyID) bool) AbsorptionReport {
	byProp := make(map[lease.PropertyID]*AbsorptionRow)
	for _, e := range events {
		if !include(e.PropertyID) || !period.Contains(e.Date) {
			continue
		}
		r, ok := byProp[e.PropertyID]
		if !ok {
			r = &AbsorptionRow{PropertyID: e.PropertyID, Commenced: decimal.Zero, Expired: decimal.Zero}
			byProp[e.PropertyID] = r
		}
		switch e.Kind {
		case ActivityNewLease, ActivityRenewal:
			r.Commenced = r.Commenced.Add(e.Area)
		case ActivityTermination:
			r.Expired = r.Expired.Add(e.Area)
		}
	}

	report := AbsorptionReport{
		Period:     period,
		Properties: make([]AbsorptionRow, 0, len(byProp)),
		Portfolio:  AbsorptionRow{Commenced: decimal.Zero, Expired: decimal.Zero, Net: decimal.Zero},
	}
	for _, r := range byProp {
		r.Net = r.Commenced.Sub(r.Expired)
		report.Properties = append(report.Properties, *r)
	}
	sort.Slice(report.Properties, func(i, j int) bool {
		return report.Properties[i].PropertyID < report.Properties[j].PropertyID
	})
	for _, r := range report.Properties {
		report.Portfolio.Commenced = report.Portfolio.Commenced.Add(r.Commenced)
		report.Portfolio.Expired = report.Portfolio.Expired.Add(r.Expired)
		report.Portfolio.Net = report.Portfolio.Net.Add(r.Net)
	}
	return report
}
