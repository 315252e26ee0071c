/*
Package metrics derives portfolio figures from resolved leases.

PURPOSE:
  Every figure here is a pure function of resolved leases, charge data,
  ledger rows and an explicit report date or period. Nothing re-implements
  canonical selection: leases come from the engine snapshot.

FIGURES:
  rentroll.go    - rent roll, rent PSF, occupancy, expirations, future leases
  walt.go        - weighted average remaining lease term
  activity.go    - leasing activity classification
  absorption.go  - net absorption, same-store net absorption
  noi.go         - net operating income per accounting book
  hierarchy.go   - parent-company hierarchy, tenant concentration, credit mix
  health.go      - portfolio health score lookup tables
  calculator.go  - binds all of the above to one engine snapshot

NUMERIC POLICY:
  - Division by zero yields 0, never NaN or an error (PSF, occupancy, WALT).
  - Negative rent (credits, free rent) is preserved, never clamped.
*/
package metrics

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/warp/lease-engine/charges"
	"github.com/warp/lease-engine/lease"
)

var twelve = decimal.NewFromInt(12)

// RentPSF is annual rent per square foot: monthly * 12 / area, or 0 when
// the area is zero.
func RentPSF(monthlyRent, area decimal.Decimal) decimal.Decimal {
	if area.IsZero() {
		return decimal.Zero
	}
	return monthlyRent.Mul(twelve).Div(area)
}

// ratio returns num/den, or 0 when den is zero.
func ratio(num, den decimal.Decimal) decimal.Decimal {
	if den.IsZero() {
		return decimal.Zero
	}
	return num.Div(den)
}

// =============================================================================
// RENT ROLL
// =============================================================================

// RentRollRow is one line of the rent roll. Field names are a stable
// output contract.
type RentRollRow struct {
	PropertyID       lease.PropertyID    `json:"property_id"`
	TenantID         lease.TenantID      `json:"tenant_id"`
	AmendmentID      lease.AmendmentID   `json:"amendment_id"`
	Sequence         int                 `json:"sequence"`
	Type             lease.AmendmentType `json:"type"`
	LeasedArea       decimal.Decimal     `json:"leased_area"`
	MonthlyRent      decimal.Decimal     `json:"monthly_rent"`
	GrossMonthlyRent decimal.Decimal     `json:"gross_monthly_rent"`
	AnnualRent       decimal.Decimal     `json:"annual_rent"`
	RentPSF          decimal.Decimal     `json:"rent_psf"`
	StartDate        lease.Date          `json:"start_date"`
	EndDate          *lease.Date         `json:"end_date"`
	IsMonthToMonth   bool                `json:"is_month_to_month"`
	Flags            lease.Flags         `json:"data_quality_flags"`
}

// RentRoll lists leases current on reportDate, ordered by property then
// tenant. Month-to-month leases are included.
func RentRoll(leases []lease.ResolvedLease, reportDate lease.Date) []RentRollRow {
	var rows []RentRollRow
	for _, l := range leases {
		if !l.IsCurrent(reportDate) {
			continue
		}
		rows = append(rows, RentRollRow{
			PropertyID:       l.PropertyID,
			TenantID:         l.TenantID,
			AmendmentID:      l.CanonicalAmendmentID,
			Sequence:         l.Sequence,
			Type:             l.Type,
			LeasedArea:       l.LeasedArea,
			MonthlyRent:      l.MonthlyRent,
			GrossMonthlyRent: l.GrossMonthlyRent,
			AnnualRent:       l.MonthlyRent.Mul(twelve),
			RentPSF:          RentPSF(l.MonthlyRent, l.LeasedArea),
			StartDate:        l.StartDate,
			EndDate:          l.EndDate,
			IsMonthToMonth:   l.IsMonthToMonth,
			Flags:            l.DataQualityFlags,
		})
	}
	sort.SliceStable(rows, func(i, j int) bool {
		return lease.LeaseKey{PropertyID: rows[i].PropertyID, TenantID: rows[i].TenantID}.
			Less(lease.LeaseKey{PropertyID: rows[j].PropertyID, TenantID: rows[j].TenantID})
	})
	return rows
}

// =============================================================================
// OCCUPANCY
// =============================================================================

type OccupancyRow struct {
	PropertyID   lease.PropertyID `json:"property_id,omitempty"`
	RentableArea decimal.Decimal  `json:"rentable_area"`
	OccupiedArea decimal.Decimal  `json:"occupied_area"`
	Rate         decimal.Decimal  `json:"rate"` // occupied / rentable, 0 when rentable is 0
	Leases       int              `json:"leases"`
}

// Occupancy computes occupied/rentable area per property and for the
// portfolio. Properties with leases but no property record have a rentable
// area of 0 and therefore a rate of 0.
func Occupancy(leases []lease.ResolvedLease, properties []lease.Property, reportDate lease.Date) ([]OccupancyRow, OccupancyRow) {
	byProp := make(map[lease.PropertyID]*OccupancyRow)
	row := func(id lease.PropertyID) *OccupancyRow {
		r, ok := byProp[id]
		if !ok {
			r = &OccupancyRow{PropertyID: id, RentableArea: decimal.Zero, OccupiedArea: decimal.Zero}
			byProp[id] = r
		}
		return r
	}
	for _, p := range properties {
		r := row(p.ID)
		r.RentableArea = r.RentableArea.Add(p.RentableArea)
	}
	for _, l := range leases {
		if !l.IsCurrent(reportDate) {
			continue
		}
		r := row(l.PropertyID)
		r.OccupiedArea = r.OccupiedArea.Add(l.LeasedArea)
		r.Leases++
	}

	total := OccupancyRow{RentableArea: decimal.Zero, OccupiedArea: decimal.Zero}
	rows := make([]OccupancyRow, 0, len(byProp))
	for _, r := range byProp {
		r.Rate = ratio(r.OccupiedArea, r.RentableArea)
		rows = append(rows, *r)
		total.RentableArea = total.RentableArea.Add(r.RentableArea)
		total.OccupiedArea = total.OccupiedArea.Add(r.OccupiedArea)
		total.Leases += r.Leases
	}
	total.Rate = ratio(total.OccupiedArea, total.RentableArea)
	sort.Slice(rows, func(i, j int) bool { return rows[i].PropertyID < rows[j].PropertyID })
	return rows, total
}

// =============================================================================
// EXPIRATIONS
// =============================================================================

type ExpirationRow struct {
	PropertyID      lease.PropertyID  `json:"property_id"`
	TenantID        lease.TenantID    `json:"tenant_id"`
	AmendmentID     lease.AmendmentID `json:"amendment_id"`
	EndDate         lease.Date        `json:"end_date"`
	LeasedArea      decimal.Decimal   `json:"leased_area"`
	MonthlyRent     decimal.Decimal   `json:"monthly_rent"`
	MonthsRemaining decimal.Decimal   `json:"months_remaining"`
}

// Expirations lists leases ending within [reportDate, reportDate + months],
// both ends included, ordered by end date.
func Expirations(leases []lease.ResolvedLease, reportDate lease.Date, months int) ([]ExpirationRow, error) {
	if months < 0 {
		return nil, fmt.Errorf("expiration window %d months: %w", months, lease.ErrInvalidWindow)
	}
	var rows []ExpirationRow
	for _, l := range leases {
		if !l.IsCurrent(reportDate) || !l.IsExpiringWithin(reportDate, months) {
			continue
		}
		rows = append(rows, ExpirationRow{
			PropertyID:      l.PropertyID,
			TenantID:        l.TenantID,
			AmendmentID:     l.CanonicalAmendmentID,
			EndDate:         *l.EndDate,
			LeasedArea:      l.LeasedArea,
			MonthlyRent:     l.MonthlyRent,
			MonthsRemaining: lease.MonthsBetween(reportDate, *l.EndDate),
		})
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if !rows[i].EndDate.Equal(rows[j].EndDate) {
			return rows[i].EndDate.Before(rows[j].EndDate)
		}
		return lease.LeaseKey{PropertyID: rows[i].PropertyID, TenantID: rows[i].TenantID}.
			Less(lease.LeaseKey{PropertyID: rows[j].PropertyID, TenantID: rows[j].TenantID})
	})
	return rows, nil
}

// =============================================================================
// FUTURE LEASES
// =============================================================================

type FutureLeaseRow struct {
	PropertyID       lease.PropertyID    `json:"property_id"`
	TenantID         lease.TenantID      `json:"tenant_id"`
	AmendmentID      lease.AmendmentID   `json:"amendment_id"`
	Type             lease.AmendmentType `json:"type"`
	StartDate        lease.Date          `json:"start_date"`
	EndDate          *lease.Date         `json:"end_date"`
	LeasedArea       decimal.Decimal     `json:"leased_area"`
	MonthlyRent      decimal.Decimal     `json:"monthly_rent"` // as of StartDate
	RentPSF          decimal.Decimal     `json:"rent_psf"`
	MonthsUntilStart decimal.Decimal     `json:"months_until_start"`
}

// FutureLeases prices the signed amendments that start after reportDate.
// Rent is taken as of each amendment's own start date. agg may be nil.
func FutureLeases(future []lease.AmendmentRecord, agg *charges.Aggregator, reportDate lease.Date) []FutureLeaseRow {
	rows := make([]FutureLeaseRow, 0, len(future))
	for _, a := range future {
		rent := decimal.Zero
		if agg != nil {
			rent = agg.MonthlyRent(a.AmendmentID, a.StartDate)
		}
		rows = append(rows, FutureLeaseRow{
			PropertyID:       a.PropertyID,
			TenantID:         a.TenantID,
			AmendmentID:      a.AmendmentID,
			Type:             a.Type,
			StartDate:        a.StartDate,
			EndDate:          a.EndDate,
			LeasedArea:       a.LeasedArea,
			MonthlyRent:      rent,
			RentPSF:          RentPSF(rent, a.LeasedArea),
			MonthsUntilStart: lease.MonthsBetween(reportDate, a.StartDate),
		})
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if !rows[i].StartDate.Equal(rows[j].StartDate) {
			return rows[i].StartDate.Before(rows[j].StartDate)
		}
		return rows[i].AmendmentID < rows[j].AmendmentID
	})
	return rows
}
