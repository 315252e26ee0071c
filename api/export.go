package api

import (
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/warp/lease-engine/metrics"
	"github.com/warp/lease-engine/validation"
)

const XLSXContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Sheet names of the exported workbook.
const (
	SheetRentRoll  = "Rent Roll"
	SheetOccupancy = "Occupancy"
	SheetMetrics   = validation.ReferenceSheet
)

// Workbook is the content of an XLSX export. Metrics is optional; when set
// it is written in the reference layout, so an approved export can be fed
// back as a validation reference.
type Workbook struct {
	RentRoll  []metrics.RentRollRow
	Occupancy []metrics.OccupancyRow
	Portfolio metrics.OccupancyRow
	Metrics   []validation.Value
}

// WriteWorkbook writes the rent roll, occupancy and, when present, the
// flattened metrics.
func WriteWorkbook(w io.Writer, wb Workbook) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", SheetRentRoll); err != nil {
		return err
	}

	rentRoll := [][]interface{}{{
		"property_id", "tenant_id", "amendment_id", "sequence", "type", "leased_area",
		"monthly_rent", "gross_monthly_rent", "annual_rent", "rent_psf",
		"start_date", "end_date", "is_month_to_month", "data_quality_flags",
	}}
	for _, r := range wb.RentRoll {
		end := ""
		if r.EndDate != nil {
			end = r.EndDate.String()
		}
		flags := ""
		for i, c := range r.Flags {
			if i > 0 {
				flags += ","
			}
			flags += string(c)
		}
		rentRoll = append(rentRoll, []interface{}{
			string(r.PropertyID), string(r.TenantID), string(r.AmendmentID), r.Sequence, r.Type.String(),
			r.LeasedArea.InexactFloat64(), r.MonthlyRent.InexactFloat64(), r.GrossMonthlyRent.InexactFloat64(),
			r.AnnualRent.InexactFloat64(), r.RentPSF.InexactFloat64(),
			r.StartDate.String(), end, r.IsMonthToMonth, flags,
		})
	}
	if err := writeRows(f, SheetRentRoll, rentRoll); err != nil {
		return err
	}

	if _, err := f.NewSheet(SheetOccupancy); err != nil {
		return err
	}
	occupancy := [][]interface{}{{"property_id", "rentable_area", "occupied_area", "rate", "leases"}}
	for _, o := range append(append([]metrics.OccupancyRow(nil), wb.Occupancy...), wb.Portfolio) {
		id := string(o.PropertyID)
		if id == "" {
			id = validation.PortfolioKey
		}
		occupancy = append(occupancy, []interface{}{
			id, o.RentableArea.InexactFloat64(), o.OccupiedArea.InexactFloat64(), o.Rate.InexactFloat64(), o.Leases,
		})
	}
	if err := writeRows(f, SheetOccupancy, occupancy); err != nil {
		return err
	}

	if wb.Metrics != nil {
		if _, err := f.NewSheet(SheetMetrics); err != nil {
			return err
		}
		values := [][]interface{}{{"category", "metric", "key", "value"}}
		for _, v := range wb.Metrics {
			values = append(values, []interface{}{v.Category, v.Metric, v.Key, v.Value.String()})
		}
		if err := writeRows(f, SheetMetrics, values); err != nil {
			return err
		}
	}

	_, err := f.WriteTo(w)
	return err
}

func writeRows(f *excelize.File, sheet string, rows [][]interface{}) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return err
		}
	}
	return nil
}
