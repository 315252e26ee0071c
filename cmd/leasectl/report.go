package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/warp/lease-engine/api"
	"github.com/warp/lease-engine/lease"
	"github.com/warp/lease-engine/metrics"
	"github.com/warp/lease-engine/validation"
)

type reportOptions struct {
	date   string
	start  string
	end    string
	months int
	format string
	out    string
}

// Report is the JSON document written by `leasectl report`.
type Report struct {
	api.RunContext
	RentRoll    []metrics.RentRollRow   `json:"rent_roll"`
	Occupancy   []metrics.OccupancyRow  `json:"occupancy"`
	Portfolio   metrics.OccupancyRow    `json:"portfolio"`
	Expirations []metrics.ExpirationRow `json:"expirations"`
	WALT        metrics.WALTReport      `json:"walt"`
	Quality     lease.QualityReport     `json:"quality"`
	Warnings    []lease.Warning         `json:"warnings"`
	Values      []validation.Value      `json:"values"`
}

func reportCmd(a *app) *cobra.Command {
	o := &reportOptions{}
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Write the rent roll and metrics for a report date",
		Long: `Write the rent roll, occupancy, expirations, WALT and the flattened
metric values for one report date.

Period metrics (activity, absorption, NOI) are included in the values when
--start and --end are given. The xlsx format writes the values in the
reference layout, so an approved report can be used as a validation
reference.

Examples:
  leasectl report --feed records.yaml --date 2025-06-30
  leasectl report --date 2025-06-30 --start 2025-04-01 --end 2025-06-30 --format xlsx --out q2.xlsx`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.report(cmd.Context(), o)
		},
	}
	cmd.Flags().StringVar(&o.date, "date", "", "report date (default today)")
	cmd.Flags().StringVar(&o.start, "start", "", "period start for period metrics")
	cmd.Flags().StringVar(&o.end, "end", "", "period end for period metrics")
	cmd.Flags().IntVar(&o.months, "months", api.DefaultExpirationMonths, "expiration window in months")
	cmd.Flags().StringVar(&o.format, "format", "json", "output format (json|xlsx)")
	cmd.Flags().StringVar(&o.out, "out", "", "output file (default stdout)")
	return cmd
}

func (a *app) report(ctx context.Context, o *reportOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	format := strings.ToLower(o.format)
	if format != "json" && format != "xlsx" {
		return fmt.Errorf("unknown format %q, want json or xlsx", o.format)
	}
	reportDate, err := reportDateFlag(o.date)
	if err != nil {
		return fmt.Errorf("--date: %w", err)
	}
	period, err := periodFlags(o.start, o.end)
	if err != nil {
		return err
	}

	calc, err := a.calculate(ctx, reportDate)
	if err != nil {
		return err
	}
	values, err := validation.Flatten(calc, validation.OptionsFrom(a.policies, period))
	if err != nil {
		return err
	}
	expirations, err := calc.Expirations(o.months)
	if err != nil {
		return err
	}

	w := a.out
	if o.out != "" {
		f, err := os.Create(o.out)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}

	rows := calc.RentRoll()
	props, portfolio := calc.Occupancy()
	snap := calc.Snapshot()
	a.logger.Info().
		Str("report_date", reportDate.String()).
		Str("run_id", snap.RunID).
		Int("leases", len(rows)).
		Int("values", len(values)).
		Int("warnings", len(snap.Warnings)).
		Msg("report computed")

	if format == "xlsx" {
		return api.WriteWorkbook(w, api.Workbook{
			RentRoll:  rows,
			Occupancy: props,
			Portfolio: portfolio,
			Metrics:   values,
		})
	}
	return writeReportJSON(w, Report{
		RunContext:  api.RunContext{ReportDate: snap.ReportDate, RunID: snap.RunID, RecordSetID: snap.RecordSetID},
		RentRoll:    rows,
		Occupancy:   props,
		Portfolio:   portfolio,
		Expirations: expirations,
		WALT:        calc.WALT(a.policies.WALT),
		Quality:     snap.Quality,
		Warnings:    snap.Warnings,
		Values:      values,
	})
}

func writeReportJSON(w io.Writer, r Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// calculate opens the source, runs the engine once and closes both.
func (a *app) calculate(ctx context.Context, reportDate lease.Date) (*metrics.Calculator, error) {
	src, err := a.openSource(ctx)
	if err != nil {
		return nil, err
	}
	defer src.close()

	eng, closeCache, err := a.newEngine(ctx)
	if err != nil {
		return nil, err
	}
	defer closeCache()

	rs, loadWarnings, err := lease.LoadWithWarnings(ctx, src.Source)
	if err != nil {
		return nil, fmt.Errorf("load records: %w", err)
	}
	snap, err := eng.Run(ctx, rs, reportDate)
	if err != nil {
		return nil, err
	}
	snap.AddWarnings(loadWarnings...)
	return metrics.NewCalculator(snap, a.policies.Resolver), nil
}
