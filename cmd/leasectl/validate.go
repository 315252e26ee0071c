package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/warp/lease-engine/validation"
)

type validateOptions struct {
	fixtures  bool
	reference string
	date      string
	start     string
	end       string
}

func validateCmd(a *app) *cobra.Command {
	o := &validateOptions{}
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Replay fixtures and score the engine against a reference",
		Long: `Replay the regression fixtures and/or compare the engine's figures
with a reference set (YAML, JSON or an XLSX workbook with a "reference"
sheet). Exits with status 2 when a fixture fails or a category scores
below its validation.thresholds entry.

Examples:
  leasectl validate --fixtures
  leasectl validate --reference books.xlsx --date 2025-06-30 --start 2025-04-01 --end 2025-06-30`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if o.reference == "" {
				o.reference = a.cfg.Validation.Reference
			}
			return a.validate(cmd.Context(), o)
		},
	}
	cmd.Flags().BoolVar(&o.fixtures, "fixtures", false, "replay the regression fixtures")
	cmd.Flags().StringVar(&o.reference, "reference", "", "reference file, overrides validation.reference")
	cmd.Flags().StringVar(&o.date, "date", "", "report date of the reference (default today)")
	cmd.Flags().StringVar(&o.start, "start", "", "period start for period metrics")
	cmd.Flags().StringVar(&o.end, "end", "", "period end for period metrics")
	return cmd
}

func (a *app) validate(ctx context.Context, o *validateOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if !o.fixtures && o.reference == "" {
		return errors.New("nothing to validate: pass --fixtures and/or --reference")
	}

	var failed []error
	if o.fixtures {
		if err := a.replayFixtures(ctx); err != nil {
			if !errors.Is(err, validation.ErrGateFailed) {
				return err
			}
			failed = append(failed, err)
		}
	}
	if o.reference != "" {
		if err := a.scoreReference(ctx, o); err != nil {
			if !errors.Is(err, validation.ErrGateFailed) {
				return err
			}
			failed = append(failed, err)
		}
	}
	return errors.Join(failed...)
}

func (a *app) replayFixtures(ctx context.Context) error {
	fixtures, err := a.fixtures()
	if err != nil {
		return err
	}
	results, err := validation.Replay(ctx, fixtures, a.engineOptions()...)
	if err != nil {
		return err
	}

	failures := 0
	for _, r := range results {
		status := "ok"
		if !r.Passed {
			status = "FAIL"
			failures++
		}
		fmt.Fprintf(a.out, "%-4s %s\n", status, r.Name)
		for _, f := range r.Failures {
			fmt.Fprintf(a.out, "     %s\n", f)
		}
	}
	fmt.Fprintf(a.out, "%d fixtures, %d failed\n", len(results), failures)

	if failures > 0 {
		return fmt.Errorf("%d of %d fixtures failed: %w", failures, len(results), validation.ErrGateFailed)
	}
	return nil
}

func (a *app) scoreReference(ctx context.Context, o *validateOptions) error {
	reference, err := validation.LoadReferenceFile(o.reference)
	if err != nil {
		return fmt.Errorf("load reference %s: %w", o.reference, err)
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
	report, err := validation.Evaluate(calc, reference, validation.OptionsFrom(a.policies, period))
	if err != nil {
		return err
	}
	a.registry.ObserveValidation(report.CategoryMeans())

	fmt.Fprintf(a.out, "run %s  report date %s  compared %d  overall %s\n",
		report.RunID, report.ReportDate, report.Compared, report.Overall.StringFixed(2))
	for _, c := range report.Categories {
		fmt.Fprintf(a.out, "  %-20s mean %7s  min %7s  (%d)\n", c.Category, c.Mean.StringFixed(2), c.Min.StringFixed(2), c.Count)
	}
	for _, d := range report.Discrepancies {
		fmt.Fprintf(a.out, "  drift %s.%s[%s] computed %s reference %s\n", d.Category, d.Metric, d.Key, d.Computed, d.Reference)
	}
	for _, m := range report.Missing {
		fmt.Fprintf(a.out, "  missing %s\n", m)
	}

	return report.Gate(a.cfg.Thresholds())
}
