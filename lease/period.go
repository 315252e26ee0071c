package lease

import "time"

// =============================================================================
// PERIOD - Reporting window for activity, absorption and NOI
// =============================================================================

// Period is an inclusive reporting window [Start, End].
//
// Examples:
//   - Month:   2025-03-01 .. 2025-03-31
//   - Quarter: 2025-04-01 .. 2025-06-30
//   - Year:    2025-01-01 .. 2025-12-31
type Period struct {
	Start Date `json:"start"`
	End   Date `json:"end"`
}

// Validate rejects empty periods and periods that end before they start.
func (p Period) Validate() error {
	if p.Start.IsZero() || p.End.IsZero() || p.End.Before(p.Start) {
		return ErrInvalidPeriod
	}
	return nil
}

// Contains returns true if d is within [Start, End].
func (p Period) Contains(d Date) bool {
	return d.AfterOrEqual(p.Start) && d.BeforeOrEqual(p.End)
}

// Days returns the number of days covered, both ends included.
func (p Period) Days() int { return DaysBetween(p.Start, p.End) + 1 }

func (p Period) String() string {
	return "[" + p.Start.String() + ", " + p.End.String() + "]"
}

// MonthPeriod returns the calendar month containing d.
func MonthPeriod(d Date) Period {
	return Period{Start: d.StartOfMonth(), End: d.EndOfMonth()}
}

// QuarterPeriod returns the calendar quarter containing d.
func QuarterPeriod(d Date) Period {
	first := time.Month((int(d.Month())-1)/3*3 + 1)
	start := NewDate(d.Year(), first, 1)
	return Period{Start: start, End: start.AddMonths(2).EndOfMonth()}
}

// YearPeriod returns the calendar year containing d.
func YearPeriod(d Date) Period {
	return Period{Start: NewDate(d.Year(), time.January, 1), End: NewDate(d.Year(), time.December, 31)}
}

// Previous returns the period of the same length ending the day before p.
// Month, quarter and year periods map onto the prior month, quarter and year.
func (p Period) Previous() Period {
	if p.Start.Day() == 1 && p.End.Equal(p.End.EndOfMonth()) {
		months := (p.End.Year()-p.Start.Year())*12 + int(p.End.Month()) - int(p.Start.Month()) + 1
		start := p.Start.AddMonths(-months)
		return Period{Start: start, End: p.Start.AddDays(-1)}
	}
	end := p.Start.AddDays(-1)
	return Period{Start: end.AddDays(-(p.Days() - 1)), End: end}
}
