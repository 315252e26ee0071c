package lease

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// DATE - Civil calendar day (lease dates carry no time of day)
// =============================================================================

// DateLayout is the wire format for every date in records and result sets.
const DateLayout = "2006-01-02"

// Date is a calendar day normalized to UTC midnight.
//
// There is deliberately no constructor that reads the wall clock. The
// reporting date is always injected by the caller.
type Date struct {
	t time.Time
}

// NewDate builds a Date from its components. Out-of-range values are
// normalized the way time.Date normalizes them.
func NewDate(year int, month time.Month, day int) Date {
	return Date{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates a time.Time to its calendar day (in its own location).
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return NewDate(y, m, d)
}

// ParseDate accepts YYYY-MM-DD and a handful of export formats seen in
// source extracts (M/D/YYYY, YYYY-MM-DDTHH:MM:SS).
func ParseDate(s string) (Date, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Date{}, ErrMissingKey
	}
	for _, layout := range []string{DateLayout, "2006-01-02T15:04:05", time.RFC3339, "1/2/2006", "01/02/2006"} {
		if t, err := time.Parse(layout, s); err == nil {
			return DateOf(t), nil
		}
	}
	return Date{}, fmt.Errorf("%w: %q", ErrMalformedDate, s)
}

// MustParseDate panics on malformed input. Tests and fixtures only.
func MustParseDate(s string) Date {
	d, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Comparison
func (d Date) Before(o Date) bool        { return d.t.Before(o.t) }
func (d Date) After(o Date) bool         { return d.t.After(o.t) }
func (d Date) Equal(o Date) bool         { return d.t.Equal(o.t) }
func (d Date) BeforeOrEqual(o Date) bool { return !d.t.After(o.t) }
func (d Date) AfterOrEqual(o Date) bool  { return !d.t.Before(o.t) }
func (d Date) IsZero() bool              { return d.t.IsZero() }

// Compare returns -1, 0 or +1.
func (d Date) Compare(o Date) int { return d.t.Compare(o.t) }

// Properties
func (d Date) Year() int          { return d.t.Year() }
func (d Date) Month() time.Month  { return d.t.Month() }
func (d Date) Day() int           { return d.t.Day() }
func (d Date) Time() time.Time    { return d.t }
func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.t.Format(DateLayout)
}

// AddDays returns the date n days later (n may be negative).
func (d Date) AddDays(n int) Date { return Date{t: d.t.AddDate(0, 0, n)} }

// AddMonths adds n calendar months, clamping to the last day of the target
// month: Jan 31 + 1 month is Feb 28 (or 29), never Mar 3.
func (d Date) AddMonths(n int) Date {
	y, m, day := d.t.Date()
	first := time.Date(y, m+time.Month(n), 1, 0, 0, 0, 0, time.UTC)
	if last := daysIn(first.Year(), first.Month()); day > last {
		day = last
	}
	return NewDate(first.Year(), first.Month(), day)
}

// StartOfMonth returns the first day of d's month.
func (d Date) StartOfMonth() Date { return NewDate(d.Year(), d.Month(), 1) }

// EndOfMonth returns the last day of d's month.
func (d Date) EndOfMonth() Date { return NewDate(d.Year(), d.Month(), daysIn(d.Year(), d.Month())) }

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// =============================================================================
// DATE ARITHMETIC
// =============================================================================

// DaysBetween returns the signed number of days from `from` to `to`.
func DaysBetween(from, to Date) int { return int(to.t.Sub(from.t).Hours() / 24) }

// MonthsBetween returns the signed number of months from `from` to `to`:
// whole calendar months (end-of-month clamped) plus the elapsed fraction of
// the next month-long span.
//
//	2025-01-15 -> 2025-07-15  = 6
//	2025-01-31 -> 2025-02-28  = 1
//	2025-01-01 -> 2025-01-16  = 15/31
func MonthsBetween(from, to Date) decimal.Decimal {
	if to.Before(from) {
		return MonthsBetween(to, from).Neg()
	}
	n := (to.Year()-from.Year())*12 + int(to.Month()) - int(from.Month())
	for n > 0 && from.AddMonths(n).After(to) {
		n--
	}
	whole := decimal.NewFromInt(int64(n))
	anchor := from.AddMonths(n)
	rem := DaysBetween(anchor, to)
	if rem == 0 {
		return whole
	}
	span := DaysBetween(anchor, from.AddMonths(n+1))
	return whole.Add(decimal.NewFromInt(int64(rem)).Div(decimal.NewFromInt(int64(span))))
}

// MinDate returns the earlier of two dates.
func MinDate(a, b Date) Date {
	if a.Before(b) {
		return a
	}
	return b
}

// =============================================================================
// SERIALIZATION
// =============================================================================

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(b []byte) error {
	var s *string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == nil || *s == "" {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(*s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// DatePtr is a convenience for optional dates in literals.
func DatePtr(d Date) *Date { return &d }
