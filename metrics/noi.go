package metrics

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/warp/lease-engine/lease"
)

// =============================================================================
// NOI - Net operating income for one accounting book
// =============================================================================
//
//   revenue = -1 × Σ(amounts in revenue account range)   (credits are negative)
//   expense =      Σ(amounts in expense account range)
//   NOI     = revenue - expense
//
// The same ledger row means different things under different books (accrual
// vs adjusted), so the book is always named by the caller.

// AccountRange is an inclusive range of GL account codes. Codes compare
// numerically when all three parse as integers, lexicographically otherwise.
type AccountRange struct {
	From string `json:"from" mapstructure:"from"`
	To   string `json:"to" mapstructure:"to"`
}

// ParseAccountRange reads "40000-49999".
func ParseAccountRange(s string) (AccountRange, error) {
	from, to, ok := strings.Cut(strings.TrimSpace(s), "-")
	r := AccountRange{From: strings.TrimSpace(from), To: strings.TrimSpace(to)}
	if !ok {
		return AccountRange{}, fmt.Errorf("%q: %w", s, lease.ErrInvalidAccountRange)
	}
	return r, r.Validate()
}

func (r AccountRange) Validate() error {
	if r.From == "" || r.To == "" || compareAccounts(r.From, r.To) > 0 {
		return fmt.Errorf("%s: %w", r, lease.ErrInvalidAccountRange)
	}
	return nil
}

func (r AccountRange) Contains(code string) bool {
	return compareAccounts(r.From, code) <= 0 && compareAccounts(code, r.To) <= 0
}

func (r AccountRange) String() string { return r.From + "-" + r.To }

func compareAccounts(a, b string) int {
	ai, aerr := strconv.ParseInt(a, 10, 64)
	bi, berr := strconv.ParseInt(b, 10, 64)
	if aerr == nil && berr == nil {
		switch {
		case ai < bi:
			return -1
		case ai > bi:
			return 1
		}
		return 0
	}
	return strings.Compare(a, b)
}

// NOIPolicy names the book and account ranges. Book has no default.
type NOIPolicy struct {
	Book    lease.Book   `json:"book"`
	Revenue AccountRange `json:"revenue_range"`
	Expense AccountRange `json:"expense_range"`
}

func (p NOIPolicy) Validate() error {
	if strings.TrimSpace(string(p.Book)) == "" {
		return lease.ErrBookRequired
	}
	if err := p.Revenue.Validate(); err != nil {
		return fmt.Errorf("revenue range: %w", err)
	}
	if err := p.Expense.Validate(); err != nil {
		return fmt.Errorf("expense range: %w", err)
	}
	return nil
}

type NOIRow struct {
	PropertyID lease.PropertyID `json:"property_id,omitempty"`
	Revenue    decimal.Decimal  `json:"revenue"`
	Expense    decimal.Decimal  `json:"expense"`
	NOI        decimal.Decimal  `json:"noi"`
	Margin     decimal.Decimal  `json:"margin"` // NOI / revenue, 0 when revenue is 0
}

type NOIReport struct {
	Book       lease.Book   `json:"book"`
	Period     lease.Period `json:"period"`
	Properties []NOIRow     `json:"properties"`
	Portfolio  NOIRow       `json:"portfolio"`
}

// NOI aggregates ledger rows of policy.Book whose posting month falls in
// period. Rows outside both ranges are ignored.
func NOI(ledger []lease.LedgerEntry, period lease.Period, policy NOIPolicy) (NOIReport, error) {
	if err := policy.Validate(); err != nil {
		return NOIReport{}, err
	}
	if err := period.Validate(); err != nil {
		return NOIReport{}, err
	}

	byProp := make(map[lease.PropertyID]*NOIRow)
	for _, e := range ledger {
		if !strings.EqualFold(string(e.Book), string(policy.Book)) || !period.Contains(e.Period) {
			continue
		}
		isRevenue := policy.Revenue.Contains(e.AccountCode)
		isExpense := policy.Expense.Contains(e.AccountCode)
		if !isRevenue && !isExpense {
			continue
		}
		r, ok := byProp[e.PropertyID]
		if !ok {
			r = &NOIRow{PropertyID: e.PropertyID, Revenue: decimal.Zero, Expense: decimal.Zero}
			byProp[e.PropertyID] = r
		}
		if isRevenue {
			r.Revenue = r.Revenue.Sub(e.Amount)
		} else {
			r.Expense = r.Expense.Add(e.Amount)
		}
	}

	report := NOIReport{
		Book:       policy.Book,
		Period:     period,
		Properties: make([]NOIRow, 0, len(byProp)),
		Portfolio:  NOIRow{Revenue: decimal.Zero, Expense: decimal.Zero},
	}
	for _, r := range byProp {
		r.NOI = r.Revenue.Sub(r.Expense)
		r.Margin = ratio(r.NOI, r.Revenue)
		report.Properties = append(report.Properties, *r)
	}
	sort.Slice(report.Properties, func(i, j int) bool {
		return report.Properties[i].PropertyID < report.Properties[j].PropertyID
	})
	for _, r := range report.Properties {
		report.Portfolio.Revenue = report.Portfolio.Revenue.Add(r.Revenue)
		report.Portfolio.Expense = report.Portfolio.Expense.Add(r.Expense)
	}
	report.Portfolio.NOI = report.Portfolio.Revenue.Sub(report.Portfolio.Expense)
	report.Portfolio.Margin = ratio(report.Portfolio.NOI, report.Portfolio.Revenue)
	return report, nil
}
