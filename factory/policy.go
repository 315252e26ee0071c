package factory

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/warp/lease-engine/charges"
	"github.com/warp/lease-engine/lease"
	"github.com/warp/lease-engine/metrics"
	"github.com/warp/lease-engine/resolver"
)

// =============================================================================
// POLICY SCHEMA
// =============================================================================
//
// Every knob that changes a computed figure, as data:
//
//   {
//     "eligible_statuses": ["Activated", "Superseded"],
//     "excluded_types": ["Termination"],
//     "rent_codes": ["rent", "rnt", "baserent"],
//     "fallback_to_prior_sequence": false,
//     "month_to_month": "exclude",
//     "same_store_window_months": 12,
//     "noi": {"book": "accrual", "revenue_range": "40000-49999",
//             "expense_range": "50000-69999"}
//   }
//
// Omitted lists fall back to the engine defaults. same_store_window_months
// and noi.book have no default: leaving them out leaves the figure
// unavailable rather than guessed.

// PolicyJSON is the serialized form of Policies.
type PolicyJSON struct {
	EligibleStatuses        []string `json:"eligible_statuses,omitempty" yaml:"eligible_statuses,omitempty" mapstructure:"eligible_statuses"`
	ExcludedTypes           []string `json:"excluded_types,omitempty" yaml:"excluded_types,omitempty" mapstructure:"excluded_types"`
	RentCodes               []string `json:"rent_codes,omitempty" yaml:"rent_codes,omitempty" mapstructure:"rent_codes"`
	FallbackToPriorSequence bool     `json:"fallback_to_prior_sequence,omitempty" yaml:"fallback_to_prior_sequence,omitempty" mapstructure:"fallback_to_prior_sequence"`
	MonthToMonth            string   `json:"month_to_month,omitempty" yaml:"month_to_month,omitempty" mapstructure:"month_to_month"`
	SameStoreWindowMonths   int      `json:"same_store_window_months,omitempty" yaml:"same_store_window_months,omitempty" mapstructure:"same_store_window_months"`
	NOI                     *NOIJSON `json:"noi,omitempty" yaml:"noi,omitempty" mapstructure:"noi"`
}

type NOIJSON struct {
	Book         string `json:"book" yaml:"book" mapstructure:"book"`
	RevenueRange string `json:"revenue_range" yaml:"revenue_range" mapstructure:"revenue_range"`
	ExpenseRange string `json:"expense_range" yaml:"expense_range" mapstructure:"expense_range"`
}

// Policies bundles the policy objects the core consumes.
type Policies struct {
	Resolver resolver.Policy
	Charges  charges.Policy
	WALT     metrics.WALTPolicy
	// SameStoreWindowMonths is 0 when not configured.
	SameStoreWindowMonths int
	// NOI is nil when no book is configured.
	NOI *metrics.NOIPolicy
}

// DefaultPolicies returns the engine defaults: no same-store window and no
// NOI book.
func DefaultPolicies() Policies {
	return Policies{
		Resolver: resolver.DefaultPolicy(),
		Charges:  charges.DefaultPolicy(),
		WALT:     metrics.DefaultWALTPolicy(),
	}
}

// ParsePolicy parses a JSON policy document.
func ParsePolicy(jsonStr string) (Policies, error) {
	var pj PolicyJSON
	if err := json.Unmarshal([]byte(jsonStr), &pj); err != nil {
		return Policies{}, fmt.Errorf("failed to parse policy JSON: %w", err)
	}
	return pj.Policies()
}

// Policies converts the document, applying defaults for omitted lists.
func (pj PolicyJSON) Policies() (Policies, error) {
	out := DefaultPolicies()

	if len(pj.EligibleStatuses) > 0 || len(pj.ExcludedTypes) > 0 {
		statuses := []lease.Status{lease.StatusActivated, lease.StatusSuperseded}
		if len(pj.EligibleStatuses) > 0 {
			statuses = statuses[:0]
			for _, s := range pj.EligibleStatuses {
				st, err := lease.ParseStatus(s)
				if err != nil {
					return Policies{}, fmt.Errorf("eligible status %q: %w", s, err)
				}
				statuses = append(statuses, st)
			}
		}
		var excluded []lease.AmendmentType
		for _, s := range pj.ExcludedTypes {
			t, err := lease.ParseAmendmentType(s)
			if err != nil {
				return Policies{}, fmt.Errorf("excluded type %q: %w", s, err)
			}
			excluded = append(excluded, t)
		}
		out.Resolver = resolver.NewPolicy(statuses, excluded)
	}

	if len(pj.RentCodes) > 0 {
		out.Charges.RentCodes = out.Charges.RentCodes[:0]
		for _, c := range pj.RentCodes {
			out.Charges.RentCodes = append(out.Charges.RentCodes, lease.ChargeCode(strings.TrimSpace(c)))
		}
	}
	out.Charges.FallbackToPriorSequence = pj.FallbackToPriorSequence

	treatment, err := metrics.ParseMonthToMonthTreatment(pj.MonthToMonth)
	if err != nil {
		return Policies{}, err
	}
	out.WALT.MonthToMonth = treatment

	if pj.SameStoreWindowMonths < 0 {
		return Policies{}, fmt.Errorf("same-store window %d months: %w", pj.SameStoreWindowMonths, lease.ErrInvalidWindow)
	}
	out.SameStoreWindowMonths = pj.SameStoreWindowMonths

	if pj.NOI != nil && strings.TrimSpace(pj.NOI.Book) != "" {
		noi, err := pj.NOI.Policy()
		if err != nil {
			return Policies{}, err
		}
		out.NOI = &noi
	}
	return out, nil
}

// Policy converts the NOI section. The book is required.
func (nj NOIJSON) Policy() (metrics.NOIPolicy, error) {
	revenue, err := metrics.ParseAccountRange(nj.RevenueRange)
	if err != nil {
		return metrics.NOIPolicy{}, fmt.Errorf("noi revenue range: %w", err)
	}
	expense, err := metrics.ParseAccountRange(nj.ExpenseRange)
	if err != nil {
		return metrics.NOIPolicy{}, fmt.Errorf("noi expense range: %w", err)
	}
	p := metrics.NOIPolicy{Book: lease.Book(strings.TrimSpace(nj.Book)), Revenue: revenue, Expense: expense}
	return p, p.Validate()
}
