package metrics

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/warp/lease-engine/lease"
)

// =============================================================================
// CUSTOMER HIERARCHY - Directed child -> parent mapping
// =============================================================================
//
// Parent-company data is hand-maintained and has contained loops, so the
// hierarchy is never assumed to be a tree. Every walk tracks visited nodes
// and stops with a HierarchyCycleError on the first repeat.

type Hierarchy struct {
	nodes map[string]lease.Customer
}

func NewHierarchy(customers []lease.Customer) *Hierarchy {
	h := &Hierarchy{nodes: make(map[string]lease.Customer, len(customers))}
	for _, c := range customers {
		h.nodes[c.ID] = c
	}
	return h
}

// Chain returns id followed by its ancestors, nearest first. An id unknown
// to the hierarchy is its own root.
func (h *Hierarchy) Chain(id string) ([]string, error) {
	chain := []string{id}
	seen := map[string]bool{id: true}
	current := id
	for {
		node, ok := h.nodes[current]
		if !ok || node.ParentID == "" || node.ParentID == current {
			return chain, nil
		}
		chain = append(chain, node.ParentID)
		if seen[node.ParentID] {
			return nil, &lease.HierarchyCycleError{Path: chain}
		}
		seen[node.ParentID] = true
		current = node.ParentID
	}
}

// UltimateParent returns the root of id's chain.
func (h *Hierarchy) UltimateParent(id string) (string, error) {
	chain, err := h.Chain(id)
	if err != nil {
		return "", err
	}
	return chain[len(chain)-1], nil
}

// CreditGrade returns the grade of the nearest rated node in id's chain,
// or "" when none is rated.
func (h *Hierarchy) CreditGrade(id string) (string, error) {
	chain, err := h.Chain(id)
	if err != nil {
		return "", err
	}
	for _, n := range chain {
		if g := strings.TrimSpace(h.nodes[n].CreditGrade); g != "" {
			return g, nil
		}
	}
	return "", nil
}

// Cycles returns one HIERARCHY_CYCLE warning per customer whose chain loops.
func (h *Hierarchy) Cycles() []lease.Warning {
	ids := make([]string, 0, len(h.nodes))
	for id := range h.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	var out []lease.Warning
	for _, id := range ids {
		if _, err := h.Chain(id); err != nil {
			out = append(out, cycleWarning(id, err))
		}
	}
	return out
}

func cycleWarning(id string, err error) lease.Warning {
	return lease.Warning{
		Code:    lease.WarnHierarchyCycle,
		Key:     lease.LeaseKey{TenantID: lease.TenantID(id)},
		Message: err.Error(),
	}
}

// =============================================================================
// CREDIT GRADES
// =============================================================================

var investmentGrades = map[string]bool{
	"AAA": true, "AA+": true, "AA": true, "AA-": true,
	"A+": true, "A": true, "A-": true,
	"BBB+": true, "BBB": true, "BBB-": true,
	// Moody's scale
	"AAA1": true, "AA1": true, "AA2": true, "AA3": true,
	"A1": true, "A2": true, "A3": true,
	"BAA1": true, "BAA2": true, "BAA3": true,
}

// IsInvestmentGrade reports whether grade is BBB- / Baa3 or better.
func IsInvestmentGrade(grade string) bool {
	return investmentGrades[strings.ToUpper(strings.TrimSpace(grade))]
}

// =============================================================================
// TENANT CONCENTRATION
// =============================================================================

type ConcentrationRow struct {
	ParentID    string          `json:"parent_id"`
	CreditGrade string          `json:"credit_grade,omitempty"`
	Tenants     int             `json:"tenants"`
	MonthlyRent decimal.Decimal `json:"monthly_rent"`
	LeasedArea  decimal.Decimal `json:"leased_area"`
	RentShare   decimal.Decimal `json:"rent_share"`
	AreaShare   decimal.Decimal `json:"area_share"`
}

// Concentration groups current leases by ultimate parent, largest rent
// first. A tenant whose chain loops is reported under itself with a
// HIERARCHY_CYCLE warning.
func Concentration(leases []lease.ResolvedLease, h *Hierarchy, reportDate lease.Date) ([]ConcentrationRow, []lease.Warning) {
	var warnings []lease.Warning
	warned := make(map[string]bool)
	byParent := make(map[string]*ConcentrationRow)
	tenants := make(map[string]map[lease.TenantID]bool)
	totalRent, totalArea := decimal.Zero, decimal.Zero

	for _, l := range leases {
		if !l.IsCurrent(reportDate) {
			continue
		}
		tenant := string(l.TenantID)
		parent, err := h.UltimateParent(tenant)
		if err != nil {
			parent = tenant
			if !warned[tenant] {
				warned[tenant] = true
				warnings = append(warnings, cycleWarning(tenant, err))
			}
		}
		r, ok := byParent[parent]
		if !ok {
			grade, _ := h.CreditGrade(parent)
			r = &ConcentrationRow{ParentID: parent, CreditGrade: grade, MonthlyRent: decimal.Zero, LeasedArea: decimal.Zero}
			byParent[parent] = r
			tenants[parent] = make(map[lease.TenantID]bool)
		}
		r.MonthlyRent = r.MonthlyRent.Add(l.MonthlyRent)
		r.LeasedArea = r.LeasedArea.Add(l.LeasedArea)
		tenants[parent][l.TenantID] = true
		totalRent = totalRent.Add(l.MonthlyRent)
		totalArea = totalArea.Add(l.LeasedArea)
	}

	rows := make([]ConcentrationRow, 0, len(byParent))
	for id, r := range byParent {
		r.Tenants = len(tenants[id])
		r.RentShare = ratio(r.MonthlyRent, totalRent)
		r.AreaShare = ratio(r.LeasedArea, totalArea)
		rows = append(rows, *r)
	}
	sort.Slice(rows, func(i, j int) bool {
		if c := rows[i].MonthlyRent.Cmp(rows[j].MonthlyRent); c != 0 {
			return c > 0
		}
		return rows[i].ParentID < rows[j].ParentID
	})
	return rows, warnings
}

// CreditMix is the share of current monthly rent paid by tenants whose
// inherited credit grade is investment grade. Tenants in a cycle count as
// unrated.
func CreditMix(leases []lease.ResolvedLease, h *Hierarchy, reportDate lease.Date) decimal.Decimal {
	rated, total := decimal.Zero, decimal.Zero
	for _, l := range leases {
		if !l.IsCurrent(reportDate) {
			continue
		}
		total = total.Add(l.MonthlyRent)
		grade, _ := h.CreditGrade(string(l.TenantID))
		if IsInvestmentGrade(grade) {
			rated = rated.Add(l.MonthlyRent)
		}
	}
	return ratio(rated, total)
}
