// Package store provides lease.Source implementations.
package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/warp/lease-engine/lease"
)

// =============================================================================
// MEMORY STORE - In-memory, append-only (for testing/dev and feed replay)
// =============================================================================

// Memory holds records in memory. Append-only: no Update, no Delete. A
// corrected amendment is a new record with a higher sequence.
type Memory struct {
	mu           sync.RWMutex
	amendments   []lease.AmendmentRecord
	charges      []lease.ChargeScheduleEntry
	terminations []lease.TerminationRecord
	ledger       []lease.LedgerEntry
	properties   []lease.Property
	customers    []lease.Customer

	id           string
	amendmentIDs map[lease.AmendmentID]bool
	version      int
}

func NewMemory() *Memory {
	return &Memory{id: uuid.NewString(), amendmentIDs: make(map[lease.AmendmentID]bool)}
}

// NewMemoryFrom seeds a store with an existing record set.
func NewMemoryFrom(rs *lease.RecordSet) (*Memory, error) {
	m := NewMemory()
	if err := m.AppendAmendments(context.Background(), rs.Amendments...); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.charges = append(m.charges, rs.Charges...)
	m.terminations = append(m.terminations, rs.Terminations...)
	m.ledger = append(m.ledger, rs.Ledger...)
	m.properties = append(m.properties, rs.Properties...)
	m.customers = append(m.customers, rs.Customers...)
	m.version++
	return m, nil
}

// AppendAmendments adds amendment records atomically. The whole batch is
// rejected if any amendment id already exists. Records without an id are
// kept; the engine drops them as malformed.
func (m *Memory) AppendAmendments(_ context.Context, records ...lease.AmendmentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Check all ids first (atomic check)
	seen := make(map[lease.AmendmentID]bool, len(records))
	for _, r := range records {
		if r.AmendmentID == "" {
			continue
		}
		if m.amendmentIDs[r.AmendmentID] || seen[r.AmendmentID] {
			return fmt.Errorf("%w: %s", lease.ErrDuplicateAmendmentID, r.AmendmentID)
		}
		seen[r.AmendmentID] = true
	}

	for _, r := range records {
		m.amendments = append(m.amendments, r)
		if r.AmendmentID != "" {
			m.amendmentIDs[r.AmendmentID] = true
		}
	}
	m.version++
	return nil
}

func (m *Memory) AppendCharges(_ context.Context, entries ...lease.ChargeScheduleEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.charges = append(m.charges, entries...)
	m.version++
	return nil
}

func (m *Memory) AppendTerminations(_ context.Context, records ...lease.TerminationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.terminations = append(m.terminations, records...)
	m.version++
	return nil
}

func (m *Memory) AppendLedger(_ context.Context, entries ...lease.LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ledger = append(m.ledger, entries...)
	m.version++
	return nil
}

func (m *Memory) AppendProperties(_ context.Context, props ...lease.Property) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.properties = append(m.properties, props...)
	m.version++
	return nil
}

func (m *Memory) AppendCustomers(_ context.Context, customers ...lease.Customer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.customers = append(m.customers, customers...)
	m.version++
	return nil
}

// Load returns a copy of the current contents. The snapshot ID names the
// store and changes on every append, so memoized results never outlive the
// data they came from and two stores never share one.
func (m *Memory) Load(_ context.Context) (*lease.RecordSet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return &lease.RecordSet{
		ID:           fmt.Sprintf("memory:%s:%d", m.id, m.version),
		Amendments:   append([]lease.AmendmentRecord(nil), m.amendments...),
		Charges:      append([]lease.ChargeScheduleEntry(nil), m.charges...),
		Terminations: append([]lease.TerminationRecord(nil), m.terminations...),
		Ledger:       append([]lease.LedgerEntry(nil), m.ledger...),
		Properties:   append([]lease.Property(nil), m.properties...),
		Customers:    append([]lease.Customer(nil), m.customers...),
	}, nil
}

var _ lease.Source = (*Memory)(nil)
