/*
Package cache memoizes per-lease resolution results.

PURPOSE:
  Resolution and charge aggregation are pure functions of (record set,
  property, tenant, report date). Dashboards ask the same questions of the
  same snapshot many times, so results are cached under that key.

KEY CONCEPTS:
  - Key: (record set id, lease key, report date). A record set without an
    id is never cached, since two different inputs could collide.
  - Entry: the finished lease, its future amendment and the warnings raised
    while producing them.
  - Backends: Nop (default), LRU (in-process) and Redis (shared between
    server replicas). A backend error is never fatal to a run; the engine
    logs it and recomputes.

SEE ALSO:
  - engine/engine.go: the only caller
*/
package cache

import (
	"context"
	"fmt"

	"github.com/warp/lease-engine/lease"
)

// Key identifies one memoized resolution.
type Key struct {
	SetID      string
	Lease      lease.LeaseKey
	ReportDate lease.Date
}

func (k Key) String() string {
	return fmt.Sprintf("lease:%s:%s:%s", k.SetID, k.Lease, k.ReportDate)
}

// Entry is what the engine stores for one lease.
type Entry struct {
	Lease    *lease.ResolvedLease   `json:"lease"`
	Future   *lease.AmendmentRecord `json:"future"`
	Warnings []lease.Warning        `json:"warnings"`
}

// Cache is the memo store used by the engine.
type Cache interface {
	Get(ctx context.Context, key Key) (Entry, bool, error)
	Set(ctx context.Context, key Key, entry Entry) error
	Name() string
}

// Nop never hits.
type Nop struct{}

func (Nop) Get(context.Context, Key) (Entry, bool, error) { return Entry{}, false, nil }
func (Nop) Set(context.Context, Key, Entry) error         { return nil }
func (Nop) Name() string                                  { return "none" }

var _ Cache = Nop{}
