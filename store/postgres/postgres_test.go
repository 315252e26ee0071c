package postgres_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/lease-engine/lease"
	"github.com/warp/lease-engine/store/postgres"
)

// =============================================================================
// FAKE POOL
// =============================================================================

type fakeRows struct {
	data [][]*string
	i    int
}

func (r *fakeRows) Close()                                       {}
func (r *fakeRows) Err() error                                   { return nil }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) Values() ([]any, error)                       { return nil, nil }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }

func (r *fakeRows) Next() bool {
	r.i++
	return r.i <= len(r.data)
}

func (r *fakeRows) Scan(dest ...any) error {
	row := r.data[r.i-1]
	if len(dest) != len(row) {
		return errors.New("column count mismatch")
	}
	for i, d := range dest {
		*(d.(**string)) = row[i]
	}
	return nil
}

// fakePool answers by table name.
type fakePool struct {
	tables  map[string][][]*string
	queries []string
	fail    error
}

func (p *fakePool) Query(_ context.Context, sql string, _ ...any) (pgx.Rows, error) {
	p.queries = append(p.queries, sql)
	if p.fail != nil {
		return nil, p.fail
	}
	for name, data := range p.tables {
		if strings.Contains(sql, "FROM "+name+"\n") || strings.Contains(sql, `FROM "leasing"."`+name+`"`) {
			return &fakeRows{data: data}, nil
		}
	}
	return &fakeRows{}, nil
}

func s(v string) *string { return &v }

func row(vals ...string) []*string {
	out := make([]*string, len(vals))
	for i, v := range vals {
		if v != "" {
			out[i] = s(v)
		}
	}
	return out
}

func warehouse() *fakePool {
	return &fakePool{tables: map[string][][]*string{
		"amendments": {
			row("P1", "T1", "1", "1", "Activated", "Original Lease", "2020-01-01", "2022-12-31", "2500", ""),
			row("P1", "T1", "3", "3", "Superseded", "Renewal", "2024-01-01", "2028-12-31", "2500", ""),
			row("P1", "T2", "7", "abc", "Activated", "Original Lease", "2024-01-01", "", "500", ""),
		},
		"charges": {
			row("3", "rent", "2024-01-01", "", "6000.00", "Monthly"),
		},
		"properties": {
			row("P1", "Main St", "5000", "2015-01-01", ""),
		},
	}}
}

// =============================================================================
// TESTS
// =============================================================================

func TestSource_LoadChecked(t *testing.T) {
	// GIVEN: a warehouse with one amendment whose sequence is not a number
	src := postgres.New(warehouse())

	// WHEN
	rs, warnings, err := src.LoadChecked(context.Background())

	// THEN
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	assert.Equal(t, lease.WarnMalformedRecord, warnings[0].Code)
	assert.Len(t, rs.Amendments, 2)
	require.Len(t, rs.Charges, 1)
	assert.Nil(t, rs.Charges[0].ToDate)
	require.Len(t, rs.Properties, 1)
	assert.Nil(t, rs.Properties[0].DisposeDate)
	assert.True(t, strings.HasPrefix(rs.ID, "postgres:"))
}

func TestSource_IDIsContentHash(t *testing.T) {
	ctx := context.Background()

	a, err := postgres.New(warehouse()).Load(ctx)
	require.NoError(t, err)
	b, err := postgres.New(warehouse()).Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, a.ID, b.ID, "same rows, same id")

	changed := warehouse()
	changed.tables["charges"][0][4] = s("6100.00")
	c, err := postgres.New(changed).Load(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, c.ID)
}

func TestSource_Schema(t *testing.T) {
	pool := warehouse()
	src := postgres.New(pool, postgres.WithSchema("leasing"))

	rs, err := src.Load(context.Background())

	require.NoError(t, err)
	assert.Len(t, rs.Amendments, 2)
	assert.Contains(t, pool.queries[0], `"leasing"."amendments"`)
}

func TestSource_QueryError(t *testing.T) {
	pool := &fakePool{fail: errors.New("connection reset")}

	_, err := postgres.New(pool).Load(context.Background())

	assert.ErrorContains(t, err, "connection reset")
}
