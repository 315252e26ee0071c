/*
Package postgres loads lease extracts from a PostgreSQL warehouse.

PURPOSE:
  Production extracts land in PostgreSQL, written by upstream jobs. This
  package only reads them: it is a lease.Source, never a writer.

SCHEMA:
  Same tables and columns as store/sqlite. Every column is cast to text in
  the query so that a numeric or date column and a free-text one go through
  the same parser, and a bad value becomes a MALFORMED_RECORD warning.

SNAPSHOT ID:
  The warehouse has no version counter we own, so the RecordSet ID is a
  content hash of every row read: "postgres:<fnv64a>". Identical content
  yields an identical ID, which is all the memo cache needs.

SEE ALSO:
  - store/sqlite/sqlite.go: the writable twin used locally
  - factory/records.go: row parsers
*/
package postgres

import (
	"context"
	"fmt"
	"hash"
	"hash/fnv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/warp/lease-engine/factory"
	"github.com/warp/lease-engine/lease"
)

// Querier is the subset of *pgxpool.Pool the source needs.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Source reads a RecordSet from PostgreSQL.
type Source struct {
	db     Querier
	schema string
	logger zerolog.Logger
	close  func()
}

type Option func(*Source)

// WithSchema qualifies every table, e.g. "leasing".
func WithSchema(schema string) Option {
	return func(s *Source) { s.schema = schema }
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Source) { s.logger = l }
}

// Connect opens a pool on dsn and checks it with a ping.
func Connect(ctx context.Context, dsn string, opts ...Option) (*Source, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	// Reads are a handful of sequential scans per run
	poolConfig.MaxConns = 5
	poolConfig.MinConns = 1
	poolConfig.MaxConnLifetime = time.Minute * 30
	poolConfig.MaxConnIdleTime = time.Minute * 5
	poolConfig.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := New(pool, opts...)
	s.close = pool.Close
	return s, nil
}

// New wraps an existing querier. The caller owns its lifetime.
func New(db Querier, opts ...Option) *Source {
	s := &Source{db: db, logger: zerolog.Nop(), close: func() {}}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close releases the pool opened by Connect.
func (s *Source) Close() {
	s.close()
}

func (s *Source) table(name string) string {
	if s.schema == "" {
		return name
	}
	return pgx.Identifier{s.schema, name}.Sanitize()
}

// =============================================================================
// LOAD
// =============================================================================

// Feed reads every row, unparsed.
func (s *Source) Feed(ctx context.Context) (factory.Feed, error) {
	var feed factory.Feed
	h := fnv.New64a()

	err := s.scan(ctx, h, fmt.Sprintf(`
		SELECT property_id::text, tenant_id::text, amendment_id::text, sequence::text,
		       status::text, type::text, start_date::text, end_date::text,
		       leased_area::text, notes::text
		FROM %s
		ORDER BY property_id, tenant_id, amendment_id`, s.table("amendments")), 10,
		func(c []factory.Text) {
			feed.Amendments = append(feed.Amendments, factory.AmendmentRow{
				PropertyID: c[0], TenantID: c[1], AmendmentID: c[2], Sequence: c[3],
				Status: c[4], Type: c[5], StartDate: c[6], EndDate: c[7],
				LeasedArea: c[8], Notes: c[9],
			})
		})
	if err != nil {
		return factory.Feed{}, err
	}

	err = s.scan(ctx, h, fmt.Sprintf(`
		SELECT amendment_id::text, charge_code::text, from_date::text, to_date::text,
		       monthly_amount::text, frequency::text
		FROM %s
		ORDER BY amendment_id, from_date`, s.table("charges")), 6,
		func(c []factory.Text) {
			feed.Charges = append(feed.Charges, factory.ChargeRow{
				AmendmentID: c[0], ChargeCode: c[1], FromDate: c[2], ToDate: c[3],
				MonthlyAmount: c[4], Frequency: c[5],
			})
		})
	if err != nil {
		return factory.Feed{}, err
	}

	err = s.scan(ctx, h, fmt.Sprintf(`
		SELECT property_id::text, tenant_id::text, amendment_id::text, end_date::text,
		       move_out_reason::text
		FROM %s
		ORDER BY property_id, tenant_id, end_date`, s.table("terminations")), 5,
		func(c []factory.Text) {
			feed.Terminations = append(feed.Terminations, factory.TerminationRow{
				PropertyID: c[0], TenantID: c[1], AmendmentID: c[2], EndDate: c[3], MoveOutReason: c[4],
			})
		})
	if err != nil {
		return factory.Feed{}, err
	}

	err = s.scan(ctx, h, fmt.Sprintf(`
		SELECT property_id::text, account_code::text, book::text, period::text, amount::text
		FROM %s
		ORDER BY property_id, period, account_code`, s.table("ledger")), 5,
		func(c []factory.Text) {
			feed.Ledger = append(feed.Ledger, factory.LedgerRow{
				PropertyID: c[0], AccountCode: c[1], Book: c[2], Period: c[3], Amount: c[4],
			})
		})
	if err != nil {
		return factory.Feed{}, err
	}

	err = s.scan(ctx, h, fmt.Sprintf(`
		SELECT property_id::text, name::text, rentable_area::text, acquire_date::text, dispose_date::text
		FROM %s
		ORDER BY property_id`, s.table("properties")), 5,
		func(c []factory.Text) {
			feed.Properties = append(feed.Properties, factory.PropertyRow{
				PropertyID: c[0], Name: c[1], RentableArea: c[2], AcquireDate: c[3], DisposeDate: c[4],
			})
		})
	if err != nil {
		return factory.Feed{}, err
	}

	err = s.scan(ctx, h, fmt.Sprintf(`
		SELECT customer_id::text, parent_id::text, name::text, credit_grade::text
		FROM %s
		ORDER BY customer_id`, s.table("customers")), 4,
		func(c []factory.Text) {
			feed.Customers = append(feed.Customers, factory.CustomerRow{
				CustomerID: c[0], ParentID: c[1], Name: c[2], CreditGrade: c[3],
			})
		})
	if err != nil {
		return factory.Feed{}, err
	}

	feed.ID = factory.Text(fmt.Sprintf("postgres:%016x", h.Sum64()))
	return feed, nil
}

// scan reads n nullable text columns per row into fn and folds them into h.
func (s *Source) scan(ctx context.Context, h hash.Hash64, query string, n int, fn func([]factory.Text)) error {
	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	raw := make([]*string, n)
	dest := make([]any, n)
	for i := range raw {
		dest[i] = &raw[i]
	}
	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return fmt.Errorf("failed to scan record: %w", err)
		}
		cols := make([]factory.Text, n)
		for i, v := range raw {
			if v != nil {
				cols[i] = factory.Text(*v)
			}
			_, _ = h.Write([]byte(cols[i]))
			_, _ = h.Write([]byte{0})
		}
		_, _ = h.Write([]byte{'\n'})
		fn(cols)
	}
	return rows.Err()
}

// LoadChecked implements lease.CheckedSource.
func (s *Source) LoadChecked(ctx context.Context) (*lease.RecordSet, []lease.Warning, error) {
	feed, err := s.Feed(ctx)
	if err != nil {
		return nil, nil, err
	}
	rs, warnings := feed.RecordSet()
	for _, w := range warnings {
		s.logger.Warn().Str("code", string(w.Code)).Str("record_id", string(w.AmendmentID)).Msg(w.Message)
	}
	s.logger.Debug().
		Str("record_set", rs.ID).
		Int("amendments", len(rs.Amendments)).
		Int("dropped", len(warnings)).
		Msg("records loaded")
	return rs, warnings, nil
}

// Load implements lease.Source.
func (s *Source) Load(ctx context.Context) (*lease.RecordSet, error) {
	rs, _, err := s.LoadChecked(ctx)
	return rs, err
}

var _ lease.CheckedSource = (*Source)(nil)
