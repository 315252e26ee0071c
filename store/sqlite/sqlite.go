/*
Package sqlite provides a SQLite-backed record store and validation-run
history.

PURPOSE:
  Persists the raw lease extracts (amendments, charge lines, terminations,
  ledger rows, properties, customers) exactly as they arrive, and serves
  them to the engine as a lease.Source. In production the same schema lives
  in PostgreSQL (see store/postgres) and is loaded read-only.

TEXT COLUMNS:
  Every business column is TEXT. Source extracts are not trusted to be
  well-formed, so parsing happens on the way out through the factory, and a
  bad row becomes a MALFORMED_RECORD warning instead of a failed insert.

APPEND-ONLY ENFORCEMENT:
  - No UPDATE statements on record tables
  - No DELETE statements on record tables
  - Corrections arrive as new amendments with a higher sequence
  - amendment_id is unique: re-sending an id is rejected
  - Rows without an amendment_id are kept and dropped on load as
    MALFORMED_RECORD, so they never collide with each other

SNAPSHOT ID:
  Every database gets a random store id on first open, and every append
  bumps a version counter. Load stamps the RecordSet with
  "sqlite:<store id>:<version>", so memoized results never outlive the rows
  they came from and two databases never share a snapshot id.

KEY TABLES:
  amendments, charges, terminations, ledger, properties, customers
  validation_runs: accuracy reports of past validation runs

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging):
  - Multiple readers don't block
  - Single writer at a time

USAGE:
  store, err := sqlite.New("./data/lease.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  err = store.AppendFeed(ctx, feed)
  rs, warnings, err := store.LoadChecked(ctx)

SEE ALSO:
  - factory/records.go: row types and parsers
  - lease/store/memory.go: in-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/warp/lease-engine/factory"
	"github.com/warp/lease-engine/lease"
	"github.com/warp/lease-engine/validation"
)

// Store implements lease.Source on SQLite.
type Store struct {
	db     *sql.DB
	mu     sync.RWMutex
	logger zerolog.Logger
}

type Option func(*Store)

// WithLogger routes warnings about rows dropped on load.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(store)
	}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema and upgrades older layouts.
func (s *Store) migrate() error {
	// Databases created before the surrogate key keyed amendments by
	// amendment_id. Move the rows aside and copy them into the new table.
	legacy, err := s.hasColumn("amendments", "amendment_id")
	if err != nil {
		return err
	}
	if legacy {
		if hasID, err := s.hasColumn("amendments", "id"); err != nil {
			return err
		} else if hasID {
			legacy = false
		}
	}
	if legacy {
		if _, err := s.db.Exec(`
			ALTER TABLE amendments RENAME TO amendments_legacy;
			DROP INDEX IF EXISTS idx_amendments_pair;`); err != nil {
			return fmt.Errorf("failed to move legacy amendments: %w", err)
		}
	}

	schema := `
	-- Amendments (append-only, one row per lease version)
	CREATE TABLE IF NOT EXISTS amendments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		amendment_id TEXT,
		property_id TEXT NOT NULL,
		tenant_id TEXT NOT NULL,
		sequence TEXT,
		status TEXT,
		type TEXT,
		start_date TEXT,
		end_date TEXT,
		leased_area TEXT,
		notes TEXT,
		created_at TEXT NOT NULL
	);

	-- Grouping by (property, tenant) is the hot path of every run
	CREATE INDEX IF NOT EXISTS idx_amendments_pair
		ON amendments(property_id, tenant_id);

	-- Rows without an id are malformed, not duplicates of each other
	CREATE UNIQUE INDEX IF NOT EXISTS idx_amendments_id
		ON amendments(amendment_id)
		WHERE amendment_id IS NOT NULL AND amendment_id <> '';

	-- Charge schedule lines
	CREATE TABLE IF NOT EXISTS charges (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		amendment_id TEXT NOT NULL,
		charge_code TEXT,
		from_date TEXT,
		to_date TEXT,
		monthly_amount TEXT,
		frequency TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_charges_amendment
		ON charges(amendment_id);

	-- Move-outs
	CREATE TABLE IF NOT EXISTS terminations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		property_id TEXT NOT NULL,
		tenant_id TEXT NOT NULL,
		amendment_id TEXT,
		end_date TEXT,
		move_out_reason TEXT,
		created_at TEXT NOT NULL
	);

	-- General ledger postings, one row per (property, account, book, month)
	CREATE TABLE IF NOT EXISTS ledger (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		property_id TEXT NOT NULL,
		account_code TEXT,
		book TEXT,
		period TEXT,
		amount TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_ledger_book_period
		ON ledger(book, period);

	CREATE TABLE IF NOT EXISTS properties (
		property_id TEXT PRIMARY KEY,
		name TEXT,
		rentable_area TEXT,
		acquire_date TEXT,
		dispose_date TEXT,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS customers (
		customer_id TEXT PRIMARY KEY,
		parent_id TEXT,
		name TEXT,
		credit_grade TEXT,
		created_at TEXT NOT NULL
	);

	-- Store identity and monotonic content version, stamped on every Load
	CREATE TABLE IF NOT EXISTS record_version (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		version INTEGER NOT NULL,
		store_id TEXT
	);
	INSERT OR IGNORE INTO record_version (id, version) VALUES (1, 0);

	-- Validation history
	CREATE TABLE IF NOT EXISTS validation_runs (
		id TEXT PRIMARY KEY,
		report_date TEXT NOT NULL,
		overall TEXT NOT NULL,
		compared INTEGER NOT NULL,
		passed BOOLEAN NOT NULL,
		report_json TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_validation_runs_created
		ON validation_runs(created_at DESC);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	if legacy {
		if _, err := s.db.Exec(`
			INSERT INTO amendments
			(amendment_id, property_id, tenant_id, sequence, status, type,
			 start_date, end_date, leased_area, notes, created_at)
			SELECT amendment_id, property_id, tenant_id, sequence, status, type,
			       start_date, end_date, leased_area, notes, created_at
			FROM amendments_legacy ORDER BY rowid;
			DROP TABLE amendments_legacy;`); err != nil {
			return fmt.Errorf("failed to copy legacy amendments: %w", err)
		}
	}

	hasStoreID, err := s.hasColumn("record_version", "store_id")
	if err != nil {
		return err
	}
	if !hasStoreID {
		if _, err := s.db.Exec(`ALTER TABLE record_version ADD COLUMN store_id TEXT`); err != nil {
			return fmt.Errorf("failed to add store id: %w", err)
		}
	}
	_, err = s.db.Exec(`
		UPDATE record_version SET store_id = ?
		WHERE id = 1 AND (store_id IS NULL OR store_id = '')`, uuid.NewString())
	return err
}

// hasColumn reports whether table exists and has the named column.
func (s *Store) hasColumn(table, column string) (bool, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`, table, column).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to inspect %s: %w", table, err)
	}
	return n > 0, nil
}

// =============================================================================
// APPEND
// =============================================================================

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// AppendFeed stores every row of a feed atomically. Rows are stored as
// received; nothing is parsed here. The whole feed is rejected if any
// amendment id already exists. Rows without an id are stored and later
// dropped on load as malformed.
func (s *Store) AppendFeed(ctx context.Context, feed factory.Feed) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Check for duplicate amendment ids within the feed first
	seen := make(map[string]bool, len(feed.Amendments))
	for _, a := range feed.Amendments {
		id := a.AmendmentID.String()
		if id == "" {
			continue
		}
		if seen[id] {
			return fmt.Errorf("%w: %s", lease.ErrDuplicateAmendmentID, id)
		}
		seen[id] = true
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339)
	if err := appendRows(ctx, tx, feed, now); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE record_version SET version = version + 1 WHERE id = 1`); err != nil {
		return fmt.Errorf("failed to bump record version: %w", err)
	}
	return tx.Commit()
}

func appendRows(ctx context.Context, db execer, feed factory.Feed, now string) error {
	for _, a := range feed.Amendments {
		_, err := db.ExecContext(ctx, `
			INSERT INTO amendments
			(amendment_id, property_id, tenant_id, sequence, status, type,
			 start_date, end_date, leased_area, notes, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			nullString(a.AmendmentID.String()), a.PropertyID.String(), a.TenantID.String(),
			a.Sequence.String(), a.Status.String(), a.Type.String(),
			a.StartDate.String(), nullString(a.EndDate.String()), a.LeasedArea.String(),
			nullString(a.Notes.String()), now,
		)
		if err != nil {
			if isUniqueConstraintError(err) {
				return fmt.Errorf("%w: %s", lease.ErrDuplicateAmendmentID, a.AmendmentID)
			}
			return fmt.Errorf("failed to append amendment: %w", err)
		}
	}
	for _, c := range feed.Charges {
		_, err := db.ExecContext(ctx, `
			INSERT INTO charges
			(amendment_id, charge_code, from_date, to_date, monthly_amount, frequency, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			c.AmendmentID.String(), c.ChargeCode.String(), c.FromDate.String(),
			nullString(c.ToDate.String()), c.MonthlyAmount.String(), nullString(c.Frequency.String()), now,
		)
		if err != nil {
			return fmt.Errorf("failed to append charge: %w", err)
		}
	}
	for _, t := range feed.Terminations {
		_, err := db.ExecContext(ctx, `
			INSERT INTO terminations
			(property_id, tenant_id, amendment_id, end_date, move_out_reason, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			t.PropertyID.String(), t.TenantID.String(), nullString(t.AmendmentID.String()),
			t.EndDate.String(), nullString(t.MoveOutReason.String()), now,
		)
		if err != nil {
			return fmt.Errorf("failed to append termination: %w", err)
		}
	}
	for _, l := range feed.Ledger {
		_, err := db.ExecContext(ctx, `
			INSERT INTO ledger (property_id, account_code, book, period, amount, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			l.PropertyID.String(), l.AccountCode.String(), l.Book.String(),
			l.Period.String(), l.Amount.String(), now,
		)
		if err != nil {
			return fmt.Errorf("failed to append ledger row: %w", err)
		}
	}
	// Reference tables are upserted: a property or customer is master data,
	// not history.
	for _, p := range feed.Properties {
		_, err := db.ExecContext(ctx, `
			INSERT INTO properties (property_id, name, rentable_area, acquire_date, dispose_date, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(property_id) DO UPDATE SET
				name = excluded.name,
				rentable_area = excluded.rentable_area,
				acquire_date = excluded.acquire_date,
				dispose_date = excluded.dispose_date`,
			p.PropertyID.String(), nullString(p.Name.String()), p.RentableArea.String(),
			nullString(p.AcquireDate.String()), nullString(p.DisposeDate.String()), now,
		)
		if err != nil {
			return fmt.Errorf("failed to save property: %w", err)
		}
	}
	for _, c := range feed.Customers {
		_, err := db.ExecContext(ctx, `
			INSERT INTO customers (customer_id, parent_id, name, credit_grade, created_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(customer_id) DO UPDATE SET
				parent_id = excluded.parent_id,
				name = excluded.name,
				credit_grade = excluded.credit_grade`,
			c.CustomerID.String(), nullString(c.ParentID.String()), nullString(c.Name.String()),
			nullString(c.CreditGrade.String()), now,
		)
		if err != nil {
			return fmt.Errorf("failed to save customer: %w", err)
		}
	}
	return nil
}

// =============================================================================
// LOAD (lease.Source)
// =============================================================================

// Feed returns every stored row, unparsed.
func (s *Store) Feed(ctx context.Context) (factory.Feed, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		feed    factory.Feed
		storeID string
		version int64
	)
	err := s.db.QueryRowContext(ctx, `SELECT store_id, version FROM record_version WHERE id = 1`).Scan(&storeID, &version)
	if err != nil {
		return factory.Feed{}, fmt.Errorf("failed to read record version: %w", err)
	}
	feed.ID = factory.Text(fmt.Sprintf("sqlite:%s:%d", storeID, version))

	err = s.query(ctx, `
		SELECT property_id, tenant_id, amendment_id, sequence, status, type,
		       start_date, end_date, leased_area, notes
		FROM amendments
		ORDER BY property_id, tenant_id, amendment_id, id`, 10,
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

	err = s.query(ctx, `
		SELECT amendment_id, charge_code, from_date, to_date, monthly_amount, frequency
		FROM charges ORDER BY id`, 6,
		func(c []factory.Text) {
			feed.Charges = append(feed.Charges, factory.ChargeRow{
				AmendmentID: c[0], ChargeCode: c[1], FromDate: c[2], ToDate: c[3],
				MonthlyAmount: c[4], Frequency: c[5],
			})
		})
	if err != nil {
		return factory.Feed{}, err
	}

	err = s.query(ctx, `
		SELECT property_id, tenant_id, amendment_id, end_date, move_out_reason
		FROM terminations ORDER BY id`, 5,
		func(c []factory.Text) {
			feed.Terminations = append(feed.Terminations, factory.TerminationRow{
				PropertyID: c[0], TenantID: c[1], AmendmentID: c[2], EndDate: c[3], MoveOutReason: c[4],
			})
		})
	if err != nil {
		return factory.Feed{}, err
	}

	err = s.query(ctx, `
		SELECT property_id, account_code, book, period, amount
		FROM ledger ORDER BY id`, 5,
		func(c []factory.Text) {
			feed.Ledger = append(feed.Ledger, factory.LedgerRow{
				PropertyID: c[0], AccountCode: c[1], Book: c[2], Period: c[3], Amount: c[4],
			})
		})
	if err != nil {
		return factory.Feed{}, err
	}

	err = s.query(ctx, `
		SELECT property_id, name, rentable_area, acquire_date, dispose_date
		FROM properties ORDER BY property_id`, 5,
		func(c []factory.Text) {
			feed.Properties = append(feed.Properties, factory.PropertyRow{
				PropertyID: c[0], Name: c[1], RentableArea: c[2], AcquireDate: c[3], DisposeDate: c[4],
			})
		})
	if err != nil {
		return factory.Feed{}, err
	}

	err = s.query(ctx, `
		SELECT customer_id, parent_id, name, credit_grade
		FROM customers ORDER BY customer_id`, 4,
		func(c []factory.Text) {
			feed.Customers = append(feed.Customers, factory.CustomerRow{
				CustomerID: c[0], ParentID: c[1], Name: c[2], CreditGrade: c[3],
			})
		})
	if err != nil {
		return factory.Feed{}, err
	}

	return feed, nil
}

// query scans n nullable text columns per row into fn.
func (s *Store) query(ctx context.Context, query string, n int, fn func([]factory.Text)) error {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	raw := make([]sql.NullString, n)
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
			cols[i] = factory.Text(v.String)
		}
		fn(cols)
	}
	return rows.Err()
}

// LoadChecked parses every stored row. Rows that fail are dropped and
// reported, one warning each.
func (s *Store) LoadChecked(ctx context.Context) (*lease.RecordSet, []lease.Warning, error) {
	feed, err := s.Feed(ctx)
	if err != nil {
		return nil, nil, err
	}
	rs, warnings := feed.RecordSet()
	for _, w := range warnings {
		s.logger.Warn().Str("code", string(w.Code)).Str("record_id", string(w.AmendmentID)).Msg(w.Message)
	}
	return rs, warnings, nil
}

// Load implements lease.Source.
func (s *Store) Load(ctx context.Context) (*lease.RecordSet, error) {
	rs, _, err := s.LoadChecked(ctx)
	return rs, err
}

// Version returns the content version stamped on the next Load.
func (s *Store) Version(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var v int64
	err := s.db.QueryRowContext(ctx, `SELECT version FROM record_version WHERE id = 1`).Scan(&v)
	return v, err
}

// =============================================================================
// VALIDATION RUNS
// =============================================================================

// Fixed width so created_at sorts as text.
const runTimeLayout = "2006-01-02T15:04:05.000000000Z"

// ValidationRun is one stored accuracy report.
type ValidationRun struct {
	ID         string            `json:"id"`
	ReportDate lease.Date        `json:"report_date"`
	Overall    decimal.Decimal   `json:"overall"`
	Compared   int               `json:"compared"`
	Passed     bool              `json:"passed"`
	Report     validation.Report `json:"report"`
	CreatedAt  time.Time         `json:"created_at"`
}

// SaveValidationRun records a report. The report's RunID is the key; a
// report without one is rejected.
func (s *Store) SaveValidationRun(ctx context.Context, report validation.Report, passed bool) error {
	if report.RunID == "" {
		return fmt.Errorf("validation run id: %w", lease.ErrMissingKey)
	}
	raw, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO validation_runs (id, report_date, overall, compared, passed, report_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		report.RunID, report.ReportDate.String(), report.Overall.String(), report.Compared,
		passed, string(raw), time.Now().UTC().Format(runTimeLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to save validation run: %w", err)
	}
	return nil
}

// ValidationRuns returns stored runs, newest first. limit <= 0 means all.
func (s *Store) ValidationRuns(ctx context.Context, limit int) ([]ValidationRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, report_date, overall, compared, passed, report_json, created_at
		FROM validation_runs
		ORDER BY created_at DESC, id`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query validation runs: %w", err)
	}
	defer rows.Close()

	var runs []ValidationRun
	for rows.Next() {
		var (
			r                                  ValidationRun
			reportDate, overall, raw, createdAt string
		)
		if err := rows.Scan(&r.ID, &reportDate, &overall, &r.Compared, &r.Passed, &raw, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan validation run: %w", err)
		}
		r.ReportDate, _ = lease.ParseDate(reportDate)
		r.Overall, _ = decimal.NewFromString(overall)
		r.CreatedAt, _ = time.Parse(runTimeLayout, createdAt)
		if err := json.Unmarshal([]byte(raw), &r.Report); err != nil {
			return nil, fmt.Errorf("failed to decode report %s: %w", r.ID, err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// GetValidationRun returns one run, lease.ErrNotFound when absent.
func (s *Store) GetValidationRun(ctx context.Context, id string) (*ValidationRun, error) {
	runs, err := s.ValidationRuns(ctx, 0)
	if err != nil {
		return nil, err
	}
	for i := range runs {
		if runs[i].ID == id {
			return &runs[i], nil
		}
	}
	return nil, fmt.Errorf("validation run %s: %w", id, lease.ErrNotFound)
}

// Reset clears all data. For tests and local replays only.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, table := range []string{"amendments", "charges", "terminations", "ledger", "properties", "customers", "validation_runs"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to reset %s: %w", table, err)
		}
	}
	_, err := s.db.ExecContext(ctx, `UPDATE record_version SET version = version + 1 WHERE id = 1`)
	return err
}

var _ lease.CheckedSource = (*Store)(nil)

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
