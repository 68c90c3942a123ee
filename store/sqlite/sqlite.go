/*
Package sqlite provides a SQLite-backed implementation of dairy.TxStore.

KEY TABLES:
  buckets:       produced quantity per (farm, date, session), upserted
  allocations:   immutable ledger of debits against buckets
  orders:        one-time orders and their status
  subscriptions: recurring commitments

APPEND-ONLY ENFORCEMENT:
  - No UPDATE or DELETE statements on allocations
  - bucket upserts only touch produced/updated_at, never the id
  - order status changes are conditional on the previous status

QUANTITIES:
  Stored as TEXT decimal strings and summed in Go, so no value ever goes
  through a float.

CONCURRENCY:
  The pool is limited to one connection: SQLite has a single writer, and
  ":memory:" databases are per-connection. Statements queue on the pool.
  Bucket-level serialization is the engine's Locker, not this store.

USAGE:
  store, err := sqlite.New("./data/dairy.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/dairy-engine/dairy"
)

// Store implements dairy.TxStore using SQLite.
type Store struct {
	db *sql.DB
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
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

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS buckets (
		id TEXT PRIMARY KEY,
		farm_id TEXT NOT NULL,
		date TEXT NOT NULL,
		session TEXT NOT NULL,
		produced TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE(farm_id, date, session)
	);

	CREATE INDEX IF NOT EXISTS idx_buckets_farm_date
		ON buckets(farm_id, date);

	-- Allocations (append-only ledger)
	CREATE TABLE IF NOT EXISTS allocations (
		id TEXT PRIMARY KEY,
		bucket_id TEXT NOT NULL REFERENCES buckets(id),
		quantity TEXT NOT NULL,
		kind TEXT NOT NULL,
		reference_id TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_allocations_bucket
		ON allocations(bucket_id);
	CREATE INDEX IF NOT EXISTS idx_allocations_reference
		ON allocations(reference_id);

	-- An order is backed by at most one allocation
	CREATE UNIQUE INDEX IF NOT EXISTS idx_allocations_unique_order
		ON allocations(reference_id) WHERE kind = 'ORDER';

	CREATE TABLE IF NOT EXISTS orders (
		id TEXT PRIMARY KEY,
		farm_id TEXT NOT NULL,
		buyer_id TEXT NOT NULL,
		date TEXT NOT NULL,
		session TEXT NOT NULL,
		quantity TEXT NOT NULL,
		status TEXT NOT NULL,
		decided_by TEXT,
		decided_at TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_orders_farm_status
		ON orders(farm_id, status);
	CREATE INDEX IF NOT EXISTS idx_orders_buyer
		ON orders(buyer_id);

	CREATE TABLE IF NOT EXISTS subscriptions (
		id TEXT PRIMARY KEY,
		buyer_id TEXT NOT NULL,
		farm_id TEXT NOT NULL,
		quantity TEXT NOT NULL,
		session TEXT NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_subscriptions_status
		ON subscriptions(status);
	CREATE INDEX IF NOT EXISTS idx_subscriptions_buyer
		ON subscriptions(buyer_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONAL STORE (dairy.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store dairy.Store) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&queries{q: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// queries implements dairy.Store over a querier.
type queries struct {
	q querier
}

func (s *Store) view() *queries { return &queries{q: s.db} }

func (s *Store) UpsertBucket(ctx context.Context, b dairy.Bucket) (dairy.Bucket, error) {
	return s.view().UpsertBucket(ctx, b)
}
func (s *Store) GetBucket(ctx context.Context, key dairy.BucketKey) (*dairy.Bucket, error) {
	return s.view().GetBucket(ctx, key)
}
func (s *Store) GetBucketByID(ctx context.Context, id dairy.BucketID) (*dairy.Bucket, error) {
	return s.view().GetBucketByID(ctx, id)
}
func (s *Store) ListBuckets(ctx context.Context, farmID dairy.FarmID, date dairy.Date) ([]dairy.Bucket, error) {
	return s.view().ListBuckets(ctx, farmID, date)
}
func (s *Store) ListBucketsInRange(ctx context.Context, farmID dairy.FarmID, from, to dairy.Date) ([]dairy.Bucket, error) {
	return s.view().ListBucketsInRange(ctx, farmID, from, to)
}
func (s *Store) AppendAllocation(ctx context.Context, a dairy.Allocation) error {
	return s.view().AppendAllocation(ctx, a)
}
func (s *Store) SumAllocations(ctx context.Context, bucketID dairy.BucketID) (decimal.Decimal, error) {
	return s.view().SumAllocations(ctx, bucketID)
}
func (s *Store) AllocationsByReference(ctx context.Context, referenceID string) ([]dairy.Allocation, error) {
	return s.view().AllocationsByReference(ctx, referenceID)
}
func (s *Store) InsertOrder(ctx context.Context, o dairy.Order) error {
	return s.view().InsertOrder(ctx, o)
}
func (s *Store) TransitionOrder(ctx context.Context, o dairy.Order, from dairy.OrderStatus) error {
	return s.view().TransitionOrder(ctx, o, from)
}
func (s *Store) GetOrder(ctx context.Context, id dairy.OrderID) (*dairy.Order, error) {
	return s.view().GetOrder(ctx, id)
}
func (s *Store) ListOrders(ctx context.Context, filter dairy.OrderFilter) ([]dairy.Order, error) {
	return s.view().ListOrders(ctx, filter)
}
func (s *Store) SaveSubscription(ctx context.Context, sub dairy.Subscription) error {
	return s.view().SaveSubscription(ctx, sub)
}
func (s *Store) TransitionSubscription(ctx context.Context, sub dairy.Subscription, from dairy.SubscriptionStatus) error {
	return s.view().TransitionSubscription(ctx, sub, from)
}
func (s *Store) GetSubscription(ctx context.Context, id dairy.SubscriptionID) (*dairy.Subscription, error) {
	return s.view().GetSubscription(ctx, id)
}
func (s *Store) ListSubscriptions(ctx context.Context, filter dairy.SubscriptionFilter) ([]dairy.Subscription, error) {
	return s.view().ListSubscriptions(ctx, filter)
}

// =============================================================================
// BUCKETS
// =============================================================================

const bucketColumns = `id, farm_id, date, session, produced, created_at, updated_at`

func (q *queries) UpsertBucket(ctx context.Context, b dairy.Bucket) (dairy.Bucket, error) {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO buckets (`+bucketColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(farm_id, date, session) DO UPDATE SET
			produced = excluded.produced,
			updated_at = excluded.updated_at
	`,
		b.ID, b.Key.FarmID, b.Key.Date.String(), b.Key.Session, b.Produced.String(),
		formatTime(b.CreatedAt), formatTime(b.UpdatedAt),
	)
	if err != nil {
		return dairy.Bucket{}, fmt.Errorf("failed to upsert bucket: %w", err)
	}

	stored, err := q.GetBucket(ctx, b.Key)
	if err != nil {
		return dairy.Bucket{}, err
	}
	if stored == nil {
		return dairy.Bucket{}, fmt.Errorf("bucket %s missing after upsert", b.Key)
	}
	return *stored, nil
}

func (q *queries) GetBucket(ctx context.Context, key dairy.BucketKey) (*dairy.Bucket, error) {
	return q.getBucket(ctx, `SELECT `+bucketColumns+` FROM buckets WHERE farm_id = ? AND date = ? AND session = ?`,
		key.FarmID, key.Date.String(), key.Session)
}

func (q *queries) GetBucketByID(ctx context.Context, id dairy.BucketID) (*dairy.Bucket, error) {
	return q.getBucket(ctx, `SELECT `+bucketColumns+` FROM buckets WHERE id = ?`, id)
}

func (q *queries) getBucket(ctx context.Context, query string, args ...any) (*dairy.Bucket, error) {
	b, err := scanBucket(q.q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (q *queries) ListBuckets(ctx context.Context, farmID dairy.FarmID, date dairy.Date) ([]dairy.Bucket, error) {
	return q.listBuckets(ctx, `SELECT `+bucketColumns+` FROM buckets WHERE farm_id = ? AND date = ?`,
		farmID, date.String())
}

func (q *queries) ListBucketsInRange(ctx context.Context, farmID dairy.FarmID, from, to dairy.Date) ([]dairy.Bucket, error) {
	return q.listBuckets(ctx, `SELECT `+bucketColumns+` FROM buckets WHERE farm_id = ? AND date >= ? AND date <= ?`,
		farmID, from.String(), to.String())
}

func (q *queries) listBuckets(ctx context.Context, query string, args ...any) ([]dairy.Bucket, error) {
	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query buckets: %w", err)
	}
	defer rows.Close()

	var out []dairy.Bucket
	for rows.Next() {
		b, err := scanBucket(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	dairy.SortBuckets(out)
	return out, nil
}

// =============================================================================
// ALLOCATIONS (append-only)
// =============================================================================

func (q *queries) AppendAllocation(ctx context.Context, a dairy.Allocation) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO allocations (id, bucket_id, quantity, kind, reference_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, a.ID, a.BucketID, a.Quantity.String(), a.Kind, a.ReferenceID, formatTime(a.CreatedAt))
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("order %s already allocated: %w", a.ReferenceID, dairy.ErrConcurrentModification)
		}
		return fmt.Errorf("failed to append allocation: %w", err)
	}
	return nil
}

func (q *queries) SumAllocations(ctx context.Context, bucketID dairy.BucketID) (decimal.Decimal, error) {
	rows, err := q.q.QueryContext(ctx, `SELECT quantity FROM allocations WHERE bucket_id = ?`, bucketID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to query allocations: %w", err)
	}
	defer rows.Close()

	sum := decimal.Zero
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return decimal.Zero, fmt.Errorf("failed to scan allocation: %w", err)
		}
		qty, err := decimal.NewFromString(raw)
		if err != nil {
			return decimal.Zero, fmt.Errorf("corrupt allocation quantity %q: %w", raw, err)
		}
		sum = sum.Add(qty)
	}
	return sum, rows.Err()
}

func (q *queries) AllocationsByReference(ctx context.Context, referenceID string) ([]dairy.Allocation, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT id, bucket_id, quantity, kind, reference_id, created_at
		FROM allocations WHERE reference_id = ?
		ORDER BY created_at ASC
	`, referenceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query allocations: %w", err)
	}
	defer rows.Close()

	var out []dairy.Allocation
	for rows.Next() {
		var (
			a         dairy.Allocation
			quantity  string
			createdAt string
		)
		if err := rows.Scan(&a.ID, &a.BucketID, &quantity, &a.Kind, &a.ReferenceID, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan allocation: %w", err)
		}
		a.Quantity, err = decimal.NewFromString(quantity)
		if err != nil {
			return nil, fmt.Errorf("corrupt allocation quantity %q: %w", quantity, err)
		}
		if a.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// =============================================================================
// ORDERS
// =============================================================================

const orderColumns = `id, farm_id, buyer_id, date, session, quantity, status, decided_by, decided_at, created_at, updated_at`

func (q *queries) InsertOrder(ctx context.Context, o dairy.Order) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		o.ID, o.FarmID, o.BuyerID, o.Date.String(), o.Session, o.Quantity.String(), o.Status,
		nullString(o.DecidedBy), nullTime(o.DecidedAt),
		formatTime(o.CreatedAt), formatTime(o.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}
	return nil
}

func (q *queries) TransitionOrder(ctx context.Context, o dairy.Order, from dairy.OrderStatus) error {
	res, err := q.q.ExecContext(ctx, `
		UPDATE orders SET status = ?, decided_by = ?, decided_at = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, o.Status, nullString(o.DecidedBy), nullTime(o.DecidedAt), formatTime(o.UpdatedAt), o.ID, from)
	if err != nil {
		return fmt.Errorf("failed to update order: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return dairy.ErrConcurrentModification
	}
	return nil
}

func (q *queries) GetOrder(ctx context.Context, id dairy.OrderID) (*dairy.Order, error) {
	o, err := scanOrder(q.q.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (q *queries) ListOrders(ctx context.Context, filter dairy.OrderFilter) ([]dairy.Order, error) {
	where, args := whereClause(map[string]string{
		"farm_id":  string(filter.FarmID),
		"buyer_id": string(filter.BuyerID),
		"status":   string(filter.Status),
	})
	where, args = dateRange(where, args, filter.From, filter.To)
	rows, err := q.q.QueryContext(ctx, `SELECT `+orderColumns+` FROM orders`+where+` ORDER BY created_at ASC, id ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	var out []dairy.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// =============================================================================
// SUBSCRIPTIONS
// =============================================================================

const subscriptionColumns = `id, buyer_id, farm_id, quantity, session, start_date, end_date, status, created_at, updated_at`

func (q *queries) SaveSubscription(ctx context.Context, sub dairy.Subscription) error {
	var endDate sql.NullString
	if sub.EndDate != nil {
		endDate = sql.NullString{String: sub.EndDate.String(), Valid: true}
	}
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO subscriptions (`+subscriptionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			quantity = excluded.quantity,
			session = excluded.session,
			start_date = excluded.start_date,
			end_date = excluded.end_date,
			status = excluded.status,
			updated_at = excluded.updated_at
	`,
		sub.ID, sub.BuyerID, sub.FarmID, sub.Quantity.String(), sub.Session,
		sub.StartDate.String(), endDate, sub.Status,
		formatTime(sub.CreatedAt), formatTime(sub.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save subscription: %w", err)
	}
	return nil
}

func (q *queries) TransitionSubscription(ctx context.Context, sub dairy.Subscription, from dairy.SubscriptionStatus) error {
	res, err := q.q.ExecContext(ctx, `
		UPDATE subscriptions SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, sub.Status, formatTime(sub.UpdatedAt), sub.ID, from)
	if err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return dairy.ErrConcurrentModification
	}
	return nil
}

func (q *queries) GetSubscription(ctx context.Context, id dairy.SubscriptionID) (*dairy.Subscription, error) {
	sub, err := scanSubscription(q.q.QueryRowContext(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (q *queries) ListSubscriptions(ctx context.Context, filter dairy.SubscriptionFilter) ([]dairy.Subscription, error) {
	where, args := whereClause(map[string]string{
		"buyer_id": string(filter.BuyerID),
		"farm_id":  string(filter.FarmID),
		"status":   string(filter.Status),
	})
	rows, err := q.q.QueryContext(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions`+where+` ORDER BY created_at ASC, id ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query subscriptions: %w", err)
	}
	defer rows.Close()

	var out []dairy.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

// =============================================================================
// SCANNING
// =============================================================================

type scanner interface {
	Scan(dest ...any) error
}

func scanBucket(row scanner) (dairy.Bucket, error) {
	var (
		b                    dairy.Bucket
		date, session        string
		produced             string
		createdAt, updatedAt string
	)
	if err := row.Scan(&b.ID, &b.Key.FarmID, &date, &session, &produced, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return b, err
		}
		return b, fmt.Errorf("failed to scan bucket: %w", err)
	}

	var err error
	if b.Key.Date, err = dairy.ParseDate(date); err != nil {
		return b, err
	}
	b.Key.Session = dairy.Session(session)
	if b.Produced, err = decimal.NewFromString(produced); err != nil {
		return b, fmt.Errorf("corrupt produced quantity %q: %w", produced, err)
	}
	if b.CreatedAt, err = parseTime(createdAt); err != nil {
		return b, err
	}
	if b.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return b, err
	}
	return b, nil
}

func scanOrder(row scanner) (dairy.Order, error) {
	var (
		o                    dairy.Order
		date, session        string
		quantity, status     string
		decidedBy, decidedAt sql.NullString
		createdAt, updatedAt string
	)
	err := row.Scan(&o.ID, &o.FarmID, &o.BuyerID, &date, &session, &quantity, &status,
		&decidedBy, &decidedAt, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return o, err
		}
		return o, fmt.Errorf("failed to scan order: %w", err)
	}

	if o.Date, err = dairy.ParseDate(date); err != nil {
		return o, err
	}
	if o.Quantity, err = decimal.NewFromString(quantity); err != nil {
		return o, fmt.Errorf("corrupt order quantity %q: %w", quantity, err)
	}
	o.Session = dairy.Session(session)
	o.Status = dairy.OrderStatus(status)
	if decidedBy.Valid {
		by := decidedBy.String
		o.DecidedBy = &by
	}
	if decidedAt.Valid {
		at, err := parseTime(decidedAt.String)
		if err != nil {
			return o, err
		}
		o.DecidedAt = &at
	}
	if o.CreatedAt, err = parseTime(createdAt); err != nil {
		return o, err
	}
	if o.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return o, err
	}
	return o, nil
}

func scanSubscription(row scanner) (dairy.Subscription, error) {
	var (
		sub                  dairy.Subscription
		quantity, session    string
		startDate            string
		endDate              sql.NullString
		status               string
		createdAt, updatedAt string
	)
	err := row.Scan(&sub.ID, &sub.BuyerID, &sub.FarmID, &quantity, &session,
		&startDate, &endDate, &status, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return sub, err
		}
		return sub, fmt.Errorf("failed to scan subscription: %w", err)
	}

	if sub.Quantity, err = decimal.NewFromString(quantity); err != nil {
		return sub, fmt.Errorf("corrupt subscription quantity %q: %w", quantity, err)
	}
	if sub.StartDate, err = dairy.ParseDate(startDate); err != nil {
		return sub, err
	}
	if endDate.Valid {
		end, err := dairy.ParseDate(endDate.String)
		if err != nil {
			return sub, err
		}
		sub.EndDate = &end
	}
	sub.Session = dairy.Session(session)
	sub.Status = dairy.SubscriptionStatus(status)
	if sub.CreatedAt, err = parseTime(createdAt); err != nil {
		return sub, err
	}
	if sub.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return sub, err
	}
	return sub, nil
}

// =============================================================================
// HELPERS
// =============================================================================

// whereClause builds "WHERE a = ? AND b = ?" from the non-empty filters,
// in sorted column order.
func whereClause(filters map[string]string) (string, []any) {
	cols := make([]string, 0, len(filters))
	for col, val := range filters {
		if val != "" {
			cols = append(cols, col)
		}
	}
	if len(cols) == 0 {
		return "", nil
	}
	sort.Strings(cols)

	parts := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, col := range cols {
		parts[i] = col + " = ?"
		args[i] = filters[col]
	}
	return " WHERE " + strings.Join(parts, " AND "), args
}

// dateRange appends inclusive bounds on the date column; zero bounds are
// skipped. Dates are stored as YYYY-MM-DD, so string comparison orders them.
func dateRange(where string, args []any, from, to dairy.Date) (string, []any) {
	var parts []string
	if !from.IsZero() {
		parts = append(parts, "date >= ?")
		args = append(args, from.String())
	}
	if !to.IsZero() {
		parts = append(parts, "date <= ?")
		args = append(args, to.String())
	}
	if len(parts) == 0 {
		return where, args
	}
	if where == "" {
		return " WHERE " + strings.Join(parts, " AND "), args
	}
	return where + " AND " + strings.Join(parts, " AND "), args
}

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("corrupt timestamp %q: %w", s, err)
	}
	return t, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
