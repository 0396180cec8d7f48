package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"order-splitter/internal/model"
)

// Dialect selects placeholder syntax and the driver name.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// SQLStore is a RecordStore over database/sql. Unique constraints on
// batch_id and order_id make create-if-absent a single INSERT ... ON CONFLICT
// DO NOTHING, so concurrent deliveries cannot both claim the same key.
//
// Timestamps are stored as fixed-width RFC 3339 UTC text in both dialects so
// that text ordering matches time ordering.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

// NewSQLStore wraps an open database. Call Migrate before first use.
func NewSQLStore(db *sql.DB, dialect Dialect) *SQLStore {
	return &SQLStore{
		db:      db,
		dialect: dialect,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Open connects with the driver for dialect, verifies the connection and
// applies the schema.
func Open(ctx context.Context, dialect Dialect, dsn string) (*SQLStore, error) {
	switch dialect {
	case DialectPostgres, DialectSQLite:
	default:
		return nil, fmt.Errorf("unsupported dialect %q", dialect)
	}

	db, err := sql.Open(string(dialect), dsn)
	if err != nil {
		return nil, fmt.Errorf("opening %s database: %w", dialect, err)
	}
	if dialect == DialectSQLite {
		// SQLite allows one writer; serializing through one connection avoids SQLITE_BUSY.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to %s database: %w", dialect, err)
	}

	s := NewSQLStore(db, dialect)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS batch_records (
		id TEXT PRIMARY KEY,
		batch_id TEXT NOT NULL UNIQUE,
		store_id TEXT NOT NULL,
		raw_notification TEXT NOT NULL,
		raw_batch_response TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS order_records (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL UNIQUE,
		batch_record_id TEXT NOT NULL,
		store_id TEXT NOT NULL,
		raw_order TEXT NOT NULL,
		updated_order_response TEXT NOT NULL DEFAULT '',
		email_content TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS order_records_batch_record_id ON order_records (batch_record_id)`,
}

// Migrate creates the ledger tables if they do not exist.
func (s *SQLStore) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrating schema: %w", err)
		}
	}
	return nil
}

const batchColumns = "id, batch_id, store_id, raw_notification, raw_batch_response, created_at"

const orderColumns = "id, order_id, batch_record_id, store_id, raw_order, updated_order_response, email_content, status, created_at, updated_at"

func (s *SQLStore) CreateBatch(ctx context.Context, rec model.BatchRecord) (model.BatchRecord, bool, error) {
	if rec.BatchID == "" {
		return model.BatchRecord{}, false, model.NewValidationError("batch_id", "required")
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}

	res, err := s.db.ExecContext(ctx, s.rebind(
		"INSERT INTO batch_records ("+batchColumns+") VALUES (?, ?, ?, ?, ?, ?) ON CONFLICT (batch_id) DO NOTHING"),
		rec.ID, rec.BatchID, rec.StoreID, rec.RawNotification, rec.RawBatchResponse, formatTime(rec.CreatedAt))
	if err != nil {
		return model.BatchRecord{}, false, fmt.Errorf("inserting batch record: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return model.BatchRecord{}, false, fmt.Errorf("inserting batch record: %w", err)
	}
	if n == 1 {
		return rec, true, nil
	}

	existing, err := s.FindBatch(ctx, rec.BatchID)
	if err != nil {
		return model.BatchRecord{}, false, fmt.Errorf("loading existing batch record: %w", err)
	}
	return existing, false, nil
}

func (s *SQLStore) SetBatchResponse(ctx context.Context, id, raw string) error {
	return s.execOne(ctx, batchNotFound,
		"UPDATE batch_records SET raw_batch_response = ? WHERE id = ?", raw, id)
}

func (s *SQLStore) DeleteBatch(ctx context.Context, id string) error {
	return s.execOne(ctx, batchNotFound, "DELETE FROM batch_records WHERE id = ?", id)
}

func (s *SQLStore) GetBatch(ctx context.Context, id string) (model.BatchRecord, error) {
	return s.queryBatch(ctx, "SELECT "+batchColumns+" FROM batch_records WHERE id = ?", id)
}

func (s *SQLStore) FindBatch(ctx context.Context, batchID string) (model.BatchRecord, error) {
	return s.queryBatch(ctx, "SELECT "+batchColumns+" FROM batch_records WHERE batch_id = ?", batchID)
}

func (s *SQLStore) CreateOrder(ctx context.Context, rec model.OrderRecord) (model.OrderRecord, bool, error) {
	if rec.OrderID == "" {
		return model.OrderRecord{}, false, model.NewValidationError("order_id", "required")
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Status == "" {
		rec.Status = model.OrderStatusPending
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}
	rec.UpdatedAt = rec.CreatedAt

	res, err := s.db.ExecContext(ctx, s.rebind(
		"INSERT INTO order_records ("+orderColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?) ON CONFLICT (order_id) DO NOTHING"),
		rec.ID, rec.OrderID, rec.BatchRecordID, rec.StoreID, rec.RawOrder,
		rec.UpdatedOrderResponse, rec.EmailContent, string(rec.Status),
		formatTime(rec.CreatedAt), formatTime(rec.UpdatedAt))
	if err != nil {
		return model.OrderRecord{}, false, fmt.Errorf("inserting order record: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return model.OrderRecord{}, false, fmt.Errorf("inserting order record: %w", err)
	}
	if n == 1 {
		return rec, true, nil
	}

	existing, err := s.FindOrder(ctx, rec.OrderID)
	if err != nil {
		return model.OrderRecord{}, false, fmt.Errorf("loading existing order record: %w", err)
	}
	return existing, false, nil
}

func (s *SQLStore) CompleteOrder(ctx context.Context, id string, result model.OrderResult) error {
	return s.execOne(ctx, orderNotFound,
		"UPDATE order_records SET updated_order_response = ?, email_content = ?, status = ?, updated_at = ? WHERE id = ?",
		result.UpdatedOrderResponse, result.EmailContent, string(result.Status), formatTime(s.now()), id)
}

func (s *SQLStore) GetOrder(ctx context.Context, id string) (model.OrderRecord, error) {
	return s.queryOrder(ctx, "SELECT "+orderColumns+" FROM order_records WHERE id = ?", id)
}

func (s *SQLStore) FindOrder(ctx context.Context, orderID string) (model.OrderRecord, error) {
	return s.queryOrder(ctx, "SELECT "+orderColumns+" FROM order_records WHERE order_id = ?", orderID)
}

func (s *SQLStore) ListOrders(ctx context.Context, batchRecordID string) ([]model.OrderRecord, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(
		"SELECT "+orderColumns+" FROM order_records WHERE batch_record_id = ? ORDER BY created_at, order_id"),
		batchRecordID)
	if err != nil {
		return nil, fmt.Errorf("listing order records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.OrderRecord
	for rows.Next() {
		rec, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing order records: %w", err)
	}
	return out, nil
}

// execOne runs a statement that must touch exactly one row.
func (s *SQLStore) execOne(ctx context.Context, notFound func() error, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, s.rebind(query), args...)
	if err != nil {
		return fmt.Errorf("executing %s: %w", firstWord(query), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("executing %s: %w", firstWord(query), err)
	}
	if n == 0 {
		return notFound()
	}
	return nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func (s *SQLStore) queryBatch(ctx context.Context, query string, arg string) (model.BatchRecord, error) {
	var rec model.BatchRecord
	var created string

	err := s.db.QueryRowContext(ctx, s.rebind(query), arg).Scan(
		&rec.ID, &rec.BatchID, &rec.StoreID, &rec.RawNotification, &rec.RawBatchResponse, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return model.BatchRecord{}, batchNotFound()
	}
	if err != nil {
		return model.BatchRecord{}, fmt.Errorf("querying batch record: %w", err)
	}

	if rec.CreatedAt, err = parseTime(created); err != nil {
		return model.BatchRecord{}, err
	}
	return rec, nil
}

func (s *SQLStore) queryOrder(ctx context.Context, query string, arg string) (model.OrderRecord, error) {
	rec, err := scanOrder(s.db.QueryRowContext(ctx, s.rebind(query), arg))
	if errors.Is(err, sql.ErrNoRows) {
		return model.OrderRecord{}, orderNotFound()
	}
	return rec, err
}

func scanOrder(row rowScanner) (model.OrderRecord, error) {
	var rec model.OrderRecord
	var status, created, updated string

	err := row.Scan(&rec.ID, &rec.OrderID, &rec.BatchRecordID, &rec.StoreID, &rec.RawOrder,
		&rec.UpdatedOrderResponse, &rec.EmailContent, &status, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return model.OrderRecord{}, err
	}
	if err != nil {
		return model.OrderRecord{}, fmt.Errorf("scanning order record: %w", err)
	}

	rec.Status = model.OrderStatus(status)
	if rec.CreatedAt, err = parseTime(created); err != nil {
		return model.OrderRecord{}, err
	}
	if rec.UpdatedAt, err = parseTime(updated); err != nil {
		return model.OrderRecord{}, err
	}
	return rec, nil
}

// rebind rewrites ? placeholders to $1, $2, ... for postgres.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing stored timestamp %q: %w", s, err)
	}
	return t, nil
}

func firstWord(query string) string {
	if i := strings.IndexByte(query, ' '); i > 0 {
		return strings.ToLower(query[:i])
	}
	return query
}

var _ RecordStore = (*SQLStore)(nil)
