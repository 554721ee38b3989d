package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vitwit/batchpay/types"
)

// Dialect selects placeholder style and schema.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// SQLLedger implements Ledger using database/sql. At-most-once creation and
// exactly-once transition are enforced by the statements themselves, so
// several processes may share one database.
type SQLLedger struct {
	db      *sql.DB
	dialect Dialect
	now     Clock
}

func NewSQLLedger(db *sql.DB, dialect Dialect, now Clock) *SQLLedger {
	if now == nil {
		now = time.Now
	}
	return &SQLLedger{db: db, dialect: dialect, now: now}
}

var schemas = map[Dialect][]string{
	DialectSQLite: {
		`CREATE TABLE IF NOT EXISTS payments (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			created_at BIGINT NOT NULL,
			status TEXT NOT NULL,
			recipient_count INTEGER NOT NULL,
			total_amount TEXT NOT NULL,
			recipients TEXT NOT NULL,
			network TEXT NOT NULL DEFAULT '',
			payer TEXT NOT NULL DEFAULT '',
			atomic_batch BOOLEAN NOT NULL DEFAULT FALSE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_payments_status ON payments(status)`,
		`CREATE INDEX IF NOT EXISTS idx_payments_created_at ON payments(created_at)`,
	},
	DialectPostgres: {
		`CREATE TABLE IF NOT EXISTS payments (
			seq BIGSERIAL PRIMARY KEY,
			id TEXT NOT NULL UNIQUE,
			created_at BIGINT NOT NULL,
			status TEXT NOT NULL,
			recipient_count INTEGER NOT NULL,
			total_amount NUMERIC NOT NULL,
			recipients JSONB NOT NULL,
			network TEXT NOT NULL DEFAULT '',
			payer TEXT NOT NULL DEFAULT '',
			atomic_batch BOOLEAN NOT NULL DEFAULT FALSE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_payments_status ON payments(status)`,
		`CREATE INDEX IF NOT EXISTS idx_payments_created_at ON payments(created_at)`,
	},
}

const selectColumns = `id, created_at, status, recipient_count, total_amount, recipients, network, payer, atomic_batch`

// Init creates the payments table if it does not exist.
func (s *SQLLedger) Init(ctx context.Context) error {
	stmts, ok := schemas[s.dialect]
	if !ok {
		return types.NewError(types.CodeConfig, "unsupported ledger dialect %q", s.dialect)
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create payments schema: %w", err)
		}
	}
	return nil
}

func (s *SQLLedger) Create(ctx context.Context, e Entry) (types.PaymentRecord, error) {
	rec, err := newRecord(e, s.now)
	if err != nil {
		return types.PaymentRecord{}, err
	}
	recipients, err := json.Marshal(rec.Recipients)
	if err != nil {
		return types.PaymentRecord{}, fmt.Errorf("encode recipients: %w", err)
	}

	query := s.rebind(`INSERT INTO payments (` + selectColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`)
	res, err := s.db.ExecContext(ctx, query,
		rec.ID,
		rec.CreatedAt.UnixNano(),
		string(rec.Status),
		rec.RecipientCount,
		rec.TotalAmount.String(),
		string(recipients),
		string(rec.Network),
		rec.Payer,
		rec.Atomic,
	)
	if err != nil {
		return types.PaymentRecord{}, fmt.Errorf("insert payment %s: %w", rec.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return types.PaymentRecord{}, fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 0 {
		return types.PaymentRecord{}, types.NewError(types.CodeDuplicateSubmission, "payment %s already recorded", rec.ID)
	}
	return rec, nil
}

func (s *SQLLedger) Transition(ctx context.Context, id string, status types.Status) (bool, error) {
	if err := validateTarget(id, status); err != nil {
		return false, err
	}

	query := s.rebind(`UPDATE payments SET status = ? WHERE id = ? AND status = ?`)
	res, err := s.db.ExecContext(ctx, query, string(status), id, string(types.StatusPending))
	if err != nil {
		return false, fmt.Errorf("update payment %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 1 {
		return true, nil
	}

	// not pending any more, or never existed
	var current string
	err = s.db.QueryRowContext(ctx, s.rebind(`SELECT status FROM payments WHERE id = ?`), id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return false, notFound(id)
	}
	if err != nil {
		return false, fmt.Errorf("read payment %s: %w", id, err)
	}
	if types.Status(current) == types.StatusPending {
		return false, fmt.Errorf("payment %s changed concurrently, retry", id)
	}
	return checkTransition(id, types.Status(current), status)
}

func (s *SQLLedger) Get(ctx context.Context, id string) (types.PaymentRecord, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+selectColumns+` FROM payments WHERE id = ?`), id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return types.PaymentRecord{}, notFound(id)
	}
	return rec, err
}

func (s *SQLLedger) List(ctx context.Context) ([]types.PaymentRecord, error) {
	return s.query(ctx, `SELECT `+selectColumns+` FROM payments ORDER BY created_at DESC, seq DESC`)
}

func (s *SQLLedger) ListPending(ctx context.Context) ([]types.PaymentRecord, error) {
	return s.query(ctx,
		`SELECT `+selectColumns+` FROM payments WHERE status = ? ORDER BY created_at DESC, seq DESC`,
		string(types.StatusPending))
}

func (s *SQLLedger) Close() error {
	return s.db.Close()
}

func (s *SQLLedger) query(ctx context.Context, query string, args ...any) ([]types.PaymentRecord, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	result := make([]types.PaymentRecord, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (types.PaymentRecord, error) {
	var (
		rec        types.PaymentRecord
		createdAt  int64
		status     string
		total      string
		recipients string
		network    string
	)
	if err := row.Scan(&rec.ID, &createdAt, &status, &rec.RecipientCount, &total, &recipients, &network, &rec.Payer, &rec.Atomic); err != nil {
		return types.PaymentRecord{}, err
	}

	amount, err := decimal.NewFromString(total)
	if err != nil {
		return types.PaymentRecord{}, fmt.Errorf("payment %s: bad total %q: %w", rec.ID, total, err)
	}
	if err := json.Unmarshal([]byte(recipients), &rec.Recipients); err != nil {
		return types.PaymentRecord{}, fmt.Errorf("payment %s: bad recipients: %w", rec.ID, err)
	}
	rec.CreatedAt = time.Unix(0, createdAt).UTC()
	rec.Status = types.Status(status)
	rec.TotalAmount = amount
	rec.Network = types.Network(network)
	return rec, nil
}

// rebind rewrites ? placeholders to $n for postgres.
func (s *SQLLedger) rebind(query string) string {
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
