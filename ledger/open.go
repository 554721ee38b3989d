package ledger

import (
	"context"
	"database/sql"
	"strings"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/vitwit/batchpay/types"
)

// Open builds the ledger selected by cfg and makes sure its schema exists.
func Open(ctx context.Context, cfg types.LedgerConfig, now Clock) (Ledger, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", "memory":
		return NewMemoryLedger(now), nil
	case string(DialectSQLite):
		return openSQL(ctx, "sqlite", DialectSQLite, cfg.DSN, now)
	case string(DialectPostgres):
		return openSQL(ctx, "postgres", DialectPostgres, cfg.DSN, now)
	default:
		return nil, types.NewError(types.CodeConfig, "unknown ledger driver %q", cfg.Driver)
	}
}

func openSQL(ctx context.Context, driver string, dialect Dialect, dsn string, now Clock) (*SQLLedger, error) {
	if dsn == "" {
		return nil, types.NewError(types.CodeConfig, "ledger driver %s needs a dsn", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, types.WrapError(types.CodeConfig, err, "open %s ledger", driver)
	}

	if dialect == DialectSQLite {
		// one writer; also keeps a ":memory:" database alive across calls
		db.SetMaxOpenConns(1)
		if dsn != ":memory:" {
			if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
				_ = db.Close()
				return nil, types.WrapError(types.CodeConfig, err, "set wal mode")
			}
		}
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, types.WrapError(types.CodeConfig, err, "connect %s ledger", driver)
	}

	l := NewSQLLedger(db, dialect, now)
	if err := l.Init(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return l, nil
}
