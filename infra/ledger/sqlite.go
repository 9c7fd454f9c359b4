package ledger

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/glebarez/go-sqlite"
	"github.com/pkg/errors"
)

// SQLite keeps balances and the applied-transfer log in one database file.
type SQLite struct {
	db *sql.DB
}

func OpenSQLite(path string) (*SQLite, error) {
	if path == "" {
		return nil, errors.New("ledger: sqlite path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	// One writer; SQLite serializes anyway and this avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=FULL;",
		"PRAGMA cache_size=-2000;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, errors.Wrapf(err, "set pragma %s", p)
		}
	}

	schema := []string{
		`CREATE TABLE IF NOT EXISTS balances (
			account TEXT NOT NULL,
			asset   TEXT NOT NULL,
			amount  INTEGER NOT NULL,
			PRIMARY KEY (account, asset)
		);`,
		`CREATE TABLE IF NOT EXISTS transfers (
			ref    TEXT PRIMARY KEY,
			src    TEXT NOT NULL,
			dst    TEXT NOT NULL,
			asset  TEXT NOT NULL,
			amount INTEGER NOT NULL,
			ts     INTEGER NOT NULL
		);`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, errors.Wrap(err, "create ledger tables")
		}
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Apply(ctx context.Context, batch []Transfer) error {
	for _, t := range batch {
		if err := t.validate(); err != nil {
			return err
		}
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UnixNano()
	for _, t := range batch {
		res, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO transfers (ref, src, dst, asset, amount, ts) VALUES (?, ?, ?, ?, ?, ?)",
			t.Ref, t.From.String(), t.To.String(), t.Asset, int64(t.Amount), now,
		)
		if err != nil {
			return errors.Wrapf(err, "record transfer %s", t.Ref)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			continue
		}
		if t.From.Bounded() {
			have, err := balanceTx(ctx, tx, t.From.String(), t.Asset)
			if err != nil {
				return err
			}
			if have < int64(t.Amount) {
				return errors.Wrapf(ErrInsufficientFunds, "%s: %s has %d %s, needs %d", t.Ref, t.From, have, t.Asset, t.Amount)
			}
		}
		if err := addTx(ctx, tx, t.From.String(), t.Asset, -int64(t.Amount)); err != nil {
			return err
		}
		if err := addTx(ctx, tx, t.To.String(), t.Asset, int64(t.Amount)); err != nil {
			return err
		}
	}
	return errors.Wrap(tx.Commit(), "commit")
}

func balanceTx(ctx context.Context, tx *sql.Tx, acct, asset string) (int64, error) {
	var amount int64
	err := tx.QueryRowContext(ctx,
		"SELECT amount FROM balances WHERE account = ? AND asset = ?", acct, asset,
	).Scan(&amount)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return amount, errors.Wrapf(err, "read %s %s", acct, asset)
}

func addTx(ctx context.Context, tx *sql.Tx, acct, asset string, delta int64) error {
	_, err := tx.ExecContext(ctx,
		"INSERT INTO balances (account, asset, amount) VALUES (?, ?, ?) ON CONFLICT(account, asset) DO UPDATE SET amount = amount + excluded.amount",
		acct, asset, delta,
	)
	return errors.Wrapf(err, "update %s %s", acct, asset)
}

func (s *SQLite) Balance(ctx context.Context, acct Account, asset string) (int64, error) {
	var amount int64
	err := s.db.QueryRowContext(ctx,
		"SELECT amount FROM balances WHERE account = ? AND asset = ?", acct.String(), asset,
	).Scan(&amount)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return amount, err
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
