package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS accounts (
	id         TEXT PRIMARY KEY,
	gold       INTEGER NOT NULL DEFAULT 0,
	wins       INTEGER NOT NULL DEFAULT 0,
	losses     INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS transactions (
	id         TEXT PRIMARY KEY,
	kind       TEXT NOT NULL,
	from_id    TEXT,
	to_id      TEXT,
	amount     INTEGER NOT NULL,
	created_at INTEGER NOT NULL
);
`

// sqliteStore persists the ledger in a local SQLite database. SQLite's
// single-writer transaction model gives every mutating operation the
// required atomicity; the busy timeout handles writer contention.
type sqliteStore struct {
	db           *sql.DB
	startingGold int64
}

// OpenSQLite opens (creating if necessary) a SQLite-backed ledger store at
// path and applies the schema.
func OpenSQLite(path string, startingGold int64) (Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("ledger path is required")
	}
	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open ledger db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping ledger db: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply ledger schema: %w", err)
	}
	return &sqliteStore{db: db, startingGold: startingGold}, nil
}

func (s *sqliteStore) Close() error {
	return s.db.Close()
}

// ensureAccountTx creates the account inside tx if it does not exist and
// returns its current state.
func (s *sqliteStore) ensureAccountTx(ctx context.Context, tx *sql.Tx, userID string) (Account, error) {
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO accounts (id, gold, wins, losses, created_at) VALUES (?, ?, 0, 0, ?)
		 ON CONFLICT (id) DO NOTHING`,
		userID, s.startingGold, time.Now().UTC().UnixMilli(),
	); err != nil {
		return Account{}, fmt.Errorf("ensure account %s: %w", userID, err)
	}

	var acct Account
	row := tx.QueryRowContext(ctx,
		`SELECT id, gold, wins, losses FROM accounts WHERE id = ?`, userID)
	if err := row.Scan(&acct.ID, &acct.Gold, &acct.Wins, &acct.Losses); err != nil {
		return Account{}, fmt.Errorf("load account %s: %w", userID, err)
	}
	return acct, nil
}

func (s *sqliteStore) recordTx(ctx context.Context, tx *sql.Tx, kind, fromID, toID string, amount int64) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO transactions (id, kind, from_id, to_id, amount, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), kind, fromID, toID, amount, time.Now().UTC().UnixMilli())
	if err != nil {
		return fmt.Errorf("record %s transaction: %w", kind, err)
	}
	return nil
}

// withTx runs fn inside a transaction, rolling back on error.
func (s *sqliteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin ledger transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit ledger transaction: %w", err)
	}
	return nil
}

func (s *sqliteStore) GetOrCreate(ctx context.Context, userID string) (Account, error) {
	var acct Account
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		acct, err = s.ensureAccountTx(ctx, tx, userID)
		return err
	})
	return acct, err
}

func (s *sqliteStore) Balance(ctx context.Context, userID string) (int64, error) {
	acct, err := s.GetOrCreate(ctx, userID)
	if err != nil {
		return 0, err
	}
	return acct.Gold, nil
}

func (s *sqliteStore) Credit(ctx context.Context, userID string, amount int64) (int64, error) {
	if amount < 0 {
		return 0, ErrInvalidAmount
	}
	var balance int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		acct, err := s.ensureAccountTx(ctx, tx, userID)
		if err != nil {
			return err
		}
		balance = acct.Gold + amount
		if _, err := tx.ExecContext(ctx,
			`UPDATE accounts SET gold = ? WHERE id = ?`, balance, userID); err != nil {
			return fmt.Errorf("credit account %s: %w", userID, err)
		}
		return s.recordTx(ctx, tx, "credit", "", userID, amount)
	})
	return balance, err
}

func (s *sqliteStore) Transfer(ctx context.Context, fromID, toID string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		from, err := s.ensureAccountTx(ctx, tx, fromID)
		if err != nil {
			return err
		}
		if _, err := s.ensureAccountTx(ctx, tx, toID); err != nil {
			return err
		}
		if from.Gold < amount {
			return ErrInsufficientFunds
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE accounts SET gold = gold - ? WHERE id = ?`, amount, fromID); err != nil {
			return fmt.Errorf("debit account %s: %w", fromID, err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE accounts SET gold = gold + ? WHERE id = ?`, amount, toID); err != nil {
			return fmt.Errorf("credit account %s: %w", toID, err)
		}
		return s.recordTx(ctx, tx, "transfer", fromID, toID, amount)
	})
}

func (s *sqliteStore) EscrowWager(ctx context.Context, aID, bID string, amount int64) error {
	if amount < 0 {
		return ErrInvalidAmount
	}
	if amount == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		a, err := s.ensureAccountTx(ctx, tx, aID)
		if err != nil {
			return err
		}
		b, err := s.ensureAccountTx(ctx, tx, bID)
		if err != nil {
			return err
		}
		if a.Gold < amount || b.Gold < amount {
			return ErrInsufficientFunds
		}
		for _, id := range []string{aID, bID} {
			if _, err := tx.ExecContext(ctx,
				`UPDATE accounts SET gold = gold - ? WHERE id = ?`, amount, id); err != nil {
				return fmt.Errorf("escrow from account %s: %w", id, err)
			}
		}
		return s.recordTx(ctx, tx, "escrow", aID, bID, amount)
	})
}

func (s *sqliteStore) SettleGame(ctx context.Context, winnerID, loserID string, wager int64) error {
	if wager < 0 {
		return ErrInvalidAmount
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := s.ensureAccountTx(ctx, tx, winnerID); err != nil {
			return err
		}
		if _, err := s.ensureAccountTx(ctx, tx, loserID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE accounts SET gold = gold + ?, wins = wins + 1 WHERE id = ?`,
			2*wager, winnerID); err != nil {
			return fmt.Errorf("settle winner %s: %w", winnerID, err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE accounts SET losses = losses + 1 WHERE id = ?`, loserID); err != nil {
			return fmt.Errorf("settle loser %s: %w", loserID, err)
		}
		return s.recordTx(ctx, tx, "settle", loserID, winnerID, 2*wager)
	})
}

func (s *sqliteStore) RefundWager(ctx context.Context, aID, bID string, amount int64) error {
	if amount < 0 {
		return ErrInvalidAmount
	}
	if amount == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, id := range []string{aID, bID} {
			if _, err := s.ensureAccountTx(ctx, tx, id); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx,
				`UPDATE accounts SET gold = gold + ? WHERE id = ?`, amount, id); err != nil {
				return fmt.Errorf("refund account %s: %w", id, err)
			}
		}
		return s.recordTx(ctx, tx, "refund", aID, bID, amount)
	})
}

var _ Store = (*sqliteStore)(nil)
