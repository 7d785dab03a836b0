package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS accounts (
	id         TEXT PRIMARY KEY,
	gold       BIGINT NOT NULL DEFAULT 0,
	wins       BIGINT NOT NULL DEFAULT 0,
	losses     BIGINT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS transactions (
	id         UUID PRIMARY KEY,
	kind       TEXT NOT NULL,
	from_id    TEXT,
	to_id      TEXT,
	amount     BIGINT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
`

// postgresStore persists the ledger in PostgreSQL. Row-level locks taken in
// sorted account order serialize operations on overlapping accounts while
// letting disjoint pairs proceed independently.
type postgresStore struct {
	pool         *pgxpool.Pool
	startingGold int64
}

// OpenPostgres connects to PostgreSQL with the given DSN and applies the
// ledger schema.
func OpenPostgres(ctx context.Context, dsn string, startingGold int64) (Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect ledger db: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping ledger db: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply ledger schema: %w", err)
	}
	return &postgresStore{pool: pool, startingGold: startingGold}, nil
}

func (s *postgresStore) Close() error {
	s.pool.Close()
	return nil
}

// lockAccounts ensures the accounts exist and locks their rows FOR UPDATE in
// deterministic order, returning their current state keyed by id.
func (s *postgresStore) lockAccounts(ctx context.Context, tx pgx.Tx, ids ...string) (map[string]Account, error) {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)

	accounts := make(map[string]Account, len(sorted))
	for _, id := range sorted {
		if _, ok := accounts[id]; ok {
			continue
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO accounts (id, gold, wins, losses, created_at) VALUES ($1, $2, 0, 0, $3)
			 ON CONFLICT (id) DO NOTHING`,
			id, s.startingGold, time.Now().UTC()); err != nil {
			return nil, fmt.Errorf("ensure account %s: %w", id, err)
		}
		var acct Account
		row := tx.QueryRow(ctx,
			`SELECT id, gold, wins, losses FROM accounts WHERE id = $1 FOR UPDATE`, id)
		if err := row.Scan(&acct.ID, &acct.Gold, &acct.Wins, &acct.Losses); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, fmt.Errorf("account %s not found", id)
			}
			return nil, fmt.Errorf("lock account %s: %w", id, err)
		}
		accounts[id] = acct
	}
	return accounts, nil
}

func (s *postgresStore) recordTx(ctx context.Context, tx pgx.Tx, kind, fromID, toID string, amount int64) error {
	if _, err := tx.Exec(ctx,
		`INSERT INTO transactions (id, kind, from_id, to_id, amount, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		uuid.New(), kind, fromID, toID, amount, time.Now().UTC()); err != nil {
		return fmt.Errorf("record %s transaction: %w", kind, err)
	}
	return nil
}

func (s *postgresStore) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin ledger transaction: %w", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit ledger transaction: %w", err)
	}
	return nil
}

func (s *postgresStore) GetOrCreate(ctx context.Context, userID string) (Account, error) {
	var acct Account
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		accounts, err := s.lockAccounts(ctx, tx, userID)
		if err != nil {
			return err
		}
		acct = accounts[userID]
		return nil
	})
	return acct, err
}

func (s *postgresStore) Balance(ctx context.Context, userID string) (int64, error) {
	acct, err := s.GetOrCreate(ctx, userID)
	if err != nil {
		return 0, err
	}
	return acct.Gold, nil
}

func (s *postgresStore) Credit(ctx context.Context, userID string, amount int64) (int64, error) {
	if amount < 0 {
		return 0, ErrInvalidAmount
	}
	var balance int64
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		accounts, err := s.lockAccounts(ctx, tx, userID)
		if err != nil {
			return err
		}
		balance = accounts[userID].Gold + amount
		if _, err := tx.Exec(ctx,
			`UPDATE accounts SET gold = $1 WHERE id = $2`, balance, userID); err != nil {
			return fmt.Errorf("credit account %s: %w", userID, err)
		}
		return s.recordTx(ctx, tx, "credit", "", userID, amount)
	})
	return balance, err
}

func (s *postgresStore) Transfer(ctx context.Context, fromID, toID string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	return s.withTx(ctx, func(tx pgx.Tx) error {
		accounts, err := s.lockAccounts(ctx, tx, fromID, toID)
		if err != nil {
			return err
		}
		if accounts[fromID].Gold < amount {
			return ErrInsufficientFunds
		}
		if _, err := tx.Exec(ctx,
			`UPDATE accounts SET gold = gold - $1 WHERE id = $2`, amount, fromID); err != nil {
			return fmt.Errorf("debit account %s: %w", fromID, err)
		}
		if _, err := tx.Exec(ctx,
			`UPDATE accounts SET gold = gold + $1 WHERE id = $2`, amount, toID); err != nil {
			return fmt.Errorf("credit account %s: %w", toID, err)
		}
		return s.recordTx(ctx, tx, "transfer", fromID, toID, amount)
	})
}

func (s *postgresStore) EscrowWager(ctx context.Context, aID, bID string, amount int64) error {
	if amount < 0 {
		return ErrInvalidAmount
	}
	if amount == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx pgx.Tx) error {
		accounts, err := s.lockAccounts(ctx, tx, aID, bID)
		if err != nil {
			return err
		}
		if accounts[aID].Gold < amount || accounts[bID].Gold < amount {
			return ErrInsufficientFunds
		}
		for _, id := range []string{aID, bID} {
			if _, err := tx.Exec(ctx,
				`UPDATE accounts SET gold = gold - $1 WHERE id = $2`, amount, id); err != nil {
				return fmt.Errorf("escrow from account %s: %w", id, err)
			}
		}
		return s.recordTx(ctx, tx, "escrow", aID, bID, amount)
	})
}

func (s *postgresStore) SettleGame(ctx context.Context, winnerID, loserID string, wager int64) error {
	if wager < 0 {
		return ErrInvalidAmount
	}
	return s.withTx(ctx, func(tx pgx.Tx) error {
		if _, err := s.lockAccounts(ctx, tx, winnerID, loserID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx,
			`UPDATE accounts SET gold = gold + $1, wins = wins + 1 WHERE id = $2`,
			2*wager, winnerID); err != nil {
			return fmt.Errorf("settle winner %s: %w", winnerID, err)
		}
		if _, err := tx.Exec(ctx,
			`UPDATE accounts SET losses = losses + 1 WHERE id = $1`, loserID); err != nil {
			return fmt.Errorf("settle loser %s: %w", loserID, err)
		}
		return s.recordTx(ctx, tx, "settle", loserID, winnerID, 2*wager)
	})
}

func (s *postgresStore) RefundWager(ctx context.Context, aID, bID string, amount int64) error {
	if amount < 0 {
		return ErrInvalidAmount
	}
	if amount == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx pgx.Tx) error {
		if _, err := s.lockAccounts(ctx, tx, aID, bID); err != nil {
			return err
		}
		for _, id := range []string{aID, bID} {
			if _, err := tx.Exec(ctx,
				`UPDATE accounts SET gold = gold + $1 WHERE id = $2`, amount, id); err != nil {
				return fmt.Errorf("refund account %s: %w", id, err)
			}
		}
		return s.recordTx(ctx, tx, "refund", aID, bID, amount)
	})
}

var _ Store = (*postgresStore)(nil)
