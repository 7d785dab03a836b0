// Package ledger provides the durable gold ledger backing the death roll
// game: per-user balances plus win/loss records, mutated only through
// atomic store operations.
package ledger

import (
	"context"
	"errors"
)

// DefaultStartingGold is the balance a fresh account is created with.
const DefaultStartingGold = 1000

var (
	// ErrInsufficientFunds occurs when an account lacks the balance to
	// cover a requested debit.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInvalidAmount occurs when an operation is given a negative (or,
	// for Transfer, non-positive) amount.
	ErrInvalidAmount = errors.New("invalid amount")
)

// Account is a single user's ledger record.
type Account struct {
	ID     string `json:"id"`
	Gold   int64  `json:"gold"`
	Wins   int64  `json:"wins"`
	Losses int64  `json:"losses"`
}

// Store is the contract implemented by ledger backends. All mutating
// operations are atomic: two operations touching an overlapping account
// never interleave partially. Accounts are created lazily with the store's
// starting balance and are never deleted.
type Store interface {
	// GetOrCreate returns the account for userID, creating it with the
	// starting balance on first reference.
	GetOrCreate(ctx context.Context, userID string) (Account, error)

	// Balance returns the current gold balance, creating the account
	// lazily like GetOrCreate.
	Balance(ctx context.Context, userID string) (int64, error)

	// Credit adds amount (>= 0) to the account and returns the new balance.
	Credit(ctx context.Context, userID string, amount int64) (int64, error)

	// Transfer atomically moves amount (> 0) from one account to another.
	// It fails with ErrInsufficientFunds, mutating nothing, if the source
	// balance is below amount.
	Transfer(ctx context.Context, fromID, toID string, amount int64) error

	// EscrowWager atomically debits both participants by amount, holding
	// the stakes outside either balance until SettleGame or RefundWager.
	// It fails with ErrInsufficientFunds, mutating nothing, if either
	// participant cannot cover the amount. A zero amount is a no-op.
	EscrowWager(ctx context.Context, aID, bID string, amount int64) error

	// SettleGame atomically records a finished game: winner gains a win,
	// loser gains a loss, and the winner is credited both escrowed stakes
	// (2 * wager).
	SettleGame(ctx context.Context, winnerID, loserID string, wager int64) error

	// RefundWager returns previously escrowed stakes to both participants.
	RefundWager(ctx context.Context, aID, bID string, amount int64) error

	// Close releases the underlying storage handle.
	Close() error
}
