package game

import (
	"errors"

	"github.com/lox/deathroll/internal/ledger"
)

// Validation errors are user-caused and recoverable: they never tear down an
// existing session and never touch the ledger.
var (
	ErrSelfChallenge  = errors.New("cannot challenge yourself")
	ErrGameInProgress = errors.New("a game is already in progress in this channel")
	ErrNotYourTurn    = errors.New("not your turn")
	ErrNoActiveGame   = errors.New("no active game in this channel")
	ErrInvalidAmount  = errors.New("invalid amount")

	// ErrInsufficientFunds is the ledger sentinel, re-exported so callers
	// can match engine errors without importing the ledger package.
	ErrInsufficientFunds = ledger.ErrInsufficientFunds
)
