package ledger

import (
	"context"
	"sync"
)

type memoryStore struct {
	mu           sync.Mutex
	accounts     map[string]*Account
	startingGold int64
}

// NewInMemory creates a concurrency-safe in-memory store. It is the default
// for tests and carries no durability guarantees.
func NewInMemory(startingGold int64) Store {
	return &memoryStore{
		accounts:     make(map[string]*Account),
		startingGold: startingGold,
	}
}

// getOrCreateLocked must be called with s.mu held.
func (s *memoryStore) getOrCreateLocked(userID string) *Account {
	if acct, ok := s.accounts[userID]; ok {
		return acct
	}
	acct := &Account{ID: userID, Gold: s.startingGold}
	s.accounts[userID] = acct
	return acct
}

func (s *memoryStore) GetOrCreate(_ context.Context, userID string) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.getOrCreateLocked(userID), nil
}

func (s *memoryStore) Balance(_ context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getOrCreateLocked(userID).Gold, nil
}

func (s *memoryStore) Credit(_ context.Context, userID string, amount int64) (int64, error) {
	if amount < 0 {
		return 0, ErrInvalidAmount
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	acct := s.getOrCreateLocked(userID)
	acct.Gold += amount
	return acct.Gold, nil
}

func (s *memoryStore) Transfer(_ context.Context, fromID, toID string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	from := s.getOrCreateLocked(fromID)
	to := s.getOrCreateLocked(toID)
	if from.Gold < amount {
		return ErrInsufficientFunds
	}
	from.Gold -= amount
	to.Gold += amount
	return nil
}

func (s *memoryStore) EscrowWager(_ context.Context, aID, bID string, amount int64) error {
	if amount < 0 {
		return ErrInvalidAmount
	}
	if amount == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.getOrCreateLocked(aID)
	b := s.getOrCreateLocked(bID)
	if a.Gold < amount || b.Gold < amount {
		return ErrInsufficientFunds
	}
	a.Gold -= amount
	b.Gold -= amount
	return nil
}

func (s *memoryStore) SettleGame(_ context.Context, winnerID, loserID string, wager int64) error {
	if wager < 0 {
		return ErrInvalidAmount
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	winner := s.getOrCreateLocked(winnerID)
	loser := s.getOrCreateLocked(loserID)
	winner.Wins++
	loser.Losses++
	winner.Gold += 2 * wager
	return nil
}

func (s *memoryStore) RefundWager(_ context.Context, aID, bID string, amount int64) error {
	if amount < 0 {
		return ErrInvalidAmount
	}
	if amount == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getOrCreateLocked(aID).Gold += amount
	s.getOrCreateLocked(bID).Gold += amount
	return nil
}

func (s *memoryStore) Close() error { return nil }

var _ Store = (*memoryStore)(nil)
