package game

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"

	"github.com/lox/deathroll/internal/ledger"
)

// Config holds the engine's tunables.
type Config struct {
	TurnTimeout time.Duration // forfeit window per turn
	EarnMin     int64         // inclusive lower bound of an earn draw
	EarnMax     int64         // inclusive upper bound of an earn draw
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		TurnTimeout: 60 * time.Second,
		EarnMin:     100,
		EarnMax:     500,
	}
}

// Engine runs death roll duels: it owns the session registry, draws rolls,
// arms per-turn forfeit timers, and settles wagers against the ledger.
// Commands arrive concurrently from independent channels; all transitions
// for one channel serialize on that channel's session lock.
type Engine struct {
	store    ledger.Store
	registry *Registry
	clock    quartz.Clock
	logger   *log.Logger
	sink     Sink
	cfg      Config

	rng   *rand.Rand
	rngMu sync.Mutex
}

// NewEngine creates an engine with an explicit clock and random source so
// both can be controlled in tests.
func NewEngine(logger *log.Logger, store ledger.Store, sink Sink, clock quartz.Clock, rng *rand.Rand, cfg Config) *Engine {
	if sink == nil {
		sink = NopSink
	}
	return &Engine{
		store:    store,
		registry: NewRegistry(),
		clock:    clock,
		logger:   logger.WithPrefix("engine"),
		sink:     sink,
		cfg:      cfg,
		rng:      rng,
	}
}

// Challenge starts a duel in the channel. The wager is escrowed out of both
// balances immediately; the winner collects both stakes at settlement, so
// affordability cannot drift between challenge and resolution.
func (e *Engine) Challenge(ctx context.Context, channel, challenger, opponent string, start, wager int64) error {
	if challenger == opponent {
		return ErrSelfChallenge
	}
	if start < 1 {
		return fmt.Errorf("%w: start must be at least 1", ErrInvalidAmount)
	}
	if wager < 0 {
		return fmt.Errorf("%w: wager cannot be negative", ErrInvalidAmount)
	}

	s := newSession(channel, challenger, opponent, start, wager)

	// Hold the session lock across registration and escrow so no roll can
	// observe a half-created session.
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := e.registry.TryCreate(channel, s); err != nil {
		return err
	}
	if err := e.store.EscrowWager(ctx, challenger, opponent, wager); err != nil {
		e.registry.Remove(channel)
		s.resolved = true
		return fmt.Errorf("escrow wager: %w", err)
	}

	e.armTimeoutLocked(s)

	e.logger.Info("challenge started",
		"gameId", s.id,
		"channel", channel,
		"challenger", challenger,
		"opponent", opponent,
		"start", start,
		"wager", wager)

	e.sink.Publish(ChallengeStarted{
		GameID:     s.id,
		Channel:    channel,
		Challenger: challenger,
		Opponent:   opponent,
		Start:      start,
		Wager:      wager,
	})
	return nil
}

// Roll executes the actor's turn. A drawn 1 loses the game; any other result
// becomes the next ceiling and passes the turn.
func (e *Engine) Roll(ctx context.Context, channel, actor string) error {
	s, ok := e.registry.Get(channel)
	if !ok {
		return ErrNoActiveGame
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.resolved {
		// Lost the race against a timeout that already settled.
		return ErrNoActiveGame
	}
	if actor != s.turn {
		return ErrNotYourTurn
	}

	// Stop the forfeit timer before acting on the draw. Stop cannot recall
	// a firing already in flight, so settlement below also guards with the
	// resolved flag and generation counter.
	if s.timer != nil {
		s.timer.Stop()
	}

	result := e.draw(s.ceiling)
	e.logger.Debug("roll", "channel", channel, "actor", actor, "result", result, "ceiling", s.ceiling)
	e.sink.Publish(RollResult{
		GameID:  s.id,
		Channel: channel,
		Actor:   actor,
		Result:  result,
		Ceiling: s.ceiling,
	})

	if result == 1 {
		return e.settleLocked(ctx, s, s.opponent(actor), actor, ReasonRolledOne)
	}

	s.ceiling = result
	s.turn = s.opponent(actor)
	e.armTimeoutLocked(s)
	return nil
}

// Status returns a snapshot of the channel's live session, if any.
func (e *Engine) Status(channel string) (SessionInfo, bool) {
	s, ok := e.registry.Get(channel)
	if !ok {
		return SessionInfo{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resolved {
		return SessionInfo{}, false
	}
	return s.snapshot(), true
}

// Balance returns the user's account, creating it on first reference.
func (e *Engine) Balance(ctx context.Context, userID string) (ledger.Account, error) {
	return e.store.GetOrCreate(ctx, userID)
}

// Earn credits the user a uniform random amount in [EarnMin, EarnMax] and
// returns the amount earned and the new balance.
func (e *Engine) Earn(ctx context.Context, userID string) (earned, balance int64, err error) {
	e.rngMu.Lock()
	earned = e.cfg.EarnMin + e.rng.Int63n(e.cfg.EarnMax-e.cfg.EarnMin+1)
	e.rngMu.Unlock()

	balance, err = e.store.Credit(ctx, userID, earned)
	if err != nil {
		return 0, 0, fmt.Errorf("credit earnings: %w", err)
	}
	e.logger.Debug("earn", "user", userID, "earned", earned, "balance", balance)
	return earned, balance, nil
}

// Pay transfers gold directly between users.
func (e *Engine) Pay(ctx context.Context, fromID, toID string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidAmount)
	}
	if fromID == toID {
		return fmt.Errorf("%w: cannot pay yourself", ErrInvalidAmount)
	}
	if err := e.store.Transfer(ctx, fromID, toID, amount); err != nil {
		return fmt.Errorf("pay: %w", err)
	}
	return nil
}

// draw returns a uniform result in [1, ceiling].
func (e *Engine) draw(ceiling int64) int64 {
	e.rngMu.Lock()
	defer e.rngMu.Unlock()
	return e.rng.Int63n(ceiling) + 1
}

// armTimeoutLocked replaces the session's forfeit timer. Must be called with
// the session lock held. Bumping the generation makes any previously armed
// timer's firing a provable no-op.
func (e *Engine) armTimeoutLocked(s *Session) {
	s.generation++
	gen := s.generation
	s.timer = e.clock.AfterFunc(e.cfg.TurnTimeout, func() {
		e.timeoutFired(s, gen)
	})
}

// timeoutFired forfeits the current turn holder. It is equivalent to that
// player rolling a 1, minus the actor identity check.
func (e *Engine) timeoutFired(s *Session, gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.resolved || s.generation != gen {
		// A roll won the race: either the game settled or the timer was
		// superseded by a re-arm.
		return
	}

	loser := s.turn
	winner := s.opponent(loser)
	e.logger.Info("turn timed out", "channel", s.channel, "loser", loser)
	if err := e.settleLocked(context.Background(), s, winner, loser, ReasonTimeout); err != nil {
		e.logger.Error("timeout settlement failed", "channel", s.channel, "error", err)
	}
}

// settleLocked finishes the game exactly once: it marks the session
// resolved, frees the channel, applies the single atomic ledger settlement,
// and emits GameWon. Must be called with the session lock held.
func (e *Engine) settleLocked(ctx context.Context, s *Session, winner, loser string, reason WinReason) error {
	s.resolved = true
	if s.timer != nil {
		s.timer.Stop()
	}
	e.registry.Remove(s.channel)

	if err := e.store.SettleGame(ctx, winner, loser, s.wager); err != nil {
		// Settlement is one atomic ledger op, so nothing partial was
		// applied. Return the stakes rather than leave them in escrow.
		if refundErr := e.store.RefundWager(ctx, s.players[0], s.players[1], s.wager); refundErr != nil {
			e.logger.Error("wager refund failed after settlement error",
				"channel", s.channel, "error", refundErr)
		}
		return fmt.Errorf("settle game: %w", err)
	}

	e.logger.Info("game won",
		"gameId", s.id,
		"channel", s.channel,
		"winner", winner,
		"loser", loser,
		"wager", s.wager,
		"reason", reason)

	e.sink.Publish(GameWon{
		GameID:  s.id,
		Channel: s.channel,
		Winner:  winner,
		Loser:   loser,
		Wager:   s.wager,
		Reason:  reason,
	})
	return nil
}
