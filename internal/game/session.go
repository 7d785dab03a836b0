package game

import (
	"sync"

	"github.com/coder/quartz"

	"github.com/lox/deathroll/internal/gameid"
)

// Session holds the state of one death roll duel. All fields behind mu are
// owned by the engine: every transition (roll, timeout, settlement) runs
// under the session lock, which is the per-channel serialization domain.
type Session struct {
	id      string
	channel string
	players [2]string

	mu         sync.Mutex
	turn       string // whose roll is next
	ceiling    int64  // inclusive upper bound of the next roll
	wager      int64  // fixed at creation, escrowed from both players
	timer      *quartz.Timer
	generation uint64 // bumped on every re-arm; stale timeouts no-op
	resolved   bool
}

func newSession(channel, challenger, opponent string, start, wager int64) *Session {
	return &Session{
		id:      gameid.New(),
		channel: channel,
		players: [2]string{challenger, opponent},
		turn:    challenger,
		ceiling: start,
		wager:   wager,
	}
}

// opponent returns the other participant.
func (s *Session) opponent(of string) string {
	if s.players[0] == of {
		return s.players[1]
	}
	return s.players[0]
}

// SessionInfo is a point-in-time snapshot of a live session.
type SessionInfo struct {
	GameID     string `json:"gameId"`
	Channel    string `json:"channel"`
	Players    [2]string `json:"players"`
	TurnHolder string `json:"turnHolder"`
	Ceiling    int64  `json:"ceiling"`
	Wager      int64  `json:"wager"`
}

func (s *Session) snapshot() SessionInfo {
	return SessionInfo{
		GameID:     s.id,
		Channel:    s.channel,
		Players:    s.players,
		TurnHolder: s.turn,
		Ceiling:    s.ceiling,
		Wager:      s.wager,
	}
}
