package game

// WinReason describes how a game ended.
type WinReason string

const (
	ReasonRolledOne WinReason = "rolled_one"
	ReasonTimeout   WinReason = "timeout"
)

// Event is a game result emitted by the engine for the chat layer to render.
type Event interface {
	EventChannel() string
}

// ChallengeStarted announces a newly created game.
type ChallengeStarted struct {
	GameID     string `json:"gameId"`
	Channel    string `json:"channel"`
	Challenger string `json:"challenger"`
	Opponent   string `json:"opponent"`
	Start      int64  `json:"start"`
	Wager      int64  `json:"wager"`
}

func (e ChallengeStarted) EventChannel() string { return e.Channel }

// RollResult reports a single roll, terminal or not.
type RollResult struct {
	GameID  string `json:"gameId"`
	Channel string `json:"channel"`
	Actor   string `json:"actor"`
	Result  int64  `json:"result"`
	Ceiling int64  `json:"ceiling"`
}

func (e RollResult) EventChannel() string { return e.Channel }

// GameWon reports the settled outcome of a game.
type GameWon struct {
	GameID  string    `json:"gameId"`
	Channel string    `json:"channel"`
	Winner  string    `json:"winner"`
	Loser   string    `json:"loser"`
	Wager   int64     `json:"wager"`
	Reason  WinReason `json:"reason"`
}

func (e GameWon) EventChannel() string { return e.Channel }

// Sink receives engine events. Implementations must not block: events are
// published from inside the engine's per-session critical section.
type Sink interface {
	Publish(event Event)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(Event)

func (f SinkFunc) Publish(event Event) { f(event) }

// NopSink discards all events.
var NopSink = SinkFunc(func(Event) {})
