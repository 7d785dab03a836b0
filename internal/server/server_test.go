package server

import (
	"encoding/json"
	"io"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/deathroll/internal/auth"
	"github.com/lox/deathroll/internal/game"
	"github.com/lox/deathroll/internal/ledger"
)

func testLogger() *log.Logger {
	return log.NewWithOptions(io.Discard, log.Options{Level: log.ErrorLevel})
}

// newTestServer wires a gateway to an engine backed by an in-memory ledger
// and exposes it through an httptest listener.
func newTestServer(t *testing.T, seed int64, opts ...Option) (*Server, string) {
	t.Helper()

	logger := testLogger()
	store := ledger.NewInMemory(1000)
	srv := NewServer("localhost:0", logger, opts...)

	engine := game.NewEngine(logger, store, srv, quartz.NewReal(), rand.New(rand.NewSource(seed)), game.DefaultConfig())
	srv.SetEngine(engine)

	go srv.run(srv.ctx)
	t.Cleanup(func() { _ = srv.Stop() })

	ts := httptest.NewServer(http.HandlerFunc(srv.handleWebSocket))
	t.Cleanup(ts.Close)

	return srv, "ws" + strings.TrimPrefix(ts.URL, "http")
}

type testClient struct {
	t  *testing.T
	ws *websocket.Conn
}

func dial(t *testing.T, wsURL string) *testClient {
	t.Helper()

	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })

	return &testClient{t: t, ws: ws}
}

func (c *testClient) send(messageType MessageType, data interface{}) {
	c.t.Helper()

	msg, err := NewMessage(messageType, data)
	require.NoError(c.t, err)
	require.NoError(c.t, c.ws.WriteJSON(msg))
}

// recv reads the next message, failing the test if nothing arrives in time.
func (c *testClient) recv() *Message {
	c.t.Helper()

	require.NoError(c.t, c.ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg Message
	require.NoError(c.t, c.ws.ReadJSON(&msg))
	return &msg
}

// expect reads the next message and asserts its type.
func (c *testClient) expect(messageType MessageType) *Message {
	c.t.Helper()

	msg := c.recv()
	require.Equal(c.t, messageType, msg.Type, "unexpected message: %s", string(msg.Data))
	return msg
}

func (c *testClient) expectError(code string) {
	c.t.Helper()

	msg := c.expect(MessageTypeError)
	var data ErrorData
	require.NoError(c.t, json.Unmarshal(msg.Data, &data))
	require.Equal(c.t, code, data.Code)
}

// authAndJoin runs the auth and join handshake for a client.
func (c *testClient) authAndJoin(userID, channelID string) {
	c.t.Helper()

	c.send(MessageTypeAuth, AuthData{UserID: userID})
	c.expect(MessageTypeAuthResponse)
	c.send(MessageTypeJoin, JoinData{ChannelID: channelID})
	c.expect(MessageTypeChannelJoined)
}

func (c *testClient) balance() BalanceResultData {
	c.t.Helper()

	c.send(MessageTypeBalance, struct{}{})
	msg := c.expect(MessageTypeBalanceResult)
	var data BalanceResultData
	require.NoError(c.t, json.Unmarshal(msg.Data, &data))
	return data
}

func TestServerHealth(t *testing.T) {
	t.Parallel()
	srv := NewServer("localhost:0", testLogger())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	srv.handleHealth(w, req)

	require.Equal(t, http.StatusOK, w.Result().StatusCode)
}

func TestAuthAndBalance(t *testing.T) {
	t.Parallel()
	_, wsURL := newTestServer(t, 42)

	alice := dial(t, wsURL)
	alice.send(MessageTypeAuth, AuthData{UserID: "alice"})
	msg := alice.expect(MessageTypeAuthResponse)

	var resp AuthResponseData
	require.NoError(t, json.Unmarshal(msg.Data, &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "alice", resp.UserID)

	bal := alice.balance()
	assert.Equal(t, "alice", bal.UserID)
	assert.Equal(t, int64(1000), bal.Gold)
	assert.Zero(t, bal.Wins)
	assert.Zero(t, bal.Losses)
}

func TestCommandsRequireAuth(t *testing.T) {
	t.Parallel()
	_, wsURL := newTestServer(t, 42)

	c := dial(t, wsURL)
	c.send(MessageTypeBalance, struct{}{})
	c.expectError("not_authenticated")

	c.send(MessageTypeAuth, AuthData{UserID: "alice"})
	c.expect(MessageTypeAuthResponse)

	c.send(MessageTypeRoll, struct{}{})
	c.expectError("no_channel")
}

func TestGameFlowOverWebSocket(t *testing.T) {
	t.Parallel()
	_, wsURL := newTestServer(t, 42)

	alice := dial(t, wsURL)
	bob := dial(t, wsURL)
	alice.authAndJoin("alice", "arena")
	bob.authAndJoin("bob", "arena")

	// A starting ceiling of 1 forces the challenger's first roll to draw 1
	// and lose, so the whole flow is deterministic.
	alice.send(MessageTypeChallenge, ChallengeData{OpponentID: "bob", Start: 1, Wager: 250})

	for _, c := range []*testClient{alice, bob} {
		msg := c.expect(MessageTypeChallengeStarted)
		var started game.ChallengeStarted
		require.NoError(t, json.Unmarshal(msg.Data, &started))
		assert.Equal(t, "alice", started.Challenger)
		assert.Equal(t, "bob", started.Opponent)
		assert.Equal(t, int64(250), started.Wager)
	}

	alice.send(MessageTypeRoll, struct{}{})

	for _, c := range []*testClient{alice, bob} {
		msg := c.expect(MessageTypeRollResult)
		var roll game.RollResult
		require.NoError(t, json.Unmarshal(msg.Data, &roll))
		assert.Equal(t, "alice", roll.Actor)
		assert.Equal(t, int64(1), roll.Result)

		msg = c.expect(MessageTypeGameWon)
		var won game.GameWon
		require.NoError(t, json.Unmarshal(msg.Data, &won))
		assert.Equal(t, "bob", won.Winner)
		assert.Equal(t, "alice", won.Loser)
		assert.Equal(t, int64(250), won.Wager)
		assert.Equal(t, game.ReasonRolledOne, won.Reason)
	}

	assert.Equal(t, int64(750), alice.balance().Gold)

	bobBal := bob.balance()
	assert.Equal(t, int64(1250), bobBal.Gold)
	assert.Equal(t, int64(1), bobBal.Wins)
}

func TestRollOutOfTurn(t *testing.T) {
	t.Parallel()
	_, wsURL := newTestServer(t, 42)

	alice := dial(t, wsURL)
	bob := dial(t, wsURL)
	alice.authAndJoin("alice", "arena")
	bob.authAndJoin("bob", "arena")

	alice.send(MessageTypeChallenge, ChallengeData{OpponentID: "bob", Start: 100, Wager: 0})
	alice.expect(MessageTypeChallengeStarted)
	bob.expect(MessageTypeChallengeStarted)

	// The challenger rolls first.
	bob.send(MessageTypeRoll, struct{}{})
	bob.expectError("not_your_turn")
}

func TestOneGamePerChannel(t *testing.T) {
	t.Parallel()
	_, wsURL := newTestServer(t, 42)

	alice := dial(t, wsURL)
	bob := dial(t, wsURL)
	alice.authAndJoin("alice", "arena")
	bob.authAndJoin("bob", "arena")

	alice.send(MessageTypeChallenge, ChallengeData{OpponentID: "bob", Start: 100, Wager: 0})
	alice.expect(MessageTypeChallengeStarted)
	bob.expect(MessageTypeChallengeStarted)

	bob.send(MessageTypeChallenge, ChallengeData{OpponentID: "alice", Start: 50, Wager: 0})
	bob.expectError("game_in_progress")
}

func TestChallengeValidationOverWire(t *testing.T) {
	t.Parallel()
	_, wsURL := newTestServer(t, 42)

	alice := dial(t, wsURL)
	alice.authAndJoin("alice", "arena")

	alice.send(MessageTypeChallenge, ChallengeData{OpponentID: "alice", Start: 100, Wager: 0})
	alice.expectError("self_challenge")

	alice.send(MessageTypeChallenge, ChallengeData{OpponentID: "bob", Start: 100, Wager: 5000})
	alice.expectError("insufficient_funds")
}

func TestPayBetweenUsers(t *testing.T) {
	t.Parallel()
	_, wsURL := newTestServer(t, 42)

	alice := dial(t, wsURL)
	bob := dial(t, wsURL)
	alice.authAndJoin("alice", "arena")
	bob.authAndJoin("bob", "arena")

	// Both accounts must exist before the transfer.
	bob.balance()

	alice.send(MessageTypePay, PayData{ToID: "bob", Amount: 300})
	msg := alice.expect(MessageTypePayResult)

	var result PayResultData
	require.NoError(t, json.Unmarshal(msg.Data, &result))
	assert.Equal(t, "alice", result.FromID)
	assert.Equal(t, int64(300), result.Amount)

	assert.Equal(t, int64(700), alice.balance().Gold)
	assert.Equal(t, int64(1300), bob.balance().Gold)

	alice.send(MessageTypePay, PayData{ToID: "bob", Amount: 100000})
	alice.expectError("insufficient_funds")
}

func TestEarnOverWire(t *testing.T) {
	t.Parallel()
	_, wsURL := newTestServer(t, 7)

	alice := dial(t, wsURL)
	alice.authAndJoin("alice", "arena")

	alice.send(MessageTypeEarn, struct{}{})
	msg := alice.expect(MessageTypeEarnResult)

	var result EarnResultData
	require.NoError(t, json.Unmarshal(msg.Data, &result))
	assert.GreaterOrEqual(t, result.Earned, int64(100))
	assert.LessOrEqual(t, result.Earned, int64(500))
	assert.Equal(t, 1000+result.Earned, result.Gold)
}

func TestBroadcastScopedToChannel(t *testing.T) {
	t.Parallel()
	_, wsURL := newTestServer(t, 42)

	alice := dial(t, wsURL)
	bob := dial(t, wsURL)
	carol := dial(t, wsURL)
	alice.authAndJoin("alice", "arena")
	bob.authAndJoin("bob", "arena")
	carol.authAndJoin("carol", "lounge")

	alice.send(MessageTypeChallenge, ChallengeData{OpponentID: "bob", Start: 100, Wager: 0})
	alice.expect(MessageTypeChallengeStarted)
	bob.expect(MessageTypeChallengeStarted)

	// Carol is in a different channel and must see nothing. Her next read
	// should be the balance she asks for, not the challenge broadcast.
	bal := carol.balance()
	assert.Equal(t, "carol", bal.UserID)
}

func TestTokenAuth(t *testing.T) {
	t.Parallel()

	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Token string `json:"token"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req.Token == "good" {
			_, _ = w.Write([]byte(`{"valid": true, "user_id": "verified-alice"}`))
		} else {
			_, _ = w.Write([]byte(`{"valid": false}`))
		}
	}))
	t.Cleanup(backend.Close)

	_, wsURL := newTestServer(t, 42, WithAuthValidator(auth.NewHTTPValidator(backend.URL, "")))

	c := dial(t, wsURL)
	c.send(MessageTypeAuth, AuthData{Token: "bad", UserID: "imposter"})
	c.expectError("invalid_auth")

	c.send(MessageTypeAuth, AuthData{Token: "good", UserID: "imposter"})
	msg := c.expect(MessageTypeAuthResponse)

	var resp AuthResponseData
	require.NoError(t, json.Unmarshal(msg.Data, &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "verified-alice", resp.UserID, "validated identity overrides the claimed id")
}

func TestConnectedUsers(t *testing.T) {
	t.Parallel()
	srv, wsURL := newTestServer(t, 42)

	alice := dial(t, wsURL)
	alice.authAndJoin("alice", "arena")

	require.Eventually(t, func() bool {
		users := srv.ConnectedUsers()
		return len(users) == 1 && users[0] == "alice"
	}, 2*time.Second, 10*time.Millisecond)
}
