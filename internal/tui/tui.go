package tui

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"

	"github.com/lox/deathroll/internal/client"
	"github.com/lox/deathroll/internal/game"
	"github.com/lox/deathroll/internal/server"
)

// Model is the Bubble Tea model for the deathroll client.
type Model struct {
	client  *client.Client
	logger  *log.Logger
	userID  string
	channel string

	logViewport viewport.Model
	input       textinput.Model

	lines    []string
	width    int
	height   int
	quitting bool
}

// serverMsg wraps a message received from the server.
type serverMsg struct {
	msg *server.Message
}

// disconnectedMsg signals that the server connection dropped.
type disconnectedMsg struct{}

// NewModel creates the client model.
func NewModel(c *client.Client, logger *log.Logger, userID, channel string) *Model {
	vp := viewport.New(10, 5)
	vp.SetContent("")

	ti := textinput.New()
	ti.Placeholder = "/challenge <user> <start> [wager]  /roll  /balance  /earn  /pay <user> <amount>"
	ti.Focus()
	ti.CharLimit = 200
	ti.Width = 100
	ti.PromptStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#04B575")).Bold(true)
	ti.Prompt = "> "

	return &Model{
		client:      c,
		logger:      logger.WithPrefix("tui"),
		userID:      userID,
		channel:     channel,
		logViewport: vp,
		input:       ti,
	}
}

// AddLine appends a line to the log pane.
func (m *Model) AddLine(line string) {
	m.lines = append(m.lines, line)
	m.logViewport.SetContent(strings.Join(m.lines, "\n"))
	m.logViewport.GotoBottom()
}

// Init starts listening for server messages.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.listenForServer())
}

// listenForServer returns a command that waits for the next server message.
func (m *Model) listenForServer() tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-m.client.Receive()
		if !ok {
			return disconnectedMsg{}
		}
		return serverMsg{msg: msg}
	}
}

// Update handles messages.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case disconnectedMsg:
		m.AddLine(ErrorStyle.Render("Disconnected from server"))
		m.quitting = true
		return m, tea.Sequence(tea.ClearScreen, tea.Quit)

	case serverMsg:
		m.renderServerMessage(msg.msg)
		cmds = append(cmds, m.listenForServer())

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.logViewport.Width = msg.Width - 2
		m.logViewport.Height = msg.Height - 5
		m.logViewport.SetContent(strings.Join(m.lines, "\n"))
		m.logViewport.GotoBottom()

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Sequence(tea.ClearScreen, tea.Quit)
		case "enter":
			command := strings.TrimSpace(m.input.Value())
			m.input.SetValue("")
			if command != "" {
				if quit := m.handleCommand(command); quit {
					m.quitting = true
					return m, tea.Sequence(tea.ClearScreen, tea.Quit)
				}
			}
		case "pgup":
			m.logViewport.HalfPageUp()
		case "pgdown":
			m.logViewport.HalfPageDown()
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)

	m.logViewport, cmd = m.logViewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

// View renders the TUI.
func (m *Model) View() string {
	if m.quitting {
		return ""
	}
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}

	header := HeaderStyle.Render(fmt.Sprintf(" deathroll  %s @ #%s ", m.userID, m.channel))

	logStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#626262")).
		Width(m.width - 2)

	inputStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#04B575")).
		Width(m.width - 2)

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		logStyle.Render(m.logViewport.View()),
		inputStyle.Render(m.input.View()),
	)
}

// handleCommand parses a slash command and sends it to the server. Returns
// true when the user asked to quit.
func (m *Model) handleCommand(command string) bool {
	if !strings.HasPrefix(command, "/") {
		m.AddLine(InfoStyle.Render("Commands start with /. Try /help"))
		return false
	}

	parts := strings.Fields(command)
	var err error

	switch parts[0] {
	case "/quit":
		return true

	case "/help":
		m.AddLine(InfoStyle.Render("/challenge <user> <start> [wager]  start a duel"))
		m.AddLine(InfoStyle.Render("/roll                              take your turn"))
		m.AddLine(InfoStyle.Render("/balance                           show your gold and record"))
		m.AddLine(InfoStyle.Render("/earn                              work for gold"))
		m.AddLine(InfoStyle.Render("/pay <user> <amount>               give gold away"))
		m.AddLine(InfoStyle.Render("/quit                              leave"))

	case "/challenge":
		if len(parts) < 3 {
			m.AddLine(ErrorStyle.Render("Usage: /challenge <user> <start> [wager]"))
			return false
		}
		var start, wager int64
		if start, err = strconv.ParseInt(parts[2], 10, 64); err != nil {
			m.AddLine(ErrorStyle.Render("Start must be a number"))
			return false
		}
		if len(parts) > 3 {
			if wager, err = strconv.ParseInt(parts[3], 10, 64); err != nil {
				m.AddLine(ErrorStyle.Render("Wager must be a number"))
				return false
			}
		}
		err = m.client.Challenge(parts[1], start, wager)

	case "/roll":
		err = m.client.Roll()

	case "/balance":
		err = m.client.Balance()

	case "/earn":
		err = m.client.Earn()

	case "/pay":
		if len(parts) != 3 {
			m.AddLine(ErrorStyle.Render("Usage: /pay <user> <amount>"))
			return false
		}
		var amount int64
		if amount, err = strconv.ParseInt(parts[2], 10, 64); err != nil {
			m.AddLine(ErrorStyle.Render("Amount must be a number"))
			return false
		}
		err = m.client.Pay(parts[1], amount)

	default:
		m.AddLine(ErrorStyle.Render("Unknown command: " + parts[0]))
	}

	if err != nil {
		m.AddLine(ErrorStyle.Render("Send failed: " + err.Error()))
	}
	return false
}

// renderServerMessage formats an incoming server message into log lines.
func (m *Model) renderServerMessage(msg *server.Message) {
	switch msg.Type {
	case server.MessageTypeAuthResponse:
		var data server.AuthResponseData
		if json.Unmarshal(msg.Data, &data) == nil && data.Success {
			m.AddLine(InfoStyle.Render("Authenticated as " + data.UserID))
		}

	case server.MessageTypeChannelJoined:
		var data server.ChannelJoinedData
		if json.Unmarshal(msg.Data, &data) == nil {
			m.AddLine(InfoStyle.Render("Joined #" + data.ChannelID))
		}

	case server.MessageTypeChallengeStarted:
		var data game.ChallengeStarted
		if json.Unmarshal(msg.Data, &data) == nil {
			m.AddLine(RollStyle.Render(fmt.Sprintf("%s challenged %s! Rolling down from %d for %d gold. %s rolls first.",
				data.Challenger, data.Opponent, data.Start, data.Wager, data.Challenger)))
		}

	case server.MessageTypeRollResult:
		var data game.RollResult
		if json.Unmarshal(msg.Data, &data) == nil {
			m.AddLine(RollStyle.Render(fmt.Sprintf("%s rolls %d (1-%d)", data.Actor, data.Result, data.Ceiling)))
		}

	case server.MessageTypeGameWon:
		var data game.GameWon
		if json.Unmarshal(msg.Data, &data) == nil {
			line := fmt.Sprintf("%s wins %d gold from %s", data.Winner, data.Wager, data.Loser)
			if data.Reason == game.ReasonTimeout {
				line += " (opponent timed out)"
			}
			if data.Winner == m.userID {
				m.AddLine(WinStyle.Render(line))
			} else {
				m.AddLine(LossStyle.Render(line))
			}
		}

	case server.MessageTypeBalanceResult:
		var data server.BalanceResultData
		if json.Unmarshal(msg.Data, &data) == nil {
			m.AddLine(GoldStyle.Render(fmt.Sprintf("%s has %d gold (%dW/%dL)",
				data.UserID, data.Gold, data.Wins, data.Losses)))
		}

	case server.MessageTypeEarnResult:
		var data server.EarnResultData
		if json.Unmarshal(msg.Data, &data) == nil {
			m.AddLine(GoldStyle.Render(fmt.Sprintf("You earned %d gold. Balance: %d", data.Earned, data.Gold)))
		}

	case server.MessageTypePayResult:
		var data server.PayResultData
		if json.Unmarshal(msg.Data, &data) == nil {
			m.AddLine(GoldStyle.Render(fmt.Sprintf("Paid %d gold to %s", data.Amount, data.ToID)))
		}

	case server.MessageTypeError:
		var data server.ErrorData
		if json.Unmarshal(msg.Data, &data) == nil {
			m.AddLine(ErrorStyle.Render("Error: " + data.Message))
		}

	default:
		m.logger.Debug("Unhandled message type", "type", msg.Type)
	}
}
