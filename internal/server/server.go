package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/lox/deathroll/internal/auth"
	"github.com/lox/deathroll/internal/game"
)

// Server is the WebSocket gateway between chat clients and the game engine.
// It also implements game.Sink: engine events are broadcast to every
// connection joined to the event's channel.
type Server struct {
	addr        string
	upgrader    websocket.Upgrader
	connections map[*Connection]bool
	register    chan *Connection
	unregister  chan *Connection
	logger      *log.Logger
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
	engine      *game.Engine
	validator   auth.Validator
}

// Option configures the server.
type Option func(*Server)

// WithAuthValidator sets the token validator used during auth. The default
// NoopValidator lets clients pick their own user id.
func WithAuthValidator(v auth.Validator) Option {
	return func(s *Server) {
		s.validator = v
	}
}

// NewServer creates a new WebSocket gateway listening on addr.
func NewServer(addr string, logger *log.Logger, opts ...Option) *Server {
	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		addr: addr,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// Chat-layer collaborators connect from anywhere.
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		connections: make(map[*Connection]bool),
		register:    make(chan *Connection),
		unregister:  make(chan *Connection),
		logger:      logger.WithPrefix("server"),
		ctx:         ctx,
		cancel:      cancel,
		validator:   auth.NewNoopValidator(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetEngine wires the game engine into the gateway. Must be called before
// Start.
func (s *Server) SetEngine(engine *game.Engine) {
	s.engine = engine
}

// Start runs the gateway until Stop is called or the listener fails.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)

	httpServer := &http.Server{Addr: s.addr, Handler: mux}

	s.logger.Info("Starting WebSocket server", "addr", s.addr)

	g, ctx := errgroup.WithContext(s.ctx)
	g.Go(func() error {
		s.run(ctx)
		return nil
	})
	g.Go(func() error {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// Stop shuts the gateway down and closes all connections.
func (s *Server) Stop() error {
	s.cancel()

	s.mu.Lock()
	for conn := range s.connections {
		_ = conn.Close()
	}
	s.mu.Unlock()

	return nil
}

// run handles connection lifecycle.
func (s *Server) run(ctx context.Context) {
	for {
		select {
		case conn := <-s.register:
			s.mu.Lock()
			s.connections[conn] = true
			total := len(s.connections)
			s.mu.Unlock()
			s.logger.Info("Client connected", "total", total)

		case conn := <-s.unregister:
			s.mu.Lock()
			if _, ok := s.connections[conn]; ok {
				delete(s.connections, conn)
				_ = conn.Close()
			}
			total := len(s.connections)
			s.mu.Unlock()
			s.logger.Info("Client disconnected", "total", total)

		case <-ctx.Done():
			return
		}
	}
}

// handleWebSocket handles WebSocket upgrade requests.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade connection", "error", err)
		return
	}

	client := NewConnection(conn, s.logger, s.engine, s.validator)
	s.register <- client
	client.Start()

	go func() {
		<-client.ctx.Done()
		select {
		case s.unregister <- client:
		case <-s.ctx.Done():
		}
	}()
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "OK")
}

// Publish implements game.Sink by broadcasting the event to every
// connection joined to its channel.
func (s *Server) Publish(event game.Event) {
	var (
		msg *Message
		err error
	)
	switch ev := event.(type) {
	case game.ChallengeStarted:
		msg, err = NewMessage(MessageTypeChallengeStarted, ev)
	case game.RollResult:
		msg, err = NewMessage(MessageTypeRollResult, ev)
	case game.GameWon:
		msg, err = NewMessage(MessageTypeGameWon, ev)
	default:
		s.logger.Warn("Dropping unknown engine event", "event", fmt.Sprintf("%T", event))
		return
	}
	if err != nil {
		s.logger.Error("Failed to encode engine event", "error", err)
		return
	}

	s.broadcastToChannel(event.EventChannel(), msg)
}

// broadcastToChannel sends a message to all connections joined to a channel.
func (s *Server) broadcastToChannel(channelID string, msg *Message) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for conn := range s.connections {
		if conn.GetChannel() == channelID {
			if err := conn.SendMessage(msg); err != nil {
				s.logger.Error("Failed to send message to client", "error", err, "user", conn.GetUser())
			} else {
				count++
			}
		}
	}

	s.logger.Debug("Broadcasted message to channel", "channelId", channelID, "type", msg.Type, "recipients", count)
}

// ConnectedUsers returns the ids of all authenticated connections.
func (s *Server) ConnectedUsers() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var users []string
	for conn := range s.connections {
		if userID := conn.GetUser(); userID != "" {
			users = append(users, userID)
		}
	}
	return users
}
