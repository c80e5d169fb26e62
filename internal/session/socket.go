package session

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-eval-api/internal/observability"
)

const (
	sendBuffer   = 32
	pingInterval = 30 * time.Second
	drainTimeout = 2 * time.Second
)

// Conn is the subset of a websocket connection used by the session server.
type Conn interface {
	ReadJSON(v interface{}) error
	WriteJSON(v interface{}) error
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Server runs one Machine per websocket connection.
type Server struct {
	backend  Backend
	tick     time.Duration
	cooldown time.Duration
	logger   zerolog.Logger
}

// NewServer constructs a session server.
func NewServer(backend Backend, tick, cooldown time.Duration, logger zerolog.Logger) *Server {
	return &Server{
		backend:  backend,
		tick:     tick,
		cooldown: cooldown,
		logger:   logger.With().Str("component", "session_server").Logger(),
	}
}

type client struct {
	conn   Conn
	send   chan Update
	events chan Event
	closed chan struct{}
	once   sync.Once
	cancel context.CancelFunc
	logger zerolog.Logger
}

// Serve blocks until the session ends or the connection drops.
func (s *Server) Serve(ctx context.Context, conn Conn, identity Identity) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)

	c := &client{
		conn:   conn,
		send:   make(chan Update, sendBuffer),
		events: make(chan Event),
		closed: make(chan struct{}),
		cancel: cancel,
		logger: s.logger,
	}
	defer c.close()

	observability.SessionsActive().Inc()
	defer observability.SessionsActive().Dec()

	machine := NewMachine(s.backend, identity, Options{
		Tick:     s.tick,
		Cooldown: s.cooldown,
		Logger:   s.logger,
		Emit:     c.emit,
	})

	written := make(chan struct{})
	go func() {
		defer close(written)
		c.writer()
	}()
	go c.reader()

	if err := machine.Run(ctx, c.events); err != nil && ctx.Err() == nil {
		s.logger.Debug().Err(err).Msg("exam session ended with error")
	}
	s.logger.Info().
		Uint("submission_id", machine.SubmissionID()).
		Str("state", string(machine.State())).
		Msg("exam session closed")

	close(c.send)
	select {
	case <-written:
	case <-time.After(drainTimeout):
	}
}

func (c *client) emit(update Update) {
	select {
	case c.send <- update:
	case <-c.closed:
	}
}

func (c *client) reader() {
	defer close(c.events)

	for {
		var event Event
		if err := c.conn.ReadJSON(&event); err != nil {
			c.logger.Debug().Err(err).Msg("session read loop ended")
			c.close()
			return
		}

		select {
		case c.events <- event:
		case <-c.closed:
			return
		}
	}
}

func (c *client) writer() {
	for {
		select {
		case update, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.WriteJSON(update); err != nil {
				c.logger.Debug().Err(err).Msg("session write loop terminated")
				c.close()
				return
			}
		case <-time.After(pingInterval):
			if err := c.conn.WriteMessage(websocket.PingMessage, []byte("keepalive")); err != nil {
				c.logger.Debug().Err(err).Msg("session ping failed")
				c.close()
				return
			}
		case <-c.closed:
			return
		}
	}
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.closed)
		c.cancel()
		_ = c.conn.Close()
	})
}
