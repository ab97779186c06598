// Package remote serves the monitor endpoint: a WebSocket that streams the
// live view as binary JPEG messages and accepts motion commands from remote
// operators. Commands are injected into the control loop through the same
// input path the local keyboard uses.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"camview/internal/frame"
	"camview/internal/input"
	"camview/internal/protocol"
)

const (
	writeTimeout      = 10 * time.Second
	pongTimeout       = 60 * time.Second
	pingInterval      = 30 * time.Second
	telemetryInterval = time.Second
)

// Encoder compresses a frame for the wire.
type Encoder func(*frame.Frame) ([]byte, error)

// Telemetry produces the current telemetry payload on demand.
type Telemetry func() protocol.TelemetryPayload

// Config for the monitor server.
type Config struct {
	ListenAddr string
}

// Server broadcasts frames to monitor clients and feeds their commands back
// as input events. It implements control.Renderer and input.Source.
type Server struct {
	cfg       Config
	encode    Encoder
	telemetry Telemetry
	log       zerolog.Logger

	events chan input.Event

	mu      sync.RWMutex
	clients map[*client]bool

	upgrader websocket.Upgrader
	httpSrv  *http.Server

	lastTelemetry time.Time
}

// New creates a monitor server. encode turns frames into JPEG; telemetry is
// polled once a second and pushed to every client.
func New(cfg Config, encode Encoder, telemetry Telemetry, log zerolog.Logger) *Server {
	return &Server{
		cfg:       cfg,
		encode:    encode,
		telemetry: telemetry,
		log:       log.With().Str("component", "remote").Logger(),
		events:    make(chan input.Event, 16),
		clients:   make(map[*client]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // local-network tool
			},
		},
	}
}

// Start begins listening. It returns once the listener is running; serve
// errors after that are logged, not returned.
func (s *Server) Start() {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)

	s.httpSrv = &http.Server{Addr: s.cfg.ListenAddr, Handler: mux}
	go func() {
		s.log.Info().Str("addr", s.cfg.ListenAddr).Msg("monitor listening")
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error().Err(err).Msg("monitor server failed")
		}
	}()
}

// Stop closes all clients and shuts the listener down.
func (s *Server) Stop() {
	s.mu.Lock()
	for c := range s.clients {
		c.close()
	}
	s.clients = make(map[*client]bool)
	s.mu.Unlock()

	if s.httpSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.log.Warn().Err(err).Msg("monitor shutdown")
		}
	}
}

// Render encodes the frame once and fans it out to every connected client.
// With no clients connected it costs nothing.
func (s *Server) Render(f *frame.Frame, overlay []string) error {
	s.mu.RLock()
	n := len(s.clients)
	s.mu.RUnlock()
	if n == 0 {
		return nil
	}

	data, err := s.encode(f)
	if err != nil {
		return err
	}

	var telemetryMsg []byte
	if s.telemetry != nil && time.Since(s.lastTelemetry) >= telemetryInterval {
		s.lastTelemetry = time.Now()
		if msg, err := protocol.NewMessage(protocol.TypeTelemetry, s.telemetry()); err == nil {
			telemetryMsg, _ = json.Marshal(msg)
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for c := range s.clients {
		c.sendFrame(data)
		if telemetryMsg != nil {
			c.sendRaw(telemetryMsg)
		}
	}
	return nil
}

// Poll returns the next queued remote command, or None.
func (s *Server) Poll() input.Event {
	select {
	case ev := <-s.events:
		return ev
	default:
		return input.None
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := &client{
		conn:   conn,
		server: s,
		send:   make(chan []byte, 32),
		frames: make(chan []byte, 8),
		done:   make(chan struct{}),
	}

	s.mu.Lock()
	s.clients[c] = true
	s.mu.Unlock()
	s.log.Info().Str("remote", r.RemoteAddr).Msg("monitor client connected")

	go c.writePump()
	go c.readPump()
}

// publish queues a remote command for the control loop. Full queue drops the
// command, matching how stale local input is treated.
func (s *Server) publish(ev input.Event) {
	select {
	case s.events <- ev:
	default:
		s.log.Debug().Stringer("event", ev).Msg("remote command dropped, queue full")
	}
}

func (s *Server) removeClient(c *client) {
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
}

type client struct {
	conn   *websocket.Conn
	server *Server
	send   chan []byte // control messages
	frames chan []byte // binary JPEG, drop-oldest semantics via buffer

	closeOnce sync.Once
	done      chan struct{}
}

// sendFrame queues a JPEG without blocking; a slow client loses frames, not
// the broadcaster.
func (c *client) sendFrame(data []byte) {
	select {
	case c.frames <- data:
	default:
	}
}

func (c *client) sendRaw(data []byte) {
	select {
	case c.send <- data:
	default:
	}
}

func (c *client) sendMessage(msgType string, payload any) {
	msg, err := protocol.NewMessage(msgType, payload)
	if err != nil {
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.sendRaw(data)
}

func (c *client) readPump() {
	defer func() {
		c.server.removeClient(c)
		c.close()
	}()

	c.conn.SetReadLimit(65536)
	c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.server.log.Debug().Err(err).Msg("monitor client read error")
			}
			return
		}
		c.handleMessage(data)
	}
}

func (c *client) handleMessage(data []byte) {
	var msg protocol.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendMessage(protocol.TypeError, protocol.ErrorPayload{
			Code:    protocol.ErrInvalidMessage,
			Message: "failed to parse message",
		})
		return
	}

	switch msg.Type {
	case protocol.TypePing:
		var payload protocol.PingPayload
		if err := msg.ParsePayload(&payload); err != nil {
			return
		}
		c.sendMessage(protocol.TypePong, protocol.PongPayload{
			ClientTimestamp: payload.Timestamp,
			ServerTimestamp: time.Now().UnixMilli(),
		})

	case protocol.TypeCommand:
		var payload protocol.CommandPayload
		if err := msg.ParsePayload(&payload); err != nil {
			return
		}
		ev, ok := eventForAction(payload.Action)
		if !ok {
			c.sendMessage(protocol.TypeError, protocol.ErrorPayload{
				Code:    protocol.ErrUnknownAction,
				Message: payload.Action,
			})
			return
		}
		c.server.publish(ev)

	default:
		c.server.log.Debug().Str("type", msg.Type).Msg("unknown monitor message type")
	}
}

func eventForAction(action string) (input.Event, bool) {
	switch action {
	case protocol.ActionLeft:
		return input.Left, true
	case protocol.ActionRight:
		return input.Right, true
	case protocol.ActionUp:
		return input.Up, true
	case protocol.ActionDown:
		return input.Down, true
	case protocol.ActionHome:
		return input.Home, true
	case protocol.ActionSnapshot:
		return input.Snapshot, true
	default:
		return input.None, false
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case data := <-c.frames:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
				return
			}

		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}
