// internal/eventstream/server.go
// Package eventstream publishes the detection event stream to external
// consumers over websocket. This is the produced-to interface for the
// alert-dispatch and notification subsystems; the detector itself never
// calls those subsystems.
package eventstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ebeecroft/alarmwatch/internal/detect"
)

// ErrAlreadyStarted indicates the server is already listening
var ErrAlreadyStarted = errors.New("event stream server already started")

// clientBuffer is the per-client outbound queue; periodic events are
// dropped for clients that fall behind
const clientBuffer = 64

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// wireEvent is the JSON representation of a detection event.
type wireEvent struct {
	Type        string    `json:"type"`
	Timestamp   time.Time `json:"timestamp"`
	Progress    int       `json:"progress,omitempty"`
	RemainingMs int64     `json:"remaining_ms,omitempty"`
	Kind        string    `json:"kind,omitempty"`
	Message     string    `json:"message,omitempty"`
}

// command is an imperative message from a consumer. Only "reset" is
// recognized; it maps to the event channel's reset operation.
type command struct {
	Command string `json:"command"`
}

// Server broadcasts detection events to all connected consumers and
// routes reset commands back to the detection channel.
type Server struct {
	addr    string
	channel *detect.Channel
	log     *slog.Logger

	mu       sync.Mutex
	clients  map[*websocket.Conn]chan wireEvent
	listener net.Listener
	httpSrv  *http.Server
	started  bool
}

// New creates an event stream server publishing on addr.
func New(addr string, channel *detect.Channel, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		addr:    addr,
		channel: channel,
		log:     logger,
		clients: make(map[*websocket.Conn]chan wireEvent),
	}
}

// Start begins listening. Returns once the listener is bound.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return ErrAlreadyStarted
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/events", s.handleWebSocket)

	s.listener = listener
	s.httpSrv = &http.Server{Handler: mux}
	s.started = true

	go func() {
		if err := s.httpSrv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("event stream server", "err", err)
		}
	}()

	return nil
}

// Addr returns the bound listen address, useful with a ":0" address.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

// Publish broadcasts one detection event to every connected consumer.
func (s *Server) Publish(e detect.Event) {
	we := wireEvent{
		Type:        e.Type.String(),
		Timestamp:   e.Timestamp,
		Progress:    e.Progress,
		RemainingMs: e.Remaining.Milliseconds(),
		Kind:        string(e.Kind),
		Message:     e.Message,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for conn, out := range s.clients {
		select {
		case out <- we:
		default:
			s.log.Debug("dropping event for slow consumer", "remote", conn.RemoteAddr())
		}
	}
}

// Shutdown closes all client connections and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	for conn, out := range s.clients {
		close(out)
		_ = conn.Close()
	}
	s.clients = make(map[*websocket.Conn]chan wireEvent)
	srv := s.httpSrv
	s.mu.Unlock()

	return srv.Shutdown(ctx)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade", "err", err)
		return
	}

	out := make(chan wireEvent, clientBuffer)
	s.mu.Lock()
	s.clients[conn] = out
	s.mu.Unlock()
	s.log.Info("event consumer connected", "remote", conn.RemoteAddr())

	go s.writeLoop(conn, out)
	s.readLoop(conn)
}

// writeLoop forwards queued events to one consumer.
func (s *Server) writeLoop(conn *websocket.Conn, out <-chan wireEvent) {
	for we := range out {
		payload, err := json.Marshal(we)
		if err != nil {
			s.log.Error("marshal event", "err", err)
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			return
		}
	}
}

// readLoop consumes commands from one consumer until it disconnects.
func (s *Server) readLoop(conn *websocket.Conn) {
	defer s.dropClient(conn)

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var cmd command
		if err := json.Unmarshal(payload, &cmd); err != nil {
			s.log.Debug("ignoring malformed command", "err", err)
			continue
		}
		switch cmd.Command {
		case "reset":
			s.log.Info("reset requested by consumer", "remote", conn.RemoteAddr())
			s.channel.Reset()
		default:
			s.log.Debug("unknown command", "command", cmd.Command)
		}
	}
}

func (s *Server) dropClient(conn *websocket.Conn) {
	s.mu.Lock()
	if out, ok := s.clients[conn]; ok {
		delete(s.clients, conn)
		close(out)
	}
	s.mu.Unlock()
	_ = conn.Close()
}
