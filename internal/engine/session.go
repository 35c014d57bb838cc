package engine

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/cncjs/cnc-core/internal/buffer"
	"github.com/cncjs/cnc-core/internal/logx"
)

// envelope is the wire shape of every server->client push: {event, data}.
// Client->server requests use the same shape with an optional "id" for
// request/response correlation (spec.md 6).
type envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
	ID    string `json:"id,omitempty"`
}

// Session is one authenticated WebSocket client. It implements
// controller.Subscriber so a Controller can broadcast directly to it, and
// tracks which idents it has open()'d so Engine can clean up on disconnect.
//
// Controllers broadcast from their own goroutines (tick loop, transport
// event handler); Emit/reply only enqueue onto out so a slow or stalled
// client write never blocks a Controller's broadcast. A single writeLoop
// goroutine drains out and owns the conn, since gorilla/websocket permits
// at most one concurrent writer per connection.
type Session struct {
	id     string
	userID string
	name   string

	conn *websocket.Conn
	out  *buffer.Queue[envelope]

	mu     sync.Mutex
	closed bool
	idents map[string]bool

	logger logx.Logger
}

func newSession(conn *websocket.Conn, claims *Claims, logger logx.Logger) *Session {
	s := &Session{
		id:     uuid.NewString(),
		userID: claims.ID,
		name:   claims.Name,
		conn:   conn,
		out:    buffer.New[envelope](16),
		idents: make(map[string]bool),
		logger: logx.OrDefault(logger, "engine"),
	}
	go s.writeLoop()
	return s
}

// ID implements controller.Subscriber.
func (s *Session) ID() string { return s.id }

// Emit implements controller.Subscriber: server->client push.
func (s *Session) Emit(event string, payload any) {
	s.write(envelope{Event: event, Data: payload})
}

// reply answers a specific client request by id, used for callback-style
// operations (getPorts, open, close, command) rather than broadcasts.
func (s *Session) reply(id, event string, payload any) {
	s.write(envelope{Event: event, Data: payload, ID: id})
}

func (s *Session) write(e envelope) {
	if err := s.out.Add(e); err != nil {
		s.logger.Warnf("session %s: dropping %s, %v", s.id, e.Event, err)
	}
}

// writeLoop is the sole writer of s.conn: it drains out in order until the
// session closes, then returns.
func (s *Session) writeLoop() {
	for {
		e, err := s.out.Next()
		if err != nil {
			return
		}
		b, err := json.Marshal(e)
		if err != nil {
			s.logger.Errorf("marshal %s: %v", e.Event, err)
			continue
		}
		if err := s.conn.WriteMessage(websocket.TextMessage, b); err != nil {
			s.logger.Warnf("write to session %s: %v", s.id, err)
			return
		}
	}
}

func (s *Session) markIdent(ident string)   { s.mu.Lock(); s.idents[ident] = true; s.mu.Unlock() }
func (s *Session) unmarkIdent(ident string) { s.mu.Lock(); delete(s.idents, ident); s.mu.Unlock() }

// openIdents returns a snapshot of every ident this session has open()'d.
func (s *Session) openIdents() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.idents))
	for id := range s.idents {
		out = append(out, id)
	}
	return out
}

func (s *Session) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	_ = s.out.Close()
	_ = s.conn.Close()
}
