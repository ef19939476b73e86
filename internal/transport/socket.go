// ABOUTME: Push transport: a websocket bound to one conversation with a continuous read loop.
// ABOUTME: Decodes server frames and forwards them to the Events sink with state transitions.

package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/ternlabs/chatsession/internal/chat"
)

// frame is the wire envelope for push delivery.
type frame struct {
	Event   string          `json:"event"` // "message", "takeover", "finalized"
	Message json.RawMessage `json:"message,omitempty"`
}

// Socket is the push transport for one conversation at a time. A Socket is
// bound to an identity (endpoint, credential, tenant) at construction; the
// session controller builds a fresh Socket whenever the identity changes.
type Socket struct {
	endpoint   string
	credential string
	tenant     string
	events     Events
	logger     *slog.Logger

	// Dialer is swappable for tests; defaults to websocket.DefaultDialer.
	Dialer *websocket.Dialer

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

// NewSocket creates a push transport. events must be non-nil.
func NewSocket(endpoint, credential, tenant string, events Events, logger *slog.Logger) *Socket {
	if logger == nil {
		logger = slog.Default()
	}
	return &Socket{
		endpoint:   endpoint,
		credential: credential,
		tenant:     tenant,
		events:     events,
		logger:     logger.With("component", "transport"),
		Dialer:     websocket.DefaultDialer,
	}
}

// wsURL converts the HTTP endpoint into the websocket URL for a conversation.
func (s *Socket) wsURL(conversationID string) (string, error) {
	u, err := url.Parse(s.endpoint)
	if err != nil {
		return "", fmt.Errorf("parsing endpoint: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/conversations/" + url.PathEscape(conversationID)
	return u.String(), nil
}

// Connect dials the conversation channel and starts the read loop. It fires
// StateConnecting before the dial and StateConnected on success; a failed
// dial fires StateDisconnected and returns the error.
func (s *Socket) Connect(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	if s.conn != nil {
		s.mu.Unlock()
		return fmt.Errorf("already connected")
	}
	s.closed = false
	s.mu.Unlock()

	s.events.HandleConnectionState(StateConnecting)

	target, err := s.wsURL(conversationID)
	if err != nil {
		s.events.HandleConnectionState(StateDisconnected)
		return err
	}

	header := http.Header{}
	if s.credential != "" {
		header.Set("Authorization", "Bearer "+s.credential)
	}
	if s.tenant != "" {
		header.Set("X-Tenant-ID", s.tenant)
	}

	conn, resp, err := s.Dialer.DialContext(ctx, target, header)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		s.events.HandleConnectionState(StateDisconnected)
		return fmt.Errorf("dialing push channel: %w", err)
	}

	s.mu.Lock()
	if s.closed {
		// Close raced the dial; drop the connection.
		s.mu.Unlock()
		conn.Close()
		s.events.HandleConnectionState(StateDisconnected)
		return fmt.Errorf("transport closed during connect")
	}
	s.conn = conn
	s.mu.Unlock()

	s.events.HandleConnectionState(StateConnected)
	s.logger.Debug("push channel connected", "conversation_id", conversationID)

	go s.readLoop(conn, conversationID)
	return nil
}

// readLoop consumes frames until the connection drops or Close is called.
// It always fires StateDisconnected exactly once on exit.
func (s *Socket) readLoop(conn *websocket.Conn, conversationID string) {
	defer s.events.HandleConnectionState(StateDisconnected)

	// The adapter signals each terminal state at most once per connection.
	var takeoverSent, finalizeSent bool

	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			s.mu.Lock()
			closed := s.closed
			s.conn = nil
			s.mu.Unlock()

			if !closed {
				s.logger.Debug("push channel dropped",
					"conversation_id", conversationID,
					"error", err)
			}
			return
		}

		var msg chat.Message
		hasMessage := len(f.Message) > 0
		if hasMessage {
			if err := json.Unmarshal(f.Message, &msg); err != nil {
				s.logger.Warn("unparseable push frame payload", "error", err)
				hasMessage = false
			}
		}

		switch f.Event {
		case "message":
			if hasMessage {
				s.events.HandleMessages([]chat.Message{msg})
			}
		case "takeover":
			if hasMessage {
				msg.Type = chat.TypeTakeover
				s.events.HandleMessages([]chat.Message{msg})
			}
			if !takeoverSent {
				takeoverSent = true
				s.events.HandleTakeover()
			}
		case "finalized":
			if hasMessage {
				msg.Type = chat.TypeFinalized
				s.events.HandleMessages([]chat.Message{msg})
			}
			if !finalizeSent {
				finalizeSent = true
				s.events.HandleFinalize()
			}
		default:
			s.logger.Debug("ignoring unknown push event", "event", f.Event)
		}
	}
}

// Close tears the connection down. Safe to call multiple times and before
// Connect. The read loop fires the final StateDisconnected.
func (s *Socket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	if s.conn != nil {
		err := s.conn.Close()
		s.conn = nil
		return err
	}
	return nil
}
