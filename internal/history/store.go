// ABOUTME: Ordered, deduplicated message log for one conversation.
// ABOUTME: Mirrors every mutation to the KV cache; the in-memory copy stays authoritative.

package history

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ternlabs/chatsession/internal/cache"
	"github.com/ternlabs/chatsession/internal/chat"
)

// Store is an append-only message log with (message_id, type) deduplication.
// Insertion order is preserved; messages are never sorted by create_time.
//
// A Store is bound to at most one (credential, conversationID) pair at a
// time. While bound, every mutation is mirrored to the KV cache. Mirror
// failures are logged and swallowed.
type Store struct {
	mu       sync.Mutex
	messages []chat.Message
	seen     map[string]int // dedup key -> index into messages

	kv             cache.KV
	credential     string
	conversationID string

	logger *slog.Logger
}

// NewStore creates an empty store. Pass nil logger for the default.
func NewStore(kv cache.KV, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		seen:   make(map[string]int),
		kv:     kv,
		logger: logger.With("component", "history"),
	}
}

// historyKey scopes cached transcripts by credential and conversation so
// different conversations or credentials never collide.
func historyKey(credential, conversationID string) string {
	return fmt.Sprintf("history:%s:%s", credential, conversationID)
}

// Bind attaches the store to a (credential, conversationID) pair. An empty
// conversation id unbinds the store: nothing is read or written until the
// next Bind.
func (s *Store) Bind(credential, conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.credential = credential
	s.conversationID = conversationID
}

// Load replaces the in-memory log with the cached transcript for the bound
// conversation and returns the recomputed high-watermark (the max create_time
// in the loaded set, 0 when empty).
//
// Loading is best-effort: a missing key, a read error or unparseable data all
// yield an empty log, never an error.
func (s *Store) Load(ctx context.Context) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages = nil
	s.seen = make(map[string]int)

	if s.kv == nil || s.conversationID == "" {
		return 0
	}

	data, ok, err := s.kv.Get(ctx, historyKey(s.credential, s.conversationID))
	if err != nil {
		s.logger.Debug("cache read failed, starting empty", "error", err)
		return 0
	}
	if !ok {
		return 0
	}

	var msgs []chat.Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		s.logger.Debug("cached transcript unparseable, starting empty", "error", err)
		return 0
	}

	var watermark int64
	for _, m := range msgs {
		if key := m.Key(); key != "" {
			if _, dup := s.seen[key]; dup {
				continue
			}
			s.seen[key] = len(s.messages)
		}
		s.messages = append(s.messages, m)
		if m.CreateTime > watermark {
			watermark = m.CreateTime
		}
	}
	return watermark
}

// Append admits messages not already present and returns the ones actually
// stored. Messages without a dedup key are always admitted.
func (s *Store) Append(ctx context.Context, msgs ...chat.Message) []chat.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	var admitted []chat.Message
	for _, m := range msgs {
		if key := m.Key(); key != "" {
			if _, dup := s.seen[key]; dup {
				continue
			}
			s.seen[key] = len(s.messages)
		}
		s.messages = append(s.messages, m)
		admitted = append(admitted, m)
	}

	if len(admitted) > 0 {
		s.mirrorLocked(ctx)
	}
	return admitted
}

// AddFeedback appends a feedback record to the message with the given id,
// matching message_id first and falling back to the legacy id field.
// Returns false when no message matches.
func (s *Store) AddFeedback(ctx context.Context, messageID string, fb chat.Feedback) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := -1
	for i := range s.messages {
		if s.messages[i].MessageID == messageID {
			idx = i
			break
		}
	}
	if idx < 0 {
		for i := range s.messages {
			if s.messages[i].ID == messageID {
				idx = i
				break
			}
		}
	}
	if idx < 0 {
		return false
	}

	s.messages[idx].Feedback = append(s.messages[idx].Feedback, fb)
	s.mirrorLocked(ctx)
	return true
}

// Messages returns a copy of the log in insertion order.
func (s *Store) Messages() []chat.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]chat.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Len returns the number of stored messages.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

// Clear empties the log and deletes the cached transcript for the bound
// conversation. The binding itself is kept.
func (s *Store) Clear(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages = nil
	s.seen = make(map[string]int)

	if s.kv != nil && s.conversationID != "" {
		if err := s.kv.Delete(ctx, historyKey(s.credential, s.conversationID)); err != nil {
			s.logger.Debug("cache delete failed", "error", err)
		}
	}
}

// mirrorLocked writes the current log to the cache. Must be called with mu
// held. Failures are swallowed; the in-memory log is the source of truth for
// the running session.
func (s *Store) mirrorLocked(ctx context.Context) {
	if s.kv == nil || s.conversationID == "" {
		return
	}

	data, err := json.Marshal(s.messages)
	if err != nil {
		s.logger.Debug("transcript marshal failed", "error", err)
		return
	}
	if err := s.kv.Set(ctx, historyKey(s.credential, s.conversationID), data); err != nil {
		s.logger.Debug("cache write failed", "error", err)
	}
}
