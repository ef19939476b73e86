// ABOUTME: Core message and attachment types shared across transport, polling and session layers.
// ABOUTME: Field names and JSON tags match the backend wire format.

package chat

import "fmt"

// Speaker constants identify who produced a message.
const (
	SpeakerCustomer = "customer"
	SpeakerAgent    = "agent"
	SpeakerSpecial  = "special" // synthetic system notices (degraded service, markers)
)

// Message type constants. An absent type is treated as TypeMessage.
const (
	TypeMessage   = "message"
	TypeTakeover  = "takeover"
	TypeFinalized = "finalized"
)

// Poll status constants reported by the in-progress poll endpoint.
const (
	StatusInProgress = "in_progress"
	StatusTakeover   = "takeover"
	StatusFinalized  = "finalized"
)

// Feedback is a single thumbs up/down record attached to a message.
// Records are append-only; a message accumulates its full feedback history.
type Feedback struct {
	Feedback  string `json:"feedback"` // "good" or "bad"
	Message   string `json:"feedback_message,omitempty"`
	Timestamp string `json:"feedback_timestamp"` // ISO-8601
}

// Message is one entry in a conversation transcript.
//
// CreateTime is the server-reported unix timestamp in seconds and drives the
// high-watermark admission filter. StartTime/EndTime carry segment timing for
// transcribed audio and are zero for typed messages.
type Message struct {
	MessageID  string     `json:"message_id,omitempty"`
	ID         string     `json:"id,omitempty"` // legacy alias, some endpoints return this
	CreateTime int64      `json:"create_time"`
	StartTime  float64    `json:"start_time"`
	EndTime    float64    `json:"end_time"`
	Speaker    string     `json:"speaker"`
	Text       string     `json:"text"`
	Type       string     `json:"type,omitempty"`
	Feedback   []Feedback `json:"feedback,omitempty"`
	LinkURL    string     `json:"linkUrl,omitempty"`
	LinkLabel  string     `json:"linkLabel,omitempty"`

	// Attachments are files referenced by an outbound customer message.
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Attachment describes an uploaded file to be referenced by a later send.
type Attachment struct {
	Name   string `json:"name"`
	Type   string `json:"type"`
	Size   int64  `json:"size"`
	URL    string `json:"url"`
	FileID string `json:"file_id,omitempty"`
}

// Key returns the dedup key for the message, or "" when the message has no
// server id. Messages without ids are always admitted; the (id, type) pair
// makes marker messages (takeover/finalized) distinct from the text message
// that may share their id.
func (m *Message) Key() string {
	id := m.MessageID
	if id == "" {
		id = m.ID
	}
	if id == "" {
		return ""
	}
	typ := m.Type
	if typ == "" {
		typ = TypeMessage
	}
	return fmt.Sprintf("%s:%s", id, typ)
}

// NormalizeSpeaker maps arbitrary backend speaker labels onto the three
// speakers the UI understands. Unknown labels default to the agent side.
func NormalizeSpeaker(s string) string {
	switch s {
	case SpeakerCustomer, SpeakerAgent, SpeakerSpecial:
		return s
	case "user":
		return SpeakerCustomer
	case "operator":
		// The human who took the conversation over speaks on the agent side.
		return SpeakerAgent
	default:
		return SpeakerAgent
	}
}

// IsTerminalType reports whether the message type is a takeover or finalized
// marker rather than displayable content.
func IsTerminalType(typ string) bool {
	return typ == TypeTakeover || typ == TypeFinalized
}
