// ABOUTME: Mutable display configuration that must never trigger a transport reset.
// ABOUTME: Hosts update these fields freely; only identity changes reinitialize the session.

package session

import (
	"sync"

	"github.com/ternlabs/chatsession/internal/chat"
)

// DefaultUnavailableMessage is the degraded-service notice shown when the
// backend cannot be reached and the host supplied no override.
const DefaultUnavailableMessage = "Our support service is temporarily unavailable. Please try again in a moment."

// StaticConfig is the display metadata republished to the host after every
// Initialize and every conversation start.
type StaticConfig struct {
	Locale           string
	QuickReplies     []string
	WelcomeContent   string
	ThinkingText     string
	InputPlaceholder string
	Metadata         map[string]string
}

// Bridge holds host-tunable presentation settings. All fields may change at
// any time without tearing down the transport; the controller reads them at
// the moment of use.
type Bridge struct {
	mu sync.RWMutex

	locale           string
	unavailableText  string
	contactURL       string
	contactLabel     string
	thinkingText     string
	inputPlaceholder string
	metadata         map[string]string

	// Conversation-scoped display state, cleared on reset.
	quickReplies   []string
	welcomeContent string
}

// NewBridge creates a bridge with built-in defaults.
func NewBridge() *Bridge {
	return &Bridge{unavailableText: DefaultUnavailableMessage}
}

// Update applies the display-only parts of a session config.
func (b *Bridge) Update(cfg Config) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.locale = cfg.Locale
	b.thinkingText = cfg.ThinkingText
	b.inputPlaceholder = cfg.InputPlaceholder
	b.metadata = cfg.Metadata
	b.contactURL = cfg.ContactURL
	b.contactLabel = cfg.ContactLabel
	if cfg.UnavailableMessage != "" {
		b.unavailableText = cfg.UnavailableMessage
	} else {
		b.unavailableText = DefaultUnavailableMessage
	}
}

// SetConversationContent records the welcome content and quick replies the
// backend returned for the active conversation.
func (b *Bridge) SetConversationContent(welcome string, quickReplies []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.welcomeContent = welcome
	b.quickReplies = quickReplies
}

// ClearConversationContent drops conversation-scoped display state.
func (b *Bridge) ClearConversationContent() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.welcomeContent = ""
	b.quickReplies = nil
}

// Static snapshots the current display metadata for the config-loaded
// notification.
func (b *Bridge) Static() StaticConfig {
	b.mu.RLock()
	defer b.mu.RUnlock()

	replies := make([]string, len(b.quickReplies))
	copy(replies, b.quickReplies)

	return StaticConfig{
		Locale:           b.locale,
		QuickReplies:     replies,
		WelcomeContent:   b.welcomeContent,
		ThinkingText:     b.thinkingText,
		InputPlaceholder: b.inputPlaceholder,
		Metadata:         b.metadata,
	}
}

// UnavailableNotice builds the synthetic chat message rendered in place of a
// toast when the backend is unreachable.
func (b *Bridge) UnavailableNotice(now int64) chat.Message {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return chat.Message{
		CreateTime: now,
		Speaker:    chat.SpeakerSpecial,
		Text:       b.unavailableText,
		LinkURL:    b.contactURL,
		LinkLabel:  b.contactLabel,
	}
}
