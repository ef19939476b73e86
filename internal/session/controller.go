// ABOUTME: SessionController: owns the conversation lifecycle state machine and recovery policy.
// ABOUTME: Arbitrates between push transport and heartbeat polling; all inbound batches funnel through reconcile.

package session

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/ternlabs/chatsession/internal/api"
	"github.com/ternlabs/chatsession/internal/auth"
	"github.com/ternlabs/chatsession/internal/cache"
	"github.com/ternlabs/chatsession/internal/chat"
	"github.com/ternlabs/chatsession/internal/history"
	"github.com/ternlabs/chatsession/internal/poll"
	"github.com/ternlabs/chatsession/internal/transport"
)

// Config is the full session configuration handed to Initialize. Only the
// identity fields (Endpoint, Credential, Tenant, PushEnabled) trigger a
// transport rebuild when they change; everything else flows into the Bridge.
type Config struct {
	Endpoint   string
	Credential string
	Tenant     string

	PushEnabled bool
	PollEnabled bool

	Locale           string
	Metadata         map[string]string
	ThinkingText     string
	InputPlaceholder string

	// Degraded-service notice overrides; empty fields use built-in defaults.
	UnavailableMessage string
	ContactURL         string
	ContactLabel       string
}

// identity is the canonical serialization used to decide whether Initialize
// must tear down and rebuild the transport. Compared by value, never by
// reference, so metadata-only config changes are cheap.
type identity struct {
	Endpoint    string `json:"endpoint"`
	Credential  string `json:"credential"`
	Tenant      string `json:"tenant"`
	PushEnabled bool   `json:"push_enabled"`
}

func (c Config) identityKey() string {
	data, _ := json.Marshal(identity{
		Endpoint:    c.Endpoint,
		Credential:  c.Credential,
		Tenant:      c.Tenant,
		PushEnabled: c.PushEnabled,
	})
	return string(data)
}

// Callbacks are the host-facing event hooks. Nil members are skipped. The
// controller guarantees OnTakeover and OnFinalize fire at most once per
// conversation no matter how often the condition recurs.
type Callbacks struct {
	OnError           func(error)
	OnTakeover        func()
	OnFinalize        func()
	OnConfigLoaded    func(StaticConfig)
	OnMessagesChanged func([]chat.Message)
	OnTyping          func(bool)
	OnConnectionState func(transport.State)
}

// backend is what the controller needs from the HTTP layer.
type backend interface {
	StartConversation(ctx context.Context, metadata map[string]string, captchaToken string) (*api.StartResponse, error)
	UpdateConversation(ctx context.Context, conversationID string, msgs []chat.Message, extra map[string]string, captchaToken string) error
	PollInProgress(ctx context.Context, conversationID string) (*api.PollResponse, error)
	UploadFile(ctx context.Context, conversationID, name, contentType string, r io.Reader) (*api.UploadResponse, error)
	AddFeedback(ctx context.Context, messageID, value, message string) error
}

// pusher is what the controller needs from the push transport.
type pusher interface {
	Connect(ctx context.Context, conversationID string) error
	Close() error
}

// Controller is the session state machine. One Controller serves one host
// surface; it owns the message store, the high-watermark, the terminal-state
// latches and the choice between push and pull delivery.
type Controller struct {
	mu sync.Mutex

	kv       cache.KV
	cb       Callbacks
	bridge   *Bridge
	logger   *slog.Logger
	nowFunc  func() time.Time
	initOnce bool // set after the first Initialize

	// Factories, swappable in tests.
	newBackend func(endpoint, credential, tenant string) backend
	newPush    func(endpoint, credential, tenant string, ev transport.Events) pusher

	cfg      Config
	identity string

	api    backend
	push   pusher
	poller *poll.Poller
	store  *history.Store

	conversationID string
	createTime     int64
	watermark      int64

	takenOver        bool
	finalized        bool
	takeoverNotified bool // one-shot latch
	finalizeNotified bool // one-shot latch

	typing    bool
	connState transport.State

	pendingAttachments []chat.Attachment
}

// New creates a session controller. The KV cache may be nil, in which case
// nothing persists across restarts.
func New(kv cache.KV, cb Callbacks, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "session")

	c := &Controller{
		kv:        kv,
		cb:        cb,
		bridge:    NewBridge(),
		logger:    logger,
		nowFunc:   time.Now,
		connState: transport.StateDisconnected,
	}
	c.newBackend = func(endpoint, credential, tenant string) backend {
		return api.NewClient(endpoint, credential, tenant, nil, logger)
	}
	c.newPush = func(endpoint, credential, tenant string, ev transport.Events) pusher {
		return transport.NewSocket(endpoint, credential, tenant, ev, logger)
	}
	c.store = history.NewStore(kv, logger)
	return c
}

// Bridge exposes the mutable display configuration.
func (c *Controller) Bridge() *Bridge { return c.bridge }

// Initialize establishes (or re-establishes) the session identity. The
// transport is rebuilt only when endpoint, credential, tenant or the
// push-enabled flag actually changed; display metadata alone never causes a
// reconnect. Static metadata is republished on every call.
func (c *Controller) Initialize(ctx context.Context, cfg Config) {
	c.mu.Lock()

	c.bridge.Update(cfg)
	key := cfg.identityKey()
	changed := !c.initOnce || key != c.identity
	c.cfg = cfg

	var fire []func()
	if changed {
		c.teardownLocked()
		c.identity = key
		c.initOnce = true
		c.api = c.newBackend(cfg.Endpoint, cfg.Credential, cfg.Tenant)
		c.store = history.NewStore(c.kv, c.logger)

		// Conversation state never crosses identities. The old identity's
		// cache entries stay untouched; the saved-id resume below is the only
		// route an earlier conversation comes back by.
		c.conversationID = ""
		c.createTime = 0
		c.watermark = 0
		c.takenOver = false
		c.finalized = false
		c.takeoverNotified = false
		c.finalizeNotified = false
		c.pendingAttachments = nil
		c.bridge.ClearConversationContent()
		if f := c.setTypingLocked(false); f != nil {
			fire = append(fire, f)
		}

		if exp, err := auth.ExpiresAt(cfg.Credential); err == nil && exp.Before(c.nowFunc()) {
			c.logger.Warn("credential already expired", "expired_at", exp)
		}

		if saved := history.RecallConversation(ctx, c.kv, cfg.Credential); saved != "" {
			c.resumeLocked(ctx, saved)
		}
		if f := c.notifyMessagesLocked(); f != nil {
			fire = append(fire, f)
		}
	}

	c.mu.Unlock()
	run(fire)

	if c.cb.OnConfigLoaded != nil {
		c.cb.OnConfigLoaded(c.bridge.Static())
	}
}

// resumeLocked restores a remembered conversation: loads its cached
// transcript, and either surfaces the finalized state or reconnects the
// transport. Must be called with mu held.
func (c *Controller) resumeLocked(ctx context.Context, conversationID string) {
	c.conversationID = conversationID
	c.store.Bind(c.cfg.Credential, conversationID)
	c.watermark = c.store.Load(ctx)

	for _, m := range c.store.Messages() {
		switch m.Type {
		case chat.TypeFinalized:
			c.finalized = true
		case chat.TypeTakeover:
			c.takenOver = true
		}
	}

	if c.finalized {
		// Known closed; no transport, and the latch is pre-armed so the
		// host is not re-notified about an old conversation.
		c.finalizeNotified = true
		c.takeoverNotified = c.takenOver
		c.logger.Debug("resumed finalized conversation", "conversation_id", conversationID)
		return
	}
	c.takeoverNotified = c.takenOver

	c.logger.Debug("resuming conversation",
		"conversation_id", conversationID,
		"messages", c.store.Len(),
		"watermark", c.watermark)
	c.connectLocked(ctx)
}

// connectLocked starts the delivery path for the active conversation
// according to the push/poll flags. Must be called with mu held.
func (c *Controller) connectLocked(ctx context.Context) {
	if c.conversationID == "" || c.finalized {
		return
	}

	if c.cfg.PushEnabled {
		c.push = c.newPush(c.cfg.Endpoint, c.cfg.Credential, c.cfg.Tenant, (*pushSink)(c))
		p := c.push
		id := c.conversationID
		go func() {
			if err := p.Connect(ctx, id); err != nil {
				c.logger.Warn("push connect failed", "conversation_id", id, "error", err)
			}
		}()
		return
	}

	if c.cfg.PollEnabled {
		c.poller = poll.New(c.pollOnce, c.applyPoll, c.logger)
		c.poller.Start(ctx)
	}
}

// teardownLocked stops polling and closes the push channel. Must be called
// with mu held.
func (c *Controller) teardownLocked() {
	if c.poller != nil {
		c.poller.Stop()
		c.poller = nil
	}
	if c.push != nil {
		c.push.Close()
		c.push = nil
	}
}

// setTypingLocked updates the typing indicator and queues the callback.
// Returns the callback to run after the lock is released, or nil.
func (c *Controller) setTypingLocked(v bool) func() {
	if c.typing == v {
		return nil
	}
	c.typing = v
	if c.cb.OnTyping == nil {
		return nil
	}
	cb := c.cb.OnTyping
	return func() { cb(v) }
}

// setConnStateLocked records a connection-state transition. Leaving
// Connected always clears the typing indicator.
func (c *Controller) setConnStateLocked(st transport.State) []func() {
	var fire []func()
	if st != transport.StateConnected {
		if f := c.setTypingLocked(false); f != nil {
			fire = append(fire, f)
		}
	}
	if c.connState != st {
		c.connState = st
		if c.cb.OnConnectionState != nil {
			cb := c.cb.OnConnectionState
			fire = append(fire, func() { cb(st) })
		}
	}
	return fire
}

// latchTakeoverLocked arms the takeover latch. The external callback fires
// at most once per conversation.
func (c *Controller) latchTakeoverLocked() []func() {
	c.takenOver = true
	fire := []func(){}
	if f := c.setTypingLocked(false); f != nil {
		fire = append(fire, f)
	}
	if !c.takeoverNotified {
		c.takeoverNotified = true
		if c.cb.OnTakeover != nil {
			cb := c.cb.OnTakeover
			fire = append(fire, func() { cb() })
		}
	}
	return fire
}

// latchFinalizeLocked arms the finalize latch and permanently stops polling.
func (c *Controller) latchFinalizeLocked() []func() {
	c.finalized = true
	if c.poller != nil {
		c.poller.Stop()
	}
	fire := []func(){}
	if f := c.setTypingLocked(false); f != nil {
		fire = append(fire, f)
	}
	if !c.finalizeNotified {
		c.finalizeNotified = true
		if c.cb.OnFinalize != nil {
			cb := c.cb.OnFinalize
			fire = append(fire, func() { cb() })
		}
	}
	return fire
}

// notifyMessagesLocked returns the messages-changed callback for the current
// transcript, to be fired after unlock.
func (c *Controller) notifyMessagesLocked() func() {
	if c.cb.OnMessagesChanged == nil {
		return nil
	}
	cb := c.cb.OnMessagesChanged
	msgs := c.store.Messages()
	return func() { cb(msgs) }
}

// run fires a batch of queued callbacks. Call without holding mu.
func run(fs []func()) {
	for _, f := range fs {
		if f != nil {
			f()
		}
	}
}

// ConversationID returns the active conversation id, or "".
func (c *Controller) ConversationID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conversationID
}

// Messages returns the current transcript in insertion order.
func (c *Controller) Messages() []chat.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.Messages()
}

// State reports the derived conversation flags.
func (c *Controller) State() (takenOver, finalized bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.takenOver, c.finalized
}

// Typing reports the current typing-indicator value.
func (c *Controller) Typing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.typing
}

// ConnectionState reports the current connection state.
func (c *Controller) ConnectionState() transport.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connState
}

// Close tears down the session's transports. The cache is left intact so the
// conversation can resume on the next Initialize.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.teardownLocked()
}
