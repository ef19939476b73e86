// ABOUTME: Conversation lifecycle: start, reset, and the silent full reset on token expiry.
// ABOUTME: Start fully clears local state before touching the backend, so repeated calls are safe.

package session

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/ternlabs/chatsession/internal/chat"
	"github.com/ternlabs/chatsession/internal/history"
	"github.com/ternlabs/chatsession/internal/transport"
)

// ErrNotInitialized is returned by operations that need an active session.
var ErrNotInitialized = errors.New("session not initialized")

// StartConversation clears all local state and opens a fresh conversation.
// On failure no partial conversation id is left behind: the state machine
// returns to NoConversation and the error surfaces via the error callback.
func (c *Controller) StartConversation(ctx context.Context, captchaToken string) (string, error) {
	c.mu.Lock()
	if !c.initOnce {
		c.mu.Unlock()
		return "", ErrNotInitialized
	}

	fire := c.clearConversationLocked(ctx)
	fire = append(fire, c.setConnStateLocked(transport.StateConnecting)...)
	b := c.api
	meta := c.cfg.Metadata
	credential := c.cfg.Credential
	c.mu.Unlock()
	run(fire)

	resp, err := b.StartConversation(ctx, meta, captchaToken)
	if err != nil {
		c.mu.Lock()
		fire = c.setConnStateLocked(transport.StateDisconnected)
		c.mu.Unlock()
		run(fire)

		c.logger.Warn("conversation start failed", "error", err)
		if c.cb.OnError != nil {
			c.cb.OnError(err)
		}
		return "", err
	}

	c.mu.Lock()
	c.conversationID = resp.ConversationID
	c.createTime = c.nowFunc().Unix()
	c.store.Bind(credential, resp.ConversationID)
	if err := history.RememberConversation(ctx, c.kv, credential, resp.ConversationID); err != nil {
		c.logger.Debug("failed to remember conversation id", "error", err)
	}

	c.bridge.SetConversationContent(resp.WelcomeMessage, resp.PossibleQueries)

	fire = nil
	if resp.WelcomeMessage != "" {
		c.store.Append(ctx, chat.Message{
			MessageID:  uuid.New().String(),
			CreateTime: c.createTime,
			Speaker:    chat.SpeakerAgent,
			Text:       resp.WelcomeMessage,
		})
		fire = append(fire, c.notifyMessagesLocked())
	}
	fire = append(fire, c.setConnStateLocked(transport.StateConnected)...)
	c.connectLocked(ctx)
	c.mu.Unlock()
	run(fire)

	if c.cb.OnConfigLoaded != nil {
		c.cb.OnConfigLoaded(c.bridge.Static())
	}

	c.logger.Info("conversation started", "conversation_id", resp.ConversationID)
	return resp.ConversationID, nil
}

// ResetConversation abandons the current conversation, including its
// takeover/finalize flags and any backoff polling, and starts a new one.
func (c *Controller) ResetConversation(ctx context.Context, captchaToken string) (string, error) {
	return c.StartConversation(ctx, captchaToken)
}

// clearConversationLocked wipes every trace of the current conversation:
// transports, transcript, persisted cache entries, latches, watermark,
// staged attachments and conversation-scoped display content. Must be called
// with mu held; returns callbacks to fire after unlock.
func (c *Controller) clearConversationLocked(ctx context.Context) []func() {
	c.teardownLocked()

	c.store.Clear(ctx)
	if err := history.ForgetConversation(ctx, c.kv, c.cfg.Credential); err != nil {
		c.logger.Debug("failed to forget conversation id", "error", err)
	}
	c.store.Bind(c.cfg.Credential, "")

	c.conversationID = ""
	c.createTime = 0
	c.watermark = 0
	c.takenOver = false
	c.finalized = false
	c.takeoverNotified = false
	c.finalizeNotified = false
	c.pendingAttachments = nil
	c.bridge.ClearConversationContent()

	var fire []func()
	if f := c.setTypingLocked(false); f != nil {
		fire = append(fire, f)
	}
	if f := c.notifyMessagesLocked(); f != nil {
		fire = append(fire, f)
	}
	return fire
}

// resetSession is the silent recovery path for an expired credential: the
// session returns to its pre-conversation initial state, the persisted cache
// entries are removed, and no error reaches the host.
func (c *Controller) resetSession(ctx context.Context) {
	c.mu.Lock()
	fire := c.clearConversationLocked(ctx)
	fire = append(fire, c.setConnStateLocked(transport.StateDisconnected)...)
	c.mu.Unlock()
	run(fire)

	c.logger.Info("session reset after credential expiry")
}
