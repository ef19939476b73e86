// ABOUTME: Outbound operations: send message, upload file, add feedback.
// ABOUTME: Failure classification decides between silent reset, in-band notice and the error callback.

package session

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/ternlabs/chatsession/internal/api"
	"github.com/ternlabs/chatsession/internal/chat"
)

// SendMessage records the customer message locally, sends it to the backend
// and applies the recovery policy on failure. The typing indicator is raised
// immediately unless an operator has taken over, and is cleared on every
// failure branch.
func (c *Controller) SendMessage(ctx context.Context, text string, attachments []chat.Attachment, extra map[string]string, captchaToken string) error {
	c.mu.Lock()
	if c.conversationID == "" {
		c.mu.Unlock()
		return ErrNotInitialized
	}

	conversationID := c.conversationID
	staged := c.matchPendingLocked(attachments)

	msg := chat.Message{
		MessageID:   uuid.New().String(),
		CreateTime:  c.nowFunc().Unix(),
		Speaker:     chat.SpeakerCustomer,
		Text:        text,
		Attachments: staged,
	}

	var fire []func()
	if !c.takenOver {
		if f := c.setTypingLocked(true); f != nil {
			fire = append(fire, f)
		}
	}
	// The watermark tracks server-observed timestamps only. A server echo of
	// this message is caught by the store's (message_id, type) dedup, so the
	// locally stamped CreateTime never touches the watermark.
	c.store.Append(ctx, msg)
	fire = append(fire, c.notifyMessagesLocked())
	b := c.api
	c.mu.Unlock()
	run(fire)

	err := b.UpdateConversation(ctx, conversationID, []chat.Message{msg}, extra, captchaToken)
	if err == nil {
		c.mu.Lock()
		c.consumePendingLocked(staged)
		c.mu.Unlock()
		return nil
	}
	return c.handleSendFailure(ctx, err)
}

// handleSendFailure applies the error taxonomy to a failed send.
func (c *Controller) handleSendFailure(ctx context.Context, err error) error {
	switch {
	case api.IsTokenExpired(err):
		// Expired credential means "start fresh", not a user-facing failure.
		c.resetSession(ctx)
		return nil

	case api.IsNetwork(err):
		// Degraded state is rendered in-band as a chat bubble; the external
		// error callback stays quiet to avoid doubled error UI.
		c.mu.Lock()
		notice := c.bridge.UnavailableNotice(c.nowFunc().Unix())
		c.store.Append(ctx, notice)
		fire := []func(){c.notifyMessagesLocked()}
		if f := c.setTypingLocked(false); f != nil {
			fire = append(fire, f)
		}
		c.mu.Unlock()
		run(fire)
		return nil

	default:
		c.mu.Lock()
		fire := []func(){}
		if f := c.setTypingLocked(false); f != nil {
			fire = append(fire, f)
		}
		c.mu.Unlock()
		run(fire)

		// A cancelled request is not surfaced; everything else goes to the
		// host verbatim.
		if c.cb.OnError != nil && !errors.Is(err, context.Canceled) {
			c.cb.OnError(err)
		}
		return err
	}
}

// UploadFile uploads a file for the active conversation and stages the
// resulting attachment for a later SendMessage. It never panics and returns
// nil on any failure; errors other than token expiry go to the error
// callback.
func (c *Controller) UploadFile(ctx context.Context, name, contentType string, size int64, r io.Reader) *chat.Attachment {
	c.mu.Lock()
	if c.conversationID == "" {
		c.mu.Unlock()
		c.logger.Warn("upload ignored: no active conversation", "name", name)
		return nil
	}
	conversationID := c.conversationID
	b := c.api
	c.mu.Unlock()

	resp, err := b.UploadFile(ctx, conversationID, name, contentType, r)
	if err != nil {
		if api.IsTokenExpired(err) {
			c.resetSession(ctx)
			return nil
		}
		c.logger.Warn("upload failed", "name", name, "error", err)
		if c.cb.OnError != nil && !errors.Is(err, context.Canceled) {
			c.cb.OnError(err)
		}
		return nil
	}

	att := chat.Attachment{
		Name:   name,
		Type:   contentType,
		Size:   size,
		URL:    resp.FileURL,
		FileID: resp.FileID,
	}

	c.mu.Lock()
	c.pendingAttachments = append(c.pendingAttachments, att)
	c.mu.Unlock()

	c.logger.Debug("file uploaded", "name", name, "file_id", resp.FileID)
	return &att
}

// AddFeedback appends a thumbs up/down record to a message. It no-ops with a
// logged diagnostic when the session has no conversation or the message id is
// empty; it never panics.
func (c *Controller) AddFeedback(ctx context.Context, messageID, value, feedbackMessage string) {
	c.mu.Lock()
	if c.conversationID == "" {
		c.mu.Unlock()
		c.logger.Warn("feedback ignored: no active conversation")
		return
	}
	if messageID == "" {
		c.mu.Unlock()
		c.logger.Warn("feedback ignored: empty message id")
		return
	}
	b := c.api
	c.mu.Unlock()

	if err := b.AddFeedback(ctx, messageID, value, feedbackMessage); err != nil {
		if api.IsTokenExpired(err) {
			c.resetSession(ctx)
			return
		}
		c.logger.Warn("feedback rejected", "message_id", messageID, "error", err)
		return
	}

	fb := chat.Feedback{
		Feedback:  value,
		Message:   feedbackMessage,
		Timestamp: c.nowFunc().UTC().Format(time.RFC3339),
	}

	c.mu.Lock()
	var fire []func()
	if c.store.AddFeedback(ctx, messageID, fb) {
		fire = append(fire, c.notifyMessagesLocked())
	} else {
		c.logger.Warn("feedback target not found locally", "message_id", messageID)
	}
	c.mu.Unlock()
	run(fire)
}

// matchPendingLocked resolves the host-supplied attachment list against the
// staged uploads, matching by name and size so the send carries the uploaded
// URL and file id. Must be called with mu held.
func (c *Controller) matchPendingLocked(requested []chat.Attachment) []chat.Attachment {
	if len(requested) == 0 {
		return nil
	}
	out := make([]chat.Attachment, 0, len(requested))
	for _, req := range requested {
		matched := req
		for _, p := range c.pendingAttachments {
			if p.Name == req.Name && p.Size == req.Size {
				matched = p
				break
			}
		}
		out = append(out, matched)
	}
	return out
}

// consumePendingLocked removes successfully sent attachments from the staged
// list. Must be called with mu held.
func (c *Controller) consumePendingLocked(sent []chat.Attachment) {
	if len(sent) == 0 {
		return
	}
	remaining := c.pendingAttachments[:0]
	for _, p := range c.pendingAttachments {
		used := false
		for _, s := range sent {
			if p.Name == s.Name && p.Size == s.Size {
				used = true
				break
			}
		}
		if !used {
			remaining = append(remaining, p)
		}
	}
	c.pendingAttachments = remaining
}
