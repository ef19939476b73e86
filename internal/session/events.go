// ABOUTME: Inbound event handling: the push sink and the poll apply path.
// ABOUTME: Both delivery modes funnel through the history reconciler so dedup never diverges.

package session

import (
	"context"

	"github.com/ternlabs/chatsession/internal/api"
	"github.com/ternlabs/chatsession/internal/chat"
	"github.com/ternlabs/chatsession/internal/history"
	"github.com/ternlabs/chatsession/internal/transport"
)

// pushSink adapts the Controller to transport.Events without exposing the
// handler methods on the public API.
type pushSink Controller

func (s *pushSink) HandleMessages(msgs []chat.Message) {
	(*Controller)(s).handlePushMessages(msgs)
}

func (s *pushSink) HandleTakeover() {
	c := (*Controller)(s)
	c.mu.Lock()
	fire := c.latchTakeoverLocked()
	c.mu.Unlock()
	run(fire)
}

func (s *pushSink) HandleFinalize() {
	c := (*Controller)(s)
	c.mu.Lock()
	fire := c.latchFinalizeLocked()
	c.mu.Unlock()
	run(fire)
}

func (s *pushSink) HandleConnectionState(st transport.State) {
	c := (*Controller)(s)
	c.mu.Lock()
	fire := c.setConnStateLocked(st)
	c.mu.Unlock()
	run(fire)
}

// handlePushMessages admits a pushed batch through the shared reconciler.
func (c *Controller) handlePushMessages(msgs []chat.Message) {
	// Persistence mirrors use a detached context; push delivery outlives any
	// single request.
	ctx := context.Background()

	c.mu.Lock()
	res := history.ReconcilePush(msgs, c.watermark, c.nowFunc())
	admitted := c.store.Append(ctx, res.Candidates...)
	c.watermark = res.Watermark

	var fire []func()
	if anyAgentMessage(admitted) {
		if f := c.setTypingLocked(false); f != nil {
			fire = append(fire, f)
		}
	}
	if len(admitted) > 0 {
		fire = append(fire, c.notifyMessagesLocked())
	}
	if res.Takeover {
		fire = append(fire, c.latchTakeoverLocked()...)
	}
	if res.Finalized {
		fire = append(fire, c.latchFinalizeLocked()...)
	}
	c.mu.Unlock()
	run(fire)
}

// pollOnce is the PollFunc handed to the heartbeat poller.
func (c *Controller) pollOnce(ctx context.Context) (*api.PollResponse, error) {
	c.mu.Lock()
	conversationID := c.conversationID
	b := c.api
	c.mu.Unlock()

	if conversationID == "" {
		return &api.PollResponse{Status: chat.StatusInProgress}, nil
	}
	return b.PollInProgress(ctx, conversationID)
}

// applyPoll merges a successful poll result. Returns true when the
// conversation is finalized so the poller stops permanently.
func (c *Controller) applyPoll(res *api.PollResponse) bool {
	ctx := context.Background()

	c.mu.Lock()
	r := history.ReconcilePoll(res.Messages, c.watermark)
	admitted := c.store.Append(ctx, r.Candidates...)
	c.watermark = r.Watermark

	var fire []func()
	if anyAgentMessage(admitted) {
		if f := c.setTypingLocked(false); f != nil {
			fire = append(fire, f)
		}
	}
	if len(admitted) > 0 {
		fire = append(fire, c.notifyMessagesLocked())
	}

	// The status field alone can signal a terminal condition even when the
	// batch carried no marker message; both routes share the latches.
	if r.Takeover || res.Status == chat.StatusTakeover {
		fire = append(fire, c.latchTakeoverLocked()...)
	}
	if r.Finalized || res.Status == chat.StatusFinalized {
		fire = append(fire, c.latchFinalizeLocked()...)
	}
	finalized := c.finalized
	c.mu.Unlock()
	run(fire)

	return finalized
}

func anyAgentMessage(msgs []chat.Message) bool {
	for _, m := range msgs {
		if m.Speaker == chat.SpeakerAgent && !chat.IsTerminalType(m.Type) {
			return true
		}
	}
	return false
}
