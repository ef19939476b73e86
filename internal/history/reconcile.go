// ABOUTME: Merges pushed/polled message batches against the high-watermark.
// ABOUTME: Both delivery paths funnel through here so dedup and terminal detection never diverge.

package history

import (
	"time"

	"github.com/ternlabs/chatsession/internal/chat"
)

// Synthetic display text for terminal-state marker messages.
const (
	TakeoverNotice  = "A support operator has joined the conversation."
	FinalizedNotice = "This conversation has been closed."
)

// Result is the outcome of reconciling one batch.
type Result struct {
	// Candidates are the normalized messages that passed admission filtering.
	// The caller appends them to the Store, which applies (id, type) dedup.
	Candidates []chat.Message

	// Watermark is the new high-watermark: the max of the input watermark and
	// the create_time of every candidate.
	Watermark int64

	// Takeover/Finalized report terminal markers seen in the batch. The
	// caller owns the one-shot latches; these fire on every occurrence.
	Takeover  bool
	Finalized bool
}

// ReconcilePoll filters and normalizes a polled batch. Only messages with a
// finite, non-zero create_time at or above the watermark are admitted;
// everything below has been seen in a previous poll or the cached transcript.
func ReconcilePoll(batch []chat.Message, watermark int64) Result {
	res := Result{Watermark: watermark}
	for _, m := range batch {
		if m.CreateTime <= 0 {
			continue
		}
		if m.CreateTime < watermark {
			continue
		}
		res.add(normalize(m))
	}
	return res
}

// ReconcilePush normalizes a pushed batch. Push delivery is not filtered by
// the watermark — the socket only carries new messages — but it still
// advances it, and messages arriving without a timestamp are stamped with
// the current time so later polls do not replay them.
func ReconcilePush(batch []chat.Message, watermark int64, now time.Time) Result {
	res := Result{Watermark: watermark}
	for _, m := range batch {
		if m.CreateTime <= 0 {
			m.CreateTime = now.Unix()
		}
		res.add(normalize(m))
	}
	return res
}

func (r *Result) add(m chat.Message) {
	switch m.Type {
	case chat.TypeTakeover:
		r.Takeover = true
	case chat.TypeFinalized:
		r.Finalized = true
	}
	r.Candidates = append(r.Candidates, m)
	if m.CreateTime > r.Watermark {
		r.Watermark = m.CreateTime
	}
}

// normalize maps speakers onto the known set and gives terminal markers
// their synthetic display text.
func normalize(m chat.Message) chat.Message {
	m.Speaker = chat.NormalizeSpeaker(m.Speaker)
	if chat.IsTerminalType(m.Type) {
		m.Speaker = chat.SpeakerSpecial
		if m.Text == "" {
			if m.Type == chat.TypeTakeover {
				m.Text = TakeoverNotice
			} else {
				m.Text = FinalizedNotice
			}
		}
	}
	return m
}
