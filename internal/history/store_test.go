// ABOUTME: Tests for the message store: idempotent admission, cache mirroring, best-effort load.
// ABOUTME: Covers feedback matching and key scoping by (credential, conversation).

package history

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternlabs/chatsession/internal/cache"
	"github.com/ternlabs/chatsession/internal/chat"
)

func boundStore(kv cache.KV) *Store {
	s := NewStore(kv, nil)
	s.Bind("cred", "c1")
	return s
}

func TestStoreAppendDedupsByIDAndType(t *testing.T) {
	ctx := context.Background()
	s := boundStore(cache.NewMemory())

	m := chat.Message{MessageID: "m1", CreateTime: 100, Speaker: chat.SpeakerAgent, Text: "hello"}

	admitted := s.Append(ctx, m)
	require.Len(t, admitted, 1)

	// Same (id, type) pair again: not admitted
	admitted = s.Append(ctx, m)
	assert.Empty(t, admitted)
	assert.Equal(t, 1, s.Len())

	// Same id with a different type is a distinct entry
	marker := chat.Message{MessageID: "m1", CreateTime: 100, Type: chat.TypeTakeover}
	admitted = s.Append(ctx, marker)
	require.Len(t, admitted, 1)
	assert.Equal(t, 2, s.Len())
}

func TestStoreAdmitsMessagesWithoutIDs(t *testing.T) {
	ctx := context.Background()
	s := boundStore(cache.NewMemory())

	m := chat.Message{CreateTime: 1, Speaker: chat.SpeakerSpecial, Text: "notice"}
	require.Len(t, s.Append(ctx, m), 1)
	require.Len(t, s.Append(ctx, m), 1) // no key, always admitted
	assert.Equal(t, 2, s.Len())
}

func TestStorePreservesInsertionOrder(t *testing.T) {
	ctx := context.Background()
	s := boundStore(cache.NewMemory())

	s.Append(ctx,
		chat.Message{MessageID: "b", CreateTime: 200, Text: "second"},
		chat.Message{MessageID: "a", CreateTime: 100, Text: "first"},
	)

	msgs := s.Messages()
	require.Len(t, msgs, 2)
	// Insertion order, not create_time order
	assert.Equal(t, "second", msgs[0].Text)
	assert.Equal(t, "first", msgs[1].Text)
}

func TestStoreMirrorsToCache(t *testing.T) {
	ctx := context.Background()
	kv := cache.NewMemory()
	s := boundStore(kv)

	s.Append(ctx, chat.Message{MessageID: "m1", CreateTime: 100, Text: "hi"})

	data, ok, err := kv.Get(ctx, "history:cred:c1")
	require.NoError(t, err)
	require.True(t, ok)

	var msgs []chat.Message
	require.NoError(t, json.Unmarshal(data, &msgs))
	require.Len(t, msgs, 1)
	assert.Equal(t, "hi", msgs[0].Text)
}

func TestStoreUnboundWritesNothing(t *testing.T) {
	ctx := context.Background()
	kv := cache.NewMemory()
	s := NewStore(kv, nil)
	s.Bind("cred", "")

	s.Append(ctx, chat.Message{MessageID: "m1", CreateTime: 100})

	_, ok, err := kv.Get(ctx, "history:cred:")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStoreLoadRecomputesWatermark(t *testing.T) {
	ctx := context.Background()
	kv := cache.NewMemory()

	seed := boundStore(kv)
	seed.Append(ctx,
		chat.Message{MessageID: "m1", CreateTime: 50},
		chat.Message{MessageID: "m2", CreateTime: 300},
		chat.Message{MessageID: "m3", CreateTime: 100},
	)

	s := boundStore(kv)
	watermark := s.Load(ctx)
	assert.Equal(t, int64(300), watermark)
	assert.Equal(t, 3, s.Len())
}

func TestStoreLoadIsBestEffort(t *testing.T) {
	ctx := context.Background()

	t.Run("absent key", func(t *testing.T) {
		s := boundStore(cache.NewMemory())
		assert.Equal(t, int64(0), s.Load(ctx))
		assert.Equal(t, 0, s.Len())
	})

	t.Run("corrupt payload", func(t *testing.T) {
		kv := cache.NewMemory()
		require.NoError(t, kv.Set(ctx, "history:cred:c1", []byte("{not json")))
		s := boundStore(kv)
		assert.Equal(t, int64(0), s.Load(ctx))
		assert.Equal(t, 0, s.Len())
	})

	t.Run("nil kv", func(t *testing.T) {
		s := NewStore(nil, nil)
		s.Bind("cred", "c1")
		assert.Equal(t, int64(0), s.Load(ctx))
	})
}

func TestStoreLoadDedupsCachedEntries(t *testing.T) {
	ctx := context.Background()
	kv := cache.NewMemory()

	// A cached transcript with a duplicated entry (e.g. written by an older
	// client) collapses to one copy on load.
	msgs := []chat.Message{
		{MessageID: "m1", CreateTime: 10},
		{MessageID: "m1", CreateTime: 10},
	}
	data, err := json.Marshal(msgs)
	require.NoError(t, err)
	require.NoError(t, kv.Set(ctx, "history:cred:c1", data))

	s := boundStore(kv)
	s.Load(ctx)
	assert.Equal(t, 1, s.Len())
}

func TestStoreClearRemovesCacheEntry(t *testing.T) {
	ctx := context.Background()
	kv := cache.NewMemory()
	s := boundStore(kv)

	s.Append(ctx, chat.Message{MessageID: "m1", CreateTime: 1})
	s.Clear(ctx)

	assert.Equal(t, 0, s.Len())
	_, ok, err := kv.Get(ctx, "history:cred:c1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStoreKeysAreScoped(t *testing.T) {
	ctx := context.Background()
	kv := cache.NewMemory()

	a := NewStore(kv, nil)
	a.Bind("cred-a", "c1")
	a.Append(ctx, chat.Message{MessageID: "m1", CreateTime: 1, Text: "for a"})

	b := NewStore(kv, nil)
	b.Bind("cred-b", "c1")
	assert.Equal(t, int64(0), b.Load(ctx))
	assert.Equal(t, 0, b.Len())
}

func TestStoreAddFeedback(t *testing.T) {
	ctx := context.Background()
	s := boundStore(cache.NewMemory())

	s.Append(ctx,
		chat.Message{MessageID: "m1", CreateTime: 1, Text: "a"},
		chat.Message{ID: "legacy-1", CreateTime: 2, Text: "b"},
	)

	fb := chat.Feedback{Feedback: "good", Timestamp: "2026-08-25T10:00:00Z"}
	require.True(t, s.AddFeedback(ctx, "m1", fb))

	// Appends, never replaces
	fb2 := chat.Feedback{Feedback: "bad", Timestamp: "2026-08-25T10:01:00Z"}
	require.True(t, s.AddFeedback(ctx, "m1", fb2))

	msgs := s.Messages()
	require.Len(t, msgs[0].Feedback, 2)
	assert.Equal(t, "good", msgs[0].Feedback[0].Feedback)
	assert.Equal(t, "bad", msgs[0].Feedback[1].Feedback)

	// Legacy id fallback
	require.True(t, s.AddFeedback(ctx, "legacy-1", fb))
	assert.Len(t, s.Messages()[1].Feedback, 1)

	assert.False(t, s.AddFeedback(ctx, "missing", fb))
}

func TestRememberRecallForgetConversation(t *testing.T) {
	ctx := context.Background()
	kv := cache.NewMemory()

	assert.Equal(t, "", RecallConversation(ctx, kv, "cred"))

	require.NoError(t, RememberConversation(ctx, kv, "cred", "c42"))
	assert.Equal(t, "c42", RecallConversation(ctx, kv, "cred"))
	assert.Equal(t, "", RecallConversation(ctx, kv, "other-cred"))

	require.NoError(t, ForgetConversation(ctx, kv, "cred"))
	assert.Equal(t, "", RecallConversation(ctx, kv, "cred"))

	// Nil KV is tolerated everywhere
	assert.NoError(t, RememberConversation(ctx, nil, "cred", "c1"))
	assert.Equal(t, "", RecallConversation(ctx, nil, "cred"))
	assert.NoError(t, ForgetConversation(ctx, nil, "cred"))
}
