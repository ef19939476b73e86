// ABOUTME: Tests for message dedup keys and speaker normalization.
// ABOUTME: Verifies the (message_id, type) pairing and the legacy id fallback.

package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMessageKey(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
		want string
	}{
		{
			name: "id and explicit type",
			msg:  Message{MessageID: "m1", Type: TypeTakeover},
			want: "m1:takeover",
		},
		{
			name: "missing type defaults to message",
			msg:  Message{MessageID: "m1"},
			want: "m1:message",
		},
		{
			name: "legacy id field",
			msg:  Message{ID: "m2", Type: TypeMessage},
			want: "m2:message",
		},
		{
			name: "message_id wins over legacy id",
			msg:  Message{MessageID: "m1", ID: "m2"},
			want: "m1:message",
		},
		{
			name: "no id means no key",
			msg:  Message{Text: "hello"},
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.msg.Key())
		})
	}
}

func TestMessageKeyDistinguishesMarkerFromText(t *testing.T) {
	text := Message{MessageID: "m1", Type: TypeMessage}
	marker := Message{MessageID: "m1", Type: TypeFinalized}
	assert.NotEqual(t, text.Key(), marker.Key())
}

func TestNormalizeSpeaker(t *testing.T) {
	assert.Equal(t, SpeakerCustomer, NormalizeSpeaker("customer"))
	assert.Equal(t, SpeakerCustomer, NormalizeSpeaker("user"))
	assert.Equal(t, SpeakerAgent, NormalizeSpeaker("agent"))
	// A takeover operator is a human on the agent side, never the customer.
	assert.Equal(t, SpeakerAgent, NormalizeSpeaker("operator"))
	assert.Equal(t, SpeakerAgent, NormalizeSpeaker("bot"))
	assert.Equal(t, SpeakerSpecial, NormalizeSpeaker("special"))
}

func TestIsTerminalType(t *testing.T) {
	assert.True(t, IsTerminalType(TypeTakeover))
	assert.True(t, IsTerminalType(TypeFinalized))
	assert.False(t, IsTerminalType(TypeMessage))
	assert.False(t, IsTerminalType(""))
}
