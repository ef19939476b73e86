// ABOUTME: Remembers the active conversation id per credential for session resumption.
// ABOUTME: Single KV entry, best-effort like the transcript mirror.

package history

import (
	"context"
	"fmt"

	"github.com/ternlabs/chatsession/internal/cache"
)

func conversationKey(credential string) string {
	return fmt.Sprintf("conversation:%s", credential)
}

// RememberConversation stores the active conversation id for the credential.
// Errors are returned for logging but callers treat them as advisory.
func RememberConversation(ctx context.Context, kv cache.KV, credential, conversationID string) error {
	if kv == nil {
		return nil
	}
	return kv.Set(ctx, conversationKey(credential), []byte(conversationID))
}

// RecallConversation returns the remembered conversation id, or "" when none
// is stored or the read fails.
func RecallConversation(ctx context.Context, kv cache.KV, credential string) string {
	if kv == nil {
		return ""
	}
	data, ok, err := kv.Get(ctx, conversationKey(credential))
	if err != nil || !ok {
		return ""
	}
	return string(data)
}

// ForgetConversation removes the remembered conversation id.
func ForgetConversation(ctx context.Context, kv cache.KV, credential string) error {
	if kv == nil {
		return nil
	}
	return kv.Delete(ctx, conversationKey(credential))
}
