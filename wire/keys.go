package wire

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
)

// NewIdempotencyKey returns a fresh key for one logical user action. The
// caller must hold onto it across retries of that action and never reuse it
// for a different one.
func NewIdempotencyKey() string {
	return uuid.NewString()
}

// DeriveIdempotencyKey produces a key that is stable for the same session and
// content, for callers that retry from persisted state and cannot carry a
// generated key across process restarts.
func DeriveIdempotencyKey(sessionKey string, content string) string {
	h := xxhash.New()
	h.WriteString(sessionKey)
	h.WriteString("\x00")
	h.WriteString(content)
	return fmt.Sprintf("d-%016x", h.Sum64())
}
