// Package dedup records which notification-derived identifiers have already
// been acted upon.
package dedup

import (
	"context"
	"fmt"
	"strings"
)

// Deduplicator answers "have I seen this key" and records new keys.
//
// Claim is the atomic form of Seen followed by Mark: it records key and
// reports true only for the first caller. Release forgets a claimed key so
// a later attempt can claim it again.
type Deduplicator interface {
	Seen(ctx context.Context, key string) (bool, error)
	Mark(ctx context.Context, key string) error
	Claim(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
	Clear(ctx context.Context) error
}

// MessageKey is the key for a raw transport message identifier.
func MessageKey(messageID string) string {
	return "msg:" + strings.TrimSpace(messageID)
}

// StepKey is the key guarding one step transition of one thread.
func StepKey(threadID string, step int) string {
	return fmt.Sprintf("step:%s:%d", strings.TrimSpace(threadID), step)
}
