package repository

import (
	"context"
	"time"

	"outreach-agent/internal/domain"
)

// StateStore persists the workflow state of each conversation thread.
type StateStore interface {
	// Get returns nil, nil when the thread is not tracked.
	Get(ctx context.Context, threadID string) (*domain.Conversation, error)
	// Upsert writes step, status and updated_at. Recipient and created_at
	// are only written when present and never overwritten once set.
	Upsert(ctx context.Context, conv domain.Conversation) error
}

// CheckpointStore keeps the last processed history marker per mailbox.
type CheckpointStore interface {
	GetCheckpoint(ctx context.Context, mailbox string) (uint64, bool, error)
	// SaveCheckpoint only moves the marker forward; an older marker is a no-op.
	SaveCheckpoint(ctx context.Context, mailbox string, marker uint64) error
}

// TranscriptStore records the messages exchanged on each thread.
type TranscriptStore interface {
	AppendMessage(ctx context.Context, entry domain.TranscriptEntry) error
	ListTranscript(ctx context.Context, threadID string, limit int) ([]domain.TranscriptEntry, error)
}

// Store is the full record store used by the entry points.
type Store interface {
	StateStore
	CheckpointStore
	TranscriptStore
	Close() error
}

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

// lastN returns the trailing n entries; n <= 0 keeps everything.
func lastN(entries []domain.TranscriptEntry, n int) []domain.TranscriptEntry {
	if n <= 0 || len(entries) <= n {
		return entries
	}
	return entries[len(entries)-n:]
}
