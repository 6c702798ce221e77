package repository

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"outreach-agent/internal/domain"
)

// MemoryStore keeps all records in process memory. It is used for tests and
// for single-process runs with STORE_DSN=memory://.
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]domain.Conversation
	checkpoints   map[string]uint64
	transcripts   map[string]map[string]domain.TranscriptEntry
	now           func() time.Time
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[string]domain.Conversation),
		checkpoints:   make(map[string]uint64),
		transcripts:   make(map[string]map[string]domain.TranscriptEntry),
		now:           time.Now,
	}
}

func (m *MemoryStore) Get(_ context.Context, threadID string) (*domain.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conv, ok := m.conversations[threadID]
	if !ok {
		return nil, nil
	}
	return &conv, nil
}

func (m *MemoryStore) Upsert(_ context.Context, conv domain.Conversation) error {
	if strings.TrimSpace(conv.ThreadID) == "" {
		return errors.New("repository: Upsert: thread id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if conv.UpdatedAt.IsZero() {
		conv.UpdatedAt = m.now().UTC()
	}
	existing, ok := m.conversations[conv.ThreadID]
	switch {
	case ok:
		conv.CreatedAt = existing.CreatedAt
		if existing.Recipient.Email != "" {
			conv.Recipient = existing.Recipient
		}
		if conv.LastInboundID == "" {
			conv.LastInboundID, conv.LastInboundAt = existing.LastInboundID, existing.LastInboundAt
		}
	case conv.CreatedAt.IsZero():
		conv.CreatedAt = conv.UpdatedAt
	}
	m.conversations[conv.ThreadID] = conv
	return nil
}

func (m *MemoryStore) GetCheckpoint(_ context.Context, mailbox string) (uint64, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	marker, ok := m.checkpoints[normalizeMailbox(mailbox)]
	return marker, ok, nil
}

func (m *MemoryStore) SaveCheckpoint(_ context.Context, mailbox string, marker uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := normalizeMailbox(mailbox)
	if current, ok := m.checkpoints[key]; ok && current >= marker {
		return nil
	}
	m.checkpoints[key] = marker
	return nil
}

func (m *MemoryStore) AppendMessage(_ context.Context, entry domain.TranscriptEntry) error {
	if entry.ThreadID == "" || entry.MessageID == "" {
		return errors.New("repository: AppendMessage: thread id and message id are required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = m.now().UTC()
	}
	thread, ok := m.transcripts[entry.ThreadID]
	if !ok {
		thread = make(map[string]domain.TranscriptEntry)
		m.transcripts[entry.ThreadID] = thread
	}
	thread[entry.MessageID] = entry
	return nil
}

func (m *MemoryStore) ListTranscript(_ context.Context, threadID string, limit int) ([]domain.TranscriptEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	thread := m.transcripts[threadID]
	entries := make([]domain.TranscriptEntry, 0, len(thread))
	for _, e := range thread {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].MessageID < entries[j].MessageID
		}
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})
	return lastN(entries, limit), nil
}

func (m *MemoryStore) Close() error { return nil }

func normalizeMailbox(mailbox string) string {
	return strings.ToLower(strings.TrimSpace(mailbox))
}
