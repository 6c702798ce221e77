package usecase

import (
	"context"

	"outreach-agent/internal/domain"
)

// Generator produces message bodies. Implementations return recoverable
// errors; callers never retry them indefinitely.
type Generator interface {
	Generate(ctx context.Context, prompt string, history []domain.ChatMessage) (string, error)
}

type Sender interface {
	Send(ctx context.Context, msg domain.OutboundMessage) (domain.SentMessage, error)
}

// ThreadReader returns a thread's messages oldest first.
type ThreadReader interface {
	GetThread(ctx context.Context, threadID string) ([]domain.InboundMessage, error)
}

// Transport is the mail surface the state machine needs.
type Transport interface {
	Sender
	ThreadReader
}

// MailboxReader lists and resolves mailbox changes for the reconciler.
type MailboxReader interface {
	// ListHistory returns ids of messages added after start and the newest
	// history marker the transport reported.
	ListHistory(ctx context.Context, start uint64) ([]string, uint64, error)
	ListRecent(ctx context.Context, max int) ([]string, error)
	GetMessage(ctx context.Context, id string) (domain.InboundMessage, error)
}

// AddressResolver returns the mailbox's own address.
type AddressResolver interface {
	Profile(ctx context.Context) (string, error)
}

type StateStore interface {
	Get(ctx context.Context, threadID string) (*domain.Conversation, error)
	Upsert(ctx context.Context, conv domain.Conversation) error
}

type CheckpointStore interface {
	GetCheckpoint(ctx context.Context, mailbox string) (uint64, bool, error)
	SaveCheckpoint(ctx context.Context, mailbox string, marker uint64) error
}

// TranscriptWriter records exchanged messages. Failures never block a
// transition.
type TranscriptWriter interface {
	AppendMessage(ctx context.Context, entry domain.TranscriptEntry) error
}
