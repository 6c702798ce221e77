package domain

import (
	"fmt"
	"time"
)

// Status tags the last committed action of a conversation.
type Status string

const (
	StatusSentInitial Status = "sent_initial"
	StatusCompleted   Status = "completed"
)

// FollowupStatus returns the status committed after the n-th follow-up send.
func FollowupStatus(n int) Status {
	return Status(fmt.Sprintf("sent_followup_%d", n))
}

// Recipient identifies the external party of a conversation.
type Recipient struct {
	Email string
	Name  string
}

// Conversation is the persisted workflow state of one email thread.
type Conversation struct {
	ThreadID  string
	Step      int
	Status    Status
	Recipient Recipient
	CreatedAt time.Time
	UpdatedAt time.Time
	// LastInboundID and LastInboundAt identify the reply that drove the
	// last transition. Both are empty before the first reply.
	LastInboundID string
	LastInboundAt time.Time
}

// IsTerminal reports whether the conversation reached the terminal step.
func (c Conversation) IsTerminal(maxSteps int) bool {
	return c.Step >= maxSteps
}

// Applied reports whether msg already drove a transition: it is the last
// applied reply or was received no later than it.
func (c Conversation) Applied(msg InboundMessage) bool {
	if c.LastInboundID != "" && msg.ID == c.LastInboundID {
		return true
	}
	if c.LastInboundAt.IsZero() || msg.ReceivedAt.IsZero() {
		return false
	}
	return !msg.ReceivedAt.After(c.LastInboundAt)
}
