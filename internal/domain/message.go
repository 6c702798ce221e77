package domain

import "time"

// InboundMessage is a transport message resolved to headers and decoded body.
type InboundMessage struct {
	ID              string
	ThreadID        string
	From            string
	To              []string
	Subject         string
	Body            string
	MessageIDHeader string
	ReceivedAt      time.Time
}

// OutboundMessage is a message handed to the transport for delivery.
// ThreadID, InReplyTo and References are empty for an opening message.
type OutboundMessage struct {
	To         string
	Subject    string
	Body       string
	ThreadID   string
	InReplyTo  string
	References string
}

// SentMessage carries the identifiers the transport assigned to a send.
type SentMessage struct {
	MessageID string
	ThreadID  string
}

// Sender values recorded in the transcript.
const (
	SenderAgent = "agent"
	SenderUser  = "user"
)

// TranscriptEntry is one recorded message of a conversation.
type TranscriptEntry struct {
	ThreadID  string
	MessageID string
	Sender    string
	Subject   string
	Body      string
	Recipient Recipient
	CreatedAt time.Time
}
