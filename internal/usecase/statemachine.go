package usecase

import (
	"context"
	"errors"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"outreach-agent/internal/domain"
	"outreach-agent/internal/observability"
)

const (
	DefaultMaxSteps         = 4
	DefaultGenerateTimeout  = 30 * time.Second
	DefaultTransportTimeout = 15 * time.Second
)

// MachineConfig tunes the state machine. Zero values take the defaults.
type MachineConfig struct {
	MaxSteps         int
	GenerateTimeout  time.Duration
	TransportTimeout time.Duration
	Prompts          Prompts
	// AutomatedPatterns excludes senders from reply targeting. Empty uses
	// DefaultAutomatedPatterns.
	AutomatedPatterns []string
	// Transcript is optional.
	Transcript TranscriptWriter
	Logger     *slog.Logger
}

func (c MachineConfig) withDefaults() MachineConfig {
	if c.MaxSteps <= 0 {
		c.MaxSteps = DefaultMaxSteps
	}
	if c.GenerateTimeout <= 0 {
		c.GenerateTimeout = DefaultGenerateTimeout
	}
	if c.TransportTimeout <= 0 {
		c.TransportTimeout = DefaultTransportTimeout
	}
	if len(c.AutomatedPatterns) == 0 {
		c.AutomatedPatterns = DefaultAutomatedPatterns
	}
	c.Prompts = c.Prompts.WithDefaults()
	return c
}

// Transition describes a committed step change.
type Transition struct {
	ThreadID      string
	From          int
	To            int
	Status        domain.Status
	SentMessageID string
}

// StateMachine advances one conversation by one step per genuine reply.
type StateMachine struct {
	state     StateStore
	transport Transport
	generator Generator
	address   *OwnAddress
	cfg       MachineConfig
	now       func() time.Time
}

func NewStateMachine(state StateStore, transport Transport, generator Generator, address *OwnAddress, cfg MachineConfig) (*StateMachine, error) {
	if state == nil {
		return nil, errors.New("usecase: state store must not be nil")
	}
	if transport == nil {
		return nil, errors.New("usecase: transport must not be nil")
	}
	if generator == nil {
		return nil, errors.New("usecase: generator must not be nil")
	}
	if address == nil {
		return nil, errors.New("usecase: own address must not be nil")
	}
	return &StateMachine{
		state:     state,
		transport: transport,
		generator: generator,
		address:   address,
		cfg:       cfg.withDefaults(),
		now:       time.Now,
	}, nil
}

func (m *StateMachine) MaxSteps() int { return m.cfg.MaxSteps }

// Advance moves threadID from expectedStep to expectedStep+1. The persisted
// step is re-read first; any mismatch aborts before a message is sent, as
// does an incoming reply the conversation has already applied. The new step
// is committed only after the send succeeds.
func (m *StateMachine) Advance(ctx context.Context, threadID string, expectedStep int, incoming *domain.InboundMessage) (Transition, error) {
	logger := observability.LoggerFromContext(ctx, m.cfg.Logger).With("thread_id", threadID, "expected_step", expectedStep)
	k := m.cfg.MaxSteps

	if strings.TrimSpace(threadID) == "" {
		return Transition{}, newError(ErrorInvalidInput, "empty_thread_id", nil)
	}
	conv, err := m.state.Get(ctx, threadID)
	if err != nil {
		return Transition{}, newError(ErrorInternal, "state_read_error", err)
	}
	if conv == nil {
		return Transition{}, newError(ErrorNotTracked, "conversation_not_found", nil)
	}
	if conv.Step < 0 || conv.Step > k {
		logger.Error("conversation step out of range", "step", conv.Step, "max_steps", k)
		return Transition{}, newError(ErrorCorruptState, "step_out_of_range", nil)
	}
	if conv.Step != expectedStep {
		return Transition{}, newError(ErrorStaleStep, "step_mismatch", nil)
	}
	if conv.Step == k {
		return Transition{}, newError(ErrorCompleted, "conversation_completed", nil)
	}
	if incoming != nil && conv.Applied(*incoming) {
		logger.Debug("reply already applied", "message_id", incoming.ID, "last_inbound_id", conv.LastInboundID)
		return Transition{}, newError(ErrorStaleStep, "reply_already_applied", nil)
	}

	if incoming != nil {
		m.record(ctx, logger, domain.TranscriptEntry{
			ThreadID:  threadID,
			MessageID: incoming.ID,
			Sender:    domain.SenderUser,
			Subject:   incoming.Subject,
			Body:      incoming.Body,
			Recipient: conv.Recipient,
			CreatedAt: incoming.ReceivedAt,
		})
	}

	if expectedStep == k-1 {
		next := withInbound(domain.Conversation{ThreadID: threadID, Step: k, Status: domain.StatusCompleted, UpdatedAt: m.now().UTC()}, incoming)
		if err := m.state.Upsert(ctx, next); err != nil {
			return Transition{}, newError(ErrorInternal, "state_write_error", err)
		}
		logger.Info("conversation completed", "step", k)
		return Transition{ThreadID: threadID, From: expectedStep, To: k, Status: domain.StatusCompleted}, nil
	}

	return m.sendFollowup(ctx, logger, *conv, incoming)
}

func (m *StateMachine) sendFollowup(ctx context.Context, logger *slog.Logger, conv domain.Conversation, incoming *domain.InboundMessage) (Transition, error) {
	own, err := m.address.Get(ctx)
	if err != nil {
		return Transition{}, newError(ErrorUpstream, "own_address_error", err)
	}

	tctx, cancel := context.WithTimeout(ctx, m.cfg.TransportTimeout)
	thread, err := m.transport.GetThread(tctx, conv.ThreadID)
	cancel()
	if err != nil {
		if incoming == nil {
			return Transition{}, newError(ErrorUpstream, upstreamReason("get_thread", err), err)
		}
		logger.Warn("thread fetch failed, replying to incoming message", "err", err)
		thread = nil
	}

	target := latestGenuine(thread, own, m.cfg.AutomatedPatterns)
	if target == nil {
		target = incoming
	}
	if target == nil {
		return Transition{}, newError(ErrorInvalidInput, "no_reply_target", nil)
	}

	recipient := conv.Recipient
	if recipient.Email == "" {
		recipient.Email = senderAddress(target.From)
	}

	next := conv.Step + 1
	history := append([]domain.ChatMessage{{Role: domain.RoleSystem, Content: m.cfg.Prompts.System}}, historyFromThread(thread, own)...)
	prompt := m.cfg.Prompts.followup(next, recipient, target.Body)

	gctx, cancel := context.WithTimeout(ctx, m.cfg.GenerateTimeout)
	body, err := m.generator.Generate(gctx, prompt, history)
	cancel()
	if err != nil {
		return Transition{}, newError(ErrorUpstream, upstreamReason("generate", err), err)
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return Transition{}, newError(ErrorUpstream, "generate_empty", nil)
	}

	out := domain.OutboundMessage{
		To:         target.From,
		Subject:    replySubject(target.Subject),
		Body:       body,
		ThreadID:   conv.ThreadID,
		InReplyTo:  target.MessageIDHeader,
		References: target.MessageIDHeader,
	}
	sctx, cancel := context.WithTimeout(ctx, m.cfg.TransportTimeout)
	sent, err := m.transport.Send(sctx, out)
	cancel()
	if err != nil {
		return Transition{}, newError(ErrorUpstream, upstreamReason("send", err), err)
	}

	status := domain.FollowupStatus(next)
	commit := withInbound(domain.Conversation{ThreadID: conv.ThreadID, Step: next, Status: status, UpdatedAt: m.now().UTC()}, incoming)
	if err := m.state.Upsert(ctx, commit); err != nil {
		logger.Error("follow-up sent but state commit failed", "message_id", sent.MessageID, "err", err)
		return Transition{}, newError(ErrorInternal, "state_write_error", err)
	}

	m.record(ctx, logger, domain.TranscriptEntry{
		ThreadID:  conv.ThreadID,
		MessageID: sent.MessageID,
		Sender:    domain.SenderAgent,
		Subject:   out.Subject,
		Body:      body,
		Recipient: recipient,
		CreatedAt: m.now().UTC(),
	})
	logger.Info("follow-up sent", "step", next, "message_id", sent.MessageID)
	return Transition{ThreadID: conv.ThreadID, From: conv.Step, To: next, Status: status, SentMessageID: sent.MessageID}, nil
}

func (m *StateMachine) record(ctx context.Context, logger *slog.Logger, entry domain.TranscriptEntry) {
	if m.cfg.Transcript == nil || entry.MessageID == "" {
		return
	}
	if err := m.cfg.Transcript.AppendMessage(ctx, entry); err != nil {
		logger.Warn("transcript write failed", "message_id", entry.MessageID, "err", err)
	}
}

// latestGenuine returns the newest thread message that classifies as a
// genuine reply; own mail, automated senders and mis-routed copies are
// never reply targets.
func latestGenuine(thread []domain.InboundMessage, own string, automated []string) *domain.InboundMessage {
	for i := len(thread) - 1; i >= 0; i-- {
		if classify(thread[i], own, automated) != Genuine {
			continue
		}
		msg := thread[i]
		return &msg
	}
	return nil
}

func withInbound(conv domain.Conversation, incoming *domain.InboundMessage) domain.Conversation {
	if incoming != nil {
		conv.LastInboundID = incoming.ID
		conv.LastInboundAt = incoming.ReceivedAt
	}
	return conv
}

func replySubject(subject string) string {
	subject = strings.TrimSpace(subject)
	if strings.HasPrefix(strings.ToLower(subject), "re:") {
		return subject
	}
	if subject == "" {
		return "Re:"
	}
	return "Re: " + subject
}

// senderAddress extracts the bare address from a From header value.
func senderAddress(from string) string {
	addr, err := mail.ParseAddress(from)
	if err != nil {
		return strings.TrimSpace(from)
	}
	return addr.Address
}
