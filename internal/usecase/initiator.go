package usecase

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"outreach-agent/internal/domain"
	"outreach-agent/internal/observability"
)

const (
	defaultSendAttempts = 3
	defaultSendBackoff  = time.Second
)

type StartInput struct {
	Recipient domain.Recipient
	Subject   string
	// Body is generated from the opening prompt when empty.
	Body string
}

type StartOutput struct {
	ThreadID  string
	MessageID string
}

// InitiatorConfig tunes the Initiator. Zero values take the defaults.
type InitiatorConfig struct {
	GenerateTimeout  time.Duration
	TransportTimeout time.Duration
	SendAttempts     int
	SendBackoff      time.Duration
	Prompts          Prompts
	Transcript       TranscriptWriter
	Logger           *slog.Logger
}

// Initiator sends opening messages and starts tracking their threads.
type Initiator struct {
	state     StateStore
	sender    Sender
	generator Generator
	cfg       InitiatorConfig
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error
}

// NewInitiator builds an Initiator. generator may be nil when every
// StartInput carries a body.
func NewInitiator(state StateStore, sender Sender, generator Generator, cfg InitiatorConfig) (*Initiator, error) {
	if state == nil {
		return nil, errors.New("usecase: state store must not be nil")
	}
	if sender == nil {
		return nil, errors.New("usecase: sender must not be nil")
	}
	if cfg.GenerateTimeout <= 0 {
		cfg.GenerateTimeout = DefaultGenerateTimeout
	}
	if cfg.TransportTimeout <= 0 {
		cfg.TransportTimeout = DefaultTransportTimeout
	}
	if cfg.SendAttempts <= 0 {
		cfg.SendAttempts = defaultSendAttempts
	}
	if cfg.SendBackoff <= 0 {
		cfg.SendBackoff = defaultSendBackoff
	}
	cfg.Prompts = cfg.Prompts.WithDefaults()
	return &Initiator{
		state:     state,
		sender:    sender,
		generator: generator,
		cfg:       cfg,
		now:       time.Now,
		sleep:     sleepContext,
	}, nil
}

// Start sends the opening message and commits step 0. If the process dies
// between the send and the commit the thread stays untracked.
func (i *Initiator) Start(ctx context.Context, in StartInput) (StartOutput, error) {
	email := strings.TrimSpace(in.Recipient.Email)
	if email == "" || !strings.Contains(email, "@") {
		return StartOutput{}, newError(ErrorInvalidInput, "invalid_recipient", nil)
	}
	subject := strings.TrimSpace(in.Subject)
	if subject == "" {
		return StartOutput{}, newError(ErrorInvalidInput, "empty_subject", nil)
	}
	recipient := domain.Recipient{Email: email, Name: strings.TrimSpace(in.Recipient.Name)}
	logger := observability.LoggerFromContext(ctx, i.cfg.Logger).With("recipient", email)

	body := strings.TrimSpace(in.Body)
	if body == "" {
		if i.generator == nil {
			return StartOutput{}, newError(ErrorInvalidInput, "empty_body", nil)
		}
		history := []domain.ChatMessage{{Role: domain.RoleSystem, Content: i.cfg.Prompts.System}}
		gctx, cancel := context.WithTimeout(ctx, i.cfg.GenerateTimeout)
		generated, err := i.generator.Generate(gctx, i.cfg.Prompts.opening(recipient), history)
		cancel()
		if err != nil {
			return StartOutput{}, newError(ErrorUpstream, upstreamReason("generate", err), err)
		}
		body = strings.TrimSpace(generated)
		if body == "" {
			return StartOutput{}, newError(ErrorUpstream, "generate_empty", nil)
		}
	}

	sent, err := i.sendWithRetry(ctx, logger, domain.OutboundMessage{To: email, Subject: subject, Body: body})
	if err != nil {
		return StartOutput{}, newError(ErrorUpstream, upstreamReason("send", err), err)
	}
	if sent.ThreadID == "" {
		return StartOutput{}, newError(ErrorUpstream, "send_missing_thread_id", nil)
	}

	now := i.now().UTC()
	if err := i.state.Upsert(ctx, domain.Conversation{
		ThreadID:  sent.ThreadID,
		Step:      0,
		Status:    domain.StatusSentInitial,
		Recipient: recipient,
		CreatedAt: now,
		UpdatedAt: now,
	}); err != nil {
		logger.Error("opening message sent but state commit failed", "thread_id", sent.ThreadID, "err", err)
		return StartOutput{}, newError(ErrorInternal, "state_write_error", err)
	}

	if i.cfg.Transcript != nil && sent.MessageID != "" {
		if err := i.cfg.Transcript.AppendMessage(ctx, domain.TranscriptEntry{
			ThreadID:  sent.ThreadID,
			MessageID: sent.MessageID,
			Sender:    domain.SenderAgent,
			Subject:   subject,
			Body:      body,
			Recipient: recipient,
			CreatedAt: now,
		}); err != nil {
			logger.Warn("transcript write failed", "thread_id", sent.ThreadID, "err", err)
		}
	}

	logger.Info("conversation started", "thread_id", sent.ThreadID, "message_id", sent.MessageID)
	return StartOutput{ThreadID: sent.ThreadID, MessageID: sent.MessageID}, nil
}

// sendWithRetry backs off exponentially between attempts (1s, 2s, ...).
// Only sends the server rejected are retried; a timeout or broken
// connection may already have delivered the opener.
func (i *Initiator) sendWithRetry(ctx context.Context, logger *slog.Logger, msg domain.OutboundMessage) (domain.SentMessage, error) {
	var lastErr error
	delay := i.cfg.SendBackoff
	for attempt := 1; attempt <= i.cfg.SendAttempts; attempt++ {
		sctx, cancel := context.WithTimeout(ctx, i.cfg.TransportTimeout)
		sent, err := i.sender.Send(sctx, msg)
		cancel()
		if err == nil {
			return sent, nil
		}
		lastErr = err
		logger.Warn("opening send failed", "attempt", attempt, "err", err)
		if !retryableSend(err) || attempt == i.cfg.SendAttempts {
			break
		}
		if err := i.sleep(ctx, delay); err != nil {
			return domain.SentMessage{}, err
		}
		delay *= 2
	}
	return domain.SentMessage{}, lastErr
}

func retryableSend(err error) bool {
	status, ok := upstreamStatusCode(err)
	return ok && (status == http.StatusTooManyRequests || status >= http.StatusInternalServerError)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
