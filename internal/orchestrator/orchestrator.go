// Package orchestrator wires notification delivery to the conversation
// workflow: reconcile, classify, deduplicate, advance.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"outreach-agent/internal/dedup"
	"outreach-agent/internal/domain"
	"outreach-agent/internal/observability"
	"outreach-agent/internal/usecase"
)

type Subscriber interface {
	Receive(ctx context.Context, handle func(ctx context.Context, n domain.Notification)) error
}

type Reconciler interface {
	Reconcile(ctx context.Context, n domain.Notification) ([]domain.InboundMessage, error)
}

type Classifier interface {
	Evaluate(ctx context.Context, msg domain.InboundMessage) (usecase.Classification, *domain.Conversation, error)
}

type Advancer interface {
	Advance(ctx context.Context, threadID string, expectedStep int, incoming *domain.InboundMessage) (usecase.Transition, error)
	MaxSteps() int
}

// Outcome says what happened to one candidate message.
type Outcome string

const (
	OutcomeAdvanced   Outcome = "advanced"
	OutcomeCompleted  Outcome = "completed"
	OutcomeDuplicate  Outcome = "duplicate"
	OutcomeSelfEcho   Outcome = "self_echo"
	OutcomeAutomated  Outcome = "automated"
	OutcomeMisRouted  Outcome = "misrouted"
	OutcomeUntracked  Outcome = "untracked"
	OutcomeStale      Outcome = "stale"
	OutcomeTerminal   Outcome = "terminal"
	OutcomeCorrupt    Outcome = "corrupt"
	OutcomeFailed     Outcome = "failed"
	OutcomeDedupError Outcome = "dedup_error"
)

type MessageResult struct {
	MessageID string
	ThreadID  string
	Outcome   Outcome
	// Step is the committed step after an advance, else the step observed.
	Step int
	Err  error
}

// Report summarizes one notification.
type Report struct {
	CorrelationID string
	Notification  domain.Notification
	Messages      []MessageResult
	Err           error
}

type Config struct {
	// RetryDelay separates receive loop restarts.
	RetryDelay time.Duration
	Logger     *slog.Logger
}

type Orchestrator struct {
	subscriber Subscriber
	reconciler Reconciler
	classifier Classifier
	advancer   Advancer
	dedup      dedup.Deduplicator
	locks      *keyedLocks
	cfg        Config
	newID      func() string

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New builds an Orchestrator. subscriber may be nil when notifications are
// pushed through HandleNotification only.
func New(subscriber Subscriber, reconciler Reconciler, classifier Classifier, advancer Advancer, dd dedup.Deduplicator, cfg Config) (*Orchestrator, error) {
	if reconciler == nil {
		return nil, errors.New("orchestrator: reconciler must not be nil")
	}
	if classifier == nil {
		return nil, errors.New("orchestrator: classifier must not be nil")
	}
	if advancer == nil {
		return nil, errors.New("orchestrator: advancer must not be nil")
	}
	if dd == nil {
		return nil, errors.New("orchestrator: deduplicator must not be nil")
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	return &Orchestrator{
		subscriber: subscriber,
		reconciler: reconciler,
		classifier: classifier,
		advancer:   advancer,
		dedup:      dd,
		locks:      newKeyedLocks(),
		cfg:        cfg,
		newID:      func() string { return uuid.NewString() },
	}, nil
}

// Start begins receiving in the background. Receive errors are logged and
// the subscription is reopened until Stop is called or ctx ends.
func (o *Orchestrator) Start(ctx context.Context) error {
	if o.subscriber == nil {
		return errors.New("orchestrator: no subscriber configured")
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cancel != nil {
		return errors.New("orchestrator: already started")
	}
	rctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	o.cancel, o.done = cancel, done

	go func() {
		defer close(done)
		logger := o.logger(rctx)
		for {
			err := o.subscriber.Receive(rctx, func(ctx context.Context, n domain.Notification) {
				o.HandleNotification(ctx, n)
			})
			if rctx.Err() != nil {
				return
			}
			if err != nil && !errors.Is(err, context.DeadlineExceeded) {
				logger.Error("notification receive failed", "err", err)
			}
			select {
			case <-rctx.Done():
				return
			case <-time.After(o.cfg.RetryDelay):
			}
		}
	}()
	o.logger(ctx).Info("orchestrator started")
	return nil
}

// Stop cancels the subscription and waits for the receive loop to exit.
// In-flight work is abandoned.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	cancel, done := o.cancel, o.done
	o.cancel, o.done = nil, nil
	o.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// HandleNotification processes one notification end to end. It never
// returns an error; outcomes are reported and logged.
func (o *Orchestrator) HandleNotification(ctx context.Context, n domain.Notification) Report {
	id := observability.CorrelationID(ctx)
	if id == "" {
		id = o.newID()
		ctx = observability.WithCorrelationID(ctx, id)
	}
	logger := o.logger(ctx).With("mailbox", n.Mailbox, "checkpoint", n.Checkpoint, "delivery_id", n.DeliveryID)
	report := Report{CorrelationID: id, Notification: n}

	msgs, err := o.reconciler.Reconcile(ctx, n)
	if err != nil {
		logger.Error("notification reconcile failed", "err", err)
		report.Err = err
		return report
	}
	if len(msgs) == 0 {
		logger.Debug("notification yielded no messages")
		return report
	}

	for _, msg := range msgs {
		report.Messages = append(report.Messages, o.processMessage(ctx, logger, msg))
	}
	return report
}

func (o *Orchestrator) processMessage(ctx context.Context, logger *slog.Logger, msg domain.InboundMessage) MessageResult {
	logger = logger.With("message_id", msg.ID, "thread_id", msg.ThreadID)
	res := MessageResult{MessageID: msg.ID, ThreadID: msg.ThreadID}

	unlock := o.locks.lock(msg.ThreadID)
	defer unlock()

	msgKey := dedup.MessageKey(msg.ID)
	claimed, err := o.dedup.Claim(ctx, msgKey)
	if err != nil {
		logger.Error("dedup claim failed, dropping message", "err", err)
		res.Outcome, res.Err = OutcomeDedupError, err
		return res
	}
	if !claimed {
		logger.Debug("duplicate message")
		res.Outcome = OutcomeDuplicate
		return res
	}

	class, conv, err := o.classifier.Evaluate(ctx, msg)
	if err != nil {
		logger.Error("message classification failed", "err", err)
		res.Outcome, res.Err = OutcomeFailed, err
		return res
	}
	if class == usecase.Genuine && conv == nil {
		class = usecase.Untracked
	}
	if class != usecase.Genuine {
		logger.Debug("message ignored", "classification", class.String())
		res.Outcome = ignoredOutcome(class)
		return res
	}

	res.Step = conv.Step
	if conv.IsTerminal(o.advancer.MaxSteps()) {
		logger.Debug("reply to completed conversation", "step", conv.Step)
		res.Outcome = OutcomeTerminal
		return res
	}

	stepKey := dedup.StepKey(conv.ThreadID, conv.Step)
	claimed, err = o.dedup.Claim(ctx, stepKey)
	if err != nil {
		logger.Error("dedup claim failed, dropping message", "err", err)
		res.Outcome, res.Err = OutcomeDedupError, err
		return res
	}
	if !claimed {
		logger.Debug("step already taken", "step", conv.Step)
		res.Outcome = OutcomeDuplicate
		return res
	}

	tr, err := o.advancer.Advance(ctx, conv.ThreadID, conv.Step, &msg)
	if err != nil {
		// The step did not move, so a later reply may take it.
		if rerr := o.dedup.Release(ctx, stepKey); rerr != nil {
			logger.Warn("dedup release failed", "key", stepKey, "err", rerr)
		}
		res.Err = err
		res.Outcome = failureOutcome(err)
		switch {
		case usecase.IsBenign(err):
			logger.Debug("advance skipped", "err", err)
		case res.Outcome == OutcomeCorrupt:
			logger.Error("conversation integrity check failed", "err", err)
		default:
			logger.Error("advance failed, conversation stays at its step", "step", conv.Step, "err", err)
		}
		return res
	}

	res.Step = tr.To
	res.Outcome = OutcomeAdvanced
	if tr.Status == domain.StatusCompleted {
		res.Outcome = OutcomeCompleted
	}
	logger.Info("conversation advanced", "from", tr.From, "to", tr.To, "status", string(tr.Status))
	return res
}

func ignoredOutcome(c usecase.Classification) Outcome {
	switch c {
	case usecase.SelfEcho:
		return OutcomeSelfEcho
	case usecase.Automated:
		return OutcomeAutomated
	case usecase.MisRouted:
		return OutcomeMisRouted
	default:
		return OutcomeUntracked
	}
}

func failureOutcome(err error) Outcome {
	switch usecase.CodeOf(err) {
	case usecase.ErrorStaleStep:
		return OutcomeStale
	case usecase.ErrorCompleted:
		return OutcomeTerminal
	case usecase.ErrorCorruptState, usecase.ErrorNotTracked:
		return OutcomeCorrupt
	default:
		return OutcomeFailed
	}
}

func (o *Orchestrator) logger(ctx context.Context) *slog.Logger {
	return observability.LoggerFromContext(ctx, o.cfg.Logger)
}
