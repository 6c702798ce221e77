package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"outreach-agent/internal/domain"
	"outreach-agent/internal/usecase"
)

const agentAddr = "agent@example.com"

type stubReconciler struct {
	msgs []domain.InboundMessage
	err  error
}

func (s *stubReconciler) Reconcile(context.Context, domain.Notification) ([]domain.InboundMessage, error) {
	return s.msgs, s.err
}

type classification struct {
	class usecase.Classification
	conv  *domain.Conversation
	err   error
}

type stubClassifier struct {
	byID map[string]classification
}

func (s *stubClassifier) Evaluate(_ context.Context, msg domain.InboundMessage) (usecase.Classification, *domain.Conversation, error) {
	c, ok := s.byID[msg.ID]
	if !ok {
		return usecase.Untracked, nil, nil
	}
	return c.class, c.conv, c.err
}

type advanceCall struct {
	threadID string
	expected int
	msgID    string
}

type stubAdvancer struct {
	mu    sync.Mutex
	calls []advanceCall
	errs  []error
}

func (s *stubAdvancer) Advance(_ context.Context, threadID string, expected int, incoming *domain.InboundMessage) (usecase.Transition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, advanceCall{threadID: threadID, expected: expected, msgID: incoming.ID})
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		if err != nil {
			return usecase.Transition{}, err
		}
	}
	next := expected + 1
	status := domain.FollowupStatus(next)
	if next == 4 {
		status = domain.StatusCompleted
	}
	return usecase.Transition{ThreadID: threadID, From: expected, To: next, Status: status}, nil
}

func (s *stubAdvancer) MaxSteps() int { return 4 }

type failingDedup struct{ err error }

func (f failingDedup) Seen(context.Context, string) (bool, error) { return false, f.err }
func (f failingDedup) Mark(context.Context, string) error { return f.err }
func (f failingDedup) Claim(context.Context, string) (bool, error) { return false, f.err }
func (f failingDedup) Release(context.Context, string) error { return f.err }
func (f failingDedup) Clear(context.Context) error { return f.err }

// fakeMail simulates a mailbox with threads and a history counter.
type fakeMail struct {
	mu      sync.Mutex
	history uint64
	seq     int
	base    time.Time
	msgs    []domain.InboundMessage
	hist    map[string]uint64
	sendErr error
	sent    []domain.OutboundMessage
}

func newFakeMail() *fakeMail {
	return &fakeMail{base: time.Now().Add(-time.Minute), hist: map[string]uint64{}}
}

func (f *fakeMail) add(m domain.InboundMessage) {
	f.history++
	f.seq++
	m.ReceivedAt = f.base.Add(time.Duration(f.seq) * time.Millisecond)
	f.hist[m.ID] = f.history
	f.msgs = append(f.msgs, m)
}

func (f *fakeMail) Send(_ context.Context, msg domain.OutboundMessage) (domain.SentMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return domain.SentMessage{}, f.sendErr
	}
	f.sent = append(f.sent, msg)
	thread := msg.ThreadID
	if thread == "" {
		thread = fmt.Sprintf("thread-%d", len(f.sent))
	}
	id := fmt.Sprintf("out-%d", len(f.sent))
	f.add(domain.InboundMessage{
		ID:              id,
		ThreadID:        thread,
		From:            "Agent <" + agentAddr + ">",
		To:              []string{msg.To},
		Subject:         msg.Subject,
		Body:            msg.Body,
		MessageIDHeader: "<" + id + "@mail.example.com>",
	})
	return domain.SentMessage{MessageID: id, ThreadID: thread}, nil
}

// reply appends an inbound message from jane and returns the push
// notification Gmail would publish for it.
func (f *fakeMail) reply(id, thread, body string) domain.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.add(domain.InboundMessage{
		ID:              id,
		ThreadID:        thread,
		From:            "Jane <jane@example.org>",
		To:              []string{agentAddr},
		Subject:         "Re: Welcome",
		Body:            body,
		MessageIDHeader: "<" + id + "@mail.example.org>",
	})
	return domain.Notification{Mailbox: agentAddr, Checkpoint: f.history, DeliveryID: "d-" + id}
}

func (f *fakeMail) GetThread(_ context.Context, threadID string) ([]domain.InboundMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.InboundMessage
	for _, m := range f.msgs {
		if m.ThreadID == threadID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeMail) GetMessage(_ context.Context, id string) (domain.InboundMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.msgs {
		if m.ID == id {
			return m, nil
		}
	}
	return domain.InboundMessage{}, errors.New("not found")
}

func (f *fakeMail) ListHistory(_ context.Context, start uint64) ([]string, uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for _, m := range f.msgs {
		if f.hist[m.ID] > start {
			ids = append(ids, m.ID)
		}
	}
	return ids, f.history, nil
}

func (f *fakeMail) ListRecent(_ context.Context, max int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for i := len(f.msgs) - 1; i >= 0 && len(ids) < max; i-- {
		ids = append(ids, f.msgs[i].ID)
	}
	return ids, nil
}

func (f *fakeMail) Profile(context.Context) (string, error) { return agentAddr, nil }

type fakeGenerator struct {
	mu    sync.Mutex
	calls int
}

func (g *fakeGenerator) Generate(_ context.Context, prompt string, _ []domain.ChatMessage) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	return fmt.Sprintf("generated reply %d", g.calls), nil
}
