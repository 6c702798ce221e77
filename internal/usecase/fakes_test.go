package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"outreach-agent/internal/domain"
)

type fakeState struct {
	mu       sync.Mutex
	convs    map[string]domain.Conversation
	getErr   error
	writeErr error
	upserts  []domain.Conversation
}

func newFakeState(convs ...domain.Conversation) *fakeState {
	s := &fakeState{convs: map[string]domain.Conversation{}}
	for _, c := range convs {
		s.convs[c.ThreadID] = c
	}
	return s
}

func (s *fakeState) Get(_ context.Context, threadID string) (*domain.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	c, ok := s.convs[threadID]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (s *fakeState) Upsert(_ context.Context, conv domain.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return s.writeErr
	}
	s.upserts = append(s.upserts, conv)
	if existing, ok := s.convs[conv.ThreadID]; ok && conv.Recipient.Email == "" {
		conv.Recipient = existing.Recipient
	}
	s.convs[conv.ThreadID] = conv
	return nil
}

type fakeTransport struct {
	mu         sync.Mutex
	threads    map[string][]domain.InboundMessage
	threadErr  error
	sendErrs   []error
	sendCalls  int
	sent       []domain.OutboundMessage
	nextThread string
}

func (f *fakeTransport) GetThread(_ context.Context, threadID string) ([]domain.InboundMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.threadErr != nil {
		return nil, f.threadErr
	}
	return f.threads[threadID], nil
}

func (f *fakeTransport) Send(_ context.Context, msg domain.OutboundMessage) (domain.SentMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendCalls++
	if len(f.sendErrs) > 0 {
		err := f.sendErrs[0]
		f.sendErrs = f.sendErrs[1:]
		if err != nil {
			return domain.SentMessage{}, err
		}
	}
	f.sent = append(f.sent, msg)
	threadID := msg.ThreadID
	if threadID == "" {
		threadID = f.nextThread
	}
	return domain.SentMessage{MessageID: fmt.Sprintf("sent-%d", len(f.sent)), ThreadID: threadID}, nil
}

type fakeGenerator struct {
	mu          sync.Mutex
	reply       string
	err         error
	calls       int
	lastPrompt  string
	lastHistory []domain.ChatMessage
}

func (g *fakeGenerator) Generate(_ context.Context, prompt string, history []domain.ChatMessage) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	g.lastPrompt = prompt
	g.lastHistory = history
	if g.err != nil {
		return "", g.err
	}
	return g.reply, nil
}

type fakeResolver struct {
	addr  string
	errs  []error
	calls int
}

func (r *fakeResolver) Profile(context.Context) (string, error) {
	r.calls++
	if len(r.errs) > 0 {
		err := r.errs[0]
		r.errs = r.errs[1:]
		return "", err
	}
	return r.addr, nil
}

type fakeTranscript struct {
	mu      sync.Mutex
	entries []domain.TranscriptEntry
	err     error
}

func (f *fakeTranscript) AppendMessage(_ context.Context, e domain.TranscriptEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.entries = append(f.entries, e)
	return nil
}

type fakeMailbox struct {
	historyIDs    []string
	historyMarker uint64
	historyErr    error
	historyFrom   []uint64
	recentIDs     []string
	recentErr     error
	recentCalls   int
	messages      map[string]domain.InboundMessage
	getErrs       map[string]error
}

func (f *fakeMailbox) ListHistory(_ context.Context, start uint64) ([]string, uint64, error) {
	f.historyFrom = append(f.historyFrom, start)
	return f.historyIDs, f.historyMarker, f.historyErr
}

func (f *fakeMailbox) ListRecent(_ context.Context, _ int) ([]string, error) {
	f.recentCalls++
	return f.recentIDs, f.recentErr
}

func (f *fakeMailbox) GetMessage(_ context.Context, id string) (domain.InboundMessage, error) {
	if err := f.getErrs[id]; err != nil {
		return domain.InboundMessage{}, err
	}
	m, ok := f.messages[id]
	if !ok {
		return domain.InboundMessage{}, errors.New("not found")
	}
	return m, nil
}

type fakeCheckpoints struct {
	marker  uint64
	has     bool
	getErr  error
	saveErr error
	saved   []uint64
}

func (f *fakeCheckpoints) GetCheckpoint(context.Context, string) (uint64, bool, error) {
	return f.marker, f.has, f.getErr
}

func (f *fakeCheckpoints) SaveCheckpoint(_ context.Context, _ string, marker uint64) error {
	f.saved = append(f.saved, marker)
	if f.saveErr != nil {
		return f.saveErr
	}
	if !f.has || marker > f.marker {
		f.marker, f.has = marker, true
	}
	return nil
}
