package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"outreach-agent/internal/integrations/gmail"
	"outreach-agent/internal/observability"
	"outreach-agent/internal/repository"
)

type fakeWatcher struct {
	mu     sync.Mutex
	calls  int
	topic  string
	labels []string
	res    gmail.WatchResult
	err    error
}

func (f *fakeWatcher) Watch(_ context.Context, topic string, labels []string) (gmail.WatchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.topic, f.labels = topic, labels
	return f.res, f.err
}

func (f *fakeWatcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type staticAddress string

func (s staticAddress) Get(context.Context) (string, error) { return string(s), nil }

func TestNewWatchRenewer_Validates(t *testing.T) {
	store := repository.NewMemoryStore()
	w := &fakeWatcher{}
	_, err := NewWatchRenewer(nil, staticAddress(agentAddr), store, RenewerConfig{Topic: "t"})
	require.Error(t, err)
	_, err = NewWatchRenewer(w, nil, store, RenewerConfig{Topic: "t"})
	require.Error(t, err)
	_, err = NewWatchRenewer(w, staticAddress(agentAddr), nil, RenewerConfig{Topic: "t"})
	require.Error(t, err)
	_, err = NewWatchRenewer(w, staticAddress(agentAddr), store, RenewerConfig{})
	require.Error(t, err)
	_, err = NewWatchRenewer(w, staticAddress(agentAddr), store, RenewerConfig{Topic: "t", Schedule: "not a schedule"})
	require.Error(t, err)
}

func TestRenew_SeedsCheckpointOnce(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	w := &fakeWatcher{res: gmail.WatchResult{HistoryID: 100}}
	r, err := NewWatchRenewer(w, staticAddress(agentAddr), store, RenewerConfig{
		Topic:  "projects/p/topics/mail",
		Labels: []string{"INBOX"},
		Logger: observability.Discard(),
	})
	require.NoError(t, err)

	require.NoError(t, r.Renew(ctx))
	require.Equal(t, "projects/p/topics/mail", w.topic)
	require.Equal(t, []string{"INBOX"}, w.labels)
	marker, ok, err := store.GetCheckpoint(ctx, agentAddr)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(100), marker)

	w.res.HistoryID = 50
	require.NoError(t, r.Renew(ctx))
	marker, _, _ = store.GetCheckpoint(ctx, agentAddr)
	require.Equal(t, uint64(100), marker)
}

func TestRenew_WatchError(t *testing.T) {
	store := repository.NewMemoryStore()
	w := &fakeWatcher{err: errors.New("forbidden")}
	r, err := NewWatchRenewer(w, staticAddress(agentAddr), store, RenewerConfig{Topic: "t", Logger: observability.Discard()})
	require.NoError(t, err)

	require.ErrorContains(t, r.Renew(context.Background()), "forbidden")
	_, ok, _ := store.GetCheckpoint(context.Background(), agentAddr)
	require.False(t, ok)
	require.Error(t, r.Start(context.Background()))
}

func TestWatchRenewer_StartRenewsOnSchedule(t *testing.T) {
	w := &fakeWatcher{res: gmail.WatchResult{HistoryID: 7}}
	r, err := NewWatchRenewer(w, staticAddress(agentAddr), repository.NewMemoryStore(), RenewerConfig{
		Topic:    "t",
		Schedule: "@every 1s",
		Logger:   observability.Discard(),
	})
	require.NoError(t, err)

	require.NoError(t, r.Start(context.Background()))
	require.Error(t, r.Start(context.Background()))
	require.Equal(t, 1, w.count())
	require.Eventually(t, func() bool { return w.count() >= 2 }, 3*time.Second, 50*time.Millisecond)

	r.Stop()
	r.Stop()
}
