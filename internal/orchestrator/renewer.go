package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"outreach-agent/internal/integrations/gmail"
	"outreach-agent/internal/observability"
	"outreach-agent/internal/usecase"
)

type Watcher interface {
	Watch(ctx context.Context, topic string, labels []string) (gmail.WatchResult, error)
}

type AddressGetter interface {
	Get(ctx context.Context) (string, error)
}

type RenewerConfig struct {
	Topic  string
	Labels []string
	// Schedule is a cron expression; descriptors such as "@every 24h" work.
	Schedule string
	Timeout  time.Duration
	Logger   *slog.Logger
}

// WatchRenewer keeps the mailbox push registration alive. Registrations
// expire after about a week, so it renews on a schedule.
type WatchRenewer struct {
	watcher     Watcher
	address     AddressGetter
	checkpoints usecase.CheckpointStore
	cfg         RenewerConfig
	schedule    cron.Schedule

	mu   sync.Mutex
	cron *cron.Cron
}

func NewWatchRenewer(watcher Watcher, address AddressGetter, checkpoints usecase.CheckpointStore, cfg RenewerConfig) (*WatchRenewer, error) {
	if watcher == nil {
		return nil, errors.New("orchestrator: watcher must not be nil")
	}
	if address == nil {
		return nil, errors.New("orchestrator: address must not be nil")
	}
	if checkpoints == nil {
		return nil, errors.New("orchestrator: checkpoint store must not be nil")
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, errors.New("orchestrator: watch topic must not be empty")
	}
	if cfg.Schedule == "" {
		cfg.Schedule = "@every 24h"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	sched, err := cron.ParseStandard(cfg.Schedule)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: parse watch schedule %q: %w", cfg.Schedule, err)
	}
	return &WatchRenewer{watcher: watcher, address: address, checkpoints: checkpoints, cfg: cfg, schedule: sched}, nil
}

// Renew registers the watch once and seeds the mailbox checkpoint from the
// returned history id when none is stored yet.
func (r *WatchRenewer) Renew(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()
	logger := observability.LoggerFromContext(ctx, r.cfg.Logger)

	res, err := r.watcher.Watch(ctx, r.cfg.Topic, r.cfg.Labels)
	if err != nil {
		return fmt.Errorf("orchestrator: renew watch: %w", err)
	}
	mailbox, err := r.address.Get(ctx)
	if err != nil {
		return fmt.Errorf("orchestrator: renew watch: %w", err)
	}
	_, has, err := r.checkpoints.GetCheckpoint(ctx, mailbox)
	if err != nil {
		logger.Warn("checkpoint read failed after watch renewal", "err", err)
	} else if !has && res.HistoryID > 0 {
		if err := r.checkpoints.SaveCheckpoint(ctx, mailbox, res.HistoryID); err != nil {
			logger.Warn("checkpoint seed failed", "err", err)
		}
	}
	logger.Info("mailbox watch renewed", "history_id", res.HistoryID, "expires", res.Expiration)
	return nil
}

// Start renews immediately and then on the schedule until Stop.
func (r *WatchRenewer) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cron != nil {
		return errors.New("orchestrator: watch renewer already started")
	}
	if err := r.Renew(ctx); err != nil {
		return err
	}
	c := cron.New()
	c.Schedule(r.schedule, cron.FuncJob(func() {
		if err := r.Renew(ctx); err != nil {
			observability.LoggerFromContext(ctx, r.cfg.Logger).Error("scheduled watch renewal failed", "err", err)
		}
	}))
	c.Start()
	r.cron = c
	return nil
}

// Stop halts the schedule and waits for a running renewal to finish.
func (r *WatchRenewer) Stop() {
	r.mu.Lock()
	c := r.cron
	r.cron = nil
	r.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}
