package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"outreach-agent/internal/domain"
	"outreach-agent/internal/observability"
)

const (
	DefaultRecentLimit   = 10
	DefaultRecencyWindow = 5 * time.Minute
)

type ReconcilerConfig struct {
	RecentLimit      int
	RecencyWindow    time.Duration
	TransportTimeout time.Duration
	Logger           *slog.Logger
}

// Reconciler turns a "mailbox changed" notification into the concrete new
// messages since the last checkpoint.
type Reconciler struct {
	mailbox     MailboxReader
	checkpoints CheckpointStore
	cfg         ReconcilerConfig
	now         func() time.Time
}

func NewReconciler(mailbox MailboxReader, checkpoints CheckpointStore, cfg ReconcilerConfig) (*Reconciler, error) {
	if mailbox == nil {
		return nil, errors.New("usecase: mailbox reader must not be nil")
	}
	if checkpoints == nil {
		return nil, errors.New("usecase: checkpoint store must not be nil")
	}
	if cfg.RecentLimit <= 0 {
		cfg.RecentLimit = DefaultRecentLimit
	}
	if cfg.RecencyWindow <= 0 {
		cfg.RecencyWindow = DefaultRecencyWindow
	}
	if cfg.TransportTimeout <= 0 {
		cfg.TransportTimeout = DefaultTransportTimeout
	}
	return &Reconciler{mailbox: mailbox, checkpoints: checkpoints, cfg: cfg, now: time.Now}, nil
}

// Reconcile lists history from the stored checkpoint, falling back to the
// most recent messages inside the recency window when there is no
// checkpoint or history yields nothing. Messages come back resolved,
// de-duplicated and ordered by arrival. The checkpoint only moves forward
// and is left alone when listing fails or any message fails to resolve.
func (r *Reconciler) Reconcile(ctx context.Context, n domain.Notification) ([]domain.InboundMessage, error) {
	logger := observability.LoggerFromContext(ctx, r.cfg.Logger).With("mailbox", n.Mailbox, "checkpoint", n.Checkpoint)

	prev, hasPrev, err := r.checkpoints.GetCheckpoint(ctx, n.Mailbox)
	if err != nil {
		logger.Warn("checkpoint read failed, using recency fallback", "err", err)
		hasPrev = false
	}

	var (
		ids           []string
		historyMarker uint64
		historyOK     bool
		fromRecent    bool
	)
	if hasPrev {
		hctx, cancel := context.WithTimeout(ctx, r.cfg.TransportTimeout)
		ids, historyMarker, err = r.mailbox.ListHistory(hctx, prev)
		cancel()
		if err != nil {
			logger.Warn("history listing failed, using recency fallback", "from", prev, "err", err)
		} else {
			historyOK = true
		}
	}

	if len(ids) == 0 {
		rctx, cancel := context.WithTimeout(ctx, r.cfg.TransportTimeout)
		recent, err := r.mailbox.ListRecent(rctx, r.cfg.RecentLimit)
		cancel()
		switch {
		case err == nil:
			ids = recent
			fromRecent = true
		case !historyOK:
			return nil, newError(ErrorUpstream, upstreamReason("list", err), err)
		default:
			logger.Debug("recent listing failed after empty history", "err", err)
		}
	}

	ids = uniqueIDs(ids)
	messages := make([]domain.InboundMessage, 0, len(ids))
	var resolveErr error
	cutoff := r.now().Add(-r.cfg.RecencyWindow)
	for _, id := range ids {
		gctx, cancel := context.WithTimeout(ctx, r.cfg.TransportTimeout)
		msg, err := r.mailbox.GetMessage(gctx, id)
		cancel()
		if err != nil {
			logger.Warn("message resolve failed", "message_id", id, "err", err)
			resolveErr = err
			continue
		}
		if fromRecent && !msg.ReceivedAt.IsZero() && msg.ReceivedAt.Before(cutoff) {
			continue
		}
		messages = append(messages, msg)
	}
	if len(ids) > 0 && len(messages) == 0 && resolveErr != nil {
		return nil, newError(ErrorUpstream, upstreamReason("resolve", resolveErr), fmt.Errorf("all %d messages failed to resolve: %w", len(ids), resolveErr))
	}

	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].ReceivedAt.Before(messages[j].ReceivedAt)
	})

	marker := n.Checkpoint
	if historyMarker > marker {
		marker = historyMarker
	}
	switch {
	case resolveErr != nil:
		// Unresolved ids must be listed again by the next notification.
		logger.Warn("checkpoint held after resolve failures", "marker", marker, "err", resolveErr)
	case marker > 0 && (!hasPrev || marker > prev):
		if err := r.checkpoints.SaveCheckpoint(ctx, n.Mailbox, marker); err != nil {
			logger.Warn("checkpoint save failed", "marker", marker, "err", err)
		}
	}

	logger.Debug("notification reconciled", "candidates", len(ids), "messages", len(messages), "recency_fallback", fromRecent)
	return messages, nil
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
