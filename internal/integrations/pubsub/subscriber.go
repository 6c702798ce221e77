package pubsub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"cloud.google.com/go/pubsub"

	"outreach-agent/internal/domain"
	"outreach-agent/internal/observability"
)

// DefaultMaxOutstanding caps concurrently handled deliveries.
const DefaultMaxOutstanding = 10

// Decoder turns a delivery payload into a notification.
type Decoder func(data []byte, deliveryID string) (domain.Notification, error)

// Subscriber pulls mailbox notifications from a Pub/Sub subscription.
type Subscriber struct {
	sub    *pubsub.Subscription
	decode Decoder
	logger *slog.Logger
}

type Option func(*Subscriber)

func WithMaxOutstanding(n int) Option {
	return func(s *Subscriber) {
		if n > 0 {
			s.sub.ReceiveSettings.MaxOutstandingMessages = n
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Subscriber) { s.logger = l }
}

func NewSubscriber(client *pubsub.Client, subscriptionID string, decode Decoder, opts ...Option) (*Subscriber, error) {
	if client == nil {
		return nil, errors.New("pubsub: client must not be nil")
	}
	if subscriptionID == "" {
		return nil, errors.New("pubsub: subscription id must not be empty")
	}
	if decode == nil {
		return nil, errors.New("pubsub: decoder must not be nil")
	}
	sub := client.Subscription(subscriptionID)
	sub.ReceiveSettings.MaxOutstandingMessages = DefaultMaxOutstanding
	s := &Subscriber{sub: sub, decode: decode}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Receive blocks until ctx is cancelled or the subscription fails. handle
// runs concurrently for up to MaxOutstanding deliveries; every delivery is
// acknowledged when it returns, undecodable ones included.
func (s *Subscriber) Receive(ctx context.Context, handle func(ctx context.Context, n domain.Notification)) error {
	if handle == nil {
		return errors.New("pubsub: handler must not be nil")
	}
	err := s.sub.Receive(ctx, func(ctx context.Context, m *pubsub.Message) {
		defer m.Ack()
		n, err := s.decode(m.Data, m.ID)
		if err != nil {
			observability.LoggerFromContext(ctx, s.logger).Warn("dropping undecodable notification", "delivery_id", m.ID, "err", err)
			return
		}
		handle(ctx, n)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("pubsub: receive: %w", err)
	}
	return nil
}
