package daemon

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"

	"github.com/yairfalse/rpe/extractor"
	"github.com/yairfalse/rpe/internal/config"
)

// Delivery is a received message with its settlement callbacks
type Delivery struct {
	extractor.Message
	Ack  func()
	Nack func()
}

// Source delivers messages until ctx is cancelled. handle settles each
// delivery exactly once.
type Source interface {
	Receive(ctx context.Context, handle func(context.Context, Delivery)) error
}

// PubSubSource receives from a Pub/Sub subscription
type PubSubSource struct {
	client *pubsub.Client
	sub    *pubsub.Subscription
	owned  bool
}

// NewPubSubSource connects to the subscription named in cfg
func NewPubSubSource(ctx context.Context, cfg config.PubSubConfig, opts ...option.ClientOption) (*PubSubSource, error) {
	if cfg.Project == "" || cfg.Subscription == "" {
		return nil, errors.New("pubsub project and subscription are required")
	}

	client, err := pubsub.NewClient(ctx, cfg.Project, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create pubsub client: %w", err)
	}

	s := NewPubSubSourceFromClient(client, cfg.Subscription, cfg.MaxOutstanding)
	s.owned = true
	return s, nil
}

// NewPubSubSourceFromClient receives through an existing client, which the
// caller keeps ownership of.
func NewPubSubSourceFromClient(client *pubsub.Client, subscription string, maxOutstanding int) *PubSubSource {
	sub := client.Subscription(subscription)
	if maxOutstanding > 0 {
		sub.ReceiveSettings.MaxOutstandingMessages = maxOutstanding
	}
	return &PubSubSource{client: client, sub: sub}
}

// Receive blocks until ctx is cancelled or the subscription fails
func (s *PubSubSource) Receive(ctx context.Context, handle func(context.Context, Delivery)) error {
	err := s.sub.Receive(ctx, func(ctx context.Context, m *pubsub.Message) {
		handle(ctx, Delivery{
			Message: extractor.Message{
				ID:          m.ID,
				Data:        m.Data,
				Attributes:  m.Attributes,
				PublishTime: m.PublishTime,
			},
			Ack:  m.Ack,
			Nack: m.Nack,
		})
	})
	if err != nil {
		return fmt.Errorf("receive from %s: %w", s.sub.ID(), err)
	}
	return nil
}

// Close closes the client when the source created it
func (s *PubSubSource) Close() error {
	if !s.owned {
		return nil
	}
	return s.client.Close()
}
