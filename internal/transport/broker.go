package transport

import (
	"context"

	"github.com/acp0/acp0/libs/log"
	"github.com/acp0/acp0/types"
)

// PayloadHandler receives the raw wire form of one message.
type PayloadHandler func(ctx context.Context, payload []byte)

// Broker moves opaque payloads between topics and subscribers. Adapters
// implement Broker and get a Transport by wrapping it with NewBus.
type Broker interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(ctx context.Context, topic string, handler PayloadHandler) (Subscription, error)
}

// Bus implements Transport on top of a Broker. Messages are encoded once
// when sent and decoded separately for every delivery, so no two
// subscribers share a value. Payloads that fail to decode, or that carry a
// different message kind than the topic expects, are dropped.
type Bus struct {
	broker Broker
	logger log.Logger
}

var _ Transport = (*Bus)(nil)

// NewBus returns a Transport publishing through broker.
func NewBus(broker Broker, logger log.Logger) *Bus {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Bus{
		broker: broker,
		logger: logger.With("module", "transport"),
	}
}

func (b *Bus) BroadcastIntent(ctx context.Context, intent *types.Intent) error {
	return b.publish(ctx, IntentsTopic, intent)
}

func (b *Bus) SendOffer(ctx context.Context, offer *types.Offer, intentID string) error {
	return b.publish(ctx, OffersTopic(intentID), offer)
}

func (b *Bus) SendDeal(ctx context.Context, deal *types.Deal, offerID string) error {
	return b.publish(ctx, DealsTopic(offerID), deal)
}

func (b *Bus) SubscribeIntents(ctx context.Context, handler IntentHandler) (Subscription, error) {
	return b.broker.Subscribe(ctx, IntentsTopic, func(ctx context.Context, payload []byte) {
		intent, err := types.DecodeIntent(payload)
		if err != nil {
			b.logger.Debug("dropping malformed payload", "topic", IntentsTopic, "err", err)
			return
		}
		handler(ctx, intent)
	})
}

func (b *Bus) SubscribeOffers(ctx context.Context, intentID string, handler OfferHandler) (Subscription, error) {
	topic := OffersTopic(intentID)
	return b.broker.Subscribe(ctx, topic, func(ctx context.Context, payload []byte) {
		offer, err := types.DecodeOffer(payload)
		if err != nil {
			b.logger.Debug("dropping malformed payload", "topic", topic, "err", err)
			return
		}
		handler(ctx, offer)
	})
}

func (b *Bus) SubscribeDeals(ctx context.Context, offerID string, handler DealHandler) (Subscription, error) {
	topic := DealsTopic(offerID)
	return b.broker.Subscribe(ctx, topic, func(ctx context.Context, payload []byte) {
		deal, err := types.DecodeDeal(payload)
		if err != nil {
			b.logger.Debug("dropping malformed payload", "topic", topic, "err", err)
			return
		}
		handler(ctx, deal)
	})
}

func (b *Bus) publish(ctx context.Context, topic string, m types.Message) error {
	payload, err := types.Encode(m)
	if err != nil {
		return &Error{Op: "encode", Topic: topic, Err: err}
	}
	return b.broker.Publish(ctx, topic, payload)
}
