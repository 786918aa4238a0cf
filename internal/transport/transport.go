// Package transport defines how agents exchange protocol messages.
//
// Delivery is best-effort to the subscribers registered at the time of a
// send. Each subscriber observes the messages of a topic in send order.
// Nothing is persisted and nothing is retried.
package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/acp0/acp0/types"
)

const (
	// IntentsTopic carries every broadcast Intent.
	IntentsTopic = "acp0/intents"

	offersTopicPrefix = "acp0/offers/"
	dealsTopicPrefix  = "acp0/deals/"
)

// OffersTopic returns the topic on which offers answering intentID travel.
func OffersTopic(intentID string) string { return offersTopicPrefix + intentID }

// DealsTopic returns the topic on which deals accepting offerID travel.
func DealsTopic(offerID string) string { return dealsTopicPrefix + offerID }

// TopicKind returns a low-cardinality label for topic, suitable for
// metrics: "intents", "offers", "deals" or "other".
func TopicKind(topic string) string {
	switch {
	case topic == IntentsTopic:
		return "intents"
	case strings.HasPrefix(topic, offersTopicPrefix):
		return "offers"
	case strings.HasPrefix(topic, dealsTopicPrefix):
		return "deals"
	default:
		return "other"
	}
}

// Handlers are invoked from a goroutine owned by the subscription, one
// message at a time. ctx is done once the subscription ends.
type (
	IntentHandler func(ctx context.Context, intent *types.Intent)
	OfferHandler  func(ctx context.Context, offer *types.Offer)
	DealHandler   func(ctx context.Context, deal *types.Deal)
)

// Subscription is a handle on a registered handler. A subscription lives
// until Unsubscribe is called, the context passed when subscribing is done,
// or the transport shuts down.
type Subscription interface {
	Topic() string
	// Unsubscribe is idempotent and safe to call from inside the handler.
	Unsubscribe()
}

// Transport is the agent-facing messaging interface.
type Transport interface {
	BroadcastIntent(ctx context.Context, intent *types.Intent) error
	SendOffer(ctx context.Context, offer *types.Offer, intentID string) error
	SendDeal(ctx context.Context, deal *types.Deal, offerID string) error

	SubscribeIntents(ctx context.Context, handler IntentHandler) (Subscription, error)
	SubscribeOffers(ctx context.Context, intentID string, handler OfferHandler) (Subscription, error)
	SubscribeDeals(ctx context.Context, offerID string, handler DealHandler) (Subscription, error)
}

// ErrClosed is wrapped by adapters that are not running.
var ErrClosed = errors.New("transport closed")

// Error is returned by every adapter operation that fails.
type Error struct {
	Op    string
	Topic string
	Err   error
}

func (e *Error) Error() string {
	if e.Topic == "" {
		return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("transport %s %s: %v", e.Op, e.Topic, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
