// Package memory implements an in-process transport for agents that share
// one address space.
//
// A single Broker mediates every topic. Registration and enqueueing happen
// under one lock, so each subscriber sees a topic's messages in the order
// they were published. Every subscriber owns a bounded mailbox drained by
// its own goroutine; when the mailbox is full the message is dropped for
// that subscriber only, and the publisher is never blocked.
package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/acp0/acp0/internal/transport"
	"github.com/acp0/acp0/libs/log"
	"github.com/acp0/acp0/libs/service"
)

// DefaultMailboxCapacity is the per-subscriber queue length.
const DefaultMailboxCapacity = 100

// Broker is an in-memory transport.Broker.
type Broker struct {
	service.BaseService
	logger   log.Logger
	metrics  *Metrics
	capacity int

	mtx    sync.Mutex
	topics map[string]map[string]*subscription // topic -> subscription id -> subscription

	wg sync.WaitGroup
}

var _ transport.Broker = (*Broker)(nil)

// Option sets an optional parameter on the Broker.
type Option func(*Broker)

// WithMetrics sets the metrics.
func WithMetrics(metrics *Metrics) Option {
	return func(b *Broker) { b.metrics = metrics }
}

// WithMailboxCapacity sets the per-subscriber queue length. Non-positive
// values are ignored.
func WithMailboxCapacity(capacity int) Option {
	return func(b *Broker) {
		if capacity > 0 {
			b.capacity = capacity
		}
	}
}

// NewBroker returns a new, unstarted Broker.
func NewBroker(logger log.Logger, options ...Option) *Broker {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	b := &Broker{
		logger:   logger.With("module", "transport", "backend", "memory"),
		metrics:  NopMetrics(),
		capacity: DefaultMailboxCapacity,
		topics:   make(map[string]map[string]*subscription),
	}
	b.BaseService = *service.NewBaseService(b.logger, "MemoryBroker", b)
	for _, option := range options {
		option(b)
	}
	return b
}

// NewTransport starts a Broker and returns a Transport backed by it. The
// broker stops when ctx is done.
func NewTransport(ctx context.Context, logger log.Logger, options ...Option) (*transport.Bus, *Broker, error) {
	b := NewBroker(logger, options...)
	if err := b.Start(ctx); err != nil {
		return nil, nil, err
	}
	return transport.NewBus(b, logger), b, nil
}

// OnStart implements service.Service.
func (b *Broker) OnStart(ctx context.Context) error { return nil }

// OnStop ends every subscription and waits for their goroutines to exit.
func (b *Broker) OnStop() {
	b.mtx.Lock()
	var subs []*subscription
	for topic, byID := range b.topics {
		for _, s := range byID {
			subs = append(subs, s)
		}
		delete(b.topics, topic)
	}
	b.mtx.Unlock()

	for _, s := range subs {
		s.close()
	}
	b.metrics.Subscribers.Set(0)
	b.wg.Wait()
}

// Publish enqueues payload for every current subscriber of topic.
func (b *Broker) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return &transport.Error{Op: "publish", Topic: topic, Err: err}
	}

	b.mtx.Lock()
	defer b.mtx.Unlock()

	if !b.IsRunning() {
		return &transport.Error{Op: "publish", Topic: topic, Err: transport.ErrClosed}
	}

	kind := transport.TopicKind(topic)
	b.metrics.Published.With("topic", kind).Add(1)
	for _, s := range b.topics[topic] {
		select {
		case s.mailbox <- payload:
			b.metrics.Delivered.With("topic", kind).Add(1)
		default:
			b.metrics.MailboxDrops.With("topic", kind).Add(1)
			b.logger.Error("subscriber mailbox full; dropping message",
				"topic", topic, "subscription", s.id, "capacity", b.capacity)
		}
	}
	return nil
}

// Subscribe registers handler for topic. The handler runs on the
// subscription's own goroutine until the subscription ends.
func (b *Broker) Subscribe(ctx context.Context, topic string, handler transport.PayloadHandler) (transport.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, &transport.Error{Op: "subscribe", Topic: topic, Err: err}
	}

	subCtx, cancel := context.WithCancel(ctx)
	s := &subscription{
		id:      uuid.NewString(),
		topic:   topic,
		broker:  b,
		mailbox: make(chan []byte, b.capacity),
		ctx:     subCtx,
		cancel:  cancel,
	}

	b.mtx.Lock()
	if !b.IsRunning() {
		b.mtx.Unlock()
		cancel()
		return nil, &transport.Error{Op: "subscribe", Topic: topic, Err: transport.ErrClosed}
	}
	if _, ok := b.topics[topic]; !ok {
		b.topics[topic] = make(map[string]*subscription)
	}
	b.topics[topic][s.id] = s
	b.wg.Add(1)
	n := b.countLocked()
	b.mtx.Unlock()

	b.metrics.Subscribers.Set(float64(n))
	go s.run(handler)
	return s, nil
}

func (b *Broker) remove(s *subscription) {
	b.mtx.Lock()
	byID, ok := b.topics[s.topic]
	if ok {
		delete(byID, s.id)
		if len(byID) == 0 {
			delete(b.topics, s.topic)
		}
	}
	n := b.countLocked()
	b.mtx.Unlock()

	if ok {
		b.metrics.Subscribers.Set(float64(n))
	}
}

// NumSubscriptions returns the number of live subscriptions across all
// topics.
func (b *Broker) NumSubscriptions() int {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	return b.countLocked()
}

func (b *Broker) countLocked() int {
	n := 0
	for _, byID := range b.topics {
		n += len(byID)
	}
	return n
}

type subscription struct {
	id      string
	topic   string
	broker  *Broker
	mailbox chan []byte

	ctx    context.Context
	cancel context.CancelFunc
}

func (s *subscription) Topic() string { return s.topic }

// Unsubscribe implements transport.Subscription.
func (s *subscription) Unsubscribe() {
	s.broker.remove(s)
	s.close()
}

func (s *subscription) close() { s.cancel() }

// run drains the mailbox until the subscription's context is done. Messages
// still queued at that point are discarded.
func (s *subscription) run(handler transport.PayloadHandler) {
	defer s.broker.wg.Done()
	defer s.broker.remove(s)

	for {
		select {
		case <-s.ctx.Done():
			return
		case payload := <-s.mailbox:
			if s.ctx.Err() != nil {
				return
			}
			handler(s.ctx, payload)
		}
	}
}
