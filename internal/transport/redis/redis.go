// Package redis implements a transport over Redis Pub/Sub. Each topic maps
// to one Redis channel of the same name, which lets agents in separate
// processes negotiate through a shared Redis server.
package redis

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/acp0/acp0/internal/transport"
	"github.com/acp0/acp0/libs/log"
	"github.com/acp0/acp0/libs/service"
)

// Broker is a transport.Broker backed by a Redis client.
type Broker struct {
	service.BaseService
	logger log.Logger
	rdb    *redis.Client

	mtx  sync.Mutex
	subs map[*subscription]struct{}
	wg   sync.WaitGroup
}

var _ transport.Broker = (*Broker)(nil)

// NewBroker returns an unstarted broker using rdb. The broker owns rdb and
// closes it on stop.
func NewBroker(rdb *redis.Client, logger log.Logger) *Broker {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	b := &Broker{
		logger: logger.With("module", "transport", "backend", "redis"),
		rdb:    rdb,
		subs:   make(map[*subscription]struct{}),
	}
	b.BaseService = *service.NewBaseService(b.logger, "RedisBroker", b)
	return b
}

// NewTransport connects to the Redis server described by opts and returns a started
// Transport. The broker stops when ctx is done.
func NewTransport(ctx context.Context, opts *redis.Options, logger log.Logger) (*transport.Bus, *Broker, error) {
	b := NewBroker(redis.NewClient(opts), logger)
	if err := b.Start(ctx); err != nil {
		return nil, nil, err
	}
	return transport.NewBus(b, logger), b, nil
}

// OnStart checks that the server is reachable.
func (b *Broker) OnStart(ctx context.Context) error {
	if err := b.rdb.Ping(ctx).Err(); err != nil {
		_ = b.rdb.Close()
		return &transport.Error{Op: "connect", Err: err}
	}
	return nil
}

// OnStop closes every subscription, waits for their readers and closes the
// client.
func (b *Broker) OnStop() {
	b.mtx.Lock()
	subs := make([]*subscription, 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	b.mtx.Unlock()

	for _, s := range subs {
		s.Unsubscribe()
	}
	b.wg.Wait()

	if err := b.rdb.Close(); err != nil {
		b.logger.Error("failed to close redis client", "err", err)
	}
}

// Publish sends payload to the Redis channel named topic.
func (b *Broker) Publish(ctx context.Context, topic string, payload []byte) error {
	if !b.IsRunning() {
		return &transport.Error{Op: "publish", Topic: topic, Err: transport.ErrClosed}
	}
	if err := b.rdb.Publish(ctx, topic, payload).Err(); err != nil {
		return &transport.Error{Op: "publish", Topic: topic, Err: err}
	}
	return nil
}

// Subscribe subscribes to the Redis channel named topic and waits for the
// server to confirm before returning, so that messages published after
// Subscribe returns are not missed.
func (b *Broker) Subscribe(ctx context.Context, topic string, handler transport.PayloadHandler) (transport.Subscription, error) {
	if !b.IsRunning() {
		return nil, &transport.Error{Op: "subscribe", Topic: topic, Err: transport.ErrClosed}
	}

	pubsub := b.rdb.Subscribe(ctx, topic)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, &transport.Error{Op: "subscribe", Topic: topic, Err: err}
	}

	subCtx, cancel := context.WithCancel(ctx)
	s := &subscription{
		topic:  topic,
		broker: b,
		pubsub: pubsub,
		ctx:    subCtx,
		cancel: cancel,
	}

	b.mtx.Lock()
	b.subs[s] = struct{}{}
	b.wg.Add(1)
	b.mtx.Unlock()

	go s.run(handler)
	return s, nil
}

type subscription struct {
	topic  string
	broker *Broker
	pubsub *redis.PubSub

	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

func (s *subscription) Topic() string { return s.topic }

// Unsubscribe implements transport.Subscription.
func (s *subscription) Unsubscribe() {
	s.once.Do(func() {
		s.cancel()
		if err := s.pubsub.Close(); err != nil {
			s.broker.logger.Debug("closing pubsub", "topic", s.topic, "err", err)
		}
		s.broker.mtx.Lock()
		delete(s.broker.subs, s)
		s.broker.mtx.Unlock()
	})
}

func (s *subscription) run(handler transport.PayloadHandler) {
	defer s.broker.wg.Done()
	defer s.Unsubscribe()

	ch := s.pubsub.Channel()
	for {
		select {
		case <-s.ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if s.ctx.Err() != nil {
				return
			}
			handler(s.ctx, []byte(msg.Payload))
		}
	}
}
