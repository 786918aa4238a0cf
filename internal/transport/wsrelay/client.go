package wsrelay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/acp0/acp0/internal/transport"
	"github.com/acp0/acp0/libs/log"
	"github.com/acp0/acp0/libs/service"
)

// Client is a transport.Broker that reaches other agents through a Relay
// over a single WebSocket connection.
type Client struct {
	service.BaseService
	logger log.Logger

	url      string
	capacity int
	ws       *websocket.Conn

	writeMtx sync.Mutex

	mtx     sync.Mutex
	subs    map[string]map[string]*clientSub // topic -> subscription id -> subscription
	pending map[string]chan struct{}         // subscription id -> closed on ack

	// closed when the connection is gone, for whatever reason
	disconnected chan struct{}
	wg           sync.WaitGroup
}

var _ transport.Broker = (*Client)(nil)

// ClientOption sets an optional parameter on the Client.
type ClientOption func(*Client)

// MailboxCapacity sets the per-subscription queue length.
func MailboxCapacity(n int) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.capacity = n
		}
	}
}

// NewClient returns an unstarted client for the relay at url, e.g.
// ws://127.0.0.1:26680/ws.
func NewClient(url string, logger log.Logger, options ...ClientOption) *Client {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	c := &Client{
		logger:       logger.With("module", "transport", "backend", "websocket"),
		url:          url,
		capacity:     defaultSendCapacity,
		subs:         make(map[string]map[string]*clientSub),
		pending:      make(map[string]chan struct{}),
		disconnected: make(chan struct{}),
	}
	c.BaseService = *service.NewBaseService(c.logger, "RelayClient", c)
	for _, option := range options {
		option(c)
	}
	return c
}

// NewTransport dials the relay at url and returns a started Transport. The
// client disconnects when ctx is done.
func NewTransport(ctx context.Context, url string, logger log.Logger, options ...ClientOption) (*transport.Bus, *Client, error) {
	c := NewClient(url, logger, options...)
	if err := c.Start(ctx); err != nil {
		return nil, nil, err
	}
	return transport.NewBus(c, logger), c, nil
}

// OnStart dials the relay.
func (c *Client) OnStart(ctx context.Context) error {
	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: defaultWriteWait,
	}
	ws, resp, err := dialer.DialContext(ctx, c.url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return &transport.Error{Op: "connect", Topic: c.url, Err: err}
	}
	c.ws = ws

	c.wg.Add(1)
	go c.readRoutine()
	return nil
}

// OnStop closes the connection and ends every subscription.
func (c *Client) OnStop() {
	c.writeMtx.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(defaultWriteWait))
	c.writeMtx.Unlock()
	_ = c.ws.Close()

	c.mtx.Lock()
	var subs []*clientSub
	for topic, byID := range c.subs {
		for _, s := range byID {
			subs = append(subs, s)
		}
		delete(c.subs, topic)
	}
	c.mtx.Unlock()
	for _, s := range subs {
		s.cancel()
	}

	c.wg.Wait()
}

// Publish sends payload to the relay for fan-out on topic.
func (c *Client) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := c.write(ctx, frame{Type: framePublish, Topic: topic, Payload: json.RawMessage(payload)}); err != nil {
		return &transport.Error{Op: "publish", Topic: topic, Err: err}
	}
	return nil
}

// Subscribe registers handler for topic and waits until the relay confirms
// the subscription.
func (c *Client) Subscribe(ctx context.Context, topic string, handler transport.PayloadHandler) (transport.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, &transport.Error{Op: "subscribe", Topic: topic, Err: err}
	}

	subCtx, cancel := context.WithCancel(ctx)
	s := &clientSub{
		id:      uuid.NewString(),
		topic:   topic,
		client:  c,
		mailbox: make(chan []byte, c.capacity),
		ctx:     subCtx,
		cancel:  cancel,
	}
	ack := make(chan struct{})

	c.mtx.Lock()
	if !c.IsRunning() {
		c.mtx.Unlock()
		cancel()
		return nil, &transport.Error{Op: "subscribe", Topic: topic, Err: transport.ErrClosed}
	}
	if _, ok := c.subs[topic]; !ok {
		c.subs[topic] = make(map[string]*clientSub)
	}
	c.subs[topic][s.id] = s
	c.pending[s.id] = ack
	c.wg.Add(1)
	c.mtx.Unlock()
	go s.run(handler)

	fail := func(err error) (transport.Subscription, error) {
		c.mtx.Lock()
		delete(c.pending, s.id)
		c.mtx.Unlock()
		s.Unsubscribe()
		return nil, &transport.Error{Op: "subscribe", Topic: topic, Err: err}
	}

	if err := c.write(ctx, frame{Type: frameSubscribe, Topic: topic, ID: s.id}); err != nil {
		return fail(err)
	}
	select {
	case <-ack:
		return s, nil
	case <-ctx.Done():
		return fail(ctx.Err())
	case <-c.disconnected:
		return fail(transport.ErrClosed)
	}
}

func (c *Client) write(ctx context.Context, f frame) error {
	if !c.IsRunning() {
		return transport.ErrClosed
	}
	select {
	case <-c.disconnected:
		return transport.ErrClosed
	default:
	}

	deadline := time.Now().Add(defaultWriteWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.writeMtx.Lock()
	defer c.writeMtx.Unlock()
	_ = c.ws.SetWriteDeadline(deadline)
	return c.ws.WriteJSON(f)
}

func (c *Client) remove(s *clientSub) bool {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	byID, ok := c.subs[s.topic]
	if !ok {
		return false
	}
	if _, ok := byID[s.id]; !ok {
		return false
	}
	delete(byID, s.id)
	if len(byID) == 0 {
		delete(c.subs, s.topic)
	}
	return true
}

// readRoutine is the only reader of the connection.
func (c *Client) readRoutine() {
	defer c.wg.Done()
	defer close(c.disconnected)

	for {
		var f frame
		if err := c.ws.ReadJSON(&f); err != nil {
			if c.IsRunning() && !errors.Is(err, websocket.ErrCloseSent) {
				c.logger.Error("relay connection lost", "err", err)
			}
			return
		}

		switch f.Type {
		case frameSubscribed:
			c.mtx.Lock()
			if ack, ok := c.pending[f.ID]; ok {
				close(ack)
				delete(c.pending, f.ID)
			}
			c.mtx.Unlock()
		case frameMessage:
			c.dispatch(f.Topic, f.Payload)
		case frameError:
			c.logger.Error("relay reported an error", "err", f.Error)
		default:
			c.logger.Debug("ignoring unknown frame", "type", f.Type)
		}
	}
}

func (c *Client) dispatch(topic string, payload []byte) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	for _, s := range c.subs[topic] {
		select {
		case s.mailbox <- payload:
		default:
			c.logger.Error("subscriber mailbox full; dropping message", "topic", topic, "subscription", s.id)
		}
	}
}

type clientSub struct {
	id      string
	topic   string
	client  *Client
	mailbox chan []byte

	ctx    context.Context
	cancel context.CancelFunc
}

func (s *clientSub) Topic() string { return s.topic }

// Unsubscribe implements transport.Subscription.
func (s *clientSub) Unsubscribe() {
	s.cancel()
	if !s.client.remove(s) {
		return
	}
	err := s.client.write(context.Background(), frame{Type: frameUnsubscribe, Topic: s.topic, ID: s.id})
	if err != nil && !errors.Is(err, transport.ErrClosed) {
		s.client.logger.Debug("failed to unsubscribe", "topic", s.topic, "err", err)
	}
}

func (s *clientSub) run(handler transport.PayloadHandler) {
	defer s.client.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			s.Unsubscribe()
			return
		case <-s.client.disconnected:
			s.cancel()
			s.client.remove(s)
			return
		case payload := <-s.mailbox:
			if s.ctx.Err() != nil {
				continue
			}
			handler(s.ctx, payload)
		}
	}
}
