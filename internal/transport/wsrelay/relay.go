package wsrelay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"golang.org/x/net/netutil"

	"github.com/acp0/acp0/libs/log"
	"github.com/acp0/acp0/libs/service"
)

// Relay is the WebSocket fan-out server.
type Relay struct {
	service.BaseService
	logger log.Logger

	listenAddr     string
	allowedOrigins []string
	sendCapacity   int
	maxConns       int

	upgrader websocket.Upgrader
	server   *http.Server
	addr     string

	mtx    sync.Mutex
	conns  map[*relayConn]struct{}
	topics map[string]map[*relayConn]int // topic -> connection -> subscription count
}

// RelayOption sets an optional parameter on the Relay.
type RelayOption func(*Relay)

// ListenAddr makes Start serve the relay on addr, given as host:port or
// tcp://host:port. Without it the relay only serves through Handler.
func ListenAddr(addr string) RelayOption {
	return func(r *Relay) { r.listenAddr = addr }
}

// AllowedOrigins sets the browser origins allowed to connect. "*" allows
// any origin. Requests without an Origin header are always accepted.
func AllowedOrigins(origins []string) RelayOption {
	return func(r *Relay) { r.allowedOrigins = origins }
}

// MaxConnections caps the number of simultaneously open connections on the
// listener started by ListenAddr. Zero means no limit.
func MaxConnections(n int) RelayOption {
	return func(r *Relay) { r.maxConns = n }
}

// SendCapacity sets the per-connection outbound queue length. Messages for
// a connection whose queue is full are dropped.
func SendCapacity(n int) RelayOption {
	return func(r *Relay) {
		if n > 0 {
			r.sendCapacity = n
		}
	}
}

// NewRelay returns an unstarted relay.
func NewRelay(logger log.Logger, options ...RelayOption) *Relay {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	r := &Relay{
		logger:       logger.With("module", "relay"),
		sendCapacity: defaultSendCapacity,
		conns:        make(map[*relayConn]struct{}),
		topics:       make(map[string]map[*relayConn]int),
	}
	r.BaseService = *service.NewBaseService(r.logger, "Relay", r)
	for _, option := range options {
		option(r)
	}
	r.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     r.checkOrigin,
	}
	return r
}

// Handler returns the relay's HTTP handler: WebSocket connections on
// DefaultPath and a JSON topic summary on /status. When origins are
// configured the handler answers CORS requests for them.
func (r *Relay) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(DefaultPath, r.websocketHandler)
	mux.HandleFunc("/status", r.statusHandler)

	if len(r.allowedOrigins) == 0 {
		return mux
	}
	corsMiddleware := cors.New(cors.Options{
		AllowedOrigins: r.allowedOrigins,
		AllowedMethods: []string{http.MethodHead, http.MethodGet},
		AllowedHeaders: []string{"Origin", "Accept", "Content-Type", "X-Requested-With"},
	})
	return corsMiddleware.Handler(mux)
}

// OnStart starts listening when a listen address is configured.
func (r *Relay) OnStart(ctx context.Context) error {
	if r.listenAddr == "" {
		return nil
	}
	addr := r.listenAddr
	if parts := strings.SplitN(addr, "://", 2); len(parts) == 2 {
		if parts[0] != "tcp" {
			return fmt.Errorf("unsupported relay listen protocol %q", parts[0])
		}
		addr = parts[1]
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("relay listen on %s: %w", addr, err)
	}
	if r.maxConns > 0 {
		listener = netutil.LimitListener(listener, r.maxConns)
	}

	r.server = &http.Server{
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := r.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error("relay server stopped", "err", err)
		}
	}()
	r.addr = listener.Addr().String()
	r.logger.Info("relay listening", "addr", r.addr)
	return nil
}

// Addr returns the host:port the relay listens on, or "" when it only
// serves through Handler.
func (r *Relay) Addr() string { return r.addr }

// OnStop stops the listener and closes every connection.
func (r *Relay) OnStop() {
	if r.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.server.Shutdown(ctx); err != nil {
			r.logger.Error("relay shutdown", "err", err)
		}
	}

	r.mtx.Lock()
	conns := make([]*relayConn, 0, len(r.conns))
	for c := range r.conns {
		conns = append(conns, c)
	}
	r.mtx.Unlock()

	for _, c := range conns {
		c.close()
		c.wg.Wait()
	}
}

func (r *Relay) checkOrigin(req *http.Request) bool {
	origin := req.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range r.allowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

func (r *Relay) websocketHandler(w http.ResponseWriter, req *http.Request) {
	if !r.IsRunning() {
		http.Error(w, "relay not running", http.StatusServiceUnavailable)
		return
	}
	ws, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		// The upgrader has already replied to the client.
		r.logger.Error("failed to upgrade connection", "err", err)
		return
	}

	c := &relayConn{
		relay: r,
		ws:    ws,
		send:  make(chan frame, r.sendCapacity),
		quit:  make(chan struct{}),
	}
	r.mtx.Lock()
	r.conns[c] = struct{}{}
	r.mtx.Unlock()

	r.logger.Debug("client connected", "remote", ws.RemoteAddr().String())
	c.wg.Add(2)
	go c.readRoutine()
	go c.writeRoutine()
}

type topicStatus struct {
	Topic       string `json:"topic"`
	Connections int    `json:"connections"`
}

func (r *Relay) statusHandler(w http.ResponseWriter, req *http.Request) {
	r.mtx.Lock()
	status := struct {
		Connections int           `json:"connections"`
		Topics      []topicStatus `json:"topics"`
	}{Connections: len(r.conns), Topics: []topicStatus{}}
	for topic, conns := range r.topics {
		status.Topics = append(status.Topics, topicStatus{Topic: topic, Connections: len(conns)})
	}
	r.mtx.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(status); err != nil {
		r.logger.Error("failed to write status", "err", err)
	}
}

func (r *Relay) subscribe(c *relayConn, topic string) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	if _, ok := r.topics[topic]; !ok {
		r.topics[topic] = make(map[*relayConn]int)
	}
	r.topics[topic][c]++
}

func (r *Relay) unsubscribe(c *relayConn, topic string) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	conns, ok := r.topics[topic]
	if !ok {
		return
	}
	if conns[c] <= 1 {
		delete(conns, c)
	} else {
		conns[c]--
	}
	if len(conns) == 0 {
		delete(r.topics, topic)
	}
}

func (r *Relay) removeConn(c *relayConn) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	delete(r.conns, c)
	for topic, conns := range r.topics {
		delete(conns, c)
		if len(conns) == 0 {
			delete(r.topics, topic)
		}
	}
}

// broadcast forwards payload to every connection subscribed to topic. The
// relay lock is held while enqueueing so every connection sees a topic's
// messages in publish order.
func (r *Relay) broadcast(topic string, payload json.RawMessage) {
	msg := frame{Type: frameMessage, Topic: topic, Payload: payload}

	r.mtx.Lock()
	defer r.mtx.Unlock()
	for c := range r.topics[topic] {
		if !c.enqueue(msg) {
			r.logger.Error("connection send queue full; dropping message",
				"topic", topic, "remote", c.ws.RemoteAddr().String())
		}
	}
}

type relayConn struct {
	relay *Relay
	ws    *websocket.Conn
	send  chan frame

	quit      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func (c *relayConn) enqueue(f frame) bool {
	select {
	case <-c.quit:
		return false
	case c.send <- f:
		return true
	default:
		return false
	}
}

func (c *relayConn) close() {
	c.closeOnce.Do(func() {
		close(c.quit)
		c.relay.removeConn(c)
	})
}

// readRoutine is the only reader of the connection.
func (c *relayConn) readRoutine() {
	defer c.wg.Done()
	defer c.close()

	_ = c.ws.SetReadDeadline(time.Now().Add(defaultReadWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(defaultReadWait))
	})

	for {
		var f frame
		if err := c.ws.ReadJSON(&f); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.relay.logger.Error("failed to read frame", "err", err)
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(defaultReadWait))

		switch f.Type {
		case frameSubscribe:
			c.relay.subscribe(c, f.Topic)
			c.enqueue(frame{Type: frameSubscribed, ID: f.ID, Topic: f.Topic})
		case frameUnsubscribe:
			c.relay.unsubscribe(c, f.Topic)
		case framePublish:
			c.relay.broadcast(f.Topic, f.Payload)
		default:
			c.enqueue(frame{Type: frameError, Error: fmt.Sprintf("unknown frame type %q", f.Type)})
		}
	}
}

// writeRoutine is the only writer of the connection.
func (c *relayConn) writeRoutine() {
	ticker := time.NewTicker(defaultPingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
		c.wg.Done()
	}()

	for {
		select {
		case f := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(defaultWriteWait))
			if err := c.ws.WriteJSON(f); err != nil {
				c.relay.logger.Error("failed to write frame", "err", err)
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(defaultWriteWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		case <-c.quit:
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(defaultWriteWait))
			return
		}
	}
}
