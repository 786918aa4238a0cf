package wsrelay_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acp0/acp0/internal/test/factory"
	"github.com/acp0/acp0/internal/transport"
	"github.com/acp0/acp0/internal/transport/wsrelay"
	"github.com/acp0/acp0/libs/log"
	"github.com/acp0/acp0/types"
)

const waitFor = 5 * time.Second

type testRelay struct {
	relay *wsrelay.Relay
	srv   *httptest.Server
	url   string
}

func newTestRelay(ctx context.Context, t *testing.T, options ...wsrelay.RelayOption) *testRelay {
	t.Helper()
	relay := wsrelay.NewRelay(log.NewNopLogger(), options...)
	require.NoError(t, relay.Start(ctx))
	srv := httptest.NewServer(relay.Handler())
	return &testRelay{
		relay: relay,
		srv:   srv,
		url:   "ws://" + srv.Listener.Addr().String() + wsrelay.DefaultPath,
	}
}

func (r *testRelay) close(t *testing.T) {
	t.Helper()
	require.NoError(t, r.relay.Stop())
	r.srv.Close()
}

func dial(ctx context.Context, t *testing.T, url string) (*transport.Bus, *wsrelay.Client) {
	t.Helper()
	bus, client, err := wsrelay.NewTransport(ctx, url, log.NewNopLogger())
	require.NoError(t, err)
	return bus, client
}

func TestRelayFanOut(t *testing.T) {
	defer leaktest.Check(t)()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := newTestRelay(ctx, t)

	buyerBus, buyerClient := dial(ctx, t, r.url)
	sellerBus, sellerClient := dial(ctx, t, r.url)
	otherBus, otherClient := dial(ctx, t, r.url)

	sellerIntents := make(chan *types.Intent, 1)
	_, err := sellerBus.SubscribeIntents(ctx, func(_ context.Context, intent *types.Intent) {
		sellerIntents <- intent
	})
	require.NoError(t, err)
	otherIntents := make(chan *types.Intent, 1)
	_, err = otherBus.SubscribeIntents(ctx, func(_ context.Context, intent *types.Intent) {
		otherIntents <- intent
	})
	require.NoError(t, err)

	intent := factory.SignedIntent(t)
	require.NoError(t, buyerBus.BroadcastIntent(ctx, intent))

	for _, ch := range []chan *types.Intent{sellerIntents, otherIntents} {
		select {
		case got := <-ch:
			assert.Equal(t, intent.IntentID, got.IntentID)
			assert.True(t, types.Verify(got))
		case <-time.After(waitFor):
			t.Fatal("intent not relayed")
		}
	}

	// Offers only reach subscribers of the intent's offer topic.
	offers := make(chan *types.Offer, 1)
	_, err = buyerBus.SubscribeOffers(ctx, intent.IntentID, func(_ context.Context, offer *types.Offer) {
		offers <- offer
	})
	require.NoError(t, err)
	offer := factory.SignedOffer(t, intent.IntentID, 499900)
	require.NoError(t, sellerBus.SendOffer(ctx, offer, intent.IntentID))

	select {
	case got := <-offers:
		assert.Equal(t, offer.OfferID, got.OfferID)
	case <-time.After(waitFor):
		t.Fatal("offer not relayed")
	}

	for _, c := range []*wsrelay.Client{buyerClient, sellerClient, otherClient} {
		require.NoError(t, c.Stop())
	}
	r.close(t)
}

func TestRelayPreservesOrder(t *testing.T) {
	defer leaktest.Check(t)()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := newTestRelay(ctx, t)

	pub := wsrelay.NewClient(r.url, log.NewNopLogger())
	require.NoError(t, pub.Start(ctx))
	sub := wsrelay.NewClient(r.url, log.NewNopLogger())
	require.NoError(t, sub.Start(ctx))

	const topic = "acp0/deals/offer-1"
	got := make(chan string, 32)
	_, err := sub.Subscribe(ctx, topic, func(_ context.Context, payload []byte) {
		var n int
		assert.NoError(t, json.Unmarshal(payload, &n))
		got <- string(payload)
	})
	require.NoError(t, err)

	want := []string{"1", "2", "3", "4", "5", "6", "7", "8"}
	for _, p := range want {
		require.NoError(t, pub.Publish(ctx, topic, []byte(p)))
	}
	for _, p := range want {
		select {
		case g := <-got:
			assert.Equal(t, p, g)
		case <-time.After(waitFor):
			t.Fatal("payload not relayed")
		}
	}

	require.NoError(t, pub.Stop())
	require.NoError(t, sub.Stop())
	r.close(t)
}

func TestRelayUnsubscribe(t *testing.T) {
	defer leaktest.Check(t)()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := newTestRelay(ctx, t)

	client := wsrelay.NewClient(r.url, log.NewNopLogger())
	require.NoError(t, client.Start(ctx))

	const topic = transport.IntentsTopic
	got := make(chan string, 4)
	s, err := client.Subscribe(ctx, topic, func(_ context.Context, payload []byte) {
		got <- string(payload)
	})
	require.NoError(t, err)
	assert.Equal(t, topic, s.Topic())

	require.NoError(t, client.Publish(ctx, topic, []byte(`"before"`)))
	select {
	case g := <-got:
		assert.Equal(t, `"before"`, g)
	case <-time.After(waitFor):
		t.Fatal("payload not relayed")
	}

	s.Unsubscribe()
	s.Unsubscribe()

	// A second subscription confirms the relay has processed the
	// unsubscribe frame, which was sent earlier on the same connection.
	marker := make(chan string, 1)
	_, err = client.Subscribe(ctx, "acp0/marker", func(_ context.Context, payload []byte) {
		marker <- string(payload)
	})
	require.NoError(t, err)
	require.NoError(t, client.Publish(ctx, topic, []byte(`"after"`)))
	require.NoError(t, client.Publish(ctx, "acp0/marker", []byte(`"done"`)))

	select {
	case <-marker:
	case <-time.After(waitFor):
		t.Fatal("marker not relayed")
	}
	assert.Len(t, got, 0)

	require.NoError(t, client.Stop())
	r.close(t)
}

func TestRelayStatusAndCORS(t *testing.T) {
	defer leaktest.Check(t)()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := newTestRelay(ctx, t, wsrelay.AllowedOrigins([]string{"https://shop.example"}))

	client := wsrelay.NewClient(r.url, log.NewNopLogger())
	require.NoError(t, client.Start(ctx))
	_, err := client.Subscribe(ctx, transport.IntentsTopic, func(context.Context, []byte) {})
	require.NoError(t, err)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.srv.URL+"/status", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://shop.example")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer http.DefaultClient.CloseIdleConnections()
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "https://shop.example", resp.Header.Get("Access-Control-Allow-Origin"))

	var status struct {
		Connections int `json:"connections"`
		Topics      []struct {
			Topic       string `json:"topic"`
			Connections int    `json:"connections"`
		} `json:"topics"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.Equal(t, 1, status.Connections)
	require.Len(t, status.Topics, 1)
	assert.Equal(t, transport.IntentsTopic, status.Topics[0].Topic)

	require.NoError(t, client.Stop())
	r.close(t)
}

func TestRelayRejectsForeignOrigin(t *testing.T) {
	defer leaktest.Check(t)()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := newTestRelay(ctx, t, wsrelay.AllowedOrigins([]string{"https://shop.example"}))

	d := websocket.Dialer{}
	header := http.Header{"Origin": []string{"https://evil.example"}}
	_, resp, err := d.Dial(r.url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()

	header.Set("Origin", "https://shop.example")
	c, resp, err := d.Dial(r.url, header)
	require.NoError(t, err)
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	resp.Body.Close()
	c.Close()

	r.close(t)
}

func TestClientConnectError(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()

	// Nothing listens on port 1.
	_, _, err := wsrelay.NewTransport(ctx, "ws://127.0.0.1:1/ws", log.NewNopLogger())
	require.Error(t, err)

	var terr *transport.Error
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, "connect", terr.Op)
}

func TestClientClosed(t *testing.T) {
	defer leaktest.Check(t)()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := newTestRelay(ctx, t)

	client := wsrelay.NewClient(r.url, log.NewNopLogger())
	require.NoError(t, client.Start(ctx))
	require.NoError(t, client.Stop())

	err := client.Publish(ctx, transport.IntentsTopic, []byte(`{}`))
	assert.True(t, errors.Is(err, transport.ErrClosed))
	_, err = client.Subscribe(ctx, transport.IntentsTopic, func(context.Context, []byte) {})
	assert.True(t, errors.Is(err, transport.ErrClosed))

	r.close(t)
}

func TestClientNoticesRelayShutdown(t *testing.T) {
	defer leaktest.Check(t)()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := newTestRelay(ctx, t)

	client := wsrelay.NewClient(r.url, log.NewNopLogger())
	require.NoError(t, client.Start(ctx))

	ended := make(chan struct{})
	_, err := client.Subscribe(ctx, transport.IntentsTopic, func(context.Context, []byte) {})
	require.NoError(t, err)
	go func() {
		defer close(ended)
		for {
			err := client.Publish(ctx, transport.IntentsTopic, []byte(`{}`))
			if errors.Is(err, transport.ErrClosed) {
				return
			}
			time.Sleep(10 * time.Millisecond)
		}
	}()

	r.close(t)

	select {
	case <-ended:
	case <-time.After(waitFor):
		t.Fatal("client did not notice the relay going away")
	}
	require.NoError(t, client.Stop())
}

func TestRelayListenAddr(t *testing.T) {
	defer leaktest.Check(t)()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	relay := wsrelay.NewRelay(log.NewNopLogger(), wsrelay.ListenAddr("tcp://127.0.0.1:0"))
	require.NoError(t, relay.Start(ctx))
	require.NoError(t, relay.Stop())

	bad := wsrelay.NewRelay(log.NewNopLogger(), wsrelay.ListenAddr("unix:///tmp/acp0.sock"))
	require.Error(t, bad.Start(ctx))
}

func TestRelayMaxConnections(t *testing.T) {
	defer leaktest.Check(t)()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	relay := wsrelay.NewRelay(log.NewNopLogger(),
		wsrelay.ListenAddr("tcp://127.0.0.1:0"),
		wsrelay.MaxConnections(1),
	)
	require.NoError(t, relay.Start(ctx))
	defer func() { require.NoError(t, relay.Stop()) }()
	require.NotEmpty(t, relay.Addr())

	url := "ws://" + relay.Addr() + wsrelay.DefaultPath
	_, client := dial(ctx, t, url)
	defer func() { require.NoError(t, client.Stop()) }()

	dialer := &websocket.Dialer{HandshakeTimeout: 300 * time.Millisecond}
	conn, _, err := dialer.Dial(url, nil)
	if conn != nil {
		conn.Close()
	}
	require.Error(t, err, "second connection must wait for a free slot")
}
