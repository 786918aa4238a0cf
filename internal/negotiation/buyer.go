package negotiation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/acp0/acp0/config"
	"github.com/acp0/acp0/crypto"
	"github.com/acp0/acp0/internal/transport"
	"github.com/acp0/acp0/libs/log"
	"github.com/acp0/acp0/types"
)

// BuyerState is a step of the buyer's negotiation.
type BuyerState int

const (
	StateIdle BuyerState = iota
	StateBroadcasting
	StateCollecting
	StateSelected
	StateCommitted
)

func (s BuyerState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateBroadcasting:
		return "BROADCASTING"
	case StateCollecting:
		return "COLLECTING"
	case StateSelected:
		return "SELECTED"
	case StateCommitted:
		return "COMMITTED"
	default:
		return fmt.Sprintf("BuyerState(%d)", int(s))
	}
}

// BuyerOption sets an optional parameter on the Buyer.
type BuyerOption func(*Buyer)

// WithBuyerMetrics sets the buyer's metrics.
func WithBuyerMetrics(metrics *Metrics) BuyerOption {
	return func(b *Buyer) { b.metrics = metrics }
}

// WithBuyerClock overrides the time source used to verify and expire
// offers and to stamp intent expiry.
func WithBuyerClock(now func() time.Time) BuyerOption {
	return func(b *Buyer) { b.now = now }
}

// WithPaymentToken sets the payment token attached to deals.
func WithPaymentToken(token string) BuyerOption {
	return func(b *Buyer) { b.paymentToken = &token }
}

// Buyer drives one negotiation at a time through the states
// IDLE, BROADCASTING, COLLECTING, SELECTED and COMMITTED. COMMITTED is
// terminal. Broadcasting again from COLLECTING or SELECTED abandons the
// current negotiation and starts a new one.
//
// Buyer is safe for concurrent use.
type Buyer struct {
	logger    log.Logger
	metrics   *Metrics
	config    *config.NegotiationConfig
	transport transport.Transport
	verifier  *types.Verifier
	now       func() time.Time

	privKey      crypto.PrivKey
	identity     types.BuyerInfo
	paymentToken *string

	mtx      sync.Mutex
	state    BuyerState
	intent   *types.Intent
	offers   []*types.Offer
	seen     map[string]*types.Offer // offer id -> verified offer
	offerSub transport.Subscription
	selected *types.Offer
	deal     *types.Deal
}

// NewBuyer returns an idle buyer identified by agentID and signing with
// privKey.
func NewBuyer(
	logger log.Logger,
	cfg *config.NegotiationConfig,
	agentID string,
	privKey crypto.PrivKey,
	tr transport.Transport,
	options ...BuyerOption,
) *Buyer {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	b := &Buyer{
		logger:    logger.With("module", "buyer", "agent", agentID),
		metrics:   NopMetrics(),
		config:    cfg,
		transport: tr,
		now:       time.Now,
		privKey:   privKey,
		identity: types.BuyerInfo{
			AgentID:   agentID,
			PublicKey: privKey.PubKey().Armor(),
		},
	}
	for _, option := range options {
		option(b)
	}
	b.verifier = newVerifier(cfg, b.now)
	return b
}

// Identity returns the buyer's agent id and armored public key.
func (b *Buyer) Identity() types.BuyerInfo { return b.identity }

// State returns the current state.
func (b *Buyer) State() BuyerState {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	return b.state
}

// Intent returns the intent of the current negotiation, or nil when idle.
func (b *Buyer) Intent() *types.Intent {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	return b.intent
}

// Deal returns the committed deal, or nil before Purchase succeeds.
func (b *Buyer) Deal() *types.Deal {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	return b.deal
}

// Broadcast signs an Intent for demand, starts listening for offers to it
// and publishes it. Any offers buffered for a previous intent are
// discarded. Transport errors are returned unmodified and leave the buyer
// idle.
func (b *Buyer) Broadcast(ctx context.Context, demand types.Demand) (*types.Intent, error) {
	b.mtx.Lock()
	switch b.state {
	case StateBroadcasting, StateCommitted:
		state := b.state
		b.mtx.Unlock()
		return nil, fmt.Errorf("%w: cannot broadcast in state %s", ErrInvalidState, state)
	}
	if b.offerSub != nil {
		b.offerSub.Unsubscribe()
		b.offerSub = nil
	}

	intent := types.NewIntent(b.identity, demand)
	intent.ExpiresAt = expiry(b.now(), b.config.IntentTTL)
	if err := intent.ValidateBasic(); err != nil {
		b.mtx.Unlock()
		return nil, fmt.Errorf("invalid intent: %w", err)
	}
	if err := types.Sign(intent, b.privKey); err != nil {
		b.mtx.Unlock()
		return nil, err
	}

	b.state = StateBroadcasting
	b.intent = intent
	b.offers = nil
	b.seen = make(map[string]*types.Offer)
	b.selected = nil
	b.mtx.Unlock()

	sub, err := b.transport.SubscribeOffers(ctx, intent.IntentID, b.handleOffer)
	if err != nil {
		b.reset()
		return nil, err
	}
	if err := b.transport.BroadcastIntent(ctx, intent); err != nil {
		sub.Unsubscribe()
		b.reset()
		return nil, err
	}

	b.mtx.Lock()
	b.offerSub = sub
	b.state = StateCollecting
	b.mtx.Unlock()

	b.metrics.IntentsBroadcast.Add(1)
	b.logger.Info("broadcast intent", "intent", intent)
	return intent, nil
}

// Collect waits for window or until ctx is done, then stops listening and
// returns the verified offers in the order they arrived. When ctx ends
// first the offers gathered so far are returned with ctx's error.
func (b *Buyer) Collect(ctx context.Context, window time.Duration) ([]*types.Offer, error) {
	b.mtx.Lock()
	if b.state != StateCollecting {
		state := b.state
		b.mtx.Unlock()
		return nil, fmt.Errorf("%w: cannot collect in state %s", ErrInvalidState, state)
	}
	intent := b.intent
	b.mtx.Unlock()

	timer := time.NewTimer(window)
	defer timer.Stop()

	var err error
	select {
	case <-timer.C:
	case <-ctx.Done():
		err = ctx.Err()
	}

	b.mtx.Lock()
	defer b.mtx.Unlock()
	// A concurrent Broadcast may have replaced the negotiation.
	if b.intent != intent {
		return nil, fmt.Errorf("%w: negotiation replaced while collecting", ErrInvalidState)
	}
	if b.offerSub != nil {
		b.offerSub.Unsubscribe()
		b.offerSub = nil
	}
	offers := append([]*types.Offer(nil), b.offers...)
	b.metrics.OffersCollected.Observe(float64(len(offers)))
	b.logger.Debug("collection window closed", "intent_id", intent.IntentID, "offers", len(offers))
	return offers, err
}

// SelectBest picks the cheapest of offers, ties going to the earliest, and
// moves the buyer to SELECTED. offers must come from Collect. It returns
// ErrNoMatch for an empty list.
func (b *Buyer) SelectBest(offers []*types.Offer) (*types.Offer, error) {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	if b.state != StateCollecting && b.state != StateSelected {
		return nil, fmt.Errorf("%w: cannot select in state %s", ErrInvalidState, b.state)
	}
	for _, o := range offers {
		if !b.collectedLocked(o) {
			return nil, ErrUnknownOffer
		}
	}

	best, err := BestOffer(offers)
	if err != nil {
		b.metrics.NoMatch.Add(1)
		b.logger.Info("no offers to select from", "intent_id", b.intent.IntentID)
		return nil, err
	}
	b.selected = best
	b.state = StateSelected
	b.logger.Info("selected offer", "offer", best)
	return best, nil
}

// Purchase signs a Deal accepting offer and sends it to the offer's deal
// topic. The offer must be the one SelectBest returned for the current
// intent. On success the buyer is COMMITTED; a transport error is returned
// unmodified and leaves the buyer in SELECTED so the purchase can be
// retried.
func (b *Buyer) Purchase(ctx context.Context, offer *types.Offer) (*types.Deal, error) {
	if offer == nil {
		return nil, ErrUnknownOffer
	}
	b.mtx.Lock()
	if b.state != StateSelected {
		state := b.state
		b.mtx.Unlock()
		return nil, fmt.Errorf("%w: cannot purchase in state %s", ErrInvalidState, state)
	}
	if offer.IntentID != b.intent.IntentID {
		b.mtx.Unlock()
		return nil, fmt.Errorf("%w: offer %s answers intent %s, not %s",
			ErrInvalidState, offer.OfferID, offer.IntentID, b.intent.IntentID)
	}
	if offer != b.selected || !b.collectedLocked(offer) {
		b.mtx.Unlock()
		return nil, fmt.Errorf("%w: offer %s is not the selected offer", ErrUnknownOffer, offer.OfferID)
	}
	b.mtx.Unlock()

	deal := types.NewDeal(offer.OfferID, b.identity, types.Payment{
		Method: b.config.PaymentMethod,
		Status: types.PaymentAuthorized,
		Token:  b.paymentToken,
	})
	if err := types.Sign(deal, b.privKey); err != nil {
		return nil, err
	}
	if err := b.transport.SendDeal(ctx, deal, offer.OfferID); err != nil {
		return nil, err
	}

	b.mtx.Lock()
	b.state = StateCommitted
	b.selected = offer
	b.deal = deal
	b.mtx.Unlock()

	b.metrics.DealsSent.Add(1)
	b.logger.Info("sent deal", "deal", deal)
	return deal, nil
}

// Negotiate runs a whole negotiation for demand: broadcast, collect for
// window, select and purchase. It returns the deal together with the offer
// it accepts.
func (b *Buyer) Negotiate(ctx context.Context, demand types.Demand, window time.Duration) (*types.Deal, *types.Offer, error) {
	if window <= 0 {
		window = b.config.CollectWindow
	}
	if _, err := b.Broadcast(ctx, demand); err != nil {
		return nil, nil, err
	}
	offers, err := b.Collect(ctx, window)
	if err != nil {
		return nil, nil, err
	}
	best, err := b.SelectBest(offers)
	if err != nil {
		return nil, nil, err
	}
	deal, err := b.Purchase(ctx, best)
	if err != nil {
		return nil, nil, err
	}
	return deal, best, nil
}

func (b *Buyer) handleOffer(_ context.Context, offer *types.Offer) {
	if err := b.verifier.Check(offer); err != nil {
		b.dropOffer(offer, "invalid", err)
		return
	}
	if offer.IsExpired(b.now()) {
		b.dropOffer(offer, "expired", nil)
		return
	}

	b.mtx.Lock()
	defer b.mtx.Unlock()
	switch {
	case b.intent == nil || offer.IntentID != b.intent.IntentID:
		b.dropOfferLocked(offer, "foreign", nil)
		return
	case b.state != StateBroadcasting && b.state != StateCollecting:
		b.dropOfferLocked(offer, "late", nil)
		return
	}
	if _, ok := b.seen[offer.OfferID]; ok {
		b.dropOfferLocked(offer, "duplicate", nil)
		return
	}
	b.seen[offer.OfferID] = offer
	b.offers = append(b.offers, offer)
	b.metrics.OffersReceived.Add(1)
	b.logger.Debug("received offer", "offer", offer)
}

// collectedLocked reports whether o is an offer handleOffer verified and
// buffered for the current intent.
func (b *Buyer) collectedLocked(o *types.Offer) bool {
	return o != nil && b.seen[o.OfferID] == o
}

func (b *Buyer) dropOffer(offer *types.Offer, reason string, err error) {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	b.dropOfferLocked(offer, reason, err)
}

func (b *Buyer) dropOfferLocked(offer *types.Offer, reason string, err error) {
	b.metrics.OffersDropped.With("reason", reason).Add(1)
	if err != nil {
		b.logger.Info("dropping offer", "offer_id", offer.OfferID, "reason", reason, "err", err)
		return
	}
	b.logger.Debug("dropping offer", "offer_id", offer.OfferID, "reason", reason)
}

func (b *Buyer) reset() {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	b.state = StateIdle
	b.intent = nil
	b.offers = nil
	b.seen = nil
}
