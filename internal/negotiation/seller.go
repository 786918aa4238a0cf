package negotiation

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/simplelru"

	"github.com/acp0/acp0/config"
	"github.com/acp0/acp0/crypto"
	"github.com/acp0/acp0/internal/transport"
	"github.com/acp0/acp0/libs/log"
	"github.com/acp0/acp0/libs/service"
	"github.com/acp0/acp0/types"
)

// DealHandler is called for every verified Deal accepting one of the
// seller's offers. Stock is not re-checked before the call.
type DealHandler func(ctx context.Context, deal *types.Deal, offer *types.Offer)

// SellerOption sets an optional parameter on the Seller.
type SellerOption func(*Seller)

// WithSellerMetrics sets the seller's metrics.
func WithSellerMetrics(metrics *Metrics) SellerOption {
	return func(s *Seller) { s.metrics = metrics }
}

// WithSellerClock overrides the time source used to verify and expire
// messages and to stamp offer expiry.
func WithSellerClock(now func() time.Time) SellerOption {
	return func(s *Seller) { s.now = now }
}

// WithDealHandler sets the acceptance handler.
func WithDealHandler(h DealHandler) SellerOption {
	return func(s *Seller) { s.onDeal = h }
}

// DefaultMaxPendingOffers bounds the offers a seller listens on when the
// configuration leaves it unset.
const DefaultMaxPendingOffers = 1000

// Seller answers intents from its inventory. It subscribes to intents when
// started and to the deal topic of every offer it sends. An offer's deal
// subscription ends once the offer has expired, or earlier when more than
// MaxPendingOffers newer offers are outstanding.
type Seller struct {
	service.BaseService
	logger    log.Logger
	metrics   *Metrics
	config    *config.NegotiationConfig
	transport transport.Transport
	verifier  *types.Verifier
	now       func() time.Time
	onDeal    DealHandler

	privKey  crypto.PrivKey
	identity types.SellerInfo

	mtx        sync.Mutex
	inventory  Inventory
	pending    *simplelru.LRU // offer id -> *pendingOffer, oldest first
	maxPending int
	subs       []transport.Subscription
}

// pendingOffer is a sent offer the seller still accepts deals for.
type pendingOffer struct {
	offer *types.Offer
	sub   transport.Subscription
	timer *time.Timer
}

func (p *pendingOffer) release() {
	if p.timer != nil {
		p.timer.Stop()
	}
	p.sub.Unsubscribe()
}

// NewSeller returns an unstarted seller. inventory is copied; later changes
// to the caller's value do not affect the seller.
func NewSeller(
	logger log.Logger,
	cfg *config.NegotiationConfig,
	agentID, shopName string,
	privKey crypto.PrivKey,
	inventory Inventory,
	tr transport.Transport,
	options ...SellerOption,
) *Seller {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	maxPending := cfg.MaxPendingOffers
	if maxPending <= 0 {
		maxPending = DefaultMaxPendingOffers
	}
	// Eviction is done by track so the evicted subscription can be released
	// outside the lock.
	pending, err := simplelru.NewLRU(maxPending, nil)
	if err != nil {
		panic(err)
	}
	s := &Seller{
		logger:    logger.With("module", "seller", "agent", agentID),
		metrics:   NopMetrics(),
		config:    cfg,
		transport: tr,
		now:       time.Now,
		privKey:   privKey,
		identity: types.SellerInfo{
			AgentID:   agentID,
			Name:      shopName,
			PublicKey: privKey.PubKey().Armor(),
		},
		inventory:  inventory.Copy(),
		pending:    pending,
		maxPending: maxPending,
	}
	s.BaseService = *service.NewBaseService(s.logger, "Seller", s)
	for _, option := range options {
		option(s)
	}
	s.verifier = newVerifier(cfg, s.now)
	return s
}

// Identity returns the seller's agent id, shop name and armored public key.
func (s *Seller) Identity() types.SellerInfo { return s.identity }

// Inventory returns a copy of the seller's inventory.
func (s *Seller) Inventory() Inventory {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.inventory.Copy()
}

// SetStock updates the stock of the product with sku in category. It
// reports whether the product exists.
func (s *Seller) SetStock(category, sku string, stock int64) bool {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	for i := range s.inventory[category] {
		if s.inventory[category][i].SKU == sku {
			s.inventory[category][i].Stock = stock
			return true
		}
	}
	return false
}

// OnStart subscribes to intents.
func (s *Seller) OnStart(ctx context.Context) error {
	sub, err := s.transport.SubscribeIntents(ctx, s.handleIntent)
	if err != nil {
		return err
	}
	s.mtx.Lock()
	s.subs = append(s.subs, sub)
	s.mtx.Unlock()
	return nil
}

// OnStop ends every subscription the seller holds.
func (s *Seller) OnStop() {
	s.mtx.Lock()
	subs := s.subs
	s.subs = nil
	offers := make([]*pendingOffer, 0, s.pending.Len())
	for _, key := range s.pending.Keys() {
		if v, ok := s.pending.Peek(key); ok {
			offers = append(offers, v.(*pendingOffer))
		}
	}
	s.pending.Purge()
	s.mtx.Unlock()

	for _, sub := range subs {
		sub.Unsubscribe()
	}
	for _, p := range offers {
		p.release()
	}
}

// PendingOffers returns the number of sent offers the seller still accepts
// deals for.
func (s *Seller) PendingOffers() int {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.pending.Len()
}

// Respond builds, signs and sends an offer for intent if the inventory has
// a match. It returns nil without error when nothing matches. The intent
// must already be verified.
func (s *Seller) Respond(ctx context.Context, intent *types.Intent) (*types.Offer, error) {
	offer, ok := s.match(intent)
	if !ok {
		s.metrics.MatchesMissed.Add(1)
		s.logger.Debug("no matching product", "intent_id", intent.IntentID, "category", intent.Demand.Category)
		return nil, nil
	}
	if err := types.Sign(offer, s.privKey); err != nil {
		return nil, err
	}

	// Listen before sending so that an immediate deal is not missed.
	sub, err := s.transport.SubscribeDeals(ctx, offer.OfferID, s.handleDeal)
	if err != nil {
		return nil, err
	}
	s.track(offer, sub)

	if err := s.transport.SendOffer(ctx, offer, intent.IntentID); err != nil {
		s.forget(offer.OfferID, "send_failed")
		return nil, err
	}
	s.metrics.OffersSent.Add(1)
	s.logger.Info("sent offer", "offer", offer)
	return offer, nil
}

func (s *Seller) match(intent *types.Intent) (*types.Offer, bool) {
	s.mtx.Lock()
	product, ok := MatchInventory(s.inventory[intent.Demand.Category], intent.Demand.Budget)
	s.mtx.Unlock()
	if !ok {
		return nil, false
	}

	offer := types.NewOffer(intent.IntentID, s.identity, product.item(), types.Price{
		Amount:   product.Price,
		Currency: intent.Demand.Budget.Currency,
	}, product.Stock)
	offer.ExpiresAt = expiry(s.now(), s.config.OfferTTL)
	return offer, true
}

func (s *Seller) handleIntent(ctx context.Context, intent *types.Intent) {
	if err := s.verifier.Check(intent); err != nil {
		s.metrics.IntentsDropped.With("reason", "invalid").Add(1)
		s.logger.Info("dropping intent", "intent_id", intent.IntentID, "reason", "invalid", "err", err)
		return
	}
	if intent.IsExpired(s.now()) {
		s.metrics.IntentsDropped.With("reason", "expired").Add(1)
		s.logger.Debug("dropping intent", "intent_id", intent.IntentID, "reason", "expired")
		return
	}
	s.metrics.IntentsReceived.Add(1)

	if _, err := s.Respond(ctx, intent); err != nil {
		s.logger.Error("failed to respond to intent", "intent_id", intent.IntentID, "err", err)
	}
}

func (s *Seller) handleDeal(ctx context.Context, deal *types.Deal) {
	if err := s.verifier.Check(deal); err != nil {
		s.metrics.DealsDropped.With("reason", "invalid").Add(1)
		s.logger.Info("dropping deal", "deal_id", deal.DealID, "reason", "invalid", "err", err)
		return
	}

	s.mtx.Lock()
	var offer *types.Offer
	v, ok := s.pending.Peek(deal.OfferID)
	if ok {
		offer = v.(*pendingOffer).offer
	}
	s.mtx.Unlock()
	if !ok {
		s.metrics.DealsDropped.With("reason", "unknown_offer").Add(1)
		s.logger.Debug("dropping deal", "deal_id", deal.DealID, "reason", "unknown_offer")
		return
	}
	if offer.IsExpired(s.now()) {
		s.metrics.DealsDropped.With("reason", "expired").Add(1)
		s.logger.Debug("dropping deal", "deal_id", deal.DealID, "reason", "expired")
		return
	}

	s.metrics.DealsAccepted.Add(1)
	s.logger.Info("accepted deal", "deal", deal)
	if s.onDeal != nil {
		s.onDeal(ctx, deal, offer)
	}
}

// track records a sent offer. An offer with an expiry is released one
// second past its TTL, by which time IsExpired holds for it.
func (s *Seller) track(offer *types.Offer, sub transport.Subscription) {
	p := &pendingOffer{offer: offer, sub: sub}
	if ttl := s.config.OfferTTL; offer.ExpiresAt != nil && ttl > 0 {
		id := offer.OfferID
		p.timer = time.AfterFunc(ttl+time.Second, func() { s.forget(id, "expired") })
	}

	s.mtx.Lock()
	var evicted *pendingOffer
	if s.pending.Len() >= s.maxPending {
		if _, v, ok := s.pending.RemoveOldest(); ok {
			evicted = v.(*pendingOffer)
		}
	}
	s.pending.Add(offer.OfferID, p)
	s.mtx.Unlock()

	if evicted != nil {
		evicted.release()
		s.metrics.OffersReleased.With("reason", "evicted").Add(1)
		s.logger.Debug("released oldest offer", "offer_id", evicted.offer.OfferID)
	}
}

func (s *Seller) forget(offerID, reason string) {
	s.mtx.Lock()
	v, ok := s.pending.Peek(offerID)
	if ok {
		s.pending.Remove(offerID)
	}
	s.mtx.Unlock()
	if !ok {
		return
	}
	v.(*pendingOffer).release()
	s.metrics.OffersReleased.With("reason", reason).Add(1)
}
