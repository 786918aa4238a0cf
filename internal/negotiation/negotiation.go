// Package negotiation implements the buyer and seller roles of the
// protocol.
//
// A Buyer broadcasts an Intent, collects signed Offers for a bounded
// window, selects the cheapest and commits with a signed Deal. A Seller
// answers every verified Intent it has a matching product for and hands
// verified Deals for its own Offers to an acceptance handler.
//
// Stock is never reserved: two buyers may both commit on the last unit of
// a product, and sellers do not re-check stock when a Deal arrives.
package negotiation

import (
	"errors"
	"time"

	"github.com/acp0/acp0/config"
	"github.com/acp0/acp0/types"
)

var (
	// ErrNoMatch is returned when a buyer has no verified offer to select.
	ErrNoMatch = errors.New("no matching offers")

	// ErrInvalidState is returned when a buyer operation is called in a
	// state that does not permit it.
	ErrInvalidState = errors.New("invalid buyer state")

	// ErrUnknownOffer is returned when a buyer is asked to select or accept
	// an offer it did not collect and verify itself.
	ErrUnknownOffer = errors.New("offer was not collected by this buyer")
)

// BestOffer returns the offer with the lowest price amount. Ties go to the
// offer that comes first. An empty list yields ErrNoMatch.
func BestOffer(offers []*types.Offer) (*types.Offer, error) {
	if len(offers) == 0 {
		return nil, ErrNoMatch
	}
	best := offers[0]
	for _, o := range offers[1:] {
		if o.Price.Amount < best.Price.Amount {
			best = o
		}
	}
	return best, nil
}

func newVerifier(cfg *config.NegotiationConfig, now func() time.Time) *types.Verifier {
	return types.NewVerifier(cfg.TimestampTolerance,
		types.WithClock(now),
		types.WithNonceCache(cfg.NonceCacheSize),
	)
}

func expiry(now time.Time, ttl time.Duration) *int64 {
	if ttl <= 0 {
		return nil
	}
	at := now.Add(ttl).Unix()
	return &at
}
