package types

import (
	"errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Payment statuses used by the buyer when committing.
const (
	PaymentAuthorized = "authorized"
)

// Payment describes how the buyer intends to settle. Settlement itself is
// out of band.
type Payment struct {
	Method string  `json:"method"`
	Status string  `json:"status"`
	Token  *string `json:"token,omitempty"`
}

// Deal is the buyer's signed acceptance of an Offer.
type Deal struct {
	Envelope
	DealID  string    `json:"deal_id"`
	OfferID string    `json:"offer_id"`
	Buyer   BuyerInfo `json:"buyer"`
	Payment Payment   `json:"payment"`
}

// NewDeal returns an unsigned Deal accepting offerID.
func NewDeal(offerID string, buyer BuyerInfo, payment Payment) *Deal {
	return &Deal{
		Envelope: newEnvelope(KindDeal),
		DealID:   uuid.NewString(),
		OfferID:  offerID,
		Buyer:    buyer,
		Payment:  payment,
	}
}

func (d *Deal) ID() string { return d.DealID }

// SignerPublicKey implements Message. Deals are signed by the buyer.
func (d *Deal) SignerPublicKey() string { return d.Buyer.PublicKey }

// ValidateBasic performs stateless checks on the deal's fields.
func (d *Deal) ValidateBasic() error {
	if err := d.Envelope.validateBasic(KindDeal); err != nil {
		return err
	}
	if d.DealID == "" {
		return errors.New("missing deal id")
	}
	if d.OfferID == "" {
		return errors.New("missing offer id")
	}
	if err := d.Buyer.validateBasic(); err != nil {
		return err
	}
	if d.Payment.Method == "" {
		return errors.New("missing payment method")
	}
	if d.Payment.Status == "" {
		return errors.New("missing payment status")
	}
	return nil
}

// MarshalZerologObject formats this object for logging purposes
func (d *Deal) MarshalZerologObject(e *zerolog.Event) {
	if d == nil {
		return
	}
	e.Str("deal_id", d.DealID)
	e.Str("offer_id", d.OfferID)
	e.Str("buyer", d.Buyer.AgentID)
	e.Str("payment_method", d.Payment.Method)
	e.Str("payment_status", d.Payment.Status)
}
