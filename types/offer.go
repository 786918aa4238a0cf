package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// SellerInfo identifies the seller agent, its shop name and signing key.
type SellerInfo struct {
	AgentID   string `json:"agent_id"`
	Name      string `json:"name"`
	PublicKey string `json:"public_key"`
}

// Item is the product offered.
type Item struct {
	Name       string                 `json:"name"`
	SKU        string                 `json:"sku"`
	Images     []string               `json:"images,omitempty"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

// MarshalJSON omits images and attributes only when they are nil. An empty
// list or object is part of what the seller signed and is kept.
func (it Item) MarshalJSON() ([]byte, error) {
	type item Item
	return json.Marshal(struct {
		item
		Images     *[]string               `json:"images,omitempty"`
		Attributes *map[string]interface{} `json:"attributes,omitempty"`
	}{item(it), presentStrings(it.Images), presentObject(it.Attributes)})
}

// Price is an amount in integer minor currency units.
type Price struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// Offer is a seller's signed response to an Intent.
type Offer struct {
	Envelope
	OfferID   string     `json:"offer_id"`
	IntentID  string     `json:"intent_id"`
	Seller    SellerInfo `json:"seller"`
	Item      Item       `json:"item"`
	Price     Price      `json:"price"`
	Stock     int64      `json:"stock"`
	ExpiresAt *int64     `json:"expires_at,omitempty"`
}

// NewOffer returns an unsigned Offer answering intentID.
func NewOffer(intentID string, seller SellerInfo, item Item, price Price, stock int64) *Offer {
	return &Offer{
		Envelope: newEnvelope(KindOffer),
		OfferID:  uuid.NewString(),
		IntentID: intentID,
		Seller:   seller,
		Item:     item,
		Price:    price,
		Stock:    stock,
	}
}

func (o *Offer) ID() string { return o.OfferID }

// SignerPublicKey implements Message. Offers are signed by the seller.
func (o *Offer) SignerPublicKey() string { return o.Seller.PublicKey }

// IsExpired reports whether the offer carries an expiry that has passed.
func (o *Offer) IsExpired(now time.Time) bool {
	return o.ExpiresAt != nil && now.Unix() > *o.ExpiresAt
}

// ValidateBasic performs stateless checks on the offer's fields.
func (o *Offer) ValidateBasic() error {
	if err := o.Envelope.validateBasic(KindOffer); err != nil {
		return err
	}
	switch {
	case o.OfferID == "":
		return errors.New("missing offer id")
	case o.IntentID == "":
		return errors.New("missing intent id")
	case o.Seller.AgentID == "":
		return errors.New("missing seller agent id")
	case o.Seller.PublicKey == "":
		return errors.New("missing seller public key")
	case o.Item.SKU == "":
		return errors.New("missing item sku")
	case o.Price.Currency == "":
		return errors.New("missing price currency")
	}
	if o.Price.Amount < 0 {
		return fmt.Errorf("negative price %d", o.Price.Amount)
	}
	if o.Stock < 0 {
		return fmt.Errorf("negative stock %d", o.Stock)
	}
	return nil
}

// MarshalZerologObject formats this object for logging purposes
func (o *Offer) MarshalZerologObject(e *zerolog.Event) {
	if o == nil {
		return
	}
	e.Str("offer_id", o.OfferID)
	e.Str("intent_id", o.IntentID)
	e.Str("seller", o.Seller.AgentID)
	e.Str("sku", o.Item.SKU)
	e.Int64("amount", o.Price.Amount)
	e.Str("currency", o.Price.Currency)
	e.Int64("stock", o.Stock)
}
