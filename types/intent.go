package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// BuyerInfo identifies the buyer agent and the key it signs with.
type BuyerInfo struct {
	AgentID   string `json:"agent_id"`
	PublicKey string `json:"public_key"`
}

func (b BuyerInfo) validateBasic() error {
	if b.AgentID == "" {
		return errors.New("missing buyer agent id")
	}
	if b.PublicKey == "" {
		return errors.New("missing buyer public key")
	}
	return nil
}

// Budget bounds the acceptable price, inclusive, in integer minor units.
type Budget struct {
	Min      int64  `json:"min"`
	Max      int64  `json:"max"`
	Currency string `json:"currency"`
}

// Contains reports whether amount lies within [Min, Max].
func (b Budget) Contains(amount int64) bool {
	return b.Min <= amount && amount <= b.Max
}

// Demand describes what the buyer wants.
type Demand struct {
	Category     string   `json:"category"`
	Budget       Budget   `json:"budget"`
	Attributes   []string `json:"attributes,omitempty"`
	Location     *string  `json:"location,omitempty"`
	DeliveryDays *int64   `json:"delivery_days,omitempty"`
}

// MarshalJSON keeps an empty attributes list on the wire and drops a nil one.
func (d Demand) MarshalJSON() ([]byte, error) {
	type demand Demand
	return json.Marshal(struct {
		demand
		Attributes *[]string `json:"attributes,omitempty"`
	}{demand(d), presentStrings(d.Attributes)})
}

// Intent is a buyer's signed demand broadcast.
type Intent struct {
	Envelope
	IntentID  string    `json:"intent_id"`
	Buyer     BuyerInfo `json:"buyer"`
	Demand    Demand    `json:"demand"`
	ExpiresAt *int64    `json:"expires_at,omitempty"`
}

// NewIntent returns an unsigned Intent with a fresh id, nonce and timestamp.
func NewIntent(buyer BuyerInfo, demand Demand) *Intent {
	return &Intent{
		Envelope: newEnvelope(KindIntent),
		IntentID: uuid.NewString(),
		Buyer:    buyer,
		Demand:   demand,
	}
}

func (i *Intent) ID() string { return i.IntentID }

// SignerPublicKey implements Message. Intents are signed by the buyer.
func (i *Intent) SignerPublicKey() string { return i.Buyer.PublicKey }

// IsExpired reports whether the intent carries an expiry that has passed.
func (i *Intent) IsExpired(now time.Time) bool {
	return i.ExpiresAt != nil && now.Unix() > *i.ExpiresAt
}

// ValidateBasic performs stateless checks on the intent's fields.
func (i *Intent) ValidateBasic() error {
	if err := i.Envelope.validateBasic(KindIntent); err != nil {
		return err
	}
	if i.IntentID == "" {
		return errors.New("missing intent id")
	}
	if err := i.Buyer.validateBasic(); err != nil {
		return err
	}
	if i.Demand.Category == "" {
		return errors.New("missing demand category")
	}
	b := i.Demand.Budget
	if b.Min < 0 {
		return fmt.Errorf("negative budget min %d", b.Min)
	}
	if b.Max < b.Min {
		return fmt.Errorf("budget max %d below min %d", b.Max, b.Min)
	}
	if b.Currency == "" {
		return errors.New("missing budget currency")
	}
	if i.Demand.DeliveryDays != nil && *i.Demand.DeliveryDays < 0 {
		return fmt.Errorf("negative delivery days %d", *i.Demand.DeliveryDays)
	}
	return nil
}

// MarshalZerologObject formats this object for logging purposes
func (i *Intent) MarshalZerologObject(e *zerolog.Event) {
	if i == nil {
		return
	}
	e.Str("intent_id", i.IntentID)
	e.Str("buyer", i.Buyer.AgentID)
	e.Str("category", i.Demand.Category)
	e.Int64("budget_min", i.Demand.Budget.Min)
	e.Int64("budget_max", i.Demand.Budget.Max)
	e.Str("currency", i.Demand.Budget.Currency)
	e.Int64("timestamp", i.Timestamp)
}
