package types

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ProtocolVersion is stamped on every message built by this package.
const ProtocolVersion = "0.9"

// MessageKind discriminates the three signed message variants on the wire.
type MessageKind string

const (
	KindIntent MessageKind = "intent"
	KindOffer  MessageKind = "offer"
	KindDeal   MessageKind = "deal"
)

// IsValid reports whether k is a known message kind.
func (k MessageKind) IsValid() bool {
	switch k {
	case KindIntent, KindOffer, KindDeal:
		return true
	}
	return false
}

// AnchorMode selects how a message is anchored to an external ledger.
// Only the value is carried; anchoring itself happens elsewhere.
type AnchorMode string

const (
	AnchorNone AnchorMode = "none"
	AnchorHash AnchorMode = "hash"
	AnchorFull AnchorMode = "full"
)

// IsValid reports whether m is a known anchor mode.
func (m AnchorMode) IsValid() bool {
	switch m {
	case AnchorNone, AnchorHash, AnchorFull:
		return true
	}
	return false
}

// Envelope is the header shared by Intent, Offer and Deal. Its fields are
// flattened into the enclosing message on the wire.
type Envelope struct {
	ProtocolVersion string      `json:"protocol_version"`
	MessageKind     MessageKind `json:"message_kind"`
	AnchorMode      AnchorMode  `json:"anchor_mode"`
	// Signature is the base64 DER signature over the canonical bytes of the
	// enclosing message. It is never part of those bytes.
	Signature string `json:"signature,omitempty"`
	Nonce     string `json:"nonce"`
	Timestamp int64  `json:"timestamp"`
}

func newEnvelope(kind MessageKind) Envelope {
	return Envelope{
		ProtocolVersion: ProtocolVersion,
		MessageKind:     kind,
		AnchorMode:      AnchorNone,
		Nonce:           uuid.NewString(),
		Timestamp:       time.Now().Unix(),
	}
}

// Header returns the envelope itself so that embedding messages expose it
// through the Message interface.
func (e *Envelope) Header() *Envelope { return e }

// IsSigned reports whether a signature is present.
func (e *Envelope) IsSigned() bool { return e.Signature != "" }

func (e *Envelope) validateBasic(kind MessageKind) error {
	if e.ProtocolVersion == "" {
		return errors.New("missing protocol version")
	}
	if e.MessageKind != kind {
		return fmt.Errorf("message kind %q, expected %q", e.MessageKind, kind)
	}
	if !e.AnchorMode.IsValid() {
		return fmt.Errorf("unknown anchor mode %q", e.AnchorMode)
	}
	if e.Nonce == "" {
		return errors.New("missing nonce")
	}
	if e.Timestamp <= 0 {
		return errors.New("non-positive timestamp")
	}
	return nil
}

// Message is implemented by every signed protocol message. Each variant
// names the key that must have produced its signature.
type Message interface {
	Header() *Envelope
	// ID returns the message's own identifier (intent_id, offer_id or deal_id).
	ID() string
	// SignerPublicKey returns the armored public key the signature must
	// verify against.
	SignerPublicKey() string
	ValidateBasic() error
}

// isNil reports whether m is nil or a nil pointer to one of the variants.
func isNil(m Message) bool {
	switch msg := m.(type) {
	case nil:
		return true
	case *Intent:
		return msg == nil
	case *Offer:
		return msg == nil
	case *Deal:
		return msg == nil
	}
	return false
}

var (
	_ Message = (*Intent)(nil)
	_ Message = (*Offer)(nil)
	_ Message = (*Deal)(nil)
)
