package types

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Encode returns the wire form of m, signature included.
func Encode(m Message) ([]byte, error) {
	return json.Marshal(m)
}

// Decode parses a wire payload into the message variant named by its
// message_kind and runs ValidateBasic on it. It does not verify signatures.
func Decode(bz []byte) (Message, error) {
	var probe struct {
		MessageKind MessageKind `json:"message_kind"`
	}
	if err := json.Unmarshal(bz, &probe); err != nil {
		return nil, fmt.Errorf("decode message kind: %w", err)
	}

	var m Message
	switch probe.MessageKind {
	case KindIntent:
		m = new(Intent)
	case KindOffer:
		m = new(Offer)
	case KindDeal:
		m = new(Deal)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, probe.MessageKind)
	}

	// Numbers inside free-form attributes stay as their literal text so a
	// re-encoding reproduces the bytes the sender signed.
	dec := json.NewDecoder(bytes.NewReader(bz))
	dec.UseNumber()
	if err := dec.Decode(m); err != nil {
		return nil, fmt.Errorf("decode %s: %w", probe.MessageKind, err)
	}
	if err := m.ValidateBasic(); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", probe.MessageKind, err)
	}
	return m, nil
}

// DecodeIntent decodes bz and requires it to be an Intent.
func DecodeIntent(bz []byte) (*Intent, error) {
	m, err := Decode(bz)
	if err != nil {
		return nil, err
	}
	intent, ok := m.(*Intent)
	if !ok {
		return nil, fmt.Errorf("expected intent, got %s", m.Header().MessageKind)
	}
	return intent, nil
}

// DecodeOffer decodes bz and requires it to be an Offer.
func DecodeOffer(bz []byte) (*Offer, error) {
	m, err := Decode(bz)
	if err != nil {
		return nil, err
	}
	offer, ok := m.(*Offer)
	if !ok {
		return nil, fmt.Errorf("expected offer, got %s", m.Header().MessageKind)
	}
	return offer, nil
}

// DecodeDeal decodes bz and requires it to be a Deal.
func DecodeDeal(bz []byte) (*Deal, error) {
	m, err := Decode(bz)
	if err != nil {
		return nil, err
	}
	deal, ok := m.(*Deal)
	if !ok {
		return nil, fmt.Errorf("expected deal, got %s", m.Header().MessageKind)
	}
	return deal, nil
}

// presentStrings and presentObject map nil to nil and anything else, empty
// included, to a pointer so that omitempty only drops absent values.
func presentStrings(s []string) *[]string {
	if s == nil {
		return nil
	}
	return &s
}

func presentObject(m map[string]interface{}) *map[string]interface{} {
	if m == nil {
		return nil
	}
	return &m
}
