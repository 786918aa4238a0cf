package types

import (
	"encoding/base64"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/acp0/acp0/crypto"
	"github.com/acp0/acp0/crypto/secp256k1"
)

// DefaultTimestampTolerance bounds clock skew in both directions and with
// it the window in which a captured message can be replayed.
const DefaultTimestampTolerance = 60 * time.Second

// Sign computes the canonical bytes of m, signs them with privKey and
// stores the armored signature in the envelope. privKey must belong to the
// message's designated signer.
func Sign(m Message, privKey crypto.PrivKey) error {
	if isNil(m) {
		return ErrNilMessage
	}
	if privKey.PubKey().Armor() != m.SignerPublicKey() {
		return ErrSignerMismatch
	}
	signBytes, err := CanonicalBytes(m)
	if err != nil {
		return err
	}
	sig, err := privKey.Sign(signBytes)
	if err != nil {
		return fmt.Errorf("sign %s: %w", m.Header().MessageKind, err)
	}
	m.Header().Signature = base64.StdEncoding.EncodeToString(sig)
	return nil
}

// Verifier checks message freshness and signatures. The zero value is not
// usable; construct one with NewVerifier.
type Verifier struct {
	tolerance time.Duration
	now       func() time.Time
	nonces    *lru.Cache
}

// VerifierOption configures a Verifier.
type VerifierOption func(*Verifier)

// WithClock overrides the time source used for the freshness check.
func WithClock(now func() time.Time) VerifierOption {
	return func(v *Verifier) { v.now = now }
}

// WithNonceCache rejects a second message from the same signer carrying a
// nonce seen among the last size verified messages. Other ACP0 peers do not
// deduplicate nonces, so enabling this narrows what this agent accepts.
func WithNonceCache(size int) VerifierOption {
	return func(v *Verifier) {
		if size <= 0 {
			return
		}
		cache, err := lru.New(size)
		if err != nil {
			panic(err)
		}
		v.nonces = cache
	}
}

// NewVerifier returns a verifier accepting timestamps within tolerance of
// the current time. A non-positive tolerance selects the default.
func NewVerifier(tolerance time.Duration, opts ...VerifierOption) *Verifier {
	if tolerance <= 0 {
		tolerance = DefaultTimestampTolerance
	}
	v := &Verifier{
		tolerance: tolerance,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Tolerance returns the configured freshness window.
func (v *Verifier) Tolerance() time.Duration { return v.tolerance }

// Verify reports whether m is fresh and correctly signed by its designated
// signer. It never distinguishes why a message was rejected.
func (v *Verifier) Verify(m Message) bool {
	return v.Check(m) == nil
}

// Check is Verify with the reason for rejection, for local diagnostics
// only. The result must not be reflected back to the message's sender.
func (v *Verifier) Check(m Message) error {
	if isNil(m) {
		return ErrNilMessage
	}
	header := m.Header()

	now := v.now().Unix()
	tol := int64(v.tolerance / time.Second)
	if header.Timestamp < now-tol || header.Timestamp > now+tol {
		return ErrStaleTimestamp
	}

	if header.Signature == "" {
		return ErrMissingSignature
	}

	signBytes, err := CanonicalBytes(m)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if !secp256k1.VerifyArmored(signBytes, header.Signature, m.SignerPublicKey()) {
		return ErrInvalidSignature
	}

	if v.nonces != nil {
		key := m.SignerPublicKey() + "/" + header.Nonce
		if seen, _ := v.nonces.ContainsOrAdd(key, struct{}{}); seen {
			return ErrReplayedNonce
		}
	}
	return nil
}

var defaultVerifier = NewVerifier(DefaultTimestampTolerance)

// Verify checks m with the default 60 second tolerance and no nonce cache.
func Verify(m Message) bool {
	return defaultVerifier.Verify(m)
}
