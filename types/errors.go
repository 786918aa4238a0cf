package types

import "errors"

var (
	// ErrStaleTimestamp means the message timestamp lies outside the
	// verifier's tolerance window.
	ErrStaleTimestamp = errors.New("timestamp outside tolerance window")

	// ErrMissingSignature means the message carries no signature.
	ErrMissingSignature = errors.New("missing signature")

	// ErrInvalidSignature covers malformed key or signature encodings as
	// well as cryptographic mismatch.
	ErrInvalidSignature = errors.New("invalid signature")

	// ErrReplayedNonce is only reported by verifiers with a nonce cache.
	ErrReplayedNonce = errors.New("nonce already seen")

	// ErrSignerMismatch is returned by Sign when the private key does not
	// belong to the message's designated signer.
	ErrSignerMismatch = errors.New("private key does not match message signer")

	// ErrNonIntegralNumber is returned by CanonicalBytes for numbers that
	// are not written as integers.
	ErrNonIntegralNumber = errors.New("non-integral number in message")

	// ErrNilMessage is returned for a nil message, typed or untyped.
	ErrNilMessage = errors.New("nil message")

	// ErrUnknownKind is returned when decoding a payload with an unknown
	// message_kind.
	ErrUnknownKind = errors.New("unknown message kind")
)
