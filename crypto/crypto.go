package crypto

import (
	"crypto/sha256"
)

// Checksum returns the SHA256 of the bz.
func Checksum(bz []byte) []byte {
	h := sha256.Sum256(bz)
	return h[:]
}

// PubKey is the public half of an agent key. It is embedded in messages in
// its armored form and is the only identity the protocol binds to.
type PubKey interface {
	Bytes() []byte
	// VerifySignature reports whether sig is a valid signature of msg. It
	// never panics; malformed keys or signatures yield false.
	VerifySignature(msg []byte, sig []byte) bool
	Equals(PubKey) bool
	Type() string
	Armor() string
}

// PrivKey is the secret half of an agent key. It is never put on the wire.
type PrivKey interface {
	Bytes() []byte
	Sign(msg []byte) ([]byte, error)
	PubKey() PubKey
	Equals(PrivKey) bool
	Type() string
}
