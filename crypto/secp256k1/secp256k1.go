// Package secp256k1 implements agent keys on the secp256k1 curve. Messages
// are hashed with SHA-256 and the digest is signed with ECDSA; signatures
// travel DER-encoded and base64-armored.
package secp256k1

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"math/big"

	secp256k1 "github.com/btcsuite/btcd/btcec"

	"github.com/acp0/acp0/crypto"
)

const (
	// PrivKeySize is the width of the raw private scalar.
	PrivKeySize = 32
	// PubKeySize is the width of the raw public point, X || Y without the
	// SEC1 prefix byte.
	PubKeySize = 64

	KeyType = "secp256k1"

	uncompressedPrefix = 0x04
)

var (
	errInvalidPrivKey = errors.New("secp256k1: invalid private key")
	errInvalidPubKey  = errors.New("secp256k1: invalid public key")
)

//-------------------------------------

var _ crypto.PrivKey = PrivKey{}

// PrivKey implements PrivKey.
type PrivKey []byte

// Bytes returns the raw 32-byte scalar.
func (privKey PrivKey) Bytes() []byte {
	return []byte(privKey)
}

// PubKey performs the point-scalar multiplication from the privKey on the
// generator point to get the pubkey.
func (privKey PrivKey) PubKey() crypto.PubKey {
	_, pubkeyObject := secp256k1.PrivKeyFromBytes(secp256k1.S256(), privKey)
	return PubKey(pubkeyObject.SerializeUncompressed()[1:])
}

// Equals - you probably don't need to use this.
// Runs in constant time based on length of the keys.
func (privKey PrivKey) Equals(other crypto.PrivKey) bool {
	if otherSecp, ok := other.(PrivKey); ok {
		return bytes.Equal(privKey, otherSecp)
	}
	return false
}

func (privKey PrivKey) Type() string {
	return KeyType
}

// Armor returns the base64 encoding of the raw scalar.
func (privKey PrivKey) Armor() string {
	return base64.StdEncoding.EncodeToString(privKey)
}

// Sign creates an ECDSA signature on curve Secp256k1, using SHA256 on the msg.
// The returned signature is DER-encoded and in lower-S form.
func (privKey PrivKey) Sign(msg []byte) ([]byte, error) {
	if len(privKey) != PrivKeySize {
		return nil, errInvalidPrivKey
	}
	priv, _ := secp256k1.PrivKeyFromBytes(secp256k1.S256(), privKey)
	sig, err := priv.Sign(crypto.Checksum(msg))
	if err != nil {
		return nil, err
	}
	return sig.Serialize(), nil
}

// SignArmored signs msg and returns the base64 armored DER signature.
func (privKey PrivKey) SignArmored(msg []byte) (string, error) {
	sig, err := privKey.Sign(msg)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// GenPrivKey generates a new ECDSA private key on curve secp256k1 private key.
// It uses OS randomness to generate the private key.
func GenPrivKey() PrivKey {
	return genPrivKey(crypto.CReader())
}

// genPrivKey generates a new secp256k1 private key using the provided reader.
func genPrivKey(rand io.Reader) PrivKey {
	var privKeyBytes [PrivKeySize]byte
	d := new(big.Int)

	for {
		privKeyBytes = [PrivKeySize]byte{}
		_, err := io.ReadFull(rand, privKeyBytes[:])
		if err != nil {
			panic(err)
		}

		d.SetBytes(privKeyBytes[:])
		// break if we found a valid point (i.e. > 0 and < N == curverOrder)
		isValidFieldElement := 0 < d.Sign() && d.Cmp(secp256k1.S256().N) < 0
		if isValidFieldElement {
			break
		}
	}

	return PrivKey(privKeyBytes[:])
}

// PrivKeyFromArmored decodes a base64 armored 32-byte scalar.
func PrivKeyFromArmored(armored string) (PrivKey, error) {
	bz, err := base64.StdEncoding.DecodeString(armored)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errInvalidPrivKey, err)
	}
	if len(bz) != PrivKeySize {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", errInvalidPrivKey, PrivKeySize, len(bz))
	}
	d := new(big.Int).SetBytes(bz)
	if d.Sign() <= 0 || d.Cmp(secp256k1.S256().N) >= 0 {
		return nil, fmt.Errorf("%w: scalar out of range", errInvalidPrivKey)
	}
	return PrivKey(bz), nil
}

//-------------------------------------

var _ crypto.PubKey = PubKey{}

// PubKey implements crypto.PubKey. It is the raw 64-byte X || Y encoding
// of the curve point.
type PubKey []byte

// Bytes returns the pubkey byte format.
func (pubKey PubKey) Bytes() []byte {
	return []byte(pubKey)
}

func (pubKey PubKey) String() string {
	return fmt.Sprintf("PubKeySecp256k1{%X}", []byte(pubKey))
}

func (pubKey PubKey) Equals(other crypto.PubKey) bool {
	if otherSecp, ok := other.(PubKey); ok {
		return bytes.Equal(pubKey, otherSecp)
	}
	return false
}

func (pubKey PubKey) Type() string {
	return KeyType
}

// Armor returns the base64 encoding of the raw point, the form embedded in
// buyer and seller descriptors.
func (pubKey PubKey) Armor() string {
	return base64.StdEncoding.EncodeToString(pubKey)
}

// VerifySignature verifies a DER-encoded signature over SHA256(msg). Any
// decoding or verification failure yields false.
func (pubKey PubKey) VerifySignature(msg []byte, sigStr []byte) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()

	pub, err := parsePubKey(pubKey)
	if err != nil {
		return false
	}
	signature, err := secp256k1.ParseDERSignature(sigStr, secp256k1.S256())
	if err != nil {
		return false
	}
	return signature.Verify(crypto.Checksum(msg), pub)
}

// PubKeyFromBytes normalizes a raw (64-byte), compressed (33-byte) or
// uncompressed (65-byte) encoding into a PubKey.
func PubKeyFromBytes(bz []byte) (PubKey, error) {
	pub, err := parsePubKey(bz)
	if err != nil {
		return nil, err
	}
	return PubKey(pub.SerializeUncompressed()[1:]), nil
}

// PubKeyFromArmored decodes a base64 armored public key.
func PubKeyFromArmored(armored string) (PubKey, error) {
	bz, err := base64.StdEncoding.DecodeString(armored)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errInvalidPubKey, err)
	}
	return PubKeyFromBytes(bz)
}

// VerifyArmored checks an armored signature of msg against an armored
// public key. It is total: malformed input of any kind returns false.
func VerifyArmored(msg []byte, signature, publicKey string) bool {
	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return false
	}
	pub, err := base64.StdEncoding.DecodeString(publicKey)
	if err != nil {
		return false
	}
	return PubKey(pub).VerifySignature(msg, sig)
}

func parsePubKey(bz []byte) (*secp256k1.PublicKey, error) {
	switch len(bz) {
	case PubKeySize:
		full := make([]byte, 0, PubKeySize+1)
		full = append(full, uncompressedPrefix)
		bz = append(full, bz...)
	case secp256k1.PubKeyBytesLenCompressed, secp256k1.PubKeyBytesLenUncompressed:
	default:
		return nil, fmt.Errorf("%w: unexpected length %d", errInvalidPubKey, len(bz))
	}
	pub, err := secp256k1.ParsePubKey(bz, secp256k1.S256())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errInvalidPubKey, err)
	}
	return pub, nil
}
