package secp256k1_test

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acp0/acp0/crypto/secp256k1"
)

func TestSignAndValidateSecp256k1(t *testing.T) {
	privKey := secp256k1.GenPrivKey()
	pubKey := privKey.PubKey()

	msg := []byte("canonical bytes")
	sig, err := privKey.Sign(msg)
	require.NoError(t, err)

	assert.True(t, pubKey.VerifySignature(msg, sig))

	// Mutate the signature, just one bit.
	sig[len(sig)-1] ^= byte(0x01)
	assert.False(t, pubKey.VerifySignature(msg, sig))

	// Wrong message.
	sig, err = privKey.Sign(msg)
	require.NoError(t, err)
	assert.False(t, pubKey.VerifySignature([]byte("other bytes"), sig))

	// Wrong key.
	assert.False(t, secp256k1.GenPrivKey().PubKey().VerifySignature(msg, sig))
}

func TestVerifyIsTotal(t *testing.T) {
	privKey := secp256k1.GenPrivKey()
	pub := privKey.PubKey().Armor()
	msg := []byte("intent")
	sig, err := privKey.SignArmored(msg)
	require.NoError(t, err)
	require.True(t, secp256k1.VerifyArmored(msg, sig, pub))

	cases := map[string]struct{ sig, pub string }{
		"empty signature":      {"", pub},
		"not base64 signature": {"!!!not-base64!!!", pub},
		"garbage der":          {base64.StdEncoding.EncodeToString([]byte{0x30, 0x02, 0x01}), pub},
		"empty key":            {sig, ""},
		"not base64 key":       {sig, "%%%"},
		"short key":            {sig, base64.StdEncoding.EncodeToString([]byte{0x04, 0x01})},
		"off-curve key":        {sig, base64.StdEncoding.EncodeToString(make([]byte, secp256k1.PubKeySize))},
	}
	for name, tc := range cases {
		tc := tc
		t.Run(name, func(t *testing.T) {
			require.NotPanics(t, func() {
				require.False(t, secp256k1.VerifyArmored(msg, tc.sig, tc.pub))
			})
		})
	}
}

func TestArmorRoundTrip(t *testing.T) {
	privKey := secp256k1.GenPrivKey()
	armored := privKey.Armor()
	require.Len(t, armored, base64.StdEncoding.EncodedLen(secp256k1.PrivKeySize))

	restored, err := secp256k1.PrivKeyFromArmored(armored)
	require.NoError(t, err)
	require.True(t, privKey.Equals(restored))
	require.True(t, privKey.PubKey().Equals(restored.PubKey()))

	pubArmored := privKey.PubKey().Armor()
	require.Len(t, pubArmored, base64.StdEncoding.EncodedLen(secp256k1.PubKeySize))
	pub, err := secp256k1.PubKeyFromArmored(pubArmored)
	require.NoError(t, err)
	require.True(t, privKey.PubKey().Equals(pub))

	_, err = secp256k1.PrivKeyFromArmored(base64.StdEncoding.EncodeToString(make([]byte, secp256k1.PrivKeySize)))
	require.Error(t, err)
	_, err = secp256k1.PrivKeyFromArmored("short")
	require.Error(t, err)
}
