package secp256k1

import (
	"bytes"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	secp256k1 "github.com/btcsuite/btcd/btcec"
)

func Test_genPrivKey(t *testing.T) {

	empty := make([]byte, 32)
	oneB := big.NewInt(1).Bytes()
	onePadded := make([]byte, 32)
	copy(onePadded[32-len(oneB):32], oneB)
	t.Logf("one padded: %v, len=%v", onePadded, len(onePadded))

	validOne := append(empty, onePadded...)
	tests := []struct {
		name        string
		notSoRand   []byte
		shouldPanic bool
	}{
		{"empty bytes (panics because 1st 32 bytes are zero and 0 is not a valid field element)", empty, true},
		{"curve order: N", secp256k1.S256().N.Bytes(), true},
		{"valid because 0 < 1 < N", validOne, false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if tt.shouldPanic {
				require.Panics(t, func() {
					genPrivKey(bytes.NewReader(tt.notSoRand))
				})
				return
			}
			got := genPrivKey(bytes.NewReader(tt.notSoRand))
			fe := new(big.Int).SetBytes(got[:])
			require.True(t, fe.Cmp(secp256k1.S256().N) < 0)
			require.True(t, fe.Sign() > 0)
		})
	}
}

// Signatures produced by Sign are DER-encoded and always in lower-S form.
func TestSignatureIsLowS(t *testing.T) {
	halfN := new(big.Int).Rsh(secp256k1.S256().N, 1)
	msg := []byte("We have lingered long enough on the shores of the cosmic ocean.")
	for i := 0; i < 100; i++ {
		priv := GenPrivKey()
		sigStr, err := priv.Sign(msg)
		require.NoError(t, err)

		sig, err := secp256k1.ParseDERSignature(sigStr, secp256k1.S256())
		require.NoError(t, err)
		require.False(t, sig.S.Cmp(halfN) > 0)
	}
}

func TestParsePubKeyEncodings(t *testing.T) {
	priv := GenPrivKey()
	pub := priv.PubKey().(PubKey)
	require.Len(t, pub, PubKeySize)

	_, obj := secp256k1.PrivKeyFromBytes(secp256k1.S256(), priv)
	for name, enc := range map[string][]byte{
		"raw":          pub,
		"compressed":   obj.SerializeCompressed(),
		"uncompressed": obj.SerializeUncompressed(),
	} {
		got, err := PubKeyFromBytes(enc)
		require.NoError(t, err, name)
		require.True(t, pub.Equals(got), name)
	}

	_, err := PubKeyFromBytes(pub[:10])
	require.Error(t, err)
}
