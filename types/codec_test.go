package types_test

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/acp0/acp0/types"
)

func TestEncodeDecode(t *testing.T) {
	intent, _ := signedIntent(t)
	intent.Demand.Location = strPtr("shanghai")
	intent.Demand.DeliveryDays = int64Ptr(3)
	offer, _ := signedOffer(t, intent.IntentID)
	deal, _ := signedDeal(t, offer.OfferID)

	for _, m := range []types.Message{intent, offer, deal} {
		bz, err := types.Encode(m)
		require.NoError(t, err)

		got, err := types.Decode(bz)
		require.NoError(t, err)
		require.Equal(t, m.Header().MessageKind, got.Header().MessageKind)
		require.Equal(t, m.ID(), got.ID())
		require.Equal(t, m.Header().Signature, got.Header().Signature)

		want, err := types.CanonicalBytes(m)
		require.NoError(t, err)
		have, err := types.CanonicalBytes(got)
		require.NoError(t, err)
		if diff := cmp.Diff(string(want), string(have)); diff != "" {
			t.Errorf("canonical bytes changed across the wire (-want +got):\n%s", diff)
		}
	}

	bz, err := types.Encode(offer)
	require.NoError(t, err)
	decoded, err := types.DecodeOffer(bz)
	require.NoError(t, err)
	require.True(t, types.Verify(decoded))
}

func TestEncodeWireFieldNames(t *testing.T) {
	intent, _ := signedIntent(t)
	bz, err := types.Encode(intent)
	require.NoError(t, err)

	var fields map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(bz, &fields))
	for _, key := range []string{
		"protocol_version", "message_kind", "anchor_mode", "signature",
		"nonce", "timestamp", "intent_id", "buyer", "demand",
	} {
		require.Contains(t, fields, key)
	}
	require.NotContains(t, fields, "expires_at")
}

func TestDecodeErrors(t *testing.T) {
	intent, _ := signedIntent(t)
	intentBz, err := types.Encode(intent)
	require.NoError(t, err)

	_, err = types.DecodeOffer(intentBz)
	require.Error(t, err)
	_, err = types.DecodeDeal(intentBz)
	require.Error(t, err)

	_, err = types.Decode([]byte(`{"message_kind":"auction"}`))
	require.ErrorIs(t, err, types.ErrUnknownKind)

	_, err = types.Decode([]byte(`not json`))
	require.Error(t, err)

	intent.Demand.Budget.Max = intent.Demand.Budget.Min - 1
	bz, err := types.Encode(intent)
	require.NoError(t, err)
	_, err = types.DecodeIntent(bz)
	require.Error(t, err)
}

func TestValidateBasic(t *testing.T) {
	intent, _ := signedIntent(t)
	require.NoError(t, intent.ValidateBasic())

	testCases := map[string]func(*types.Intent){
		"no id":         func(i *types.Intent) { i.IntentID = "" },
		"no buyer key":  func(i *types.Intent) { i.Buyer.PublicKey = "" },
		"no category":   func(i *types.Intent) { i.Demand.Category = "" },
		"negative min":  func(i *types.Intent) { i.Demand.Budget.Min = -1 },
		"no currency":   func(i *types.Intent) { i.Demand.Budget.Currency = "" },
		"bad anchor":    func(i *types.Intent) { i.AnchorMode = "chain" },
		"wrong kind":    func(i *types.Intent) { i.MessageKind = types.KindDeal },
		"no nonce":      func(i *types.Intent) { i.Nonce = "" },
		"negative days": func(i *types.Intent) { i.Demand.DeliveryDays = int64Ptr(-2) },
		"no timestamp":  func(i *types.Intent) { i.Timestamp = 0 },
	}
	for name, mutate := range testCases {
		mutate := mutate
		t.Run(name, func(t *testing.T) {
			i, _ := signedIntent(t)
			mutate(i)
			require.Error(t, i.ValidateBasic())
		})
	}
}
