package types_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/acp0/acp0/crypto/secp256k1"
	"github.com/acp0/acp0/types"
)

func newBuyer(t *testing.T) (secp256k1.PrivKey, types.BuyerInfo) {
	t.Helper()
	priv := secp256k1.GenPrivKey()
	return priv, types.BuyerInfo{AgentID: "buyer-1", PublicKey: priv.PubKey().Armor()}
}

func newSeller(t *testing.T) (secp256k1.PrivKey, types.SellerInfo) {
	t.Helper()
	priv := secp256k1.GenPrivKey()
	return priv, types.SellerInfo{AgentID: "seller-1", Name: "Laptop Shop", PublicKey: priv.PubKey().Armor()}
}

func laptopDemand() types.Demand {
	return types.Demand{
		Category: "laptop",
		Budget:   types.Budget{Min: 400000, Max: 600000, Currency: "CNY"},
	}
}

func signedIntent(t *testing.T) (*types.Intent, secp256k1.PrivKey) {
	t.Helper()
	priv, buyer := newBuyer(t)
	intent := types.NewIntent(buyer, laptopDemand())
	require.NoError(t, types.Sign(intent, priv))
	return intent, priv
}

func signedOffer(t *testing.T, intentID string) (*types.Offer, secp256k1.PrivKey) {
	t.Helper()
	priv, seller := newSeller(t)
	offer := types.NewOffer(intentID, seller,
		types.Item{Name: "ThinkPad X1", SKU: "LTP-001", Attributes: map[string]interface{}{"ram": "16GB", "cores": 8}},
		types.Price{Amount: 499900, Currency: "CNY"}, 10)
	require.NoError(t, types.Sign(offer, priv))
	return offer, priv
}

func signedDeal(t *testing.T, offerID string) (*types.Deal, secp256k1.PrivKey) {
	t.Helper()
	priv, buyer := newBuyer(t)
	token := "mock-token"
	deal := types.NewDeal(offerID, buyer, types.Payment{Method: "mock", Status: types.PaymentAuthorized, Token: &token})
	require.NoError(t, types.Sign(deal, priv))
	return deal, priv
}

func strPtr(s string) *string { return &s }

func int64Ptr(n int64) *int64 { return &n }
