package factory

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/acp0/acp0/crypto/secp256k1"
	"github.com/acp0/acp0/types"
)

// Buyer returns a fresh key and the matching identity.
func Buyer(agentID string) (secp256k1.PrivKey, types.BuyerInfo) {
	priv := secp256k1.GenPrivKey()
	return priv, types.BuyerInfo{AgentID: agentID, PublicKey: priv.PubKey().Armor()}
}

// Seller returns a fresh key and the matching identity.
func Seller(agentID, name string) (secp256k1.PrivKey, types.SellerInfo) {
	priv := secp256k1.GenPrivKey()
	return priv, types.SellerInfo{AgentID: agentID, Name: name, PublicKey: priv.PubKey().Armor()}
}

// LaptopDemand is a laptop demand with a CNY budget of [400000, 600000].
func LaptopDemand() types.Demand {
	return types.Demand{
		Category: "laptop",
		Budget:   types.Budget{Min: 400000, Max: 600000, Currency: "CNY"},
	}
}

// SignedIntent returns a laptop intent signed by a fresh buyer.
func SignedIntent(t testing.TB) *types.Intent {
	t.Helper()
	priv, buyer := Buyer("buyer-1")
	intent := types.NewIntent(buyer, LaptopDemand())
	require.NoError(t, types.Sign(intent, priv))
	return intent
}

// SignedOffer returns an offer for intentID at amount, signed by a fresh
// seller.
func SignedOffer(t testing.TB, intentID string, amount int64) *types.Offer {
	t.Helper()
	priv, seller := Seller("seller-1", "Laptop Shop")
	offer := types.NewOffer(intentID, seller,
		types.Item{Name: "ThinkPad X1", SKU: "LTP-001"},
		types.Price{Amount: amount, Currency: "CNY"}, 10)
	require.NoError(t, types.Sign(offer, priv))
	return offer
}

// SignedDeal returns a deal accepting offerID, signed by a fresh buyer.
func SignedDeal(t testing.TB, offerID string) *types.Deal {
	t.Helper()
	priv, buyer := Buyer("buyer-1")
	deal := types.NewDeal(offerID, buyer, types.Payment{Method: "mock", Status: types.PaymentAuthorized})
	require.NoError(t, types.Sign(deal, priv))
	return deal
}
