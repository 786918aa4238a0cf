package negotiation_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/acp0/acp0/config"
	"github.com/acp0/acp0/crypto/secp256k1"
	"github.com/acp0/acp0/internal/negotiation"
	"github.com/acp0/acp0/internal/transport"
	"github.com/acp0/acp0/internal/transport/memory"
	"github.com/acp0/acp0/libs/log"
	"github.com/acp0/acp0/types"
)

const waitFor = 5 * time.Second

// newNetwork starts an in-memory transport that stops with the test.
func newNetwork(t *testing.T) (context.Context, transport.Transport) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	bus, broker, err := memory.NewTransport(ctx, log.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(func() {
		cancel()
		broker.Wait()
	})
	return ctx, bus
}

func laptopInventory(price int64, stock int64) negotiation.Inventory {
	return negotiation.Inventory{
		"laptop": {{
			SKU:        "LTP-001",
			Name:       "ThinkPad X1",
			Price:      price,
			Stock:      stock,
			Attributes: map[string]interface{}{"ram": "16GB"},
		}},
	}
}

func laptopDemand() types.Demand {
	return types.Demand{
		Category: "laptop",
		Budget:   types.Budget{Min: 400000, Max: 600000, Currency: "CNY"},
	}
}

func newBuyer(t *testing.T, tr transport.Transport, options ...negotiation.BuyerOption) *negotiation.Buyer {
	t.Helper()
	return negotiation.NewBuyer(log.NewTestingLogger(t), config.TestNegotiationConfig(),
		"buyer-1", secp256k1.GenPrivKey(), tr, options...)
}

func startSeller(
	ctx context.Context,
	t *testing.T,
	cfg *config.NegotiationConfig,
	agentID string,
	inv negotiation.Inventory,
	tr transport.Transport,
	options ...negotiation.SellerOption,
) *negotiation.Seller {
	t.Helper()
	s := negotiation.NewSeller(log.NewTestingLogger(t), cfg, agentID, agentID+" shop",
		secp256k1.GenPrivKey(), inv, tr, options...)
	require.NoError(t, s.Start(ctx))
	t.Cleanup(func() {
		if s.IsRunning() {
			require.NoError(t, s.Stop())
		}
	})
	return s
}

// signOffer signs an offer for intentID with a fresh seller key after
// applying mutate.
func signOffer(t *testing.T, intentID string, amount int64, mutate func(*types.Offer)) *types.Offer {
	t.Helper()
	priv := secp256k1.GenPrivKey()
	offer := types.NewOffer(intentID,
		types.SellerInfo{AgentID: "seller-x", Name: "X", PublicKey: priv.PubKey().Armor()},
		types.Item{Name: "ThinkPad X1", SKU: "LTP-001"},
		types.Price{Amount: amount, Currency: "CNY"}, 3)
	if mutate != nil {
		mutate(offer)
	}
	require.NoError(t, types.Sign(offer, priv))
	return offer
}

func waitOffer(t *testing.T, ch <-chan *types.Offer) *types.Offer {
	t.Helper()
	select {
	case offer := <-ch:
		return offer
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for an offer")
	}
	return nil
}

func waitDeal(t *testing.T, ch <-chan *types.Deal) *types.Deal {
	t.Helper()
	select {
	case deal := <-ch:
		return deal
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for a deal")
	}
	return nil
}
