package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	dbm "github.com/tendermint/tm-db"
	"golang.org/x/sync/errgroup"

	"github.com/acp0/acp0/config"
	"github.com/acp0/acp0/crypto/secp256k1"
	"github.com/acp0/acp0/internal/negotiation"
	"github.com/acp0/acp0/internal/store"
	"github.com/acp0/acp0/libs/log"
	"github.com/acp0/acp0/privval"
	"github.com/acp0/acp0/types"
)

// DemoResult is what the demo command prints: the committed deal and the
// offer it accepts.
type DemoResult struct {
	Deal  *types.Deal  `json:"deal"`
	Offer *types.Offer `json:"offer"`
}

// demoSellers is the laptop market of the demo: two shops with one
// matching product each.
var demoSellers = []struct {
	agentID   string
	shop      string
	inventory negotiation.Inventory
}{
	{
		agentID: "seller-thinkshop",
		shop:    "ThinkShop",
		inventory: negotiation.Inventory{
			"laptop": {{
				SKU:        "LTP-X1C-11",
				Name:       "ThinkPad X1 Carbon Gen 11",
				Price:      499900,
				Stock:      5,
				Attributes: map[string]interface{}{"ram_gb": 16, "storage_gb": 512},
			}},
		},
	},
	{
		agentID: "seller-fruitstore",
		shop:    "Fruit Store",
		inventory: negotiation.Inventory{
			"laptop": {{
				SKU:        "LTP-MBP-14",
				Name:       "MacBook Pro 14",
				Price:      599900,
				Stock:      3,
				Attributes: map[string]interface{}{"ram_gb": 18, "storage_gb": 512},
			}},
			"phone": {{
				SKU:   "PHN-15",
				Name:  "Phone 15",
				Price: 599900,
				Stock: 10,
			}},
		},
	},
}

// MakeDemoCommand returns the command that runs one buyer against two
// sellers over the configured transport and prints the resulting deal.
func MakeDemoCommand(conf *config.Config, logger log.Logger) *cobra.Command {
	var (
		category  string
		budgetMin int64
		budgetMax int64
		currency  string
		persist   bool
	)
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run the laptop negotiation between one buyer and two sellers",
		RunE: func(cmd *cobra.Command, args []string) error {
			demand := types.Demand{
				Category: category,
				Budget:   types.Budget{Min: budgetMin, Max: budgetMax, Currency: currency},
			}
			result, err := runDemo(cmd.Context(), conf, logger, demand, persist)
			if err != nil {
				return err
			}
			bz, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(bz))
			return nil
		},
	}
	cmd.Flags().StringVar(&category, "category", "laptop", "product category to ask for")
	cmd.Flags().Int64Var(&budgetMin, "budget-min", 400000, "minimum budget in minor currency units")
	cmd.Flags().Int64Var(&budgetMax, "budget-max", 600000, "maximum budget in minor currency units")
	cmd.Flags().StringVar(&currency, "currency", "CNY", "budget currency")
	cmd.Flags().BoolVar(&persist, "persist", false, "record accepted deals in the data directory instead of memory")
	AddAgentFlags(cmd, conf)
	return cmd
}

// AddAgentFlags exposes some common configuration options on the
// command-line. Flags are named after their config keys, so the matching
// ACP_ environment variables apply as well.
func AddAgentFlags(cmd *cobra.Command, conf *config.Config) {
	cmd.Flags().String("moniker", conf.Moniker, "agent name, used as the buyer id of a new key")
	cmd.Flags().String("key_file", conf.KeyFile, "agent key file, relative to the home directory")

	// negotiation flags
	cmd.Flags().Duration("negotiation.collect_window", conf.Negotiation.CollectWindow, "how long the buyer collects offers")
	cmd.Flags().Duration("negotiation.timestamp_tolerance", conf.Negotiation.TimestampTolerance, "accepted clock skew of incoming messages")
	cmd.Flags().Duration("negotiation.offer_ttl", conf.Negotiation.OfferTTL, "lifetime of offers (0 = no expiry)")
	cmd.Flags().Int("negotiation.nonce_cache_size", conf.Negotiation.NonceCacheSize, "reject replayed nonces among this many recent messages (0 = off)")
	cmd.Flags().Int("negotiation.max_pending_offers", conf.Negotiation.MaxPendingOffers, "sent offers a seller keeps accepting deals for")

	// transport flags
	cmd.Flags().String("transport.backend", conf.Transport.Backend, "transport backend (memory|redis|websocket)")
	cmd.Flags().String("transport.redis_addr", conf.Transport.RedisAddr, "redis server address")
	cmd.Flags().String("transport.relay_url", conf.Transport.RelayURL, "websocket relay url")

	// instrumentation flags
	cmd.Flags().Bool("instrumentation.prometheus", conf.Instrumentation.Prometheus, "serve prometheus metrics")
}

func runDemo(ctx context.Context, conf *config.Config, logger log.Logger, demand types.Demand, persist bool) (*DemoResult, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	key, err := privval.LoadOrGenFileKey(conf.KeyFilePath(), conf.Moniker)
	if err != nil {
		return nil, err
	}

	var db dbm.DB = dbm.NewMemDB()
	if persist {
		db, err = dbm.NewDB("deals", dbm.GoLevelDBBackend, conf.DataDir())
		if err != nil {
			return nil, err
		}
	}
	deals := store.NewDealStore(db)
	defer deals.Close()

	metrics := negotiation.NopMetrics()
	if conf.Instrumentation.Prometheus {
		metrics = negotiation.PrometheusMetrics(conf.Instrumentation.Namespace)
		srv := startPrometheusServer(conf.Instrumentation.PrometheusListenAddr, logger)
		defer func() {
			sctx, scancel := context.WithTimeout(context.Background(), ctxTimeout)
			defer scancel()
			_ = srv.Shutdown(sctx)
		}()
	}

	tr, trService, err := newTransport(ctx, conf, logger)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = trService.Stop()
		trService.Wait()
	}()

	accepted := make(chan *types.Deal, 1)
	onDeal := func(ctx context.Context, deal *types.Deal, offer *types.Offer) {
		if err := deals.SaveDeal(deal, offer); err != nil {
			logger.Error("failed to record deal", "deal", deal.DealID, "err", err)
			return
		}
		select {
		case accepted <- deal:
		default:
		}
	}

	var g errgroup.Group
	sellers := make([]*negotiation.Seller, len(demoSellers))
	for i, ds := range demoSellers {
		sellers[i] = negotiation.NewSeller(logger, conf.Negotiation,
			ds.agentID, ds.shop, secp256k1.GenPrivKey(), ds.inventory, tr,
			negotiation.WithSellerMetrics(metrics),
			negotiation.WithDealHandler(onDeal),
		)
		s := sellers[i]
		g.Go(func() error { return s.Start(ctx) })
	}
	defer func() {
		for _, s := range sellers {
			if s.IsRunning() {
				_ = s.Stop()
			}
		}
	}()
	if err := g.Wait(); err != nil {
		return nil, err
	}

	buyer := negotiation.NewBuyer(logger, conf.Negotiation, key.AgentID, key.PrivKey, tr,
		negotiation.WithBuyerMetrics(metrics),
	)
	deal, offer, err := buyer.Negotiate(ctx, demand, conf.Negotiation.CollectWindow)
	if err != nil {
		return nil, err
	}

	timer := time.NewTimer(ctxTimeout)
	defer timer.Stop()
	select {
	case <-accepted:
	case <-timer.C:
		return nil, errors.New("seller did not acknowledge the deal in time")
	case <-trService.Quit():
		return nil, fmt.Errorf("%s stopped before the deal was acknowledged", trService)
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	recorded, err := deals.DealsForOffer(offer.OfferID)
	if err != nil {
		return nil, err
	}
	logger.Info("deal recorded", "deal", deal.DealID, "offer", offer.OfferID, "deals_for_offer", len(recorded))
	return &DemoResult{Deal: deal, Offer: offer}, nil
}

func startPrometheusServer(addr string, logger log.Logger) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           promhttp.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("prometheus server stopped", "err", err)
		}
	}()
	return srv
}
