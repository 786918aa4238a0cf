package store

import (
	"errors"
	"fmt"

	"github.com/google/orderedcode"
	dbm "github.com/tendermint/tm-db"

	"github.com/acp0/acp0/types"
)

// ErrNotFound is returned when a deal or offer is not in the store.
var ErrNotFound = errors.New("not found")

/*
DealStore is a simple low level ledger of accepted deals.

Three kinds of records are stored:
  - Deal:   the signed deal as received, keyed by deal id
  - Offer:  the signed offer the deal accepts, keyed by offer id
  - Index:  an empty marker keyed by (offer id, deal id)

Several deals may accept the same offer; the index keeps them all so the
seller can see oversold stock after the fact.
*/
type DealStore struct {
	db dbm.DB
}

// NewDealStore returns a DealStore backed by db.
func NewDealStore(db dbm.DB) *DealStore {
	return &DealStore{db: db}
}

// SaveDeal persists deal and the offer it accepts in a single batch.
func (ds *DealStore) SaveDeal(deal *types.Deal, offer *types.Offer) error {
	if deal == nil {
		return errors.New("cannot save nil deal")
	}
	if offer != nil && offer.OfferID != deal.OfferID {
		return fmt.Errorf("deal %s accepts offer %s, not %s", deal.DealID, deal.OfferID, offer.OfferID)
	}

	dealBz, err := types.Encode(deal)
	if err != nil {
		return fmt.Errorf("encode deal: %w", err)
	}

	batch := ds.db.NewBatch()
	defer batch.Close()

	if err := batch.Set(dealKey(deal.DealID), dealBz); err != nil {
		return err
	}
	if err := batch.Set(offerDealKey(deal.OfferID, deal.DealID), []byte{}); err != nil {
		return err
	}
	if offer != nil {
		offerBz, err := types.Encode(offer)
		if err != nil {
			return fmt.Errorf("encode offer: %w", err)
		}
		if err := batch.Set(offerKey(offer.OfferID), offerBz); err != nil {
			return err
		}
	}

	return batch.WriteSync()
}

// LoadDeal returns the deal with the given id, or ErrNotFound.
func (ds *DealStore) LoadDeal(dealID string) (*types.Deal, error) {
	bz, err := ds.db.Get(dealKey(dealID))
	if err != nil {
		return nil, err
	}
	if len(bz) == 0 {
		return nil, fmt.Errorf("deal %s: %w", dealID, ErrNotFound)
	}
	deal, err := types.DecodeDeal(bz)
	if err != nil {
		return nil, fmt.Errorf("stored deal %s: %w", dealID, err)
	}
	return deal, nil
}

// LoadOffer returns the offer with the given id, or ErrNotFound.
func (ds *DealStore) LoadOffer(offerID string) (*types.Offer, error) {
	bz, err := ds.db.Get(offerKey(offerID))
	if err != nil {
		return nil, err
	}
	if len(bz) == 0 {
		return nil, fmt.Errorf("offer %s: %w", offerID, ErrNotFound)
	}
	offer, err := types.DecodeOffer(bz)
	if err != nil {
		return nil, fmt.Errorf("stored offer %s: %w", offerID, err)
	}
	return offer, nil
}

// DealsForOffer returns every stored deal accepting offerID, ordered by
// deal id.
func (ds *DealStore) DealsForOffer(offerID string) ([]*types.Deal, error) {
	start, end := offerDealRange(offerID)
	iter, err := ds.db.Iterator(start, end)
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var deals []*types.Deal
	for ; iter.Valid(); iter.Next() {
		dealID, err := decodeOfferDealKey(iter.Key(), offerID)
		if err != nil {
			return nil, err
		}
		deal, err := ds.LoadDeal(dealID)
		if err != nil {
			return nil, err
		}
		deals = append(deals, deal)
	}
	return deals, iter.Error()
}

// Count returns the number of stored deals.
func (ds *DealStore) Count() (int, error) {
	start, end := prefixRange(prefixDeal)
	iter, err := ds.db.Iterator(start, end)
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	n := 0
	for ; iter.Valid(); iter.Next() {
		n++
	}
	return n, iter.Error()
}

func (ds *DealStore) Close() error {
	return ds.db.Close()
}

//---------------------------------- KEY ENCODING -----------------------------------------

const (
	prefixDeal      = int64(0)
	prefixOffer     = int64(1)
	prefixOfferDeal = int64(2)
)

func dealKey(dealID string) []byte {
	key, err := orderedcode.Append(nil, prefixDeal, dealID)
	if err != nil {
		panic(err)
	}
	return key
}

func offerKey(offerID string) []byte {
	key, err := orderedcode.Append(nil, prefixOffer, offerID)
	if err != nil {
		panic(err)
	}
	return key
}

func offerDealKey(offerID, dealID string) []byte {
	key, err := orderedcode.Append(nil, prefixOfferDeal, offerID, dealID)
	if err != nil {
		panic(err)
	}
	return key
}

func decodeOfferDealKey(key []byte, offerID string) (dealID string, err error) {
	var (
		prefix int64
		gotID  string
	)
	remaining, err := orderedcode.Parse(string(key), &prefix, &gotID, &dealID)
	if err != nil {
		return "", err
	}
	if len(remaining) != 0 {
		return "", fmt.Errorf("expected complete key but got remainder: %s", remaining)
	}
	if prefix != prefixOfferDeal {
		return "", fmt.Errorf("incorrect prefix. Expected %v, got %v", prefixOfferDeal, prefix)
	}
	if gotID != offerID {
		return "", fmt.Errorf("key belongs to offer %s, not %s", gotID, offerID)
	}
	return dealID, nil
}

// offerDealRange covers every index key for offerID. orderedcode terminates
// strings with 0x00 0x01, so appending the infinity marker bounds the range.
func offerDealRange(offerID string) (start, end []byte) {
	start, err := orderedcode.Append(nil, prefixOfferDeal, offerID)
	if err != nil {
		panic(err)
	}
	end, err = orderedcode.Append(nil, prefixOfferDeal, offerID, orderedcode.Infinity)
	if err != nil {
		panic(err)
	}
	return start, end
}

func prefixRange(prefix int64) (start, end []byte) {
	start, err := orderedcode.Append(nil, prefix)
	if err != nil {
		panic(err)
	}
	end, err = orderedcode.Append(nil, prefix+1)
	if err != nil {
		panic(err)
	}
	return start, end
}
