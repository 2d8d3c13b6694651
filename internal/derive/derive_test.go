package derive

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"nftscan/internal/config"
	"nftscan/internal/models"
)

type fakeStore struct {
	mints          []models.RawTokenTransfer
	txByID         map[int64]models.RawTransaction
	byTargetEntry  []models.RawTransaction
	transferByTxID map[int64]models.RawTokenTransfer
	latestListing  models.Listing
	hasListing     bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{txByID: map[int64]models.RawTransaction{}, transferByTxID: map[int64]models.RawTokenTransfer{}}
}

func (f *fakeStore) MintCandidateTransfers() []models.RawTokenTransfer { return f.mints }
func (f *fakeStore) TransactionByID(id int64) (models.RawTransaction, bool) {
	tx, ok := f.txByID[id]
	return tx, ok
}
func (f *fakeStore) TransactionsByTargetEntrypoint(targets, entrypoints []string) []models.RawTransaction {
	return f.byTargetEntry
}
func (f *fakeStore) TokenTransferByTransactionID(txID int64) (models.RawTokenTransfer, bool) {
	t, ok := f.transferByTxID[txID]
	return t, ok
}
func (f *fakeStore) LatestListingBefore(seller, contract, tokenID string, beforeTS time.Time) (models.Listing, bool) {
	return f.latestListing, f.hasListing
}

func baseConfig() config.Config {
	cfg := config.Default()
	cfg.Marketplaces = []config.Marketplace{
		{
			Name:                   "objkt",
			Address:                "KT1Market",
			ListEntrypoints:        []string{"ask"},
			AcceptOfferEntrypoints: []string{"accept_offer"},
		},
	}
	return cfg
}

func TestDeriveMintsFromNullFromTransfers(t *testing.T) {
	store := newFakeStore()
	ts := time.Now().UTC()
	store.mints = []models.RawTokenTransfer{
		{ID: 1, TokenContract: "KT1Token", TokenID: "1", ToAddress: "tz1Creator", Timestamp: ts},
	}

	result := Run(store, baseConfig())
	require.Len(t, result.Mints, 1)
	require.Equal(t, "mint_1", result.Mints[0].OpHash)
	require.True(t, result.Creators["tz1Creator"])
}

func TestDeriveMintUsesOwningTxHashWhenPresent(t *testing.T) {
	store := newFakeStore()
	ts := time.Now().UTC()
	txID := int64(99)
	store.mints = []models.RawTokenTransfer{
		{ID: 2, TokenContract: "KT1Token", TokenID: "2", ToAddress: "tz1Creator", Timestamp: ts, TransactionID: &txID},
	}
	store.txByID[99] = models.RawTransaction{ID: 99, Hash: "opOwning"}

	result := Run(store, baseConfig())
	require.Equal(t, "opOwning", result.Mints[0].OpHash)
}

func TestDeriveListingsParsesParametersAndCountsSkips(t *testing.T) {
	store := newFakeStore()
	ts := time.Now().UTC()
	store.byTargetEntry = []models.RawTransaction{
		{ID: 1, Hash: "op1", Sender: "tz1Seller", Target: "KT1Market", Timestamp: ts, Parameters: []byte(`{"contract":"KT1Token","token_id":"5","price":1000000}`)},
		{ID: 2, Hash: "op2", Sender: "tz1Seller", Target: "KT1Market", Timestamp: ts, Parameters: []byte(`{"garbage":true}`)},
	}

	result := Run(store, baseConfig())
	require.Len(t, result.Listings, 1)
	require.Equal(t, 1, result.SkippedListings)
	require.Equal(t, "KT1Token", result.Listings[0].TokenContract)
}

func TestDeriveOfferAcceptsComputesUnderList(t *testing.T) {
	store := newFakeStore()
	ts := time.Now().UTC()
	store.byTargetEntry = []models.RawTransaction{
		{ID: 5, Hash: "op5", Sender: "tz1Seller", Target: "KT1Market", Timestamp: ts, Amount: 500000},
	}
	store.transferByTxID[5] = models.RawTokenTransfer{TokenContract: "KT1Token", TokenID: "1", ToAddress: "tz1Buyer"}
	refPrice := int64(1000000)
	store.latestListing = models.Listing{ListPrice: &refPrice}
	store.hasListing = true

	result := Run(store, baseConfig())
	require.Len(t, result.OfferAccepts, 1)
	oa := result.OfferAccepts[0]
	require.NotNil(t, oa.UnderList)
	require.True(t, *oa.UnderList)
	require.Equal(t, int64(1000000), *oa.ReferenceListPrice)
}
