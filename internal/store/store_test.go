package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"nftscan/internal/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRawTransactionUpsertIsIdempotent(t *testing.T) {
	s := openTestStore(t)

	tx := models.RawTransaction{ID: 1, Hash: "op1", Sender: "tz1A", Target: "KT1M", Amount: 100, Timestamp: time.Now()}
	s.AddRawTransactions([]models.RawTransaction{tx})
	require.NoError(t, s.Save())

	// Re-ingest the same row plus nothing new.
	s.AddRawTransactions([]models.RawTransaction{tx})
	require.NoError(t, s.Save())

	got := s.RawTransactionsAscending()
	require.Len(t, got, 1)
	require.Equal(t, tx.Hash, got[0].Hash)
}

func TestSaveFailureLosesOnlyPendingBatch(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)

	s.AddRawTransactions([]models.RawTransaction{{ID: 1, Hash: "op1"}})
	require.NoError(t, s.Save())

	s.AddRawTransactions([]models.RawTransaction{{ID: 2, Hash: "op2"}})
	// Simulate abandoning this batch without calling Save(): a restart would
	// reload only id=1 from disk.
	require.NoError(t, s.Close())

	s2, err := Open(dir)
	require.NoError(t, err)
	defer s2.Close()

	got := s2.RawTransactionsAscending()
	require.Len(t, got, 1)
	require.Equal(t, int64(1), got[0].ID)
}

func TestClearDerivedThenReplaceIsByteIdenticalAcrossRuns(t *testing.T) {
	s := openTestStore(t)

	d := DerivedTables{
		Buyers:            map[string]bool{"tz1A": true},
		Creators:          map[string]bool{},
		BuyerBalanceStart: map[string]models.RawBalance{},
		Purchases: []models.Purchase{
			{OpHash: "op1", Buyer: "tz1A", Marketplace: "market_x", TokenContract: "KT1X", TokenID: "1", Kind: models.KindListingPurchase},
		},
		Listings:             nil,
		OfferAccepts:         nil,
		Resales:              nil,
		Mints:                nil,
		DailyMetrics:         map[string]models.DailyMetrics{},
		MarketplaceStats:     map[string]models.MarketplaceStats{},
		DailyMarketplaceFees: map[string]models.DailyMarketplaceFees{},
		BuyerCexFlow:         map[string]models.BuyerCexFlow{},
		CreatorFundFlow:      map[string]models.CreatorFundFlow{},
		WalletXtzSummary:     map[string]models.WalletXtzSummary{},
	}

	require.NoError(t, s.ClearDerived())
	require.NoError(t, s.ReplaceDerived(d))
	first := s.Purchases()

	require.NoError(t, s.ClearDerived())
	require.Empty(t, s.Purchases())
	require.NoError(t, s.ReplaceDerived(d))
	second := s.Purchases()

	require.Equal(t, first, second)
}

func TestLatestListingBefore(t *testing.T) {
	s := openTestStore(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	d := DerivedTables{
		Listings: []models.Listing{
			{Seller: "tz1S", TokenContract: "KT1X", TokenID: "1", Timestamp: base, ListPrice: ptrI64(10)},
			{Seller: "tz1S", TokenContract: "KT1X", TokenID: "1", Timestamp: base.Add(time.Hour), ListPrice: ptrI64(20)},
		},
		Buyers: map[string]bool{}, Creators: map[string]bool{}, BuyerBalanceStart: map[string]models.RawBalance{},
		DailyMetrics: map[string]models.DailyMetrics{}, MarketplaceStats: map[string]models.MarketplaceStats{},
		DailyMarketplaceFees: map[string]models.DailyMarketplaceFees{}, BuyerCexFlow: map[string]models.BuyerCexFlow{},
		CreatorFundFlow: map[string]models.CreatorFundFlow{}, WalletXtzSummary: map[string]models.WalletXtzSummary{},
	}
	require.NoError(t, s.ReplaceDerived(d))

	got, ok := s.LatestListingBefore("tz1S", "KT1X", "1", base.Add(90*time.Minute))
	require.True(t, ok)
	require.Equal(t, int64(20), *got.ListPrice)

	got, ok = s.LatestListingBefore("tz1S", "KT1X", "1", base.Add(30*time.Minute))
	require.True(t, ok)
	require.Equal(t, int64(10), *got.ListPrice)
}

func ptrI64(v int64) *int64 { return &v }
