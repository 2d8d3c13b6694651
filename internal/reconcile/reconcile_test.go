package reconcile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"nftscan/internal/config"
	"nftscan/internal/models"
)

type fakeStore struct {
	transfers  []models.RawTokenTransfer
	txByID     map[int64]models.RawTransaction
	bySecond   map[string][]models.RawTransaction // key: sender+ts.Unix
}

func newFakeStore() *fakeStore {
	return &fakeStore{txByID: map[int64]models.RawTransaction{}, bySecond: map[string][]models.RawTransaction{}}
}

func (f *fakeStore) RawTokenTransfersAscending() []models.RawTokenTransfer { return f.transfers }

func (f *fakeStore) TransactionByID(id int64) (models.RawTransaction, bool) {
	tx, ok := f.txByID[id]
	return tx, ok
}

func secondKey(sender string, ts time.Time) string {
	return sender + "|" + ts.Truncate(time.Second).Format(time.RFC3339)
}

func (f *fakeStore) TransactionsBySenderAtSecond(sender string, ts time.Time) []models.RawTransaction {
	return f.bySecond[secondKey(sender, ts)]
}

func (f *fakeStore) TokenTransfersFromAddressInTx(txID int64, addr string) []models.RawTokenTransfer {
	var out []models.RawTokenTransfer
	for _, t := range f.transfers {
		if t.TransactionID != nil && *t.TransactionID == txID && t.FromAddress == addr {
			out = append(out, t)
		}
	}
	return out
}

func (f *fakeStore) TransactionsBySenderTargetEntrypoint(sender string, targets, entrypoints []string) []models.RawTransaction {
	var out []models.RawTransaction
	for _, txs := range f.bySecond {
		for _, tx := range txs {
			if tx.Sender != sender {
				continue
			}
			out = append(out, tx)
		}
	}
	return out
}

func baseConfig() config.Config {
	cfg := config.Default()
	cfg.Marketplaces = []config.Marketplace{
		{
			Name:                   "objkt",
			Address:                "KT1Market",
			CustodyAddresses:       []string{"KT1Custody"},
			BuyEntrypoints:         []string{"buy"},
			AcceptOfferEntrypoints: []string{"accept_offer"},
		},
	}
	return cfg
}

func always(string) bool { return false } // not fungible

func TestCustodyRouteTakesPrecedence(t *testing.T) {
	store := newFakeStore()
	ts := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	store.transfers = []models.RawTokenTransfer{
		{ID: 1, TokenContract: "KT1Token", TokenID: "1", Amount: "1", FromAddress: "KT1Custody", ToAddress: "tz1Buyer", Timestamp: ts},
	}
	store.bySecond[secondKey("tz1Buyer", ts)] = []models.RawTransaction{
		{ID: 10, Hash: "op10", Sender: "tz1Buyer", Target: "KT1Market", Amount: 5000000, Timestamp: ts},
	}

	result := Run(store, baseConfig(), always)
	require.Len(t, result.Purchases, 1)
	p := result.Purchases[0]
	require.Equal(t, "objkt", p.Marketplace)
	require.Equal(t, int64(5000000), *p.Spend)
	require.True(t, result.Buyers["tz1Buyer"])
}

func TestTimestampBuyerRoute(t *testing.T) {
	store := newFakeStore()
	ts := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	store.transfers = []models.RawTokenTransfer{
		{ID: 1, TokenContract: "KT1Token", TokenID: "1", Amount: "1", FromAddress: "tz1Seller", ToAddress: "tz1Buyer", Timestamp: ts},
	}
	store.bySecond[secondKey("tz1Buyer", ts)] = []models.RawTransaction{
		{ID: 11, Hash: "op11", Sender: "tz1Buyer", Target: "KT1Market", Amount: 3000000, Timestamp: ts},
	}

	result := Run(store, baseConfig(), always)
	require.Len(t, result.Purchases, 1)
	require.Equal(t, int64(3000000), *result.Purchases[0].Spend)
}

func TestUnmatchedTransferIsSkippedAsP2P(t *testing.T) {
	store := newFakeStore()
	ts := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	store.transfers = []models.RawTokenTransfer{
		{ID: 1, TokenContract: "KT1Token", TokenID: "1", Amount: "1", FromAddress: "tz1Seller", ToAddress: "tz1Buyer", Timestamp: ts},
	}

	result := Run(store, baseConfig(), always)
	require.Empty(t, result.Purchases)
	require.Equal(t, 1, result.Skipped)
}

func TestAmountAboveCeilingExcluded(t *testing.T) {
	store := newFakeStore()
	ts := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	store.transfers = []models.RawTokenTransfer{
		{ID: 1, TokenContract: "KT1Token", TokenID: "1", Amount: "999999999", FromAddress: "KT1Custody", ToAddress: "tz1Buyer", Timestamp: ts},
	}

	result := Run(store, baseConfig(), always)
	require.Empty(t, result.Purchases)
	require.Equal(t, 0, result.Skipped) // excluded by the NFT-transfer filter, never reaches route logic
}

func TestOpenEditionZeroSpend(t *testing.T) {
	cfg := baseConfig()
	cfg.OpenEditionMarketplaces = []string{"objkt"}
	store := newFakeStore()
	ts := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	store.transfers = []models.RawTokenTransfer{
		{ID: 1, TokenContract: "KT1Token", TokenID: "1", Amount: "1", FromAddress: "KT1Custody", ToAddress: "tz1Buyer", Timestamp: ts},
	}
	store.bySecond[secondKey("tz1Buyer", ts)] = []models.RawTransaction{
		{ID: 10, Hash: "op10", Sender: "tz1Buyer", Target: "KT1Market", Amount: 0, Timestamp: ts},
	}

	result := Run(store, cfg, always)
	require.Len(t, result.Purchases, 1)
	require.Equal(t, models.KindOpenEdition, result.Purchases[0].Kind)
}

func TestResaleRecordedWhenSellerIsPriorBuyer(t *testing.T) {
	store := newFakeStore()
	ts1 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	ts2 := time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)

	store.transfers = []models.RawTokenTransfer{
		{ID: 1, TokenContract: "KT1Token", TokenID: "1", Amount: "1", FromAddress: "KT1Custody", ToAddress: "tz1Collector", Timestamp: ts1},
		{ID: 2, TokenContract: "KT1Token", TokenID: "2", Amount: "1", FromAddress: "tz1Collector", ToAddress: "tz1NewBuyer", Timestamp: ts2},
	}
	store.bySecond[secondKey("tz1Collector", ts1)] = []models.RawTransaction{
		{ID: 10, Hash: "op10", Sender: "tz1Collector", Target: "KT1Market", Amount: 1000000, Timestamp: ts1},
	}
	store.bySecond[secondKey("tz1NewBuyer", ts2)] = []models.RawTransaction{
		{ID: 20, Hash: "op20", Sender: "tz1NewBuyer", Target: "KT1Market", Amount: 2000000, Timestamp: ts2},
	}

	result := Run(store, baseConfig(), always)
	require.Len(t, result.Purchases, 2)
	require.Len(t, result.Resales, 1)
	require.Equal(t, "tz1Collector", result.Resales[0].SellerCollector)
}
