// Package reconcile joins contract-call transactions with token-transfer
// events to produce verified Purchase and Resale rows, following the
// route cascade in spec.md §4.5. Determinism (ascending raw-id iteration)
// is load-bearing: the reconciler must produce the same output on every
// run over the same raw data, mirrored on the teacher's own insistence on
// iterating map keys through a sorted slice in internal/flow/summary.go.
package reconcile

import (
	"math"
	"sort"
	"strings"
	"time"

	"nftscan/internal/config"
	"nftscan/internal/models"
)

// Store is the subset of store.Store the reconciler reads.
type Store interface {
	RawTokenTransfersAscending() []models.RawTokenTransfer
	TransactionByID(id int64) (models.RawTransaction, bool)
	TransactionsBySenderAtSecond(sender string, ts time.Time) []models.RawTransaction
	TokenTransfersFromAddressInTx(txID int64, addr string) []models.RawTokenTransfer
	TransactionsBySenderTargetEntrypoint(sender string, targets, entrypoints []string) []models.RawTransaction
}

// Result is the reconciler's full output for one analyze run.
type Result struct {
	Purchases []models.Purchase
	Resales   []models.Resale
	Buyers    map[string]bool
	Skipped   int // transfers that matched no route (P2P/OTC)
}

// Run executes the full reconciliation pass over every FA2 transfer
// currently in the store.
func Run(store Store, cfg config.Config, isFungible func(contract string) bool) Result {
	r := &Result{Buyers: map[string]bool{}}

	for _, transfer := range store.RawTokenTransfersAscending() {
		if !isNFTTransfer(transfer, cfg, isFungible) {
			continue
		}
		if transfer.FromAddress == "" || !strings.HasPrefix(strings.ToLower(transfer.ToAddress), "tz") {
			continue
		}

		purchase, ok := reconcileOne(store, cfg, transfer)
		if !ok {
			r.Skipped++
			continue
		}
		r.Purchases = append(r.Purchases, purchase)
		r.Buyers[purchase.Buyer] = true
	}

	r.Resales = deriveResales(store, cfg, r.Purchases, r.Buyers)
	return r
}

// isNFTTransfer applies the NFT-transfer filter from spec.md §4.5: token
// amount <= edition size ceiling AND (token_id != "0" OR contract not
// fungible).
func isNFTTransfer(t models.RawTokenTransfer, cfg config.Config, isFungible func(string) bool) bool {
	amount, ok := parseAmount(t.Amount)
	if !ok || amount > cfg.EditionSizeCeiling {
		return false
	}
	if t.TokenID != "0" {
		return true
	}
	return !isFungible(t.TokenContract)
}

func parseAmount(s string) (int64, bool) {
	if s == "" {
		return 0, false
	}
	var n int64
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, false
		}
		if n > (math.MaxInt64-9)/10 {
			return 0, false // overflow: treat as exceeding ceiling
		}
		n = n*10 + int64(c-'0')
	}
	return n, true
}

// reconcileOne applies the custody / timestamp-buyer / timestamp-seller
// route cascade to a single NFT transfer.
func reconcileOne(store Store, cfg config.Config, t models.RawTokenTransfer) (models.Purchase, bool) {
	buyer := t.ToAddress
	seller := t.FromAddress
	opHash, ok := opHashFor(store, t)
	if !ok {
		return models.Purchase{}, false
	}

	// Route 1: custody.
	if marketName, ok := cfg.CustodyMarketplace(seller); ok {
		price := firstSenderAmountAtSecond(store, buyer, t.Timestamp)
		return buildPurchase(t, opHash, marketName, buyer, seller, price, cfg), true
	}

	// Route 2: timestamp + buyer.
	for _, tx := range store.TransactionsBySenderAtSecond(buyer, t.Timestamp) {
		if m, ok := cfg.MarketplaceByAddress(tx.Target); ok {
			amt := tx.Amount
			return buildPurchase(t, opHash, m.Name, buyer, seller, &amt, cfg), true
		}
	}

	// Route 3: timestamp + seller, only through an accept-offer entrypoint.
	for _, tx := range store.TransactionsBySenderAtSecond(seller, t.Timestamp) {
		m, ok := cfg.MarketplaceByAddress(tx.Target)
		if !ok {
			continue
		}
		if !containsFold(m.AcceptOfferEntrypoints, tx.Entrypoint) {
			continue
		}
		amt := tx.Amount
		return buildPurchase(t, opHash, m.Name, buyer, seller, &amt, cfg), true
	}

	return models.Purchase{}, false
}

func buildPurchase(t models.RawTokenTransfer, opHash, marketName, buyer, seller string, price *int64, cfg config.Config) models.Purchase {
	if marketName == "" {
		marketName = "unknown"
	}
	kind := models.KindListingPurchase
	if price != nil && *price == 0 && cfg.IsOpenEdition(marketName, t.TokenContract) {
		kind = models.KindOpenEdition
	}
	return models.Purchase{
		OpHash:        opHash,
		Timestamp:     t.Timestamp,
		Buyer:         buyer,
		Seller:        seller,
		Marketplace:   marketName,
		TokenContract: t.TokenContract,
		TokenID:       t.TokenID,
		Qty:           1,
		Spend:         price,
		Kind:          kind,
	}
}

func opHashFor(store Store, t models.RawTokenTransfer) (string, bool) {
	if t.TransactionID != nil {
		if tx, ok := store.TransactionByID(*t.TransactionID); ok {
			return tx.Hash, true
		}
	}
	// No owning transaction: synthesize from the transfer id so the row is
	// still uniquely identified.
	return syntheticOpHash(t.ID), true
}

func syntheticOpHash(transferID int64) string {
	return "transfer_" + itoa(transferID)
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// firstSenderAmountAtSecond returns the amount of the first (ascending id)
// raw transaction sent by sender at the same second as ts, or nil.
func firstSenderAmountAtSecond(store Store, sender string, ts time.Time) *int64 {
	txs := store.TransactionsBySenderAtSecond(sender, ts)
	if len(txs) == 0 {
		return nil
	}
	amt := txs[0].Amount
	return &amt
}

// deriveResales implements spec.md §4.5's two resale rules: a verified sale
// whose seller was previously a buyer, and an offer-accept sent by a prior
// buyer.
func deriveResales(store Store, cfg config.Config, purchases []models.Purchase, buyers map[string]bool) []models.Resale {
	var out []models.Resale

	// firstBuy is each buyer's earliest purchase time; a resale needs a
	// purchase by the seller strictly before the sale.
	firstBuy := map[string]time.Time{}
	for _, p := range purchases {
		if t, ok := firstBuy[p.Buyer]; !ok || p.Timestamp.Before(t) {
			firstBuy[p.Buyer] = p.Timestamp
		}
	}
	boughtBefore := func(addr string, ts time.Time) bool {
		t, ok := firstBuy[addr]
		return ok && t.Before(ts)
	}

	for _, p := range purchases {
		if p.Seller == "" || !boughtBefore(p.Seller, p.Timestamp) {
			continue
		}
		out = append(out, models.Resale{
			OpHash:          p.OpHash,
			Timestamp:       p.Timestamp,
			SellerCollector: p.Seller,
			Buyer:           p.Buyer,
			Marketplace:     p.Marketplace,
			TokenContract:   p.TokenContract,
			TokenID:         p.TokenID,
			Proceeds:        p.Spend,
		})
	}

	var marketplaceAddrs, acceptEntrypoints []string
	for _, m := range cfg.Marketplaces {
		marketplaceAddrs = append(marketplaceAddrs, m.Address)
		acceptEntrypoints = append(acceptEntrypoints, m.AcceptOfferEntrypoints...)
	}

	addrs := make([]string, 0, len(buyers))
	for addr := range buyers {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)
	for _, addr := range addrs {
		for _, tx := range store.TransactionsBySenderTargetEntrypoint(addr, marketplaceAddrs, acceptEntrypoints) {
			if !boughtBefore(addr, tx.Timestamp) {
				continue
			}
			for _, transfer := range store.TokenTransfersFromAddressInTx(tx.ID, addr) {
				amt := tx.Amount
				out = append(out, models.Resale{
					OpHash:          tx.Hash,
					Timestamp:       tx.Timestamp,
					SellerCollector: addr,
					Buyer:           transfer.ToAddress,
					Marketplace:     marketplaceName(cfg, tx.Target),
					TokenContract:   transfer.TokenContract,
					TokenID:         transfer.TokenID,
					Proceeds:        &amt,
				})
			}
		}
	}
	return out
}

func marketplaceName(cfg config.Config, addr string) string {
	if m, ok := cfg.MarketplaceByAddress(addr); ok {
		return m.Name
	}
	return "unknown"
}

func containsFold(list []string, v string) bool {
	for _, x := range list {
		if strings.EqualFold(x, v) {
			return true
		}
	}
	return false
}
