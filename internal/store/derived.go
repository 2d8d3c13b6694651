package store

import (
	"encoding/json"

	bolt "go.etcd.io/bbolt"

	"nftscan/internal/models"
)

// loadDerived populates the in-memory derived-table mirror from disk. Called
// from load() under the View transaction taken by Open.
func (s *Store) loadDerived(tx *bolt.Tx) error {
	if err := forEach(tx, bucketBuyers, func(k, _ []byte) error {
		s.buyers[string(k)] = true
		return nil
	}); err != nil {
		return err
	}
	if err := forEach(tx, bucketCreators, func(k, _ []byte) error {
		s.creators[string(k)] = true
		return nil
	}); err != nil {
		return err
	}
	if err := forEach(tx, bucketBuyerBalanceStart, func(k, v []byte) error {
		var b models.RawBalance
		if err := json.Unmarshal(v, &b); err != nil {
			return err
		}
		s.buyerBalanceStart[string(k)] = b
		return nil
	}); err != nil {
		return err
	}
	if err := forEach(tx, bucketPurchases, func(_, v []byte) error {
		var p models.Purchase
		if err := json.Unmarshal(v, &p); err != nil {
			return err
		}
		s.purchases = append(s.purchases, p)
		return nil
	}); err != nil {
		return err
	}
	if err := forEach(tx, bucketListings, func(_, v []byte) error {
		var l models.Listing
		if err := json.Unmarshal(v, &l); err != nil {
			return err
		}
		s.listings = append(s.listings, l)
		return nil
	}); err != nil {
		return err
	}
	if err := forEach(tx, bucketOfferAccepts, func(_, v []byte) error {
		var o models.OfferAccept
		if err := json.Unmarshal(v, &o); err != nil {
			return err
		}
		s.offerAccepts = append(s.offerAccepts, o)
		return nil
	}); err != nil {
		return err
	}
	if err := forEach(tx, bucketResales, func(_, v []byte) error {
		var r models.Resale
		if err := json.Unmarshal(v, &r); err != nil {
			return err
		}
		s.resales = append(s.resales, r)
		return nil
	}); err != nil {
		return err
	}
	if err := forEach(tx, bucketMints, func(_, v []byte) error {
		var m models.Mint
		if err := json.Unmarshal(v, &m); err != nil {
			return err
		}
		s.mints = append(s.mints, m)
		return nil
	}); err != nil {
		return err
	}
	if err := forEach(tx, bucketDailyMetrics, func(k, v []byte) error {
		var d models.DailyMetrics
		if err := json.Unmarshal(v, &d); err != nil {
			return err
		}
		s.dailyMetrics[string(k)] = d
		return nil
	}); err != nil {
		return err
	}
	if err := forEach(tx, bucketMarketplaceStats, func(k, v []byte) error {
		var m models.MarketplaceStats
		if err := json.Unmarshal(v, &m); err != nil {
			return err
		}
		s.marketplaceStats[string(k)] = m
		return nil
	}); err != nil {
		return err
	}
	if err := forEach(tx, bucketDailyMarketFees, func(k, v []byte) error {
		var d models.DailyMarketplaceFees
		if err := json.Unmarshal(v, &d); err != nil {
			return err
		}
		s.dailyMarketFees[string(k)] = d
		return nil
	}); err != nil {
		return err
	}
	if err := forEach(tx, bucketBuyerCexFlow, func(k, v []byte) error {
		var b models.BuyerCexFlow
		if err := json.Unmarshal(v, &b); err != nil {
			return err
		}
		s.buyerCexFlow[string(k)] = b
		return nil
	}); err != nil {
		return err
	}
	if err := forEach(tx, bucketCreatorFundFlow, func(k, v []byte) error {
		var c models.CreatorFundFlow
		if err := json.Unmarshal(v, &c); err != nil {
			return err
		}
		s.creatorFundFlow[string(k)] = c
		return nil
	}); err != nil {
		return err
	}
	return forEach(tx, bucketWalletXtzSummary, func(k, v []byte) error {
		var w models.WalletXtzSummary
		if err := json.Unmarshal(v, &w); err != nil {
			return err
		}
		s.walletXtzSummary[string(k)] = w
		return nil
	})
}

// ReplaceDerived atomically writes the full set of derived tables computed
// by one analyze run. Analyze always calls ClearDerived first, so this is a
// pure insert. Derived tables are a pure function of raw tables plus
// configuration (invariant 7); ReplaceDerived is how that purity is
// persisted in one commit.
func (s *Store) ReplaceDerived(d DerivedTables) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Update(func(tx *bolt.Tx) error {
		for addr := range d.Buyers {
			if err := tx.Bucket(bucketBuyers).Put([]byte(addr), []byte{1}); err != nil {
				return err
			}
		}
		for addr := range d.Creators {
			if err := tx.Bucket(bucketCreators).Put([]byte(addr), []byte{1}); err != nil {
				return err
			}
		}
		for addr, b := range d.BuyerBalanceStart {
			if err := putJSON(tx, bucketBuyerBalanceStart, []byte(addr), b); err != nil {
				return err
			}
		}
		for i, p := range d.Purchases {
			if err := putJSON(tx, bucketPurchases, int64Key(int64(i+1)), p); err != nil {
				return err
			}
		}
		for i, l := range d.Listings {
			if err := putJSON(tx, bucketListings, int64Key(int64(i+1)), l); err != nil {
				return err
			}
		}
		for i, o := range d.OfferAccepts {
			if err := putJSON(tx, bucketOfferAccepts, int64Key(int64(i+1)), o); err != nil {
				return err
			}
		}
		for i, r := range d.Resales {
			if err := putJSON(tx, bucketResales, int64Key(int64(i+1)), r); err != nil {
				return err
			}
		}
		for i, m := range d.Mints {
			if err := putJSON(tx, bucketMints, int64Key(int64(i+1)), m); err != nil {
				return err
			}
		}
		for date, dm := range d.DailyMetrics {
			if err := putJSON(tx, bucketDailyMetrics, []byte(date), dm); err != nil {
				return err
			}
		}
		for name, ms := range d.MarketplaceStats {
			if err := putJSON(tx, bucketMarketplaceStats, []byte(name), ms); err != nil {
				return err
			}
		}
		for key, f := range d.DailyMarketplaceFees {
			if err := putJSON(tx, bucketDailyMarketFees, []byte(key), f); err != nil {
				return err
			}
		}
		for addr, b := range d.BuyerCexFlow {
			if err := putJSON(tx, bucketBuyerCexFlow, []byte(addr), b); err != nil {
				return err
			}
		}
		for addr, c := range d.CreatorFundFlow {
			if err := putJSON(tx, bucketCreatorFundFlow, []byte(addr), c); err != nil {
				return err
			}
		}
		for addr, w := range d.WalletXtzSummary {
			if err := putJSON(tx, bucketWalletXtzSummary, []byte(addr), w); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.buyers = d.Buyers
	s.creators = d.Creators
	s.buyerBalanceStart = d.BuyerBalanceStart
	s.purchases = d.Purchases
	s.listings = d.Listings
	s.offerAccepts = d.OfferAccepts
	s.resales = d.Resales
	s.mints = d.Mints
	s.dailyMetrics = d.DailyMetrics
	s.marketplaceStats = d.MarketplaceStats
	s.dailyMarketFees = d.DailyMarketplaceFees
	s.buyerCexFlow = d.BuyerCexFlow
	s.creatorFundFlow = d.CreatorFundFlow
	s.walletXtzSummary = d.WalletXtzSummary
	return nil
}

// DerivedTables is the full set of derived-table contents produced by one
// analyze run (activity deriver + aggregator + flow engine outputs).
type DerivedTables struct {
	Buyers            map[string]bool
	Creators          map[string]bool
	BuyerBalanceStart map[string]models.RawBalance
	Purchases         []models.Purchase
	Listings          []models.Listing
	OfferAccepts      []models.OfferAccept
	Resales           []models.Resale
	Mints             []models.Mint
	DailyMetrics          map[string]models.DailyMetrics
	MarketplaceStats      map[string]models.MarketplaceStats
	DailyMarketplaceFees  map[string]models.DailyMarketplaceFees
	BuyerCexFlow          map[string]models.BuyerCexFlow
	CreatorFundFlow       map[string]models.CreatorFundFlow
	WalletXtzSummary      map[string]models.WalletXtzSummary
}

func (s *Store) Purchases() []models.Purchase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Purchase(nil), s.purchases...)
}

func (s *Store) Listings() []models.Listing {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Listing(nil), s.listings...)
}

func (s *Store) Mints() []models.Mint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Mint(nil), s.mints...)
}

func (s *Store) Resales() []models.Resale {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Resale(nil), s.resales...)
}

func (s *Store) OfferAccepts() []models.OfferAccept {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.OfferAccept(nil), s.offerAccepts...)
}

func (s *Store) IsBuyer(addr string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buyers[addr]
}

// BuyerAndCreatorAddresses returns the union of the buyer and creator
// address sets from the last analyze run — the sender filter of the narrow
// XTZ ingest mode (spec.md §4.3 mode 2).
func (s *Store) BuyerAndCreatorAddresses() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]bool, len(s.buyers)+len(s.creators))
	for addr := range s.buyers {
		seen[addr] = true
	}
	for addr := range s.creators {
		seen[addr] = true
	}
	out := make([]string, 0, len(seen))
	for addr := range seen {
		out = append(out, addr)
	}
	return out
}

func (s *Store) DailyMetricsMap() map[string]models.DailyMetrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]models.DailyMetrics, len(s.dailyMetrics))
	for k, v := range s.dailyMetrics {
		out[k] = v
	}
	return out
}

func (s *Store) MarketplaceStatsMap() map[string]models.MarketplaceStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]models.MarketplaceStats, len(s.marketplaceStats))
	for k, v := range s.marketplaceStats {
		out[k] = v
	}
	return out
}

func (s *Store) WalletXtzSummaryMap() map[string]models.WalletXtzSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]models.WalletXtzSummary, len(s.walletXtzSummary))
	for k, v := range s.walletXtzSummary {
		out[k] = v
	}
	return out
}
