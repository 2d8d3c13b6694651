// Package store implements the embedded, single-writer relational store
// described in spec.md §4.1. The durable engine is go.etcd.io/bbolt — a
// single-file, transactional embedded KV store — which is the pack's recurring
// choice for this role (see DESIGN.md). Each table is one bucket; rows are
// JSON-encoded values keyed by a big-endian-encoded primary key so that
// bucket iteration order is ascending-id order, which the sale reconciler
// depends on for deterministic tie-breaks (spec.md §4.5, §9).
//
// Store additionally keeps an in-memory mirror of every table and answers
// every lookup from it (by id from a map, otherwise by scanning rows in
// ascending-id order); bbolt is the durability mechanism, not the query path.
// Save() commits the pending in-memory batch to bbolt in one transaction —
// this is the "snapshot flush" of spec.md §4.1, realized as a single bbolt
// commit instead of a whole-file rewrite.
package store

import (
	"encoding/binary"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"

	"nftscan/internal/models"
)

var log = logrus.WithField("component", "store")

// bucket names, one per table in spec.md §6's schema summary.
var (
	bucketRawTransactions    = []byte("raw_transactions")
	bucketRawTokenTransfers  = []byte("raw_token_transfers")
	bucketRawBalances        = []byte("raw_balances")
	bucketRawXtzTransfers    = []byte("raw_xtz_transfers")
	bucketSyncProgress       = []byte("sync_progress")
	bucketContractMetadata   = []byte("contract_metadata")
	bucketAddressRegistry    = []byte("address_registry")
	bucketAllTransactions    = []byte("all_transactions")
	bucketXtzFlows           = []byte("xtz_flows")

	bucketBuyers             = []byte("buyers")
	bucketBuyerBalanceStart  = []byte("buyer_balance_start")
	bucketPurchases          = []byte("purchases")
	bucketCreators           = []byte("creators")
	bucketMints              = []byte("mints")
	bucketListings           = []byte("listings")
	bucketOfferAccepts       = []byte("offer_accepts")
	bucketResales            = []byte("resales")
	bucketDailyMetrics       = []byte("daily_metrics")
	bucketMarketplaceStats   = []byte("marketplace_stats")
	bucketDailyMarketFees    = []byte("daily_marketplace_fees")
	bucketBuyerCexFlow       = []byte("buyer_cex_flow")
	bucketCreatorFundFlow    = []byte("creator_fund_flow")
	bucketWalletXtzSummary   = []byte("wallet_xtz_summary")

	bucketSyncMetadata       = []byte("sync_metadata")
)

var allBuckets = [][]byte{
	bucketRawTransactions, bucketRawTokenTransfers, bucketRawBalances, bucketRawXtzTransfers,
	bucketSyncProgress, bucketContractMetadata, bucketAddressRegistry, bucketAllTransactions,
	bucketXtzFlows, bucketBuyers, bucketBuyerBalanceStart, bucketPurchases, bucketCreators,
	bucketMints, bucketListings, bucketOfferAccepts, bucketResales, bucketDailyMetrics,
	bucketMarketplaceStats, bucketDailyMarketFees, bucketBuyerCexFlow, bucketCreatorFundFlow,
	bucketWalletXtzSummary, bucketSyncMetadata,
}

// derivedBuckets are truncated by ClearDerived and rebuilt every analyze run
// (spec.md §3 Lifecycle). Raw tables, ContractMetadata, AddressRegistry, and
// SyncProgress persist across analyze runs and are NOT in this list.
var derivedBuckets = [][]byte{
	bucketBuyers, bucketBuyerBalanceStart, bucketPurchases, bucketCreators, bucketMints,
	bucketListings, bucketOfferAccepts, bucketResales, bucketDailyMetrics,
	bucketMarketplaceStats, bucketDailyMarketFees, bucketBuyerCexFlow, bucketCreatorFundFlow,
	bucketWalletXtzSummary,
}

// Store is the single-writer embedded relational store.
type Store struct {
	db *bolt.DB

	mu sync.Mutex // guards everything below; Store is single-writer, many-reader

	rawTx        map[int64]*models.RawTransaction
	rawTxOrder   []int64 // ascending id
	rawTransfers map[int64]*models.RawTokenTransfer
	rawTransfersOrder []int64
	rawBalances  map[string]*models.RawBalance
	rawXtz       map[int64]*models.RawXtzTransfer
	rawXtzOrder  []int64
	syncProgress map[string]*models.SyncProgress
	contractMeta map[string]*models.ContractMetadata
	addressReg   map[string]*models.AddressRegistry
	allTx        map[int64]*models.AllTransaction
	xtzFlows     map[int64]*models.XtzFlow

	buyers  map[string]bool
	creators map[string]bool
	buyerBalanceStart map[string]models.RawBalance
	purchases    []models.Purchase
	listings     []models.Listing
	offerAccepts []models.OfferAccept
	resales      []models.Resale
	mints        []models.Mint
	dailyMetrics map[string]models.DailyMetrics
	marketplaceStats map[string]models.MarketplaceStats
	dailyMarketFees map[string]models.DailyMarketplaceFees
	buyerCexFlow map[string]models.BuyerCexFlow
	creatorFundFlow map[string]models.CreatorFundFlow
	walletXtzSummary map[string]models.WalletXtzSummary

	pending pendingBatch
}

type pendingBatch struct {
	rawTx        []models.RawTransaction
	rawTransfers []models.RawTokenTransfer
	rawBalances  []models.RawBalance
	rawXtz       []models.RawXtzTransfer
	syncProgress []models.SyncProgress
	contractMeta []models.ContractMetadata
	addressReg   []models.AddressRegistry
	allTx        []models.AllTransaction
	xtzFlows     []models.XtzFlow
}

func (p *pendingBatch) empty() bool {
	return len(p.rawTx) == 0 && len(p.rawTransfers) == 0 && len(p.rawBalances) == 0 &&
		len(p.rawXtz) == 0 && len(p.syncProgress) == 0 && len(p.contractMeta) == 0 &&
		len(p.addressReg) == 0 && len(p.allTx) == 0 && len(p.xtzFlows) == 0
}

// Open creates dataDir if needed and opens (or initializes) the store file
// at dataDir/nftscan.db.
func Open(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create data dir %s", dataDir)
	}
	dbPath := filepath.Join(dataDir, "nftscan.db")
	db, err := bolt.Open(dbPath, 0o644, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "open store %s", dbPath)
	}

	s := &Store{
		db:           db,
		rawTx:        make(map[int64]*models.RawTransaction),
		rawTransfers: make(map[int64]*models.RawTokenTransfer),
		rawBalances:  make(map[string]*models.RawBalance),
		rawXtz:       make(map[int64]*models.RawXtzTransfer),
		syncProgress: make(map[string]*models.SyncProgress),
		contractMeta: make(map[string]*models.ContractMetadata),
		addressReg:   make(map[string]*models.AddressRegistry),
		allTx:        make(map[int64]*models.AllTransaction),
		xtzFlows:     make(map[int64]*models.XtzFlow),

		buyers:            make(map[string]bool),
		creators:          make(map[string]bool),
		buyerBalanceStart: make(map[string]models.RawBalance),
		dailyMetrics:      make(map[string]models.DailyMetrics),
		marketplaceStats:  make(map[string]models.MarketplaceStats),
		dailyMarketFees:   make(map[string]models.DailyMarketplaceFees),
		buyerCexFlow:      make(map[string]models.BuyerCexFlow),
		creatorFundFlow:   make(map[string]models.CreatorFundFlow),
		walletXtzSummary:  make(map[string]models.WalletXtzSummary),
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		for _, b := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return errors.Wrapf(err, "create bucket %s", b)
			}
		}
		return nil
	}); err != nil {
		db.Close()
		return nil, err
	}

	if err := s.load(); err != nil {
		db.Close()
		return nil, err
	}
	log.WithField("path", dbPath).Info("store opened")
	return s, nil
}

// Close closes the underlying bbolt file. Callers should Save() first.
func (s *Store) Close() error {
	return s.db.Close()
}

func int64Key(id int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(id))
	return buf
}

// load populates the in-memory mirror from the on-disk buckets. Called once
// at Open.
func (s *Store) load() error {
	return s.db.View(func(tx *bolt.Tx) error {
		if err := forEach(tx, bucketRawTransactions, func(_ []byte, v []byte) error {
			var r models.RawTransaction
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			row := r
			s.rawTx[r.ID] = &row
			s.rawTxOrder = append(s.rawTxOrder, r.ID)
			return nil
		}); err != nil {
			return err
		}
		if err := forEach(tx, bucketRawTokenTransfers, func(_ []byte, v []byte) error {
			var r models.RawTokenTransfer
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			row := r
			s.rawTransfers[r.ID] = &row
			s.rawTransfersOrder = append(s.rawTransfersOrder, r.ID)
			return nil
		}); err != nil {
			return err
		}
		if err := forEach(tx, bucketRawBalances, func(_ []byte, v []byte) error {
			var r models.RawBalance
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			row := r
			s.rawBalances[r.Address] = &row
			return nil
		}); err != nil {
			return err
		}
		if err := forEach(tx, bucketRawXtzTransfers, func(_ []byte, v []byte) error {
			var r models.RawXtzTransfer
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			row := r
			s.rawXtz[r.ID] = &row
			s.rawXtzOrder = append(s.rawXtzOrder, r.ID)
			return nil
		}); err != nil {
			return err
		}
		if err := forEach(tx, bucketSyncProgress, func(_ []byte, v []byte) error {
			var r models.SyncProgress
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			row := r
			s.syncProgress[r.WeekID] = &row
			return nil
		}); err != nil {
			return err
		}
		if err := forEach(tx, bucketContractMetadata, func(_ []byte, v []byte) error {
			var r models.ContractMetadata
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			row := r
			s.contractMeta[r.Address] = &row
			return nil
		}); err != nil {
			return err
		}
		if err := forEach(tx, bucketAddressRegistry, func(_ []byte, v []byte) error {
			var r models.AddressRegistry
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			row := r
			s.addressReg[r.Address] = &row
			return nil
		}); err != nil {
			return err
		}
		if err := forEach(tx, bucketAllTransactions, func(_ []byte, v []byte) error {
			var r models.AllTransaction
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			row := r
			s.allTx[r.ID] = &row
			return nil
		}); err != nil {
			return err
		}
		if err := forEach(tx, bucketXtzFlows, func(_ []byte, v []byte) error {
			var r models.XtzFlow
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			row := r
			s.xtzFlows[r.ID] = &row
			return nil
		}); err != nil {
			return err
		}
		return s.loadDerived(tx)
	})
}

func forEach(tx *bolt.Tx, bucket []byte, fn func(k, v []byte) error) error {
	b := tx.Bucket(bucket)
	if b == nil {
		return nil
	}
	return b.ForEach(func(k, v []byte) error { return fn(k, v) })
}

// Save commits the pending batch to bbolt in a single transaction and merges
// it into the in-memory mirror. Failure here loses at most the pending
// batch; every raw insert is id-idempotent so a re-run heals the gap
// (spec.md §4.1 failure model).
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending.empty() {
		return nil
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		for _, r := range s.pending.rawTx {
			if _, exists := s.rawTx[r.ID]; exists {
				continue // upsert-ignore: idempotent on id (invariant 1)
			}
			if err := putJSON(tx, bucketRawTransactions, int64Key(r.ID), r); err != nil {
				return err
			}
			row := r
			s.rawTx[r.ID] = &row
			s.rawTxOrder = append(s.rawTxOrder, r.ID)
		}
		for _, r := range s.pending.rawTransfers {
			if _, exists := s.rawTransfers[r.ID]; exists {
				continue
			}
			if err := putJSON(tx, bucketRawTokenTransfers, int64Key(r.ID), r); err != nil {
				return err
			}
			row := r
			s.rawTransfers[r.ID] = &row
			s.rawTransfersOrder = append(s.rawTransfersOrder, r.ID)
		}
		for _, r := range s.pending.rawBalances {
			if err := putJSON(tx, bucketRawBalances, []byte(r.Address), r); err != nil {
				return err
			}
			row := r
			s.rawBalances[r.Address] = &row
		}
		for _, r := range s.pending.rawXtz {
			if _, exists := s.rawXtz[r.ID]; exists {
				continue
			}
			if err := putJSON(tx, bucketRawXtzTransfers, int64Key(r.ID), r); err != nil {
				return err
			}
			row := r
			s.rawXtz[r.ID] = &row
			s.rawXtzOrder = append(s.rawXtzOrder, r.ID)
		}
		for _, r := range s.pending.syncProgress {
			if err := putJSON(tx, bucketSyncProgress, []byte(r.WeekID), r); err != nil {
				return err
			}
			row := r
			s.syncProgress[r.WeekID] = &row
		}
		for _, r := range s.pending.contractMeta {
			if err := putJSON(tx, bucketContractMetadata, []byte(r.Address), r); err != nil {
				return err
			}
			row := r
			s.contractMeta[r.Address] = &row
		}
		for _, r := range s.pending.addressReg {
			if err := putJSON(tx, bucketAddressRegistry, []byte(r.Address), r); err != nil {
				return err
			}
			row := r
			s.addressReg[r.Address] = &row
		}
		for _, r := range s.pending.allTx {
			if err := putJSON(tx, bucketAllTransactions, int64Key(r.ID), r); err != nil {
				return err
			}
			row := r
			s.allTx[r.ID] = &row
		}
		for _, r := range s.pending.xtzFlows {
			if _, exists := s.xtzFlows[r.ID]; exists {
				continue
			}
			if err := putJSON(tx, bucketXtzFlows, int64Key(r.ID), r); err != nil {
				return err
			}
			row := r
			s.xtzFlows[r.ID] = &row
		}
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "save batch")
	}

	s.pending = pendingBatch{}
	return nil
}

func putJSON(tx *bolt.Tx, bucket []byte, key []byte, v interface{}) error {
	b := tx.Bucket(bucket)
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Put(key, data)
}

// ClearDerived truncates only the derived tables (spec.md §4.1).
func (s *Store) ClearDerived() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.Update(func(tx *bolt.Tx) error {
		for _, b := range derivedBuckets {
			if err := tx.DeleteBucket(b); err != nil && err != bolt.ErrBucketNotFound {
				return err
			}
			if _, err := tx.CreateBucket(b); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return errors.Wrap(err, "clear derived")
	}

	s.buyers = make(map[string]bool)
	s.creators = make(map[string]bool)
	s.buyerBalanceStart = make(map[string]models.RawBalance)
	s.purchases = nil
	s.listings = nil
	s.offerAccepts = nil
	s.resales = nil
	s.mints = nil
	s.dailyMetrics = make(map[string]models.DailyMetrics)
	s.marketplaceStats = make(map[string]models.MarketplaceStats)
	s.dailyMarketFees = make(map[string]models.DailyMarketplaceFees)
	s.buyerCexFlow = make(map[string]models.BuyerCexFlow)
	s.creatorFundFlow = make(map[string]models.CreatorFundFlow)
	s.walletXtzSummary = make(map[string]models.WalletXtzSummary)
	return nil
}

// ClearAll truncates everything, raw and derived (the orchestrator's
// `--clear` flag).
func (s *Store) ClearAll() error {
	s.mu.Lock()
	if err := s.db.Update(func(tx *bolt.Tx) error {
		for _, b := range allBuckets {
			if err := tx.DeleteBucket(b); err != nil && err != bolt.ErrBucketNotFound {
				return err
			}
			if _, err := tx.CreateBucket(b); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		s.mu.Unlock()
		return errors.Wrap(err, "clear all")
	}
	s.mu.Unlock()

	// Reset in-memory state without reopening the file handle.
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rawTx = make(map[int64]*models.RawTransaction)
	s.rawTxOrder = nil
	s.rawTransfers = make(map[int64]*models.RawTokenTransfer)
	s.rawTransfersOrder = nil
	s.rawBalances = make(map[string]*models.RawBalance)
	s.rawXtz = make(map[int64]*models.RawXtzTransfer)
	s.rawXtzOrder = nil
	s.syncProgress = make(map[string]*models.SyncProgress)
	s.contractMeta = make(map[string]*models.ContractMetadata)
	s.addressReg = make(map[string]*models.AddressRegistry)
	s.allTx = make(map[int64]*models.AllTransaction)
	s.xtzFlows = make(map[int64]*models.XtzFlow)
	s.buyers = make(map[string]bool)
	s.creators = make(map[string]bool)
	s.buyerBalanceStart = make(map[string]models.RawBalance)
	s.purchases = nil
	s.listings = nil
	s.offerAccepts = nil
	s.resales = nil
	s.mints = nil
	s.dailyMetrics = make(map[string]models.DailyMetrics)
	s.marketplaceStats = make(map[string]models.MarketplaceStats)
	s.dailyMarketFees = make(map[string]models.DailyMarketplaceFees)
	s.buyerCexFlow = make(map[string]models.BuyerCexFlow)
	s.creatorFundFlow = make(map[string]models.CreatorFundFlow)
	s.walletXtzSummary = make(map[string]models.WalletXtzSummary)
	return nil
}
