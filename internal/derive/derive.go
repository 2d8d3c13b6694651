// Package derive computes Mint, Listing, and OfferAccept rows from raw
// transactions and token transfers, following spec.md §4.6. It shares the
// store/config contract with the reconciler rather than depending on it
// directly, keeping the two derivations independently testable.
package derive

import (
	"strconv"
	"strings"
	"time"

	"nftscan/internal/config"
	"nftscan/internal/models"
	"nftscan/internal/paramwalk"
)

// Store is the subset of store.Store the deriver reads.
type Store interface {
	MintCandidateTransfers() []models.RawTokenTransfer
	TransactionByID(id int64) (models.RawTransaction, bool)
	TransactionsByTargetEntrypoint(targets, entrypoints []string) []models.RawTransaction
	TokenTransferByTransactionID(txID int64) (models.RawTokenTransfer, bool)
	LatestListingBefore(seller, contract, tokenID string, beforeTS time.Time) (models.Listing, bool)
}

// Result bundles the deriver's output.
type Result struct {
	Mints           []models.Mint
	Creators        map[string]bool
	Listings        []models.Listing
	OfferAccepts    []models.OfferAccept
	SkippedListings int
}

// Run executes the full activity derivation pass.
func Run(store Store, cfg config.Config) Result {
	r := Result{Creators: map[string]bool{}}

	r.Mints, r.Creators = deriveMints(store)
	r.Listings, r.SkippedListings = deriveListings(store, cfg)
	r.OfferAccepts = deriveOfferAccepts(store, cfg)
	return r
}

// deriveMints implements spec.md §4.6's mint rule: every FA2 transfer with
// a null/empty from is a mint; a wallet-prefixed to becomes a creator.
func deriveMints(store Store) ([]models.Mint, map[string]bool) {
	var mints []models.Mint
	creators := map[string]bool{}

	for _, transfer := range store.MintCandidateTransfers() {
		opHash := "mint_" + strconv.FormatInt(transfer.ID, 10)
		if transfer.TransactionID != nil {
			if tx, ok := store.TransactionByID(*transfer.TransactionID); ok {
				opHash = tx.Hash
			}
		}

		if strings.HasPrefix(strings.ToLower(transfer.ToAddress), "tz") {
			creators[transfer.ToAddress] = true
		}

		mints = append(mints, models.Mint{
			OpHash:        opHash,
			Timestamp:     transfer.Timestamp,
			Creator:       transfer.ToAddress,
			TokenContract: transfer.TokenContract,
			TokenID:       transfer.TokenID,
		})
	}
	return mints, creators
}

// deriveListings implements spec.md §4.6's listing rule, parsing the
// opaque parameter payload via paramwalk.
func deriveListings(store Store, cfg config.Config) ([]models.Listing, int) {
	targets := marketplaceAddresses(cfg)
	var entrypoints []string
	for _, m := range cfg.Marketplaces {
		entrypoints = append(entrypoints, m.ListEntrypoints...)
	}

	var listings []models.Listing
	skipped := 0
	for _, tx := range store.TransactionsByTargetEntrypoint(targets, entrypoints) {
		parsed := paramwalk.Walk(tx.Parameters)
		if !parsed.Found {
			skipped++
			continue
		}
		marketName := "unknown"
		if m, ok := cfg.MarketplaceByAddress(tx.Target); ok {
			marketName = m.Name
		}
		listings = append(listings, models.Listing{
			OpHash:        tx.Hash,
			Timestamp:     tx.Timestamp,
			Seller:        tx.Sender,
			Marketplace:   marketName,
			TokenContract: parsed.TokenContract,
			TokenID:       parsed.TokenID,
			ListPrice:     parsed.Price,
		})
	}
	return listings, skipped
}

// deriveOfferAccepts implements spec.md §4.6's offer-accept rule.
func deriveOfferAccepts(store Store, cfg config.Config) []models.OfferAccept {
	targets := marketplaceAddresses(cfg)
	var entrypoints []string
	for _, m := range cfg.Marketplaces {
		entrypoints = append(entrypoints, m.AcceptOfferEntrypoints...)
	}

	var out []models.OfferAccept
	for _, tx := range store.TransactionsByTargetEntrypoint(targets, entrypoints) {
		transfer, ok := store.TokenTransferByTransactionID(tx.ID)
		if !ok {
			continue
		}
		marketName := "unknown"
		if m, ok := cfg.MarketplaceByAddress(tx.Target); ok {
			marketName = m.Name
		}

		acceptedPrice := tx.Amount
		oa := models.OfferAccept{
			OpHash:        tx.Hash,
			Timestamp:     tx.Timestamp,
			Seller:        tx.Sender,
			Buyer:         transfer.ToAddress,
			Marketplace:   marketName,
			TokenContract: transfer.TokenContract,
			TokenID:       transfer.TokenID,
			AcceptedPrice: &acceptedPrice,
		}

		if ref, ok := store.LatestListingBefore(tx.Sender, transfer.TokenContract, transfer.TokenID, tx.Timestamp); ok && ref.ListPrice != nil {
			oa.ReferenceListPrice = ref.ListPrice
			underList := acceptedPrice < *ref.ListPrice
			oa.UnderList = &underList
		}

		out = append(out, oa)
	}
	return out
}

func marketplaceAddresses(cfg config.Config) []string {
	out := make([]string, 0, len(cfg.Marketplaces))
	for _, m := range cfg.Marketplaces {
		out = append(out, m.Address)
	}
	return out
}
