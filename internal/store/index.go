package store

import (
	"strings"
	"time"

	"nftscan/internal/models"
)

// TransactionsByTargetEntrypoint returns, in ascending id order, every raw
// transaction whose target is in targets and whose entrypoint is in
// entrypoints (or any entrypoint when entrypoints is empty).
func (s *Store) TransactionsByTargetEntrypoint(targets, entrypoints []string) []models.RawTransaction {
	targetSet := toSet(targets)
	epSet := toSet(entrypoints)
	var out []models.RawTransaction
	for _, tx := range s.RawTransactionsAscending() {
		if !targetSet[strings.ToLower(tx.Target)] {
			continue
		}
		if len(epSet) > 0 && !epSet[strings.ToLower(tx.Entrypoint)] {
			continue
		}
		out = append(out, tx)
	}
	return out
}

// TransactionsBySenderTargetEntrypoint mirrors TransactionsByTargetEntrypoint
// with an additional sender filter (used for the offer-accept lookup route).
func (s *Store) TransactionsBySenderTargetEntrypoint(sender string, targets, entrypoints []string) []models.RawTransaction {
	targetSet := toSet(targets)
	epSet := toSet(entrypoints)
	sender = strings.ToLower(sender)
	var out []models.RawTransaction
	for _, tx := range s.RawTransactionsAscending() {
		if strings.ToLower(tx.Sender) != sender {
			continue
		}
		if len(targetSet) > 0 && !targetSet[strings.ToLower(tx.Target)] {
			continue
		}
		if len(epSet) > 0 && !epSet[strings.ToLower(tx.Entrypoint)] {
			continue
		}
		out = append(out, tx)
	}
	return out
}

// TransactionByID looks up a raw transaction by its owning-transaction id,
// the primary join key from RawTokenTransfer.TransactionID.
func (s *Store) TransactionByID(id int64) (models.RawTransaction, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.rawTx[id]
	if !ok {
		return models.RawTransaction{}, false
	}
	return *tx, true
}

// TransactionsBySenderAtSecond returns, in ascending id order, every raw
// transaction sent by sender whose timestamp truncates to the same second
// as ts. This backs the timestamp-plus-buyer and timestamp-plus-seller
// reconciliation routes (spec.md §4.5); callers take the first match.
func (s *Store) TransactionsBySenderAtSecond(sender string, ts time.Time) []models.RawTransaction {
	sender = strings.ToLower(sender)
	sec := ts.Truncate(time.Second)
	var out []models.RawTransaction
	for _, tx := range s.RawTransactionsAscending() {
		if strings.ToLower(tx.Sender) != sender {
			continue
		}
		if !tx.Timestamp.Truncate(time.Second).Equal(sec) {
			continue
		}
		out = append(out, tx)
	}
	return out
}

// MintCandidateTransfers returns, in ascending id order, every FA2 token
// transfer with a null/empty from address — the mint detector's source set
// (spec.md §4.6).
func (s *Store) MintCandidateTransfers() []models.RawTokenTransfer {
	var out []models.RawTokenTransfer
	for _, t := range s.RawTokenTransfersAscending() {
		if strings.EqualFold(t.TokenStandard, "fa2") && t.IsMint() {
			out = append(out, t)
		}
	}
	return out
}

// TokenTransfersForToken returns every transfer of (contract, tokenID), in
// ascending id order.
func (s *Store) TokenTransfersForToken(contract, tokenID string) []models.RawTokenTransfer {
	var out []models.RawTokenTransfer
	for _, t := range s.RawTokenTransfersAscending() {
		if strings.EqualFold(t.TokenContract, contract) && t.TokenID == tokenID {
			out = append(out, t)
		}
	}
	return out
}

// TokenTransferByTransactionID returns the (first, ascending-id) FA2
// transfer attached to owning transaction txID, if any.
func (s *Store) TokenTransferByTransactionID(txID int64) (models.RawTokenTransfer, bool) {
	for _, t := range s.RawTokenTransfersAscending() {
		if t.TransactionID != nil && *t.TransactionID == txID {
			return t, true
		}
	}
	return models.RawTokenTransfer{}, false
}

// TokenTransfersFromAddressInTx returns the FA2 transfers attached to txID
// whose from address is addr (used for the offer-accept-by-prior-buyer
// resale rule, spec.md §4.5).
func (s *Store) TokenTransfersFromAddressInTx(txID int64, addr string) []models.RawTokenTransfer {
	addr = strings.ToLower(addr)
	var out []models.RawTokenTransfer
	for _, t := range s.RawTokenTransfersAscending() {
		if t.TransactionID == nil || *t.TransactionID != txID {
			continue
		}
		if strings.ToLower(t.FromAddress) != addr {
			continue
		}
		out = append(out, t)
	}
	return out
}

// LatestListingBefore returns the most recent Listing row for (seller,
// contract, tokenID) with ts <= beforeTS (spec.md §4.1 latest-listing-price
// lookup, used by the offer-accept deriver for reference_list_price).
func (s *Store) LatestListingBefore(seller, contract, tokenID string, beforeTS time.Time) (models.Listing, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seller = strings.ToLower(seller)
	var best models.Listing
	found := false
	for _, l := range s.listings {
		if strings.ToLower(l.Seller) != seller {
			continue
		}
		if !strings.EqualFold(l.TokenContract, contract) || l.TokenID != tokenID {
			continue
		}
		if l.Timestamp.After(beforeTS) {
			continue
		}
		if !found || l.Timestamp.After(best.Timestamp) {
			best = l
			found = true
		}
	}
	return best, found
}

func toSet(items []string) map[string]bool {
	out := make(map[string]bool, len(items))
	for _, it := range items {
		out[strings.ToLower(it)] = true
	}
	return out
}
