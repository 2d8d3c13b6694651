package store

import (
	"sort"

	"nftscan/internal/models"
)

// AddRawTransactions queues a batch of raw transactions for the next Save().
// Duplicates (by id, against what's already persisted) are silently
// ignored at Save time — invariant 1, re-ingest is idempotent.
func (s *Store) AddRawTransactions(rows []models.RawTransaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending.rawTx = append(s.pending.rawTx, rows...)
}

func (s *Store) AddRawTokenTransfers(rows []models.RawTokenTransfer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending.rawTransfers = append(s.pending.rawTransfers, rows...)
}

// UpsertRawBalance queues a balance snapshot; unlike the append-only raw
// tables, a new snapshot always overwrites the prior one for the address
// (spec.md §3: "one row per address, overwritten on re-snapshot").
func (s *Store) UpsertRawBalance(row models.RawBalance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending.rawBalances = append(s.pending.rawBalances, row)
}

func (s *Store) AddRawXtzTransfers(rows []models.RawXtzTransfer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending.rawXtz = append(s.pending.rawXtz, rows...)
}

func (s *Store) AddAllTransactions(rows []models.AllTransaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending.allTx = append(s.pending.allTx, rows...)
}

func (s *Store) AddXtzFlows(rows []models.XtzFlow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending.xtzFlows = append(s.pending.xtzFlows, rows...)
}

// UpsertContractMetadata queues a classifier decision. The cache is
// authoritative after first write, so this always overwrites.
func (s *Store) UpsertContractMetadata(row models.ContractMetadata) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending.contractMeta = append(s.pending.contractMeta, row)
}

func (s *Store) UpsertAddressRegistry(row models.AddressRegistry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending.addressReg = append(s.pending.addressReg, row)
}

// UpsertSyncProgress queues a SyncProgress FSM transition. Re-entry on
// error/in_progress overwrites the row (spec.md §4.3).
func (s *Store) UpsertSyncProgress(row models.SyncProgress) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending.syncProgress = append(s.pending.syncProgress, row)
}

// MaxRawTransactionID returns the highest persisted raw_transactions id, or
// 0 if empty — the resume cursor for the ingester.
func (s *Store) MaxRawTransactionID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var max int64
	for id := range s.rawTx {
		if id > max {
			max = id
		}
	}
	return max
}

func (s *Store) MaxRawTokenTransferID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var max int64
	for id := range s.rawTransfers {
		if id > max {
			max = id
		}
	}
	return max
}

func (s *Store) MaxRawXtzTransferID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var max int64
	for id := range s.rawXtz {
		if id > max {
			max = id
		}
	}
	return max
}

func (s *Store) GetSyncProgress(weekID string) (models.SyncProgress, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.syncProgress[weekID]
	if !ok {
		return models.SyncProgress{}, false
	}
	return *p, true
}

func (s *Store) AllSyncProgress() []models.SyncProgress {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.SyncProgress, 0, len(s.syncProgress))
	for _, p := range s.syncProgress {
		out = append(out, *p)
	}
	return out
}

func (s *Store) GetRawBalance(address string) (models.RawBalance, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.rawBalances[address]
	if !ok {
		return models.RawBalance{}, false
	}
	return *b, true
}

func (s *Store) HasRawBalance(address string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.rawBalances[address]
	return ok
}

func (s *Store) GetContractMetadata(address string) (models.ContractMetadata, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contractMeta[address]
	if !ok {
		return models.ContractMetadata{}, false
	}
	return *c, true
}

func (s *Store) GetAddressRegistry(address string) (models.AddressRegistry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.addressReg[address]
	if !ok {
		return models.AddressRegistry{}, false
	}
	return *r, true
}

// RawTransactionsAscending returns every raw transaction in ascending id
// order (determinism requirement, spec.md §9).
func (s *Store) RawTransactionsAscending() []models.RawTransaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.RawTransaction, 0, len(s.rawTxOrder))
	ids := append([]int64(nil), s.rawTxOrder...)
	sortInt64s(ids)
	for _, id := range ids {
		out = append(out, *s.rawTx[id])
	}
	return out
}

func (s *Store) RawTokenTransfersAscending() []models.RawTokenTransfer {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := append([]int64(nil), s.rawTransfersOrder...)
	sortInt64s(ids)
	out := make([]models.RawTokenTransfer, 0, len(ids))
	for _, id := range ids {
		out = append(out, *s.rawTransfers[id])
	}
	return out
}

func (s *Store) RawXtzTransfersAscending() []models.RawXtzTransfer {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := append([]int64(nil), s.rawXtzOrder...)
	sortInt64s(ids)
	out := make([]models.RawXtzTransfer, 0, len(ids))
	for _, id := range ids {
		out = append(out, *s.rawXtz[id])
	}
	return out
}

func (s *Store) AllTransactionsSlice() []models.AllTransaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.AllTransaction, 0, len(s.allTx))
	for _, t := range s.allTx {
		out = append(out, *t)
	}
	return out
}

func (s *Store) XtzFlowsSlice() []models.XtzFlow {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.XtzFlow, 0, len(s.xtzFlows))
	for _, f := range s.xtzFlows {
		out = append(out, *f)
	}
	return out
}

func sortInt64s(a []int64) {
	sort.Slice(a, func(i, j int) bool { return a[i] < a[j] })
}
