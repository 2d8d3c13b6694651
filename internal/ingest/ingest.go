// Package ingest pulls raw events from the indexer into the store across
// the four resumable modes described in spec.md §4.3. Bounded-concurrency
// fan-out feeding a single writer is grounded on the teacher's own
// per-address worker pool in internal/ingester/block_fetcher.go: a
// semaphore-guarded goroutine per task, results returned over a channel,
// and exactly one goroutine (the caller) ever touches the Store.
package ingest

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"nftscan/internal/config"
	"nftscan/internal/indexerclient"
	"nftscan/internal/models"
)

var log = logrus.WithField("component", "ingest")

const saveBatchSize = 750

// Store is the subset of store.Store the ingester writes/reads.
type Store interface {
	AddRawTransactions(rows []models.RawTransaction)
	AddRawTokenTransfers(rows []models.RawTokenTransfer)
	UpsertRawBalance(row models.RawBalance)
	AddRawXtzTransfers(rows []models.RawXtzTransfer)
	AddAllTransactions(rows []models.AllTransaction)
	AddXtzFlows(rows []models.XtzFlow)
	UpsertSyncProgress(row models.SyncProgress)
	GetSyncProgress(weekID string) (models.SyncProgress, bool)
	AllSyncProgress() []models.SyncProgress
	Save() error

	MaxRawTransactionID() int64
	MaxRawTokenTransferID() int64
	MaxRawXtzTransferID() int64
	HasRawBalance(address string) bool
	RawTransactionsAscending() []models.RawTransaction
	RawTokenTransfersAscending() []models.RawTokenTransfer
	BuyerAndCreatorAddresses() []string
	XtzFlowsSlice() []models.XtzFlow
}

// Client is the subset of indexerclient.Client the ingester needs.
type Client interface {
	IterateTransactions(ctx context.Context, filter indexerclient.TxFilter, yield func([]indexerclient.Transaction) error) error
	IterateTokenTransfers(ctx context.Context, windowStart, windowEnd time.Time, afterID int64, yield func([]indexerclient.TokenTransfer) error) error
	GetBalanceAt(ctx context.Context, address string, ts time.Time) (indexerclient.BalanceSnapshot, error)
}

// Ingester runs the four ingest modes against one Store/Client pair.
type Ingester struct {
	store  Store
	client Client
	cfg    config.Config
}

func New(store Store, client Client, cfg config.Config) *Ingester {
	return &Ingester{store: store, client: client, cfg: cfg}
}

// MarketplaceScope implements mode 1 (spec.md §4.3): transactions targeting
// any configured marketplace, FA2 transfers in window, and balance
// snapshots for every address newly seen in raw data.
func (ig *Ingester) MarketplaceScope(ctx context.Context, windowStart, windowEnd time.Time) error {
	var targets []string
	for _, m := range ig.cfg.Marketplaces {
		targets = append(targets, m.Address)
	}

	afterID := ig.store.MaxRawTransactionID()
	batch := make([]models.RawTransaction, 0, saveBatchSize)
	err := ig.client.IterateTransactions(ctx, indexerclient.TxFilter{
		Targets:     targets,
		WindowStart: windowStart,
		WindowEnd:   windowEnd,
		AfterID:     afterID,
	}, func(page []indexerclient.Transaction) error {
		for _, t := range page {
			batch = append(batch, toRawTransaction(t))
			if len(batch) >= saveBatchSize {
				if err := ig.flushTransactions(&batch); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if err := ig.flushTransactions(&batch); err != nil {
		return err
	}

	if err := ig.ingestTokenTransfers(ctx, windowStart, windowEnd); err != nil {
		return err
	}

	return ig.snapshotNewAddresses(ctx, windowStart)
}

func (ig *Ingester) flushTransactions(batch *[]models.RawTransaction) error {
	if len(*batch) == 0 {
		return nil
	}
	ig.store.AddRawTransactions(*batch)
	*batch = (*batch)[:0]
	return ig.store.Save()
}

func (ig *Ingester) ingestTokenTransfers(ctx context.Context, windowStart, windowEnd time.Time) error {
	afterID := ig.store.MaxRawTokenTransferID()
	batch := make([]models.RawTokenTransfer, 0, saveBatchSize)
	err := ig.client.IterateTokenTransfers(ctx, windowStart, windowEnd, afterID, func(page []indexerclient.TokenTransfer) error {
		for _, t := range page {
			batch = append(batch, toRawTokenTransfer(t))
			if len(batch) >= saveBatchSize {
				ig.store.AddRawTokenTransfers(batch)
				batch = batch[:0]
				if err := ig.store.Save(); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if len(batch) > 0 {
		ig.store.AddRawTokenTransfers(batch)
	}
	return ig.store.Save()
}

// snapshotNewAddresses fans out balance-history lookups, bounded by
// cfg.MaxConcurrency, for every wallet address newly seen in raw data
// without a prior snapshot. Per-address failures mark a null balance and
// never abort the run (spec.md §4.3 mode 1).
func (ig *Ingester) snapshotNewAddresses(ctx context.Context, at time.Time) error {
	addrs := ig.addressesWithoutSnapshot()
	if len(addrs) == 0 {
		return nil
	}

	concurrency := ig.cfg.MaxConcurrency
	if concurrency <= 0 {
		concurrency = 6
	}
	sem := make(chan struct{}, concurrency)
	results := make(chan models.RawBalance, len(addrs))
	var wg sync.WaitGroup

	for _, addr := range addrs {
		wg.Add(1)
		sem <- struct{}{}
		go func(address string) {
			defer wg.Done()
			defer func() { <-sem }()
			results <- ig.fetchBalance(ctx, address, at)
		}(addr)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	count := 0
	for row := range results {
		ig.store.UpsertRawBalance(row)
		count++
		if count%saveBatchSize == 0 {
			if err := ig.store.Save(); err != nil {
				return err
			}
		}
	}
	return ig.store.Save()
}

func (ig *Ingester) fetchBalance(ctx context.Context, address string, at time.Time) models.RawBalance {
	snap, err := ig.client.GetBalanceAt(ctx, address, at)
	if err != nil {
		log.WithField("address", address).WithError(err).Debug("balance snapshot failed; recording null balance")
		return models.RawBalance{Address: address, SnapshotTS: at}
	}
	bal := snap.Balance
	return models.RawBalance{Address: address, Balance: &bal, SnapshotTS: at}
}

func (ig *Ingester) addressesWithoutSnapshot() []string {
	seen := map[string]bool{}
	var out []string
	add := func(addr string) {
		if addr == "" || seen[addr] || ig.store.HasRawBalance(addr) {
			return
		}
		seen[addr] = true
		out = append(out, addr)
	}
	for _, tx := range ig.store.RawTransactionsAscending() {
		add(tx.Sender)
		add(tx.Target)
	}
	for _, t := range ig.store.RawTokenTransfersAscending() {
		add(t.FromAddress)
		add(t.ToAddress)
	}
	return out
}

// NarrowXTZScope implements mode 2: for each already-derived buyer/creator
// address, fetches value-bearing transfers in window and tags CEX
// direction (spec.md §4.3 mode 2).
func (ig *Ingester) NarrowXTZScope(ctx context.Context, windowStart, windowEnd time.Time) error {
	addrs := ig.store.BuyerAndCreatorAddresses()
	if len(addrs) == 0 {
		// Without a sender filter the query would match every value transfer.
		return nil
	}
	afterID := ig.store.MaxRawXtzTransferID()

	filter := indexerclient.TxFilter{
		Senders:     addrs,
		WindowStart: windowStart,
		WindowEnd:   windowEnd,
		AfterID:     afterID,
	}
	amountGT := int64(0)
	filter.AmountGT = &amountGT

	batch := make([]models.RawXtzTransfer, 0, saveBatchSize)
	err := ig.client.IterateTransactions(ctx, filter, func(page []indexerclient.Transaction) error {
		for _, t := range page {
			row := models.RawXtzTransfer{
				ID:        t.ID,
				Hash:      t.Hash,
				Timestamp: parseTime(t.Timestamp),
				Sender:    t.Sender.Address,
				Target:    t.Target.Address,
				Amount:    t.Amount,
				IsFromCEX: ig.cfg.IsCEX(t.Sender.Address),
				IsToCEX:   ig.cfg.IsCEX(t.Target.Address),
			}
			batch = append(batch, row)
			if len(batch) >= saveBatchSize {
				ig.store.AddRawXtzTransfers(batch)
				batch = batch[:0]
				if err := ig.store.Save(); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if len(batch) > 0 {
		ig.store.AddRawXtzTransfers(batch)
	}
	return ig.store.Save()
}

// ComprehensiveScope implements mode 3: every transaction and value-bearing
// transfer in window, classified into flow_type purely from sender/target
// address sets (spec.md §4.3 mode 3).
func (ig *Ingester) ComprehensiveScope(ctx context.Context, windowStart, windowEnd time.Time) error {
	afterID := ig.store.MaxRawTransactionID()
	txBatch := make([]models.RawTransaction, 0, saveBatchSize)
	allTxBatch := make([]models.AllTransaction, 0, saveBatchSize)
	flowBatch := make([]models.XtzFlow, 0, saveBatchSize)

	err := ig.client.IterateTransactions(ctx, indexerclient.TxFilter{
		WindowStart: windowStart,
		WindowEnd:   windowEnd,
		AfterID:     afterID,
	}, func(page []indexerclient.Transaction) error {
		for _, t := range page {
			raw := toRawTransaction(t)
			txBatch = append(txBatch, raw)
			allTxBatch = append(allTxBatch, models.AllTransaction{RawTransaction: raw, TxCategory: models.CategoryOther})
			if t.Amount > 0 {
				flowBatch = append(flowBatch, models.XtzFlow{
					ID:        t.ID,
					Hash:      t.Hash,
					Timestamp: raw.Timestamp,
					Sender:    raw.Sender,
					Target:    raw.Target,
					Amount:    t.Amount,
					FlowType:  ig.classifyFlow(raw.Sender, raw.Target),
				})
			}
			if len(txBatch) >= saveBatchSize {
				ig.store.AddRawTransactions(txBatch)
				ig.store.AddAllTransactions(allTxBatch)
				ig.store.AddXtzFlows(flowBatch)
				txBatch, allTxBatch, flowBatch = txBatch[:0], allTxBatch[:0], flowBatch[:0]
				if err := ig.store.Save(); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if len(txBatch) > 0 {
		ig.store.AddRawTransactions(txBatch)
		ig.store.AddAllTransactions(allTxBatch)
		ig.store.AddXtzFlows(flowBatch)
	}
	return ig.store.Save()
}

// classifyFlow assigns FlowType purely from address-set membership, per
// spec.md §4.3 mode 3 (the fuller category cascade runs later in the flow
// engine against the persisted AllTransaction rows).
func (ig *Ingester) classifyFlow(sender, target string) models.FlowType {
	switch {
	case ig.cfg.IsCEX(target):
		return models.FlowCEXDeposit
	case ig.cfg.IsCEX(sender):
		return models.FlowCEXWithdrawal
	case ig.cfg.IsBridge(target):
		return models.FlowBridgeToL2
	case ig.cfg.IsBridge(sender):
		return models.FlowBridgeFromL2
	case looksLikeContract(target):
		return models.FlowContract
	default:
		return models.FlowP2P
	}
}

func looksLikeContract(addr string) bool {
	return strings.HasPrefix(strings.ToUpper(addr), "KT")
}

// WeeklyScope implements mode 4: comprehensive ingest bounded to a named
// fixed window, driving the SyncProgress FSM (spec.md §4.3 mode 4).
// Re-entering a week in error or in_progress overwrites its state; a
// complete week is the caller's responsibility to skip (Orchestrator.SyncWeek).
func (ig *Ingester) WeeklyScope(ctx context.Context, weekID string, windowStart, windowEnd time.Time) error {
	now := time.Now().UTC()
	ig.store.UpsertSyncProgress(models.SyncProgress{
		WeekID:    weekID,
		StartDate: windowStart,
		EndDate:   windowEnd,
		Status:    models.SyncInProgress,
		StartedAt: &now,
	})
	if err := ig.store.Save(); err != nil {
		return err
	}

	if err := ig.ComprehensiveScope(ctx, windowStart, windowEnd); err != nil {
		ig.store.UpsertSyncProgress(models.SyncProgress{
			WeekID:      weekID,
			StartDate:   windowStart,
			EndDate:     windowEnd,
			Status:      models.SyncError,
			StartedAt:   &now,
			ErrorMessage: err.Error(),
		})
		_ = ig.store.Save()
		return err
	}

	completedAt := time.Now().UTC()
	allCount, flowCount := ig.weekCounts(windowStart, windowEnd)
	ig.store.UpsertSyncProgress(models.SyncProgress{
		WeekID:       weekID,
		StartDate:    windowStart,
		EndDate:      windowEnd,
		Status:       models.SyncComplete,
		AllTxCount:   allCount,
		XtzFlowCount: flowCount,
		StartedAt:    &now,
		CompletedAt:  &completedAt,
	})
	return ig.store.Save()
}

func (ig *Ingester) weekCounts(windowStart, windowEnd time.Time) (allCount, flowCount int64) {
	for _, tx := range ig.store.RawTransactionsAscending() {
		if !tx.Timestamp.Before(windowStart) && tx.Timestamp.Before(windowEnd) {
			allCount++
		}
	}
	for _, f := range ig.store.XtzFlowsSlice() {
		if !f.Timestamp.Before(windowStart) && f.Timestamp.Before(windowEnd) {
			flowCount++
		}
	}
	return allCount, flowCount
}

func toRawTransaction(t indexerclient.Transaction) models.RawTransaction {
	row := models.RawTransaction{
		ID:           t.ID,
		Hash:         t.Hash,
		Level:        t.Level,
		Timestamp:    parseTime(t.Timestamp),
		Sender:       t.Sender.Address,
		Target:       t.Target.Address,
		Amount:       t.Amount,
		Status:       t.Status,
		HasInternals: t.HasInternals,
	}
	if t.Parameter != nil {
		row.Entrypoint = t.Parameter.Entrypoint
		row.Parameters = []byte(t.Parameter.Value)
	}
	return row
}

func toRawTokenTransfer(t indexerclient.TokenTransfer) models.RawTokenTransfer {
	row := models.RawTokenTransfer{
		ID:            t.ID,
		Level:         t.Level,
		Timestamp:     parseTime(t.Timestamp),
		TokenContract: t.Token.Contract.Address,
		TokenID:       t.Token.TokenID,
		TokenStandard: t.Token.Standard,
		Amount:        t.Amount,
		TransactionID: t.TransactionID,
	}
	if t.From != nil {
		row.FromAddress = t.From.Address
	}
	if t.To != nil {
		row.ToAddress = t.To.Address
	}
	return row
}

func parseTime(s string) time.Time {
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return ts.UTC()
}
