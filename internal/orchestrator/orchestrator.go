// Package orchestrator wires the store, indexer client, classifier,
// reconciler, deriver, aggregator, and flow engine into the command
// surface described in spec.md §6. Each exported method is one verb of the
// CLI; cmd/nftscan binds them to cobra commands.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"nftscan/internal/aggregate"
	"nftscan/internal/classifier"
	"nftscan/internal/config"
	"nftscan/internal/derive"
	"nftscan/internal/flowgraph"
	"nftscan/internal/identity"
	"nftscan/internal/indexerclient"
	"nftscan/internal/ingest"
	"nftscan/internal/models"
	"nftscan/internal/reconcile"
	"nftscan/internal/store"
)

var log = logrus.WithField("component", "orchestrator")

// Orchestrator holds every wired component for one run of the CLI.
type Orchestrator struct {
	Cfg        config.Config
	Store      *store.Store
	Client     *indexerclient.Client
	Identity   *identity.Adapter
	Classifier *classifier.Classifier
	Ingester   *ingest.Ingester
}

// New wires every component from cfg and an already-open store.
func New(cfg config.Config, st *store.Store) *Orchestrator {
	client := indexerclient.New(indexerclient.Config{
		BaseURL:        cfg.IndexerURL,
		PageSize:       cfg.PageSize,
		RetryAttempts:  cfg.RetryAttempts,
		RetryBaseDelay: cfg.RetryBaseDelay,
		RateLimitEvery: cfg.RateLimitEvery,
	})
	idAdapter := identity.New(identity.Config{GraphQLURL: cfg.IdentityURL})
	cls := classifier.New(cfg, st, client)

	return &Orchestrator{
		Cfg:        cfg,
		Store:      st,
		Client:     client,
		Identity:   idAdapter,
		Classifier: cls,
		Ingester:   ingest.New(st, client, cfg),
	}
}

// Clear truncates all persisted state (the --clear flag).
func (o *Orchestrator) Clear() error {
	return o.Store.ClearAll()
}

func (o *Orchestrator) currentWindow() (time.Time, time.Time) {
	end := time.Now().UTC()
	start := end.AddDate(0, 0, -o.Cfg.WindowDays)
	return start, end
}

// Sync runs mode 1 (marketplace scope) over the trailing window.
func (o *Orchestrator) Sync(ctx context.Context) error {
	start, end := o.currentWindow()
	log.WithField("start", start).WithField("end", end).Info("sync: marketplace scope")
	return o.Ingester.MarketplaceScope(ctx, start, end)
}

// SyncXTZ runs mode 2 (narrow XTZ scope) over the trailing window.
func (o *Orchestrator) SyncXTZ(ctx context.Context) error {
	start, end := o.currentWindow()
	log.WithField("start", start).WithField("end", end).Info("sync-xtz: narrow XTZ scope")
	return o.Ingester.NarrowXTZScope(ctx, start, end)
}

// SyncAllComprehensive runs mode 3 (comprehensive scope) over the trailing
// window. Named SyncAllComprehensive to distinguish it from the weekly
// sync-week "all" verb, which iterates named windows instead.
func (o *Orchestrator) SyncAllComprehensive(ctx context.Context) error {
	start, end := o.currentWindow()
	log.WithField("start", start).WithField("end", end).Info("sync-all: comprehensive scope")
	return o.Ingester.ComprehensiveScope(ctx, start, end)
}

// weekWindow returns the [start, end) window for a weekID formatted as an
// ISO date (the window's start date), stepping WindowDays forward.
func (o *Orchestrator) weekWindow(weekID string) (time.Time, time.Time, error) {
	start, err := time.Parse("2006-01-02", weekID)
	if err != nil {
		return time.Time{}, time.Time{}, errors.Wrapf(err, "invalid week id %q, expected YYYY-MM-DD", weekID)
	}
	start = start.UTC()
	return start, start.AddDate(0, 0, o.Cfg.WindowDays), nil
}

// SyncWeek runs mode 4 (weekly scope) for one named window.
func (o *Orchestrator) SyncWeek(ctx context.Context, weekID string) error {
	if progress, ok := o.Store.GetSyncProgress(weekID); ok && progress.Status == models.SyncComplete {
		log.WithField("week", weekID).Info("sync-week: already complete, no-op")
		return nil
	}
	start, end, err := o.weekWindow(weekID)
	if err != nil {
		return err
	}
	return o.Ingester.WeeklyScope(ctx, weekID, start, end)
}

// SyncWeekStatus reports the SyncProgress row for one week.
func (o *Orchestrator) SyncWeekStatus(weekID string) (models.SyncProgress, bool) {
	return o.Store.GetSyncProgress(weekID)
}

// SyncWeekAll walks every weekly window from cfg.SyncStart to the present,
// running SyncWeek on each not already complete.
func (o *Orchestrator) SyncWeekAll(ctx context.Context) error {
	now := time.Now().UTC()
	for cursor := o.Cfg.SyncStart; cursor.Before(now); cursor = cursor.AddDate(0, 0, o.Cfg.WindowDays) {
		weekID := cursor.Format("2006-01-02")
		if err := o.SyncWeek(ctx, weekID); err != nil {
			return errors.Wrapf(err, "sync-week %s", weekID)
		}
	}
	return nil
}

// Analyze clears derived tables and rebuilds them from raw data: contract
// classification, sale reconciliation, activity derivation, aggregation,
// and the flow engine, all as pure functions of raw tables plus
// configuration (spec.md §3 invariant 7).
func (o *Orchestrator) Analyze(ctx context.Context) error {
	if err := o.Store.ClearDerived(); err != nil {
		return errors.Wrap(err, "clear derived")
	}

	isFungible := func(contract string) bool {
		return o.Classifier.IsFungible(ctx, contract)
	}

	reconciled := reconcile.Run(o.Store, o.Cfg, isFungible)
	derived := derive.Run(o.Store, o.Cfg)
	agg := aggregate.Run(reconciled.Purchases, o.Cfg)

	balances := map[string]models.RawBalance{}
	for addr := range reconciled.Buyers {
		if b, ok := o.Store.GetRawBalance(addr); ok {
			balances[addr] = b
		}
	}
	walletSummaries := flowgraph.WalletSummaries(o.Store.XtzFlowsSlice(), reconciled.Purchases, balances)

	if err := o.Store.ReplaceDerived(store.DerivedTables{
		Buyers:               reconciled.Buyers,
		Creators:             derived.Creators,
		BuyerBalanceStart:    balances,
		Purchases:            reconciled.Purchases,
		Listings:             derived.Listings,
		OfferAccepts:         derived.OfferAccepts,
		Resales:              reconciled.Resales,
		Mints:                derived.Mints,
		DailyMetrics:         agg.DailyMetrics,
		MarketplaceStats:     agg.MarketplaceStats,
		DailyMarketplaceFees: agg.DailyMarketplaceFees,
		BuyerCexFlow:         buyerCexFlow(walletSummaries),
		CreatorFundFlow:      creatorFundFlow(derived.Creators, walletSummaries),
		WalletXtzSummary:     walletSummaries,
	}); err != nil {
		return errors.Wrap(err, "replace derived")
	}

	log.WithField("purchases", len(reconciled.Purchases)).
		WithField("resales", len(reconciled.Resales)).
		WithField("mints", len(derived.Mints)).
		WithField("listings", len(derived.Listings)).
		WithField("listings_skipped", derived.SkippedListings).
		WithField("skipped_transfers", reconciled.Skipped).
		Info("analyze complete")
	return nil
}

func buyerCexFlow(summaries map[string]models.WalletXtzSummary) map[string]models.BuyerCexFlow {
	out := make(map[string]models.BuyerCexFlow, len(summaries))
	for addr, w := range summaries {
		out[addr] = models.BuyerCexFlow{
			Address:      addr,
			TotalCashIn:  w.ReceivedByFlowType[models.FlowCEXWithdrawal],
			TotalCashOut: w.SentByFlowType[models.FlowCEXDeposit],
		}
	}
	return out
}

func creatorFundFlow(creators map[string]bool, summaries map[string]models.WalletXtzSummary) map[string]models.CreatorFundFlow {
	out := make(map[string]models.CreatorFundFlow, len(creators))
	for addr := range creators {
		w := summaries[addr]
		out[addr] = models.CreatorFundFlow{
			Address:          addr,
			TotalMintRevenue: w.ReceivedFromSales,
			TotalCashedOut:   w.SentByFlowType[models.FlowCEXDeposit],
		}
	}
	return out
}

// Full runs Sync followed by Analyze.
func (o *Orchestrator) Full(ctx context.Context) error {
	if err := o.Sync(ctx); err != nil {
		return err
	}
	return o.Analyze(ctx)
}

// Classify runs the transaction-classification cascade over AllTransaction
// rows, writing back only the rows whose category changed (spec.md §4.8).
func (o *Orchestrator) Classify(ctx context.Context) error {
	rows := o.Store.AllTransactionsSlice()
	changed := flowgraph.ClassifyAll(rows, o.Cfg, o.Store)
	if len(changed) == 0 {
		return nil
	}
	o.Store.AddAllTransactions(changed)
	return o.Store.Save()
}

// Network builds the value-weighted flow graph from persisted XtzFlows.
func (o *Orchestrator) Network() models.FlowGraph {
	return flowgraph.Graph(o.Store.XtzFlowsSlice(), o.Cfg.NodeCap)
}

// Discover resolves AddressType for every address seen in raw data that is
// not yet in the registry, using configured sets and presence heuristics.
func (o *Orchestrator) Discover() error {
	counts := o.addressTxCounts()
	addrs := o.addressUniverse()
	for _, addr := range addrs {
		if _, ok := o.Store.GetAddressRegistry(addr); ok {
			continue
		}
		o.Store.UpsertAddressRegistry(models.AddressRegistry{
			Address:    addr,
			Type:       o.classifyAddressType(addr),
			TxCount:    counts[addr],
			ResolvedAt: time.Now().UTC(),
		})
	}
	return o.Store.Save()
}

// addressTxCounts tallies every raw-transaction occurrence (as sender or as
// target) per address, populating address_registry.tx_count (spec.md §4.9).
func (o *Orchestrator) addressTxCounts() map[string]int64 {
	counts := map[string]int64{}
	for _, tx := range o.Store.RawTransactionsAscending() {
		if tx.Sender != "" {
			counts[tx.Sender]++
		}
		if tx.Target != "" {
			counts[tx.Target]++
		}
	}
	return counts
}

func (o *Orchestrator) classifyAddressType(addr string) models.AddressType {
	switch {
	case o.Cfg.IsMarketplaceAddress(addr):
		return models.AddrMarketplace
	case o.Cfg.IsCEX(addr):
		return models.AddrCEX
	case o.Cfg.IsBridge(addr):
		return models.AddrBridge
	case looksLikeContractAddress(addr):
		return models.AddrContract
	default:
		return models.AddrWallet
	}
}

func looksLikeContractAddress(addr string) bool {
	return len(addr) > 2 && (addr[0] == 'K' && addr[1] == 'T')
}

func (o *Orchestrator) addressUniverse() []string {
	seen := map[string]bool{}
	var out []string
	add := func(a string) {
		if a == "" || seen[a] {
			return
		}
		seen[a] = true
		out = append(out, a)
	}
	for _, tx := range o.Store.RawTransactionsAscending() {
		add(tx.Sender)
		add(tx.Target)
	}
	return out
}

// Resolve best-effort fetches reverse-record and owned-domains for every
// wallet address currently missing alias/reverse-name data (spec.md §6
// Identity adapter; failures are silent per-address).
func (o *Orchestrator) Resolve(ctx context.Context) error {
	for _, addr := range o.addressUniverse() {
		reg, ok := o.Store.GetAddressRegistry(addr)
		if !ok {
			reg = models.AddressRegistry{Address: addr, Type: o.classifyAddressType(addr)}
		}
		if reg.Type != models.AddrWallet {
			continue
		}
		if reg.TezosDomain != "" {
			continue
		}
		reg.TezosDomain = o.Identity.ReverseRecord(ctx, addr)
		reg.OwnedDomains = o.Identity.OwnedDomains(ctx, addr)
		reg.ResolvedAt = time.Now().UTC()
		o.Store.UpsertAddressRegistry(reg)
	}
	return o.Store.Save()
}

// Status reports a human-readable summary of every tracked week.
func (o *Orchestrator) Status() string {
	progress := o.Store.AllSyncProgress()
	out := fmt.Sprintf("%d tracked weeks\n", len(progress))
	for _, p := range progress {
		out += fmt.Sprintf("  %s: %s (all_tx=%d xtz_flows=%d)\n", p.WeekID, p.Status, p.AllTxCount, p.XtzFlowCount)
	}
	return out
}
