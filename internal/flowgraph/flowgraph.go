// Package flowgraph classifies transactions into categories and builds
// per-wallet XTZ flow summaries and the value-weighted flow graph,
// following spec.md §4.8.
package flowgraph

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"nftscan/internal/config"
	"nftscan/internal/models"
)

// nftActivityEntrypoints are entrypoint names that look like NFT activity
// but are not buy/offer-accept calls (cascade step 2).
var nftActivityEntrypoints = []string{"mint", "burn", "transfer", "update_operators", "cancel", "cancel_listing", "cancel_ask"}

// defiEntrypoints are entrypoint names recognized as DeFi activity absent a
// registry hit (cascade step 8).
var defiEntrypoints = []string{"swap", "add_liquidity", "remove_liquidity", "stake", "unstake", "deposit", "withdraw", "borrow", "repay"}

// AddressLookup resolves AddressRegistry category for the classification
// cascade's registry-based steps.
type AddressLookup interface {
	GetAddressRegistry(address string) (models.AddressRegistry, bool)
}

// ClassifyAll assigns tx_category to every AllTransaction row, following
// the 12-step cascade in spec.md §4.8. It returns only the rows whose
// category changed, per the "minimize churn" directive.
func ClassifyAll(rows []models.AllTransaction, cfg config.Config, registry AddressLookup) []models.AllTransaction {
	var changed []models.AllTransaction
	for _, row := range rows {
		cat := classifyOne(row.RawTransaction, cfg, registry)
		if cat != row.TxCategory {
			row.TxCategory = cat
			changed = append(changed, row)
		}
	}
	return changed
}

func classifyOne(tx models.RawTransaction, cfg config.Config, registry AddressLookup) models.TxCategory {
	ep := strings.ToLower(tx.Entrypoint)

	if cfg.IsMarketplaceAddress(tx.Target) {
		if m, ok := cfg.MarketplaceByAddress(tx.Target); ok {
			if containsFold(m.BuyEntrypoints, ep) || containsFold(m.AcceptOfferEntrypoints, ep) {
				return models.CategoryNFTSale
			}
		}
		if containsFold(nftActivityEntrypoints, ep) {
			return models.CategoryNFTActivity
		}
		return models.CategoryNFTMarketplace
	}

	if reg, ok := registry.GetAddressRegistry(tx.Target); ok && reg.Type == models.AddrContract {
		if reg.Category == "nft_contract" || reg.Category == "nft_marketplace" {
			return models.CategoryNFTActivity
		}
	}

	if cfg.IsBridge(tx.Target) {
		return models.CategoryBridge
	}

	if cfg.IsCEX(tx.Target) {
		return models.CategoryCEXDeposit
	}
	if cfg.IsCEX(tx.Sender) {
		return models.CategoryCEXWithdrawal
	}

	if reg, ok := registry.GetAddressRegistry(tx.Target); ok && reg.Category == "defi" {
		return models.CategoryDeFi
	}
	if ep != "" && containsFold(defiEntrypoints, ep) && !containsFold(nftActivityEntrypoints, ep) {
		return models.CategoryDeFi
	}

	if ep == "setdelegate" || ep == "delegate" {
		return models.CategoryDelegation
	}

	if ep == "" && tx.Amount > 0 {
		return models.CategoryXTZTransfer
	}

	if tx.Target == "" {
		return models.CategoryOrigination
	}

	return models.CategoryOther
}

func containsFold(list []string, v string) bool {
	for _, x := range list {
		if strings.EqualFold(x, v) {
			return true
		}
	}
	return false
}

// WalletSummaries aggregates every XtzFlow by wallet, partitioned by
// flow_type, cross-referencing Purchases for the NFT-spend/receipt
// columns (spec.md §4.8).
func WalletSummaries(flows []models.XtzFlow, purchases []models.Purchase, balances map[string]models.RawBalance) map[string]models.WalletXtzSummary {
	type purchaseKey struct {
		addr string
		sec  int64
	}
	buyerAtSecond := map[purchaseKey]int64{}
	sellerAtSecond := map[purchaseKey]int64{}
	for _, p := range purchases {
		if p.Spend == nil {
			continue
		}
		sec := p.Timestamp.Unix()
		buyerAtSecond[purchaseKey{p.Buyer, sec}] = *p.Spend
		if p.Seller != "" {
			sellerAtSecond[purchaseKey{p.Seller, sec}] = *p.Spend
		}
	}

	out := map[string]models.WalletXtzSummary{}
	ensure := func(addr string) models.WalletXtzSummary {
		w, ok := out[addr]
		if !ok {
			w = models.WalletXtzSummary{
				Address:            addr,
				SentByFlowType:     map[models.FlowType]int64{},
				ReceivedByFlowType: map[models.FlowType]int64{},
			}
			if b, ok := balances[addr]; ok {
				w.BalanceStart = b.Balance
			}
		}
		return w
	}

	for _, f := range flows {
		sender := ensure(f.Sender)
		sender.TotalSent += f.Amount
		sender.SentByFlowType[f.FlowType] += f.Amount
		sec := f.Timestamp.Unix()
		if spend, ok := buyerAtSecond[purchaseKey{f.Sender, sec}]; ok && spend == f.Amount {
			sender.SpentOnNFTs += f.Amount
		}
		out[f.Sender] = sender

		target := ensure(f.Target)
		target.TotalReceived += f.Amount
		target.ReceivedByFlowType[f.FlowType] += f.Amount
		if proceeds, ok := sellerAtSecond[purchaseKey{f.Target, sec}]; ok && proceeds == f.Amount {
			target.ReceivedFromSales += f.Amount
		}
		out[f.Target] = target
	}

	for addr, w := range out {
		if w.BalanceStart != nil {
			end := *w.BalanceStart + w.TotalReceived - w.TotalSent
			w.BalanceEnd = &end
			out[addr] = w
		}
	}

	return out
}

// Graph builds the value-weighted directed flow graph from XtzFlows,
// capping the retained node set at nodeCap by activity (spec.md §4.8).
func Graph(flows []models.XtzFlow, nodeCap int) models.FlowGraph {
	type edgeAccum struct {
		totalValue int64
		count      int64
	}
	type edgeKey struct{ sender, target string }

	edges := map[edgeKey]*edgeAccum{}
	activity := map[string]int64{}

	for _, f := range flows {
		k := edgeKey{f.Sender, f.Target}
		a, ok := edges[k]
		if !ok {
			a = &edgeAccum{}
			edges[k] = a
		}
		a.totalValue += f.Amount
		a.count++
		activity[f.Sender]++
		activity[f.Target]++
	}

	nodes := make([]string, 0, len(activity))
	for addr := range activity {
		nodes = append(nodes, addr)
	}
	sort.Slice(nodes, func(i, j int) bool {
		if activity[nodes[i]] != activity[nodes[j]] {
			return activity[nodes[i]] > activity[nodes[j]]
		}
		return nodes[i] < nodes[j]
	})
	if nodeCap > 0 && len(nodes) > nodeCap {
		nodes = nodes[:nodeCap]
	}
	retained := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		retained[n] = true
	}

	var outEdges []models.FlowEdge
	var minValue, maxValue int64
	first := true
	for k, a := range edges {
		if !retained[k.sender] || !retained[k.target] {
			continue
		}
		outEdges = append(outEdges, models.FlowEdge{
			Sender:     k.sender,
			Target:     k.target,
			TotalValue: a.totalValue,
			Count:      a.count,
			AvgValue:   float64(a.totalValue) / float64(a.count),
		})
		if first || a.totalValue < minValue {
			minValue = a.totalValue
		}
		if first || a.totalValue > maxValue {
			maxValue = a.totalValue
		}
		first = false
	}
	sort.Slice(outEdges, func(i, j int) bool {
		if outEdges[i].Sender != outEdges[j].Sender {
			return outEdges[i].Sender < outEdges[j].Sender
		}
		return outEdges[i].Target < outEdges[j].Target
	})
	for i := range outEdges {
		outEdges[i].Color = gradientColor(outEdges[i].TotalValue, minValue, maxValue)
	}

	// The node set must track the edges that survived the cap, not the
	// other way around: a node's pre-cap activity can come entirely from
	// neighbors that didn't make the cap, leaving it with no edge in
	// outEdges.
	surviving := make(map[string]bool, len(outEdges)*2)
	for _, e := range outEdges {
		surviving[e.Sender] = true
		surviving[e.Target] = true
	}

	var outNodes []models.FlowNode
	for _, n := range nodes {
		if !surviving[n] {
			continue
		}
		outNodes = append(outNodes, models.FlowNode{
			Address:  n,
			Activity: activity[n],
			Size:     math.Log10(float64(activity[n]+1))*5 + 5,
		})
	}

	return models.FlowGraph{Nodes: outNodes, Edges: outEdges}
}

// gradientColor maps value's position in [min, max] onto a blue-purple-red
// gradient, normalized linearly (spec.md §4.8). A degenerate [min, max]
// (every retained edge has the same total value) returns the gradient's
// midpoint.
func gradientColor(value, min, max int64) string {
	t := 0.5
	if max > min {
		t = float64(value-min) / float64(max-min)
	}

	blue := [3]int{37, 99, 235}
	purple := [3]int{147, 51, 234}
	red := [3]int{220, 38, 38}

	var from, to [3]int
	var localT float64
	if t <= 0.5 {
		from, to = blue, purple
		localT = t / 0.5
	} else {
		from, to = purple, red
		localT = (t - 0.5) / 0.5
	}

	r := lerp(from[0], to[0], localT)
	g := lerp(from[1], to[1], localT)
	b := lerp(from[2], to[2], localT)
	return fmt.Sprintf("#%02x%02x%02x", r, g, b)
}

func lerp(a, b int, t float64) int {
	return a + int(float64(b-a)*t)
}
