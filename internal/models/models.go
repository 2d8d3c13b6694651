// Package models holds the plain-struct row types shared by every layer of
// the pipeline. Field names and tags mirror the table/column names in the
// persisted schema so that Store, the derivers, and the exporters agree on
// shape without an intermediate mapping layer.
package models

import "time"

// RawTransaction is a row of raw_transactions: an applied contract call.
type RawTransaction struct {
	ID           int64     `json:"id"`
	Hash         string    `json:"hash"`
	Level        int64     `json:"level"`
	Timestamp    time.Time `json:"timestamp"`
	Sender       string    `json:"sender"`
	Target       string    `json:"target"`
	Amount       int64     `json:"amount"`
	Entrypoint   string    `json:"entrypoint,omitempty"`
	Parameters   []byte    `json:"parameters,omitempty"` // opaque JSON
	Status       string    `json:"status"`
	HasInternals bool      `json:"has_internals"`
}

// RawTokenTransfer is a row of raw_token_transfers.
type RawTokenTransfer struct {
	ID              int64     `json:"id"`
	Level           int64     `json:"level"`
	Timestamp       time.Time `json:"timestamp"`
	TokenContract   string    `json:"token_contract"`
	TokenID         string    `json:"token_id"`
	TokenStandard   string    `json:"token_standard"` // "fa2" | "fa1.2"
	FromAddress     string    `json:"from_address,omitempty"`
	ToAddress       string    `json:"to_address,omitempty"`
	Amount          string    `json:"amount"` // decimal string, may exceed int64
	TransactionID   *int64    `json:"transaction_id,omitempty"`
}

// IsMint reports whether this transfer has no sender (a fresh mint).
func (t RawTokenTransfer) IsMint() bool { return t.FromAddress == "" }

// RawBalance is a row of raw_balances: a per-address snapshot.
type RawBalance struct {
	Address      string    `json:"address"`
	Balance      *int64    `json:"balance,omitempty"` // nil when the snapshot fetch failed
	SnapshotTS   time.Time `json:"snapshot_ts"`
}

// RawXtzTransfer is a row of raw_xtz_transfers: a value transfer with
// precomputed CEX-direction tags, populated only by the narrow XTZ mode.
type RawXtzTransfer struct {
	ID         int64     `json:"id"`
	Hash       string    `json:"hash"`
	Timestamp  time.Time `json:"timestamp"`
	Sender     string    `json:"sender"`
	Target     string    `json:"target"`
	Amount     int64     `json:"amount"`
	IsFromCEX  bool      `json:"is_from_cex"`
	IsToCEX    bool      `json:"is_to_cex"`
}

// TxCategory is the closed set of labels the flow engine assigns to
// AllTransaction rows.
type TxCategory string

const (
	CategoryNFTSale        TxCategory = "nft_sale"
	CategoryNFTActivity     TxCategory = "nft_activity"
	CategoryNFTMarketplace  TxCategory = "nft_marketplace"
	CategoryBridge          TxCategory = "bridge"
	CategoryCEXDeposit      TxCategory = "cex_deposit"
	CategoryCEXWithdrawal   TxCategory = "cex_withdrawal"
	CategoryDeFi            TxCategory = "defi"
	CategoryDelegation      TxCategory = "delegation"
	CategoryXTZTransfer     TxCategory = "xtz_transfer"
	CategoryOrigination     TxCategory = "origination"
	CategoryOther           TxCategory = "other"
)

// FlowType is the closed set of labels the comprehensive ingest mode and the
// flow engine assign to every XTZ-bearing transfer.
type FlowType string

const (
	FlowCEXDeposit     FlowType = "cex_deposit"
	FlowCEXWithdrawal  FlowType = "cex_withdrawal"
	FlowBridgeToL2     FlowType = "bridge_to_l2"
	FlowBridgeFromL2   FlowType = "bridge_from_l2"
	FlowContract       FlowType = "contract"
	FlowP2P            FlowType = "p2p"
)

// AllTransaction mirrors raw_transactions plus a classification column,
// populated by the comprehensive ingest mode.
type AllTransaction struct {
	RawTransaction
	TxCategory TxCategory `json:"tx_category"`
}

// XtzFlow mirrors a value-bearing transfer plus its flow_type, populated by
// the comprehensive ingest mode.
type XtzFlow struct {
	ID        int64     `json:"id"`
	Hash      string    `json:"hash"`
	Timestamp time.Time `json:"timestamp"`
	Sender    string    `json:"sender"`
	Target    string    `json:"target"`
	Amount    int64     `json:"amount"`
	FlowType  FlowType  `json:"flow_type"`
}

// SyncState is the SyncProgress FSM's state set.
type SyncState string

const (
	SyncPending    SyncState = "pending"
	SyncInProgress SyncState = "in_progress"
	SyncComplete   SyncState = "complete"
	SyncError      SyncState = "error"
)

// SyncProgress is a row of sync_progress: one named time window.
type SyncProgress struct {
	WeekID        string     `json:"week_id"`
	StartDate     time.Time  `json:"start_date"`
	EndDate       time.Time  `json:"end_date"`
	Status        SyncState  `json:"status"`
	AllTxCount    int64      `json:"all_tx_count"`
	XtzFlowCount  int64      `json:"xtz_flow_count"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	ErrorMessage  string     `json:"error_message,omitempty"`
}

// ContractMetadata is a row of contract_metadata: the classifier's cache.
type ContractMetadata struct {
	Address     string    `json:"address"`
	IsFungible  bool      `json:"is_fungible"`
	TokenType   string    `json:"token_type"`
	Alias       string    `json:"alias,omitempty"`
	CheckedAt   time.Time `json:"checked_at"`
}

// AddressType is the closed set of AddressRegistry.Type values.
type AddressType string

const (
	AddrWallet      AddressType = "wallet"
	AddrContract    AddressType = "contract"
	AddrCEX         AddressType = "cex"
	AddrMarketplace AddressType = "marketplace"
	AddrBridge      AddressType = "bridge"
)

// AddressRegistry is a row of address_registry.
type AddressRegistry struct {
	Address      string      `json:"address"`
	Type         AddressType `json:"address_type"`
	Category     string      `json:"category,omitempty"`
	Alias        string      `json:"alias,omitempty"`
	TezosDomain  string      `json:"tezos_domain,omitempty"`
	OwnedDomains []string    `json:"owned_domains,omitempty"`
	TxCount      int64       `json:"tx_count"`
	Metadata     []byte      `json:"metadata,omitempty"`
	ResolvedAt   time.Time   `json:"resolved_at"`
}

// PurchaseKind is the closed set of Purchase.Kind values.
type PurchaseKind string

const (
	KindListingPurchase PurchaseKind = "listing_purchase"
	KindOpenEdition     PurchaseKind = "open_edition"
)

// Purchase is a verified sale.
type Purchase struct {
	ID            int64        `json:"id"`
	OpHash        string       `json:"op_hash"`
	Timestamp     time.Time    `json:"ts"`
	Buyer         string       `json:"buyer"`
	Seller        string       `json:"seller,omitempty"`
	Marketplace   string       `json:"marketplace"`
	TokenContract string       `json:"token_contract"`
	TokenID       string       `json:"token_id"`
	Qty           int64        `json:"qty"`
	Spend         *int64       `json:"spend,omitempty"`
	Kind          PurchaseKind `json:"kind"`
}

// Listing is a declared offer to sell.
type Listing struct {
	ID            int64     `json:"id"`
	OpHash        string    `json:"op_hash"`
	Timestamp     time.Time `json:"ts"`
	Seller        string    `json:"seller"`
	Marketplace   string    `json:"marketplace"`
	TokenContract string    `json:"token_contract"`
	TokenID       string    `json:"token_id"`
	ListPrice     *int64    `json:"list_price,omitempty"`
}

// OfferAccept is a seller-initiated execution of a standing offer.
type OfferAccept struct {
	ID                int64     `json:"id"`
	OpHash            string    `json:"op_hash"`
	Timestamp         time.Time `json:"ts"`
	Seller            string    `json:"seller"`
	Buyer             string    `json:"buyer,omitempty"`
	Marketplace       string    `json:"marketplace"`
	TokenContract     string    `json:"token_contract"`
	TokenID           string    `json:"token_id"`
	AcceptedPrice     *int64    `json:"accepted_price,omitempty"`
	ReferenceListPrice *int64   `json:"reference_list_price,omitempty"`
	UnderList         *bool     `json:"under_list,omitempty"`
}

// Resale is a verified sale whose seller was previously a buyer.
type Resale struct {
	ID              int64     `json:"id"`
	OpHash          string    `json:"op_hash"`
	Timestamp       time.Time `json:"ts"`
	SellerCollector string    `json:"seller_collector"`
	Buyer           string    `json:"buyer"`
	Marketplace     string    `json:"marketplace"`
	TokenContract   string    `json:"token_contract"`
	TokenID         string    `json:"token_id"`
	Proceeds        *int64    `json:"proceeds,omitempty"`
}

// Mint is the first appearance of a token.
type Mint struct {
	ID            int64     `json:"id"`
	OpHash        string    `json:"op_hash"`
	Timestamp     time.Time `json:"ts"`
	Creator       string    `json:"creator"`
	TokenContract string    `json:"token_contract"`
	TokenID       string    `json:"token_id"`
}

// DailyMetrics is a row of daily_metrics.
type DailyMetrics struct {
	Date         string  `json:"date"` // ISO date, primary key
	TotalVolume  int64   `json:"total_volume"`
	AvgPrice     float64 `json:"avg_price"`
	SaleCount    int64   `json:"sale_count"`
	UniqueBuyers int64   `json:"unique_buyers"`
	UniqueSellers int64  `json:"unique_sellers"`
}

// MarketplaceStats is a row of marketplace_stats.
type MarketplaceStats struct {
	Marketplace     string  `json:"marketplace"`
	SaleCount       int64   `json:"sale_count"`
	Volume          int64   `json:"volume"`
	SharePct        float64 `json:"share_pct"`
	EstimatedFees   int64   `json:"estimated_fees"`
}

// DailyMarketplaceFees is a row of daily_marketplace_fees.
type DailyMarketplaceFees struct {
	Date        string `json:"date"`
	Marketplace string `json:"marketplace"`
	Volume      int64  `json:"volume"`
	Fees        int64  `json:"fees"`
}

// BuyerCexFlow is a row of buyer_cex_flow.
type BuyerCexFlow struct {
	Address      string `json:"address"`
	TotalCashIn  int64  `json:"total_cash_in"`
	TotalCashOut int64  `json:"total_cash_out"`
}

// CreatorFundFlow is a row of creator_fund_flow.
type CreatorFundFlow struct {
	Address          string `json:"address"`
	TotalMintRevenue int64  `json:"total_mint_revenue"`
	TotalCashedOut   int64  `json:"total_cashed_out"`
}

// WalletXtzSummary is a row of wallet_xtz_summary.
type WalletXtzSummary struct {
	Address            string  `json:"address"`
	BalanceStart       *int64  `json:"balance_start,omitempty"`
	BalanceEnd         *int64  `json:"balance_end,omitempty"`
	TotalSent          int64   `json:"total_sent"`
	TotalReceived      int64   `json:"total_received"`
	SentByFlowType     map[FlowType]int64 `json:"sent_by_flow_type,omitempty"`
	ReceivedByFlowType map[FlowType]int64 `json:"received_by_flow_type,omitempty"`
	SpentOnNFTs        int64   `json:"spent_on_nfts"`
	ReceivedFromSales  int64   `json:"received_from_sales"`
}

// FlowEdge is one aggregated (sender, target) edge of the flow graph.
type FlowEdge struct {
	Sender     string  `json:"sender"`
	Target     string  `json:"target"`
	TotalValue int64   `json:"total_value"`
	Count      int64   `json:"count"`
	AvgValue   float64 `json:"avg_value"`
	Color      string  `json:"color"` // hex RGB, blue-purple-red gradient on TotalValue vs the graph's min/max
}

// FlowNode is one node of the flow graph, sized/colored for presentation
// sinks (which this module does not render, only computes).
type FlowNode struct {
	Address  string  `json:"address"`
	Activity int64   `json:"activity"` // sum of edge counts touching this node
	Size     float64 `json:"size"`     // log10(count+1)*5 + 5
}

// FlowGraph is the retained top-N node/edge set.
type FlowGraph struct {
	Nodes []FlowNode `json:"nodes"`
	Edges []FlowEdge `json:"edges"`
}
