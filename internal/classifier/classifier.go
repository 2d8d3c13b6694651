// Package classifier decides whether a token contract is fungible,
// following the cache-first, adapter-fallback cascade in spec.md §4.4. The
// cache-flush-every-N-hits pattern is grounded on the teacher's
// internal/market/price_cache.go periodic-flush idiom.
package classifier

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"nftscan/internal/config"
	"nftscan/internal/indexerclient"
	"nftscan/internal/models"
)

var log = logrus.WithField("component", "classifier")

const flushEvery = 10

// Store is the subset of store.Store the classifier needs.
type Store interface {
	GetContractMetadata(address string) (models.ContractMetadata, bool)
	UpsertContractMetadata(row models.ContractMetadata)
	Save() error
}

// IndexerClient is the subset of indexerclient.Client the classifier needs.
type IndexerClient interface {
	GetContractMetadata(ctx context.Context, contract string) (indexerclient.ContractMetadataResponse, error)
	GetTokenMetadata(ctx context.Context, contract, tokenID string) (indexerclient.TokenMetadataResponse, error)
}

// Classifier resolves the fungible/NFT status of contracts.
type Classifier struct {
	cfg    config.Config
	store  Store
	client IndexerClient
	hits   int
}

func New(cfg config.Config, store Store, client IndexerClient) *Classifier {
	return &Classifier{cfg: cfg, store: store, client: client}
}

// IsFungible runs the full cascade for one contract (spec.md §4.4).
func (c *Classifier) IsFungible(ctx context.Context, contract string) bool {
	if c.cfg.IsKnownFungible(contract) {
		return true
	}
	if c.cfg.IsKnownNFT(contract) {
		return false
	}
	if meta, ok := c.store.GetContractMetadata(contract); ok {
		return meta.IsFungible
	}

	fungible, tokenType := c.resolveViaAdapter(ctx, contract)
	c.store.UpsertContractMetadata(models.ContractMetadata{
		Address:    contract,
		IsFungible: fungible,
		TokenType:  tokenType,
		CheckedAt:  time.Now().UTC(),
	})
	c.hits++
	if c.hits%flushEvery == 0 {
		if err := c.store.Save(); err != nil {
			log.WithError(err).Warn("flush contract metadata cache failed")
		}
	}
	return fungible
}

// resolveViaAdapter applies the heuristic ladder in spec.md §4.4 step 4.
func (c *Classifier) resolveViaAdapter(ctx context.Context, contract string) (fungible bool, tokenType string) {
	contractMeta, err := c.client.GetContractMetadata(ctx, contract)
	if err != nil {
		log.WithField("contract", contract).WithError(err).Debug("contract metadata fetch failed; defaulting to NFT")
		return false, "nft"
	}
	for _, tag := range contractMeta.Tags {
		if strings.EqualFold(tag, "fa1.2") || strings.Contains(strings.ToLower(tag), "fungible") {
			return true, "fa1.2"
		}
	}

	tokenMeta, err := c.client.GetTokenMetadata(ctx, contract, "0")
	if err != nil {
		if indexerclient.IsNotFound(err) {
			// Collection begins at id 1: no token-id-0 means this is an NFT
			// collection, not a fungible token.
			return false, "nft"
		}
		log.WithField("contract", contract).WithError(err).Debug("token metadata fetch failed; defaulting to NFT")
		return false, "nft"
	}

	if tokenMeta.Decimals != nil && *tokenMeta.Decimals > 0 {
		return true, "fa1.2"
	}
	if tokenMeta.ArtifactURI != "" || tokenMeta.DisplayURI != "" || tokenMeta.ThumbnailURI != "" {
		return false, "nft"
	}
	if supply, ok := parseSupply(tokenMeta.TotalSupply); ok && supply > 1_000_000_000 {
		return true, "fa1.2"
	}
	return false, "nft"
}

func parseSupply(s string) (int64, bool) {
	if s == "" {
		return 0, false
	}
	var n int64
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
		n = n*10 + int64(r-'0')
	}
	return n, true
}

// BatchIsFungible pre-filters contracts by known sets and cache, then
// resolves only the residual via the adapter (spec.md §4.4 "batch operation").
func (c *Classifier) BatchIsFungible(ctx context.Context, contracts []string) map[string]bool {
	out := make(map[string]bool, len(contracts))
	seen := make(map[string]bool, len(contracts))
	var residual []string
	for _, contract := range contracts {
		if seen[contract] {
			continue
		}
		seen[contract] = true

		if c.cfg.IsKnownFungible(contract) {
			out[contract] = true
			continue
		}
		if c.cfg.IsKnownNFT(contract) {
			out[contract] = false
			continue
		}
		if meta, ok := c.store.GetContractMetadata(contract); ok {
			out[contract] = meta.IsFungible
			continue
		}
		residual = append(residual, contract)
	}

	for _, contract := range residual {
		out[contract] = c.IsFungible(ctx, contract)
	}
	if len(residual) > 0 {
		if err := c.store.Save(); err != nil {
			log.WithError(err).Warn("final classifier cache flush failed")
		}
	}
	return out
}
