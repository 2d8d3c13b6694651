package classifier

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"nftscan/internal/config"
	"nftscan/internal/indexerclient"
	"nftscan/internal/models"
)

type fakeStore struct {
	cache map[string]models.ContractMetadata
	saves int
}

func newFakeStore() *fakeStore { return &fakeStore{cache: map[string]models.ContractMetadata{}} }

func (f *fakeStore) GetContractMetadata(address string) (models.ContractMetadata, bool) {
	m, ok := f.cache[address]
	return m, ok
}
func (f *fakeStore) UpsertContractMetadata(row models.ContractMetadata) { f.cache[row.Address] = row }
func (f *fakeStore) Save() error                                       { f.saves++; return nil }

type fakeClient struct {
	contractResp indexerclient.ContractMetadataResponse
	tokenResp    indexerclient.TokenMetadataResponse
	tokenErr     error
}

func (f *fakeClient) GetContractMetadata(ctx context.Context, contract string) (indexerclient.ContractMetadataResponse, error) {
	return f.contractResp, nil
}
func (f *fakeClient) GetTokenMetadata(ctx context.Context, contract, tokenID string) (indexerclient.TokenMetadataResponse, error) {
	return f.tokenResp, f.tokenErr
}

func TestIsFungibleHardCodedSetsShortCircuit(t *testing.T) {
	cfg := config.Default()
	cfg.KnownFungible = []string{"KT1Fungible"}
	cfg.KnownNFT = []string{"KT1NFT"}
	c := New(cfg, newFakeStore(), &fakeClient{})

	require.True(t, c.IsFungible(context.Background(), "KT1Fungible"))
	require.False(t, c.IsFungible(context.Background(), "KT1NFT"))
}

func TestIsFungibleCacheHit(t *testing.T) {
	store := newFakeStore()
	store.cache["KT1Cached"] = models.ContractMetadata{Address: "KT1Cached", IsFungible: true}
	c := New(config.Default(), store, &fakeClient{})

	require.True(t, c.IsFungible(context.Background(), "KT1Cached"))
}

func TestIsFungibleAdapterDecimalsMeansFungible(t *testing.T) {
	decimals := 6
	client := &fakeClient{tokenResp: indexerclient.TokenMetadataResponse{Decimals: &decimals}}
	store := newFakeStore()
	c := New(config.Default(), store, client)

	require.True(t, c.IsFungible(context.Background(), "KT1Unknown"))
	require.True(t, store.cache["KT1Unknown"].IsFungible)
}

func TestIsFungibleAdapterArtifactURIMeansNFT(t *testing.T) {
	client := &fakeClient{tokenResp: indexerclient.TokenMetadataResponse{ArtifactURI: "ipfs://abc"}}
	c := New(config.Default(), newFakeStore(), client)

	require.False(t, c.IsFungible(context.Background(), "KT1Unknown"))
}

func TestBatchIsFungiblePreFiltersBeforeAdapterCalls(t *testing.T) {
	cfg := config.Default()
	cfg.KnownFungible = []string{"KT1Fungible"}
	store := newFakeStore()
	store.cache["KT1Cached"] = models.ContractMetadata{Address: "KT1Cached", IsFungible: false}
	client := &fakeClient{tokenResp: indexerclient.TokenMetadataResponse{}}
	c := New(cfg, store, client)

	out := c.BatchIsFungible(context.Background(), []string{"KT1Fungible", "KT1Cached", "KT1New"})
	require.True(t, out["KT1Fungible"])
	require.False(t, out["KT1Cached"])
	require.Contains(t, out, "KT1New")
}
