package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultValues(t *testing.T) {
	cfg := Default()
	require.Equal(t, 7, cfg.WindowDays)
	require.Equal(t, int64(5555), cfg.EditionSizeCeiling)
	require.Equal(t, 200, cfg.NodeCap)
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	require.Equal(t, Default().DataDir, cfg.DataDir)
}

func TestLoadParsesYAMLMarketplaces(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nftscan.yaml")
	yamlBody := `
marketplaces:
  - name: objkt
    address: KT1Market
    fee_rate: 0.025
cex_addresses:
  - tz1CEX
`
	require.NoError(t, os.WriteFile(path, []byte(yamlBody), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.Marketplaces, 1)
	require.Equal(t, "objkt", cfg.Marketplaces[0].Name)
	require.InDelta(t, 0.025, cfg.FeeRate("objkt"), 0.0001)
	require.True(t, cfg.IsCEX("tz1CEX"))
}

func TestEnvOverridesWindowDays(t *testing.T) {
	t.Setenv("NFTSCAN_WINDOW_DAYS", "14")
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	require.Equal(t, 14, cfg.WindowDays)
}

func TestCustodyMarketplaceLookup(t *testing.T) {
	cfg := Default()
	cfg.Marketplaces = []Marketplace{
		{Name: "objkt", Address: "KT1Market", CustodyAddresses: []string{"KT1Custody"}},
	}
	name, ok := cfg.CustodyMarketplace("kt1custody")
	require.True(t, ok)
	require.Equal(t, "objkt", name)

	_, ok = cfg.CustodyMarketplace("KT1Unknown")
	require.False(t, ok)
}

func TestIsOpenEditionChecksBothMarketplaceAndContractLists(t *testing.T) {
	cfg := Default()
	cfg.OpenEditionMarketplaces = []string{"fxhash"}
	cfg.OpenEditionContracts = []string{"KT1Edition"}

	require.True(t, cfg.IsOpenEdition("fxhash", "KT1Other"))
	require.True(t, cfg.IsOpenEdition("objkt", "KT1Edition"))
	require.False(t, cfg.IsOpenEdition("objkt", "KT1Other"))
}
