// Package config loads the marketplace/CEX/bridge configuration and runtime
// knobs used across the pipeline. Precedence follows the teacher's own
// idiom throughout main.go: a yaml.v3 file provides defaults, an optional
// .env is loaded for local development, and plain os.Getenv always wins.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Marketplace is one configured (contract, entrypoint-sets, fee) tuple.
type Marketplace struct {
	Name                string   `yaml:"name"`
	Address             string   `yaml:"address"`
	CustodyAddresses    []string `yaml:"custody_addresses"`
	BuyEntrypoints      []string `yaml:"buy_entrypoints"`
	ListEntrypoints     []string `yaml:"list_entrypoints"`
	AcceptOfferEntrypoints []string `yaml:"accept_offer_entrypoints"`
	FeeRate             float64  `yaml:"fee_rate"`
}

// Config is the full set of configuration inputs named in spec.md §6.
type Config struct {
	DataDir   string `yaml:"data_dir"`
	OutDir    string `yaml:"out_dir"`
	IndexerURL string `yaml:"indexer_url"`
	IdentityURL string `yaml:"identity_url"`

	WindowDays     int `yaml:"window_days"`
	PageSize       int `yaml:"page_size"`
	MaxConcurrency int `yaml:"max_concurrency"`

	// SyncStart is the first weekly window's start date; sync-week all walks
	// forward from here in WindowDays-sized steps up to the present.
	SyncStart time.Time `yaml:"sync_start"`

	// NodeCap bounds the retained flow-graph node set (spec.md §4.8).
	NodeCap int `yaml:"node_cap"`

	RetryAttempts  int           `yaml:"retry_attempts"`
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"`
	RateLimitEvery time.Duration `yaml:"rate_limit_every"`

	Marketplaces []Marketplace `yaml:"marketplaces"`
	CexAddresses    []string `yaml:"cex_addresses"`
	BridgeAddresses []string `yaml:"bridge_addresses"`
	KnownFungible   []string `yaml:"known_fungible_contracts"`
	KnownNFT        []string `yaml:"known_nft_contracts"`
	OpenEditionMarketplaces []string `yaml:"open_edition_marketplaces"`
	OpenEditionContracts    []string `yaml:"open_edition_contracts"`

	// EditionSizeCeiling is the max token-amount still considered an NFT
	// transfer (spec.md §4.5 NFT-transfer filter).
	EditionSizeCeiling int64 `yaml:"edition_size_ceiling"`
}

// Default returns the zero-config defaults the teacher's main.go falls back
// to when no env var is set.
func Default() Config {
	return Config{
		DataDir:        "data",
		OutDir:         "out",
		IndexerURL:     "https://api.tzkt.io/v1",
		IdentityURL:    "https://api.tezos.domains/graphql",
		WindowDays:     7,
		PageSize:       1000,
		MaxConcurrency: 6,
		RetryAttempts:  5,
		RetryBaseDelay: time.Second,
		RateLimitEvery: 100 * time.Millisecond,
		EditionSizeCeiling: 5555,
		SyncStart:      time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC),
		NodeCap:        200,
	}
}

// Load reads path (if it exists), applies an optional .env, then lets
// environment variables override individual scalar fields. Marketplace/CEX/
// bridge lists only ever come from the yaml file — they are too structured
// for single env vars.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, errors.Wrapf(err, "read config %s", path)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, errors.Wrapf(err, "parse config %s", path)
		}
	}

	// Best effort: a missing .env is not an error.
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("NFTSCAN_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("NFTSCAN_OUT_DIR"); v != "" {
		cfg.OutDir = v
	}
	if v := os.Getenv("NFTSCAN_INDEXER_URL"); v != "" {
		cfg.IndexerURL = v
	}
	if v := os.Getenv("NFTSCAN_IDENTITY_URL"); v != "" {
		cfg.IdentityURL = v
	}
	if v := getEnvInt("NFTSCAN_WINDOW_DAYS", 0); v != 0 {
		cfg.WindowDays = v
	}
	if v := getEnvInt("NFTSCAN_PAGE_SIZE", 0); v != 0 {
		cfg.PageSize = v
	}
	if v := getEnvInt("NFTSCAN_MAX_CONCURRENCY", 0); v != 0 {
		cfg.MaxConcurrency = v
	}
	if v := getEnvInt("NFTSCAN_RETRY_ATTEMPTS", 0); v != 0 {
		cfg.RetryAttempts = v
	}
	if v := os.Getenv("NFTSCAN_RETRY_BASE_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.RetryBaseDelay = d
		}
	}
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

// FeeRate returns the configured fee rate for marketplace name, or 0 if
// unknown (spec.md §4.7 DailyMarketplaceFees).
func (c Config) FeeRate(marketplace string) float64 {
	for _, m := range c.Marketplaces {
		if m.Name == marketplace {
			return m.FeeRate
		}
	}
	return 0
}

// CustodyMarketplace returns the marketplace name owning custodyAddr, if any.
func (c Config) CustodyMarketplace(custodyAddr string) (string, bool) {
	for _, m := range c.Marketplaces {
		for _, ca := range m.CustodyAddresses {
			if strings.EqualFold(ca, custodyAddr) {
				return m.Name, true
			}
		}
	}
	return "", false
}

// MarketplaceByAddress returns the marketplace config whose contract
// address is addr.
func (c Config) MarketplaceByAddress(addr string) (Marketplace, bool) {
	for _, m := range c.Marketplaces {
		if strings.EqualFold(m.Address, addr) {
			return m, true
		}
	}
	return Marketplace{}, false
}

// IsMarketplaceAddress reports whether addr is any configured marketplace
// contract.
func (c Config) IsMarketplaceAddress(addr string) bool {
	_, ok := c.MarketplaceByAddress(addr)
	return ok
}

func containsFold(list []string, v string) bool {
	for _, x := range list {
		if strings.EqualFold(x, v) {
			return true
		}
	}
	return false
}

func (c Config) IsCEX(addr string) bool       { return containsFold(c.CexAddresses, addr) }
func (c Config) IsBridge(addr string) bool    { return containsFold(c.BridgeAddresses, addr) }
func (c Config) IsKnownFungible(a string) bool { return containsFold(c.KnownFungible, a) }
func (c Config) IsKnownNFT(a string) bool      { return containsFold(c.KnownNFT, a) }
func (c Config) IsOpenEdition(marketplace, contract string) bool {
	return containsFold(c.OpenEditionMarketplaces, marketplace) || containsFold(c.OpenEditionContracts, contract)
}
