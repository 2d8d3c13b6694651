package aggregate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"nftscan/internal/config"
	"nftscan/internal/models"
)

func ptr(v int64) *int64 { return &v }

func TestDailyMetricsGroupsByISODate(t *testing.T) {
	day := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	purchases := []models.Purchase{
		{Buyer: "tz1A", Seller: "tz1S1", Spend: ptr(1000), Timestamp: day},
		{Buyer: "tz1B", Seller: "tz1S2", Spend: ptr(3000), Timestamp: day.Add(time.Hour)},
		{Buyer: "tz1A", Spend: ptr(0), Timestamp: day}, // zero spend excluded from avg price
	}

	result := Run(purchases, config.Default())
	dm := result.DailyMetrics["2026-01-01"]
	require.Equal(t, int64(4000), dm.TotalVolume)
	require.Equal(t, int64(3), dm.SaleCount)
	require.Equal(t, int64(2), dm.UniqueBuyers)
	require.Equal(t, int64(2), dm.UniqueSellers)
	require.InDelta(t, 2000, dm.AvgPrice, 0.001)
}

func TestMarketplaceStatsSharesAndFees(t *testing.T) {
	cfg := config.Default()
	cfg.Marketplaces = []config.Marketplace{{Name: "objkt", FeeRate: 0.025}}
	purchases := []models.Purchase{
		{Marketplace: "objkt", Spend: ptr(1000000), Timestamp: time.Now()},
		{Marketplace: "objkt", Spend: ptr(1000000), Timestamp: time.Now()},
	}

	result := Run(purchases, cfg)
	stats := result.MarketplaceStats["objkt"]
	require.Equal(t, int64(2000000), stats.Volume)
	require.InDelta(t, 100.0, stats.SharePct, 0.001)
	require.Equal(t, int64(50000), stats.EstimatedFees)
}

func TestDailyMarketplaceFeesFloorsExactly(t *testing.T) {
	cfg := config.Default()
	cfg.Marketplaces = []config.Marketplace{{Name: "objkt", FeeRate: 0.033}}
	day := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	purchases := []models.Purchase{
		{Marketplace: "objkt", Spend: ptr(101), Timestamp: day},
	}

	result := Run(purchases, cfg)
	fee := result.DailyMarketplaceFees["2026-02-01|objkt"]
	require.Equal(t, int64(3), fee.Fees) // floor(101*0.033) = floor(3.333) = 3
}

func TestVolumeTrendUpWhenSecondHalfExceedsByMoreThanFivePercent(t *testing.T) {
	daily := map[string]models.DailyMetrics{
		"2026-01-01": {TotalVolume: 100},
		"2026-01-02": {TotalVolume: 100},
		"2026-01-03": {TotalVolume: 200},
		"2026-01-04": {TotalVolume: 200},
	}
	trend := volumeTrend(daily)
	require.Equal(t, "up", trend.Direction)
}

func TestVolumeTrendFlatWithinFivePercent(t *testing.T) {
	daily := map[string]models.DailyMetrics{
		"2026-01-01": {TotalVolume: 100},
		"2026-01-02": {TotalVolume: 102},
	}
	trend := volumeTrend(daily)
	require.Equal(t, "flat", trend.Direction)
}
