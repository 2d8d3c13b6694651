// Package aggregate computes DailyMetrics, MarketplaceStats,
// DailyMarketplaceFees, and the volume trend summary from verified
// Purchase rows, following spec.md §4.7.
package aggregate

import (
	"math"
	"sort"

	"nftscan/internal/config"
	"nftscan/internal/models"
)

// Result bundles the aggregator's output.
type Result struct {
	DailyMetrics         map[string]models.DailyMetrics
	MarketplaceStats     map[string]models.MarketplaceStats
	DailyMarketplaceFees map[string]models.DailyMarketplaceFees
	Trend                Trend
}

// Trend is the volume-trend summary (spec.md §4.7).
type Trend struct {
	Direction     string // "up" | "down" | "flat"
	PercentChange float64
}

// Run computes every aggregate table from purchases.
func Run(purchases []models.Purchase, cfg config.Config) Result {
	daily := dailyMetrics(purchases)
	marketStats := marketplaceStats(purchases, cfg)
	fees := dailyMarketplaceFees(purchases, cfg)
	trend := volumeTrend(daily)

	return Result{
		DailyMetrics:         daily,
		MarketplaceStats:     marketStats,
		DailyMarketplaceFees: fees,
		Trend:                trend,
	}
}

type dailyAccum struct {
	volume       int64
	priceSum     int64
	priceCount   int64
	saleCount    int64
	buyers       map[string]bool
	sellers      map[string]bool
}

func dailyMetrics(purchases []models.Purchase) map[string]models.DailyMetrics {
	acc := map[string]*dailyAccum{}
	for _, p := range purchases {
		date := p.Timestamp.UTC().Format("2006-01-02")
		a, ok := acc[date]
		if !ok {
			a = &dailyAccum{buyers: map[string]bool{}, sellers: map[string]bool{}}
			acc[date] = a
		}
		a.saleCount++
		a.buyers[p.Buyer] = true
		if p.Seller != "" {
			a.sellers[p.Seller] = true
		}
		if p.Spend != nil {
			a.volume += *p.Spend
			if *p.Spend > 0 {
				a.priceSum += *p.Spend
				a.priceCount++
			}
		}
	}

	out := make(map[string]models.DailyMetrics, len(acc))
	for date, a := range acc {
		avg := 0.0
		if a.priceCount > 0 {
			avg = float64(a.priceSum) / float64(a.priceCount)
		}
		out[date] = models.DailyMetrics{
			Date:          date,
			TotalVolume:   a.volume,
			AvgPrice:      avg,
			SaleCount:     a.saleCount,
			UniqueBuyers:  int64(len(a.buyers)),
			UniqueSellers: int64(len(a.sellers)),
		}
	}
	return out
}

func marketplaceStats(purchases []models.Purchase, cfg config.Config) map[string]models.MarketplaceStats {
	type accum struct {
		saleCount int64
		volume    int64
	}
	acc := map[string]*accum{}
	var totalVolume int64
	for _, p := range purchases {
		a, ok := acc[p.Marketplace]
		if !ok {
			a = &accum{}
			acc[p.Marketplace] = a
		}
		a.saleCount++
		if p.Spend != nil {
			a.volume += *p.Spend
			totalVolume += *p.Spend
		}
	}

	out := make(map[string]models.MarketplaceStats, len(acc))
	for name, a := range acc {
		share := 0.0
		if totalVolume > 0 {
			share = float64(a.volume) / float64(totalVolume) * 100
		}
		out[name] = models.MarketplaceStats{
			Marketplace:   name,
			SaleCount:     a.saleCount,
			Volume:        a.volume,
			SharePct:      share,
			EstimatedFees: int64(math.Floor(float64(a.volume) * cfg.FeeRate(name))),
		}
	}
	return out
}

func dailyMarketplaceFees(purchases []models.Purchase, cfg config.Config) map[string]models.DailyMarketplaceFees {
	type key struct{ date, marketplace string }
	acc := map[key]int64{}
	for _, p := range purchases {
		if p.Spend == nil {
			continue
		}
		date := p.Timestamp.UTC().Format("2006-01-02")
		acc[key{date, p.Marketplace}] += *p.Spend
	}

	out := make(map[string]models.DailyMarketplaceFees, len(acc))
	for k, volume := range acc {
		fee := int64(math.Floor(float64(volume) * cfg.FeeRate(k.marketplace)))
		compositeKey := k.date + "|" + k.marketplace
		out[compositeKey] = models.DailyMarketplaceFees{
			Date:        k.date,
			Marketplace: k.marketplace,
			Volume:      volume,
			Fees:        fee,
		}
	}
	return out
}

// volumeTrend splits the daily sequence at its midpoint and compares mean
// volume between halves (spec.md §4.7).
func volumeTrend(daily map[string]models.DailyMetrics) Trend {
	dates := make([]string, 0, len(daily))
	for d := range daily {
		dates = append(dates, d)
	}
	sort.Strings(dates)
	if len(dates) < 2 {
		return Trend{Direction: "flat", PercentChange: 0}
	}

	mid := len(dates) / 2
	firstHalf := dates[:mid]
	secondHalf := dates[mid:]

	firstMean := meanVolume(daily, firstHalf)
	secondMean := meanVolume(daily, secondHalf)

	if firstMean == 0 {
		if secondMean == 0 {
			return Trend{Direction: "flat", PercentChange: 0}
		}
		return Trend{Direction: "up", PercentChange: 100}
	}

	pctChange := (secondMean - firstMean) / firstMean * 100
	switch {
	case pctChange > 5:
		return Trend{Direction: "up", PercentChange: pctChange}
	case pctChange < -5:
		return Trend{Direction: "down", PercentChange: pctChange}
	default:
		return Trend{Direction: "flat", PercentChange: pctChange}
	}
}

func meanVolume(daily map[string]models.DailyMetrics, dates []string) float64 {
	if len(dates) == 0 {
		return 0
	}
	var sum int64
	for _, d := range dates {
		sum += daily[d].TotalVolume
	}
	return float64(sum) / float64(len(dates))
}
