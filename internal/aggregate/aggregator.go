package aggregate

import (
	"sort"

	"shamai/engine/internal/models"
)

// Aggregation is the cross-sectional statistics for one area, listing type
// and period. Price statistics cover the non-outlier population only.
type Aggregation struct {
	Period models.Period

	ActiveListings int

	MeanPrice   float64
	MedianPrice float64
	MinPrice    float64
	MaxPrice    float64

	MeanPricePerSqm   float64
	MedianPricePerSqm float64

	// Non-outlier sales in the period; RawTransactionCount includes outliers.
	TransactionCount    int
	RawTransactionCount int
	MonthlySalesVolume  float64

	MeanDaysOnMarket   float64
	MedianDaysOnMarket float64

	// InventoryMonths is models.InventoryUndefined when sales volume is zero
	// while active listings exist.
	InventoryMonths float64

	NewVsUsedRatio    float64
	OutlierPercentage float64
}

// Empty reports whether the aggregation covers no population at all. Trend
// comparisons treat empty past aggregates as "no data", not zero.
func (a Aggregation) Empty() bool {
	return a.ActiveListings == 0 && a.RawTransactionCount == 0
}

// Compute aggregates the given listings and transactions for one period.
// Callers pass listings already scoped to the area and listing type, with
// status active or transitioned within the period; transactions are the
// period's sales including flagged outliers, which Compute excludes from
// every price statistic but counts toward raw volume.
func Compute(listings []models.Listing, txs []models.Transaction, period models.Period) Aggregation {
	agg := Aggregation{Period: period}

	var prices, ppsms []float64
	flagged := 0
	for i := range txs {
		tx := &txs[i]
		agg.RawTransactionCount++
		if tx.IsOutlier {
			flagged++
			continue
		}
		agg.TransactionCount++
		prices = append(prices, float64(tx.Price))
		if ppsm, ok := tx.PricePerSqm(); ok {
			ppsms = append(ppsms, ppsm)
		}
	}
	if agg.RawTransactionCount > 0 {
		agg.OutlierPercentage = float64(flagged) / float64(agg.RawTransactionCount) * 100
	}

	var listingPrices, listingPpsms, doms []float64
	newConstruction := 0
	for i := range listings {
		l := &listings[i]
		if l.Status == models.StatusActive {
			agg.ActiveListings++
			if isNewConstruction(l) {
				newConstruction++
			}
		}
		if l.PriceCurrent != nil && *l.PriceCurrent > 0 {
			listingPrices = append(listingPrices, float64(*l.PriceCurrent))
		}
		if l.PricePerSqm != nil {
			listingPpsms = append(listingPpsms, *l.PricePerSqm)
		}
		doms = append(doms, float64(l.DaysOnMarket))
	}
	if agg.ActiveListings > 0 {
		agg.NewVsUsedRatio = float64(newConstruction) / float64(agg.ActiveListings)
	}

	// Closed sales are the authoritative price signal; fall back to asking
	// prices so listing-only areas still report price levels.
	if len(prices) == 0 {
		prices = listingPrices
	}
	if len(ppsms) == 0 {
		ppsms = listingPpsms
	}
	agg.MeanPrice = mean(prices)
	agg.MedianPrice = Median(prices)
	agg.MinPrice, agg.MaxPrice = bounds(prices)
	agg.MeanPricePerSqm = mean(ppsms)
	agg.MedianPricePerSqm = Median(ppsms)

	agg.MeanDaysOnMarket = mean(doms)
	agg.MedianDaysOnMarket = Median(doms)

	if months := period.Months(); months > 0 {
		agg.MonthlySalesVolume = float64(agg.TransactionCount) / months
	}
	agg.InventoryMonths = inventoryMonths(agg.ActiveListings, agg.MonthlySalesVolume)

	return agg
}

// inventoryMonths divides supply by absorption. Zero volume with zero
// listings is a genuine zero; zero volume with standing inventory implies
// infinite supply and is reported as the distinguished sentinel, never
// clamped.
func inventoryMonths(active int, monthlyVolume float64) float64 {
	if monthlyVolume == 0 {
		if active == 0 {
			return 0
		}
		return models.InventoryUndefined
	}
	return float64(active) / monthlyVolume
}

func isNewConstruction(l *models.Listing) bool {
	if l.ListingType == models.ListingTypeNewHomes {
		return true
	}
	switch l.ConstructionStatus {
	case "new", "under_construction", "pre_sale":
		return true
	}
	return false
}

// Median is the exact sort-and-midpoint median; an even count averages the
// two middle values. Zero for an empty set.
func Median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func bounds(values []float64) (min, max float64) {
	if len(values) == 0 {
		return 0, 0
	}
	min, max = values[0], values[0]
	for _, v := range values[1:] {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return min, max
}
