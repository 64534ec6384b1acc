package signals

import (
	"fmt"
	"os"

	"github.com/dgraph-io/ristretto"
	"github.com/sirupsen/logrus"

	"shamai/engine/config"
	"shamai/engine/internal/aggregate"
	"shamai/engine/internal/models"
	"shamai/engine/internal/trends"
)

// TrailingAverageFunc supplies the trailing moving average of active-listing
// counts for an area and listing type, over the given number of months.
type TrailingAverageFunc func(key models.AreaKey, listingType string, months int) (float64, error)

// Classifier derives the four categorical signals from numeric aggregates
// using threshold rules. It is deterministic over the current period's
// aggregates; the only external input is the trailing active-count average,
// read through a cache because stale values are acceptable.
type Classifier struct {
	thresholds config.Thresholds
	trailing   TrailingAverageFunc
	cache      *ristretto.Cache
	logger     *logrus.Logger
}

func NewClassifier(thresholds config.Thresholds, trailing TrailingAverageFunc, logger *logrus.Logger) (*Classifier, error) {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10_000,
		MaxCost:     1 << 20,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create trailing-average cache: %w", err)
	}

	return &Classifier{
		thresholds: thresholds,
		trailing:   trailing,
		cache:      cache,
		logger:     logger,
	}, nil
}

// Classify applies the threshold rules to one area's current aggregates.
func (c *Classifier) Classify(key models.AreaKey, listingType string, agg aggregate.Aggregation, tr trends.Trends) models.SignalSet {
	s := models.SignalSet{
		PriceTrend:         c.priceTrend(tr),
		SalesVelocity:      c.salesVelocity(agg),
		MarketingIntensity: c.marketingIntensity(key, listingType, agg),
	}
	s.MarketStatus = marketStatus(s.PriceTrend, s.SalesVelocity)
	return s
}

func (c *Classifier) priceTrend(tr trends.Trends) string {
	// No comparison data reads as stable, not as a zero-change trend.
	if tr.Change1Month == nil {
		return models.TrendStable
	}
	switch {
	case *tr.Change1Month > c.thresholds.PriceTrendUpPct:
		return models.TrendIncreasing
	case *tr.Change1Month < c.thresholds.PriceTrendDownPct:
		return models.TrendDecreasing
	}
	return models.TrendStable
}

func (c *Classifier) salesVelocity(agg aggregate.Aggregation) string {
	if agg.MedianDaysOnMarket == 0 && agg.ActiveListings == 0 {
		return models.VelocityNormal
	}
	switch {
	case agg.MedianDaysOnMarket < c.thresholds.FastDaysOnMarket:
		return models.VelocityFast
	case agg.MedianDaysOnMarket > c.thresholds.SlowDaysOnMarket:
		return models.VelocitySlow
	}
	return models.VelocityNormal
}

func (c *Classifier) marketingIntensity(key models.AreaKey, listingType string, agg aggregate.Aggregation) string {
	avg, err := c.trailingAverage(key, listingType)
	if err != nil {
		c.logger.WithError(err).WithField("area", key.String()).Warn("No trailing listing average; intensity defaults to normal")
		return models.IntensityNormal
	}
	if avg <= 0 {
		return models.IntensityNormal
	}

	ratio := float64(agg.ActiveListings) / avg
	switch {
	case ratio > c.thresholds.AggressiveListingRatio:
		return models.IntensityAggressive
	case ratio < c.thresholds.LowListingRatio:
		return models.IntensityLow
	}
	return models.IntensityNormal
}

// trailingAverage reads through the cache to the store-backed average.
// Staleness is acceptable; a recompute is always safe.
func (c *Classifier) trailingAverage(key models.AreaKey, listingType string) (float64, error) {
	months := c.thresholds.IntensityWindowMonths
	cacheKey := fmt.Sprintf("%s|%s|%dm", key.String(), listingType, months)

	if v, ok := c.cache.Get(cacheKey); ok {
		return v.(float64), nil
	}
	avg, err := c.trailing(key, listingType, months)
	if err != nil {
		return 0, err
	}
	c.cache.Set(cacheKey, avg, 1)
	return avg, nil
}

// marketStatus combines trend and velocity per the status matrix.
func marketStatus(trend, velocity string) string {
	switch {
	case trend == models.TrendIncreasing && velocity == models.VelocityFast:
		return models.MarketHot
	case trend == models.TrendDecreasing && velocity == models.VelocitySlow:
		return models.MarketExhausted
	case trend == models.TrendStable && velocity == models.VelocitySlow:
		return models.MarketStagnant
	}
	return models.MarketBalanced
}
