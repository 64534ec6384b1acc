package signals

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shamai/engine/config"
	"shamai/engine/internal/aggregate"
	"shamai/engine/internal/models"
	"shamai/engine/internal/trends"
)

func defaultThresholds(t *testing.T) config.Thresholds {
	t.Helper()
	cfg, err := config.LoadConfig()
	require.NoError(t, err)
	return cfg.Signals
}

func fixedAverage(avg float64) TrailingAverageFunc {
	return func(models.AreaKey, string, int) (float64, error) { return avg, nil }
}

func newTestClassifier(t *testing.T, trailing TrailingAverageFunc) *Classifier {
	t.Helper()
	c, err := NewClassifier(defaultThresholds(t), trailing, nil)
	require.NoError(t, err)
	return c
}

func pct(v float64) *float64 { return &v }

func aggWith(medianDOM float64, active int) aggregate.Aggregation {
	return aggregate.Aggregation{
		MedianDaysOnMarket:  medianDOM,
		ActiveListings:      active,
		TransactionCount:    3,
		RawTransactionCount: 3,
	}
}

func TestPriceTrend(t *testing.T) {
	c := newTestClassifier(t, fixedAverage(10))

	tests := []struct {
		name   string
		change *float64
		want   string
	}{
		{"above threshold", pct(2.5), models.TrendIncreasing},
		{"below threshold", pct(-2.5), models.TrendDecreasing},
		{"within band", pct(1.0), models.TrendStable},
		{"exactly at threshold", pct(2.0), models.TrendStable},
		{"no data", nil, models.TrendStable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := c.Classify(models.AreaKey{Type: models.AreaTypeCity, Name: "חיפה"},
				models.ListingTypeBuy, aggWith(45, 10), trends.Trends{Change1Month: tt.change})
			assert.Equal(t, tt.want, s.PriceTrend)
		})
	}
}

func TestSalesVelocity(t *testing.T) {
	c := newTestClassifier(t, fixedAverage(10))

	tests := []struct {
		name      string
		medianDOM float64
		active    int
		want      string
	}{
		{"fast", 15, 10, models.VelocityFast},
		{"slow", 120, 10, models.VelocitySlow},
		{"normal", 45, 10, models.VelocityNormal},
		{"boundary fast", 30, 10, models.VelocityNormal},
		{"boundary slow", 90, 10, models.VelocityNormal},
		{"empty population", 0, 0, models.VelocityNormal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := c.Classify(models.AreaKey{Type: models.AreaTypeCity, Name: "חיפה"},
				models.ListingTypeBuy, aggWith(tt.medianDOM, tt.active), trends.Trends{})
			assert.Equal(t, tt.want, s.SalesVelocity)
		})
	}
}

func TestMarketingIntensity(t *testing.T) {
	tests := []struct {
		name    string
		average float64
		active  int
		want    string
	}{
		{"aggressive", 10, 14, models.IntensityAggressive},
		{"low", 10, 6, models.IntensityLow},
		{"normal", 10, 10, models.IntensityNormal},
		{"no history", 0, 10, models.IntensityNormal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClassifier(t, fixedAverage(tt.average))
			s := c.Classify(models.AreaKey{Type: models.AreaTypeCity, Name: "חיפה"},
				models.ListingTypeBuy, aggWith(45, tt.active), trends.Trends{})
			assert.Equal(t, tt.want, s.MarketingIntensity)
		})
	}
}

func TestMarketingIntensityStoreErrorDefaultsToNormal(t *testing.T) {
	c := newTestClassifier(t, func(models.AreaKey, string, int) (float64, error) {
		return 0, errors.New("query failed")
	})

	s := c.Classify(models.AreaKey{Type: models.AreaTypeCity, Name: "חיפה"},
		models.ListingTypeBuy, aggWith(45, 10), trends.Trends{})
	assert.Equal(t, models.IntensityNormal, s.MarketingIntensity)
}

func TestTrailingAverageIsCached(t *testing.T) {
	calls := 0
	c := newTestClassifier(t, func(models.AreaKey, string, int) (float64, error) {
		calls++
		return 10, nil
	})

	key := models.AreaKey{Type: models.AreaTypeCity, Name: "חיפה"}
	avg, err := c.trailingAverage(key, models.ListingTypeBuy)
	require.NoError(t, err)
	assert.Equal(t, 10.0, avg)

	c.cache.Wait()
	_, err = c.trailingAverage(key, models.ListingTypeBuy)
	require.NoError(t, err)
	assert.Equal(t, 1, calls, "second read hits the cache")
}

func TestMarketStatusMatrix(t *testing.T) {
	tests := []struct {
		trend    string
		velocity string
		want     string
	}{
		{models.TrendIncreasing, models.VelocityFast, models.MarketHot},
		{models.TrendDecreasing, models.VelocitySlow, models.MarketExhausted},
		{models.TrendStable, models.VelocitySlow, models.MarketStagnant},
		{models.TrendIncreasing, models.VelocitySlow, models.MarketBalanced},
		{models.TrendDecreasing, models.VelocityFast, models.MarketBalanced},
		{models.TrendStable, models.VelocityNormal, models.MarketBalanced},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, marketStatus(tt.trend, tt.velocity),
			"%s + %s", tt.trend, tt.velocity)
	}
}
