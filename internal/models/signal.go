package models

import "time"

// Categorical signal values derived by the classifier layer.
const (
	TrendIncreasing = "increasing"
	TrendDecreasing = "decreasing"
	TrendStable     = "stable"

	VelocityFast   = "fast"
	VelocitySlow   = "slow"
	VelocityNormal = "normal"

	IntensityAggressive = "aggressive"
	IntensityLow        = "low"
	IntensityNormal     = "normal"

	MarketHot       = "hot"
	MarketExhausted = "exhausted"
	MarketStagnant  = "stagnant"
	MarketBalanced  = "balanced"
)

// InventoryUndefined is the sentinel reported when monthly sale volume is zero
// while active listings exist (infinite supply). It is never silently clamped.
const InventoryUndefined = -1.0

// Period is a calculation window [Start, End].
type Period struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Months returns the period length in (fractional) months, based on a
// 30.44-day average month.
func (p Period) Months() float64 {
	return p.End.Sub(p.Start).Hours() / 24 / 30.44
}

// SignalSet holds the four categorical signals.
type SignalSet struct {
	PriceTrend         string `json:"price_trend"`
	SalesVelocity      string `json:"sales_velocity"`
	MarketingIntensity string `json:"marketing_intensity"`
	MarketStatus       string `json:"market_status"`
}

// AreaSignal is an immutable, versioned market snapshot for one
// (area, listing type, period). At most one row exists per
// (area type, area name, listing type, period end); a new period
// produces a new row, never an overwrite.
type AreaSignal struct {
	ID int64 `json:"id" gorm:"primaryKey"`

	AreaType    AreaType `json:"area_type" gorm:"uniqueIndex:idx_signals_key"`
	AreaName    string   `json:"area_name" gorm:"uniqueIndex:idx_signals_key"`
	ListingType string   `json:"listing_type" gorm:"uniqueIndex:idx_signals_key"`

	// Price statistics over the non-outlier population.
	MeanPrice         float64 `json:"mean_price"`
	MedianPrice       float64 `json:"median_price"`
	MinPrice          float64 `json:"min_price"`
	MaxPrice          float64 `json:"max_price"`
	MeanPricePerSqm   float64 `json:"mean_price_per_sqm"`
	MedianPricePerSqm float64 `json:"median_price_per_sqm"`

	// Volume statistics.
	ActiveListings     int     `json:"active_listings"`
	TransactionCount   int     `json:"transaction_count"`
	MonthlySalesVolume float64 `json:"monthly_sales_volume"`

	// Velocity statistics.
	MeanDaysOnMarket   float64 `json:"mean_days_on_market"`
	MedianDaysOnMarket float64 `json:"median_days_on_market"`
	InventoryMonths    float64 `json:"inventory_months"`

	// Trend percentages. Nil means no comparison data, which is distinct
	// from a computed zero change.
	Change1Month  *float64 `json:"change_1_month"`
	Change3Months *float64 `json:"change_3_months"`
	Change1Year   *float64 `json:"change_1_year"`

	// Categorical signals.
	PriceTrend         string `json:"price_trend"`
	SalesVelocity      string `json:"sales_velocity"`
	MarketingIntensity string `json:"marketing_intensity"`
	MarketStatus       string `json:"market_status"`

	// Secondary ratios.
	NewVsUsedRatio    float64 `json:"new_vs_used_ratio"`
	OutlierPercentage float64 `json:"outlier_percentage"`

	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end" gorm:"uniqueIndex:idx_signals_key"`
	CreatedAt   time.Time `json:"created_at"`
}

func (AreaSignal) TableName() string { return "area_signals" }
