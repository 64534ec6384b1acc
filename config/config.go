package config

import (
	"fmt"

	"github.com/caarlos0/env/v6"
	"github.com/go-playground/validator/v10"
)

// Thresholds are the tunable rule parameters of the classifier layer and the
// trend calculator. They are configuration, not hardwired constants; an
// optional YAML file (LoadThresholdsFile) overrides the env defaults.
type Thresholds struct {
	// Price trend: 1-month change above/below these bounds (percent).
	PriceTrendUpPct   float64 `yaml:"price_trend_up_pct" env:"THRESHOLD_PRICE_TREND_UP" envDefault:"2.0"`
	PriceTrendDownPct float64 `yaml:"price_trend_down_pct" env:"THRESHOLD_PRICE_TREND_DOWN" envDefault:"-2.0"`

	// Sales velocity: median days-on-market bounds.
	FastDaysOnMarket float64 `yaml:"fast_days_on_market" env:"THRESHOLD_FAST_DOM" envDefault:"30" validate:"gt=0"`
	SlowDaysOnMarket float64 `yaml:"slow_days_on_market" env:"THRESHOLD_SLOW_DOM" envDefault:"90" validate:"gtfield=FastDaysOnMarket"`

	// Marketing intensity: current active count vs trailing moving average.
	AggressiveListingRatio float64 `yaml:"aggressive_listing_ratio" env:"THRESHOLD_AGGRESSIVE_RATIO" envDefault:"1.3" validate:"gt=1"`
	LowListingRatio        float64 `yaml:"low_listing_ratio" env:"THRESHOLD_LOW_RATIO" envDefault:"0.7" validate:"gt=0,lt=1"`

	// Trailing window (months) for the marketing-intensity moving average.
	IntensityWindowMonths int `yaml:"intensity_window_months" env:"THRESHOLD_INTENSITY_WINDOW" envDefault:"6" validate:"gte=1"`
}

type Config struct {
	Engine struct {
		// Path to the SQLite store holding listings, transactions and snapshots.
		DatabasePath string `env:"DATABASE_PATH" envDefault:"database/shamai.db"`

		// Number of area keys processed concurrently per run.
		Concurrency int `env:"ENGINE_CONCURRENCY" envDefault:"4" validate:"gte=1"`

		// Default calculation window length when the caller gives no period.
		PeriodDays int `env:"ENGINE_PERIOD_DAYS" envDefault:"30" validate:"gte=1"`

		// Default area scope and listing-type scope.
		Cities       []string `env:"CITIES" envSeparator:"," envDefault:"תל אביב,חיפה,ירושלים"`
		ListingTypes []string `env:"LISTING_TYPES" envSeparator:"," envDefault:"buy,rent,commercial,new_homes"`

		// Optional YAML file overriding the signal thresholds.
		ThresholdsFile string `env:"THRESHOLDS_FILE"`
	}

	Ingest struct {
		// Maximum number of listings to accumulate before processing.
		MaxBatchSize int `env:"INGEST_MAX_BATCH_SIZE" envDefault:"100" validate:"gte=1"`

		// Number of concurrent batch processors.
		ProcessorCount int `env:"INGEST_PROCESSOR_COUNT" envDefault:"2" validate:"gte=1"`

		// Maximum number of retries for failed batches.
		MaxRetries int `env:"INGEST_MAX_RETRIES" envDefault:"3"`

		// Delay between retries in seconds.
		RetryDelay int `env:"INGEST_RETRY_DELAY" envDefault:"5"`
	}

	Outliers struct {
		// Partial-sale rule: price below this fraction of the expected
		// full-unit price (trailing median price-per-sqm × floor area).
		PartialSaleFraction float64 `env:"OUTLIER_PARTIAL_FRACTION" envDefault:"0.4" validate:"gt=0,lt=1"`

		// Reporting-error rule: standard deviations from the trailing mean.
		SigmaThreshold float64 `env:"OUTLIER_SIGMA" envDefault:"3.0" validate:"gt=0"`

		// Trailing window (days) for area price distributions.
		TrailingDays int `env:"OUTLIER_TRAILING_DAYS" envDefault:"90" validate:"gte=1"`

		// Substrings marking assisted-living / elder-care facilities.
		AssistedLivingMarkers []string `env:"OUTLIER_ASSISTED_MARKERS" envSeparator:"," envDefault:"דיור מוגן,בית אבות,assisted living,senior living,retirement home"`
	}

	Signals Thresholds
}

// LoadConfig parses the environment, overlays the optional thresholds file,
// and validates the result.
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	if cfg.Engine.ThresholdsFile != "" {
		if err := LoadThresholdsFile(cfg.Engine.ThresholdsFile, &cfg.Signals); err != nil {
			return nil, err
		}
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
