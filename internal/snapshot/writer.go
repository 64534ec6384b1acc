package snapshot

import (
	"context"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"shamai/engine/internal/aggregate"
	"shamai/engine/internal/models"
	"shamai/engine/internal/trends"
)

// Store is the append-only snapshot sink. A write for an existing
// (area type, area name, listing type, period end) key must fail with a
// conflict error instead of overwriting.
type Store interface {
	InsertSnapshot(ctx context.Context, snapshot *models.AreaSignal) error
}

// WriteFailure records one snapshot that could not be persisted. One area's
// failure never aborts its siblings.
type WriteFailure struct {
	Area        models.AreaKey
	ListingType string
	Err         error
}

// Writer persists assembled snapshots.
type Writer struct {
	store  Store
	logger *logrus.Logger
}

func NewWriter(store Store, logger *logrus.Logger) *Writer {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}
	return &Writer{store: store, logger: logger}
}

// Build assembles one immutable AreaSignal from the pipeline's outputs.
func Build(key models.AreaKey, listingType string, agg aggregate.Aggregation, tr trends.Trends, sigs models.SignalSet, now time.Time) *models.AreaSignal {
	return &models.AreaSignal{
		AreaType:    key.Type,
		AreaName:    key.Name,
		ListingType: listingType,

		MeanPrice:         agg.MeanPrice,
		MedianPrice:       agg.MedianPrice,
		MinPrice:          agg.MinPrice,
		MaxPrice:          agg.MaxPrice,
		MeanPricePerSqm:   agg.MeanPricePerSqm,
		MedianPricePerSqm: agg.MedianPricePerSqm,

		ActiveListings:     agg.ActiveListings,
		TransactionCount:   agg.TransactionCount,
		MonthlySalesVolume: agg.MonthlySalesVolume,

		MeanDaysOnMarket:   agg.MeanDaysOnMarket,
		MedianDaysOnMarket: agg.MedianDaysOnMarket,
		InventoryMonths:    agg.InventoryMonths,

		Change1Month:  tr.Change1Month,
		Change3Months: tr.Change3Months,
		Change1Year:   tr.Change1Year,

		PriceTrend:         sigs.PriceTrend,
		SalesVelocity:      sigs.SalesVelocity,
		MarketingIntensity: sigs.MarketingIntensity,
		MarketStatus:       sigs.MarketStatus,

		NewVsUsedRatio:    agg.NewVsUsedRatio,
		OutlierPercentage: agg.OutlierPercentage,

		PeriodStart: agg.Period.Start,
		PeriodEnd:   agg.Period.End,
		CreatedAt:   now,
	}
}

// Write persists each snapshot, returning the written count and per-area
// failures. Partial success is expected.
func (w *Writer) Write(ctx context.Context, snapshots []*models.AreaSignal) (int, []WriteFailure) {
	written := 0
	var failures []WriteFailure
	for _, s := range snapshots {
		if err := w.store.InsertSnapshot(ctx, s); err != nil {
			w.logger.WithError(err).WithFields(logrus.Fields{
				"area_type":    s.AreaType,
				"area_name":    s.AreaName,
				"listing_type": s.ListingType,
			}).Warn("Failed to write snapshot")
			failures = append(failures, WriteFailure{
				Area:        models.AreaKey{Type: s.AreaType, Name: s.AreaName},
				ListingType: s.ListingType,
				Err:         err,
			})
			continue
		}
		written++
	}
	return written, failures
}
