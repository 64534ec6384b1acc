package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shamai/engine/internal/models"
	"shamai/engine/internal/outliers"
)

func testDatabase(t *testing.T) *Database {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	// Both handles must share one file; :memory: would open two databases.
	db, err := NewDatabase(filepath.Join(t.TempDir(), "engine.db"), logger)
	require.NoError(t, err)
	require.NoError(t, db.RunMigrations())
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func storedListing(externalID, city, neighborhood, status string, firstSeen, lastUpdated time.Time) *models.Listing {
	price := int64(2_000_000)
	return &models.Listing{
		Source:        models.SourceYad2,
		ExternalID:    externalID,
		ListingType:   models.ListingTypeBuy,
		City:          city,
		Neighborhood:  neighborhood,
		PriceCurrent:  &price,
		Status:        status,
		FirstSeenAt:   firstSeen,
		LastUpdatedAt: lastUpdated,
		ScrapedAt:     lastUpdated,
	}
}

func storedTx(externalID, city string, price int64, saleDate time.Time, outlier bool) *models.Transaction {
	area := 100
	return &models.Transaction{
		ExternalID:   externalID,
		City:         city,
		PropertyType: "apartment",
		Price:        price,
		SquareMeters: &area,
		SaleDate:     saleDate,
		IsOutlier:    outlier,
		CreatedAt:    saleDate,
	}
}

func TestInsertSnapshotConflict(t *testing.T) {
	db := testDatabase(t)
	ctx := context.Background()
	periodEnd := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)

	snap := func(end time.Time) *models.AreaSignal {
		return &models.AreaSignal{
			AreaType:    models.AreaTypeCity,
			AreaName:    "תל אביב",
			ListingType: models.ListingTypeBuy,
			MedianPrice: 2_000_000,
			PeriodStart: end.AddDate(0, 0, -30),
			PeriodEnd:   end,
			CreatedAt:   time.Now(),
		}
	}

	require.NoError(t, db.InsertSnapshot(ctx, snap(periodEnd)))

	err := db.InsertSnapshot(ctx, snap(periodEnd))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSnapshotConflict)

	// A new period end is a new row, never an overwrite.
	assert.NoError(t, db.InsertSnapshot(ctx, snap(periodEnd.AddDate(0, 1, 0))))
}

func TestActiveListingsScoping(t *testing.T) {
	db := testDatabase(t)
	ctx := context.Background()

	period := models.Period{
		Start: time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC),
	}
	inPeriod := time.Date(2026, 6, 15, 0, 0, 0, 0, time.UTC)
	longAgo := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)

	require.NoError(t, db.GormDB().Create([]*models.Listing{
		storedListing("active", "תל אביב", "פלורנטין", models.StatusActive, longAgo, inPeriod),
		storedListing("sold-in-period", "תל אביב", "", models.StatusSold, longAgo, inPeriod),
		storedListing("sold-long-ago", "תל אביב", "", models.StatusSold, longAgo, longAgo),
		storedListing("other-city", "חיפה", "", models.StatusActive, longAgo, inPeriod),
		storedListing("seen-later", "תל אביב", "", models.StatusActive, period.End.AddDate(0, 0, 7), period.End.AddDate(0, 0, 7)),
	}).Error)

	got, err := db.ActiveListings(ctx, models.AreaKey{Type: models.AreaTypeCity, Name: "תל אביב"}, models.ListingTypeBuy, period)
	require.NoError(t, err)

	ids := make([]string, len(got))
	for i, l := range got {
		ids[i] = l.ExternalID
	}
	assert.ElementsMatch(t, []string{"active", "sold-in-period"}, ids)

	neighborhoodKey := models.AreaKey{Type: models.AreaTypeNeighborhood, Name: "פלורנטין"}
	got, err = db.ActiveListings(ctx, neighborhoodKey, models.ListingTypeBuy, period)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "active", got[0].ExternalID)
}

func TestTransactionsIncludeOutliersTrailingExcludesThem(t *testing.T) {
	db := testDatabase(t)
	ctx := context.Background()
	key := models.AreaKey{Type: models.AreaTypeCity, Name: "תל אביב"}

	period := models.Period{
		Start: time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, db.GormDB().Create([]*models.Transaction{
		storedTx("clean", "תל אביב", 2_000_000, time.Date(2026, 6, 10, 0, 0, 0, 0, time.UTC), false),
		storedTx("flagged", "תל אביב", 200_000_000, time.Date(2026, 6, 12, 0, 0, 0, 0, time.UTC), true),
		storedTx("stale", "תל אביב", 2_100_000, time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC), false),
	}).Error)

	txs, err := db.Transactions(ctx, key, period)
	require.NoError(t, err)
	assert.Len(t, txs, 2, "period reads include flagged outliers")

	trailing, err := db.TrailingTransactions(ctx, key, period.End, 90)
	require.NoError(t, err)
	require.Len(t, trailing, 1, "distribution reads exclude outliers and out-of-window sales")
	assert.Equal(t, "clean", trailing[0].ExternalID)
}

func TestApplyAnnotationsPersistsVerdicts(t *testing.T) {
	db := testDatabase(t)
	ctx := context.Background()

	tx := storedTx("tx-1", "תל אביב", 500_000, time.Date(2026, 6, 10, 0, 0, 0, 0, time.UTC), false)
	require.NoError(t, db.GormDB().Create(tx).Error)

	detected := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, db.ApplyAnnotations(ctx, []outliers.Annotation{{
		TransactionID: tx.ID,
		Flagged:       true,
		Reason:        models.OutlierPartialSale,
		DetectedAt:    detected,
	}}))

	var stored models.Transaction
	require.NoError(t, db.GormDB().First(&stored, tx.ID).Error)
	assert.True(t, stored.IsOutlier)
	assert.Equal(t, models.OutlierPartialSale, stored.OutlierReason)
	require.NotNil(t, stored.OutlierDetectedAt)
	assert.True(t, stored.OutlierDetectedAt.Equal(detected))
}

func TestAdministrativeAreas(t *testing.T) {
	db := testDatabase(t)
	ctx := context.Background()
	t0 := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, db.GormDB().Create([]*models.Listing{
		storedListing("a", "תל אביב", "פלורנטין", models.StatusActive, t0, t0),
		storedListing("b", "תל אביב", "פלורנטין", models.StatusActive, t0, t0),
		storedListing("c", "תל אביב", "נווה צדק", models.StatusActive, t0, t0),
		storedListing("d", "חיפה", "הדר", models.StatusActive, t0, t0),
		storedListing("e", "תל אביב", "", models.StatusActive, t0, t0),
	}).Error)

	keys, err := db.AdministrativeAreas(ctx, []string{"תל אביב"})
	require.NoError(t, err)

	names := make([]string, len(keys))
	for i, k := range keys {
		assert.Equal(t, models.AreaTypeNeighborhood, k.Type)
		names[i] = k.Name
	}
	assert.ElementsMatch(t, []string{"פלורנטין", "נווה צדק"}, names)
}

func TestCustomAreasOnlyEnabled(t *testing.T) {
	db := testDatabase(t)
	ctx := context.Background()

	require.NoError(t, db.GormDB().Create([]*models.CustomArea{
		{Name: "on", Geometry: `{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,1],[0,0]]]}`, Enabled: true},
		{Name: "off", Geometry: `{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,1],[0,0]]]}`, Enabled: false},
	}).Error)

	areas, err := db.CustomAreas(ctx)
	require.NoError(t, err)
	require.Len(t, areas, 1)
	assert.Equal(t, "on", areas[0].Name)
}

func TestTrailingActiveAverage(t *testing.T) {
	db := testDatabase(t)
	ctx := context.Background()

	until := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	seen := until.AddDate(0, -8, 0)
	stale := until.AddDate(0, -7, 0)

	require.NoError(t, db.GormDB().Create([]*models.Listing{
		storedListing("a", "תל אביב", "", models.StatusActive, seen, until.AddDate(0, 0, -1)),
		storedListing("b", "תל אביב", "", models.StatusActive, seen, until.AddDate(0, 0, -1)),
		// Active but last touched before the six-month window opened. It
		// is still on the market, so it counts in every bucket.
		storedListing("stale-active", "תל אביב", "", models.StatusActive, seen, stale),
		// Sold before the window opened stays out entirely.
		storedListing("stale-sold", "תל אביב", "", models.StatusSold, seen, stale),
	}).Error)

	avg, err := db.TrailingActiveAverage(ctx, models.AreaKey{Type: models.AreaTypeCity, Name: "תל אביב"}, models.ListingTypeBuy, 6, until)
	require.NoError(t, err)
	assert.InDelta(t, 3.0, avg, 0.001, "three still-active listings count in every monthly bucket")
}

func TestUpsertListingsMergesAcrossRuns(t *testing.T) {
	db := testDatabase(t)

	observe := func(price int64, scrapedAt time.Time, mutate func(*models.Listing)) *models.Listing {
		sqm := 90
		l := &models.Listing{
			Source:        models.SourceYad2,
			ExternalID:    "recurring",
			ListingType:   models.ListingTypeBuy,
			City:          "תל אביב",
			Neighborhood:  "פלורנטין",
			PriceCurrent:  &price,
			SquareMeters:  &sqm,
			Status:        models.StatusActive,
			DaysOnMarket:  10,
			ScrapedAt:     scrapedAt,
			FirstSeenAt:   scrapedAt,
			LastUpdatedAt: scrapedAt,
		}
		if mutate != nil {
			mutate(l)
		}
		return l
	}
	upsert := func(l *models.Listing) {
		t.Helper()
		_, _, err := UpsertListings(db.GormDB(), []*models.Listing{l})
		require.NoError(t, err)
	}
	stored := func() models.Listing {
		t.Helper()
		var l models.Listing
		require.NoError(t, db.GormDB().Where("source = ? AND external_id = ?", models.SourceYad2, "recurring").First(&l).Error)
		return l
	}

	day1 := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	upsert(observe(2_000_000, day1, nil))
	first := stored()
	assert.Nil(t, first.PriceOriginal)

	// A later run reduces the price and transiently omits fields the
	// scraper saw before. The stored row keeps them and pins the price it
	// was first listed at.
	upsert(observe(1_800_000, day1.AddDate(0, 0, 7), func(l *models.Listing) {
		l.Neighborhood = ""
		l.SquareMeters = nil
		l.DaysOnMarket = 17
	}))
	second := stored()
	require.NotNil(t, second.PriceOriginal)
	assert.Equal(t, int64(2_000_000), *second.PriceOriginal)
	require.NotNil(t, second.PriceCurrent)
	assert.Equal(t, int64(1_800_000), *second.PriceCurrent)
	assert.Equal(t, "פלורנטין", second.Neighborhood)
	require.NotNil(t, second.SquareMeters)
	assert.Equal(t, 90, *second.SquareMeters)
	assert.Equal(t, 17, second.DaysOnMarket)
	assert.Equal(t, first.FirstSeenAt, second.FirstSeenAt)

	// A second reduction leaves the pinned original price untouched, and
	// selling the listing freezes days-on-market.
	upsert(observe(1_700_000, day1.AddDate(0, 0, 21), func(l *models.Listing) {
		l.Status = models.StatusSold
		l.DaysOnMarket = 31
	}))
	upsert(observe(1_700_000, day1.AddDate(0, 0, 60), func(l *models.Listing) {
		l.Status = models.StatusSold
		l.DaysOnMarket = 70
	}))
	final := stored()
	require.NotNil(t, final.PriceOriginal)
	assert.Equal(t, int64(2_000_000), *final.PriceOriginal)
	assert.Equal(t, models.StatusSold, final.Status)
	assert.Equal(t, 31, final.DaysOnMarket)
}
