package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"shamai/engine/internal/models"
	"shamai/engine/internal/normalizer"
	"shamai/engine/internal/outliers"
)

// ErrSnapshotConflict reports an attempt to write a snapshot for a
// (area type, area name, listing type, period end) key that already has one.
// Snapshots are append-only; the conflict is reportable, never an overwrite.
var ErrSnapshotConflict = errors.New("snapshot already exists for key")

// Database is the SQLite store holding listings, transactions, custom areas
// and signal snapshots. Reads go through database/sql; writes and schema
// migration go through gorm.
type Database struct {
	sqlDB  *sql.DB
	gormDB *gorm.DB
	logger *logrus.Logger
}

func NewDatabase(dbPath string, logger *logrus.Logger) (*Database, error) {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}

	sqlDB, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := sqlDB.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	gormDB, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open gorm connection: %w", err)
	}

	return &Database{sqlDB: sqlDB, gormDB: gormDB, logger: logger}, nil
}

func (d *Database) Close() error {
	if gdb, err := d.gormDB.DB(); err == nil {
		gdb.Close()
	}
	return d.sqlDB.Close()
}

// Ping verifies the store is reachable. Engine runs abort when it is not.
func (d *Database) Ping(ctx context.Context) error {
	if err := d.sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("store unreachable: %w", err)
	}
	return nil
}

// GormDB exposes the write-side handle for the ingest processor's
// transactional batch upserts.
func (d *Database) GormDB() *gorm.DB {
	return d.gormDB
}

// areaPredicate returns the WHERE fragment and args scoping a query to one
// area key. Custom areas have no administrative name in the store; they
// select geolocated rows and the caller filters by polygon containment.
func areaPredicate(key models.AreaKey) (string, []interface{}) {
	switch key.Type {
	case models.AreaTypeCity:
		return "city = ?", []interface{}{key.Name}
	case models.AreaTypeNeighborhood:
		return "neighborhood = ?", []interface{}{key.Name}
	default:
		return "latitude IS NOT NULL AND longitude IS NOT NULL", nil
	}
}

// ActiveListings returns the listings in scope for one area, listing type
// and period: first seen within or before the period, and either still
// active or transitioned to a terminal status inside the period.
func (d *Database) ActiveListings(ctx context.Context, key models.AreaKey, listingType string, period models.Period) ([]models.Listing, error) {
	pred, args := areaPredicate(key)

	query := `
        SELECT id, source, external_id, listing_type, property_type,
               address_street, city, neighborhood, latitude, longitude,
               price_current, price_original, price_per_sqm,
               rooms, square_meters, status, days_on_market,
               construction_status, first_seen_at, last_updated_at
        FROM listings
        WHERE ` + pred + `
          AND first_seen_at <= ?
          AND (status = 'active' OR last_updated_at BETWEEN ? AND ?)
    `
	args = append(args, period.End, period.Start, period.End)

	if listingType != "" && listingType != models.ListingTypeAll {
		query += " AND listing_type = ?"
		args = append(args, listingType)
	}

	rows, err := d.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query listings: %w", err)
	}
	defer rows.Close()

	var listings []models.Listing
	for rows.Next() {
		var l models.Listing
		var propertyType, addressStreet, neighborhood, constructionStatus sql.NullString
		var lat, lon, ppsm sql.NullFloat64
		var priceCurrent, priceOriginal sql.NullInt64
		var rooms sql.NullFloat64
		var sqm sql.NullInt64

		err := rows.Scan(
			&l.ID, &l.Source, &l.ExternalID, &l.ListingType, &propertyType,
			&addressStreet, &l.City, &neighborhood, &lat, &lon,
			&priceCurrent, &priceOriginal, &ppsm,
			&rooms, &sqm, &l.Status, &l.DaysOnMarket,
			&constructionStatus, &l.FirstSeenAt, &l.LastUpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan listing: %w", err)
		}

		l.PropertyType = propertyType.String
		l.AddressStreet = addressStreet.String
		l.Neighborhood = neighborhood.String
		l.ConstructionStatus = constructionStatus.String
		if lat.Valid {
			l.Latitude = &lat.Float64
		}
		if lon.Valid {
			l.Longitude = &lon.Float64
		}
		if priceCurrent.Valid {
			l.PriceCurrent = &priceCurrent.Int64
		}
		if priceOriginal.Valid {
			l.PriceOriginal = &priceOriginal.Int64
		}
		if ppsm.Valid {
			l.PricePerSqm = &ppsm.Float64
		}
		if rooms.Valid {
			l.Rooms = &rooms.Float64
		}
		if sqm.Valid {
			n := int(sqm.Int64)
			l.SquareMeters = &n
		}
		listings = append(listings, l)
	}
	return listings, rows.Err()
}

// Transactions returns the period's sales for one area, flagged outliers
// included; the aggregator excludes them from price statistics but counts
// them in raw volume.
func (d *Database) Transactions(ctx context.Context, key models.AreaKey, period models.Period) ([]models.Transaction, error) {
	pred, args := areaPredicate(key)
	query := `
        SELECT id, external_id, address_street, city, neighborhood,
               latitude, longitude, price, sale_date, property_type,
               square_meters, buyer, is_outlier, outlier_reason, created_at
        FROM transactions
        WHERE ` + pred + ` AND sale_date BETWEEN ? AND ?
    `
	args = append(args, period.Start, period.End)
	return d.scanTransactions(ctx, query, args...)
}

// TrailingTransactions returns the non-outlier sales used to build trailing
// price distributions, over the given number of days ending at until.
func (d *Database) TrailingTransactions(ctx context.Context, key models.AreaKey, until time.Time, days int) ([]models.Transaction, error) {
	pred, args := areaPredicate(key)
	query := `
        SELECT id, external_id, address_street, city, neighborhood,
               latitude, longitude, price, sale_date, property_type,
               square_meters, buyer, is_outlier, outlier_reason, created_at
        FROM transactions
        WHERE ` + pred + ` AND sale_date BETWEEN ? AND ? AND is_outlier = 0
    `
	args = append(args, until.AddDate(0, 0, -days), until)
	return d.scanTransactions(ctx, query, args...)
}

func (d *Database) scanTransactions(ctx context.Context, query string, args ...interface{}) ([]models.Transaction, error) {
	rows, err := d.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var txs []models.Transaction
	for rows.Next() {
		var t models.Transaction
		var addressStreet, neighborhood, propertyType, buyer, reason sql.NullString
		var lat, lon sql.NullFloat64
		var sqm sql.NullInt64

		err := rows.Scan(
			&t.ID, &t.ExternalID, &addressStreet, &t.City, &neighborhood,
			&lat, &lon, &t.Price, &t.SaleDate, &propertyType,
			&sqm, &buyer, &t.IsOutlier, &reason, &t.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}

		t.AddressStreet = addressStreet.String
		t.Neighborhood = neighborhood.String
		t.PropertyType = propertyType.String
		t.Buyer = buyer.String
		t.OutlierReason = reason.String
		if lat.Valid {
			t.Latitude = &lat.Float64
		}
		if lon.Valid {
			t.Longitude = &lon.Float64
		}
		if sqm.Valid {
			n := int(sqm.Int64)
			t.SquareMeters = &n
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

// TrailingActiveAverage computes the moving average of active-listing counts
// over monthly buckets ending at until. Bucketing happens in Go because a
// listing counts toward every month its on-market interval overlaps.
func (d *Database) TrailingActiveAverage(ctx context.Context, key models.AreaKey, listingType string, months int, until time.Time) (float64, error) {
	pred, args := areaPredicate(key)
	since := until.AddDate(0, -months, 0)

	query := `
        SELECT first_seen_at, last_updated_at, status
        FROM listings
        WHERE ` + pred + ` AND first_seen_at <= ? AND (status = ? OR last_updated_at >= ?)
    `
	args = append(args, until, models.StatusActive, since)
	if listingType != "" && listingType != models.ListingTypeAll {
		query += " AND listing_type = ?"
		args = append(args, listingType)
	}

	rows, err := d.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to query listing intervals: %w", err)
	}
	defer rows.Close()

	type interval struct {
		from, to time.Time
		active   bool
	}
	var intervals []interval
	for rows.Next() {
		var iv interval
		var status string
		if err := rows.Scan(&iv.from, &iv.to, &status); err != nil {
			return 0, fmt.Errorf("failed to scan listing interval: %w", err)
		}
		iv.active = status == models.StatusActive
		intervals = append(intervals, iv)
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	var total int
	for m := 0; m < months; m++ {
		bucketEnd := until.AddDate(0, -m, 0)
		bucketStart := until.AddDate(0, -m-1, 0)
		for _, iv := range intervals {
			onMarketUntil := iv.to
			if iv.active {
				onMarketUntil = until
			}
			if iv.from.Before(bucketEnd) && !onMarketUntil.Before(bucketStart) {
				total++
			}
		}
	}
	return float64(total) / float64(months), nil
}

// CustomAreas returns every enabled user-drawn area.
func (d *Database) CustomAreas(ctx context.Context) ([]models.CustomArea, error) {
	var areas []models.CustomArea
	err := d.gormDB.WithContext(ctx).Where("enabled = ?", true).Find(&areas).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load custom areas: %w", err)
	}
	return areas, nil
}

// AdministrativeAreas returns the distinct neighborhood keys declared by the
// listings of the given cities.
func (d *Database) AdministrativeAreas(ctx context.Context, cities []string) ([]models.AreaKey, error) {
	if len(cities) == 0 {
		return nil, nil
	}
	placeholders := strings.Repeat("?,", len(cities))
	placeholders = placeholders[:len(placeholders)-1]

	query := `
        SELECT DISTINCT neighborhood
        FROM listings
        WHERE city IN (` + placeholders + `)
          AND neighborhood IS NOT NULL AND neighborhood != ''
    `
	args := make([]interface{}, len(cities))
	for i, c := range cities {
		args[i] = c
	}

	rows, err := d.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query neighborhoods: %w", err)
	}
	defer rows.Close()

	var keys []models.AreaKey
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan neighborhood: %w", err)
		}
		keys = append(keys, models.AreaKey{Type: models.AreaTypeNeighborhood, Name: name})
	}
	return keys, rows.Err()
}

// UpsertListings writes a merged batch keyed by (source, external id) inside
// the given transaction. New listings insert. A recurring listing is folded
// into its stored row with the same merge rules the normalizer applies
// within a batch, so the first-seen original price, fill-forward and frozen
// days-on-market invariants hold across scrape runs, not just within one.
// Returns how many listings were created vs updated.
func UpsertListings(tx *gorm.DB, listings []*models.Listing) (created, updated int, err error) {
	for _, l := range listings {
		var existing models.Listing
		err := tx.Where("source = ? AND external_id = ?", l.Source, l.ExternalID).First(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			if err := tx.Create(l).Error; err != nil {
				return created, updated, fmt.Errorf("failed to insert listing %s/%s: %w", l.Source, l.ExternalID, err)
			}
			created++
		case err != nil:
			return created, updated, fmt.Errorf("failed to look up listing %s/%s: %w", l.Source, l.ExternalID, err)
		default:
			merged, mergeErr := normalizer.Merge([]*models.Listing{&existing, l})
			if mergeErr != nil {
				return created, updated, fmt.Errorf("failed to merge listing %s/%s: %w", l.Source, l.ExternalID, mergeErr)
			}
			merged.ID = existing.ID
			merged.FirstSeenAt = existing.FirstSeenAt
			if err := tx.Model(&existing).Select("*").Omit("id").Updates(merged).Error; err != nil {
				return created, updated, fmt.Errorf("failed to update listing %s/%s: %w", l.Source, l.ExternalID, err)
			}
			updated++
		}
	}
	return created, updated, nil
}

// ApplyAnnotations persists classifier verdicts. Only the outlier columns
// mutate; the transaction rows are otherwise immutable.
func (d *Database) ApplyAnnotations(ctx context.Context, anns []outliers.Annotation) error {
	return d.gormDB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, ann := range anns {
			updates := map[string]interface{}{
				"is_outlier":     ann.Flagged,
				"outlier_reason": ann.Reason,
			}
			if ann.Flagged {
				updates["outlier_detected_at"] = ann.DetectedAt
			}
			err := tx.Model(&models.Transaction{}).Where("id = ?", ann.TransactionID).Updates(updates).Error
			if err != nil {
				return fmt.Errorf("failed to annotate transaction %d: %w", ann.TransactionID, err)
			}
		}
		return nil
	})
}

// InsertSnapshot appends one signal snapshot. A duplicate
// (area type, area name, listing type, period end) key returns
// ErrSnapshotConflict; existing rows are never touched.
func (d *Database) InsertSnapshot(ctx context.Context, snapshot *models.AreaSignal) error {
	err := d.gormDB.WithContext(ctx).Create(snapshot).Error
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) || strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return fmt.Errorf("%w: %s/%s/%s@%s", ErrSnapshotConflict,
			snapshot.AreaType, snapshot.AreaName, snapshot.ListingType,
			snapshot.PeriodEnd.Format("2006-01-02"))
	}
	return fmt.Errorf("failed to insert snapshot: %w", err)
}
