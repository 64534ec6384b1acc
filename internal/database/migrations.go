package database

import (
	"fmt"

	"shamai/engine/internal/models"
)

// RunMigrations brings the schema up to date. AutoMigrate creates the
// tables and the composite unique indexes declared on the models; the
// supporting query indexes are added explicitly.
func (d *Database) RunMigrations() error {
	err := d.gormDB.AutoMigrate(
		&models.Listing{},
		&models.Transaction{},
		&models.CustomArea{},
		&models.AreaSignal{},
	)
	if err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_listings_coordinates ON listings(latitude, longitude)`,
		`CREATE INDEX IF NOT EXISTS idx_listings_period ON listings(first_seen_at, last_updated_at)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_coordinates ON transactions(latitude, longitude)`,
	}
	for _, stmt := range indexes {
		if err := d.gormDB.Exec(stmt).Error; err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	return nil
}
