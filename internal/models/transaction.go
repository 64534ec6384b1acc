package models

import "time"

// Outlier reason codes assigned by the classifier.
const (
	OutlierAssistedLiving = "assisted_living"
	OutlierPartialSale    = "partial_sale"
	OutlierMultipleBuyers = "multiple_buyers"
	OutlierReportingError = "reporting_error"
)

// Transaction is a closed, government-recorded sale. Immutable once recorded
// except for the outlier annotation, which the classifier may set after the fact.
type Transaction struct {
	ID         int64  `json:"id" gorm:"primaryKey"`
	ExternalID string `json:"external_id" gorm:"uniqueIndex"`

	AddressStreet string   `json:"address_street"`
	City          string   `json:"city" gorm:"index"`
	Neighborhood  string   `json:"neighborhood" gorm:"index"`
	Latitude      *float64 `json:"latitude"`
	Longitude     *float64 `json:"longitude"`

	Price    int64     `json:"price"` // always > 0
	SaleDate time.Time `json:"sale_date" gorm:"index"`

	PropertyType string   `json:"property_type"`
	Rooms        *float64 `json:"rooms"`
	SquareMeters *int     `json:"square_meters"`
	YearBuilt    *int     `json:"year_built"`
	Buyer        string   `json:"buyer"`

	IsOutlier         bool       `json:"is_outlier"`
	OutlierReason     string     `json:"outlier_reason"`
	OutlierDetectedAt *time.Time `json:"outlier_detected_at"`

	CreatedAt time.Time `json:"created_at"`
}

func (Transaction) TableName() string { return "transactions" }

// PricePerSqm returns the computed price-per-square-meter, or false when the
// floor area is missing or non-positive.
func (t *Transaction) PricePerSqm() (float64, bool) {
	if t.SquareMeters == nil || *t.SquareMeters <= 0 || t.Price <= 0 {
		return 0, false
	}
	return float64(t.Price) / float64(*t.SquareMeters), true
}
