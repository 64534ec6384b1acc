package models

import "time"

// Listing sources as reported by the collection layer.
const (
	SourceOnMap  = "onmap"
	SourceYad2   = "yad2"
	SourceMadlan = "madlan"
	SourceGov    = "gov"
)

// Listing types.
const (
	ListingTypeBuy        = "buy"
	ListingTypeRent       = "rent"
	ListingTypeCommercial = "commercial"
	ListingTypeNewHomes   = "new_homes"
	ListingTypeAll        = "all"
)

// Listing statuses.
const (
	StatusActive  = "active"
	StatusSold    = "sold"
	StatusRented  = "rented"
	StatusRemoved = "removed"
)

// Listing is a currently-or-formerly active property offer, merged across
// scrape runs of the same source listing. (Source, ExternalID) is unique.
type Listing struct {
	ID         int64  `json:"id" gorm:"primaryKey"`
	Source     string `json:"source" gorm:"uniqueIndex:idx_listings_source_external"`
	ExternalID string `json:"external_id" gorm:"uniqueIndex:idx_listings_source_external"`

	ListingType  string `json:"listing_type"`
	PropertyType string `json:"property_type"`

	AddressStreet string   `json:"address_street"`
	City          string   `json:"city" gorm:"index"`
	Neighborhood  string   `json:"neighborhood" gorm:"index"`
	Latitude      *float64 `json:"latitude"`
	Longitude     *float64 `json:"longitude"`

	PriceCurrent  *int64   `json:"price_current"`
	PriceOriginal *int64   `json:"price_original"`
	Currency      string   `json:"currency"`
	PricePerSqm   *float64 `json:"price_per_sqm"`

	Rooms          *float64 `json:"rooms"`
	SquareMeters   *int     `json:"square_meters"`
	Floor          *int     `json:"floor"`
	BuildingFloors *int     `json:"building_floors"`
	YearBuilt      *int     `json:"year_built"`
	ParkingSpots   int      `json:"parking_spots"`

	Features           FeatureBag `json:"features" gorm:"type:text"`
	ConstructionStatus string     `json:"construction_status"`
	ListingURL         string     `json:"listing_url"`

	AgentName  string `json:"agent_name"`
	AgentPhone string `json:"agent_phone"`
	AgentEmail string `json:"agent_email"`

	Status       string `json:"status"`
	DaysOnMarket int    `json:"days_on_market"`

	ScrapedAt     time.Time `json:"scraped_at"`
	FirstSeenAt   time.Time `json:"first_seen_at"`
	LastUpdatedAt time.Time `json:"last_updated_at"`
}

func (Listing) TableName() string { return "listings" }

// Terminal reports whether the listing has left the market. Once terminal,
// days-on-market is frozen and later observations no longer advance it.
func (l *Listing) Terminal() bool {
	switch l.Status {
	case StatusSold, StatusRented, StatusRemoved:
		return true
	}
	return false
}

// RecomputePricePerSqm derives price-per-square-meter from the current price
// and floor area. It is never stored independently: the field is cleared
// whenever either input is missing or non-positive.
func (l *Listing) RecomputePricePerSqm() {
	if l.PriceCurrent == nil || l.SquareMeters == nil || *l.PriceCurrent <= 0 || *l.SquareMeters <= 0 {
		l.PricePerSqm = nil
		return
	}
	v := float64(*l.PriceCurrent) / float64(*l.SquareMeters)
	l.PricePerSqm = &v
}
