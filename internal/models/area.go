package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// AreaType identifies how an area is defined.
type AreaType string

const (
	AreaTypeCity         AreaType = "city"
	AreaTypeNeighborhood AreaType = "neighborhood"
	AreaTypeCustom       AreaType = "custom"
)

// AreaKey identifies one aggregation scope. For city and neighborhood areas
// the name is the administrative name; for custom areas it is the polygon's
// user-assigned name.
type AreaKey struct {
	Type AreaType `json:"type"`
	Name string   `json:"name"`
}

func (k AreaKey) String() string {
	return fmt.Sprintf("%s:%s", k.Type, k.Name)
}

// CustomArea is a user-drawn polygon with saved filter preferences. The
// engine only reads these; mutation belongs to the owning user's surface.
type CustomArea struct {
	ID            int64      `json:"id" gorm:"primaryKey"`
	OwnerID       string     `json:"owner_id" gorm:"index"`
	Name          string     `json:"name"`
	Geometry      string     `json:"geometry" gorm:"type:text"` // GeoJSON Polygon
	Filters       FeatureBag `json:"filters" gorm:"type:text"`
	AlertsEnabled bool       `json:"alerts_enabled"`
	Enabled       bool       `json:"enabled"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func (CustomArea) TableName() string { return "custom_areas" }

// Polygon decodes the stored GeoJSON geometry.
func (a *CustomArea) Polygon() (orb.Polygon, error) {
	geom, err := geojson.UnmarshalGeometry([]byte(a.Geometry))
	if err != nil {
		return nil, fmt.Errorf("failed to parse area %q geometry: %w", a.Name, err)
	}
	poly, ok := geom.Geometry().(orb.Polygon)
	if !ok {
		return nil, fmt.Errorf("area %q geometry is %s, want Polygon", a.Name, geom.Type)
	}
	return poly, nil
}

// EncodePolygon is the write-side counterpart used by fixtures and the
// surfaces that create custom areas.
func EncodePolygon(poly orb.Polygon) (string, error) {
	data, err := json.Marshal(geojson.NewGeometry(poly))
	if err != nil {
		return "", fmt.Errorf("failed to encode polygon: %w", err)
	}
	return string(data), nil
}
