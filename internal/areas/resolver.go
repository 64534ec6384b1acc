package areas

import (
	"os"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/sirupsen/logrus"

	"shamai/engine/internal/models"
)

// Locatable is any record the resolver can map to area identities.
// Both listings and transactions satisfy it.
type Locatable interface {
	Location() (orb.Point, bool)
	CityName() string
	NeighborhoodName() string
}

type customPolygon struct {
	key     models.AreaKey
	polygon orb.Polygon
}

// Resolver maps records to zero or more area identities: administrative
// names used as direct text keys, plus geometric containment against every
// enabled custom area.
type Resolver struct {
	custom []customPolygon
	logger *logrus.Logger
}

// NewResolver decodes the enabled custom-area polygons. Areas with broken
// geometry are skipped and logged, not fatal.
func NewResolver(custom []models.CustomArea, logger *logrus.Logger) *Resolver {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}

	r := &Resolver{logger: logger}
	for i := range custom {
		area := &custom[i]
		if !area.Enabled {
			continue
		}
		poly, err := area.Polygon()
		if err != nil {
			logger.WithError(err).WithField("area", area.Name).Warn("Skipping custom area with invalid geometry")
			continue
		}
		r.custom = append(r.custom, customPolygon{
			key:     models.AreaKey{Type: models.AreaTypeCustom, Name: area.Name},
			polygon: poly,
		})
	}
	return r
}

// Resolve returns every area the record belongs to. Neighborhood and city
// names become text keys when present; the point is tested against each
// custom polygon. A record may match multiple custom areas at once. Records
// without a coordinate are excluded from geo-scoped areas only.
func (r *Resolver) Resolve(rec Locatable) []models.AreaKey {
	var keys []models.AreaKey

	if name := rec.NeighborhoodName(); name != "" {
		keys = append(keys, models.AreaKey{Type: models.AreaTypeNeighborhood, Name: name})
	}
	if name := rec.CityName(); name != "" {
		keys = append(keys, models.AreaKey{Type: models.AreaTypeCity, Name: name})
	}

	point, ok := rec.Location()
	if !ok {
		return keys
	}

	for _, c := range r.custom {
		// planar containment treats points on the boundary as inside,
		// so edge properties are never silently dropped.
		if planar.PolygonContains(c.polygon, point) {
			keys = append(keys, c.key)
		}
	}
	return keys
}

// Contains reports whether a record falls inside the named custom area.
// Used when filtering geo-queried records down to one custom-area scope.
func (r *Resolver) Contains(name string, rec Locatable) bool {
	point, ok := rec.Location()
	if !ok {
		return false
	}
	for _, c := range r.custom {
		if c.key.Name == name {
			return planar.PolygonContains(c.polygon, point)
		}
	}
	return false
}

// CustomKeys lists the area keys of every usable custom area.
func (r *Resolver) CustomKeys() []models.AreaKey {
	keys := make([]models.AreaKey, len(r.custom))
	for i, c := range r.custom {
		keys[i] = c.key
	}
	return keys
}
