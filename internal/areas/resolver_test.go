package areas

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shamai/engine/internal/models"
)

func customArea(t *testing.T, name string, ring orb.Ring) models.CustomArea {
	t.Helper()
	geom, err := models.EncodePolygon(orb.Polygon{ring})
	require.NoError(t, err)
	return models.CustomArea{Name: name, Geometry: geom, Enabled: true}
}

func unitSquare(t *testing.T, name string) models.CustomArea {
	return customArea(t, name, orb.Ring{
		{0, 0}, {1, 0}, {1, 1}, {0, 1}, {0, 0},
	})
}

func listingAt(lat, lon float64) *models.Listing {
	return &models.Listing{
		City:         "תל אביב",
		Neighborhood: "פלורנטין",
		Latitude:     &lat,
		Longitude:    &lon,
	}
}

func TestResolveTextKeys(t *testing.T) {
	r := NewResolver(nil, nil)

	keys := r.Resolve(&models.Listing{City: "חיפה", Neighborhood: "הדר"})
	assert.Equal(t, []models.AreaKey{
		{Type: models.AreaTypeNeighborhood, Name: "הדר"},
		{Type: models.AreaTypeCity, Name: "חיפה"},
	}, keys)
}

func TestResolveCityOnlyWhenNeighborhoodMissing(t *testing.T) {
	r := NewResolver(nil, nil)

	keys := r.Resolve(&models.Listing{City: "חיפה"})
	assert.Equal(t, []models.AreaKey{{Type: models.AreaTypeCity, Name: "חיפה"}}, keys)
}

func TestResolveCustomContainment(t *testing.T) {
	r := NewResolver([]models.CustomArea{unitSquare(t, "downtown")}, nil)

	keys := r.Resolve(listingAt(0.5, 0.5))
	assert.Contains(t, keys, models.AreaKey{Type: models.AreaTypeCustom, Name: "downtown"})

	keys = r.Resolve(listingAt(2.0, 2.0))
	assert.NotContains(t, keys, models.AreaKey{Type: models.AreaTypeCustom, Name: "downtown"})
}

func TestResolveBoundaryIsInclusive(t *testing.T) {
	r := NewResolver([]models.CustomArea{unitSquare(t, "downtown")}, nil)

	// Point exactly on an edge, and exactly on a vertex.
	for _, l := range []*models.Listing{listingAt(0.5, 0), listingAt(0, 0)} {
		keys := r.Resolve(l)
		assert.Contains(t, keys, models.AreaKey{Type: models.AreaTypeCustom, Name: "downtown"},
			"boundary points are contained")
	}
}

func TestResolveMultipleCustomMatches(t *testing.T) {
	overlapping := customArea(t, "wide", orb.Ring{
		{-1, -1}, {2, -1}, {2, 2}, {-1, 2}, {-1, -1},
	})
	r := NewResolver([]models.CustomArea{unitSquare(t, "downtown"), overlapping}, nil)

	keys := r.Resolve(listingAt(0.5, 0.5))
	assert.Contains(t, keys, models.AreaKey{Type: models.AreaTypeCustom, Name: "downtown"})
	assert.Contains(t, keys, models.AreaKey{Type: models.AreaTypeCustom, Name: "wide"})
}

func TestResolveNoCoordinateKeepsTextKeys(t *testing.T) {
	r := NewResolver([]models.CustomArea{unitSquare(t, "downtown")}, nil)

	keys := r.Resolve(&models.Listing{City: "תל אביב", Neighborhood: "פלורנטין"})
	assert.Len(t, keys, 2, "text keys survive a missing coordinate")
	assert.NotContains(t, keys, models.AreaKey{Type: models.AreaTypeCustom, Name: "downtown"})
}

func TestResolverSkipsDisabledAndBrokenAreas(t *testing.T) {
	disabled := unitSquare(t, "off")
	disabled.Enabled = false
	broken := models.CustomArea{Name: "broken", Geometry: "{not json", Enabled: true}

	r := NewResolver([]models.CustomArea{disabled, broken, unitSquare(t, "ok")}, nil)
	assert.Equal(t, []models.AreaKey{{Type: models.AreaTypeCustom, Name: "ok"}}, r.CustomKeys())
}

func TestContains(t *testing.T) {
	r := NewResolver([]models.CustomArea{unitSquare(t, "downtown")}, nil)

	assert.True(t, r.Contains("downtown", listingAt(0.25, 0.75)))
	assert.False(t, r.Contains("downtown", listingAt(5, 5)))
	assert.False(t, r.Contains("elsewhere", listingAt(0.5, 0.5)))
	assert.False(t, r.Contains("downtown", &models.Listing{City: "x"}), "no coordinate never matches")
}
