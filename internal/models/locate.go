package models

import "github.com/paulmach/orb"

// Location returns the listing's geographic point, or false when the
// collection layer never geocoded it.
func (l *Listing) Location() (orb.Point, bool) {
	if l.Latitude == nil || l.Longitude == nil {
		return orb.Point{}, false
	}
	return orb.Point{*l.Longitude, *l.Latitude}, true
}

func (l *Listing) CityName() string         { return l.City }
func (l *Listing) NeighborhoodName() string { return l.Neighborhood }

// Location returns the transaction's geographic point, or false when absent.
func (t *Transaction) Location() (orb.Point, bool) {
	if t.Latitude == nil || t.Longitude == nil {
		return orb.Point{}, false
	}
	return orb.Point{*t.Longitude, *t.Latitude}, true
}

func (t *Transaction) CityName() string         { return t.City }
func (t *Transaction) NeighborhoodName() string { return t.Neighborhood }
