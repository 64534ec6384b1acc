package normalizer

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/sirupsen/logrus"

	"shamai/engine/internal/models"
)

var ErrEmptyGroup = errors.New("no records to merge")

// Rejection reports a record group that cannot be area-resolved and was
// dropped from the batch. Rejections are counted, never fatal.
type Rejection struct {
	Source     string `json:"source"`
	ExternalID string `json:"external_id"`
	Reason     string `json:"reason"`
}

// mergeState tracks the per-external-id lifecycle:
// unseen → active → (price-updated | status-changed)* → terminal.
type mergeState int

const (
	stateUnseen mergeState = iota
	stateActive
	stateTerminal
)

// Normalizer merges raw scraped records that share (source, external id)
// into one logical listing per source listing.
type Normalizer struct {
	logger *logrus.Logger
}

func New(logger *logrus.Logger) *Normalizer {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}
	return &Normalizer{logger: logger}
}

// Normalize partitions a raw batch by (source, external id), merges each
// group, and rejects merged listings that are missing the city or listing
// type needed for area resolution.
func (n *Normalizer) Normalize(records []*models.Listing) ([]*models.Listing, []Rejection) {
	groups := make(map[string][]*models.Listing)
	var order []string
	for _, rec := range records {
		key := rec.Source + "|" + rec.ExternalID
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], rec)
	}

	merged := make([]*models.Listing, 0, len(groups))
	var rejected []Rejection
	for _, key := range order {
		group := groups[key]
		listing, err := Merge(group)
		if err != nil {
			n.logger.WithError(err).WithField("key", key).Error("Failed to merge record group")
			continue
		}

		if reason := validate(listing); reason != "" {
			n.logger.WithFields(logrus.Fields{
				"source":      listing.Source,
				"external_id": listing.ExternalID,
				"reason":      reason,
			}).Warn("Rejected unresolvable record")
			rejected = append(rejected, Rejection{
				Source:     listing.Source,
				ExternalID: listing.ExternalID,
				Reason:     reason,
			})
			continue
		}
		merged = append(merged, listing)
	}
	return merged, rejected
}

// Merge folds a group of raw records sharing (source, external id) into one
// listing, oldest first. The newest record's mutable fields win; fields the
// newest record omits are filled forward from older observations. The first
// observed price reduction preserves the prior price as the original price;
// later reductions leave it untouched. Entering a terminal status freezes
// days-on-market.
func Merge(records []*models.Listing) (*models.Listing, error) {
	if len(records) == 0 {
		return nil, ErrEmptyGroup
	}

	sorted := make([]*models.Listing, len(records))
	copy(sorted, records)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].ScrapedAt.Before(sorted[j].ScrapedAt)
	})

	first := sorted[0]
	cur := *first
	cur.FirstSeenAt = first.ScrapedAt
	cur.LastUpdatedAt = first.ScrapedAt

	state := stateUnseen
	state = transition(state, &cur)

	for _, rec := range sorted[1:] {
		if rec.Source != cur.Source || rec.ExternalID != cur.ExternalID {
			return nil, fmt.Errorf("mixed record group: %s/%s vs %s/%s",
				cur.Source, cur.ExternalID, rec.Source, rec.ExternalID)
		}
		apply(&cur, rec, state)
		state = transition(state, &cur)
	}

	cur.RecomputePricePerSqm()
	return &cur, nil
}

// transition advances the lifecycle state from the listing's current status.
func transition(state mergeState, l *models.Listing) mergeState {
	if state == stateTerminal {
		return stateTerminal
	}
	if l.Terminal() {
		return stateTerminal
	}
	return stateActive
}

// apply folds one newer observation into the accumulated listing.
func apply(cur *models.Listing, rec *models.Listing, state mergeState) {
	// First observed reduction preserves the original asking price.
	if rec.PriceCurrent != nil && cur.PriceCurrent != nil &&
		*rec.PriceCurrent < *cur.PriceCurrent && cur.PriceOriginal == nil {
		orig := *cur.PriceCurrent
		cur.PriceOriginal = &orig
	}
	if rec.PriceCurrent != nil {
		cur.PriceCurrent = rec.PriceCurrent
	}

	if rec.Status != "" {
		cur.Status = rec.Status
	}

	// Days-on-market is frozen once the listing left the market.
	if state != stateTerminal {
		if rec.DaysOnMarket > cur.DaysOnMarket {
			cur.DaysOnMarket = rec.DaysOnMarket
		}
	}

	// Fill-forward: scrapers omit fields transiently, so a null in the
	// newest record never clears an older value.
	fillStrings(cur, rec)
	fillNumbers(cur, rec)

	if rec.Features != nil {
		if cur.Features == nil {
			cur.Features = models.FeatureBag{}
		}
		for k, v := range rec.Features {
			cur.Features[k] = v
		}
	}

	if rec.ScrapedAt.After(cur.LastUpdatedAt) {
		cur.LastUpdatedAt = rec.ScrapedAt
		cur.ScrapedAt = rec.ScrapedAt
	}
}

func fillStrings(cur, rec *models.Listing) {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&cur.ListingType, rec.ListingType)
	set(&cur.PropertyType, rec.PropertyType)
	set(&cur.AddressStreet, rec.AddressStreet)
	set(&cur.City, rec.City)
	set(&cur.Neighborhood, rec.Neighborhood)
	set(&cur.Currency, rec.Currency)
	set(&cur.ConstructionStatus, rec.ConstructionStatus)
	set(&cur.ListingURL, rec.ListingURL)
	set(&cur.AgentName, rec.AgentName)
	set(&cur.AgentPhone, rec.AgentPhone)
	set(&cur.AgentEmail, rec.AgentEmail)
}

func fillNumbers(cur, rec *models.Listing) {
	if rec.Latitude != nil {
		cur.Latitude = rec.Latitude
	}
	if rec.Longitude != nil {
		cur.Longitude = rec.Longitude
	}
	if rec.Rooms != nil {
		cur.Rooms = rec.Rooms
	}
	if rec.SquareMeters != nil {
		cur.SquareMeters = rec.SquareMeters
	}
	if rec.Floor != nil {
		cur.Floor = rec.Floor
	}
	if rec.BuildingFloors != nil {
		cur.BuildingFloors = rec.BuildingFloors
	}
	if rec.YearBuilt != nil {
		cur.YearBuilt = rec.YearBuilt
	}
	if rec.ParkingSpots > 0 {
		cur.ParkingSpots = rec.ParkingSpots
	}
}

func validate(l *models.Listing) string {
	switch {
	case l.City == "":
		return "missing city"
	case l.ListingType == "":
		return "missing listing type"
	}
	return ""
}
