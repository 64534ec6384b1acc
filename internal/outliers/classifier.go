package outliers

import (
	"fmt"
	"math"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"shamai/engine/config"
	"shamai/engine/internal/models"
)

// minDistributionSamples is the smallest trailing population the statistical
// rules will trust. Below it the partial-sale and sigma rules stay silent.
const minDistributionSamples = 3

// Annotation is the classifier's verdict for one transaction.
type Annotation struct {
	TransactionID int64     `json:"transaction_id"`
	Flagged       bool      `json:"flagged"`
	Reason        string    `json:"reason,omitempty"`
	DetectedAt    time.Time `json:"detected_at"`
}

// Distribution holds trailing price-per-sqm statistics per
// (city, property type) group, built from non-outlier transactions.
type Distribution struct {
	groups map[string]*groupStats
}

type groupStats struct {
	values []float64 // sorted
	mean   float64
	stddev float64
}

func groupKey(city, propertyType string) string {
	return city + "|" + propertyType
}

// BuildDistribution computes per-group statistics from a trailing window of
// non-outlier transactions. Transactions without a usable floor area are
// ignored.
func BuildDistribution(trailing []models.Transaction) *Distribution {
	d := &Distribution{groups: make(map[string]*groupStats)}
	for i := range trailing {
		tx := &trailing[i]
		ppsm, ok := tx.PricePerSqm()
		if !ok {
			continue
		}
		key := groupKey(tx.City, tx.PropertyType)
		g := d.groups[key]
		if g == nil {
			g = &groupStats{}
			d.groups[key] = g
		}
		g.values = append(g.values, ppsm)
	}

	for _, g := range d.groups {
		sort.Float64s(g.values)
		var sum float64
		for _, v := range g.values {
			sum += v
		}
		g.mean = sum / float64(len(g.values))
		var sq float64
		for _, v := range g.values {
			sq += (v - g.mean) * (v - g.mean)
		}
		g.stddev = math.Sqrt(sq / float64(len(g.values)))
	}
	return d
}

// MedianPricePerSqm returns the trailing median for a group, or false when
// the group is too small to trust.
func (d *Distribution) MedianPricePerSqm(city, propertyType string) (float64, bool) {
	g := d.groups[groupKey(city, propertyType)]
	if g == nil || len(g.values) < minDistributionSamples {
		return 0, false
	}
	n := len(g.values)
	if n%2 == 1 {
		return g.values[n/2], true
	}
	return (g.values[n/2-1] + g.values[n/2]) / 2, true
}

// MeanStdDev returns the trailing mean and standard deviation for a group,
// or false when the group is too small to trust.
func (d *Distribution) MeanStdDev(city, propertyType string) (mean, stddev float64, ok bool) {
	g := d.groups[groupKey(city, propertyType)]
	if g == nil || len(g.values) < minDistributionSamples {
		return 0, 0, false
	}
	return g.mean, g.stddev, true
}

// Classifier flags atypical historical transactions so they are excluded
// from price statistics. Rules run in priority order; first match wins.
type Classifier struct {
	cfg    *config.Config
	logger *logrus.Logger
}

func New(cfg *config.Config, logger *logrus.Logger) *Classifier {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}
	return &Classifier{cfg: cfg, logger: logger}
}

// Classify evaluates every transaction against the rule chain and returns
// one annotation each. Reclassification is idempotent. Outliers are not
// presumed transient, so an already-flagged transaction that matches no rule
// on a fresh evaluation keeps its existing flag and reason.
func (c *Classifier) Classify(txs []models.Transaction, dist *Distribution, now time.Time) []Annotation {
	dupes := duplicateGroups(txs)

	annotations := make([]Annotation, 0, len(txs))
	for i := range txs {
		tx := &txs[i]
		reason := c.evaluate(tx, dist, dupes)

		ann := Annotation{TransactionID: tx.ID, DetectedAt: now}
		switch {
		case reason != "":
			ann.Flagged = true
			ann.Reason = reason
		case tx.IsOutlier:
			// No qualifying condition to clear it: keep the stored flag.
			ann.Flagged = true
			ann.Reason = tx.OutlierReason
		}
		annotations = append(annotations, ann)
	}
	return annotations
}

func (c *Classifier) evaluate(tx *models.Transaction, dist *Distribution, dupes map[string]int64) string {
	if c.matchesAssistedLiving(tx) {
		return models.OutlierAssistedLiving
	}
	if c.isPartialSale(tx, dist) {
		return models.OutlierPartialSale
	}
	if keeper, ok := dupes[duplicateKey(tx)]; ok && keeper != tx.ID {
		return models.OutlierMultipleBuyers
	}
	if c.isReportingError(tx, dist) {
		return models.OutlierReportingError
	}
	return ""
}

// matchesAssistedLiving checks the property type and address text against
// the configured facility markers.
func (c *Classifier) matchesAssistedLiving(tx *models.Transaction) bool {
	haystack := strings.ToLower(tx.PropertyType + " " + tx.AddressStreet)
	for _, marker := range c.cfg.Outliers.AssistedLivingMarkers {
		if marker != "" && strings.Contains(haystack, strings.ToLower(marker)) {
			return true
		}
	}
	return false
}

// isPartialSale flags sales priced below a fraction of the expected
// full-unit price: trailing median price-per-sqm scaled by the floor area.
func (c *Classifier) isPartialSale(tx *models.Transaction, dist *Distribution) bool {
	if tx.SquareMeters == nil || *tx.SquareMeters <= 0 {
		return false
	}
	median, ok := dist.MedianPricePerSqm(tx.City, tx.PropertyType)
	if !ok {
		return false
	}
	expected := median * float64(*tx.SquareMeters)
	return float64(tx.Price) < c.cfg.Outliers.PartialSaleFraction*expected
}

// isReportingError flags non-positive computed price-per-sqm and values more
// than the configured number of standard deviations from the trailing mean.
func (c *Classifier) isReportingError(tx *models.Transaction, dist *Distribution) bool {
	if tx.SquareMeters == nil || *tx.SquareMeters == 0 {
		return false
	}
	ppsm := float64(tx.Price) / float64(*tx.SquareMeters)
	if ppsm <= 0 {
		return true
	}
	mean, stddev, ok := dist.MeanStdDev(tx.City, tx.PropertyType)
	if !ok || stddev == 0 {
		return false
	}
	return math.Abs(ppsm-mean) > c.cfg.Outliers.SigmaThreshold*stddev
}

func duplicateKey(tx *models.Transaction) string {
	return fmt.Sprintf("%s|%s|%s", tx.City, tx.AddressStreet, tx.SaleDate.Format("2006-01-02"))
}

// duplicateGroups finds same-address same-date filings with different buyer
// identities and elects a single keeper per group: the earliest-recorded
// transaction (ties broken by lowest id). The rest are one logical event
// filed more than once.
func duplicateGroups(txs []models.Transaction) map[string]int64 {
	type group struct {
		keeper  *models.Transaction
		buyers  map[string]struct{}
		members int
	}
	groups := make(map[string]*group)
	for i := range txs {
		tx := &txs[i]
		key := duplicateKey(tx)
		g := groups[key]
		if g == nil {
			g = &group{buyers: make(map[string]struct{})}
			groups[key] = g
		}
		g.members++
		g.buyers[tx.Buyer] = struct{}{}
		if g.keeper == nil || tx.CreatedAt.Before(g.keeper.CreatedAt) ||
			(tx.CreatedAt.Equal(g.keeper.CreatedAt) && tx.ID < g.keeper.ID) {
			g.keeper = tx
		}
	}

	keepers := make(map[string]int64)
	for key, g := range groups {
		if g.members > 1 && len(g.buyers) > 1 {
			keepers[key] = g.keeper.ID
		}
	}
	return keepers
}
