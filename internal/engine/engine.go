package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"shamai/engine/config"
	"shamai/engine/internal/aggregate"
	"shamai/engine/internal/areas"
	"shamai/engine/internal/database"
	"shamai/engine/internal/models"
	"shamai/engine/internal/outliers"
	"shamai/engine/internal/signals"
	"shamai/engine/internal/snapshot"
	"shamai/engine/internal/trends"
)

// Store is the engine's view of the external store. Reads are area-scoped;
// the only writes are outlier annotations and append-only snapshots.
type Store interface {
	Ping(ctx context.Context) error
	ActiveListings(ctx context.Context, key models.AreaKey, listingType string, period models.Period) ([]models.Listing, error)
	Transactions(ctx context.Context, key models.AreaKey, period models.Period) ([]models.Transaction, error)
	TrailingTransactions(ctx context.Context, key models.AreaKey, until time.Time, days int) ([]models.Transaction, error)
	TrailingActiveAverage(ctx context.Context, key models.AreaKey, listingType string, months int, until time.Time) (float64, error)
	CustomAreas(ctx context.Context) ([]models.CustomArea, error)
	AdministrativeAreas(ctx context.Context, cities []string) ([]models.AreaKey, error)
	ApplyAnnotations(ctx context.Context, anns []outliers.Annotation) error
	InsertSnapshot(ctx context.Context, snapshot *models.AreaSignal) error
}

// RunParams scope one engine invocation. Zero values fall back to the
// configured defaults: all known areas, all listing types, and a trailing
// window of the configured length ending now.
type RunParams struct {
	Areas        []models.AreaKey
	ListingTypes []string
	Period       models.Period
}

// Engine computes area-level market signal snapshots. It owns no state
// between runs: each run is a transform from the store's listings,
// transactions and area definitions to new snapshot rows.
type Engine struct {
	store    Store
	cfg      *config.Config
	outliers *outliers.Classifier
	trends   *trends.Calculator
	logger   *logrus.Logger
	now      func() time.Time
}

func New(store Store, cfg *config.Config, logger *logrus.Logger) *Engine {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}
	return &Engine{
		store:    store,
		cfg:      cfg,
		outliers: outliers.New(cfg, logger),
		trends:   trends.NewCalculator(logger),
		logger:   logger,
		now:      time.Now,
	}
}

// Run executes one full computation pass. Area keys are independent and
// processed by a bounded worker pool; one area's failure is recorded and
// never aborts its siblings. Store unavailability aborts the whole run so
// no invocation produces snapshots for some areas but not others for
// systemic reasons.
func (e *Engine) Run(ctx context.Context, params RunParams) (*models.RunSummary, error) {
	summary := &models.RunSummary{
		RunID:     uuid.NewString(),
		StartedAt: e.now(),
	}
	log := e.logger.WithField("run_id", summary.RunID)

	period := params.Period
	if period.End.IsZero() {
		end := e.now()
		period = models.Period{Start: end.AddDate(0, 0, -e.cfg.Engine.PeriodDays), End: end}
	}

	abort := func(err error) (*models.RunSummary, error) {
		summary.Status = models.RunAborted
		summary.FinishedAt = e.now()
		log.WithError(err).Error("Run aborted")
		return summary, err
	}

	if err := e.store.Ping(ctx); err != nil {
		return abort(err)
	}

	custom, err := e.store.CustomAreas(ctx)
	if err != nil {
		return abort(fmt.Errorf("failed to load custom areas: %w", err))
	}
	resolver := areas.NewResolver(custom, e.logger)

	keys := params.Areas
	if len(keys) == 0 {
		keys, err = e.allAreaKeys(ctx, resolver)
		if err != nil {
			return abort(err)
		}
	}

	listingTypes := params.ListingTypes
	if len(listingTypes) == 0 {
		listingTypes = e.cfg.Engine.ListingTypes
	}

	classifier, err := signals.NewClassifier(e.cfg.Signals, func(key models.AreaKey, listingType string, months int) (float64, error) {
		return e.store.TrailingActiveAverage(ctx, key, listingType, months, period.End)
	}, e.logger)
	if err != nil {
		return abort(err)
	}

	writer := snapshot.NewWriter(e.store, e.logger)

	log.WithFields(logrus.Fields{
		"areas":         len(keys),
		"listing_types": listingTypes,
		"period_start":  period.Start.Format("2006-01-02"),
		"period_end":    period.End.Format("2006-01-02"),
	}).Info("Starting signal computation run")

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Engine.Concurrency)

	for _, key := range keys {
		for _, listingType := range listingTypes {
			key, listingType := key, listingType
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				written, failure, err := e.processArea(gctx, key, listingType, period, resolver, classifier, writer)
				if err != nil {
					return fmt.Errorf("area %s: %w", key, err)
				}
				mu.Lock()
				summary.AreasProcessed++
				summary.SnapshotsWritten += written
				if failure != nil {
					summary.Failures = append(summary.Failures, *failure)
				}
				mu.Unlock()
				return nil
			})
		}
	}

	if err := g.Wait(); err != nil {
		return abort(err)
	}

	summary.FinishedAt = e.now()
	if len(summary.Failures) > 0 {
		summary.Status = models.RunPartial
	} else {
		summary.Status = models.RunSucceeded
	}

	log.WithFields(logrus.Fields{
		"status":    summary.Status,
		"areas":     summary.AreasProcessed,
		"snapshots": summary.SnapshotsWritten,
		"failures":  len(summary.Failures),
		"duration":  summary.Duration().String(),
	}).Info("Run complete")
	return summary, nil
}

// allAreaKeys enumerates the configured cities, their declared
// neighborhoods, and every usable custom area.
func (e *Engine) allAreaKeys(ctx context.Context, resolver *areas.Resolver) ([]models.AreaKey, error) {
	var keys []models.AreaKey
	for _, city := range e.cfg.Engine.Cities {
		keys = append(keys, models.AreaKey{Type: models.AreaTypeCity, Name: city})
	}

	neighborhoods, err := e.store.AdministrativeAreas(ctx, e.cfg.Engine.Cities)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate neighborhoods: %w", err)
	}
	keys = append(keys, neighborhoods...)
	keys = append(keys, resolver.CustomKeys()...)
	return keys, nil
}

// processArea runs the sequential per-area pipeline:
// fetch → classify outliers → aggregate → trends → signals → write.
// The returned error is systemic and aborts the run; a write conflict is
// returned as a per-area failure instead.
func (e *Engine) processArea(ctx context.Context, key models.AreaKey, listingType string, period models.Period,
	resolver *areas.Resolver, classifier *signals.Classifier, writer *snapshot.Writer) (int, *models.AreaFailure, error) {

	listings, txs, err := e.fetchPopulation(ctx, key, listingType, period, resolver)
	if err != nil {
		return 0, nil, err
	}

	txs, err = e.classifyOutliers(ctx, key, period, txs)
	if err != nil {
		return 0, nil, err
	}

	agg := aggregate.Compute(listings, txs, period)
	if agg.Empty() {
		e.logger.WithFields(logrus.Fields{
			"area":         key.String(),
			"listing_type": listingType,
		}).Debug("No population for area; skipping snapshot")
		return 0, nil, nil
	}

	tr, err := e.trends.Compute(agg, func(past models.Period) (aggregate.Aggregation, error) {
		pastListings, pastTxs, err := e.fetchPopulation(ctx, key, listingType, past, resolver)
		if err != nil {
			return aggregate.Aggregation{}, err
		}
		return aggregate.Compute(pastListings, pastTxs, past), nil
	})
	if err != nil {
		return 0, nil, err
	}

	sigs := classifier.Classify(key, listingType, agg, tr)
	snap := snapshot.Build(key, listingType, agg, tr, sigs, e.now())

	written, failures := writer.Write(ctx, []*models.AreaSignal{snap})
	for _, f := range failures {
		if !errors.Is(f.Err, database.ErrSnapshotConflict) {
			// Snapshot writes only fail systemically or on conflict;
			// anything non-conflict means the store is misbehaving.
			return written, nil, f.Err
		}
		return written, &models.AreaFailure{Area: f.Area, ListingType: f.ListingType, Reason: f.Err.Error()}, nil
	}
	return written, nil, nil
}

// fetchPopulation loads an area's listings and transactions for one period.
// Custom areas read geolocated rows and filter them by polygon containment.
func (e *Engine) fetchPopulation(ctx context.Context, key models.AreaKey, listingType string, period models.Period,
	resolver *areas.Resolver) ([]models.Listing, []models.Transaction, error) {

	listings, err := e.store.ActiveListings(ctx, key, listingType, period)
	if err != nil {
		return nil, nil, err
	}

	var txs []models.Transaction
	// Recorded sales are purchases; rental areas have no transaction feed.
	if listingType != models.ListingTypeRent {
		txs, err = e.store.Transactions(ctx, key, period)
		if err != nil {
			return nil, nil, err
		}
	}

	if key.Type == models.AreaTypeCustom {
		listings = filterListings(listings, key.Name, resolver)
		txs = filterTransactions(txs, key.Name, resolver)
	}
	return listings, txs, nil
}

// classifyOutliers re-evaluates the period's transactions against the
// trailing distribution, persists the annotations, and reflects them on the
// in-memory records so aggregation sees fresh flags.
func (e *Engine) classifyOutliers(ctx context.Context, key models.AreaKey, period models.Period, txs []models.Transaction) ([]models.Transaction, error) {
	if len(txs) == 0 {
		return txs, nil
	}

	trailing, err := e.store.TrailingTransactions(ctx, key, period.End, e.cfg.Outliers.TrailingDays)
	if err != nil {
		return nil, err
	}

	anns := e.outliers.Classify(txs, outliers.BuildDistribution(trailing), e.now())
	if err := e.store.ApplyAnnotations(ctx, anns); err != nil {
		return nil, fmt.Errorf("failed to persist outlier annotations: %w", err)
	}

	byID := make(map[int64]outliers.Annotation, len(anns))
	for _, ann := range anns {
		byID[ann.TransactionID] = ann
	}
	for i := range txs {
		if ann, ok := byID[txs[i].ID]; ok {
			txs[i].IsOutlier = ann.Flagged
			txs[i].OutlierReason = ann.Reason
		}
	}
	return txs, nil
}

func filterListings(listings []models.Listing, area string, resolver *areas.Resolver) []models.Listing {
	out := listings[:0]
	for i := range listings {
		if resolver.Contains(area, &listings[i]) {
			out = append(out, listings[i])
		}
	}
	return out
}

func filterTransactions(txs []models.Transaction, area string, resolver *areas.Resolver) []models.Transaction {
	out := txs[:0]
	for i := range txs {
		if resolver.Contains(area, &txs[i]) {
			out = append(out, txs[i])
		}
	}
	return out
}
