package processor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"shamai/engine/config"
	"shamai/engine/internal/database"
	"shamai/engine/internal/models"
	"shamai/engine/internal/normalizer"
	"shamai/engine/internal/queue"
)

// BatchProcessor drains raw listing batches from the queue, normalizes them
// and upserts the merged listings transactionally.
type BatchProcessor struct {
	db         *gorm.DB
	normalizer *normalizer.Normalizer
	logger     *logrus.Logger
	config     *config.Config
	queue      *queue.ListingQueue
	ctx        context.Context
	cancel     context.CancelFunc

	mu       sync.Mutex
	rejected []normalizer.Rejection
	stats    IngestStats
}

// IngestStats counts the outcomes of processed batches.
type IngestStats struct {
	Created  int `json:"created"`
	Updated  int `json:"updated"`
	Rejected int `json:"rejected"`
}

// NewBatchProcessor creates a new batch processor instance
func NewBatchProcessor(db *gorm.DB, q *queue.ListingQueue, cfg *config.Config, logger *logrus.Logger) *BatchProcessor {
	ctx, cancel := context.WithCancel(context.Background())
	return &BatchProcessor{
		db:         db,
		normalizer: normalizer.New(logger),
		queue:      q,
		config:     cfg,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start subscribes to the queue and launches the configured number of
// dispatch loops. Each batch is handled by exactly one loop.
func (p *BatchProcessor) Start() {
	p.queue.Subscribe(func(batch []*models.Listing) error {
		return p.processBatch(batch)
	})
	for i := 0; i < p.config.Ingest.ProcessorCount; i++ {
		p.queue.Start()
	}
}

// Stop cancels in-flight retries and drains the queue.
func (p *BatchProcessor) Stop() {
	p.cancel()
	if err := p.queue.Close(); err != nil {
		p.logger.WithError(err).Error("Failed to close listing queue")
	}
}

// Rejections returns the records dropped so far for missing required fields.
func (p *BatchProcessor) Rejections() []normalizer.Rejection {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]normalizer.Rejection, len(p.rejected))
	copy(out, p.rejected)
	return out
}

// Stats returns the running created/updated/rejected counts.
func (p *BatchProcessor) Stats() IngestStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// processBatch normalizes and persists a single raw batch with transaction
// and retry logic. Rejected records are counted, never fatal.
func (p *BatchProcessor) processBatch(batch []*models.Listing) error {
	merged, rejected := p.normalizer.Normalize(batch)
	if len(rejected) > 0 {
		p.mu.Lock()
		p.rejected = append(p.rejected, rejected...)
		p.stats.Rejected += len(rejected)
		p.mu.Unlock()
		p.logger.WithField("rejected", len(rejected)).Warn("Dropped unresolvable records from batch")
	}
	if len(merged) == 0 {
		return nil
	}

	var err error
	for attempt := 0; attempt <= p.config.Ingest.MaxRetries; attempt++ {
		if attempt > 0 {
			p.logger.Infof("Retrying batch processing, attempt %d of %d", attempt, p.config.Ingest.MaxRetries)
			select {
			case <-p.ctx.Done():
				return fmt.Errorf("batch processing cancelled: %w", p.ctx.Err())
			case <-time.After(time.Duration(p.config.Ingest.RetryDelay) * time.Second):
			}
		}

		var created, updated int
		err = p.db.Transaction(func(tx *gorm.DB) error {
			var txErr error
			created, updated, txErr = database.UpsertListings(tx, merged)
			if txErr != nil {
				return fmt.Errorf("failed to upsert listings batch: %w", txErr)
			}
			return nil
		})

		if err == nil {
			p.mu.Lock()
			p.stats.Created += created
			p.stats.Updated += updated
			p.mu.Unlock()
			p.logger.WithFields(logrus.Fields{
				"created": created,
				"updated": updated,
			}).Infof("Successfully processed batch of %d listings", len(merged))
			return nil
		}

		p.logger.Errorf("Batch processing failed: %v", err)
	}

	return fmt.Errorf("failed to process batch after %d attempts: %w", p.config.Ingest.MaxRetries, err)
}
