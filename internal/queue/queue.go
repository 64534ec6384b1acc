package queue

import (
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"shamai/engine/internal/models"
)

var (
	ErrQueueFull   = errors.New("queue is full")
	ErrQueueClosed = errors.New("queue is closed")
)

// ListingQueue buffers raw listing batches between the collection layer and
// the ingest processors. Pushes never block: a full buffer rejects the batch
// and the caller decides whether to retry. Closing the queue drains the
// batches already accepted before the dispatch loop exits.
type ListingQueue struct {
	mu       sync.RWMutex
	items    chan []*models.Listing
	handlers []func([]*models.Listing) error
	closed   bool
	wg       sync.WaitGroup
	logger   *logrus.Logger
}

// NewListingQueue creates a queue holding up to bufferSize pending batches.
func NewListingQueue(bufferSize int, logger *logrus.Logger) *ListingQueue {
	if logger == nil {
		logger = logrus.New()
	}
	return &ListingQueue{
		items:  make(chan []*models.Listing, bufferSize),
		logger: logger,
	}
}

// Push accepts one batch of raw listings. The read lock is held across the
// send so Close cannot close the channel under an in-flight push.
func (q *ListingQueue) Push(listings []*models.Listing) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.items <- listings:
		q.logger.WithField("batch_size", len(listings)).Debug("Pushed batch to queue")
		return nil
	default:
		return ErrQueueFull
	}
}

// Subscribe registers a handler invoked with every dispatched batch.
// Handlers registered after Start still receive subsequent batches.
func (q *ListingQueue) Subscribe(handler func([]*models.Listing) error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers = append(q.handlers, handler)
}

// Start launches the dispatch loop. The loop runs until Close, finishing the
// batches that were accepted before it.
func (q *ListingQueue) Start() {
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		for batch := range q.items {
			q.dispatch(batch)
		}
	}()
}

func (q *ListingQueue) dispatch(batch []*models.Listing) {
	q.mu.RLock()
	handlers := q.handlers
	q.mu.RUnlock()

	for _, handler := range handlers {
		if err := handler(batch); err != nil {
			q.logger.WithError(err).Error("Handler failed to process batch")
		}
	}
}

// Close rejects further pushes, drains the accepted batches and waits for
// the dispatch loop to finish. Closing twice is a no-op.
func (q *ListingQueue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.items)
	q.mu.Unlock()

	q.wg.Wait()
	return nil
}

// Len returns the number of batches waiting for dispatch.
func (q *ListingQueue) Len() int {
	return len(q.items)
}

// IsClosed reports whether Close has been called.
func (q *ListingQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}
