package stream

import (
	"sync"
	"sync/atomic"
	"time"

	"logmux/src/internal/core"

	"github.com/google/uuid"
)

// Subscription is one viewer's private record queue. The queue is
// bounded; when a slow viewer falls behind, the oldest queued records
// are dropped first so delivery always favors recent data.
type Subscription struct {
	ID      string
	Sources []string
	Filter  string

	queue     chan core.LogRecord
	pushMu    sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
	stop      func()
	createdAt time.Time

	// Statistics
	enqueued atomic.Uint64
	dropped  atomic.Uint64
}

func newSubscription(sources []string, filterExpr string, queueSize int64) *Subscription {
	return &Subscription{
		ID:        uuid.NewString(),
		Sources:   sources,
		Filter:    filterExpr,
		queue:     make(chan core.LogRecord, queueSize),
		done:      make(chan struct{}),
		createdAt: time.Now(),
	}
}

// Enqueue never blocks the caller. A full queue evicts its oldest
// record to make room; survivors keep their order.
func (s *Subscription) Enqueue(rec core.LogRecord) {
	s.pushMu.Lock()
	defer s.pushMu.Unlock()

	for {
		select {
		case s.queue <- rec:
			s.enqueued.Add(1)
			return
		default:
		}
		select {
		case <-s.queue:
			s.dropped.Add(1)
		default:
		}
	}
}

// Records exposes the queue to the delivery loop
func (s *Subscription) Records() <-chan core.LogRecord {
	return s.queue
}

// Done is closed once the subscription is torn down
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Close is idempotent: it detaches from every tailer, releases the
// source references, and discards whatever is still queued.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		if s.stop != nil {
			s.stop()
		}
		close(s.done)
		for {
			select {
			case <-s.queue:
			default:
				return
			}
		}
	})
}

type SubscriptionStats struct {
	ID        string    `json:"id"`
	Sources   []string  `json:"sources"`
	Filter    string    `json:"filter,omitempty"`
	QueueLen  int       `json:"queue_len"`
	QueueCap  int       `json:"queue_cap"`
	Enqueued  uint64    `json:"enqueued"`
	Dropped   uint64    `json:"dropped"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Subscription) GetStats() SubscriptionStats {
	return SubscriptionStats{
		ID:        s.ID,
		Sources:   s.Sources,
		Filter:    s.Filter,
		QueueLen:  len(s.queue),
		QueueCap:  cap(s.queue),
		Enqueued:  s.enqueued.Load(),
		Dropped:   s.dropped.Load(),
		CreatedAt: s.createdAt,
	}
}
