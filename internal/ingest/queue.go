// Package ingest decouples the transcription stream from alignment work.
//
// A Queue accepts spoken-word events without ever blocking the producer and
// delivers them to the alignment tracker strictly in arrival order, one at a
// time, from a single drain goroutine. It performs no deduplication or
// coalescing — a slow alignment computation delays delivery, never arrival.
package ingest

import (
	"log/slog"
	"sync"

	"github.com/cuepilot/cuepilot/internal/align"
)

// Event is one recognized spoken word as received from the transcription
// collaborator.
type Event struct {
	// Text is the recognized word.
	Text string `json:"text"`

	// Confidence is the recognizer's confidence in [0, 1].
	Confidence float64 `json:"confidence"`

	// Timestamp is milliseconds since an arbitrary epoch, non-decreasing
	// within one session.
	Timestamp int64 `json:"timestamp"`
}

// Consumer receives drained events in arrival order. *align.Tracker
// satisfies it.
type Consumer interface {
	ProcessSpokenWord(text string, confidence float64, timestamp int64) (*align.WordMatch, error)
}

// Queue is an unbounded FIFO between one or more producers and a single
// consumer goroutine. All methods are safe for concurrent use.
type Queue struct {
	consumer Consumer

	mu       sync.Mutex
	pending  []Event
	inflight bool // an event is being delivered right now
	closed   bool
	idle     *sync.Cond // signalled when pending drains to empty

	wake chan struct{}
	done chan struct{}
}

// New creates a Queue draining into consumer and starts its drain goroutine.
// Call Close when the session ends.
func New(consumer Consumer) *Queue {
	q := &Queue{
		consumer: consumer,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	q.idle = sync.NewCond(&q.mu)
	go q.drain()
	return q
}

// Push enqueues an event. It never blocks on alignment work and preserves
// arrival order. Events pushed after Close are dropped.
func (q *Queue) Push(ev Event) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.pending = append(q.pending, ev)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Wait blocks until every event pushed so far has been delivered to the
// consumer. Used by tests and by graceful shutdown.
func (q *Queue) Wait() {
	q.mu.Lock()
	for (len(q.pending) > 0 || q.inflight) && !q.closed {
		q.idle.Wait()
	}
	q.mu.Unlock()
}

// Close stops the drain goroutine. Events still pending are delivered before
// the goroutine exits; subsequent pushes are dropped. Close is idempotent.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.idle.Broadcast()
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	<-q.done
}

// drain delivers pending events one at a time until Close.
func (q *Queue) drain() {
	defer close(q.done)

	for {
		q.mu.Lock()
		for len(q.pending) == 0 {
			if q.closed {
				q.mu.Unlock()
				return
			}
			q.mu.Unlock()
			<-q.wake
			q.mu.Lock()
		}
		ev := q.pending[0]
		q.pending = q.pending[1:]
		if len(q.pending) == 0 {
			// Release the backing array between bursts.
			q.pending = nil
		}
		q.inflight = true
		q.mu.Unlock()

		if _, err := q.consumer.ProcessSpokenWord(ev.Text, ev.Confidence, ev.Timestamp); err != nil {
			// State errors here mean the producer raced a stop/reset;
			// the event is dropped, matching the tracker contract.
			slog.Debug("ingest: event dropped", "text", ev.Text, "err", err)
		}

		q.mu.Lock()
		q.inflight = false
		if len(q.pending) == 0 {
			q.idle.Broadcast()
		}
		q.mu.Unlock()
	}
}
