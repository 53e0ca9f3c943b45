// Package bus carries reply events from hosts to the routing loop, and
// internal ticket events from the routing loop to reporters.
package bus

import (
	"log/slog"
	"sync"
	"time"

	"automove/internal/domain"

	"github.com/google/uuid"
)

const publishTimeout = 10 * time.Second

// Queue is a buffered channel of reply events with a single consumer.
type Queue struct {
	events chan domain.ReplyEvent
	mu     sync.RWMutex
	closed bool
	logger *slog.Logger
}

// NewQueue creates a queue with the given buffer size.
func NewQueue(bufferSize int, logger *slog.Logger) *Queue {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		events: make(chan domain.ReplyEvent, bufferSize),
		logger: logger,
	}
}

// Publish enqueues an event, stamping ID and Timestamp when missing.
// Blocks up to 10 seconds if the queue is full, then drops the event.
func (q *Queue) Publish(ev domain.ReplyEvent) bool {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		q.logger.Warn("attempted to publish to closed queue", "event_id", ev.ID)
		return false
	}

	select {
	case q.events <- ev:
		return true
	default:
	}

	q.logger.Warn("reply queue full, waiting...", "source", ev.Source, "channel_id", ev.ChannelID)
	timer := time.NewTimer(publishTimeout)
	defer timer.Stop()
	select {
	case q.events <- ev:
		return true
	case <-timer.C:
		q.logger.Error("reply event dropped: queue full for 10s",
			"source", ev.Source,
			"channel_id", ev.ChannelID,
		)
		return false
	}
}

// Subscribe returns the receive side. It is closed by Close.
func (q *Queue) Subscribe() <-chan domain.ReplyEvent {
	return q.events
}

// Len reports how many events are waiting.
func (q *Queue) Len() int {
	return len(q.events)
}

func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.closed {
		q.closed = true
		close(q.events)
	}
}
