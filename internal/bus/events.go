package bus

import (
	"log/slog"
	"sync"
	"time"

	"automove/internal/domain"

	"github.com/google/uuid"
)

// Event is an internal notification about a ticket channel.
type Event struct {
	Type      string
	Source    string // originating component
	ChannelID string
	From      string // category before the move, if known
	Decision  domain.Decision
	Latency   time.Duration
	Err       error
	Payload   map[string]any
	Timestamp time.Time
}

type EventHandler func(Event)

// EventBus is a topic-based publish/subscribe bus with wildcard
// subscriptions and a bounded history for replay (served on /events/recent).
type EventBus struct {
	handlers   map[string][]namedHandler
	mu         sync.RWMutex
	logger     *slog.Logger
	history    []Event
	maxHistory int
}

type namedHandler struct {
	ID      string
	Handler EventHandler
}

func NewEventBus(logger *slog.Logger) *EventBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventBus{
		handlers:   make(map[string][]namedHandler),
		logger:     logger,
		maxHistory: 1000,
	}
}

// On registers a handler for the given event type ("*" for all) and
// returns an id for Off.
func (eb *EventBus) On(eventType string, handler EventHandler) string {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	id := eventType + "-" + uuid.NewString()
	eb.handlers[eventType] = append(eb.handlers[eventType], namedHandler{ID: id, Handler: handler})
	return id
}

func (eb *EventBus) Off(eventType, handlerID string) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	handlers := eb.handlers[eventType]
	for i, h := range handlers {
		if h.ID == handlerID {
			eb.handlers[eventType] = append(handlers[:i:i], handlers[i+1:]...)
			return
		}
	}
}

// Emit calls every matching handler synchronously. A panicking handler is
// logged and does not stop the others.
func (eb *EventBus) Emit(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	eb.mu.Lock()
	if len(eb.history) >= eb.maxHistory {
		eb.history = eb.history[1:]
	}
	eb.history = append(eb.history, event)

	var handlers []namedHandler
	handlers = append(handlers, eb.handlers[event.Type]...)
	handlers = append(handlers, eb.handlers["*"]...)
	eb.mu.Unlock()

	for _, h := range handlers {
		func(nh namedHandler) {
			defer func() {
				if r := recover(); r != nil {
					eb.logger.Error("event handler panic", "event", event.Type, "handler", nh.ID, "panic", r)
				}
			}()
			nh.Handler(event)
		}(h)
	}
}

// Replay returns historical events of the given type ("*" for all) since t.
func (eb *EventBus) Replay(eventType string, since time.Time) []Event {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	var result []Event
	for _, e := range eb.history {
		if e.Timestamp.Before(since) {
			continue
		}
		if eventType == "*" || e.Type == eventType {
			result = append(result, e)
		}
	}
	return result
}

// Ticket event types.
const (
	EventReplyReceived      = "ticket.reply_received"
	EventDecided            = "ticket.decided"
	EventRelocated          = "ticket.relocated"
	EventRelocationFailed   = "ticket.relocation_failed"
	EventCloseScheduled     = "ticket.close_scheduled"
	EventCloseCancelled     = "ticket.close_cancelled"
	EventConfigUpdated      = "config.updated"
	EventStorageUnavailable = "storage.unavailable"
)
