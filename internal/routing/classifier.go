// Package routing decides where a ticket channel belongs after each reply
// and moves it there.
package routing

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"automove/internal/domain"
)

// DefaultHistoryLimit matches the host's default history page.
const DefaultHistoryLimit = 100

// Predicate reports whether a message counts as a staff reply.
type Predicate func(domain.Message) bool

// HasMarker matches messages carrying any of the given markers.
func HasMarker(markers ...string) Predicate {
	want := slices.DeleteFunc(slices.Clone(markers), func(m string) bool { return m == "" })
	return func(m domain.Message) bool {
		for _, got := range m.Markers {
			if slices.Contains(want, got) {
				return true
			}
		}
		return false
	}
}

// FromStaff matches messages whose author the host identified as staff.
func FromStaff(m domain.Message) bool {
	return m.Role == domain.RoleStaff
}

func AnyOf(preds ...Predicate) Predicate {
	return func(m domain.Message) bool {
		for _, p := range preds {
			if p != nil && p(m) {
				return true
			}
		}
		return false
	}
}

// Classifier inspects the most recent window of a channel's history.
// Staff replies older than the window are not seen.
type Classifier struct {
	host   domain.TicketHost
	limit  int
	logger *slog.Logger
}

func NewClassifier(host domain.TicketHost, limit int, logger *slog.Logger) *Classifier {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{host: host, limit: limit, logger: logger}
}

// StaffHasReplied returns true on the first message in the window for which pred holds.
func (c *Classifier) StaffHasReplied(ctx context.Context, channelID string, pred Predicate) (bool, error) {
	msgs, err := c.host.History(ctx, channelID, c.limit)
	if err != nil {
		return false, fmt.Errorf("fetch history of %s: %w", channelID, err)
	}
	for i, m := range msgs {
		if pred(m) {
			c.logger.Debug("staff reply found", "channel_id", channelID, "message_id", m.ID, "depth", i)
			return true, nil
		}
	}
	return false, nil
}
