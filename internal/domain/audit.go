package domain

import (
	"context"
	"time"
)

// RelocationRecord is one executed (or failed) move, kept for operators.
type RelocationRecord struct {
	ID        int64     `json:"id"`
	ChannelID string    `json:"channel_id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Reason    string    `json:"reason"`
	Result    string    `json:"result"` // moved | failed
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// RelocationLog is implemented by stores that can keep an audit trail of moves.
type RelocationLog interface {
	LogRelocation(ctx context.Context, rec RelocationRecord) error
	RecentRelocations(ctx context.Context, limit int) ([]RelocationRecord, error)
}
