package store

import (
	"context"
	"log/slog"
	"time"

	"automove/internal/bus"
	"automove/internal/domain"
)

const auditTimeout = 5 * time.Second

// SubscribeAudit records every executed or failed move in log.
func SubscribeAudit(eb *bus.EventBus, log domain.RelocationLog, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	record := func(result string) bus.EventHandler {
		return func(e bus.Event) {
			rec := domain.RelocationRecord{
				ChannelID: e.ChannelID,
				From:      e.From,
				To:        e.Decision.Target,
				Reason:    e.Decision.Reason,
				Result:    result,
				CreatedAt: e.Timestamp,
			}
			if e.Err != nil {
				rec.Error = e.Err.Error()
			}
			ctx, cancel := context.WithTimeout(context.Background(), auditTimeout)
			defer cancel()
			if err := log.LogRelocation(ctx, rec); err != nil {
				logger.Warn("relocation audit write failed", "channel_id", e.ChannelID, "err", err)
			}
		}
	}
	eb.On(bus.EventRelocated, record("moved"))
	eb.On(bus.EventRelocationFailed, record("failed"))
}
