package consumer

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/md-rashed-zaman/apptzone/libs/outbox"
	"github.com/segmentio/kafka-go"
)

// Invalidator drops cached schedule data for a business.
type Invalidator interface {
	Invalidate(ctx context.Context, businessID string) error
}

// ScheduleUpdated handles business.schedule.updated.v1 by invalidating the schedule cache.
// Malformed payloads are logged and skipped.
func ScheduleUpdated(logger *slog.Logger, cache Invalidator) Handler {
	return func(ctx context.Context, msg kafka.Message) error {
		var change outbox.ScheduleChange
		if err := json.Unmarshal(msg.Value, &change); err != nil {
			logger.Error("invalid schedule event payload", "err", err, "topic", msg.Topic)
			return nil
		}
		if change.BusinessID == "" {
			logger.Error("schedule event without business_id", "topic", msg.Topic)
			return nil
		}
		if err := cache.Invalidate(ctx, change.BusinessID); err != nil {
			return err
		}
		logger.Debug("schedule cache invalidated", "business_id", change.BusinessID, "reason", change.Reason)
		return nil
	}
}
