package realtime

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// schedulePollExpiry arms a one-shot timer for a poll. At fire time the poll
// is looked up by id in the registry rather than through a captured pointer,
// so a timer outliving its room (everyone left, room garbage-collected) is a
// silent no-op instead of a mutation of stale state.
func (r *Router) schedulePollExpiry(activityID string, pollID uuid.UUID, ttl time.Duration) {
	time.AfterFunc(ttl, func() {
		if !r.registry.ExpirePoll(activityID, pollID) {
			return
		}
		r.logger.Info("live poll expired",
			zap.String("activity_id", activityID),
			zap.String("poll_id", pollID.String()),
		)
		r.hub.BroadcastToRoom(activityID, "poll_expired", map[string]interface{}{
			"activityId": activityID,
			"pollId":     pollID.String(),
		})
	})
}
