package service

import (
	"context"
	"time"

	"matching-engine/internal/broker"
	"matching-engine/internal/models"
	"matching-engine/internal/redisclient"
	"matching-engine/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Notification is one outbound notification request.
type Notification struct {
	UserID     string
	Type       string
	Title      string
	Message    string
	Priority   string
	EntityType string
	EntityID   string
	ActionURL  string
}

// Notifier dispatches notifications for a triggering event,
// best-effort. Implementations must never let a dispatch failure
// propagate into the matching run.
type Notifier interface {
	Notify(ctx context.Context, triggerEventID string, n Notification)
}

// KafkaNotifier publishes notification requests to the notification
// collaborator's topic, deduplicated by (user, entity) and capped per
// triggering event via an atomic Redis claim.
type KafkaNotifier struct {
	redis     *redisclient.Client
	publisher *broker.EventPublisher
	cap       int
	claimTTL  time.Duration
	logger    *zap.Logger
}

// NewKafkaNotifier creates the production notifier
func NewKafkaNotifier(redis *redisclient.Client, publisher *broker.EventPublisher, cap int) *KafkaNotifier {
	return &KafkaNotifier{
		redis:     redis,
		publisher: publisher,
		cap:       cap,
		claimTTL:  24 * time.Hour,
		logger:    util.GetLogger(),
	}
}

// Notify dispatches one notification. Duplicate (user, entity) pairs
// for the same triggering event and anything beyond the per-event cap
// are suppressed. Failures are logged and counted, never returned:
// matching remains the source of truth.
func (kn *KafkaNotifier) Notify(ctx context.Context, triggerEventID string, n Notification) {
	outcome, err := kn.redis.ClaimNotification(ctx, triggerEventID, n.UserID, n.EntityID, kn.cap, kn.claimTTL)
	if err != nil {
		// Dedup is advisory; a Redis outage must not silence matching.
		kn.logger.Warn("Notification claim failed, sending anyway",
			zap.String("trigger_event_id", triggerEventID),
			zap.Error(err))
	} else {
		switch outcome {
		case redisclient.ClaimDuplicate:
			util.NotificationsSuppressedTotal.WithLabelValues("duplicate").Inc()
			return
		case redisclient.ClaimCapped:
			util.NotificationsSuppressedTotal.WithLabelValues("capped").Inc()
			kn.logger.Debug("Notification suppressed",
				zap.String("trigger_event_id", triggerEventID),
				zap.String("user_id", n.UserID),
				zap.Error(models.ErrCapacityExceeded))
			return
		}
	}

	event := &models.NotificationRequestEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeNotificationRequest,
			Timestamp: time.Now(),
		},
		UserID:     n.UserID,
		Type:       n.Type,
		Title:      n.Title,
		Message:    n.Message,
		Priority:   n.Priority,
		EntityType: n.EntityType,
		EntityID:   n.EntityID,
		ActionURL:  n.ActionURL,
	}

	if err := kn.publisher.PublishNotificationRequest(ctx, event); err != nil {
		util.NotificationDispatchFailed.Inc()
		kn.logger.Error("Notification dispatch failed",
			zap.String("user_id", n.UserID),
			zap.String("entity_id", n.EntityID),
			zap.Error(err))
		return
	}
	util.NotificationsSentTotal.Inc()
}
