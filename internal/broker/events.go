package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"matching-engine/internal/models"

	"github.com/segmentio/kafka-go"
)

// EventPublisher publishes the engine's outbound events: notification
// requests and chain lifecycle announcements.
type EventPublisher struct {
	notifications *Producer
	chains        *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(notifications, chains *Producer) *EventPublisher {
	return &EventPublisher{notifications: notifications, chains: chains}
}

// PublishNotificationRequest hands a notification to the collaborator
func (ep *EventPublisher) PublishNotificationRequest(ctx context.Context, event *models.NotificationRequestEvent) error {
	if err := ep.notifications.PublishEvent(ctx, event.UserID, event); err != nil {
		return fmt.Errorf("%w: %v", models.ErrDispatchFailed, err)
	}
	return nil
}

// PublishChainDiscovered publishes ChainDiscovered
func (ep *EventPublisher) PublishChainDiscovered(ctx context.Context, event *models.ChainDiscoveredEvent) error {
	return ep.chains.PublishEvent(ctx, fmt.Sprintf("chain-%s", event.ChainID), event)
}

// PublishChainConfirmed publishes ChainConfirmed, the settlement trigger
func (ep *EventPublisher) PublishChainConfirmed(ctx context.Context, event *models.ChainConfirmedEvent) error {
	return ep.chains.PublishEvent(ctx, fmt.Sprintf("chain-%s", event.ChainID), event)
}

// EventHandler routes inbound marketplace and settlement events to the
// registered callbacks.
type EventHandler struct {
	onItemCreated         func(context.Context, *models.ItemCreatedEvent) error
	onItemUpdated         func(context.Context, *models.ItemUpdatedEvent) error
	onItemDeleted         func(context.Context, *models.ItemDeletedEvent) error
	onOfferCreated        func(context.Context, *models.BarterOfferCreatedEvent) error
	onItemRequestCreated  func(context.Context, *models.BarterItemRequestCreatedEvent) error
	onReverseAuction      func(context.Context, *models.ReverseAuctionCreatedEvent) error
	onSettlementSucceeded func(context.Context, *models.SettlementResultEvent) error
	onSettlementFailed    func(context.Context, *models.SettlementResultEvent) error
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{}
}

func (eh *EventHandler) OnItemCreated(h func(context.Context, *models.ItemCreatedEvent) error) {
	eh.onItemCreated = h
}

func (eh *EventHandler) OnItemUpdated(h func(context.Context, *models.ItemUpdatedEvent) error) {
	eh.onItemUpdated = h
}

func (eh *EventHandler) OnItemDeleted(h func(context.Context, *models.ItemDeletedEvent) error) {
	eh.onItemDeleted = h
}

func (eh *EventHandler) OnBarterOfferCreated(h func(context.Context, *models.BarterOfferCreatedEvent) error) {
	eh.onOfferCreated = h
}

func (eh *EventHandler) OnBarterItemRequestCreated(h func(context.Context, *models.BarterItemRequestCreatedEvent) error) {
	eh.onItemRequestCreated = h
}

func (eh *EventHandler) OnReverseAuctionCreated(h func(context.Context, *models.ReverseAuctionCreatedEvent) error) {
	eh.onReverseAuction = h
}

func (eh *EventHandler) OnSettlementSucceeded(h func(context.Context, *models.SettlementResultEvent) error) {
	eh.onSettlementSucceeded = h
}

func (eh *EventHandler) OnSettlementFailed(h func(context.Context, *models.SettlementResultEvent) error) {
	eh.onSettlementFailed = h
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	switch baseEvent.EventType {
	case models.EventTypeItemCreated:
		return route(ctx, msg, eh.onItemCreated)
	case models.EventTypeItemUpdated:
		return route(ctx, msg, eh.onItemUpdated)
	case models.EventTypeItemDeleted:
		return route(ctx, msg, eh.onItemDeleted)
	case models.EventTypeBarterOfferCreated:
		return route(ctx, msg, eh.onOfferCreated)
	case models.EventTypeBarterItemRequestCreated:
		return route(ctx, msg, eh.onItemRequestCreated)
	case models.EventTypeReverseAuctionCreated:
		return route(ctx, msg, eh.onReverseAuction)
	case models.EventTypeSettlementSucceeded:
		return route(ctx, msg, eh.onSettlementSucceeded)
	case models.EventTypeSettlementFailed:
		return route(ctx, msg, eh.onSettlementFailed)
	default:
		log.Printf("Unhandled event type: %s", baseEvent.EventType)
	}

	return nil
}

func route[E any](ctx context.Context, msg kafka.Message, handler func(context.Context, *E) error) error {
	if handler == nil {
		return nil
	}
	var event E
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return fmt.Errorf("failed to unmarshal event: %w", err)
	}
	return handler(ctx, &event)
}
