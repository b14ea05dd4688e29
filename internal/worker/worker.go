package worker

import (
	"context"
	"log"
	"time"

	"matching-engine/internal/broker"
	"matching-engine/internal/service"
)

// MatchWorker consumes marketplace events and feeds the orchestrator
type MatchWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	orchestrator *service.Orchestrator
}

// NewMatchWorker creates a new match worker
func NewMatchWorker(
	consumer *broker.Consumer,
	orchestrator *service.Orchestrator,
) *MatchWorker {
	eventHandler := broker.NewEventHandler()

	eventHandler.OnItemCreated(orchestrator.HandleItemCreated)
	eventHandler.OnItemUpdated(orchestrator.HandleItemUpdated)
	eventHandler.OnItemDeleted(orchestrator.HandleItemDeleted)
	eventHandler.OnBarterOfferCreated(orchestrator.HandleBarterOfferCreated)
	eventHandler.OnBarterItemRequestCreated(orchestrator.HandleBarterItemRequestCreated)
	eventHandler.OnReverseAuctionCreated(orchestrator.HandleReverseAuctionCreated)

	return &MatchWorker{
		consumer:     consumer,
		eventHandler: eventHandler,
		orchestrator: orchestrator,
	}
}

// Start starts the worker
func (w *MatchWorker) Start(ctx context.Context) error {
	log.Println("Starting match worker...")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *MatchWorker) Stop() error {
	log.Println("Stopping match worker...")
	return w.consumer.Close()
}

// SettlementWorker consumes settlement outcomes for confirmed chains
type SettlementWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	orchestrator *service.Orchestrator
}

// NewSettlementWorker creates a new settlement worker
func NewSettlementWorker(
	consumer *broker.Consumer,
	orchestrator *service.Orchestrator,
) *SettlementWorker {
	eventHandler := broker.NewEventHandler()

	eventHandler.OnSettlementSucceeded(orchestrator.HandleSettlementSucceeded)
	eventHandler.OnSettlementFailed(orchestrator.HandleSettlementFailed)

	return &SettlementWorker{
		consumer:     consumer,
		eventHandler: eventHandler,
		orchestrator: orchestrator,
	}
}

// Start starts the settlement worker
func (sw *SettlementWorker) Start(ctx context.Context) error {
	log.Println("Starting settlement worker...")
	return sw.consumer.StartConsuming(ctx, sw.eventHandler.HandleMessage)
}

// Stop stops the settlement worker
func (sw *SettlementWorker) Stop() error {
	log.Println("Stopping settlement worker...")
	return sw.consumer.Close()
}

// ExpirySweeper periodically expires overdue chains and offers.
type ExpirySweeper struct {
	orchestrator *service.Orchestrator
	interval     time.Duration
}

// NewExpirySweeper creates a new expiry sweeper
func NewExpirySweeper(orchestrator *service.Orchestrator, interval time.Duration) *ExpirySweeper {
	return &ExpirySweeper{orchestrator: orchestrator, interval: interval}
}

// Start runs the sweep loop until the context is cancelled
func (es *ExpirySweeper) Start(ctx context.Context) error {
	log.Printf("Starting expiry sweeper (interval %s)...", es.interval)

	ticker := time.NewTicker(es.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Expiry sweeper context cancelled, stopping...")
			return ctx.Err()
		case <-ticker.C:
			if err := es.orchestrator.SweepExpired(ctx); err != nil {
				log.Printf("Expiry sweep error: %v", err)
			}
		}
	}
}
