package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"matching-engine/internal/matching"
	"matching-engine/internal/models"
	"matching-engine/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// discoverChainsFrom runs the bounded cycle search from one origin
// item and persists the surviving chains.
func (o *Orchestrator) discoverChainsFrom(ctx context.Context, eventID string, origin *models.Item) error {
	ctx, span := util.StartSpan(ctx, "Orchestrator.DiscoverChains")
	defer span.End()

	start := time.Now()
	defer func() {
		util.ChainSearchLatency.Observe(time.Since(start).Seconds())
	}()

	tax, err := o.gateway.Taxonomy(ctx)
	if err != nil {
		return err
	}

	pool, err := o.gateway.BarterPool(ctx)
	if err != nil {
		return err
	}

	nodes := make([]*models.Item, 0, len(pool)+1)
	inPool := false
	for i := range pool {
		if pool[i].ID == origin.ID {
			inPool = true
		}
		nodes = append(nodes, &pool[i])
	}
	if !inPool {
		nodes = append(nodes, origin)
	}

	graph := matching.BuildGraph(tax, nodes)
	discoverer := matching.NewChainDiscoverer(o.scorer(tax), tax, o.cfg.MaxChainLength, o.cfg.ChainSearchBudget)

	chains, truncated := discoverer.Discover(graph, origin.ID, o.now())
	if truncated {
		// Budget hit: partial results are kept, the run does not fail.
		util.ChainSearchTruncated.Inc()
		o.logger.Warn("Chain search truncated by budget",
			zap.String("origin_item_id", origin.ID),
			zap.Int("budget", o.cfg.ChainSearchBudget))
	}

	for _, chain := range chains {
		if err := o.persistChain(ctx, eventID, chain); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) persistChain(ctx context.Context, eventID string, discovered matching.DiscoveredChain) error {
	chain := &models.BarterChain{
		ID:               uuid.New().String(),
		Signature:        discovered.Signature,
		MatchScore:       discovered.Score,
		AlgorithmVersion: o.cfg.AlgorithmVersion,
		Status:           models.ChainStatusPending,
		ExpiresAt:        o.now().Add(o.cfg.ChainTTL),
	}

	participants := discovered.Participants(chain.ID)
	for i := range participants {
		participants[i].ID = uuid.New().String()
	}

	created, err := o.storage.CreateChain(ctx, chain, participants)
	if err != nil {
		return fmt.Errorf("failed to persist chain: %w", err)
	}
	if !created {
		// Same signature already persisted: replayed event, no-op.
		return nil
	}

	util.ChainsDiscoveredTotal.WithLabelValues(strconv.Itoa(discovered.Len())).Inc()
	o.logger.Info("Barter chain discovered",
		zap.String("chain_id", chain.ID),
		zap.String("signature", chain.Signature),
		zap.Int("length", discovered.Len()),
		zap.Float64("score", chain.MatchScore))

	userIDs := make([]string, 0, len(participants))
	for _, p := range participants {
		userIDs = append(userIDs, p.UserID)
	}
	if err := o.chains.PublishChainDiscovered(ctx, &models.ChainDiscoveredEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeChainDiscovered,
			Timestamp: o.now(),
		},
		ChainID:      chain.ID,
		Signature:    chain.Signature,
		Participants: userIDs,
		MatchScore:   chain.MatchScore,
	}); err != nil {
		o.logger.Error("Failed to publish ChainDiscovered", zap.Error(err))
	}

	for _, p := range participants {
		o.notifier.Notify(ctx, eventID, Notification{
			UserID:     p.UserID,
			Type:       "CHAIN_PROPOSED",
			Title:      fmt.Sprintf("A %d-way barter chain includes your item", len(participants)),
			Message:    "Review the proposed trade and accept or decline",
			Priority:   "high",
			EntityType: "barter_chain",
			EntityID:   chain.ID,
			ActionURL:  fmt.Sprintf("/barter/chains/%s", chain.ID),
		})
	}
	return nil
}

// GetChain returns a chain with its participants.
func (o *Orchestrator) GetChain(ctx context.Context, chainID string) (*models.BarterChain, error) {
	return o.storage.GetChainByID(ctx, chainID)
}

// RespondToChain records one participant's accept/reject answer and
// advances the chain state machine: all accepted -> CONFIRMED, any
// rejection -> CANCELLED with every item freed.
func (o *Orchestrator) RespondToChain(ctx context.Context, chainID, userID string, accept bool) (*models.BarterChain, error) {
	ctx, span := util.StartSpan(ctx, "Orchestrator.RespondToChain")
	defer span.End()

	chain, err := o.storage.GetChainByID(ctx, chainID)
	if err != nil {
		return nil, err
	}
	if chain.Status != models.ChainStatusPending {
		return nil, fmt.Errorf("chain %s is %s: %w", chainID, chain.Status, models.ErrValidation)
	}
	if o.now().After(chain.ExpiresAt) {
		return nil, fmt.Errorf("chain %s expired: %w", chainID, models.ErrValidation)
	}

	status := models.ParticipantStatusAccepted
	if !accept {
		status = models.ParticipantStatusRejected
	}
	updated, err := o.storage.SetParticipantStatus(ctx, chainID, userID, status)
	if err != nil {
		return nil, fmt.Errorf("failed to record response: %w", err)
	}
	if !updated {
		return nil, fmt.Errorf("no pending participation for user %s in chain %s: %w", userID, chainID, models.ErrNotFound)
	}

	if !accept {
		if err := o.cancelChain(ctx, uuid.New().String(), chain, "a participant declined the trade", ""); err != nil {
			return nil, err
		}
		return o.storage.GetChainByID(ctx, chainID)
	}

	chain, err = o.storage.GetChainByID(ctx, chainID)
	if err != nil {
		return nil, err
	}
	allAccepted := true
	for _, p := range chain.Participants {
		if p.Status != models.ParticipantStatusAccepted {
			allAccepted = false
			break
		}
	}
	if allAccepted {
		if err := o.confirmChain(ctx, chain); err != nil {
			return nil, err
		}
		return o.storage.GetChainByID(ctx, chainID)
	}
	return chain, nil
}

// confirmChain finalizes a fully accepted chain. Before committing it
// re-reads every participant item's status: chains take human time to
// gather acceptances, so this is an optimistic check-then-act, not a
// held lock. Any item no longer ACTIVE fails the chain closed.
func (o *Orchestrator) confirmChain(ctx context.Context, chain *models.BarterChain) error {
	lockKey := fmt.Sprintf("chain:%s", chain.ID)
	locked, err := o.locker.AcquireLock(ctx, lockKey, 30*time.Second)
	if err != nil {
		return fmt.Errorf("failed to acquire chain lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("chain %s is being confirmed elsewhere: %w", chain.ID, models.ErrConcurrencyConflict)
	}
	defer func() {
		if err := o.locker.ReleaseLock(ctx, lockKey); err != nil {
			o.logger.Warn("Failed to release chain lock", zap.Error(err))
		}
	}()

	itemIDs := make([]string, 0, len(chain.Participants))
	for _, p := range chain.Participants {
		itemIDs = append(itemIDs, p.GivingItemID)
	}

	statuses, err := o.storage.GetItemStatuses(ctx, itemIDs)
	if err != nil {
		return fmt.Errorf("failed to re-read item statuses: %w", err)
	}
	for _, id := range itemIDs {
		if statuses[id] != models.ItemStatusActive {
			if cancelErr := o.cancelChain(ctx, uuid.New().String(), chain, "an item is no longer available", ""); cancelErr != nil {
				return cancelErr
			}
			return fmt.Errorf("item %s is %s: %w", id, statuses[id], models.ErrConcurrencyConflict)
		}
	}

	reserved := make([]string, 0, len(itemIDs))
	for _, id := range itemIDs {
		ok, err := o.storage.TransitionItemStatus(ctx, id, models.ItemStatusActive, models.ItemStatusReserved)
		if err == nil && !ok {
			err = fmt.Errorf("item %s changed state: %w", id, models.ErrConcurrencyConflict)
		}
		if err != nil {
			// Partial reservation: free what we took and fail closed.
			for _, rid := range reserved {
				if _, revertErr := o.storage.TransitionItemStatus(ctx, rid, models.ItemStatusReserved, models.ItemStatusActive); revertErr != nil {
					o.logger.Error("Failed to revert reservation",
						zap.String("item_id", rid),
						zap.Error(revertErr))
				}
			}
			if cancelErr := o.cancelChain(ctx, uuid.New().String(), chain, "an item is no longer available", ""); cancelErr != nil {
				o.logger.Error("Failed to cancel conflicted chain", zap.Error(cancelErr))
			}
			return err
		}
		reserved = append(reserved, id)
	}

	moved, err := o.storage.UpdateChainStatus(ctx, chain.ID, models.ChainStatusPending, models.ChainStatusConfirmed)
	if err != nil {
		return fmt.Errorf("failed to confirm chain: %w", err)
	}
	if !moved {
		return fmt.Errorf("chain %s left PENDING concurrently: %w", chain.ID, models.ErrConcurrencyConflict)
	}

	util.ChainsConfirmedTotal.Inc()
	o.logger.Info("Barter chain confirmed", zap.String("chain_id", chain.ID))

	if err := o.chains.PublishChainConfirmed(ctx, &models.ChainConfirmedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeChainConfirmed,
			Timestamp: o.now(),
		},
		ChainID: chain.ID,
		ItemIDs: itemIDs,
	}); err != nil {
		o.logger.Error("Failed to publish ChainConfirmed", zap.Error(err))
	}

	for _, p := range chain.Participants {
		o.notifier.Notify(ctx, chain.ID, Notification{
			UserID:     p.UserID,
			Type:       "CHAIN_CONFIRMED",
			Title:      "Your barter chain is confirmed",
			Message:    "All participants accepted; settlement is underway",
			Priority:   "high",
			EntityType: "barter_chain",
			EntityID:   chain.ID,
		})
	}
	return nil
}

// cancelChain moves a chain to CANCELLED, frees any reserved items,
// and notifies the participants that the trade fell through. The owner
// of excludeItemID (when set) caused the cancellation and is skipped.
func (o *Orchestrator) cancelChain(ctx context.Context, triggerEventID string, chain *models.BarterChain, reason, excludeItemID string) error {
	from := chain.Status
	moved, err := o.storage.UpdateChainStatus(ctx, chain.ID, from, models.ChainStatusCancelled)
	if err != nil {
		return fmt.Errorf("failed to cancel chain: %w", err)
	}
	if !moved {
		return nil
	}

	util.ChainsCancelledTotal.WithLabelValues(reasonLabel(reason)).Inc()
	o.logger.Info("Barter chain cancelled",
		zap.String("chain_id", chain.ID),
		zap.String("reason", reason))

	itemIDs, err := o.storage.GetChainItemIDs(ctx, chain.ID)
	if err != nil {
		return err
	}
	for _, id := range itemIDs {
		if id == excludeItemID {
			continue
		}
		if _, err := o.storage.TransitionItemStatus(ctx, id, models.ItemStatusReserved, models.ItemStatusActive); err != nil {
			o.logger.Error("Failed to free item",
				zap.String("item_id", id),
				zap.Error(err))
		}
	}

	participants := chain.Participants
	if len(participants) == 0 {
		full, err := o.storage.GetChainByID(ctx, chain.ID)
		if err != nil {
			return err
		}
		participants = full.Participants
	}
	for _, p := range participants {
		if p.GivingItemID == excludeItemID {
			continue
		}
		o.notifier.Notify(ctx, triggerEventID, Notification{
			UserID:     p.UserID,
			Type:       "CHAIN_CANCELLED",
			Title:      "Trade no longer available",
			Message:    fmt.Sprintf("Your barter chain was cancelled: %s", reason),
			Priority:   "high",
			EntityType: "barter_chain",
			EntityID:   chain.ID,
		})
	}
	return nil
}

func reasonLabel(reason string) string {
	switch reason {
	case "a participant declined the trade":
		return "rejected"
	case "an item is no longer available":
		return "conflict"
	case "an item in the chain was removed":
		return "item_deleted"
	case "settlement failed":
		return "settlement_failed"
	default:
		return "other"
	}
}

// HandleSettlementSucceeded marks the chain's items as traded away.
func (o *Orchestrator) HandleSettlementSucceeded(ctx context.Context, event *models.SettlementResultEvent) error {
	ctx, span := util.StartSpan(ctx, "Orchestrator.HandleSettlementSucceeded")
	defer span.End()

	proceed, release, err := o.claimRun(ctx, event.EventID, event.EventType)
	if err != nil || !proceed {
		return err
	}

	runErr := func() error {
		itemIDs, err := o.storage.GetChainItemIDs(ctx, event.ChainID)
		if err != nil {
			return err
		}
		for _, id := range itemIDs {
			if _, err := o.storage.TransitionItemStatus(ctx, id, models.ItemStatusReserved, models.ItemStatusSold); err != nil {
				return fmt.Errorf("failed to mark item sold: %w", err)
			}
		}
		o.logger.Info("Chain settled", zap.String("chain_id", event.ChainID))
		return nil
	}()
	release(runErr)
	return runErr
}

// HandleSettlementFailed reverts a confirmed chain: settlement is
// all-or-nothing, so every item goes back to ACTIVE and the chain is
// cancelled.
func (o *Orchestrator) HandleSettlementFailed(ctx context.Context, event *models.SettlementResultEvent) error {
	ctx, span := util.StartSpan(ctx, "Orchestrator.HandleSettlementFailed")
	defer span.End()

	proceed, release, err := o.claimRun(ctx, event.EventID, event.EventType)
	if err != nil || !proceed {
		return err
	}

	runErr := func() error {
		chain, err := o.storage.GetChainByID(ctx, event.ChainID)
		if err != nil {
			return o.abortable(err, event.EventID)
		}
		if chain.Status != models.ChainStatusConfirmed {
			return nil
		}
		return o.cancelChain(ctx, event.EventID, chain, "settlement failed", "")
	}()
	release(runErr)
	return runErr
}

// SweepExpired transitions chains and offers past their deadline to
// EXPIRED and frees the affected items. EXPIRED is terminal: nothing
// here or elsewhere resurrects an expired record.
func (o *Orchestrator) SweepExpired(ctx context.Context) error {
	now := o.now()

	chainIDs, err := o.storage.ExpireChains(ctx, now)
	if err != nil {
		return fmt.Errorf("failed to expire chains: %w", err)
	}
	for _, chainID := range chainIDs {
		util.ChainsExpiredTotal.Inc()
		itemIDs, err := o.storage.GetChainItemIDs(ctx, chainID)
		if err != nil {
			o.logger.Error("Failed to load expired chain items", zap.Error(err))
			continue
		}
		for _, id := range itemIDs {
			if _, err := o.storage.TransitionItemStatus(ctx, id, models.ItemStatusReserved, models.ItemStatusActive); err != nil {
				o.logger.Error("Failed to free item from expired chain",
					zap.String("item_id", id),
					zap.Error(err))
			}
		}
	}
	if len(chainIDs) > 0 {
		o.logger.Info("Expired chains swept", zap.Int("count", len(chainIDs)))
	}

	expiredOffers, err := o.storage.ExpireOffers(ctx, now)
	if err != nil {
		return fmt.Errorf("failed to expire offers: %w", err)
	}
	if expiredOffers > 0 {
		o.logger.Info("Expired offers swept", zap.Int64("count", expiredOffers))
	}
	return nil
}
