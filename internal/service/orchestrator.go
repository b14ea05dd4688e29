package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"matching-engine/config"
	"matching-engine/internal/matching"
	"matching-engine/internal/models"
	"matching-engine/internal/store"
	"matching-engine/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Storage is the slice of the storage collaborator the orchestrator
// depends on. *store.Store satisfies it.
type Storage interface {
	GetItemByID(ctx context.Context, id string) (*models.Item, error)
	CreateItem(ctx context.Context, item *models.Item) error
	UpdateItemStatus(ctx context.Context, itemID, status string) error
	TransitionItemStatus(ctx context.Context, itemID, from, to string) (bool, error)
	GetItemStatuses(ctx context.Context, ids []string) (map[string]string, error)
	GetCategories(ctx context.Context) ([]models.Category, error)
	FindItemCandidates(ctx context.Context, f store.CandidateFilter) ([]models.Item, error)
	FindDemandCandidates(ctx context.Context, categoryIDs []string, value int64, limit int) ([]models.DemandRequest, error)
	GetBarterPool(ctx context.Context, limit int) ([]models.Item, error)
	GetOfferByID(ctx context.Context, id string) (*models.BarterOffer, error)
	GetOfferItemIDs(ctx context.Context, offerID string) ([]string, error)
	ExpireOffers(ctx context.Context, now time.Time) (int64, error)

	InsertMatch(ctx context.Context, m *models.Match) (bool, error)
	GetMatchesForItem(ctx context.Context, itemID, userID string) ([]models.Match, error)
	GetMatchesForUser(ctx context.Context, userID string) ([]models.Match, error)
	DeleteMatchesForItem(ctx context.Context, itemID string) error

	CreateChain(ctx context.Context, chain *models.BarterChain, participants []models.ChainParticipant) (bool, error)
	GetChainByID(ctx context.Context, id string) (*models.BarterChain, error)
	UpdateChainStatus(ctx context.Context, chainID, from, to string) (bool, error)
	SetParticipantStatus(ctx context.Context, chainID, userID, status string) (bool, error)
	GetPendingChainsForItem(ctx context.Context, itemID string) ([]models.BarterChain, error)
	ExpireChains(ctx context.Context, now time.Time) ([]string, error)
	GetChainItemIDs(ctx context.Context, chainID string) ([]string, error)
	GetMatchingStats(ctx context.Context) (*models.MatchingStats, error)

	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
}

// Locker is the Redis surface the orchestrator uses for event claims
// and the chain confirmation mutex.
type Locker interface {
	ClaimEvent(ctx context.Context, eventID string, ttl time.Duration) (bool, error)
	ReleaseEvent(ctx context.Context, eventID string) error
	AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, lockKey string) error
}

// ChainEvents publishes chain lifecycle events.
type ChainEvents interface {
	PublishChainDiscovered(ctx context.Context, event *models.ChainDiscoveredEvent) error
	PublishChainConfirmed(ctx context.Context, event *models.ChainConfirmedEvent) error
}

// Orchestrator drives the matching pipeline for each inbound event and
// owns every chain/match state mutation. All other matching components
// are pure functions over their inputs.
type Orchestrator struct {
	storage  Storage
	gateway  *Gateway
	locker   Locker
	notifier Notifier
	chains   ChainEvents
	cfg      config.MatchingConfig
	logger   *zap.Logger
	now      func() time.Time
}

// NewOrchestrator creates a match orchestrator
func NewOrchestrator(storage Storage, gateway *Gateway, locker Locker, notifier Notifier, chains ChainEvents, cfg config.MatchingConfig) *Orchestrator {
	return &Orchestrator{
		storage:  storage,
		gateway:  gateway,
		locker:   locker,
		notifier: notifier,
		chains:   chains,
		cfg:      cfg,
		logger:   util.GetLogger(),
		now:      time.Now,
	}
}

func (o *Orchestrator) scorer(tax matching.Taxonomy) *matching.Scorer {
	weights := matching.Weights{
		Category:  o.cfg.CategoryWeight,
		Geo:       o.cfg.GeoWeight,
		Price:     o.cfg.PriceWeight,
		Condition: o.cfg.ConditionWeight,
		Recency:   o.cfg.RecencyWeight,
	}
	return matching.NewScorer(weights, tax, o.cfg.RecencyHalfLifeDays)
}

// claimRun guards a matching run against duplicate event delivery.
// Returns false when the event was already handled. The returned
// release func undoes the fast-path claim so a failed run can be
// redelivered.
func (o *Orchestrator) claimRun(ctx context.Context, eventID, eventType string) (bool, func(error), error) {
	claimed, err := o.locker.ClaimEvent(ctx, eventID, 24*time.Hour)
	if err != nil {
		// Fast path only; the ledger below stays authoritative.
		o.logger.Warn("Event claim failed, falling back to ledger", zap.Error(err))
	} else if !claimed {
		return false, nil, nil
	}

	processed, err := o.storage.IsEventProcessed(ctx, eventID)
	if err != nil {
		return false, nil, fmt.Errorf("failed to check event ledger: %w", err)
	}
	if processed {
		return false, nil, nil
	}

	release := func(runErr error) {
		if runErr != nil {
			if err := o.locker.ReleaseEvent(ctx, eventID); err != nil {
				o.logger.Warn("Failed to release event claim", zap.Error(err))
			}
			return
		}
		if err := o.storage.MarkEventProcessed(ctx, eventID, eventType); err != nil {
			o.logger.Error("Failed to mark event processed", zap.Error(err))
		}
	}
	return true, release, nil
}

// abortable degrades domain errors to "no matches" semantics: a
// vanished or invalid trigger ends the run silently.
func (o *Orchestrator) abortable(err error, eventID string) error {
	if errors.Is(err, models.ErrNotFound) || errors.Is(err, models.ErrValidation) {
		util.MatchingRunsFailed.WithLabelValues("trigger_gone").Inc()
		o.logger.Info("Matching run aborted",
			zap.String("event_id", eventID),
			zap.Error(err))
		return nil
	}
	return err
}

// HandleItemCreated runs supply<->demand matching for the new item and,
// when the item carries barter preferences, chain discovery.
func (o *Orchestrator) HandleItemCreated(ctx context.Context, event *models.ItemCreatedEvent) error {
	ctx, span := util.StartSpan(ctx, "Orchestrator.HandleItemCreated")
	defer span.End()

	proceed, release, err := o.claimRun(ctx, event.EventID, event.EventType)
	if err != nil || !proceed {
		return err
	}
	util.MatchingRunsTotal.WithLabelValues(event.EventType).Inc()

	runErr := o.runItemMatching(ctx, event.EventID, event.ItemID)
	release(runErr)
	return runErr
}

// HandleItemUpdated re-runs matching only when a matching-relevant
// field changed.
func (o *Orchestrator) HandleItemUpdated(ctx context.Context, event *models.ItemUpdatedEvent) error {
	ctx, span := util.StartSpan(ctx, "Orchestrator.HandleItemUpdated")
	defer span.End()

	if !event.Changes.Relevant() {
		return nil
	}

	proceed, release, err := o.claimRun(ctx, event.EventID, event.EventType)
	if err != nil || !proceed {
		return err
	}
	util.MatchingRunsTotal.WithLabelValues(event.EventType).Inc()

	runErr := o.runItemMatching(ctx, event.EventID, event.ItemID)
	release(runErr)
	return runErr
}

func (o *Orchestrator) runItemMatching(ctx context.Context, eventID, itemID string) error {
	item, err := o.storage.GetItemByID(ctx, itemID)
	if err != nil {
		return o.abortable(err, eventID)
	}
	if item.Status != models.ItemStatusActive {
		return o.abortable(fmt.Errorf("item %s is %s: %w", itemID, item.Status, models.ErrValidation), eventID)
	}
	if !item.Loc().Valid() {
		return o.abortable(fmt.Errorf("item %s location: %w", itemID, models.ErrValidation), eventID)
	}

	if err := o.matchItemToDemand(ctx, eventID, item); err != nil {
		return err
	}
	if item.HasBarterPreferences() {
		return o.discoverChainsFrom(ctx, eventID, item)
	}
	return nil
}

// matchItemToDemand matches a listed item against outstanding demand
// requests (purchases and reverse auctions).
func (o *Orchestrator) matchItemToDemand(ctx context.Context, eventID string, item *models.Item) error {
	tax, err := o.gateway.Taxonomy(ctx)
	if err != nil {
		return err
	}

	requests, _, err := o.gateway.DemandCandidates(ctx, tax, item)
	if err != nil {
		return err
	}
	if len(requests) == 0 {
		return nil
	}

	scorer := o.scorer(tax)
	subjects := make([]matching.Subject, len(requests))
	byID := make(map[string]*models.DemandRequest, len(requests))
	for i := range requests {
		subjects[i] = matching.DemandSubject(&requests[i])
		byID[requests[i].ID] = &requests[i]
	}

	candidates := matching.MatchDemand(scorer, matching.ItemSubject(item), subjects, o.cfg.ScoreFloor, o.cfg.TopK, o.now())

	for _, c := range candidates {
		created, err := o.storage.InsertMatch(ctx, &models.Match{
			ID:            uuid.New().String(),
			SourceID:      item.ID,
			TargetID:      c.TargetID,
			SourceOwnerID: item.OwnerID,
			TargetOwnerID: c.TargetOwnerID,
			Kind:          models.MatchKindDemand,
			Score:         c.Score,
			Tier:          c.Tier,
			Reason:        strings.Join(c.Reasons, ", "),
		})
		if err != nil {
			return fmt.Errorf("failed to persist match: %w", err)
		}
		if created {
			util.MatchesFoundTotal.WithLabelValues(models.MatchKindDemand).Inc()
		}
	}

	for _, c := range matching.StrongestPerUser(candidates) {
		req := byID[c.TargetID]
		kind := "purchase request"
		if req != nil && req.Kind == models.DemandKindReverseAuction {
			kind = "reverse auction"
		}
		o.notifier.Notify(ctx, eventID, Notification{
			UserID:     c.TargetOwnerID,
			Type:       "MATCH_FOUND",
			Title:      "An item matching your request was listed",
			Message:    fmt.Sprintf("%q matches your %s (%s)", item.Title, kind, strings.Join(c.Reasons, ", ")),
			Priority:   "normal",
			EntityType: "item",
			EntityID:   item.ID,
			ActionURL:  fmt.Sprintf("/items/%s", item.ID),
		})
	}
	return nil
}

// matchDemandToItems matches a demand-side trigger (barter item
// request or reverse auction) against listed items.
func (o *Orchestrator) matchDemandToItems(ctx context.Context, eventID string, demand *models.DemandRequest) error {
	if demand.CategoryID == "" {
		return o.abortable(fmt.Errorf("demand %s has no category: %w", demand.ID, models.ErrValidation), eventID)
	}
	if !demand.Loc().Valid() {
		return o.abortable(fmt.Errorf("demand %s location: %w", demand.ID, models.ErrValidation), eventID)
	}

	tax, err := o.gateway.Taxonomy(ctx)
	if err != nil {
		return err
	}

	items, _, err := o.gateway.ItemCandidates(ctx, tax, demand.CategoryID, demand.PriceMin, demand.PriceMax, demand.Condition, demand.Loc())
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}

	scorer := o.scorer(tax)
	subjects := make([]matching.Subject, len(items))
	for i := range items {
		subjects[i] = matching.ItemSubject(&items[i])
	}

	candidates := matching.MatchDemand(scorer, matching.DemandSubject(demand), subjects, o.cfg.ScoreFloor, o.cfg.TopK, o.now())

	for _, c := range candidates {
		created, err := o.storage.InsertMatch(ctx, &models.Match{
			ID:            uuid.New().String(),
			SourceID:      demand.ID,
			TargetID:      c.TargetID,
			SourceOwnerID: demand.RequesterID,
			TargetOwnerID: c.TargetOwnerID,
			Kind:          models.MatchKindDemand,
			Score:         c.Score,
			Tier:          c.Tier,
			Reason:        strings.Join(c.Reasons, ", "),
		})
		if err != nil {
			return fmt.Errorf("failed to persist match: %w", err)
		}
		if created {
			util.MatchesFoundTotal.WithLabelValues(models.MatchKindDemand).Inc()
		}
	}

	for _, c := range matching.StrongestPerUser(candidates) {
		o.notifier.Notify(ctx, eventID, Notification{
			UserID:     c.TargetOwnerID,
			Type:       "DEMAND_MATCH",
			Title:      "A buyer is looking for an item like yours",
			Message:    fmt.Sprintf("Your listing matches an open request (%s)", strings.Join(c.Reasons, ", ")),
			Priority:   "normal",
			EntityType: "demand_request",
			EntityID:   demand.ID,
		})
	}

	if len(candidates) > 0 {
		o.notifier.Notify(ctx, eventID, Notification{
			UserID:     demand.RequesterID,
			Type:       "MATCH_FOUND",
			Title:      "We found items matching your request",
			Message:    fmt.Sprintf("%d listings match your request", len(candidates)),
			Priority:   "normal",
			EntityType: "demand_request",
			EntityID:   demand.ID,
		})
	}
	return nil
}

// HandleItemDeleted invalidates matches and cascades pending chains
// that reference the deleted item.
func (o *Orchestrator) HandleItemDeleted(ctx context.Context, event *models.ItemDeletedEvent) error {
	ctx, span := util.StartSpan(ctx, "Orchestrator.HandleItemDeleted")
	defer span.End()

	proceed, release, err := o.claimRun(ctx, event.EventID, event.EventType)
	if err != nil || !proceed {
		return err
	}

	runErr := o.invalidateItem(ctx, event.EventID, event.ItemID)
	release(runErr)
	return runErr
}

func (o *Orchestrator) invalidateItem(ctx context.Context, eventID, itemID string) error {
	if err := o.storage.DeleteMatchesForItem(ctx, itemID); err != nil {
		return fmt.Errorf("failed to delete matches: %w", err)
	}

	chains, err := o.storage.GetPendingChainsForItem(ctx, itemID)
	if err != nil {
		return fmt.Errorf("failed to load chains for item: %w", err)
	}
	for i := range chains {
		if err := o.cancelChain(ctx, eventID, &chains[i], "an item in the chain was removed", itemID); err != nil {
			return err
		}
	}
	return nil
}

// HandleBarterOfferCreated runs pairwise and chain matching for every
// item bundled into the offer.
func (o *Orchestrator) HandleBarterOfferCreated(ctx context.Context, event *models.BarterOfferCreatedEvent) error {
	ctx, span := util.StartSpan(ctx, "Orchestrator.HandleBarterOfferCreated")
	defer span.End()

	proceed, release, err := o.claimRun(ctx, event.EventID, event.EventType)
	if err != nil || !proceed {
		return err
	}
	util.MatchingRunsTotal.WithLabelValues(event.EventType).Inc()

	runErr := o.runOfferMatching(ctx, event.EventID, event.OfferID)
	release(runErr)
	return runErr
}

func (o *Orchestrator) runOfferMatching(ctx context.Context, eventID, offerID string) error {
	offer, err := o.storage.GetOfferByID(ctx, offerID)
	if err != nil {
		return o.abortable(err, eventID)
	}
	if offer.Status != models.OfferStatusPending {
		return o.abortable(fmt.Errorf("offer %s is %s: %w", offerID, offer.Status, models.ErrValidation), eventID)
	}

	itemIDs, err := o.storage.GetOfferItemIDs(ctx, offerID)
	if err != nil {
		return err
	}
	if len(itemIDs) == 0 {
		return o.abortable(fmt.Errorf("offer %s has no items: %w", offerID, models.ErrValidation), eventID)
	}

	tax, err := o.gateway.Taxonomy(ctx)
	if err != nil {
		return err
	}
	scorer := o.scorer(tax)
	desire := matching.OfferDesire(offer)

	for _, itemID := range itemIDs {
		item, err := o.storage.GetItemByID(ctx, itemID)
		if err != nil {
			if errors.Is(err, models.ErrNotFound) {
				continue
			}
			return err
		}
		if item.Status != models.ItemStatusActive {
			continue
		}

		if err := o.matchPairwise(ctx, eventID, tax, scorer, offer, desire, item); err != nil {
			return err
		}
		if err := o.discoverChainsFrom(ctx, eventID, item); err != nil {
			return err
		}
	}
	return nil
}

// matchPairwise finds two-party swaps for one offered item.
func (o *Orchestrator) matchPairwise(ctx context.Context, eventID string, tax matching.Taxonomy, scorer *matching.Scorer, offer *models.BarterOffer, desire matching.DesireProfile, offered *models.Item) error {
	pool, err := o.gateway.BarterPool(ctx)
	if err != nil {
		return err
	}

	counters := make([]*models.Item, 0, len(pool))
	for i := range pool {
		counters = append(counters, &pool[i])
	}

	swaps := matching.Pairwise(scorer, tax, offered, desire, counters, o.cfg.ScoreFloor, o.now())
	if len(swaps) > o.cfg.TopK {
		swaps = swaps[:o.cfg.TopK]
	}

	notified := make([]matching.Candidate, 0, len(swaps))
	for _, swap := range swaps {
		created, err := o.storage.InsertMatch(ctx, &models.Match{
			ID:            uuid.New().String(),
			SourceID:      swap.Offered.ID,
			TargetID:      swap.Counter.ID,
			SourceOwnerID: swap.Offered.OwnerID,
			TargetOwnerID: swap.Counter.OwnerID,
			Kind:          models.MatchKindPairwise,
			Score:         swap.Candidate.Score,
			Tier:          swap.Candidate.Tier,
			Reason:        strings.Join(swap.Candidate.Reasons, ", "),
		})
		if err != nil {
			return fmt.Errorf("failed to persist match: %w", err)
		}
		if created {
			util.MatchesFoundTotal.WithLabelValues(models.MatchKindPairwise).Inc()
		}
		notified = append(notified, swap.Candidate)
	}

	for _, c := range matching.StrongestPerUser(notified) {
		o.notifier.Notify(ctx, eventID, Notification{
			UserID:     c.TargetOwnerID,
			Type:       "BARTER_MATCH",
			Title:      "A barter offer matches your item",
			Message:    fmt.Sprintf("%q could be swapped for your listing", offered.Title),
			Priority:   "normal",
			EntityType: "barter_offer",
			EntityID:   offer.ID,
			ActionURL:  fmt.Sprintf("/barter/offers/%s", offer.ID),
		})
	}
	return nil
}

// HandleBarterItemRequestCreated feeds the demand matcher from a
// barter-side request.
func (o *Orchestrator) HandleBarterItemRequestCreated(ctx context.Context, event *models.BarterItemRequestCreatedEvent) error {
	ctx, span := util.StartSpan(ctx, "Orchestrator.HandleBarterItemRequestCreated")
	defer span.End()

	proceed, release, err := o.claimRun(ctx, event.EventID, event.EventType)
	if err != nil || !proceed {
		return err
	}
	util.MatchingRunsTotal.WithLabelValues(event.EventType).Inc()

	offer, err := o.storage.GetOfferByID(ctx, event.OfferID)
	if err != nil {
		runErr := o.abortable(err, event.EventID)
		release(runErr)
		return runErr
	}

	demand := &models.DemandRequest{
		ID:          event.RequestID,
		RequesterID: event.InitiatorID,
		CategoryID:  event.CategoryID,
		Keywords:    strings.Join(event.Keywords, " "),
		PriceMin:    event.MinPrice,
		PriceMax:    event.MaxPrice,
		Condition:   event.Condition,
		District:    offer.District,
		City:        offer.City,
		Governorate: offer.Governorate,
		Country:     offer.Country,
		Kind:        models.DemandKindPurchase,
		CreatedAt:   event.Timestamp,
	}

	runErr := o.matchDemandToItems(ctx, event.EventID, demand)
	release(runErr)
	return runErr
}

// HandleReverseAuctionCreated feeds the demand matcher from a buyer's
// reverse auction.
func (o *Orchestrator) HandleReverseAuctionCreated(ctx context.Context, event *models.ReverseAuctionCreatedEvent) error {
	ctx, span := util.StartSpan(ctx, "Orchestrator.HandleReverseAuctionCreated")
	defer span.End()

	proceed, release, err := o.claimRun(ctx, event.EventID, event.EventType)
	if err != nil || !proceed {
		return err
	}
	util.MatchingRunsTotal.WithLabelValues(event.EventType).Inc()

	demand := &models.DemandRequest{
		ID:          event.AuctionID,
		RequesterID: event.BuyerID,
		CategoryID:  event.CategoryID,
		PriceMin:    event.TargetPrice,
		PriceMax:    event.MaxBudget,
		District:    event.District,
		City:        event.City,
		Governorate: event.Governorate,
		Kind:        models.DemandKindReverseAuction,
		CreatedAt:   event.Timestamp,
	}

	runErr := o.matchDemandToItems(ctx, event.EventID, demand)
	release(runErr)
	return runErr
}

// ProcessNewItem persists an item handed over in-process and runs the
// same pipeline an ITEM_CREATED event would.
func (o *Orchestrator) ProcessNewItem(ctx context.Context, item *models.Item) error {
	ctx, span := util.StartSpan(ctx, "Orchestrator.ProcessNewItem")
	defer span.End()

	if item.OwnerID == "" || item.CategoryID == "" || !item.Loc().Valid() {
		return fmt.Errorf("item payload: %w", models.ErrValidation)
	}
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	if item.Status == "" {
		item.Status = models.ItemStatusActive
	}

	if err := o.storage.CreateItem(ctx, item); err != nil {
		return fmt.Errorf("failed to create item: %w", err)
	}

	event := &models.ItemCreatedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeItemCreated,
			Timestamp: o.now(),
		},
		ItemID:               item.ID,
		UserID:               item.OwnerID,
		CategoryID:           item.CategoryID,
		HasBarterPreferences: item.HasBarterPreferences(),
	}
	return o.HandleItemCreated(ctx, event)
}

// GetMatchesForItem returns persisted matches for one of the user's items
func (o *Orchestrator) GetMatchesForItem(ctx context.Context, itemID, userID string) ([]models.Match, error) {
	return o.storage.GetMatchesForItem(ctx, itemID, userID)
}

// GetMatchesForUser returns all persisted matches touching the user
func (o *Orchestrator) GetMatchesForUser(ctx context.Context, userID string) ([]models.Match, error) {
	return o.storage.GetMatchesForUser(ctx, userID)
}

// GetMatchingStats returns aggregate matching counters
func (o *Orchestrator) GetMatchingStats(ctx context.Context) (*models.MatchingStats, error) {
	stats, err := o.storage.GetMatchingStats(ctx)
	if err != nil {
		return nil, err
	}
	stats.AlgorithmVersion = o.cfg.AlgorithmVersion
	return stats, nil
}
