package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"matching-engine/config"
	"matching-engine/internal/models"
	"matching-engine/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStorage is an in-memory Storage for orchestrator tests.
type fakeStorage struct {
	mu           sync.Mutex
	items        map[string]*models.Item
	categories   []models.Category
	demands      []models.DemandRequest
	offers       map[string]*models.BarterOffer
	offerItems   map[string][]string
	matches      []models.Match
	chains       map[string]*models.BarterChain
	participants map[string][]models.ChainParticipant
	processed    map[string]bool
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{
		items:        make(map[string]*models.Item),
		offers:       make(map[string]*models.BarterOffer),
		offerItems:   make(map[string][]string),
		chains:       make(map[string]*models.BarterChain),
		participants: make(map[string][]models.ChainParticipant),
		processed:    make(map[string]bool),
	}
}

func (f *fakeStorage) GetItemByID(_ context.Context, id string) (*models.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	it, ok := f.items[id]
	if !ok {
		return nil, fmt.Errorf("item %s: %w", id, models.ErrNotFound)
	}
	cp := *it
	return &cp, nil
}

func (f *fakeStorage) CreateItem(_ context.Context, item *models.Item) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *item
	f.items[item.ID] = &cp
	return nil
}

func (f *fakeStorage) UpdateItemStatus(_ context.Context, itemID, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if it, ok := f.items[itemID]; ok {
		it.Status = status
	}
	return nil
}

func (f *fakeStorage) TransitionItemStatus(_ context.Context, itemID, from, to string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	it, ok := f.items[itemID]
	if !ok || it.Status != from {
		return false, nil
	}
	it.Status = to
	return true, nil
}

func (f *fakeStorage) GetItemStatuses(_ context.Context, ids []string) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]string, len(ids))
	for _, id := range ids {
		if it, ok := f.items[id]; ok {
			out[id] = it.Status
		}
	}
	return out, nil
}

func (f *fakeStorage) GetCategories(_ context.Context) ([]models.Category, error) {
	return f.categories, nil
}

func (f *fakeStorage) FindItemCandidates(_ context.Context, filter store.CandidateFilter) ([]models.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	allowed := make(map[string]bool, len(filter.CategoryIDs))
	for _, id := range filter.CategoryIDs {
		allowed[id] = true
	}
	var out []models.Item
	for _, it := range f.items {
		if it.Status == models.ItemStatusActive && allowed[it.CategoryID] {
			out = append(out, *it)
		}
	}
	return out, nil
}

func (f *fakeStorage) FindDemandCandidates(_ context.Context, categoryIDs []string, _ int64, _ int) ([]models.DemandRequest, error) {
	allowed := make(map[string]bool, len(categoryIDs))
	for _, id := range categoryIDs {
		allowed[id] = true
	}
	var out []models.DemandRequest
	for _, d := range f.demands {
		if allowed[d.CategoryID] {
			out = append(out, d)
		}
	}
	return out, nil
}

func (f *fakeStorage) GetBarterPool(_ context.Context, _ int) ([]models.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Item
	for _, it := range f.items {
		if it.Status == models.ItemStatusActive && it.HasBarterPreferences() {
			out = append(out, *it)
		}
	}
	return out, nil
}

func (f *fakeStorage) GetOfferByID(_ context.Context, id string) (*models.BarterOffer, error) {
	o, ok := f.offers[id]
	if !ok {
		return nil, fmt.Errorf("offer %s: %w", id, models.ErrNotFound)
	}
	cp := *o
	return &cp, nil
}

func (f *fakeStorage) GetOfferItemIDs(_ context.Context, offerID string) ([]string, error) {
	return f.offerItems[offerID], nil
}

func (f *fakeStorage) ExpireOffers(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

func (f *fakeStorage) InsertMatch(_ context.Context, m *models.Match) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.matches {
		if existing.SourceID == m.SourceID && existing.TargetID == m.TargetID && existing.Kind == m.Kind {
			return false, nil
		}
	}
	f.matches = append(f.matches, *m)
	return true, nil
}

func (f *fakeStorage) GetMatchesForItem(_ context.Context, itemID, userID string) ([]models.Match, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Match
	for _, m := range f.matches {
		if (m.SourceID == itemID && m.SourceOwnerID == userID) || (m.TargetID == itemID && m.TargetOwnerID == userID) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeStorage) GetMatchesForUser(_ context.Context, userID string) ([]models.Match, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Match
	for _, m := range f.matches {
		if m.SourceOwnerID == userID || m.TargetOwnerID == userID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeStorage) DeleteMatchesForItem(_ context.Context, itemID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.matches[:0]
	for _, m := range f.matches {
		if m.SourceID != itemID && m.TargetID != itemID {
			kept = append(kept, m)
		}
	}
	f.matches = kept
	return nil
}

func (f *fakeStorage) CreateChain(_ context.Context, chain *models.BarterChain, participants []models.ChainParticipant) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.chains {
		if existing.Signature == chain.Signature {
			return false, nil
		}
	}
	cp := *chain
	f.chains[chain.ID] = &cp
	f.participants[chain.ID] = append([]models.ChainParticipant(nil), participants...)
	return true, nil
}

func (f *fakeStorage) GetChainByID(_ context.Context, id string) (*models.BarterChain, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.chains[id]
	if !ok {
		return nil, fmt.Errorf("chain %s: %w", id, models.ErrNotFound)
	}
	cp := *ch
	cp.Participants = append([]models.ChainParticipant(nil), f.participants[id]...)
	return &cp, nil
}

func (f *fakeStorage) UpdateChainStatus(_ context.Context, chainID, from, to string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.chains[chainID]
	if !ok || ch.Status != from {
		return false, nil
	}
	ch.Status = to
	return true, nil
}

func (f *fakeStorage) SetParticipantStatus(_ context.Context, chainID, userID, status string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	parts := f.participants[chainID]
	for i := range parts {
		if parts[i].UserID == userID && parts[i].Status == models.ParticipantStatusPending {
			parts[i].Status = status
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStorage) GetPendingChainsForItem(_ context.Context, itemID string) ([]models.BarterChain, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.BarterChain
	for id, ch := range f.chains {
		if ch.Status != models.ChainStatusPending {
			continue
		}
		for _, p := range f.participants[id] {
			if p.GivingItemID == itemID {
				cp := *ch
				cp.Participants = append([]models.ChainParticipant(nil), f.participants[id]...)
				out = append(out, cp)
				break
			}
		}
	}
	return out, nil
}

func (f *fakeStorage) ExpireChains(_ context.Context, now time.Time) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for id, ch := range f.chains {
		if ch.Status == models.ChainStatusPending && ch.ExpiresAt.Before(now) {
			ch.Status = models.ChainStatusExpired
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (f *fakeStorage) GetChainItemIDs(_ context.Context, chainID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for _, p := range f.participants[chainID] {
		ids = append(ids, p.GivingItemID)
	}
	return ids, nil
}

func (f *fakeStorage) GetMatchingStats(_ context.Context) (*models.MatchingStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &models.MatchingStats{TotalMatches: int64(len(f.matches))}, nil
}

func (f *fakeStorage) IsEventProcessed(_ context.Context, eventID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.processed[eventID], nil
}

func (f *fakeStorage) MarkEventProcessed(_ context.Context, eventID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.processed[eventID] = true
	return nil
}

type fakeLocker struct {
	mu     sync.Mutex
	claims map[string]bool
	locks  map[string]bool
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{claims: make(map[string]bool), locks: make(map[string]bool)}
}

func (l *fakeLocker) ClaimEvent(_ context.Context, eventID string, _ time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.claims[eventID] {
		return false, nil
	}
	l.claims[eventID] = true
	return true, nil
}

func (l *fakeLocker) ReleaseEvent(_ context.Context, eventID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.claims, eventID)
	return nil
}

func (l *fakeLocker) AcquireLock(_ context.Context, lockKey string, _ time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.locks[lockKey] {
		return false, nil
	}
	l.locks[lockKey] = true
	return true, nil
}

func (l *fakeLocker) ReleaseLock(_ context.Context, lockKey string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.locks, lockKey)
	return nil
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []Notification
}

func (n *fakeNotifier) Notify(_ context.Context, _ string, notification Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notification)
}

func (n *fakeNotifier) byUser() map[string]int {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make(map[string]int)
	for _, s := range n.sent {
		out[s.UserID]++
	}
	return out
}

type fakeChainEvents struct {
	mu         sync.Mutex
	discovered []*models.ChainDiscoveredEvent
	confirmed  []*models.ChainConfirmedEvent
}

func (e *fakeChainEvents) PublishChainDiscovered(_ context.Context, ev *models.ChainDiscoveredEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.discovered = append(e.discovered, ev)
	return nil
}

func (e *fakeChainEvents) PublishChainConfirmed(_ context.Context, ev *models.ChainConfirmedEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.confirmed = append(e.confirmed, ev)
	return nil
}

func testMatchingConfig() config.MatchingConfig {
	return config.MatchingConfig{
		CategoryWeight:      0.35,
		GeoWeight:           0.30,
		PriceWeight:         0.20,
		ConditionWeight:     0.10,
		RecencyWeight:       0.05,
		RecencyHalfLifeDays: 14,
		ScoreFloor:          0.4,
		TopK:                20,
		CandidateLimit:      50,
		MaxChainLength:      4,
		ChainSearchBudget:   5000,
		NotificationCap:     20,
		ChainTTL:            72 * time.Hour,
		AlgorithmVersion:    "v1",
	}
}

type testEnv struct {
	storage      *fakeStorage
	locker       *fakeLocker
	notifier     *fakeNotifier
	chainEvents  *fakeChainEvents
	orchestrator *Orchestrator
	now          time.Time
}

func newTestEnv() *testEnv {
	storage := newFakeStorage()
	locker := newFakeLocker()
	notifier := &fakeNotifier{}
	chainEvents := &fakeChainEvents{}
	cfg := testMatchingConfig()

	orchestrator := NewOrchestrator(storage, NewGateway(storage, cfg), locker, notifier, chainEvents, cfg)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	orchestrator.now = func() time.Time { return now }

	return &testEnv{
		storage:      storage,
		locker:       locker,
		notifier:     notifier,
		chainEvents:  chainEvents,
		orchestrator: orchestrator,
		now:          now,
	}
}

func testItem(id, owner, category, wantCategory string, value int64) *models.Item {
	return &models.Item{
		ID:                id,
		OwnerID:           owner,
		CategoryID:        category,
		Title:             id,
		EstimatedValue:    value,
		Condition:         models.ConditionGood,
		City:              "Cairo",
		Governorate:       "Cairo",
		Status:            models.ItemStatusActive,
		DesiredCategoryID: wantCategory,
		CreatedAt:         time.Date(2025, 5, 30, 0, 0, 0, 0, time.UTC),
	}
}

func TestHandleItemCreatedMatchesDemandOnce(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	item := testItem("phone-1", "seller", "mobile-phones", "", 45000)
	env.storage.items[item.ID] = item
	env.storage.demands = []models.DemandRequest{
		{ID: "req-1", RequesterID: "buyer", CategoryID: "mobile-phones", PriceMin: 40000, PriceMax: 50000,
			City: "Cairo", Governorate: "Cairo", Kind: models.DemandKindPurchase, CreatedAt: env.now},
	}

	event := &models.ItemCreatedEvent{
		BaseEvent: models.BaseEvent{EventID: "evt-1", EventType: models.EventTypeItemCreated, Timestamp: env.now},
		ItemID:    item.ID,
	}

	require.NoError(t, env.orchestrator.HandleItemCreated(ctx, event))
	require.Len(t, env.storage.matches, 1)
	assert.Equal(t, models.MatchKindDemand, env.storage.matches[0].Kind)
	assert.Equal(t, "buyer", env.storage.matches[0].TargetOwnerID)
	assert.Equal(t, 1, env.notifier.byUser()["buyer"])

	// Replaying the same event is a complete no-op.
	require.NoError(t, env.orchestrator.HandleItemCreated(ctx, event))
	assert.Len(t, env.storage.matches, 1)
	assert.Equal(t, 1, env.notifier.byUser()["buyer"])
}

func TestHandleItemCreatedAbortsOnMissingItem(t *testing.T) {
	env := newTestEnv()

	event := &models.ItemCreatedEvent{
		BaseEvent: models.BaseEvent{EventID: "evt-gone", EventType: models.EventTypeItemCreated, Timestamp: env.now},
		ItemID:    "no-such-item",
	}

	// A vanished trigger degrades to "no matches", not an error.
	require.NoError(t, env.orchestrator.HandleItemCreated(context.Background(), event))
	assert.Empty(t, env.storage.matches)
	assert.True(t, env.storage.processed["evt-gone"], "aborted runs still settle the event")
}

// seedThreePartyCycle lists items so that phone -> laptop -> sofa ->
// phone is the only closed want cycle, then triggers discovery.
func seedThreePartyCycle(t *testing.T, env *testEnv) *models.BarterChain {
	t.Helper()
	ctx := context.Background()

	env.storage.categories = []models.Category{
		{ID: "electronics"}, {ID: "furniture"},
		{ID: "mobile-phones", ParentID: "electronics"},
		{ID: "laptops", ParentID: "electronics"},
		{ID: "sofas", ParentID: "furniture"},
	}
	for _, it := range []*models.Item{
		testItem("phone", "alice", "mobile-phones", "laptops", 20000),
		testItem("laptop", "bob", "laptops", "sofas", 22000),
		testItem("sofa", "carol", "sofas", "mobile-phones", 18000),
	} {
		env.storage.items[it.ID] = it
	}

	event := &models.ItemCreatedEvent{
		BaseEvent:            models.BaseEvent{EventID: "evt-chain", EventType: models.EventTypeItemCreated, Timestamp: env.now},
		ItemID:               "phone",
		HasBarterPreferences: true,
	}
	require.NoError(t, env.orchestrator.HandleItemCreated(ctx, event))

	require.Len(t, env.storage.chains, 1)
	for id := range env.storage.chains {
		chain, err := env.storage.GetChainByID(ctx, id)
		require.NoError(t, err)
		return chain
	}
	return nil
}

func TestDiscoverPersistsPendingChain(t *testing.T) {
	env := newTestEnv()
	chain := seedThreePartyCycle(t, env)

	assert.Equal(t, models.ChainStatusPending, chain.Status)
	assert.Equal(t, "v1", chain.AlgorithmVersion)
	assert.Equal(t, env.now.Add(72*time.Hour), chain.ExpiresAt)
	require.Len(t, chain.Participants, 3)

	n := len(chain.Participants)
	for i, p := range chain.Participants {
		assert.Equal(t, models.ParticipantStatusPending, p.Status)
		assert.Equal(t, p.GivingItemID, chain.Participants[(i+1)%n].ReceivingItemID)
	}

	require.Len(t, env.chainEvents.discovered, 1)
	assert.Equal(t, chain.ID, env.chainEvents.discovered[0].ChainID)

	// Every participant hears about the proposal exactly once.
	byUser := env.notifier.byUser()
	for _, user := range []string{"alice", "bob", "carol"} {
		assert.Equal(t, 1, byUser[user], "user %s", user)
	}
}

func TestRediscoveryIsNoOp(t *testing.T) {
	env := newTestEnv()
	seedThreePartyCycle(t, env)

	// A different event rediscovers the same cycle from another origin.
	event := &models.ItemCreatedEvent{
		BaseEvent:            models.BaseEvent{EventID: "evt-chain-2", EventType: models.EventTypeItemCreated, Timestamp: env.now},
		ItemID:               "laptop",
		HasBarterPreferences: true,
	}
	require.NoError(t, env.orchestrator.HandleItemCreated(context.Background(), event))

	assert.Len(t, env.storage.chains, 1, "same signature must not create a second chain")
	assert.Len(t, env.chainEvents.discovered, 1)
}

func TestChainRejectionCascades(t *testing.T) {
	env := newTestEnv()
	chain := seedThreePartyCycle(t, env)
	ctx := context.Background()

	_, err := env.orchestrator.RespondToChain(ctx, chain.ID, "alice", true)
	require.NoError(t, err)

	updated, err := env.orchestrator.RespondToChain(ctx, chain.ID, "bob", false)
	require.NoError(t, err)
	assert.Equal(t, models.ChainStatusCancelled, updated.Status)

	// No reservations had happened yet; items stay ACTIVE.
	for _, id := range []string{"phone", "laptop", "sofa"} {
		assert.Equal(t, models.ItemStatusActive, env.storage.items[id].Status)
	}

	// Further responses on a settled chain are rejected.
	_, err = env.orchestrator.RespondToChain(ctx, chain.ID, "carol", true)
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestChainConfirmReservesItems(t *testing.T) {
	env := newTestEnv()
	chain := seedThreePartyCycle(t, env)
	ctx := context.Background()

	for _, user := range []string{"alice", "bob"} {
		updated, err := env.orchestrator.RespondToChain(ctx, chain.ID, user, true)
		require.NoError(t, err)
		assert.Equal(t, models.ChainStatusPending, updated.Status)
	}

	updated, err := env.orchestrator.RespondToChain(ctx, chain.ID, "carol", true)
	require.NoError(t, err)
	assert.Equal(t, models.ChainStatusConfirmed, updated.Status)

	for _, id := range []string{"phone", "laptop", "sofa"} {
		assert.Equal(t, models.ItemStatusReserved, env.storage.items[id].Status)
	}
	require.Len(t, env.chainEvents.confirmed, 1)
	assert.ElementsMatch(t, []string{"phone", "laptop", "sofa"}, env.chainEvents.confirmed[0].ItemIDs)
}

func TestChainConfirmFailsClosedWhenItemTaken(t *testing.T) {
	env := newTestEnv()
	chain := seedThreePartyCycle(t, env)
	ctx := context.Background()

	for _, user := range []string{"alice", "bob"} {
		_, err := env.orchestrator.RespondToChain(ctx, chain.ID, user, true)
		require.NoError(t, err)
	}

	// The sofa sells through another channel before the last acceptance.
	env.storage.items["sofa"].Status = models.ItemStatusSold

	_, err := env.orchestrator.RespondToChain(ctx, chain.ID, "carol", true)
	assert.ErrorIs(t, err, models.ErrConcurrencyConflict)

	final, err := env.storage.GetChainByID(ctx, chain.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ChainStatusCancelled, final.Status)

	assert.Equal(t, models.ItemStatusActive, env.storage.items["phone"].Status)
	assert.Equal(t, models.ItemStatusActive, env.storage.items["laptop"].Status)
	assert.Equal(t, models.ItemStatusSold, env.storage.items["sofa"].Status)
	assert.Empty(t, env.chainEvents.confirmed)
}

func TestItemDeletedCancelsPendingChains(t *testing.T) {
	env := newTestEnv()
	chain := seedThreePartyCycle(t, env)
	ctx := context.Background()

	event := &models.ItemDeletedEvent{
		BaseEvent: models.BaseEvent{EventID: "evt-del", EventType: models.EventTypeItemDeleted, Timestamp: env.now},
		ItemID:    "laptop",
	}
	require.NoError(t, env.orchestrator.HandleItemDeleted(ctx, event))

	final, err := env.storage.GetChainByID(ctx, chain.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ChainStatusCancelled, final.Status)
}

func TestSettlementFailedRevertsConfirmedChain(t *testing.T) {
	env := newTestEnv()
	chain := seedThreePartyCycle(t, env)
	ctx := context.Background()

	for _, user := range []string{"alice", "bob", "carol"} {
		_, err := env.orchestrator.RespondToChain(ctx, chain.ID, user, true)
		require.NoError(t, err)
	}
	require.Equal(t, models.ItemStatusReserved, env.storage.items["phone"].Status)

	event := &models.SettlementResultEvent{
		BaseEvent: models.BaseEvent{EventID: "evt-settle", EventType: models.EventTypeSettlementFailed, Timestamp: env.now},
		ChainID:   chain.ID,
	}
	require.NoError(t, env.orchestrator.HandleSettlementFailed(ctx, event))

	final, err := env.storage.GetChainByID(ctx, chain.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ChainStatusCancelled, final.Status)
	for _, id := range []string{"phone", "laptop", "sofa"} {
		assert.Equal(t, models.ItemStatusActive, env.storage.items[id].Status)
	}
}

func TestSettlementSucceededMarksItemsSold(t *testing.T) {
	env := newTestEnv()
	chain := seedThreePartyCycle(t, env)
	ctx := context.Background()

	for _, user := range []string{"alice", "bob", "carol"} {
		_, err := env.orchestrator.RespondToChain(ctx, chain.ID, user, true)
		require.NoError(t, err)
	}

	event := &models.SettlementResultEvent{
		BaseEvent: models.BaseEvent{EventID: "evt-settle-ok", EventType: models.EventTypeSettlementSucceeded, Timestamp: env.now},
		ChainID:   chain.ID,
	}
	require.NoError(t, env.orchestrator.HandleSettlementSucceeded(ctx, event))

	for _, id := range []string{"phone", "laptop", "sofa"} {
		assert.Equal(t, models.ItemStatusSold, env.storage.items[id].Status)
	}
}

func TestSweepExpiredFreesItems(t *testing.T) {
	env := newTestEnv()
	chain := seedThreePartyCycle(t, env)
	ctx := context.Background()

	env.storage.chains[chain.ID].ExpiresAt = env.now.Add(-time.Hour)
	require.NoError(t, env.orchestrator.SweepExpired(ctx))

	final, err := env.storage.GetChainByID(ctx, chain.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ChainStatusExpired, final.Status)

	_, err = env.orchestrator.RespondToChain(ctx, chain.ID, "alice", true)
	assert.Error(t, err, "an expired chain never resurrects")
}

func TestBarterOfferCreatedFindsMutualSwap(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	env.storage.categories = []models.Category{
		{ID: "electronics"},
		{ID: "mobile-phones", ParentID: "electronics"},
		{ID: "laptops", ParentID: "electronics"},
	}
	offered := testItem("phone", "alice", "mobile-phones", "laptops", 20000)
	counter := testItem("laptop", "bob", "laptops", "mobile-phones", 21000)
	env.storage.items[offered.ID] = offered
	env.storage.items[counter.ID] = counter

	env.storage.offers["offer-1"] = &models.BarterOffer{
		ID: "offer-1", InitiatorID: "alice", DesiredCategoryID: "laptops",
		City: "Cairo", Governorate: "Cairo", Status: models.OfferStatusPending,
	}
	env.storage.offerItems["offer-1"] = []string{"phone"}

	event := &models.BarterOfferCreatedEvent{
		BaseEvent: models.BaseEvent{EventID: "evt-offer", EventType: models.EventTypeBarterOfferCreated, Timestamp: env.now},
		OfferID:   "offer-1",
	}
	require.NoError(t, env.orchestrator.HandleBarterOfferCreated(ctx, event))

	var pairwise []models.Match
	for _, m := range env.storage.matches {
		if m.Kind == models.MatchKindPairwise {
			pairwise = append(pairwise, m)
		}
	}
	require.Len(t, pairwise, 1)
	assert.Equal(t, "phone", pairwise[0].SourceID)
	assert.Equal(t, "laptop", pairwise[0].TargetID)
	assert.GreaterOrEqual(t, env.notifier.byUser()["bob"], 1)
}

func TestProcessNewItemValidates(t *testing.T) {
	env := newTestEnv()

	err := env.orchestrator.ProcessNewItem(context.Background(), &models.Item{Title: "incomplete"})
	assert.ErrorIs(t, err, models.ErrValidation)
	assert.Empty(t, env.storage.items)
}

func TestProcessNewItemRunsPipeline(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	env.storage.demands = []models.DemandRequest{
		{ID: "req-1", RequesterID: "buyer", CategoryID: "laptops", City: "Cairo", Governorate: "Cairo",
			Kind: models.DemandKindPurchase, CreatedAt: env.now},
	}

	item := testItem("", "seller", "laptops", "", 30000)
	require.NoError(t, env.orchestrator.ProcessNewItem(ctx, item))

	assert.NotEmpty(t, item.ID, "an ID is assigned when absent")
	if assert.Len(t, env.storage.matches, 1) {
		assert.Equal(t, item.ID, env.storage.matches[0].SourceID)
	}
}

func TestAbortableOnlySwallowsDomainErrors(t *testing.T) {
	env := newTestEnv()

	assert.NoError(t, env.orchestrator.abortable(fmt.Errorf("x: %w", models.ErrNotFound), "e1"))
	assert.NoError(t, env.orchestrator.abortable(fmt.Errorf("x: %w", models.ErrValidation), "e2"))

	boom := errors.New("connection reset")
	assert.ErrorIs(t, env.orchestrator.abortable(boom, "e3"), boom)
}
