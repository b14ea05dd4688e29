package service

import (
	"context"
	"time"

	"matching-engine/config"
	"matching-engine/internal/matching"
	"matching-engine/internal/models"
	"matching-engine/internal/store"
	"matching-engine/internal/util"

	"go.uber.org/zap"
)

// Gateway is the thin query interface over the storage collaborator.
// Every query it issues is bounded: hitting the cap degrades to a
// partial candidate set, never to an error.
type Gateway struct {
	storage Storage
	cfg     config.MatchingConfig
	logger  *zap.Logger
}

// NewGateway creates a candidate index gateway
func NewGateway(storage Storage, cfg config.MatchingConfig) *Gateway {
	return &Gateway{
		storage: storage,
		cfg:     cfg,
		logger:  util.GetLogger(),
	}
}

// Taxonomy loads the category taxonomy as a parent map.
func (g *Gateway) Taxonomy(ctx context.Context) (matching.Taxonomy, error) {
	categories, err := g.storage.GetCategories(ctx)
	if err != nil {
		return nil, err
	}
	tax := make(matching.Taxonomy, len(categories))
	for _, c := range categories {
		tax[c.ID] = c.ParentID
	}
	return tax, nil
}

// CategoryFamily expands a category to itself, its direct parent, and
// its direct children, so items listed under a child category still
// match broader searches.
func CategoryFamily(tax matching.Taxonomy, categoryID string) []string {
	if categoryID == "" {
		return nil
	}
	family := []string{categoryID}
	if parent := tax[categoryID]; parent != "" {
		family = append(family, parent)
	}
	for id, parent := range tax {
		if parent == categoryID {
			family = append(family, id)
		}
	}
	return family
}

// acceptableConditions lists the conditions at least as good as min.
func acceptableConditions(min string) []string {
	if min == "" {
		return nil
	}
	all := []string{models.ConditionNew, models.ConditionLikeNew, models.ConditionGood, models.ConditionFair, models.ConditionPoor}
	out := make([]string, 0, len(all))
	for _, c := range all {
		if models.ConditionAtLeast(c, min) {
			out = append(out, c)
		}
	}
	return out
}

// ItemCandidates returns active items compatible with a demand-side
// profile, geography-ordered and capped. The boolean reports whether
// the set was truncated at the cap.
func (g *Gateway) ItemCandidates(ctx context.Context, tax matching.Taxonomy, categoryID string, priceMin, priceMax int64, condition string, loc models.Location) ([]models.Item, bool, error) {
	start := time.Now()
	defer func() {
		util.CandidateQueryLatency.Observe(time.Since(start).Seconds())
	}()

	items, err := g.storage.FindItemCandidates(ctx, store.CandidateFilter{
		CategoryIDs: CategoryFamily(tax, categoryID),
		PriceMin:    priceMin,
		PriceMax:    priceMax,
		Conditions:  acceptableConditions(condition),
		Governorate: loc.Governorate,
		City:        loc.City,
		District:    loc.District,
		Limit:       g.cfg.CandidateLimit,
	})
	if err != nil {
		return nil, false, err
	}

	truncated := false
	if len(items) > g.cfg.CandidateLimit {
		items = items[:g.cfg.CandidateLimit]
		truncated = true
		util.CandidateSetTruncated.Inc()
		g.logger.Debug("Candidate set truncated",
			zap.String("category_id", categoryID),
			zap.Int("limit", g.cfg.CandidateLimit))
	}
	return items, truncated, nil
}

// DemandCandidates returns outstanding demand requests compatible with
// an item, capped at the configured limit.
func (g *Gateway) DemandCandidates(ctx context.Context, tax matching.Taxonomy, item *models.Item) ([]models.DemandRequest, bool, error) {
	start := time.Now()
	defer func() {
		util.CandidateQueryLatency.Observe(time.Since(start).Seconds())
	}()

	requests, err := g.storage.FindDemandCandidates(ctx,
		CategoryFamily(tax, item.CategoryID), item.EstimatedValue, g.cfg.CandidateLimit)
	if err != nil {
		return nil, false, err
	}

	truncated := false
	if len(requests) > g.cfg.CandidateLimit {
		requests = requests[:g.cfg.CandidateLimit]
		truncated = true
		util.CandidateSetTruncated.Inc()
	}
	return requests, truncated, nil
}

// BarterPool returns the bounded node set for the want/offer graph.
func (g *Gateway) BarterPool(ctx context.Context) ([]models.Item, error) {
	return g.storage.GetBarterPool(ctx, g.cfg.CandidateLimit)
}
