package matching

import (
	"math"
	"sort"
	"time"

	"matching-engine/internal/models"
)

// Weights configure the composite score. They must sum to 1.0 for the
// score to stay in [0,1].
type Weights struct {
	Category  float64
	Geo       float64
	Price     float64
	Condition float64
	Recency   float64
}

// DefaultWeights mirrors the engine's default configuration.
func DefaultWeights() Weights {
	return Weights{Category: 0.35, Geo: 0.30, Price: 0.20, Condition: 0.10, Recency: 0.05}
}

// Taxonomy maps a category ID to its direct parent ID ("" for roots).
type Taxonomy map[string]string

// Related reports whether two distinct categories are adjacent in the
// taxonomy: siblings under one parent, or direct parent and child.
func (t Taxonomy) Related(a, b string) bool {
	if a == "" || b == "" || a == b {
		return false
	}
	pa, pb := t[a], t[b]
	if pa != "" && pa == pb {
		return true
	}
	return pa == b || pb == a
}

// Subject is one side of a scoring comparison: an item, a demand
// request, or a barter offer reduced to the fields the scorer reads.
type Subject struct {
	ID            string
	OwnerID       string
	CategoryID    string
	Value         int64
	Condition     string
	WantCondition string
	Location      models.Location
	CreatedAt     time.Time
}

// Candidate is the ephemeral output of the scorer. It is never
// persisted; the orchestrator consumes it immediately.
type Candidate struct {
	SourceID      string
	TargetID      string
	TargetOwnerID string
	Score         float64
	Tier          string
	Reasons       []string

	// Retained for deterministic tie-breaking.
	GeoScore        float64
	PriceScore      float64
	TargetCreatedAt time.Time
}

// Scorer combines category, geography, price, condition, and recency
// into one normalized score.
type Scorer struct {
	weights      Weights
	taxonomy     Taxonomy
	halfLifeDays float64
}

// NewScorer creates a scorer. A half-life of zero disables the recency
// decay (recency scores as 1.0).
func NewScorer(weights Weights, taxonomy Taxonomy, halfLifeDays float64) *Scorer {
	return &Scorer{weights: weights, taxonomy: taxonomy, halfLifeDays: halfLifeDays}
}

// Score compares source against target at the given reference time.
// A category mismatch is disqualifying: the overall score is 0
// regardless of the other terms.
func (s *Scorer) Score(source, target Subject, now time.Time) Candidate {
	c := Candidate{
		SourceID:        source.ID,
		TargetID:        target.ID,
		TargetOwnerID:   target.OwnerID,
		TargetCreatedAt: target.CreatedAt,
	}

	tier := ResolveTier(source.Location, target.Location)
	c.Tier = tier.Tier
	c.GeoScore = tier.Weight

	categoryScore := s.categoryScore(source.CategoryID, target.CategoryID)
	if categoryScore == 0 {
		return c
	}
	if categoryScore == 1.0 {
		c.Reasons = append(c.Reasons, "exact category")
	} else {
		c.Reasons = append(c.Reasons, "related category")
	}

	c.PriceScore = priceScore(source.Value, target.Value)

	// Each side's constraint, when present, must be met by the other
	// side's actual condition. Absent constraints always pass.
	conditionScore := 0.0
	if models.ConditionAtLeast(target.Condition, source.WantCondition) &&
		models.ConditionAtLeast(source.Condition, target.WantCondition) {
		conditionScore = 1.0
		if source.WantCondition != "" || target.WantCondition != "" {
			c.Reasons = append(c.Reasons, "condition satisfied")
		}
	}

	recencyScore := s.recencyScore(target.CreatedAt, now)

	c.Score = s.weights.Category*categoryScore +
		s.weights.Geo*c.GeoScore +
		s.weights.Price*c.PriceScore +
		s.weights.Condition*conditionScore +
		s.weights.Recency*recencyScore

	if c.Tier == models.TierDistrict || c.Tier == models.TierCity {
		c.Reasons = append(c.Reasons, "nearby")
	}
	return c
}

func (s *Scorer) categoryScore(a, b string) float64 {
	switch {
	case a != "" && a == b:
		return 1.0
	case s.taxonomy.Related(a, b):
		return 0.6
	default:
		return 0.0
	}
}

func priceScore(a, b int64) float64 {
	if a == b {
		return 1.0
	}
	max := a
	if b > max {
		max = b
	}
	if max <= 0 {
		return 0.0
	}
	diff := math.Abs(float64(a) - float64(b))
	score := 1.0 - diff/float64(max)
	if score < 0 {
		return 0.0
	}
	return score
}

func (s *Scorer) recencyScore(createdAt, now time.Time) float64 {
	if s.halfLifeDays <= 0 || createdAt.IsZero() || !createdAt.Before(now) {
		return 1.0
	}
	ageDays := now.Sub(createdAt).Hours() / 24
	return math.Exp(-ageDays / s.halfLifeDays)
}

// Less orders candidates best-first: higher score, then higher geo
// score, then higher price score, then older target listing.
func Less(a, b Candidate) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if a.GeoScore != b.GeoScore {
		return a.GeoScore > b.GeoScore
	}
	if a.PriceScore != b.PriceScore {
		return a.PriceScore > b.PriceScore
	}
	return a.TargetCreatedAt.Before(b.TargetCreatedAt)
}

// SortCandidates sorts best-first using the tie-break order.
func SortCandidates(cands []Candidate) {
	sort.SliceStable(cands, func(i, j int) bool { return Less(cands[i], cands[j]) })
}
