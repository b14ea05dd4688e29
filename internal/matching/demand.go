package matching

import (
	"time"

	"matching-engine/internal/models"
)

// ItemSubject reduces a listed item to its scoring fields.
func ItemSubject(it *models.Item) Subject {
	return Subject{
		ID:            it.ID,
		OwnerID:       it.OwnerID,
		CategoryID:    it.CategoryID,
		Value:         it.EstimatedValue,
		Condition:     it.Condition,
		WantCondition: "",
		Location:      it.Loc(),
		CreatedAt:     it.CreatedAt,
	}
}

// DemandSubject reduces a demand request to its scoring fields. The
// request's value is the midpoint of its price band when one is set.
func DemandSubject(d *models.DemandRequest) Subject {
	value := d.PriceMax
	if d.PriceMin > 0 && d.PriceMax > 0 {
		value = (d.PriceMin + d.PriceMax) / 2
	} else if d.PriceMin > 0 {
		value = d.PriceMin
	}
	return Subject{
		ID:            d.ID,
		OwnerID:       d.RequesterID,
		CategoryID:    d.CategoryID,
		Value:         value,
		Condition:     "",
		WantCondition: d.Condition,
		Location:      d.Loc(),
		CreatedAt:     d.CreatedAt,
	}
}

// MatchDemand scores a source against the opposite side's candidates,
// discards anything below the floor (and category mismatches, which
// score zero), and returns the top K best-first. When the source's
// value is unknown (zero) the price band midpoint of the demand side
// drives the price term; the scorer handles the zero case.
func MatchDemand(scorer *Scorer, source Subject, candidates []Subject, floor float64, topK int, now time.Time) []Candidate {
	matched := make([]Candidate, 0, len(candidates))
	for i := range candidates {
		if candidates[i].OwnerID == source.OwnerID {
			continue
		}
		c := scorer.Score(source, candidates[i], now)
		if c.Score < floor || c.Score == 0 {
			continue
		}
		matched = append(matched, c)
	}

	SortCandidates(matched)
	if topK > 0 && len(matched) > topK {
		matched = matched[:topK]
	}
	return matched
}

// StrongestPerUser keeps, for each target owner, only the best-ranked
// candidate. Input must already be sorted best-first. A user who
// matches for several reasons is notified once, citing the strongest.
func StrongestPerUser(cands []Candidate) []Candidate {
	seen := make(map[string]bool, len(cands))
	out := cands[:0:0]
	for _, c := range cands {
		if seen[c.TargetOwnerID] {
			continue
		}
		seen[c.TargetOwnerID] = true
		out = append(out, c)
	}
	return out
}
