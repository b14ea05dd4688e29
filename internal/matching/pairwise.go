package matching

import (
	"sort"
	"strings"
	"time"

	"matching-engine/internal/models"
)

// DesireProfile is what an owner wants in exchange: a category, a
// free-text description, or (for open offers) anything at all.
type DesireProfile struct {
	CategoryID  string
	Description string
	Open        bool
}

// ItemDesire extracts the desire profile stated on a listed item.
func ItemDesire(it *models.Item) DesireProfile {
	return DesireProfile{CategoryID: it.DesiredCategoryID, Description: it.DesiredDescription}
}

// OfferDesire extracts the desire profile stated on a barter offer.
func OfferDesire(o *models.BarterOffer) DesireProfile {
	return DesireProfile{CategoryID: o.DesiredCategoryID, Description: o.DesiredDescription, Open: o.IsOpenOffer}
}

// Satisfies reports whether the offered item satisfies the desire
// profile, by category (exact or adjacent in the taxonomy) or by
// keyword overlap with the free-text description. An open profile
// with no stated category or description accepts anything.
func (p DesireProfile) Satisfies(tax Taxonomy, offered *models.Item) bool {
	if p.CategoryID != "" {
		if p.CategoryID == offered.CategoryID || tax.Related(p.CategoryID, offered.CategoryID) {
			return true
		}
	}
	if p.Description != "" && keywordOverlap(p.Description, offered.Title+" "+offered.Description) {
		return true
	}
	return p.Open && p.CategoryID == "" && p.Description == ""
}

func keywordOverlap(want, have string) bool {
	haveTokens := make(map[string]bool)
	for _, tok := range tokenize(have) {
		haveTokens[tok] = true
	}
	for _, tok := range tokenize(want) {
		if haveTokens[tok] {
			return true
		}
	}
	return false
}

func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	})
	out := fields[:0]
	for _, f := range fields {
		if len(f) >= 3 {
			out = append(out, f)
		}
	}
	return out
}

// SwapCandidate is a candidate two-party barter swap between one
// offered item and one counter-party item, scored in both directions.
type SwapCandidate struct {
	Offered   *models.Item
	Counter   *models.Item
	Candidate Candidate
}

// Pairwise matches one offered item (with its owner's desire profile)
// against candidate items. A swap is produced only under mutual
// interest: the offer's desire is satisfied by the counter item AND
// the counter item owner's desire is satisfied by the offered item.
// Each direction is scored and the two scores averaged.
func Pairwise(scorer *Scorer, tax Taxonomy, offered *models.Item, desire DesireProfile, candidates []*models.Item, floor float64, now time.Time) []SwapCandidate {
	swaps := make([]SwapCandidate, 0, len(candidates))
	for _, counter := range candidates {
		if counter.OwnerID == offered.OwnerID || counter.Status != models.ItemStatusActive {
			continue
		}
		if !desire.Satisfies(tax, counter) {
			continue
		}
		if !ItemDesire(counter).Satisfies(tax, offered) {
			continue
		}

		forward := directionScore(scorer, desire, offered, counter, now)
		backward := directionScore(scorer, ItemDesire(counter), counter, offered, now)

		c := forward
		c.Score = (forward.Score + backward.Score) / 2
		c.SourceID = offered.ID
		c.TargetID = counter.ID
		c.TargetOwnerID = counter.OwnerID
		c.Reasons = append([]string{"mutual barter interest"}, c.Reasons...)
		if c.Score < floor || c.Score == 0 {
			continue
		}
		swaps = append(swaps, SwapCandidate{Offered: offered, Counter: counter, Candidate: c})
	}

	sortSwaps(swaps)
	return swaps
}

// directionScore scores how well the counter item fits what the giving
// side wants. The source subject carries the giver's desired category;
// when the desire was stated as free text only, the counter item's own
// category stands in so the category term reflects the satisfied want.
func directionScore(scorer *Scorer, desire DesireProfile, giving, counter *models.Item, now time.Time) Candidate {
	source := ItemSubject(giving)
	source.CategoryID = desire.CategoryID
	if source.CategoryID == "" {
		source.CategoryID = counter.CategoryID
	}
	return scorer.Score(source, ItemSubject(counter), now)
}

func sortSwaps(swaps []SwapCandidate) {
	sort.SliceStable(swaps, func(i, j int) bool {
		return Less(swaps[i].Candidate, swaps[j].Candidate)
	})
}
