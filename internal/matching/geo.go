// Package matching contains the pure matching core: geographic tier
// resolution, composite scoring, supply<->demand matching, pairwise
// barter matching, and bounded barter chain discovery. Nothing in this
// package performs I/O or mutates shared state; the orchestrator feeds
// it candidate sets and persists its output.
package matching

import "matching-engine/internal/models"

// Tier weights, most to least specific.
const (
	WeightDistrict    = 1.0
	WeightCity        = 0.8
	WeightGovernorate = 0.6
	WeightNational    = 0.4
)

// TierResult is the outcome of comparing two locations.
type TierResult struct {
	Tier   string
	Weight float64
}

// ResolveTier compares two locations from most to least specific and
// returns the first matching level. A level only matches when both
// sides have the field set, the values are equal, and every containing
// level is also equal. A missing optional field falls through to the
// next level; it never acts as a wildcard.
func ResolveTier(a, b models.Location) TierResult {
	govEqual := a.Governorate != "" && a.Governorate == b.Governorate
	cityEqual := govEqual && a.City != "" && a.City == b.City

	if cityEqual && a.District != "" && a.District == b.District {
		return TierResult{Tier: models.TierDistrict, Weight: WeightDistrict}
	}
	if cityEqual {
		return TierResult{Tier: models.TierCity, Weight: WeightCity}
	}
	if govEqual {
		return TierResult{Tier: models.TierGovernorate, Weight: WeightGovernorate}
	}
	return TierResult{Tier: models.TierNational, Weight: WeightNational}
}
