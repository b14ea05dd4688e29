package matching

import (
	"testing"

	"matching-engine/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestResolveTier(t *testing.T) {
	nasrCity := models.Location{District: "Nasr City", City: "Cairo", Governorate: "Cairo"}
	maadi := models.Location{District: "Maadi", City: "Cairo", Governorate: "Cairo"}
	giza := models.Location{City: "Giza", Governorate: "Giza"}
	sixthOctober := models.Location{City: "6th of October", Governorate: "Giza"}

	tests := []struct {
		name   string
		a, b   models.Location
		tier   string
		weight float64
	}{
		{"same district", nasrCity, nasrCity, models.TierDistrict, 1.0},
		{"same city different district", nasrCity, maadi, models.TierCity, 0.8},
		{"same governorate different city", giza, sixthOctober, models.TierGovernorate, 0.6},
		{"different governorate", nasrCity, giza, models.TierNational, 0.4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := ResolveTier(tt.a, tt.b)
			assert.Equal(t, tt.tier, res.Tier)
			assert.Equal(t, tt.weight, res.Weight)
		})
	}
}

func TestResolveTierMissingFieldsFallThrough(t *testing.T) {
	withDistrict := models.Location{District: "Nasr City", City: "Cairo", Governorate: "Cairo"}
	cityOnly := models.Location{City: "Cairo", Governorate: "Cairo"}
	govOnly := models.Location{Governorate: "Cairo"}

	// A missing district on either side can resolve to CITY at best.
	assert.Equal(t, models.TierCity, ResolveTier(withDistrict, cityOnly).Tier)
	assert.Equal(t, models.TierCity, ResolveTier(cityOnly, withDistrict).Tier)

	// A missing city falls through to GOVERNORATE, never wildcards.
	assert.Equal(t, models.TierGovernorate, ResolveTier(withDistrict, govOnly).Tier)
	assert.Equal(t, models.TierGovernorate, ResolveTier(govOnly, govOnly).Tier)

	// Empty governorates never compare equal.
	assert.Equal(t, models.TierNational, ResolveTier(models.Location{}, models.Location{}).Tier)
}

func TestResolveTierCityNameCollision(t *testing.T) {
	// The same city name under different governorates is a different city.
	a := models.Location{City: "Victoria", Governorate: "Alexandria"}
	b := models.Location{City: "Victoria", Governorate: "Cairo"}
	assert.Equal(t, models.TierNational, ResolveTier(a, b).Tier)
}
