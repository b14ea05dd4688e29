package matching

import (
	"fmt"
	"math"
	"testing"

	"matching-engine/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// threePartyCycle wires phone -> laptop -> sofa -> phone: each owner
// wants exactly the next item's category.
func threePartyCycle() []*models.Item {
	now := referenceTime()
	return []*models.Item{
		barterItem("phone", "alice", "mobile-phones", "laptops", 20000, now),
		barterItem("laptop", "bob", "laptops", "sofas", 22000, now),
		barterItem("sofa", "carol", "sofas", "mobile-phones", 18000, now),
	}
}

func TestDiscoverThreePartyCycle(t *testing.T) {
	items := threePartyCycle()
	s := NewScorer(DefaultWeights(), testTaxonomy, 14)
	g := BuildGraph(testTaxonomy, items)

	d := NewChainDiscoverer(s, testTaxonomy, 4, 5000)
	chains, truncated := d.Discover(g, "phone", referenceTime())

	assert.False(t, truncated)
	require.Len(t, chains, 1)
	require.Equal(t, 3, chains[0].Len())

	var ids []string
	for _, it := range chains[0].Items {
		ids = append(ids, it.ID)
	}
	assert.Equal(t, []string{"phone", "laptop", "sofa"}, ids)
}

func TestParticipantsGiveReceiveInvariant(t *testing.T) {
	items := threePartyCycle()
	s := NewScorer(DefaultWeights(), testTaxonomy, 14)
	g := BuildGraph(testTaxonomy, items)

	chains, _ := NewChainDiscoverer(s, testTaxonomy, 4, 5000).Discover(g, "phone", referenceTime())
	require.Len(t, chains, 1)

	parts := chains[0].Participants("chain-1")
	n := len(parts)
	require.Equal(t, 3, n)

	for i := 0; i < n; i++ {
		assert.Equal(t, parts[i].GivingItemID, parts[(i+1)%n].ReceivingItemID,
			"participant %d must give what participant %d receives", i, (i+1)%n)
		assert.Equal(t, i, parts[i].Position)
		assert.Equal(t, models.ParticipantStatusPending, parts[i].Status)
	}

	// Each participant gives their own item and never receives it back.
	for _, p := range parts {
		assert.NotEqual(t, p.GivingItemID, p.ReceivingItemID)
	}
}

func TestDiscoverRespectsMaxLength(t *testing.T) {
	now := referenceTime()
	// A 5-cycle across five single-item owners.
	cats := []string{"mobile-phones", "laptops", "sofas", "electronics", "furniture"}
	var items []*models.Item
	for i := 0; i < 5; i++ {
		it := barterItem(fmt.Sprintf("item-%d", i), fmt.Sprintf("user-%d", i), cats[i], cats[(i+1)%5], 10000, now)
		items = append(items, it)
	}
	s := NewScorer(DefaultWeights(), nil, 14)
	g := BuildGraph(nil, items)

	chains, _ := NewChainDiscoverer(s, nil, 4, 5000).Discover(g, "item-0", now)
	for _, ch := range chains {
		assert.LessOrEqual(t, ch.Len(), 4)
	}
}

func TestDiscoverOwnerAppearsOnce(t *testing.T) {
	now := referenceTime()
	// Bob owns two items that could both slot into the walk.
	items := []*models.Item{
		barterItem("phone", "alice", "mobile-phones", "laptops", 20000, now),
		barterItem("laptop-1", "bob", "laptops", "sofas", 20000, now),
		barterItem("laptop-2", "bob", "laptops", "sofas", 20000, now),
		barterItem("sofa", "carol", "sofas", "mobile-phones", 20000, now),
	}
	s := NewScorer(DefaultWeights(), testTaxonomy, 14)
	g := BuildGraph(testTaxonomy, items)

	chains, _ := NewChainDiscoverer(s, testTaxonomy, 4, 5000).Discover(g, "phone", referenceTime())
	for _, ch := range chains {
		owners := make(map[string]bool)
		for _, it := range ch.Items {
			assert.False(t, owners[it.OwnerID], "owner %s appears twice", it.OwnerID)
			owners[it.OwnerID] = true
		}
	}
}

func TestChainScoreIsGeometricMean(t *testing.T) {
	items := threePartyCycle()
	s := NewScorer(DefaultWeights(), testTaxonomy, 14)
	g := BuildGraph(testTaxonomy, items)

	chains, _ := NewChainDiscoverer(s, testTaxonomy, 4, 5000).Discover(g, "phone", referenceTime())
	require.Len(t, chains, 1)

	ch := chains[0]
	require.Len(t, ch.EdgeScores, 3)
	product := 1.0
	for _, es := range ch.EdgeScores {
		assert.Greater(t, es, 0.0)
		product *= es
	}
	assert.InDelta(t, math.Pow(product, 1.0/3.0), ch.Score, 1e-9)
}

func TestDiscoverBudgetTruncates(t *testing.T) {
	now := referenceTime()
	// A dense open-desire clique blows any tiny budget.
	var items []*models.Item
	for i := 0; i < 12; i++ {
		it := barterItem(fmt.Sprintf("item-%d", i), fmt.Sprintf("user-%d", i), "mobile-phones", "mobile-phones", 10000, now)
		items = append(items, it)
	}
	s := NewScorer(DefaultWeights(), testTaxonomy, 14)
	g := BuildGraph(testTaxonomy, items)

	_, truncated := NewChainDiscoverer(s, testTaxonomy, 4, 10).Discover(g, "item-0", now)
	assert.True(t, truncated)
}

func TestSignatureStableAcrossRotations(t *testing.T) {
	items := threePartyCycle()

	rotated := []*models.Item{items[1], items[2], items[0]}
	assert.Equal(t, Signature(items), Signature(rotated))

	reversed := []*models.Item{items[2], items[1], items[0]}
	assert.NotEqual(t, Signature(items), Signature(reversed),
		"opposite walk direction is a different trade")
}

func TestSelectChainsResolvesOverlap(t *testing.T) {
	a := &models.Item{ID: "a"}
	b := &models.Item{ID: "b"}
	c := &models.Item{ID: "c"}
	d := &models.Item{ID: "d"}

	strong := DiscoveredChain{Items: []*models.Item{a, b}, Score: 0.9}
	overlapping := DiscoveredChain{Items: []*models.Item{b, c}, Score: 0.7}
	disjoint := DiscoveredChain{Items: []*models.Item{c, d}, Score: 0.5}

	kept := SelectChains([]DiscoveredChain{overlapping, strong, disjoint})
	require.Len(t, kept, 2)
	assert.Equal(t, 0.9, kept[0].Score)
	assert.Equal(t, 0.5, kept[1].Score)
}

func TestSelectChainsPrefersShorterOnTie(t *testing.T) {
	a := &models.Item{ID: "a"}
	b := &models.Item{ID: "b"}
	c := &models.Item{ID: "c"}

	long := DiscoveredChain{Items: []*models.Item{a, b, c}, Score: 0.8}
	short := DiscoveredChain{Items: []*models.Item{a, b}, Score: 0.8}

	kept := SelectChains([]DiscoveredChain{long, short})
	require.Len(t, kept, 1)
	assert.Equal(t, 2, kept[0].Len())
}

func TestBuildGraphExcludesSameOwnerAndInactive(t *testing.T) {
	now := referenceTime()
	active := barterItem("phone", "alice", "mobile-phones", "laptops", 20000, now)
	sameOwner := barterItem("own-laptop", "alice", "laptops", "mobile-phones", 20000, now)
	sold := barterItem("sold-laptop", "bob", "laptops", "mobile-phones", 20000, now)
	sold.Status = models.ItemStatusSold

	g := BuildGraph(testTaxonomy, []*models.Item{active, sameOwner, sold})
	assert.Empty(t, g.edges["phone"])
	assert.Nil(t, g.Item("sold-laptop"))
}
