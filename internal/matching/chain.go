package matching

import (
	"math"
	"sort"
	"strings"
	"time"

	"matching-engine/internal/models"
)

// Graph is the directed want/offer graph. Each node is one tradable
// item; an edge A -> B exists when A's owner's desire profile is
// satisfied by B. A node can only appear in a cycle if it has an
// outgoing edge, so items without barter preferences never chain.
type Graph struct {
	tax   Taxonomy
	byID  map[string]*models.Item
	edges map[string][]string
}

// BuildGraph constructs the want/offer graph over the given items.
// Inactive items and self-edges are excluded up front.
func BuildGraph(tax Taxonomy, items []*models.Item) *Graph {
	g := &Graph{
		tax:   tax,
		byID:  make(map[string]*models.Item, len(items)),
		edges: make(map[string][]string),
	}
	for _, it := range items {
		if it.Status != models.ItemStatusActive {
			continue
		}
		g.byID[it.ID] = it
	}
	for _, from := range g.byID {
		desire := ItemDesire(from)
		if desire.CategoryID == "" && desire.Description == "" {
			continue
		}
		for _, to := range g.byID {
			if to.OwnerID == from.OwnerID {
				continue
			}
			if desire.Satisfies(tax, to) {
				g.edges[from.ID] = append(g.edges[from.ID], to.ID)
			}
		}
		sort.Strings(g.edges[from.ID])
	}
	return g
}

// Item returns the graph node for an item ID.
func (g *Graph) Item(id string) *models.Item {
	return g.byID[id]
}

// DiscoveredChain is a closed cycle in walk order: the owner of
// Items[i] gives Items[i] and receives Items[(i+1) mod n].
type DiscoveredChain struct {
	Items      []*models.Item
	EdgeScores []float64
	Score      float64
	Signature  string
}

// Len is the number of participants in the chain.
func (c DiscoveredChain) Len() int { return len(c.Items) }

// ChainDiscoverer performs the bounded depth-first cycle search.
type ChainDiscoverer struct {
	scorer *Scorer
	tax    Taxonomy

	// MaxLength caps the cycle size (direct swap = 2). Budget caps the
	// total node expansions of one search; hitting it yields whatever
	// was found so far rather than failing.
	MaxLength int
	Budget    int
}

// NewChainDiscoverer creates a discoverer with the given bounds.
func NewChainDiscoverer(scorer *Scorer, tax Taxonomy, maxLength, budget int) *ChainDiscoverer {
	return &ChainDiscoverer{scorer: scorer, tax: tax, MaxLength: maxLength, Budget: budget}
}

// Discover searches for closed cycles through the origin item with a
// bounded DFS: at most MaxLength nodes per walk, each owner at most
// once per walk, at most Budget expansions overall. It returns the
// surviving chains after overlap selection, best-first, and whether
// the search was truncated by the budget.
func (d *ChainDiscoverer) Discover(g *Graph, originID string, now time.Time) ([]DiscoveredChain, bool) {
	origin := g.Item(originID)
	if origin == nil {
		return nil, false
	}

	var (
		found     []DiscoveredChain
		budget    = d.Budget
		truncated bool
	)

	path := []*models.Item{origin}
	owners := map[string]bool{origin.OwnerID: true}

	var walk func()
	walk = func() {
		last := path[len(path)-1]
		for _, nextID := range g.edges[last.ID] {
			if budget <= 0 {
				truncated = true
				return
			}
			budget--

			if nextID == originID {
				if len(path) >= 2 {
					if chain, ok := d.closeCycle(path, now); ok {
						found = append(found, chain)
					}
				}
				continue
			}
			if len(path) >= d.MaxLength {
				continue
			}
			next := g.Item(nextID)
			if next == nil || owners[next.OwnerID] {
				continue
			}

			path = append(path, next)
			owners[next.OwnerID] = true
			walk()
			owners[next.OwnerID] = false
			path = path[:len(path)-1]
		}
	}
	walk()

	return SelectChains(found), truncated
}

// closeCycle validates and scores a candidate cycle. Every edge must
// pass the full desire-compatibility check and score above zero; the
// chain score is the geometric mean of the edge scores, so one weak
// link pulls the whole chain down disproportionately.
func (d *ChainDiscoverer) closeCycle(path []*models.Item, now time.Time) (DiscoveredChain, bool) {
	n := len(path)
	edgeScores := make([]float64, n)
	logSum := 0.0
	for i := 0; i < n; i++ {
		from, to := path[i], path[(i+1)%n]
		if !ItemDesire(from).Satisfies(d.tax, to) {
			return DiscoveredChain{}, false
		}
		score := directionScore(d.scorer, ItemDesire(from), from, to, now).Score
		if score <= 0 {
			return DiscoveredChain{}, false
		}
		edgeScores[i] = score
		logSum += math.Log(score)
	}

	items := make([]*models.Item, n)
	copy(items, path)
	return DiscoveredChain{
		Items:      items,
		EdgeScores: edgeScores,
		Score:      math.Exp(logSum / float64(n)),
		Signature:  Signature(items),
	}, true
}

// Signature is the stable identity of a cycle: its item IDs in walk
// order, rotated so the smallest ID comes first. Re-discovering the
// same cycle from any origin produces the same signature.
func Signature(items []*models.Item) string {
	n := len(items)
	minIdx := 0
	for i := 1; i < n; i++ {
		if items[i].ID < items[minIdx].ID {
			minIdx = i
		}
	}
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		ids = append(ids, items[(minIdx+i)%n].ID)
	}
	return strings.Join(ids, ">")
}

// SelectChains resolves overlaps: when the same item appears in more
// than one chain, the chain with higher score wins, then the shorter
// chain, then the earlier-discovered one. Losing chains are discarded
// so no user is offered mutually exclusive options for one item.
func SelectChains(chains []DiscoveredChain) []DiscoveredChain {
	sort.SliceStable(chains, func(i, j int) bool {
		if chains[i].Score != chains[j].Score {
			return chains[i].Score > chains[j].Score
		}
		return chains[i].Len() < chains[j].Len()
	})

	used := make(map[string]bool)
	kept := chains[:0:0]
	for _, ch := range chains {
		conflict := false
		for _, it := range ch.Items {
			if used[it.ID] {
				conflict = true
				break
			}
		}
		if conflict {
			continue
		}
		for _, it := range ch.Items {
			used[it.ID] = true
		}
		kept = append(kept, ch)
	}
	return kept
}

// Participants lays the cycle out in persisted position order. The
// walk direction is reversed so that the participant at position i
// gives the item received by the participant at position (i+1) mod n.
func (c DiscoveredChain) Participants(chainID string) []models.ChainParticipant {
	n := len(c.Items)
	out := make([]models.ChainParticipant, n)
	for pos := 0; pos < n; pos++ {
		give := c.Items[(n-pos)%n]
		receive := c.Items[(n-pos+1)%n]
		out[pos] = models.ChainParticipant{
			ChainID:         chainID,
			UserID:          give.OwnerID,
			GivingItemID:    give.ID,
			ReceivingItemID: receive.ID,
			Position:        pos,
			Status:          models.ParticipantStatusPending,
		}
	}
	return out
}
