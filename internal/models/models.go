package models

import "time"

// Location identifies where an item or request lives. Only the
// governorate is mandatory; a more specific field is only meaningful
// together with its parent (a district is always inside the stated city).
type Location struct {
	District    string `db:"district" json:"district,omitempty"`
	City        string `db:"city" json:"city,omitempty"`
	Governorate string `db:"governorate" json:"governorate"`
	Country     string `db:"country" json:"country,omitempty"`
}

// Valid reports whether the location satisfies the required/optional
// field contract.
func (l Location) Valid() bool {
	if l.Governorate == "" {
		return false
	}
	if l.District != "" && l.City == "" {
		return false
	}
	return true
}

// Geographic tiers, most to least specific.
const (
	TierDistrict    = "DISTRICT"
	TierCity        = "CITY"
	TierGovernorate = "GOVERNORATE"
	TierNational    = "NATIONAL"
)

// Item conditions, best to worst.
const (
	ConditionNew     = "NEW"
	ConditionLikeNew = "LIKE_NEW"
	ConditionGood    = "GOOD"
	ConditionFair    = "FAIR"
	ConditionPoor    = "POOR"
)

var conditionRank = map[string]int{
	ConditionNew:     5,
	ConditionLikeNew: 4,
	ConditionGood:    3,
	ConditionFair:    2,
	ConditionPoor:    1,
}

// ConditionAtLeast reports whether condition got is at least as good as
// condition want. An unknown or empty want imposes no constraint.
func ConditionAtLeast(got, want string) bool {
	wr, ok := conditionRank[want]
	if !ok {
		return true
	}
	gr, ok := conditionRank[got]
	if !ok {
		return false
	}
	return gr >= wr
}

// Item statuses.
const (
	ItemStatusActive    = "ACTIVE"
	ItemStatusReserved  = "RESERVED"
	ItemStatusSold      = "SOLD"
	ItemStatusWithdrawn = "WITHDRAWN"
)

// Item is a listed item. The desired fields carry the owner's barter
// preferences: what they would accept in exchange.
type Item struct {
	ID                 string    `db:"id" json:"id"`
	OwnerID            string    `db:"owner_id" json:"owner_id"`
	CategoryID         string    `db:"category_id" json:"category_id"`
	Title              string    `db:"title" json:"title"`
	Description        string    `db:"description" json:"description,omitempty"`
	EstimatedValue     int64     `db:"estimated_value" json:"estimated_value"`
	Condition          string    `db:"condition" json:"condition"`
	District           string    `db:"district" json:"district,omitempty"`
	City               string    `db:"city" json:"city,omitempty"`
	Governorate        string    `db:"governorate" json:"governorate"`
	Country            string    `db:"country" json:"country,omitempty"`
	Status             string    `db:"status" json:"status"`
	DesiredCategoryID  string    `db:"desired_category_id" json:"desired_category_id,omitempty"`
	DesiredDescription string    `db:"desired_description" json:"desired_description,omitempty"`
	CreatedAt          time.Time `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time `db:"updated_at" json:"updated_at"`
}

// Loc assembles the item's location value object.
func (i *Item) Loc() Location {
	return Location{District: i.District, City: i.City, Governorate: i.Governorate, Country: i.Country}
}

// HasBarterPreferences reports whether the owner stated a desired
// category or free-text want.
func (i *Item) HasBarterPreferences() bool {
	return i.DesiredCategoryID != "" || i.DesiredDescription != ""
}

// Category is a node in the two-level category taxonomy.
type Category struct {
	ID       string `db:"id" json:"id"`
	ParentID string `db:"parent_id" json:"parent_id,omitempty"`
	Name     string `db:"name" json:"name"`
}

// Demand request kinds.
const (
	DemandKindPurchase       = "PURCHASE"
	DemandKindReverseAuction = "REVERSE_AUCTION"
)

// DemandRequest is a standing expression of desire to acquire an item,
// created and destroyed by the demand-side collaborator. The engine
// only reads it.
type DemandRequest struct {
	ID          string    `db:"id" json:"id"`
	RequesterID string    `db:"requester_id" json:"requester_id"`
	CategoryID  string    `db:"category_id" json:"category_id"`
	Keywords    string    `db:"keywords" json:"keywords,omitempty"`
	PriceMin    int64     `db:"price_min" json:"price_min,omitempty"`
	PriceMax    int64     `db:"price_max" json:"price_max,omitempty"`
	Condition   string    `db:"condition" json:"condition,omitempty"`
	District    string    `db:"district" json:"district,omitempty"`
	City        string    `db:"city" json:"city,omitempty"`
	Governorate string    `db:"governorate" json:"governorate"`
	Country     string    `db:"country" json:"country,omitempty"`
	Kind        string    `db:"kind" json:"kind"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// Loc assembles the request's location value object.
func (d *DemandRequest) Loc() Location {
	return Location{District: d.District, City: d.City, Governorate: d.Governorate, Country: d.Country}
}

// Barter offer statuses.
const (
	OfferStatusPending   = "PENDING"
	OfferStatusAccepted  = "ACCEPTED"
	OfferStatusRejected  = "REJECTED"
	OfferStatusExpired   = "EXPIRED"
	OfferStatusCancelled = "CANCELLED"
)

// BarterOffer bundles one or more of the initiator's items with a
// desired profile. An open offer accepts counter-proposals outside the
// desired profile.
type BarterOffer struct {
	ID                 string    `db:"id" json:"id"`
	InitiatorID        string    `db:"initiator_id" json:"initiator_id"`
	DesiredCategoryID  string    `db:"desired_category_id" json:"desired_category_id,omitempty"`
	DesiredDescription string    `db:"desired_description" json:"desired_description,omitempty"`
	IsOpenOffer        bool      `db:"is_open_offer" json:"is_open_offer"`
	District           string    `db:"district" json:"district,omitempty"`
	City               string    `db:"city" json:"city,omitempty"`
	Governorate        string    `db:"governorate" json:"governorate"`
	Country            string    `db:"country" json:"country,omitempty"`
	Status             string    `db:"status" json:"status"`
	ExpiresAt          time.Time `db:"expires_at" json:"expires_at"`
	CreatedAt          time.Time `db:"created_at" json:"created_at"`
}

// Loc assembles the offer's location value object.
func (o *BarterOffer) Loc() Location {
	return Location{District: o.District, City: o.City, Governorate: o.Governorate, Country: o.Country}
}

// Match kinds.
const (
	MatchKindDemand   = "DEMAND"
	MatchKindPairwise = "PAIRWISE_BARTER"
)

// Match is a persisted supply<->demand or two-party barter match.
// (source_id, target_id, kind) is unique so replayed events are no-ops.
type Match struct {
	ID            string    `db:"id" json:"id"`
	SourceID      string    `db:"source_id" json:"source_id"`
	TargetID      string    `db:"target_id" json:"target_id"`
	SourceOwnerID string    `db:"source_owner_id" json:"source_owner_id"`
	TargetOwnerID string    `db:"target_owner_id" json:"target_owner_id"`
	Kind          string    `db:"kind" json:"kind"`
	Score         float64   `db:"score" json:"score"`
	Tier          string    `db:"tier" json:"tier"`
	Reason        string    `db:"reason" json:"reason"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// Barter chain statuses.
const (
	ChainStatusPending   = "PENDING"
	ChainStatusConfirmed = "CONFIRMED"
	ChainStatusCancelled = "CANCELLED"
	ChainStatusExpired   = "EXPIRED"
)

// Chain participant statuses.
const (
	ParticipantStatusPending  = "PENDING"
	ParticipantStatusAccepted = "ACCEPTED"
	ParticipantStatusRejected = "REJECTED"
)

// BarterChain is a closed cycle of 2-4 participants, each giving one
// item and receiving another. The signature is the canonical rotation
// of the cycle's item IDs; re-discovering an existing chain is a no-op.
type BarterChain struct {
	ID               string    `db:"id" json:"id"`
	Signature        string    `db:"signature" json:"signature"`
	MatchScore       float64   `db:"match_score" json:"match_score"`
	AlgorithmVersion string    `db:"algorithm_version" json:"algorithm_version"`
	Status           string    `db:"status" json:"status"`
	ExpiresAt        time.Time `db:"expires_at" json:"expires_at"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time `db:"updated_at" json:"updated_at"`

	Participants []ChainParticipant `json:"participants,omitempty"`
}

// ChainParticipant is one leg of a chain. Invariant: the item given by
// the participant at position i is the item received by the participant
// at position (i+1) mod n.
type ChainParticipant struct {
	ID              string `db:"id" json:"id"`
	ChainID         string `db:"chain_id" json:"chain_id"`
	UserID          string `db:"user_id" json:"user_id"`
	GivingItemID    string `db:"giving_item_id" json:"giving_item_id"`
	ReceivingItemID string `db:"receiving_item_id" json:"receiving_item_id"`
	Position        int    `db:"position" json:"position"`
	Status          string `db:"status" json:"status"`
}

// MatchingStats is the snapshot returned by the stats operation.
type MatchingStats struct {
	TotalMatches    int64            `json:"total_matches"`
	MatchesByKind   map[string]int64 `json:"matches_by_kind"`
	ChainsByStatus  map[string]int64 `json:"chains_by_status"`
	ActiveItems     int64            `json:"active_items"`
	PendingOffers   int64            `json:"pending_offers"`
	AlgorithmVersion string          `json:"algorithm_version"`
}

// ProcessedEvent for idempotency under at-least-once delivery.
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}
