package models

import "time"

// Inbound event types (marketplace and settlement topics).
const (
	EventTypeItemCreated              = "ITEM_CREATED"
	EventTypeItemUpdated              = "ITEM_UPDATED"
	EventTypeItemDeleted              = "ITEM_DELETED"
	EventTypeBarterOfferCreated       = "BARTER_OFFER_CREATED"
	EventTypeBarterItemRequestCreated = "BARTER_ITEM_REQUEST_CREATED"
	EventTypeReverseAuctionCreated    = "REVERSE_AUCTION_CREATED"
	EventTypeSettlementSucceeded      = "SETTLEMENT_SUCCEEDED"
	EventTypeSettlementFailed         = "SETTLEMENT_FAILED"
)

// Outbound event types.
const (
	EventTypeChainDiscovered     = "CHAIN_DISCOVERED"
	EventTypeChainConfirmed      = "CHAIN_CONFIRMED"
	EventTypeNotificationRequest = "NOTIFICATION_REQUEST"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// ItemCreatedEvent triggers supply<->demand matching and, when the item
// carries barter preferences, chain discovery.
type ItemCreatedEvent struct {
	BaseEvent
	ItemID               string `json:"item_id"`
	UserID               string `json:"user_id"`
	CategoryID           string `json:"category_id"`
	HasBarterPreferences bool   `json:"has_barter_preferences"`
}

// ItemChanges lists the matching-relevant fields touched by an update.
type ItemChanges struct {
	Category          bool `json:"category,omitempty"`
	Price             bool `json:"price,omitempty"`
	Condition         bool `json:"condition,omitempty"`
	Location          bool `json:"location,omitempty"`
	BarterPreferences bool `json:"barter_preferences,omitempty"`
	Description       bool `json:"description,omitempty"`
}

// Relevant reports whether the update touched anything matching cares about.
func (c ItemChanges) Relevant() bool {
	return c.Category || c.Price || c.Condition || c.Location || c.BarterPreferences || c.Description
}

// ItemUpdatedEvent re-triggers matching only for relevant changes.
type ItemUpdatedEvent struct {
	BaseEvent
	ItemID     string      `json:"item_id"`
	UserID     string      `json:"user_id"`
	CategoryID string      `json:"category_id"`
	Changes    ItemChanges `json:"changes"`
}

// ItemDeletedEvent cascades to any pending match/chain referencing the item.
type ItemDeletedEvent struct {
	BaseEvent
	ItemID string `json:"item_id"`
	UserID string `json:"user_id"`
}

// BarterOfferCreatedEvent triggers pairwise and chain matching.
type BarterOfferCreatedEvent struct {
	BaseEvent
	OfferID        string   `json:"offer_id"`
	InitiatorID    string   `json:"initiator_id"`
	OfferedItemIDs []string `json:"offered_item_ids"`
	IsOpenOffer    bool     `json:"is_open_offer"`
	CategoryIDs    []string `json:"category_ids"`
	Governorate    string   `json:"governorate,omitempty"`
	City           string   `json:"city,omitempty"`
	District       string   `json:"district,omitempty"`
}

// BarterItemRequestCreatedEvent is a demand-side signal tied to an offer.
type BarterItemRequestCreatedEvent struct {
	BaseEvent
	RequestID   string   `json:"request_id"`
	OfferID     string   `json:"offer_id"`
	InitiatorID string   `json:"initiator_id"`
	CategoryID  string   `json:"category_id,omitempty"`
	Keywords    []string `json:"keywords"`
	MinPrice    int64    `json:"min_price,omitempty"`
	MaxPrice    int64    `json:"max_price,omitempty"`
	Condition   string   `json:"condition,omitempty"`
}

// ReverseAuctionCreatedEvent is a buyer-side demand trigger.
type ReverseAuctionCreatedEvent struct {
	BaseEvent
	AuctionID   string `json:"auction_id"`
	BuyerID     string `json:"buyer_id"`
	CategoryID  string `json:"category_id"`
	TargetPrice int64  `json:"target_price,omitempty"`
	MaxBudget   int64  `json:"max_budget,omitempty"`
	Governorate string `json:"governorate,omitempty"`
	City        string `json:"city,omitempty"`
	District    string `json:"district,omitempty"`
}

// SettlementResultEvent reports the settlement collaborator's outcome
// for a confirmed chain. Settlement is all-or-nothing per chain.
type SettlementResultEvent struct {
	BaseEvent
	ChainID string `json:"chain_id"`
	Reason  string `json:"reason,omitempty"`
}

// ChainDiscoveredEvent announces a newly persisted PENDING chain.
type ChainDiscoveredEvent struct {
	BaseEvent
	ChainID      string   `json:"chain_id"`
	Signature    string   `json:"signature"`
	Participants []string `json:"participants"`
	MatchScore   float64  `json:"match_score"`
}

// ChainConfirmedEvent asks the settlement collaborator to execute the chain.
type ChainConfirmedEvent struct {
	BaseEvent
	ChainID string   `json:"chain_id"`
	ItemIDs []string `json:"item_ids"`
}

// NotificationRequestEvent is the fire-and-forget payload handed to the
// notification collaborator.
type NotificationRequestEvent struct {
	BaseEvent
	UserID     string `json:"user_id"`
	Type       string `json:"type"`
	Title      string `json:"title"`
	Message    string `json:"message"`
	Priority   string `json:"priority"`
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`
	ActionURL  string `json:"action_url,omitempty"`
}
