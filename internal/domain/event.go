package domain

import "time"

type ListingAction string

const (
	ListingActionNew          ListingAction = "new"
	ListingActionPriceChanged ListingAction = "price_changed"
	ListingActionInactive     ListingAction = "inactive"
)

type ListingEvent struct {
	Action  ListingAction `json:"action"`
	Listing Listing       `json:"listing"`
}

// InboundMessage is a chat message received by an integration.
type InboundMessage struct {
	Integration Integration
	ChannelID   string
	UserID      string
	Text        string
	ReceivedAt  time.Time
}
