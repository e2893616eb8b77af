package ports

import "github.com/escrow-network/escrow-daemon/internal/core/domain"

// Topics of the collection broadcast channels.
const (
	TopicOfferAdded        = "offer/added"
	TopicOfferRemoved      = "offer/removed"
	TopicOfferStateChanged = "offer/state"
	TopicTradeStateChanged = "trade/state"
	TopicDisputeOpened     = "dispute/opened"
)

// Event is one notification published on a collection channel. Observers
// (UI, CLI, bots) must treat the carried snapshots as observe-only and
// tolerate eventual consistency.
type Event struct {
	Topic string
	Offer *domain.Offer
	Trade *domain.Trade
}

// PubSub is the broadcast channel abstraction over the offer book and trade
// collections.
type PubSub interface {
	// Subscribe returns a channel receiving every event published for the
	// topic, or all events when topic is empty.
	Subscribe(topic string) <-chan Event
	// Publish fans an event out to subscribers without blocking the
	// publisher.
	Publish(event Event)
	// Close closes all subscriber channels.
	Close()
}
