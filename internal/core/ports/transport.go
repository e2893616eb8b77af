package ports

import (
	"context"

	"github.com/escrow-network/escrow-daemon/pkg/wire"
)

// DeliveryCallbacks report the outcome of a direct send exactly once: either
// the peer acknowledged transport-level receipt (OnArrived) or the delivery
// failed (OnFault), typically because the peer is offline.
type DeliveryCallbacks struct {
	OnArrived func()
	OnFault   func(error)
}

// MessageHandler consumes a decoded envelope received from a peer.
type MessageHandler func(from string, env *wire.Envelope)

// MessageTransport delivers encrypted, signed envelopes between node
// addresses. Direct delivery is best effort with a delivery callback;
// mailbox delivery is store-and-forward for offline peers, at-least-once,
// de-duplicated by the envelope UID. Delivery preserves per-connection FIFO
// order but no cross-connection order.
type MessageTransport interface {
	// Address returns this node's own address.
	Address() string
	// SendDirectMessage sends an envelope to an online peer. The callbacks
	// fire from a transport goroutine.
	SendDirectMessage(
		ctx context.Context,
		peerAddress string, peerPubKey []byte,
		env *wire.Envelope, cb DeliveryCallbacks,
	)
	// SendMailboxMessage spools an envelope for a possibly offline peer.
	SendMailboxMessage(
		ctx context.Context,
		peerAddress string, peerPubKey []byte, env *wire.Envelope,
	) error
	// RegisterHandler installs the single inbound dispatcher. Must be called
	// before Start.
	RegisterHandler(handler MessageHandler)
	// Start begins accepting inbound messages and draining the mailbox.
	Start(ctx context.Context) error
	// Close tears the transport down.
	Close() error
}
