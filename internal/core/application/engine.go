package application

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/escrow-network/escrow-daemon/internal/core/domain"
	"github.com/escrow-network/escrow-daemon/internal/core/ports"
	"github.com/escrow-network/escrow-daemon/pkg/wire"
)

var (
	// ErrMakerOffline is the delivery-error flavor of a failed availability
	// attempt, recorded on the offer rather than bubbled to the UI.
	ErrMakerOffline = errors.New("maker is offline")
	// ErrSignOfferTimeout fires when the expected arbitrator does not
	// co-sign within the configured window.
	ErrSignOfferTimeout = errors.New("timed out waiting for arbitrator offer signature")
	// ErrDepositTimeout fires when the deposit key exchange stalls.
	ErrDepositTimeout = errors.New("timed out waiting for deposit response")
	// ErrOfferNotAvailable mirrors the NOT_AVAILABLE verdict.
	ErrOfferNotAvailable = errors.New("offer is not available")
	// ErrWalletNotFunded aborts a take-offer attempt before any network or
	// fund action.
	ErrWalletNotFunded = errors.New("wallet balance does not cover the trade")
	// ErrProtocolBusy is returned when a protocol run for the same offer or
	// trade is already outstanding.
	ErrProtocolBusy = errors.New("a protocol run is already in progress")
)

// Options wires an Engine.
type Options struct {
	Repo      ports.RepoManager
	Wallet    ports.WalletService
	Transport ports.MessageTransport
	PubSub    ports.PubSub
	KeyRing   *wire.KeyRing
	// ArbitratorMode enables the arbitrator-side message handlers.
	ArbitratorMode bool
	// SignOfferTimeout bounds the wait for the arbitrator's offer
	// co-signature.
	SignOfferTimeout time.Duration
	// TradeStepTimeout bounds each suspended protocol step awaiting a peer
	// reply.
	TradeStepTimeout time.Duration
	// TakerFeePct is the taker fee rate applied to the trade amount.
	TakerFeePct float64
}

func (o Options) validate() error {
	switch {
	case o.Repo == nil:
		return errors.New("missing repo manager")
	case o.Wallet == nil:
		return errors.New("missing wallet service")
	case o.Transport == nil:
		return errors.New("missing message transport")
	case o.PubSub == nil:
		return errors.New("missing pubsub")
	case o.KeyRing == nil:
		return errors.New("missing key ring")
	}
	return nil
}

// Engine drives the trade protocols: it owns the per-trade task sequences,
// dispatches verified peer messages into them and keeps the offer book and
// trade collections consistent. All mutation of a given trade happens on one
// logical control thread; concurrency across different trades is
// unconstrained.
type Engine struct {
	repo      ports.RepoManager
	wallet    ports.WalletService
	transport ports.MessageTransport
	pubsub    ports.PubSub
	keyRing   *wire.KeyRing
	opts      Options

	mtx sync.Mutex
	// tradeLocks serializes protocol steps per trade id / offer id.
	tradeLocks map[string]*sync.Mutex
	// pendingSignOffer tracks offers awaiting the arbitrator co-signature,
	// keyed by offer id.
	pendingSignOffer map[string]*signOfferAttempt
	// pendingAvailability tracks availability attempts keyed by the trade
	// request UID nonce.
	pendingAvailability map[string]*availabilityAttempt
	// pendingDeposit tracks suspended deposit key exchanges keyed by trade
	// id, for both the taker awaiting the maker and the maker awaiting the
	// arbitrator.
	pendingDeposit map[string]*depositAttempt
	// signedOffers records, in arbitrator mode, the offers this node
	// co-signed so later deposit requests can be authenticated as coming
	// from the offer's maker.
	signedOffers map[string]*signedOfferRecord
}

// NewEngine returns a started-but-idle engine; call Start to begin consuming
// transport messages.
func NewEngine(opts Options) (*Engine, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if opts.SignOfferTimeout <= 0 {
		opts.SignOfferTimeout = 30 * time.Second
	}
	if opts.TradeStepTimeout <= 0 {
		opts.TradeStepTimeout = time.Minute
	}
	if opts.TakerFeePct <= 0 {
		opts.TakerFeePct = defaultTakerFeePct
	}
	return &Engine{
		repo:                opts.Repo,
		wallet:              opts.Wallet,
		transport:           opts.Transport,
		pubsub:              opts.PubSub,
		keyRing:             opts.KeyRing,
		opts:                opts,
		tradeLocks:          map[string]*sync.Mutex{},
		pendingSignOffer:    map[string]*signOfferAttempt{},
		pendingAvailability: map[string]*availabilityAttempt{},
		pendingDeposit:      map[string]*depositAttempt{},
		signedOffers:        map[string]*signedOfferRecord{},
	}, nil
}

// Start installs the engine as the transport's inbound dispatcher.
func (e *Engine) Start(ctx context.Context) error {
	e.transport.RegisterHandler(e.handleMessage)
	return e.transport.Start(ctx)
}

// Address returns this node's transport address.
func (e *Engine) Address() string {
	return e.transport.Address()
}

// PubKey returns this node's signing public key.
func (e *Engine) PubKey() []byte {
	return e.keyRing.PubKey()
}

// lockTrade serializes all protocol work for one trade/offer id.
func (e *Engine) lockTrade(id string) func() {
	e.mtx.Lock()
	l, ok := e.tradeLocks[id]
	if !ok {
		l = &sync.Mutex{}
		e.tradeLocks[id] = l
	}
	e.mtx.Unlock()
	l.Lock()
	return l.Unlock
}

// handleMessage is the single inbound dispatcher. Protocol errors (bad
// signature, unknown trade, wrong state) drop the offending message without
// state change.
func (e *Engine) handleMessage(from string, env *wire.Envelope) {
	logger := log.WithField("msg", env.Type.String()).WithField("from", from)

	var err error
	switch env.Type {
	case wire.MsgOfferAvailabilityRequest:
		err = e.handleOfferAvailabilityRequest(from, env)
	case wire.MsgOfferAvailabilityResponse:
		err = e.handleOfferAvailabilityResponse(from, env)
	case wire.MsgSignOfferRequest:
		if e.opts.ArbitratorMode {
			err = e.handleSignOfferRequest(from, env)
		}
	case wire.MsgSignOfferResponse:
		err = e.handleSignOfferResponse(from, env)
	case wire.MsgDepositRequest:
		if e.opts.ArbitratorMode {
			err = e.handleDepositRequestAsArbitrator(from, env)
		} else {
			err = e.handleDepositRequestAsMaker(from, env)
		}
	case wire.MsgDepositResponse:
		err = e.handleDepositResponse(from, env)
	case wire.MsgDepositPublished:
		err = e.handleDepositPublished(from, env)
	case wire.MsgPaymentSent:
		err = e.handlePaymentSent(from, env)
	case wire.MsgPaymentReceived:
		err = e.handlePaymentReceived(from, env)
	case wire.MsgPayoutPublished:
		err = e.handlePayoutPublished(from, env)
	case wire.MsgChatMessage:
		err = e.handleChatMessage(from, env)
	case wire.MsgDisputeOpened:
		err = e.handleDisputeOpened(from, env)
	case wire.MsgAck:
		e.handleAck(from, env)
	default:
		logger.Warn("dropping message of unknown type")
	}
	if err != nil {
		logger.WithError(err).Warn("dropping message")
	}
}

func (e *Engine) handleAck(from string, env *wire.Envelope) {
	var ack wire.Ack
	if err := env.Unmarshal(&ack); err != nil {
		log.WithError(err).Warn("dropping malformed ack")
		return
	}
	log.WithField("source", ack.SourceType.String()).
		WithField("uid", ack.SourceUID).
		Debugf("peer %s acked message", from)
}

// sendAck confirms application-level receipt of a message, independent of
// transport-level delivery.
func (e *Engine) sendAck(peer string, peerPubKey []byte, src *wire.Envelope, success bool, errMsg string) {
	ack, err := wire.NewEnvelope(wire.MsgAck, e.Address(), &wire.Ack{
		SourceUID:  src.UID,
		SourceType: src.Type,
		Success:    success,
		Error:      errMsg,
	})
	if err != nil {
		return
	}
	if err := ack.Sign(e.keyRing); err != nil {
		return
	}
	e.transport.SendDirectMessage(
		context.Background(), peer, peerPubKey, ack, ports.DeliveryCallbacks{},
	)
}

// send wraps envelope construction, signing and direct delivery.
func (e *Engine) send(
	peer string, peerPubKey []byte, typ wire.MsgType, payload interface{},
	cb ports.DeliveryCallbacks,
) error {
	env, err := wire.NewEnvelope(typ, e.Address(), payload)
	if err != nil {
		return err
	}
	if err := env.Sign(e.keyRing); err != nil {
		return err
	}
	e.transport.SendDirectMessage(context.Background(), peer, peerPubKey, env, cb)
	return nil
}

// sendMailbox spools an envelope for a possibly offline peer.
func (e *Engine) sendMailbox(peer string, peerPubKey []byte, typ wire.MsgType, payload interface{}) error {
	env, err := wire.NewEnvelope(typ, e.Address(), payload)
	if err != nil {
		return err
	}
	if err := env.Sign(e.keyRing); err != nil {
		return err
	}
	return e.transport.SendMailboxMessage(context.Background(), peer, peerPubKey, env)
}

func (e *Engine) publish(event ports.Event) {
	e.pubsub.Publish(event)
}

// openTrade fetches an open trade, mapping the not-found case to a protocol
// error.
func (e *Engine) openTrade(ctx context.Context, tradeID string) (*domain.Trade, error) {
	trade, err := e.repo.TradeRepository().GetOpenTrade(ctx, tradeID)
	if err != nil {
		return nil, err
	}
	return trade, nil
}
