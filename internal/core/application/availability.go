package application

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/thanhpk/randstr"

	"github.com/escrow-network/escrow-daemon/internal/core/domain"
	"github.com/escrow-network/escrow-daemon/internal/core/ports"
	"github.com/escrow-network/escrow-daemon/pkg/task"
	"github.com/escrow-network/escrow-daemon/pkg/timer"
	"github.com/escrow-network/escrow-daemon/pkg/wire"
)

// OfferAvailabilityModel is the transient per-attempt context of the
// taker→maker availability handshake. It is created per attempt and
// discarded on completion or failure, never persisted.
type OfferAvailabilityModel struct {
	Offer            *domain.Offer
	PaymentAccountID string
	PeerAddress      string
	// Amount is the taker's intended trade amount carried inside the trade
	// request.
	Amount        uint64
	TakerFee      uint64
	PayoutAddress string

	TradeRequest   *wire.TradeRequest
	MakerSignature []byte
}

type availabilityAttempt struct {
	model   *OfferAvailabilityModel
	handler *task.Handler
	timer   *timer.Timer
}

// NewOfferAvailabilityModel builds the per-attempt context for an offer
// obtained from the offer book.
func NewOfferAvailabilityModel(
	offer *domain.Offer, paymentAccountID string, amount uint64,
) *OfferAvailabilityModel {
	return &OfferAvailabilityModel{
		Offer:            offer,
		PaymentAccountID: paymentAccountID,
		PeerAddress:      offer.Payload.MakerAddress,
		Amount:           amount,
	}
}

// availabilityTasks returns the task sequence of the availability protocol.
// The caller owns the runner so take-offer can splice these tasks into its
// own sequence.
func (e *Engine) availabilityTasks(model *OfferAvailabilityModel) []task.Task {
	return []task.Task{
		{Name: "CreateTradeRequest", Run: func(h *task.Handler) {
			e.createTradeRequest(model, h)
		}},
		{Name: "SendOfferAvailabilityRequest", Run: func(h *task.Handler) {
			e.sendOfferAvailabilityRequest(model, h)
		}},
	}
}

// CheckOfferAvailability runs the availability handshake on its own. The
// callbacks fire once; retry policy belongs to the caller.
func (e *Engine) CheckOfferAvailability(
	model *OfferAvailabilityModel, onSuccess func(), onError func(error),
) error {
	runner := task.NewRunner(onSuccess, onError)
	return runner.Run(e.availabilityTasks(model)...)
}

// createTradeRequest builds and signs the trade request, nonce-bound to the
// offer id so the signature cannot be replayed across offers.
func (e *Engine) createTradeRequest(model *OfferAvailabilityModel, h *task.Handler) {
	payoutAddress := model.PayoutAddress
	if payoutAddress == "" {
		addr, err := e.wallet.NewAddress(
			context.Background(), model.Offer.ID(), domain.AddressContextTradePayout,
		)
		if err != nil {
			h.Fail(fmt.Errorf("deriving payout address: %w", err))
			return
		}
		payoutAddress = addr
		model.PayoutAddress = addr
	}

	req := &wire.TradeRequest{
		OfferID:           model.Offer.ID(),
		UID:               randstr.Hex(16),
		Version:           wire.ProtocolVersion,
		SenderAddress:     e.Address(),
		PubKey:            e.keyRing.PubKey(),
		Amount:            model.Amount,
		Price:             model.Offer.Payload.Price,
		TakerFee:          model.TakerFee,
		PaymentAccountID:  model.PaymentAccountID,
		PaymentMethodID:   model.Offer.Payload.PaymentMethodID,
		Timestamp:         time.Now().Unix(),
		MakerAddress:      model.Offer.Payload.MakerAddress,
		TakerAddress:      e.Address(),
		ArbitratorAddress: model.Offer.Payload.ArbitratorAddress,
		PayoutAddress:     payoutAddress,
	}
	sig, err := e.keyRing.Sign(req.SigHash())
	if err != nil {
		h.Fail(fmt.Errorf("signing trade request: %w", err))
		return
	}
	req.Signature = sig
	model.TradeRequest = req
	h.Done()
}

// sendOfferAvailabilityRequest suspends the sequence until the maker's
// response, a delivery fault or the step timeout. A delivery fault marks the
// offer MAKER_OFFLINE; there is no retry at this layer.
func (e *Engine) sendOfferAvailabilityRequest(model *OfferAvailabilityModel, h *task.Handler) {
	attempt := &availabilityAttempt{model: model, handler: h}
	uid := model.TradeRequest.UID

	e.mtx.Lock()
	e.pendingAvailability[uid] = attempt
	e.mtx.Unlock()

	abort := func(state domain.OfferState, err error) {
		e.mtx.Lock()
		delete(e.pendingAvailability, uid)
		e.mtx.Unlock()
		if stateErr := model.Offer.SetState(state); stateErr != nil {
			log.WithError(stateErr).Warn("recording availability failure state")
		}
		model.Offer.ErrorMessage = err.Error()
		h.Fail(err)
	}

	attempt.timer = timer.AfterFunc(e.opts.TradeStepTimeout, func() {
		abort(domain.OfferStateMakerOffline, ErrMakerOffline)
	})

	payload := &wire.OfferAvailabilityRequest{
		OfferID:         model.Offer.ID(),
		PubKey:          e.keyRing.PubKey(),
		TakerTradePrice: model.Offer.Payload.Price,
		TradeRequest:    model.TradeRequest,
	}
	err := e.send(
		model.PeerAddress, model.Offer.Payload.MakerPubKey,
		wire.MsgOfferAvailabilityRequest, payload,
		ports.DeliveryCallbacks{
			OnArrived: func() {
				// Delivery confirmed; keep waiting for the response.
			},
			OnFault: func(sendErr error) {
				if attempt.timer.Stop() {
					abort(domain.OfferStateMakerOffline, fmt.Errorf("%w: %v", ErrMakerOffline, sendErr))
				}
			},
		},
	)
	if err != nil {
		attempt.timer.Stop()
		abort(domain.OfferStateMakerOffline, err)
	}
}

// handleOfferAvailabilityResponse resumes a suspended availability attempt.
// Any verdict other than AVAILABLE, or a failed maker countersignature,
// marks the offer NOT_AVAILABLE.
func (e *Engine) handleOfferAvailabilityResponse(from string, env *wire.Envelope) error {
	var resp wire.OfferAvailabilityResponse
	if err := env.Unmarshal(&resp); err != nil {
		return err
	}

	e.mtx.Lock()
	attempt, ok := e.pendingAvailability[resp.RequestUID]
	if ok {
		delete(e.pendingAvailability, resp.RequestUID)
	}
	e.mtx.Unlock()
	if !ok {
		return fmt.Errorf("no availability attempt pending for uid %s", resp.RequestUID)
	}
	if !attempt.timer.Stop() {
		// The timeout beat the response; the attempt already failed.
		return nil
	}

	model := attempt.model
	if from != model.PeerAddress {
		model.failNotAvailable(attempt, fmt.Errorf("response from unexpected sender %s", from))
		return nil
	}
	if err := env.VerifySig(model.Offer.Payload.MakerPubKey); err != nil {
		model.failNotAvailable(attempt, err)
		return nil
	}
	if resp.AvailabilityResult != wire.AvailabilityResultAvailable {
		model.failNotAvailable(attempt, fmt.Errorf(
			"%w: maker reported %s", ErrOfferNotAvailable, resp.AvailabilityResult,
		))
		return nil
	}
	// The countersignature is the proof of reservation; it must cover the
	// exact trade request we sent, whatever the embedded verdict claims.
	if !wire.Verify(model.Offer.Payload.MakerPubKey, model.TradeRequest.SigHash(), resp.MakerSignature) {
		model.failNotAvailable(attempt, fmt.Errorf(
			"%w: invalid maker countersignature", ErrOfferNotAvailable,
		))
		return nil
	}

	model.MakerSignature = resp.MakerSignature
	if err := model.Offer.SetState(domain.OfferStateAvailable); err != nil {
		attempt.handler.Fail(err)
		return nil
	}
	attempt.handler.Done()
	return nil
}

func (m *OfferAvailabilityModel) failNotAvailable(attempt *availabilityAttempt, err error) {
	if stateErr := m.Offer.SetState(domain.OfferStateNotAvailable); stateErr != nil {
		log.WithError(stateErr).Warn("recording NOT_AVAILABLE state")
	}
	m.Offer.ErrorMessage = err.Error()
	attempt.handler.Fail(err)
}

// handleOfferAvailabilityRequest is the maker side of the handshake: it
// atomically checks-and-reserves the offer so that of two concurrent takers
// exactly one obtains the reservation.
func (e *Engine) handleOfferAvailabilityRequest(from string, env *wire.Envelope) error {
	var req wire.OfferAvailabilityRequest
	if err := env.Unmarshal(&req); err != nil {
		return err
	}
	if req.TradeRequest == nil {
		return fmt.Errorf("availability request without trade request")
	}
	if err := env.VerifySig(req.PubKey); err != nil {
		return err
	}

	tr := req.TradeRequest
	respond := func(result wire.AvailabilityResult, makerSig []byte) {
		payload := &wire.OfferAvailabilityResponse{
			OfferID:            req.OfferID,
			RequestUID:         tr.UID,
			AvailabilityResult: result,
			MakerSignature:     makerSig,
		}
		if err := e.send(from, req.PubKey, wire.MsgOfferAvailabilityResponse, payload, ports.DeliveryCallbacks{}); err != nil {
			log.WithError(err).Warn("sending availability response")
		}
	}

	if tr.Version != wire.ProtocolVersion {
		respond(wire.AvailabilityResultUnsupportedVersion, nil)
		return nil
	}
	if tr.OfferID != req.OfferID ||
		!wire.Verify(tr.PubKey, tr.SigHash(), tr.Signature) {
		respond(wire.AvailabilityResultInvalidRequest, nil)
		return nil
	}

	unlock := e.lockTrade(req.OfferID)
	defer unlock()

	ctx := context.Background()
	granted := false
	err := e.repo.OfferRepository().UpdateOffer(ctx, req.OfferID,
		func(o *domain.Offer) (*domain.Offer, error) {
			if tr.Amount > 0 && !o.Payload.InTradeRange(tr.Amount) {
				return nil, domain.ErrOfferNotAvailable
			}
			if o.State == domain.OfferStateNotAvailable && o.ReservedForTaker == from {
				// Re-delivery from the reservation holder; the
				// countersignature below re-binds the reservation to this
				// request.
				o.ReservedRequestUID = tr.UID
				granted = true
				return o, nil
			}
			if !o.IsTakeable() {
				return nil, domain.ErrOfferNotAvailable
			}
			if err := o.SetState(domain.OfferStateNotAvailable); err != nil {
				return nil, err
			}
			o.ReservedForTaker = from
			o.ReservedRequestUID = tr.UID
			granted = true
			return o, nil
		})
	if err != nil || !granted {
		respond(wire.AvailabilityResultOfferTaken, nil)
		return nil
	}

	makerSig, err := e.keyRing.Sign(tr.SigHash())
	if err != nil {
		respond(wire.AvailabilityResultUnknown, nil)
		return err
	}
	respond(wire.AvailabilityResultAvailable, makerSig)
	e.publish(ports.Event{Topic: ports.TopicOfferStateChanged})
	return nil
}
