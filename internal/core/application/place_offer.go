package application

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/escrow-network/escrow-daemon/internal/core/domain"
	"github.com/escrow-network/escrow-daemon/internal/core/ports"
	"github.com/escrow-network/escrow-daemon/pkg/task"
	"github.com/escrow-network/escrow-daemon/pkg/timer"
	"github.com/escrow-network/escrow-daemon/pkg/wire"
)

// placeOfferModel tracks what a place-offer run has done so far, driving the
// compensating rollback on failure.
type placeOfferModel struct {
	offer     *domain.Offer
	reserved  bool
	published bool
}

type signOfferAttempt struct {
	model   *placeOfferModel
	handler *task.Handler
	timer   *timer.Timer
	// arbitratorAddress is the only sender a response is accepted from.
	arbitratorAddress string
}

// FundsNeededForOffer returns the amount the maker locks when publishing:
// the security deposit plus, for a SELL offer, the offered amount itself.
// The maker fee is reserved on top in either case.
func FundsNeededForOffer(p domain.OfferPayload) uint64 {
	needed := p.SecurityDeposit(p.Amount) + p.MakerFee
	if p.Direction == domain.OfferDirectionSell {
		needed += p.Amount
	}
	return needed
}

// PlaceOffer runs the maker-side publication protocol: validate, reserve
// funds, obtain the arbitrator co-signature, add to the offer book. Exactly
// one of the callbacks fires; on failure every completed step has been
// rolled back. The returned offer is the live handle the run mutates.
func (e *Engine) PlaceOffer(
	payload domain.OfferPayload, onSuccess func(*domain.Offer), onError func(error),
) (*domain.Offer, error) {
	payload.MakerAddress = e.Address()
	payload.MakerPubKey = e.keyRing.PubKey()
	payload.ProtocolVersion = wire.ProtocolVersion
	offer := domain.NewOffer(payload)
	model := &placeOfferModel{offer: offer}

	e.mtx.Lock()
	if _, busy := e.pendingSignOffer[offer.ID()]; busy {
		e.mtx.Unlock()
		return nil, ErrProtocolBusy
	}
	e.mtx.Unlock()

	runner := task.NewRunner(
		func() { onSuccess(offer) },
		func(err error) {
			e.rollbackPlaceOffer(model)
			offer.ErrorMessage = err.Error()
			onError(err)
		},
	)
	err := runner.Run(
		task.Task{Name: "ValidateOffer", Run: func(h *task.Handler) {
			if err := offer.Validate(); err != nil {
				h.Fail(err)
				return
			}
			h.Done()
		}},
		task.Task{Name: "ReserveOfferFunds", Run: func(h *task.Handler) {
			e.reserveOfferFunds(model, h)
		}},
		task.Task{Name: "SendSignOfferRequest", Run: func(h *task.Handler) {
			e.sendSignOfferRequest(model, h)
		}},
		task.Task{Name: "AddToOfferBook", Run: func(h *task.Handler) {
			e.addToOfferBook(model, h)
		}},
	)
	if err != nil {
		return nil, err
	}
	return offer, nil
}

// reserveOfferFunds locks the maker's funds before anything goes on the
// wire. Ordering matters: the arbitrator only co-signs offers whose maker
// proves a reservation, so the reserve tx must exist first.
func (e *Engine) reserveOfferFunds(model *placeOfferModel, h *task.Handler) {
	ctx := context.Background()
	offer := model.offer
	needed := FundsNeededForOffer(offer.Payload)

	balance, err := e.wallet.Balance(ctx)
	if err != nil {
		h.Fail(err)
		return
	}
	if balance < needed {
		h.Fail(fmt.Errorf("%w: have %d, need %d", ErrWalletNotFunded, balance, needed))
		return
	}

	reserveTx, err := e.wallet.ReserveFunds(
		ctx, offer.ID(), domain.AddressContextOfferFunding, needed,
	)
	if err != nil {
		h.Fail(err)
		return
	}
	model.reserved = true
	offer.ReserveTxID = reserveTx.TxID

	err = e.repo.AddressRepository().UpdateAddressEntries(ctx,
		func(l *domain.XmrAddressEntryList) (*domain.XmrAddressEntryList, error) {
			l.Add(domain.XmrAddressEntry{
				OfferID:         offer.ID(),
				Context:         domain.AddressContextOfferFunding,
				Address:         reserveTx.Address,
				ReservedBalance: needed,
			})
			return l, nil
		})
	if err != nil {
		h.Fail(err)
		return
	}
	h.Done()
}

// sendSignOfferRequest suspends the run until the arbitrator co-signs or the
// sign-offer timeout fires.
func (e *Engine) sendSignOfferRequest(model *placeOfferModel, h *task.Handler) {
	offer := model.offer
	attempt := &signOfferAttempt{
		model:             model,
		handler:           h,
		arbitratorAddress: offer.Payload.ArbitratorAddress,
	}

	e.mtx.Lock()
	e.pendingSignOffer[offer.ID()] = attempt
	e.mtx.Unlock()

	abort := func(err error) {
		e.mtx.Lock()
		delete(e.pendingSignOffer, offer.ID())
		e.mtx.Unlock()
		h.Fail(err)
	}

	attempt.timer = timer.AfterFunc(e.opts.SignOfferTimeout, func() {
		abort(ErrSignOfferTimeout)
	})

	payload := &wire.SignOfferRequest{
		OfferID:      offer.ID(),
		OfferPayload: offer.Payload.Encode(),
		ReserveTxID:  offer.ReserveTxID,
		MakerPubKey:  e.keyRing.PubKey(),
	}
	err := e.send(
		offer.Payload.ArbitratorAddress, nil,
		wire.MsgSignOfferRequest, payload,
		ports.DeliveryCallbacks{
			OnFault: func(sendErr error) {
				if attempt.timer.Stop() {
					abort(fmt.Errorf("arbitrator unreachable: %w", sendErr))
				}
			},
		},
	)
	if err != nil {
		attempt.timer.Stop()
		abort(err)
	}
}

// handleSignOfferResponse resumes a suspended place-offer run. Responses
// from any sender other than the offer's designated arbitrator are dropped.
func (e *Engine) handleSignOfferResponse(from string, env *wire.Envelope) error {
	var resp wire.SignOfferResponse
	if err := env.Unmarshal(&resp); err != nil {
		return err
	}

	e.mtx.Lock()
	attempt, ok := e.pendingSignOffer[resp.OfferID]
	e.mtx.Unlock()
	if !ok {
		return fmt.Errorf("no sign-offer attempt pending for offer %s", resp.OfferID)
	}
	if from != attempt.arbitratorAddress {
		return fmt.Errorf("sign-offer response from unexpected sender %s", from)
	}
	if err := env.VerifySig(resp.ArbitratorPubKey); err != nil {
		return err
	}
	if !attempt.timer.Stop() {
		return nil
	}

	e.mtx.Lock()
	delete(e.pendingSignOffer, resp.OfferID)
	e.mtx.Unlock()

	offer := attempt.model.offer
	if !wire.Verify(resp.ArbitratorPubKey, offer.Payload.Serialize(), resp.ArbitratorSignature) {
		attempt.handler.Fail(fmt.Errorf("invalid arbitrator signature on offer %s", resp.OfferID))
		return nil
	}
	offer.ArbitratorSignature = resp.ArbitratorSignature
	attempt.handler.Done()
	return nil
}

// addToOfferBook publishes the co-signed offer.
func (e *Engine) addToOfferBook(model *placeOfferModel, h *task.Handler) {
	ctx := context.Background()
	offer := model.offer
	if err := offer.SetState(domain.OfferStateAvailable); err != nil {
		h.Fail(err)
		return
	}
	if err := e.repo.OfferRepository().AddOffer(ctx, offer); err != nil {
		h.Fail(err)
		return
	}
	model.published = true
	e.publish(ports.Event{Topic: ports.TopicOfferAdded, Offer: offer})
	h.Done()
}

// rollbackPlaceOffer undoes whatever a failed run completed, in reverse
// order: unpublish, release the reservation, free the address entries.
func (e *Engine) rollbackPlaceOffer(model *placeOfferModel) {
	ctx := context.Background()
	offer := model.offer
	if model.published {
		if err := e.repo.OfferRepository().RemoveOffer(ctx, offer.ID()); err != nil {
			log.WithError(err).Warn("rollback: removing offer from book")
		}
	}
	if model.reserved {
		if err := e.wallet.ReleaseReservedFunds(ctx, offer.ID()); err != nil {
			log.WithError(err).Warn("rollback: releasing reserved funds")
		}
		err := e.repo.AddressRepository().UpdateAddressEntries(ctx,
			func(l *domain.XmrAddressEntryList) (*domain.XmrAddressEntryList, error) {
				l.SwapToAvailable(offer.ID())
				return l, nil
			})
		if err != nil {
			log.WithError(err).Warn("rollback: freeing address entries")
		}
	}
}

// RemoveOffer unpublishes one of this maker's offers and releases its
// reservation. An offer currently reserved by a taker cannot be removed
// until the reservation resolves.
func (e *Engine) RemoveOffer(ctx context.Context, offerID string) error {
	unlock := e.lockTrade(offerID)
	defer unlock()

	var removed *domain.Offer
	err := e.repo.OfferRepository().UpdateOffer(ctx, offerID,
		func(o *domain.Offer) (*domain.Offer, error) {
			if o.State == domain.OfferStateNotAvailable && o.ReservedForTaker != "" {
				return nil, fmt.Errorf(
					"%w: offer %s is reserved by a taker", ErrProtocolBusy, offerID,
				)
			}
			if err := o.SetState(domain.OfferStateNotAvailable); err != nil {
				return nil, err
			}
			if err := o.SetState(domain.OfferStateRemoved); err != nil {
				return nil, err
			}
			removed = o
			return o, nil
		})
	if err != nil {
		return err
	}
	if err := e.repo.OfferRepository().RemoveOffer(ctx, offerID); err != nil {
		return err
	}
	if err := e.wallet.ReleaseReservedFunds(ctx, offerID); err != nil && err != ports.ErrNothingReserved {
		log.WithError(err).Warn("releasing funds of removed offer")
	}
	err = e.repo.AddressRepository().UpdateAddressEntries(ctx,
		func(l *domain.XmrAddressEntryList) (*domain.XmrAddressEntryList, error) {
			l.SwapToAvailable(offerID)
			return l, nil
		})
	if err != nil {
		log.WithError(err).Warn("freeing address entries of removed offer")
	}
	e.publish(ports.Event{Topic: ports.TopicOfferRemoved, Offer: removed})
	return nil
}

// ListOffers returns the local offer book.
func (e *Engine) ListOffers(ctx context.Context) ([]*domain.Offer, error) {
	return e.repo.OfferRepository().GetAllOffers(ctx)
}

// GetOffer returns one offer from the local book.
func (e *Engine) GetOffer(ctx context.Context, offerID string) (*domain.Offer, error) {
	return e.repo.OfferRepository().GetOffer(ctx, offerID)
}
