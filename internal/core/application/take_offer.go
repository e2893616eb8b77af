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

// TakeOfferModel is the transient context of a take-offer run. Recalculate
// must run before any amount-derived field is read.
type TakeOfferModel struct {
	Offer            *domain.Offer
	PaymentAccountID string
	// MaxTradeLimit is the payment account's per-trade cap, zero for none.
	MaxTradeLimit uint64

	// Amount is the requested amount on input, the adjusted amount after
	// Recalculate.
	Amount          uint64
	SecurityDeposit uint64
	TakerFee        uint64
	// ReserveTxID is set once the taker's contribution has been locked.
	ReserveTxID string

	availability *OfferAvailabilityModel
	// Trade is set once the deposit transaction has been broadcast.
	Trade *domain.Trade
}

// Recalculate clamps the amount to the offer range and trade limits and
// derives the deposit and fee from the adjusted amount. Both the payment
// account's cap and the offer-level trade limit apply; the maker enforces
// the latter again on the deposit request.
func (m *TakeOfferModel) Recalculate(feePct float64) {
	limit := m.MaxTradeLimit
	if ol := m.Offer.Payload.MaxTradeLimit; ol > 0 && (limit == 0 || ol < limit) {
		limit = ol
	}
	m.Amount = domain.AdjustedAmount(
		m.Amount, m.Offer.Payload.MinAmount, m.Offer.Payload.Amount, limit,
	)
	m.SecurityDeposit = m.Offer.Payload.SecurityDeposit(m.Amount)
	fee := uint64(float64(m.Amount) * feePct)
	if fee < minTakerFee {
		fee = minTakerFee
	}
	m.TakerFee = fee
}

// FundsNeededForTrade is the taker's escrow contribution: the security
// deposit, plus the trade amount itself when the taker is the seller (a BUY
// offer is taken by a seller).
func (m *TakeOfferModel) FundsNeededForTrade() uint64 {
	needed := m.SecurityDeposit
	if m.Offer.Payload.Direction == domain.OfferDirectionBuy {
		needed += m.Amount
	}
	return needed
}

// TotalToReserve is the escrow contribution plus the taker fee.
func (m *TakeOfferModel) TotalToReserve() uint64 {
	return m.FundsNeededForTrade() + m.TakerFee
}

type depositRole int

const (
	// depositRoleTaker awaits the maker's DepositResponse.
	depositRoleTaker depositRole = iota
	// depositRoleMaker awaits the arbitrator's DepositResponse.
	depositRoleMaker
)

// depositAttempt is a suspended deposit key exchange, for either side.
type depositAttempt struct {
	role    depositRole
	timer   *timer.Timer
	peer    string
	peerKey []byte

	// taker side
	model   *TakeOfferModel
	handler *task.Handler

	// maker side
	makerCtx *makerDepositContext
}

// TakeOffer runs the taker-side protocol end to end: validate and fund-check
// first, then the availability handshake, then fund reservation and the
// multisig deposit construction. Exactly one callback fires. On failure
// before deposit broadcast all reservations have been released; after
// broadcast the trade exists and failures surface on the trade itself.
func (e *Engine) TakeOffer(
	model *TakeOfferModel, onSuccess func(*domain.Trade), onError func(error),
) error {
	offerID := model.Offer.ID()

	e.mtx.Lock()
	if _, busy := e.pendingDeposit[offerID]; busy {
		e.mtx.Unlock()
		return ErrProtocolBusy
	}
	e.mtx.Unlock()

	model.availability = NewOfferAvailabilityModel(
		model.Offer, model.PaymentAccountID, model.Amount,
	)

	runner := task.NewRunner(
		func() { onSuccess(model.Trade) },
		func(err error) {
			e.rollbackTakeOffer(model)
			onError(err)
		},
	)

	tasks := []task.Task{
		{Name: "ValidateTakeOffer", Run: func(h *task.Handler) {
			e.validateTakeOffer(model, h)
		}},
	}
	tasks = append(tasks, e.availabilityTasks(model.availability)...)
	tasks = append(tasks,
		task.Task{Name: "ReserveTradeFunds", Run: func(h *task.Handler) {
			e.reserveTradeFunds(model, h)
		}},
		task.Task{Name: "SendDepositRequest", Run: func(h *task.Handler) {
			e.sendDepositRequest(model, h)
		}},
	)
	return runner.Run(tasks...)
}

// validateTakeOffer is the fail-fast gate: schema, adjusted amount and
// wallet balance are all checked before any network or fund action.
func (e *Engine) validateTakeOffer(model *TakeOfferModel, h *task.Handler) {
	if err := model.Offer.Validate(); err != nil {
		h.Fail(err)
		return
	}
	if !model.Offer.IsTakeable() {
		h.Fail(fmt.Errorf("%w: offer is %s", ErrOfferNotAvailable, model.Offer.State))
		return
	}
	model.Recalculate(e.opts.TakerFeePct)
	model.availability.Amount = model.Amount
	model.availability.TakerFee = model.TakerFee

	balance, err := e.wallet.Balance(context.Background())
	if err != nil {
		h.Fail(err)
		return
	}
	if needed := model.TotalToReserve(); balance < needed {
		h.Fail(fmt.Errorf("%w: have %d, need %d", ErrWalletNotFunded, balance, needed))
		return
	}
	h.Done()
}

// reserveTradeFunds locks the taker's contribution. It runs only after the
// maker granted the reservation, so no funds are ever locked for an offer
// that turned out taken.
func (e *Engine) reserveTradeFunds(model *TakeOfferModel, h *task.Handler) {
	ctx := context.Background()
	offerID := model.Offer.ID()

	reserveTx, err := e.wallet.ReserveFunds(
		ctx, offerID, domain.AddressContextMultisigDeposit, model.TotalToReserve(),
	)
	if err != nil {
		h.Fail(err)
		return
	}
	model.ReserveTxID = reserveTx.TxID
	err = e.repo.AddressRepository().UpdateAddressEntries(ctx,
		func(l *domain.XmrAddressEntryList) (*domain.XmrAddressEntryList, error) {
			l.Add(domain.XmrAddressEntry{
				OfferID:         offerID,
				Context:         domain.AddressContextMultisigDeposit,
				Address:         reserveTx.Address,
				ReservedBalance: model.TotalToReserve(),
			})
			return l, nil
		})
	if err != nil {
		h.Fail(err)
		return
	}
	h.Done()
}

// sendDepositRequest ships the taker's multisig key and reserved input to
// the maker and suspends until the maker's DepositResponse or the timeout.
func (e *Engine) sendDepositRequest(model *TakeOfferModel, h *task.Handler) {
	ctx := context.Background()
	offerID := model.Offer.ID()

	multisigKey, err := e.wallet.MultisigPubKey(ctx, offerID)
	if err != nil {
		h.Fail(err)
		return
	}

	attempt := &depositAttempt{
		role:    depositRoleTaker,
		model:   model,
		handler: h,
		peer:    model.Offer.Payload.MakerAddress,
		peerKey: model.Offer.Payload.MakerPubKey,
	}
	e.mtx.Lock()
	e.pendingDeposit[offerID] = attempt
	e.mtx.Unlock()

	abort := func(err error) {
		e.mtx.Lock()
		delete(e.pendingDeposit, offerID)
		e.mtx.Unlock()
		h.Fail(err)
	}

	attempt.timer = timer.AfterFunc(e.opts.TradeStepTimeout, func() {
		abort(ErrDepositTimeout)
	})

	payload := &wire.DepositRequest{
		TradeID:        offerID,
		MultisigPubKey: multisigKey,
		ReserveTxID:    model.ReserveTxID,
		DepositAmount:  model.FundsNeededForTrade(),
		PayoutAddress:  model.availability.PayoutAddress,
		TradeRequest:   model.availability.TradeRequest,
	}
	err = e.send(
		attempt.peer, attempt.peerKey, wire.MsgDepositRequest, payload,
		ports.DeliveryCallbacks{
			OnFault: func(sendErr error) {
				if attempt.timer.Stop() {
					abort(fmt.Errorf("%w: %v", ErrMakerOffline, sendErr))
				}
			},
		},
	)
	if err != nil {
		attempt.timer.Stop()
		abort(err)
	}
}

// handleDepositResponse resumes a suspended deposit exchange: the taker's
// wait on the maker, or the maker's wait on the arbitrator.
func (e *Engine) handleDepositResponse(from string, env *wire.Envelope) error {
	var resp wire.DepositResponse
	if err := env.Unmarshal(&resp); err != nil {
		return err
	}

	e.mtx.Lock()
	attempt, ok := e.pendingDeposit[resp.TradeID]
	if ok {
		delete(e.pendingDeposit, resp.TradeID)
	}
	e.mtx.Unlock()
	if !ok {
		return fmt.Errorf("no deposit exchange pending for trade %s", resp.TradeID)
	}
	if from != attempt.peer {
		return fmt.Errorf("deposit response from unexpected sender %s", from)
	}
	if len(attempt.peerKey) > 0 {
		if err := env.VerifySig(attempt.peerKey); err != nil {
			return err
		}
	}
	if !attempt.timer.Stop() {
		return nil
	}

	switch attempt.role {
	case depositRoleTaker:
		e.finishTakerDeposit(attempt, &resp)
	case depositRoleMaker:
		e.finishMakerDeposit(attempt, &resp)
	}
	return nil
}

// finishTakerDeposit verifies the maker's deposit transaction against a
// locally re-derived spec, adds the second signature and broadcasts. The
// trade is persisted at INIT and only marked DEPOSIT_PUBLISHED once the
// broadcast succeeded.
func (e *Engine) finishTakerDeposit(attempt *depositAttempt, resp *wire.DepositResponse) {
	ctx := context.Background()
	model := attempt.model
	h := attempt.handler
	payload := model.Offer.Payload

	if len(resp.MultisigPubKey) == 0 || len(resp.ArbitratorPubKey) == 0 {
		h.Fail(fmt.Errorf("deposit response missing multisig keys"))
		return
	}

	takerKey, err := e.wallet.MultisigPubKey(ctx, resp.TradeID)
	if err != nil {
		h.Fail(err)
		return
	}
	spec := ports.DepositTxSpec{
		TradeID:          resp.TradeID,
		MultisigPubKeys:  [][]byte{resp.MultisigPubKey, takerKey, resp.ArbitratorPubKey},
		MakerReserveTxID: resp.MakerReserveTxID,
		TakerReserveTxID: model.ReserveTxID,
		OutputAmount:     makerDepositForTrade(payload, model.Amount) + model.FundsNeededForTrade(),
	}

	// The txid is a pure function of the spec. Re-deriving it locally and
	// comparing against the maker's claim catches a maker substituting a
	// different transaction.
	tx, err := e.wallet.BuildDepositTx(ctx, spec)
	if err != nil {
		h.Fail(err)
		return
	}
	if tx.TxID != resp.DepositTxID {
		h.Fail(fmt.Errorf(
			"deposit txid mismatch: maker claims %s, derived %s",
			resp.DepositTxID, tx.TxID,
		))
		return
	}
	tx.Signatures = resp.DepositTxSignatures

	tx, err = e.wallet.SignDepositTx(ctx, tx)
	if err != nil {
		h.Fail(err)
		return
	}

	trade := domain.NewTrade(
		payload, domain.TradeRoleTaker, model.Amount, payload.Price,
		model.TakerFee, model.SecurityDeposit,
		payload.MakerAddress, payload.MakerPubKey,
	)
	contract := domain.Contract{
		TradeID:             trade.ID,
		OfferPayload:        payload,
		Amount:              model.Amount,
		Price:               payload.Price,
		TakerFee:            model.TakerFee,
		MakerAddress:        payload.MakerAddress,
		TakerAddress:        e.Address(),
		ArbitratorAddress:   payload.ArbitratorAddress,
		MakerPubKey:         payload.MakerPubKey,
		TakerPubKey:         e.keyRing.PubKey(),
		MakerPayoutAddress:  resp.MakerPayoutAddress,
		TakerPayoutAddress:  model.availability.PayoutAddress,
		MakerMultisigPubKey: resp.MultisigPubKey,
		TakerMultisigPubKey: takerKey,
		ArbMultisigPubKey:   resp.ArbitratorPubKey,
	}
	if err := trade.SetContract(contract); err != nil {
		h.Fail(err)
		return
	}
	trade.MultisigPubKeys = spec.MultisigPubKeys
	trade.ArbitratorPubKey = resp.ArbitratorPubKey

	if err := e.repo.TradeRepository().AddTrade(ctx, trade); err != nil {
		h.Fail(err)
		return
	}

	txid, err := e.wallet.BroadcastDepositTx(ctx, tx)
	if err != nil {
		// The trade stays at INIT; a retry re-derives the same txid so the
		// funds cannot be double-spent.
		trade.Fail(err.Error())
		if uerr := e.repo.TradeRepository().UpdateTrade(ctx, trade.ID,
			func(t *domain.Trade) (*domain.Trade, error) {
				t.Fail(err.Error())
				return t, nil
			}); uerr != nil {
			log.WithError(uerr).Warn("recording deposit broadcast failure")
		}
		h.Fail(err)
		return
	}

	err = e.repo.TradeRepository().UpdateTrade(ctx, trade.ID,
		func(t *domain.Trade) (*domain.Trade, error) {
			if _, err := t.MarkDepositPublished(txid); err != nil {
				return nil, err
			}
			return t, nil
		})
	if err != nil {
		h.Fail(err)
		return
	}
	trade.MarkDepositPublished(txid)
	model.Trade = trade

	if err := e.sendMailbox(
		attempt.peer, attempt.peerKey, wire.MsgDepositPublished,
		&wire.DepositPublished{TradeID: trade.ID, DepositTxID: txid},
	); err != nil {
		log.WithError(err).Warn("notifying maker of deposit broadcast")
	}
	e.publish(ports.Event{Topic: ports.TopicTradeStateChanged, Trade: trade})
	h.Done()
}

// makerDepositForTrade is the maker's escrow contribution for the adjusted
// amount: the security deposit, plus the amount itself when the maker is
// the seller.
func makerDepositForTrade(p domain.OfferPayload, amount uint64) uint64 {
	dep := p.SecurityDeposit(amount)
	if p.Direction == domain.OfferDirectionSell {
		dep += amount
	}
	return dep
}

// makerDepositContext is everything the maker needs to finish the deposit
// construction once the arbitrator's key arrives.
type makerDepositContext struct {
	offer         *domain.Offer
	takerReq      *wire.DepositRequest
	takerAddr     string
	takerPubKey   []byte
	makerKey      []byte
	payoutAddress string
	srcEnv        *wire.Envelope
}

// handleDepositRequestAsMaker is the maker side of escrow construction. The
// taker's request is validated against the standing reservation, then the
// maker fetches the arbitrator's key before assembling and part-signing the
// deposit transaction.
func (e *Engine) handleDepositRequestAsMaker(from string, env *wire.Envelope) error {
	var req wire.DepositRequest
	if err := env.Unmarshal(&req); err != nil {
		return err
	}
	if req.TradeRequest == nil {
		return fmt.Errorf("deposit request without trade request")
	}
	tr := req.TradeRequest
	if err := env.VerifySig(tr.PubKey); err != nil {
		return err
	}
	if !wire.Verify(tr.PubKey, tr.SigHash(), tr.Signature) {
		return fmt.Errorf("invalid trade request signature on deposit request")
	}

	unlock := e.lockTrade(req.TradeID)
	defer unlock()

	ctx := context.Background()
	offer, err := e.repo.OfferRepository().GetOffer(ctx, req.TradeID)
	if err != nil {
		return err
	}
	if offer.State != domain.OfferStateNotAvailable || offer.ReservedForTaker != from {
		return fmt.Errorf(
			"%w: no reservation held by %s", domain.ErrOfferNotAvailable, from,
		)
	}
	// The embedded trade request must be the one countersigned at
	// availability time; a freshly signed copy with different terms does not
	// hold the reservation.
	if tr.UID != offer.ReservedRequestUID {
		return fmt.Errorf(
			"deposit request %s is not bound to the granted trade request",
			tr.UID,
		)
	}
	if tr.Amount == 0 || !offer.Payload.InTradeRange(tr.Amount) {
		return fmt.Errorf(
			"trade amount %d outside offer bounds [%d, %d]",
			tr.Amount, offer.Payload.MinAmount, offer.Payload.Amount,
		)
	}
	if len(req.MultisigPubKey) == 0 {
		return fmt.Errorf("deposit request missing taker multisig key")
	}

	makerKey, err := e.wallet.MultisigPubKey(ctx, req.TradeID)
	if err != nil {
		return err
	}
	payoutAddress, err := e.wallet.NewAddress(
		ctx, req.TradeID, domain.AddressContextTradePayout,
	)
	if err != nil {
		return err
	}

	attempt := &depositAttempt{
		role: depositRoleMaker,
		peer: offer.Payload.ArbitratorAddress,
		makerCtx: &makerDepositContext{
			offer:         offer,
			takerReq:      &req,
			takerAddr:     from,
			takerPubKey:   tr.PubKey,
			makerKey:      makerKey,
			payoutAddress: payoutAddress,
			srcEnv:        env,
		},
	}
	e.mtx.Lock()
	if _, busy := e.pendingDeposit[req.TradeID]; busy {
		e.mtx.Unlock()
		// Re-delivery while the arbitrator exchange is in flight.
		return nil
	}
	e.pendingDeposit[req.TradeID] = attempt
	e.mtx.Unlock()

	fail := func(err error) {
		e.mtx.Lock()
		delete(e.pendingDeposit, req.TradeID)
		e.mtx.Unlock()
		e.sendAck(from, tr.PubKey, env, false, err.Error())
	}

	attempt.timer = timer.AfterFunc(e.opts.TradeStepTimeout, func() {
		fail(ErrDepositTimeout)
	})

	sendErr := e.send(
		offer.Payload.ArbitratorAddress, nil, wire.MsgDepositRequest,
		&wire.DepositRequest{TradeID: req.TradeID, MultisigPubKey: makerKey},
		ports.DeliveryCallbacks{
			OnFault: func(err error) {
				if attempt.timer.Stop() {
					fail(fmt.Errorf("arbitrator unreachable: %w", err))
				}
			},
		},
	)
	if sendErr != nil {
		attempt.timer.Stop()
		fail(sendErr)
		return sendErr
	}
	return nil
}

// finishMakerDeposit assembles the deposit transaction once the arbitrator's
// key is in hand, part-signs it and returns everything the taker needs to
// verify, co-sign and broadcast.
func (e *Engine) finishMakerDeposit(attempt *depositAttempt, resp *wire.DepositResponse) {
	ctx := context.Background()
	mc := attempt.makerCtx
	req := mc.takerReq
	payload := mc.offer.Payload
	tr := req.TradeRequest

	fail := func(err error) {
		log.WithError(err).WithField("trade", req.TradeID).
			Warn("maker deposit construction failed")
		e.sendAck(mc.takerAddr, mc.takerPubKey, mc.srcEnv, false, err.Error())
	}

	if len(resp.ArbitratorPubKey) == 0 {
		fail(fmt.Errorf("arbitrator response missing multisig key"))
		return
	}

	amount := tr.Amount
	spec := ports.DepositTxSpec{
		TradeID:          req.TradeID,
		MultisigPubKeys:  [][]byte{mc.makerKey, req.MultisigPubKey, resp.ArbitratorPubKey},
		MakerReserveTxID: mc.offer.ReserveTxID,
		TakerReserveTxID: req.ReserveTxID,
		OutputAmount:     makerDepositForTrade(payload, amount) + req.DepositAmount,
	}
	tx, err := e.wallet.BuildDepositTx(ctx, spec)
	if err != nil {
		fail(err)
		return
	}
	tx, err = e.wallet.SignDepositTx(ctx, tx)
	if err != nil {
		fail(err)
		return
	}

	trade := domain.NewTrade(
		payload, domain.TradeRoleMaker, amount, payload.Price,
		tr.TakerFee, payload.SecurityDeposit(amount),
		mc.takerAddr, mc.takerPubKey,
	)
	contract := domain.Contract{
		TradeID:             trade.ID,
		OfferPayload:        payload,
		Amount:              amount,
		Price:               payload.Price,
		TakerFee:            tr.TakerFee,
		MakerAddress:        e.Address(),
		TakerAddress:        mc.takerAddr,
		ArbitratorAddress:   payload.ArbitratorAddress,
		MakerPubKey:         e.keyRing.PubKey(),
		TakerPubKey:         mc.takerPubKey,
		MakerPayoutAddress:  mc.payoutAddress,
		TakerPayoutAddress:  req.PayoutAddress,
		MakerMultisigPubKey: mc.makerKey,
		TakerMultisigPubKey: req.MultisigPubKey,
		ArbMultisigPubKey:   resp.ArbitratorPubKey,
	}
	if err := trade.SetContract(contract); err != nil {
		fail(err)
		return
	}
	trade.MultisigPubKeys = spec.MultisigPubKeys
	trade.ArbitratorPubKey = resp.ArbitratorPubKey

	if err := e.repo.TradeRepository().AddTrade(ctx, trade); err != nil {
		fail(err)
		return
	}

	out := &wire.DepositResponse{
		TradeID:             req.TradeID,
		MultisigPubKey:      mc.makerKey,
		ArbitratorPubKey:    resp.ArbitratorPubKey,
		MakerReserveTxID:    mc.offer.ReserveTxID,
		MakerPayoutAddress:  mc.payoutAddress,
		DepositTxID:         tx.TxID,
		DepositTxHex:        tx.TxHex,
		DepositTxSignatures: tx.Signatures,
	}
	if err := e.send(
		mc.takerAddr, mc.takerPubKey, wire.MsgDepositResponse, out,
		ports.DeliveryCallbacks{},
	); err != nil {
		fail(err)
		return
	}
	e.publish(ports.Event{Topic: ports.TopicTradeStateChanged, Trade: trade})
}

// handleDepositPublished is the maker learning the deposit reached the
// network: the trade advances and the taken offer leaves the book for good.
func (e *Engine) handleDepositPublished(from string, env *wire.Envelope) error {
	var msg wire.DepositPublished
	if err := env.Unmarshal(&msg); err != nil {
		return err
	}

	unlock := e.lockTrade(msg.TradeID)
	defer unlock()

	ctx := context.Background()
	var trade *domain.Trade
	err := e.repo.TradeRepository().UpdateTrade(ctx, msg.TradeID,
		func(t *domain.Trade) (*domain.Trade, error) {
			if t.PeerAddress != from {
				return nil, fmt.Errorf("deposit notice from unexpected sender %s", from)
			}
			if err := env.VerifySig(t.PeerPubKey); err != nil {
				return nil, err
			}
			if !t.MarkMessageProcessed(env.UID) {
				trade = t
				return t, nil
			}
			if _, err := t.MarkDepositPublished(msg.DepositTxID); err != nil {
				return nil, err
			}
			trade = t
			return t, nil
		})
	if err != nil {
		return err
	}

	// The offer is spent: retire it from the book.
	err = e.repo.OfferRepository().UpdateOffer(ctx, msg.TradeID,
		func(o *domain.Offer) (*domain.Offer, error) {
			if err := o.SetState(domain.OfferStateRemoved); err != nil {
				return nil, err
			}
			return o, nil
		})
	if err != nil && err != domain.ErrOfferNotFound {
		log.WithError(err).Warn("retiring taken offer")
	}
	if err := e.repo.OfferRepository().RemoveOffer(ctx, msg.TradeID); err != nil &&
		err != domain.ErrOfferNotFound {
		log.WithError(err).Warn("removing taken offer from book")
	}

	e.sendAck(from, trade.PeerPubKey, env, true, "")
	e.publish(ports.Event{Topic: ports.TopicOfferRemoved})
	e.publish(ports.Event{Topic: ports.TopicTradeStateChanged, Trade: trade})
	return nil
}

// rollbackTakeOffer releases the taker's reservations after a failed run.
// Once the deposit has been broadcast there is nothing to release; the
// funds sit in the multisig and only a payout or dispute moves them.
func (e *Engine) rollbackTakeOffer(model *TakeOfferModel) {
	if model.Trade != nil && model.Trade.FundsLockedIn() {
		return
	}
	ctx := context.Background()
	offerID := model.Offer.ID()
	if err := e.wallet.ReleaseReservedFunds(ctx, offerID); err != nil &&
		err != ports.ErrNothingReserved {
		log.WithError(err).Warn("rollback: releasing trade reservation")
	}
	err := e.repo.AddressRepository().UpdateAddressEntries(ctx,
		func(l *domain.XmrAddressEntryList) (*domain.XmrAddressEntryList, error) {
			l.SwapToAvailable(offerID)
			return l, nil
		})
	if err != nil {
		log.WithError(err).Warn("rollback: freeing trade address entries")
	}
}
