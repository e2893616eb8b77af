package application

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/escrow-network/escrow-daemon/internal/core/domain"
	"github.com/escrow-network/escrow-daemon/internal/core/ports"
	"github.com/escrow-network/escrow-daemon/pkg/wire"
)

// isBuyer reports whether this node pays the counter currency in the trade:
// the taker of a SELL offer or the maker of a BUY offer.
func isBuyer(t *domain.Trade) bool {
	if t.OfferPayload.Direction == domain.OfferDirectionSell {
		return t.Role == domain.TradeRoleTaker
	}
	return t.Role == domain.TradeRoleMaker
}

// ConfirmPaymentSent is the buyer's claim that the counter-currency payment
// started. The claim is recorded locally first, then spooled to the seller
// so an offline seller still receives it.
func (e *Engine) ConfirmPaymentSent(ctx context.Context, tradeID, paymentNote string) error {
	unlock := e.lockTrade(tradeID)
	defer unlock()

	var trade *domain.Trade
	err := e.repo.TradeRepository().UpdateTrade(ctx, tradeID,
		func(t *domain.Trade) (*domain.Trade, error) {
			if !isBuyer(t) {
				return nil, fmt.Errorf("only the buyer can confirm payment sent")
			}
			if _, err := t.MarkPaymentSent(); err != nil {
				return nil, err
			}
			trade = t
			return t, nil
		})
	if err != nil {
		return err
	}

	if err := e.sendMailbox(
		trade.PeerAddress, trade.PeerPubKey, wire.MsgPaymentSent,
		&wire.PaymentSent{TradeID: tradeID, PaymentNote: paymentNote},
	); err != nil {
		return err
	}
	e.publish(ports.Event{Topic: ports.TopicTradeStateChanged, Trade: trade})
	return nil
}

// ConfirmPaymentReceived is the seller's confirmation. It releases the
// escrow: the payout transaction is built and broadcast right away, then the
// trade is closed out.
func (e *Engine) ConfirmPaymentReceived(ctx context.Context, tradeID string) error {
	unlock := e.lockTrade(tradeID)
	defer unlock()

	var trade *domain.Trade
	err := e.repo.TradeRepository().UpdateTrade(ctx, tradeID,
		func(t *domain.Trade) (*domain.Trade, error) {
			if isBuyer(t) {
				return nil, fmt.Errorf("only the seller can confirm payment received")
			}
			if _, err := t.MarkPaymentReceived(); err != nil {
				return nil, err
			}
			trade = t
			return t, nil
		})
	if err != nil {
		return err
	}

	if err := e.sendMailbox(
		trade.PeerAddress, trade.PeerPubKey, wire.MsgPaymentReceived,
		&wire.PaymentReceived{TradeID: tradeID},
	); err != nil {
		log.WithError(err).Warn("notifying buyer of payment receipt")
	}

	payoutTxID, err := e.wallet.BuildAndBroadcastPayoutTx(
		ctx, tradeID,
		trade.Contract.MakerPayoutAddress, trade.Contract.TakerPayoutAddress,
	)
	if err != nil {
		return err
	}

	err = e.repo.TradeRepository().UpdateTrade(ctx, tradeID,
		func(t *domain.Trade) (*domain.Trade, error) {
			if _, err := t.MarkPayoutPublished(payoutTxID); err != nil {
				return nil, err
			}
			if _, err := t.Complete(); err != nil {
				return nil, err
			}
			trade = t
			return t, nil
		})
	if err != nil {
		return err
	}

	if err := e.sendMailbox(
		trade.PeerAddress, trade.PeerPubKey, wire.MsgPayoutPublished,
		&wire.PayoutPublished{TradeID: tradeID, PayoutTxID: payoutTxID},
	); err != nil {
		log.WithError(err).Warn("notifying peer of payout broadcast")
	}
	e.publish(ports.Event{Topic: ports.TopicTradeStateChanged, Trade: trade})
	return e.closeOutTrade(ctx, tradeID)
}

// handlePaymentSent applies the buyer's claim on the seller. Mailbox
// re-deliveries are dropped by the message UID.
func (e *Engine) handlePaymentSent(from string, env *wire.Envelope) error {
	var msg wire.PaymentSent
	if err := env.Unmarshal(&msg); err != nil {
		return err
	}
	return e.applyPeerTradeUpdate(from, env, msg.TradeID,
		func(t *domain.Trade) error {
			if isBuyer(t) {
				return fmt.Errorf("payment-sent claim received by the buyer side")
			}
			if msg.PaymentNote != "" {
				t.AddChatMessage(domain.ChatMessage{
					UID:           env.UID,
					TradeID:       t.ID,
					SenderAddress: from,
					Message:       msg.PaymentNote,
					Timestamp:     time.Now().Unix(),
				})
			}
			_, err := t.MarkPaymentSent()
			return err
		})
}

// handlePaymentReceived applies the seller's confirmation on the buyer.
func (e *Engine) handlePaymentReceived(from string, env *wire.Envelope) error {
	var msg wire.PaymentReceived
	if err := env.Unmarshal(&msg); err != nil {
		return err
	}
	return e.applyPeerTradeUpdate(from, env, msg.TradeID,
		func(t *domain.Trade) error {
			if !isBuyer(t) {
				return fmt.Errorf("payment-received confirmation received by the seller side")
			}
			_, err := t.MarkPaymentReceived()
			return err
		})
}

// handlePayoutPublished completes the trade on the side that did not
// broadcast the payout.
func (e *Engine) handlePayoutPublished(from string, env *wire.Envelope) error {
	var msg wire.PayoutPublished
	if err := env.Unmarshal(&msg); err != nil {
		return err
	}
	err := e.applyPeerTradeUpdate(from, env, msg.TradeID,
		func(t *domain.Trade) error {
			if _, err := t.MarkPayoutPublished(msg.PayoutTxID); err != nil {
				return err
			}
			_, err := t.Complete()
			return err
		})
	if err != nil {
		return err
	}
	return e.closeOutTrade(context.Background(), msg.TradeID)
}

// applyPeerTradeUpdate is the shared shape of every post-deposit peer
// message: verify the sender is the trade's counterparty, verify the
// envelope signature against the persisted peer key, de-duplicate by UID,
// apply, ack, publish.
func (e *Engine) applyPeerTradeUpdate(
	from string, env *wire.Envelope, tradeID string,
	apply func(t *domain.Trade) error,
) error {
	unlock := e.lockTrade(tradeID)
	defer unlock()

	ctx := context.Background()
	var trade *domain.Trade
	err := e.repo.TradeRepository().UpdateTrade(ctx, tradeID,
		func(t *domain.Trade) (*domain.Trade, error) {
			if t.PeerAddress != from {
				return nil, fmt.Errorf("message from unexpected sender %s", from)
			}
			if err := env.VerifySig(t.PeerPubKey); err != nil {
				return nil, err
			}
			if !t.MarkMessageProcessed(env.UID) {
				trade = t
				return t, nil
			}
			if err := apply(t); err != nil {
				return nil, err
			}
			trade = t
			return t, nil
		})
	if err != nil {
		return err
	}
	e.sendAck(from, trade.PeerPubKey, env, true, "")
	e.publish(ports.Event{Topic: ports.TopicTradeStateChanged, Trade: trade})
	return nil
}

// closeOutTrade archives a completed trade and releases anything still
// reserved for it. Archiving a trade whose funds are still escrowed is
// refused.
func (e *Engine) closeOutTrade(ctx context.Context, tradeID string) error {
	trade, err := e.openTrade(ctx, tradeID)
	if err != nil {
		return err
	}
	if trade.FundsLockedIn() {
		return domain.ErrFundsLockedIn
	}
	if err := e.wallet.ReleaseReservedFunds(ctx, tradeID); err != nil &&
		err != ports.ErrNothingReserved {
		log.WithError(err).Warn("releasing reservations of closed trade")
	}
	err = e.repo.AddressRepository().UpdateAddressEntries(ctx,
		func(l *domain.XmrAddressEntryList) (*domain.XmrAddressEntryList, error) {
			l.SwapToAvailable(tradeID)
			return l, nil
		})
	if err != nil {
		log.WithError(err).Warn("freeing address entries of closed trade")
	}
	return e.repo.TradeRepository().ArchiveTrade(ctx, tradeID, false)
}

// FailTrade attaches the failure reason and moves the trade to failed
// storage. The record is kept, never deleted, while funds may still be
// locked.
func (e *Engine) FailTrade(ctx context.Context, tradeID, reason string) error {
	unlock := e.lockTrade(tradeID)
	defer unlock()

	err := e.repo.TradeRepository().UpdateTrade(ctx, tradeID,
		func(t *domain.Trade) (*domain.Trade, error) {
			t.Fail(reason)
			return t, nil
		})
	if err != nil {
		return err
	}
	return e.repo.TradeRepository().ArchiveTrade(ctx, tradeID, true)
}

// UnfailTrade moves a failed trade back to the open collection so its
// protocol can resume. A trade whose funds are locked in escrow stays in
// failed storage: it must be resolved through payout or dispute first.
func (e *Engine) UnfailTrade(ctx context.Context, tradeID string) error {
	unlock := e.lockTrade(tradeID)
	defer unlock()

	failed, err := e.repo.TradeRepository().GetFailedTrades(ctx)
	if err != nil {
		return err
	}
	for _, t := range failed {
		if t.ID != tradeID {
			continue
		}
		if t.FundsLockedIn() {
			return domain.ErrFundsLockedIn
		}
		return e.repo.TradeRepository().UnfailTrade(ctx, tradeID)
	}
	return domain.ErrTradeNotFound
}

// ListOpenTrades ...
func (e *Engine) ListOpenTrades(ctx context.Context) ([]*domain.Trade, error) {
	return e.repo.TradeRepository().GetAllOpenTrades(ctx)
}

// GetTrade returns an open trade by id.
func (e *Engine) GetTrade(ctx context.Context, tradeID string) (*domain.Trade, error) {
	return e.openTrade(ctx, tradeID)
}

// ListClosedTrades ...
func (e *Engine) ListClosedTrades(ctx context.Context) ([]*domain.Trade, error) {
	return e.repo.TradeRepository().GetClosedTrades(ctx)
}

// ListFailedTrades ...
func (e *Engine) ListFailedTrades(ctx context.Context) ([]*domain.Trade, error) {
	return e.repo.TradeRepository().GetFailedTrades(ctx)
}
