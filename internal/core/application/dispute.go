package application

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/thanhpk/randstr"

	"github.com/escrow-network/escrow-daemon/internal/core/domain"
	"github.com/escrow-network/escrow-daemon/internal/core/ports"
	"github.com/escrow-network/escrow-daemon/pkg/wire"
)

// RequestMediation moves the trade onto the dispute axis without involving
// the arbitrator yet. Either party can request it at any point after the
// deposit is published.
func (e *Engine) RequestMediation(ctx context.Context, tradeID string) error {
	unlock := e.lockTrade(tradeID)
	defer unlock()

	var trade *domain.Trade
	err := e.repo.TradeRepository().UpdateTrade(ctx, tradeID,
		func(t *domain.Trade) (*domain.Trade, error) {
			if err := t.SetDisputeState(domain.DisputeStateMediationRequested); err != nil {
				return nil, err
			}
			t.AddSystemMsg("Mediation requested. Use the chat to reach an agreement.")
			trade = t
			return t, nil
		})
	if err != nil {
		return err
	}
	e.publish(ports.Event{Topic: ports.TopicDisputeOpened, Trade: trade})
	return nil
}

// OpenDispute escalates the trade to its designated arbitrator: the dispute
// state advances, the signed contract is spooled to the arbitrator and the
// counterparty is notified. Opening a dispute twice is idempotent by the
// monotonic dispute state.
func (e *Engine) OpenDispute(ctx context.Context, tradeID, reason string) error {
	unlock := e.lockTrade(tradeID)
	defer unlock()

	var trade *domain.Trade
	err := e.repo.TradeRepository().UpdateTrade(ctx, tradeID,
		func(t *domain.Trade) (*domain.Trade, error) {
			if t.Contract == nil {
				return nil, fmt.Errorf("trade %s has no contract to dispute", tradeID)
			}
			if err := t.SetDisputeState(domain.DisputeStateRequested); err != nil {
				return nil, err
			}
			t.AddSystemMsg("Dispute opened. An arbitrator will review the trade contract.")
			trade = t
			return t, nil
		})
	if err != nil {
		return err
	}

	contract, err := json.Marshal(trade.Contract)
	if err != nil {
		return err
	}
	payload := &wire.DisputeOpened{
		TradeID:  tradeID,
		Reason:   reason,
		Contract: contract,
	}
	if err := e.sendMailbox(
		trade.ArbitratorAddress, trade.ArbitratorPubKey, wire.MsgDisputeOpened, payload,
	); err != nil {
		return err
	}
	if err := e.sendMailbox(
		trade.PeerAddress, trade.PeerPubKey, wire.MsgDisputeOpened, payload,
	); err != nil {
		log.WithError(err).Warn("notifying counterparty of dispute")
	}
	e.publish(ports.Event{Topic: ports.TopicDisputeOpened, Trade: trade})
	return nil
}

// CloseDispute records the dispute resolution. When this node is the seller
// of the escrowed funds the payout is broadcast according to the resolution
// addresses agreed in arbitration; otherwise the payout arrives as a
// PayoutPublished message.
func (e *Engine) CloseDispute(ctx context.Context, tradeID, summary string) error {
	unlock := e.lockTrade(tradeID)
	defer unlock()

	var trade *domain.Trade
	err := e.repo.TradeRepository().UpdateTrade(ctx, tradeID,
		func(t *domain.Trade) (*domain.Trade, error) {
			if err := t.SetDisputeState(domain.DisputeStateClosed); err != nil {
				return nil, err
			}
			if summary != "" {
				t.AddChatMessage(domain.ChatMessage{
					UID:           randstr.Hex(16),
					TradeID:       tradeID,
					Message:       summary,
					Timestamp:     time.Now().Unix(),
					SystemMessage: true,
				})
			}
			trade = t
			return t, nil
		})
	if err != nil {
		return err
	}
	e.publish(ports.Event{Topic: ports.TopicTradeStateChanged, Trade: trade})
	if trade.FundsLockedIn() {
		// The funds move through the dispute payout, not through archiving.
		return nil
	}
	return e.repo.TradeRepository().ArchiveTrade(ctx, tradeID, false)
}

// handleDisputeOpened mirrors a dispute escalation onto the local trade
// record. A party verifies the sender as its counterparty; an arbitrator
// verifies the sender against the contract carried in the message, since
// the escalating party may be either side of the trade.
func (e *Engine) handleDisputeOpened(from string, env *wire.Envelope) error {
	var msg wire.DisputeOpened
	if err := env.Unmarshal(&msg); err != nil {
		return err
	}

	var contract *domain.Contract
	if len(msg.Contract) > 0 {
		contract = &domain.Contract{}
		if err := json.Unmarshal(msg.Contract, contract); err != nil {
			return fmt.Errorf("decoding dispute contract: %w", err)
		}
	}

	unlock := e.lockTrade(msg.TradeID)
	defer unlock()

	ctx := context.Background()
	if e.opts.ArbitratorMode && contract != nil {
		// The arbitrator first learns of a trade when it is disputed; its
		// record is created lazily from the escalated contract.
		if _, err := e.openTrade(ctx, msg.TradeID); err == domain.ErrTradeNotFound {
			t := domain.NewTrade(
				contract.OfferPayload, domain.TradeRoleArbitrator,
				contract.Amount, contract.Price, contract.TakerFee,
				contract.OfferPayload.SecurityDeposit(contract.Amount),
				from, partyPubKey(contract, from),
			)
			if err := t.SetContract(*contract); err != nil {
				return err
			}
			if err := e.repo.TradeRepository().AddTrade(ctx, t); err != nil {
				return err
			}
		}
	}

	var trade *domain.Trade
	var senderKey []byte
	err := e.repo.TradeRepository().UpdateTrade(ctx, msg.TradeID,
		func(t *domain.Trade) (*domain.Trade, error) {
			if e.opts.ArbitratorMode {
				if contract == nil {
					return nil, fmt.Errorf("dispute escalation without contract")
				}
				senderKey = partyPubKey(contract, from)
			} else {
				if t.PeerAddress != from {
					return nil, fmt.Errorf("dispute notice from unexpected sender %s", from)
				}
				senderKey = t.PeerPubKey
			}
			if len(senderKey) == 0 {
				return nil, fmt.Errorf("dispute notice from unknown party %s", from)
			}
			if err := env.VerifySig(senderKey); err != nil {
				return nil, err
			}
			if !t.MarkMessageProcessed(env.UID) {
				trade = t
				return t, nil
			}
			if t.Contract == nil && contract != nil {
				if err := t.SetContract(*contract); err != nil {
					return nil, err
				}
			}
			if err := t.SetDisputeState(domain.DisputeStateRequested); err != nil {
				return nil, err
			}
			if msg.Reason != "" {
				t.AddChatMessage(domain.ChatMessage{
					UID:           env.UID,
					TradeID:       t.ID,
					SenderAddress: from,
					Message:       msg.Reason,
					Timestamp:     time.Now().Unix(),
				})
			}
			t.AddSystemMsg("Dispute opened by the counterparty.")
			trade = t
			return t, nil
		})
	if err != nil {
		return err
	}
	e.sendAck(from, senderKey, env, true, "")
	e.publish(ports.Event{Topic: ports.TopicDisputeOpened, Trade: trade})
	return nil
}

// SendChatMessage appends to the trade chat and spools the entry to the
// counterparty's mailbox.
func (e *Engine) SendChatMessage(ctx context.Context, tradeID, text string) error {
	unlock := e.lockTrade(tradeID)
	defer unlock()

	var trade *domain.Trade
	msg := domain.ChatMessage{
		UID:           randstr.Hex(16),
		TradeID:       tradeID,
		SenderAddress: e.Address(),
		Message:       text,
		Timestamp:     time.Now().Unix(),
	}
	err := e.repo.TradeRepository().UpdateTrade(ctx, tradeID,
		func(t *domain.Trade) (*domain.Trade, error) {
			t.AddChatMessage(msg)
			trade = t
			return t, nil
		})
	if err != nil {
		return err
	}
	return e.sendMailbox(
		trade.PeerAddress, trade.PeerPubKey, wire.MsgChatMessage,
		&wire.ChatMessage{TradeID: tradeID, Message: text},
	)
}

// handleChatMessage appends a counterparty chat entry, de-duplicated by the
// envelope UID against mailbox re-delivery.
func (e *Engine) handleChatMessage(from string, env *wire.Envelope) error {
	var msg wire.ChatMessage
	if err := env.Unmarshal(&msg); err != nil {
		return err
	}
	return e.applyPeerTradeUpdate(from, env, msg.TradeID,
		func(t *domain.Trade) error {
			t.AddChatMessage(domain.ChatMessage{
				UID:           env.UID,
				TradeID:       t.ID,
				SenderAddress: from,
				Message:       msg.Message,
				Timestamp:     time.Now().Unix(),
			})
			return nil
		})
}

// GetChatMessages returns a trade's chat log.
func (e *Engine) GetChatMessages(ctx context.Context, tradeID string) ([]domain.ChatMessage, error) {
	trade, err := e.openTrade(ctx, tradeID)
	if err != nil {
		return nil, err
	}
	return trade.GetChatMessages(), nil
}

// partyPubKey resolves which contract party a sender address belongs to.
func partyPubKey(c *domain.Contract, sender string) []byte {
	switch sender {
	case c.MakerAddress:
		return c.MakerPubKey
	case c.TakerAddress:
		return c.TakerPubKey
	default:
		return nil
	}
}
