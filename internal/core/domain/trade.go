package domain

import (
	"fmt"
	"time"
)

// Trade is the durable aggregate owning a trade's lifecycle from deposit to
// payout or dispute. It is mutated exclusively by trade-protocol tasks and
// verified incoming peer messages. The id equals the taken offer's id.
type Trade struct {
	ID                string
	Role              TradeRole
	OfferPayload      OfferPayload
	Amount            uint64
	Price             string
	TakerFee          uint64
	SecurityDeposit   uint64
	PeerAddress       string
	PeerPubKey        []byte
	ArbitratorAddress string
	ArbitratorPubKey  []byte
	Contract          *Contract
	MultisigPubKeys   [][]byte
	DepositTxID       string
	PayoutTxID        string
	State             TradeState
	DisputeState      DisputeState
	ChatMessages      []ChatMessage
	ErrorMessage      string
	TakeOfferDate     int64
	// ProcessedUIDs keys idempotent message handling: a mailbox re-delivery
	// of an already applied message is dropped.
	ProcessedUIDs map[string]bool
}

// NewTrade returns a trade in the Init state for a taken offer.
func NewTrade(
	offer OfferPayload, role TradeRole, amount uint64, price string,
	takerFee, securityDeposit uint64, peerAddress string, peerPubKey []byte,
) *Trade {
	return &Trade{
		ID:                offer.ID,
		Role:              role,
		OfferPayload:      offer,
		Amount:            amount,
		Price:             price,
		TakerFee:          takerFee,
		SecurityDeposit:   securityDeposit,
		PeerAddress:       peerAddress,
		PeerPubKey:        peerPubKey,
		ArbitratorAddress: offer.ArbitratorAddress,
		State:             TradeStateInit,
		DisputeState:      DisputeStateNone,
		TakeOfferDate:     time.Now().Unix(),
		ProcessedUIDs:     map[string]bool{},
	}
}

// advance moves the state ladder forward. Re-applying the current or an
// earlier state is idempotent (returns true with no change), skipping ahead
// more than one step or moving from a terminal state is rejected.
func (t *Trade) advance(next TradeState, from ...TradeState) (bool, error) {
	if t.State >= next {
		return true, nil
	}
	if t.IsTerminal() {
		return false, ErrTradeTerminal
	}
	for _, s := range from {
		if t.State == s {
			t.State = next
			return true, nil
		}
	}
	return false, fmt.Errorf(
		"%w: %s -> %s", ErrInvalidTradeStateTransition, t.State, next,
	)
}

// MarkDepositPublished records the broadcast deposit transaction. The txid
// is re-derivable from persisted inputs, so re-applying after a restart is a
// no-op rather than a double spend.
func (t *Trade) MarkDepositPublished(txid string) (bool, error) {
	if t.State >= TradeStateDepositPublished {
		return true, nil
	}
	ok, err := t.advance(TradeStateDepositPublished, TradeStateInit)
	if ok && err == nil {
		t.DepositTxID = txid
	}
	return ok, err
}

// MarkDepositConfirmed ...
func (t *Trade) MarkDepositConfirmed() (bool, error) {
	return t.advance(TradeStateDepositConfirmed, TradeStateDepositPublished)
}

// MarkPaymentSent records the buyer's payment-started claim. It is accepted
// from either the confirmed or just-published deposit state since deposit
// confirmations may be observed out of order by the two peers.
func (t *Trade) MarkPaymentSent() (bool, error) {
	return t.advance(
		TradeStatePaymentSent,
		TradeStateDepositPublished, TradeStateDepositConfirmed,
	)
}

// MarkPaymentReceived ...
func (t *Trade) MarkPaymentReceived() (bool, error) {
	return t.advance(TradeStatePaymentReceived, TradeStatePaymentSent)
}

// MarkPayoutPublished records the broadcast payout transaction, unlocking
// the escrowed funds.
func (t *Trade) MarkPayoutPublished(txid string) (bool, error) {
	if t.State >= TradeStatePayoutPublished {
		return true, nil
	}
	ok, err := t.advance(TradeStatePayoutPublished, TradeStatePaymentReceived)
	if ok && err == nil {
		t.PayoutTxID = txid
	}
	return ok, err
}

// Complete brings the trade to its happy-path terminal state.
func (t *Trade) Complete() (bool, error) {
	return t.advance(TradeStateCompleted, TradeStatePayoutPublished)
}

// SetDisputeState moves the dispute axis forward. Regressions are rejected;
// in particular a trade may never un-request a dispute once opened.
func (t *Trade) SetDisputeState(next DisputeState) error {
	if next < t.DisputeState {
		return fmt.Errorf(
			"%w: %s -> %s", ErrDisputeStateRegression, t.DisputeState, next,
		)
	}
	t.DisputeState = next
	return nil
}

// IsTerminal reports whether the trade must be archived and no further task
// sequence may run against it.
func (t *Trade) IsTerminal() bool {
	return t.State == TradeStateCompleted || t.DisputeState == DisputeStateClosed
}

// FundsLockedIn is true from deposit broadcast until payout broadcast. A
// trade with funds locked in may not be deleted or un-failed.
func (t *Trade) FundsLockedIn() bool {
	return t.State >= TradeStateDepositPublished &&
		t.State < TradeStatePayoutPublished
}

// MarkMessageProcessed records a message UID, returning false if it was
// already applied.
func (t *Trade) MarkMessageProcessed(uid string) bool {
	if t.ProcessedUIDs == nil {
		t.ProcessedUIDs = map[string]bool{}
	}
	if t.ProcessedUIDs[uid] {
		return false
	}
	t.ProcessedUIDs[uid] = true
	return true
}

// SetContract fixes the trade contract. The contract is immutable once both
// deposit addresses are set.
func (t *Trade) SetContract(c Contract) error {
	if t.Contract != nil {
		return ErrContractAlreadySet
	}
	if err := c.Validate(); err != nil {
		return err
	}
	t.Contract = &c
	return nil
}

// Fail attaches a human-readable error message to the trade. It never
// carries a raw stack trace to the user.
func (t *Trade) Fail(msg string) {
	t.ErrorMessage = msg
}

// AddChatMessage appends to the trade's dispute/arbitration chat log.
func (t *Trade) AddChatMessage(msg ChatMessage) {
	t.ChatMessages = append(t.ChatMessages, msg)
}

// AddSystemMsg inserts a synthetic first message so a chat session never
// renders empty. It is a no-op when the log already has messages.
func (t *Trade) AddSystemMsg(text string) {
	if len(t.ChatMessages) > 0 {
		return
	}
	t.ChatMessages = append(t.ChatMessages, ChatMessage{
		TradeID:       t.ID,
		Message:       text,
		Timestamp:     time.Now().Unix(),
		SystemMessage: true,
	})
}

// GetChatMessages returns the chat log.
func (t *Trade) GetChatMessages() []ChatMessage {
	return t.ChatMessages
}
