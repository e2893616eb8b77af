package domain

// OfferState tracks an offer through the availability handshake.
type OfferState int

const (
	OfferStateUnknown OfferState = iota
	OfferStateAvailable
	OfferStateNotAvailable
	OfferStateRemoved
	OfferStateMakerOffline
)

func (s OfferState) String() string {
	switch s {
	case OfferStateAvailable:
		return "AVAILABLE"
	case OfferStateNotAvailable:
		return "NOT_AVAILABLE"
	case OfferStateRemoved:
		return "REMOVED"
	case OfferStateMakerOffline:
		return "MAKER_OFFLINE"
	default:
		return "UNKNOWN"
	}
}

// OfferDirection is the maker's side of the trade.
type OfferDirection int

const (
	OfferDirectionBuy OfferDirection = iota
	OfferDirectionSell
)

func (d OfferDirection) String() string {
	if d == OfferDirectionSell {
		return "SELL"
	}
	return "BUY"
}

// TradeState is the protocol-step ladder of a trade. Transitions only ever
// move forward.
type TradeState int

const (
	TradeStateInit TradeState = iota
	TradeStateDepositPublished
	TradeStateDepositConfirmed
	TradeStatePaymentSent
	TradeStatePaymentReceived
	TradeStatePayoutPublished
	TradeStateCompleted
)

func (s TradeState) String() string {
	switch s {
	case TradeStateDepositPublished:
		return "DEPOSIT_PUBLISHED"
	case TradeStateDepositConfirmed:
		return "DEPOSIT_CONFIRMED"
	case TradeStatePaymentSent:
		return "PAYMENT_SENT"
	case TradeStatePaymentReceived:
		return "PAYMENT_RECEIVED"
	case TradeStatePayoutPublished:
		return "PAYOUT_PUBLISHED"
	case TradeStateCompleted:
		return "TRADE_COMPLETED"
	default:
		return "INIT"
	}
}

// DisputeState is the axis orthogonal to TradeState. It is monotonic: once a
// dispute is requested it can only be closed, never reverted to NoDispute.
type DisputeState int

const (
	DisputeStateNone DisputeState = iota
	DisputeStateMediationRequested
	DisputeStateRequested
	DisputeStateClosed
)

func (s DisputeState) String() string {
	switch s {
	case DisputeStateMediationRequested:
		return "MEDIATION_REQUESTED"
	case DisputeStateRequested:
		return "DISPUTE_REQUESTED"
	case DisputeStateClosed:
		return "DISPUTE_CLOSED"
	default:
		return "NO_DISPUTE"
	}
}

// TradeRole is this node's role in the trade.
type TradeRole int

const (
	TradeRoleMaker TradeRole = iota
	TradeRoleTaker
	TradeRoleArbitrator
)

func (r TradeRole) String() string {
	switch r {
	case TradeRoleTaker:
		return "TAKER"
	case TradeRoleArbitrator:
		return "ARBITRATOR"
	default:
		return "MAKER"
	}
}

// AddressContext is the purpose a wallet address entry was reserved for.
type AddressContext int

const (
	AddressContextAvailable AddressContext = iota
	AddressContextOfferFunding
	AddressContextMultisigDeposit
	AddressContextTradePayout
)

func (c AddressContext) String() string {
	switch c {
	case AddressContextOfferFunding:
		return "OFFER_FUNDING"
	case AddressContextMultisigDeposit:
		return "MULTISIG_DEPOSIT"
	case AddressContextTradePayout:
		return "TRADE_PAYOUT"
	default:
		return "AVAILABLE"
	}
}

// AmountFactor is the minimum trade unit in atomic units. Adjusted amounts
// are rounded to a multiple of it, except for the documented low-limit edge
// case in AdjustedAmount.
const AmountFactor uint64 = 10000000
