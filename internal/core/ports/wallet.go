package ports

import (
	"context"
	"errors"

	"github.com/escrow-network/escrow-daemon/internal/core/domain"
)

var (
	// ErrInsufficientFunds is returned by reservation calls when the wallet
	// balance cannot cover the requested amount.
	ErrInsufficientFunds = errors.New("insufficient wallet funds")
	// ErrNothingReserved is returned when releasing funds for an offer that
	// has no reservation.
	ErrNothingReserved = errors.New("no funds reserved for offer")
	// ErrMissingSignatures is returned when broadcasting a multisig
	// transaction below the signature quorum.
	ErrMissingSignatures = errors.New("transaction lacks the required signature quorum")
)

// ReserveTx is the transaction locking funds for an offer or trade.
type ReserveTx struct {
	TxID    string
	OfferID string
	Amount  uint64
	Address string
}

// DepositTxSpec describes the three-party deposit transaction to build: the
// maker's and taker's reserved funds as inputs, a single 2-of-3
// multisig-controlled output.
type DepositTxSpec struct {
	TradeID          string
	MultisigPubKeys  [][]byte
	MakerReserveTxID string
	TakerReserveTxID string
	OutputAmount     uint64
}

// DepositTx is a deposit transaction under construction. Signatures counts
// toward the 2-of-3 quorum.
type DepositTx struct {
	TxID       string
	TxHex      string
	Spec       DepositTxSpec
	Signatures int
}

// WalletService is the contract consumed from the wallet. Every operation is
// fallible with a typed error rather than a silent no-op.
type WalletService interface {
	// Balance returns the spendable balance in atomic units.
	Balance(ctx context.Context) (uint64, error)
	// NewAddress derives an address reserved for (offerId, context).
	NewAddress(
		ctx context.Context, offerID string, context domain.AddressContext,
	) (string, error)
	// ReserveFunds locks amount for (offerId, context), producing a
	// reservation transaction. Re-reserving the same key returns the
	// existing reservation.
	ReserveFunds(
		ctx context.Context, offerID string,
		context domain.AddressContext, amount uint64,
	) (*ReserveTx, error)
	// ReleaseReservedFunds returns an offer's reservations to the spendable
	// balance. Compensating action for protocol failures.
	ReleaseReservedFunds(ctx context.Context, offerID string) error
	// MultisigPubKey issues this wallet's multisig key for a trade. Repeated
	// calls for the same trade return the same key.
	MultisigPubKey(ctx context.Context, tradeID string) ([]byte, error)
	// BuildDepositTx assembles the deposit transaction from the spec. The
	// txid is derived deterministically from the spec so a process restart
	// re-derives the same transaction instead of double-spending.
	BuildDepositTx(ctx context.Context, spec DepositTxSpec) (*DepositTx, error)
	// SignDepositTx adds this wallet's multisig signature.
	SignDepositTx(ctx context.Context, tx *DepositTx) (*DepositTx, error)
	// BroadcastDepositTx publishes a deposit transaction holding at least
	// the 2-of-3 quorum, returning its txid. Broadcasting an already
	// published transaction is idempotent.
	BroadcastDepositTx(ctx context.Context, tx *DepositTx) (string, error)
	// BuildAndBroadcastPayoutTx spends the multisig output back to the
	// parties' payout addresses.
	BuildAndBroadcastPayoutTx(
		ctx context.Context, tradeID, makerPayoutAddress, takerPayoutAddress string,
	) (string, error)
}
