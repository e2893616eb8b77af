// Package inproc is a simulated wallet backing the escrow protocols in tests
// and demos. Balances are plain numbers and transactions never hit a
// network, but the contract surface matches the real wallet: reservations
// are idempotent per (offer, context), deposit txids are pure functions of
// the deposit spec and broadcasting below the signature quorum is refused.
package inproc

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/escrow-network/escrow-daemon/internal/core/domain"
	"github.com/escrow-network/escrow-daemon/internal/core/ports"
	"github.com/escrow-network/escrow-daemon/pkg/wire"
)

// multisigQuorum is the number of signatures required to spend the 2-of-3
// deposit output.
const multisigQuorum = 2

type reservation struct {
	tx     *ports.ReserveTx
	amount uint64
}

type walletService struct {
	mtx sync.Mutex
	// balance is the spendable amount; reservations are subtracted from it
	// and added back on release.
	balance uint64
	// reservations are keyed by offerID + context.
	reservations map[string]*reservation
	multisigKeys map[string]*wire.KeyRing
	broadcast    map[string]bool
	payouts      map[string]string
}

// NewWalletService returns a simulated wallet funded with the given balance
// in atomic units.
func NewWalletService(balance uint64) ports.WalletService {
	return &walletService{
		balance:      balance,
		reservations: map[string]*reservation{},
		multisigKeys: map[string]*wire.KeyRing{},
		broadcast:    map[string]bool{},
		payouts:      map[string]string{},
	}
}

func (w *walletService) Balance(_ context.Context) (uint64, error) {
	w.mtx.Lock()
	defer w.mtx.Unlock()
	return w.balance, nil
}

func (w *walletService) NewAddress(
	_ context.Context, offerID string, context domain.AddressContext,
) (string, error) {
	// Derivation is deterministic so a re-run of a reservation task lands
	// on the same address.
	return "addr_" + digest(offerID, context.String())[:24], nil
}

func (w *walletService) ReserveFunds(
	_ context.Context, offerID string,
	context domain.AddressContext, amount uint64,
) (*ports.ReserveTx, error) {
	w.mtx.Lock()
	defer w.mtx.Unlock()

	key := offerID + "/" + context.String()
	if r, ok := w.reservations[key]; ok {
		return r.tx, nil
	}
	if w.balance < amount {
		return nil, fmt.Errorf(
			"%w: have %d, need %d", ports.ErrInsufficientFunds, w.balance, amount,
		)
	}
	w.balance -= amount
	tx := &ports.ReserveTx{
		TxID:    "reserve_" + digest(offerID, context.String()),
		OfferID: offerID,
		Amount:  amount,
		Address: "addr_" + digest(offerID, context.String())[:24],
	}
	w.reservations[key] = &reservation{tx: tx, amount: amount}
	return tx, nil
}

func (w *walletService) ReleaseReservedFunds(_ context.Context, offerID string) error {
	w.mtx.Lock()
	defer w.mtx.Unlock()

	released := false
	for key, r := range w.reservations {
		if r.tx.OfferID != offerID {
			continue
		}
		w.balance += r.amount
		delete(w.reservations, key)
		released = true
	}
	if !released {
		return ports.ErrNothingReserved
	}
	return nil
}

func (w *walletService) MultisigPubKey(_ context.Context, tradeID string) ([]byte, error) {
	w.mtx.Lock()
	defer w.mtx.Unlock()

	kr, ok := w.multisigKeys[tradeID]
	if !ok {
		var err error
		kr, err = wire.NewKeyRing()
		if err != nil {
			return nil, err
		}
		w.multisigKeys[tradeID] = kr
	}
	return kr.PubKey(), nil
}

func (w *walletService) BuildDepositTx(
	_ context.Context, spec ports.DepositTxSpec,
) (*ports.DepositTx, error) {
	if len(spec.MultisigPubKeys) != 3 {
		return nil, fmt.Errorf("deposit spec needs 3 multisig keys, got %d",
			len(spec.MultisigPubKeys))
	}
	txid := depositTxID(spec)
	return &ports.DepositTx{
		TxID:  txid,
		TxHex: hex.EncodeToString([]byte(txid)),
		Spec:  spec,
	}, nil
}

func (w *walletService) SignDepositTx(
	_ context.Context, tx *ports.DepositTx,
) (*ports.DepositTx, error) {
	signed := *tx
	signed.Signatures++
	return &signed, nil
}

func (w *walletService) BroadcastDepositTx(
	_ context.Context, tx *ports.DepositTx,
) (string, error) {
	if tx.Signatures < multisigQuorum {
		return "", fmt.Errorf(
			"%w: have %d of %d", ports.ErrMissingSignatures, tx.Signatures, multisigQuorum,
		)
	}
	w.mtx.Lock()
	defer w.mtx.Unlock()
	// Re-broadcasting the same transaction is a no-op.
	w.broadcast[tx.TxID] = true
	return tx.TxID, nil
}

func (w *walletService) BuildAndBroadcastPayoutTx(
	_ context.Context, tradeID, makerPayoutAddress, takerPayoutAddress string,
) (string, error) {
	w.mtx.Lock()
	defer w.mtx.Unlock()

	if txid, ok := w.payouts[tradeID]; ok {
		return txid, nil
	}
	txid := "payout_" + digest(tradeID, makerPayoutAddress, takerPayoutAddress)
	w.payouts[tradeID] = txid
	return txid, nil
}

// depositTxID derives the txid from the full spec. Both parties build the
// spec independently and must land on the same id.
func depositTxID(spec ports.DepositTxSpec) string {
	h := sha256.New()
	h.Write([]byte(spec.TradeID))
	for _, key := range spec.MultisigPubKeys {
		h.Write(key)
	}
	h.Write([]byte(spec.MakerReserveTxID))
	h.Write([]byte(spec.TakerReserveTxID))
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], spec.OutputAmount)
	h.Write(n[:])
	return "deposit_" + hex.EncodeToString(h.Sum(nil))[:40]
}

func digest(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}
