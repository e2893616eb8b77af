package application

import (
	"bytes"
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/escrow-network/escrow-daemon/internal/core/domain"
	"github.com/escrow-network/escrow-daemon/internal/core/ports"
	"github.com/escrow-network/escrow-daemon/pkg/wire"
)

// signedOfferRecord is what the arbitrator keeps about an offer it
// co-signed.
type signedOfferRecord struct {
	makerAddress string
	makerPubKey  []byte
}

// handleSignOfferRequest is the arbitrator co-signing a maker's offer before
// publication. The co-signature commits to the exact payload takers will
// later receive from the offer book, so any validation failure refuses the
// signature rather than signing a corrected copy.
func (e *Engine) handleSignOfferRequest(from string, env *wire.Envelope) error {
	var req wire.SignOfferRequest
	if err := env.Unmarshal(&req); err != nil {
		return err
	}
	if err := env.VerifySig(req.MakerPubKey); err != nil {
		return err
	}

	payload, err := domain.DecodeOfferPayload(req.OfferPayload)
	if err != nil {
		return err
	}
	switch {
	case payload.ID != req.OfferID:
		return fmt.Errorf("sign-offer payload id %s does not match request %s",
			payload.ID, req.OfferID)
	case payload.ArbitratorAddress != e.Address():
		return fmt.Errorf("offer %s names a different arbitrator", req.OfferID)
	case payload.MakerAddress != from:
		return fmt.Errorf("offer %s maker address does not match sender", req.OfferID)
	case !bytes.Equal(payload.MakerPubKey, req.MakerPubKey):
		return fmt.Errorf("offer %s maker key does not match request", req.OfferID)
	case req.ReserveTxID == "":
		return fmt.Errorf("offer %s carries no funding reservation", req.OfferID)
	}
	if err := (&domain.Offer{Payload: *payload}).Validate(); err != nil {
		return err
	}

	sig, err := e.keyRing.Sign(payload.Serialize())
	if err != nil {
		return err
	}

	e.mtx.Lock()
	e.signedOffers[req.OfferID] = &signedOfferRecord{
		makerAddress: from,
		makerPubKey:  req.MakerPubKey,
	}
	e.mtx.Unlock()

	log.WithField("offer", req.OfferID).WithField("maker", from).
		Info("co-signed offer")
	return e.send(
		from, req.MakerPubKey, wire.MsgSignOfferResponse,
		&wire.SignOfferResponse{
			OfferID:             req.OfferID,
			ArbitratorSignature: sig,
			ArbitratorPubKey:    e.keyRing.PubKey(),
		},
		ports.DeliveryCallbacks{},
	)
}

// handleDepositRequestAsArbitrator issues this arbitrator's multisig key for
// a trade on an offer it previously co-signed. The wallet returns the same
// key on re-request, so a maker retry is harmless.
func (e *Engine) handleDepositRequestAsArbitrator(from string, env *wire.Envelope) error {
	var req wire.DepositRequest
	if err := env.Unmarshal(&req); err != nil {
		return err
	}

	e.mtx.Lock()
	rec, ok := e.signedOffers[req.TradeID]
	e.mtx.Unlock()
	if !ok {
		return fmt.Errorf("deposit request for unknown offer %s", req.TradeID)
	}
	if from != rec.makerAddress {
		return fmt.Errorf("deposit request for offer %s from non-maker %s",
			req.TradeID, from)
	}
	if err := env.VerifySig(rec.makerPubKey); err != nil {
		return err
	}

	key, err := e.wallet.MultisigPubKey(context.Background(), req.TradeID)
	if err != nil {
		return err
	}
	return e.send(
		from, rec.makerPubKey, wire.MsgDepositResponse,
		&wire.DepositResponse{TradeID: req.TradeID, ArbitratorPubKey: key},
		ports.DeliveryCallbacks{},
	)
}
