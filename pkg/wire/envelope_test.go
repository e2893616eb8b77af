package wire_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/escrow-network/escrow-daemon/pkg/wire"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	t.Parallel()

	kr, err := wire.NewKeyRing()
	require.NoError(t, err)

	req := &wire.OfferAvailabilityRequest{
		OfferID: "offer-1",
		PubKey:  kr.PubKey(),
		TradeRequest: &wire.TradeRequest{
			OfferID: "offer-1",
			UID:     "nonce-1",
			Amount:  10000,
		},
	}
	env, err := wire.NewEnvelope(wire.MsgOfferAvailabilityRequest, "taker@onion", req)
	require.NoError(t, err)
	require.NoError(t, env.Sign(kr))

	buf, err := env.Encode()
	require.NoError(t, err)

	decoded, err := wire.DecodeEnvelope(buf)
	require.NoError(t, err)
	require.Equal(t, env.UID, decoded.UID)
	require.Equal(t, wire.MsgOfferAvailabilityRequest, decoded.Type)
	require.NoError(t, decoded.VerifySig(kr.PubKey()))

	var got wire.OfferAvailabilityRequest
	require.NoError(t, decoded.Unmarshal(&got))
	require.Equal(t, req.OfferID, got.OfferID)
	require.Equal(t, req.TradeRequest.UID, got.TradeRequest.UID)
}

func TestDecodeRejectsUnknownVersion(t *testing.T) {
	t.Parallel()

	buf, err := json.Marshal(map[string]interface{}{
		"version": 99,
		"type":    int(wire.MsgAck),
		"uid":     "u",
		"payload": map[string]interface{}{},
	})
	require.NoError(t, err)

	_, err = wire.DecodeEnvelope(buf)
	require.ErrorIs(t, err, wire.ErrUnknownVersion)
}

func TestDecodeRejectsUnknownType(t *testing.T) {
	t.Parallel()

	buf, err := json.Marshal(map[string]interface{}{
		"version": wire.ProtocolVersion,
		"type":    4242,
		"uid":     "u",
		"payload": map[string]interface{}{},
	})
	require.NoError(t, err)

	_, err = wire.DecodeEnvelope(buf)
	require.ErrorIs(t, err, wire.ErrUnknownMsgType)
}

func TestVerifySigDetectsTampering(t *testing.T) {
	t.Parallel()

	kr, err := wire.NewKeyRing()
	require.NoError(t, err)
	other, err := wire.NewKeyRing()
	require.NoError(t, err)

	env, err := wire.NewEnvelope(wire.MsgPaymentSent, "buyer@onion", &wire.PaymentSent{TradeID: "t-1"})
	require.NoError(t, err)
	require.NoError(t, env.Sign(kr))

	// Wrong key.
	require.ErrorIs(t, env.VerifySig(other.PubKey()), wire.ErrInvalidSignature)

	// Tampered payload.
	env.Payload = []byte(`{"tradeId":"t-2"}`)
	require.ErrorIs(t, env.VerifySig(kr.PubKey()), wire.ErrInvalidSignature)

	// Unsigned.
	env.Sig = nil
	require.ErrorIs(t, env.VerifySig(kr.PubKey()), wire.ErrMissingSignature)
}

func TestSerializeFramesEveryField(t *testing.T) {
	t.Parallel()

	base := &wire.Envelope{
		Version: wire.ProtocolVersion,
		Type:    wire.MsgAck,
		UID:     "ab",
		Sender:  "c",
		Payload: []byte(`{}`),
	}

	// Shifting a byte across the uid/sender boundary must change the bytes
	// the signature commits to.
	shifted := *base
	shifted.UID = "a"
	shifted.Sender = "bc"
	require.NotEqual(t, base.Serialize(), shifted.Serialize())

	// Same for the sender/payload boundary.
	shifted = *base
	shifted.Sender = ""
	shifted.Payload = []byte(`c{}`)
	require.NotEqual(t, base.Serialize(), shifted.Serialize())

	same := *base
	require.Equal(t, base.Serialize(), same.Serialize())
}

func TestTradeRequestSigHashBindsOfferAndNonce(t *testing.T) {
	t.Parallel()

	base := wire.TradeRequest{OfferID: "offer-1", UID: "nonce-1", Amount: 5}
	same := base
	require.Equal(t, base.SigHash(), same.SigHash())

	otherOffer := base
	otherOffer.OfferID = "offer-2"
	require.NotEqual(t, base.SigHash(), otherOffer.SigHash())

	otherNonce := base
	otherNonce.UID = "nonce-2"
	require.NotEqual(t, base.SigHash(), otherNonce.SigHash())
}
