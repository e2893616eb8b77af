package wire

import (
	"bytes"
	"encoding/binary"
)

// AvailabilityResult is the maker's verdict on an availability request.
type AvailabilityResult int

const (
	AvailabilityResultUnknown AvailabilityResult = iota
	AvailabilityResultAvailable
	AvailabilityResultOfferTaken
	AvailabilityResultPriceOutOfTolerance
	AvailabilityResultUnsupportedVersion
	AvailabilityResultInvalidRequest
)

func (r AvailabilityResult) String() string {
	switch r {
	case AvailabilityResultAvailable:
		return "AVAILABLE"
	case AvailabilityResultOfferTaken:
		return "OFFER_TAKEN"
	case AvailabilityResultPriceOutOfTolerance:
		return "PRICE_OUT_OF_TOLERANCE"
	case AvailabilityResultUnsupportedVersion:
		return "UNSUPPORTED_VERSION"
	case AvailabilityResultInvalidRequest:
		return "INVALID_REQUEST"
	default:
		return "UNKNOWN"
	}
}

// TradeRequest is the taker's signed intent to take an offer. It rides
// inside the availability handshake so the maker holds everything needed to
// start escrow construction by the time the offer is confirmed available.
type TradeRequest struct {
	OfferID           string `json:"offerId"`
	UID               string `json:"uid"`
	Version           int    `json:"version"`
	SenderAddress     string `json:"senderAddress"`
	PubKey            []byte `json:"pubKey"`
	Amount            uint64 `json:"amount"`
	Price             string `json:"price"`
	TakerFee          uint64 `json:"takerFee"`
	AccountID         string `json:"accountId"`
	PaymentAccountID  string `json:"paymentAccountId"`
	PaymentMethodID   string `json:"paymentMethodId"`
	Timestamp         int64  `json:"timestamp"`
	MakerAddress      string `json:"makerAddress"`
	TakerAddress      string `json:"takerAddress"`
	ArbitratorAddress string `json:"arbitratorAddress,omitempty"`
	PayoutAddress     string `json:"payoutAddress"`
	Signature         []byte `json:"signature,omitempty"`
}

// SigHash returns the canonical bytes both the taker's request signature and
// the maker's countersignature commit to. The UID nonce binds the signature
// to this attempt and the offer id binds it to this offer, preventing replay
// across offers.
func (r *TradeRequest) SigHash() []byte {
	var buf bytes.Buffer
	buf.WriteString(r.OfferID)
	buf.WriteString(r.UID)
	buf.WriteString(r.TakerAddress)
	buf.WriteString(r.PayoutAddress)
	buf.Write(r.PubKey)
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], r.Amount)
	buf.Write(n[:])
	binary.BigEndian.PutUint64(n[:], r.TakerFee)
	buf.Write(n[:])
	binary.BigEndian.PutUint64(n[:], uint64(r.Timestamp))
	buf.Write(n[:])
	return buf.Bytes()
}

// OfferAvailabilityRequest opens the taker→maker handshake.
type OfferAvailabilityRequest struct {
	OfferID         string        `json:"offerId"`
	PubKey          []byte        `json:"pubKey"`
	TakerTradePrice string        `json:"takerTradePrice"`
	IsTakerAPIUser  bool          `json:"isTakerApiUser"`
	TradeRequest    *TradeRequest `json:"tradeRequest"`
}

// OfferAvailabilityResponse carries the maker's verdict and, when available,
// the maker's countersignature over the taker's trade request.
type OfferAvailabilityResponse struct {
	OfferID            string             `json:"offerId"`
	RequestUID         string             `json:"requestUid"`
	AvailabilityResult AvailabilityResult `json:"availabilityResult"`
	MakerSignature     []byte             `json:"makerSignature,omitempty"`
}

// SignOfferRequest asks the designated arbitrator to co-sign an offer before
// publication.
type SignOfferRequest struct {
	OfferID      string `json:"offerId"`
	OfferPayload []byte `json:"offerPayload"`
	ReserveTxID  string `json:"reserveTxId"`
	MakerPubKey  []byte `json:"makerPubKey"`
}

// SignOfferResponse returns the arbitrator's co-signature over the offer
// payload.
type SignOfferResponse struct {
	OfferID             string `json:"offerId"`
	ArbitratorSignature []byte `json:"arbitratorSignature"`
	ArbitratorPubKey    []byte `json:"arbitratorPubKey"`
}

// DepositRequest carries one party's multisig key material and reserved
// inputs for the three-party deposit construction.
type DepositRequest struct {
	TradeID        string        `json:"tradeId"`
	MultisigPubKey []byte        `json:"multisigPubKey"`
	ReserveTxID    string        `json:"reserveTxId"`
	DepositAmount  uint64        `json:"depositAmount"`
	PayoutAddress  string        `json:"payoutAddress"`
	TradeRequest   *TradeRequest `json:"tradeRequest,omitempty"`
}

// DepositResponse completes the key exchange. When sent by the maker it
// additionally carries the maker's reserved input, payout address and the
// assembled deposit transaction carrying the maker's signature; when sent by
// the arbitrator only ArbitratorPubKey is set.
type DepositResponse struct {
	TradeID             string `json:"tradeId"`
	MultisigPubKey      []byte `json:"multisigPubKey,omitempty"`
	ArbitratorPubKey    []byte `json:"arbitratorPubKey,omitempty"`
	MakerReserveTxID    string `json:"makerReserveTxId,omitempty"`
	MakerPayoutAddress  string `json:"makerPayoutAddress,omitempty"`
	DepositTxID         string `json:"depositTxId,omitempty"`
	DepositTxHex        string `json:"depositTxHex,omitempty"`
	DepositTxSignatures int    `json:"depositTxSignatures,omitempty"`
}

// DepositPublished notifies the counterparty that the deposit transaction
// reached the network.
type DepositPublished struct {
	TradeID     string `json:"tradeId"`
	DepositTxID string `json:"depositTxId"`
}

// PaymentSent is the buyer's claim that the fiat/off-chain payment started.
type PaymentSent struct {
	TradeID        string `json:"tradeId"`
	CounterpartyID string `json:"counterpartyId,omitempty"`
	PaymentNote    string `json:"paymentNote,omitempty"`
}

// PaymentReceived is the seller's confirmation of the payment.
type PaymentReceived struct {
	TradeID string `json:"tradeId"`
}

// PayoutPublished notifies the counterparty that the payout transaction
// reached the network.
type PayoutPublished struct {
	TradeID    string `json:"tradeId"`
	PayoutTxID string `json:"payoutTxId"`
}

// ChatMessage is one dispute/arbitration chat entry exchanged over the
// mailbox so offline parties catch up on reconnect.
type ChatMessage struct {
	TradeID string `json:"tradeId"`
	Message string `json:"message"`
}

// DisputeOpened escalates a trade to its designated arbitrator.
type DisputeOpened struct {
	TradeID string `json:"tradeId"`
	Reason  string `json:"reason,omitempty"`
	// Contract is the JSON-encoded trade contract the arbitrator rules on.
	Contract []byte `json:"contract"`
}

// Ack confirms application-level receipt of a message, independent of
// transport-level delivery.
type Ack struct {
	SourceUID  string  `json:"sourceUid"`
	SourceType MsgType `json:"sourceType"`
	Success    bool    `json:"success"`
	Error      string  `json:"error,omitempty"`
}
