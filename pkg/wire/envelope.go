package wire

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/thanhpk/randstr"
)

// ProtocolVersion is bumped on any wire-incompatible change. Receivers must
// reject an unknown version before attempting to decode the payload.
const ProtocolVersion = 1

// MsgType identifies the payload carried by an envelope.
type MsgType uint16

const (
	MsgOfferAvailabilityRequest MsgType = iota + 1
	MsgOfferAvailabilityResponse
	MsgSignOfferRequest
	MsgSignOfferResponse
	MsgDepositRequest
	MsgDepositResponse
	MsgDepositPublished
	MsgPaymentSent
	MsgPaymentReceived
	MsgPayoutPublished
	MsgChatMessage
	MsgDisputeOpened
	MsgAck
)

var msgTypeNames = map[MsgType]string{
	MsgOfferAvailabilityRequest:  "OfferAvailabilityRequest",
	MsgOfferAvailabilityResponse: "OfferAvailabilityResponse",
	MsgSignOfferRequest:          "SignOfferRequest",
	MsgSignOfferResponse:         "SignOfferResponse",
	MsgDepositRequest:            "DepositRequest",
	MsgDepositResponse:           "DepositResponse",
	MsgDepositPublished:          "DepositPublished",
	MsgPaymentSent:               "PaymentSent",
	MsgPaymentReceived:           "PaymentReceived",
	MsgPayoutPublished:           "PayoutPublished",
	MsgChatMessage:               "ChatMessage",
	MsgDisputeOpened:             "DisputeOpened",
	MsgAck:                       "Ack",
}

func (t MsgType) String() string {
	if s, ok := msgTypeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("Unknown(%d)", uint16(t))
}

var (
	// ErrUnknownVersion is returned for envelopes carrying a protocol
	// version this node does not speak.
	ErrUnknownVersion = errors.New("unknown protocol version")
	// ErrUnknownMsgType ...
	ErrUnknownMsgType = errors.New("unknown message type")
	// ErrMissingSignature ...
	ErrMissingSignature = errors.New("envelope is not signed")
	// ErrInvalidSignature ...
	ErrInvalidSignature = errors.New("invalid envelope signature")
)

// Envelope is the unit of transport between peers. UID de-duplicates
// at-least-once (mailbox) delivery; Sig covers Serialize().
type Envelope struct {
	Version int             `json:"version"`
	Type    MsgType         `json:"type"`
	UID     string          `json:"uid"`
	Sender  string          `json:"sender"`
	Payload json.RawMessage `json:"payload"`
	Sig     []byte          `json:"sig,omitempty"`
}

// NewEnvelope wraps a payload into an envelope with a fresh UID and the
// current protocol version.
func NewEnvelope(typ MsgType, sender string, payload interface{}) (*Envelope, error) {
	buf, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding %s payload: %w", typ, err)
	}
	return &Envelope{
		Version: ProtocolVersion,
		Type:    typ,
		UID:     randstr.Hex(16),
		Sender:  sender,
		Payload: buf,
	}, nil
}

// Serialize returns the canonical byte string covered by the envelope
// signature. The variable-length fields are length-prefixed so distinct
// (uid, sender, payload) triples never serialize to the same bytes.
func (e *Envelope) Serialize() []byte {
	var buf bytes.Buffer
	buf.WriteByte(byte(e.Version))
	buf.WriteByte(byte(e.Type >> 8))
	buf.WriteByte(byte(e.Type))
	for _, field := range [][]byte{[]byte(e.UID), []byte(e.Sender), e.Payload} {
		var n [4]byte
		binary.BigEndian.PutUint32(n[:], uint32(len(field)))
		buf.Write(n[:])
		buf.Write(field)
	}
	return buf.Bytes()
}

// Sign sets the envelope signature using the given key ring.
func (e *Envelope) Sign(kr *KeyRing) error {
	sig, err := kr.Sign(e.Serialize())
	if err != nil {
		return err
	}
	e.Sig = sig
	return nil
}

// VerifySig checks the envelope signature against the sender's compressed
// public key.
func (e *Envelope) VerifySig(pubKey []byte) error {
	if len(e.Sig) == 0 {
		return ErrMissingSignature
	}
	if !Verify(pubKey, e.Serialize(), e.Sig) {
		return ErrInvalidSignature
	}
	return nil
}

// Encode returns the wire bytes of the envelope.
func (e *Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// DecodeEnvelope parses wire bytes into an envelope. The version and type
// are validated here so that callers never decode a payload from a peer
// speaking a different protocol.
func DecodeEnvelope(buf []byte) (*Envelope, error) {
	env := &Envelope{}
	if err := json.Unmarshal(buf, env); err != nil {
		return nil, fmt.Errorf("decoding envelope: %w", err)
	}
	if env.Version != ProtocolVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnknownVersion, env.Version)
	}
	if _, ok := msgTypeNames[env.Type]; !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownMsgType, uint16(env.Type))
	}
	return env, nil
}

// Unmarshal decodes the payload into v.
func (e *Envelope) Unmarshal(v interface{}) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decoding %s payload: %w", e.Type, err)
	}
	return nil
}
