package domain

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OfferPayload is the immutable terms of an offer. It is what the maker
// signs, what the arbitrator co-signs and what takers receive from the offer
// book.
type OfferPayload struct {
	ID                   string
	Direction            OfferDirection
	BaseCurrency         string
	CounterCurrency      string
	PaymentMethodID      string
	Price                string
	UseMarketBasedPrice  bool
	MarketPriceMarginPct float64
	Amount               uint64
	MinAmount            uint64
	MaxTradeLimit        uint64
	SecurityDepositPct   float64
	MakerFee             uint64
	MakerAddress         string
	MakerPubKey          []byte
	ArbitratorAddress    string
	Date                 int64
	ProtocolVersion      int
}

// Serialize returns the canonical bytes the arbitrator's offer co-signature
// commits to.
func (p OfferPayload) Serialize() []byte {
	var buf bytes.Buffer
	buf.WriteString(p.ID)
	buf.WriteString(p.Direction.String())
	buf.WriteString(p.BaseCurrency)
	buf.WriteString(p.CounterCurrency)
	buf.WriteString(p.PaymentMethodID)
	buf.WriteString(p.Price)
	buf.WriteString(p.MakerAddress)
	buf.Write(p.MakerPubKey)
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], p.Amount)
	buf.Write(n[:])
	binary.BigEndian.PutUint64(n[:], p.MinAmount)
	buf.Write(n[:])
	binary.BigEndian.PutUint64(n[:], p.MakerFee)
	buf.Write(n[:])
	binary.BigEndian.PutUint64(n[:], uint64(p.Date))
	buf.Write(n[:])
	return buf.Bytes()
}

// Encode returns the JSON bytes of the payload for embedding in wire
// messages.
func (p OfferPayload) Encode() []byte {
	buf, _ := json.Marshal(p)
	return buf
}

// DecodeOfferPayload is the inverse of Encode.
func DecodeOfferPayload(buf []byte) (*OfferPayload, error) {
	p := &OfferPayload{}
	if err := json.Unmarshal(buf, p); err != nil {
		return nil, fmt.Errorf("decoding offer payload: %w", err)
	}
	return p, nil
}

// Offer wraps the immutable payload with the mutable availability state
// owned by the maker. Takers hold a read-only copy obtained from the offer
// book.
type Offer struct {
	Payload             OfferPayload
	State               OfferState
	ReserveTxID         string
	ArbitratorSignature []byte
	// ReservedForTaker is the address of the taker currently holding the
	// reservation, set while the offer is NotAvailable.
	ReservedForTaker string
	// ReservedRequestUID is the uid of the trade request the maker
	// countersigned when granting the reservation. A later deposit request
	// must carry the same request.
	ReservedRequestUID string
	ErrorMessage       string
}

// NewOffer returns an offer in the Unknown state with a fresh id.
func NewOffer(payload OfferPayload) *Offer {
	if payload.ID == "" {
		payload.ID = uuid.New().String()
	}
	if payload.Date == 0 {
		payload.Date = time.Now().Unix()
	}
	return &Offer{Payload: payload, State: OfferStateUnknown}
}

// ID is a shorthand for the payload id.
func (o *Offer) ID() string {
	return o.Payload.ID
}

// offerTransitions encodes the per-reservation-attempt cycle: an offer never
// skips from Available straight to Removed, it must pass through
// NotAvailable first.
var offerTransitions = map[OfferState][]OfferState{
	OfferStateUnknown:      {OfferStateAvailable, OfferStateNotAvailable, OfferStateMakerOffline},
	OfferStateAvailable:    {OfferStateNotAvailable, OfferStateMakerOffline},
	OfferStateNotAvailable: {OfferStateAvailable, OfferStateRemoved},
	OfferStateMakerOffline: {OfferStateAvailable, OfferStateNotAvailable},
	OfferStateRemoved:      {},
}

// SetState applies a state transition, validating it against the
// reservation cycle. Setting the current state again is a no-op.
func (o *Offer) SetState(next OfferState) error {
	if o.State == next {
		return nil
	}
	for _, allowed := range offerTransitions[o.State] {
		if next == allowed {
			o.State = next
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidOfferStateTransition, o.State, next)
}

// IsTakeable reports whether an availability request can currently be
// granted.
func (o *Offer) IsTakeable() bool {
	return o.State == OfferStateAvailable
}

// Validate performs the schema/limits checks run before any network or fund
// action.
func (o *Offer) Validate() error {
	p := o.Payload
	switch {
	case p.ID == "":
		return fmt.Errorf("%w: missing id", ErrInvalidOffer)
	case p.BaseCurrency == "" || p.CounterCurrency == "":
		return fmt.Errorf("%w: missing currency pair", ErrInvalidOffer)
	case p.PaymentMethodID == "":
		return fmt.Errorf("%w: missing payment method", ErrInvalidOffer)
	case p.Amount == 0:
		return fmt.Errorf("%w: zero amount", ErrInvalidOffer)
	case p.MinAmount > p.Amount:
		return fmt.Errorf("%w: min amount exceeds amount", ErrInvalidOffer)
	case p.MaxTradeLimit > 0 && p.MinAmount > p.MaxTradeLimit:
		return fmt.Errorf("%w: min amount exceeds trade limit", ErrInvalidOffer)
	case p.SecurityDepositPct <= 0:
		return fmt.Errorf("%w: missing security deposit", ErrInvalidOffer)
	case p.MakerAddress == "":
		return fmt.Errorf("%w: missing maker address", ErrInvalidOffer)
	case len(p.MakerPubKey) == 0:
		return fmt.Errorf("%w: missing maker pub key", ErrInvalidOffer)
	case p.ArbitratorAddress == "":
		return fmt.Errorf("%w: missing arbitrator", ErrInvalidOffer)
	}
	if !p.UseMarketBasedPrice {
		price, err := decimal.NewFromString(p.Price)
		if err != nil || !price.IsPositive() {
			return fmt.Errorf("%w: invalid price %q", ErrInvalidOffer, p.Price)
		}
	}
	return nil
}

// InTradeRange reports whether a trade amount respects the offer bounds and
// the offer-level trade limit.
func (p OfferPayload) InTradeRange(amount uint64) bool {
	max := p.Amount
	if p.MaxTradeLimit > 0 && p.MaxTradeLimit < max {
		max = p.MaxTradeLimit
	}
	return amount >= p.MinAmount && amount <= max
}

// SecurityDeposit returns the deposit each party locks for the given trade
// amount.
func (p OfferPayload) SecurityDeposit(amount uint64) uint64 {
	dep := decimal.NewFromInt(int64(amount)).
		Mul(decimal.NewFromFloat(p.SecurityDepositPct)).
		IntPart()
	return uint64(dep)
}

// AdjustedAmount clamps amount to the offer range and the payment account's
// trade limit, rounding to a multiple of AmountFactor. Known boundary case:
// when maxTradeLimit is lower than the factor, the returned amount respects
// the limit but violates the factor constraint. That behavior is documented
// and intentionally preserved.
func AdjustedAmount(amount, minAmount, maxAmount, maxTradeLimit uint64) uint64 {
	if maxTradeLimit > 0 && maxAmount > maxTradeLimit {
		maxAmount = maxTradeLimit
	}
	if amount < minAmount {
		amount = minAmount
	}
	if amount > maxAmount {
		amount = maxAmount
	}

	factor := AmountFactor
	rounded := (amount + factor/2) / factor * factor
	if rounded < minAmount {
		rounded = (minAmount + factor - 1) / factor * factor
	}
	if rounded > maxAmount {
		// A limit below the factor makes a factor-multiple impossible; the
		// limit wins.
		rounded = maxAmount
	}
	return rounded
}

// Volume returns the trade volume in counter currency for the given amount
// and price.
func (p OfferPayload) Volume(amount uint64) decimal.Decimal {
	price, err := decimal.NewFromString(p.Price)
	if err != nil {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(amount)).Mul(price).Truncate(8)
}
