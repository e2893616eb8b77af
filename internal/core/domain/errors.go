package domain

import "errors"

var (
	// ErrOfferNotAvailable is returned when trying to reserve or take an
	// offer that is not in the Available state.
	ErrOfferNotAvailable = errors.New("offer is not available")
	// ErrInvalidOfferStateTransition is returned for offer state changes
	// that skip a step of the reservation cycle.
	ErrInvalidOfferStateTransition = errors.New("invalid offer state transition")
	// ErrInvalidOffer ...
	ErrInvalidOffer = errors.New("offer validation failed")
	// ErrTradeNotFound ...
	ErrTradeNotFound = errors.New("trade not found")
	// ErrOfferNotFound ...
	ErrOfferNotFound = errors.New("offer not found")
	// ErrInvalidTradeStateTransition is returned when a trade state change
	// does not follow the protocol-step ladder.
	ErrInvalidTradeStateTransition = errors.New("invalid trade state transition")
	// ErrTradeTerminal is returned when running an operation against a trade
	// already moved to closed or failed storage.
	ErrTradeTerminal = errors.New("trade reached a terminal state")
	// ErrDisputeStateRegression is returned when trying to move the dispute
	// state backwards.
	ErrDisputeStateRegression = errors.New("dispute state may not move backwards")
	// ErrContractAlreadySet guards the contract immutability once both
	// deposit addresses are fixed.
	ErrContractAlreadySet = errors.New("trade contract is already set")
	// ErrFundsLockedIn blocks deleting or un-failing a trade whose deposit
	// is broadcast but whose payout is not.
	ErrFundsLockedIn = errors.New("trade has funds locked in")
	// ErrAddressEntryNotFound ...
	ErrAddressEntryNotFound = errors.New("address entry not found")
)
