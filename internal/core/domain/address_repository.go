package domain

import "context"

// AddressRepository persists the wallet address reservation list.
type AddressRepository interface {
	// GetAddressEntries returns the current entry list, empty if none was
	// persisted yet.
	GetAddressEntries(ctx context.Context) (*XmrAddressEntryList, error)
	// UpdateAddressEntries commits changes to the entry list atomically.
	UpdateAddressEntries(
		ctx context.Context,
		updateFn func(l *XmrAddressEntryList) (*XmrAddressEntryList, error),
	) error
}
