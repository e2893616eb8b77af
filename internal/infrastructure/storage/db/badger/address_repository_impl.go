package dbbadger

import (
	"context"

	"github.com/dgraph-io/badger/v3"
	"github.com/timshannon/badgerhold/v4"

	"github.com/escrow-network/escrow-daemon/internal/core/domain"
)

// The whole entry list is stored as one record: it is small, read rarely and
// always updated as a unit.
const addressEntriesKey = "address_entries"

type addressRepositoryImpl struct {
	store *badgerhold.Store
}

// NewAddressRepositoryImpl returns a badger-backed AddressRepository implementation.
func NewAddressRepositoryImpl(store *badgerhold.Store) domain.AddressRepository {
	return addressRepositoryImpl{store}
}

func (r addressRepositoryImpl) GetAddressEntries(_ context.Context) (*domain.XmrAddressEntryList, error) {
	var list domain.XmrAddressEntryList
	if err := r.store.Get(addressEntriesKey, &list); err != nil {
		if err == badgerhold.ErrNotFound {
			return &domain.XmrAddressEntryList{}, nil
		}
		return nil, err
	}
	return &list, nil
}

func (r addressRepositoryImpl) UpdateAddressEntries(
	_ context.Context,
	updateFn func(l *domain.XmrAddressEntryList) (*domain.XmrAddressEntryList, error),
) error {
	return r.store.Badger().Update(func(txn *badger.Txn) error {
		var list domain.XmrAddressEntryList
		if err := r.store.TxGet(txn, addressEntriesKey, &list); err != nil &&
			err != badgerhold.ErrNotFound {
			return err
		}
		updated, err := updateFn(&list)
		if err != nil {
			return err
		}
		return r.store.TxUpsert(txn, addressEntriesKey, *updated)
	})
}
