package inmemory

import (
	"context"

	"github.com/escrow-network/escrow-daemon/internal/core/domain"
)

type addressRepositoryImpl struct {
	store *addressInmemoryStore
}

// NewAddressRepositoryImpl returns a new inmemory AddressRepository implementation.
func NewAddressRepositoryImpl(store *addressInmemoryStore) domain.AddressRepository {
	return &addressRepositoryImpl{store}
}

func (r addressRepositoryImpl) GetAddressEntries(_ context.Context) (*domain.XmrAddressEntryList, error) {
	r.store.locker.Lock()
	defer r.store.locker.Unlock()

	list := r.store.entries
	list.Entries = append([]domain.XmrAddressEntry(nil), r.store.entries.Entries...)
	return &list, nil
}

func (r addressRepositoryImpl) UpdateAddressEntries(
	_ context.Context,
	updateFn func(l *domain.XmrAddressEntryList) (*domain.XmrAddressEntryList, error),
) error {
	r.store.locker.Lock()
	defer r.store.locker.Unlock()

	current := r.store.entries
	current.Entries = append([]domain.XmrAddressEntry(nil), r.store.entries.Entries...)
	updated, err := updateFn(&current)
	if err != nil {
		return err
	}
	r.store.entries = *updated
	return nil
}
