package dbbadger

import (
	"context"

	"github.com/dgraph-io/badger/v3"
	"github.com/timshannon/badgerhold/v4"

	"github.com/escrow-network/escrow-daemon/internal/core/domain"
)

type offerRepositoryImpl struct {
	store *badgerhold.Store
}

// NewOfferRepositoryImpl returns a badger-backed OfferRepository implementation.
func NewOfferRepositoryImpl(store *badgerhold.Store) domain.OfferRepository {
	return offerRepositoryImpl{store}
}

func (r offerRepositoryImpl) AddOffer(_ context.Context, offer *domain.Offer) error {
	return r.store.Upsert(offer.ID(), *offer)
}

func (r offerRepositoryImpl) GetOffer(_ context.Context, offerID string) (*domain.Offer, error) {
	var offer domain.Offer
	if err := r.store.Get(offerID, &offer); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, domain.ErrOfferNotFound
		}
		return nil, err
	}
	return &offer, nil
}

func (r offerRepositoryImpl) GetAllOffers(_ context.Context) ([]*domain.Offer, error) {
	var offers []domain.Offer
	if err := r.store.Find(&offers, nil); err != nil {
		return nil, err
	}
	list := make([]*domain.Offer, 0, len(offers))
	for i := range offers {
		list = append(list, &offers[i])
	}
	return list, nil
}

func (r offerRepositoryImpl) UpdateOffer(
	_ context.Context, offerID string,
	updateFn func(o *domain.Offer) (*domain.Offer, error),
) error {
	return r.store.Badger().Update(func(txn *badger.Txn) error {
		var offer domain.Offer
		if err := r.store.TxGet(txn, offerID, &offer); err != nil {
			if err == badgerhold.ErrNotFound {
				return domain.ErrOfferNotFound
			}
			return err
		}
		updatedOffer, err := updateFn(&offer)
		if err != nil {
			return err
		}
		return r.store.TxUpsert(txn, offerID, *updatedOffer)
	})
}

func (r offerRepositoryImpl) RemoveOffer(_ context.Context, offerID string) error {
	if err := r.store.Delete(offerID, domain.Offer{}); err != nil {
		if err == badgerhold.ErrNotFound {
			return domain.ErrOfferNotFound
		}
		return err
	}
	return nil
}
