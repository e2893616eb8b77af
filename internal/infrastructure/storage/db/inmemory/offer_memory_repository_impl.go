package inmemory

import (
	"context"

	"github.com/escrow-network/escrow-daemon/internal/core/domain"
)

type offerRepositoryImpl struct {
	store *offerInmemoryStore
}

// NewOfferRepositoryImpl returns a new inmemory OfferRepository implementation.
func NewOfferRepositoryImpl(store *offerInmemoryStore) domain.OfferRepository {
	return &offerRepositoryImpl{store}
}

func (r offerRepositoryImpl) AddOffer(_ context.Context, offer *domain.Offer) error {
	r.store.locker.Lock()
	defer r.store.locker.Unlock()

	r.store.offers[offer.ID()] = *offer
	return nil
}

func (r offerRepositoryImpl) GetOffer(_ context.Context, offerID string) (*domain.Offer, error) {
	r.store.locker.Lock()
	defer r.store.locker.Unlock()

	return r.getOffer(offerID)
}

func (r offerRepositoryImpl) GetAllOffers(_ context.Context) ([]*domain.Offer, error) {
	r.store.locker.Lock()
	defer r.store.locker.Unlock()

	offers := make([]*domain.Offer, 0, len(r.store.offers))
	for _, o := range r.store.offers {
		offer := o
		offers = append(offers, &offer)
	}
	return offers, nil
}

func (r offerRepositoryImpl) UpdateOffer(
	_ context.Context, offerID string,
	updateFn func(o *domain.Offer) (*domain.Offer, error),
) error {
	r.store.locker.Lock()
	defer r.store.locker.Unlock()

	currentOffer, err := r.getOffer(offerID)
	if err != nil {
		return err
	}
	updatedOffer, err := updateFn(currentOffer)
	if err != nil {
		return err
	}
	r.store.offers[offerID] = *updatedOffer
	return nil
}

func (r offerRepositoryImpl) RemoveOffer(_ context.Context, offerID string) error {
	r.store.locker.Lock()
	defer r.store.locker.Unlock()

	if _, ok := r.store.offers[offerID]; !ok {
		return domain.ErrOfferNotFound
	}
	delete(r.store.offers, offerID)
	return nil
}

func (r offerRepositoryImpl) getOffer(offerID string) (*domain.Offer, error) {
	o, ok := r.store.offers[offerID]
	if !ok {
		return nil, domain.ErrOfferNotFound
	}
	return &o, nil
}
