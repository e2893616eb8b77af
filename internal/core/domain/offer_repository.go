package domain

import "context"

// OfferRepository is the abstraction for any kind of database intended to
// persist the offer book.
type OfferRepository interface {
	// AddOffer publishes an offer to the book.
	AddOffer(ctx context.Context, offer *Offer) error
	// GetOffer returns the offer with the given id, or ErrOfferNotFound.
	GetOffer(ctx context.Context, offerID string) (*Offer, error)
	// GetAllOffers returns the whole book.
	GetAllOffers(ctx context.Context) ([]*Offer, error)
	// UpdateOffer commits multiple changes to the same offer atomically.
	UpdateOffer(
		ctx context.Context, offerID string,
		updateFn func(o *Offer) (*Offer, error),
	) error
	// RemoveOffer unpublishes an offer from the book.
	RemoveOffer(ctx context.Context, offerID string) error
}
