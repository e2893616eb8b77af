package ports

import "github.com/escrow-network/escrow-daemon/internal/core/domain"

// RepoManager gives access to all the domain repositories backed by the same
// store.
type RepoManager interface {
	OfferRepository() domain.OfferRepository
	TradeRepository() domain.TradeRepository
	AddressRepository() domain.AddressRepository
	Close()
}
