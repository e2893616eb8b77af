package inmemory

import (
	"sync"

	"github.com/escrow-network/escrow-daemon/internal/core/domain"
	"github.com/escrow-network/escrow-daemon/internal/core/ports"
)

type offerInmemoryStore struct {
	offers map[string]domain.Offer
	locker *sync.Mutex
}

type tradeInmemoryStore struct {
	openTrades   map[string]domain.Trade
	closedTrades map[string]domain.Trade
	failedTrades map[string]domain.Trade
	locker       *sync.Mutex
}

type addressInmemoryStore struct {
	entries domain.XmrAddressEntryList
	locker  *sync.Mutex
}

type RepoManager struct {
	offerRepository   domain.OfferRepository
	tradeRepository   domain.TradeRepository
	addressRepository domain.AddressRepository
}

func NewRepoManager() ports.RepoManager {
	offerStore := &offerInmemoryStore{
		offers: map[string]domain.Offer{},
		locker: &sync.Mutex{},
	}
	tradeStore := &tradeInmemoryStore{
		openTrades:   map[string]domain.Trade{},
		closedTrades: map[string]domain.Trade{},
		failedTrades: map[string]domain.Trade{},
		locker:       &sync.Mutex{},
	}
	addressStore := &addressInmemoryStore{
		locker: &sync.Mutex{},
	}

	return &RepoManager{
		offerRepository:   NewOfferRepositoryImpl(offerStore),
		tradeRepository:   NewTradeRepositoryImpl(tradeStore),
		addressRepository: NewAddressRepositoryImpl(addressStore),
	}
}

func (d *RepoManager) OfferRepository() domain.OfferRepository {
	return d.offerRepository
}

func (d *RepoManager) TradeRepository() domain.TradeRepository {
	return d.tradeRepository
}

func (d *RepoManager) AddressRepository() domain.AddressRepository {
	return d.addressRepository
}

func (d *RepoManager) Close() {}
