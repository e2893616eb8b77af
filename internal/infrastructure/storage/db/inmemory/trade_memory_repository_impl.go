package inmemory

import (
	"context"

	"github.com/escrow-network/escrow-daemon/internal/core/domain"
)

type tradeRepositoryImpl struct {
	store *tradeInmemoryStore
}

// NewTradeRepositoryImpl returns a new inmemory TradeRepository implementation.
func NewTradeRepositoryImpl(store *tradeInmemoryStore) domain.TradeRepository {
	return &tradeRepositoryImpl{store}
}

func (r tradeRepositoryImpl) AddTrade(_ context.Context, trade *domain.Trade) error {
	r.store.locker.Lock()
	defer r.store.locker.Unlock()

	r.store.openTrades[trade.ID] = *trade
	return nil
}

func (r tradeRepositoryImpl) GetOpenTrade(_ context.Context, tradeID string) (*domain.Trade, error) {
	r.store.locker.Lock()
	defer r.store.locker.Unlock()

	return r.getOpenTrade(tradeID)
}

func (r tradeRepositoryImpl) GetAllOpenTrades(_ context.Context) ([]*domain.Trade, error) {
	r.store.locker.Lock()
	defer r.store.locker.Unlock()

	return tradesFromStore(r.store.openTrades), nil
}

func (r tradeRepositoryImpl) UpdateTrade(
	_ context.Context, tradeID string,
	updateFn func(t *domain.Trade) (*domain.Trade, error),
) error {
	r.store.locker.Lock()
	defer r.store.locker.Unlock()

	currentTrade, err := r.getOpenTrade(tradeID)
	if err != nil {
		return err
	}
	updatedTrade, err := updateFn(currentTrade)
	if err != nil {
		return err
	}
	r.store.openTrades[tradeID] = *updatedTrade
	return nil
}

func (r tradeRepositoryImpl) ArchiveTrade(_ context.Context, tradeID string, failed bool) error {
	r.store.locker.Lock()
	defer r.store.locker.Unlock()

	trade, err := r.getOpenTrade(tradeID)
	if err != nil {
		return err
	}
	if failed {
		r.store.failedTrades[tradeID] = *trade
	} else {
		r.store.closedTrades[tradeID] = *trade
	}
	delete(r.store.openTrades, tradeID)
	return nil
}

func (r tradeRepositoryImpl) UnfailTrade(_ context.Context, tradeID string) error {
	r.store.locker.Lock()
	defer r.store.locker.Unlock()

	trade, ok := r.store.failedTrades[tradeID]
	if !ok {
		return domain.ErrTradeNotFound
	}
	r.store.openTrades[tradeID] = trade
	delete(r.store.failedTrades, tradeID)
	return nil
}

func (r tradeRepositoryImpl) GetClosedTrades(_ context.Context) ([]*domain.Trade, error) {
	r.store.locker.Lock()
	defer r.store.locker.Unlock()

	return tradesFromStore(r.store.closedTrades), nil
}

func (r tradeRepositoryImpl) GetFailedTrades(_ context.Context) ([]*domain.Trade, error) {
	r.store.locker.Lock()
	defer r.store.locker.Unlock()

	return tradesFromStore(r.store.failedTrades), nil
}

func (r tradeRepositoryImpl) getOpenTrade(tradeID string) (*domain.Trade, error) {
	t, ok := r.store.openTrades[tradeID]
	if !ok {
		return nil, domain.ErrTradeNotFound
	}
	return &t, nil
}

func tradesFromStore(store map[string]domain.Trade) []*domain.Trade {
	trades := make([]*domain.Trade, 0, len(store))
	for _, t := range store {
		trade := t
		trades = append(trades, &trade)
	}
	return trades
}
