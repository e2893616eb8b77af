package dbbadger

import (
	"context"

	"github.com/dgraph-io/badger/v3"
	"github.com/timshannon/badgerhold/v4"

	"github.com/escrow-network/escrow-daemon/internal/core/domain"
)

const (
	bucketOpen   = "open"
	bucketClosed = "closed"
	bucketFailed = "failed"
)

// tradeRecord wraps a trade with the collection it currently belongs to.
// Archiving and un-failing move the record across buckets without changing
// its key, so a trade id resolves to exactly one record at any time.
type tradeRecord struct {
	ID     string
	Bucket string
	Trade  domain.Trade
}

type tradeRepositoryImpl struct {
	store *badgerhold.Store
}

// NewTradeRepositoryImpl returns a badger-backed TradeRepository implementation.
func NewTradeRepositoryImpl(store *badgerhold.Store) domain.TradeRepository {
	return tradeRepositoryImpl{store}
}

func (r tradeRepositoryImpl) AddTrade(_ context.Context, trade *domain.Trade) error {
	return r.store.Upsert(trade.ID, tradeRecord{
		ID:     trade.ID,
		Bucket: bucketOpen,
		Trade:  *trade,
	})
}

func (r tradeRepositoryImpl) GetOpenTrade(_ context.Context, tradeID string) (*domain.Trade, error) {
	var rec tradeRecord
	if err := r.store.Get(tradeID, &rec); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, domain.ErrTradeNotFound
		}
		return nil, err
	}
	if rec.Bucket != bucketOpen {
		return nil, domain.ErrTradeNotFound
	}
	return &rec.Trade, nil
}

func (r tradeRepositoryImpl) GetAllOpenTrades(ctx context.Context) ([]*domain.Trade, error) {
	return r.findTrades(bucketOpen)
}

func (r tradeRepositoryImpl) UpdateTrade(
	_ context.Context, tradeID string,
	updateFn func(t *domain.Trade) (*domain.Trade, error),
) error {
	return r.store.Badger().Update(func(txn *badger.Txn) error {
		var rec tradeRecord
		if err := r.store.TxGet(txn, tradeID, &rec); err != nil {
			if err == badgerhold.ErrNotFound {
				return domain.ErrTradeNotFound
			}
			return err
		}
		if rec.Bucket != bucketOpen {
			return domain.ErrTradeNotFound
		}
		updatedTrade, err := updateFn(&rec.Trade)
		if err != nil {
			return err
		}
		rec.Trade = *updatedTrade
		return r.store.TxUpsert(txn, tradeID, rec)
	})
}

func (r tradeRepositoryImpl) ArchiveTrade(_ context.Context, tradeID string, failed bool) error {
	bucket := bucketClosed
	if failed {
		bucket = bucketFailed
	}
	return r.moveTrade(tradeID, bucketOpen, bucket)
}

func (r tradeRepositoryImpl) UnfailTrade(_ context.Context, tradeID string) error {
	return r.moveTrade(tradeID, bucketFailed, bucketOpen)
}

func (r tradeRepositoryImpl) GetClosedTrades(_ context.Context) ([]*domain.Trade, error) {
	return r.findTrades(bucketClosed)
}

func (r tradeRepositoryImpl) GetFailedTrades(_ context.Context) ([]*domain.Trade, error) {
	return r.findTrades(bucketFailed)
}

func (r tradeRepositoryImpl) moveTrade(tradeID, from, to string) error {
	return r.store.Badger().Update(func(txn *badger.Txn) error {
		var rec tradeRecord
		if err := r.store.TxGet(txn, tradeID, &rec); err != nil {
			if err == badgerhold.ErrNotFound {
				return domain.ErrTradeNotFound
			}
			return err
		}
		if rec.Bucket != from {
			return domain.ErrTradeNotFound
		}
		rec.Bucket = to
		return r.store.TxUpsert(txn, tradeID, rec)
	})
}

func (r tradeRepositoryImpl) findTrades(bucket string) ([]*domain.Trade, error) {
	var recs []tradeRecord
	query := badgerhold.Where("Bucket").Eq(bucket)
	if err := r.store.Find(&recs, query); err != nil {
		return nil, err
	}
	trades := make([]*domain.Trade, 0, len(recs))
	for i := range recs {
		trades = append(trades, &recs[i].Trade)
	}
	return trades, nil
}
