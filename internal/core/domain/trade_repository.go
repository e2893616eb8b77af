package domain

import "context"

// TradeRepository is the abstraction for any kind of database intended to
// persist trades. Open, closed and failed trades live in separate
// collections; terminal trades are moved out of the open collection and
// never deleted while funds may still be locked.
type TradeRepository interface {
	// AddTrade stores a new open trade.
	AddTrade(ctx context.Context, trade *Trade) error
	// GetOpenTrade returns the open trade with the given id, or
	// ErrTradeNotFound.
	GetOpenTrade(ctx context.Context, tradeID string) (*Trade, error)
	// GetAllOpenTrades ...
	GetAllOpenTrades(ctx context.Context) ([]*Trade, error)
	// UpdateTrade commits multiple changes to the same open trade
	// atomically.
	UpdateTrade(
		ctx context.Context, tradeID string,
		updateFn func(t *Trade) (*Trade, error),
	) error
	// ArchiveTrade moves an open trade into closed or failed storage.
	ArchiveTrade(ctx context.Context, tradeID string, failed bool) error
	// UnfailTrade moves a trade from failed storage back to the open
	// collection. It is an explicit recovery operation.
	UnfailTrade(ctx context.Context, tradeID string) error
	// GetClosedTrades ...
	GetClosedTrades(ctx context.Context) ([]*Trade, error)
	// GetFailedTrades ...
	GetFailedTrades(ctx context.Context) ([]*Trade, error)
}
