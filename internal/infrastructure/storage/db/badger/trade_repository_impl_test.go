package dbbadger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/escrow-network/escrow-daemon/internal/core/domain"
	"github.com/escrow-network/escrow-daemon/internal/core/ports"
)

func newTestRepoManager(t *testing.T) ports.RepoManager {
	t.Helper()
	repo, err := NewRepoManager(t.TempDir(), nil)
	require.NoError(t, err)
	t.Cleanup(repo.Close)
	return repo
}

func newTestTrade(id string) *domain.Trade {
	payload := domain.OfferPayload{
		ID:                 id,
		Direction:          domain.OfferDirectionSell,
		BaseCurrency:       "XMR",
		CounterCurrency:    "EUR",
		PaymentMethodID:    "SEPA",
		Price:              "150.25",
		Amount:             200000000,
		MinAmount:          50000000,
		SecurityDepositPct: 0.15,
		MakerAddress:       "maker.onion:9999",
		MakerPubKey:        []byte{0x02, 0x01},
		ArbitratorAddress:  "arb.onion:9999",
	}
	return domain.NewTrade(
		payload, domain.TradeRoleTaker, 100000000, payload.Price,
		300000, 15000000, payload.MakerAddress, payload.MakerPubKey,
	)
}

func TestTradeRepositoryRoundTrip(t *testing.T) {
	repo := newTestRepoManager(t)
	ctx := context.Background()

	trade := newTestTrade("trade-1")
	trade.ProcessedUIDs["uid-1"] = true
	require.NoError(t, repo.TradeRepository().AddTrade(ctx, trade))

	got, err := repo.TradeRepository().GetOpenTrade(ctx, trade.ID)
	require.NoError(t, err)
	require.Equal(t, trade.ID, got.ID)
	require.Equal(t, trade.OfferPayload, got.OfferPayload)
	require.Equal(t, domain.TradeStateInit, got.State)
	require.True(t, got.ProcessedUIDs["uid-1"])

	_, err = repo.TradeRepository().GetOpenTrade(ctx, "missing")
	require.ErrorIs(t, err, domain.ErrTradeNotFound)
}

func TestTradeRepositoryUpdateIsAtomic(t *testing.T) {
	repo := newTestRepoManager(t)
	ctx := context.Background()

	trade := newTestTrade("trade-2")
	require.NoError(t, repo.TradeRepository().AddTrade(ctx, trade))

	err := repo.TradeRepository().UpdateTrade(ctx, trade.ID,
		func(tr *domain.Trade) (*domain.Trade, error) {
			if _, err := tr.MarkDepositPublished("txid-1"); err != nil {
				return nil, err
			}
			return tr, nil
		})
	require.NoError(t, err)

	// A failing updateFn must leave the stored trade untouched.
	err = repo.TradeRepository().UpdateTrade(ctx, trade.ID,
		func(tr *domain.Trade) (*domain.Trade, error) {
			tr.DepositTxID = "clobbered"
			return nil, domain.ErrTradeTerminal
		})
	require.ErrorIs(t, err, domain.ErrTradeTerminal)

	got, err := repo.TradeRepository().GetOpenTrade(ctx, trade.ID)
	require.NoError(t, err)
	require.Equal(t, "txid-1", got.DepositTxID)
	require.Equal(t, domain.TradeStateDepositPublished, got.State)
}

func TestTradeRepositoryBuckets(t *testing.T) {
	repo := newTestRepoManager(t)
	ctx := context.Background()

	trade := newTestTrade("trade-3")
	require.NoError(t, repo.TradeRepository().AddTrade(ctx, trade))

	require.NoError(t, repo.TradeRepository().ArchiveTrade(ctx, trade.ID, true))
	_, err := repo.TradeRepository().GetOpenTrade(ctx, trade.ID)
	require.ErrorIs(t, err, domain.ErrTradeNotFound)

	failed, err := repo.TradeRepository().GetFailedTrades(ctx)
	require.NoError(t, err)
	require.Len(t, failed, 1)

	require.NoError(t, repo.TradeRepository().UnfailTrade(ctx, trade.ID))
	got, err := repo.TradeRepository().GetOpenTrade(ctx, trade.ID)
	require.NoError(t, err)
	require.Equal(t, trade.ID, got.ID)

	// Un-failing twice must not resurrect anything.
	require.ErrorIs(t, repo.TradeRepository().UnfailTrade(ctx, trade.ID), domain.ErrTradeNotFound)

	require.NoError(t, repo.TradeRepository().ArchiveTrade(ctx, trade.ID, false))
	closed, err := repo.TradeRepository().GetClosedTrades(ctx)
	require.NoError(t, err)
	require.Len(t, closed, 1)
}

func TestOfferRepositoryRoundTrip(t *testing.T) {
	repo := newTestRepoManager(t)
	ctx := context.Background()

	offer := domain.NewOffer(newTestTrade("offer-1").OfferPayload)
	require.NoError(t, offer.SetState(domain.OfferStateAvailable))
	require.NoError(t, repo.OfferRepository().AddOffer(ctx, offer))

	err := repo.OfferRepository().UpdateOffer(ctx, offer.ID(),
		func(o *domain.Offer) (*domain.Offer, error) {
			if err := o.SetState(domain.OfferStateNotAvailable); err != nil {
				return nil, err
			}
			o.ReservedForTaker = "taker.onion:9999"
			return o, nil
		})
	require.NoError(t, err)

	got, err := repo.OfferRepository().GetOffer(ctx, offer.ID())
	require.NoError(t, err)
	require.Equal(t, domain.OfferStateNotAvailable, got.State)
	require.Equal(t, "taker.onion:9999", got.ReservedForTaker)

	all, err := repo.OfferRepository().GetAllOffers(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)

	require.NoError(t, repo.OfferRepository().RemoveOffer(ctx, offer.ID()))
	_, err = repo.OfferRepository().GetOffer(ctx, offer.ID())
	require.ErrorIs(t, err, domain.ErrOfferNotFound)
}

func TestAddressRepository(t *testing.T) {
	repo := newTestRepoManager(t)
	ctx := context.Background()

	list, err := repo.AddressRepository().GetAddressEntries(ctx)
	require.NoError(t, err)
	require.Empty(t, list.Entries)

	err = repo.AddressRepository().UpdateAddressEntries(ctx,
		func(l *domain.XmrAddressEntryList) (*domain.XmrAddressEntryList, error) {
			l.Add(domain.XmrAddressEntry{
				OfferID:         "offer-1",
				Context:         domain.AddressContextOfferFunding,
				Address:         "addr-1",
				ReservedBalance: 42,
			})
			return l, nil
		})
	require.NoError(t, err)

	list, err = repo.AddressRepository().GetAddressEntries(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(42), list.ReservedBalance("offer-1"))
}
