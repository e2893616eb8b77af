package application_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/escrow-network/escrow-daemon/internal/core/application"
	"github.com/escrow-network/escrow-daemon/internal/core/domain"
)

func TestFundsNeededForTradeByDirection(t *testing.T) {
	amount := 50 * domain.AmountFactor

	sellPayload := testOfferPayload("arbitrator")
	sell := &application.TakeOfferModel{
		Offer:  &domain.Offer{Payload: sellPayload},
		Amount: amount,
	}
	sell.Recalculate(0.003)

	buyPayload := sellPayload
	buyPayload.Direction = domain.OfferDirectionBuy
	buy := &application.TakeOfferModel{
		Offer:  &domain.Offer{Payload: buyPayload},
		Amount: amount,
	}
	buy.Recalculate(0.003)

	require.Equal(t, sell.Amount, buy.Amount)
	require.Equal(t, sell.SecurityDeposit, buy.SecurityDeposit)
	require.Equal(t, sell.TakerFee, buy.TakerFee)

	// Taking a SELL offer the taker buys, so only the security deposit is
	// escrowed; taking a BUY offer the taker sells and escrows the amount on
	// top of it.
	require.Equal(t, sell.SecurityDeposit, sell.FundsNeededForTrade())
	require.Equal(t, buy.SecurityDeposit+buy.Amount, buy.FundsNeededForTrade())
	require.Equal(t, buy.FundsNeededForTrade()+buy.TakerFee, buy.TotalToReserve())
}

func TestTakeBuyOfferEndToEnd(t *testing.T) {
	net := newTestNet(t)
	ctx := context.Background()
	amount := 50 * domain.AmountFactor

	payload := testOfferPayload(net.arbitrator.engine.Address())
	payload.Direction = domain.OfferDirectionBuy
	done := make(chan error, 1)
	offer, err := net.maker.engine.PlaceOffer(payload,
		func(*domain.Offer) { done <- nil },
		func(err error) { done <- err },
	)
	require.NoError(t, err)
	require.NoError(t, waitErr(t, done))

	// The buying maker escrows only the deposit and fee, never the amount.
	makerNeeded := application.FundsNeededForOffer(offer.Payload)
	require.Equal(t, offer.Payload.SecurityDeposit(offer.Payload.Amount)+
		offer.Payload.MakerFee, makerNeeded)
	require.Equal(t, testBalance-makerNeeded, balanceOf(t, net.maker))

	trade := takeTestOffer(t, net.taker, offer, amount)
	require.Equal(t, domain.TradeStateDepositPublished, trade.State)

	// The selling taker escrows the amount on top of deposit and fee.
	require.Equal(t,
		testBalance-(trade.SecurityDeposit+trade.Amount+trade.TakerFee),
		balanceOf(t, net.taker),
	)

	require.Eventually(t, func() bool {
		mt, err := net.maker.repo.TradeRepository().GetOpenTrade(ctx, trade.ID)
		return err == nil && mt.State == domain.TradeStateDepositPublished
	}, testTimeout, 10*time.Millisecond)

	// On a BUY offer the maker is the buyer.
	require.Error(t, net.taker.engine.ConfirmPaymentSent(ctx, trade.ID, ""))
	require.NoError(t, net.maker.engine.ConfirmPaymentSent(ctx, trade.ID, "bank ref 7"))

	require.Eventually(t, func() bool {
		tt, err := net.taker.repo.TradeRepository().GetOpenTrade(ctx, trade.ID)
		return err == nil && tt.State == domain.TradeStatePaymentSent
	}, testTimeout, 10*time.Millisecond)

	require.NoError(t, net.taker.engine.ConfirmPaymentReceived(ctx, trade.ID))

	closed, err := net.taker.engine.ListClosedTrades(ctx)
	require.NoError(t, err)
	require.Len(t, closed, 1)
	require.Equal(t, domain.TradeStateCompleted, closed[0].State)

	require.Eventually(t, func() bool {
		closed, err := net.maker.engine.ListClosedTrades(ctx)
		return err == nil && len(closed) == 1 &&
			closed[0].State == domain.TradeStateCompleted
	}, testTimeout, 10*time.Millisecond)
}
