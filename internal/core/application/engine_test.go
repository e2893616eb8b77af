package application_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/escrow-network/escrow-daemon/internal/core/application"
	"github.com/escrow-network/escrow-daemon/internal/core/domain"
	"github.com/escrow-network/escrow-daemon/internal/core/ports"
	"github.com/escrow-network/escrow-daemon/internal/infrastructure/pubsub"
	"github.com/escrow-network/escrow-daemon/internal/infrastructure/storage/db/inmemory"
	transportinproc "github.com/escrow-network/escrow-daemon/internal/infrastructure/transport/inproc"
	walletinproc "github.com/escrow-network/escrow-daemon/internal/infrastructure/wallet/inproc"
	"github.com/escrow-network/escrow-daemon/pkg/wire"
)

const (
	testTimeout = 3 * time.Second
	testBalance = 200 * domain.AmountFactor
)

type testNode struct {
	engine    *application.Engine
	repo      ports.RepoManager
	wallet    ports.WalletService
	transport ports.MessageTransport
}

func newTestNode(
	t *testing.T, bus *transportinproc.Bus, address string,
	arbitrator bool, balance uint64,
) *testNode {
	t.Helper()

	keyRing, err := wire.NewKeyRing()
	require.NoError(t, err)

	repo := inmemory.NewRepoManager()
	wallet := walletinproc.NewWalletService(balance)
	transport := bus.NewService(address)
	broker := pubsub.NewService()

	engine, err := application.NewEngine(application.Options{
		Repo:             repo,
		Wallet:           wallet,
		Transport:        transport,
		PubSub:           broker,
		KeyRing:          keyRing,
		ArbitratorMode:   arbitrator,
		SignOfferTimeout: time.Second,
		TradeStepTimeout: time.Second,
	})
	require.NoError(t, err)
	require.NoError(t, engine.Start(context.Background()))

	t.Cleanup(func() {
		transport.Close()
		broker.Close()
	})
	return &testNode{
		engine:    engine,
		repo:      repo,
		wallet:    wallet,
		transport: transport,
	}
}

type testNet struct {
	bus        *transportinproc.Bus
	arbitrator *testNode
	maker      *testNode
	taker      *testNode
}

func newTestNet(t *testing.T) *testNet {
	t.Helper()
	bus := transportinproc.NewBus()
	return &testNet{
		bus:        bus,
		arbitrator: newTestNode(t, bus, "arbitrator", true, 0),
		maker:      newTestNode(t, bus, "maker", false, testBalance),
		taker:      newTestNode(t, bus, "taker", false, testBalance),
	}
}

func testOfferPayload(arbitratorAddress string) domain.OfferPayload {
	return domain.OfferPayload{
		Direction:          domain.OfferDirectionSell,
		BaseCurrency:       "XMR",
		CounterCurrency:    "EUR",
		PaymentMethodID:    "SEPA",
		Price:              "142.50",
		Amount:             100 * domain.AmountFactor,
		MinAmount:          10 * domain.AmountFactor,
		SecurityDepositPct: 0.15,
		MakerFee:           2000000,
		ArbitratorAddress:  arbitratorAddress,
	}
}

func waitErr(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for protocol callback")
		return nil
	}
}

func placeTestOffer(t *testing.T, net *testNet) *domain.Offer {
	t.Helper()
	done := make(chan error, 1)
	offer, err := net.maker.engine.PlaceOffer(
		testOfferPayload(net.arbitrator.engine.Address()),
		func(*domain.Offer) { done <- nil },
		func(err error) { done <- err },
	)
	require.NoError(t, err)
	require.NoError(t, waitErr(t, done))
	return offer
}

func takeTestOffer(
	t *testing.T, node *testNode, offer *domain.Offer, amount uint64,
) *domain.Trade {
	t.Helper()
	offerCopy := *offer
	model := &application.TakeOfferModel{
		Offer:            &offerCopy,
		PaymentAccountID: "taker-account",
		Amount:           amount,
	}
	done := make(chan error, 1)
	var trade *domain.Trade
	require.NoError(t, node.engine.TakeOffer(model,
		func(tr *domain.Trade) { trade = tr; done <- nil },
		func(err error) { done <- err },
	))
	require.NoError(t, waitErr(t, done))
	require.NotNil(t, trade)
	return trade
}

func balanceOf(t *testing.T, node *testNode) uint64 {
	t.Helper()
	balance, err := node.wallet.Balance(context.Background())
	require.NoError(t, err)
	return balance
}

func TestPlaceOfferPublishesCoSignedOffer(t *testing.T) {
	net := newTestNet(t)

	offer := placeTestOffer(t, net)

	require.Equal(t, domain.OfferStateAvailable, offer.State)
	require.NotEmpty(t, offer.ArbitratorSignature)
	require.NotEmpty(t, offer.ReserveTxID)
	require.True(t, wire.Verify(
		net.arbitrator.engine.PubKey(),
		offer.Payload.Serialize(),
		offer.ArbitratorSignature,
	))

	stored, err := net.maker.repo.OfferRepository().GetOffer(
		context.Background(), offer.ID(),
	)
	require.NoError(t, err)
	require.Equal(t, offer.ID(), stored.ID())

	needed := application.FundsNeededForOffer(offer.Payload)
	require.Equal(t, testBalance-needed, balanceOf(t, net.maker))
}

func TestPlaceOfferRollsBackWhenArbitratorUnreachable(t *testing.T) {
	net := newTestNet(t)

	payload := testOfferPayload("nobody-home")
	done := make(chan error, 1)
	offer, err := net.maker.engine.PlaceOffer(
		payload,
		func(*domain.Offer) { done <- nil },
		func(err error) { done <- err },
	)
	require.NoError(t, err)
	require.Error(t, waitErr(t, done))

	_, err = net.maker.repo.OfferRepository().GetOffer(
		context.Background(), offer.ID(),
	)
	require.ErrorIs(t, err, domain.ErrOfferNotFound)
	require.Equal(t, uint64(testBalance), balanceOf(t, net.maker))
}

func TestRemoveOfferReleasesReservation(t *testing.T) {
	net := newTestNet(t)
	ctx := context.Background()

	offer := placeTestOffer(t, net)
	require.NoError(t, net.maker.engine.RemoveOffer(ctx, offer.ID()))

	_, err := net.maker.repo.OfferRepository().GetOffer(ctx, offer.ID())
	require.ErrorIs(t, err, domain.ErrOfferNotFound)
	require.Equal(t, uint64(testBalance), balanceOf(t, net.maker))
}

func TestTakeOfferEndToEnd(t *testing.T) {
	net := newTestNet(t)
	ctx := context.Background()
	amount := 50 * domain.AmountFactor

	offer := placeTestOffer(t, net)
	trade := takeTestOffer(t, net.taker, offer, amount)

	require.Equal(t, offer.ID(), trade.ID)
	require.Equal(t, domain.TradeRoleTaker, trade.Role)
	require.Equal(t, domain.TradeStateDepositPublished, trade.State)
	require.Equal(t, amount, trade.Amount)
	require.NotEmpty(t, trade.DepositTxID)
	require.NotNil(t, trade.Contract)

	// The maker publishes its own trade record and unpublishes the offer
	// once the deposit broadcast is announced.
	require.Eventually(t, func() bool {
		mt, err := net.maker.repo.TradeRepository().GetOpenTrade(ctx, trade.ID)
		if err != nil {
			return false
		}
		return mt.State == domain.TradeStateDepositPublished
	}, testTimeout, 10*time.Millisecond)

	makerTrade, err := net.maker.repo.TradeRepository().GetOpenTrade(ctx, trade.ID)
	require.NoError(t, err)
	require.Equal(t, domain.TradeRoleMaker, makerTrade.Role)
	require.Equal(t, trade.DepositTxID, makerTrade.DepositTxID)

	require.Eventually(t, func() bool {
		_, err := net.maker.repo.OfferRepository().GetOffer(ctx, offer.ID())
		return errors.Is(err, domain.ErrOfferNotFound)
	}, testTimeout, 10*time.Millisecond)

	// Taker of a SELL offer is the buyer.
	require.NoError(t, net.taker.engine.ConfirmPaymentSent(ctx, trade.ID, "wire ref 42"))

	require.Eventually(t, func() bool {
		mt, err := net.maker.repo.TradeRepository().GetOpenTrade(ctx, trade.ID)
		if err != nil {
			return false
		}
		return mt.State == domain.TradeStatePaymentSent
	}, testTimeout, 10*time.Millisecond)

	require.NoError(t, net.maker.engine.ConfirmPaymentReceived(ctx, trade.ID))

	_, err = net.maker.repo.TradeRepository().GetOpenTrade(ctx, trade.ID)
	require.ErrorIs(t, err, domain.ErrTradeNotFound)
	closed, err := net.maker.engine.ListClosedTrades(ctx)
	require.NoError(t, err)
	require.Len(t, closed, 1)
	require.Equal(t, domain.TradeStateCompleted, closed[0].State)

	require.Eventually(t, func() bool {
		closed, err := net.taker.engine.ListClosedTrades(ctx)
		return err == nil && len(closed) == 1 &&
			closed[0].State == domain.TradeStateCompleted
	}, testTimeout, 10*time.Millisecond)
}

func TestTakeOfferFailsFastOnInsufficientFunds(t *testing.T) {
	net := newTestNet(t)
	broke := newTestNode(t, net.bus, "broke-taker", false, 1000)

	offer := placeTestOffer(t, net)

	offerCopy := *offer
	model := &application.TakeOfferModel{
		Offer:            &offerCopy,
		PaymentAccountID: "broke-account",
		Amount:           50 * domain.AmountFactor,
	}
	done := make(chan error, 1)
	require.NoError(t, broke.engine.TakeOffer(model,
		func(*domain.Trade) { done <- nil },
		func(err error) { done <- err },
	))
	require.ErrorIs(t, waitErr(t, done), application.ErrWalletNotFunded)

	// Nothing was reserved and the maker never saw a request.
	require.Equal(t, uint64(1000), balanceOf(t, broke))
	stored, err := net.maker.repo.OfferRepository().GetOffer(
		context.Background(), offer.ID(),
	)
	require.NoError(t, err)
	require.Equal(t, domain.OfferStateAvailable, stored.State)
}

func TestTakeOfferMarksOfferMakerOffline(t *testing.T) {
	net := newTestNet(t)

	payload := testOfferPayload(net.arbitrator.engine.Address())
	payload.MakerAddress = "ghost-maker"
	payload.MakerPubKey = net.maker.engine.PubKey()
	offer := domain.NewOffer(payload)
	require.NoError(t, offer.SetState(domain.OfferStateAvailable))

	model := &application.TakeOfferModel{
		Offer:            offer,
		PaymentAccountID: "taker-account",
		Amount:           50 * domain.AmountFactor,
	}
	done := make(chan error, 1)
	require.NoError(t, net.taker.engine.TakeOffer(model,
		func(*domain.Trade) { done <- nil },
		func(err error) { done <- err },
	))
	require.ErrorIs(t, waitErr(t, done), application.ErrMakerOffline)
	require.Equal(t, domain.OfferStateMakerOffline, offer.State)
	require.Equal(t, uint64(testBalance), balanceOf(t, net.taker))
}

func TestAvailabilitySecondTakerIsRejected(t *testing.T) {
	net := newTestNet(t)
	rival := newTestNode(t, net.bus, "rival-taker", false, testBalance)

	offer := placeTestOffer(t, net)

	check := func(node *testNode) error {
		offerCopy := *offer
		model := application.NewOfferAvailabilityModel(
			&offerCopy, "account", 50*domain.AmountFactor,
		)
		done := make(chan error, 1)
		require.NoError(t, node.engine.CheckOfferAvailability(model,
			func() { done <- nil },
			func(err error) { done <- err },
		))
		return waitErr(t, done)
	}

	require.NoError(t, check(net.taker))
	require.ErrorIs(t, check(rival), application.ErrOfferNotAvailable)

	// A re-delivered request from the reservation holder is granted again.
	require.NoError(t, check(net.taker))
}
