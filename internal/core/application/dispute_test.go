package application_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/escrow-network/escrow-daemon/internal/core/domain"
)

// depositPublishedTrade drives a fresh network through place-offer and
// take-offer, returning the trade with funds locked in escrow on both sides.
func depositPublishedTrade(t *testing.T, net *testNet) *domain.Trade {
	t.Helper()
	offer := placeTestOffer(t, net)
	trade := takeTestOffer(t, net.taker, offer, 50*domain.AmountFactor)

	require.Eventually(t, func() bool {
		mt, err := net.maker.repo.TradeRepository().GetOpenTrade(
			context.Background(), trade.ID,
		)
		return err == nil && mt.State == domain.TradeStateDepositPublished
	}, testTimeout, 10*time.Millisecond)
	return trade
}

func TestOpenDisputeEscalatesToArbitrator(t *testing.T) {
	net := newTestNet(t)
	ctx := context.Background()

	trade := depositPublishedTrade(t, net)
	require.NoError(t, net.taker.engine.OpenDispute(ctx, trade.ID, "seller unresponsive"))

	taken, err := net.taker.engine.GetTrade(ctx, trade.ID)
	require.NoError(t, err)
	require.Equal(t, domain.DisputeStateRequested, taken.DisputeState)

	// The counterparty mirrors the dispute and keeps the reason in the chat.
	require.Eventually(t, func() bool {
		mt, err := net.maker.repo.TradeRepository().GetOpenTrade(ctx, trade.ID)
		return err == nil && mt.DisputeState == domain.DisputeStateRequested
	}, testTimeout, 10*time.Millisecond)

	makerChat, err := net.maker.engine.GetChatMessages(ctx, trade.ID)
	require.NoError(t, err)
	require.NotEmpty(t, makerChat)
	require.Equal(t, "seller unresponsive", makerChat[0].Message)

	// The arbitrator builds its trade record lazily from the escalated
	// contract.
	require.Eventually(t, func() bool {
		at, err := net.arbitrator.repo.TradeRepository().GetOpenTrade(ctx, trade.ID)
		return err == nil && at.DisputeState == domain.DisputeStateRequested
	}, testTimeout, 10*time.Millisecond)

	arbTrade, err := net.arbitrator.engine.GetTrade(ctx, trade.ID)
	require.NoError(t, err)
	require.Equal(t, domain.TradeRoleArbitrator, arbTrade.Role)
	require.NotNil(t, arbTrade.Contract)
	require.Equal(t, trade.Contract.TradeID, arbTrade.Contract.TradeID)
	require.Equal(t, trade.Contract.TakerPayoutAddress, arbTrade.Contract.TakerPayoutAddress)
}

func TestOpenDisputeRequiresContract(t *testing.T) {
	net := newTestNet(t)
	ctx := context.Background()

	payload := testOfferPayload(net.arbitrator.engine.Address())
	payload.ID = "no-contract-trade"
	payload.MakerAddress = net.maker.engine.Address()
	payload.MakerPubKey = net.maker.engine.PubKey()
	trade := domain.NewTrade(
		payload, domain.TradeRoleTaker, 50*domain.AmountFactor, payload.Price,
		1500000, 75*domain.AmountFactor/10,
		payload.MakerAddress, payload.MakerPubKey,
	)
	require.NoError(t, net.taker.repo.TradeRepository().AddTrade(ctx, trade))

	require.Error(t, net.taker.engine.OpenDispute(ctx, trade.ID, "reason"))
}

func TestChatMessageReachesCounterparty(t *testing.T) {
	net := newTestNet(t)
	ctx := context.Background()

	trade := depositPublishedTrade(t, net)
	require.NoError(t, net.taker.engine.SendChatMessage(ctx, trade.ID, "payment on its way"))

	require.Eventually(t, func() bool {
		chat, err := net.maker.engine.GetChatMessages(ctx, trade.ID)
		if err != nil {
			return false
		}
		for _, m := range chat {
			if m.Message == "payment on its way" {
				return true
			}
		}
		return false
	}, testTimeout, 10*time.Millisecond)

	// The sender keeps its own copy too.
	chat, err := net.taker.engine.GetChatMessages(ctx, trade.ID)
	require.NoError(t, err)
	require.Len(t, chat, 1)
	require.Equal(t, net.taker.engine.Address(), chat[0].SenderAddress)
}

func TestRequestMediationIsLocalOnly(t *testing.T) {
	net := newTestNet(t)
	ctx := context.Background()

	trade := depositPublishedTrade(t, net)
	require.NoError(t, net.taker.engine.RequestMediation(ctx, trade.ID))

	taken, err := net.taker.engine.GetTrade(ctx, trade.ID)
	require.NoError(t, err)
	require.Equal(t, domain.DisputeStateMediationRequested, taken.DisputeState)
	require.NotEmpty(t, taken.ChatMessages)

	// Escalation after mediation is a forward move on the dispute axis.
	require.NoError(t, net.taker.engine.OpenDispute(ctx, trade.ID, ""))
	taken, err = net.taker.engine.GetTrade(ctx, trade.ID)
	require.NoError(t, err)
	require.Equal(t, domain.DisputeStateRequested, taken.DisputeState)

	// Regressing back to mediation is rejected.
	require.ErrorIs(t,
		net.taker.engine.RequestMediation(ctx, trade.ID),
		domain.ErrDisputeStateRegression,
	)
}

func TestCloseDisputeKeepsLockedTradeOpen(t *testing.T) {
	net := newTestNet(t)
	ctx := context.Background()

	trade := depositPublishedTrade(t, net)
	require.NoError(t, net.taker.engine.OpenDispute(ctx, trade.ID, "dispute"))
	require.NoError(t, net.taker.engine.CloseDispute(ctx, trade.ID, "resolved in favor of buyer"))

	// Funds are still escrowed, so the record stays in the open collection
	// until the dispute payout lands.
	taken, err := net.taker.engine.GetTrade(ctx, trade.ID)
	require.NoError(t, err)
	require.Equal(t, domain.DisputeStateClosed, taken.DisputeState)
	require.True(t, taken.FundsLockedIn())
}
