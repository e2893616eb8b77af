package main

import (
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/escrow-network/escrow-daemon/config"
	"github.com/escrow-network/escrow-daemon/internal/core/application"
	"github.com/escrow-network/escrow-daemon/internal/core/domain"
)

var previewtake = cli.Command{
	Name:  "previewtake",
	Usage: "preview the economics of taking an offer without contacting the maker",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "direction",
			Usage: "offer direction, BUY or SELL",
			Value: "SELL",
		},
		&cli.Uint64Flag{
			Name:     "amount",
			Usage:    "requested trade amount in atomic units",
			Required: true,
		},
		&cli.Uint64Flag{
			Name:     "offer_amount",
			Usage:    "offer's maximum amount in atomic units",
			Required: true,
		},
		&cli.Uint64Flag{
			Name:  "min_amount",
			Usage: "offer's minimum amount in atomic units",
		},
		&cli.Uint64Flag{
			Name:  "max_trade_limit",
			Usage: "payment account per-trade cap, 0 for none",
		},
		&cli.Float64Flag{
			Name:  "security_deposit_pct",
			Usage: "offer's security deposit rate",
			Value: 0.15,
		},
		&cli.Float64Flag{
			Name:  "taker_fee_pct",
			Usage: "taker fee rate",
			Value: config.GetFloat(config.TakerFeeKey),
		},
	},
	Action: previewTakeAction,
}

func previewTakeAction(ctx *cli.Context) error {
	direction := domain.OfferDirectionBuy
	if strings.EqualFold(ctx.String("direction"), "SELL") {
		direction = domain.OfferDirectionSell
	}

	offer := &domain.Offer{
		Payload: domain.OfferPayload{
			Direction:          direction,
			Amount:             ctx.Uint64("offer_amount"),
			MinAmount:          ctx.Uint64("min_amount"),
			SecurityDepositPct: ctx.Float64("security_deposit_pct"),
		},
	}

	model := &application.TakeOfferModel{
		Offer:         offer,
		MaxTradeLimit: ctx.Uint64("max_trade_limit"),
		Amount:        ctx.Uint64("amount"),
	}
	model.Recalculate(ctx.Float64("taker_fee_pct"))

	printJSON(map[string]interface{}{
		"direction":        direction.String(),
		"adjusted_amount":  model.Amount,
		"security_deposit": model.SecurityDeposit,
		"taker_fee":        model.TakerFee,
		"escrow_funds":     model.FundsNeededForTrade(),
		"total_to_reserve": model.TotalToReserve(),
	})
	return nil
}
