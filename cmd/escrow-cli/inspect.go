package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/urfave/cli/v2"

	"github.com/escrow-network/escrow-daemon/config"
	"github.com/escrow-network/escrow-daemon/internal/core/domain"
	"github.com/escrow-network/escrow-daemon/internal/core/ports"
	dbbadger "github.com/escrow-network/escrow-daemon/internal/infrastructure/storage/db/badger"
)

var listoffers = cli.Command{
	Name:  "listoffers",
	Usage: "list the offers persisted in the local store",
	Flags: []cli.Flag{
		&datadirFlag,
	},
	Action: listOffersAction,
}

var listtrades = cli.Command{
	Name:  "listtrades",
	Usage: "list the trades persisted in the local store",
	Flags: []cli.Flag{
		&datadirFlag,
		&cli.StringFlag{
			Name:  "status",
			Usage: "open, closed or failed",
			Value: "open",
		},
	},
	Action: listTradesAction,
}

var listaddresses = cli.Command{
	Name:  "listaddresses",
	Usage: "list the wallet address entries persisted in the local store",
	Flags: []cli.Flag{
		&datadirFlag,
	},
	Action: listAddressesAction,
}

// openStore opens the daemon's badger database. The daemon must not be
// running, badger holds an exclusive lock on its directory.
func openStore(ctx *cli.Context) (ports.RepoManager, error) {
	dbDir := filepath.Join(ctx.String("datadir"), config.DbLocation)
	return dbbadger.NewRepoManager(dbDir, nil)
}

func listOffersAction(ctx *cli.Context) error {
	repo, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer repo.Close()

	offers, err := repo.OfferRepository().GetAllOffers(context.Background())
	if err != nil {
		return err
	}

	printJSON(offers)
	return nil
}

func listTradesAction(ctx *cli.Context) error {
	repo, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer repo.Close()

	var trades []*domain.Trade
	switch ctx.String("status") {
	case "open":
		trades, err = repo.TradeRepository().GetAllOpenTrades(context.Background())
	case "closed":
		trades, err = repo.TradeRepository().GetClosedTrades(context.Background())
	case "failed":
		trades, err = repo.TradeRepository().GetFailedTrades(context.Background())
	default:
		return fmt.Errorf("unknown trade status %q", ctx.String("status"))
	}
	if err != nil {
		return err
	}

	printJSON(trades)
	return nil
}

func listAddressesAction(ctx *cli.Context) error {
	repo, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer repo.Close()

	entries, err := repo.AddressRepository().GetAddressEntries(context.Background())
	if err != nil {
		return err
	}

	printJSON(entries.Entries)
	return nil
}
