package main

import (
	"context"
	"encoding/hex"
	"io/ioutil"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/escrow-network/escrow-daemon/config"
	"github.com/escrow-network/escrow-daemon/internal/core/application"
	"github.com/escrow-network/escrow-daemon/internal/core/ports"
	"github.com/escrow-network/escrow-daemon/internal/infrastructure/pubsub"
	dbbadger "github.com/escrow-network/escrow-daemon/internal/infrastructure/storage/db/badger"
	"github.com/escrow-network/escrow-daemon/internal/infrastructure/storage/db/inmemory"
	transportinproc "github.com/escrow-network/escrow-daemon/internal/infrastructure/transport/inproc"
	"github.com/escrow-network/escrow-daemon/internal/infrastructure/transport/ws"
	walletinproc "github.com/escrow-network/escrow-daemon/internal/infrastructure/wallet/inproc"
	"github.com/escrow-network/escrow-daemon/pkg/wire"
)

func main() {
	log.SetLevel(log.Level(config.GetInt(config.LogLevelKey)))

	keyRing, err := loadOrCreateKeyRing()
	if err != nil {
		log.WithError(err).Panic("error while loading signing key")
	}

	nodeAddress := config.GetString(config.NodeAddressKey)
	if nodeAddress == "" {
		nodeAddress = hex.EncodeToString(keyRing.PubKey())[:16]
	}

	var repo ports.RepoManager
	if config.GetBool(config.NoBadgerKey) {
		repo = inmemory.NewRepoManager()
	} else {
		dbDir := filepath.Join(config.GetDatadir(), config.DbLocation)
		repo, err = dbbadger.NewRepoManager(dbDir, log.New())
		if err != nil {
			log.WithError(err).Panic("error while opening db")
		}
	}
	defer repo.Close()

	var transport ports.MessageTransport
	if relayURL := config.GetString(config.RelayURLKey); relayURL != "" {
		transport, err = ws.NewTransport(ws.Config{
			RelayURL: relayURL,
			Address:  nodeAddress,
		})
		if err != nil {
			log.WithError(err).Panic("error while setting up relay transport")
		}
	} else {
		// Without a relay the node runs standalone, mostly useful for
		// local inspection and demos.
		transport = transportinproc.NewBus().NewService(nodeAddress)
	}

	wallet := walletinproc.NewWalletService(config.GetUint64(config.WalletBalanceKey))
	broker := pubsub.NewService()
	defer broker.Close()

	engine, err := application.NewEngine(application.Options{
		Repo:             repo,
		Wallet:           wallet,
		Transport:        transport,
		PubSub:           broker,
		KeyRing:          keyRing,
		ArbitratorMode:   config.GetBool(config.ArbitratorModeKey),
		SignOfferTimeout: config.GetDuration(config.SignOfferTimeoutKey),
		TradeStepTimeout: config.GetDuration(config.TradeStepTimeoutKey),
		TakerFeePct:      config.GetFloat(config.TakerFeeKey),
	})
	if err != nil {
		log.WithError(err).Panic("error while setting up engine")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return engine.Start(gctx)
	})
	g.Go(func() error {
		logEvents(gctx, broker)
		return nil
	})

	log.WithField("address", nodeAddress).
		WithField("arbitrator", config.GetBool(config.ArbitratorModeKey)).
		Info("daemon started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	<-sigChan

	cancel()
	transport.Close()
	if err := g.Wait(); err != nil {
		log.WithError(err).Warn("shutdown error")
	}
	log.Info("exiting")
}

// logEvents mirrors every collection event onto the log as the daemon's
// minimal observable surface.
func logEvents(ctx context.Context, broker ports.PubSub) {
	events := broker.Subscribe("")
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			logger := log.WithField("topic", ev.Topic)
			if ev.Offer != nil {
				logger = logger.WithField("offer", ev.Offer.ID()).
					WithField("state", ev.Offer.State.String())
			}
			if ev.Trade != nil {
				logger = logger.WithField("trade", ev.Trade.ID).
					WithField("state", ev.Trade.State.String())
			}
			logger.Info("event")
		case <-ctx.Done():
			return
		}
	}
}

func loadOrCreateKeyRing() (*wire.KeyRing, error) {
	keyPath := filepath.Join(config.GetDatadir(), config.KeyLocation, "node.key")
	if buf, err := ioutil.ReadFile(keyPath); err == nil {
		raw, err := hex.DecodeString(string(buf))
		if err != nil {
			return nil, err
		}
		return wire.KeyRingFromBytes(raw), nil
	}

	kr, err := wire.NewKeyRing()
	if err != nil {
		return nil, err
	}
	encoded := hex.EncodeToString(kr.Serialize())
	if err := ioutil.WriteFile(keyPath, []byte(encoded), 0600); err != nil {
		return nil, err
	}
	return kr, nil
}
