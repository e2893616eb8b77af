package dbbadger

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/dgraph-io/badger/v3"
	"github.com/timshannon/badgerhold/v4"

	"github.com/escrow-network/escrow-daemon/internal/core/domain"
	"github.com/escrow-network/escrow-daemon/internal/core/ports"
)

// repoManager holds all the badgerhold stores in a single data structure.
type repoManager struct {
	offerStore   *badgerhold.Store
	tradeStore   *badgerhold.Store
	addressStore *badgerhold.Store

	offerRepository   domain.OfferRepository
	tradeRepository   domain.TradeRepository
	addressRepository domain.AddressRepository
}

// NewRepoManager opens (or creates if not exists) the badger stores on disk.
// It expects a base data dir and an optional logger. Offers, trades and
// address entries each get a dedicated directory.
func NewRepoManager(baseDbDir string, logger badger.Logger) (ports.RepoManager, error) {
	offerDb, err := createDb(baseDbDir+"/offers", logger)
	if err != nil {
		return nil, fmt.Errorf("opening offers db: %w", err)
	}

	tradeDb, err := createDb(baseDbDir+"/trades", logger)
	if err != nil {
		return nil, fmt.Errorf("opening trades db: %w", err)
	}

	addressDb, err := createDb(baseDbDir+"/addresses", logger)
	if err != nil {
		return nil, fmt.Errorf("opening addresses db: %w", err)
	}

	return &repoManager{
		offerStore:        offerDb,
		tradeStore:        tradeDb,
		addressStore:      addressDb,
		offerRepository:   NewOfferRepositoryImpl(offerDb),
		tradeRepository:   NewTradeRepositoryImpl(tradeDb),
		addressRepository: NewAddressRepositoryImpl(addressDb),
	}, nil
}

func (d *repoManager) OfferRepository() domain.OfferRepository {
	return d.offerRepository
}

func (d *repoManager) TradeRepository() domain.TradeRepository {
	return d.tradeRepository
}

func (d *repoManager) AddressRepository() domain.AddressRepository {
	return d.addressRepository
}

func (d *repoManager) Close() {
	d.offerStore.Close()
	d.tradeStore.Close()
	d.addressStore.Close()
}

// JSONEncode is a custom JSON based encoder for badger
func JSONEncode(value interface{}) ([]byte, error) {
	var buff bytes.Buffer

	en := json.NewEncoder(&buff)

	err := en.Encode(value)
	if err != nil {
		return nil, err
	}

	return buff.Bytes(), nil
}

// JSONDecode is a custom JSON based decoder for badger
func JSONDecode(data []byte, value interface{}) error {
	var buff bytes.Buffer
	de := json.NewDecoder(&buff)

	_, err := buff.Write(data)
	if err != nil {
		return err
	}

	return de.Decode(value)
}

func createDb(dbDir string, logger badger.Logger) (db *badgerhold.Store, err error) {
	opts := badger.DefaultOptions(dbDir)
	opts.Logger = logger

	db, err = badgerhold.Open(badgerhold.Options{
		Encoder:          JSONEncode,
		Decoder:          JSONDecode,
		SequenceBandwith: 100,
		Options:          opts,
	})

	return
}
