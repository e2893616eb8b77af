package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/btcsuite/btcd/btcutil"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

const (
	// DatadirKey is the local data directory to store the internal state of the daemon
	DatadirKey = "DATA_DIR_PATH"
	// LogLevelKey are the different logging levels. For reference on the values https://godoc.org/github.com/sirupsen/logrus#Level
	LogLevelKey = "LOG_LEVEL"
	// NodeAddressKey is the address this node announces to peers
	NodeAddressKey = "NODE_ADDRESS"
	// RelayURLKey is the ws:// or wss:// endpoint of the message relay. Empty selects the in-process transport
	RelayURLKey = "RELAY_URL"
	// ArbitratorModeKey enables the arbitrator-side message handlers
	ArbitratorModeKey = "ARBITRATOR_MODE"
	// TakerFeeKey is the taker fee rate applied to the trade amount
	TakerFeeKey = "TAKER_FEE"
	// SignOfferTimeoutKey is the duration to wait for the arbitrator offer co-signature
	SignOfferTimeoutKey = "SIGN_OFFER_TIMEOUT"
	// TradeStepTimeoutKey is the duration each suspended protocol step waits for a peer reply
	TradeStepTimeoutKey = "TRADE_STEP_TIMEOUT"
	// WalletBalanceKey is the opening balance (in atomic units) of the simulated wallet
	WalletBalanceKey = "WALLET_BALANCE"
	// NoBadgerKey keeps the whole state in memory instead of the badger store
	NoBadgerKey = "NO_BADGER"

	DbLocation  = "db"
	KeyLocation = "key"

	// MinTakerFeePct and MaxTakerFeePct bound the configurable taker fee rate.
	MinTakerFeePct = 0.0001
	MaxTakerFeePct = 0.05
)

var vip *viper.Viper
var defaultDatadir = btcutil.AppDataDir("escrow-daemon", false)

func init() {
	vip = viper.New()
	vip.SetEnvPrefix("ESCROWD")
	vip.AutomaticEnv()

	vip.SetDefault(DatadirKey, defaultDatadir)
	vip.SetDefault(LogLevelKey, 4)
	vip.SetDefault(RelayURLKey, "")
	vip.SetDefault(ArbitratorModeKey, false)
	vip.SetDefault(TakerFeeKey, 0.003)
	vip.SetDefault(SignOfferTimeoutKey, 30*time.Second)
	vip.SetDefault(TradeStepTimeoutKey, time.Minute)
	vip.SetDefault(WalletBalanceKey, 100000000000)
	vip.SetDefault(NoBadgerKey, false)

	if err := validate(); err != nil {
		log.WithError(err).Panic("error while validating config")
	}

	if err := initDatadir(); err != nil {
		log.WithError(err).Panic("error while creating datadir")
	}
}

//GetString ...
func GetString(key string) string {
	return vip.GetString(key)
}

//GetInt ...
func GetInt(key string) int {
	return vip.GetInt(key)
}

//GetUint64 ...
func GetUint64(key string) uint64 {
	return vip.GetUint64(key)
}

//GetFloat ...
func GetFloat(key string) float64 {
	return vip.GetFloat64(key)
}

//GetDuration ...
func GetDuration(key string) time.Duration {
	return vip.GetDuration(key)
}

//GetBool ...
func GetBool(key string) bool {
	return vip.GetBool(key)
}

func GetDatadir() string {
	return GetString(DatadirKey)
}

// Set a value for the given key
func Set(key string, value interface{}) {
	vip.Set(key, value)
}

// IsSet returns whether the given key is set
func IsSet(key string) bool {
	return vip.IsSet(key)
}

func validate() error {
	datadir := GetString(DatadirKey)
	if len(datadir) <= 0 {
		return fmt.Errorf("datadir must not be null")
	}

	takerFee := GetFloat(TakerFeeKey)
	if takerFee < MinTakerFeePct || takerFee > MaxTakerFeePct {
		return fmt.Errorf(
			"taker fee rate must be in range [%.4f, %.4f]",
			MinTakerFeePct, MaxTakerFeePct,
		)
	}

	if relayURL := GetString(RelayURLKey); relayURL != "" {
		u, err := url.Parse(relayURL)
		if err != nil {
			return fmt.Errorf("relay endpoint is not a valid url: %s", err)
		}
		if u.Scheme != "ws" && u.Scheme != "wss" {
			return fmt.Errorf("relay endpoint must be a ws:// or wss:// url")
		}
	}

	if GetDuration(SignOfferTimeoutKey) <= 0 {
		return fmt.Errorf("sign offer timeout must be positive")
	}
	if GetDuration(TradeStepTimeoutKey) <= 0 {
		return fmt.Errorf("trade step timeout must be positive")
	}
	return nil
}

func initDatadir() error {
	datadir := GetDatadir()
	if err := makeDirectoryIfNotExists(filepath.Join(datadir, DbLocation)); err != nil {
		return err
	}
	return makeDirectoryIfNotExists(filepath.Join(datadir, KeyLocation))
}

func makeDirectoryIfNotExists(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return os.MkdirAll(path, os.ModeDir|0755)
	}
	return nil
}
