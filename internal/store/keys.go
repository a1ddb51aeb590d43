package store

import (
	"strings"

	"github.com/DorothyRazo/CoreExchange/internal/model"
)

// Key identifies one independently fetched piece of state.
type Key string

const (
	keySpotRates    Key = "spot-rates"
	keyFrozenSynths Key = "frozen-synths"
	keySynths       Key = "synths"
	keyGasPrice     Key = "gas-price"
	keyExchangeFee  Key = "exchange-fee-rate"
)

const (
	prefixHistorical = "historical-rates:"
	prefixWallet     = "wallet-balances:"
)

// SpotRatesKey is the key of the live rate snapshot.
func SpotRatesKey() Key { return keySpotRates }

// FrozenSynthsKey is the key of the on-chain freeze check.
func FrozenSynthsKey() Key { return keyFrozenSynths }

// SynthsKey is the key of the registry load.
func SynthsKey() Key { return keySynths }

// GasPriceKey is the key of the gas station tiers.
func GasPriceKey() Key { return keyGasPrice }

// ExchangeFeeKey is the key of the exchange fee rate.
func ExchangeFeeKey() Key { return keyExchangeFee }

// HistoricalRatesKey is the key of one (symbol, period) series.
func HistoricalRatesKey(symbol string, period model.Period) Key {
	return Key(prefixHistorical + symbol + ":" + string(period))
}

// WalletBalancesKey is the key of one wallet's balances. Addresses are
// compared case-insensitively.
func WalletBalancesKey(address string) Key {
	return Key(prefixWallet + NormalizeAddress(address))
}

// NormalizeAddress lowercases a hex address.
func NormalizeAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

// Kind returns the key without its symbol or address part, e.g.
// historical-rates. It is used as a bounded metric label.
func (k Key) Kind() string {
	s := string(k)
	if i := strings.IndexByte(s, ':'); i >= 0 {
		return s[:i]
	}
	return s
}
