package fetch

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/crypto"
)

// Minimal ABIs for the read calls the core needs.
const (
	synthetixABI = `[
		{"name":"availableCurrencyKeys","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"bytes32[]"}]},
		{"name":"synths","type":"function","stateMutability":"view","inputs":[{"name":"currencyKey","type":"bytes32"}],"outputs":[{"name":"","type":"address"}]},
		{"name":"effectiveValue","type":"function","stateMutability":"view","inputs":[{"name":"sourceCurrencyKey","type":"bytes32"},{"name":"sourceAmount","type":"uint256"},{"name":"destinationCurrencyKey","type":"bytes32"}],"outputs":[{"name":"","type":"uint256"}]},
		{"name":"SynthExchange","type":"event","anonymous":false,"inputs":[
			{"name":"account","type":"address","indexed":true},
			{"name":"fromCurrencyKey","type":"bytes32","indexed":false},
			{"name":"fromAmount","type":"uint256","indexed":false},
			{"name":"toCurrencyKey","type":"bytes32","indexed":false},
			{"name":"toAmount","type":"uint256","indexed":false},
			{"name":"toAddress","type":"address","indexed":false}
		]}
	]`

	exchangeRatesABI = `[
		{"name":"ratesForCurrencies","type":"function","stateMutability":"view","inputs":[{"name":"currencyKeys","type":"bytes32[]"}],"outputs":[{"name":"","type":"uint256[]"}]},
		{"name":"rateIsFrozen","type":"function","stateMutability":"view","inputs":[{"name":"currencyKey","type":"bytes32"}],"outputs":[{"name":"","type":"bool"}]}
	]`

	feePoolABI = `[
		{"name":"exchangeFeeRate","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]}
	]`

	erc20ABI = `[
		{"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
	]`
)

// SynthExchangeTopic is the log topic of Synthetix SynthExchange events.
var SynthExchangeTopic = crypto.Keccak256Hash([]byte("SynthExchange(address,bytes32,uint256,bytes32,uint256,address)"))

var (
	synthetixContract     = mustParseABI(synthetixABI)
	exchangeRatesContract = mustParseABI(exchangeRatesABI)
	feePoolContract       = mustParseABI(feePoolABI)
	erc20Contract         = mustParseABI(erc20ABI)
)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic("invalid contract ABI: " + err.Error())
	}
	return parsed
}

// toBytes32 encodes a currency key the way the contracts store it.
func toBytes32(key string) [32]byte {
	var out [32]byte
	copy(out[:], key)
	return out
}

// fromBytes32 decodes a zero-padded currency key.
func fromBytes32(b [32]byte) string {
	n := 0
	for n < len(b) && b[n] != 0 {
		n++
	}
	return string(b[:n])
}
