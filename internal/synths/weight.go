package synths

// synthRank orders crypto assets by liquidity, 1 being the most liquid.
// Keys are underlying asset names without the synthetic prefix.
var synthRank = map[string]int{
	"BTC":  1,
	"ETH":  2,
	"BNB":  3,
	"XTZ":  4,
	"TRX":  5,
	"LINK": 6,
	"MKR":  7,
	"XRP":  8,
	"LTC":  9,
	"EOS":  10,
	"BCH":  11,
	"ETC":  12,
	"DASH": 13,
	"XMR":  14,
	"ADA":  15,
	"DEFI": 16,
	"CEX":  17,
}

// StripPrefix removes the synthetic prefix (s or i) from a currency key.
func StripPrefix(symbol string) string {
	if len(symbol) < 2 {
		return symbol
	}
	switch symbol[0] {
	case 's', 'i':
		return symbol[1:]
	}
	return symbol
}

// Rank returns the position of the symbol in the ordering table.
func Rank(symbol string) (int, bool) {
	r, ok := synthRank[StripPrefix(symbol)]
	return r, ok
}

// Weight turns the rank into a weight where higher means more liquid.
// Unlisted assets weigh 0.
func Weight(symbol string) int {
	r, ok := Rank(symbol)
	if !ok {
		return 0
	}
	return len(synthRank) + 1 - r
}
