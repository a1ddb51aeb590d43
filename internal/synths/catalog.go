package synths

import "github.com/DorothyRazo/CoreExchange/internal/model"

// DefaultCatalog returns the static metadata for the synths known to this
// build. On-chain currency keys are described from it.
func DefaultCatalog() []model.SynthDefinition {
	return []model.SynthDefinition{
		forex("sUSD", "USD", "$", "US Dollars"),
		forex("sEUR", "EUR", "€", "Euros"),
		forex("sJPY", "JPY", "¥", "Japanese Yen"),
		forex("sAUD", "AUD", "$", "Australian Dollars"),
		forex("sGBP", "GBP", "£", "Pound Sterling"),
		forex("sCHF", "CHF", "Fr", "Swiss Franc"),
		forex("sKRW", "KRW", "₩", "South Korean Won"),
		commodity("sXAU", "XAU", "Gold Ounce"),
		commodity("sXAG", "XAG", "Silver Ounce"),
		crypto("sBTC", "BTC", "₿", "Bitcoin"),
		crypto("sETH", "ETH", "Ξ", "Ether"),
		crypto("sBNB", "BNB", "", "Binance Coin"),
		crypto("sXTZ", "XTZ", "", "Tezos"),
		crypto("sTRX", "TRX", "", "TRON"),
		crypto("sLINK", "LINK", "", "Chainlink"),
		crypto("sMKR", "MKR", "", "Maker"),
		crypto("sXRP", "XRP", "", "Ripple"),
		crypto("sLTC", "LTC", "", "Litecoin"),
		crypto("sEOS", "EOS", "", "EOS"),
		crypto("sBCH", "BCH", "", "Bitcoin Cash"),
		crypto("sDEFI", "DEFI", "", "DeFi Index"),
		crypto("sCEX", "CEX", "", "Centralised Exchange Index"),
		inverse("iBTC", "BTC", "Inverse Bitcoin", 8000, 12000, 4000),
		inverse("iETH", "ETH", "Inverse Ether", 200, 300, 100),
		inverse("iBNB", "BNB", "Inverse Binance Coin", 16, 24, 8),
		inverse("iMKR", "MKR", "Inverse Maker", 500, 750, 250),
		{Symbol: "sFTSE", Asset: "FTSE", Category: model.CategoryIndex, Description: "FTSE 100 Index"},
		{Symbol: "sNIKKEI", Asset: "NIKKEI", Category: model.CategoryIndex, Description: "Nikkei 225 Index"},
	}
}

// Describe returns catalog metadata for a currency key, or a bare definition
// for keys the catalog does not know.
func Describe(symbol string, catalog []model.SynthDefinition) model.SynthDefinition {
	for _, d := range catalog {
		if d.Symbol == symbol {
			return d
		}
	}
	return model.SynthDefinition{
		Symbol:      symbol,
		Asset:       StripPrefix(symbol),
		Description: symbol,
		Inverted:    len(symbol) > 1 && symbol[0] == 'i',
	}
}

func forex(symbol, asset, sign, desc string) model.SynthDefinition {
	return model.SynthDefinition{Symbol: symbol, Asset: asset, Category: model.CategoryForex, Sign: sign, Description: desc}
}

func commodity(symbol, asset, desc string) model.SynthDefinition {
	return model.SynthDefinition{Symbol: symbol, Asset: asset, Category: model.CategoryCommodity, Description: desc}
}

func crypto(symbol, asset, sign, desc string) model.SynthDefinition {
	return model.SynthDefinition{Symbol: symbol, Asset: asset, Category: model.CategoryCrypto, Sign: sign, Description: desc}
}

func inverse(symbol, asset, desc string, entry, upper, lower float64) model.SynthDefinition {
	return model.SynthDefinition{
		Symbol:      symbol,
		Asset:       asset,
		Category:    model.CategoryCrypto,
		Description: desc,
		Inverted:    true,
		Inverse:     &model.InverseParams{Entry: entry, UpperLimit: upper, LowerLimit: lower},
	}
}
