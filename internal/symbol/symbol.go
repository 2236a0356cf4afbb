// Package symbol maps portfolio tickers to asset types and to the symbol
// forms the upstream providers expect. All functions are pure.
package symbol

import (
	"regexp"

	"portfoliowatch/internal/model"
)

// HomeCurrency is the no-op ticker: one unit is always worth exactly one.
const HomeCurrency = "TRY"

// commodities are the fixed metal tickers. GAUTRY (gram gold in TRY) is
// derived from XAU/USD and USD/TRY; the rest resolve directly.
var commodities = map[string]struct{}{
	"GAUTRY": {},
	"XAGTRY": {},
	"XAUUSD": {},
	"XAGUSD": {},
}

// currencies are the known FX pairs against TRY plus the home currency.
var currencies = map[string]struct{}{
	"USDTRY":     {},
	"EURTRY":     {},
	"GBPTRY":     {},
	HomeCurrency: {},
}

// fxTransform maps FX and silver tickers to the quote provider's "=X" form.
var fxTransform = map[string]string{
	"USDTRY": "USDTRY=X",
	"EURTRY": "EURTRY=X",
	"GBPTRY": "GBPTRY=X",
	"XAGTRY": "XAGTRY=X",
}

var (
	fundPattern   = regexp.MustCompile(`^[A-Z]{3}$`)
	equityPattern = regexp.MustCompile(`^[A-Z]{3,6}$`)
)

// Classify maps a ticker to an asset type by lexical shape. First match wins:
// fixed commodity set, fixed currency set, 3-letter fund code, BIST equity
// shape, then CURRENCY as the default.
func Classify(sym string) model.AssetType {
	if _, ok := commodities[sym]; ok {
		return model.AssetCommodity
	}
	if _, ok := currencies[sym]; ok {
		return model.AssetCurrency
	}
	if fundPattern.MatchString(sym) {
		return model.AssetFund
	}
	if equityPattern.MatchString(sym) {
		return model.AssetStock
	}
	return model.AssetCurrency
}

// Transform maps a ticker to the form the equity/FX quote provider expects:
// known FX pairs gain the "=X" suffix, bare BIST codes gain ".IS", everything
// else passes through unchanged.
func Transform(sym string) string {
	if mapped, ok := fxTransform[sym]; ok {
		return mapped
	}
	if _, ok := commodities[sym]; ok {
		return sym
	}
	if _, ok := currencies[sym]; ok {
		return sym
	}
	if equityPattern.MatchString(sym) {
		return sym + ".IS"
	}
	return sym
}
