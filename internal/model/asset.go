package model

// AssetType classifies a ticker by its lexical shape. The type is immutable
// per symbol for the lifetime of a session.
type AssetType string

const (
	AssetCurrency  AssetType = "CURRENCY"
	AssetStock     AssetType = "STOCK"
	AssetFund      AssetType = "FUND"
	AssetCommodity AssetType = "COMMODITY"
)

// HistoryRange is the fixed enumeration of charting windows.
type HistoryRange string

const (
	Range1D HistoryRange = "1d"
	Range1W HistoryRange = "1w"
	Range1M HistoryRange = "1mo"
	Range3M HistoryRange = "3mo"
	Range6M HistoryRange = "6mo"
	Range1Y HistoryRange = "1y"
	Range3Y HistoryRange = "3y"
	Range5Y HistoryRange = "5y"
)

// ParseHistoryRange validates a range string from a caller.
func ParseHistoryRange(s string) (HistoryRange, bool) {
	switch HistoryRange(s) {
	case Range1D, Range1W, Range1M, Range3M, Range6M, Range1Y, Range3Y, Range5Y:
		return HistoryRange(s), true
	}
	return "", false
}
