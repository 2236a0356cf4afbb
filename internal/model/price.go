package model

import "time"

// Source tags where a resolved record came from.
const (
	SourceAPI   = "api"
	SourceCache = "cache"
)

// HistoricalPrice is a single point of a price series, date in "YYYY-MM-DD".
type HistoricalPrice struct {
	Date  string  `json:"date"`
	Price float64 `json:"price"`
}

// PriceRecord is the canonical quote shape produced by every adapter and
// consumed by everything downstream. A populated Error marks a failed-but-
// returned result; adapters never panic or return bare errors for expected
// failure modes. PriceDate is the calendar date ("YYYY-MM-DD") the effective
// price belongs to; it can lag "today" when the upstream has not yet
// published a value.
type PriceRecord struct {
	Symbol         string            `json:"symbol"`
	Price          float64           `json:"price"`
	Change         float64           `json:"change"`
	ChangePercent  float64           `json:"changePercent"`
	PreviousClose  *float64          `json:"previousClose,omitempty"`
	PriceDate      string            `json:"priceDate,omitempty"`
	LastUpdate     time.Time         `json:"lastUpdate"`
	Name           string            `json:"name,omitempty"`
	Currency       string            `json:"currency,omitempty"`
	HistoricalData []HistoricalPrice `json:"historicalData,omitempty"`
	Source         string            `json:"source,omitempty"`
	Error          string            `json:"error,omitempty"`
}

// Failed reports whether the record represents a failed fetch.
func (r *PriceRecord) Failed() bool { return r != nil && r.Error != "" }

// CacheEntry is the persisted unit of the durable price cache.
type CacheEntry struct {
	Data      PriceRecord `json:"data"`
	Timestamp int64       `json:"timestamp"` // epoch millis of the cache write
}

// Stats summarizes one batch resolution.
type Stats struct {
	Live   int `json:"live"`
	Cached int `json:"cached"`
	Total  int `json:"total"`
}
