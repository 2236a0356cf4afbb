// Package derived computes synthetic instrument prices from two or more
// independently fetched records.
package derived

import (
	"fmt"
	"math"
	"time"

	"portfoliowatch/internal/model"
)

// GramsPerOunce converts a troy-ounce quote to a gram quote.
const GramsPerOunce = 31.1035

// GoldCeilingPercent is the change cap for the derived gram-gold instrument.
// It is tighter than the standard 25% cap because two error sources compound.
const GoldCeilingPercent = 15.0

// Compose combines the input records into one synthetic record. The current
// value applies f to the input prices; the previous value applies f to each
// input's previous close, falling back to its price. If any input is
// missing, failed, or priced at zero, the whole result is an error record —
// a derived price must never mix one good and one bad input.
func Compose(sym, name string, ceiling float64, f func(vals []float64) float64, inputs ...*model.PriceRecord) *model.PriceRecord {
	current := make([]float64, len(inputs))
	previous := make([]float64, len(inputs))
	for i, in := range inputs {
		if in == nil || in.Failed() || in.Price <= 0 {
			return &model.PriceRecord{
				Symbol:     sym,
				Name:       name,
				LastUpdate: time.Now(),
				Error:      fmt.Sprintf("dependency unavailable: %s", dependencyName(in, i)),
			}
		}
		current[i] = in.Price
		previous[i] = in.Price
		if in.PreviousClose != nil {
			previous[i] = *in.PreviousClose
		}
	}

	cur := f(current)
	prev := f(previous)
	change := cur - prev
	var changePercent float64
	if prev != 0 {
		changePercent = change / prev * 100
	}
	changePercent = ClampPercent(changePercent, ceiling)

	return &model.PriceRecord{
		Symbol:        sym,
		Price:         cur,
		Change:        change,
		ChangePercent: changePercent,
		PreviousClose: &prev,
		LastUpdate:    time.Now(),
		Name:          name,
	}
}

// GramGold derives the gram-gold-in-TRY price from the XAU/USD spot and the
// USD/TRY rate.
func GramGold(metal, fx *model.PriceRecord) *model.PriceRecord {
	return Compose("GAUTRY", "Gram Altın", GoldCeilingPercent, func(vals []float64) float64 {
		return vals[0] * vals[1] / GramsPerOunce
	}, metal, fx)
}

// ClampPercent caps a change percentage at the given ceiling, preserving
// sign.
func ClampPercent(pct, ceiling float64) float64 {
	if math.Abs(pct) > ceiling {
		return math.Copysign(ceiling, pct)
	}
	return pct
}

func dependencyName(in *model.PriceRecord, idx int) string {
	if in == nil {
		return fmt.Sprintf("input %d", idx)
	}
	return in.Symbol
}
