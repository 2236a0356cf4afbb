// Package freshness decides whether a cached price may be served without a
// new fetch. Every function takes "now" explicitly so the weekday, weekend
// and market-hours rules stay deterministic under test.
package freshness

import (
	"time"

	"portfoliowatch/internal/model"
)

// CacheDuration is the short freshness window for intraday quotes.
const CacheDuration = 60 * time.Second

const (
	// BIST trading window in minutes from UTC midnight (10:00-18:10 TRT).
	// The close bound includes a grace period for the closing auction print.
	marketOpenMinute  = 7 * 60
	marketCloseMinute = 15*60 + 10

	dateLayout = "2006-01-02"
)

// IsMarketHours reports whether t falls inside BIST trading hours, both
// boundaries inclusive. Weekends are always closed.
func IsMarketHours(t time.Time) bool {
	u := t.UTC()
	switch u.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	m := u.Hour()*60 + u.Minute()
	return m >= marketOpenMinute && m <= marketCloseMinute
}

// ExpectedFundDate returns the trading date a fund NAV must carry to be
// considered current: the same day on weekdays, the preceding Friday on
// weekends.
func ExpectedFundDate(now time.Time) string {
	u := now.UTC()
	switch u.Weekday() {
	case time.Saturday:
		u = u.AddDate(0, 0, -1)
	case time.Sunday:
		u = u.AddDate(0, 0, -2)
	}
	return u.Format(dateLayout)
}

// IsValid reports whether a cache entry written at cachedAt may still be
// served at now. rec may be nil for asset types that do not need it.
//
// Stocks outside market hours are valid for the rest of the calendar day,
// except that an entry written during market hours is rejected once the
// market closes: the first post-close check triggers exactly one refetch to
// capture the closing print.
func IsValid(assetType model.AssetType, cachedAt time.Time, rec *model.PriceRecord, now time.Time) bool {
	switch assetType {
	case model.AssetStock:
		if IsMarketHours(now) {
			return now.Sub(cachedAt) < CacheDuration
		}
		return sameDay(cachedAt, now) && !IsMarketHours(cachedAt)
	case model.AssetFund:
		if rec != nil && rec.PriceDate != "" {
			return rec.PriceDate == ExpectedFundDate(now)
		}
		// Legacy entry without a price date: best we can do is same-day.
		return sameDay(cachedAt, now)
	default: // CURRENCY, COMMODITY
		return now.Sub(cachedAt) < CacheDuration
	}
}

func sameDay(a, b time.Time) bool {
	au, bu := a.UTC(), b.UTC()
	return au.Year() == bu.Year() && au.YearDay() == bu.YearDay()
}
