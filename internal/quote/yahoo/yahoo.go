// Package yahoo fetches equity, FX and index quotes from the Yahoo Finance
// chart API and normalizes them into price records.
package yahoo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"net/url"
	"time"

	"portfoliowatch/internal/model"
)

// DefaultBaseURL is the public chart endpoint.
const DefaultBaseURL = "https://query1.finance.yahoo.com/v8/finance/chart"

// maxDailyChangePercent caps implausible day-over-day moves caused by bad
// ticks or wrong-session previous closes.
const maxDailyChangePercent = 25.0

// Adapter fetches quotes from Yahoo Finance.
type Adapter struct {
	BaseURL string
	Client  *http.Client
}

// New creates an adapter with optional proxy support.
func New(proxyURL string, timeout time.Duration) *Adapter {
	transport := &http.Transport{}
	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	return &Adapter{
		BaseURL: DefaultBaseURL,
		Client: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
	}
}

// chartResponse is the response structure of the chart API. Close series use
// pointer elements because non-trading intervals come back as null holes.
type chartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Currency           string   `json:"currency"`
				Symbol             string   `json:"symbol"`
				RegularMarketPrice *float64 `json:"regularMarketPrice"`
				PreviousClose      *float64 `json:"previousClose"`
				ChartPreviousClose *float64 `json:"chartPreviousClose"`
				ShortName          string   `json:"shortName"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Close []*float64 `json:"close"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// FetchLatest returns the current quote for a provider symbol. Expected
// failures (transport, bad payload, missing price) come back as an
// error-tagged record with a zero price, never as an error value.
func (a *Adapter) FetchLatest(ctx context.Context, sym string) *model.PriceRecord {
	chart, err := a.fetchChart(ctx, sym, "5d", "1d")
	if err != nil {
		return errorRecord(sym, err)
	}

	result := chart.Chart.Result[0]
	meta := result.Meta
	if meta.RegularMarketPrice == nil {
		return errorRecord(sym, fmt.Errorf("no market price in response"))
	}
	current := *meta.RegularMarketPrice

	closes := make([]float64, 0, 8)
	if len(result.Indicators.Quote) > 0 {
		for _, c := range result.Indicators.Quote[0].Close {
			if c != nil {
				closes = append(closes, *c)
			}
		}
	}

	// The chart series is already session-aligned by the provider, so the
	// previous close is taken from the last two data points by index rather
	// than by calendar day. Whichever of the two sits closer to the live
	// price belongs to the current session.
	previous := current
	if len(closes) >= 2 {
		last := closes[len(closes)-1]
		prev := closes[len(closes)-2]
		if math.Abs(last-current) < math.Abs(prev-current) {
			previous = prev
		} else {
			previous = last
		}
	} else if meta.PreviousClose != nil {
		previous = *meta.PreviousClose
	} else if meta.ChartPreviousClose != nil {
		previous = *meta.ChartPreviousClose
	}

	change := current - previous
	var changePercent float64
	if previous != 0 && previous != current {
		changePercent = change / previous * 100
	}
	if math.Abs(changePercent) > maxDailyChangePercent {
		log.Printf("[WARN] yahoo %s: implausible change %.2f%%, clamping", sym, changePercent)
		changePercent = math.Copysign(maxDailyChangePercent, changePercent)
	}

	name := meta.ShortName
	if name == "" {
		name = meta.Symbol
	}
	return &model.PriceRecord{
		Symbol:        sym,
		Price:         current,
		Change:        change,
		ChangePercent: changePercent,
		PreviousClose: &previous,
		LastUpdate:    time.Now(),
		Name:          name,
		Currency:      meta.Currency,
	}
}

// FetchHistory returns daily closes for charting, oldest first. Null holes
// in the series are skipped.
func (a *Adapter) FetchHistory(ctx context.Context, sym string, rng model.HistoryRange) ([]model.HistoricalPrice, error) {
	chart, err := a.fetchChart(ctx, sym, yahooRange(rng), "1d")
	if err != nil {
		return nil, err
	}

	result := chart.Chart.Result[0]
	if len(result.Indicators.Quote) == 0 {
		return nil, fmt.Errorf("yahoo %s: no quote series", sym)
	}
	closes := result.Indicators.Quote[0].Close

	points := make([]model.HistoricalPrice, 0, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		if i >= len(closes) || closes[i] == nil {
			continue
		}
		points = append(points, model.HistoricalPrice{
			Date:  time.Unix(ts, 0).UTC().Format("2006-01-02"),
			Price: *closes[i],
		})
	}

	// The provider has no 3y window; fetch 5y and trim.
	if rng == model.Range3Y {
		cutoff := time.Now().AddDate(-3, 0, 0).UTC().Format("2006-01-02")
		for len(points) > 0 && points[0].Date < cutoff {
			points = points[1:]
		}
	}
	return points, nil
}

func (a *Adapter) fetchChart(ctx context.Context, sym, rng, interval string) (*chartResponse, error) {
	u := fmt.Sprintf("%s/%s?range=%s&interval=%s&includePrePost=false",
		a.BaseURL, url.PathEscape(sym), rng, interval)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")
	req.Header.Set("Accept", "application/json")

	resp, err := a.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("yahoo fetch: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("yahoo read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("yahoo: status %d, body: %s", resp.StatusCode, string(body))
	}

	var chart chartResponse
	if err := json.Unmarshal(body, &chart); err != nil {
		return nil, fmt.Errorf("yahoo decode: %w", err)
	}
	if chart.Chart.Error != nil {
		return nil, fmt.Errorf("yahoo api error: %s", chart.Chart.Error.Description)
	}
	if len(chart.Chart.Result) == 0 {
		return nil, fmt.Errorf("yahoo: no data returned")
	}
	return &chart, nil
}

func yahooRange(rng model.HistoryRange) string {
	switch rng {
	case model.Range1D:
		return "1d"
	case model.Range1W:
		return "5d"
	case model.Range1M:
		return "1mo"
	case model.Range3M:
		return "3mo"
	case model.Range6M:
		return "6mo"
	case model.Range1Y:
		return "1y"
	case model.Range3Y, model.Range5Y:
		return "5y"
	default:
		return "1mo"
	}
}

func errorRecord(sym string, err error) *model.PriceRecord {
	return &model.PriceRecord{
		Symbol:     sym,
		LastUpdate: time.Now(),
		Error:      err.Error(),
	}
}
