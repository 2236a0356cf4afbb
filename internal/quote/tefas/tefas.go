// Package tefas fetches Turkish mutual-fund NAV history from the TEFAS
// BindHistoryInfo endpoint. The provider is sensitive to request volume, so
// the adapter paces repeat requests per fund and coalesces concurrent ones.
package tefas

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"portfoliowatch/internal/model"
	"portfoliowatch/internal/quote"
)

// DefaultEndpoint is the public fund-history endpoint.
const DefaultEndpoint = "https://www.tefas.gov.tr/api/DB/BindHistoryInfo"

// minRequestInterval is the minimum wall-clock gap between successive
// upstream requests for the same fund code.
const minRequestInterval = 5 * time.Second

const dateLayout = "02.01.2006"

// Row is one fund-history row as the provider returns it: the date is a
// millisecond epoch encoded as a string.
type Row struct {
	Date  string  `json:"TARIH"`
	Code  string  `json:"FONKODU"`
	Name  string  `json:"FONUNVAN"`
	Price float64 `json:"FIYAT"`
}

type historyResponse struct {
	Data []Row `json:"data"`
}

// Adapter fetches fund NAVs. Its pacing and coalescing tables are private to
// the instance; construct one per process and inject it where needed.
type Adapter struct {
	Endpoint string
	Client   *http.Client
	Now      func() time.Time

	mu       sync.Mutex
	lastReq  map[string]time.Time
	lastSeen map[string]*model.PriceRecord
	flight   singleflight.Group
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
		Endpoint: DefaultEndpoint,
		Client: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		Now:      time.Now,
		lastReq:  make(map[string]time.Time),
		lastSeen: make(map[string]*model.PriceRecord),
	}
}

// FetchLatest returns the effective NAV record for a fund code, or
// (nil, quote.ErrNotFound) when the provider has no data for it. When a repeat
// request arrives before the per-fund pacing interval has elapsed, the last
// known record (possibly nil) is returned without touching the network.
// Concurrent requests for the same code share a single upstream attempt.
// Every caller gets its own copy of the record; callers may restamp fields
// without affecting the adapter's retained state or other callers.
func (a *Adapter) FetchLatest(ctx context.Context, code string) (*model.PriceRecord, error) {
	a.mu.Lock()
	if last, ok := a.lastReq[code]; ok && a.Now().Sub(last) < minRequestInterval {
		rec := a.lastSeen[code]
		a.mu.Unlock()
		log.Printf("[INFO] tefas %s: paced, serving last known record", code)
		if rec == nil {
			return nil, quote.ErrNotFound
		}
		clone := *rec
		return &clone, nil
	}
	a.mu.Unlock()

	v, err, _ := a.flight.Do(code, func() (interface{}, error) {
		rec, err := a.fetchWindow(ctx, code)
		a.mu.Lock()
		a.lastReq[code] = a.Now()
		if err == nil && !rec.Failed() {
			a.lastSeen[code] = rec
		}
		a.mu.Unlock()
		return rec, err
	})
	if err != nil {
		return nil, err
	}
	// Coalesced callers all receive the same pointer from Do.
	rec, _ := v.(*model.PriceRecord)
	clone := *rec
	return &clone, nil
}

func (a *Adapter) fetchWindow(ctx context.Context, code string) (*model.PriceRecord, error) {
	// One trailing week: enough to cover a not-yet-published NAV plus the
	// previous day needed for the change computation.
	end := a.Now()
	rows, err := a.fetchRange(ctx, code, end.AddDate(0, 0, -7), end)
	if err != nil {
		// Expected failure modes surface as an error-tagged record so one
		// bad fund cannot interrupt a batch.
		return &model.PriceRecord{
			Symbol:     code,
			LastUpdate: a.Now(),
			Error:      err.Error(),
		}, nil
	}
	rec := ProcessFundHistory(rows, code)
	if rec == nil {
		return nil, quote.ErrNotFound
	}
	return rec, nil
}

// FetchHistory returns the NAV series for charting, oldest first. Funds only
// publish short windows; anything beyond three months is clamped.
func (a *Adapter) FetchHistory(ctx context.Context, code string, rng model.HistoryRange) ([]model.HistoricalPrice, error) {
	end := a.Now()
	var start time.Time
	switch rng {
	case model.Range1D, model.Range1W:
		start = end.AddDate(0, 0, -7)
	case model.Range1M:
		start = end.AddDate(0, -1, 0)
	default:
		start = end.AddDate(0, -3, 0)
	}

	rows, err := a.fetchRange(ctx, code, start, end)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, quote.ErrNotFound
	}

	sortRowsNewestFirst(rows)
	points := make([]model.HistoricalPrice, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		points = append(points, model.HistoricalPrice{
			Date:  rowDate(rows[i]),
			Price: rows[i].Price,
		})
	}
	return points, nil
}

// Stats reports the adapter's private table sizes for observability.
func (a *Adapter) Stats() (tracked int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.lastSeen)
}

func (a *Adapter) fetchRange(ctx context.Context, code string, start, end time.Time) ([]Row, error) {
	form := url.Values{}
	form.Set("fontip", "YAT")
	form.Set("bastarih", start.Format(dateLayout))
	form.Set("bittarih", end.Format(dateLayout))
	form.Set("fonkod", code)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.Endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")
	req.Header.Set("Accept", "application/json, text/javascript, */*; q=0.01")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")

	resp, err := a.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tefas fetch: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("tefas read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tefas: status %d, body: %s", resp.StatusCode, string(body))
	}

	var history historyResponse
	if err := json.Unmarshal(body, &history); err != nil {
		return nil, fmt.Errorf("tefas decode: %w", err)
	}
	return history.Data, nil
}

// ProcessFundHistory reduces a history window to the effective NAV record.
// The effective row is the newest one with a positive price, because the
// provider publishes today's NAV late (as zero or not at all); the record's
// price date is stamped from that row, not from "today". Returns nil for an
// empty window. The result does not depend on the caller's row ordering.
func ProcessFundHistory(rows []Row, code string) *model.PriceRecord {
	if len(rows) == 0 {
		return nil
	}

	sorted := make([]Row, len(rows))
	copy(sorted, rows)
	sortRowsNewestFirst(sorted)

	effectiveIdx := 0
	for i, row := range sorted {
		if row.Price > 0 {
			effectiveIdx = i
			break
		}
	}
	effective := sorted[effectiveIdx]

	rec := &model.PriceRecord{
		Symbol:     code,
		Price:      effective.Price,
		PriceDate:  rowDate(effective),
		LastUpdate: time.Now(),
		Name:       effective.Name,
		Currency:   "TRY",
	}

	// Change against the next-older positive-price row, when there is one.
	for i := effectiveIdx + 1; i < len(sorted); i++ {
		prev := sorted[i].Price
		if prev > 0 {
			rec.PreviousClose = &prev
			rec.Change = effective.Price - prev
			rec.ChangePercent = rec.Change / prev * 100
			break
		}
	}

	rec.HistoricalData = make([]model.HistoricalPrice, 0, len(sorted))
	for i := len(sorted) - 1; i >= 0; i-- {
		rec.HistoricalData = append(rec.HistoricalData, model.HistoricalPrice{
			Date:  rowDate(sorted[i]),
			Price: sorted[i].Price,
		})
	}
	return rec
}

func sortRowsNewestFirst(rows []Row) {
	sort.SliceStable(rows, func(i, j int) bool {
		return rowEpoch(rows[i]) > rowEpoch(rows[j])
	})
}

func rowEpoch(r Row) int64 {
	ms, err := strconv.ParseInt(r.Date, 10, 64)
	if err != nil {
		return 0
	}
	return ms
}

func rowDate(r Row) string {
	return time.UnixMilli(rowEpoch(r)).UTC().Format("2006-01-02")
}
