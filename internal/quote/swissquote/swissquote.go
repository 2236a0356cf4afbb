// Package swissquote fetches spot precious-metal quotes from the Swissquote
// public bbo feed. The feed exposes per-platform bid/ask tuples and no
// historical baseline, so records carry the midpoint with a zero nominal
// change unless a caller supplies an external baseline.
package swissquote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"portfoliowatch/internal/model"
)

// DefaultBaseURL is the public quote feed.
const DefaultBaseURL = "https://forex-data-feed.swissquote.com/public-quotes/bboquotes/instrument"

const (
	preferredPlatform = "SwissquoteLtd"
	preferredProfile  = "elite"
	secondaryProfile  = "prime"
)

// Adapter fetches spot-metal quotes.
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

type platformQuote struct {
	Topo struct {
		Platform string `json:"platform"`
	} `json:"topo"`
	SpreadProfilePrices []profilePrice `json:"spreadProfilePrices"`
}

type profilePrice struct {
	SpreadProfile string  `json:"spreadProfile"`
	Bid           float64 `json:"bid"`
	Ask           float64 `json:"ask"`
}

// FetchSpot returns the bid/ask midpoint for an instrument/currency pair,
// e.g. ("XAU", "USD"). Failures come back as an error-tagged record.
func (a *Adapter) FetchSpot(ctx context.Context, instrument, currency string) *model.PriceRecord {
	sym := instrument + currency

	u := fmt.Sprintf("%s/%s/%s", a.BaseURL, url.PathEscape(instrument), url.PathEscape(currency))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return errorRecord(sym, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := a.Client.Do(req)
	if err != nil {
		return errorRecord(sym, fmt.Errorf("swissquote fetch: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errorRecord(sym, fmt.Errorf("swissquote read body: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		return errorRecord(sym, fmt.Errorf("swissquote: status %d", resp.StatusCode))
	}

	var platforms []platformQuote
	if err := json.Unmarshal(body, &platforms); err != nil {
		return errorRecord(sym, fmt.Errorf("swissquote decode: %w", err))
	}
	if len(platforms) == 0 {
		return errorRecord(sym, fmt.Errorf("swissquote: empty quote list"))
	}

	profile, ok := selectProfile(platforms)
	if !ok {
		return errorRecord(sym, fmt.Errorf("swissquote: no spread profiles"))
	}

	mid := (profile.Bid + profile.Ask) / 2
	previous := mid
	return &model.PriceRecord{
		Symbol:        sym,
		Price:         mid,
		PreviousClose: &previous,
		LastUpdate:    time.Now(),
		Name:          instrument + "/" + currency,
		Currency:      currency,
	}
}

// selectProfile picks the named preferred platform (else the first) and then
// the preferred pricing profile, the secondary one, or the first available.
func selectProfile(platforms []platformQuote) (profilePrice, bool) {
	platform := platforms[0]
	for _, p := range platforms {
		if p.Topo.Platform == preferredPlatform {
			platform = p
			break
		}
	}
	if len(platform.SpreadProfilePrices) == 0 {
		return profilePrice{}, false
	}
	for _, want := range []string{preferredProfile, secondaryProfile} {
		for _, pp := range platform.SpreadProfilePrices {
			if strings.EqualFold(pp.SpreadProfile, want) {
				return pp, true
			}
		}
	}
	return platform.SpreadProfilePrices[0], true
}

func errorRecord(sym string, err error) *model.PriceRecord {
	return &model.PriceRecord{
		Symbol:     sym,
		LastUpdate: time.Now(),
		Error:      err.Error(),
	}
}
