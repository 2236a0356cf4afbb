// Package resolver orchestrates batch price resolution: it classifies each
// symbol, serves still-fresh cache entries, partitions the rest across
// per-provider schedulers and writes live results back into the durable
// cache.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"portfoliowatch/internal/cache"
	"portfoliowatch/internal/derived"
	"portfoliowatch/internal/freshness"
	"portfoliowatch/internal/model"
	"portfoliowatch/internal/queue"
	"portfoliowatch/internal/quote"
	"portfoliowatch/internal/symbol"
)

// commodityCeilingPercent caps change percentages on metal instruments more
// tightly than on equities.
const commodityCeilingPercent = 15.0

// EquityAdapter fetches equity, FX and index quotes.
type EquityAdapter interface {
	FetchLatest(ctx context.Context, providerSymbol string) *model.PriceRecord
	FetchHistory(ctx context.Context, providerSymbol string, rng model.HistoryRange) ([]model.HistoricalPrice, error)
}

// FundAdapter fetches mutual-fund NAVs. FetchLatest returns
// (nil, quote.ErrNotFound) for unknown fund codes.
type FundAdapter interface {
	FetchLatest(ctx context.Context, code string) (*model.PriceRecord, error)
	FetchHistory(ctx context.Context, code string, rng model.HistoryRange) ([]model.HistoricalPrice, error)
}

// MetalAdapter fetches spot precious-metal quotes.
type MetalAdapter interface {
	FetchSpot(ctx context.Context, instrument, currency string) *model.PriceRecord
}

// Resolver resolves batches of heterogeneous symbols. It is the sole writer
// of the durable cache.
type Resolver struct {
	Equity EquityAdapter
	Funds  FundAdapter
	Metals MetalAdapter
	Store  cache.Store

	// Scheduler shape: the fund provider tolerates one request at a time
	// with pacing between dispatches; the rest run wider.
	FundConcurrency    int
	FundDispatchDelay  time.Duration
	GeneralConcurrency int

	Now func() time.Time
}

// New creates a resolver with the default scheduler shape.
func New(equity EquityAdapter, funds FundAdapter, metals MetalAdapter, store cache.Store) *Resolver {
	return &Resolver{
		Equity:             equity,
		Funds:              funds,
		Metals:             metals,
		Store:              store,
		FundConcurrency:    1,
		FundDispatchDelay:  100 * time.Millisecond,
		GeneralConcurrency: 4,
		Now:                time.Now,
	}
}

// Batch is one in-progress resolution. Records yields resolved records in
// completion order; Wait blocks until every scheduler has drained and then
// returns the batch statistics.
type Batch struct {
	Records <-chan model.PriceRecord

	done  chan struct{}
	stats model.Stats
}

// Wait blocks until the batch is fully resolved.
func (b *Batch) Wait() model.Stats {
	<-b.done
	return b.stats
}

// ResolveBatch resolves a set of symbols. Symbols with a still-fresh cache
// entry are emitted immediately with source "cache"; the rest are fetched
// through the per-provider schedulers and emitted with source "api" as each
// completes. One symbol's failure surfaces as an error-tagged record and
// never blocks the others.
func (r *Resolver) ResolveBatch(ctx context.Context, symbols []string) *Batch {
	unique := dedupe(symbols)

	out := make(chan model.PriceRecord, len(unique))
	b := &Batch{Records: out, done: make(chan struct{})}
	b.stats.Total = len(unique)

	batchID := uuid.NewString()[:8]

	results := make(chan *model.PriceRecord, len(unique))
	fundQ := queue.New[model.PriceRecord](r.FundConcurrency, r.FundDispatchDelay, results)
	generalQ := queue.New[model.PriceRecord](r.GeneralConcurrency, 0, results)

	for _, sym := range unique {
		if sym == symbol.HomeCurrency {
			out <- homeCurrencyRecord(r.Now())
			b.stats.Cached++
			continue
		}

		typ := symbol.Classify(sym)
		rec, at, ok, err := r.Store.Get(sym)
		if err != nil {
			log.Printf("[WARN] batch %s: cache read %s: %v", batchID, sym, err)
		}
		if ok && freshness.IsValid(typ, at, rec, r.Now()) {
			rec.Source = model.SourceCache
			out <- *rec
			b.stats.Cached++
			continue
		}

		task := r.fetchTask(sym, typ)
		if typ == model.AssetFund {
			fundQ.Add(sym, task)
		} else {
			generalQ.Add(sym, task)
		}
	}

	log.Printf("[INFO] batch %s: %d symbols, %d served from cache, %d queued",
		batchID, b.stats.Total, b.stats.Cached, fundQ.Len()+generalQ.Len())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		fundQ.Run(gctx)
		return nil
	})
	g.Go(func() error {
		generalQ.Run(gctx)
		return nil
	})
	go func() {
		g.Wait()
		close(results)
	}()

	go func() {
		defer close(b.done)
		defer close(out)
		for rec := range results {
			b.stats.Live++
			out <- *rec
		}
		log.Printf("[INFO] batch %s: done, %d live / %d cached / %d total",
			batchID, b.stats.Live, b.stats.Cached, b.stats.Total)
	}()

	return b
}

// FetchHistory returns a historical price series for charting. Fund codes
// unknown to the fund provider fall through to the quote provider.
func (r *Resolver) FetchHistory(ctx context.Context, sym string, rng model.HistoryRange) ([]model.HistoricalPrice, error) {
	switch symbol.Classify(sym) {
	case model.AssetFund:
		points, err := r.Funds.FetchHistory(ctx, sym, rng)
		if errors.Is(err, quote.ErrNotFound) {
			return r.Equity.FetchHistory(ctx, symbol.Transform(sym), rng)
		}
		return points, err
	case model.AssetCommodity:
		if sym == "XAGTRY" {
			return r.Equity.FetchHistory(ctx, symbol.Transform(sym), rng)
		}
		// Derived and spot-feed instruments have no historical source.
		return nil, fmt.Errorf("no history available for %s", sym)
	default:
		if sym == symbol.HomeCurrency {
			return nil, fmt.Errorf("no history available for %s", sym)
		}
		return r.Equity.FetchHistory(ctx, symbol.Transform(sym), rng)
	}
}

// IsCacheValid exposes the freshness decision for callers that need it
// without performing a fetch.
func (r *Resolver) IsCacheValid(sym string, cachedAt time.Time, rec *model.PriceRecord) bool {
	return freshness.IsValid(symbol.Classify(sym), cachedAt, rec, r.Now())
}

// InvalidateCache drops every cache entry, forcing the next batch to fetch
// everything live. In-flight batches are unaffected.
func (r *Resolver) InvalidateCache() error {
	return r.Store.Clear()
}

// InvalidateSymbol drops a single symbol's cache entry.
func (r *Resolver) InvalidateSymbol(sym string) error {
	return r.Store.Delete(sym)
}

func (r *Resolver) fetchTask(sym string, typ model.AssetType) queue.Task[model.PriceRecord] {
	return func(ctx context.Context) (*model.PriceRecord, error) {
		rec := r.fetchLive(ctx, sym, typ)
		if rec == nil {
			// Fund not found anywhere; nothing to emit.
			return nil, nil
		}
		// Adapters must not leak their transformed symbols.
		rec.Symbol = sym
		rec.Source = model.SourceAPI
		if r.shouldCache(sym, typ, rec) {
			if err := r.Store.Put(sym, rec, r.Now()); err != nil {
				log.Printf("[WARN] cache write %s: %v", sym, err)
			}
		}
		return rec, nil
	}
}

func (r *Resolver) fetchLive(ctx context.Context, sym string, typ model.AssetType) *model.PriceRecord {
	switch typ {
	case model.AssetFund:
		rec, err := r.Funds.FetchLatest(ctx, sym)
		if errors.Is(err, quote.ErrNotFound) {
			// Not a fund after all; try it as a listed instrument.
			return r.Equity.FetchLatest(ctx, symbol.Transform(sym))
		}
		if err != nil {
			return &model.PriceRecord{Symbol: sym, LastUpdate: r.Now(), Error: err.Error()}
		}
		return rec
	case model.AssetCommodity:
		return r.fetchCommodity(ctx, sym)
	default:
		return r.Equity.FetchLatest(ctx, symbol.Transform(sym))
	}
}

func (r *Resolver) fetchCommodity(ctx context.Context, sym string) *model.PriceRecord {
	switch sym {
	case "GAUTRY":
		// Both inputs must be fully settled before the composition runs.
		var metal, fx *model.PriceRecord
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			metal = r.Metals.FetchSpot(gctx, "XAU", "USD")
			return nil
		})
		g.Go(func() error {
			fx = r.dependency(gctx, "USDTRY")
			return nil
		})
		g.Wait()
		return derived.GramGold(metal, fx)
	case "XAUUSD":
		return r.Metals.FetchSpot(ctx, "XAU", "USD")
	case "XAGUSD":
		return r.Metals.FetchSpot(ctx, "XAG", "USD")
	default: // XAGTRY resolves through the quote provider
		rec := r.Equity.FetchLatest(ctx, symbol.Transform(sym))
		rec.ChangePercent = derived.ClampPercent(rec.ChangePercent, commodityCeilingPercent)
		return rec
	}
}

// dependency resolves an input of a derived instrument within the same pass,
// honoring the cache but refreshing it when stale.
func (r *Resolver) dependency(ctx context.Context, sym string) *model.PriceRecord {
	typ := symbol.Classify(sym)
	if rec, at, ok, err := r.Store.Get(sym); err == nil && ok && freshness.IsValid(typ, at, rec, r.Now()) {
		return rec
	}
	rec := r.Equity.FetchLatest(ctx, symbol.Transform(sym))
	if !rec.Failed() {
		rec.Symbol = sym
		if err := r.Store.Put(sym, rec, r.Now()); err != nil {
			log.Printf("[WARN] cache write %s: %v", sym, err)
		}
	}
	return rec
}

// shouldCache applies the cache-write rule: never cache failures, never
// cache a fund's not-yet-published zero price (so the next cycle refetches),
// and never cache the derived gram-gold instrument, whose inputs move too
// independently for a cached composite to stay meaningful.
func (r *Resolver) shouldCache(sym string, typ model.AssetType, rec *model.PriceRecord) bool {
	if rec.Failed() {
		return false
	}
	if typ == model.AssetFund && rec.Price == 0 {
		return false
	}
	if sym == "GAUTRY" {
		return false
	}
	return true
}

func homeCurrencyRecord(now time.Time) model.PriceRecord {
	prev := 1.0
	return model.PriceRecord{
		Symbol:        symbol.HomeCurrency,
		Price:         1,
		PreviousClose: &prev,
		LastUpdate:    now,
		Name:          "Türk Lirası",
		Currency:      symbol.HomeCurrency,
		Source:        model.SourceCache,
	}
}

func dedupe(symbols []string) []string {
	seen := make(map[string]struct{}, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
