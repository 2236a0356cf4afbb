// Package refresher re-resolves the configured portfolio on a cron schedule
// so the cache stays warm during market hours.
package refresher

import (
	"context"
	"fmt"
	"log"

	"github.com/robfig/cron/v3"

	"portfoliowatch/internal/resolver"
)

// StatsReporter exposes a provider's internal table size for the post-run
// log line.
type StatsReporter interface {
	Stats() (tracked int)
}

// Refresher manages the periodic portfolio refresh.
type Refresher struct {
	Cron      *cron.Cron
	Resolver  *resolver.Resolver
	Symbols   []string
	FundStats StatsReporter
	Ctx       context.Context
}

// NewRefresher creates a refresher for a fixed portfolio.
func NewRefresher(ctx context.Context, res *resolver.Resolver, symbols []string, fundStats StatsReporter) *Refresher {
	return &Refresher{
		Cron:      cron.New(cron.WithSeconds()),
		Resolver:  res,
		Symbols:   symbols,
		FundStats: fundStats,
		Ctx:       ctx,
	}
}

// Register registers the refresh task. A refresher with no portfolio symbols
// registers nothing.
func (r *Refresher) Register(refreshCron string) error {
	if len(r.Symbols) == 0 {
		log.Println("[WARN] no portfolio symbols configured, refresh disabled")
		return nil
	}
	if _, err := r.Cron.AddFunc(refreshCron, r.refreshTask); err != nil {
		return fmt.Errorf("register refresh task: %w", err)
	}
	return nil
}

// Start starts the cron scheduler.
func (r *Refresher) Start() {
	r.Cron.Start()
	log.Println("[INFO] refresher started")
}

// Stop stops the cron scheduler gracefully.
func (r *Refresher) Stop() {
	r.Cron.Stop()
	log.Println("[INFO] refresher stopped")
}

// RunNow executes the refresh immediately (for manual trigger / warm start).
func (r *Refresher) RunNow() {
	r.refreshTask()
}

func (r *Refresher) refreshTask() {
	log.Printf("[INFO] running portfolio refresh, %d symbols", len(r.Symbols))

	batch := r.Resolver.ResolveBatch(r.Ctx, r.Symbols)
	failed := 0
	for rec := range batch.Records {
		if rec.Failed() {
			failed++
			log.Printf("[WARN] refresh %s: %s", rec.Symbol, rec.Error)
		}
	}
	stats := batch.Wait()

	log.Printf("[INFO] refresh done: %d live, %d cached, %d failed", stats.Live, stats.Cached, failed)
	if r.FundStats != nil {
		log.Printf("[INFO] fund provider tracking %d codes", r.FundStats.Stats())
	}
}
