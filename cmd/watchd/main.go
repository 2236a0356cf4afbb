package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"portfoliowatch/internal/cache"
	"portfoliowatch/internal/config"
	"portfoliowatch/internal/quote/swissquote"
	"portfoliowatch/internal/quote/tefas"
	"portfoliowatch/internal/quote/yahoo"
	"portfoliowatch/internal/refresher"
	"portfoliowatch/internal/resolver"
	"portfoliowatch/internal/server"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("[INFO] portfoliowatch starting...")

	// Load config
	cfgPath := "configs/config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		cfgPath = v
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("[FATAL] load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("[FATAL] config validation: %v", err)
	}

	// Init cache store
	var store cache.Store
	if cfg.Database.SQLitePath != "" {
		ss, err := cache.NewSQLiteStore(cfg.Database.SQLitePath)
		if err != nil {
			log.Printf("[WARN] init sqlite cache failed, using in-memory: %v", err)
			store = cache.NewMemoryStore()
		} else {
			store = ss
			defer ss.Close()
		}
	} else {
		store = cache.NewMemoryStore()
	}

	// Init provider adapters
	equity := yahoo.New(cfg.Proxy, cfg.ProviderTimeout())
	if cfg.Providers.YahooBaseURL != "" {
		equity.BaseURL = cfg.Providers.YahooBaseURL
	}
	funds := tefas.New(cfg.Proxy, cfg.ProviderTimeout())
	if cfg.Providers.TefasEndpoint != "" {
		funds.Endpoint = cfg.Providers.TefasEndpoint
	}
	metals := swissquote.New(cfg.Proxy, cfg.ProviderTimeout())
	if cfg.Providers.SwissquoteBaseURL != "" {
		metals.BaseURL = cfg.Providers.SwissquoteBaseURL
	}

	// Init resolver
	res := resolver.New(equity, funds, metals, store)
	res.FundConcurrency = cfg.Providers.FundConcurrency
	res.GeneralConcurrency = cfg.Providers.GeneralConcurrency

	// Context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Init refresher
	ref := refresher.NewRefresher(ctx, res, cfg.Portfolio.Symbols, funds)
	if err := ref.Register(cfg.Portfolio.RefreshCron); err != nil {
		log.Fatalf("[FATAL] register refresh task: %v", err)
	}
	ref.Start()
	defer ref.Stop()

	// Optional: warm the cache immediately on start
	if os.Getenv("RUN_ON_START") == "true" {
		log.Println("[INFO] RUN_ON_START enabled, refreshing portfolio now")
		go ref.RunNow()
	}

	// Init HTTP server
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	server.NewServer(res).Mount(r)

	httpSrv := &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: r,
	}
	go func() {
		log.Printf("[INFO] listening on %s", cfg.Server.ListenAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("[FATAL] http server: %v", err)
		}
	}()

	log.Println("[INFO] portfoliowatch is running. Press Ctrl+C to stop.")

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("[INFO] shutdown signal received, stopping...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[ERROR] http shutdown: %v", err)
	}
	cancel()
	log.Println("[INFO] portfoliowatch stopped")
}
