// Package server exposes the price resolution API over HTTP.
package server

import (
	"encoding/json"
	"net/http"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"

	"portfoliowatch/internal/model"
	"portfoliowatch/internal/resolver"
)

const maxBatchSize = 50

type Server struct {
	Resolver *resolver.Resolver
}

func NewServer(res *resolver.Resolver) *Server {
	return &Server{Resolver: res}
}

func (s *Server) Mount(r chi.Router) {
	r.Get("/healthz", s.handleHealth)
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/prices", s.handlePrices)
		r.Get("/history/{symbol}", s.handleHistory)
		r.Post("/cache/clear", s.handleCacheClear)
	})
}

type pricesResponse struct {
	Prices []model.PriceRecord `json:"prices"`
	Stats  model.Stats         `json:"stats"`
}

func (s *Server) handlePrices(w http.ResponseWriter, r *http.Request) {
	symbols := parseSymbols(r.URL.Query().Get("symbols"))
	if len(symbols) == 0 {
		writeError(w, http.StatusBadRequest, "symbols query parameter is required")
		return
	}
	if len(symbols) > maxBatchSize {
		writeError(w, http.StatusBadRequest, "too many symbols in one request")
		return
	}

	batch := s.Resolver.ResolveBatch(r.Context(), symbols)
	records := make([]model.PriceRecord, 0, len(symbols))
	for rec := range batch.Records {
		records = append(records, rec)
	}
	stats := batch.Wait()

	// Completion order is nondeterministic; present a stable response.
	sort.Slice(records, func(i, j int) bool { return records[i].Symbol < records[j].Symbol })

	writeJSON(w, http.StatusOK, pricesResponse{Prices: records, Stats: stats})
}

type historyResponse struct {
	Symbol string                  `json:"symbol"`
	Range  string                  `json:"range"`
	Points []model.HistoricalPrice `json:"points"`
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	sym := strings.ToUpper(strings.TrimSpace(chi.URLParam(r, "symbol")))
	if sym == "" {
		writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}

	rng := model.Range1M
	if raw := r.URL.Query().Get("range"); raw != "" {
		parsed, ok := model.ParseHistoryRange(raw)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid range")
			return
		}
		rng = parsed
	}

	points, err := s.Resolver.FetchHistory(r.Context(), sym, rng)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, historyResponse{Symbol: sym, Range: string(rng), Points: points})
}

func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	if sym := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("symbol"))); sym != "" {
		if err := s.Resolver.InvalidateSymbol(sym); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to clear cache entry")
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err := s.Resolver.InvalidateCache(); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to clear cache")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type apiError struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, apiError{Error: message})
}

func parseSymbols(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.ToUpper(strings.TrimSpace(p)); s != "" {
			out = append(out, s)
		}
	}
	return out
}
