package main

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/rickgao/marketfeed/internal/analytics"
	"github.com/rickgao/marketfeed/internal/archive"
	"github.com/rickgao/marketfeed/internal/fanout"
	"github.com/rickgao/marketfeed/internal/ingest"
	"github.com/rickgao/marketfeed/internal/model"
	"github.com/rickgao/marketfeed/internal/stream"
	"github.com/rickgao/marketfeed/internal/version"
)

// reader is the pipeline read API used by the HTTP handlers.
type reader interface {
	Snapshot() (model.Snapshot, bool)
	Assets() []model.Asset
	Asset(id string) (model.Asset, bool)
	History(id string) []model.HistorySample
	Stats() ingest.Stats
}

// routes holds what the HTTP handlers read from.
type routes struct {
	pipeline  reader
	analytics *analytics.Service
	stream    func() stream.Stats
	hub       func() fanout.Stats
	archive   func() archive.Metrics // nil when disabled
}

func newRouter(a *app, ws http.Handler) http.Handler {
	rt := &routes{
		pipeline:  a.pipeline,
		analytics: a.analytics,
		stream:    a.mux.Stats,
		hub:       a.hub.Stats,
	}
	if a.archive != nil {
		rt.archive = a.archive.Stats
	}
	return rt.handler(ws)
}

func (rt *routes) handler(ws http.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /ws", ws)
	mux.HandleFunc("GET /health", rt.health)
	mux.HandleFunc("GET /api/assets", rt.assets)
	mux.HandleFunc("GET /api/assets/{id}", rt.asset)
	mux.HandleFunc("GET /api/assets/{id}/history", rt.history)
	mux.HandleFunc("GET /api/summary", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, rt.analytics.Summary())
	})
	mux.HandleFunc("GET /api/movers", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, rt.analytics.TopMovers(queryInt(r, "limit", analytics.DefaultMoversLimit)))
	})
	mux.HandleFunc("GET /api/distribution", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, rt.analytics.ChangeDistribution())
	})
	mux.HandleFunc("GET /api/dominance", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, rt.analytics.Dominance(queryInt(r, "limit", analytics.DefaultDominanceLimit)))
	})
	mux.HandleFunc("GET /api/velocity", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, rt.analytics.Velocity())
	})
	return mux
}

// health reports "healthy", "degraded" (nothing published yet, or serving
// synthetic data) or "unhealthy" (archive enabled and failing every flush).
func (rt *routes) health(w http.ResponseWriter, r *http.Request) {
	health := struct {
		Status     string         `json:"status"`
		Version    version.Info   `json:"version"`
		Components map[string]any `json:"components"`
	}{
		Status:     "healthy",
		Version:    version.Get(),
		Components: make(map[string]any),
	}

	stats := rt.pipeline.Stats()
	health.Components["ingest"] = stats
	snap, ok := rt.pipeline.Snapshot()
	if !ok || snap.UsedFallback {
		health.Status = "degraded"
	}

	if rt.stream != nil {
		health.Components["stream"] = rt.stream()
	}
	if rt.hub != nil {
		health.Components["hub"] = rt.hub()
	}
	if rt.archive != nil {
		m := rt.archive()
		health.Components["archive"] = m
		if m.Errors > 0 && m.Flushes == 0 {
			health.Status = "unhealthy"
		}
	}

	code := http.StatusOK
	if health.Status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, health)
}

func (rt *routes) assets(w http.ResponseWriter, r *http.Request) {
	snap, _ := rt.pipeline.Snapshot()
	assets := snap.Assets
	if assets == nil {
		assets = []model.Asset{}
	}

	offset := min(max(queryInt(r, "offset", 0), 0), len(assets))
	assets = assets[offset:]
	if limit := queryInt(r, "limit", 0); limit > 0 && limit < len(assets) {
		assets = assets[:limit]
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":         assets,
		"count":        len(assets),
		"lastUpdated":  snap.UpdatedAt,
		"source":       snap.Source,
		"usedFallback": snap.UsedFallback,
	})
}

func (rt *routes) asset(w http.ResponseWriter, r *http.Request) {
	id := strings.ToLower(r.PathValue("id"))
	a, ok := rt.pipeline.Asset(id)
	if !ok {
		writeError(w, http.StatusNotFound, "Unknown asset: "+id)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data":    a,
		"history": nonNil(rt.pipeline.History(id)),
	})
}

func (rt *routes) history(w http.ResponseWriter, r *http.Request) {
	id := strings.ToLower(r.PathValue("id"))
	samples := rt.pipeline.History(id)
	if len(samples) == 0 {
		if _, ok := rt.pipeline.Asset(id); !ok {
			writeError(w, http.StatusNotFound, "Unknown asset: "+id)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":   id,
		"data": nonNil(samples),
	})
}

func nonNil(s []model.HistorySample) []model.HistorySample {
	if s == nil {
		return []model.HistorySample{}
	}
	return s
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
