package admin

import (
	"encoding/json"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/learnwise/cachecore/cache"
	"github.com/learnwise/cachecore/optimizer"
	"github.com/learnwise/cachecore/resilience"
	"github.com/learnwise/cachecore/warming"
)

// dashboardHistory is how many optimization results the dashboard shows.
const dashboardHistory = 10

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	health := h.Store.HealthCheck(r.Context())
	status := http.StatusOK
	if health.Status != cache.StatusHealthy {
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, status, health)
}

type metricsView struct {
	cache.Snapshot
	Connected   bool   `json:"connected"`
	Compression bool   `json:"compression"`
	DefaultTTL  string `json:"defaultTTL"`
}

func (h *handler) metricsView() metricsView {
	return metricsView{
		Snapshot:    h.Store.Metrics().Snapshot(),
		Connected:   h.Store.IsConnected(),
		Compression: h.Store.CompressionEnabled(),
		DefaultTTL:  h.Store.DefaultTTL().String(),
	}
}

func (h *handler) metrics(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.metricsView())
}

type dashboard struct {
	Health          cache.Health                              `json:"health"`
	Metrics         metricsView                               `json:"metrics"`
	Warming         *warming.Status                           `json:"warming,omitempty"`
	CircuitBreakers map[string]resilience.CircuitBreakerStats `json:"circuitBreakers,omitempty"`
	Optimizations   []optimizer.Result                        `json:"optimizations,omitempty"`
}

func (h *handler) dashboard(w http.ResponseWriter, r *http.Request) {
	d := dashboard{
		Health:  h.Store.HealthCheck(r.Context()),
		Metrics: h.metricsView(),
	}
	if h.Scheduler != nil {
		status := h.Scheduler.Status()
		d.Warming = &status
	}
	if h.Controller != nil {
		d.CircuitBreakers = h.Controller.CircuitBreakers()
	}
	if h.Optimizer != nil {
		history := h.Optimizer.History()
		if len(history) > dashboardHistory {
			history = history[len(history)-dashboardHistory:]
		}
		d.Optimizations = history
	}
	respondJSON(w, http.StatusOK, d)
}

func (h *handler) resetMetrics(w http.ResponseWriter, r *http.Request) {
	h.Store.ResetMetrics()
	h.logger.Info("metrics reset")
	respondJSON(w, http.StatusOK, h.Store.Metrics().Snapshot())
}

func (h *handler) warmingStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.Scheduler.Status())
}

func (h *handler) startWarming(w http.ResponseWriter, r *http.Request) {
	if err := h.Scheduler.Start(h.Context); err != nil {
		if errors.Is(err, warming.ErrAlreadyRunning) {
			respondError(w, http.StatusConflict, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, h.Scheduler.Status())
}

func (h *handler) stopWarming(w http.ResponseWriter, r *http.Request) {
	h.Scheduler.Stop()
	respondJSON(w, http.StatusOK, h.Scheduler.Status())
}

func (h *handler) triggerWarming(w http.ResponseWriter, r *http.Request) {
	result, err := h.Scheduler.TriggerStrategy(r.Context(), chi.URLParam(r, "strategy"))
	if err != nil {
		if errors.Is(err, warming.ErrStrategyNotFound) {
			respondError(w, http.StatusNotFound, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, result)
}

type invalidated struct {
	Target  string `json:"target"`
	Deleted int    `json:"deleted"`
}

func (h *handler) invalidatePattern(w http.ResponseWriter, r *http.Request) {
	pattern := r.URL.Query().Get("pattern")
	if pattern == "" {
		respondError(w, http.StatusBadRequest, "pattern query parameter is required")
		return
	}
	respondJSON(w, http.StatusOK, invalidated{pattern, h.Store.InvalidatePattern(r.Context(), pattern)})
}

func (h *handler) invalidateTag(w http.ResponseWriter, r *http.Request) {
	tag := chi.URLParam(r, "tag")
	respondJSON(w, http.StatusOK, invalidated{tag, h.Store.InvalidateTag(r.Context(), tag)})
}

func (h *handler) invalidateUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	respondJSON(w, http.StatusOK, invalidated{userID, h.Sessions.InvalidateUser(r.Context(), userID)})
}

func (h *handler) invalidateSymbol(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")
	respondJSON(w, http.StatusOK, invalidated{symbol, h.Trading.InvalidateSymbol(r.Context(), symbol)})
}

func (h *handler) invalidateCourse(w http.ResponseWriter, r *http.Request) {
	courseID := chi.URLParam(r, "courseID")
	respondJSON(w, http.StatusOK, invalidated{courseID, h.Courses.InvalidateCourse(r.Context(), courseID)})
}

func (h *handler) listKeys(w http.ResponseWriter, r *http.Request) {
	pattern := r.URL.Query().Get("pattern")
	if pattern == "" {
		pattern = "*"
	}
	keys := h.Store.Keys(r.Context(), pattern)
	respondJSON(w, http.StatusOK, map[string]any{"pattern": pattern, "count": len(keys), "keys": keys})
}

// KeyValue is the raw view of one entry. JSON payloads are embedded as-is,
// other text as a string and binary data base64 encoded.
type KeyValue struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
	TTL   string `json:"ttl,omitempty"`
	Size  int    `json:"size"`
}

func (h *handler) getKey(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	raw, ok := h.Store.Get(r.Context(), key)
	if !ok {
		respondError(w, http.StatusNotFound, "key not found: "+key)
		return
	}
	kv := KeyValue{Key: key, Size: len(raw)}
	switch {
	case json.Valid(raw):
		kv.Value = json.RawMessage(raw)
	case utf8.Valid(raw):
		kv.Value = string(raw)
	default:
		kv.Value = raw
	}
	if ttl, ok := h.Store.TTL(r.Context(), key); ok && ttl > 0 {
		kv.TTL = ttl.Round(time.Second).String()
	}
	respondJSON(w, http.StatusOK, kv)
}

func (h *handler) deleteKey(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if !h.Store.Exists(r.Context(), key) {
		respondError(w, http.StatusNotFound, "key not found: "+key)
		return
	}
	if !h.Store.Del(r.Context(), key) {
		respondError(w, http.StatusServiceUnavailable, "delete failed: "+key)
		return
	}
	respondJSON(w, http.StatusOK, invalidated{key, 1})
}

func (h *handler) clear(w http.ResponseWriter, r *http.Request) {
	if !h.Store.FlushAll(r.Context()) {
		respondError(w, http.StatusServiceUnavailable, "flush failed")
		return
	}
	h.logger.Warn("cache cleared by %s", r.RemoteAddr)
	respondJSON(w, http.StatusOK, map[string]bool{"cleared": true})
}

func (h *handler) recommendations(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.Optimizer.Recommendations(r.Context()))
}

func (h *handler) optimizationConfig(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.Optimizer.Config(r.Context()))
}

func (h *handler) updateOptimizationConfig(w http.ResponseWriter, r *http.Request) {
	var update optimizer.ConfigUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := h.Optimizer.UpdateConfig(r.Context(), update); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, h.Optimizer.Config(r.Context()))
}

func (h *handler) triggerOptimization(w http.ResponseWriter, r *http.Request) {
	results, err := h.Optimizer.TriggerOptimization(r.Context(), r.URL.Query().Get("rule"))
	if err != nil {
		if errors.Is(err, optimizer.ErrRuleNotFound) {
			respondError(w, http.StatusNotFound, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if results == nil {
		results = []optimizer.Result{}
	}
	respondJSON(w, http.StatusOK, results)
}

func (h *handler) optimizationHistory(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.Optimizer.History())
}

func (h *handler) fallbackStrategies(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.Controller.Strategies())
}

func (h *handler) circuitBreakers(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.Controller.CircuitBreakers())
}

func (h *handler) resetCircuitBreaker(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !h.Controller.ResetCircuitBreaker(name) {
		respondError(w, http.StatusNotFound, "no circuit breaker for "+name)
		return
	}
	respondJSON(w, http.StatusOK, h.Controller.CircuitBreakers()[name])
}
