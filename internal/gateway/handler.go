package gateway

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/skyrail-ai/skyrail-gateway/internal/auth"
	"github.com/skyrail-ai/skyrail-gateway/internal/cache"
	"github.com/skyrail-ai/skyrail-gateway/internal/config"
	"github.com/skyrail-ai/skyrail-gateway/internal/cost"
	"github.com/skyrail-ai/skyrail-gateway/internal/filter"
	"github.com/skyrail-ai/skyrail-gateway/internal/httputil"
	"github.com/skyrail-ai/skyrail-gateway/internal/router"
	"github.com/skyrail-ai/skyrail-gateway/internal/tasks"
	"github.com/skyrail-ai/skyrail-gateway/internal/telemetry"
	"github.com/skyrail-ai/skyrail-gateway/internal/types"
)

// HandlerDeps carries the collaborators the HTTP layer needs. Manager,
// Registry, Health, Runtime, and Cfg are required; the rest may be nil and
// the endpoints that use them degrade to empty sections.
type HandlerDeps struct {
	Manager     *tasks.Manager
	Registry    *router.Registry
	Health      *router.HealthTracker
	Runtime     *config.Runtime
	Stats       *telemetry.Stats
	Costs       *cost.Tracker
	Cache       *cache.ResponseCache
	Metrics     *telemetry.Metrics
	FilterChain *filter.Chain
	Cfg         func() *config.Config
}

// Handler holds dependencies for the gateway HTTP handlers.
type Handler struct {
	manager     *tasks.Manager
	registry    *router.Registry
	health      *router.HealthTracker
	runtime     *config.Runtime
	stats       *telemetry.Stats
	costs       *cost.Tracker
	respCache   *cache.ResponseCache
	metrics     *telemetry.Metrics
	filterChain *filter.Chain
	cfg         func() *config.Config
}

func NewHandler(deps HandlerDeps) *Handler {
	return &Handler{
		manager:     deps.Manager,
		registry:    deps.Registry,
		health:      deps.Health,
		runtime:     deps.Runtime,
		stats:       deps.Stats,
		costs:       deps.Costs,
		respCache:   deps.Cache,
		metrics:     deps.Metrics,
		filterChain: deps.FilterChain,
		cfg:         deps.Cfg,
	}
}

// CreateResponse handles POST /responses
func (h *Handler) CreateResponse(w http.ResponseWriter, r *http.Request) {
	reqID := w.Header().Get("X-Request-ID")
	receivedAt := time.Now()

	authInfo, ok := auth.AuthFromContext(r.Context())
	if !ok {
		httputil.WriteAuthError(w, reqID, "Not authenticated")
		return
	}

	// Parse request body
	body, err := io.ReadAll(r.Body)
	if err != nil {
		httputil.WriteBadRequestError(w, reqID, "Failed to read request body")
		return
	}
	defer r.Body.Close()

	var req types.SkyrailRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httputil.WriteBadRequestError(w, reqID, "Invalid JSON: "+err.Error())
		return
	}

	// Enrich with auth context
	req.RequestID = reqID
	req.OrganizationID = authInfo.OrganizationID
	req.TeamID = authInfo.TeamID
	req.UserID = authInfo.UserID
	req.APIKeyID = authInfo.KeyID
	req.Classification = authInfo.MaxClassification
	req.ReceivedAt = receivedAt

	// Background tasks validate the rest asynchronously, so the one check
	// that must produce a 400 before a task exists happens here.
	if len(req.Input) == 0 {
		httputil.WriteBadRequestError(w, reqID, "input is required and must be a non-empty array")
		return
	}

	// Run content filter chain (secrets, injection, policy)
	if h.filterChain != nil {
		results, blocked := h.filterChain.Run(r.Context(), &req)
		if blocked != nil {
			slog.Warn("request blocked by filter",
				"request_id", reqID,
				"filter", blocked.FilterName,
				"detections", blocked.Detections,
				"score", blocked.Score,
				"org_id", authInfo.OrganizationID,
			)
			if h.metrics != nil {
				h.metrics.RecordFilterAction(blocked.FilterName, string(blocked.Action))
			}
			httputil.WriteContentBlockedError(w, reqID, blocked.Message)
			return
		}
		// Record flagged filters
		for _, fr := range results {
			if fr.Action == filter.ActionFlag && h.metrics != nil {
				h.metrics.RecordFilterAction(fr.FilterName, "flag")
			}
		}
	}

	switch {
	case req.Stream && !req.Background:
		// Streaming runs through the task log too, so the client can
		// reconnect at /responses/{id}/stream if the SSE drops.
		req.Background = true
		st, _ := h.manager.Create(r.Context(), &req)
		sub, ok := h.manager.Subscribe(st.ID, -1)
		if !ok {
			httputil.WriteInternalError(w, reqID, "Failed to open response stream")
			return
		}
		slog.Info("streaming started",
			"request_id", reqID,
			"response_id", st.ID,
			"model", req.Model,
			"org_id", authInfo.OrganizationID,
		)
		h.streamEvents(w, r, reqID, st.ID, sub)

	case req.Background:
		st, _ := h.manager.Create(r.Context(), &req)
		h.writeStatus(w, http.StatusOK, st)

	default:
		st, err := h.manager.Create(r.Context(), &req)
		if err != nil {
			h.writeGatewayError(w, reqID, err)
			return
		}
		h.writeStatus(w, http.StatusOK, st)
	}
}

// ListResponses handles GET /responses
func (h *Handler) ListResponses(w http.ResponseWriter, r *http.Request) {
	reqID := w.Header().Get("X-Request-ID")

	if _, ok := auth.AuthFromContext(r.Context()); !ok {
		httputil.WriteAuthError(w, reqID, "Not authenticated")
		return
	}

	writeJSON(w, http.StatusOK, responseListResponse{Object: "list", Data: h.manager.List()})
}

// GetResponse handles GET /responses/{id}
func (h *Handler) GetResponse(w http.ResponseWriter, r *http.Request) {
	reqID := w.Header().Get("X-Request-ID")

	if _, ok := auth.AuthFromContext(r.Context()); !ok {
		httputil.WriteAuthError(w, reqID, "Not authenticated")
		return
	}

	id := chi.URLParam(r, "id")
	st, ok := h.manager.Get(id)
	if !ok {
		httputil.WriteNotFoundError(w, reqID, fmt.Sprintf("Response %s not found", id))
		return
	}
	h.writeStatus(w, http.StatusOK, st)
}

// StreamResponse handles GET /responses/{id}/stream
func (h *Handler) StreamResponse(w http.ResponseWriter, r *http.Request) {
	reqID := w.Header().Get("X-Request-ID")

	if _, ok := auth.AuthFromContext(r.Context()); !ok {
		httputil.WriteAuthError(w, reqID, "Not authenticated")
		return
	}

	id := chi.URLParam(r, "id")

	startingAfter := -1
	if raw := r.URL.Query().Get("starting_after"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			httputil.WriteBadRequestError(w, reqID, "starting_after must be an integer")
			return
		}
		startingAfter = v
	}

	sub, ok := h.manager.Subscribe(id, startingAfter)
	if !ok {
		httputil.WriteNotFoundError(w, reqID, fmt.Sprintf("Response %s not found", id))
		return
	}
	h.streamEvents(w, r, reqID, id, sub)
}

// ListModels handles GET /models
func (h *Handler) ListModels(w http.ResponseWriter, r *http.Request) {
	reqID := w.Header().Get("X-Request-ID")

	authInfo, ok := auth.AuthFromContext(r.Context())
	if !ok {
		httputil.WriteAuthError(w, reqID, "Not authenticated")
		return
	}

	var models []modelObject
	for _, info := range h.registry.ListModels() {
		// Filter by allowed models if set
		if len(authInfo.AllowedModels) > 0 {
			allowed := false
			for _, m := range authInfo.AllowedModels {
				if m == info.ID {
					allowed = true
					break
				}
			}
			if !allowed {
				continue
			}
		}
		models = append(models, newModelObject(info))
	}

	writeJSON(w, http.StatusOK, modelListResponse{Object: "list", Data: models})
}

// GetModel handles GET /models/{id}. Model ids contain slashes, so clients
// path-escape them and the route param arrives still encoded.
func (h *Handler) GetModel(w http.ResponseWriter, r *http.Request) {
	reqID := w.Header().Get("X-Request-ID")

	if _, ok := auth.AuthFromContext(r.Context()); !ok {
		httputil.WriteAuthError(w, reqID, "Not authenticated")
		return
	}

	modelID := chi.URLParam(r, "id")
	if unescaped, err := url.PathUnescape(modelID); err == nil {
		modelID = unescaped
	}

	info, ok := h.registry.ModelInfo(modelID)
	if !ok {
		httputil.WriteNotFoundError(w, reqID, fmt.Sprintf("Model %s not found", modelID))
		return
	}
	writeJSON(w, http.StatusOK, newModelObject(info))
}

// GatewayHealth handles GET /gateway/health
func (h *Handler) GatewayHealth(w http.ResponseWriter, r *http.Request) {
	cfg := h.runtime.Snapshot()
	statuses := h.health.Statuses(cfg.UnhealthyThreshold)

	summary := healthSummary{Total: len(statuses)}
	for _, st := range statuses {
		switch st.Status {
		case router.HealthHealthy:
			summary.Healthy++
		case router.HealthDegraded:
			summary.Degraded++
		case router.HealthUnhealthy:
			summary.Unhealthy++
		}
	}

	writeJSON(w, http.StatusOK, healthResponse{
		Status:    h.health.Overall(cfg.UnhealthyThreshold),
		Providers: statuses,
		Summary:   summary,
	})
}

// GetMetrics handles GET /gateway/metrics
func (h *Handler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	var out metricsResponse
	if h.stats != nil {
		out.Requests = h.stats.Snapshot()
	}
	if h.costs != nil {
		out.Costs = h.costs.Snapshot()
	}
	if h.respCache != nil {
		out.Cache = h.respCache.Stats()
	}
	writeJSON(w, http.StatusOK, out)
}

// ResetMetrics handles DELETE /gateway/metrics. Accumulated request counters
// and cost ledgers restart from zero; breaker and rate-limit state is kept.
func (h *Handler) ResetMetrics(w http.ResponseWriter, r *http.Request) {
	if h.stats != nil {
		h.stats.Reset()
	}
	if h.costs != nil {
		h.costs.Reset()
	}
	if h.metrics != nil {
		h.metrics.SetBudgetAlert(false)
	}
	slog.Info("gateway metrics reset", "request_id", w.Header().Get("X-Request-ID"))
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// GetConfig handles GET /gateway/config
func (h *Handler) GetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.runtime.Snapshot())
}

// UpdateConfig handles PUT /gateway/config. The patch is an allow-list:
// recognized keys are merged, unknown keys are ignored.
func (h *Handler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	reqID := w.Header().Get("X-Request-ID")

	var patch config.GatewayPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		httputil.WriteBadRequestError(w, reqID, "Invalid JSON: "+err.Error())
		return
	}
	defer r.Body.Close()

	updated := h.runtime.Apply(patch)
	slog.Info("gateway config updated", "request_id", reqID)
	writeJSON(w, http.StatusOK, updated)
}

// writeGatewayError maps a dispatch error onto the wire envelope. Errors
// outside the dispatch taxonomy surface as a generic internal error; the
// original is logged, not echoed.
func (h *Handler) writeGatewayError(w http.ResponseWriter, reqID string, err error) {
	status := HTTPStatus(err)
	if status == http.StatusInternalServerError {
		slog.Error("unexpected dispatch error", "request_id", reqID, "error", err)
		err = &InternalError{Err: err}
	}
	httputil.WriteError(w, reqID, status, ErrorType(err), "", err.Error())
}

func (h *Handler) writeStatus(w http.ResponseWriter, status int, st tasks.ResponseStatus) {
	writeJSON(w, status, st)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type responseListResponse struct {
	Object string                 `json:"object"`
	Data   []tasks.ResponseStatus `json:"data"`
}

type modelObject struct {
	ID                string         `json:"id"`
	Object            string         `json:"object"`
	Created           int64          `json:"created"`
	OwnedBy           string         `json:"owned_by"`
	DisplayName       string         `json:"display_name,omitempty"`
	ContextWindow     int            `json:"context_window,omitempty"`
	SupportsStreaming bool           `json:"supports_streaming"`
	SupportsReasoning bool           `json:"supports_reasoning"`
	Pricing           config.Pricing `json:"pricing"`
	Fallbacks         []string       `json:"fallbacks,omitempty"`
}

func newModelObject(info config.ModelInfo) modelObject {
	return modelObject{
		ID:                info.ID,
		Object:            "model",
		OwnedBy:           info.Provider,
		DisplayName:       info.DisplayName,
		ContextWindow:     info.ContextWindow,
		SupportsStreaming: info.SupportsStreaming,
		SupportsReasoning: info.SupportsReasoning,
		Pricing:           info.Pricing,
		Fallbacks:         info.Fallbacks,
	}
}

type modelListResponse struct {
	Object string        `json:"object"`
	Data   []modelObject `json:"data"`
}

type healthResponse struct {
	Status    string                         `json:"status"`
	Providers map[string]router.HealthStatus `json:"providers"`
	Summary   healthSummary                  `json:"summary"`
}

type healthSummary struct {
	Total     int `json:"total"`
	Healthy   int `json:"healthy"`
	Degraded  int `json:"degraded"`
	Unhealthy int `json:"unhealthy"`
}

type metricsResponse struct {
	Requests telemetry.StatsSnapshot `json:"requests"`
	Costs    cost.Snapshot           `json:"costs"`
	Cache    cache.CacheStats        `json:"cache"`
}
