// Package web serves the agent's status page, delivery history and metrics.
package web

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/t77yq/registry-monitor/internal/model"
	"github.com/t77yq/registry-monitor/internal/storage"
	"github.com/t77yq/registry-monitor/internal/version"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
	statusTimeout       = 10 * time.Second
)

// ConnectionChecker reports the coordination store connection state
type ConnectionChecker interface {
	Connected() bool
}

// ComplianceReporter evaluates every watched path
type ComplianceReporter interface {
	Status(ctx context.Context) map[string]model.ComplianceStatus
}

// DispatcherReporter describes the alert dispatcher
type DispatcherReporter interface {
	Status(ctx context.Context) model.DispatcherStatus
}

// HistoryReader lists recorded deliveries
type HistoryReader interface {
	List(ctx context.Context, filter storage.HistoryFilter, offset, limit int) ([]*model.Delivery, error)
}

// StatusDocument is served on /status. Fields are declared in key order so
// the encoded document has sorted keys.
type StatusDocument struct {
	Dispatcher model.DispatcherStatus `json:"dispatcher"`
	Monitor    MonitorStatus          `json:"monitor"`
	Registry   RegistryStatus         `json:"registry"`
	Version    string                 `json:"version"`
}

type MonitorStatus struct {
	Compliance map[string]model.ComplianceStatus `json:"compliance"`
}

type RegistryStatus struct {
	Connected bool `json:"connected"`
}

// Dependencies are the components the handler reports on. History may be nil.
type Dependencies struct {
	Registry   ConnectionChecker
	Monitor    ComplianceReporter
	Dispatcher DispatcherReporter
	History    HistoryReader
}

// Handler is the HTTP handler for the status endpoints
type Handler struct {
	logger *zap.Logger
	deps   Dependencies
	mux    *http.ServeMux
}

// NewHandler creates a Handler and registers all routes
func NewHandler(deps Dependencies, logger *zap.Logger) http.Handler {
	h := &Handler{
		logger: logger.Named("web"),
		deps:   deps,
		mux:    http.NewServeMux(),
	}

	h.mux.HandleFunc("/", h.root)
	h.mux.HandleFunc("/status", h.status)
	h.mux.HandleFunc("/history", h.history)
	h.mux.Handle("/metrics", promhttp.Handler())

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) root(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=UTF-8")
	_, _ = w.Write([]byte("registry-monitor " + version.Version + "\n"))
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), statusTimeout)
	defer cancel()

	doc := StatusDocument{
		Dispatcher: h.deps.Dispatcher.Status(ctx),
		Monitor:    MonitorStatus{Compliance: h.deps.Monitor.Status(ctx)},
		Registry:   RegistryStatus{Connected: h.deps.Registry.Connected()},
		Version:    version.Version,
	}

	data, err := json.MarshalIndent(doc, "", "    ")
	if err != nil {
		h.logger.Error("Failed to encode status", zap.Error(err))
		jsonErr(w, http.StatusInternalServerError, "failed to encode status")
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if h.deps.History == nil {
		jsonErr(w, http.StatusServiceUnavailable, "history is disabled")
		return
	}

	q := r.URL.Query()
	limit, ok := intParam(q.Get("limit"), defaultHistoryLimit)
	if !ok || limit <= 0 {
		jsonErr(w, http.StatusBadRequest, "invalid limit")
		return
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	offset, ok := intParam(q.Get("offset"), 0)
	if !ok || offset < 0 {
		jsonErr(w, http.StatusBadRequest, "invalid offset")
		return
	}

	filter := storage.HistoryFilter{Path: q.Get("path"), Backend: q.Get("backend")}
	deliveries, err := h.deps.History.List(r.Context(), filter, offset, limit)
	if err != nil {
		h.logger.Error("Failed to list history", zap.Error(err))
		jsonErr(w, http.StatusInternalServerError, "failed to list history")
		return
	}
	if deliveries == nil {
		deliveries = []*model.Delivery{}
	}

	jsonResp(w, http.StatusOK, deliveries)
}

func intParam(raw string, fallback int) (int, bool) {
	if raw == "" {
		return fallback, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return n, true
}

func jsonResp(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func jsonErr(w http.ResponseWriter, status int, msg string) {
	jsonResp(w, status, map[string]string{"error": msg})
}
