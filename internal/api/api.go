// Package api exposes the read-only content, the live chat sessions and
// process status over HTTP.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/health-companion/server/internal/content"
	"github.com/health-companion/server/internal/jsonx"
	"github.com/health-companion/server/internal/session"
	"github.com/health-companion/server/internal/sysinfo"
)

const maxReportBody = 1 << 20

const (
	msgOK              = "ok"
	msgSuccess         = "success"
	msgProductNotFound = "商品不存在"
	msgBadReportBody   = "请求数据格式错误"
	msgTCMReceived     = "数据接收成功"
)

// ContentStore is the catalog and report data served by the API.
type ContentStore interface {
	Product(id string) (content.Product, error)
	Recommendations() []content.Recommendation
	Welcome() content.Welcome
	Devices() []content.Device
	HealthStatus() content.HealthStatus
	News() []content.NewsItem
	WesternReport(content.Criteria) json.RawMessage
	TCMReport(content.Criteria) json.RawMessage
}

// SessionLister lists live chat sessions.
type SessionLister interface {
	GetAll() []*session.SessionState
	Count() int
	StreamingCount() int
}

// StatusCollector samples process metrics.
type StatusCollector interface {
	Collect(ctx context.Context) (*sysinfo.Snapshot, error)
}

// dashboardResponse is the envelope of the home screen endpoints.
type dashboardResponse struct {
	Code int    `json:"code"`
	Data any    `json:"data"`
	Msg  string `json:"msg"`
}

// catalogResponse is the envelope of the product and western report
// endpoints.
type catalogResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data"`
}

type tcmResponse struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
	Data    any    `json:"data"`
	Status  string `json:"status"`
}

type healthzResponse struct {
	Status    string `json:"status"`
	Sessions  *int   `json:"sessions,omitempty"`
	Streaming *int   `json:"streaming,omitempty"`
}

type Handler struct {
	content  ContentStore
	sessions SessionLister
	status   StatusCollector
	logger   *zap.Logger
}

// New returns the API handler. sessions and status may be nil, in which
// case their endpoints answer 503.
func New(store ContentStore, sessions SessionLister, status StatusCollector, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{content: store, sessions: sessions, status: status, logger: logger}
}

// Register adds every API route to r.
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/healthz", h.handleHealthz).Methods(http.MethodGet)

	a := r.PathPrefix("/api").Subrouter()
	a.HandleFunc("/welcome", h.handleWelcome).Methods(http.MethodGet)
	a.HandleFunc("/devices", h.handleDevices).Methods(http.MethodGet)
	a.HandleFunc("/health-status", h.handleHealthStatus).Methods(http.MethodGet)
	a.HandleFunc("/news", h.handleNews).Methods(http.MethodGet)
	a.HandleFunc("/products/recommendations", h.handleRecommendations).Methods(http.MethodGet)
	a.HandleFunc("/products/{id}", h.handleProduct).Methods(http.MethodGet)
	a.HandleFunc("/health-reports/western", h.handleWesternReport).Methods(http.MethodPost)
	a.HandleFunc("/health-reports/tcm", h.handleTCMReport).Methods(http.MethodPost)
	a.HandleFunc("/sessions", h.handleSessions).Methods(http.MethodGet)
	a.HandleFunc("/system", h.handleSystem).Methods(http.MethodGet)
}

func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := healthzResponse{Status: "ok"}
	if h.sessions != nil {
		total, streaming := h.sessions.Count(), h.sessions.StreamingCount()
		resp.Sessions = &total
		resp.Streaming = &streaming
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleWelcome(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, dashboardResponse{Code: 0, Data: h.content.Welcome(), Msg: msgOK})
}

func (h *Handler) handleDevices(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, dashboardResponse{Code: 0, Data: h.content.Devices(), Msg: msgOK})
}

func (h *Handler) handleHealthStatus(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, dashboardResponse{Code: 0, Data: h.content.HealthStatus(), Msg: msgOK})
}

func (h *Handler) handleNews(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, dashboardResponse{Code: http.StatusOK, Data: h.content.News(), Msg: msgOK})
}

func (h *Handler) handleRecommendations(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, catalogResponse{
		Code:    http.StatusOK,
		Message: msgSuccess,
		Data:    h.content.Recommendations(),
	})
}

func (h *Handler) handleProduct(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	p, err := h.content.Product(id)
	if errors.Is(err, content.ErrProductNotFound) {
		h.writeJSON(w, http.StatusNotFound, catalogResponse{
			Code:    http.StatusNotFound,
			Message: msgProductNotFound,
		})
		return
	}
	if err != nil {
		h.logger.Error("product lookup failed", zap.String("id", id), zap.Error(err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, catalogResponse{Code: http.StatusOK, Message: msgSuccess, Data: p})
}

func (h *Handler) handleWesternReport(w http.ResponseWriter, r *http.Request) {
	criteria, ok := h.decodeCriteria(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, catalogResponse{
		Code:    http.StatusOK,
		Message: msgSuccess,
		Data:    h.content.WesternReport(criteria),
	})
}

func (h *Handler) handleTCMReport(w http.ResponseWriter, r *http.Request) {
	criteria, ok := h.decodeCriteria(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, tcmResponse{
		Message: msgTCMReceived,
		Code:    http.StatusOK,
		Data:    h.content.TCMReport(criteria),
		Status:  msgSuccess,
	})
}

// decodeCriteria reads an optional JSON object body. On failure it has
// already answered 400.
func (h *Handler) decodeCriteria(w http.ResponseWriter, r *http.Request) (content.Criteria, bool) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxReportBody))
	if err != nil {
		h.writeBadReport(w, err)
		return nil, false
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, true
	}
	var c content.Criteria
	if err := jsonx.Unmarshal(body, &c); err != nil {
		h.writeBadReport(w, err)
		return nil, false
	}
	return c, true
}

func (h *Handler) writeBadReport(w http.ResponseWriter, err error) {
	h.logger.Debug("rejecting report body", zap.Error(err))
	h.writeJSON(w, http.StatusBadRequest, catalogResponse{
		Code:    http.StatusBadRequest,
		Message: msgBadReportBody,
	})
}

func (h *Handler) handleSessions(w http.ResponseWriter, r *http.Request) {
	if h.sessions == nil {
		http.Error(w, "sessions not available", http.StatusServiceUnavailable)
		return
	}
	sessions := h.sessions.GetAll()
	if sessions == nil {
		sessions = []*session.SessionState{}
	}
	h.writeJSON(w, http.StatusOK, sessions)
}

func (h *Handler) handleSystem(w http.ResponseWriter, r *http.Request) {
	if h.status == nil {
		http.Error(w, "system status not available", http.StatusServiceUnavailable)
		return
	}
	snap, err := h.status.Collect(r.Context())
	if err != nil {
		h.logger.Warn("collecting system status", zap.Error(err))
		http.Error(w, "system status not available", http.StatusServiceUnavailable)
		return
	}
	h.writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := jsonx.NewEncoder(w).Encode(v); err != nil {
		h.logger.Debug("writing response", zap.Error(err))
	}
}
