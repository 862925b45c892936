package httpadapter

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"insure-rag/internal/core/ports"
	"insure-rag/internal/observability/metrics"
)

type Router struct {
	chat    ports.ChatService
	admin   ports.CorpusAdmin
	metrics *metrics.ServerMetrics
	limiter *rate.Limiter
	logger  *slog.Logger
}

func NewRouter(
	chat ports.ChatService,
	admin ports.CorpusAdmin,
	serverMetrics *metrics.ServerMetrics,
	limiter *rate.Limiter,
	logger *slog.Logger,
) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		chat:    chat,
		admin:   admin,
		metrics: serverMetrics,
		limiter: limiter,
		logger:  logger,
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", rt.healthz)
	mux.Handle("/v1/chat", rateLimitMiddleware(rt.limiter, http.HandlerFunc(rt.handleChat)))
	mux.HandleFunc("/v1/corpus/reload", rt.handleReload)
	if rt.metrics != nil {
		mux.Handle("/metrics", rt.metrics.Handler())
	}

	var handler http.Handler = mux
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(handler)
	}
	handler = accessLogMiddleware(rt.logger, handler)
	return requestIDMiddleware(handler)
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type chatRequest struct {
	SessionID    string `json:"session_id"`
	Query        string `json:"query"`
	ApplicantAge *int   `json:"applicant_age"`
}

type chatResponse struct {
	SessionID string   `json:"session_id"`
	Answer    string   `json:"answer"`
	Sources   []string `json:"sources"`
	Degraded  bool     `json:"degraded"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (rt *Router) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid json"})
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "query is required"})
		return
	}
	if req.ApplicantAge != nil && (*req.ApplicantAge < 0 || *req.ApplicantAge > 150) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "applicant_age is out of range"})
		return
	}

	start := time.Now()
	result, err := rt.chat.Chat(r.Context(), req.SessionID, req.Query, req.ApplicantAge)
	if err != nil {
		rt.logger.Error("chat_failed",
			"request_id", requestIDFromContext(r.Context()),
			"error", err,
		)
		writeJSON(w, mapErrorToHTTPStatus(err), errorResponse{Error: err.Error()})
		return
	}

	if rt.metrics != nil {
		rt.metrics.RecordChatTurn(result.Degraded, result.ChunkCount == 0, result.ChunkCount, time.Since(start))
	}
	writeJSON(w, http.StatusOK, chatResponse{
		SessionID: result.SessionID,
		Answer:    result.Answer,
		Sources:   result.Sources,
		Degraded:  result.Degraded,
	})
}

type reloadResponse struct {
	Status string `json:"status"`
	Chunks int    `json:"chunks"`
}

func (rt *Router) handleReload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
		return
	}

	chunks, err := rt.admin.Reload(r.Context())
	if rt.metrics != nil {
		rt.metrics.RecordCorpusReload(err, chunks)
	}
	if err != nil {
		rt.logger.Error("corpus_reload_failed",
			"request_id", requestIDFromContext(r.Context()),
			"error", err,
		)
		writeJSON(w, mapErrorToHTTPStatus(err), errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, reloadResponse{Status: "reloaded", Chunks: chunks})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
