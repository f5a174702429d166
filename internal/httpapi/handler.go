package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"topic_syncer/internal/domain"
	"topic_syncer/internal/query"
)

const maxLimit = 50

// Query is the read side served over HTTP.
type Query interface {
	Categories(ctx context.Context) ([]string, error)
	TopicsFor(ctx context.Context, category string, limit int) ([]query.TopicView, error)
}

// Handler exposes the mirror as a read-only JSON API.
type Handler struct {
	query        Query
	defaultLimit int
	logger       *slog.Logger
}

func NewHandler(q Query, defaultLimit int, logger *slog.Logger) *Handler {
	if defaultLimit < 1 {
		defaultLimit = 1
	}
	return &Handler{
		query:        q,
		defaultLimit: defaultLimit,
		logger:       logger.With("component", "httpapi"),
	}
}

// RegisterRoutes registers the routes for this handler
func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/healthz", h.health).Methods(http.MethodGet)
	router.HandleFunc("/api/categories", h.categories).Methods(http.MethodGet)
	router.HandleFunc("/api/categories/{name}/topics", h.topics).Methods(http.MethodGet)
}

type errorResponse struct {
	Error string `json:"error"`
}

type categoriesResponse struct {
	Categories []string `json:"categories"`
}

type topicsResponse struct {
	Category string            `json:"category"`
	Topics   []query.TopicView `json:"topics"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) categories(w http.ResponseWriter, r *http.Request) {
	names, err := h.query.Categories(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, categoriesResponse{Categories: names})
}

func (h *Handler) topics(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	limit := h.defaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxLimit {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "limit must be between 1 and 50"})
			return
		}
		limit = n
	}

	views, err := h.query.TopicsFor(r.Context(), name, limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, topicsResponse{Category: name, Topics: views})
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusServiceUnavailable
	if errors.Is(err, domain.ErrCategoryNotFound) {
		status = http.StatusNotFound
	} else {
		h.logger.Error("request failed", "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, errorResponse{Error: query.UserMessage(err)})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
