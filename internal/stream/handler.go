package stream

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// Handler exposes the read side of a Manager over HTTP using go-chi.
// Every response is built from one consistent read of the manager.
type Handler struct {
	mgr *Manager
	log *slog.Logger
}

// NewHandler returns a Handler serving mgr.
func NewHandler(mgr *Manager, log *slog.Logger) *Handler {
	return &Handler{mgr: mgr, log: log}
}

// Routes mounts the handler under a router, e.g. r.Mount("/stream", h.Routes()).
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/status", h.GetStatus)
	r.Get("/snapshot", h.GetSnapshot)
	r.Get("/channels/{channel}/series", h.GetSeries)
	r.Post("/reset", h.Reset)
	return r
}

// GetStatus handles GET /stream/status.
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.mgr.Status())
}

// GetSeries handles GET /stream/channels/{channel}/series?last=N.
// Without last, every aligned sample is returned.
func (h *Handler) GetSeries(w http.ResponseWriter, r *http.Request) {
	channel, err := strconv.Atoi(chi.URLParam(r, "channel"))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	last := 0
	if s := r.URL.Query().Get("last"); s != "" {
		last, err = strconv.Atoi(s)
		if err != nil || last < 0 {
			h.log.Debug("invalid last parameter", slog.String("last", s))
			w.WriteHeader(http.StatusBadRequest)
			return
		}
	}

	series, ok := h.mgr.Series(channel, last)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	h.writeJSON(w, http.StatusOK, series)
}

// GetSnapshot handles GET /stream/snapshot. It answers 204 until every
// channel holds at least one sample.
func (h *Handler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	snap := h.mgr.Snapshot()
	if snap == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"tensor": snap})
}

// Reset handles POST /stream/reset and clears the buffered history.
func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	h.mgr.Reset()
	h.log.Info("stream buffers reset")
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error("encode response failed", slog.String("error", err.Error()))
	}
}
