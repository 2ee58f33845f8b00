package viewer

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"strconv"

	"iptv-viewer/internal/platform/metrics"

	"github.com/go-chi/chi/v5"
)

//go:embed templates/index.html
var templateFS embed.FS

var indexTemplate = template.Must(template.ParseFS(templateFS, "templates/index.html"))

// Handler exposes the viewer over HTTP using go-chi.
type Handler struct {
	svc     *Service
	log     *slog.Logger
	metrics *metrics.Metrics
}

// NewHandler returns a Handler that uses the given Service, Logger, and optional Metrics.
// Metrics may be nil to disable metric recording (e.g. in tests).
func NewHandler(svc *Service, log *slog.Logger, m *metrics.Metrics) *Handler {
	return &Handler{svc: svc, log: log, metrics: m}
}

// Routes registers the page, form and JSON API endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/", h.Index)
	r.Post("/load", h.LoadForm)
	r.Post("/channels/{index}/play", h.PlayForm)
	r.Get("/healthz", h.Healthz)

	r.Route("/api", func(r chi.Router) {
		r.Get("/state", h.State)
		r.Post("/playlist", h.LoadPlaylist)
		r.Post("/channels/{index}/play", h.PlayChannel)
		r.Put("/preferences", h.SetPreferences)
	})
}

type urlRequest struct {
	URL string `json:"url"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Status Status `json:"status"`
}

// Index handles GET /: the channel list page.
func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	last, err := h.svc.LastURL(r.Context())
	if err != nil {
		h.log.Warn("read preferences failed", slog.String("error", err.Error()))
	}
	data := struct {
		LastURL  string
		Snapshot Snapshot
	}{LastURL: last, Snapshot: h.svc.Snapshot()}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := indexTemplate.Execute(w, data); err != nil {
		h.log.Error("render index failed", slog.String("error", err.Error()))
	}
}

// LoadForm handles POST /load from the page form and redirects back to /.
func (h *Handler) LoadForm(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	u := r.PostForm.Get("url")
	h.remember(r.Context(), u)
	if _, err := h.svc.LoadPlaylist(r.Context(), u); err != nil {
		h.log.Debug("form load failed", slog.String("error", err.Error()))
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// PlayForm handles POST /channels/{index}/play from the page and redirects back to /.
func (h *Handler) PlayForm(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if err := h.svc.Select(index); err != nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// State handles GET /api/state.
func (h *Handler) State(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Snapshot())
}

// LoadPlaylist handles POST /api/playlist. Body: { "url": "http://host/list.m3u" }.
func (h *Handler) LoadPlaylist(w http.ResponseWriter, r *http.Request) {
	var req urlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.log.Debug("invalid playlist body", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	n, err := h.svc.LoadPlaylist(r.Context(), req.URL)
	if err != nil {
		code := loadErrorStatus(err)
		h.log.Info("playlist load failed",
			slog.String("url", req.URL),
			slog.Int("code", code),
			slog.String("error", err.Error()))
		writeJSON(w, code, errorResponse{Error: err.Error(), Status: h.svc.Snapshot().Status})
		return
	}

	h.log.Debug("playlist loaded", slog.String("url", req.URL), slog.Int("channels", n))
	writeJSON(w, http.StatusOK, h.svc.Snapshot())
}

// PlayChannel handles POST /api/channels/{index}/play.
func (h *Handler) PlayChannel(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if err := h.svc.Select(index); err != nil {
		if errors.Is(err, ErrNoSuchChannel) {
			writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error(), Status: h.svc.Snapshot().Status})
			return
		}
		h.log.Error("select channel failed", slog.Int("index", index), slog.String("error", err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, h.svc.Snapshot())
}

// SetPreferences handles PUT /api/preferences. Body: { "url": "..." }.
func (h *Handler) SetPreferences(w http.ResponseWriter, r *http.Request) {
	var req urlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if err := h.svc.RememberURL(r.Context(), req.URL); err != nil {
		h.log.Error("store preferences failed", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Healthz handles GET /healthz.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) remember(ctx context.Context, u string) {
	if err := h.svc.RememberURL(ctx, u); err != nil {
		h.log.Warn("store preferences failed", slog.String("error", err.Error()))
	}
}

// loadErrorStatus maps a LoadPlaylist error to an HTTP status.
func loadErrorStatus(err error) int {
	switch {
	case errors.Is(err, ErrEmptyURL):
		return http.StatusBadRequest
	case errors.Is(err, ErrStaleLoad):
		return http.StatusConflict
	default:
		return http.StatusBadGateway
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
