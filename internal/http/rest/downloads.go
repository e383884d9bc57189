package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/Vic92548/vapr-companion/internal/download"
	"github.com/Vic92548/vapr-companion/internal/logctx"
	"github.com/Vic92548/vapr-companion/internal/storage"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
	maxRequestBody      = 1 << 20
)

// DownloadManager is the part of download.Manager the API drives.
type DownloadManager interface {
	Start(ctx context.Context, req download.Request) error
	Pause(ctx context.Context, id string) error
	Resume(ctx context.Context, id string) error
	Cancel(ctx context.Context, id string) error
	List() []download.Info
	Get(id string) (download.Info, error)
}

type DownloadHandler struct {
	manager    DownloadManager
	history    storage.DownloadReadRepository
	events     *EventStream
	instanceID string
}

// NewDownloadHandler creates the download control handler. history and events
// may be nil, in which case their routes answer 404.
func NewDownloadHandler(manager DownloadManager, history storage.DownloadReadRepository, events *EventStream, instanceID string) *DownloadHandler {
	return &DownloadHandler{
		manager:    manager,
		history:    history,
		events:     events,
		instanceID: instanceID,
	}
}

func (h *DownloadHandler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Post("/", h.HandleStart)
	r.Get("/", h.HandleList)
	r.Get("/history", h.HandleHistory)
	r.Get("/interrupted", h.HandleInterrupted)
	r.Get("/events", h.HandleEvents)
	r.Get("/{id}", h.HandleGet)
	r.Post("/{id}/pause", h.HandlePause)
	r.Post("/{id}/resume", h.HandleResume)
	r.Delete("/{id}", h.HandleCancel)

	return r
}

// HandleStart registers a new download; progress is reported through events.
func (h *DownloadHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())

	var req download.Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		logger.Debug("failed to decode download request", "err", err)
		writeError(w, r, http.StatusBadRequest, "invalid request body")

		return
	}

	if err := h.manager.Start(r.Context(), req); err != nil {
		h.writeManagerError(w, r, err)

		return
	}

	logger.Info("download accepted", "download_id", req.ID, "game_id", req.GameID)

	info, err := h.manager.Get(req.ID)
	if err != nil {
		w.WriteHeader(http.StatusAccepted)

		return
	}

	writeJSON(w, r, http.StatusAccepted, info)
}

func (h *DownloadHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, h.manager.List())
}

func (h *DownloadHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	info, err := h.manager.Get(chi.URLParam(r, "id"))
	if err != nil {
		h.writeManagerError(w, r, err)

		return
	}

	writeJSON(w, r, http.StatusOK, info)
}

func (h *DownloadHandler) HandlePause(w http.ResponseWriter, r *http.Request) {
	h.control(w, r, h.manager.Pause)
}

func (h *DownloadHandler) HandleResume(w http.ResponseWriter, r *http.Request) {
	h.control(w, r, h.manager.Resume)
}

func (h *DownloadHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	h.control(w, r, h.manager.Cancel)
}

func (h *DownloadHandler) control(w http.ResponseWriter, r *http.Request, op func(context.Context, string) error) {
	if err := op(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeManagerError(w, r, err)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// HandleEvents streams download events as server-sent events.
func (h *DownloadHandler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		writeError(w, r, http.StatusNotFound, "event stream is disabled")

		return
	}

	h.events.ServeHTTP(w, r)
}

// HandleHistory lists recorded downloads, newest first.
func (h *DownloadHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeError(w, r, http.StatusNotFound, "download history is disabled")

		return
	}

	limit := defaultHistoryLimit

	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxHistoryLimit {
			writeError(w, r, http.StatusBadRequest, "limit must be between 1 and "+strconv.Itoa(maxHistoryLimit))

			return
		}

		limit = n
	}

	records, err := h.history.GetDownloads(r.Context(), limit)
	if err != nil {
		logctx.LoggerFromContext(r.Context()).Error("failed to read download history", "err", err)
		writeError(w, r, http.StatusInternalServerError, "failed to read download history")

		return
	}

	writeJSON(w, r, http.StatusOK, records)
}

// HandleInterrupted lists downloads a previous process left unfinished. The
// launcher can start them again to resume from their partial files.
func (h *DownloadHandler) HandleInterrupted(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeError(w, r, http.StatusNotFound, "download history is disabled")

		return
	}

	records, err := h.history.GetInterrupted(r.Context(), h.instanceID)
	if err != nil {
		logctx.LoggerFromContext(r.Context()).Error("failed to read interrupted downloads", "err", err)
		writeError(w, r, http.StatusInternalServerError, "failed to read interrupted downloads")

		return
	}

	writeJSON(w, r, http.StatusOK, records)
}

func (h *DownloadHandler) writeManagerError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, download.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, download.ErrAlreadyExists):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, download.ErrInvalidRequest):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, download.ErrClosed):
		writeError(w, r, http.StatusServiceUnavailable, err.Error())
	default:
		logctx.LoggerFromContext(r.Context()).Error("download operation failed", "err", err)
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
