package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/Vic92548/vapr-companion/internal/logctx"
	"github.com/Vic92548/vapr-companion/internal/sdk"
)

// Broadcaster is the launcher-facing side of the session server.
type Broadcaster interface {
	UpdateUserInfo(ctx context.Context, info sdk.UserInfo) (delivered, failed int)
	ClearUserInfo(ctx context.Context)
	UserInfo() (sdk.UserInfo, error)
	ListSessions() []string
}

type SDKHandler struct {
	broadcaster Broadcaster
}

func NewSDKHandler(b Broadcaster) *SDKHandler {
	return &SDKHandler{broadcaster: b}
}

func (h *SDKHandler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Put("/user", h.HandleUpdateUser)
	r.Delete("/user", h.HandleClearUser)
	r.Get("/user", h.HandleGetUser)
	r.Get("/sessions", h.HandleSessions)

	return r
}

type broadcastResponse struct {
	Delivered int `json:"delivered"`
	Failed    int `json:"failed"`
}

type sessionsResponse struct {
	Sessions []string `json:"sessions"`
}

// HandleUpdateUser replaces the signed-in user and pushes it to every game.
func (h *SDKHandler) HandleUpdateUser(w http.ResponseWriter, r *http.Request) {
	var info sdk.UserInfo
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&info); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body")

		return
	}

	if strings.TrimSpace(info.ID) == "" || strings.TrimSpace(info.Username) == "" {
		writeError(w, r, http.StatusBadRequest, "id and username are required")

		return
	}

	delivered, failed := h.broadcaster.UpdateUserInfo(r.Context(), info)

	writeJSON(w, r, http.StatusOK, broadcastResponse{Delivered: delivered, Failed: failed})
}

func (h *SDKHandler) HandleClearUser(w http.ResponseWriter, r *http.Request) {
	h.broadcaster.ClearUserInfo(r.Context())

	w.WriteHeader(http.StatusNoContent)
}

func (h *SDKHandler) HandleGetUser(w http.ResponseWriter, r *http.Request) {
	info, err := h.broadcaster.UserInfo()
	if errors.Is(err, sdk.ErrNoUserInfo) {
		writeError(w, r, http.StatusNotFound, sdk.ErrorMessageNotLoggedIn)

		return
	}

	if err != nil {
		logctx.LoggerFromContext(r.Context()).Error("failed to read user info", "err", err)
		writeError(w, r, http.StatusInternalServerError, "internal error")

		return
	}

	writeJSON(w, r, http.StatusOK, info)
}

func (h *SDKHandler) HandleSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, sessionsResponse{Sessions: h.broadcaster.ListSessions()})
}
