package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"craft/collab/internal/collab"
	"craft/collab/internal/metrics"
	"craft/collab/internal/models"
	"craft/collab/internal/session"
	"craft/collab/internal/utils"
)

const queryTimeout = 2 * time.Second

type Handlers struct {
	log      *utils.Logger
	coord    *collab.Coordinator
	registry *session.Registry
	upgrader websocket.Upgrader
}

func NewHandlers(log *utils.Logger, coord *collab.Coordinator, registry *session.Registry, checkOrigin func(*http.Request) bool) *Handlers {
	return &Handlers{
		log:      log,
		coord:    coord,
		registry: registry,
		upgrader: websocket.Upgrader{CheckOrigin: checkOrigin},
	}
}

func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	_, _ = w.Write([]byte("ok"))
}

/*** Collab WebSocket: presence + script content relay ***/
func (h *Handlers) CollabWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		metrics.TransportErrors.WithLabelValues("upgrade").Inc()
		h.log.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	h.registry.Serve(conn)
}

func (h *Handlers) Collaborators(w http.ResponseWriter, r *http.Request) {
	scriptID := chi.URLParam(r, "scriptId")
	ctx, cancel := context.WithTimeout(r.Context(), queryTimeout)
	defer cancel()

	members, err := h.coord.Members(ctx, scriptID)
	if err != nil {
		h.log.Error("collaborator lookup failed", "scriptId", scriptID, "error", err)
		utils.JSONError(w, http.StatusServiceUnavailable, "collaboration unavailable")
		return
	}
	utils.JSON(w, http.StatusOK, models.Collaborators{ScriptID: scriptID, ActiveUsers: members})
}

func (h *Handlers) Stats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), queryTimeout)
	defer cancel()

	stats, err := h.coord.Stats(ctx)
	if err != nil {
		h.log.Error("stats lookup failed", "error", err)
		utils.JSONError(w, http.StatusServiceUnavailable, "collaboration unavailable")
		return
	}
	utils.JSON(w, http.StatusOK, stats)
}
