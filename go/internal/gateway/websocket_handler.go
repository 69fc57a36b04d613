package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/watchparty/go/internal/catalog"
	"github.com/mcdev12/watchparty/go/internal/models"
	"github.com/mcdev12/watchparty/go/internal/videosync"
)

// SessionFactory builds a session for one connection. The gateway adds its
// own options, such as the status hook.
type SessionFactory func(opts ...videosync.Option) *videosync.Session

// WebSocketHandler serves /ws/watch: each connection is one viewer whose
// player is driven through a Sync Session.
type WebSocketHandler struct {
	connectionManager *ConnectionManager
	events            catalog.Source
	newSession        SessionFactory
	exitTimeout       time.Duration
}

func NewWebSocketHandler(cm *ConnectionManager, events catalog.Source, newSession SessionFactory, exitTimeout time.Duration) *WebSocketHandler {
	if exitTimeout <= 0 {
		exitTimeout = 10 * time.Second
	}
	return &WebSocketHandler{
		connectionManager: cm,
		events:            events,
		newSession:        newSession,
		exitTimeout:       exitTimeout,
	}
}

func (h *WebSocketHandler) HandleWatch(w http.ResponseWriter, r *http.Request) {
	eventID := r.URL.Query().Get("event_id")
	userID := r.URL.Query().Get("user_id")
	if eventID == "" || userID == "" {
		http.Error(w, "event_id and user_id are required", http.StatusBadRequest)
		return
	}

	event, err := h.events.Lookup(r.Context(), eventID)
	if err != nil {
		if errors.Is(err, catalog.ErrEventNotFound) {
			http.Error(w, "unknown event", http.StatusNotFound)
			return
		}
		log.Error().Err(err).Str("event_id", eventID).Msg("event lookup failed")
		http.Error(w, "event lookup failed", http.StatusBadGateway)
		return
	}

	conn, err := h.connectionManager.UpgradeConnection(w, r, userID, eventID)
	if err != nil {
		// the upgrader already wrote the HTTP error
		log.Error().Err(err).Str("event_id", eventID).Str("user_id", userID).Msg("failed to upgrade WebSocket connection")
		return
	}
	go h.serve(conn, event)
}

func (h *WebSocketHandler) serve(conn *Connection, event models.CalendarEvent) {
	logger := log.With().Str("connection_id", conn.ID).Str("event_id", conn.EventID).Str("user_id", conn.UserID).Logger()

	player := NewRemotePlayer(conn.SendFrame)
	session := h.newSession(videosync.WithStatusHook(func(st videosync.Status) {
		conn.SendFrame(ServerFrame{Type: FrameStatus, Status: &st})
	}))
	defer session.Close()

	if err := session.ConfigureSync(conn.EventID, conn.UserID, event); err != nil {
		logger.Info().Err(err).Msg("rejecting viewer")
		conn.CloseWithReason(closeCode(err), err.Error())
		return
	}
	if err := session.StartSync(player); err != nil {
		logger.Warn().Err(err).Msg("start sync failed")
		h.exit(session, logger)
		conn.CloseWithReason(closeCode(err), err.Error())
		return
	}

	conn.ReadLoop(func(f ClientFrame) {
		switch f.Type {
		case FramePosition:
			player.updatePosition(f.Position)
		case FrameState:
			player.reportState(f.IsPlaying)
		case FrameSeeked:
			player.completeSeek(f.Seq, f.Finished)
		case FrameCommand:
			session.HandlePlayPause(f.IsPlaying)
		default:
			logger.Debug().Str("type", string(f.Type)).Msg("unknown client frame")
		}
	})

	player.detach()
	h.exit(session, logger)
}

func (h *WebSocketHandler) exit(session *videosync.Session, logger zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), h.exitTimeout)
	defer cancel()
	if err := session.HandleUserExit(ctx); err != nil {
		logger.Error().Err(err).Msg("viewer exit incomplete")
		return
	}
	logger.Info().Msg("viewer left")
}

func closeCode(err error) int {
	switch {
	case errors.Is(err, videosync.ErrOutsideEventWindow):
		return CloseOutsideWindow
	case errors.Is(err, videosync.ErrMissingEventID), errors.Is(err, videosync.ErrMissingUserID):
		return CloseInvalidRequest
	}
	return CloseSyncFailed
}

func (h *WebSocketHandler) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.connectionManager.GetConnectionStats()); err != nil {
		log.Error().Err(err).Msg("failed to write connection stats")
	}
}

func (h *WebSocketHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws/watch", h.HandleWatch)
	mux.HandleFunc("/ws/stats", h.HandleConnectionStats)
}
