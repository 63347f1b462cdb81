package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gorilla/websocket"

	"stepChallengeAPI/internal/logger"
	"stepChallengeAPI/services"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type LiveHandler struct {
	hub                *services.LeaderboardHub
	leaderboardService *services.LeaderboardService
	log                *logger.Logger
}

func NewLiveHandler(hub *services.LeaderboardHub, leaderboardService *services.LeaderboardService, log *logger.Logger) *LiveHandler {
	return &LiveHandler{
		hub:                hub,
		leaderboardService: leaderboardService,
		log:                log,
	}
}

// Watch upgrades to a websocket that receives the standings of ?challenge=<id>
// now and again after every change.
func (h *LiveHandler) Watch(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.URL.Query().Get("challenge"), 10, 64)
	if err != nil || id <= 0 {
		respondWithError(w, http.StatusBadRequest, "challenge must be a numeric id")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	snapshot, err := h.leaderboardService.ChallengeStandings(ctx, id)
	cancel()
	if err != nil {
		respondWithServiceError(w, r, h.log, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		logger.FromContext(r.Context(), h.log).Warnw("websocket upgrade failed", "error", err)
		return
	}

	var userID int64
	if actor := optionalActor(r.Context()); actor != nil {
		userID = actor.UserID
	}
	if err := h.hub.Join(id, conn, userID, snapshot); err != nil {
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, err.Error()))
		conn.Close()
	}
}
