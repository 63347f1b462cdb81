package handlers

import (
	"context"
	"net/http"

	"stepChallengeAPI/internal/logger"
	"stepChallengeAPI/internal/types/user"
	"stepChallengeAPI/middleware"
	"stepChallengeAPI/services"
)

type LeaderboardHandler struct {
	leaderboardService *services.LeaderboardService
	log                *logger.Logger
}

func NewLeaderboardHandler(leaderboardService *services.LeaderboardService, log *logger.Logger) *LeaderboardHandler {
	return &LeaderboardHandler{
		leaderboardService: leaderboardService,
		log:                log,
	}
}

// Home serves the dashboard. Anonymous callers get the public parts.
func (h *LeaderboardHandler) Home(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	home, err := h.leaderboardService.Home(ctx, optionalActor(ctx))
	if err != nil {
		respondWithServiceError(w, r, h.log, err)
		return
	}

	respondWithJSON(w, http.StatusOK, home)
}

func (h *LeaderboardHandler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	page, err := h.leaderboardService.Page(ctx, optionalActor(ctx), r.URL.Query().Get("challenge"))
	if err != nil {
		respondWithServiceError(w, r, h.log, err)
		return
	}

	respondWithJSON(w, http.StatusOK, page)
}

func optionalActor(ctx context.Context) *user.Actor {
	actor, ok := middleware.GetActor(ctx)
	if !ok {
		return nil
	}
	return actor
}
