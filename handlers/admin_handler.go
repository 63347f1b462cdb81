package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"stepChallengeAPI/internal/logger"
	"stepChallengeAPI/internal/types/challenge"
	"stepChallengeAPI/internal/types/entry"
	"stepChallengeAPI/internal/types/user"
	"stepChallengeAPI/middleware"
	"stepChallengeAPI/services"
)

// AdminHandler serves the staff screens. Routes are mounted behind
// middleware.RequireStaff.
type AdminHandler struct {
	challengeService *services.ChallengeService
	entryService     *services.EntryService
	authService      *services.AuthService
	log              *logger.Logger
}

func NewAdminHandler(
	challengeService *services.ChallengeService,
	entryService *services.EntryService,
	authService *services.AuthService,
	log *logger.Logger,
) *AdminHandler {
	return &AdminHandler{
		challengeService: challengeService,
		entryService:     entryService,
		authService:      authService,
		log:              log,
	}
}

func (h *AdminHandler) ListChallenges(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	challenges, err := h.challengeService.ListChallenges(ctx, r.URL.Query().Get("active"))
	if err != nil {
		respondWithServiceError(w, r, h.log, err)
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{"challenges": challenges})
}

func (h *AdminHandler) CreateChallenge(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	var req challenge.CreateChallengeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	c, err := h.challengeService.CreateChallenge(ctx, &req)
	if err != nil {
		respondWithServiceError(w, r, h.log, err)
		return
	}

	respondWithJSON(w, http.StatusCreated, c)
}

func (h *AdminHandler) UpdateChallenge(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	id, ok := pathID(r, "id")
	if !ok {
		respondWithError(w, http.StatusBadRequest, "Invalid challenge id")
		return
	}

	var req challenge.UpdateChallengeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	c, err := h.challengeService.UpdateChallenge(ctx, id, &req)
	if err != nil {
		respondWithServiceError(w, r, h.log, err)
		return
	}

	respondWithJSON(w, http.StatusOK, c)
}

func (h *AdminHandler) ListTeams(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	id, ok := pathID(r, "id")
	if !ok {
		respondWithError(w, http.StatusBadRequest, "Invalid challenge id")
		return
	}

	teams, err := h.challengeService.ListTeams(ctx, id)
	if err != nil {
		respondWithServiceError(w, r, h.log, err)
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{"teams": teams})
}

func (h *AdminHandler) CreateTeam(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	id, ok := pathID(r, "id")
	if !ok {
		respondWithError(w, http.StatusBadRequest, "Invalid challenge id")
		return
	}

	var req challenge.CreateTeamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	team, err := h.challengeService.CreateTeam(ctx, id, &req)
	if err != nil {
		respondWithServiceError(w, r, h.log, err)
		return
	}

	respondWithJSON(w, http.StatusCreated, team)
}

func (h *AdminHandler) ListParticipants(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	id, ok := queryID(r, "challenge")
	if !ok {
		respondWithError(w, http.StatusBadRequest, "Query parameter 'challenge' is required")
		return
	}

	participants, err := h.challengeService.ListParticipants(ctx, id)
	if err != nil {
		respondWithServiceError(w, r, h.log, err)
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{"participants": participants})
}

func (h *AdminHandler) AddParticipant(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	var req challenge.CreateParticipantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	p, err := h.challengeService.AddParticipant(ctx, &req)
	if err != nil {
		respondWithServiceError(w, r, h.log, err)
		return
	}

	respondWithJSON(w, http.StatusCreated, p)
}

func (h *AdminHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	var req user.CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	// Only superusers can mint superusers.
	if actor, _ := middleware.GetActor(ctx); req.IsSuperuser && (actor == nil || !actor.IsSuperuser) {
		respondWithError(w, http.StatusForbidden, "Only superusers can create superusers")
		return
	}

	u, err := h.authService.CreateUser(ctx, &req)
	if err != nil {
		respondWithServiceError(w, r, h.log, err)
		return
	}

	respondWithJSON(w, http.StatusCreated, u)
}

func (h *AdminHandler) ListEntries(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	id, ok := queryID(r, "challenge")
	if !ok {
		respondWithError(w, http.StatusBadRequest, "Query parameter 'challenge' is required")
		return
	}

	entries, err := h.entryService.ListChallengeEntries(ctx, id)
	if err != nil {
		respondWithServiceError(w, r, h.log, err)
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

func (h *AdminHandler) CorrectEntry(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	actor, ok := middleware.GetActor(ctx)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "User not authenticated")
		return
	}

	id, ok := pathID(r, "id")
	if !ok {
		respondWithError(w, http.StatusBadRequest, "Invalid entry id")
		return
	}

	var req entry.CorrectEntryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	e, err := h.entryService.CorrectEntry(ctx, actor, id, &req)
	if err != nil {
		respondWithServiceError(w, r, h.log, err)
		return
	}

	respondWithJSON(w, http.StatusOK, e)
}

func queryID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(r.URL.Query().Get(name), 10, 64)
	return id, err == nil && id > 0
}
