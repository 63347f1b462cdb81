package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"stepChallengeAPI/internal/logger"
	"stepChallengeAPI/internal/types/entry"
	"stepChallengeAPI/middleware"
	"stepChallengeAPI/services"
)

type EntryHandler struct {
	entryService *services.EntryService
	log          *logger.Logger
}

func NewEntryHandler(entryService *services.EntryService, log *logger.Logger) *EntryHandler {
	return &EntryHandler{
		entryService: entryService,
		log:          log,
	}
}

func (h *EntryHandler) EntryForm(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	actor, ok := middleware.GetActor(ctx)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "User not authenticated")
		return
	}

	form, err := h.entryService.EntryForm(ctx, actor)
	if err != nil {
		respondWithServiceError(w, r, h.log, err)
		return
	}

	respondWithJSON(w, http.StatusOK, form)
}

// CreateEntry accepts a form post or a JSON body. Form posts are redirected to
// the caller's entries on success.
func (h *EntryHandler) CreateEntry(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	actor, ok := middleware.GetActor(ctx)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "User not authenticated")
		return
	}

	var req entry.CreateEntryRequest
	asJSON := isJSONBody(r)
	if asJSON {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondWithError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	} else {
		if err := r.ParseForm(); err != nil {
			respondWithError(w, http.StatusBadRequest, "Invalid form data")
			return
		}
		req = entry.CreateEntryRequest{
			ChallengeID: r.PostForm.Get("challenge"),
			Date:        r.PostForm.Get("date"),
			DailySteps:  r.PostForm.Get("daily_steps"),
		}
	}

	created, err := h.entryService.CreateEntry(ctx, actor, &req)
	if err != nil {
		middleware.RecordEntryOutcome(entryOutcome(err))
		respondWithServiceError(w, r, h.log, err)
		return
	}
	middleware.RecordEntryOutcome("created")

	if !asJSON {
		http.Redirect(w, r, "/my-entries/", http.StatusSeeOther)
		return
	}
	respondWithJSON(w, http.StatusCreated, created)
}

func (h *EntryHandler) MyEntries(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	actor, ok := middleware.GetActor(ctx)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "User not authenticated")
		return
	}

	entries, err := h.entryService.ListMyEntries(ctx, actor)
	if err != nil {
		respondWithServiceError(w, r, h.log, err)
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

func entryOutcome(err error) string {
	se, ok := services.AsServiceError(err)
	if !ok {
		return "error"
	}
	return string(se.Code)
}
