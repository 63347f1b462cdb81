package handlers

import (
	"encoding/json"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"stepChallengeAPI/internal/logger"
	"stepChallengeAPI/services"
)

const requestTimeout = 5 * time.Second

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error": "Internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

// respondWithServiceError maps expected service failures to their status and
// hides everything else behind a 500.
func respondWithServiceError(w http.ResponseWriter, r *http.Request, log *logger.Logger, err error) {
	se, ok := services.AsServiceError(err)
	if !ok {
		logger.FromContext(r.Context(), log).Errorw("request failed", "path", r.URL.Path, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	body := map[string]string{"error": se.Message}
	if se.Field != "" {
		body["field"] = se.Field
	}
	respondWithJSON(w, statusFor(se.Code), body)
}

func statusFor(code services.ErrorCode) int {
	switch code {
	case services.ErrorInvalid:
		return http.StatusBadRequest
	case services.ErrorForbidden:
		return http.StatusForbidden
	case services.ErrorNotFound:
		return http.StatusNotFound
	case services.ErrorConflict:
		return http.StatusConflict
	case services.ErrorUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// isJSONBody reports whether the request body is JSON rather than a form post.
func isJSONBody(r *http.Request) bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mt == "application/json"
}

func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)[name], 10, 64)
	return id, err == nil && id > 0
}
