package handlers

import (
	"context"
	"net/http"
	_ "net/http/pprof"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"stepChallengeAPI/internal/logger"
	"stepChallengeAPI/middleware"
)

type RouterConfig struct {
	Auth        *AuthHandler
	Entries     *EntryHandler
	Leaderboard *LeaderboardHandler
	Admin       *AdminHandler
	Live        *LiveHandler

	Sessions    *middleware.Sessions
	RateLimiter *middleware.RateLimiter
	Log         *logger.Logger

	// Ping backs /health.
	Ping func(ctx context.Context) error

	MetricsUser string
	MetricsPass string
	PprofSecret string
}

func NewRouter(cfg RouterConfig) *mux.Router {
	r := mux.NewRouter()

	if cfg.RateLimiter != nil {
		r.Use(cfg.RateLimiter.Middleware)
	}
	r.Use(cfg.Sessions.WithAuth)
	r.Use(middleware.RequestLogger(cfg.Log))
	r.Use(middleware.MonitorMiddleware)

	r.Handle("/metrics", middleware.BasicAuthMiddleware(cfg.MetricsUser, cfg.MetricsPass)(promhttp.Handler()))
	r.PathPrefix("/debug/pprof/").Handler(middleware.PprofSecurityMiddleware(cfg.PprofSecret)(http.DefaultServeMux))

	r.HandleFunc("/health", func(w http.ResponseWriter, req *http.Request) {
		ctx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
		defer cancel()

		if err := cfg.Ping(ctx); err != nil {
			respondWithJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": "database connection failed"})
			return
		}
		respondWithJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": "step-challenge-api"})
	}).Methods("GET")

	// -------------------------------------------------------------------------
	// PUBLIC
	// -------------------------------------------------------------------------
	r.HandleFunc("/", cfg.Leaderboard.Home).Methods("GET")
	r.HandleFunc("/leaderboard", cfg.Leaderboard.Leaderboard).Methods("GET")
	r.HandleFunc("/leaderboard/", cfg.Leaderboard.Leaderboard).Methods("GET")
	if cfg.Live != nil {
		r.HandleFunc("/leaderboard/live", cfg.Live.Watch).Methods("GET")
	}
	r.HandleFunc("/login/", cfg.Auth.LoginPage).Methods("GET")
	r.HandleFunc("/login/", cfg.Auth.Login).Methods("POST")

	// -------------------------------------------------------------------------
	// SIGNED IN
	// -------------------------------------------------------------------------
	requireAuth := func(h http.HandlerFunc) http.Handler { return middleware.RequireAuth(h) }

	r.Handle("/logout/", requireAuth(cfg.Auth.Logout)).Methods("GET", "POST")
	r.Handle("/add-entry/", requireAuth(cfg.Entries.EntryForm)).Methods("GET")
	r.Handle("/add-entry/", requireAuth(cfg.Entries.CreateEntry)).Methods("POST")
	r.Handle("/my-entries/", requireAuth(cfg.Entries.MyEntries)).Methods("GET")

	// -------------------------------------------------------------------------
	// STAFF
	// -------------------------------------------------------------------------
	admin := r.PathPrefix("/admin").Subrouter()
	admin.Use(middleware.RequireStaff)

	admin.HandleFunc("/challenges", cfg.Admin.ListChallenges).Methods("GET")
	admin.HandleFunc("/challenges", cfg.Admin.CreateChallenge).Methods("POST")
	admin.HandleFunc("/challenges/{id:[0-9]+}", cfg.Admin.UpdateChallenge).Methods("PATCH")
	admin.HandleFunc("/challenges/{id:[0-9]+}/teams", cfg.Admin.ListTeams).Methods("GET")
	admin.HandleFunc("/challenges/{id:[0-9]+}/teams", cfg.Admin.CreateTeam).Methods("POST")
	admin.HandleFunc("/participants", cfg.Admin.ListParticipants).Methods("GET")
	admin.HandleFunc("/participants", cfg.Admin.AddParticipant).Methods("POST")
	admin.HandleFunc("/users", cfg.Admin.CreateUser).Methods("POST")
	admin.HandleFunc("/entries", cfg.Admin.ListEntries).Methods("GET")
	admin.HandleFunc("/entries/{id:[0-9]+}", cfg.Admin.CorrectEntry).Methods("PUT")

	return r
}
