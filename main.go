package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	gorillaHandlers "github.com/gorilla/handlers"

	"stepChallengeAPI/handlers"
	"stepChallengeAPI/internal/cache"
	"stepChallengeAPI/internal/config"
	"stepChallengeAPI/internal/database"
	"stepChallengeAPI/internal/logger"
	"stepChallengeAPI/internal/workers"
	"stepChallengeAPI/middleware"
	"stepChallengeAPI/services"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New("step-challenge-api", "").Fatalw("invalid configuration", "error", err)
	}
	log := logger.New("step-challenge-api", cfg.Env)
	defer log.Sync()

	if err := cfg.RequireDatabase(); err != nil {
		log.Fatalw("invalid configuration", "error", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		cancel()
		log.Fatalw("failed to connect to database", "error", err)
	}
	defer func() {
		log.Info("closing database connection pool")
		pool.Close()
	}()
	log.Info("connected to database")

	if err := database.RunMigrations(ctx, pool, cfg.MigrationsDir); err != nil {
		cancel()
		log.Fatalw("failed to run migrations", "error", err)
	}

	var lbCache services.LeaderboardCache
	if cfg.RedisURL != "" {
		redisCache, err := cache.Connect(ctx, cfg.RedisURL, cfg.LeaderboardCacheTTL, log)
		if err != nil {
			log.Warnw("leaderboard cache disabled", "error", err)
		} else {
			defer redisCache.Close()
			lbCache = redisCache
			log.Infow("leaderboard cache enabled", "ttl", cfg.LeaderboardCacheTTL.String())
		}
	}
	cancel()

	store := database.NewPostgresStore(pool)
	sessions := middleware.NewSessions(cfg.SessionSecret, cfg.SessionTTL, cfg.IsProduction()).WithUserLoader(store.GetUser)

	authService := services.NewAuthService(store, sessions.SignToken, log)
	leaderboardService := services.NewLeaderboardService(store, cfg.EntryMode, lbCache, log)
	hub := services.NewLeaderboardHub(leaderboardService.ChallengeStandings, log)
	defer hub.Close()

	// Writes invalidate through the hub so live viewers see new standings.
	writeCache := hub.Notifying(lbCache)
	entryService := services.NewEntryService(store, cfg.EntryMode, writeCache, log)
	challengeService := services.NewChallengeService(store, writeCache, log)

	middleware.InitPrometheus()

	appCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	limiter := middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	if err := limiter.TrustProxies(cfg.TrustedProxies...); err != nil {
		log.Fatalw("invalid configuration", "error", err)
	}
	go limiter.Cleanup(appCtx)
	workers.StartStandingsRefresher(appCtx, hub, cfg.LiveRefreshInterval, log)

	r := handlers.NewRouter(handlers.RouterConfig{
		Auth:        handlers.NewAuthHandler(authService, sessions, log),
		Entries:     handlers.NewEntryHandler(entryService, log),
		Leaderboard: handlers.NewLeaderboardHandler(leaderboardService, log),
		Admin:       handlers.NewAdminHandler(challengeService, entryService, authService, log),
		Live:        handlers.NewLiveHandler(hub, leaderboardService, log),
		Sessions:    sessions,
		RateLimiter: limiter,
		Log:         log,
		Ping:        store.Ping,
		MetricsUser: cfg.MetricsUser,
		MetricsPass: cfg.MetricsPass,
		PprofSecret: cfg.PprofSecret,
	})

	corsHandler := gorillaHandlers.CORS(
		gorillaHandlers.AllowedOrigins([]string{"*"}),
		gorillaHandlers.AllowedMethods([]string{"GET", "POST", "PUT", "PATCH", "OPTIONS"}),
		gorillaHandlers.AllowedHeaders([]string{"Content-Type", "Authorization", "X-Request-ID", "X-Pprof-Secret"}),
		gorillaHandlers.ExposedHeaders([]string{"Content-Length", "X-Request-ID"}),
		gorillaHandlers.AllowCredentials(),
	)

	server := http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      corsHandler(r),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Infow("starting server", "port", cfg.Port, "entry_mode", cfg.EntryMode)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalw("error starting server", "error", err)
		}
	}()

	<-appCtx.Done()
	log.Info("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	hub.Close()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorw("server shutdown error", "error", err)
	}

	log.Info("server shutdown complete")
}
