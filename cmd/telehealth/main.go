package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/clearhealth/telehealth-signaling/config"
	"github.com/clearhealth/telehealth-signaling/internal/appointments"
	"github.com/clearhealth/telehealth-signaling/internal/directory"
	"github.com/clearhealth/telehealth-signaling/internal/handlers"
	"github.com/clearhealth/telehealth-signaling/internal/middleware"
	"github.com/clearhealth/telehealth-signaling/internal/redis"
	"github.com/clearhealth/telehealth-signaling/internal/registry"
	"github.com/clearhealth/telehealth-signaling/internal/service"
	"github.com/clearhealth/telehealth-signaling/internal/signaling"
	"github.com/clearhealth/telehealth-signaling/internal/store"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	if cfg.Environment != "production" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	if err := redis.Connect(ctx, cfg.Redis); err != nil {
		log.Fatal().Err(err).Msg("failed to connect to Redis")
	}
	defer redis.Close()
	log.Info().Msg("Redis connection established")

	sessionStore := store.NewRedisStore(redis.GetClient())
	patients := directory.NewPatients(redis.GetClient())
	providers := directory.NewProviders(redis.GetClient())
	appts := appointments.NewRedisAppointments(redis.GetClient())

	svc := service.New(sessionStore, patients, providers, appts, cfg.ICEServers, cfg.PublicBaseURL)

	reg := registry.New()
	router := signaling.NewRouter(reg)
	timeouts := signaling.Timeouts{
		WriteWait:  cfg.WS.WriteWait,
		PongWait:   cfg.WS.PongWait,
		PingPeriod: cfg.WS.PingPeriod,
		ReadLimit:  cfg.WS.ReadLimit,
	}

	sessionHandler := handlers.NewSessionHandler(svc)
	wsHandler := handlers.NewSignalingHandler(svc, router, timeouts)

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(handlers.OriginFilter(cfg.AllowedOrigins))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api", middleware.JWTAuth(cfg.JWTSecret))
	{
		api.POST("/sessions", sessionHandler.Create)
		api.GET("/sessions", sessionHandler.List)
		api.GET("/sessions/:sessionId", sessionHandler.Get)
		api.GET("/sessions/:sessionId/participants", sessionHandler.Participants)
		api.POST("/sessions/:sessionId/join", sessionHandler.Join)
		api.POST("/sessions/:sessionId/start", sessionHandler.Start)
		api.POST("/sessions/:sessionId/end", sessionHandler.End)
		api.POST("/sessions/:sessionId/cancel", sessionHandler.Cancel)
		api.POST("/sessions/from-appointment", sessionHandler.FromAppointment)
	}

	ws := r.Group("/ws")
	{
		ws.GET("/rooms/:roomId", wsHandler.Handle)
	}

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("telehealth signaling server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	log.Info().Msg("server exited gracefully")
}
