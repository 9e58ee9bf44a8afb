package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/neeru24/typing-comp/internal/competition/api"
	"github.com/neeru24/typing-comp/internal/competition/bus"
	"github.com/neeru24/typing-comp/internal/competition/engine"
	"github.com/neeru24/typing-comp/internal/competition/gateway"
	"github.com/neeru24/typing-comp/internal/competition/recovery"
	"github.com/neeru24/typing-comp/internal/competition/session"
	"github.com/neeru24/typing-comp/internal/competition/store"
	"github.com/neeru24/typing-comp/internal/config"
	"github.com/neeru24/typing-comp/internal/dbconfig"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dbCfg := dbconfig.NewConfigFromEnv()
	pool, err := pgxpool.New(ctx, dbCfg.DSN())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create database pool")
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ping database")
	}

	log.Info().
		Str("database", dbCfg.Database).
		Str("port", cfg.HTTPPort).
		Bool("nats", cfg.UseNATS).
		Msg("starting competition server")

	st := store.NewPostgres(pool)
	clock := clockwork.NewRealClock()
	registry := session.NewRegistry(clock)

	var eventBus bus.Bus
	if cfg.UseNATS {
		natsBus, err := bus.NewNATSBus(ctx, bus.DefaultNATSConfig(cfg.NATSURL))
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to NATS")
		}
		eventBus = natsBus
	} else {
		eventBus = bus.NewLocalBus()
	}
	defer eventBus.Close()

	eng := engine.New(st, registry, eventBus, clock, engine.Config{
		MaxParticipants:     cfg.MaxParticipants,
		RejectImplausible:   cfg.RejectImplausible,
		ReconnectGrace:      cfg.ReconnectGrace,
		SessionEvictDelay:   cfg.SessionEvictDelay,
		LeaderboardInterval: cfg.LeaderboardInterval,
	})

	// Rehydrate ongoing competitions before accepting any traffic.
	rec := recovery.NewManager(st, registry, eng, clock)
	if err := rec.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("recovery sweep failed")
	}

	cm := gateway.NewConnectionManager(gateway.DefaultConnectionConfig())
	wsHandler := gateway.NewHandler(cm, eng)
	if err := gateway.AttachBus(eventBus, cm); err != nil {
		log.Fatal().Err(err).Msg("failed to attach event bus to gateway")
	}
	go cm.Start(ctx)

	mux := http.NewServeMux()
	wsHandler.RegisterRoutes(mux)
	api.NewServer(st, clock, cm.Stats).RegisterRoutes(mux)

	handler := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	}).Handler(mux)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.HTTPPort),
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	cancel()
	time.Sleep(time.Second)

	log.Info().Msg("competition server shutdown complete")
}
