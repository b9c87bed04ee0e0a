package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/mentorhub/signaling/internal/adapters/http"
	wsignal "github.com/mentorhub/signaling/internal/adapters/signal"
	"github.com/mentorhub/signaling/internal/app"
	"github.com/mentorhub/signaling/internal/config"
	"github.com/mentorhub/signaling/internal/history"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	// Human-friendly output for terminal; in production you may want JSON only.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("failed to load config")
	}

	presence := app.NewPresence()
	calls := app.NewCallTable(cfg.OfferTimeout)
	limiter := app.NewRateLimiter(cfg.OfferRateLimit, cfg.OfferRateWindow)
	relay := app.NewRelay(presence, calls, limiter)
	rooms := app.NewRooms(cfg.TypingTTL)

	var store *history.Store
	if cfg.History.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.History.Addr,
			Password: cfg.History.Password,
			DB:       cfg.History.DB,
		})
		store = history.NewStore(rdb, cfg.History.Limit, cfg.History.QueueSize)
		go store.Run(ctx)
		log.Info().Str("addr", cfg.History.Addr).Msg("history cache enabled")
	}

	gw := wsignal.NewGateway(cfg, relay, rooms, store)
	calls.SetOnExpire(gw.OnOfferExpired)
	rooms.SetOnTypingExpire(gw.OnTypingExpired)

	r := router.SetupRouter(ctx, cfg, gw, presence)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("signaling server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}
