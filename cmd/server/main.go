package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/dkeye/VideoSync/internal/adapters/http"
	wssignal "github.com/dkeye/VideoSync/internal/adapters/signal"
	"github.com/dkeye/VideoSync/internal/app"
	"github.com/dkeye/VideoSync/internal/app/orch"
	"github.com/dkeye/VideoSync/internal/config"
	"github.com/dkeye/VideoSync/internal/core"
	"github.com/dkeye/VideoSync/internal/metrics"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("no .env file")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	policy, err := app.ParsePolicy(cfg.DeliveryPolicy)
	if err != nil {
		log.Fatal().Err(err).Msg("bad delivery policy")
	}

	conns := app.NewRegistry()
	limiter := app.NewEventLimiter(cfg.EventRate, cfg.EventBurst)
	o := &orch.Orchestrator{
		Registry:          conns,
		Rooms:             core.NewRegistry(),
		Policy:            policy,
		Metrics:           metrics.New(),
		Limiter:           limiter,
		SweepInterval:     cfg.SweepInterval,
		InactivityTimeout: cfg.InactivityTimeout,
	}
	ctrl := wssignal.NewSignalWSController(o, cfg.APIKey, limiter, wssignal.Options{
		ReadLimit:  cfg.ReadLimit,
		PingPeriod: cfg.PingPeriod,
		PongWait:   cfg.PongWait,
		WriteWait:  cfg.WriteWait,
		SendBuffer: cfg.SendBuffer,
	})

	go o.RunSweeper(ctx)

	r := router.SetupRouter(ctx, cfg, o, ctrl)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("VideoSync relay started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	// Hijacked websockets are not tracked by Shutdown.
	n := conns.CloseAll()
	log.Info().Int("connections", n).Msg("Server exited gracefully")
}
