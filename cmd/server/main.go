package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/vandervillain/rando/internal/config"
	"github.com/vandervillain/rando/internal/logging"
	"github.com/vandervillain/rando/internal/server"
	"github.com/vandervillain/rando/internal/signaling"
)

func main() {
	logging.Init(os.Stdout, zerolog.InfoLevel)

	cfg, err := config.LoadServer()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	hub := signaling.NewHub(signaling.HubOptions{
		RoomTTL: cfg.RoomTTL,
		Metrics: signaling.NewMetrics(reg),
	})
	go hub.Run()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.New(hub, cfg, reg).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("starting signaling server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	hub.Stop()
	log.Info().Msg("server exited")
}
