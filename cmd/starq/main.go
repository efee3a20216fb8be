package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	appconfig "github.com/fedutinova/starq/internal/config"
	"github.com/fedutinova/starq/internal/queue"
	"github.com/fedutinova/starq/internal/redis"
	"github.com/fedutinova/starq/internal/server"
	httpapi "github.com/fedutinova/starq/internal/transport/http"
)

func main() {
	cfg := appconfig.Load()
	slog.Info("starting starq", "addr", cfg.HTTPAddr,
		"stale_job_interval", cfg.StaleJobInterval, "auth", len(cfg.APIKeys) > 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	redisService, err := redis.New(cfg.RedisURL)
	if err != nil {
		slog.Error("failed to connect to Redis", "err", err)
		os.Exit(1)
	}
	defer redisService.Close()

	q := queue.New(redisService.Client(), queue.Config{
		DefaultClaimTimeout: cfg.DefaultClaimTimeout,
		DefaultMaxRetries:   cfg.DefaultMaxRetries,
		JobMetaTTL:          cfg.JobMetaTTL,
	})

	reclaimer := queue.NewReclaimer(q, cfg.StaleJobInterval)
	go reclaimer.Run(ctx)

	handlers := &httpapi.Handlers{
		Queue:  q,
		Redis:  redisService,
		Config: cfg,
	}
	r := server.NewRouter(handlers)

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  90 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	<-ch
	slog.Info("shutting down")

	shCtx, shCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shCancel()
	_ = srv.Shutdown(shCtx)
	cancel()
}
