package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/selfbase/panel/internal/app/migrate"
	httpx "github.com/selfbase/panel/internal/http"
	"github.com/selfbase/panel/internal/repository/postgres"
	"github.com/selfbase/panel/internal/service/compose"
	"github.com/selfbase/panel/internal/service/domains"
	"github.com/selfbase/panel/internal/service/logs"
	"github.com/selfbase/panel/internal/service/project"
	"github.com/selfbase/panel/internal/service/proxy"
	"github.com/selfbase/panel/internal/ws"
	"github.com/selfbase/panel/pkg/config"
	"github.com/selfbase/panel/pkg/logger"
)

func main() {
	cfg := config.LoadPanelConfig()
	log := logger.New("panel", slog.LevelInfo)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	runner, err := migrate.New(pool, cfg.DatabaseURL, cfg.MigrationsDir, log)
	if err != nil {
		log.Error("failed to configure migrations", "error", err)
		os.Exit(1)
	}
	defer runner.Close()
	if err := runner.Ping(ctx); err != nil {
		log.Error("database ping failed", "error", err)
		os.Exit(1)
	}
	if err := runner.Ensure(ctx); err != nil {
		log.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	dockerCli, err := compose.NewDockerClient(cfg.DockerHost)
	if err != nil {
		log.Error("failed to connect to docker daemon", "error", err)
		os.Exit(1)
	}
	defer dockerCli.Close()

	repo := postgres.New(pool)
	hub := ws.NewHub()

	eventSvc := logs.New(repo, hub, log)
	sink := proxy.NewFileSink(cfg.ProxyDir, log)
	orchestrator := compose.New(dockerCli, cfg, log)
	verifier := domains.NewVerifier(cfg.DNSTimeout)
	domainSvc := domains.New(repo, repo, repo, verifier, sink, log, cfg)
	projectSvc := project.New(repo, repo, orchestrator, sink, eventSvc, log, cfg)

	limiter := httpx.NewMemoryRateLimiter()
	if addr := strings.TrimSpace(cfg.RateLimitRedisAddr); addr != "" {
		redisLimiter, err := httpx.NewRedisRateLimiter(addr, cfg.RateLimitRedisPass, cfg.RateLimitRedisDB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable", "error", err)
		} else {
			limiter = redisLimiter
		}
	}

	router := httpx.NewRouter(log, projectSvc, domainSvc, eventSvc, limiter, pool.Ping)
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("panel server starting", "addr", cfg.Addr)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("panel server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}
