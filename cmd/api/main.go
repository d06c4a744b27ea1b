package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/splax/coderoom/internal/app/migrate"
	httpx "github.com/splax/coderoom/internal/http"
	"github.com/splax/coderoom/internal/queue"
	"github.com/splax/coderoom/internal/repository/postgres"
	"github.com/splax/coderoom/internal/service/file"
	"github.com/splax/coderoom/internal/service/project"
	"github.com/splax/coderoom/internal/service/relay"
	"github.com/splax/coderoom/internal/storage"
	"github.com/splax/coderoom/internal/terminal"
	"github.com/splax/coderoom/internal/workerapi"
	"github.com/splax/coderoom/pkg/config"
	"github.com/splax/coderoom/pkg/logger"
)

func main() {
	cfg := config.LoadAPIConfig()
	log := logger.New("api", slog.LevelInfo)

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

	repo := postgres.New(pool)

	jobs, err := queue.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.QueueName, log)
	if err != nil {
		log.Error("failed to connect to queue", "error", err)
		os.Exit(1)
	}
	defer jobs.Close()

	store, err := storage.New(cfg.StorageRoot)
	if err != nil {
		log.Error("storage init failed", "error", err, "root", cfg.StorageRoot)
		os.Exit(1)
	}

	workerClient := workerapi.New(cfg.WorkerTimeout, cfg.WorkerAuthToken)
	registry := terminal.NewRegistry()

	projectSvc := project.New(repo, repo, repo, jobs, workerClient, store, log, cfg)
	fileSvc := file.New(repo, repo, log)
	relaySvc := relay.New(registry, repo, repo, workerClient, log)

	router := httpx.NewRouter(log, projectSvc, fileSvc, relaySvc, func(ctx context.Context) error {
		return pool.Ping(ctx)
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("api server starting", "addr", cfg.Addr)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("api server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}
