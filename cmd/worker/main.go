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

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/splax/coderoom/internal/domain"
	"github.com/splax/coderoom/internal/queue"
	"github.com/splax/coderoom/internal/repository/postgres"
	"github.com/splax/coderoom/internal/storage"
	"github.com/splax/coderoom/internal/terminal"
	"github.com/splax/coderoom/internal/worker/bridge"
	httpx "github.com/splax/coderoom/internal/worker/http"
	"github.com/splax/coderoom/internal/worker/provision"
	"github.com/splax/coderoom/internal/worker/reconciler"
	"github.com/splax/coderoom/internal/worker/sandbox"
	"github.com/splax/coderoom/internal/worker/sandbox/docker"
	"github.com/splax/coderoom/pkg/config"
	"github.com/splax/coderoom/pkg/logger"
)

func main() {
	cfg := config.LoadWorkerConfig()
	log := logger.New("worker", slog.LevelInfo)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		log.Error("database ping failed", "error", err)
		os.Exit(1)
	}

	dockerClient, err := docker.New(cfg.DockerHost)
	if err != nil {
		log.Error("failed to create docker client", "error", err)
		os.Exit(1)
	}
	defer dockerClient.Close()
	if err := dockerClient.Ping(ctx); err != nil {
		log.Error("docker ping failed", "error", err)
		os.Exit(1)
	}

	store, err := storage.New(cfg.StorageRoot)
	if err != nil {
		log.Error("storage init failed", "error", err, "root", cfg.StorageRoot)
		os.Exit(1)
	}

	repo := postgres.New(pool)

	// Register this worker so the control plane can route terminal and
	// teardown requests to it. The name is stable across restarts when
	// configured; a fresh one otherwise.
	name := strings.TrimSpace(cfg.InstanceName)
	if name == "" {
		name = "worker-" + uuid.NewString()
	}
	instance := &domain.Instance{Name: name, Address: cfg.AdvertiseAddr, CreatedAt: time.Now().UTC()}
	if err := repo.UpsertInstance(ctx, instance); err != nil {
		log.Error("instance registration failed", "error", err)
		os.Exit(1)
	}
	log.Info("worker registered", "instance_id", instance.ID, "name", instance.Name, "address", instance.Address)

	runtime := sandbox.NewDockerRuntime(dockerClient, store, log, cfg)
	watchers := reconciler.NewSet(repo, log)
	defer watchers.Close()
	terminals := bridge.New(runtime, terminal.NewRegistry(), cfg.APIWSEndpoint, log)

	provisionSvc := provision.New(repo, repo, runtime, store, watchers, terminals, instance.ID, log)

	// Projects this instance already provisioned get their file watchers back
	// after a restart.
	owned, err := repo.ListProjectsByInstance(ctx, instance.ID)
	if err != nil {
		log.Warn("listing owned projects failed", "error", err)
	} else {
		provisionSvc.ResumeWatchers(ctx, owned)
	}

	jobs, err := queue.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.QueueName, log)
	if err != nil {
		log.Error("failed to connect to queue", "error", err)
		os.Exit(1)
	}
	defer jobs.Close()
	go func() {
		if err := jobs.Consume(ctx, func(ctx context.Context, job queue.Job) error {
			jobCtx, cancel := context.WithTimeout(ctx, cfg.BuildTimeout)
			defer cancel()
			return provisionSvc.HandleJob(jobCtx, job)
		}); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("queue consumer stopped", "error", err)
		}
	}()

	router := httpx.NewRouter(log, provisionSvc, cfg.WorkerAuthToken, dockerClient.Ping, func(ctx context.Context) error {
		return pool.Ping(ctx)
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("worker server starting", "addr", cfg.Addr)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("worker server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}
