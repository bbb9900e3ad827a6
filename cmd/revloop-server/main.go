package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/revloop/revloop/internal/config"
	"github.com/revloop/revloop/internal/eventbus"
	"github.com/revloop/revloop/internal/gitcontext"
	"github.com/revloop/revloop/internal/notify"
	notifyrepo "github.com/revloop/revloop/internal/notify/repositoryimpl"
	"github.com/revloop/revloop/internal/review"
	reviewrepo "github.com/revloop/revloop/internal/review/repositoryimpl"
	"github.com/revloop/revloop/internal/run"
	runrepo "github.com/revloop/revloop/internal/run/repositoryimpl"
	"github.com/revloop/revloop/internal/runner"
	"github.com/revloop/revloop/internal/task"
	taskrepo "github.com/revloop/revloop/internal/task/repositoryimpl"
	"github.com/revloop/revloop/pkg/clog"
	"github.com/revloop/revloop/pkg/sentinel"
	"github.com/revloop/revloop/pkg/storage"

	server "github.com/revloop/revloop/internal"
)

func main() {
	// "revloop-server sentinel" supervises a "serve" child, restarting it on
	// crash or binary replacement. Any other invocation serves directly.
	if len(os.Args) > 1 && os.Args[1] == "sentinel" {
		sentinel.Run("serve")
		return
	}
	serve()
}

func newStorage(ctx context.Context, env *config.StorageEnv) (storage.Storage, error) {
	if env.Type == "s3" {
		return storage.NewS3Storage(ctx, env.S3Bucket, env.S3Prefix, env.S3Region)
	}
	return storage.NewLocalStorage(env.BaseDir)
}

func serve() {
	env, err := config.LoadEnv()
	if err != nil {
		slog.Error("failed to load env", "error", err)
		os.Exit(1)
	}

	// Setup logger
	level := env.SlogLevel()
	var handler slog.Handler
	if env.Env == "local" {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}
	slog.SetDefault(slog.New(clog.NewAttributesHandler(handler)))

	// Setup storage. Run event logs and snapshots can land in a separate
	// store from the summary records.
	store, err := newStorage(context.Background(), config.StorageEnvFromEnv(env))
	if err != nil {
		slog.Error("failed to create storage", "error", err)
		os.Exit(1)
	}
	logStore, err := newStorage(context.Background(), env.LogStorageEnv())
	if err != nil {
		slog.Error("failed to create log storage", "error", err)
		os.Exit(1)
	}

	// Setup event bus
	bus := eventbus.New()

	// Setup repositories
	taskRepo := taskrepo.NewYAMLRepository(store)
	runRepo := runrepo.NewYAMLRepository(store)
	reviewRepo := reviewrepo.NewYAMLRepository(store)
	pushSubRepo := notifyrepo.NewYAMLRepository(store)

	// Setup runners
	registry := runner.NewRegistry()
	var ccOpts []runner.ClaudeCodeOption
	if env.ClaudeCLIPath != "" {
		ccOpts = append(ccOpts, runner.WithCLIPath(env.ClaudeCLIPath))
	}
	if env.DefaultModel != "" {
		ccOpts = append(ccOpts, runner.WithDefaultModel(env.DefaultModel))
	}
	registry.Register(runner.NewClaudeCodeRunner(ccOpts...))
	registry.Register(runner.NewScriptRunner())

	// Setup engines
	runEngine := run.NewEngine(runRepo, run.NewLogStore(logStore), registry, bus)
	reviewEngine := review.NewEngine(reviewRepo, bus)
	gitCollector := gitcontext.NewCollector()
	taskEngine := task.NewEngine(taskRepo, runEngine, reviewEngine, bus, env.WorkspaceRoot)
	taskEngine.UseGitContext(gitCollector)

	// Setup servers
	taskServer := task.NewServer(taskEngine)
	runServer := run.NewServer(runEngine)
	reviewServer := review.NewServer(reviewEngine, gitCollector)
	runnerServer := runner.NewServer(registry)
	eventServer := eventbus.NewServer(bus)

	// Setup push notification
	pushEnv := &env.PushEnv
	pushSender := notify.NewSender(pushEnv, pushSubRepo)
	notifyServer := notify.NewServer(pushEnv, pushSubRepo)
	pushDispatcher := notify.NewDispatcher(bus, taskRepo, pushSender)

	srv := server.NewServer(
		env,
		taskServer,
		runServer,
		reviewServer,
		runnerServer,
		notifyServer,
		eventServer,
	)

	// Graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	go pushDispatcher.Start(ctx)

	go func() {
		if err := srv.ListenAndServe(ctx); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down server")

	// Give active connections time to finish after stream contexts are cancelled.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}

	// Wait for in-flight runs to settle before exiting.
	taskEngine.Wait()
}
