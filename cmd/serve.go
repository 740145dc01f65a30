package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/theuncproject/chatflow/internal/config"
	httpapi "github.com/theuncproject/chatflow/internal/http"
	"github.com/theuncproject/chatflow/internal/ingest"
	"github.com/theuncproject/chatflow/internal/notify"
	"github.com/theuncproject/chatflow/internal/store"
	"github.com/theuncproject/chatflow/internal/store/mem"
	"github.com/theuncproject/chatflow/internal/store/pg"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the ingestion and notification service",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
}

func runServe() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	var stores *store.Stores
	if cfg.Database.PostgresDSN != "" {
		stores, err = pg.NewStores(cfg.Database.PostgresDSN)
		if err != nil {
			slog.Error("failed to open postgres stores", "error", err)
			os.Exit(1)
		}
		slog.Info("using postgres stores")
	} else {
		stores = mem.NewStores()
		slog.Info("no postgres DSN configured, using in-memory stores")
	}

	if cfg.Reply.Secret == "" {
		slog.Warn("CHATFLOW_REPLY_SECRET not set, reply calls will be unauthenticated")
	}

	router := ingest.NewRouter(stores.Sessions, stores.Messages)
	client := notify.NewReplyClient(cfg.Reply.URL, cfg.Reply.Secret, cfg.Reply.Timeout())
	notifier := notify.NewNotifier(notify.NewGate(stores.Sessions, client), cfg.Reply.Timeout())
	srv := httpapi.NewServer(cfg, router, notifier)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := notify.RunPump(ctx, stores.Feed, notifier); err != nil {
			slog.Error("change feed pump failed", "error", err)
		}
	}()

	go func() {
		if err := srv.Start(); err != nil {
			slog.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("shutdown incomplete", "error", err)
	}
}
