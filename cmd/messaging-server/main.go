package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"

	"github.com/SatyamKumarChoudhary/messaging-app-backend/internal/identity"
	"github.com/SatyamKumarChoudhary/messaging-app-backend/internal/notify"
	"github.com/SatyamKumarChoudhary/messaging-app-backend/internal/server"
	"github.com/SatyamKumarChoudhary/messaging-app-backend/internal/store/sqlitestore"
	"github.com/SatyamKumarChoudhary/messaging-app-backend/pkg/config"
	"github.com/SatyamKumarChoudhary/messaging-app-backend/pkg/logging"
)

func main() {
	logger := logging.New(logging.LevelInfo)

	cfg, err := config.Load(logger, "config")
	if err != nil {
		logger.Error("Failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger = logging.New(logging.ParseLevel(cfg.Logging.Level))
	slog.SetDefault(logger)

	st, err := sqlitestore.Open(cfg.Storage.Path, logger)
	if err != nil {
		logger.Error("Failed to open message store", slog.Any("error", err))
		os.Exit(1)
	}
	defer st.Close()

	verifier := identity.NewJWTVerifier(cfg.Server.Auth.JWTSecret)
	notifier := notify.NewLogNotifier(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	app := server.NewApp(logger, ctx, cfg, st, verifier, notifier)
	if err := app.Run(); err != nil {
		logger.Error("Application run failed", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("Application shut down successfully.")
}
