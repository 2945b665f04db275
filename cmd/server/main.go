package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"servchat/internal/auth"
	"servchat/internal/blob"
	"servchat/internal/config"
	"servchat/internal/face"
	"servchat/internal/logging"
	"servchat/internal/mail"
	"servchat/internal/realtime"
	"servchat/internal/server"
	"servchat/internal/store"
	"servchat/internal/store/postgres"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	feed := realtime.NewFeed()
	notifying := store.NewNotifying(st, feed)

	if _, err := server.EnsureAdmin(ctx, notifying, cfg.Bootstrap.AdminEmail, cfg.Bootstrap.AdminPassword, logger); err != nil {
		return err
	}

	deps := server.Deps{
		Store:          notifying,
		Feed:           feed,
		TokenConfig:    auth.TokenConfig{Secret: cfg.MasterSecret, Expiry: cfg.TokenExpiry, Issuer: "servchat"},
		Matcher:        face.NewMatcher(cfg.FaceThreshold),
		PresenceWindow: cfg.PresenceWindow,
		Logger:         logger,
	}
	if cfg.SMTP.Enabled() {
		deps.Mailer = mail.NewSMTP(cfg.SMTP)
	} else {
		logger.Info("smtp not configured, email endpoints disabled")
	}
	if cfg.S3.Enabled() {
		signer, err := blob.NewS3Signer(ctx, cfg.S3)
		if err != nil {
			return err
		}
		deps.Signer = signer
	} else {
		logger.Info("s3 not configured, uploads disabled")
	}

	gin.SetMode(cfg.GinMode)
	router := server.NewRouter(deps)
	return server.Run(ctx, cfg, router, logger)
}

func openStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (store.Store, func(), error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		pg, db, err := postgres.Open(ctx, cfg.DatabaseDSN)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("using postgres store")
		return pg, func() { _ = db.Close() }, nil
	default:
		logger.Info("using memory store", zap.String("state_file", cfg.StateFile))
		return store.NewMemoryWithOptions(store.Options{StateFile: cfg.StateFile, Logger: logger}), func() {}, nil
	}
}
