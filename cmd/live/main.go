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

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"chatsync/internal/config"
	"chatsync/internal/live"
	"chatsync/internal/repository"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(os.Getenv("CHATSYNC_CONFIG_DIR"))
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	logger := config.NewLogger(cfg.Log, os.Stdout)
	slog.SetDefault(logger)
	if err := cfg.ValidateLive(); err != nil {
		fatal(logger, "invalid config", err)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		fatal(logger, "failed to load AWS config", err)
	}
	store, err := repository.New(awsdynamodb.NewFromConfig(awsCfg), cfg.Table)
	if err != nil {
		fatal(logger, "failed to create repository", err)
	}

	hub, err := live.NewHub(store, logger)
	if err != nil {
		fatal(logger, "failed to create hub", err)
	}
	defer hub.Close()

	if cfg.Redis.Enabled() {
		rdb, err := live.NewRedisClient(ctx, live.RedisConfig{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			fatal(logger, "failed to connect to redis", err)
		}
		defer func() { _ = rdb.Close() }()

		listener, err := live.NewListener(rdb, cfg.Redis.ChannelPrefix, hub, logger)
		if err != nil {
			fatal(logger, "failed to create listener", err)
		}
		go func() {
			if err := listener.Run(ctx); err != nil {
				logger.Error("change listener stopped", "err", err)
				stop()
			}
		}()
	} else {
		poller, err := live.NewPoller(hub, cfg.Live.PollInterval, logger)
		if err != nil {
			fatal(logger, "failed to create poller", err)
		}
		go poller.Run(ctx)
	}

	server, err := live.NewServer(hub, live.ServerConfig{
		PingInterval:   cfg.Live.PingInterval,
		PongWait:       cfg.Live.PongWait,
		WriteWait:      cfg.Live.WriteWait,
		MaxMessageSize: cfg.Live.MaxMessageSize,
	}, logger)
	if err != nil {
		fatal(logger, "failed to create websocket server", err)
	}

	httpServer := &http.Server{
		Addr:              cfg.Live.Addr,
		Handler:           server.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("live server listening", "addr", cfg.Live.Addr)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		fatal(logger, "live server failed", err)
	}
	logger.Info("live server stopped")
}

func fatal(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, "err", err)
	os.Exit(1)
}
