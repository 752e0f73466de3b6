package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"chatsync/handler"
	"chatsync/internal/config"
	"chatsync/internal/integrations/attachments"
	"chatsync/internal/integrations/openai"
	"chatsync/internal/integrations/paramstore"
	"chatsync/internal/live"
	"chatsync/internal/repository"
	"chatsync/internal/translation"
	"chatsync/internal/usecase"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	cfg, err := config.Load(os.Getenv("CHATSYNC_CONFIG_DIR"))
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	logger := config.NewLogger(cfg.Log, os.Stdout)
	slog.SetDefault(logger)
	if err := cfg.ValidateAPI(); err != nil {
		fatal(logger, "invalid config", err)
	}

	// ---- AWS SDK config ----
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		fatal(logger, "failed to load AWS config", err)
	}

	// ---- Clients ----
	ssmClient, err := paramstore.New(awsssm.NewFromConfig(awsCfg), paramstore.WithCache())
	if err != nil {
		fatal(logger, "failed to create SSM client", err)
	}
	store, err := repository.New(awsdynamodb.NewFromConfig(awsCfg), cfg.Table)
	if err != nil {
		fatal(logger, "failed to create repository", err)
	}
	openaiClient, err := openai.NewClient(ssmClient, cfg.ParamPrefix)
	if err != nil {
		fatal(logger, "failed to create OpenAI client", err)
	}

	var resolver usecase.AttachmentResolver
	if cfg.Attachments.Enabled() {
		s3Client := awss3.NewFromConfig(awsCfg)
		r, err := attachments.NewS3Resolver(s3Client, awss3.NewPresignClient(s3Client), attachments.Config{
			Bucket:    cfg.Attachments.Bucket,
			Prefix:    cfg.Attachments.Prefix,
			PublicURL: cfg.Attachments.PublicURL,
			URLExpiry: cfg.Attachments.URLExpiry,
		}, attachments.WithLogger(logger))
		if err != nil {
			fatal(logger, "failed to create attachment resolver", err)
		}
		resolver = r
	}

	var notifier usecase.ChangeNotifier
	if cfg.Redis.Enabled() {
		rdb, err := live.NewRedisClient(ctx, live.RedisConfig{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			fatal(logger, "failed to connect to redis", err)
		}
		announcer, err := live.NewAnnouncer(rdb, cfg.Redis.ChannelPrefix)
		if err != nil {
			fatal(logger, "failed to create change announcer", err)
		}
		notifier = announcer
	} else {
		logger.Info("redis not configured, live servers pick up sends by polling")
	}

	// ---- Use cases ----
	summaryCfg := usecase.SummaryConfig{
		Mode:       usecase.WriteMode(cfg.Summary.WriteMode),
		MaxRetries: cfg.Summary.MaxRetries,
	}
	sendService, err := usecase.NewSendService(store, store, notifier, resolver, usecase.SendConfig{
		MaxTextLength: cfg.Send.MaxTextLength,
		Summary:       summaryCfg,
	}, logger)
	if err != nil {
		fatal(logger, "failed to create send service", err)
	}
	conversationService, err := usecase.NewConversationService(store, store, summaryCfg, logger)
	if err != nil {
		fatal(logger, "failed to create conversation service", err)
	}
	cache, err := translation.New(openaiClient, translation.Config{
		Model:   cfg.Translation.Model,
		Timeout: cfg.Translation.Timeout,
	}, logger)
	if err != nil {
		fatal(logger, "failed to create translation cache", err)
	}
	translateService, err := usecase.NewTranslateService(cache, cfg.Translation.DefaultLanguage, cfg.Send.MaxTextLength)
	if err != nil {
		fatal(logger, "failed to create translate service", err)
	}

	// ---- Handler ----
	h, err := handler.NewHandler(sendService, conversationService, translateService, logger)
	if err != nil {
		fatal(logger, "failed to create handler", err)
	}

	lambda.Start(h.Handle)
}

func fatal(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, "err", err)
	os.Exit(1)
}
