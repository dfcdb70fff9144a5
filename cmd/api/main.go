package main

import (
	"context"
	"crypto/tls"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/supportbridge/whatsapp-chatwoot-bridge/internal/api/router"
	"github.com/supportbridge/whatsapp-chatwoot-bridge/internal/chatwoot"
	appconfig "github.com/supportbridge/whatsapp-chatwoot-bridge/internal/config"
	"github.com/supportbridge/whatsapp-chatwoot-bridge/internal/conversation"
	"github.com/supportbridge/whatsapp-chatwoot-bridge/internal/media"
	"github.com/supportbridge/whatsapp-chatwoot-bridge/internal/messaging"
	"github.com/supportbridge/whatsapp-chatwoot-bridge/internal/observability/metrics"
	"github.com/supportbridge/whatsapp-chatwoot-bridge/pkg/logging"
)

func main() {
	// .env is optional; production runs on real environment variables.
	_ = godotenv.Load()
	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting whatsapp-chatwoot-bridge",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx := context.Background()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to create pgx pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	store := conversation.NewStore(pool)
	bridgeMetrics := metrics.NewBridgeMetrics(nil)

	chatwootClient := chatwoot.NewClient(
		cfg.ChatwootBaseURL,
		cfg.ChatwootAccountID,
		cfg.ChatwootInboxID,
		cfg.ChatwootAPIToken,
		logger,
	)

	engine := conversation.NewEngine(store, chatwootClient, bridgeMetrics, logger)
	sender := messaging.NewTwilioSender(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioWhatsAppFrom, logger)

	var mediaStore *media.Store
	if cfg.MediaBucket != "" {
		s3Client, err := newS3Client(ctx, cfg)
		if err != nil {
			logger.Error("failed to load AWS config", "error", err)
			os.Exit(1)
		}
		mediaStore = media.NewStore(s3Client, cfg.MediaBucket, cfg.MediaPublicBaseURL, cfg.AWSRegion, logger)
	} else {
		logger.Warn("MEDIA_BUCKET not set; agent attachment messages will fail")
	}

	var deduper *messaging.Deduper
	if cfg.RedisAddr != "" {
		opts := &redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword}
		if cfg.RedisTLS {
			opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		deduper = messaging.NewDeduper(redis.NewClient(opts), logger)
	}

	inboundHandler := messaging.NewHandler(cfg.TwilioWebhookSecret, engine, deduper, bridgeMetrics, logger)

	var chatwootRelay chatwoot.MediaRelay
	if mediaStore != nil {
		chatwootRelay = mediaStore
	}
	chatwootWebhook := chatwoot.NewWebhookHandler(store, sender, chatwootRelay, cfg.ChatwootAPIToken, bridgeMetrics, logger)

	r := router.New(&router.Config{
		Logger:          logger,
		InboundHandler:  inboundHandler,
		ChatwootWebhook: chatwootWebhook,
		MetricsHandler:  promhttp.Handler(),
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}

// newS3Client builds the S3 client, honoring a LocalStack-style endpoint
// override in development.
func newS3Client(ctx context.Context, cfg *appconfig.Config) (*s3.Client, error) {
	loaders := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.AWSRegion)}
	if strings.TrimSpace(cfg.AWSAccessKeyID) != "" && strings.TrimSpace(cfg.AWSSecretAccessKey) != "" {
		loaders = append(loaders, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AWSAccessKeyID, cfg.AWSSecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loaders...)
	if err != nil {
		return nil, err
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.AWSEndpointOverride != "" {
			o.BaseEndpoint = aws.String(cfg.AWSEndpointOverride)
			o.UsePathStyle = true
		}
	}), nil
}
