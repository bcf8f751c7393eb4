package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"

	"github.com/Rogrei/diagnostik-chat/config"
	"github.com/Rogrei/diagnostik-chat/internal/api/handlers"
	"github.com/Rogrei/diagnostik-chat/internal/api/middleware"
	"github.com/Rogrei/diagnostik-chat/internal/api/routes"
	"github.com/Rogrei/diagnostik-chat/internal/cache"
	"github.com/Rogrei/diagnostik-chat/internal/events"
	"github.com/Rogrei/diagnostik-chat/internal/logger"
	"github.com/Rogrei/diagnostik-chat/internal/providers/stt"
	mongorepo "github.com/Rogrei/diagnostik-chat/internal/repositories/mongo"
	pgrepo "github.com/Rogrei/diagnostik-chat/internal/repositories/postgres"
	"github.com/Rogrei/diagnostik-chat/internal/services"
	"github.com/Rogrei/diagnostik-chat/internal/storage"
	"github.com/Rogrei/diagnostik-chat/internal/workers"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadApp()
	if err != nil {
		logrus.WithError(err).Fatal("config")
	}
	log := logger.New(cfg.LogLevel, cfg.Development())
	if !cfg.Development() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// PostgreSQL
	if err := config.InitPostgres(log); err != nil {
		log.WithError(err).Fatal("PostgreSQL init error")
	}
	log.Info("PostgreSQL connected")

	// Redis (optional)
	var rdb *redis.Client
	switch err := config.InitRedis(); {
	case errors.Is(err, config.ErrNotConfigured):
		log.Warn("Redis not configured: turn cache, retry lock, live events and async transcription disabled")
	case err != nil:
		log.WithError(err).Fatal("Redis init error")
	default:
		rdb = config.RedisClient
		defer rdb.Close()
		log.Info("Redis connected")
	}

	// MongoDB (optional)
	var runRepo mongorepo.TranscriptionRunRepository
	switch err := config.InitMongo(); {
	case errors.Is(err, config.ErrNotConfigured):
		log.Warn("MongoDB not configured: transcription run log disabled")
	case err != nil:
		log.WithError(err).Fatal("MongoDB init error")
	default:
		defer config.MongoClient.Disconnect(context.Background())
		if err := config.EnsureMongoIndexes(); err != nil {
			log.WithError(err).Warn("MongoDB index setup failed")
		}
		runRepo = mongorepo.NewTranscriptionRunRepo(config.MongoDatabase())
		log.Info("MongoDB connected")
	}

	var googleOpts []option.ClientOption
	if cfg.GoogleCredentialsFile != "" {
		googleOpts = append(googleOpts, option.WithCredentialsFile(cfg.GoogleCredentialsFile))
	}

	provider, err := newSTTProvider(ctx, cfg, googleOpts)
	if err != nil {
		log.WithError(err).Fatal("speech-to-text init error")
	}
	defer provider.Close()

	var (
		store  storage.AudioStore
		signer storage.Signer
	)
	switch cfg.StorageBackend {
	case "gcs":
		gcs, err := storage.NewGCSStore(ctx, cfg.GCSBucket, googleOpts...)
		if err != nil {
			log.WithError(err).Fatal("GCS init error")
		}
		defer gcs.Close()
		store, signer = gcs, gcs
	default:
		local, err := storage.NewLocalStore(cfg.UploadDir)
		if err != nil {
			log.WithError(err).Fatal("upload dir init error")
		}
		store = local
	}

	// Repositories
	interviewRepo := pgrepo.NewInterviewRepo(config.PostgresDB)
	turnRepo := pgrepo.NewTurnRepo(config.PostgresDB)
	transcriptRepo := pgrepo.NewTranscriptRepo(config.PostgresDB)

	var (
		turnCache cache.Cache      = cache.Noop{}
		locker    cache.Locker     = cache.Noop{}
		publisher events.Publisher = events.Noop{}
		feed      events.Subscriber
		queue     services.TranscribeQueue
	)
	if rdb != nil {
		turnCache = cache.NewRedisCache(rdb, cfg.CacheKeyPrefix)
		locker = cache.NewRedisLocker(rdb, cfg.CacheKeyPrefix)
		publisher = events.NewRedisPublisher(rdb)
		feed = events.NewRedisSubscriber(rdb)
		queue = workers.NewRedisQueue(rdb)
	}

	// Services
	notify := services.NewNotifier(turnCache, publisher, cfg.TurnsCacheTTL, log)
	interviewSvc := services.NewInterviewService(interviewRepo, notify)
	turnSvc := services.NewTurnService(interviewRepo, turnRepo, cfg.Timeline, notify, log)
	runSvc := services.NewTranscriptionRunService(runRepo, cfg.RunLogTTL, log)
	importSvc := services.NewImportService(interviewRepo, turnRepo, provider, store, locker, queue, runSvc, notify, services.ImportOptions{
		Settings:  cfg.Timeline,
		Duplicate: services.DuplicatePolicy(cfg.DuplicatePolicy),
		Retry:     services.RetryPolicy(cfg.RetryPolicy),
		TempDir:   os.TempDir(),
	}, log)
	transcriptSvc := services.NewTranscriptService(transcriptRepo)
	realtimeSvc, err := services.NewRealtimeTokenService(cfg.RealtimeIssuer, cfg.RealtimePrivateKeyBase64, cfg.OpenAIAPIKey, cfg.RealtimeTokenTTL)
	if err != nil {
		log.WithError(err).Fatal("realtime token init error")
	}

	// Workers
	if rdb != nil {
		pool := &workers.TranscribePool{
			Redis:      rdb,
			Imports:    importSvc,
			Events:     publisher,
			NumWorkers: cfg.TranscribeWorkers,
			Logger:     log,
		}
		if err := pool.Start(ctx); err != nil {
			log.WithError(err).Fatal("transcribe workers")
		}
	}

	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger(log), middleware.CORS(), middleware.ErrorDetails(cfg.ExposeErrorDetails))
	r.MaxMultipartMemory = 8 << 20

	routes.RegisterRoutes(r, routes.Deps{
		Health:     handlers.NewHealthHandler(interviewSvc),
		Session:    handlers.NewSessionHandler(interviewSvc),
		Interview:  handlers.NewInterviewHandler(interviewSvc),
		Turn:       handlers.NewTurnHandler(turnSvc),
		Transcribe: handlers.NewTranscribeHandler(importSvc, runSvc, cfg.MaxUploadBytes),
		Transcript: handlers.NewTranscriptHandler(transcriptSvc),
		Realtime:   handlers.NewRealtimeHandler(realtimeSvc),
		Audio:      handlers.NewAudioHandler(store, signer),
		WS:         handlers.NewWSHandler(interviewSvc, feed),
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.WithField("port", cfg.Port).Info("API listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("http server")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("graceful shutdown failed")
	}
}

func newSTTProvider(ctx context.Context, cfg *config.AppConfig, opts []option.ClientOption) (stt.Provider, error) {
	if cfg.STTProvider == "google" {
		return stt.NewGoogleSpeech(ctx, cfg.GoogleSpeechLanguage, opts...)
	}
	return stt.NewWhisper(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.WhisperModel, cfg.TranscribeLanguage), nil
}
