// Package main runs the capture HTTP server with the status websocket and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/capturekit/server/config"
	"github.com/capturekit/server/internal/auth"
	"github.com/capturekit/server/internal/captures"
	"github.com/capturekit/server/internal/encoder"
	"github.com/capturekit/server/internal/metrics"
	"github.com/capturekit/server/internal/middleware"
	"github.com/capturekit/server/internal/realtime"
	"github.com/capturekit/server/internal/recorder"
	"github.com/capturekit/server/internal/session"
	"github.com/capturekit/server/internal/status"
	"github.com/capturekit/server/internal/uploads"
	"github.com/capturekit/server/internal/videos"
	"github.com/capturekit/server/pkg/database"
	"github.com/capturekit/server/pkg/queue"
	"github.com/capturekit/server/pkg/redis"
	"github.com/capturekit/server/pkg/response"
	"github.com/capturekit/server/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}
	startedAt := time.Now()
	ctx := context.Background()

	// Video store
	var store videos.Store
	switch cfg.Capture.Store {
	case config.StorePostgres:
		pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), database.PoolOptions{
			MaxConns:        int32(cfg.Database.MaxConns),
			MaxConnLifetime: cfg.Database.MaxConnLifetime,
		}, logger)
		if err != nil {
			logger.Fatal("database", zap.Error(err))
		}
		defer pool.Close()
		if err := database.Migrate(ctx, pool, logger); err != nil {
			logger.Fatal("migrate", zap.Error(err))
		}
		store = videos.NewRepository(pool)
	default:
		fs, err := videos.NewFileStore(cfg.Capture.VideoDir, logger)
		if err != nil {
			logger.Fatal("video store", zap.Error(err))
		}
		store = fs
	}

	// Redis (optional)
	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb, err = redis.NewClient(ctx, redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		}, logger)
		if err != nil {
			logger.Fatal("redis", zap.Error(err))
		}
		defer rdb.Close()
	}

	// Status websocket hub; events go through Redis when available
	var hub *realtime.Hub
	pushEvery := time.Duration(cfg.Capture.StatusPushSeconds) * time.Second
	if rdb != nil {
		ps := realtime.NewRedisPubSub(rdb.Client, logger)
		hub = realtime.NewHub(logger, nil, pushEvery, ps, ps)
	} else {
		hub = realtime.NewHub(logger, nil, pushEvery, nil, nil)
	}

	// Encoder, recorder, engine
	enc := encoder.NewFFmpeg(encoder.FFmpegConfig{
		Binary:         cfg.Capture.FFmpegBinary,
		InputFormat:    cfg.Capture.InputFormat,
		Display:        cfg.Capture.Display,
		FrameRate:      cfg.Capture.FrameRate,
		MaxDurationSec: cfg.Capture.MaxDurationSec,
		StopTimeout:    cfg.Capture.StopTimeout,
	}, logger)
	rec := recorder.New(enc, logger)
	engine, err := session.New(session.Config{
		VideoDir:      cfg.Capture.VideoDir,
		TempDir:       cfg.Capture.TempDir,
		Format:        cfg.Capture.Format,
		DefaultRegion: cfg.Capture.DefaultRegion,
		Environment:   cfg.Project.Environment,
	}, rec, store, logger, session.WithMetrics(metrics.Capture{}), session.WithPublisher(hub))
	if err != nil {
		logger.Fatal("session engine", zap.Error(err))
	}
	if cfg.Capture.RecoverOnStart {
		n, err := engine.Recover(ctx)
		if err != nil {
			logger.Error("recovery incomplete", zap.Error(err))
		}
		if n > 0 {
			logger.Warn("recovered interrupted captures", zap.Int("count", n))
		}
	}

	// Uploads (optional)
	var (
		uploadService *uploads.Service
		uploadWorker  *uploads.Worker
		s3Client      *storage.S3
	)
	if cfg.Upload.Enabled {
		s3Client, err = storage.NewS3(ctx, storage.S3Config{
			Region:               cfg.Upload.Region,
			AccessKeyID:          cfg.Upload.AccessKeyID,
			SecretAccessKey:      cfg.Upload.SecretAccessKey,
			Bucket:               cfg.Upload.Bucket,
			Endpoint:             cfg.Upload.Endpoint,
			KeyPrefix:            cfg.Upload.KeyPrefix,
			PresignExpireMinutes: cfg.Upload.PresignExpireMinutes,
		}, logger)
		if err != nil {
			logger.Fatal("s3", zap.Error(err))
		}
		jobQueue := queue.NewQueue(rdb.Client, logger)
		keep := time.Duration(cfg.Upload.KeepFinishedSeconds) * time.Second
		uploadService = uploads.NewService(rdb.Client, jobQueue, store, keep, logger)
		if cfg.Upload.DeleteRemote {
			uploadService.SetRemover(s3Client)
		}
		if cfg.Upload.RunWorker {
			uploadWorker = uploads.NewWorker(uploadService, jobQueue, s3Client, cfg.Capture.VideoDir, logger)
			uploadWorker.SetMetrics(metrics.Uploads{})
		}
	}

	// Combined status
	info := status.Info{Version: cfg.Server.Version, StartedAt: startedAt, DefaultRegion: cfg.Capture.DefaultRegion}
	var reporter *status.Reporter
	if uploadService != nil {
		reporter = status.NewReporter(engine, uploadService, info, logger)
	} else {
		reporter = status.NewReporter(engine, nil, info, logger)
	}
	hub.SetSnapshotter(reporter)

	// Auth
	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)
	var lockout *auth.Lockout
	if rdb != nil {
		lockout = auth.NewLockout(rdb.Client, cfg.Auth.LockOutAttempts, time.Duration(cfg.Auth.LockOutSeconds)*time.Second)
	}
	if cfg.Auth.PasswordHash == "" {
		logger.Warn("AUTH_PASSWORD_HASH is not set, logins are disabled")
	}
	authHandler := auth.NewHandler([]auth.Account{
		{Username: cfg.Auth.Username, PasswordHash: cfg.Auth.PasswordHash, Role: auth.RoleOperator},
		{Username: cfg.Auth.ViewerUsername, PasswordHash: cfg.Auth.ViewerPasswordHash, Role: auth.RoleViewer},
	}, jwtService, lockout, logger)

	captureHandler := captures.NewHandler(engine, reporter, cfg.Capture.MaskMetaKeys, logger)
	var uploadHandler *uploads.Handler
	if uploadService != nil {
		captureHandler.SetUploadTracker(uploadService)
		uploadHandler = uploads.NewHandler(uploadService, logger)
		uploadHandler.SetPresigner(s3Client)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger, "/health", "/metrics"))
	router.Use(metrics.Middleware())

	// Health
	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	// Auth (public)
	router.POST("/auth/login", authHandler.Login)

	// Protected API (JWT required; viewers are read-only)
	api := router.Group("/api")
	api.Use(middleware.JWT(jwtService), middleware.WriteRole(auth.RoleOperator))
	captureHandler.Register(api)
	if uploadHandler != nil {
		uploadHandler.Register(api)
	}

	// WebSocket (token in query; no Authorization header required)
	router.GET("/ws/status", realtime.ServeWs(hub, logger, jwtService.Check))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()
	hubDone := make(chan struct{})
	go func() {
		defer close(hubDone)
		if err := hub.Run(bgCtx); err != nil {
			logger.Error("status hub", zap.Error(err))
		}
	}()
	workerDone := make(chan struct{})
	if uploadWorker != nil {
		go func() {
			defer close(workerDone)
			uploadWorker.Run(bgCtx)
		}()
		logger.Info("upload worker started")
	} else {
		close(workerDone)
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port), zap.String("store", cfg.Capture.Store))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	// an unfinished capture is flushed to disk and recovered on the next start
	if err := rec.Stop(shutdownCtx); err != nil {
		logger.Warn("recording not finalized", zap.Error(err))
	}
	bgCancel()
	<-hubDone
	<-workerDone
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
