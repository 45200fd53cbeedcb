// Package main runs the upload worker on its own, for setups where the server sets UPLOAD_RUN_WORKER=false.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/capturekit/server/config"
	"github.com/capturekit/server/internal/metrics"
	"github.com/capturekit/server/internal/uploads"
	"github.com/capturekit/server/internal/videos"
	"github.com/capturekit/server/pkg/database"
	"github.com/capturekit/server/pkg/queue"
	"github.com/capturekit/server/pkg/redis"
	"github.com/capturekit/server/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}
	if !cfg.Upload.Enabled {
		logger.Fatal("UPLOAD_ENABLED is not set, nothing to do")
	}

	ctx := context.Background()
	var store videos.Store
	if cfg.Capture.Store == config.StorePostgres {
		pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), database.PoolOptions{MaxConns: int32(cfg.Database.MaxConns)}, logger)
		if err != nil {
			logger.Fatal("database", zap.Error(err))
		}
		defer pool.Close()
		store = videos.NewRepository(pool)
	} else {
		fs, err := videos.NewFileStore(cfg.Capture.VideoDir, logger)
		if err != nil {
			logger.Fatal("video store", zap.Error(err))
		}
		store = fs
	}

	rdb, err := redis.NewClient(ctx, redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	}, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	s3Client, err := storage.NewS3(ctx, storage.S3Config{
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
	service := uploads.NewService(rdb.Client, jobQueue, store, time.Duration(cfg.Upload.KeepFinishedSeconds)*time.Second, logger)
	worker := uploads.NewWorker(service, jobQueue, s3Client, cfg.Capture.VideoDir, logger)
	worker.SetMetrics(metrics.Uploads{})

	// metrics only; the API lives in the server
	metricsSrv := &http.Server{Addr: ":" + cfg.Upload.WorkerMetricsPort, Handler: metrics.Handler()}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server", zap.Error(err))
		}
	}()

	workerCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		worker.Run(workerCtx)
	}()
	logger.Info("worker started", zap.String("bucket", s3Client.Bucket()))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	<-done
	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	_ = metricsSrv.Shutdown(shutdownCtx)
	logger.Info("worker stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
