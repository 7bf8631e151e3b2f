package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"perfassess/internal/cache"
	"perfassess/internal/config"
	"perfassess/internal/platform/logger"
	"perfassess/internal/repository"
	"perfassess/internal/service"
	"perfassess/internal/transport/rest"
	"perfassess/internal/transport/ws"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		fmt.Fprintln(os.Stderr, "init logger:", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("server exited", "error", err)
	}
	log.Info("server exited")
}

func run(cfg *config.Config, log *logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// MongoDB connection
	mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return fmt.Errorf("connect mongodb: %w", err)
	}
	defer mongoClient.Disconnect(context.Background())

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := mongoClient.Ping(pingCtx, nil); err != nil {
		return fmt.Errorf("ping mongodb: %w", err)
	}
	log.Info("connected to mongodb", "database", cfg.MongoDatabase)

	db := mongoClient.Database(cfg.MongoDatabase)
	repository.EnsureIndexes(ctx, db, log)

	// Redis connection
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	log.Info("connected to redis", "addr", cfg.RedisAddr)

	replica := uuid.New().String()
	wsHub := ws.NewHub(log.With("component", "ws"))
	authSvc := service.NewAuthService(cfg.ObserverUsername, cfg.ObserverPassword, cfg.JWTSecret)
	assessSvc := service.NewAssessmentService(service.AssessmentConfig{
		QueueWait:         cfg.QueueWaitTimeout,
		SnapshotInterval:  cfg.SnapshotInterval,
		SnapshotRateLimit: cfg.SnapshotRateLimit,
		SnapshotBurst:     cfg.SnapshotBurst,
	}, service.Stores{
		Sessions:  repository.NewSessionRepo(db),
		Snapshots: repository.NewSnapshotRepo(db),
		Overrides: repository.NewOverrideRepo(db),
		Latest:    cache.NewSnapshotCache(rdb, cfg.SnapshotTTL),
		Attention: cache.NewAttentionCache(rdb, cfg.SnapshotTTL),
		Bus:       cache.NewSnapshotBus(rdb, replica, log.With("component", "bus")),
	}, log.With("component", "assessment"))
	assessSvc.SetBroadcaster(wsHub)

	router := rest.NewRouter(&rest.Container{
		AuthService:        authSvc,
		Sessions:           assessSvc,
		WSHub:              wsHub,
		Log:                log.With("component", "http"),
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
	})
	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// runCtx ends after assessSvc.Close, not on the signal
	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return wsHub.Run(gctx) })
	g.Go(func() error { return assessSvc.Run(gctx) })
	g.Go(func() error {
		log.Info("server starting", "port", cfg.HTTPPort, "replica", replica)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		select {
		case <-ctx.Done():
			log.Info("shutting down")
		case <-gctx.Done():
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		defer cancelRun()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("http shutdown", "error", err)
		}
		return assessSvc.Close(shutdownCtx)
	})
	return g.Wait()
}
