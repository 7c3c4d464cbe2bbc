package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/zlnvch/sketchroom/api"
	"github.com/zlnvch/sketchroom/cache"
	"github.com/zlnvch/sketchroom/cache/redis"
	"github.com/zlnvch/sketchroom/config"
	"github.com/zlnvch/sketchroom/mq"
	"github.com/zlnvch/sketchroom/mq/sqsmq"
	"github.com/zlnvch/sketchroom/observability"
	"github.com/zlnvch/sketchroom/service"
	"github.com/zlnvch/sketchroom/store"
	"github.com/zlnvch/sketchroom/store/dynamo"
	"github.com/zlnvch/sketchroom/worker"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	instanceId := cfg.Server.InstanceId
	if instanceId == "" {
		instanceId = uuid.Must(uuid.NewV4()).String()
	}
	logger = logger.With(zap.String("instanceId", instanceId))

	shutdownCtx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	// Workers outlive the hub so rooms closed while stopping still reach the
	// cache and the archive.
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()

	var workers sync.WaitGroup
	runWorker := func(run func(context.Context)) {
		workers.Add(1)
		go func() {
			defer workers.Done()
			run(workerCtx)
		}()
	}

	rooms := service.NewRoomManager()

	var roomCache cache.RoomCache
	var cacheSync *worker.CacheSync
	if cfg.Cluster.Enabled {
		redisCache, err := redis.NewRedisRoomCache(shutdownCtx, cfg.Server.DevMode, cfg.Cluster.RedisEndpoint, cfg.Cluster.ClaimTTL, logger)
		if err != nil {
			logger.Fatal("failed to create redis cache", zap.Error(err))
		}
		defer redisCache.Close()
		roomCache = redisCache

		cacheSync = worker.NewCacheSync(roomCache, instanceId, cfg.Cluster.ClaimTimeout, logger)
		runWorker(cacheSync.Run)

		claimKeeper := worker.NewClaimKeeper(roomCache, rooms, instanceId, cfg.Cluster.ClaimTTL, logger)
		runWorker(claimKeeper.Run)
	}

	var archiveStore store.ArchiveStore
	var roomClosedQueue mq.MessageQueue
	var journalBatcher *worker.JournalBatcher
	if cfg.Archive.Enabled {
		dynamoStore, err := dynamo.NewDynamoArchiveStore(shutdownCtx, cfg.Server.DevMode, cfg.Archive.DynamoDBEndpoint, cfg.Archive.Table)
		if err != nil {
			logger.Fatal("failed to create dynamodb store", zap.Error(err))
		}
		archiveStore = dynamoStore

		sqsQueue, err := sqsmq.NewSQSMessageQueue(shutdownCtx, cfg.Server.DevMode, cfg.Archive.SQSEndpoint, cfg.Archive.RoomClosedQueue)
		if err != nil {
			logger.Fatal("failed to create SQS MQ", zap.Error(err))
		}
		roomClosedQueue = sqsQueue

		counterBatcher := worker.NewCounterBatcher(archiveStore, cfg.Archive.CounterFlushMs, logger)
		runWorker(counterBatcher.Run)

		journalBatcher = worker.NewJournalBatcher(archiveStore, cfg.Archive.JournalFlushMs, counterBatcher, logger)
		runWorker(journalBatcher.Run)

		mqConsumer := worker.NewMQConsumer(roomClosedQueue, archiveStore, logger)
		runWorker(mqConsumer.Run)
	}

	svc := service.NewService(
		rooms,
		roomCache,
		cacheSync,
		roomClosedQueue,
		journalBatcher,
		service.Limits{
			DefaultRoomId:   cfg.Room.DefaultId,
			MaxStrokePoints: cfg.Room.MaxStrokePoints,
			MaxWidth:        cfg.Room.MaxWidth,
		},
		instanceId,
		logger,
	)

	sketchroomApi, err := api.NewSketchroomAPI(svc, archiveStore, cfg.WS, shutdownCtx, logger)
	if err != nil {
		logger.Fatal("failed to create sketchroom api", zap.Error(err))
	}

	server := &http.Server{
		Addr:    cfg.Server.HostPort,
		Handler: sketchroomApi.Router(cfg.Server.AllowedOrigins),
	}

	go func() {
		logger.Info("starting server",
			zap.String("hostPort", cfg.Server.HostPort),
			zap.Bool("cluster", cfg.Cluster.Enabled),
			zap.Bool("archive", cfg.Archive.Enabled),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", zap.Error(err))
			stop()
		}
	}()

	<-shutdownCtx.Done()
	logger.Info("server shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Warn("http shutdown incomplete", zap.Error(err))
	}

	select {
	case <-sketchroomApi.Hub.Done():
	case <-ctx.Done():
		logger.Warn("hub did not stop in time")
	}
	svc.Wait()

	stopWorkers()
	workers.Wait()
	logger.Info("server stopped")
}
