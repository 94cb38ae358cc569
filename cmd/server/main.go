package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/qingchang/werewolf-core/internal/api"
	"github.com/qingchang/werewolf-core/internal/auth"
	"github.com/qingchang/werewolf-core/internal/bus"
	"github.com/qingchang/werewolf-core/internal/config"
	"github.com/qingchang/werewolf-core/internal/observability"
	"github.com/qingchang/werewolf-core/internal/queue"
	"github.com/qingchang/werewolf-core/internal/realtime"
	"github.com/qingchang/werewolf-core/internal/room"
	"github.com/qingchang/werewolf-core/internal/store"
	"github.com/qingchang/werewolf-core/internal/timer"

	_ "github.com/qingchang/werewolf-core/internal/docs"
)

func main() {
	if err := godotenv.Load(); err != nil {
		fmt.Println("warning: .env file not found, relying on process environment")
	}

	cfg := config.Load()
	logger, err := observability.SetupLogger()
	if err != nil {
		log.Fatalf("cannot init logger: %v", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tp, err := observability.SetupTracerProvider(ctx, "werewolf-core", cfg.TraceStdout, logger)
	if err != nil {
		logger.Fatal("cannot init tracer", zap.Error(err))
	}
	defer tp.Shutdown(ctx)

	db, err := store.ConnectMySQL(cfg.DBDSN)
	var st *store.Store
	if err != nil {
		logger.Warn("cannot connect db, falling back to in-memory store", zap.Error(err))
		st = store.NewMemoryStore()
	} else {
		defer db.Close()
		st = store.New(db)
	}

	metrics := observability.NewMetrics(prometheus.DefaultRegisterer.(*prometheus.Registry))
	jwtMgr := auth.NewJWTManager(cfg.JWTSecret, 24*time.Hour)

	var eb *bus.Bus
	if cfg.AMQPURL != "" {
		eb, err = bus.New(bus.Config{URL: cfg.AMQPURL, Logger: observability.ZapToSlog(logger)})
		if err != nil {
			logger.Warn("cannot connect event bus, running without fanout", zap.Error(err))
			eb = nil
		} else {
			defer eb.Close()
		}
	}

	// RoomManager needs the TimerService at construction, and the
	// TimerService's fire callback needs to reach the RoomManager — broken
	// by capturing a pointer the closure reads only once it's set.
	var roomMgr *room.RoomManager
	var timerSvc *timer.Service
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		logger.Warn("cannot reach redis, phase timers disabled", zap.Error(err))
	} else {
		timerSvc = timer.New(rdb, logger, time.Second, func(fireCtx context.Context, roomID string, deadlineMs int64) {
			if roomMgr != nil {
				roomMgr.OnTimerFired(fireCtx, roomID, deadlineMs)
			}
		})
	}

	var taskQueue *queue.Queue
	if cfg.AMQPURL != "" {
		taskQueue, err = queue.New(queue.Config{
			URL:       cfg.AMQPURL,
			QueueName: "werewolf_tasks",
			Prefetch:  10,
			Logger:    observability.ZapToSlog(logger),
		})
		if err != nil {
			logger.Warn("cannot connect task queue, user stats updates disabled", zap.Error(err))
			taskQueue = nil
		} else {
			defer taskQueue.Close()
			taskQueue.RegisterHandler("update_user_stats", func(taskCtx context.Context, task queue.Task) (map[string]interface{}, error) {
				userID, _ := task.Data["user_id"].(string)
				won, _ := task.Data["won"].(bool)
				if err := st.IncrementUserStats(taskCtx, nil, userID, won); err != nil {
					return nil, err
				}
				return map[string]interface{}{"user_id": userID, "won": won}, nil
			})
			if err := taskQueue.Start(ctx); err != nil {
				logger.Warn("cannot start task queue consumer", zap.Error(err))
			}
		}
	}

	roomMgr = room.NewRoomManager(ctx, st, eb, timerSvc, taskQueue, logger, metrics, cfg.SnapshotInterval)
	defer roomMgr.Close()

	wsServer := realtime.NewWSServer(jwtMgr, st, roomMgr, logger, metrics)
	server := api.NewServer(st, jwtMgr, roomMgr, wsServer, logger, cfg.CORSOrigin)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: server.Router}
	go func() {
		logger.Info("starting server", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)
}
