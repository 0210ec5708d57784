package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/franzego/salon-reminders/internal/audit"
	"github.com/franzego/salon-reminders/internal/config"
	"github.com/franzego/salon-reminders/internal/handlers"
	"github.com/franzego/salon-reminders/internal/logger"
	"github.com/franzego/salon-reminders/internal/middleware"
	"github.com/franzego/salon-reminders/internal/push"
	"github.com/franzego/salon-reminders/internal/queue"
	"github.com/franzego/salon-reminders/internal/reminder"
	"github.com/franzego/salon-reminders/internal/scheduler"
	"github.com/franzego/salon-reminders/internal/store"
	redislock "github.com/franzego/salon-reminders/pkg/redis"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config: ", err)
	}
	logg, err := logger.New(cfg.Server.Mode)
	if err != nil {
		log.Fatal("Failed to build logger: ", err)
	}
	defer logg.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mongoClient, err := store.Connect(ctx, cfg.Mongo.URI)
	if err != nil {
		logg.Fatal("failed to connect to mongo", zap.Error(err))
	}
	db := store.New(mongoClient, cfg.Mongo)
	defer db.Close(context.Background())

	redisClient, err := redislock.InitRedis(ctx, cfg.Redis)
	if err != nil {
		logg.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer redisClient.Close()
	logg.Info("connected to redis", zap.String("addr", cfg.Redis.Addr))

	// audit fan-out is optional
	var publisher audit.Publisher
	var queueStatus handlers.QueueStatus
	if cfg.RabbitMQ.URL != "" {
		clientRabbit, err := queue.NewRabbitMqService(cfg.RabbitMQ)
		if err != nil {
			logg.Error("rabbitmq unavailable, audit fan-out disabled", zap.Error(err))
		} else {
			defer clientRabbit.CloseConnection()
			publisher = clientRabbit
			queueStatus = clientRabbit
		}
	}

	var sender push.Sender
	if cfg.PushConfigured() {
		fcm, err := push.NewFCMClient(ctx, cfg.Firebase.ProjectID, cfg.Firebase.CredentialsFile)
		if err != nil {
			logg.Error("push provider init failed, dispatch disabled", zap.Error(err))
		} else {
			sender = push.NewFCMSender(fcm, logg.Named("fcm"))
		}
	} else {
		logg.Error("firebase credentials not configured, dispatch disabled")
	}

	recorder := audit.NewRecorder(db, publisher, logg.Named("audit"))
	pushService := push.NewService(sender, db, recorder, logg.Named("push"))

	job := reminder.NewJob(db, db, pushService, reminder.Options{
		WindowMinutes:                 cfg.Reminder.WindowMinutes,
		BusinessName:                  cfg.Reminder.BusinessName,
		Title:                         cfg.Reminder.Title,
		Link:                          cfg.Reminder.Link,
		MarkNotifiedOnDispatchFailure: cfg.Reminder.MarkNotifiedOnDispatchFailure,
	}, logg.Named("reminder"))
	locker := redislock.NewLocker(redisClient, scheduler.LockKey, cfg.Reminder.LockTTL)
	sched := scheduler.New(cfg.Reminder.Schedule, job, locker, cfg.Reminder.Timeout, logg.Named("scheduler"))

	if cfg.Reminder.Enabled && pushService.Ready() {
		if err := sched.Start(); err != nil {
			logg.Fatal("failed to start reminder scheduler", zap.Error(err))
		}
		defer sched.Stop()
	} else {
		logg.Warn("reminder schedule not registered",
			zap.Bool("enabled", cfg.Reminder.Enabled),
			zap.Bool("push_ready", pushService.Ready()),
		)
	}

	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(gin.Recovery(), middleware.CorrelationID(), middleware.RequestLogger(logg.Named("http")))

	health := handlers.NewHealthHandler(db, redisClient, queueStatus, pushService)
	r.GET("/health", health.HealthCheck)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	notifications := handlers.NewNotificationHandler(pushService, redisClient, logg.Named("http"))
	reminders := handlers.NewReminderHandler(sched, cfg.Reminder.Timeout, logg.Named("http"))

	api := r.Group("/api/v1", middleware.AuthMiddleware(cfg.Auth.JWTSecret))
	api.POST("/notifications/send", notifications.SendPush)
	api.POST("/reminders/run", reminders.RunNow)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Reminder.Timeout,
	}
	go func() {
		logg.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Fatal("http server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logg.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logg.Error("http server shutdown failed", zap.Error(err))
	}
}
