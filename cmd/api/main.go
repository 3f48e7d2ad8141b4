package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"foodrescue/internal/billing"
	"foodrescue/internal/cache"
	"foodrescue/internal/config"
	"foodrescue/internal/consumer"
	"foodrescue/internal/database"
	"foodrescue/internal/handler"
	"foodrescue/internal/middleware"
	"foodrescue/internal/monitor"
	"foodrescue/internal/redis"
	"foodrescue/internal/repository"
	"foodrescue/internal/service/notify"
	"foodrescue/internal/service/redemption"
	"foodrescue/internal/service/reservation"
	"foodrescue/pkg/breaker"
	"foodrescue/pkg/degrade"
	"foodrescue/pkg/log"
	"foodrescue/pkg/queue"
	"foodrescue/pkg/snowflake"
)

func main() {
	cfg, err := config.LoadConfig("")
	if err != nil {
		log.WithFields(map[string]interface{}{
			"error": err.Error(),
		}).Fatal("Failed to load config")
	}

	log.Init(log.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		Filename:   cfg.Log.Filename,
		MaxSize:    cfg.Log.MaxSize,
		MaxAge:     cfg.Log.MaxAge,
		MaxBackups: cfg.Log.MaxBackups,
		Compress:   cfg.Log.Compress,
	})

	if err := database.Init(cfg); err != nil {
		log.WithFields(map[string]interface{}{
			"error": err.Error(),
		}).Fatal("Failed to initialize database")
	}
	defer database.Close()

	if err := database.Migrate(); err != nil {
		log.WithFields(map[string]interface{}{
			"error": err.Error(),
		}).Fatal("Failed to migrate database")
	}

	if err := redis.Init(cfg); err != nil {
		log.WithFields(map[string]interface{}{
			"error": err.Error(),
		}).Fatal("Failed to initialize redis")
	}
	defer redis.Close()

	tracer, err := monitor.NewTracer(&monitor.TracerConfig{
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: "1.0.0",
		Environment:    config.GetEnv("FOODRESCUE_ENV", "dev"),
		JaegerEndpoint: cfg.Tracing.Endpoint,
		SamplingRate:   cfg.Tracing.SampleRate,
		Enabled:        cfg.Tracing.Enabled,
	})
	if err != nil {
		log.WithFields(map[string]interface{}{
			"error": err.Error(),
		}).Fatal("Failed to initialize tracer")
	}

	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	db := database.GetDB()
	rdb := redis.GetClient()

	// Repositories
	userRepo := repository.NewUserRepository(db)
	lotRepo := repository.NewLotRepository(db)
	reservationRepo := repository.NewReservationRepository(db)
	credentialRepo := repository.NewCredentialRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)

	idGenerator, err := snowflake.NewIDGenerator(1)
	if err != nil {
		log.WithFields(map[string]interface{}{
			"error": err.Error(),
		}).Fatal("Failed to create ID generator")
	}

	lotCache, err := cache.NewLotCache(lotRepo, cfg.Reservation.LotCacheTTL)
	if err != nil {
		log.WithFields(map[string]interface{}{
			"error": err.Error(),
		}).Fatal("Failed to create lot cache")
	}

	// Event transport and fan-out
	messageQueue, err := queue.NewMemoryQueue(&queue.MemoryQueueConfig{
		BufferSize: cfg.Queue.BufferSize,
		Timeout:    cfg.Queue.Timeout,
	})
	if err != nil {
		log.WithFields(map[string]interface{}{
			"error": err.Error(),
		}).Fatal("Failed to create message queue")
	}
	defer messageQueue.Close()

	eventSink := notify.NewQueueSink(messageQueue, cfg.Queue.Topic)
	hub := notify.NewHub(cfg.Notify.HubBuffer)
	notifier := notify.NewNotifier(notificationRepo, hub, idGenerator)

	// Redemption protocol
	attemptGuard := redemption.NewAttemptGuard(rdb, redemption.AttemptGuardConfig{
		MaxAttempts: cfg.Redemption.MaxAttempts,
		Window:      cfg.Redemption.AttemptWindow,
		LocalRate:   cfg.Redemption.LocalRate,
		LocalBurst:  cfg.Redemption.LocalBurst,
	})
	validator := redemption.NewValidator(reservationRepo, credentialRepo, attemptGuard, eventSink, rdb, cfg.Redemption.ResultTTL)
	if err := validator.WarmScreen(context.Background()); err != nil {
		log.WithFields(map[string]interface{}{
			"error": err.Error(),
		}).Fatal("Failed to warm reservation screen")
	}
	issuer := redemption.NewIssuer(credentialRepo)

	circuitBreakers := breaker.NewManager(breaker.Config{
		MaxRequests: cfg.CircuitBreak.MaxRequests,
		Interval:    cfg.CircuitBreak.Interval,
		Timeout:     cfg.CircuitBreak.Timeout,
		ReadyToTrip: func(counts breaker.Counts) bool {
			return counts.ConsecutiveFailures > cfg.CircuitBreak.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to breaker.State) {
			log.WithFields(map[string]interface{}{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Circuit breaker state changed")
		},
	})

	intakeGate := degrade.NewManager(rdb)

	reservationService := reservation.NewService(
		reservationRepo,
		lotRepo,
		lotCache,
		credentialRepo,
		issuer,
		validator,
		eventSink,
		billing.NewAutoApprove(),
		intakeGate,
		circuitBreakers,
		idGenerator,
	)

	// Drain reservation events into notifications
	eventConsumer := consumer.NewEventConsumer(
		messageQueue,
		cfg.Queue.Topic,
		notifier,
		userRepo,
		lotCache,
		cfg.Reservation.PointsPerItem,
	)

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	if err := eventConsumer.Start(rootCtx); err != nil {
		log.WithFields(map[string]interface{}{
			"error": err.Error(),
		}).Fatal("Failed to start event consumer")
	}

	// Expiry sweep
	go runExpirySweep(rootCtx, reservationService, cfg.Reservation.SweepInterval, cfg.Reservation.SweepBatch)

	router := setupRouter(cfg, reservationService, validator, lotRepo, lotCache, notificationRepo, hub, idGenerator, intakeGate)

	server := &http.Server{
		Addr:           cfg.Server.GetAddr(),
		Handler:        router,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		IdleTimeout:    cfg.Server.IdleTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderMB << 20,
	}

	go func() {
		log.WithFields(map[string]interface{}{
			"addr": server.Addr,
			"mode": cfg.Server.Mode,
		}).Info("Starting HTTP server")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithFields(map[string]interface{}{
				"error": err.Error(),
			}).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")
	rootCancel()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.WithFields(map[string]interface{}{
			"error": err.Error(),
		}).Fatal("Server forced to shutdown")
	}

	if err := tracer.Shutdown(ctx); err != nil {
		log.WithFields(map[string]interface{}{
			"error": err.Error(),
		}).Warn("Tracer shutdown failed")
	}

	log.Info("Server exited")
}

// runExpirySweep periodically moves overdue confirmed reservations to
// expired. The sweep is idempotent, so overlap with a concurrent instance
// is harmless.
func runExpirySweep(ctx context.Context, service *reservation.Service, interval time.Duration, batch int) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := service.ExpireOverdue(ctx, batch); err != nil {
				log.WithFields(map[string]interface{}{
					"error": err.Error(),
				}).Error("Expiry sweep failed")
			}
		case <-ctx.Done():
			return
		}
	}
}

func setupRouter(
	cfg *config.Config,
	reservationService *reservation.Service,
	validator *redemption.Validator,
	lotRepo repository.LotRepository,
	lotCache *cache.LotCache,
	notificationRepo repository.NotificationRepository,
	hub *notify.Hub,
	idGenerator *snowflake.IDGenerator,
	intakeGate *degrade.Manager,
) *gin.Engine {
	router := gin.New()

	router.Use(middleware.Logger())
	router.Use(middleware.Recovery())
	router.Use(middleware.CORS(cfg))
	router.Use(monitor.GinMiddleware())
	if cfg.RateLimit.Enabled {
		router.Use(middleware.RateLimit(cfg.RateLimit.Global.RPS, cfg.RateLimit.Global.Burst))
	}

	router.GET("/health", healthCheck)
	if cfg.Metrics.Enabled {
		router.GET(cfg.Metrics.Path, gin.WrapH(promhttp.Handler()))
	}

	jwtManager := middleware.NewJWTManager(
		cfg.Security.JWT.Secret,
		cfg.Security.JWT.Expire,
		cfg.Security.JWT.Issuer,
	)

	lotHandler := handler.NewLotHandler(lotRepo, lotCache, idGenerator)
	degradeHandler := handler.NewDegradeHandler(intakeGate)
	reservationHandler := handler.NewReservationHandler(reservationService)
	redemptionHandler := handler.NewRedemptionHandler(validator)
	notificationHandler := handler.NewNotificationHandler(notificationRepo, hub)

	api := router.Group("/api")
	v1 := api.Group("/v1")
	{
		// Browsing is public.
		v1.GET("/lots", lotHandler.ListOpen)
		v1.GET("/lots/:id", lotHandler.Get)

		protected := v1.Group("")
		protected.Use(middleware.Auth(jwtManager))
		{
			protected.POST("/lots", middleware.RequireRole("merchant"), lotHandler.Create)

			reservations := protected.Group("/reservations")
			{
				reservations.POST("", reservationHandler.Create)
				reservations.GET("", reservationHandler.List)
				reservations.GET("/:id", reservationHandler.Get)
				reservations.POST("/:id/confirm", reservationHandler.Confirm)
				reservations.POST("/:id/cancel", reservationHandler.Cancel)
				reservations.POST("/:id/no-show", middleware.RequireRole("merchant"), reservationHandler.MarkNoShow)
			}

			redemptions := protected.Group("/redemptions")
			redemptions.Use(middleware.RequireRole("merchant"))
			if cfg.RateLimit.Enabled {
				redemptions.Use(middleware.IPRateLimit(cfg.RateLimit.PerIP.RPS, cfg.RateLimit.PerIP.Burst))
			}
			{
				redemptions.POST("", redemptionHandler.Redeem)
				redemptions.POST("/scan", redemptionHandler.RedeemScan)
				redemptions.GET("/:id/outcome", redemptionHandler.Outcome)
			}

			admin := protected.Group("/admin")
			admin.Use(middleware.RequireRole("admin"))
			{
				admin.POST("/degrade", degradeHandler.Enable)
				admin.POST("/degrade/disable", degradeHandler.Disable)
			}

			notifications := protected.Group("/notifications")
			{
				notifications.GET("", notificationHandler.List)
				notifications.GET("/unread-count", notificationHandler.UnreadCount)
				notifications.GET("/stream", notificationHandler.Stream)
				notifications.POST("/:id/read", notificationHandler.MarkRead)
				notifications.POST("/read-all", notificationHandler.MarkAllRead)
			}
		}
	}

	return router
}

func healthCheck(c *gin.Context) {
	dbErr := database.Health()
	redisErr := redis.Health()

	health := gin.H{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
		"services": gin.H{
			"database": dbErr == nil,
			"redis":    redisErr == nil,
		},
	}

	if dbErr != nil || redisErr != nil {
		health["status"] = "error"
		c.JSON(http.StatusServiceUnavailable, health)
		return
	}

	c.JSON(http.StatusOK, health)
}
