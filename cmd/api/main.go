package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"

	"github.com/flicky/storefront/internal/cache"
	"github.com/flicky/storefront/internal/config"
	"github.com/flicky/storefront/internal/events"
	"github.com/flicky/storefront/internal/handler"
	"github.com/flicky/storefront/internal/metrics"
	"github.com/flicky/storefront/internal/middleware"
	"github.com/flicky/storefront/internal/payment"
	"github.com/flicky/storefront/internal/repository"
	"github.com/flicky/storefront/internal/service"
	"github.com/flicky/storefront/internal/session"
	"github.com/flicky/storefront/internal/worker"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load()
	if err != nil {
		log.Error("load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// PostgreSQL
	if cfg.DB.RunMigrations {
		if err := repository.Migrate(cfg.DB.DSN()); err != nil {
			log.Error("run migrations", "error", err)
			os.Exit(1)
		}
		log.Info("migrations applied")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DB.DSN())
	if err != nil {
		log.Error("parse db config", "error", err)
		os.Exit(1)
	}
	poolCfg.MaxConns = cfg.DB.MaxConns

	dbPool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		log.Error("connect to database", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()

	if err := dbPool.Ping(ctx); err != nil {
		log.Error("ping database", "error", err)
		os.Exit(1)
	}
	log.Info("connected to PostgreSQL")

	// Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Error("connect to Redis", "error", err)
		os.Exit(1)
	}
	log.Info("connected to Redis")

	// RabbitMQ
	amqpConn, err := amqp.Dial(cfg.RabbitMQ.URL)
	if err != nil {
		log.Error("connect to RabbitMQ", "error", err)
		os.Exit(1)
	}
	defer amqpConn.Close()

	publishCh, err := amqpConn.Channel()
	if err != nil {
		log.Error("open RabbitMQ channel", "error", err)
		os.Exit(1)
	}
	defer publishCh.Close()

	consumeCh, err := amqpConn.Channel()
	if err != nil {
		log.Error("open RabbitMQ channel", "error", err)
		os.Exit(1)
	}
	defer consumeCh.Close()

	if err := events.SetupRabbitMQ(consumeCh); err != nil {
		log.Error("setup RabbitMQ", "error", err)
		os.Exit(1)
	}
	log.Info("connected to RabbitMQ")

	// Repositories
	tx := repository.NewTransactor(dbPool)
	userRepo := repository.NewUserRepository(dbPool)
	productRepo := repository.NewProductRepository(dbPool)
	cartRepo := repository.NewCartRepository(dbPool)
	couponRepo := repository.NewCouponRepository(dbPool)
	pricingRepo := repository.NewPricingRepository(dbPool)
	orderRepo := repository.NewOrderRepository(dbPool)

	// Services
	appCache := cache.New(redisClient, "storefront:")
	sessions := session.NewStore(redisClient, cfg.Session.TTL)
	publisher := events.NewAMQPPublisher(publishCh)

	var gateway payment.Gateway
	if cfg.Payment.APIKey != "" {
		gateway = payment.NewStripeGateway(cfg.Payment, log)
	} else {
		log.Warn("PAYMENT_API_KEY not set, card checkouts will report payment failure")
	}

	pricingSvc := service.NewPricingService(pricingRepo, couponRepo, appCache, cfg.Pricing, log)
	productSvc := service.NewProductService(productRepo, appCache, log)
	cartSvc := service.NewCartService(tx, cartRepo, productRepo, pricingSvc, sessions, log)
	effects := service.NewPlacementEffects(couponRepo, cartRepo, sessions, publisher, log)
	checkoutSvc := service.NewCheckoutService(tx, cartRepo, productRepo, orderRepo, cartSvc, effects, gateway, log)
	orderSvc := service.NewOrderService(tx, orderRepo, productRepo, effects, log)
	authSvc := service.NewAuthService(userRepo, cartSvc, cfg.JWT.Secret, cfg.JWT.Expiration, log)

	// Handlers
	authH := handler.NewAuthHandler(authSvc, log)
	productH := handler.NewProductHandler(productSvc, log)
	cartH := handler.NewCartHandler(cartSvc, log)
	checkoutH := handler.NewCheckoutHandler(checkoutSvc, log)
	orderH := handler.NewOrderHandler(orderSvc, log)
	webhookH := handler.NewWebhookHandler(orderSvc, cfg.Payment, log)
	healthH := handler.NewHealthHandler(
		handler.PostgresCheck(dbPool),
		handler.RedisCheck(redisClient),
		handler.RabbitMQCheck(amqpConn),
	)

	// Worker
	eventWorker := worker.NewEventWorker(consumeCh, appCache, worker.NewLogNotifier(log), productSvc, log)

	// Router
	router := gin.New()
	router.Use(gin.Recovery(), middleware.Metrics())
	router.GET("/healthz", healthH.Healthz)
	router.GET("/readyz", healthH.Readyz)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))
	router.POST("/webhooks/payments", webhookH.Payments)

	v1 := router.Group("/api/v1", middleware.Owner(cfg.JWT.Secret))
	{
		auth := v1.Group("/auth")
		auth.POST("/register", authH.Register)
		auth.POST("/login", authH.Login)

		products := v1.Group("/products")
		products.GET("", productH.List)
		products.GET("/:id", productH.GetByID)

		cart := v1.Group("/cart")
		cart.GET("", cartH.GetCart)
		cart.DELETE("", cartH.Clear)
		cart.POST("/items", cartH.AddItem)
		cart.PATCH("/items/:id", cartH.UpdateItem)
		cart.DELETE("/items/:id", cartH.DeleteItem)
		cart.POST("/coupon", cartH.ApplyCoupon)
		cart.DELETE("/coupon", cartH.RemoveCoupon)
		cart.PUT("/country", cartH.SetCountry)

		v1.POST("/checkout", checkoutH.Checkout)

		orders := v1.Group("/orders")
		orders.GET("", orderH.ListOrders)
		orders.GET("/:id", orderH.GetOrder)
		orders.POST("/:id/cancel", orderH.CancelOrder)
	}

	admin := router.Group("/api/v1/admin", middleware.AuthMiddleware(cfg.JWT.Secret), middleware.AdminOnly())
	{
		admin.GET("/orders/:id", orderH.AdminGetOrder)
		admin.PUT("/orders/:id/status", orderH.UpdateStatus)
		admin.POST("/orders/:id/cancel", orderH.AdminCancel)
		admin.POST("/orders/:id/refund", orderH.Refund)
		admin.POST("/orders/:id/recalculate", orderH.Recalculate)
	}

	if err := eventWorker.Start(ctx); err != nil {
		log.Error("start event worker", "error", err)
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info("starting HTTP server", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown", "error", err)
	}

	eventWorker.Stop()
	cancel()
	log.Info("server stopped")
}
