package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prohmpiriya/tutor-site/internal/backend"
	"github.com/prohmpiriya/tutor-site/internal/fixtures"
	"github.com/prohmpiriya/tutor-site/internal/handler"
	"github.com/prohmpiriya/tutor-site/internal/middleware"
	"github.com/prohmpiriya/tutor-site/internal/proxy"
	"github.com/prohmpiriya/tutor-site/internal/session"
	"github.com/prohmpiriya/tutor-site/pkg/config"
	"github.com/prohmpiriya/tutor-site/pkg/logger"
	pkgmiddleware "github.com/prohmpiriya/tutor-site/pkg/middleware"
	pkgredis "github.com/prohmpiriya/tutor-site/pkg/redis"
	"github.com/prohmpiriya/tutor-site/pkg/response"
	"github.com/prohmpiriya/tutor-site/pkg/retry"
	"github.com/prohmpiriya/tutor-site/pkg/telemetry"
	"go.uber.org/zap"
)

func main() {
	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := logger.Init(&logger.Config{
		Level:       cfg.App.LogLevel,
		ServiceName: cfg.App.Name,
		Development: cfg.IsDevelopment(),
	}); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	appLog := logger.Get()
	appLog.Info("Starting tutor site", zap.String("environment", cfg.App.Environment), zap.String("version", cfg.App.Version))

	ctx := context.Background()

	telemetryCfg := &telemetry.Config{
		Enabled:        cfg.OTel.Enabled,
		ServiceName:    cfg.OTel.ServiceName,
		ServiceVersion: cfg.App.Version,
		Environment:    cfg.App.Environment,
		CollectorAddr:  cfg.OTel.CollectorAddr,
		SampleRatio:    cfg.OTel.SampleRatio,
	}
	if _, err := telemetry.Init(ctx, telemetryCfg); err != nil {
		appLog.Warn("Failed to initialize telemetry", zap.Error(err))
	} else if telemetryCfg.Enabled {
		appLog.Info("Telemetry initialized", zap.String("collector", telemetryCfg.CollectorAddr))
	}
	defer telemetry.Shutdown(ctx)

	// Redis is optional: it backs distributed rate limiting, idempotency keys and the read cache
	var redis *pkgredis.Client
	if cfg.Redis.Enabled {
		redis, err = pkgredis.NewClient(ctx, &pkgredis.Config{
			Host:          cfg.Redis.Host,
			Port:          cfg.Redis.Port,
			Password:      cfg.Redis.Password,
			DB:            cfg.Redis.DB,
			PoolSize:      cfg.Redis.PoolSize,
			MinIdleConns:  cfg.Redis.MinIdleConns,
			DialTimeout:   cfg.Redis.DialTimeout,
			ReadTimeout:   cfg.Redis.ReadTimeout,
			WriteTimeout:  cfg.Redis.WriteTimeout,
			MaxRetries:    3,
			RetryInterval: 2 * time.Second,
		})
		if err != nil {
			appLog.Warn("Redis connection failed, continuing without it", zap.Error(err))
			redis = nil
		} else {
			defer redis.Close()
			appLog.Info("Redis connected", zap.String("addr", cfg.Redis.Addr()))
		}
	}

	backendClient := backend.NewClient(backend.Config{
		BaseURL: cfg.Backend.BaseURL(),
		Timeout: cfg.Backend.Timeout,
	})
	if !backendClient.Configured() {
		appLog.Warn("Backend URL is not configured; proxy routes will answer with CONFIG_ERROR")
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(telemetry.Middleware())
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(appLog))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig(cfg.CORS.AllowOrigins)))

	if cfg.RateLimit.Enabled {
		rateLimitConfig := middleware.DefaultRateLimitConfig(
			cfg.RateLimit.RequestsPerMinute,
			cfg.RateLimit.Burst,
			cfg.RateLimit.LoginPerMinute,
			cfg.RateLimit.LoginBurst,
		)
		if redis != nil {
			rateLimitConfig.Redis = redis
			appLog.Info("Rate limiting enabled (Redis-backed, distributed)")
		} else {
			appLog.Info("Rate limiting enabled (local, non-distributed)")
		}
		router.Use(middleware.RateLimiter(rateLimitConfig))
	} else {
		appLog.Warn("Rate limiting disabled")
	}

	var redisChecker handler.RedisChecker
	if redis != nil {
		redisChecker = redis
	}
	healthHandler := handler.NewHealthHandler(redisChecker, backendClient)
	router.GET("/health", healthHandler.Health)
	router.GET("/ready", healthHandler.Ready)

	cookie := session.CookieOptions{
		Name:   cfg.Session.CookieName,
		MaxAge: cfg.Session.MaxAge,
		Secure: cfg.IsProduction(),
	}

	authHandler := handler.NewAuthHandler(backendClient, handler.AuthConfig{
		AuthPath: cfg.Backend.AuthPath,
		Cookie:   cookie,
		Retry:    retry.Fixed(cfg.Login.MaxRetries, cfg.Login.RetryInterval, cfg.Login.AttemptTimeout),
	}, appLog)

	paymentHandler := handler.NewPaymentHandler(backendClient, handler.PaymentConfig{
		ClientID:   cfg.PayPal.ClientID,
		Currency:   cfg.PayPal.Currency,
		CookieName: cookie.Name,
	}, appLog)

	// Without redis the middleware passes every request through
	idempotencyConfig := pkgmiddleware.DefaultIdempotencyConfig(nil)
	if redis != nil {
		idempotencyConfig.Redis = redis
	}
	idempotencyConfig.Subject = func(c *gin.Context) string {
		token, _ := session.ResolveToken(c.Request, cookie.Name)
		return token
	}
	idempotency := pkgmiddleware.Idempotency(idempotencyConfig)

	api := router.Group("/api")
	{
		auth := api.Group("/auth")
		auth.POST("/login", authHandler.Login)
		auth.POST("/logout", authHandler.Logout)
		auth.GET("/verify", authHandler.Verify)

		payments := api.Group("/payments")
		payments.GET("/config", paymentHandler.Config)
		payments.POST("/create-order", idempotency, paymentHandler.CreateOrder)
		payments.GET("/order/:orderId", paymentHandler.GetOrder)
		payments.POST("/capture/:orderId", idempotency, paymentHandler.Capture)
	}

	proxyConfig := proxy.Config{CookieName: cookie.Name}
	if cfg.Fallback.Enabled {
		store, err := fixtures.New(cfg.Fallback.Path)
		if err != nil {
			appLog.Fatal("Failed to load fallback fixtures", zap.Error(err))
		}
		proxyConfig.Fixtures = store
		appLog.Warn("Fallback data enabled; backend outages will be served from fixtures",
			zap.Strings("resources", store.Resources()))
	}
	if redis != nil && cfg.Proxy.CacheTTL > 0 {
		proxyConfig.Cache = proxy.NewRedisCache(redis)
		proxyConfig.CacheTTL = cfg.Proxy.CacheTTL
		appLog.Info("Public read cache enabled", zap.Duration("ttl", cfg.Proxy.CacheTTL))
	}
	proxy.NewHandler(backendClient, proxy.DefaultResources(), proxyConfig, appLog).Register(router)

	router.NoRoute(func(c *gin.Context) {
		response.Error(c, http.StatusNotFound, "ROUTE_NOT_FOUND", "Route not found", nil)
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		appLog.Info("Listening", zap.String("addr", addr), zap.String("backend", backendClient.BaseURL()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLog.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLog.Info("Shutting down server...")

	// Give outstanding requests 30 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLog.Fatal("Server forced to shutdown", zap.Error(err))
	}

	appLog.Info("Server exited gracefully")
}

// loadConfig reads CONFIG_FILE when set, otherwise the optional .env
func loadConfig() (*config.Config, error) {
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		return config.LoadWithPath(path)
	}
	return config.Load()
}
