package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/riskgate/riskgate/internal/audit"
	"github.com/riskgate/riskgate/internal/common/config"
	"github.com/riskgate/riskgate/internal/common/database"
	apperrors "github.com/riskgate/riskgate/internal/common/errors"
	"github.com/riskgate/riskgate/internal/common/logger"
	"github.com/riskgate/riskgate/internal/common/middleware"
	"github.com/riskgate/riskgate/internal/metrics"
	"github.com/riskgate/riskgate/internal/risk"
	"github.com/riskgate/riskgate/internal/store"
)

func main() {
	log := logger.New()
	defer log.Sync()

	cfg, err := config.Load("riskd")
	if err != nil {
		log.Fatal("Failed to load configuration", zap.Error(err))
	}

	cfg.LogSecurityWarnings(log)

	// Database
	db, err := database.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := store.Migrate(ctx, db); err != nil {
		log.Fatal("Failed to run migrations", zap.Error(err))
	}

	// Redis backs the profile cache and oracle lookup caches
	var redis *database.RedisClient
	if cfg.RedisURL != "" {
		redis, err = database.NewRedis(cfg.RedisURL)
		if err != nil {
			log.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer redis.Close()
	}

	// Repositories
	indicatorRepo := store.NewIndicatorRepository(db, log)
	deviceRepo := store.NewDeviceRepository(db)
	sessionRepo := store.NewSessionRepository(db)
	loginRepo := store.NewLoginHistoryRepository(db)
	alertRepo := store.NewAlertRepository(db)

	var profileRepo risk.BehaviorProfileRepository = store.NewProfileRepository(db)
	if redis != nil {
		profileRepo = store.NewCachedProfileRepository(profileRepo, redis, 10*time.Minute, log)
	}

	// IP intelligence oracles
	var geo risk.GeoIPOracle
	var reputation risk.ReputationOracle
	if redis != nil {
		intel := risk.NewIPIntelligence(redis, risk.OracleConfig{
			GeoIPCacheTTL:      time.Duration(cfg.Oracle.GeoIPCacheTTLHours) * time.Hour,
			ReputationCacheTTL: time.Duration(cfg.Oracle.ReputationCacheTTLHours) * time.Hour,
			HTTPTimeout:        time.Duration(cfg.Oracle.HTTPTimeoutSeconds) * time.Second,
			HighRiskCountries:  cfg.Engine.HighRiskCountries,
		}, log)
		geo = intel
		reputation = intel
	}

	engine := risk.NewEngine(
		risk.EngineConfig{
			ProfileTTL:         cfg.Engine.ProfileTTL(),
			OracleTimeout:      cfg.Engine.OracleTimeout(),
			ProfileSaveRetries: cfg.Engine.ProfileSaveRetries,
			HighRiskCountries:  cfg.Engine.HighRiskCountries,
		},
		risk.EngineDeps{
			Indicators: indicatorRepo,
			Profiles:   profileRepo,
			Devices:    deviceRepo,
			Logins:     loginRepo,
			Alerts:     alertRepo,
			GeoIP:      geo,
			Reputation: reputation,
		},
		risk.DetectorConfig{
			MaxTravelSpeedKmh:   cfg.Detector.MaxTravelSpeedKmh,
			TravelWindowHours:   cfg.Detector.TravelWindowHours,
			TimingAnomalyHours:  cfg.Detector.TimingAnomalyHours,
			TimingHighHours:     cfg.Detector.TimingHighHours,
			NavigationZScoreMin: cfg.Detector.NavigationZScoreMin,
		},
		log,
	)

	tracker := risk.NewSessionTracker(sessionRepo, log)

	handler := risk.NewHandler(engine, tracker, log)
	handler.WithAuditLog(logger.NewAuditLogger(log))

	// Elasticsearch audit sink
	if cfg.EnableAuditIndexing && cfg.ElasticsearchURL != "" {
		es, err := database.NewElasticsearch(cfg.ElasticsearchURL)
		if err != nil {
			log.Fatal("Failed to connect to Elasticsearch", zap.Error(err))
		}
		sink := audit.NewSink(es, cfg.AuditIndexPrefix, log)
		if err := sink.Init(); err != nil {
			log.Fatal("Failed to initialize audit indices", zap.Error(err))
		}
		handler.OnAssessment(sink.IndexAssessment)
		handler.OnSessionClose(sink.IndexSessionReview)
		handler.WithSearcher(sink)
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(logger.GinMiddleware(log))
	router.Use(metrics.Middleware("riskd"))
	router.Use(middleware.SecurityHeaders(cfg.IsProduction()))
	router.Use(middleware.CORS(middleware.CORSWithOrigins(cfg.GetCORSOrigins())))
	router.Use(apperrors.ErrorHandler())

	if cfg.EnableRateLimit && redis != nil {
		router.Use(middleware.DistributedRateLimit(redis.Client, middleware.RateLimitConfig{
			Requests:       cfg.RateLimitRequests,
			Window:         time.Duration(cfg.RateLimitWindow) * time.Second,
			AssessRequests: cfg.RateLimitRequests / 2,
			AssessWindow:   time.Duration(cfg.RateLimitWindow) * time.Second,
		}, log))
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "riskd",
		})
	})

	router.GET("/ready", func(c *gin.Context) {
		if err := db.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "not ready",
				"error":  "database unavailable",
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	router.GET("/metrics", metrics.Handler())

	v1 := router.Group("/api/v1/risk")
	handler.RegisterRoutes(v1)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("Starting risk assessment service",
			zap.Int("port", cfg.Port),
			zap.String("environment", cfg.Environment))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down risk assessment service")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Risk assessment service stopped")
}
