package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"emergency-knowledge-service/internal/ai"
	"emergency-knowledge-service/internal/config"
	"emergency-knowledge-service/internal/logger"
	"emergency-knowledge-service/internal/telemetry"
	"emergency-knowledge-service/middleware"
	"emergency-knowledge-service/routes"
	"emergency-knowledge-service/services"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	logger.InitLogger(cfg)

	// Telemetry
	shutdownTracer, err := telemetry.InitTracer("emergency-knowledge-service")
	if err != nil {
		logger.Warn("Tracing disabled", "error", err)
	} else {
		defer shutdownTracer()
	}

	metrics, err := telemetry.InitMetrics()
	if err != nil {
		logger.Warn("Metrics disabled", "error", err)
		metrics = nil
	}

	// Connect to MongoDB (ingest job tracking)
	mongoClient, err := config.ConnectMongoDB(cfg)
	if err != nil {
		log.Fatal("Failed to connect to MongoDB:", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		mongoClient.Disconnect(ctx)
	}()
	db := mongoClient.Database(cfg.DBName)

	// Connect to Redis (rate limiting + task queue)
	rdb, err := config.NewRedisClient(cfg)
	if err != nil {
		log.Fatal("Failed to connect to Redis:", err)
	}
	defer rdb.Close()

	queueClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.RedisURL,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer queueClient.Close()

	// Pipeline services
	embedder, err := ai.NewEmbeddingClient(cfg, metrics)
	if err != nil {
		log.Fatal("Failed to create embedding client:", err)
	}
	defer embedder.Close()

	chunker, err := services.NewChunker(cfg.MaxChunkSize, cfg.ChunkOverlap)
	if err != nil {
		log.Fatal("Invalid chunking configuration:", err)
	}

	store := services.NewVectorStoreClient(cfg, metrics)
	extractor := services.NewTextExtractor()
	ingestion := services.NewIngestionService(chunker, embedder, store, metrics, cfg.EmbedTimeout+cfg.StoreTimeout)
	retrieval := services.NewRetrievalService(embedder, store, cfg.MatchThreshold, cfg.MatchCount)

	// Periodic store diagnostic
	healthMonitor := services.NewStoreHealthMonitor(store, time.Duration(cfg.StoreHealthInterval)*time.Minute)
	if err := healthMonitor.Start(); err != nil {
		logger.Warn("Store health monitor disabled", "error", err)
	} else {
		defer healthMonitor.Stop()
	}

	// Initialize Gin router
	if cfg.GinMode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.TracingMiddleware())
	router.Use(middleware.EnrichTrace())
	if metrics != nil {
		router.Use(middleware.MetricsMiddleware(metrics))
	}
	router.Use(middleware.RateLimitMiddleware(rdb, cfg))

	// CORS configuration
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.CORSOrigins
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Requested-With"}
	corsConfig.AllowCredentials = true
	router.Use(cors.New(corsConfig))

	// Routes
	authMiddleware := middleware.NewAuthMiddleware(cfg)
	docRoutes := routes.NewDocumentRoutes(cfg, ingestion, extractor, store, db, queueClient)

	router.GET("/health", routes.HandleHealth())
	router.GET("/health/vector", routes.HandleVectorHealth(healthMonitor))

	api := router.Group("/api")
	{
		api.POST("/search", routes.HandleSearch(retrieval))
		api.GET("/documents", docRoutes.HandleList())
		api.GET("/jobs/:id", docRoutes.HandleJobStatus())

		protected := api.Group("")
		protected.Use(authMiddleware.RequireAuth())
		{
			protected.POST("/documents", docRoutes.HandleUpload())
			protected.DELETE("/documents/:id", docRoutes.HandleDelete())
		}
	}

	// Create HTTP server
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("Server starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	logger.Info("Server exited")
}
