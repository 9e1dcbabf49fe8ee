package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/gin-gonic/gin"

	"github.com/agent-event-relay/backend/api/handlers"
	"github.com/agent-event-relay/backend/internal/config"
	"github.com/agent-event-relay/backend/internal/db"
	"github.com/agent-event-relay/backend/internal/hub"
	"github.com/agent-event-relay/backend/internal/ratelimit"
	"github.com/agent-event-relay/backend/internal/repository"
)

func main() {
	cfg := config.Load()

	// Ensure data directory exists
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0755); err != nil {
		log.Fatalf("Failed to create database directory: %v", err)
	}

	// Initialize database
	database, err := db.InitDB(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.CloseDB()

	// Initialize repositories
	notificationRepo := repository.NewNotificationRepository(database)
	ruleRepo := repository.NewRuleRepository(database)
	connLogRepo := repository.NewConnectionLogRepository(database)

	// Initialize rate limiter and restore persisted rules
	limiter := ratelimit.NewLimiter(cfg.BlockCooldown)
	rules, err := ruleRepo.List(context.Background())
	if err != nil {
		log.Fatalf("Failed to load rate limit rules: %v", err)
	}
	limiter.Load(rules)

	// Initialize hub
	registry := hub.NewRegistry(connLogRepo, cfg.IdleAfter)
	registry.SetLimiter(limiter)
	defer registry.Close()
	hubHandler := hub.NewHandler(registry, limiter, nil)
	hubHandler.SetQueueCapacity(cfg.QueueCapacity)

	// Initialize handlers
	wsHandler := handlers.NewWebSocketHandler(hubHandler)
	adminHandler := handlers.NewAdminHandler(registry, connLogRepo)
	rateLimitHandler := handlers.NewRateLimitHandler(limiter, ruleRepo)
	notificationHandler := handlers.NewNotificationHandler(notificationRepo, registry)

	// Initialize Gin router
	r := gin.Default()

	// Enable CORS for development
	r.Use(corsMiddleware())

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status": "ok",
		})
	})

	// API routes
	api := r.Group("/api")
	{
		wsHandler.RegisterRoutes(api)
		adminHandler.RegisterRoutes(api)
		rateLimitHandler.RegisterRoutes(api)
		notificationHandler.RegisterRoutes(api)
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Println("Shutting down server...")
		registry.Close()
		db.CloseDB()
		os.Exit(0)
	}()

	// Start server
	log.Printf("Starting server on port %s", cfg.Port)
	if err := r.Run(":" + cfg.Port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// corsMiddleware returns a CORS middleware for development.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
