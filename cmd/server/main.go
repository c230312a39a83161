package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/media-booth-system/internal/auth"
	"github.com/media-booth-system/internal/booth"
	"github.com/media-booth-system/internal/ws"
	"github.com/media-booth-system/pkg/database"
	"github.com/media-booth-system/pkg/events"
	"github.com/media-booth-system/pkg/redis"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found")
	}

	var logger *zap.Logger
	var err error
	if os.Getenv("ENV") == "production" {
		gin.SetMode(gin.ReleaseMode)
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	// Initialize MySQL database
	db, err := database.NewMySQLDB(
		os.Getenv("MYSQL_HOST"),
		os.Getenv("MYSQL_PORT"),
		os.Getenv("MYSQL_USER"),
		os.Getenv("MYSQL_PASSWORD"),
		os.Getenv("MYSQL_DATABASE"),
	)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	// Initialize Redis client
	redisClient := goredis.NewClient(&goredis.Options{
		Addr:     os.Getenv("REDIS_HOST") + ":" + os.Getenv("REDIS_PORT"),
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       0,
	})

	// Initialize Kafka client
	kafkaClient := events.NewKafkaClient(
		strings.Split(os.Getenv("KAFKA_BROKERS"), ","),
		"booth-events",
		os.Getenv("KAFKA_GROUP_ID"),
	)
	defer kafkaClient.Close()

	// Initialize core services
	sessions := redis.NewSessionStore(redisClient)
	engine := booth.NewEngine(db, kafkaClient, logger.Named("booth"))
	defer engine.Close()

	hub := ws.NewHub(logger.Named("hub"))
	engine.SetPresence(hub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.ConsumeEvents(ctx, kafkaClient)

	// Initialize handlers
	authHandler := auth.NewHandler(db, sessions)
	boothHandler := booth.NewHandler(engine, db)
	wsHandler := ws.NewHandler(hub, engine, sessions, db, logger.Named("ws"))

	// Initialize Gin router
	router := gin.Default()

	// CORS middleware
	router.Use(cors.New(cors.Config{
		AllowOrigins:     strings.Split(os.Getenv("CORS_ORIGINS"), ","),
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
	}))

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
		})
	})

	// API routes
	v1 := router.Group("/api/v1")

	// Public routes: login, and the websocket endpoint (connections start as
	// guests and authenticate over the wire).
	authHandler.RegisterRoutes(v1)
	v1.GET("/ws", wsHandler.HandleWebSocket)

	// Protected routes
	protected := v1.Group("/")
	protected.Use(auth.AuthMiddleware())
	{
		boothHandler.RegisterRoutes(protected)
	}

	// Start server
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	log.Printf("Server starting on port %s", port)
	if err := router.Run(":" + port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
