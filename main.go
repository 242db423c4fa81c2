package main

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"settlement-service/internal/cache"
	"settlement-service/internal/database"
	"settlement-service/internal/handlers"
	"settlement-service/internal/repository"
	"settlement-service/internal/services"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	if mode := os.Getenv("GIN_MODE"); mode != "" {
		gin.SetMode(mode)
	}

	// Connection router: one primary pool, optional read replicas
	router, err := database.NewRouter(database.Config{
		PrimaryDSN:          os.Getenv("DATABASE_URL"),
		ReplicaDSNs:         splitCSV(os.Getenv("DATABASE_REPLICA_URLS")),
		MaxOpenConns:        envInt("DB_MAX_OPEN_CONNS", 10),
		AcquireTimeout:      envDuration("DB_ACQUIRE_TIMEOUT", 5*time.Second),
		HealthCheckInterval: envDuration("HEALTH_CHECK_INTERVAL", 30*time.Second),
	})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	// Redis: idempotency guard and asynq share the same instance
	redisAddr := os.Getenv("REDIS_URL")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}
	redisClient := redis.NewClient(&redis.Options{Addr: redisAddr})
	defer redisClient.Close()

	guard := cache.NewIdempotencyGuard(
		redisClient,
		envDuration("IDEMPOTENCY_IN_FLIGHT_TTL", 5*time.Minute),
		envDuration("IDEMPOTENCY_RESULT_TTL", 24*time.Hour),
	)

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{Addr: redisAddr})
	defer asynqClient.Close()

	// Repositories and services
	txRepo := repository.NewTransactionRepo(router)

	ingestionService := services.NewIngestionService(txRepo, guard, asynqClient)
	settlementService := services.NewSettlementService(txRepo, router, envDuration("SETTLEMENT_INTERVAL", time.Hour))
	dlqService := services.NewDLQService(txRepo, router)
	partitionService := services.NewPartitionService(router, envInt("PARTITION_MONTHS_AHEAD", 2), envInt("PARTITION_RETENTION_MONTHS", 12))

	var horizonClient *services.HorizonClient
	if horizonURL := os.Getenv("HORIZON_URL"); horizonURL != "" {
		horizonClient = services.NewHorizonClient(
			horizonURL,
			uint32(envInt("HORIZON_FAILURE_THRESHOLD", 3)),
			envDuration("HORIZON_RESET_TIMEOUT", 60*time.Second),
		)
	}

	// Handlers
	callbackHandler := handlers.NewCallbackHandler(ingestionService)
	transactionHandler := handlers.NewTransactionHandler(txRepo)
	adminHandler := handlers.NewAdminHandler(dlqService, settlementService, ingestionService, horizonClient, router)

	// Initialize Gin
	r := gin.Default()

	r.GET("/ping", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"message": "Settlement service up",
		})
	})
	r.GET("/health", adminHandler.HealthCheck)

	r.POST("/callbacks/transaction", callbackHandler.HandleTransactionCallback)

	r.GET("/transactions", transactionHandler.ListTransactions)
	r.GET("/transactions/search", transactionHandler.SearchTransactions)
	r.GET("/transactions/:id", transactionHandler.GetTransaction)

	admin := r.Group("/admin")
	{
		admin.GET("/dlq", adminHandler.ListDeadLetter)
		admin.POST("/dlq/:id/requeue", adminHandler.RequeueDeadLetter)
		admin.POST("/retry/:id", adminHandler.RetryTransaction)
		admin.POST("/transactions/:id/force-complete", adminHandler.ForceComplete)
		admin.POST("/settlements/run", adminHandler.RunSettlements)
		admin.GET("/settlements", adminHandler.ListSettlements)
	}

	// Start Cron Schedulers
	router.StartHealthChecks()
	settlementService.StartScheduler()
	partitionService.StartScheduler()

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	log.Printf("HTTP Server starting on port %s", port)
	if err := r.Run(":" + port); err != nil {
		log.Fatal("Failed to start server: ", err)
	}
}

func splitCSV(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func envInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("Invalid %s=%q, using default %d", key, raw, fallback)
		return fallback
	}
	return v
}

func envDuration(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("Invalid %s=%q, using default %s", key, raw, fallback)
		return fallback
	}
	return v
}
