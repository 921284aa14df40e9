package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"mailblast/internal/config"
	"mailblast/internal/dispatch"
	"mailblast/internal/handler"
	"mailblast/internal/middleware"
	"mailblast/internal/provider"
	"mailblast/internal/queue"
	"mailblast/internal/repository"
	"mailblast/internal/service"
)

func main() {
	// Load .env file (ignore error in production)
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Connect to database
	db, err := sql.Open("postgres", cfg.GetDatabaseDSN())
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}
	log.Println("✅ Connected to database")

	// Connect to Redis (worker lock, global pause, cancel flags)
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.GetRedisAddr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	// Connect to RabbitMQ
	conn, err := queue.NewConnection(cfg.GetRabbitMQURL())
	if err != nil {
		log.Fatalf("Failed to connect to RabbitMQ: %v", err)
	}
	defer conn.Close()

	publisher, err := queue.NewPublisher(conn, "campaign_dispatch")
	if err != nil {
		log.Fatalf("Failed to create publisher: %v", err)
	}

	// Repositories
	campaignRepo := repository.NewCampaignRepository(db)
	bounceRepo := repository.NewBounceRepository(db)
	chunkRepo := repository.NewChunkRepository(db)

	// Coordination services
	pause := dispatch.NewPauseController(dispatch.NewRedisPauseStore(redisClient), campaignRepo, cfg.Dispatch.PauseDuration)
	lock := dispatch.NewRedisLock(redisClient, cfg.Dispatch.LockTTL)
	flags := dispatch.NewRedisCancelFlags(redisClient)

	// Provider gateway, highest priority first
	gateway := provider.NewGateway(
		provider.NewGmailProvider(cfg.Provider.GmailToken, cfg.Provider.GmailURL, cfg.Provider.From),
		provider.NewSendGridProvider(cfg.Provider.SendGridAPIKey, cfg.Provider.SendGridURL, cfg.Provider.From),
	)

	// Coordinator used by the synchronous chunk endpoint
	ownerID := "api-" + uuid.NewString()
	coordinator := dispatch.NewCoordinator(gateway, pause, lock, flags, nil, ownerID, dispatch.Options{
		MaxRetries:         cfg.Dispatch.MaxRetries,
		RetryDelay:         cfg.Dispatch.RetryDelay,
		BetweenEmailsDelay: cfg.Dispatch.BetweenEmailsDelay,
	})

	// Services
	templateSvc := service.NewTemplateService()
	suppressionSvc := service.NewSuppressionService(bounceRepo)
	if err := suppressionSvc.WarmCache(context.Background()); err != nil {
		log.Printf("Warning: failed to warm suppression cache: %v", err)
	}
	campaignSvc := service.NewCampaignService(campaignRepo, suppressionSvc, templateSvc, publisher, lock, flags)
	progressSvc := service.NewProgressService(campaignRepo, chunkRepo, pause)
	healthSvc := service.NewHealthService(db, cfg.GetRabbitMQURL(), redisClient, "1.0.0")

	// Handlers
	campaignHandler := handler.NewCampaignHandler(campaignSvc)
	progressHandler := handler.NewProgressHandler(progressSvc)
	chunkHandler := handler.NewChunkHandler(coordinator, progressSvc)
	bounceHandler := handler.NewBounceHandler(suppressionSvc)
	healthHandler := handler.NewHealthHandler(healthSvc)

	// Router
	router := mux.NewRouter()
	router.Use(middleware.Recovery)

	router.HandleFunc("/health", healthHandler.Check).Methods("GET")
	router.HandleFunc("/campaigns", campaignHandler.Start).Methods("POST")
	router.HandleFunc("/campaigns/{id}", campaignHandler.GetStatus).Methods("GET")
	router.HandleFunc("/campaigns/{id}/resume", campaignHandler.Resume).Methods("POST")
	router.HandleFunc("/campaigns/{id}/cancel", campaignHandler.Cancel).Methods("POST")
	router.HandleFunc("/send-chunk", chunkHandler.SendChunk).Methods("POST")
	router.HandleFunc("/progress", progressHandler.Get).Methods("GET")
	router.HandleFunc("/webhooks/bounce", bounceHandler.Receive).Methods("POST")
	router.HandleFunc("/suppressions/unsuppress", bounceHandler.Unsuppress).Methods("POST")

	// Start server
	port := ":" + cfg.Server.Port
	log.Printf("🚀 API server starting on port %s", port)
	log.Printf("🌍 Environment: %s", cfg.Env)

	if err := http.ListenAndServe(port, router); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
