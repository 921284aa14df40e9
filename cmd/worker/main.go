package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"mailblast/internal/config"
	"mailblast/internal/dispatch"
	"mailblast/internal/models"
	"mailblast/internal/provider"
	"mailblast/internal/queue"
	"mailblast/internal/repository"
)

// pausePollInterval is how often a waiting worker re-checks the global pause
const pausePollInterval = 5 * time.Second

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
	log.Println("✅ Connected to RabbitMQ")

	// Build the dispatch stack
	campaignRepo := repository.NewCampaignRepository(db)
	pause := dispatch.NewPauseController(dispatch.NewRedisPauseStore(redisClient), campaignRepo, cfg.Dispatch.PauseDuration)
	lock := dispatch.NewRedisLock(redisClient, cfg.Dispatch.LockTTL)
	flags := dispatch.NewRedisCancelFlags(redisClient)

	gateway := provider.NewGateway(
		provider.NewGmailProvider(cfg.Provider.GmailToken, cfg.Provider.GmailURL, cfg.Provider.From),
		provider.NewSendGridProvider(cfg.Provider.SendGridAPIKey, cfg.Provider.SendGridURL, cfg.Provider.From),
	)

	ownerID := "worker-" + uuid.NewString()
	coordinator := dispatch.NewCoordinator(gateway, pause, lock, flags, campaignRepo, ownerID, dispatch.Options{
		MaxRetries:         cfg.Dispatch.MaxRetries,
		RetryDelay:         cfg.Dispatch.RetryDelay,
		BetweenEmailsDelay: cfg.Dispatch.BetweenEmailsDelay,
	})
	log.Printf("✅ Dispatch stack initialized (owner: %s)", ownerID)

	// Start consumer
	handler := createDispatchHandler(campaignRepo, coordinator, pause)
	consumer, err := queue.NewConsumer(conn, "campaign_dispatch", handler)
	if err != nil {
		log.Fatalf("Failed to create consumer: %v", err)
	}

	if err := consumer.Start(); err != nil {
		log.Fatalf("Failed to start consumer: %v", err)
	}
	log.Println("✅ Worker started, consuming from queue: campaign_dispatch")

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Println("🛑 Shutting down gracefully...")

	if err := consumer.Stop(); err != nil {
		log.Printf("Error stopping consumer: %v", err)
	}

	log.Println("✅ Worker stopped")
}

// createDispatchHandler builds the job handler that runs the dispatch loop
// for one campaign
func createDispatchHandler(campaignRepo repository.CampaignRepository, coordinator *dispatch.Coordinator, pause *dispatch.PauseController) queue.MessageHandler {
	return func(job *queue.DispatchJob) error {
		ctx := context.Background()

		log.Printf("📨 Processing dispatch job for campaign %s (resume: %v)", job.CampaignID, job.Resume)

		state, err := campaignRepo.Load(ctx, job.CampaignID)
		if err != nil {
			log.Printf("❌ Failed to load campaign %s: %v", job.CampaignID, err)
			return err
		}
		if state == nil {
			// Campaign was cleared or never existed; drop the job
			log.Printf("⚠️  Campaign %s not found, dropping job", job.CampaignID)
			return nil
		}
		if state.Status == models.CampaignStatusCancelled || state.Status == models.CampaignStatusCompleted {
			log.Printf("⚠️  Campaign %s is %s, dropping job", job.CampaignID, state.Status)
			return nil
		}

		// Wait out any global rate-limit pause before starting the loop
		for pause.IsPaused(ctx) {
			remaining := pause.Remaining(ctx)
			log.Printf("⏸️  Global pause active (%s remaining), campaign %s waiting", remaining.Round(time.Second), job.CampaignID)
			time.Sleep(pausePollInterval)
		}

		outcomes, err := coordinator.Dispatch(ctx, state)
		if err == dispatch.ErrLockHeld {
			// Another worker owns this campaign; drop the duplicate job
			log.Printf("⚠️  Campaign %s already locked by another worker, dropping job", job.CampaignID)
			return nil
		}
		if err != nil {
			log.Printf("❌ Dispatch failed for campaign %s: %v", job.CampaignID, err)
			return err
		}

		log.Printf("📊 Campaign %s: %s", job.CampaignID, state.Summary(outcomes))
		return nil
	}
}
