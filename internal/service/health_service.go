package service

import (
	"context"
	"database/sql"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
)

// Health status constants
const (
	StatusHealthy      = "healthy"
	StatusDegraded     = "degraded"
	StatusUnhealthy    = "unhealthy"
	StatusConnected    = "connected"
	StatusDisconnected = "disconnected"
)

// HealthStatus represents the overall health status of the application
type HealthStatus struct {
	Status    string            `json:"status"`
	Services  map[string]string `json:"services"`
	Timestamp time.Time         `json:"timestamp"`
	Version   string            `json:"version,omitempty"`
}

// HealthChecker handles health check operations
type HealthChecker struct {
	db       *sql.DB
	queueURL string
	redis    *redis.Client
	version  string
}

// NewHealthService creates a new HealthChecker instance
func NewHealthService(db *sql.DB, queueURL string, redisClient *redis.Client, version string) *HealthChecker {
	return &HealthChecker{
		db:       db,
		queueURL: queueURL,
		redis:    redisClient,
		version:  version,
	}
}

// checkDatabase verifies PostgreSQL connectivity with a timeout
func (h *HealthChecker) checkDatabase() string {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := h.db.PingContext(ctx); err != nil {
		return StatusDisconnected
	}

	return StatusConnected
}

// checkQueue verifies RabbitMQ connectivity
func (h *HealthChecker) checkQueue() string {
	conn, err := amqp.Dial(h.queueURL)
	if err != nil {
		return StatusDisconnected
	}

	// Close connection immediately after successful connection test
	defer conn.Close()

	return StatusConnected
}

// checkRedis verifies Redis connectivity (lock and pause state store)
func (h *HealthChecker) checkRedis() string {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := h.redis.Ping(ctx).Err(); err != nil {
		return StatusDisconnected
	}

	return StatusConnected
}

// determineOverallStatus calculates the overall health status based on service statuses
func (h *HealthChecker) determineOverallStatus(services map[string]string) string {
	// If database is disconnected, system is unhealthy
	if services["database"] == StatusDisconnected {
		return StatusUnhealthy
	}

	// Queue or Redis down means dispatch is impaired but reads still work
	if services["queue"] == StatusDisconnected || services["redis"] == StatusDisconnected {
		return StatusDegraded
	}

	return StatusHealthy
}

// CheckHealth performs health checks on all dependencies and returns the overall status
func (h *HealthChecker) CheckHealth() (*HealthStatus, error) {
	services := map[string]string{
		"database": h.checkDatabase(),
		"queue":    h.checkQueue(),
		"redis":    h.checkRedis(),
	}

	overallStatus := h.determineOverallStatus(services)

	healthStatus := &HealthStatus{
		Status:    overallStatus,
		Services:  services,
		Timestamp: time.Now().UTC(),
		Version:   h.version,
	}

	return healthStatus, nil
}
