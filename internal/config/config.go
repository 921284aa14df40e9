package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	RabbitMQ RabbitMQConfig
	Redis    RedisConfig
	Provider ProviderConfig
	Dispatch DispatchConfig
	Env      string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port string
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
}

// RabbitMQConfig holds RabbitMQ configuration
type RabbitMQConfig struct {
	Host     string
	Port     string
	User     string
	Password string
}

// RedisConfig holds Redis configuration (worker lock, global pause state)
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// ProviderConfig holds mail provider credentials
type ProviderConfig struct {
	From           string
	SendGridAPIKey string
	SendGridURL    string
	GmailToken     string
	GmailURL       string
}

// DispatchConfig holds dispatch loop tuning
type DispatchConfig struct {
	MaxRetries         int
	RetryDelay         time.Duration
	BetweenEmailsDelay time.Duration
	PauseDuration      time.Duration
	LockTTL            time.Duration
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	config := &Config{
		Server: ServerConfig{
			Port: getEnv("PORT", "8080"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("POSTGRES_HOST", "localhost"),
			Port:     getEnv("POSTGRES_PORT", "5432"),
			User:     getEnv("POSTGRES_USER", "mailblast"),
			Password: getEnv("POSTGRES_PASSWORD", ""),
			DBName:   getEnv("POSTGRES_DB", "mailblast_db"),
		},
		RabbitMQ: RabbitMQConfig{
			Host:     getEnv("RABBITMQ_HOST", "localhost"),
			Port:     getEnv("RABBITMQ_PORT", "5672"),
			User:     getEnv("RABBITMQ_DEFAULT_USER", "guest"),
			Password: getEnv("RABBITMQ_DEFAULT_PASS", "guest"),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Provider: ProviderConfig{
			From:           getEnv("MAIL_FROM", "no-reply@mailblast.local"),
			SendGridAPIKey: getEnv("SENDGRID_API_KEY", ""),
			SendGridURL:    getEnv("SENDGRID_API_URL", "https://api.sendgrid.com/v3/mail/send"),
			GmailToken:     getEnv("GMAIL_ACCESS_TOKEN", ""),
			GmailURL:       getEnv("GMAIL_API_URL", "https://gmail.googleapis.com/gmail/v1/users/me/messages/send"),
		},
		Dispatch: DispatchConfig{
			MaxRetries:         getEnvAsInt("DISPATCH_MAX_RETRIES", 3),
			RetryDelay:         getEnvAsDuration("DISPATCH_RETRY_DELAY_MS", 2000),
			BetweenEmailsDelay: getEnvAsDuration("DISPATCH_PACING_DELAY_MS", 1000),
			PauseDuration:      getEnvAsDuration("DISPATCH_PAUSE_DURATION_MS", 300000),
			LockTTL:            getEnvAsDuration("DISPATCH_LOCK_TTL_MS", 300000),
		},
		Env: getEnv("ENV", "development"),
	}

	// Validate required fields
	if config.Database.Password == "" {
		return nil, fmt.Errorf("POSTGRES_PASSWORD is required")
	}

	return config, nil
}

// GetDatabaseDSN returns PostgreSQL connection string
func (c *Config) GetDatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.DBName,
	)
}

// GetRabbitMQURL returns RabbitMQ connection URL
func (c *Config) GetRabbitMQURL() string {
	return fmt.Sprintf(
		"amqp://%s:%s@%s:%s/",
		c.RabbitMQ.User,
		c.RabbitMQ.Password,
		c.RabbitMQ.Host,
		c.RabbitMQ.Port,
	)
}

// GetRedisAddr returns the Redis host:port address
func (c *Config) GetRedisAddr() string {
	return c.Redis.Host + ":" + c.Redis.Port
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// getEnv gets environment variable or returns default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets environment variable as integer or returns default
func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvAsDuration gets environment variable as milliseconds or returns default
func getEnvAsDuration(key string, defaultMs int) time.Duration {
	return time.Duration(getEnvAsInt(key, defaultMs)) * time.Millisecond
}
