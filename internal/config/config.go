package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
)

type Config struct {
	Port             string
	StoreURL         string
	NatsURL          string
	BroadcastSubject string
	SendSubject      string
	ReconnectWait    time.Duration
	StoreTimeout     time.Duration
	AppEnv           string
	AllowOrigins     string
}

func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	storeURL, exists := os.LookupEnv("STORE_URL")
	if !exists || storeURL == "" {
		return nil, fmt.Errorf("STORE_URL is required")
	}

	return &Config{
		Port:             getEnv("PORT", "8080"),
		StoreURL:         strings.TrimRight(storeURL, "/"),
		NatsURL:          getEnv("NATS_URL", nats.DefaultURL),
		BroadcastSubject: getEnv("BROADCAST_SUBJECT", "homechat.messages"),
		SendSubject:      getEnv("SEND_SUBJECT", "homechat.messages.send"),
		ReconnectWait:    getEnvSeconds("RECONNECT_WAIT_SECONDS", 2),
		StoreTimeout:     getEnvSeconds("STORE_TIMEOUT_SECONDS", 10),
		AppEnv:           normalizeEnv(getEnv("APP_ENV", "production")),
		AllowOrigins:     getEnv("ALLOW_ORIGINS", ""),
	}, nil
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvSeconds(key string, fallback int) time.Duration {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return time.Duration(fallback) * time.Second
	}

	seconds, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || seconds <= 0 {
		return time.Duration(fallback) * time.Second
	}
	return time.Duration(seconds) * time.Second
}

func normalizeEnv(value string) string {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "dev", "develop", "development", "local":
		return "development"
	case "prod", "production":
		return "production"
	case "stage", "staging":
		return "staging"
	case "test", "testing":
		return "test"
	default:
		return strings.ToLower(strings.TrimSpace(value))
	}
}
