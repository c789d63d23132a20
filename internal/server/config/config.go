package config

import (
	"flag"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Config holds all server configuration, read from INVENTORY_* environment
// variables (optionally seeded from a .env file).
type Config struct {
	ListenAddr            string
	DBPath                string
	DeviceTokens          []string
	UIToken               string
	AllowUnauth           bool
	EventQueueSize        int
	EventRetentionSeconds int
	EventMaxRows          int
	EventReplayLimit      int
	HistoryLimit          int
	CORSOrigins           []string
}

// Load reads configuration from flags and environment variables.
func Load() (*Config, error) {
	listen := flag.String("listen", ":8800", "Listen address")
	envFile := flag.String("env", "", "Optional .env file to load")
	flag.Parse()

	if *envFile != "" {
		if err := godotenv.Load(*envFile); err != nil {
			logrus.Warnf("Failed to load env file %s: %v", *envFile, err)
		}
	}

	if addr := os.Getenv("INVENTORY_LISTEN_ADDR"); addr != "" {
		*listen = addr
	}

	return FromEnv(*listen), nil
}

// FromEnv builds the config from the current environment only.
func FromEnv(listenAddr string) *Config {
	return &Config{
		ListenAddr:            listenAddr,
		DBPath:                envString("INVENTORY_DB_PATH", "./data/inventory.db"),
		DeviceTokens:          envList("INVENTORY_DEVICE_TOKENS"),
		UIToken:               os.Getenv("INVENTORY_UI_TOKEN"),
		AllowUnauth:           envBool("INVENTORY_ALLOW_UNAUTH", false),
		EventQueueSize:        envInt("INVENTORY_EVENT_QUEUE_SIZE", 100),
		EventRetentionSeconds: envInt("INVENTORY_EVENT_RETENTION_SECONDS", 604800),
		EventMaxRows:          envInt("INVENTORY_EVENT_MAX_ROWS", 10000),
		EventReplayLimit:      envInt("INVENTORY_EVENT_REPLAY_LIMIT", 500),
		HistoryLimit:          envInt("INVENTORY_HISTORY_LIMIT", 2000),
		CORSOrigins:           envList("INVENTORY_CORS_ORIGINS"),
	}
}

func envString(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		logrus.Warnf("Invalid value for %s: %q, using %d", key, value, fallback)
		return fallback
	}
	return parsed
}

func envBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

func envList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var items []string
	for _, item := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}
