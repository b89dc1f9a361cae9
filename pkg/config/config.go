package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DevEnv  = "dev"
	ProdEnv = "prod"
	TestEnv = "test"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type Config struct {
	Env         string
	Port        string
	DatabaseURL string
	RedisURL    string
	JWTSecret   string
	CORSOrigins string
	LogLevel    string

	// GatewayDriver selects the data backend: "postgres" or "memory".
	GatewayDriver string

	FeedPageSize      int
	FeedFanoutLimit   int
	PopularWindowDays int
	TrendingTTL       time.Duration

	// WSMaxInFlight caps concurrently running actions per websocket connection.
	WSMaxInFlight int
}

func (c Config) IsDevelopment() bool {
	return c.Env != ProdEnv
}

// LoadDotEnvs loads the .env cascade for the current APP_ENV. Earlier files win,
// godotenv never overrides a variable that is already set.
func LoadDotEnvs() {
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = DevEnv
	}

	godotenv.Load(".env." + env + ".local")
	if env != TestEnv {
		godotenv.Load(".env.local")
	}
	godotenv.Load(".env." + env)
	godotenv.Load(".env")
}

// Load reads configuration from the environment. Call LoadDotEnvs first to pick
// up .env files.
func Load() Config {
	return Config{
		Env:               getString("APP_ENV", DevEnv),
		Port:              getString("PORT", "8082"),
		DatabaseURL:       getString("DATABASE_URL", ""),
		RedisURL:          getString("REDIS_URL", "redis://localhost:6379"),
		JWTSecret:         getString("JWT_SECRET", "dev-secret-key-change-in-production"),
		CORSOrigins:       getString("CORS_ORIGINS", "http://localhost:3000,http://localhost:5173"),
		LogLevel:          getString("LOG_LEVEL", "info"),
		GatewayDriver:     strings.ToLower(getString("GATEWAY_DRIVER", DriverPostgres)),
		FeedPageSize:      getInt("FEED_PAGE_SIZE", 10),
		FeedFanoutLimit:   getInt("FEED_FANOUT_LIMIT", 16),
		PopularWindowDays: getInt("POPULAR_WINDOW_DAYS", 7),
		TrendingTTL:       getDuration("TRENDING_TTL", time.Minute),
		WSMaxInFlight:     getInt("WS_MAX_INFLIGHT", 8),
	}
}

func getString(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key)))
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v, err := time.ParseDuration(strings.TrimSpace(os.Getenv(key)))
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}
