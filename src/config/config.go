package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type AppConfig struct {
	Port         string
	DatabasePath string
	LogLevel     string

	KrakenCSVPath   string
	SeedCSVPath     string
	CorrectionsPath string

	ExemptionDays int

	CoinDeskAPIKey         string
	OpenExchangeRatesAppID string
	PriceMarket            string
	PriceCacheTTL          time.Duration

	// APIAuthTokenSecret enables bearer-token protection of the read API
	// when non-empty.
	APIAuthTokenSecret string
	APITokenExpiry     time.Duration
}

var Cfg *AppConfig

func LoadConfig() {
	errEnv := godotenv.Load()
	if errEnv != nil {
		log.Println("Info: No .env file found or error loading .env file. Relying on OS environment variables and defaults. Error (if any):", errEnv)
	} else {
		log.Println(".env file loaded successfully.")
	}

	log.Println("Loading application configuration...")

	exemptionDays := getEnvAsInt("EXEMPTION_DAYS", 365)
	if exemptionDays <= 0 {
		log.Printf("WARNING: EXEMPTION_DAYS must be positive, got %d. Using default 365.", exemptionDays)
		exemptionDays = 365
	}

	apiAuthSecret := getEnv("API_AUTH_TOKEN_SECRET", "")
	if apiAuthSecret != "" && len(apiAuthSecret) < 32 {
		log.Fatalf("FATAL: API_AUTH_TOKEN_SECRET must be at least 32 bytes long when set. Current length: %d", len(apiAuthSecret))
	}

	Cfg = &AppConfig{
		Port:         getEnv("PORT", "8080"),
		DatabasePath: getEnv("DATABASE_PATH", "./cryptofolio.db"),
		LogLevel:     getEnv("LOG_LEVEL", "info"),

		KrakenCSVPath:   getEnv("KRAKEN_CSV_PATH", "artifacts/kraken-ledger.csv"),
		SeedCSVPath:     getEnv("SEED_CSV_PATH", "artifacts/seed_lots.csv"),
		CorrectionsPath: getEnv("CORRECTIONS_PATH", "artifacts/corrections.json"),

		ExemptionDays: exemptionDays,

		CoinDeskAPIKey:         getEnv("COINDESK_API_KEY", ""),
		OpenExchangeRatesAppID: getEnv("OPEN_EXCHANGE_RATES_APP_ID", ""),
		PriceMarket:            getEnv("PRICE_MARKET", "cadli"),
		PriceCacheTTL:          getEnvAsDuration("PRICE_CACHE_TTL", 6*time.Hour),

		APIAuthTokenSecret: apiAuthSecret,
		APITokenExpiry:     getEnvAsDuration("API_TOKEN_EXPIRY", 24*time.Hour),
	}

	log.Printf("Configuration loaded: Port=%s, LogLevel=%s, DBPath=%s, ExemptionDays=%d",
		Cfg.Port, Cfg.LogLevel, Cfg.DatabasePath, Cfg.ExemptionDays)
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	log.Printf("Environment variable %s not set, using default: %s", key, fallback)
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		log.Printf("Integer value for %s not set or empty, using default: %d", key, fallback)
		return fallback
	}
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	log.Printf("Invalid integer value for %s ('%s'), using default: %d", key, valueStr, fallback)
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		log.Printf("Duration value for %s not set or empty, using default: %s", key, fallback.String())
		return fallback
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	log.Printf("Invalid duration value for %s ('%s'), using default: %s", key, valueStr, fallback.String())
	return fallback
}
