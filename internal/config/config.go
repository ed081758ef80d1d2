package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port               string
	DatabaseURL        string
	JournalPath        string
	NATSURL            string
	NATSSubject        string
	SeedPath           string
	TokenSeed          int64
	DisplayTick        time.Duration
	EventBuffer        int
	RateLimitPerMinute int
	RateLimitBurst     int
	LogLevel           string
	LogFormat          string
	OTLPEndpoint       string
}

// Load reads the environment. A .env file in the working directory is applied
// first without overriding variables that are already set.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Port:               readString("PORT", "8080"),
		DatabaseURL:        os.Getenv("DB_DSN"),
		JournalPath:        os.Getenv("JOURNAL_SQLITE_PATH"),
		NATSURL:            os.Getenv("NATS_URL"),
		NATSSubject:        readString("NATS_SUBJECT", "ddrc.events"),
		SeedPath:           os.Getenv("CATALOG_SEED_PATH"),
		TokenSeed:          int64(readInt("TOKEN_SEED", 0)),
		DisplayTick:        readDurationSeconds("DISPLAY_TICK_SECONDS", 1),
		EventBuffer:        readInt("EVENT_BUFFER", 256),
		RateLimitPerMinute: readInt("RATE_LIMIT_PER_MIN", 120),
		RateLimitBurst:     readInt("RATE_LIMIT_BURST", 30),
		LogLevel:           strings.ToLower(readString("LOG_LEVEL", "info")),
		LogFormat:          strings.ToLower(readString("LOG_FORMAT", "json")),
		OTLPEndpoint:       os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}
}

func readString(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func readDurationSeconds(key string, fallback int) time.Duration {
	value := readInt(key, fallback)
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Second
}

func readInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
