package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Backend selection; the first non-empty one wins.
	RedisURL    string
	DatabaseURL string
	BadgerPath  string
	Dir         string
	Production  bool

	Key string

	// Storage-level retry for network-like failures (linear backoff).
	StorageRetryAttempts int
	StorageRetryDelay    time.Duration
	// Error policy retry (exponential backoff).
	RetryMax       int
	RetryBaseDelay time.Duration

	CBEnabled          bool
	CBMaxRequests      uint32
	CBInterval         time.Duration
	CBTimeout          time.Duration
	CBFailureThreshold uint32

	PageSize      int
	PreloadRadius int
	PageLoadDelay time.Duration
	PreloadDelay  time.Duration

	NATSURL       string
	EventsEnabled bool
}

func Load() Config {
	key := strings.TrimSpace(os.Getenv("WATCHLIST_KEY"))
	if key == "" {
		key = "@watchlist"
	}
	natsURL := strings.TrimSpace(os.Getenv("NATS_URL"))
	if natsURL == "" {
		natsURL = "nats://nats:4222"
	}
	return Config{
		RedisURL:    strings.TrimSpace(os.Getenv("REDIS_URL")),
		DatabaseURL: strings.TrimSpace(os.Getenv("DATABASE_URL")),
		BadgerPath:  strings.TrimSpace(os.Getenv("BADGER_PATH")),
		Dir:         strings.TrimSpace(os.Getenv("WATCHLIST_DIR")),
		Production:  strings.EqualFold(strings.TrimSpace(os.Getenv("APP_ENV")), "production"),
		Key:         key,

		StorageRetryAttempts: envInt("STORAGE_RETRY_ATTEMPTS", 2),
		StorageRetryDelay:    envDuration("STORAGE_RETRY_DELAY", time.Second),
		RetryMax:             envInt("RETRY_MAX", 3),
		RetryBaseDelay:       envDuration("RETRY_BASE_DELAY", time.Second),

		CBEnabled:          envBool("CB_ENABLED", true),
		CBMaxRequests:      uint32(envInt("CB_MAX_REQUESTS", 5)),
		CBInterval:         envDuration("CB_INTERVAL", 60*time.Second),
		CBTimeout:          envDuration("CB_TIMEOUT", 30*time.Second),
		CBFailureThreshold: uint32(envInt("CB_FAILURE_THRESHOLD", 5)),

		PageSize:      envInt("PAGE_SIZE", 20),
		PreloadRadius: envInt("PRELOAD_RADIUS", 1),
		PageLoadDelay: envDuration("PAGE_LOAD_DELAY", 100*time.Millisecond),
		PreloadDelay:  envDuration("PRELOAD_DELAY", 50*time.Millisecond),

		NATSURL:       natsURL,
		EventsEnabled: envBool("EVENTS_ENABLED", false),
	}
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return def
	}
	return d
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
