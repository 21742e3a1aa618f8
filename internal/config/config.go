package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/temphist/temphist/internal/temphist"
)

// AppConfig is the process-wide configuration, loaded once at startup and
// passed by reference to the components that need it.
type AppConfig struct {
	// UpstreamBaseURL is the records API root, e.g. "https://api.temphist.example".
	UpstreamBaseURL string
	// HTTPTimeout caps individual outbound requests.
	HTTPTimeout time.Duration

	// Job polling.
	PollInterval         time.Duration
	PollMaxAttempts      int
	PollFailureThreshold int

	// Loader retry policy.
	LoadRetries     int
	LoadBackoffBase time.Duration

	// Prefetch cache sizing.
	CacheTTL     time.Duration
	CacheMaxAge  time.Duration
	CacheMaxSize int

	// Background jobs.
	CleanupInterval time.Duration
	WarmupInterval  time.Duration

	// PreloadLocations are warmed in the background; PreloadPeriods applies
	// to each of them.
	PreloadLocations []string
	PreloadPeriods   []temphist.Period

	// GeocoderAPIKey enables the optional location resolver.
	GeocoderAPIKey string

	Port string
}

// Load reads configuration from environment with sensible defaults.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("INFO: No .env file found or error loading it: %v", err)
	}

	cfg := &AppConfig{}

	cfg.UpstreamBaseURL = strings.TrimRight(os.Getenv("UPSTREAM_BASE_URL"), "/")
	if cfg.UpstreamBaseURL == "" {
		return nil, fmt.Errorf("UPSTREAM_BASE_URL is required")
	}

	var err error
	if cfg.HTTPTimeout, err = getenvDuration("HTTP_TIMEOUT", "15s"); err != nil {
		return nil, err
	}

	if cfg.PollInterval, err = getenvDuration("POLL_INTERVAL", "3s"); err != nil {
		return nil, err
	}
	cfg.PollMaxAttempts = getenvInt("POLL_MAX_ATTEMPTS", 100)
	cfg.PollFailureThreshold = getenvInt("POLL_FAILURE_THRESHOLD", 10)

	cfg.LoadRetries = getenvInt("LOAD_RETRIES", 3)
	if cfg.LoadBackoffBase, err = getenvDuration("LOAD_BACKOFF_BASE", "1s"); err != nil {
		return nil, err
	}

	if cfg.CacheTTL, err = getenvDuration("CACHE_TTL", "10m"); err != nil {
		return nil, err
	}
	if cfg.CacheMaxAge, err = getenvDuration("CACHE_MAX_AGE", "30m"); err != nil {
		return nil, err
	}
	cfg.CacheMaxSize = getenvInt("CACHE_MAX_SIZE", 500)

	if cfg.CleanupInterval, err = getenvDuration("CLEANUP_INTERVAL", "5m"); err != nil {
		return nil, err
	}
	if cfg.WarmupInterval, err = getenvDuration("WARMUP_INTERVAL", "1h"); err != nil {
		return nil, err
	}

	cfg.PreloadLocations = splitList(os.Getenv("PRELOAD_LOCATIONS"))
	cfg.PreloadPeriods, err = parsePeriods(getenvDefault("PRELOAD_PERIODS", "week,month,year"))
	if err != nil {
		return nil, err
	}

	cfg.GeocoderAPIKey = os.Getenv("GEOCODER_API_KEY")
	cfg.Port = getenvDefault("PORT", "8080")

	return cfg, nil
}

// splitList splits a comma-separated env value, using ";" instead when the
// values themselves contain commas (locations like "London, England, UK").
func splitList(v string) []string {
	if v == "" {
		return nil
	}
	sep := ","
	if strings.Contains(v, ";") {
		sep = ";"
	}

	var out []string
	for _, item := range strings.Split(v, sep) {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func parsePeriods(v string) ([]temphist.Period, error) {
	var periods []temphist.Period
	for _, item := range splitList(v) {
		p, err := temphist.ParsePeriod(item)
		if err != nil {
			return nil, fmt.Errorf("invalid PRELOAD_PERIODS entry: %w", err)
		}
		periods = append(periods, p)
	}
	return periods, nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getenvDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(getenvDefault(key, def))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
