package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"estate-crawler/utils"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	DatabaseURL      string
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	UserAgent       string
	DefaultRPS      float64
	RequestTimeout  time.Duration
	MaxRetries      int
	RetryBaseDelay  time.Duration
	RetryMaxTotal   time.Duration
	MaxPagesPerSeed int
	FlushSize       int
	ConsentDir      string
	RawCSVPath      string
	SiteConfigPath  string

	BatchSize   int
	MinAreaSqft float64
	MaxAreaSqft float64
	MinPriceINR float64
	MaxPriceINR float64

	PauseEnvKey string
	RedisURL    string
	PauseKey    string
	LeaseTTL    time.Duration

	Schedule    string
	MetricsAddr string
}

// Load reads the .env file and returns a populated Config struct. A nil
// logger discards the missing .env notice.
func Load(logger *utils.Logger) *Config {
	if logger == nil {
		logger = utils.NewDiscardLogger()
	}
	if err := godotenv.Load(); err != nil {
		logger.Info("[config] No .env file found, falling back to system env vars")
	}

	return &Config{
		DatabaseURL:      getEnv("DATABASE_URL", ""),
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "postgres"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "postgres"),
		PostgresDB:       getEnv("POSTGRES_DB", "estate"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		UserAgent: getEnv("SCRAPER_UA",
			"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 "+
				"(KHTML, like Gecko) Chrome/124.0 Safari/537.36; EstateCrawler/1.0"),
		DefaultRPS:      getEnvFloat("DEFAULT_RPS", 0.5),
		RequestTimeout:  getEnvDuration("REQUEST_TIMEOUT", 15*time.Second),
		MaxRetries:      getEnvInt("RETRY_MAX", 2),
		RetryBaseDelay:  getEnvDuration("RETRY_BASE", time.Second),
		RetryMaxTotal:   getEnvDuration("RETRY_MAX_TOTAL", 12*time.Second),
		MaxPagesPerSeed: getEnvInt("MAX_PAGES_PER_SEED", 40),
		FlushSize:       getEnvInt("STAGING_FLUSH_SIZE", 200),
		ConsentDir:      getEnv("CONSENT_DIR", "consent_artifacts"),
		RawCSVPath:      getEnv("RAW_CSV_PATH", ""),
		SiteConfigPath:  getEnv("CRAWL_CONFIG", ""),

		BatchSize:   getEnvInt("PREPROCESS_BATCH_SIZE", 1000),
		MinAreaSqft: getEnvFloat("MIN_AREA_SQFT", 50),
		MaxAreaSqft: getEnvFloat("MAX_AREA_SQFT", 20000),
		MinPriceINR: getEnvFloat("MIN_PRICE_INR", 100),
		MaxPriceINR: getEnvFloat("MAX_PRICE_INR", 200000000),

		PauseEnvKey: "CRAWLER_PAUSE",
		RedisURL:    getEnv("REDIS_URL", ""),
		PauseKey:    getEnv("CRAWLER_PAUSE_KEY", "crawler:pause"),
		LeaseTTL:    getEnvDuration("LEASE_TTL", 2*time.Hour),

		Schedule:    getEnv("SCHEDULE", "@every 6h"),
		MetricsAddr: getEnv("METRICS_ADDR", ":9102"),
	}
}

// DSN returns the PostgreSQL connection string. DATABASE_URL wins when set.
func (c *Config) DSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return "host=" + c.PostgresHost +
		" port=" + c.PostgresPort +
		" user=" + c.PostgresUser +
		" password=" + c.PostgresPassword +
		" dbname=" + c.PostgresDB +
		" sslmode=" + c.PostgresSSLMode
}

// MinInterval is the default per-host spacing derived from DefaultRPS.
func (c *Config) MinInterval() time.Duration {
	rps := c.DefaultRPS
	if rps < 0.0001 {
		rps = 0.0001
	}
	return time.Duration(float64(time.Second) / rps)
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		n, err := strconv.Atoi(val)
		if err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		f, err := strconv.ParseFloat(val, 64)
		if err == nil {
			return f
		}
	}
	return fallback
}

// getEnvDuration accepts Go durations ("1500ms") or plain seconds ("1.5").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback
	}
	if d, err := time.ParseDuration(val); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(val, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	return fallback
}
