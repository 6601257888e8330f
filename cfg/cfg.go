package cfg

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

type Secret struct {
	value []byte
}

func NewSecret(s string) Secret {
	return Secret{value: []byte(s)}
}
func (s Secret) Value() string {
	return string(s.value)
}
func (s Secret) Wipe() {
	for i := range s.value {
		s.value[i] = 0
	}
}
func (s Secret) String() string {
	return "***REDACTED***"
}

const (
	DriverSQLite = "sqlite"
	DriverMongo  = "mongo"
)

type Cfg struct {
	Port                     string
	Environment              string
	LogLevel                 string
	BaseURL                  string
	StorageDriver            string
	DatabasePath             string
	DBMaxOpenConns           int
	DBMaxIdleConns           int
	DBQueryTimeout           time.Duration
	MongoURI                 Secret
	MongoDBName              string
	MongoCollection          string
	MongoAnalyticsCollection string
	RedisURL                 string
	RedisPassword            Secret
	RedisTimeout             time.Duration
	LRUCacheSize             int
	MaxPasteSize             int64
	RateLimit                RateLimitCfg
	TrustedProxies           []string
	AllowedOrigins           []string
	ContextTimeout           time.Duration
	CleanupInterval          time.Duration
	AnalyticsAPIKey          Secret
	AnalyticsKeyFrom         string
	AnalyticsKeyName         string
	AnalyticsKeyEndpoint     bool
	MetricsUser              string
	MetricsPass              Secret
	AMQPURL                  Secret
	AMQPExchange             string
}

// RateLimitCfg covers the creation quota (fixed window per address) and the
// token bucket applied to read and tracking endpoints.
type RateLimitCfg struct {
	CreateQuota  int
	CreateWindow time.Duration
	RPM          int
	Burst        int
}

func Load() (*Cfg, error) {
	if err := loadEnvFile(getEnv("ENV_FILE", ".env")); err != nil {
		return nil, err
	}
	c := &Cfg{}
	c.Port = getEnv("PORT", "8080")
	c.Environment = getEnv("ENVIRONMENT", "development")
	c.LogLevel = getEnv("LOG_LEVEL", "info")
	c.BaseURL = strings.TrimRight(getEnv("BASE_URL", ""), "/")
	c.StorageDriver = strings.ToLower(getEnv("STORAGE_DRIVER", DriverSQLite))
	c.DatabasePath = getEnv("DATABASE_PATH", "markpaste.db")
	var err error
	c.DBMaxOpenConns, err = getInt("DB_MAX_OPEN_CONNS", 25)
	if err != nil {
		return nil, err
	}
	c.DBMaxIdleConns, err = getInt("DB_MAX_IDLE_CONNS", 5)
	if err != nil {
		return nil, err
	}
	c.DBQueryTimeout, err = getDuration("DB_QUERY_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}
	c.MongoURI = NewSecret(getEnv("MONGODB_URI", ""))
	c.MongoDBName = getEnv("MONGODB_DB_NAME", "markpaste")
	c.MongoCollection = getEnv("MONGODB_COLLECTION", "pastes")
	c.MongoAnalyticsCollection = getEnv("MONGODB_ANALYTICS_COLLECTION", "analytics")
	c.RedisURL = getEnv("REDIS_URL", "")
	c.RedisPassword = NewSecret(getEnv("REDIS_PASSWORD", ""))
	c.RedisTimeout, err = getDuration("REDIS_TIMEOUT", 2*time.Second)
	if err != nil {
		return nil, err
	}
	c.LRUCacheSize, err = getInt("LRU_CACHE_SIZE", 1000)
	if err != nil {
		return nil, err
	}
	c.MaxPasteSize, err = getInt64("MAX_PASTE_SIZE", 512*1024)
	if err != nil {
		return nil, err
	}
	c.RateLimit.CreateQuota, err = getInt("RATE_LIMIT_CREATE_QUOTA", 5)
	if err != nil {
		return nil, err
	}
	c.RateLimit.CreateWindow, err = getDuration("RATE_LIMIT_CREATE_WINDOW", time.Hour)
	if err != nil {
		return nil, err
	}
	c.RateLimit.RPM, err = getInt("RATE_LIMIT_RPM", 120)
	if err != nil {
		return nil, err
	}
	c.RateLimit.Burst, err = getInt("RATE_LIMIT_BURST", 30)
	if err != nil {
		return nil, err
	}
	c.TrustedProxies = getSlice("TRUSTED_PROXIES", []string{})
	c.AllowedOrigins = getSlice("ALLOWED_ORIGINS", []string{})
	c.ContextTimeout, err = getDuration("CONTEXT_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}
	c.CleanupInterval, err = getDuration("CLEANUP_INTERVAL", 10*time.Minute)
	if err != nil {
		return nil, err
	}
	c.AnalyticsAPIKey = NewSecret(getEnv("ANALYTICS_API_KEY", ""))
	c.AnalyticsKeyFrom = strings.ToLower(getEnv("ANALYTICS_KEY_FROM", "env"))
	c.AnalyticsKeyName = getEnv("ANALYTICS_KEY_NAME", "ANALYTICS_API_KEY")
	c.AnalyticsKeyEndpoint = getEnv("ANALYTICS_KEY_ENDPOINT", "false") == "true"
	c.MetricsUser = getEnv("METRICS_USER", "")
	c.MetricsPass = NewSecret(getEnv("METRICS_PASS", ""))
	c.AMQPURL = NewSecret(getEnv("AMQP_URL", ""))
	c.AMQPExchange = getEnv("AMQP_EXCHANGE", "markpaste_events")
	return c, nil
}
func Validate(c *Cfg) error {
	if c.Port == "" {
		return errors.New("PORT is required")
	}
	if _, err := strconv.Atoi(c.Port); err != nil {
		return errors.New("PORT must be a number")
	}
	switch c.StorageDriver {
	case DriverSQLite:
		if err := validateDBPath(c.DatabasePath); err != nil {
			return err
		}
	case DriverMongo:
		uri := c.MongoURI.Value()
		if uri == "" {
			return errors.New("MONGODB_URI is required when STORAGE_DRIVER=mongo")
		}
		if !strings.HasPrefix(uri, "mongodb://") && !strings.HasPrefix(uri, "mongodb+srv://") {
			return errors.New("MONGODB_URI must start with mongodb:// or mongodb+srv://")
		}
		if c.MongoDBName == "" {
			return errors.New("MONGODB_DB_NAME is required when STORAGE_DRIVER=mongo")
		}
	default:
		return fmt.Errorf("unknown STORAGE_DRIVER %q (want sqlite or mongo)", c.StorageDriver)
	}
	if c.DBQueryTimeout <= 0 {
		return errors.New("DB_QUERY_TIMEOUT must be positive")
	}
	if c.RedisURL != "" {
		if !strings.HasPrefix(c.RedisURL, "redis://") && !strings.HasPrefix(c.RedisURL, "rediss://") {
			return errors.New("REDIS_URL must start with redis:// or rediss://")
		}
	}
	if c.LRUCacheSize <= 0 {
		return errors.New("LRU_CACHE_SIZE must be positive")
	}
	if c.MaxPasteSize <= 0 {
		return errors.New("MAX_PASTE_SIZE must be positive")
	}
	if c.MaxPasteSize > 10*1024*1024 {
		return errors.New("MAX_PASTE_SIZE cannot exceed 10MB")
	}
	if c.RateLimit.CreateQuota <= 0 {
		return errors.New("RATE_LIMIT_CREATE_QUOTA must be positive")
	}
	if c.RateLimit.CreateWindow < time.Minute {
		return errors.New("RATE_LIMIT_CREATE_WINDOW must be at least 1 minute")
	}
	if c.RateLimit.RPM <= 0 {
		return errors.New("RATE_LIMIT_RPM must be positive")
	}
	if c.RateLimit.Burst <= 0 {
		return errors.New("RATE_LIMIT_BURST must be positive")
	}
	for _, proxy := range c.TrustedProxies {
		if strings.Contains(proxy, "/") {
			if _, _, err := net.ParseCIDR(proxy); err != nil {
				return fmt.Errorf("invalid CIDR in TRUSTED_PROXIES: %s", proxy)
			}
		} else if net.ParseIP(proxy) == nil {
			return fmt.Errorf("invalid IP in TRUSTED_PROXIES: %s", proxy)
		}
	}
	if c.ContextTimeout <= 0 {
		return errors.New("CONTEXT_TIMEOUT must be positive")
	}
	if c.CleanupInterval < 10*time.Second {
		return errors.New("CLEANUP_INTERVAL must be at least 10s")
	}
	switch c.AnalyticsKeyFrom {
	case "env", "vault", "aws":
	default:
		return fmt.Errorf("unknown ANALYTICS_KEY_FROM %q (want env, vault or aws)", c.AnalyticsKeyFrom)
	}
	if c.AMQPURL.Value() != "" {
		u := c.AMQPURL.Value()
		if !strings.HasPrefix(u, "amqp://") && !strings.HasPrefix(u, "amqps://") {
			return errors.New("AMQP_URL must start with amqp:// or amqps://")
		}
		if c.AMQPExchange == "" {
			return errors.New("AMQP_EXCHANGE is required when AMQP_URL is set")
		}
	}
	if c.Environment == "production" {
		if c.MetricsUser == "" || c.MetricsPass.Value() == "" {
			return errors.New("METRICS_USER and METRICS_PASS are required in production")
		}
		if c.AnalyticsKeyEndpoint {
			return errors.New("ANALYTICS_KEY_ENDPOINT must be disabled in production")
		}
	}
	return nil
}

// validateDBPath keeps on-disk databases inside the working directory.
// In-memory and URI-style DSNs are passed through to the driver.
func validateDBPath(path string) error {
	if path == "" {
		return errors.New("DATABASE_PATH is required")
	}
	if path == ":memory:" || strings.HasPrefix(path, "file:") {
		return nil
	}
	workDir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get working directory: %w", err)
	}
	absWorkDir, err := filepath.Abs(workDir)
	if err != nil {
		return fmt.Errorf("failed to resolve working directory: %w", err)
	}
	absDBPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("invalid DATABASE_PATH: %w", err)
	}
	if !strings.HasPrefix(absDBPath, absWorkDir+string(filepath.Separator)) && absDBPath != absWorkDir {
		return fmt.Errorf("DATABASE_PATH must be within working directory %s", absWorkDir)
	}
	return nil
}
func (c *Cfg) Wipe() {
	c.MongoURI.Wipe()
	c.RedisPassword.Wipe()
	c.AnalyticsAPIKey.Wipe()
	c.MetricsPass.Wipe()
	c.AMQPURL.Wipe()
}
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}
func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}
func getInt(key string, fallback int) (int, error) {
	s := getEnv(key, "")
	if s == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid integer for %s: %w", key, err)
	}
	return v, nil
}
func getInt64(key string, fallback int64) (int64, error) {
	s := getEnv(key, "")
	if s == "" {
		return fallback, nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid integer for %s: %w", key, err)
	}
	return v, nil
}
func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	s := getEnv(key, "")
	if s == "" {
		return fallback, nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration for %s: %w", key, err)
	}
	return v, nil
}
func getSlice(key string, fallback []string) []string {
	s := getEnv(key, "")
	if s == "" {
		return fallback
	}
	parts := strings.Split(s, ",")
	var result []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
