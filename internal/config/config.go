package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"
)

const defaultJWTSecret = "tasklane-dev-secret"

type Config struct {
	Addr          string        `yaml:"addr"`
	Environment   string        `yaml:"environment"`
	DatabaseURL   string        `yaml:"databaseUrl"`
	MigrationsDir string        `yaml:"migrationsDir"`
	JWTSecret     string        `yaml:"jwtSecret"`
	AccessTTL     time.Duration `yaml:"accessTtl"`
	RefreshTTL    time.Duration `yaml:"refreshTtl"`
	CORSOrigins   []string      `yaml:"corsOrigins"`
	// Redis Configuration, empty keeps refresh sessions in the document store
	RedisURL string `yaml:"redisUrl"`
	// Search
	MeiliURL       string `yaml:"meiliUrl"`
	MeiliMasterKey string `yaml:"meiliMasterKey"`
	// Images, MinIO disabled when the endpoint is empty
	MinioEndpoint  string `yaml:"minioEndpoint"`
	MinioAccessKey string `yaml:"minioAccessKey"`
	MinioSecretKey string `yaml:"minioSecretKey"`
	MinioBucket    string `yaml:"minioBucket"`
	MinioUseSSL    bool   `yaml:"minioUseSsl"`
	MediaPublicURL string `yaml:"mediaPublicUrl"`
	MaxImageBytes  int    `yaml:"maxImageBytes"`

	LogLevel          string        `yaml:"logLevel"`
	LogFormat         string        `yaml:"logFormat"`
	RequestTimeout    time.Duration `yaml:"requestTimeout"`
	AnalyticsTimezone string        `yaml:"analyticsTimezone"`
}

func Defaults() Config {
	return Config{
		Addr:              ":8787",
		Environment:       "development",
		MigrationsDir:     "./db/migrations",
		JWTSecret:         defaultJWTSecret,
		AccessTTL:         15 * time.Minute,
		RefreshTTL:        30 * 24 * time.Hour,
		CORSOrigins:       []string{"*"},
		MinioBucket:       "tasklane-images",
		MaxImageBytes:     1 << 20,
		LogLevel:          "info",
		LogFormat:         "text",
		RequestTimeout:    25 * time.Second,
		AnalyticsTimezone: "UTC",
	}
}

// Load builds the configuration from defaults, the optional YAML file named by
// TASKLANE_CONFIG, and finally environment variables.
func Load() (Config, error) {
	cfg := Defaults()
	if path := strings.TrimSpace(os.Getenv("TASKLANE_CONFIG")); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	cfg.Addr = getenv("API_ADDR", cfg.Addr)
	cfg.Environment = getenv("TASKLANE_ENV", cfg.Environment)
	cfg.DatabaseURL = strings.TrimSpace(getenv("DATABASE_URL", cfg.DatabaseURL))
	cfg.MigrationsDir = getenv("TASKLANE_MIGRATIONS_DIR", cfg.MigrationsDir)
	cfg.JWTSecret = getenv("TASKLANE_JWT_SECRET", cfg.JWTSecret)
	cfg.AccessTTL = time.Duration(getenvInt("TASKLANE_ACCESS_TTL_SECONDS", int(cfg.AccessTTL/time.Second))) * time.Second
	cfg.RefreshTTL = time.Duration(getenvInt("TASKLANE_REFRESH_TTL_SECONDS", int(cfg.RefreshTTL/time.Second))) * time.Second
	if origins := getenv("TASKLANE_CORS_ORIGINS", ""); origins != "" {
		cfg.CORSOrigins = splitList(origins)
	}
	cfg.RedisURL = strings.TrimSpace(getenv("REDIS_URL", cfg.RedisURL))
	cfg.MeiliURL = strings.TrimSpace(getenv("MEILI_URL", cfg.MeiliURL))
	cfg.MeiliMasterKey = getenv("MEILI_MASTER_KEY", cfg.MeiliMasterKey)
	cfg.MinioEndpoint = strings.TrimSpace(getenv("MINIO_ENDPOINT", cfg.MinioEndpoint))
	cfg.MinioAccessKey = getenv("MINIO_ACCESS_KEY", cfg.MinioAccessKey)
	cfg.MinioSecretKey = getenv("MINIO_SECRET_KEY", cfg.MinioSecretKey)
	cfg.MinioBucket = getenv("MINIO_BUCKET", cfg.MinioBucket)
	cfg.MinioUseSSL = getenvBool("MINIO_USE_SSL", cfg.MinioUseSSL)
	cfg.MediaPublicURL = strings.TrimRight(getenv("MEDIA_PUBLIC_URL", cfg.MediaPublicURL), "/")
	cfg.MaxImageBytes = getenvInt("TASKLANE_MAX_IMAGE_BYTES", cfg.MaxImageBytes)
	cfg.LogLevel = getenv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getenv("LOG_FORMAT", cfg.LogFormat)
	cfg.RequestTimeout = getenvDuration("TASKLANE_REQUEST_TIMEOUT", cfg.RequestTimeout)
	cfg.AnalyticsTimezone = getenv("TASKLANE_ANALYTICS_TZ", cfg.AnalyticsTimezone)

	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	contents, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(contents, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Addr) == "" {
		return errors.New("addr is required")
	}
	if c.AccessTTL <= 0 || c.RefreshTTL <= 0 {
		return errors.New("token TTLs must be positive")
	}
	if c.IsProduction() && (c.JWTSecret == "" || c.JWTSecret == defaultJWTSecret) {
		return errors.New("TASKLANE_JWT_SECRET must be set in production")
	}
	if _, err := c.AnalyticsLocation(); err != nil {
		return err
	}
	if c.MaxImageBytes <= 0 {
		return errors.New("max image bytes must be positive")
	}
	return nil
}

func (c Config) IsProduction() bool {
	return c.Environment == "production"
}

// AnalyticsLocation resolves the zone used for calendar-month boundaries.
func (c Config) AnalyticsLocation() (*time.Location, error) {
	name := strings.TrimSpace(c.AnalyticsTimezone)
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("analytics timezone %q: %w", name, err)
	}
	return loc, nil
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
