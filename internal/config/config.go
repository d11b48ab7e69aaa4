package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Asset backends understood by the server.
const (
	AssetBackendDisk = "disk"
	AssetBackendGCS  = "gcs"
)

// Config captures all runtime configuration derived from environment variables.
type Config struct {
	Port              string
	DBURL             string
	DBAutoMigrate     bool
	JWTSecret         string
	TokenTTLHours     int
	PublicBaseURL     string
	AssetBackend      string
	AssetDir          string
	GCSBucket         string
	GCSCredentials    string
	CoverWidth        int
	CoverHeight       int
	CoverQuality      int
	CoverMaxPixels    int
	MaxUploadMB       int
	TopRatedLimit     int
	AuthRatePerSec    float64
	AuthRateBurst     int
	RatingMaxRetries  int
	ReadTimeoutSecs   int
	WriteTimeoutSecs  int
	IdleTimeoutSecs   int
	DBMaxConns        int
	DBMinConns        int
	DBMaxIdleSecs     int
	DBMaxLifeSecs     int
	DBConnTimeoutSecs int
	DBQueryTimeout    int
	DBStatementCache  int
}

// Load reads configuration from environment variables, applying defaults and validation.
func Load() (Config, error) {
	port := getEnv("PORT", "8080")
	cfg := Config{
		Port:              port,
		DBURL:             os.Getenv("DB_URL"),
		DBAutoMigrate:     getEnvBool("DB_AUTO_MIGRATE", false),
		JWTSecret:         os.Getenv("JWT_SECRET"),
		TokenTTLHours:     getEnvInt("TOKEN_TTL_HOURS", 24),
		PublicBaseURL:     strings.TrimRight(getEnv("PUBLIC_BASE_URL", "http://localhost:"+port), "/"),
		AssetBackend:      strings.ToLower(getEnv("ASSET_BACKEND", AssetBackendDisk)),
		AssetDir:          getEnv("ASSET_DIR", "images"),
		GCSBucket:         os.Getenv("GCS_BUCKET"),
		GCSCredentials:    os.Getenv("GCS_CREDENTIALS_FILE"),
		CoverWidth:        getEnvInt("COVER_WIDTH", 206),
		CoverHeight:       getEnvInt("COVER_HEIGHT", 260),
		CoverQuality:      getEnvInt("COVER_QUALITY", 90),
		CoverMaxPixels:    getEnvInt("COVER_MAX_PIXELS", 268402689),
		MaxUploadMB:       getEnvInt("MAX_UPLOAD_MB", 5),
		TopRatedLimit:     getEnvInt("TOP_RATED_LIMIT", 3),
		AuthRatePerSec:    getEnvFloat("AUTH_RATE_PER_SEC", 2),
		AuthRateBurst:     getEnvInt("AUTH_RATE_BURST", 4),
		RatingMaxRetries:  getEnvInt("RATING_MAX_RETRIES", 5),
		ReadTimeoutSecs:   getEnvInt("SERVER_READ_TIMEOUT", 15),
		WriteTimeoutSecs:  getEnvInt("SERVER_WRITE_TIMEOUT", 15),
		IdleTimeoutSecs:   getEnvInt("SERVER_IDLE_TIMEOUT", 60),
		DBMaxConns:        getEnvInt("DB_MAX_CONNS", 20),
		DBMinConns:        getEnvInt("DB_MIN_CONNS", 2),
		DBMaxIdleSecs:     getEnvInt("DB_MAX_CONN_IDLE_SECS", 300),
		DBMaxLifeSecs:     getEnvInt("DB_MAX_CONN_LIFETIME_SECS", 3600),
		DBConnTimeoutSecs: getEnvInt("DB_CONN_TIMEOUT_SECS", 10),
		DBQueryTimeout:    getEnvInt("DB_QUERY_TIMEOUT_SECS", 5),
		DBStatementCache:  getEnvInt("DB_STATEMENT_CACHE_CAPACITY", 256),
	}

	if cfg.DBURL == "" {
		return Config{}, fmt.Errorf("DB_URL is required")
	}
	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.TokenTTLHours <= 0 {
		return Config{}, fmt.Errorf("TOKEN_TTL_HOURS must be positive")
	}
	switch cfg.AssetBackend {
	case AssetBackendDisk:
		if cfg.AssetDir == "" {
			return Config{}, fmt.Errorf("ASSET_DIR is required for the disk backend")
		}
	case AssetBackendGCS:
		if cfg.GCSBucket == "" {
			return Config{}, fmt.Errorf("GCS_BUCKET is required for the gcs backend")
		}
	default:
		return Config{}, fmt.Errorf("ASSET_BACKEND must be %q or %q", AssetBackendDisk, AssetBackendGCS)
	}
	if cfg.CoverWidth <= 0 || cfg.CoverHeight <= 0 {
		return Config{}, fmt.Errorf("COVER_WIDTH and COVER_HEIGHT must be positive")
	}
	if cfg.CoverQuality < 1 || cfg.CoverQuality > 100 {
		return Config{}, fmt.Errorf("COVER_QUALITY must be between 1 and 100")
	}
	if cfg.CoverMaxPixels <= 0 {
		return Config{}, fmt.Errorf("COVER_MAX_PIXELS must be positive")
	}
	if cfg.MaxUploadMB <= 0 {
		return Config{}, fmt.Errorf("MAX_UPLOAD_MB must be positive")
	}
	if cfg.TopRatedLimit <= 0 {
		return Config{}, fmt.Errorf("TOP_RATED_LIMIT must be positive")
	}
	if cfg.AuthRatePerSec <= 0 || cfg.AuthRateBurst <= 0 {
		return Config{}, fmt.Errorf("AUTH_RATE_PER_SEC and AUTH_RATE_BURST must be positive")
	}
	if cfg.RatingMaxRetries <= 0 {
		return Config{}, fmt.Errorf("RATING_MAX_RETRIES must be positive")
	}
	if cfg.DBMaxConns <= 0 {
		return Config{}, fmt.Errorf("DB_MAX_CONNS must be positive")
	}
	if cfg.DBMinConns < 0 {
		return Config{}, fmt.Errorf("DB_MIN_CONNS must be non-negative")
	}
	if cfg.DBMaxConns > 0 && cfg.DBMinConns > cfg.DBMaxConns {
		return Config{}, fmt.Errorf("DB_MIN_CONNS cannot exceed DB_MAX_CONNS")
	}
	if cfg.DBQueryTimeout <= 0 {
		return Config{}, fmt.Errorf("DB_QUERY_TIMEOUT_SECS must be positive")
	}
	if cfg.DBStatementCache < 0 {
		return Config{}, fmt.Errorf("DB_STATEMENT_CACHE_CAPACITY must be non-negative")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseFloat(val, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseBool(val); err == nil {
			return parsed
		}
	}
	return fallback
}
