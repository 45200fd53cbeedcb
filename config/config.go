package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/capturekit/server/internal/models"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	Auth     AuthConfig
	Capture  CaptureConfig
	Upload   UploadConfig
	Project  ProjectConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all
	Version            string
}

// DatabaseConfig holds PostgreSQL connection settings. Only used with CAPTURE_STORE=postgres.
type DatabaseConfig struct {
	URL             string // if set, used as-is (e.g. postgres://localhost:5432/captures?sslmode=disable)
	Host            string
	Port            string
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxConns        int
	MaxConnLifetime time.Duration
}

// RedisConfig holds Redis connection settings. An empty Addr runs without Redis: no
// uploads, no login lockout and events stay on this instance.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

// JWTConfig holds JWT signing and validation settings.
type JWTConfig struct {
	Secret      string
	ExpireHours int
}

// AuthConfig holds the login accounts and the failed login lockout.
type AuthConfig struct {
	Username           string
	PasswordHash       string // bcrypt
	ViewerUsername     string
	ViewerPasswordHash string
	LockOutAttempts    int
	LockOutSeconds     int
}

// Capture store backends.
const (
	StoreFile     = "file"
	StorePostgres = "postgres"
)

// CaptureConfig holds encoder and session engine settings.
type CaptureConfig struct {
	VideoDir          string
	TempDir           string
	Format            string
	DefaultRegion     models.Region
	FrameRate         int
	FFmpegBinary      string
	InputFormat       string
	Display           string
	MaxDurationSec    int
	StopTimeout       time.Duration
	Store             string
	MaskMetaKeys      []string
	RecoverOnStart    bool
	StatusPushSeconds int
}

// UploadConfig holds S3 upload settings.
type UploadConfig struct {
	Enabled              bool
	RunWorker            bool // run the upload worker inside the server process
	Bucket               string
	Region               string
	AccessKeyID          string
	SecretAccessKey      string
	Endpoint             string
	KeyPrefix            string
	KeepFinishedSeconds  int
	PresignExpireMinutes int
	DeleteRemote         bool
	WorkerMetricsPort    string // metrics listener of the standalone worker
}

// ProjectConfig holds values copied into every capture record.
type ProjectConfig struct {
	Environment map[string]string
}

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set (e.g. DATABASE_URL env), it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()      // .env
	_ = godotenv.Load("env") // env (no leading dot)

	region, err := models.ParseRegion(getEnv("CAPTURE_REGION", "1920x1080+0+0"))
	if err != nil {
		return nil, fmt.Errorf("CAPTURE_REGION: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        getEnvInt("READ_TIMEOUT_SEC", 30),
			WriteTimeout:       getEnvInt("WRITE_TIMEOUT_SEC", 120),
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "*"),
			Version:            getEnv("APP_VERSION", "dev"),
		},
		Database: DatabaseConfig{
			URL:             getEnv("DATABASE_URL", ""),
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnv("DB_PORT", "5432"),
			User:            getEnv("DB_USER", "postgres"),
			Password:        getEnv("DB_PASSWORD", "postgres"),
			DBName:          getEnv("DB_NAME", "captures"),
			SSLMode:         getEnv("DB_SSLMODE", "disable"),
			MaxConns:        getEnvInt("DB_MAX_CONNS", 0),
			MaxConnLifetime: time.Duration(getEnvInt("DB_MAX_CONN_LIFETIME_SEC", 0)) * time.Second,
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			PoolSize: getEnvInt("REDIS_POOL_SIZE", 0),
		},
		JWT: JWTConfig{
			Secret:      getEnv("JWT_SECRET", "change-me-in-production"),
			ExpireHours: getEnvInt("JWT_EXPIRE_HOURS", 24),
		},
		Auth: AuthConfig{
			Username:           getEnv("AUTH_USERNAME", "admin"),
			PasswordHash:       getEnv("AUTH_PASSWORD_HASH", ""),
			ViewerUsername:     getEnv("AUTH_VIEWER_USERNAME", ""),
			ViewerPasswordHash: getEnv("AUTH_VIEWER_PASSWORD_HASH", ""),
			LockOutAttempts:    getEnvInt("AUTH_LOCKOUT_ATTEMPTS", 5),
			LockOutSeconds:     getEnvInt("AUTH_LOCKOUT_SECONDS", 300),
		},
		Capture: CaptureConfig{
			VideoDir:          getEnv("CAPTURE_VIDEO_DIR", "./videos"),
			TempDir:           getEnv("CAPTURE_TEMP_DIR", "./videos/.tmp"),
			Format:            strings.ToLower(getEnv("CAPTURE_FORMAT", models.FormatAVI)),
			DefaultRegion:     region,
			FrameRate:         getEnvInt("CAPTURE_FRAME_RATE", 10),
			FFmpegBinary:      getEnv("FFMPEG_BINARY", "ffmpeg"),
			InputFormat:       getEnv("CAPTURE_INPUT_FORMAT", ""),
			Display:           getEnv("CAPTURE_DISPLAY", ""),
			MaxDurationSec:    getEnvInt("CAPTURE_MAX_DURATION_SEC", 0),
			StopTimeout:       time.Duration(getEnvInt("CAPTURE_STOP_TIMEOUT_SEC", 10)) * time.Second,
			Store:             strings.ToLower(getEnv("CAPTURE_STORE", StoreFile)),
			MaskMetaKeys:      splitTrim(getEnv("CAPTURE_MASK_META_KEYS", "password,token,secret"), ","),
			RecoverOnStart:    getEnvBool("CAPTURE_RECOVER_ON_START", true),
			StatusPushSeconds: getEnvInt("CAPTURE_STATUS_PUSH_SEC", 2),
		},
		Upload: UploadConfig{
			Enabled:              getEnvBool("UPLOAD_ENABLED", false),
			RunWorker:            getEnvBool("UPLOAD_RUN_WORKER", true),
			Bucket:               getEnv("AWS_S3_BUCKET", ""),
			Region:               getEnv("AWS_REGION", "us-east-1"),
			AccessKeyID:          getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey:      getEnv("AWS_SECRET_ACCESS_KEY", ""),
			Endpoint:             getEnv("AWS_S3_ENDPOINT", ""),
			KeyPrefix:            getEnv("AWS_S3_KEY_PREFIX", "captures"),
			KeepFinishedSeconds:  getEnvInt("UPLOAD_KEEP_FINISHED_SEC", 3600),
			PresignExpireMinutes: getEnvInt("AWS_PRESIGN_EXPIRE_MINUTES", 15),
			DeleteRemote:         getEnvBool("UPLOAD_DELETE_REMOTE", false),
			WorkerMetricsPort:    getEnv("WORKER_METRICS_PORT", "9091"),
		},
		Project: ProjectConfig{
			Environment: parsePairs(getEnv("CAPTURE_ENVIRONMENT", "")),
		},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	var errs []error
	switch c.Capture.Format {
	case models.FormatAVI, models.FormatMP4:
	default:
		errs = append(errs, fmt.Errorf("CAPTURE_FORMAT must be %s or %s, got %q", models.FormatAVI, models.FormatMP4, c.Capture.Format))
	}
	switch c.Capture.Store {
	case StoreFile, StorePostgres:
	default:
		errs = append(errs, fmt.Errorf("CAPTURE_STORE must be %s or %s, got %q", StoreFile, StorePostgres, c.Capture.Store))
	}
	if c.Capture.VideoDir == "" || c.Capture.TempDir == "" {
		errs = append(errs, errors.New("CAPTURE_VIDEO_DIR and CAPTURE_TEMP_DIR are required"))
	}
	if c.Upload.Enabled && c.Upload.Bucket == "" {
		errs = append(errs, errors.New("AWS_S3_BUCKET is required when UPLOAD_ENABLED is set"))
	}
	if c.Upload.Enabled && c.Redis.Addr == "" {
		errs = append(errs, errors.New("REDIS_ADDR is required when UPLOAD_ENABLED is set"))
	}
	return errors.Join(errs...)
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func splitTrim(s, sep string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, v := range strings.Split(s, sep) {
		if t := strings.TrimSpace(v); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// parsePairs reads "k1=v1,k2=v2".
func parsePairs(s string) map[string]string {
	out := make(map[string]string)
	for _, kv := range splitTrim(s, ",") {
		k, v, _ := strings.Cut(kv, "=")
		if k = strings.TrimSpace(k); k != "" {
			out[k] = strings.TrimSpace(v)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
