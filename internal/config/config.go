package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	StoreMySQL  = "mysql"
	StoreMemory = "memory"

	StorageS3         = "s3"
	StorageFilesystem = "filesystem"
)

// Config aggregates runtime configuration for the API, the job workers and
// the external services they call.
type Config struct {
	AppEnv          string
	HTTPListenAddr  string
	AdminListenAddr string

	AdminUsername     string
	AdminPasswordHash string

	JWTSecret          string
	CORSAllowedOrigins []string

	StoreDriver string
	MySQLDSN    string

	KIEAPIKey             string
	KIEBaseURL            string
	RequestTimeout        time.Duration
	KIEPollAttempts       int
	KIEPollInterval       time.Duration
	ProviderRatePerSecond float64
	ProviderCostPerImage  string

	FaceDetectURL    string
	FaceDetectAPIKey string
	// SkipFaceCheck disables the generation face gate for local development.
	SkipFaceCheck bool

	StorageDriver         string
	StorageBasePath       string
	StoragePublicURL      string
	S3Endpoint            string
	S3Region              string
	S3AccessKey           string
	S3SecretKey           string
	S3Bucket              string
	S3PublicBaseURL       string
	S3UsePathStyle        bool
	MirrorGeneratedAssets bool

	MaxUploadBytes    int64
	SignupCredits     int
	UnlimitedCredits  bool
	UnlimitedBalance  int
	GenerationTimeout time.Duration

	JobConcurrency int
	MaxBatchImages int
	SweepInterval  time.Duration
	StaleJobAfter  time.Duration

	RedisAddr          string
	RedisPassword      string
	RedisDB            int
	RateLimitPerMinute int
}

var defaults = map[string]any{
	"APP_ENV":                  "production",
	"HTTP_LISTEN_ADDR":         ":8080",
	"ADMIN_LISTEN_ADDR":        ":8081",
	"ADMIN_USERNAME":           "admin",
	"STORE_DRIVER":             StoreMySQL,
	"KIE_BASE_URL":             "https://api.kie.ai",
	"HTTP_TIMEOUT":             "60s",
	"KIE_POLL_ATTEMPTS":        60,
	"KIE_POLL_INTERVAL":        "2s",
	"PROVIDER_RATE_PER_SECOND": 2.0,
	"PROVIDER_COST_PER_IMAGE":  "0.04",
	"STORAGE_DRIVER":           StorageS3,
	"STORAGE_BASE_PATH":        "./data/assets",
	"STORAGE_PUBLIC_URL":       "http://localhost:8080/assets",
	"S3_USE_PATH_STYLE":        false,
	"MIRROR_GENERATED_ASSETS":  false,
	"SKIP_FACE_CHECK":          false,
	"MAX_UPLOAD_BYTES":         10 << 20,
	"SIGNUP_CREDITS":           3,
	"UNLIMITED_CREDITS":        false,
	"UNLIMITED_BALANCE":        9999,
	"GENERATION_TIMEOUT":       "5m",
	"JOB_CONCURRENCY":          2,
	"MAX_BATCH_IMAGES":         20,
	"SWEEP_INTERVAL":           "1m",
	"STALE_JOB_AFTER":          "30m",
	"REDIS_DB":                 0,
	"RATE_LIMIT_PER_MINUTE":    20,
}

// Load reads configuration from an optional env file and the process
// environment, applying defaults.
func Load() (Config, error) {
	if err := loadEnvFile(); err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.AutomaticEnv()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	const defaultKIEBaseURL = "https://api.kie.ai"

	cfg := Config{
		AppEnv:                strings.ToLower(v.GetString("APP_ENV")),
		HTTPListenAddr:        v.GetString("HTTP_LISTEN_ADDR"),
		AdminListenAddr:       v.GetString("ADMIN_LISTEN_ADDR"),
		AdminUsername:         v.GetString("ADMIN_USERNAME"),
		AdminPasswordHash:     v.GetString("ADMIN_PASSWORD_HASH"),
		JWTSecret:             v.GetString("JWT_SECRET"),
		CORSAllowedOrigins:    splitList(v.GetString("CORS_ALLOWED_ORIGINS")),
		StoreDriver:           strings.ToLower(v.GetString("STORE_DRIVER")),
		MySQLDSN:              v.GetString("MYSQL_DSN"),
		KIEAPIKey:             v.GetString("KIE_API_KEY"),
		KIEBaseURL:            normalizeKIEBaseURL(v.GetString("KIE_BASE_URL"), defaultKIEBaseURL),
		RequestTimeout:        v.GetDuration("HTTP_TIMEOUT"),
		KIEPollAttempts:       v.GetInt("KIE_POLL_ATTEMPTS"),
		KIEPollInterval:       v.GetDuration("KIE_POLL_INTERVAL"),
		ProviderRatePerSecond: v.GetFloat64("PROVIDER_RATE_PER_SECOND"),
		ProviderCostPerImage:  v.GetString("PROVIDER_COST_PER_IMAGE"),
		FaceDetectURL:         v.GetString("FACE_DETECT_URL"),
		FaceDetectAPIKey:      v.GetString("FACE_DETECT_API_KEY"),
		SkipFaceCheck:         v.GetBool("SKIP_FACE_CHECK"),
		StorageDriver:         strings.ToLower(v.GetString("STORAGE_DRIVER")),
		StorageBasePath:       v.GetString("STORAGE_BASE_PATH"),
		StoragePublicURL:      v.GetString("STORAGE_PUBLIC_URL"),
		S3Endpoint:            v.GetString("S3_ENDPOINT"),
		S3Region:              v.GetString("S3_REGION"),
		S3AccessKey:           v.GetString("S3_ACCESS_KEY"),
		S3SecretKey:           v.GetString("S3_SECRET_KEY"),
		S3Bucket:              v.GetString("S3_BUCKET"),
		S3PublicBaseURL:       v.GetString("S3_PUBLIC_BASE_URL"),
		S3UsePathStyle:        v.GetBool("S3_USE_PATH_STYLE"),
		MirrorGeneratedAssets: v.GetBool("MIRROR_GENERATED_ASSETS"),
		MaxUploadBytes:        v.GetInt64("MAX_UPLOAD_BYTES"),
		SignupCredits:         v.GetInt("SIGNUP_CREDITS"),
		UnlimitedCredits:      v.GetBool("UNLIMITED_CREDITS"),
		UnlimitedBalance:      v.GetInt("UNLIMITED_BALANCE"),
		GenerationTimeout:     v.GetDuration("GENERATION_TIMEOUT"),
		JobConcurrency:        v.GetInt("JOB_CONCURRENCY"),
		MaxBatchImages:        v.GetInt("MAX_BATCH_IMAGES"),
		SweepInterval:         v.GetDuration("SWEEP_INTERVAL"),
		StaleJobAfter:         v.GetDuration("STALE_JOB_AFTER"),
		RedisAddr:             v.GetString("REDIS_ADDR"),
		RedisPassword:         v.GetString("REDIS_PASSWORD"),
		RedisDB:               v.GetInt("REDIS_DB"),
		RateLimitPerMinute:    v.GetInt("RATE_LIMIT_PER_MINUTE"),
	}

	var missing []string
	if cfg.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	if cfg.AdminPasswordHash == "" {
		missing = append(missing, "ADMIN_PASSWORD_HASH")
	}
	if cfg.KIEAPIKey == "" {
		missing = append(missing, "KIE_API_KEY")
	}
	if cfg.FaceDetectURL == "" && !cfg.SkipFaceCheck {
		missing = append(missing, "FACE_DETECT_URL")
	}
	switch cfg.StoreDriver {
	case StoreMySQL:
		if cfg.MySQLDSN == "" {
			missing = append(missing, "MYSQL_DSN")
		}
	case StoreMemory:
	default:
		return Config{}, fmt.Errorf("unsupported STORE_DRIVER %q", cfg.StoreDriver)
	}
	switch cfg.StorageDriver {
	case StorageS3:
		for key, value := range map[string]string{
			"S3_REGION":          cfg.S3Region,
			"S3_ACCESS_KEY":      cfg.S3AccessKey,
			"S3_SECRET_KEY":      cfg.S3SecretKey,
			"S3_BUCKET":          cfg.S3Bucket,
			"S3_PUBLIC_BASE_URL": cfg.S3PublicBaseURL,
		} {
			if value == "" {
				missing = append(missing, key)
			}
		}
	case StorageFilesystem:
	default:
		return Config{}, fmt.Errorf("unsupported STORAGE_DRIVER %q", cfg.StorageDriver)
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return Config{}, fmt.Errorf("missing required environment variables: %v", missing)
	}

	return cfg, nil
}

// normalizeKIEBaseURL ensures we always hit the API host. The root kie.ai
// domain serves the marketing site and answers with HTML.
func normalizeKIEBaseURL(raw string, fallback string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return fallback
	}

	if parsed.Scheme == "" {
		parsed.Scheme = "https"
	}
	if parsed.Host == "" {
		parsed.Host = parsed.Path
		parsed.Path = ""
	}
	if parsed.Host == "kie.ai" {
		parsed.Host = "api.kie.ai"
	}

	return strings.TrimRight(parsed.String(), "/")
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func loadEnvFile() error {
	candidates := []string{}
	if custom, ok := os.LookupEnv("CONFIG_ENV_PATH"); ok && custom != "" {
		candidates = append(candidates, custom)
	}
	candidates = append(candidates,
		filepath.Join("configs", ".env"),
		".env",
	)

	for _, path := range candidates {
		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("access env file %s: %w", path, err)
		}
		if info.IsDir() {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("load env file %s: %w", path, err)
		}
		return nil
	}
	// Containers inject the environment directly.
	return nil
}
