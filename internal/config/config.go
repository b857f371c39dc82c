// Package config assembles runtime settings for the portal API from
// defaults, an optional YAML file, an optional .env file and the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned when the assembled configuration cannot run the service.
var ErrInvalidConfig = errors.New("invalid config")

// Store backends understood by cmd/api.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreRedis    = "redis"

	BlobMemory = "memory"
	BlobS3     = "s3"
)

// Config holds runtime settings for the portal API.
type Config struct {
	Addr        string   `yaml:"addr"`
	GRPCAddr    string   `yaml:"grpc_addr"`
	LogLevel    string   `yaml:"log_level"`
	AppURL      string   `yaml:"app_url"`
	RequireAuth bool     `yaml:"require_auth"`
	SeedDemo    bool     `yaml:"seed_demo"`
	CORSOrigins []string `yaml:"cors_origins"`

	RateLimitRPS   float64 `yaml:"rate_limit_rps"`
	RateLimitBurst int     `yaml:"rate_limit_burst"`
	MaxBodyBytes   int64   `yaml:"max_body_bytes"`

	// ResetTTL bounds how long a mailed password reset link stays valid.
	ResetTTL time.Duration `yaml:"reset_ttl"`

	JWT     JWT     `yaml:"jwt"`
	Store   Store   `yaml:"store"`
	Blob    Blob    `yaml:"blob"`
	SMTP    SMTP    `yaml:"smtp"`
	Janitor Janitor `yaml:"janitor"`
}

// JWT configures token signing. The two secrets must differ.
type JWT struct {
	AccessSecret  string        `yaml:"access_secret"`
	RefreshSecret string        `yaml:"refresh_secret"`
	Issuer        string        `yaml:"issuer"`
	AccessTTL     time.Duration `yaml:"access_ttl"`
	RefreshTTL    time.Duration `yaml:"refresh_ttl"`
}

// Store selects the collection backend. Auth data lives in PostgreSQL
// whenever PostgresDSN is set, regardless of Kind.
type Store struct {
	Kind        string `yaml:"kind"`
	PostgresDSN string `yaml:"postgres_dsn"`
	RedisURL    string `yaml:"redis_url"`
}

// Blob selects where uploaded certificate content is kept.
type Blob struct {
	Kind      string `yaml:"kind"`
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
}

// SMTP configures outgoing mail. An empty Host means log-only delivery.
type SMTP struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
	SSL      bool   `yaml:"ssl"`
}

type Janitor struct {
	Schedule string `yaml:"schedule"`
}

// Defaults returns development settings. Secrets are intentionally empty.
func Defaults() Config {
	return Config{
		Addr:           ":8080",
		LogLevel:       "info",
		AppURL:         "http://localhost:3000",
		RequireAuth:    true,
		CORSOrigins:    []string{"http://localhost:3000"},
		RateLimitRPS:   20,
		RateLimitBurst: 40,
		MaxBodyBytes:   1 << 20,
		ResetTTL:       time.Hour,
		JWT: JWT{
			Issuer:     "ediportal",
			AccessTTL:  15 * time.Minute,
			RefreshTTL: 7 * 24 * time.Hour,
		},
		Store: Store{Kind: StoreMemory},
		Blob:  Blob{Kind: BlobMemory, Region: "us-east-1"},
		SMTP:  SMTP{Port: 587, From: "noreply@ediportal.local"},
		Janitor: Janitor{
			Schedule: "@every 15m",
		},
	}
}

// Load builds the configuration: defaults, then the YAML file at path (or
// $EDIPORTAL_CONFIG when path is empty), then .env, then environment variables.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path == "" {
		path = os.Getenv("EDIPORTAL_CONFIG")
	}
	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("%w: parse %s: %v", ErrInvalidConfig, path, err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	setString(&cfg.Addr, "EDIPORTAL_ADDR")
	setString(&cfg.GRPCAddr, "EDIPORTAL_GRPC_ADDR")
	setString(&cfg.LogLevel, "EDIPORTAL_LOG_LEVEL")
	setString(&cfg.AppURL, "APP_URL")
	if v, ok := lookup("EDIPORTAL_CORS_ORIGINS"); ok {
		cfg.CORSOrigins = splitList(v)
	}

	setString(&cfg.JWT.AccessSecret, "JWT_SECRET")
	setString(&cfg.JWT.RefreshSecret, "JWT_REFRESH_SECRET")
	setString(&cfg.JWT.Issuer, "EDIPORTAL_JWT_ISSUER")

	setString(&cfg.Store.Kind, "EDIPORTAL_STORE")
	setString(&cfg.Store.PostgresDSN, "EDIPORTAL_PG_DSN")
	setString(&cfg.Store.RedisURL, "EDIPORTAL_REDIS_URL")

	setString(&cfg.Blob.Kind, "EDIPORTAL_BLOB")
	setString(&cfg.Blob.Bucket, "EDIPORTAL_S3_BUCKET")
	setString(&cfg.Blob.Region, "EDIPORTAL_S3_REGION")
	setString(&cfg.Blob.Endpoint, "EDIPORTAL_S3_ENDPOINT")
	setString(&cfg.Blob.AccessKey, "EDIPORTAL_S3_ACCESS_KEY")
	setString(&cfg.Blob.SecretKey, "EDIPORTAL_S3_SECRET_KEY")

	setString(&cfg.SMTP.Host, "SMTP_HOST")
	setString(&cfg.SMTP.Username, "SMTP_USER")
	setString(&cfg.SMTP.Password, "SMTP_PASSWORD")
	setString(&cfg.SMTP.From, "SMTP_FROM")

	setString(&cfg.Janitor.Schedule, "EDIPORTAL_JANITOR_SCHEDULE")

	var errs []error
	errs = append(errs,
		setBool(&cfg.RequireAuth, "EDIPORTAL_REQUIRE_AUTH"),
		setBool(&cfg.SeedDemo, "EDIPORTAL_SEED_DEMO"),
		setBool(&cfg.SMTP.SSL, "SMTP_SSL"),
		setInt(&cfg.SMTP.Port, "SMTP_PORT"),
		setInt(&cfg.RateLimitBurst, "EDIPORTAL_RATE_LIMIT_BURST"),
		setFloat(&cfg.RateLimitRPS, "EDIPORTAL_RATE_LIMIT_RPS"),
		setDuration(&cfg.JWT.AccessTTL, "EDIPORTAL_ACCESS_TTL"),
		setDuration(&cfg.JWT.RefreshTTL, "EDIPORTAL_REFRESH_TTL"),
		setDuration(&cfg.ResetTTL, "EDIPORTAL_RESET_TTL"),
	)
	return errors.Join(errs...)
}

// Validate reports every problem that would keep the service from starting.
func (c Config) Validate() error {
	var problems []string
	if strings.TrimSpace(c.JWT.AccessSecret) == "" {
		problems = append(problems, "JWT_SECRET is required")
	}
	if strings.TrimSpace(c.JWT.RefreshSecret) == "" {
		problems = append(problems, "JWT_REFRESH_SECRET is required")
	}
	if c.JWT.AccessSecret != "" && c.JWT.AccessSecret == c.JWT.RefreshSecret {
		problems = append(problems, "access and refresh secrets must differ")
	}
	if c.JWT.AccessTTL <= 0 || c.JWT.RefreshTTL <= 0 || c.ResetTTL <= 0 {
		problems = append(problems, "token TTLs must be positive")
	}
	switch c.Store.Kind {
	case StoreMemory:
	case StorePostgres:
		if c.Store.PostgresDSN == "" {
			problems = append(problems, "EDIPORTAL_PG_DSN is required for the postgres store")
		}
	case StoreRedis:
		if c.Store.RedisURL == "" {
			problems = append(problems, "EDIPORTAL_REDIS_URL is required for the redis store")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown store kind %q", c.Store.Kind))
	}
	switch c.Blob.Kind {
	case BlobMemory:
	case BlobS3:
		if c.Blob.Bucket == "" {
			problems = append(problems, "EDIPORTAL_S3_BUCKET is required for the s3 blob store")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown blob kind %q", c.Blob.Kind))
	}
	if c.SMTP.Host != "" && c.SMTP.Port <= 0 {
		problems = append(problems, "SMTP_PORT must be positive")
	}
	if c.RateLimitRPS < 0 || c.RateLimitBurst < 0 {
		problems = append(problems, "rate limit must not be negative")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

func lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func setString(dst *string, key string) {
	if v, ok := lookup(key); ok {
		*dst = v
	}
}

func setBool(dst *bool, key string) error {
	v, ok := lookup(key)
	if !ok {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, key, err)
	}
	*dst = b
	return nil
}

func setInt(dst *int, key string) error {
	v, ok := lookup(key)
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, key, err)
	}
	*dst = n
	return nil
}

func setFloat(dst *float64, key string) error {
	v, ok := lookup(key)
	if !ok {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, key, err)
	}
	*dst = f
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	v, ok := lookup(key)
	if !ok {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, key, err)
	}
	*dst = d
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
