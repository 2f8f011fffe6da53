package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"qms/clinic-console/internal/settings"

	"github.com/joho/godotenv"
)

type Config struct {
	Port     string
	Env      string
	LogLevel string

	APIBaseURL string
	APIToken   string
	APITimeout time.Duration

	DatabaseURL string

	RedisAddr        string
	RedisPassword    string
	RedisDB          int
	SettingsCacheTTL time.Duration

	Notification settings.Notification

	AnnounceProvider     string
	AnnounceWebhookURL   string
	AnnounceWebhookToken string
	AMQPURL              string
	AnnounceQueue        string
	AnnounceLang         string

	Operator string

	RateLimitPerMinute int
	RateLimitBurst     int

	TracingEndpoint    string
	TracingInsecure    bool
	TracingSampleRatio float64
}

// Load reads the environment, after merging a .env file from the working
// directory if one exists. Values already set in the environment win.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	permission, err := settings.ParsePermission(os.Getenv("NOTIF_PERMISSION"))
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Port:     readString("CONSOLE_PORT", "8090"),
		Env:      readString("ENV", "production"),
		LogLevel: readString("LOG_LEVEL", "info"),

		APIBaseURL: strings.TrimSpace(os.Getenv("QUEUE_API_BASE_URL")),
		APIToken:   os.Getenv("QUEUE_API_TOKEN"),
		APITimeout: readDurationSeconds("QUEUE_API_TIMEOUT_SECONDS", 10),

		DatabaseURL: os.Getenv("DB_DSN"),

		RedisAddr:        os.Getenv("REDIS_ADDR"),
		RedisPassword:    os.Getenv("REDIS_PASSWORD"),
		RedisDB:          readInt("REDIS_DB", 0),
		SettingsCacheTTL: readDurationSeconds("SETTINGS_CACHE_TTL_SECONDS", 300),

		Notification: settings.Notification{
			Enabled:    readBool("NOTIF_ENABLED", false),
			Permission: permission,
			Sound:      readBool("NOTIF_SOUND", true),
		},

		AnnounceProvider:     readString("ANNOUNCE_PROVIDER", "log"),
		AnnounceWebhookURL:   os.Getenv("ANNOUNCE_WEBHOOK_URL"),
		AnnounceWebhookToken: os.Getenv("ANNOUNCE_WEBHOOK_TOKEN"),
		AMQPURL:              os.Getenv("AMQP_URL"),
		AnnounceQueue:        readString("ANNOUNCE_QUEUE", "queue.announcements"),
		AnnounceLang:         readString("ANNOUNCE_LANG", "id"),

		Operator: readString("CONSOLE_OPERATOR", hostname()),

		RateLimitPerMinute: readInt("RATE_LIMIT_PER_MIN", 120),
		RateLimitBurst:     readInt("RATE_LIMIT_BURST", 30),

		TracingEndpoint:    strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")),
		TracingInsecure:    readBool("OTEL_EXPORTER_OTLP_INSECURE", false),
		TracingSampleRatio: readFloat("OTEL_TRACES_SAMPLER_RATIO", 1),
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.APIBaseURL == "" {
		return errors.New("QUEUE_API_BASE_URL is required")
	}
	if !strings.HasPrefix(c.APIBaseURL, "http://") && !strings.HasPrefix(c.APIBaseURL, "https://") {
		return fmt.Errorf("QUEUE_API_BASE_URL must be an http(s) url, got %q", c.APIBaseURL)
	}
	if _, err := settings.ParsePermission(string(c.Notification.Permission)); err != nil {
		return err
	}
	if c.TracingSampleRatio < 0 || c.TracingSampleRatio > 1 {
		return fmt.Errorf("OTEL_TRACES_SAMPLER_RATIO must be within [0, 1], got %v", c.TracingSampleRatio)
	}
	if c.AnnounceProvider == "amqp" && c.AMQPURL == "" {
		return errors.New("AMQP_URL is required when ANNOUNCE_PROVIDER=amqp")
	}
	return nil
}

func (c Config) IsDev() bool {
	return c.Env == "development"
}

func hostname() string {
	name, err := os.Hostname()
	if err != nil {
		return "console"
	}
	return name
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

func readFloat(key string, fallback float64) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return value
}

func readBool(key string, fallback bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return value
}
