package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App      AppConfig
	Postgres PostgresConfig
	Redis    RedisConfig
	Logger   LoggerConfig
	Auth     AuthConfig
	Chat     ChatConfig
	Sweeper  SweeperConfig
	Realtime RealtimeConfig
	AI       AIConfig
	Kafka    KafkaConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
	BodyLimitBytes        int
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// AuthConfig defines authentication parameters.
type AuthConfig struct {
	JWTSecret             string
	JWTIssuer             string
	AccessTokenTTLMinutes int
}

// ChatConfig holds the image upload limits and ban policy.
type ChatConfig struct {
	MaxImageBytes        int64
	MaxImagesPerMinute   int
	MaxImagesPerHour     int
	MaxBytesPerMinute    int64
	MaxBytesPerHour      int64
	MaxWarnings          int
	WarningReset         time.Duration
	BanDuration          time.Duration
	SuspiciousImages     int
	SuspiciousWindow     time.Duration
	JanitorInterval      time.Duration
	HistoryLimit         int
	NotificationPageSize int
}

// SweeperConfig controls the inactivity sweeper.
type SweeperConfig struct {
	Enabled             bool
	Interval            time.Duration
	InactivityThreshold time.Duration
	WarningGrace        time.Duration
	OperatorGrace       time.Duration
	LeaseEnabled        bool
	LeaseTTL            time.Duration
}

// RealtimeConfig controls the websocket listener.
type RealtimeConfig struct {
	Host           string
	Port           string
	AllowedOrigins []string
	SendBuffer     int
	WriteTimeout   time.Duration
}

// AIConfig configures the completion backend.
type AIConfig struct {
	BaseURL      string
	APIKey       string
	Model        string
	MaxTokens    int
	Temperature  float64
	Timeout      time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
	SystemPrompt string
	HistoryLimit int
}

// KafkaConfig configures domain event export.
type KafkaConfig struct {
	Brokers     []string
	TopicPrefix string
	BufferSize  int
}

const defaultSystemPrompt = "You are a helpful support assistant. Answer briefly and politely. " +
	"When the user needs a human, reply with JSON {\"reply\": \"...\", \"action\": \"create_ticket\", \"priority\": \"medium\"}."

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}
	temperature, err := strconv.ParseFloat(getEnv("AI_TEMPERATURE", "0.7"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid AI_TEMPERATURE: %w", err)
	}

	maxConns := int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10))
	minConns := int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2))
	runMigrations := getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true)
	connMaxIdle := int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30))
	connMaxLife := int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300))

	chat := DefaultChatConfig()
	chat.MaxImageBytes = int64(getEnvAsInt("CHAT_IMAGE_MAX_BYTES", int(chat.MaxImageBytes)))
	chat.MaxImagesPerMinute = getEnvAsInt("CHAT_IMAGES_PER_MINUTE", chat.MaxImagesPerMinute)
	chat.MaxImagesPerHour = getEnvAsInt("CHAT_IMAGES_PER_HOUR", chat.MaxImagesPerHour)
	chat.MaxBytesPerMinute = int64(getEnvAsInt("CHAT_IMAGE_BYTES_PER_MINUTE", int(chat.MaxBytesPerMinute)))
	chat.MaxBytesPerHour = int64(getEnvAsInt("CHAT_IMAGE_BYTES_PER_HOUR", int(chat.MaxBytesPerHour)))
	chat.MaxWarnings = getEnvAsInt("CHAT_MAX_WARNINGS", chat.MaxWarnings)
	chat.WarningReset = getEnvAsMinutes("CHAT_WARNING_RESET_MINUTES", chat.WarningReset)
	chat.BanDuration = time.Duration(getEnvAsInt("CHAT_BAN_HOURS", 48)) * time.Hour
	chat.SuspiciousImages = getEnvAsInt("CHAT_SUSPICIOUS_IMAGES", chat.SuspiciousImages)
	chat.SuspiciousWindow = getEnvAsMinutes("CHAT_SUSPICIOUS_WINDOW_MINUTES", chat.SuspiciousWindow)
	chat.JanitorInterval = getEnvAsMinutes("CHAT_WINDOW_JANITOR_MINUTES", chat.JanitorInterval)
	chat.HistoryLimit = getEnvAsInt("CHAT_HISTORY_LIMIT", chat.HistoryLimit)
	chat.NotificationPageSize = getEnvAsInt("CHAT_NOTIFICATION_PAGE_SIZE", chat.NotificationPageSize)

	sweeper := DefaultSweeperConfig()
	sweeper.Enabled = getEnvAsBool("SWEEP_ENABLED", sweeper.Enabled)
	sweeper.Interval = time.Duration(getEnvAsInt("SWEEP_INTERVAL_SECONDS", 60)) * time.Second
	sweeper.InactivityThreshold = time.Duration(getEnvAsInt("SWEEP_INACTIVITY_HOURS", 24)) * time.Hour
	sweeper.WarningGrace = getEnvAsMinutes("SWEEP_GRACE_MINUTES", sweeper.WarningGrace)
	sweeper.OperatorGrace = time.Duration(getEnvAsInt("SWEEP_OPERATOR_GRACE_HOURS", 24)) * time.Hour
	sweeper.LeaseEnabled = getEnvAsBool("SWEEP_LEASE_ENABLED", sweeper.LeaseEnabled)
	sweeper.LeaseTTL = time.Duration(getEnvAsInt("SWEEP_LEASE_TTL_SECONDS", 55)) * time.Second

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "livechat-service"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
			BodyLimitBytes:        getEnvAsInt("HTTP_BODY_LIMIT_BYTES", 8*1024*1024),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       maxConns,
			MinConns:       minConns,
			RunMigrations:  runMigrations,
			ConnMaxIdleSec: connMaxIdle,
			ConnMaxLifeSec: connMaxLife,
		},
		Redis: RedisConfig{
			Addr:      getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password:  os.Getenv("REDIS_PASSWORD"),
			DB:        redisDB,
			KeyPrefix: getEnv("REDIS_KEY_PREFIX", "livechat"),
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Auth: AuthConfig{
			JWTSecret:             getEnv("AUTH_JWT_SECRET", "dev-secret"),
			JWTIssuer:             os.Getenv("AUTH_JWT_ISSUER"),
			AccessTokenTTLMinutes: getEnvAsInt("AUTH_ACCESS_TOKEN_TTL_MINUTES", 60),
		},
		Chat:    chat,
		Sweeper: sweeper,
		Realtime: RealtimeConfig{
			Host:           getEnv("REALTIME_HOST", "0.0.0.0"),
			Port:           getEnv("REALTIME_PORT", "8081"),
			AllowedOrigins: getEnvAsList("REALTIME_ALLOWED_ORIGINS", []string{"*"}),
			SendBuffer:     getEnvAsInt("REALTIME_SEND_BUFFER", 64),
			WriteTimeout:   time.Duration(getEnvAsInt("REALTIME_WRITE_TIMEOUT_SECONDS", 10)) * time.Second,
		},
		AI: AIConfig{
			BaseURL:      getEnv("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1"),
			APIKey:       os.Getenv("OPENROUTER_API_KEY"),
			Model:        getEnv("OPENROUTER_MODEL", "openai/gpt-3.5-turbo"),
			MaxTokens:    getEnvAsInt("AI_MAX_TOKENS", 2500),
			Temperature:  temperature,
			Timeout:      time.Duration(getEnvAsInt("AI_TIMEOUT_SECONDS", 30)) * time.Second,
			MaxRetries:   getEnvAsInt("AI_MAX_RETRIES", 2),
			RetryBackoff: time.Duration(getEnvAsInt("AI_RETRY_BACKOFF_MS", 500)) * time.Millisecond,
			SystemPrompt: getEnv("AI_SYSTEM_PROMPT", defaultSystemPrompt),
			HistoryLimit: getEnvAsInt("AI_HISTORY_LIMIT", 10),
		},
		Kafka: KafkaConfig{
			Brokers:     getEnvAsList("KAFKA_BROKERS", nil),
			TopicPrefix: getEnv("KAFKA_TOPIC_PREFIX", "livechat."),
			BufferSize:  getEnvAsInt("KAFKA_BUFFER_SIZE", 256),
		},
	}

	return cfg, nil
}

// DefaultChatConfig returns the production upload limits.
func DefaultChatConfig() ChatConfig {
	return ChatConfig{
		MaxImageBytes:        5 * 1024 * 1024,
		MaxImagesPerMinute:   5,
		MaxImagesPerHour:     20,
		MaxBytesPerMinute:    5 * 1024 * 1024,
		MaxBytesPerHour:      20 * 1024 * 1024,
		MaxWarnings:          3,
		WarningReset:         time.Hour,
		BanDuration:          48 * time.Hour,
		SuspiciousImages:     5,
		SuspiciousWindow:     5 * time.Minute,
		JanitorInterval:      10 * time.Minute,
		HistoryLimit:         50,
		NotificationPageSize: 50,
	}
}

// DefaultSweeperConfig returns the production sweeper timings.
func DefaultSweeperConfig() SweeperConfig {
	return SweeperConfig{
		Enabled:             true,
		Interval:            time.Minute,
		InactivityThreshold: 24 * time.Hour,
		WarningGrace:        5 * time.Minute,
		OperatorGrace:       24 * time.Hour,
		LeaseTTL:            55 * time.Second,
	}
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// Addr returns the realtime bind address.
func (r RealtimeConfig) Addr() string {
	return fmt.Sprintf("%s:%s", r.Host, r.Port)
}

// Enabled reports whether a completion backend is configured.
func (a AIConfig) Enabled() bool {
	return strings.TrimSpace(a.APIKey) != ""
}

// Enabled reports whether event export is configured.
func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsMinutes(key string, fallback time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return time.Duration(parsed) * time.Minute
}

func getEnvAsList(key string, fallback []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
