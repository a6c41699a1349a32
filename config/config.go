package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	EnvDev        = "dev"
	EnvProduction = "production"
)

type Config struct {
	Env           string
	ServerPort    int
	Debug         bool
	LogLevel      string
	JWTSecret     string
	PublicBaseURL string
	StoreBackend  string
	HTTP          HTTPConfig
	Database      DatabaseConfig
	Sandbox       SandboxConfig
	RateLimit     RateLimitConfig
	Ledger        LedgerConfig
	Invite        InviteConfig
	Storage       StorageConfig
	MQ            MQConfig
}

// HTTPConfig bounds request handling. Code execution polls the sandbox once
// per test case, so it gets its own, longer budget.
type HTTPConfig struct {
	RequestTimeout time.Duration
	ExecuteTimeout time.Duration
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	UseSSL   bool
}

// SandboxConfig configures the remote code execution service.
type SandboxConfig struct {
	BaseURL        string
	AuthToken      string
	PollInterval   time.Duration
	MaxPolls       int
	RequestTimeout time.Duration
}

type RateLimitConfig struct {
	Enabled       bool
	Backend       string
	MaxExecutions int
	Window        time.Duration
}

type LedgerConfig struct {
	RefundGrace   time.Duration
	SweepInterval time.Duration
	SweepBatch    int
}

type InviteConfig struct {
	DefaultExpiryDays int
	MaxExpiryDays     int
}

type StorageConfig struct {
	Backend string
	Minio   MinioConfig
	GCS     GCSConfig
}

type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type GCSConfig struct {
	Bucket          string
	ProjectID       string
	CredentialsFile string
}

type MQConfig struct {
	Backend  string
	RabbitMQ RabbitMQConfig
	PubSub   PubSubConfig
}

type RabbitMQConfig struct {
	URL             string
	QueueDurable    bool
	QueueAutoDelete bool
	PrefetchCount   int
}

type PubSubConfig struct {
	ProjectID          string
	CredentialsFile    string
	SubscriptionSuffix string
}

func LoadConfig() Config {
	env := getEnv("ENV", EnvDev)
	if env == EnvDev {
		godotenv.Load()
	}

	dbConfig := DatabaseConfig{
		Host:     getEnv("DB_HOST", "localhost"),
		Port:     getEnvInt("DB_PORT", 5432),
		User:     getEnv("DB_USER", "assessor"),
		Password: getEnv("DB_PASSWORD", "password"),
		DBName:   getEnv("DB_NAME", "assessor_db"),
		UseSSL:   getEnvBool("DB_USE_SSL", false),
	}

	cfg := Config{
		Env:           env,
		ServerPort:    getEnvInt("SERVER_PORT", 8080),
		Debug:         getEnvBool("DEBUG", env == EnvDev),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		JWTSecret:     strings.TrimSpace(getEnv("JWT_SECRET", "")),
		PublicBaseURL: strings.TrimRight(getEnv("PUBLIC_BASE_URL", "http://localhost:3000"), "/"),
		StoreBackend:  getEnv("STORE_BACKEND", "postgres"),
		HTTP: HTTPConfig{
			RequestTimeout: getEnvDuration("HTTP_REQUEST_TIMEOUT", 60*time.Second),
			ExecuteTimeout: getEnvDuration("HTTP_EXECUTE_TIMEOUT", 5*time.Minute),
		},
		Database: dbConfig,
		Sandbox: SandboxConfig{
			BaseURL:        strings.TrimRight(getEnv("SANDBOX_URL", "http://localhost:2358"), "/"),
			AuthToken:      getEnv("SANDBOX_AUTH_TOKEN", ""),
			PollInterval:   getEnvDuration("SANDBOX_POLL_INTERVAL", 500*time.Millisecond),
			MaxPolls:       getEnvInt("SANDBOX_MAX_POLLS", 20),
			RequestTimeout: getEnvDuration("SANDBOX_REQUEST_TIMEOUT", 10*time.Second),
		},
		RateLimit: RateLimitConfig{
			Enabled:       getEnvBool("RATE_LIMIT_ENABLED", true),
			Backend:       getEnv("RATE_LIMIT_BACKEND", "postgres"),
			MaxExecutions: getEnvInt("RATE_LIMIT_MAX_EXECUTIONS", 3),
			Window:        getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		Ledger: LedgerConfig{
			RefundGrace:   getEnvDuration("LEDGER_REFUND_GRACE", 7*24*time.Hour),
			SweepInterval: getEnvDuration("LEDGER_SWEEP_INTERVAL", time.Hour),
			SweepBatch:    getEnvInt("LEDGER_SWEEP_BATCH", 100),
		},
		Invite: InviteConfig{
			DefaultExpiryDays: getEnvInt("INVITE_EXPIRY_DAYS", 7),
			MaxExpiryDays:     getEnvInt("INVITE_MAX_EXPIRY_DAYS", 30),
		},
		Storage: StorageConfig{
			Backend: getEnv("STORAGE_BACKEND", "none"),
			Minio: MinioConfig{
				Endpoint:  getEnv("MINIO_ENDPOINT", ""),
				AccessKey: getEnv("MINIO_ACCESS_KEY", ""),
				SecretKey: getEnv("MINIO_SECRET_KEY", ""),
				Bucket:    getEnv("MINIO_BUCKET", "assessor-executions"),
				UseSSL:    getEnvBool("MINIO_USE_SSL", false),
			},
			GCS: GCSConfig{
				Bucket:          getEnv("GCS_BUCKET", ""),
				ProjectID:       getEnv("GCS_PROJECT_ID", ""),
				CredentialsFile: getEnv("GCS_CREDENTIALS_FILE", ""),
			},
		},
		MQ: MQConfig{
			Backend: getEnv("MQ_BACKEND", "none"),
			RabbitMQ: RabbitMQConfig{
				URL:             getEnv("RABBITMQ_URL", ""),
				QueueDurable:    getEnvBool("RABBITMQ_QUEUE_DURABLE", true),
				QueueAutoDelete: getEnvBool("RABBITMQ_QUEUE_AUTO_DELETE", false),
				PrefetchCount:   getEnvInt("RABBITMQ_PREFETCH", 10),
			},
			PubSub: PubSubConfig{
				ProjectID:          getEnv("PUBSUB_PROJECT_ID", ""),
				CredentialsFile:    getEnv("PUBSUB_CREDENTIALS_FILE", ""),
				SubscriptionSuffix: getEnv("PUBSUB_SUBSCRIPTION_SUFFIX", "-sub"),
			},
		},
	}

	// Error detail never leaves a production deployment.
	if cfg.Env == EnvProduction {
		cfg.Debug = false
	}
	return cfg
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if valueStr, exists := os.LookupEnv(key); exists {
		var value int
		if _, err := fmt.Sscanf(valueStr, "%d", &value); err != nil {
			return defaultValue
		}
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if valueStr, exists := os.LookupEnv(key); exists {
		value, err := strconv.ParseBool(strings.TrimSpace(valueStr))
		if err != nil {
			return defaultValue
		}
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if valueStr, exists := os.LookupEnv(key); exists {
		value, err := time.ParseDuration(strings.TrimSpace(valueStr))
		if err != nil || value <= 0 {
			return defaultValue
		}
		return value
	}
	return defaultValue
}
