// Package config provides configuration management for the agent trigger service.
// It loads configuration from environment variables with sensible defaults and
// validates it so the service refuses to start in an unusable state.
//
// Environment Variables:
//
// Application Settings:
//   - PORT: HTTP port (default: 8080)
//   - TLS_CERT_FILE, TLS_KEY_FILE: Serve HTTPS when both are set
//   - LOG_LEVEL: Logging level (default: info)
//   - LOG_FILE: Optional log file; stdout when empty
//   - LOG_JSON: Emit JSON logs instead of console lines (default: false)
//
// Database Configuration:
//   - DATABASE_TYPE: "sqlite" or "postgres" (default: sqlite)
//   - DATABASE_PATH: SQLite database file path (default: ./agent_triggers.db)
//   - POSTGRES_HOST, POSTGRES_PORT, POSTGRES_DB, POSTGRES_USER, POSTGRES_PASSWORD, POSTGRES_SSL_MODE
//   - STORE_TIMEOUT: Upper bound for a single store call (default: 5s)
//
// Redis Configuration:
//   - REDIS_ADDRESS: Redis server address; empty disables distributed locks and the redis dispatcher
//   - REDIS_PASSWORD, REDIS_DB (0-15), REDIS_POOL_SIZE
//   - LOCK_TTL: Per-connection ingestion lock expiry (default: 60s)
//
// Security Configuration:
//   - JWT_SECRET: HS256 secret for admin API bearer tokens (required, minimum 32 characters)
//   - JWT_TTL: Lifetime of tokens minted with -issue-token (default: 24h)
//   - CONFIG_ENCRYPTION_KEY: Key used to encrypt webhook secrets at rest (optional)
//   - API_RPS, API_BURST: Admin API budget per subject; API_RPS=0 disables (default: 20, 40)
//
// Dispatch:
//   - DISPATCH_BACKEND: log, redis, pubsub, sqs, sns, kafka or rabbitmq (default: log)
//   - DISPATCH_REDIS_STREAM: Stream key for the redis backend (default: agent:runs)
//   - DISPATCH_PUBSUB_PROJECT, DISPATCH_PUBSUB_TOPIC, GOOGLE_CREDENTIALS_FILE
//   - DISPATCH_SQS_QUEUE_URL, AWS_REGION, AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY
//   - DISPATCH_SNS_TOPIC_ARN (shares the AWS settings above)
//   - DISPATCH_KAFKA_BROKERS (comma separated), DISPATCH_KAFKA_TOPIC
//   - KAFKA_SECURITY_PROTOCOL, KAFKA_SASL_MECHANISM, KAFKA_SASL_USERNAME, KAFKA_SASL_PASSWORD
//   - DISPATCH_RABBITMQ_URL, DISPATCH_RABBITMQ_QUEUE
//   - DISPATCH_BREAKER_MAX_FAILURES, DISPATCH_BREAKER_TIMEOUT
//
// Gmail Ingestion:
//   - GMAIL_CREDENTIALS_FILE: Service account key with domain-wide delegation for mailbox reads
//   - GMAIL_PUSH_TOKEN: Shared token expected in the push endpoint "token" query parameter
//   - GMAIL_PUSH_AUDIENCE: Expected audience of Google-signed push OIDC tokens
//   - GMAIL_PUSH_SERVICE_ACCOUNT: Expected email claim of push OIDC tokens
//   - GMAIL_PUBSUB_PROJECT, GMAIL_PUBSUB_SUBSCRIPTION: Optional pull-mode subscription
//   - INGEST_MAX_MESSAGES: Maximum messages fetched per notification (default: 50)
//   - INGEST_FETCH_CONCURRENCY: Parallel message fetches (default: 5)
//   - PROVIDER_TIMEOUT: Upper bound for a single provider call (default: 15s)
//   - PROVIDER_RPS, PROVIDER_BURST: Outbound provider call budget per connection
//   - ORG_DOMAINS: Comma separated fallback list of internal domains
//   - BUSINESS_TIMEZONE, BUSINESS_HOURS_START, BUSINESS_HOURS_END (default: UTC, 9, 17)
//
// Scheduler:
//   - SCHEDULER_ENABLED: Run the due-schedule loop in this process (default: true)
//   - SCHEDULER_TICK: Polling interval (default: 15s)
//   - SCHEDULER_BATCH: Maximum due schedules fired per tick (default: 100)
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration values for the service.
type Config struct {
	Port        string
	TLSCertFile string
	TLSKeyFile  string
	LogLevel    string
	LogFile     string
	LogJSON     bool

	DatabaseType     string
	DatabasePath     string
	PostgresHost     string
	PostgresPort     string
	PostgresDB       string
	PostgresUser     string
	PostgresPassword string
	PostgresSSLMode  string
	StoreTimeout     time.Duration

	RedisAddress  string
	RedisPassword string
	RedisDB       int
	RedisPoolSize int
	LockTTL       time.Duration

	JWTSecret           string
	JWTTTL              time.Duration
	ConfigEncryptionKey string
	APIRateLimitRPS     float64
	APIRateLimitBurst   int

	DispatchBackend            string
	DispatchRedisStream        string
	DispatchPubSubProject      string
	DispatchPubSubTopic        string
	GoogleCredentialsFile      string
	DispatchSQSQueueURL        string
	AWSRegion                  string
	AWSAccessKeyID             string
	AWSSecretAccessKey         string
	DispatchSNSTopicARN        string
	DispatchKafkaBrokers       []string
	DispatchKafkaTopic         string
	KafkaSecurityProtocol      string
	KafkaSASLMechanism         string
	KafkaSASLUsername          string
	KafkaSASLPassword          string
	DispatchRabbitMQURL        string
	DispatchRabbitMQQueue      string
	DispatchBreakerMaxFailures int
	DispatchBreakerTimeout     time.Duration

	GmailCredentialsFile    string
	GmailPushToken          string
	GmailPushAudience       string
	GmailPushServiceAccount string
	GmailPubSubProject      string
	GmailPubSubSubscription string
	IngestMaxMessages       int
	IngestFetchConcurrency  int
	ProviderTimeout         time.Duration
	ProviderRPS             float64
	ProviderBurst           int
	OrgDomains              []string
	BusinessTimezone        string
	BusinessHoursStart      int
	BusinessHoursEnd        int

	SchedulerEnabled bool
	SchedulerTick    time.Duration
	SchedulerBatch   int
}

// Load reads the configuration from the environment
func Load() *Config {
	return &Config{
		Port:        getEnv("PORT", "8080"),
		TLSCertFile: getEnv("TLS_CERT_FILE", ""),
		TLSKeyFile:  getEnv("TLS_KEY_FILE", ""),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogFile:     getEnv("LOG_FILE", ""),
		LogJSON:     getBoolEnv("LOG_JSON", false),

		DatabaseType:     getEnv("DATABASE_TYPE", "sqlite"),
		DatabasePath:     getEnv("DATABASE_PATH", "./agent_triggers.db"),
		PostgresHost:     getEnv("POSTGRES_HOST", ""),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresDB:       getEnv("POSTGRES_DB", ""),
		PostgresUser:     getEnv("POSTGRES_USER", ""),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", ""),
		PostgresSSLMode:  getEnv("POSTGRES_SSL_MODE", "disable"),
		StoreTimeout:     getDurationEnv("STORE_TIMEOUT", 5*time.Second),

		RedisAddress:  getEnv("REDIS_ADDRESS", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("REDIS_DB", 0),
		RedisPoolSize: getIntEnv("REDIS_POOL_SIZE", 10),
		LockTTL:       getDurationEnv("LOCK_TTL", 60*time.Second),

		JWTSecret:           getEnv("JWT_SECRET", ""),
		JWTTTL:              getDurationEnv("JWT_TTL", 24*time.Hour),
		ConfigEncryptionKey: getEnv("CONFIG_ENCRYPTION_KEY", ""),
		APIRateLimitRPS:     getFloatEnv("API_RPS", 20),
		APIRateLimitBurst:   getIntEnv("API_BURST", 40),

		DispatchBackend:            strings.ToLower(getEnv("DISPATCH_BACKEND", "log")),
		DispatchRedisStream:        getEnv("DISPATCH_REDIS_STREAM", "agent:runs"),
		DispatchPubSubProject:      getEnv("DISPATCH_PUBSUB_PROJECT", ""),
		DispatchPubSubTopic:        getEnv("DISPATCH_PUBSUB_TOPIC", ""),
		GoogleCredentialsFile:      getEnv("GOOGLE_CREDENTIALS_FILE", ""),
		DispatchSQSQueueURL:        getEnv("DISPATCH_SQS_QUEUE_URL", ""),
		AWSRegion:                  getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:             getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:         getEnv("AWS_SECRET_ACCESS_KEY", ""),
		DispatchSNSTopicARN:        getEnv("DISPATCH_SNS_TOPIC_ARN", ""),
		DispatchKafkaBrokers:       getListEnv("DISPATCH_KAFKA_BROKERS"),
		DispatchKafkaTopic:         getEnv("DISPATCH_KAFKA_TOPIC", "agent-runs"),
		KafkaSecurityProtocol:      getEnv("KAFKA_SECURITY_PROTOCOL", "PLAINTEXT"),
		KafkaSASLMechanism:         getEnv("KAFKA_SASL_MECHANISM", "PLAIN"),
		KafkaSASLUsername:          getEnv("KAFKA_SASL_USERNAME", ""),
		KafkaSASLPassword:          getEnv("KAFKA_SASL_PASSWORD", ""),
		DispatchRabbitMQURL:        getEnv("DISPATCH_RABBITMQ_URL", ""),
		DispatchRabbitMQQueue:      getEnv("DISPATCH_RABBITMQ_QUEUE", "agent-runs"),
		DispatchBreakerMaxFailures: getIntEnv("DISPATCH_BREAKER_MAX_FAILURES", 5),
		DispatchBreakerTimeout:     getDurationEnv("DISPATCH_BREAKER_TIMEOUT", 30*time.Second),

		GmailCredentialsFile:    getEnv("GMAIL_CREDENTIALS_FILE", ""),
		GmailPushToken:          getEnv("GMAIL_PUSH_TOKEN", ""),
		GmailPushAudience:       getEnv("GMAIL_PUSH_AUDIENCE", ""),
		GmailPushServiceAccount: getEnv("GMAIL_PUSH_SERVICE_ACCOUNT", ""),
		GmailPubSubProject:      getEnv("GMAIL_PUBSUB_PROJECT", ""),
		GmailPubSubSubscription: getEnv("GMAIL_PUBSUB_SUBSCRIPTION", ""),
		IngestMaxMessages:       getIntEnv("INGEST_MAX_MESSAGES", 50),
		IngestFetchConcurrency:  getIntEnv("INGEST_FETCH_CONCURRENCY", 5),
		ProviderTimeout:         getDurationEnv("PROVIDER_TIMEOUT", 15*time.Second),
		ProviderRPS:             getFloatEnv("PROVIDER_RPS", 10),
		ProviderBurst:           getIntEnv("PROVIDER_BURST", 10),
		OrgDomains:              getListEnv("ORG_DOMAINS"),
		BusinessTimezone:        getEnv("BUSINESS_TIMEZONE", "UTC"),
		BusinessHoursStart:      getIntEnv("BUSINESS_HOURS_START", 9),
		BusinessHoursEnd:        getIntEnv("BUSINESS_HOURS_END", 17),

		SchedulerEnabled: getBoolEnv("SCHEDULER_ENABLED", true),
		SchedulerTick:    getDurationEnv("SCHEDULER_TICK", 15*time.Second),
		SchedulerBatch:   getIntEnv("SCHEDULER_BATCH", 100),
	}
}

func getEnv(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	value := getEnv(key, "")
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func getIntEnv(key string, defaultValue int) int {
	value := getEnv(key, "")
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func getFloatEnv(key string, defaultValue float64) float64 {
	value := getEnv(key, "")
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	value := getEnv(key, "")
	if value == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func getListEnv(key string) []string {
	value := getEnv(key, "")
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, strings.ToLower(part))
		}
	}
	return out
}

// PostgresDSN builds a connection string for the pgx stdlib driver
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf("host=%s port=%s dbname=%s user=%s password=%s sslmode=%s",
		c.PostgresHost, c.PostgresPort, c.PostgresDB, c.PostgresUser, c.PostgresPassword, c.PostgresSSLMode)
}

// RedisEnabled reports whether a Redis address was configured
func (c *Config) RedisEnabled() bool {
	return c.RedisAddress != ""
}

// Validate checks that the configuration is internally consistent
func (c *Config) Validate() error {
	if port, err := strconv.Atoi(c.Port); err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("PORT must be a number between 1 and 65535, got %q", c.Port)
	}

	if (c.TLSCertFile == "") != (c.TLSKeyFile == "") {
		return fmt.Errorf("TLS_CERT_FILE and TLS_KEY_FILE must be set together")
	}

	switch c.DatabaseType {
	case "sqlite":
		if c.DatabasePath == "" {
			return fmt.Errorf("DATABASE_PATH is required when DATABASE_TYPE is sqlite")
		}
	case "postgres":
		if c.PostgresHost == "" || c.PostgresDB == "" || c.PostgresUser == "" {
			return fmt.Errorf("POSTGRES_HOST, POSTGRES_DB and POSTGRES_USER are required when DATABASE_TYPE is postgres")
		}
	default:
		return fmt.Errorf("DATABASE_TYPE must be sqlite or postgres, got %q", c.DatabaseType)
	}

	if c.RedisDB < 0 || c.RedisDB > 15 {
		return fmt.Errorf("REDIS_DB must be between 0 and 15, got %d", c.RedisDB)
	}
	if c.RedisPoolSize < 1 {
		return fmt.Errorf("REDIS_POOL_SIZE must be positive, got %d", c.RedisPoolSize)
	}

	if len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET is required and must be at least 32 characters")
	}
	if c.APIRateLimitRPS < 0 {
		return fmt.Errorf("API_RPS must not be negative")
	}

	switch c.DispatchBackend {
	case "log":
	case "redis":
		if !c.RedisEnabled() {
			return fmt.Errorf("REDIS_ADDRESS is required when DISPATCH_BACKEND is redis")
		}
	case "pubsub":
		if c.DispatchPubSubProject == "" || c.DispatchPubSubTopic == "" {
			return fmt.Errorf("DISPATCH_PUBSUB_PROJECT and DISPATCH_PUBSUB_TOPIC are required when DISPATCH_BACKEND is pubsub")
		}
	case "sqs":
		if c.DispatchSQSQueueURL == "" {
			return fmt.Errorf("DISPATCH_SQS_QUEUE_URL is required when DISPATCH_BACKEND is sqs")
		}
	case "sns":
		if c.DispatchSNSTopicARN == "" {
			return fmt.Errorf("DISPATCH_SNS_TOPIC_ARN is required when DISPATCH_BACKEND is sns")
		}
	case "kafka":
		if len(c.DispatchKafkaBrokers) == 0 {
			return fmt.Errorf("DISPATCH_KAFKA_BROKERS is required when DISPATCH_BACKEND is kafka")
		}
	case "rabbitmq":
		if c.DispatchRabbitMQURL == "" {
			return fmt.Errorf("DISPATCH_RABBITMQ_URL is required when DISPATCH_BACKEND is rabbitmq")
		}
	default:
		return fmt.Errorf("DISPATCH_BACKEND must be one of log, redis, pubsub, sqs, sns, kafka, rabbitmq; got %q", c.DispatchBackend)
	}

	if c.GmailPushToken == "" && c.GmailPushAudience == "" {
		return fmt.Errorf("one of GMAIL_PUSH_TOKEN or GMAIL_PUSH_AUDIENCE must be set to authenticate push notifications")
	}
	if (c.GmailPubSubProject == "") != (c.GmailPubSubSubscription == "") {
		return fmt.Errorf("GMAIL_PUBSUB_PROJECT and GMAIL_PUBSUB_SUBSCRIPTION must be set together")
	}

	if c.IngestMaxMessages < 1 {
		return fmt.Errorf("INGEST_MAX_MESSAGES must be positive")
	}
	if c.IngestFetchConcurrency < 1 {
		return fmt.Errorf("INGEST_FETCH_CONCURRENCY must be positive")
	}
	if c.ProviderTimeout <= 0 || c.StoreTimeout <= 0 {
		return fmt.Errorf("PROVIDER_TIMEOUT and STORE_TIMEOUT must be positive durations")
	}
	if c.LockTTL <= c.ProviderTimeout {
		return fmt.Errorf("LOCK_TTL (%s) must exceed PROVIDER_TIMEOUT (%s)", c.LockTTL, c.ProviderTimeout)
	}

	if _, err := time.LoadLocation(c.BusinessTimezone); err != nil {
		return fmt.Errorf("BUSINESS_TIMEZONE %q is not a valid IANA timezone: %w", c.BusinessTimezone, err)
	}
	if c.BusinessHoursStart < 0 || c.BusinessHoursEnd > 24 || c.BusinessHoursStart >= c.BusinessHoursEnd {
		return fmt.Errorf("BUSINESS_HOURS_START and BUSINESS_HOURS_END must satisfy 0 <= start < end <= 24")
	}

	if c.SchedulerEnabled && c.SchedulerTick < time.Second {
		return fmt.Errorf("SCHEDULER_TICK must be at least 1s")
	}
	if c.SchedulerBatch < 1 {
		return fmt.Errorf("SCHEDULER_BATCH must be positive")
	}

	return nil
}
