package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"

	"registration-service/internal/util"
)

var (
	ErrMissingCryptoKey = errors.New("CRYPTO_KEY must be a 64 character hex string")
	ErrMissingPepper    = errors.New("CRYPTO_PEPPER is required")
	ErrMissingJWTSecret = errors.New("JWT_SECRET is required")
)

type Config struct {
	Environment   string
	Server        ServerConfig
	Logging       LoggingConfig
	Postgres      PostgresConfig
	Redis         RedisConfig
	Scylla        ScyllaConfig
	Kafka         KafkaConfig
	Elasticsearch ElasticsearchConfig
	Clickhouse    ClickhouseConfig
	KMS           KMSConfig
	Crypto        CryptoConfig
	Hashing       HashingConfig
	JWT           JWTConfig
	OTP           OTPConfig
	Registration  RegistrationConfig
	Bucketing     BucketingConfig
}

type ServerConfig struct {
	Host           string
	Port           string
	TLSPort        string
	EnableTLS      bool
	AutoCert       bool
	AutoCertDir    string
	Domain         string
	Email          string
	CertFile       string
	KeyFile        string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	RequestTimeout time.Duration
	AllowedOrigins []string
}

type LoggingConfig struct {
	Level   string
	Format  string
	Service string
}

type PostgresConfig struct {
	URL         string
	ApplySchema bool
}

type RedisConfig struct {
	URL      string
	Password string
	DB       int
	PoolSize int
}

type ScyllaConfig struct {
	Nodes    []string
	Keyspace string
	Username string
	Password string
}

type KafkaConfig struct {
	Brokers           []string
	NotificationTopic string
}

type ElasticsearchConfig struct {
	URL        string
	Username   string
	Password   string
	AuditIndex string
}

type ClickhouseConfig struct {
	URL        string
	Username   string
	Password   string
	Database   string
	AuditTable string
}

// KMSConfig controls unwrapping of the field encryption key. When enabled,
// EncryptedDataKey holds a base64 KMS ciphertext blob of the 32-byte key.
type KMSConfig struct {
	Enabled          bool
	KeyID            string
	Region           string
	EncryptedDataKey string
}

type CryptoConfig struct {
	Key    string
	Pepper string
}

type HashingConfig struct {
	Argon2MemoryCost  int
	Argon2TimeCost    int
	Argon2Parallelism int
	KeyLength         int
}

type JWTConfig struct {
	Secret          string
	Issuer          string
	RegistrationTTL time.Duration
	LoginTTL        time.Duration
}

type OTPConfig struct {
	CodeTTL          time.Duration
	RequestLimit     int
	RequestWindow    time.Duration
	ValidationLimit  int
	ValidationWindow time.Duration
}

type RegistrationConfig struct {
	SessionTTL        time.Duration
	EmailChallengeTTL time.Duration
	EmailVerifyURL    string
}

type BucketingConfig struct {
	EventBuckets int
}

var (
	current *Config
	mu      sync.RWMutex
)

// LoadConfig reads .env (if present) and the process environment.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Environment: util.GetEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:           util.GetEnv("SERVER_HOST", "0.0.0.0"),
			Port:           util.GetEnv("SERVER_PORT", "8080"),
			TLSPort:        util.GetEnv("SERVER_TLS_PORT", "8443"),
			EnableTLS:      util.GetEnvBool("SERVER_ENABLE_TLS", false),
			AutoCert:       util.GetEnvBool("SERVER_AUTOCERT", false),
			AutoCertDir:    util.GetEnv("SERVER_AUTOCERT_DIR", "./certs"),
			Domain:         util.GetEnv("SERVER_DOMAIN", "localhost"),
			Email:          util.GetEnv("SERVER_ACME_EMAIL", ""),
			CertFile:       util.GetEnv("SERVER_CERT_FILE", ""),
			KeyFile:        util.GetEnv("SERVER_KEY_FILE", ""),
			ReadTimeout:    util.GetEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:   util.GetEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:    util.GetEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			RequestTimeout: util.GetEnvDuration("SERVER_REQUEST_TIMEOUT", 30*time.Second),
			AllowedOrigins: util.GetEnvList("SERVER_ALLOWED_ORIGINS", []string{"*"}),
		},
		Logging: LoggingConfig{
			Level:   util.GetEnv("LOG_LEVEL", "info"),
			Format:  util.GetEnv("LOG_FORMAT", "json"),
			Service: util.GetEnv("SERVICE_NAME", "registration-service"),
		},
		Postgres: PostgresConfig{
			URL:         util.GetEnv("POSTGRES_URL", ""),
			ApplySchema: util.GetEnvBool("POSTGRES_APPLY_SCHEMA", true),
		},
		Redis: RedisConfig{
			URL:      util.GetEnv("REDIS_URL", "redis://localhost:6379/0"),
			Password: util.GetEnv("REDIS_PASSWORD", ""),
			DB:       util.GetEnvInt("REDIS_DB", 0),
			PoolSize: util.GetEnvInt("REDIS_POOL_SIZE", 20),
		},
		Scylla: ScyllaConfig{
			Nodes:    util.GetEnvList("SCYLLA_NODES", nil),
			Keyspace: util.GetEnv("SCYLLA_KEYSPACE", "registration"),
			Username: util.GetEnv("SCYLLA_USERNAME", ""),
			Password: util.GetEnv("SCYLLA_PASSWORD", ""),
		},
		Kafka: KafkaConfig{
			Brokers:           util.GetEnvList("KAFKA_BROKERS", nil),
			NotificationTopic: util.GetEnv("KAFKA_NOTIFICATION_TOPIC", "registration.notifications"),
		},
		Elasticsearch: ElasticsearchConfig{
			URL:        util.GetEnv("ELASTICSEARCH_URL", ""),
			Username:   util.GetEnv("ELASTICSEARCH_USERNAME", ""),
			Password:   util.GetEnv("ELASTICSEARCH_PASSWORD", ""),
			AuditIndex: util.GetEnv("ELASTICSEARCH_AUDIT_INDEX", "security-events"),
		},
		Clickhouse: ClickhouseConfig{
			URL:        util.GetEnv("CLICKHOUSE_URL", ""),
			Username:   util.GetEnv("CLICKHOUSE_USERNAME", "default"),
			Password:   util.GetEnv("CLICKHOUSE_PASSWORD", ""),
			Database:   util.GetEnv("CLICKHOUSE_DATABASE", "registration"),
			AuditTable: util.GetEnv("CLICKHOUSE_AUDIT_TABLE", "security_events"),
		},
		KMS: KMSConfig{
			Enabled:          util.GetEnvBool("KMS_ENABLED", false),
			KeyID:            util.GetEnv("KMS_KEY_ID", ""),
			Region:           util.GetEnv("KMS_REGION", "us-east-1"),
			EncryptedDataKey: util.GetEnv("KMS_ENCRYPTED_DATA_KEY", ""),
		},
		Crypto: CryptoConfig{
			Key:    util.GetEnv("CRYPTO_KEY", ""),
			Pepper: util.GetEnv("CRYPTO_PEPPER", ""),
		},
		Hashing: HashingConfig{
			Argon2MemoryCost:  util.GetEnvInt("ARGON2_MEMORY_KB", 64*1024),
			Argon2TimeCost:    util.GetEnvInt("ARGON2_TIME_COST", 1),
			Argon2Parallelism: util.GetEnvInt("ARGON2_PARALLELISM", 4),
			KeyLength:         util.GetEnvInt("ARGON2_KEY_LENGTH", 32),
		},
		JWT: JWTConfig{
			Secret:          util.GetEnv("JWT_SECRET", ""),
			Issuer:          util.GetEnv("JWT_ISSUER", "registration-service"),
			RegistrationTTL: util.GetEnvDuration("JWT_REGISTRATION_TTL", 10*time.Minute),
			LoginTTL:        util.GetEnvDuration("JWT_LOGIN_TTL", 10*time.Minute),
		},
		OTP: OTPConfig{
			CodeTTL:          util.GetEnvDuration("OTP_CODE_TTL", 5*time.Minute),
			RequestLimit:     util.GetEnvInt("OTP_REQUEST_LIMIT", 5),
			RequestWindow:    util.GetEnvDuration("OTP_REQUEST_WINDOW", 30*time.Minute),
			ValidationLimit:  util.GetEnvInt("OTP_VALIDATION_LIMIT", 5),
			ValidationWindow: util.GetEnvDuration("OTP_VALIDATION_WINDOW", 30*time.Minute),
		},
		Registration: RegistrationConfig{
			SessionTTL:        util.GetEnvDuration("REGISTRATION_SESSION_TTL", 15*time.Hour),
			EmailChallengeTTL: util.GetEnvDuration("REGISTRATION_EMAIL_CHALLENGE_TTL", 15*time.Minute),
			EmailVerifyURL:    util.GetEnv("REGISTRATION_EMAIL_VERIFY_URL", "http://localhost:8080/api/v1/registration/email/verify"),
		},
		Bucketing: BucketingConfig{
			EventBuckets: util.GetEnvInt("BUCKETING_EVENT_BUCKETS", 256),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	mu.Lock()
	current = cfg
	mu.Unlock()

	return cfg, nil
}

// Get returns the most recently loaded configuration.
func Get() *Config {
	mu.RLock()
	defer mu.RUnlock()
	return current
}

// Validate rejects configurations that cannot run the crypto layer.
func (c *Config) Validate() error {
	if !c.KMS.Enabled {
		key, err := hex.DecodeString(c.Crypto.Key)
		if err != nil || len(key) != 32 {
			return ErrMissingCryptoKey
		}
	} else if c.KMS.EncryptedDataKey == "" {
		return fmt.Errorf("KMS_ENCRYPTED_DATA_KEY is required when KMS is enabled")
	}
	if strings.TrimSpace(c.Crypto.Pepper) == "" {
		return ErrMissingPepper
	}
	if c.JWT.Secret == "" {
		return ErrMissingJWTSecret
	}
	if c.OTP.RequestLimit <= 0 || c.OTP.ValidationLimit <= 0 {
		return fmt.Errorf("OTP limits must be positive")
	}
	if c.Bucketing.EventBuckets <= 0 {
		return fmt.Errorf("event bucket count must be positive")
	}
	if c.IsProduction() && c.Postgres.URL == "" {
		return fmt.Errorf("POSTGRES_URL is required in production")
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func (c *Config) GetServerAddress() string {
	if c.Server.EnableTLS {
		return c.Server.Host + ":" + c.Server.TLSPort
	}
	return c.Server.Host + ":" + c.Server.Port
}
