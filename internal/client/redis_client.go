package client

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"registration-service/internal/config"
	"registration-service/internal/util"
)

// ErrKeyNotFound is returned by Get for missing keys.
var ErrKeyNotFound = errors.New("key not found")

type RedisClient struct {
	Client *redis.Client
}

// NewRedisClient initializes a Redis client, with mutual TLS for rediss:// URLs.
func NewRedisClient(cfg *config.Config, logger *zap.Logger) (*RedisClient, error) {
	redisConfig := cfg.Redis

	opts, err := redis.ParseURL(redisConfig.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	if opts.Password == "" && redisConfig.Password != "" {
		opts.Password = redisConfig.Password
	}
	if redisConfig.DB != 0 {
		opts.DB = redisConfig.DB
	}
	opts.PoolSize = redisConfig.PoolSize
	opts.MinIdleConns = redisConfig.PoolSize / 2
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.PoolTimeout = 4 * time.Second
	opts.ConnMaxIdleTime = 5 * time.Minute

	if strings.HasPrefix(redisConfig.URL, "rediss://") {
		tlsConfig, err := redisTLSConfig()
		if err != nil {
			return nil, err
		}
		opts.TLSConfig = tlsConfig
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Redis client initialized",
		zap.String("addr", opts.Addr),
		zap.Int("db", opts.DB),
		zap.Int("pool_size", opts.PoolSize))

	return &RedisClient{Client: client}, nil
}

// WrapRedisClient adopts an existing go-redis client.
func WrapRedisClient(c *redis.Client) *RedisClient {
	return &RedisClient{Client: c}
}

func redisTLSConfig() (*tls.Config, error) {
	caFile := util.GetEnv("REDIS_TLS_CA_FILE", "/app/certs/ca.crt")
	certFile := util.GetEnv("REDIS_TLS_CERT_FILE", "/app/certs/redis.crt")
	keyFile := util.GetEnv("REDIS_TLS_KEY_FILE", "/app/certs/redis.key")

	caCert, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read Redis CA file: %w", err)
	}
	caCertPool := x509.NewCertPool()
	if ok := caCertPool.AppendCertsFromPEM(caCert); !ok {
		return nil, fmt.Errorf("failed to append CA cert")
	}

	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load Redis TLS certificate/key: %w", err)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		RootCAs:      caCertPool,
		MinVersion:   tls.VersionTLS12,
	}, nil
}

func (r *RedisClient) Close() error {
	if r.Client != nil {
		if err := r.Client.Close(); err != nil {
			util.Error("failed to close Redis client", zap.Error(err))
			return err
		}
		util.Info("Redis client closed")
	}
	return nil
}

// HealthCheck verifies Redis connectivity with a ping and a set/get cycle.
func (r *RedisClient) HealthCheck(ctx context.Context) error {
	if err := r.Client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}

	testKey := "healthcheck:registration-service"
	testValue := strconv.FormatInt(time.Now().UnixNano(), 10)
	if err := r.Client.Set(ctx, testKey, testValue, 10*time.Second).Err(); err != nil {
		return fmt.Errorf("redis set operation failed: %w", err)
	}

	val, err := r.Client.Get(ctx, testKey).Result()
	if err != nil {
		return fmt.Errorf("redis get operation failed: %w", err)
	}
	if val != testValue {
		return fmt.Errorf("redis data integrity failed")
	}

	_ = r.Client.Del(ctx, testKey)
	return nil
}

func (r *RedisClient) Get(ctx context.Context, key string) (string, error) {
	val, err := r.Client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", fmt.Errorf("%w: %s", ErrKeyNotFound, key)
		}
		return "", err
	}
	return val, nil
}

// RunScript executes a cached Lua script (EVALSHA with EVAL fallback).
func (r *RedisClient) RunScript(ctx context.Context, script *redis.Script, keys []string, args ...interface{}) (interface{}, error) {
	return script.Run(ctx, r.Client, keys, args...).Result()
}
