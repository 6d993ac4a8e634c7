package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"registration-service/internal/config"
	"registration-service/internal/util"
)

const securityEventsTable = `
CREATE TABLE IF NOT EXISTS security_events (
    event_bucket int,
    event_date   text,
    event_time   timestamp,
    event_id     text,
    event_type   text,
    subject_hash text,
    user_id      text,
    purpose      text,
    channel      text,
    details      map<text, text>,
    PRIMARY KEY ((event_bucket, event_date), event_time, event_id)
) WITH CLUSTERING ORDER BY (event_time DESC, event_id ASC)`

type ScyllaClient struct {
	Session *gocql.Session
	nodes   []string
}

func NewScyllaClient(cfg *config.Config, logger *zap.Logger) (*ScyllaClient, error) {
	scyllaConfig := cfg.Scylla
	if len(scyllaConfig.Nodes) == 0 {
		return nil, fmt.Errorf("no scylla nodes configured")
	}

	cluster := gocql.NewCluster(scyllaConfig.Nodes...)
	cluster.Keyspace = scyllaConfig.Keyspace
	cluster.Consistency = gocql.LocalQuorum
	cluster.Timeout = 10 * time.Second
	cluster.ConnectTimeout = 10 * time.Second
	cluster.NumConns = 2
	cluster.SocketKeepalive = 30 * time.Second
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		Min:        100 * time.Millisecond,
		Max:        2 * time.Second,
		NumRetries: 3,
	}

	if cfg.IsProduction() {
		cluster.SslOpts = &gocql.SslOptions{
			CaPath:                 util.GetEnv("SCYLLA_CA_FILE", "/app/certs/ca.pem"),
			CertPath:               util.GetEnv("SCYLLA_CERT_FILE", "/app/certs/scylla.pem"),
			KeyPath:                util.GetEnv("SCYLLA_KEY_FILE", "/app/certs/scylla.key"),
			EnableHostVerification: true,
		}
	}

	if scyllaConfig.Username != "" && scyllaConfig.Password != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: scyllaConfig.Username,
			Password: scyllaConfig.Password,
		}
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create scylla session: %w", err)
	}

	client := &ScyllaClient{Session: session, nodes: scyllaConfig.Nodes}
	if err := client.ensureSchema(); err != nil {
		session.Close()
		return nil, err
	}

	logger.Info("ScyllaDB client initialized",
		zap.Strings("nodes", scyllaConfig.Nodes),
		zap.String("keyspace", scyllaConfig.Keyspace))

	return client, nil
}

func (s *ScyllaClient) ensureSchema() error {
	if err := s.Session.Query(securityEventsTable).Exec(); err != nil {
		return fmt.Errorf("failed to create security_events table: %w", err)
	}
	return nil
}

func (s *ScyllaClient) Close() {
	if s.Session != nil {
		s.Session.Close()
		util.Info("ScyllaDB client closed")
	}
}

func (s *ScyllaClient) HealthCheck(ctx context.Context) error {
	var clusterName string
	err := s.Session.Query(`SELECT cluster_name FROM system.local`).WithContext(ctx).Scan(&clusterName)
	if err != nil {
		return fmt.Errorf("scylla health check failed: %w", err)
	}
	return nil
}

// ExecuteWithRetry runs query up to maxRetries+1 times with linear backoff.
func (s *ScyllaClient) ExecuteWithRetry(ctx context.Context, query *gocql.Query, maxRetries int) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if lastErr = query.WithContext(ctx).Exec(); lastErr == nil {
			return nil
		}
		if i < maxRetries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(i+1) * 100 * time.Millisecond):
			}
		}
	}
	return lastErr
}
