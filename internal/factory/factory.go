package factory

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/kms"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"registration-service/internal/audit"
	"registration-service/internal/bucketing"
	"registration-service/internal/client"
	"registration-service/internal/config"
	"registration-service/internal/encryption"
	"registration-service/internal/handler"
	"registration-service/internal/hashing"
	"registration-service/internal/notification"
	"registration-service/internal/repository"
	"registration-service/internal/repository/memory"
	"registration-service/internal/repository/postgres"
	redisrepo "registration-service/internal/repository/redis"
	"registration-service/internal/repository/scylla"
	"registration-service/internal/service"
	"registration-service/internal/tls"
	"registration-service/internal/token"
	"registration-service/internal/util"
)

// Factory manages the lifecycle of all application dependencies
type Factory struct {
	config     *config.Config
	tlsManager *tls.TLSManager

	// Storage
	store     repository.Store
	pgStore   *postgres.Store
	rateLimit *redisrepo.RateLimitCache

	// Clients
	redisClient      *client.RedisClient
	scyllaClient     *scylla.ScyllaClient
	kafkaProducer    *client.KafkaProducer
	esClient         *client.ESClient
	clickhouseClient *client.ClickHouseClient
	kmsClient        *kms.Client

	// Managers
	hasher            *hashing.Hasher
	encryptionManager *encryption.EncryptionManager
	bucketingManager  *bucketing.BucketingManager
	signer            *token.JWTService
	notifier          notification.Notifier
	recorder          *audit.Recorder

	serviceFactory *service.ServiceFactory

	closeOnce sync.Once
}

// NewFactory creates and initializes all application dependencies
func NewFactory() (*Factory, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	util.Init(util.LogOptions{
		Environment: cfg.Environment,
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Service:     cfg.Logging.Service,
	})

	factory := &Factory{config: cfg}

	if cfg.Server.EnableTLS {
		manager, err := tls.NewTLSManager(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize tls: %w", err)
		}
		factory.tlsManager = manager
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := factory.initializeClients(ctx); err != nil {
		factory.Close()
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}

	if err := factory.initializeManagers(ctx); err != nil {
		factory.Close()
		return nil, fmt.Errorf("failed to initialize managers: %w", err)
	}

	factory.initializeAudit(ctx)

	util.Info("Factory initialized successfully",
		zap.String("environment", cfg.Environment),
		zap.Bool("tls_enabled", cfg.Server.EnableTLS),
		zap.Bool("kms_enabled", cfg.KMS.Enabled),
		zap.Bool("postgres", factory.pgStore != nil),
	)

	return factory, nil
}

// initializeClients connects the required stores and any optional backend
// that has configuration. Optional failures are fatal only in production.
func (f *Factory) initializeClients(ctx context.Context) error {
	if f.config.Postgres.URL != "" {
		pool, err := client.NewPostgresPool(ctx, f.config)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		f.pgStore = postgres.NewStore(pool)
		f.store = f.pgStore
		if f.config.Postgres.ApplySchema {
			if err := f.pgStore.ApplySchema(ctx); err != nil {
				return err
			}
		}
		util.Info("Postgres store initialized")
	} else {
		f.store = memory.NewStore()
		util.Warn("POSTGRES_URL not set - using in-memory store, data is lost on restart")
	}

	redisClient, err := client.NewRedisClient(f.config, util.Get())
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	f.redisClient = redisClient
	f.rateLimit = redisrepo.NewRateLimitCache(redisClient)
	util.Info("Redis client initialized and healthy")

	var initErrors []error

	if len(f.config.Scylla.Nodes) > 0 {
		if c, err := scylla.NewScyllaClient(f.config, util.Get()); err != nil {
			initErrors = append(initErrors, fmt.Errorf("scylla: %w", err))
		} else {
			f.scyllaClient = c
			util.Info("ScyllaDB client initialized")
		}
	}

	if len(f.config.Kafka.Brokers) > 0 {
		if producer, err := client.NewKafkaProducer(f.config, util.Get()); err != nil {
			initErrors = append(initErrors, fmt.Errorf("kafka: %w", err))
		} else {
			f.kafkaProducer = producer
			util.Info("Kafka producer initialized")
		}
	}

	if f.config.Elasticsearch.URL != "" {
		if c, err := client.NewElasticsearchClient(f.config, util.Get()); err != nil {
			initErrors = append(initErrors, fmt.Errorf("elasticsearch: %w", err))
		} else {
			f.esClient = c
			util.Info("Elasticsearch client initialized")
		}
	}

	if f.config.Clickhouse.URL != "" {
		if c, err := client.NewClickHouseClient(f.config, util.Get()); err != nil {
			initErrors = append(initErrors, fmt.Errorf("clickhouse: %w", err))
		} else {
			f.clickhouseClient = c
			util.Info("ClickHouse client initialized")
		}
	}

	if len(initErrors) > 0 {
		if f.config.IsProduction() {
			return fmt.Errorf("critical service initialization failed: %v", initErrors)
		}
		for _, err := range initErrors {
			util.Warn("Service initialization warning", zap.Error(err))
		}
	}

	return nil
}

// initializeManagers builds the crypto primitives, token signer and notifier.
func (f *Factory) initializeManagers(ctx context.Context) error {
	var decrypter encryption.KMSDecrypter
	if f.config.KMS.Enabled {
		kmsClient, err := encryption.NewKMSClient(ctx, f.config)
		if err != nil {
			return err
		}
		f.kmsClient = kmsClient
		decrypter = kmsClient
	}

	key, err := encryption.ResolveKey(ctx, f.config, decrypter)
	if err != nil {
		return err
	}
	if f.encryptionManager, err = encryption.NewEncryptionManager(key); err != nil {
		return err
	}
	if f.hasher, err = hashing.NewHasher(f.config); err != nil {
		return err
	}
	f.bucketingManager = bucketing.NewBucketingManager(f.config)
	f.signer = token.NewJWTService(f.config.JWT.Secret, f.config.JWT.Issuer)

	if f.kafkaProducer != nil {
		f.notifier = notification.NewKafkaNotifier(f.kafkaProducer, f.config.Kafka.NotificationTopic)
	} else {
		if f.config.IsProduction() {
			util.Warn("No Kafka brokers configured - OTP and email deliveries are only logged")
		}
		f.notifier = notification.NewLogNotifier(util.Named("notifier"))
	}

	util.Info("Managers initialized successfully",
		zap.Bool("hashing_initialized", f.hasher != nil),
		zap.Bool("encryption_initialized", f.encryptionManager != nil),
		zap.Bool("bucketing_initialized", f.bucketingManager != nil),
		zap.Bool("kafka_notifier", f.kafkaProducer != nil),
	)
	return nil
}

// initializeAudit attaches a sink for every configured analytics backend.
func (f *Factory) initializeAudit(ctx context.Context) {
	var sinks []audit.Sink

	if f.scyllaClient != nil {
		sinks = append(sinks, scylla.NewSecurityEventRepository(f.scyllaClient))
	}
	if f.clickhouseClient != nil {
		sink := audit.NewClickHouseSink(f.clickhouseClient, f.config.Clickhouse.AuditTable)
		if err := sink.EnsureTable(ctx); err != nil {
			util.Warn("ClickHouse audit table unavailable - sink disabled", zap.Error(err))
		} else {
			sinks = append(sinks, sink)
		}
	}
	if f.esClient != nil {
		sinks = append(sinks, audit.NewElasticsearchSink(f.esClient, f.config.Elasticsearch.AuditIndex))
	}

	f.recorder = audit.NewRecorder(f.bucketingManager, util.Named("audit"), sinks...)

	names := make([]string, 0, len(sinks))
	for _, s := range sinks {
		names = append(names, s.Name())
	}
	util.Info("Audit recorder initialized", zap.Strings("sinks", names))
}

// ==============================
// Service Factory
// ==============================

func (f *Factory) ServiceFactory() *service.ServiceFactory {
	if f.serviceFactory == nil {
		f.serviceFactory = service.NewServiceFactory(service.Dependencies{
			Store:         f.store,
			Counters:      f.rateLimit,
			Hasher:        f.hasher,
			EncryptionMgr: f.encryptionManager,
			Notifier:      f.notifier,
			Auditor:       f.recorder,
			Signer:        f.signer,
			Config:        f.config,
			Logger:        util.Get(),
		})
	}
	return f.serviceFactory
}

// Router builds the HTTP API on top of the credential service.
func (f *Factory) Router() http.Handler {
	credentials := f.ServiceFactory().CredentialService()
	h := handler.NewCredentialHandler(credentials, f.signer, util.Named("handler"))
	return handler.NewRouter(h, f, f.config.Server, util.Get())
}

// ==============================
// Health Checks
// ==============================

type healthCheck func(context.Context) error

func (f *Factory) components() map[string]healthCheck {
	checks := map[string]healthCheck{}
	if f.store != nil {
		checks["store"] = f.store.HealthCheck
	}
	if f.redisClient != nil {
		checks["redis"] = f.redisClient.HealthCheck
	}
	if f.scyllaClient != nil {
		checks["scylla"] = f.scyllaClient.HealthCheck
	}
	if f.esClient != nil {
		checks["elasticsearch"] = f.esClient.HealthCheck
	}
	if f.clickhouseClient != nil {
		checks["clickhouse"] = f.clickhouseClient.HealthCheck
	}
	if f.kafkaProducer != nil {
		checks["kafka"] = f.kafkaProducer.HealthCheck
	}
	return checks
}

// HealthCheck checks every initialized backend concurrently and returns the
// failures keyed by component name.
func (f *Factory) HealthCheck(ctx context.Context) map[string]error {
	healthErrors := make(map[string]error)
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	for name, check := range f.components() {
		name, check := name, check
		g.Go(func() error {
			if err := check(ctx); err != nil {
				mu.Lock()
				healthErrors[name] = err
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if f.store == nil {
		healthErrors["store"] = fmt.Errorf("store not initialized")
	}
	if f.redisClient == nil {
		healthErrors["redis"] = fmt.Errorf("redis client not initialized")
	}
	if f.hasher == nil {
		healthErrors["hasher"] = fmt.Errorf("hasher not initialized")
	}
	if f.encryptionManager == nil {
		healthErrors["encryption"] = fmt.Errorf("encryption manager not initialized")
	}
	return healthErrors
}

// IsHealthy ignores the optional analytics and notification backends.
func (f *Factory) IsHealthy(ctx context.Context) bool {
	healthErrors := f.HealthCheck(ctx)
	for _, optional := range []string{"kafka", "scylla", "elasticsearch", "clickhouse"} {
		delete(healthErrors, optional)
	}
	return len(healthErrors) == 0
}

func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		util.Info("Shutting down factory...")

		// Drain queued audit events while the sink clients are still open.
		f.recorder.Close()

		if f.clickhouseClient != nil {
			if err := f.clickhouseClient.Close(); err != nil {
				util.Error("Failed to close ClickHouse client", zap.Error(err))
			} else {
				util.Info("ClickHouse client closed")
			}
		}

		if f.kafkaProducer != nil {
			if err := f.kafkaProducer.Close(); err != nil {
				util.Error("Failed to close Kafka producer", zap.Error(err))
			} else {
				util.Info("Kafka producer closed")
			}
		}

		if f.scyllaClient != nil {
			f.scyllaClient.Close()
			util.Info("ScyllaDB client closed")
		}

		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				util.Error("Failed to close Redis client", zap.Error(err))
			} else {
				util.Info("Redis client closed")
			}
		}

		if f.store != nil {
			f.store.Close()
		}

		util.Info("Factory shutdown completed")
		util.Sync()
	})

	return nil
}

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) TLSManager() *tls.TLSManager {
	return f.tlsManager
}
