// Package factory manages the lifecycle of all application dependencies:
// clients first, then repositories, then domain services, with lazy
// getters and an ordered shutdown.
package factory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"license-service/internal/cache"
	"license-service/internal/client"
	"license-service/internal/config"
	"license-service/internal/events"
	"license-service/internal/handler"
	"license-service/internal/license"
	"license-service/internal/middleware"
	"license-service/internal/ratelimit"
	"license-service/internal/repository/scylla"
	"license-service/internal/service"
	"license-service/internal/session"
	"license-service/internal/util"
)

// Factory creates and owns all application dependencies.
type Factory struct {
	config *config.Config

	// Clients
	redisClient      *client.RedisClient
	scyllaClient     *scylla.ScyllaClient
	kafkaProducer    *client.KafkaProducer
	esClient         *client.ESClient
	clickhouseClient *client.ClickHouseClient

	// Repositories
	licenseRepository    scylla.LicenseRepository
	activationRepository scylla.ActivationRepository
	userRepository       scylla.UserRepository

	// Domain
	signingSecret  []byte
	generator      *license.Generator
	validator      *license.Validator
	bus            *events.Bus
	auditSink      *events.AuditSink
	responseCache  *cache.Cache
	invalidator    *cache.Invalidator
	sessionManager *session.Manager
	licenseService *service.LicenseService
	searchService  *service.SearchService
	userService    *service.UserService

	closeOnce sync.Once
	closed    chan struct{}
}

// NewFactory creates and initializes all application dependencies.
func NewFactory() (*Factory, error) {
	cfg := config.LoadConfig()

	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)

	factory := &Factory{
		config: cfg,
		closed: make(chan struct{}),
	}

	if err := factory.initializeClients(); err != nil {
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}

	secret, err := license.LoadSigningSecret(context.Background(), cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load signing secret: %w", err)
	}
	factory.signingSecret = secret

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.Bool("kafka_enabled", cfg.Kafka.Enabled),
		util.Bool("clickhouse_enabled", cfg.Clickhouse.Enabled),
		util.Bool("elasticsearch_enabled", cfg.Elastic.Enabled),
		util.Bool("kms_enabled", cfg.KMS.Enabled),
	)

	return factory, nil
}

// initializeClients brings up the external service clients with health
// checks. Redis and Scylla are mandatory; Kafka, ClickHouse, and
// Elasticsearch are optional per config.
func (f *Factory) initializeClients() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var initErrors []error

	if redisClient, err := client.NewRedisClient(f.config, util.Get()); err != nil {
		initErrors = append(initErrors, fmt.Errorf("redis: %w", err))
	} else {
		f.redisClient = redisClient
		if err := f.redisClient.HealthCheck(ctx); err != nil {
			initErrors = append(initErrors, fmt.Errorf("redis health check: %w", err))
		} else {
			util.Info("Redis client initialized and healthy")
		}
	}

	if scyllaClient, err := scylla.NewScyllaClient(f.config, util.Get()); err != nil {
		initErrors = append(initErrors, fmt.Errorf("scylla: %w", err))
	} else {
		f.scyllaClient = scyllaClient
		if err := f.scyllaClient.HealthCheck(ctx); err != nil {
			initErrors = append(initErrors, fmt.Errorf("scylla health check: %w", err))
		} else {
			util.Info("ScyllaDB client initialized and healthy")
		}
	}

	if f.config.Kafka.Enabled {
		if producer, err := client.NewKafkaProducer(f.config, util.Get()); err != nil {
			util.Warn("Kafka producer initialization failed - proceeding without Kafka", util.ErrorField(err))
		} else {
			f.kafkaProducer = producer
			util.Info("Kafka producer initialized")
		}
	}

	if f.config.Elastic.Enabled {
		if esClient, err := client.NewElasticsearchClient(f.config, util.Get()); err != nil {
			util.Warn("Elasticsearch initialization failed - license search disabled", util.ErrorField(err))
		} else {
			f.esClient = esClient
			util.Info("Elasticsearch client initialized and healthy")
		}
	}

	if f.config.Clickhouse.Enabled {
		if chClient, err := client.NewClickHouseClient(f.config, util.Get()); err != nil {
			util.Warn("ClickHouse initialization failed - audit log disabled", util.ErrorField(err))
		} else {
			f.clickhouseClient = chClient
			if err := f.clickhouseClient.HealthCheck(ctx); err != nil {
				util.Warn("ClickHouse health check failed", util.ErrorField(err))
			} else {
				util.Info("ClickHouse client initialized and healthy")
			}
		}
	}

	if len(initErrors) > 0 {
		if f.config.IsProduction() {
			return fmt.Errorf("critical service initialization failed: %v", initErrors)
		}
		for _, err := range initErrors {
			util.Warn("Service initialization warning", util.ErrorField(err))
		}
	}

	return nil
}

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) RedisClient() *client.RedisClient {
	return f.redisClient
}

func (f *Factory) ScyllaClient() *scylla.ScyllaClient {
	return f.scyllaClient
}

func (f *Factory) LicenseRepository() scylla.LicenseRepository {
	if f.licenseRepository == nil {
		f.licenseRepository = scylla.NewLicenseRepository(f.ScyllaClient(), util.Get())
	}
	return f.licenseRepository
}

func (f *Factory) ActivationRepository() scylla.ActivationRepository {
	if f.activationRepository == nil {
		f.activationRepository = scylla.NewActivationRepository(f.ScyllaClient(), util.Get())
	}
	return f.activationRepository
}

func (f *Factory) UserRepository() scylla.UserRepository {
	if f.userRepository == nil {
		f.userRepository = scylla.NewUserRepository(f.ScyllaClient(), util.Get())
	}
	return f.userRepository
}

func (f *Factory) Generator() *license.Generator {
	if f.generator == nil {
		f.generator = license.NewGenerator(f.signingSecret, f.LicenseRepository(), f.config.License.MaxKeyRetries)
	}
	return f.generator
}

func (f *Factory) Validator() *license.Validator {
	if f.validator == nil {
		f.validator = license.NewValidator(f.signingSecret, f.LicenseRepository())
	}
	return f.validator
}

func (f *Factory) Bus() *events.Bus {
	if f.bus == nil {
		var producer events.Producer
		if f.kafkaProducer != nil {
			producer = f.kafkaProducer
		}
		f.bus = events.NewBus(f.redisClient, producer)
	}
	return f.bus
}

// AuditSink returns the ClickHouse audit pipeline, or nil when ClickHouse
// is disabled.
func (f *Factory) AuditSink() *events.AuditSink {
	if f.auditSink == nil && f.clickhouseClient != nil {
		f.auditSink = events.NewAuditSink(f.clickhouseClient, f.Bus())
	}
	return f.auditSink
}

func (f *Factory) ResponseCache() *cache.Cache {
	if f.responseCache == nil {
		f.responseCache = cache.New(f.redisClient, f.config.Cache.DefaultTTL)
	}
	return f.responseCache
}

func (f *Factory) Invalidator() *cache.Invalidator {
	if f.invalidator == nil {
		f.invalidator = cache.NewInvalidator(f.redisClient)
	}
	return f.invalidator
}

func (f *Factory) SessionManager() *session.Manager {
	if f.sessionManager == nil {
		f.sessionManager = session.NewManager(f.redisClient, f.config.Session.TTL)
	}
	return f.sessionManager
}

// SearchService returns the license search index, or nil when
// Elasticsearch is disabled.
func (f *Factory) SearchService() *service.SearchService {
	if f.searchService == nil && f.esClient != nil {
		f.searchService = service.NewSearchService(f.esClient, f.config.Elastic.Index)
	}
	return f.searchService
}

func (f *Factory) LicenseService() *service.LicenseService {
	if f.licenseService == nil {
		var indexer service.Indexer
		if search := f.SearchService(); search != nil {
			indexer = search
		}
		f.licenseService = service.NewLicenseService(
			f.LicenseRepository(),
			f.ActivationRepository(),
			f.UserRepository(),
			f.Generator(),
			f.Validator(),
			f.Bus(),
			f.Invalidator(),
			indexer,
		)
	}
	return f.licenseService
}

func (f *Factory) UserService() *service.UserService {
	if f.userService == nil {
		f.userService = service.NewUserService(f.UserRepository(), f.SessionManager(), f.Bus())
	}
	return f.userService
}

func (f *Factory) GlobalLimiter() *ratelimit.Limiter {
	return ratelimit.NewLimiter(f.redisClient, "global", f.config.RateLimit.GlobalLimit, f.config.RateLimit.GlobalWindow)
}

func (f *Factory) AuthLimiter() *ratelimit.Limiter {
	return ratelimit.NewLimiter(f.redisClient, "auth", f.config.RateLimit.AuthLimit, f.config.RateLimit.AuthWindow)
}

func (f *Factory) LicenseLimiter() *ratelimit.Limiter {
	return ratelimit.NewLimiter(f.redisClient, "license", f.config.RateLimit.LicenseLimit, f.config.RateLimit.LicenseWindow)
}

// Router assembles the full HTTP surface.
func (f *Factory) Router() chi.Router {
	licenseHandler := handler.NewLicenseHandler(f.LicenseService(), f.SearchService(), util.Get())
	userHandler := handler.NewUserHandler(f.UserService(), util.Get())

	return handler.NewRouter(handler.RouterDeps{
		LicenseHandler: licenseHandler,
		UserHandler:    userHandler,
		ResponseCache: middleware.NewResponseCache(f.ResponseCache(), f.config.Cache.DefaultTTL).
			WithRouteTTL("/api/v1/licenses", 30*time.Second).
			WithRouteTTL("/api/v1/licenses/search", 2*time.Minute),
		GlobalLimiter:  f.GlobalLimiter(),
		AuthLimiter:    f.AuthLimiter(),
		LicenseLimiter: f.LicenseLimiter(),
		Logger:         util.Get(),
	})
}

// HealthCheck pings every initialized backend.
func (f *Factory) HealthCheck(ctx context.Context) map[string]error {
	healthErrors := make(map[string]error)

	if f.redisClient != nil {
		if err := f.redisClient.HealthCheck(ctx); err != nil {
			healthErrors["redis"] = err
		}
	} else {
		healthErrors["redis"] = fmt.Errorf("redis client not initialized")
	}

	if f.scyllaClient != nil {
		if err := f.scyllaClient.HealthCheck(ctx); err != nil {
			healthErrors["scylla"] = err
		}
	} else {
		healthErrors["scylla"] = fmt.Errorf("scylla client not initialized")
	}

	if f.esClient != nil {
		if err := f.esClient.HealthCheck(); err != nil {
			healthErrors["elasticsearch"] = err
		}
	}

	if f.clickhouseClient != nil {
		if err := f.clickhouseClient.HealthCheck(ctx); err != nil {
			healthErrors["clickhouse"] = err
		}
	}

	if f.kafkaProducer != nil {
		if err := f.kafkaProducer.HealthCheck(ctx); err != nil {
			healthErrors["kafka"] = err
		}
	}

	return healthErrors
}

func (f *Factory) IsHealthy(ctx context.Context) bool {
	healthErrors := f.HealthCheck(ctx)
	delete(healthErrors, "kafka")
	return len(healthErrors) == 0
}

// Close shuts everything down in reverse dependency order.
func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		close(f.closed)
		util.Info("Shutting down factory...")

		if f.auditSink != nil {
			f.auditSink.Stop()
			util.Info("Audit sink flushed and stopped")
		}

		if f.clickhouseClient != nil {
			if err := f.clickhouseClient.Close(); err != nil {
				util.Error("Failed to close ClickHouse client", util.ErrorField(err))
			} else {
				util.Info("ClickHouse client closed")
			}
		}

		if f.esClient != nil {
			f.esClient.Close()
			util.Info("Elasticsearch client closed")
		}

		if f.kafkaProducer != nil {
			if err := f.kafkaProducer.Close(); err != nil {
				util.Error("Failed to close Kafka producer", util.ErrorField(err))
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
				util.Error("Failed to close Redis client", util.ErrorField(err))
			} else {
				util.Info("Redis client closed")
			}
		}

		util.Sync()
	})

	return nil
}

func (f *Factory) WaitForClose() {
	<-f.closed
}
