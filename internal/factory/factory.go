// Package factory wires the application dependency graph from configuration:
// clients, store backend, delivery senders, managers, and the OTP service.
package factory

import (
	"context"
	"fmt"
	"sync"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"golang.org/x/sync/errgroup"

	"verify-service/internal/audit"
	"verify-service/internal/bucketing"
	"verify-service/internal/client"
	"verify-service/internal/config"
	"verify-service/internal/delivery"
	"verify-service/internal/encryption"
	"verify-service/internal/events"
	"verify-service/internal/handler"
	"verify-service/internal/otp"
	"verify-service/internal/service"
	"verify-service/internal/store"
	"verify-service/internal/tls"
	"verify-service/internal/util"
)

// Factory manages the lifecycle of all application dependencies.
type Factory struct {
	config     *config.Config
	tlsManager *tls.TLSManager

	redisClient      *client.RedisClient
	scyllaClient     *client.ScyllaClient
	kafkaProducer    *client.KafkaProducer
	clickhouseClient *client.ClickHouseClient

	encryptionManager *encryption.Manager
	bucketingManager  *bucketing.Manager
	publisher         *events.Publisher
	auditor           *audit.Recorder

	recordStore store.RecordStore
	dispatcher  *delivery.Dispatcher
	otpService  *service.OTPService
	otpHandler  *handler.OTPHandler

	sweepCancel context.CancelFunc
	closeOnce   sync.Once
	closed      chan struct{}
}

// NewFactory loads configuration and initializes the full dependency graph.
func NewFactory() (*Factory, error) {
	cfg := config.LoadConfig()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)

	f := &Factory{
		config: cfg,
		closed: make(chan struct{}),
	}

	if cfg.Server.EnableTLS {
		f.tlsManager = tls.NewTLSManager(&tls.TLSConfig{
			EnableTLS:   cfg.Server.EnableTLS,
			AutoCert:    cfg.Server.AutoCert,
			Domain:      cfg.Server.Domain,
			CertFile:    cfg.Server.CertFile,
			KeyFile:     cfg.Server.KeyFile,
			AutoCertDir: cfg.Server.AutoCertDir,
			Email:       cfg.Server.Email,
			Environment: cfg.Environment,
		})
	}

	if err := f.initializeClients(); err != nil {
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}

	if err := f.initializeManagers(); err != nil {
		return nil, fmt.Errorf("failed to initialize managers: %w", err)
	}

	if err := f.initializeService(); err != nil {
		return nil, fmt.Errorf("failed to initialize service: %w", err)
	}

	f.startSweeper()

	util.Info("Factory initialized",
		util.String("environment", cfg.Environment),
		util.String("store_backend", cfg.Store.Backend),
		util.Bool("tls_enabled", cfg.Server.EnableTLS),
		util.Bool("kafka_enabled", cfg.Kafka.Enabled),
		util.Bool("clickhouse_enabled", cfg.Clickhouse.Enabled),
		util.Bool("kms_enabled", cfg.KMS.Enabled),
	)

	return f, nil
}

// initializeClients builds only the clients the configuration calls for and
// health-checks them in parallel.
func (f *Factory) initializeClients() error {
	cfg := f.config

	if cfg.Store.Backend == "redis" {
		c, err := client.NewRedisClient(cfg, util.Get())
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		f.redisClient = c
	}

	if cfg.Store.Backend == "scylla" {
		c, err := client.NewScyllaClient(cfg, util.Get())
		if err != nil {
			return fmt.Errorf("scylla: %w", err)
		}
		f.scyllaClient = c
	}

	if cfg.Kafka.Enabled {
		p, err := client.NewKafkaProducer(cfg, util.Get())
		if err != nil {
			// Events are best effort even at startup.
			util.Warn("Kafka producer initialization failed - proceeding without events", util.ErrorField(err))
		} else {
			f.kafkaProducer = p
		}
	}

	if cfg.Clickhouse.Enabled {
		c, err := client.NewClickHouseClient(cfg, util.Get())
		if err != nil {
			if cfg.IsProduction() {
				return fmt.Errorf("clickhouse: %w", err)
			}
			util.Warn("ClickHouse initialization failed - proceeding without audit trail", util.ErrorField(err))
		} else {
			f.clickhouseClient = c
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	if f.redisClient != nil {
		g.Go(func() error {
			if err := f.redisClient.HealthCheck(gctx); err != nil {
				return fmt.Errorf("redis health check: %w", err)
			}
			return nil
		})
	}
	if f.scyllaClient != nil {
		g.Go(func() error {
			if err := f.scyllaClient.HealthCheck(); err != nil {
				return fmt.Errorf("scylla health check: %w", err)
			}
			return nil
		})
	}
	if f.clickhouseClient != nil {
		g.Go(func() error {
			if err := f.clickhouseClient.HealthCheck(gctx); err != nil {
				return fmt.Errorf("clickhouse health check: %w", err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		if f.config.IsProduction() {
			return err
		}
		util.Warn("health check warning", util.ErrorField(err))
	}

	return nil
}

func (f *Factory) initializeManagers() error {
	cfg := f.config

	var kmsClient *kms.Client
	if cfg.KMS.Enabled {
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
			awsconfig.WithRegion(cfg.KMS.Region))
		if err != nil {
			return fmt.Errorf("aws config: %w", err)
		}
		kmsClient = kms.NewFromConfig(awsCfg)
	}
	f.encryptionManager = encryption.NewManager(kmsClient, cfg.KMS.KeyID)

	f.bucketingManager = bucketing.NewManager()

	if f.kafkaProducer != nil {
		f.publisher = events.NewPublisher(f.kafkaProducer, f.bucketingManager, cfg.Kafka.Topic, util.Get())
	}
	if f.clickhouseClient != nil {
		f.auditor = audit.NewRecorder(f.clickhouseClient, f.bucketingManager, util.Get())
	}

	return nil
}

func (f *Factory) initializeService() error {
	cfg := f.config

	switch cfg.Store.Backend {
	case "redis":
		f.recordStore = store.NewRedisStore(f.redisClient)
	case "scylla":
		f.recordStore = store.NewScyllaStore(f.scyllaClient)
	default:
		f.recordStore = store.NewMemoryStore()
	}

	var emailSender, smsSender delivery.Sender
	if cfg.Email.Enabled {
		s, err := delivery.NewEmailSender(cfg.Email)
		if err != nil {
			return fmt.Errorf("email sender: %w", err)
		}
		emailSender = s
	}
	if cfg.SMS.Enabled {
		s, err := delivery.NewSMSSender(cfg.SMS)
		if err != nil {
			return fmt.Errorf("sms sender: %w", err)
		}
		smsSender = s
	}
	if emailSender == nil && smsSender == nil {
		util.Warn("no delivery channel enabled - every issue will fail delivery")
	}
	f.dispatcher = delivery.NewDispatcher(emailSender, smsSender, util.Get())

	f.otpService = service.NewOTPService(
		f.recordStore,
		otp.NewGenerator(cfg.OTP.CodeLength, cfg.OTP.StaticCode),
		otp.NewDigester(cfg.OTP.Pepper),
		f.dispatcher,
		f.encryptionManager,
		f.publisher,
		f.auditor,
		cfg.OTP.TTL,
		cfg.OTP.MaxAttempts,
		util.Get(),
	)
	f.otpHandler = handler.NewOTPHandler(f.otpService, util.Get())

	return nil
}

// startSweeper runs the periodic expiry sweep for backends without native
// TTL.
func (f *Factory) startSweeper() {
	sweeper, ok := f.recordStore.(store.Sweeper)
	if !ok || f.config.Store.SweepInterval <= 0 {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	f.sweepCancel = cancel

	go func() {
		ticker := time.NewTicker(f.config.Store.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				removed, err := sweeper.SweepExpired(ctx, time.Now().UTC())
				if err != nil {
					util.Warn("expiry sweep failed", util.ErrorField(err))
					continue
				}
				if removed > 0 {
					util.Debug("expiry sweep", util.Int("removed", removed))
				}
			}
		}
	}()
}

func (f *Factory) HealthCheck(ctx context.Context) map[string]error {
	healthErrors := make(map[string]error)

	if f.redisClient != nil {
		if err := f.redisClient.HealthCheck(ctx); err != nil {
			healthErrors["redis"] = err
		}
	}
	if f.scyllaClient != nil {
		if err := f.scyllaClient.HealthCheck(); err != nil {
			healthErrors["scylla"] = err
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
	// Events are best effort; a broker outage does not make the service
	// unhealthy.
	delete(healthErrors, "kafka")
	return len(healthErrors) == 0
}

func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		close(f.closed)
		util.Info("Shutting down factory...")

		if f.sweepCancel != nil {
			f.sweepCancel()
		}

		if f.auditor != nil {
			f.auditor.Close()
			util.Info("Audit recorder flushed and closed")
		}

		if f.clickhouseClient != nil {
			if err := f.clickhouseClient.Close(); err != nil {
				util.Error("Failed to close ClickHouse client", util.ErrorField(err))
			}
		}

		if f.kafkaProducer != nil {
			if err := f.kafkaProducer.Close(); err != nil {
				util.Error("Failed to close Kafka producer", util.ErrorField(err))
			}
		}

		if f.scyllaClient != nil {
			f.scyllaClient.Close()
		}

		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				util.Error("Failed to close Redis client", util.ErrorField(err))
			}
		}

		if f.encryptionManager != nil {
			f.encryptionManager.ClearCache()
		}

		util.Sync()
		util.Info("Factory shutdown completed")
	})

	return nil
}

func (f *Factory) WaitForClose() {
	<-f.closed
}

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) TLSManager() *tls.TLSManager {
	return f.tlsManager
}

func (f *Factory) OTPHandler() *handler.OTPHandler {
	return f.otpHandler
}

func (f *Factory) OTPService() *service.OTPService {
	return f.otpService
}
