package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	calendarApp "github.com/felixgeelhaar/blade/internal/calendar/application"
	googleCalendar "github.com/felixgeelhaar/blade/internal/calendar/infrastructure/google"
	identityOAuth "github.com/felixgeelhaar/blade/internal/identity/application/oauth"
	identityUsers "github.com/felixgeelhaar/blade/internal/identity/application/users"
	identityRedis "github.com/felixgeelhaar/blade/internal/identity/infrastructure/redis"
	sharedCrypto "github.com/felixgeelhaar/blade/internal/shared/infrastructure/crypto"
	"github.com/felixgeelhaar/blade/internal/shared/infrastructure/database"
	"github.com/felixgeelhaar/blade/internal/shared/infrastructure/database/mongodb"
	_ "github.com/felixgeelhaar/blade/internal/shared/infrastructure/database/postgres" // Register PostgreSQL driver
	_ "github.com/felixgeelhaar/blade/internal/shared/infrastructure/database/sqlite"   // Register SQLite driver
	"github.com/felixgeelhaar/blade/internal/shared/infrastructure/eventbus"
	"github.com/felixgeelhaar/blade/internal/shared/infrastructure/metrics"
	"github.com/felixgeelhaar/blade/internal/shared/infrastructure/migrations"
	"github.com/felixgeelhaar/blade/internal/shared/infrastructure/outbox"
	"github.com/felixgeelhaar/blade/pkg/config"
	"github.com/felixgeelhaar/blade/pkg/observability"
	"github.com/redis/go-redis/v9"
)

// ErrCalendarDisabled is returned by accessors when no calendar credential
// mode is configured.
var ErrCalendarDisabled = errors.New("calendar sync is not configured")

const healthTimeout = 5 * time.Second

// Container holds all application dependencies.
type Container struct {
	Config  *config.Config
	Logger  *slog.Logger
	Metrics *metrics.Metrics

	// Storage. Exactly one of DBConn and Mongo is set.
	DBConn   database.Connection
	Mongo    *mongodb.Store
	DBDriver database.Driver

	// Redis holds OAuth states when configured.
	RedisClient *redis.Client

	Repos *Repositories

	// AppliedMigrations lists the migrations applied while opening the store.
	AppliedMigrations []string

	// Credentials. OAuth is nil in service-account mode; Broker is nil when
	// neither mode is configured.
	OAuth  *identityOAuth.Service
	Broker calendarApp.CredentialBroker

	Calendar     *googleCalendar.Client
	ProviderPool *calendarApp.ProviderPool

	// Services
	Reconciler        *calendarApp.Reconciler
	Orchestrator      *calendarApp.Orchestrator
	BusyService       *calendarApp.BusyService
	DisconnectService *calendarApp.DisconnectService
	UserService       *identityUsers.Service

	// Outbox relay
	EventPublisher  eventbus.Publisher
	OutboxProcessor *outbox.Processor

	Health *observability.HealthRegistry
}

// NewContainer creates and wires all application dependencies.
func NewContainer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Container, error) {
	if logger == nil {
		logger = slog.Default()
	}

	c := &Container{
		Config:  cfg,
		Logger:  logger,
		Metrics: metrics.New(),
		Health:  observability.NewHealthRegistry(healthTimeout),
	}

	factory, err := c.openStorage(ctx)
	if err != nil {
		return nil, err
	}

	c.Repos, err = factory.Build()
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to build repositories: %w", err)
	}

	if err := c.connectRedis(ctx); err != nil {
		c.Close()
		return nil, err
	}

	if err := c.initCredentials(); err != nil {
		c.Close()
		return nil, err
	}

	c.initServices()
	c.initOutbox()

	logger.Info("container ready",
		"driver", c.DBDriver,
		"credential_mode", cfg.CalendarCredentialMode,
		"calendar_enabled", c.Broker != nil,
	)
	return c, nil
}

// openStorage connects to the configured backend and prepares its schema.
func (c *Container) openStorage(ctx context.Context) (*RepositoryFactory, error) {
	cfg := c.Config
	driver := database.Driver(cfg.DatabaseDriver)
	c.DBDriver = driver

	if driver == database.DriverMongo {
		store, err := mongodb.Connect(ctx, cfg.MongoConnectionURI(), cfg.MongoDBName)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
		}
		c.Mongo = store
		if err := store.EnsureIndexes(ctx); err != nil {
			c.Close()
			return nil, fmt.Errorf("failed to create MongoDB indexes: %w", err)
		}
		c.Health.Register("mongo", observability.PingChecker("mongo", true, store.Ping))
		c.Logger.Info("connected to MongoDB", "database", cfg.MongoDBName)
		return NewMongoRepositoryFactory(store), nil
	}

	conn, err := database.NewConnection(ctx, database.Config{
		Driver:     driver,
		URL:        cfg.DatabaseURL,
		SQLitePath: cfg.SQLitePath,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	c.DBConn = conn

	applied, err := migrations.Run(ctx, conn, c.Logger)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	if len(applied) > 0 {
		c.Logger.Info("applied migrations", "count", len(applied))
	}
	c.AppliedMigrations = applied

	c.Health.Register("database", observability.PingChecker("database", true, conn.Ping))
	c.Logger.Info("connected to database", "driver", driver)
	return NewRepositoryFactory(conn), nil
}

// connectRedis swaps the state store for Redis when REDIS_URL is set. An
// unreachable Redis is fatal outside development.
func (c *Container) connectRedis(ctx context.Context) error {
	if c.Config.RedisURL == "" {
		return nil
	}

	opt, err := redis.ParseURL(c.Config.RedisURL)
	if err != nil {
		if !c.Config.IsDevelopment() {
			return fmt.Errorf("failed to parse Redis URL: %w", err)
		}
		c.Logger.Warn("invalid Redis URL, keeping OAuth states in the database", "error", err)
		return nil
	}

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		if !c.Config.IsDevelopment() {
			return fmt.Errorf("failed to connect to Redis: %w", err)
		}
		c.Logger.Warn("Redis not available, keeping OAuth states in the database", "error", err)
		return nil
	}

	c.RedisClient = client
	c.Repos.States = identityRedis.NewStateStore(client)
	c.Health.Register("redis", observability.PingChecker("redis", false, func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}))
	c.Logger.Info("connected to Redis")
	return nil
}

// initCredentials builds the credential broker for the configured mode.
func (c *Container) initCredentials() error {
	cfg := c.Config
	httpClient := &http.Client{Timeout: cfg.CalendarHTTPTimeout}
	scopes := identityOAuth.ScopesFromEnv(cfg.OAuthScopes)

	switch cfg.CalendarCredentialMode {
	case config.CredentialModeServiceAccount:
		delegated, err := identityOAuth.NewDelegatedService(cfg.GoogleServiceAccountFile, scopes, "", httpClient)
		if err != nil {
			return fmt.Errorf("failed to load service account: %w", err)
		}
		c.Broker = delegated
		c.Logger.Info("calendar uses domain-wide delegation")
		return nil

	default:
		if !cfg.OAuthEnabled() {
			c.Logger.Warn("OAuth client not configured, calendar sync disabled")
			return nil
		}
		encrypter, err := sharedCrypto.NewAESGCMFromBase64Key(cfg.EncryptionKey)
		if err != nil {
			return fmt.Errorf("failed to load encryption key: %w", err)
		}
		svc, err := identityOAuth.NewService(identityOAuth.Config{
			ClientID:     cfg.OAuthClientID,
			ClientSecret: cfg.OAuthClientSecret,
			AuthURL:      cfg.OAuthAuthURL,
			TokenURL:     cfg.OAuthTokenURL,
			RedirectURL:  cfg.OAuthRedirectURL,
			RevokeURL:    cfg.OAuthRevokeURL,
			Scopes:       scopes,
			StateTTL:     cfg.OAuthStateTTL,
			HTTPClient:   httpClient,
		}, c.Repos.Credentials, c.Repos.States, encrypter,
			identityOAuth.WithOutbox(c.Repos.Outbox, c.Repos.UnitOfWork),
			identityOAuth.WithMetrics(c.Metrics),
			identityOAuth.WithLogger(c.Logger),
		)
		if err != nil {
			return fmt.Errorf("failed to create OAuth service: %w", err)
		}
		c.OAuth = svc
		c.Broker = svc
		return nil
	}
}

// initServices wires the application services.
func (c *Container) initServices() {
	cfg := c.Config
	repos := c.Repos

	c.UserService = identityUsers.NewService(repos.Users, repos.Outbox, repos.UnitOfWork, c.Logger)
	c.BusyService = calendarApp.NewBusyService(repos.Users, repos.BusyBlocks, c.Logger)
	c.Reconciler = calendarApp.NewReconciler(repos.BusyBlocks, repos.Outbox, repos.UnitOfWork, c.Logger)

	if c.Broker == nil {
		return
	}

	clientCfg := googleCalendar.DefaultClientConfig()
	clientCfg.BaseURL = cfg.CalendarAPIURL
	clientCfg.HTTPTimeout = cfg.CalendarHTTPTimeout
	c.Calendar = googleCalendar.NewClient(clientCfg, c.Metrics, c.Logger)
	c.ProviderPool = calendarApp.NewProviderPool(cfg.ProviderPoolSize, c.Logger)

	c.Orchestrator = calendarApp.NewOrchestrator(calendarApp.OrchestratorDeps{
		Users:      repos.Users,
		Broker:     c.Broker,
		Calendar:   c.Calendar,
		Pool:       c.ProviderPool,
		Reconciler: c.Reconciler,
		Events:     repos.Events,
		Outbox:     repos.Outbox,
		Metrics:    c.Metrics,
		Logger:     c.Logger,
	}, calendarApp.SyncConfig{
		CalendarID:    cfg.CalendarID,
		LookAheadDays: cfg.CalendarLookAheadDays,
	})

	if c.OAuth != nil {
		c.DisconnectService = calendarApp.NewDisconnectService(
			repos.Users, c.OAuth, repos.BusyBlocks, repos.Outbox, repos.UnitOfWork, c.Logger,
		)
	}
}

// initOutbox builds the relay that cmd/worker starts.
func (c *Container) initOutbox() {
	cfg := c.Config

	if cfg.RabbitMQURL != "" {
		publisher, err := eventbus.NewRabbitMQPublisher(cfg.RabbitMQURL, c.Logger)
		if err != nil {
			c.Logger.Warn("RabbitMQ not available, using noop publisher", "error", err)
			c.EventPublisher = eventbus.NewNoopPublisher(c.Logger)
		} else {
			c.EventPublisher = publisher
		}
	} else {
		// Fall back to noop publisher in development
		c.EventPublisher = eventbus.NewNoopPublisher(c.Logger)
	}

	procCfg := outbox.DefaultProcessorConfig()
	procCfg.PollInterval = cfg.OutboxPollInterval
	procCfg.BatchSize = cfg.OutboxBatchSize
	procCfg.MaxRetries = cfg.OutboxMaxRetries
	if cfg.OutboxRetentionDays > 0 {
		procCfg.Retention = time.Duration(cfg.OutboxRetentionDays) * 24 * time.Hour
	}
	if cfg.OutboxCleanupInterval > 0 {
		procCfg.CleanupInterval = cfg.OutboxCleanupInterval
	}
	c.OutboxProcessor = outbox.NewProcessor(c.Repos.Outbox, c.EventPublisher, procCfg, c.Metrics, c.Logger)
}

// Migrate brings the schema up to date and returns every migration applied
// by this container, including those applied on startup. On Mongo it
// re-creates the indexes.
func (c *Container) Migrate(ctx context.Context) ([]string, error) {
	if c.Mongo != nil {
		if err := c.Mongo.EnsureIndexes(ctx); err != nil {
			return nil, fmt.Errorf("failed to create MongoDB indexes: %w", err)
		}
		return nil, nil
	}
	ran, err := migrations.Run(ctx, c.DBConn, c.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	c.AppliedMigrations = append(c.AppliedMigrations, ran...)
	return c.AppliedMigrations, nil
}

// RequireOrchestrator returns the orchestrator or ErrCalendarDisabled.
func (c *Container) RequireOrchestrator() (*calendarApp.Orchestrator, error) {
	if c.Orchestrator == nil {
		return nil, ErrCalendarDisabled
	}
	return c.Orchestrator, nil
}

// RequireDisconnect returns the disconnect service or ErrCalendarDisabled.
func (c *Container) RequireDisconnect() (*calendarApp.DisconnectService, error) {
	if c.DisconnectService == nil {
		return nil, ErrCalendarDisabled
	}
	return c.DisconnectService, nil
}

// Close releases all resources.
func (c *Container) Close() {
	if c.OutboxProcessor != nil {
		c.OutboxProcessor.Stop()
	}
	if c.Orchestrator != nil {
		c.Orchestrator.Close()
	}
	if c.ProviderPool != nil {
		c.ProviderPool.Close()
	}
	if c.EventPublisher != nil {
		if err := c.EventPublisher.Close(); err != nil {
			c.Logger.Warn("error closing event publisher", "error", err)
		}
	}
	if c.RedisClient != nil {
		if err := c.RedisClient.Close(); err != nil {
			c.Logger.Warn("error closing Redis connection", "error", err)
		} else {
			c.Logger.Info("Redis connection closed")
		}
	}
	if c.Mongo != nil {
		ctx, cancel := context.WithTimeout(context.Background(), healthTimeout)
		defer cancel()
		if err := c.Mongo.Close(ctx); err != nil {
			c.Logger.Warn("error closing MongoDB connection", "error", err)
		}
	}
	if c.DBConn != nil {
		if err := c.DBConn.Close(); err != nil {
			c.Logger.Warn("error closing database connection", "error", err)
		} else {
			c.Logger.Info("database connection closed")
		}
	}
}
