package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"

	"github.com/gin-gonic/gin"

	"brokercrm-backend/internal/audit"
	"brokercrm-backend/internal/chat"
	"brokercrm-backend/internal/features"
	"brokercrm-backend/internal/llm"
	openai "brokercrm-backend/internal/llm/openai"
	"brokercrm-backend/internal/mailer"
	"brokercrm-backend/internal/notifications"
	"brokercrm-backend/internal/passwords"
	"brokercrm-backend/internal/queue"
	"brokercrm-backend/internal/scanbatches"
	"brokercrm-backend/internal/services/health"
	"brokercrm-backend/internal/shared/auth"
	"brokercrm-backend/internal/shared/config"
	"brokercrm-backend/internal/shared/resilience"
	"brokercrm-backend/internal/shared/server"
	"brokercrm-backend/internal/shared/server/middleware"
	"brokercrm-backend/internal/shared/storage/db"
	"brokercrm-backend/internal/shared/storage/object"
	localstore "brokercrm-backend/internal/shared/storage/object/local"
	s3store "brokercrm-backend/internal/shared/storage/object/s3"
	"brokercrm-backend/internal/tenants"
	"brokercrm-backend/internal/uploads"
	"brokercrm-backend/internal/usage"
)

// LLMClient is the gateway surface used by classification and chat.
type LLMClient interface {
	llm.Classifier
	llm.Chatter
}

// App holds shared dependencies and the assembled router.
type App struct {
	Config      config.Config
	Router      *gin.Engine
	DB          *sql.DB
	Store       object.Store
	Queue       queue.Client
	LLM         LLMClient
	Mailer      mailer.Sender
	Gate        *features.Gate
	Usage       *usage.Service
	ScanBatches *scanbatches.Service
	Tenants     *tenants.Service
	Chat        *chat.Service
	Passwords   *passwords.Checker

	notifications notifications.Repository
	closers       []func()
}

// Build prepares every dependency and the HTTP router.
func Build(cfg config.Config) (*App, error) {
	ctx := context.Background()

	sqlDB, err := buildDB(ctx, cfg)
	if err != nil {
		return nil, err
	}
	store, err := buildStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	app := &App{Config: cfg, DB: sqlDB, Store: store}

	queueClient, closeQueue, err := buildQueue(ctx, cfg)
	if err != nil {
		return nil, err
	}
	app.Queue = queueClient
	if closeQueue != nil {
		app.closers = append(app.closers, closeQueue)
	}

	if app.LLM, err = buildLLM(cfg); err != nil {
		return nil, err
	}
	if app.Mailer, err = buildMailer(cfg); err != nil {
		return nil, err
	}
	if err := buildServices(app); err != nil {
		return nil, err
	}

	verifier, err := auth.KeyringFromEnv()
	if err != nil {
		return nil, err
	}
	app.Router = server.NewRouter(buildRouterDeps(app, verifier))
	return app, nil
}

// Close releases queue connections.
func (a *App) Close() {
	for _, fn := range a.closers {
		fn()
	}
}

func buildDB(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		if cfg.IsDevLike() {
			log.Printf("bootstrap: DATABASE_URL empty; using in-memory repositories")
			return nil, nil
		}
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	var (
		sqlDB *sql.DB
		err   error
	)
	if db.IsLambdaRuntime() {
		sqlDB, err = db.GetSingleton(ctx, cfg.DatabaseURL, db.OptionsFromEnv(db.DefaultLambdaOptions()))
	} else {
		sqlDB, err = db.Connect(ctx, cfg.DatabaseURL, db.OptionsFromEnv(db.DefaultServerOptions()))
	}
	if err != nil {
		if cfg.IsDevLike() {
			log.Printf("bootstrap: database connect failed; using in-memory repositories: %v", err)
			return nil, nil
		}
		return nil, err
	}
	return sqlDB, nil
}

func buildStore(ctx context.Context, cfg config.Config) (object.Store, error) {
	switch cfg.ObjectStoreType {
	case "s3":
		return s3store.New(ctx, s3store.Config{
			Region: cfg.AWSRegion,
			Buckets: map[string]string{
				object.BucketDocuments:   cfg.DocumentsBucket,
				object.BucketTenantLogos: cfg.TenantLogosBucket,
			},
			Prefix:   cfg.S3Prefix,
			KMSKeyID: cfg.SSEKMSKeyID,
		})
	default:
		return localstore.New(cfg.LocalStoreDir), nil
	}
}

func buildQueue(ctx context.Context, cfg config.Config) (queue.Client, func(), error) {
	switch cfg.QueueBackend {
	case "sqs":
		if strings.TrimSpace(cfg.SQSQueueURL) == "" {
			return nil, nil, fmt.Errorf("QUEUE_BACKEND=sqs requires SQS_QUEUE_URL")
		}
		c, err := queue.NewSQSClient(ctx, cfg.AWSRegion, cfg.SQSQueueURL)
		return c, nil, err
	case "nats":
		conn, err := queue.Connect(cfg.NATSURL, "brokercrm-api")
		if err != nil {
			return nil, nil, err
		}
		return queue.NewNATSClient(conn, cfg.NATSSubject), conn.Close, nil
	default:
		return nil, nil, nil
	}
}

func buildLLM(cfg config.Config) (LLMClient, error) {
	if cfg.LLMProvider != "gateway" || strings.TrimSpace(cfg.LLMAPIKey) == "" {
		if !cfg.IsDevLike() {
			log.Printf("bootstrap: LLM gateway not configured; AI functions will fail")
		}
		return llm.PlaceholderClient{}, nil
	}
	return openai.NewClient(openai.Config{
		APIKey:            cfg.LLMAPIKey,
		BaseURL:           cfg.LLMBaseURL,
		Model:             cfg.LLMModel,
		RequestsPerMinute: cfg.LLMRequestsPerMinute,
	})
}

func buildMailer(cfg config.Config) (mailer.Sender, error) {
	if cfg.EmailProvider != "resend" {
		return mailer.LogSender{}, nil
	}
	return mailer.NewResendSender(mailer.ResendConfig{
		APIKey:   cfg.EmailAPIKey,
		From:     cfg.EmailFrom,
		BaseURL:  cfg.EmailBaseURL,
		Executor: resilience.NewExecutor(resilience.DefaultConfig()),
	})
}

func buildServices(app *App) error {
	plans, err := features.LoadStaticPlans()
	if err != nil {
		return err
	}

	var (
		featureStore features.Store
		scanRepo     scanbatches.Repository
		tenantRepo   tenants.Repository
		notifRepo    notifications.Repository
		chatRepo     chat.Repository
		auditWriter  audit.Writer
		usageSvc     *usage.Service
	)
	if app.DB != nil {
		featureStore = &features.PGStore{DB: app.DB}
		scanRepo = scanbatches.NewPGRepo(app.DB)
		tenantRepo = tenants.NewPGRepo(app.DB)
		notifRepo = notifications.NewPGRepo(app.DB)
		chatRepo = chat.NewPGRepo(app.DB)
		auditWriter = audit.PGWriter{DB: app.DB}
		usageSvc = usage.NewPostgresService(usage.NewPGStore(app.DB))
	} else {
		featureStore = features.NewMemoryStore()
		scanRepo = scanbatches.NewMemoryRepo()
		memTenants := tenants.NewMemoryRepo()
		tenantRepo = memTenants
		notifRepo = memTenants.Notifications
		chatRepo = chat.NewMemoryRepo()
		auditWriter = memTenants.Audit
		usageSvc = usage.NewService()
	}

	app.Gate = features.NewGate(featureStore, plans, app.Config.PlanCacheTTL)
	app.Usage = usageSvc
	app.ScanBatches = &scanbatches.Service{
		Repo:       scanRepo,
		Store:      app.Store,
		Classifier: app.LLM,
		Queue:      app.Queue,
		Usage:      usageSvc,
	}
	app.Tenants = &tenants.Service{
		Repo:       tenantRepo,
		Mailer:     app.Mailer,
		Audit:      auditWriter,
		Store:      app.Store,
		Usage:      usageSvc,
		AppBaseURL: app.Config.AppBaseURL,
	}
	app.Chat = &chat.Service{
		Repo:    chatRepo,
		Chatter: app.LLM,
		Usage:   usageSvc,
		Modules: app.Gate,
	}
	app.Passwords = &passwords.Checker{
		Ranges: passwords.NewRangeClient(passwords.RangeConfig{BaseURL: app.Config.PwnedBaseURL}),
	}
	app.notifications = notifRepo
	return nil
}

func buildRouterDeps(app *App, verifier middleware.TokenVerifier) server.RouterDeps {
	deps := server.RouterDeps{
		Config:               app.Config,
		Verifier:             verifier,
		Gate:                 app.Gate,
		Health:               health.NewService(app.DB),
		FeaturesHandler:      features.NewHandler(app.Gate),
		ScanBatchesHandler:   scanbatches.NewHandler(app.ScanBatches),
		TenantsHandler:       tenants.NewHandler(app.Tenants),
		ChatHandler:          chat.NewHandler(app.Chat),
		PasswordsHandler:     passwords.NewHandler(app.Passwords),
		NotificationsHandler: notifications.NewHandler(app.notifications),
		UsageHandler:         usage.NewHandler(app.Usage),
	}
	if p, ok := app.Store.(object.Presigner); ok {
		deps.UploadsHandler = uploads.NewHandler(p)
	} else {
		log.Printf("bootstrap: object store %q cannot presign; upload presign route disabled", app.Config.ObjectStoreType)
	}
	return deps
}
