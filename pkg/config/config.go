package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App            AppConfig
	Service        ServiceConfig
	DB             DBConfig
	Redis          RedisConfig
	JWT            JWTConfig
	FeatureFlags   FeatureFlagsConfig
	GCP            GCPConfig
	PubSub         PubSubConfig
	Outbox         OutboxConfig
	Bold           BoldConfig
	Reconciliation ReconciliationConfig
	Terminals      TerminalsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Reconciliation.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string   `envconfig:"TP_APP_ENV" required:"true"`
	Port         string   `envconfig:"TP_APP_PORT" required:"true"`
	LogLevel     string   `envconfig:"TP_LOG_LEVEL" default:"info"`
	LogWarnStack bool     `envconfig:"TP_LOG_WARN_STACK" default:"false"`
	CORSOrigins  []string `envconfig:"TP_CORS_ALLOWED_ORIGINS"`
	// MetricsPort exposes /metrics from background binaries. Empty disables
	// it; the API serves metrics on its own router.
	MetricsPort string `envconfig:"TP_METRICS_PORT"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd) || strings.EqualFold(a.Env, "production")
}

type ServiceConfig struct {
	Kind string `envconfig:"TP_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"TP_DB_DSN"`
	Driver string `envconfig:"TP_DB_DRIVER" default:"postgres"`

	Host     string `envconfig:"TP_DB_HOST"`
	Port     int    `envconfig:"TP_DB_PORT" default:"5432"`
	User     string `envconfig:"TP_DB_USER"`
	Password string `envconfig:"TP_DB_PASSWORD"`
	Name     string `envconfig:"TP_DB_NAME"`
	SSLMode  string `envconfig:"TP_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"TP_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"TP_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"TP_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"TP_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	SlowQueryThreshold time.Duration `envconfig:"TP_DB_SLOW_QUERY_THRESHOLD" default:"500ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"TP_REDIS_URL" required:"true"`
	Address      string        `envconfig:"TP_REDIS_ADDR"`
	Password     string        `envconfig:"TP_REDIS_PASSWORD"`
	DB           int           `envconfig:"TP_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"TP_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"TP_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"TP_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"TP_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"TP_REDIS_WRITE_TIMEOUT" default:"5s"`
	KeyPrefix    string        `envconfig:"TP_REDIS_KEY_PREFIX" default:"tp"`
}

type JWTConfig struct {
	Secret            string `envconfig:"TP_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"TP_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"TP_JWT_EXPIRATION_MINUTES" default:"720"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"TP_AUTO_MIGRATE" default:"false"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"TP_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"TP_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"TP_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	ChargesTopic        string `envconfig:"TP_PUBSUB_CHARGES_TOPIC" default:"tp-charge-events"`
	ChargesSubscription string `envconfig:"TP_PUBSUB_CHARGES_SUBSCRIPTION" default:"tp-charge-events-orders"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"TP_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"TP_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"TP_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

// BoldConfig holds the terminal gateway credentials.
type BoldConfig struct {
	Env           string        `envconfig:"TP_BOLD_ENV" default:"sandbox"`
	BaseURL       string        `envconfig:"TP_BOLD_BASE_URL"`
	ClientID      string        `envconfig:"TP_BOLD_CLIENT_ID"`
	ClientSecret  string        `envconfig:"TP_BOLD_CLIENT_SECRET"`
	WebhookSecret string        `envconfig:"TP_BOLD_WEBHOOK_SECRET"`
	Currency      string        `envconfig:"TP_BOLD_CURRENCY" default:"COP"`
	HTTPTimeout   time.Duration `envconfig:"TP_BOLD_HTTP_TIMEOUT" default:"30s"`
}

// Endpoint returns the API root for the configured environment.
func (b BoldConfig) Endpoint() string {
	if strings.TrimSpace(b.BaseURL) != "" {
		return strings.TrimRight(b.BaseURL, "/")
	}
	if strings.EqualFold(strings.TrimSpace(b.Env), "production") {
		return BoldProductionURL
	}
	return BoldSandboxURL
}

type ReconciliationConfig struct {
	Interval       time.Duration `envconfig:"TP_RECONCILE_INTERVAL" default:"30s"`
	GraceWindow    time.Duration `envconfig:"TP_RECONCILE_GRACE_WINDOW" default:"90s"`
	PaymentWindow  time.Duration `envconfig:"TP_PAYMENT_WINDOW" default:"2m"`
	PollTimeout    time.Duration `envconfig:"TP_RECONCILE_POLL_TIMEOUT" default:"10s"`
	BatchSize      int           `envconfig:"TP_RECONCILE_BATCH_SIZE" default:"100"`
	IdempotencyTTL time.Duration `envconfig:"TP_IDEMPOTENCY_TTL" default:"5m"`
	LockTTL        time.Duration `envconfig:"TP_RECONCILE_LOCK_TTL" default:"25s"`
}

func (r ReconciliationConfig) validate() error {
	if r.GraceWindow >= r.PaymentWindow {
		return fmt.Errorf("%s must be shorter than %s", EnvReconcileGraceWindow, EnvPaymentWindow)
	}
	if r.LockTTL > r.Interval {
		return fmt.Errorf("%s must not exceed %s", EnvReconcileLockTTL, EnvReconcileInterval)
	}
	return nil
}

type TerminalsConfig struct {
	AssignmentCacheTTL time.Duration `envconfig:"TP_TERMINAL_ASSIGNMENT_CACHE_TTL" default:"60s"`
	StatusCacheTTL     time.Duration `envconfig:"TP_TERMINAL_STATUS_CACHE_TTL" default:"30s"`
	AssignmentMaxAge   time.Duration `envconfig:"TP_TERMINAL_ASSIGNMENT_MAX_AGE" default:"24h"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	values := map[string]string{
		EnvDBHost: db.Host,
		EnvDBUser: db.User,
		EnvDBName: db.Name,
	}
	for _, env := range discreteDBEnvVars {
		if values[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.User)
	if db.Password != "" {
		userInfo = url.UserPassword(db.User, db.Password)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.Host, db.Port),
		Path:   db.Name,
	}

	if db.SSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.SSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
