package config

// EnvPrefix is empty because every field carries its full variable name.
const EnvPrefix = ""

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	BoldProductionURL = "https://api.bold.co/v1"
	BoldSandboxURL    = "https://sandbox.bold.co/v1"
)

const (
	EnvAppEnv   = "TP_APP_ENV"
	EnvPort     = "TP_APP_PORT"
	EnvLogLevel = "TP_LOG_LEVEL"

	EnvDBDSN  = "TP_DB_DSN"
	EnvDBHost = "TP_DB_HOST"
	EnvDBUser = "TP_DB_USER"
	EnvDBName = "TP_DB_NAME"

	EnvRedisURL = "TP_REDIS_URL"

	EnvJWTSecret = "TP_JWT_SECRET"
	EnvJWTIssuer = "TP_JWT_ISSUER"

	EnvBoldEnv           = "TP_BOLD_ENV"
	EnvBoldBaseURL       = "TP_BOLD_BASE_URL"
	EnvBoldWebhookSecret = "TP_BOLD_WEBHOOK_SECRET"

	EnvReconcileInterval    = "TP_RECONCILE_INTERVAL"
	EnvReconcileGraceWindow = "TP_RECONCILE_GRACE_WINDOW"
	EnvPaymentWindow        = "TP_PAYMENT_WINDOW"
	EnvReconcileLockTTL     = "TP_RECONCILE_LOCK_TTL"
)

var discreteDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
