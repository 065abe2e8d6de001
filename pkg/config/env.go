package config

const (
	EnvPrefix = "PACKFINDERZ"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv   = "PACKFINDERZ_APP_ENV"
	EnvPort     = "PACKFINDERZ_APP_PORT"
	EnvLogLevel = "PACKFINDERZ_LOG_LEVEL"

	EnvDBDSN  = "PACKFINDERZ_DB_DSN"
	EnvDBHost = "PACKFINDERZ_DB_HOST"
	EnvDBUser = "PACKFINDERZ_DB_USER"
	EnvDBName = "PACKFINDERZ_DB_NAME"

	EnvDBTxMaxAttempts = "PACKFINDERZ_DB_TX_MAX_ATTEMPTS"

	EnvRedisURL = "PACKFINDERZ_REDIS_URL"

	EnvJWTSecret = "PACKFINDERZ_JWT_SECRET"
	EnvJWTIssuer = "PACKFINDERZ_JWT_ISSUER"

	EnvStripeAPIKey = "PACKFINDERZ_STRIPE_API_KEY"
	EnvStripeSecret = "PACKFINDERZ_STRIPE_SECRET"

	EnvSettlementHoldDays        = "PACKFINDERZ_SETTLEMENT_HOLD_DAYS"
	EnvSettlementPlatformFeeRate = "PACKFINDERZ_SETTLEMENT_PLATFORM_FEE_RATE"

	EnvPubSubSettlementTopic = "PACKFINDERZ_PUBSUB_SETTLEMENT_TOPIC"
	EnvCronTick              = "PACKFINDERZ_CRON_TICK"
)
