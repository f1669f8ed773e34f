package config

import "github.com/dmitrijs2005/vitaltags/internal/flagx"

// parseEnv overlays environment variables. Secrets are only ever read here.
func parseEnv(config *Config) {
	flagx.EnvString(&config.KEKHex, "KEK_HEX")
	flagx.EnvString(&config.PIISaltHex, "PII_SALT_HEX")
	flagx.EnvString(&config.TokenKeyHex, "TOKEN_KEY_HEX")
	flagx.EnvString(&config.SecretKey, "JWT_SECRET")

	flagx.EnvString(&config.EndpointAddrHTTP, "HTTP_ADDR")
	flagx.EnvString(&config.EndpointAddrGRPC, "GRPC_ADDR")
	flagx.EnvString(&config.Storage, "STORAGE")
	flagx.EnvString(&config.DatabaseDSN, "DATABASE_URL")
	flagx.EnvString(&config.LogLevel, "LOG_LEVEL")

	flagx.EnvDuration(&config.BreakGlassTTL, "BREAK_GLASS_TTL")
	flagx.EnvBool(&config.SingleUseTokens, "SINGLE_USE_TOKENS")
	flagx.EnvString(&config.NFCPolicy, "NFC_POLICY")
	flagx.EnvString(&config.RateLimitBackend, "RATE_LIMIT_BACKEND")
	flagx.EnvString(&config.RateLimitDir, "RATE_LIMIT_DIR")

	flagx.EnvString(&config.NotifyEmailWebhook, "NOTIFY_EMAIL_WEBHOOK")
	flagx.EnvString(&config.NotifySMSWebhook, "NOTIFY_SMS_WEBHOOK")

	flagx.EnvString(&config.S3RootUser, "S3_ACCESS_KEY")
	flagx.EnvString(&config.S3RootPassword, "S3_SECRET_KEY")
	flagx.EnvString(&config.S3Bucket, "S3_BUCKET")
	flagx.EnvString(&config.S3Region, "S3_REGION")
	flagx.EnvString(&config.S3BaseEndpoint, "S3_ENDPOINT")
}
