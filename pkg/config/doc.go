// Package config loads and validates service configuration from METER_*
// environment variables with defaults for everything but the internal token.
//
// Server settings:
//
//	METER_HOST="0.0.0.0"
//	METER_PORT="8080"
//	METER_HEALTH_PORT="9090"
//	METER_CREATE_RATE_LIMIT="30"   # account creations per client per minute, 0 disables
//	METER_CORS_ORIGINS="https://app.example.com"
//
// Storage settings:
//
//	METER_STORAGE_TYPE="postgres"  # memory, postgres, redis
//	METER_POSTGRES_URL="postgres://localhost/meter"
//	METER_REDIS_URL="redis://localhost:6379/0"
//
// Metering settings:
//
//	METER_TIERS_FILE="/etc/meter/tiers.yaml"
//	METER_RESET_SCHEDULE="@every 1h"
//	METER_RETRY_MAX_ATTEMPTS="5"
//	METER_INTERNAL_TOKEN="..."     # required
//	METER_STRIPE_WEBHOOK_SECRET="whsec_..."
//	METER_SENDGRID_API_KEY="SG...."
//	METER_NOTIFY_FROM="billing@example.com"
//
// Audit settings:
//
//	METER_AUDIT_DIR="/var/log/meter/audit"  # JSON lines trail, empty disables
//	METER_AUDIT_MAX_FILES="10"
//	METER_AUDIT_DATABASE="false"            # postgres store only
//
// Observability settings:
//
//	METER_LOG_LEVEL="info"
//	METER_METRICS_ENABLED="true"
//	METER_OTEL_ENABLED="false"
//	METER_OTEL_ENDPOINT="localhost:4317"
//
// Usage:
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
package config
