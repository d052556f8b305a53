// Package config loads application configuration.
//
// Values come from built-in defaults, then an optional YAML file named by
// CASELOAD_CONFIG_FILE, then CASELOAD_* environment variables. The binary
// also loads a .env file before calling Load.
//
// # Configuration Structure
//
// Server settings:
//
//	CASELOAD_HOST="0.0.0.0"
//	CASELOAD_PORT="8080"
//	CASELOAD_METRICS_PORT="9090"
//	CASELOAD_READ_TIMEOUT="15s"
//	CASELOAD_MAX_UPLOAD_BYTES="104857600"
//
// Database and auth:
//
//	CASELOAD_DATABASE_URL="postgres://..."
//	CASELOAD_JWT_SECRET="..."          # at least 32 bytes
//	CASELOAD_TOKEN_TTL="24h"
//
// Documents:
//
//	CASELOAD_BLOB_TYPE="filesystem"    # filesystem or s3
//	CASELOAD_BLOB_ROOT="./data/blobs"
//	CASELOAD_S3_BUCKET / _REGION / _ENDPOINT / _USE_PATH_STYLE
//
// Limits and scheduling:
//
//	CASELOAD_TRIAL_DAYS="14"
//	CASELOAD_TRIAL_MAX_USERS="3"
//	CASELOAD_CATALOG_TTL="5m"
//	CASELOAD_SWEEP_SPEC="@every 1h"
//	CASELOAD_AUDIT_RETENTION="8760h"    # 0 keeps audit events forever
//
// Redis (optional, enables the shared rate limiter):
//
//	CASELOAD_REDIS_URL="redis://localhost:6379/0"
//	CASELOAD_RATE_LIMIT="1000"
//	CASELOAD_RATE_LIMIT_WINDOW="1m"
package config
