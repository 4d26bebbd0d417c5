// Package config loads service configuration.
//
// Values come from three layers, later ones winning:
//
//  1. built-in defaults (Default)
//  2. an optional YAML file named by WASTEINTEL_CONFIG_FILE
//  3. WASTEINTEL_* environment variables
//
// Common settings:
//
//	WASTEINTEL_PORT="8080"
//	WASTEINTEL_HEALTH_PORT="9090"
//	WASTEINTEL_POSTGRES_URL="postgres://localhost/wasteintel?sslmode=disable"
//	WASTEINTEL_JWT_SECRET="<at least 32 bytes>"
//	WASTEINTEL_RATE_LIMIT_WINDOW_MS="900000"
//	WASTEINTEL_RATE_LIMIT_MAX_REQUESTS="100"
//	WASTEINTEL_AUTH_RATE_LIMIT_WINDOW_MS="900000"
//	WASTEINTEL_AUTH_RATE_LIMIT_MAX_REQUESTS="5"
//	WASTEINTEL_WHITELISTED_IPS="127.0.0.1,10.0.0.5"
//	WASTEINTEL_MAX_PAYLOAD_BYTES="10485760"
//	WASTEINTEL_REDIS_URL="redis://localhost:6379"
//	WASTEINTEL_RATE_LIMIT_DISTRIBUTED="false"
//
// Durations use Go syntax ("30s", "15m") except the rate limit windows, which are
// integer milliseconds. LoadConfig validates the merged result.
package config
