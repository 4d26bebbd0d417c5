package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/wasteintel/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Redis         RedisConfig         `yaml:"redis"`
	Auth          AuthConfig          `yaml:"auth"`
	OIDC          OIDCConfig          `yaml:"oidc"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit"`
	Access        AccessConfig        `yaml:"access"`
	Audit         AuditConfig         `yaml:"audit"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxPayloadBytes int64         `yaml:"max_payload_bytes"`
	CORSOrigins     []string      `yaml:"cors_origins"`
	TrustedProxies  []string      `yaml:"trusted_proxies"`

	// Health/metrics server (separate port for k8s probes)
	HealthPort string `yaml:"health_port"`
}

// DatabaseConfig holds credential store connection settings
type DatabaseConfig struct {
	URL          string        `yaml:"url"`
	ReplicaURLs  []string      `yaml:"replica_urls"`
	MaxConns     int           `yaml:"max_conns"`
	MinConns     int           `yaml:"min_conns"`
	Timeout      time.Duration `yaml:"timeout"`
	QueryTimeout time.Duration `yaml:"query_timeout"`
	MaxLifetime  time.Duration `yaml:"max_lifetime"`
	MaxIdleTime  time.Duration `yaml:"max_idle_time"`
	AutoMigrate  bool          `yaml:"auto_migrate"`
}

// RedisConfig holds the optional shared counter store settings
type RedisConfig struct {
	URL        string `yaml:"url"`
	Password   string `yaml:"password"`
	DB         int    `yaml:"db"`
	PoolSize   int    `yaml:"pool_size"`
	MaxRetries int    `yaml:"max_retries"`
}

// AuthConfig holds token, session and credential policy
type AuthConfig struct {
	JWTSecret         string        `yaml:"jwt_secret"`
	Issuer            string        `yaml:"issuer"`
	SessionTTL        time.Duration `yaml:"session_ttl"`
	RefreshTTL        time.Duration `yaml:"refresh_ttl"`
	ValidationTimeout time.Duration `yaml:"validation_timeout"`
	LockoutThreshold  int           `yaml:"lockout_threshold"`
	LockoutDuration   time.Duration `yaml:"lockout_duration"`
	BcryptCost        int           `yaml:"bcrypt_cost"`
	InvitationTTL     time.Duration `yaml:"invitation_ttl"`
}

// OIDCConfig holds external identity provider settings
type OIDCConfig struct {
	Enabled      bool     `yaml:"enabled"`
	IssuerURL    string   `yaml:"issuer_url"`
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	RedirectURL  string   `yaml:"redirect_url"`
	Scopes       []string `yaml:"scopes"`
}

// RateLimitConfig holds the rate/anomaly guard knobs
type RateLimitConfig struct {
	Window              time.Duration `yaml:"window"`
	MaxRequests         int           `yaml:"max_requests"`
	Message             string        `yaml:"message"`
	AuthWindow          time.Duration `yaml:"auth_window"`
	AuthMaxRequests     int           `yaml:"auth_max_requests"`
	BlockAfterThrottles int           `yaml:"block_after_throttles"`
	BlockDuration       time.Duration `yaml:"block_duration"`
	BruteForceThreshold int           `yaml:"brute_force_threshold"`
	BruteForceReset     time.Duration `yaml:"brute_force_reset"`
	WhitelistedIPs      []string      `yaml:"whitelisted_ips"`
	WhitelistFile       string        `yaml:"whitelist_file"`
	Distributed         bool          `yaml:"distributed"`
}

// AccessConfig holds the grant cache settings. The cache is per process and
// invalidated only by writes made through the same process, so a positive CacheTTL
// is safe for single-instance deployments only. Zero disables it.
type AccessConfig struct {
	CacheSize int           `yaml:"cache_size"`
	CacheTTL  time.Duration `yaml:"cache_ttl"`
}

// AuditConfig holds recorder and archive settings
type AuditConfig struct {
	BufferSize      int           `yaml:"buffer_size"`
	Workers         int           `yaml:"workers"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ArchiveSchedule string        `yaml:"archive_schedule"`
	ArchiveBucket   string        `yaml:"archive_bucket"`
	ArchivePrefix   string        `yaml:"archive_prefix"`
	S3Endpoint      string        `yaml:"s3_endpoint"`
	S3Region        string        `yaml:"s3_region"`
	S3AccessKey     string        `yaml:"s3_access_key"`
	S3SecretKey     string        `yaml:"s3_secret_key"`
	S3UsePathStyle  bool          `yaml:"s3_use_path_style"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       string `yaml:"log_level"`
	MetricsEnabled bool   `yaml:"metrics_enabled"`

	// OpenTelemetry
	OTelEnabled        bool    `yaml:"otel_enabled"`
	OTelEndpoint       string  `yaml:"otel_endpoint"`
	OTelServiceName    string  `yaml:"otel_service_name"`
	OTelServiceVersion string  `yaml:"otel_service_version"`
	OTelInsecure       bool    `yaml:"otel_insecure"` // Use insecure gRPC connection
	OTelSampleRatio    float64 `yaml:"otel_sample_ratio"`
}

// Level returns the parsed log level
func (o ObservabilityConfig) Level() observability.LogLevel {
	return observability.ParseLogLevel(o.LogLevel)
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "8080",
			HealthPort:      "9090",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			MaxPayloadBytes: 10 << 20,
		},
		Database: DatabaseConfig{
			MaxConns:     20,
			MinConns:     5,
			Timeout:      10 * time.Second,
			QueryTimeout: 5 * time.Second,
			MaxLifetime:  30 * time.Minute,
			MaxIdleTime:  5 * time.Minute,
		},
		Redis: RedisConfig{
			PoolSize:   10,
			MaxRetries: 3,
		},
		Auth: AuthConfig{
			Issuer:            "wasteintel",
			SessionTTL:        time.Hour,
			RefreshTTL:        7 * 24 * time.Hour,
			ValidationTimeout: 5 * time.Second,
			LockoutThreshold:  5,
			LockoutDuration:   30 * time.Minute,
			BcryptCost:        12,
			InvitationTTL:     7 * 24 * time.Hour,
		},
		OIDC: OIDCConfig{
			Scopes: []string{"openid", "email", "profile"},
		},
		RateLimit: RateLimitConfig{
			Window:              15 * time.Minute,
			MaxRequests:         100,
			Message:             "Too many requests, please try again later",
			AuthWindow:          15 * time.Minute,
			AuthMaxRequests:     5,
			BlockAfterThrottles: 5,
			BlockDuration:       15 * time.Minute,
			BruteForceThreshold: 10,
			BruteForceReset:     time.Hour,
		},
		Access: AccessConfig{
			CacheSize: 10000,
		},
		Audit: AuditConfig{
			BufferSize:      1024,
			Workers:         2,
			WriteTimeout:    5 * time.Second,
			ArchiveSchedule: "0 15 2 * * *",
			ArchivePrefix:   "audit",
			S3Region:        "us-east-1",
		},
		Observability: ObservabilityConfig{
			LogLevel:           "info",
			MetricsEnabled:     true,
			OTelEndpoint:       "localhost:4317",
			OTelServiceName:    "wasteintel",
			OTelServiceVersion: "1.0.0",
			OTelInsecure:       true,
			OTelSampleRatio:    1,
		},
	}
}

// LoadConfig loads configuration: built-in defaults, then the optional YAML file named by
// WASTEINTEL_CONFIG_FILE, then environment variables
func LoadConfig() (*Config, error) {
	cfg := Default()

	if path := getEnv("WASTEINTEL_CONFIG_FILE", ""); path != "" {
		if err := LoadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func applyEnv(cfg *Config) {
	s := &cfg.Server
	s.Host = getEnv("WASTEINTEL_HOST", s.Host)
	s.Port = getEnv("WASTEINTEL_PORT", s.Port)
	s.HealthPort = getEnv("WASTEINTEL_HEALTH_PORT", s.HealthPort)
	s.ReadTimeout = getEnvDuration("WASTEINTEL_READ_TIMEOUT", s.ReadTimeout)
	s.WriteTimeout = getEnvDuration("WASTEINTEL_WRITE_TIMEOUT", s.WriteTimeout)
	s.IdleTimeout = getEnvDuration("WASTEINTEL_IDLE_TIMEOUT", s.IdleTimeout)
	s.ShutdownTimeout = getEnvDuration("WASTEINTEL_SHUTDOWN_TIMEOUT", s.ShutdownTimeout)
	s.MaxPayloadBytes = getEnvInt64("WASTEINTEL_MAX_PAYLOAD_BYTES", s.MaxPayloadBytes)
	s.CORSOrigins = getEnvList("WASTEINTEL_CORS_ORIGINS", s.CORSOrigins)
	s.TrustedProxies = getEnvList("WASTEINTEL_TRUSTED_PROXIES", s.TrustedProxies)

	d := &cfg.Database
	d.URL = getEnv("WASTEINTEL_POSTGRES_URL", d.URL)
	d.ReplicaURLs = getEnvList("WASTEINTEL_POSTGRES_REPLICA_URLS", d.ReplicaURLs)
	d.MaxConns = getEnvInt("WASTEINTEL_POSTGRES_MAX_CONNS", d.MaxConns)
	d.MinConns = getEnvInt("WASTEINTEL_POSTGRES_MIN_CONNS", d.MinConns)
	d.Timeout = getEnvDuration("WASTEINTEL_POSTGRES_TIMEOUT", d.Timeout)
	d.QueryTimeout = getEnvDuration("WASTEINTEL_POSTGRES_QUERY_TIMEOUT", d.QueryTimeout)
	d.AutoMigrate = getEnvBool("WASTEINTEL_POSTGRES_AUTO_MIGRATE", d.AutoMigrate)

	r := &cfg.Redis
	r.URL = getEnv("WASTEINTEL_REDIS_URL", r.URL)
	r.Password = getEnv("WASTEINTEL_REDIS_PASSWORD", r.Password)
	r.DB = getEnvInt("WASTEINTEL_REDIS_DB", r.DB)
	r.PoolSize = getEnvInt("WASTEINTEL_REDIS_POOL_SIZE", r.PoolSize)
	r.MaxRetries = getEnvInt("WASTEINTEL_REDIS_MAX_RETRIES", r.MaxRetries)

	a := &cfg.Auth
	a.JWTSecret = getEnv("WASTEINTEL_JWT_SECRET", a.JWTSecret)
	a.Issuer = getEnv("WASTEINTEL_JWT_ISSUER", a.Issuer)
	a.SessionTTL = getEnvDuration("WASTEINTEL_SESSION_TTL", a.SessionTTL)
	a.RefreshTTL = getEnvDuration("WASTEINTEL_REFRESH_TTL", a.RefreshTTL)
	a.ValidationTimeout = getEnvDuration("WASTEINTEL_VALIDATION_TIMEOUT", a.ValidationTimeout)
	a.LockoutThreshold = getEnvInt("WASTEINTEL_LOCKOUT_THRESHOLD", a.LockoutThreshold)
	a.LockoutDuration = getEnvDuration("WASTEINTEL_LOCKOUT_DURATION", a.LockoutDuration)
	a.BcryptCost = getEnvInt("WASTEINTEL_BCRYPT_COST", a.BcryptCost)
	a.InvitationTTL = getEnvDuration("WASTEINTEL_INVITATION_TTL", a.InvitationTTL)

	o := &cfg.OIDC
	o.Enabled = getEnvBool("WASTEINTEL_OIDC_ENABLED", o.Enabled)
	o.IssuerURL = getEnv("WASTEINTEL_OIDC_ISSUER_URL", o.IssuerURL)
	o.ClientID = getEnv("WASTEINTEL_OIDC_CLIENT_ID", o.ClientID)
	o.ClientSecret = getEnv("WASTEINTEL_OIDC_CLIENT_SECRET", o.ClientSecret)
	o.RedirectURL = getEnv("WASTEINTEL_OIDC_REDIRECT_URL", o.RedirectURL)
	o.Scopes = getEnvList("WASTEINTEL_OIDC_SCOPES", o.Scopes)

	rl := &cfg.RateLimit
	rl.Window = getEnvMillis("WASTEINTEL_RATE_LIMIT_WINDOW_MS", rl.Window)
	rl.MaxRequests = getEnvInt("WASTEINTEL_RATE_LIMIT_MAX_REQUESTS", rl.MaxRequests)
	rl.Message = getEnv("WASTEINTEL_RATE_LIMIT_MESSAGE", rl.Message)
	rl.AuthWindow = getEnvMillis("WASTEINTEL_AUTH_RATE_LIMIT_WINDOW_MS", rl.AuthWindow)
	rl.AuthMaxRequests = getEnvInt("WASTEINTEL_AUTH_RATE_LIMIT_MAX_REQUESTS", rl.AuthMaxRequests)
	rl.BlockAfterThrottles = getEnvInt("WASTEINTEL_RATE_LIMIT_BLOCK_AFTER", rl.BlockAfterThrottles)
	rl.BlockDuration = getEnvDuration("WASTEINTEL_RATE_LIMIT_BLOCK_DURATION", rl.BlockDuration)
	rl.BruteForceThreshold = getEnvInt("WASTEINTEL_BRUTE_FORCE_THRESHOLD", rl.BruteForceThreshold)
	rl.BruteForceReset = getEnvDuration("WASTEINTEL_BRUTE_FORCE_RESET", rl.BruteForceReset)
	rl.WhitelistedIPs = getEnvList("WASTEINTEL_WHITELISTED_IPS", rl.WhitelistedIPs)
	rl.WhitelistFile = getEnv("WASTEINTEL_WHITELIST_FILE", rl.WhitelistFile)
	rl.Distributed = getEnvBool("WASTEINTEL_RATE_LIMIT_DISTRIBUTED", rl.Distributed)

	ac := &cfg.Access
	ac.CacheSize = getEnvInt("WASTEINTEL_ACCESS_CACHE_SIZE", ac.CacheSize)
	ac.CacheTTL = getEnvDuration("WASTEINTEL_ACCESS_CACHE_TTL", ac.CacheTTL)

	au := &cfg.Audit
	au.BufferSize = getEnvInt("WASTEINTEL_AUDIT_BUFFER_SIZE", au.BufferSize)
	au.Workers = getEnvInt("WASTEINTEL_AUDIT_WORKERS", au.Workers)
	au.WriteTimeout = getEnvDuration("WASTEINTEL_AUDIT_WRITE_TIMEOUT", au.WriteTimeout)
	au.ArchiveSchedule = getEnv("WASTEINTEL_AUDIT_ARCHIVE_SCHEDULE", au.ArchiveSchedule)
	au.ArchiveBucket = getEnv("WASTEINTEL_AUDIT_ARCHIVE_BUCKET", au.ArchiveBucket)
	au.ArchivePrefix = getEnv("WASTEINTEL_AUDIT_ARCHIVE_PREFIX", au.ArchivePrefix)
	au.S3Endpoint = getEnv("WASTEINTEL_S3_ENDPOINT", au.S3Endpoint)
	au.S3Region = getEnv("WASTEINTEL_S3_REGION", au.S3Region)
	au.S3AccessKey = getEnv("WASTEINTEL_S3_ACCESS_KEY", au.S3AccessKey)
	au.S3SecretKey = getEnv("WASTEINTEL_S3_SECRET_KEY", au.S3SecretKey)
	au.S3UsePathStyle = getEnvBool("WASTEINTEL_S3_USE_PATH_STYLE", au.S3UsePathStyle)

	ob := &cfg.Observability
	ob.LogLevel = getEnv("WASTEINTEL_LOG_LEVEL", ob.LogLevel)
	ob.MetricsEnabled = getEnvBool("WASTEINTEL_METRICS_ENABLED", ob.MetricsEnabled)
	ob.OTelEnabled = getEnvBool("WASTEINTEL_OTEL_ENABLED", ob.OTelEnabled)
	ob.OTelEndpoint = getEnv("WASTEINTEL_OTEL_ENDPOINT", ob.OTelEndpoint)
	ob.OTelServiceName = getEnv("WASTEINTEL_OTEL_SERVICE_NAME", ob.OTelServiceName)
	ob.OTelServiceVersion = getEnv("WASTEINTEL_OTEL_SERVICE_VERSION", ob.OTelServiceVersion)
	ob.OTelInsecure = getEnvBool("WASTEINTEL_OTEL_INSECURE", ob.OTelInsecure)
	ob.OTelSampleRatio = getEnvFloat("WASTEINTEL_OTEL_SAMPLE_RATIO", ob.OTelSampleRatio)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}
	if c.Server.MaxPayloadBytes <= 0 {
		return fmt.Errorf("max payload bytes must be positive")
	}

	if c.Database.URL == "" {
		return fmt.Errorf("postgres URL is required")
	}
	if c.Database.QueryTimeout <= 0 {
		return fmt.Errorf("postgres query timeout must be positive")
	}

	if len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("JWT secret must be at least 32 bytes")
	}
	if c.Auth.SessionTTL <= 0 || c.Auth.RefreshTTL < c.Auth.SessionTTL {
		return fmt.Errorf("session TTL must be positive and not exceed refresh TTL")
	}
	if c.Auth.ValidationTimeout <= 0 {
		return fmt.Errorf("validation timeout must be positive")
	}
	if c.Auth.LockoutThreshold <= 0 {
		return fmt.Errorf("lockout threshold must be positive")
	}

	if c.OIDC.Enabled {
		if c.OIDC.IssuerURL == "" || c.OIDC.ClientID == "" || c.OIDC.RedirectURL == "" {
			return fmt.Errorf("OIDC issuer URL, client ID and redirect URL are required when OIDC is enabled")
		}
	}

	if c.RateLimit.Window <= 0 || c.RateLimit.MaxRequests <= 0 {
		return fmt.Errorf("rate limit window and max requests must be positive")
	}
	if c.RateLimit.AuthWindow <= 0 || c.RateLimit.AuthMaxRequests <= 0 {
		return fmt.Errorf("auth rate limit window and max requests must be positive")
	}
	if c.RateLimit.BruteForceThreshold <= 0 {
		return fmt.Errorf("brute force threshold must be positive")
	}
	if c.RateLimit.Distributed && c.Redis.URL == "" {
		return fmt.Errorf("redis URL is required for distributed rate limiting")
	}

	if c.Audit.BufferSize <= 0 || c.Audit.Workers <= 0 {
		return fmt.Errorf("audit buffer size and workers must be positive")
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvMillis reads an integer millisecond count
func getEnvMillis(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if ms, err := strconv.ParseInt(value, 10, 64); err == nil && ms > 0 {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return defaultValue
}

// getEnvList reads a comma separated list, dropping empty items
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
