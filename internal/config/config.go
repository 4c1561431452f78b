package config

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	CRM       CRMConfig
	OAuth     OAuthConfig
	Queue     QueueConfig
	Cache     CacheConfig
	RateLimit RateLimitConfig
	Observe   ObserveConfig
	Server    ServerConfig
}

type ServerConfig struct {
	Port                   int `env:"SERVER_PORT, default=8080"`
	ShutdownTimeoutSeconds int `env:"SERVER_SHUTDOWN_TIMEOUT_SECS, default=25"`

	OutgoingHTTPMaxIdleConns    int `env:"SERVER_OUTGOING_MAX_IDLE_CONNS, default=100"`
	OutgoingHTTPMaxConnsPerHost int `env:"SERVER_OUTGOING_MAX_CONNS_PER_HOST, default=20"`
}

// CRMConfig describes how to reach the remote CRM. Either WebhookURL or the
// Domain and AccessToken pair must be supplied.
type CRMConfig struct {
	// WebhookURL is the incoming webhook base, e.g.
	// https://example.bitrix24.com/rest/1/abcdef/. Method names are appended
	// directly to it.
	WebhookURL string `env:"CRM_WEBHOOK_URL"`

	// Domain is the portal host used in OAuth mode.
	Domain string `env:"CRM_DOMAIN"`

	// AccessToken is the initial OAuth access token.
	AccessToken string `env:"CRM_ACCESS_TOKEN"`

	// CallTimeout bounds a single remote call. Zero disables the bound.
	CallTimeout time.Duration `env:"CRM_CALL_TIMEOUT, default=30s"`
}

// OAuthConfig holds the refresh-token grant used to renew the access token in
// OAuth mode. When RefreshToken is empty no refresh is attempted and
// authentication failures are returned to the caller.
type OAuthConfig struct {
	ClientID     string `env:"CRM_OAUTH_CLIENT_ID"`
	ClientSecret string `env:"CRM_OAUTH_CLIENT_SECRET"`
	RefreshToken string `env:"CRM_OAUTH_REFRESH_TOKEN"`
	TokenURL     string `env:"CRM_OAUTH_TOKEN_URL, default=https://oauth.bitrix.info/oauth/token/"`
}

// QueueConfig controls the outbound request queue.
type QueueConfig struct {
	// MaxSize is the maximum number of admitted, unresolved calls.
	MaxSize int `env:"QUEUE_MAX_SIZE, default=200"`

	// MinInterval is the minimum spacing between two dispatched calls.
	MinInterval time.Duration `env:"QUEUE_MIN_INTERVAL, default=500ms"`
}

// CacheConfig controls the read cache.
type CacheConfig struct {
	MaxSize       int           `env:"CACHE_MAX_SIZE, default=1000"`
	TTL           time.Duration `env:"CACHE_TTL, default=5m"`
	FieldsTTL     time.Duration `env:"CACHE_FIELDS_TTL, default=24h"`
	SweepInterval time.Duration `env:"CACHE_SWEEP_INTERVAL, default=60s"`
}

// RateLimitConfig controls per-caller limiting of the bridge's own API.
type RateLimitConfig struct {
	Enabled bool    `env:"RATE_LIMIT_ENABLED, default=true"`
	RPS     float64 `env:"RATE_LIMIT_RPS, default=20"`
	Burst   int     `env:"RATE_LIMIT_BURST, default=40"`

	// KeyHeader, when set, identifies callers by this header before falling
	// back to the remote address.
	KeyHeader string `env:"RATE_LIMIT_KEY_HEADER"`
}

type ObserveConfig struct {
	SDKLogLevel                string `env:"OBSERVE_OTEL_LOG_LEVEL, default=info"`
	Enabled                    bool   `env:"OBSERVE_ENABLED, default=false"`
	MetricsEnabled             bool   `env:"OBSERVE_METRICS_ENABLED, default=true"`
	Type                       string `env:"OBSERVE_TYPE, default=grpc"`
	ServiceName                string `env:"OBSERVE_SERVICE_NAME, default=crm-bridge"`
	TraceBatchTimeoutSeconds   int    `env:"OBSERVE_TRACE_BATCH_TIMEOUT_SECS, default=20"`
	MetricReadIntervalSeconds  int    `env:"OBSERVE_METRIC_READ_INTERVAL_SECS, default=60"`
	HTTPTransportEnabled       bool   `env:"OBSERVE_HTTP_TRANSPORT_ENABLED, default=true"`
	HTTPConnectionTraceEnabled bool   `env:"OBSERVE_CONNECTION_TRACE_ENABLED, default=true"`
}

func Load(ctx context.Context) (Config, error) {
	return load(ctx, nil) // load from OS environment
}

func load(ctx context.Context, lookup envconfig.Lookuper) (Config, error) {
	var cfg Config
	err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookup, // nil defaults to OS environment
	})
	if err != nil {
		return cfg, err
	}

	err = cfg.CRM.Validate()
	if err != nil {
		return cfg, fmt.Errorf("invalid CRM configuration: %w", err)
	}

	err = cfg.Queue.Validate()
	if err != nil {
		return cfg, fmt.Errorf("invalid queue configuration: %w", err)
	}

	err = cfg.Cache.Validate()
	if err != nil {
		return cfg, fmt.Errorf("invalid cache configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that exactly one usable authentication mode is configured.
func (c *CRMConfig) Validate() error {
	if c.WebhookURL != "" {
		return nil
	}

	if c.Domain == "" && c.AccessToken == "" {
		return errors.New("CRM_WEBHOOK_URL or CRM_DOMAIN and CRM_ACCESS_TOKEN required")
	}

	if c.Domain == "" {
		return errors.New("CRM_DOMAIN required when CRM_ACCESS_TOKEN is set")
	}

	if c.AccessToken == "" {
		return errors.New("CRM_ACCESS_TOKEN required when CRM_DOMAIN is set")
	}

	return nil
}

// Validate checks the queue bounds.
func (c *QueueConfig) Validate() error {
	if c.MaxSize < 1 {
		return fmt.Errorf("QUEUE_MAX_SIZE must be at least 1, got %d", c.MaxSize)
	}
	if c.MinInterval < 0 {
		return fmt.Errorf("QUEUE_MIN_INTERVAL must not be negative, got %s", c.MinInterval)
	}
	return nil
}

// Validate checks the cache bounds.
func (c *CacheConfig) Validate() error {
	if c.MaxSize < 1 {
		return fmt.Errorf("CACHE_MAX_SIZE must be at least 1, got %d", c.MaxSize)
	}
	if c.TTL <= 0 || c.FieldsTTL <= 0 {
		return errors.New("CACHE_TTL and CACHE_FIELDS_TTL must be positive")
	}
	return nil
}
