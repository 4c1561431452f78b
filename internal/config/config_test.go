package config

import (
	"context"
	"testing"
	"time"

	"github.com/sethvargo/go-envconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_WebhookDefaults(t *testing.T) {
	t.Setenv("CRM_WEBHOOK_URL", "https://example.bitrix24.com/rest/1/secret/")

	cfg, err := Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "https://example.bitrix24.com/rest/1/secret/", cfg.CRM.WebhookURL)
	assert.Equal(t, 30*time.Second, cfg.CRM.CallTimeout)
	assert.Equal(t, 200, cfg.Queue.MaxSize)
	assert.Equal(t, 500*time.Millisecond, cfg.Queue.MinInterval)
	assert.Equal(t, 1000, cfg.Cache.MaxSize)
	assert.Equal(t, 5*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, 24*time.Hour, cfg.Cache.FieldsTTL)
	assert.Equal(t, 60*time.Second, cfg.Cache.SweepInterval)
	assert.Equal(t, "crm-bridge", cfg.Observe.ServiceName)
	assert.True(t, cfg.RateLimit.Enabled)
}

func TestLoad_OAuthMode(t *testing.T) {
	lookup := envconfig.MapLookuper(map[string]string{
		"CRM_DOMAIN":              "example.bitrix24.com",
		"CRM_ACCESS_TOKEN":        "access",
		"CRM_OAUTH_CLIENT_ID":     "client",
		"CRM_OAUTH_CLIENT_SECRET": "secret",
		"CRM_OAUTH_REFRESH_TOKEN": "refresh",
		"QUEUE_MIN_INTERVAL":      "100ms",
	})

	cfg, err := load(context.Background(), lookup)
	require.NoError(t, err)

	assert.Equal(t, CRMConfig{
		Domain:      "example.bitrix24.com",
		AccessToken: "access",
		CallTimeout: 30 * time.Second,
	}, cfg.CRM)
	assert.Equal(t, "refresh", cfg.OAuth.RefreshToken)
	assert.Equal(t, "https://oauth.bitrix.info/oauth/token/", cfg.OAuth.TokenURL)
	assert.Equal(t, 100*time.Millisecond, cfg.Queue.MinInterval)
}

func TestLoad_Invalid(t *testing.T) {
	cases := []struct {
		name    string
		env     map[string]string
		message string
	}{
		{
			name:    "no auth mode",
			env:     map[string]string{},
			message: "CRM_WEBHOOK_URL or CRM_DOMAIN and CRM_ACCESS_TOKEN required",
		},
		{
			name:    "domain without token",
			env:     map[string]string{"CRM_DOMAIN": "example.bitrix24.com"},
			message: "CRM_ACCESS_TOKEN required when CRM_DOMAIN is set",
		},
		{
			name:    "token without domain",
			env:     map[string]string{"CRM_ACCESS_TOKEN": "access"},
			message: "CRM_DOMAIN required when CRM_ACCESS_TOKEN is set",
		},
		{
			name: "zero queue size",
			env: map[string]string{
				"CRM_WEBHOOK_URL": "https://example/",
				"QUEUE_MAX_SIZE":  "0",
			},
			message: "QUEUE_MAX_SIZE must be at least 1",
		},
		{
			name: "zero cache size",
			env: map[string]string{
				"CRM_WEBHOOK_URL": "https://example/",
				"CACHE_MAX_SIZE":  "0",
			},
			message: "CACHE_MAX_SIZE must be at least 1",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := load(context.Background(), envconfig.MapLookuper(tc.env))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.message)
		})
	}
}
