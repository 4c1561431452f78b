package crm

import (
	"fmt"
	"net/http"

	"github.com/chinmina/crm-bridge/internal/config"
	"github.com/chinmina/crm-bridge/internal/oauth"
	"github.com/chinmina/crm-bridge/internal/queue"
	"github.com/chinmina/crm-bridge/internal/transport"
)

// NewFromConfig assembles a Client for the configured connection: an OAuth
// refresher when a refresh token is present, an executor on client, and the
// configured queue and cache limits.
func NewFromConfig(cfg config.Config, client *http.Client) (*Client, error) {
	refresher, err := oauth.New(cfg.OAuth, client)
	if err != nil {
		return nil, fmt.Errorf("OAuth configuration invalid: %w", err)
	}

	clientConfig := transport.ClientConfig{
		WebhookURL:  cfg.CRM.WebhookURL,
		Domain:      cfg.CRM.Domain,
		AccessToken: cfg.CRM.AccessToken,
	}
	if refresher != nil {
		clientConfig.OnTokenRefresh = refresher.Refresh
	}

	var opts []transport.Option
	if client != nil {
		opts = append(opts, transport.WithHTTPClient(client))
	}

	executor, err := transport.New(clientConfig, opts...)
	if err != nil {
		return nil, err
	}

	return New(executor, Options{
		Queue: queue.Options{
			MaxSize:     cfg.Queue.MaxSize,
			MinInterval: cfg.Queue.MinInterval,
			CallTimeout: cfg.CRM.CallTimeout,
		},
		CacheMaxSize:       cfg.Cache.MaxSize,
		CacheSweepInterval: cfg.Cache.SweepInterval,
		TTL:                cfg.Cache.TTL,
		FieldsTTL:          cfg.Cache.FieldsTTL,
	}), nil
}
