package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/chinmina/crm-bridge/internal/config"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

// Refresher renews the CRM access token using the OAuth refresh-token grant.
// The CRM rotates refresh tokens, so the most recent one is retained for the
// next renewal.
type Refresher struct {
	mu           sync.Mutex
	config       oauth2.Config
	refreshToken string
	client       *http.Client
}

// New creates a Refresher from configuration. It returns nil when no refresh
// token is configured, meaning authentication failures are not recoverable.
func New(cfg config.OAuthConfig, client *http.Client) (*Refresher, error) {
	if cfg.RefreshToken == "" {
		return nil, nil
	}

	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, errors.New("CRM_OAUTH_CLIENT_ID and CRM_OAUTH_CLIENT_SECRET required when a refresh token is configured")
	}

	if client == nil {
		client = http.DefaultClient
	}

	return &Refresher{
		config: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		refreshToken: cfg.RefreshToken,
		client:       client,
	}, nil
}

// Refresh exchanges the current refresh token for a new access token. Calls
// are serialized so a rotated refresh token is never used twice.
func (r *Refresher) Refresh(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ctx = context.WithValue(ctx, oauth2.HTTPClient, r.client)

	// a token with no access token is always treated as expired, forcing the
	// source to use the refresh grant
	source := r.config.TokenSource(ctx, &oauth2.Token{RefreshToken: r.refreshToken})

	token, err := source.Token()
	if err != nil {
		return "", fmt.Errorf("refresh token grant failed: %w", err)
	}

	if token.RefreshToken != "" && token.RefreshToken != r.refreshToken {
		r.refreshToken = token.RefreshToken
	}

	log.Info().Time("expiry", token.Expiry).Msg("CRM access token refreshed")

	return token.AccessToken, nil
}
