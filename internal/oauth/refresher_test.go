package oauth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/chinmina/crm-bridge/internal/config"
	"github.com/chinmina/crm-bridge/internal/testhelpers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tokenRequest struct {
	GrantType    string
	RefreshToken string
	ClientID     string
	ClientSecret string
}

func setupTokenServer(t *testing.T, status int) (*httptest.Server, func() []tokenRequest) {
	t.Helper()

	var mu sync.Mutex
	var received []tokenRequest
	issued := 0

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()

		mu.Lock()
		received = append(received, tokenRequest{
			GrantType:    r.PostForm.Get("grant_type"),
			RefreshToken: r.PostForm.Get("refresh_token"),
			ClientID:     r.PostForm.Get("client_id"),
			ClientSecret: r.PostForm.Get("client_secret"),
		})
		issued++
		n := issued
		mu.Unlock()

		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}

		testhelpers.WriteJSON(w, map[string]any{
			"access_token":  []string{"", "access-1", "access-2"}[min(n, 2)],
			"refresh_token": []string{"", "refresh-2", "refresh-3"}[min(n, 2)],
			"token_type":    "Bearer",
			"expires_in":    3600,
		})
	}))
	t.Cleanup(server.Close)

	return server, func() []tokenRequest {
		mu.Lock()
		defer mu.Unlock()
		return append([]tokenRequest(nil), received...)
	}
}

func TestNew_NoRefreshToken(t *testing.T) {
	r, err := New(config.OAuthConfig{}, nil)
	require.NoError(t, err)
	assert.Nil(t, r)
}

func TestNew_RequiresClientCredentials(t *testing.T) {
	_, err := New(config.OAuthConfig{RefreshToken: "refresh-1"}, nil)
	assert.ErrorContains(t, err, "CRM_OAUTH_CLIENT_ID and CRM_OAUTH_CLIENT_SECRET required")
}

func TestRefresh_RotatesRefreshToken(t *testing.T) {
	server, requests := setupTokenServer(t, http.StatusOK)

	r, err := New(config.OAuthConfig{
		ClientID:     "client",
		ClientSecret: "secret",
		RefreshToken: "refresh-1",
		TokenURL:     server.URL,
	}, server.Client())
	require.NoError(t, err)

	token, err := r.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-1", token)

	token, err = r.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-2", token)

	received := requests()
	require.Len(t, received, 2)
	assert.Equal(t, tokenRequest{
		GrantType:    "refresh_token",
		RefreshToken: "refresh-1",
		ClientID:     "client",
		ClientSecret: "secret",
	}, received[0])
	assert.Equal(t, "refresh-2", received[1].RefreshToken)
}

func TestRefresh_Failure(t *testing.T) {
	server, _ := setupTokenServer(t, http.StatusBadRequest)

	r, err := New(config.OAuthConfig{
		ClientID:     "client",
		ClientSecret: "secret",
		RefreshToken: "refresh-1",
		TokenURL:     server.URL,
	}, server.Client())
	require.NoError(t, err)

	_, err = r.Refresh(context.Background())
	assert.ErrorContains(t, err, "refresh token grant failed")
}
