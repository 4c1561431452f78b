package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// maxResponseBytes caps how much of a response body is read. CRM list pages
// are limited to 50 items, so this is generous.
const maxResponseBytes = 10 << 20 // 10 MB

// authErrorCodes are the error values the CRM uses to signal a rejected
// credential. The same condition may also be reported as HTTP 401.
var authErrorCodes = []string{"expired_token", "invalid_token", "WRONG_AUTH_TYPE"}

// RefreshFunc obtains a new access token. It is called at most once per
// remote call.
type RefreshFunc func(ctx context.Context) (string, error)

// ClientConfig describes the connection to the remote CRM: either a webhook
// URL, or a domain with an OAuth access token and an optional refresh
// callback.
type ClientConfig struct {
	WebhookURL     string
	Domain         string
	AccessToken    string
	OnTokenRefresh RefreshFunc
}

// Response is the decoded body of a successful call. Total and Next are set
// for paged list methods.
type Response struct {
	Result json.RawMessage
	Total  *int
	Next   *int
}

type envelope struct {
	Result           json.RawMessage `json:"result"`
	Total            *int            `json:"total"`
	Next             *int            `json:"next"`
	Error            string          `json:"error"`
	ErrorDescription string          `json:"error_description"`
}

// Executor performs single authenticated calls against the CRM REST API.
type Executor struct {
	webhookURL string
	restURL    string
	token      *tokenHolder
	refresh    RefreshFunc
	client     *http.Client
}

type Option func(*Executor)

// WithHTTPClient overrides the HTTP client, which defaults to
// http.DefaultClient.
func WithHTTPClient(client *http.Client) Option {
	return func(e *Executor) {
		e.client = client
	}
}

// New validates cfg and creates an Executor. A webhook URL takes precedence
// over OAuth settings.
func New(cfg ClientConfig, opts ...Option) (*Executor, error) {
	e := &Executor{
		token:   &tokenHolder{value: cfg.AccessToken},
		refresh: cfg.OnTokenRefresh,
		client:  http.DefaultClient,
	}

	switch {
	case cfg.WebhookURL != "":
		e.webhookURL = cfg.WebhookURL
		if !strings.HasSuffix(e.webhookURL, "/") {
			e.webhookURL += "/"
		}
		// refresh only applies to OAuth
		e.refresh = nil

	case cfg.Domain != "" && cfg.AccessToken != "":
		base := cfg.Domain
		if !strings.Contains(base, "://") {
			base = "https://" + base
		}
		e.restURL = strings.TrimSuffix(base, "/") + "/rest/"

	default:
		return nil, &ConfigurationError{Reason: "neither webhook URL nor domain and access token are configured"}
	}

	for _, opt := range opts {
		opt(e)
	}

	initMetrics()

	return e, nil
}

// Execute performs method with params and returns the decoded result.
func (e *Executor) Execute(ctx context.Context, method string, params any) (json.RawMessage, error) {
	resp, err := e.Call(ctx, method, params)
	if err != nil {
		return nil, err
	}
	return resp.Result, nil
}

// Call performs method with params. An authentication failure triggers at
// most one token refresh and one retry of the same request; any other
// failure is returned as a *RemoteAPIError.
func (e *Executor) Call(ctx context.Context, method string, params any) (Response, error) {
	if e.webhookURL == "" && e.restURL == "" {
		return Response{}, &ConfigurationError{Reason: "executor was not created with New"}
	}

	body, err := encodeParams(params)
	if err != nil {
		return Response{}, &RemoteAPIError{Method: method, Code: CodeTransport, Err: err}
	}

	for attempt := 1; ; attempt++ {
		env, status, err := e.do(ctx, method, body)
		if err != nil {
			log.Warn().Err(err).Str("method", method).Int("attempt", attempt).Msg("CRM call failed in transport")
			recordCall(ctx, method, "transport_error")
			return Response{}, &RemoteAPIError{Method: method, Code: CodeTransport, StatusCode: status, Err: err}
		}

		if status >= 200 && status < 300 && env.Error == "" {
			recordCall(ctx, method, "success")
			return Response{Result: env.Result, Total: env.Total, Next: env.Next}, nil
		}

		apiErr := &RemoteAPIError{
			Method:      method,
			Code:        env.Error,
			Description: env.ErrorDescription,
			StatusCode:  status,
		}
		if apiErr.Code == "" {
			apiErr.Code = fmt.Sprintf("http_%d", status)
		}

		if !isAuthFailure(status, env) {
			recordCall(ctx, method, "remote_error")
			log.Info().Str("method", method).Str("code", apiErr.Code).Int("status", status).Msg("CRM call rejected")
			return Response{}, apiErr
		}

		if attempt > 1 || e.refresh == nil {
			recordCall(ctx, method, "auth_error")
			log.Warn().Str("method", method).Str("code", apiErr.Code).Int("attempt", attempt).Msg("CRM authentication failed")
			return Response{}, apiErr
		}

		log.Info().Str("method", method).Str("code", apiErr.Code).Msg("CRM token rejected, refreshing")

		token, err := e.refresh(ctx)
		recordRefresh(ctx, err)
		if err != nil {
			apiErr.Err = fmt.Errorf("token refresh failed: %w", err)
			recordCall(ctx, method, "auth_error")
			return Response{}, apiErr
		}
		e.token.Set(token)
	}
}

// do issues one request. The body is decoded before the status is examined
// because authentication failures arrive both as 401 and inside 200 bodies.
func (e *Executor) do(ctx context.Context, method string, body []byte) (envelope, int, error) {
	var env envelope

	target := e.webhookURL + method + ".json"
	if e.webhookURL == "" {
		target = e.restURL + method + ".json"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return env, 0, fmt.Errorf("could not create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if e.webhookURL == "" {
		req.Header.Set("Authorization", "Bearer "+e.token.Get())
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return env, 0, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return env, resp.StatusCode, fmt.Errorf("could not read response: %w", err)
	}

	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil {
			// an undecodable error page still carries a usable status
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				return env, resp.StatusCode, fmt.Errorf("could not decode response: %w", err)
			}
			env = envelope{}
		}
	}

	return env, resp.StatusCode, nil
}

func isAuthFailure(status int, env envelope) bool {
	if status == http.StatusUnauthorized {
		return true
	}

	if slices.Contains(authErrorCodes, env.Error) {
		return true
	}

	desc := strings.ToLower(env.ErrorDescription)
	return strings.Contains(desc, "expired") || strings.Contains(desc, "invalid")
}

func encodeParams(params any) ([]byte, error) {
	if params == nil {
		return []byte("{}"), nil
	}

	body, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("could not encode parameters: %w", err)
	}
	if string(body) == "null" {
		return []byte("{}"), nil
	}

	return body, nil
}

var (
	metricsOnce sync.Once
	remoteCalls metric.Int64Counter
	refreshes   metric.Int64Counter
)

func initMetrics() {
	metricsOnce.Do(func() {
		meter := otel.Meter("github.com/chinmina/crm-bridge/internal/transport")

		var err error
		remoteCalls, err = meter.Int64Counter(
			"crm.remote.calls",
			metric.WithDescription("Remote CRM calls by outcome"),
		)
		if err != nil {
			otel.Handle(err)
		}

		refreshes, err = meter.Int64Counter(
			"crm.token.refreshes",
			metric.WithDescription("Access token refresh attempts"),
		)
		if err != nil {
			otel.Handle(err)
		}
	})
}

func recordCall(ctx context.Context, method, outcome string) {
	if remoteCalls == nil {
		return
	}
	remoteCalls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("crm.method", method),
		attribute.String("crm.outcome", outcome),
	))
}

func recordRefresh(ctx context.Context, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	if refreshes != nil {
		refreshes.Add(ctx, 1, metric.WithAttributes(attribute.String("crm.refresh.status", status)))
	}
}
