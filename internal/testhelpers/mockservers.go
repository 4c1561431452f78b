package testhelpers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path"
	"strings"
	"sync"
	"testing"
)

// MockResponse is a canned CRM reply. A zero StatusCode means 200.
type MockResponse struct {
	StatusCode int
	Body       any
}

// Result wraps a value in the CRM success envelope.
func Result(value any) MockResponse {
	return MockResponse{Body: map[string]any{"result": value}}
}

// PagedResult wraps a list page in the CRM success envelope, including the
// paging cursor when next is non-negative.
func PagedResult(items any, total int, next int) MockResponse {
	body := map[string]any{"result": items, "total": total}
	if next >= 0 {
		body["next"] = next
	}
	return MockResponse{Body: body}
}

// APIError builds a CRM error reply.
func APIError(status int, code, description string) MockResponse {
	return MockResponse{
		StatusCode: status,
		Body: map[string]any{
			"error":             code,
			"error_description": description,
		},
	}
}

// RecordedRequest captures one call received by the mock.
type RecordedRequest struct {
	Method        string // CRM method, e.g. crm.lead.get
	Path          string
	Authorization string
	Params        map[string]any
}

// MockCRMServer is a configurable stand-in for the CRM REST API. Replies are
// chosen from Handlers by CRM method, then from the Responses sequence (the
// last entry repeats), then a default {"result": true}.
type MockCRMServer struct {
	Server *httptest.Server

	mu        sync.Mutex
	Handlers  map[string]func(RecordedRequest) MockResponse
	Responses []MockResponse
	requests  []RecordedRequest
}

// SetupMockCRMServer starts a mock CRM API server. It is closed automatically
// when the test completes.
func SetupMockCRMServer(t *testing.T) *MockCRMServer {
	t.Helper()

	mock := &MockCRMServer{
		Handlers: map[string]func(RecordedRequest) MockResponse{},
	}

	mock.Server = httptest.NewServer(http.HandlerFunc(mock.serve))
	t.Cleanup(mock.Server.Close)

	return mock
}

// Handle registers a reply function for a CRM method.
func (m *MockCRMServer) Handle(method string, fn func(RecordedRequest) MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Handlers[method] = fn
}

// Respond replaces the reply sequence.
func (m *MockCRMServer) Respond(responses ...MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Responses = responses
}

// Requests returns a copy of the requests received so far.
func (m *MockCRMServer) Requests() []RecordedRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]RecordedRequest(nil), m.requests...)
}

// RequestCount returns the number of requests received so far.
func (m *MockCRMServer) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// WebhookURL returns a webhook base URL pointing at the mock.
func (m *MockCRMServer) WebhookURL() string {
	return m.Server.URL + "/rest/1/webhook-secret/"
}

// Domain returns the mock's base URL for use as an OAuth domain.
func (m *MockCRMServer) Domain() string {
	return m.Server.URL
}

// Host returns the mock's host:port.
func (m *MockCRMServer) Host() string {
	u, _ := url.Parse(m.Server.URL)
	return u.Host
}

func (m *MockCRMServer) serve(w http.ResponseWriter, r *http.Request) {
	rec := RecordedRequest{
		Method:        strings.TrimSuffix(path.Base(r.URL.Path), ".json"),
		Path:          r.URL.Path,
		Authorization: r.Header.Get("Authorization"),
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&rec.Params)
	}

	m.mu.Lock()
	m.requests = append(m.requests, rec)
	handler, hasHandler := m.Handlers[rec.Method]
	var reply MockResponse
	switch {
	case hasHandler:
		// handled below, outside the lock
	case len(m.Responses) > 0:
		reply = m.Responses[0]
		if len(m.Responses) > 1 {
			m.Responses = m.Responses[1:]
		}
	default:
		reply = Result(true)
	}
	m.mu.Unlock()

	if hasHandler {
		reply = handler(rec)
	}

	status := reply.StatusCode
	if status == 0 {
		status = http.StatusOK
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if reply.Body != nil {
		data, err := json.Marshal(reply.Body)
		if err != nil {
			panic(fmt.Sprintf("mock CRM server: invalid reply body: %v", err))
		}
		_, _ = w.Write(data)
	}
}

// WriteJSON is a helper function that writes a JSON response.
// It sets the Content-Type header and marshals the payload to JSON.
func WriteJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	data, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	_, _ = w.Write(data)
}
