// Package testutil provides testing utilities for the CNPJ batch client.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

// MockResponse defines the behavior for a mock registry response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockRegistry is a configurable mock of the CNPJ registry API.
// Requests go to /v1/cnpj/{cnpj}; unknown identifiers get a 404.
type MockRegistry struct {
	server    *httptest.Server
	mu        sync.RWMutex
	responses map[string]MockResponse

	requests        []string
	requestTimes    []time.Time
	lastUserAgent   string
	lastAcceptValue string
}

// NewMockRegistry creates and starts a new mock registry server.
func NewMockRegistry() *MockRegistry {
	mock := &MockRegistry{
		responses: make(map[string]MockResponse),
	}
	mock.server = httptest.NewServer(http.HandlerFunc(mock.handle))
	return mock
}

// URL returns the mock server base URL.
func (m *MockRegistry) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockRegistry) Close() {
	m.server.Close()
}

// Reset clears all tracking state and configured responses.
func (m *MockRegistry) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = make(map[string]MockResponse)
	m.requests = nil
	m.requestTimes = nil
	m.lastUserAgent = ""
	m.lastAcceptValue = ""
}

// SetResponse configures the response for cnpj.
func (m *MockRegistry) SetResponse(cnpj string, resp MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[cnpj] = resp
}

// SetCompany configures a 200 response carrying fields as a JSON object.
func (m *MockRegistry) SetCompany(cnpj string, fields map[string]any) {
	m.SetResponse(cnpj, NewCompanyResponse(fields))
}

// Requests returns the identifiers requested so far, in arrival order.
func (m *MockRegistry) Requests() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.requests...)
}

// RequestTimes returns when each request arrived.
func (m *MockRegistry) RequestTimes() []time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]time.Time(nil), m.requestTimes...)
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockRegistry) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.requests)
}

// LastUserAgent returns the User-Agent of the most recent request.
func (m *MockRegistry) LastUserAgent() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastUserAgent
}

// LastAccept returns the Accept header of the most recent request.
func (m *MockRegistry) LastAccept() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastAcceptValue
}

func (m *MockRegistry) handle(w http.ResponseWriter, r *http.Request) {
	cnpj, ok := strings.CutPrefix(r.URL.Path, "/v1/cnpj/")

	m.mu.Lock()
	m.requests = append(m.requests, cnpj)
	m.requestTimes = append(m.requestTimes, time.Now())
	m.lastUserAgent = r.Header.Get("User-Agent")
	m.lastAcceptValue = r.Header.Get("Accept")
	resp, found := m.responses[cnpj]
	m.mu.Unlock()

	if !ok {
		http.NotFound(w, r)
		return
	}
	if !found {
		resp = NewNotFoundResponse()
	}

	if resp.Delay > 0 {
		select {
		case <-time.After(resp.Delay):
		case <-r.Context().Done():
			return
		}
	}

	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}
	w.WriteHeader(resp.StatusCode)
	if resp.Body != "" {
		w.Write([]byte(resp.Body))
	}
}

// NewCompanyResponse creates a 200 OK response with fields encoded as JSON.
func NewCompanyResponse(fields map[string]any) MockResponse {
	body, err := json.Marshal(fields)
	if err != nil {
		panic(err)
	}
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       string(body),
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// NewNotFoundResponse creates a 404 Not Found response.
func NewNotFoundResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusNotFound,
		Body:       `{"status": "ERROR", "message": "CNPJ não encontrado"}`,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// NewRateLimitResponse creates a 429 Too Many Requests response.
func NewRateLimitResponse(retryAfter string) MockResponse {
	resp := MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"status": "ERROR", "message": "Too many requests, please try again later."}`,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
	if retryAfter != "" {
		resp.Headers["Retry-After"] = retryAfter
	}
	return resp
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"error": "Internal server error"}`,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// NewMalformedResponse creates a 200 OK response whose body is not valid JSON.
func NewMalformedResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       `{"nome": "ACME`,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// NewSlowResponse wraps resp with a delay before the headers are written.
func NewSlowResponse(resp MockResponse, delay time.Duration) MockResponse {
	resp.Delay = delay
	return resp
}
