// Package testutil provides a configurable mock remote API server for
// tests.
package testutil

import (
	"net/http"
	"net/http/httptest"
	"sync"
)

// MockAPI is a configurable mock remote API server. It records request
// traffic per path so tests can assert how often the network was hit.
type MockAPI struct {
	server   *httptest.Server
	mu       sync.Mutex
	handlers map[string]http.HandlerFunc
	counts   map[string]int

	LastRequestHeader http.Header
}

// NewMockAPI starts a mock server. Unconfigured paths respond 200 with an
// empty JSON object.
func NewMockAPI() *MockAPI {
	mock := &MockAPI{
		handlers: make(map[string]http.HandlerFunc),
		counts:   make(map[string]int),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.counts[r.URL.Path]++
		mock.LastRequestHeader = r.Header.Clone()
		handler := mock.handlers[r.URL.Path]
		mock.mu.Unlock()

		if handler != nil {
			handler(w, r)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{}`))
	}))

	return mock
}

// URL returns the mock server's base URL.
func (m *MockAPI) URL() string { return m.server.URL }

// Close shuts down the mock server.
func (m *MockAPI) Close() { m.server.Close() }

// Handle installs a handler for a path.
func (m *MockAPI) Handle(path string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// HandleJSON installs a handler responding with a fixed JSON body.
func (m *MockAPI) HandleJSON(path, body string) {
	m.Handle(path, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	})
}

// HandleFailures installs a handler that fails with the given status a
// number of times before succeeding with the given JSON body.
func (m *MockAPI) HandleFailures(path string, failures, status int, body string) {
	remaining := failures
	var mu sync.Mutex

	m.Handle(path, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		fail := remaining > 0
		if fail {
			remaining--
		}
		mu.Unlock()

		if fail {
			w.WriteHeader(status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	})
}

// HandleRetryAfter installs a handler that responds 429 with the given
// Retry-After value a number of times before succeeding.
func (m *MockAPI) HandleRetryAfter(path, retryAfter string, failures int, body string) {
	remaining := failures
	var mu sync.Mutex

	m.Handle(path, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		fail := remaining > 0
		if fail {
			remaining--
		}
		mu.Unlock()

		if fail {
			w.Header().Set("Retry-After", retryAfter)
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	})
}

// RequestCount returns how many requests the given path has received.
func (m *MockAPI) RequestCount(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[path]
}

// TotalRequests returns the number of requests across all paths.
func (m *MockAPI) TotalRequests() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	total := 0
	for _, count := range m.counts {
		total += count
	}
	return total
}
