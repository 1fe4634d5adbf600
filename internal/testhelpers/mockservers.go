package testhelpers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// IssuerResponse overrides the issuer's reply for one uid.
type IssuerResponse struct {
	StatusCode int           // HTTP status code (200 if not set)
	Body       string        // raw body; when empty a {"token": ...} object is written
	Delay      time.Duration // time to wait before responding
}

// MockIssuerServer provides a configurable token issuing service. By default
// every uid is issued "token-<uid>".
type MockIssuerServer struct {
	Server *httptest.Server

	// Responses overrides the reply for specific uids.
	Responses map[string]IssuerResponse

	// ListShape wraps default replies as [{"token": ...}] instead of a bare
	// object.
	ListShape bool

	requestCount atomic.Int32
}

// SetupMockIssuerServer creates a mock token issuer handling
// GET /token?uid=..&password=.. requests. Configure the exported fields
// before issuing requests.
func SetupMockIssuerServer(t *testing.T) *MockIssuerServer {
	t.Helper()

	mock := &MockIssuerServer{
		Responses: map[string]IssuerResponse{},
	}

	router := http.NewServeMux()

	router.HandleFunc("GET /token", func(w http.ResponseWriter, r *http.Request) {
		mock.requestCount.Add(1)

		uid := r.URL.Query().Get("uid")
		if uid == "" || r.URL.Query().Get("password") == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		response, overridden := mock.Responses[uid]
		if overridden && response.Delay > 0 {
			select {
			case <-time.After(response.Delay):
			case <-r.Context().Done():
				return
			}
		}

		if overridden && response.StatusCode != 0 && response.StatusCode != http.StatusOK {
			w.WriteHeader(response.StatusCode)
			return
		}

		if overridden && response.Body != "" {
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, response.Body)
			return
		}

		payload := map[string]string{"token": "token-" + uid}
		if mock.ListShape {
			WriteJSON(w, []map[string]string{payload})
			return
		}
		WriteJSON(w, payload)
	})

	mock.Server = httptest.NewServer(router)
	return mock
}

// URL is the token endpoint of the mock issuer.
func (m *MockIssuerServer) URL() string {
	return m.Server.URL + "/token"
}

// RequestCount is the number of token requests received.
func (m *MockIssuerServer) RequestCount() int {
	return int(m.requestCount.Load())
}

// Close shuts down the mock server.
func (m *MockIssuerServer) Close() {
	m.Server.Close()
}

// MockActionServer provides a configurable action endpoint. Requests succeed
// unless the bearer token is listed in FailTokens or StatusCode is changed.
type MockActionServer struct {
	Server     *httptest.Server
	StatusCode int             // HTTP status code to return (200 if not set)
	FailTokens map[string]bool // tokens answered with 500

	mu         sync.Mutex
	tokens     []string
	lastBody   []byte
	lastHeader http.Header
}

// SetupMockActionServer creates a mock action service handling
// POST /RequestAddingFriend.
func SetupMockActionServer(t *testing.T) *MockActionServer {
	t.Helper()

	mock := &MockActionServer{
		StatusCode: http.StatusOK,
		FailTokens: map[string]bool{},
	}

	router := http.NewServeMux()

	router.HandleFunc("POST /RequestAddingFriend", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")

		mock.mu.Lock()
		mock.tokens = append(mock.tokens, token)
		mock.lastBody = body
		mock.lastHeader = r.Header.Clone()
		fail := mock.FailTokens[token]
		status := mock.StatusCode
		mock.mu.Unlock()

		if fail {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(status)
	})

	mock.Server = httptest.NewServer(router)
	return mock
}

// URL is the action endpoint of the mock server.
func (m *MockActionServer) URL() string {
	return m.Server.URL + "/RequestAddingFriend"
}

// Tokens returns the bearer tokens received, in arrival order.
func (m *MockActionServer) Tokens() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.tokens...)
}

// RequestCount is the number of action requests received.
func (m *MockActionServer) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tokens)
}

// LastRequest returns the body and headers of the most recent request.
func (m *MockActionServer) LastRequest() ([]byte, http.Header) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastBody, m.lastHeader
}

// Close shuts down the mock server.
func (m *MockActionServer) Close() {
	m.Server.Close()
}

// WriteJSON is a helper function that writes a JSON response.
// It sets the Content-Type header and marshals the payload to JSON.
func WriteJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	data, err := json.Marshal(payload)
	if err != nil {
		// In test context, this should never happen with valid test data
		http.Error(w, fmt.Sprintf("failed to marshal JSON: %v", err), http.StatusInternalServerError)
		return
	}
	_, _ = w.Write(data)
}
