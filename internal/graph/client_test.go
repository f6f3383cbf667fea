package graph

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(t *testing.T, server *httptest.Server, opts ClientOptions) *Client {
	t.Helper()
	opts.BaseURL = server.URL + "/v1.0"
	if opts.TokenProvider == nil {
		opts.TokenProvider = StaticToken("token_123")
	}
	opts.HTTPClient = server.Client()
	if opts.BaseDelay == 0 {
		opts.BaseDelay = time.Millisecond
	}
	if opts.MaxDelay == 0 {
		opts.MaxDelay = 5 * time.Millisecond
	}
	client, err := NewClient(opts)
	if err != nil {
		t.Fatalf("new client failed: %v", err)
	}
	return client
}

func TestClientGetSendsExpectedRequest(t *testing.T) {
	var capturedAuth, capturedPath, capturedSelect, capturedRequestID string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedAuth = r.Header.Get("Authorization")
		capturedPath = r.URL.Path
		capturedSelect = r.URL.Query().Get("$select")
		capturedRequestID = r.Header.Get("client-request-id")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"value":[]}`))
	}))
	defer server.Close()

	client := newTestClient(t, server, ClientOptions{})
	result := client.Get(context.Background(), "users?$select=id,displayName")
	if result.Status != StatusOK {
		t.Fatalf("expected ok, got %s (%v)", result.Status, result.Err)
	}
	if capturedAuth != "Bearer token_123" {
		t.Fatalf("expected bearer auth, got %q", capturedAuth)
	}
	if capturedPath != "/v1.0/users" {
		t.Fatalf("expected relative link to resolve under base url, got %s", capturedPath)
	}
	if capturedSelect != "id,displayName" {
		t.Fatalf("expected $select to be forwarded, got %q", capturedSelect)
	}
	if capturedRequestID == "" {
		t.Fatalf("expected client-request-id header")
	}
	if string(result.Body) != `{"value":[]}` {
		t.Fatalf("unexpected body %q", string(result.Body))
	}
}

func TestClientGetFollowsAbsoluteLinks(t *testing.T) {
	var capturedSkipToken string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedSkipToken = r.URL.Query().Get("$skiptoken")
		_, _ = w.Write([]byte(`{"value":[]}`))
	}))
	defer server.Close()

	client := newTestClient(t, server, ClientOptions{})
	result := client.Get(context.Background(), server.URL+"/v1.0/auditLogs/signIns?$skiptoken=abc")
	if result.Status != StatusOK {
		t.Fatalf("expected ok, got %s (%v)", result.Status, result.Err)
	}
	if capturedSkipToken != "abc" {
		t.Fatalf("expected skiptoken abc, got %q", capturedSkipToken)
	}
}

func TestClientGetReportsThrottling(t *testing.T) {
	for _, status := range []int{http.StatusTooManyRequests, http.StatusServiceUnavailable} {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", "7")
			w.WriteHeader(status)
		}))
		client := newTestClient(t, server, ClientOptions{})
		result := client.Get(context.Background(), "auditLogs/signIns")
		server.Close()
		if result.Status != StatusThrottled {
			t.Fatalf("status %d: expected throttled, got %s", status, result.Status)
		}
		if result.RetryAfter != 7*time.Second {
			t.Fatalf("status %d: expected retry after 7s, got %s", status, result.RetryAfter)
		}
	}
}

func TestClientRetriesTransientFailure(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"value":[{"id":"u1"}]}`))
	}))
	defer server.Close()

	client := newTestClient(t, server, ClientOptions{MaxRetries: 2})
	result := client.Get(context.Background(), "users")
	if result.Status != StatusOK {
		t.Fatalf("expected retry to recover from transient 502, got %s (%v)", result.Status, result.Err)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("expected exactly 2 calls, got %d", atomic.LoadInt32(&calls))
	}
}

func TestClientReturnsHTTPErrorOnPermanentFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]string{"code": "Authorization_RequestDenied", "message": "Insufficient privileges"},
		})
	}))
	defer server.Close()

	client := newTestClient(t, server, ClientOptions{})
	result := client.Get(context.Background(), "auditLogs/directoryAudits")
	if result.Status != StatusFailed {
		t.Fatalf("expected failed, got %s", result.Status)
	}
	var httpErr *HTTPError
	if !errors.As(result.Err, &httpErr) {
		t.Fatalf("expected *HTTPError, got %T", result.Err)
	}
	if httpErr.StatusCode != http.StatusForbidden || httpErr.Code != "Authorization_RequestDenied" {
		t.Fatalf("unexpected http error: %+v", httpErr)
	}
}

func TestClientFailsWhenTokenUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("no request expected without a token")
	}))
	defer server.Close()

	client := newTestClient(t, server, ClientOptions{
		TokenProvider: func(ctx context.Context) (string, error) {
			return "", errors.New("invalid_client")
		},
	})
	result := client.Get(context.Background(), "users")
	if result.Status != StatusFailed || !strings.Contains(result.Err.Error(), "invalid_client") {
		t.Fatalf("expected token failure, got %s (%v)", result.Status, result.Err)
	}
}

func TestParseRetryAfter(t *testing.T) {
	if got := ParseRetryAfter("3"); got != 3*time.Second {
		t.Fatalf("expected 3s, got %s", got)
	}
	if got := ParseRetryAfter(""); got != 0 {
		t.Fatalf("expected zero for empty header, got %s", got)
	}
	if got := ParseRetryAfter("soon"); got != 0 {
		t.Fatalf("expected zero for garbage header, got %s", got)
	}
	future := time.Now().Add(90 * time.Second).UTC().Format(http.TimeFormat)
	if got := ParseRetryAfter(future); got <= 0 || got > 90*time.Second {
		t.Fatalf("expected positive delay up to 90s for http date, got %s", got)
	}
}

func TestClientCredentialsRequestsToken(t *testing.T) {
	var grantType, scope string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		grantType = r.Form.Get("grant_type")
		scope = r.Form.Get("scope")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"graph_token","token_type":"Bearer","expires_in":3600}`))
	}))
	defer server.Close()

	provider, err := ClientCredentials(ClientCredentialsOptions{
		TenantID:     "tenant",
		ClientID:     "client",
		ClientSecret: "secret",
		TokenURL:     server.URL + "/token",
	})
	if err != nil {
		t.Fatalf("client credentials failed: %v", err)
	}
	token, err := provider(context.Background())
	if err != nil {
		t.Fatalf("token request failed: %v", err)
	}
	if token != "graph_token" {
		t.Fatalf("expected graph_token, got %q", token)
	}
	if grantType != "client_credentials" {
		t.Fatalf("expected client_credentials grant, got %q", grantType)
	}
	if scope != DefaultScope {
		t.Fatalf("expected default scope, got %q", scope)
	}
}

func TestClientCredentialsRequiresSecrets(t *testing.T) {
	if _, err := ClientCredentials(ClientCredentialsOptions{TenantID: "tenant"}); err == nil {
		t.Fatalf("expected error for missing client id and secret")
	}
}
