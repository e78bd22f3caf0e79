package computor

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

const (
	testResponseBody       = "test response"
	successResponseBody    = "success"
	contentTypeJSON        = "application/json"
	expectedStatus200Msg   = "Expected status 200, got %d"
	failedWriteResponseMsg = "Failed to write response: %v"
)

// fastRetries keeps retry tests quick.
func fastRetries() []Option {
	return []Option{
		WithInitialBackoff(time.Millisecond),
		WithMaxBackoff(5 * time.Millisecond),
		WithJitter(0),
	}
}

type nopLogger struct{}

func (nopLogger) Debug(msg string, keysAndValues ...any) {}
func (nopLogger) Info(msg string, keysAndValues ...any)  {}
func (nopLogger) Warn(msg string, keysAndValues ...any)  {}
func (nopLogger) Error(msg string, keysAndValues ...any) {}

func assertCounter(t *testing.T, c prometheus.Counter, want float64, name string) {
	t.Helper()
	if got := testutil.ToFloat64(c); got != want {
		t.Errorf("Expected %s=%v, got %v", name, want, got)
	}
}

func assertGauge(t *testing.T, g prometheus.Gauge, want float64, name string) {
	t.Helper()
	if got := testutil.ToFloat64(g); got != want {
		t.Errorf("Expected %s=%v, got %v", name, want, got)
	}
}

type staticAuth struct {
	headers map[string]string
	err     error
}

func (a *staticAuth) Authenticate(ctx context.Context) error { return nil }
func (a *staticAuth) IsAuthenticated() bool                  { return true }
func (a *staticAuth) RefreshAuth(ctx context.Context) error  { return nil }
func (a *staticAuth) AuthHeaders(ctx context.Context) (map[string]string, error) {
	return a.headers, a.err
}

func TestNew(t *testing.T) {
	client := New()

	if client == nil {
		t.Fatal("New() returned nil")
	}
	if !client.IsValid() {
		t.Fatalf("Expected default configuration to be valid: %v", client.ValidationError())
	}
	if client.maxRetries != 3 {
		t.Errorf("Expected maxRetries=3, got %d", client.maxRetries)
	}
	if client.initialBackoff != 100*time.Millisecond {
		t.Errorf("Expected initialBackoff=100ms, got %v", client.initialBackoff)
	}
	if client.httpClient.Timeout != 30*time.Second {
		t.Errorf("Expected timeout=30s, got %v", client.httpClient.Timeout)
	}
	if client.circuitBreaker == nil {
		t.Error("Expected circuit breaker enabled by default")
	}
	if !client.IsAuthenticated() {
		t.Error("Expected client without credentials to report authenticated")
	}
}

func TestGet(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "GET" {
			t.Errorf("Expected GET method, got %s", r.Method)
		}
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(testResponseBody)); err != nil {
			t.Fatalf(failedWriteResponseMsg, err)
		}
	}))
	defer server.Close()

	client := New()
	resp, err := client.Get(context.Background(), server.URL, nil)

	if err != nil {
		t.Fatalf("Get() returned error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf(expectedStatus200Msg, resp.StatusCode)
	}
	if resp.Text() != testResponseBody {
		t.Errorf("Expected '%s', got '%s'", testResponseBody, resp.Text())
	}
	if resp.FromCache {
		t.Error("Expected a network response, not a cached one")
	}
}

func TestGetWithQueryParams(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("page"); got != "2" {
			t.Errorf("Expected page=2, got %q", got)
		}
		if got := r.URL.Query().Get("limit"); got != "50" {
			t.Errorf("Expected limit=50, got %q", got)
		}
		if r.URL.Query().Has("skip") {
			t.Error("Expected nil parameter to be dropped")
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := New()
	_, err := client.Get(context.Background(), server.URL, map[string]any{
		"page":  2,
		"limit": "50",
		"skip":  nil,
	})
	if err != nil {
		t.Fatalf("Get() returned error: %v", err)
	}
}

func TestPostJSONBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" {
			t.Errorf("Expected POST method, got %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != contentTypeJSON {
			t.Errorf("Expected Content-Type %s, got %s", contentTypeJSON, ct)
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != `{"title":"Algorithms"}` {
			t.Errorf("Unexpected body: %s", body)
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	client := New()
	resp, err := client.Post(context.Background(), server.URL, map[string]string{"title": "Algorithms"})
	if err != nil {
		t.Fatalf("Post() returned error: %v", err)
	}
	if resp.StatusCode != http.StatusCreated {
		t.Errorf("Expected status 201, got %d", resp.StatusCode)
	}
}

func TestPostStringBodyKeepsContentType(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "" {
			t.Errorf("Expected no implicit Content-Type for string bodies, got %q", ct)
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != "plain text" {
			t.Errorf("Unexpected body: %s", body)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := New()
	if _, err := client.Post(context.Background(), server.URL, "plain text"); err != nil {
		t.Fatalf("Post() returned error: %v", err)
	}
}

func TestPutPatchDelete(t *testing.T) {
	var gotMethod string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := New()
	ctx := context.Background()

	if _, err := client.Put(ctx, server.URL, map[string]int{"n": 1}); err != nil {
		t.Fatalf("Put() returned error: %v", err)
	}
	if gotMethod != "PUT" {
		t.Errorf("Expected PUT, got %s", gotMethod)
	}

	if _, err := client.Patch(ctx, server.URL, map[string]int{"n": 2}); err != nil {
		t.Fatalf("Patch() returned error: %v", err)
	}
	if gotMethod != "PATCH" {
		t.Errorf("Expected PATCH, got %s", gotMethod)
	}

	if _, err := client.Delete(ctx, server.URL); err != nil {
		t.Fatalf("Delete() returned error: %v", err)
	}
	if gotMethod != "DELETE" {
		t.Errorf("Expected DELETE, got %s", gotMethod)
	}
}

func TestBuildURL(t *testing.T) {
	client := New(WithBaseURL("https://api.example.com/"))

	tests := []struct {
		name     string
		endpoint string
		params   map[string]any
		want     string
	}{
		{name: "leading slash", endpoint: "/courses", want: "https://api.example.com/courses"},
		{name: "no slash", endpoint: "courses", want: "https://api.example.com/courses"},
		{name: "empty endpoint", endpoint: "", want: "https://api.example.com"},
		{name: "params sorted", endpoint: "/courses", params: map[string]any{"b": 2, "a": 1}, want: "https://api.example.com/courses?a=1&b=2"},
		{name: "nil param dropped", endpoint: "/courses", params: map[string]any{"a": 1, "b": nil}, want: "https://api.example.com/courses?a=1"},
		{name: "absolute bypasses base", endpoint: "https://other.example.com/x", want: "https://other.example.com/x"},
		{name: "existing query extended", endpoint: "/courses?x=1", params: map[string]any{"y": 2}, want: "https://api.example.com/courses?x=1&y=2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := client.BuildURL(tt.endpoint, tt.params); got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestExecuteValidatesBeforeNetwork(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := New()
	ctx := context.Background()

	if _, err := client.Execute(ctx, nil); !IsValidationError(err) {
		t.Errorf("Expected validation error for nil request, got %v", err)
	}

	if _, err := client.Execute(ctx, &Request{Method: "GET", URL: ""}); !IsValidationError(err) {
		t.Errorf("Expected validation error for missing URL, got %v", err)
	}

	if _, err := client.Execute(ctx, &Request{Method: "GET", URL: server.URL, Timeout: -time.Second}); !IsValidationError(err) {
		t.Errorf("Expected validation error for negative timeout, got %v", err)
	}

	if _, err := client.Execute(ctx, &Request{Method: "POST", URL: server.URL, Body: func() {}}); !IsValidationError(err) {
		t.Errorf("Expected validation error for unserializable body, got %v", err)
	}

	if calls != 0 {
		t.Errorf("Expected no network calls for invalid requests, got %d", calls)
	}
}

func TestExecuteDefaultsMethodToGet(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "GET" {
			t.Errorf("Expected GET, got %s", r.Method)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := New()
	if _, err := client.Execute(nil, &Request{URL: server.URL}); err != nil {
		t.Fatalf("Execute() returned error: %v", err)
	}
}

func TestRetryOnServerError(t *testing.T) {
	callCount := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		callCount++
		if callCount < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(successResponseBody)); err != nil {
			t.Fatalf(failedWriteResponseMsg, err)
		}
	}))
	defer server.Close()

	client := New(append(fastRetries(), WithMaxRetries(3))...)
	resp, err := client.Get(context.Background(), server.URL, nil)

	if err != nil {
		t.Fatalf("Get() returned error: %v", err)
	}
	if callCount != 3 {
		t.Errorf("Expected 3 calls, got %d", callCount)
	}
	if resp.Text() != successResponseBody {
		t.Errorf("Expected '%s', got '%s'", successResponseBody, resp.Text())
	}
}

func TestNoRetryOnClientError(t *testing.T) {
	callCount := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		callCount++
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	client := New(append(fastRetries(), WithMaxRetries(3))...)
	resp, err := client.Get(context.Background(), server.URL, nil)

	if callCount != 1 {
		t.Errorf("Expected exactly 1 call for a 400, got %d", callCount)
	}
	if resp != nil {
		t.Error("Expected nil response on final error")
	}
	if !IsHTTPError(err) {
		t.Errorf("Expected HTTP error, got %v", err)
	}
	if code, ok := HTTPStatus(err); !ok || code != 400 {
		t.Errorf("Expected status 400 on error, got %d", code)
	}
}

func TestRetriesExhausted(t *testing.T) {
	callCount := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		callCount++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := New(append(fastRetries(), WithMaxRetries(2))...)
	_, err := client.Get(context.Background(), server.URL, nil)

	if callCount != 3 {
		t.Errorf("Expected 3 calls (1 + 2 retries), got %d", callCount)
	}
	if err == nil {
		t.Fatal("Expected error after exhausting retries")
	}

	var clientErr *ClientError
	if !errors.As(err, &clientErr) {
		t.Fatalf("Expected *ClientError, got %T", err)
	}
	if clientErr.Attempt != 3 || clientErr.MaxAttempts != 3 {
		t.Errorf("Expected attempt 3/3, got %d/%d", clientErr.Attempt, clientErr.MaxAttempts)
	}
	if clientErr.Method != "GET" {
		t.Errorf("Expected method stamped on error, got %q", clientErr.Method)
	}
}

func TestHeaderMergePrecedence(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-Shared"); got != "request" {
			t.Errorf("Expected per-request header to win, got %q", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer token-1" {
			t.Errorf("Expected auth header, got %q", got)
		}
		if got := r.Header.Get("X-Default"); got != "default" {
			t.Errorf("Expected default header to pass through, got %q", got)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := New(
		WithDefaultHeaders(map[string]string{"X-Default": "default", "X-Shared": "default"}),
		WithAuth(&staticAuth{headers: map[string]string{
			"Authorization": "Bearer token-1",
			"X-Shared":      "auth",
		}}),
	)

	_, err := client.Execute(context.Background(), &Request{
		Method: "GET",
		URL:    server.URL,
		Header: map[string]string{"X-Shared": "request"},
	})
	if err != nil {
		t.Fatalf("Execute() returned error: %v", err)
	}
}

func TestAuthHeaderFailureAbortsRequest(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	wantErr := newAuthError("token refresh failed", nil)
	client := New(WithAuth(&staticAuth{err: wantErr}))

	_, err := client.Get(context.Background(), server.URL, nil)
	if !errors.Is(err, wantErr) {
		t.Errorf("Expected auth error to propagate, got %v", err)
	}
	if calls != 0 {
		t.Errorf("Expected no network call when auth headers fail, got %d", calls)
	}
}

func TestUserAgentDefault(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("User-Agent"); got != UserAgent {
			t.Errorf("Expected default User-Agent %q, got %q", UserAgent, got)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := New()
	if _, err := client.Get(context.Background(), server.URL, nil); err != nil {
		t.Fatalf("Get() returned error: %v", err)
	}
}

func TestRequestInterceptorOrderAndMutation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-Tag"); got != "first,second" {
			t.Errorf("Expected interceptors applied in order, got %q", got)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	tag := func(value string) RequestInterceptor {
		return func(ctx context.Context, req *Request) error {
			if req.Header == nil {
				req.Header = map[string]string{}
			}
			if existing := req.Header["X-Tag"]; existing != "" {
				req.Header["X-Tag"] = existing + "," + value
			} else {
				req.Header["X-Tag"] = value
			}
			return nil
		}
	}

	client := New(WithRequestInterceptor(tag("first"), tag("second")))
	if _, err := client.Get(context.Background(), server.URL, nil); err != nil {
		t.Fatalf("Get() returned error: %v", err)
	}
}

func TestRequestInterceptorAborts(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	wantErr := errors.New("rejected by interceptor")
	client := New(WithRequestInterceptor(func(ctx context.Context, req *Request) error {
		return wantErr
	}))

	_, err := client.Get(context.Background(), server.URL, nil)
	if !errors.Is(err, wantErr) {
		t.Errorf("Expected interceptor error, got %v", err)
	}
	if calls != 0 {
		t.Errorf("Expected no network call after abort, got %d", calls)
	}
}

func TestResponseInterceptor(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("raw")); err != nil {
			t.Fatalf(failedWriteResponseMsg, err)
		}
	}))
	defer server.Close()

	client := New(WithResponseInterceptor(func(ctx context.Context, resp *Response) error {
		resp.Body = []byte("rewritten")
		return nil
	}))

	resp, err := client.Get(context.Background(), server.URL, nil)
	if err != nil {
		t.Fatalf("Get() returned error: %v", err)
	}
	if resp.Text() != "rewritten" {
		t.Errorf("Expected interceptor to mutate the response, got %q", resp.Text())
	}
}

func TestResponseInterceptorError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	wantErr := errors.New("payload rejected")
	client := New(WithResponseInterceptor(func(ctx context.Context, resp *Response) error {
		return wantErr
	}))

	_, err := client.Get(context.Background(), server.URL, nil)
	if !errors.Is(err, wantErr) {
		t.Errorf("Expected response interceptor error, got %v", err)
	}
}

func TestCacheHitSkipsNetwork(t *testing.T) {
	callCount := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		callCount++
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("cacheable")); err != nil {
			t.Fatalf(failedWriteResponseMsg, err)
		}
	}))
	defer server.Close()

	client := New(WithCache(time.Minute))
	ctx := context.Background()

	first, err := client.Get(ctx, server.URL, nil)
	if err != nil {
		t.Fatalf("first Get() returned error: %v", err)
	}
	second, err := client.Get(ctx, server.URL, nil)
	if err != nil {
		t.Fatalf("second Get() returned error: %v", err)
	}

	if callCount != 1 {
		t.Errorf("Expected 1 network call, got %d", callCount)
	}
	if first.FromCache {
		t.Error("Expected first response from network")
	}
	if !second.FromCache {
		t.Error("Expected second response from cache")
	}
	if second.Text() != "cacheable" {
		t.Errorf("Expected cached body, got %q", second.Text())
	}
}

func TestCacheSkipsNonGetByDefault(t *testing.T) {
	callCount := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		callCount++
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := New(WithCache(time.Minute))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := client.Post(ctx, server.URL, map[string]int{"n": i}); err != nil {
			t.Fatalf("Post() returned error: %v", err)
		}
	}
	if callCount != 2 {
		t.Errorf("Expected POSTs to bypass the cache, got %d calls", callCount)
	}
}

func TestCacheErrorResponsesNotStored(t *testing.T) {
	callCount := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		callCount++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := New(WithCache(time.Minute), WithMaxRetries(0))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := client.Get(ctx, server.URL, nil); !IsHTTPError(err) {
			t.Fatalf("Expected HTTP error, got %v", err)
		}
	}
	if callCount != 2 {
		t.Errorf("Expected error responses to skip the cache, got %d calls", callCount)
	}
}

func TestCacheContextOverride(t *testing.T) {
	callCount := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		callCount++
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := New(WithCache(time.Minute))

	// Bypass for a call that would normally be cached.
	off := WithContextCacheDisabled(context.Background())
	for i := 0; i < 2; i++ {
		if _, err := client.Get(off, server.URL, nil); err != nil {
			t.Fatalf("Get() returned error: %v", err)
		}
	}
	if callCount != 2 {
		t.Errorf("Expected context to bypass the cache, got %d calls", callCount)
	}

	// Opt a POST in, which the default condition would skip.
	on := WithContextCacheEnabled(context.Background())
	body := map[string]string{"q": "stable"}
	if _, err := client.Post(on, server.URL, body); err != nil {
		t.Fatalf("Post() returned error: %v", err)
	}
	resp, err := client.Post(on, server.URL, body)
	if err != nil {
		t.Fatalf("Post() returned error: %v", err)
	}
	if callCount != 3 {
		t.Errorf("Expected second POST served from cache, got %d calls", callCount)
	}
	if !resp.FromCache {
		t.Error("Expected cached response for opted-in POST")
	}
}

func TestHTTPCacheSemantics(t *testing.T) {
	callCount := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		callCount++
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := New(WithCache(time.Minute), WithHTTPCacheSemantics())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := client.Get(ctx, server.URL, nil); err != nil {
			t.Fatalf("Get() returned error: %v", err)
		}
	}
	if callCount != 2 {
		t.Errorf("Expected no-store to prevent caching, got %d calls", callCount)
	}
}

func TestHTTPCacheSemanticsMaxAge(t *testing.T) {
	callCount := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		callCount++
		w.Header().Set("Cache-Control", "max-age=300")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := New(WithCache(time.Minute), WithHTTPCacheSemantics())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := client.Get(ctx, server.URL, nil); err != nil {
			t.Fatalf("Get() returned error: %v", err)
		}
	}
	if callCount != 1 {
		t.Errorf("Expected max-age response to be cached, got %d calls", callCount)
	}
}

func TestDeduplicationCoalescesConcurrentGets(t *testing.T) {
	var callCount atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		callCount.Add(1)
		time.Sleep(100 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("shared")); err != nil {
			t.Fatalf(failedWriteResponseMsg, err)
		}
	}))
	defer server.Close()

	client := New(WithDeduplication())
	ctx := context.Background()

	var wg sync.WaitGroup
	bodies := make(chan string, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := client.Get(ctx, server.URL, nil)
			if err != nil {
				t.Errorf("Get() returned error: %v", err)
				return
			}
			bodies <- resp.Text()
		}()
	}
	wg.Wait()
	close(bodies)

	if got := callCount.Load(); got != 1 {
		t.Errorf("Expected 1 network call for 5 concurrent requests, got %d", got)
	}
	for body := range bodies {
		if body != "shared" {
			t.Errorf("Expected shared body, got %q", body)
		}
	}
}

func TestDeduplicationSkipsMutatingMethods(t *testing.T) {
	var callCount atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		callCount.Add(1)
		time.Sleep(50 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := New(WithDeduplication())
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := client.Post(ctx, server.URL, "payload"); err != nil {
				t.Errorf("Post() returned error: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := callCount.Load(); got != 3 {
		t.Errorf("Expected POSTs to not coalesce, got %d calls", got)
	}
}

func TestRateLimiterDenial(t *testing.T) {
	callCount := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		callCount++
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := New(WithRateLimiter(1, time.Hour))
	ctx := context.Background()

	if _, err := client.Get(ctx, server.URL, nil); err != nil {
		t.Fatalf("first Get() returned error: %v", err)
	}

	_, err := client.Get(ctx, server.URL, nil)
	if !IsRateLimitError(err) {
		t.Errorf("Expected rate limit error, got %v", err)
	}
	if !errors.Is(err, ErrRateLimited) {
		t.Errorf("Expected ErrRateLimited sentinel, got %v", err)
	}
	if callCount != 1 {
		t.Errorf("Expected denied request to never reach the server, got %d calls", callCount)
	}
}

func TestScopedRateLimiter(t *testing.T) {
	callCount := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		callCount++
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	u, err := url.Parse(server.URL)
	if err != nil {
		t.Fatalf("parse server URL: %v", err)
	}

	registry := NewRateLimiterRegistry(HostKeyFunc, nil)
	registry.RegisterLimiter("host:"+u.Host, NewRateLimiter(1, time.Hour))

	client := New(WithRateLimiterRegistry(registry))
	ctx := context.Background()

	if _, err := client.Get(ctx, server.URL, nil); err != nil {
		t.Fatalf("first Get() returned error: %v", err)
	}
	if _, err := client.Get(ctx, server.URL, nil); !IsRateLimitError(err) {
		t.Errorf("Expected scoped rate limit denial, got %v", err)
	}
	if callCount != 1 {
		t.Errorf("Expected 1 call, got %d", callCount)
	}
}

func TestCircuitBreakerDenial(t *testing.T) {
	callCount := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		callCount++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := New(
		WithMaxRetries(0),
		WithCircuitBreaker(CircuitBreakerConfig{
			FailureThreshold: 1,
			RecoveryTimeout:  time.Hour,
		}),
	)
	ctx := context.Background()

	if _, err := client.Get(ctx, server.URL, nil); !IsHTTPError(err) {
		t.Fatalf("Expected HTTP error on first call, got %v", err)
	}

	_, err := client.Get(ctx, server.URL, nil)
	if !IsCircuitOpenError(err) {
		t.Errorf("Expected circuit open error, got %v", err)
	}
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Expected ErrCircuitOpen sentinel, got %v", err)
	}
	if callCount != 1 {
		t.Errorf("Expected open breaker to shed the second call, got %d calls", callCount)
	}
}

func TestClientErrorsDoNotTripBreaker(t *testing.T) {
	callCount := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		callCount++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := New(
		WithMaxRetries(0),
		WithCircuitBreaker(CircuitBreakerConfig{
			FailureThreshold: 2,
			RecoveryTimeout:  time.Hour,
		}),
	)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		if _, err := client.Get(ctx, server.URL, nil); !IsHTTPError(err) {
			t.Fatalf("Expected HTTP error, got %v", err)
		}
	}
	if callCount != 4 {
		t.Errorf("Expected 4xx responses to keep the breaker closed, got %d calls", callCount)
	}
}

func TestPerRequestTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := New(WithMaxRetries(0))
	_, err := client.Execute(context.Background(), &Request{
		Method:  "GET",
		URL:     server.URL,
		Timeout: 20 * time.Millisecond,
	})

	if !IsTimeoutError(err) {
		t.Errorf("Expected timeout error, got %v", err)
	}
}

func TestRetryBudgetExhaustion(t *testing.T) {
	callCount := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		callCount++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := New(append(fastRetries(),
		WithMaxRetries(3),
		WithRetryBudget(0, time.Hour),
	)...)

	_, err := client.Get(context.Background(), server.URL, nil)
	if !errors.Is(err, ErrRetryBudgetExceeded) {
		t.Errorf("Expected ErrRetryBudgetExceeded, got %v", err)
	}
	if callCount != 1 {
		t.Errorf("Expected the budget to block all retries, got %d calls", callCount)
	}
}

type attemptCapPolicy struct {
	cap int
}

func (p attemptCapPolicy) ShouldRetry(req *Request, resp *Response, err error, attempt int) (time.Duration, bool) {
	if attempt >= p.cap || err == nil {
		return 0, false
	}
	return time.Millisecond, true
}

func TestRetryPolicyOverridesCondition(t *testing.T) {
	callCount := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		callCount++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := New(
		WithMaxRetries(5),
		WithRetryCondition(func(resp *Response, err error) bool { return false }),
		WithRetryPolicy(attemptCapPolicy{cap: 1}),
	)

	_, err := client.Get(context.Background(), server.URL, nil)
	if err == nil {
		t.Fatal("Expected error from persistent 500s")
	}
	if callCount != 2 {
		t.Errorf("Expected policy to allow exactly 1 retry, got %d calls", callCount)
	}
}

func TestMiddlewareWrapsEveryAttempt(t *testing.T) {
	callCount := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		callCount++
		if callCount == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	middlewareCalls := 0
	client := New(append(fastRetries(),
		WithMaxRetries(2),
		WithMiddleware(func(req *http.Request, next RoundTripper) (*http.Response, error) {
			middlewareCalls++
			req.Header.Set("X-Middleware", "applied")
			return next.RoundTrip(req)
		}),
	)...)

	if _, err := client.Get(context.Background(), server.URL, nil); err != nil {
		t.Fatalf("Get() returned error: %v", err)
	}
	if middlewareCalls != 2 {
		t.Errorf("Expected middleware around each attempt, got %d", middlewareCalls)
	}
}

func TestMiddlewareOrder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-Order"); got != "outer,inner" {
			t.Errorf("Expected outer middleware to run first, got %q", got)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	tag := func(value string) Middleware {
		return func(req *http.Request, next RoundTripper) (*http.Response, error) {
			if existing := req.Header.Get("X-Order"); existing != "" {
				req.Header.Set("X-Order", existing+","+value)
			} else {
				req.Header.Set("X-Order", value)
			}
			return next.RoundTrip(req)
		}
	}

	client := New(WithMiddleware(tag("outer")), WithMiddleware(tag("inner")))
	if _, err := client.Get(context.Background(), server.URL, nil); err != nil {
		t.Fatalf("Get() returned error: %v", err)
	}
}

func TestDebugRequestIDStampedOnErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	client := New(
		WithMaxRetries(0),
		WithLogger(nopLogger{}),
		WithDebugConfig(&DebugConfig{
			Enabled:      true,
			LogRequests:  true,
			RequestIDGen: func() string { return "req-fixed" },
		}),
	)
	if !client.IsValid() {
		t.Fatalf("Expected valid configuration: %v", client.ValidationError())
	}

	_, err := client.Get(context.Background(), server.URL, nil)

	var clientErr *ClientError
	if !errors.As(err, &clientErr) {
		t.Fatalf("Expected *ClientError, got %T", err)
	}
	if clientErr.RequestID != "req-fixed" {
		t.Errorf("Expected request ID on error, got %q", clientErr.RequestID)
	}
}

func TestExecuteRecordsMetrics(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	metrics := newTestMetrics()
	client := New(WithMetricsCollector(metrics), WithCache(time.Minute))
	ctx := context.Background()

	if _, err := client.Get(ctx, server.URL, nil); err != nil {
		t.Fatalf("Get() returned error: %v", err)
	}
	if _, err := client.Get(ctx, server.URL, nil); err != nil {
		t.Fatalf("Get() returned error: %v", err)
	}

	endpoint := endpointFromURL(client.BuildURL(server.URL, nil))
	assertCounter(t, metrics.requestsTotal.WithLabelValues("GET", "200", endpoint), 2, "requests")
	assertCounter(t, metrics.cacheMisses.WithLabelValues("GET", endpoint), 1, "cache misses")
	assertCounter(t, metrics.cacheHits.WithLabelValues("GET", endpoint), 1, "cache hits")
	assertGauge(t, metrics.requestsInFlight.WithLabelValues("GET", endpoint), 0, "in flight")
}

func TestEndpointFromURL(t *testing.T) {
	tests := []struct {
		rawURL string
		want   string
	}{
		{rawURL: "https://api.example.com/courses/42?full=1", want: "api.example.com/courses/42"},
		{rawURL: "https://api.example.com", want: "api.example.com/"},
		{rawURL: "https://api.example.com/", want: "api.example.com/"},
		{rawURL: "not a url", want: "unknown"},
	}

	for _, tt := range tests {
		if got := endpointFromURL(tt.rawURL); got != tt.want {
			t.Errorf("endpointFromURL(%q): expected %q, got %q", tt.rawURL, tt.want, got)
		}
	}
}
