package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mongo-signup/server/internal/config"
	"github.com/mongo-signup/server/internal/logging"
	"github.com/mongo-signup/server/internal/metrics"
	"github.com/mongo-signup/server/internal/users"
	"github.com/mongo-signup/server/internal/users/userstest"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeStore struct {
	repo    *userstest.Repository
	pingErr error
	closed  atomic.Int32
}

func newFakeStore() *fakeStore {
	return &fakeStore{repo: userstest.NewRepository()}
}

func (s *fakeStore) Users() users.Repository { return s.repo }
func (s *fakeStore) Ping(context.Context) error { return s.pingErr }
func (s *fakeStore) Close(context.Context) error {
	s.closed.Add(1)
	return nil
}

func connectTo(s *fakeStore) ConnectFunc {
	return func(context.Context) (Store, error) { return s, nil }
}

func failConnect(context.Context) (Store, error) {
	return nil, errors.New("server selection error: connection refused")
}

// syncBuffer is written from the server goroutines and read by the test.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.JWTSecret = "test-secret-test-secret-test-sec"
	cfg.PublicDir = publicDir(t)
	cfg.ShutdownTimeout = 2 * time.Second
	return cfg
}

func publicDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<!doctype html><title>Sign up</title>"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "css"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "css", "site.css"), []byte("body{margin:0}"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "assets"), 0o755))
	return dir
}

func newApp(t *testing.T, cfg *config.Config, connect ConnectFunc) *App {
	t.Helper()
	a, err := New(Options{Config: cfg, Logger: logging.Nop, Connect: connect, Metrics: metrics.New()})
	require.NoError(t, err)
	return a
}

func request(a *App, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

func TestNew_RequiresConfig(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}

func TestApp_DatabaseDownLeavesAuthUnmounted(t *testing.T) {
	a := newApp(t, testConfig(t), failConnect)
	<-a.ConnectDatabase(context.Background())
	assert.Equal(t, StateDegraded, a.State())

	rec := request(a, http.MethodPost, "/api/auth/login", `{"email":"a@example.com","password":"secret123"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"success":false,"message":"Route not found"}`, rec.Body.String())

	// The rest of the server is unaffected.
	rec = request(a, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "<title>Sign up</title>")

	rec = request(a, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "degraded", decode(t, rec)["status"])
}

func TestApp_AuthWhileConnecting(t *testing.T) {
	release := make(chan struct{})
	a := newApp(t, testConfig(t), func(ctx context.Context) (Store, error) {
		<-release
		return nil, errors.New("gave up")
	})
	done := a.ConnectDatabase(context.Background())
	assert.Equal(t, StateStarting, a.State())

	rec := request(a, http.MethodPost, "/api/auth/signup", `{}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "5", rec.Header().Get("Retry-After"))

	close(release)
	<-done
	assert.Equal(t, StateDegraded, a.State())
	assert.Equal(t, http.StatusNotFound, request(a, http.MethodPost, "/api/auth/signup", `{}`).Code)
}

func TestApp_SignupAndLogin(t *testing.T) {
	store := newFakeStore()
	a := newApp(t, testConfig(t), connectTo(store))
	<-a.ConnectDatabase(context.Background())
	require.Equal(t, StateReady, a.State())

	rec := request(a, http.MethodPost, "/api/auth/signup", `{"email":"Ada@Example.com","password":"analytical","name":"Ada"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, true, body["success"])
	assert.NotContains(t, rec.Body.String(), "analytical")

	rec = request(a, http.MethodPost, "/api/auth/signup", `{"email":"ada@example.com","password":"analytical"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = request(a, http.MethodPost, "/api/auth/login", `{"email":"ada@example.com","password":"analytical"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	token := decode(t, rec)["data"].(map[string]any)["token"].(string)

	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	me := httptest.NewRecorder()
	a.Handler().ServeHTTP(me, req)
	assert.Equal(t, http.StatusOK, me.Code)
	assert.Contains(t, me.Body.String(), "ada@example.com")

	rec = request(a, http.MethodGet, "/api/auth/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = request(a, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "connected", decode(t, rec)["database"])

	rec = request(a, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `signup_auth_events_total{event="login",result="ok"} 1`)
	assert.Contains(t, rec.Body.String(), `signup_db_connect_total{result="success"} 1`)
}

func TestApp_ChunkedBodyOverLimit(t *testing.T) {
	cfg := testConfig(t)
	cfg.BodyLimit = 64
	a := newApp(t, cfg, connectTo(newFakeStore()))
	<-a.ConnectDatabase(context.Background())
	require.Equal(t, StateReady, a.State())

	body := `{"email":"ada@example.com","password":"` + strings.Repeat("x", 200) + `"}`
	req := httptest.NewRequest(http.MethodPost, "/api/auth/signup", io.NopCloser(strings.NewReader(body)))
	req.Header.Set("Content-Type", "application/json")
	req.ContentLength = -1
	req.TransferEncoding = []string{"chunked"}
	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, false, decode(t, rec)["success"])
}

func TestApp_BareAuthPrefix(t *testing.T) {
	release := make(chan struct{})
	a := newApp(t, testConfig(t), func(context.Context) (Store, error) {
		<-release
		return nil, errors.New("gave up")
	})
	done := a.ConnectDatabase(context.Background())

	rec := request(a, http.MethodGet, "/api/auth", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	close(release)
	<-done
	rec = request(a, http.MethodGet, "/api/auth", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"success":false,"message":"Route not found"}`, rec.Body.String())
}

func TestApp_ReadinessPingFailure(t *testing.T) {
	store := newFakeStore()
	store.pingErr = errors.New("not primary")
	a := newApp(t, testConfig(t), connectTo(store))
	<-a.ConnectDatabase(context.Background())

	rec := request(a, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "unreachable", decode(t, rec)["database"])

	rec = request(a, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestApp_APIKey(t *testing.T) {
	empty, secret := "", "pk_live_123"
	tests := []struct {
		name string
		key  *string
		want string
	}{
		{"unset", nil, `{"apiKey":null}`},
		{"empty", &empty, `{"apiKey":""}`},
		{"set", &secret, `{"apiKey":"pk_live_123"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			cfg.APIKey = tt.key
			rec := request(newApp(t, cfg, failConnect), http.MethodGet, "/api/key", "")
			assert.Equal(t, http.StatusOK, rec.Code)
			assert.JSONEq(t, tt.want, rec.Body.String())
		})
	}
}

func TestApp_StaticFiles(t *testing.T) {
	a := newApp(t, testConfig(t), failConnect)

	rec := request(a, http.MethodGet, "/css/site.css", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "body{margin:0}", rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/css")

	for _, path := range []string{"/missing.js", "/assets/", "/assets", "/../go.mod"} {
		rec = request(a, http.MethodGet, path, "")
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
	}

	rec = request(a, http.MethodPost, "/css/site.css", "x")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestApp_MissingLandingPage(t *testing.T) {
	cfg := testConfig(t)
	cfg.PublicDir = t.TempDir()
	rec := request(newApp(t, cfg, failConnect), http.MethodGet, "/", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestApp_RateLimit(t *testing.T) {
	cfg := testConfig(t)
	cfg.RateLimit = 3
	a := newApp(t, cfg, failConnect)

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, request(a, http.MethodGet, "/healthz", "").Code)
	}
	rec := request(a, http.MethodGet, "/api/key", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.RemoteAddr = "198.51.100.7:40000"
	other := httptest.NewRecorder()
	a.Handler().ServeHTTP(other, req)
	assert.Equal(t, http.StatusOK, other.Code)
}

func TestApp_CORS(t *testing.T) {
	a := newApp(t, testConfig(t), failConnect)

	req := httptest.NewRequest(http.MethodOptions, "/api/auth/signup", nil)
	req.Header.Set("Origin", "https://example.org")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestApp_ServeAndShutdown(t *testing.T) {
	logs := &syncBuffer{}
	store := newFakeStore()
	cfg := testConfig(t)
	a, err := New(Options{Config: cfg, Logger: zerolog.New(logs), Connect: connectTo(store)})
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- a.Serve(ctx, ln) }()

	require.Eventually(t, func() bool { return a.State() == StateReady }, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
	require.NoError(t, err)
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}

	assert.Equal(t, int32(1), store.closed.Load())
	out := logs.String()
	assert.Contains(t, out, "Connected to MongoDB")
	assert.Contains(t, out, `"message":"rate limiter configured"`)
	assert.Contains(t, out, "MongoDB connection closed")
	assert.Less(t, strings.Index(out, "shutting down"), strings.Index(out, "MongoDB connection closed"))
}

func TestApp_ShutdownWithoutDatabase(t *testing.T) {
	logs := &syncBuffer{}
	a, err := New(Options{Config: testConfig(t), Logger: zerolog.New(logs), Connect: failConnect})
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- a.Serve(ctx, ln) }()

	require.Eventually(t, func() bool { return a.State() == StateDegraded }, 2*time.Second, 10*time.Millisecond)
	cancel()

	assert.NoError(t, <-errCh)
	assert.Contains(t, logs.String(), "MongoDB connection error")
	assert.Contains(t, logs.String(), "MongoDB connection closed", "close is reported even with no connection")
}

func TestApp_ConnectFinishingAfterShutdownIsClosed(t *testing.T) {
	release := make(chan struct{})
	store := newFakeStore()
	a := newApp(t, testConfig(t), func(context.Context) (Store, error) {
		<-release
		return store, nil
	})
	done := a.ConnectDatabase(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.NoError(t, a.Shutdown(ctx, nil))
	assert.Equal(t, int32(0), store.closed.Load())

	close(release)
	<-done
	assert.Equal(t, int32(1), store.closed.Load(), "late connection is not leaked")
	assert.Nil(t, a.currentStore())
	assert.Equal(t, StateDegraded, a.State())
}

func TestApp_StrictPolicy(t *testing.T) {
	cfg := testConfig(t)
	cfg.DBPolicy = config.PolicyStrict
	a := newApp(t, cfg, failConnect)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	err = a.Serve(context.Background(), ln)
	assert.ErrorIs(t, err, ErrDatabaseUnavailable)

	_, err = net.DialTimeout("tcp", ln.Addr().String(), time.Second)
	assert.Error(t, err, "listener is closed")
}

func TestAuthMount_Transitions(t *testing.T) {
	m := NewAuthMount(0)
	assert.Equal(t, StateStarting, m.State())
	assert.True(t, m.Fail())
	assert.False(t, m.Mount(http.NotFoundHandler()), "no mount after failure")
	assert.Equal(t, StateDegraded, m.State())

	m = NewAuthMount(0)
	assert.True(t, m.Mount(http.NotFoundHandler()))
	assert.False(t, m.Fail())
	assert.Equal(t, "ready", m.State().String())
	assert.Equal(t, "unknown", State(42).String())
}

func TestMongoConnector_Unreachable(t *testing.T) {
	if testing.Short() {
		t.Skip("dials a closed port")
	}
	cfg := testConfig(t)
	cfg.MongoURI = "mongodb://127.0.0.1:1/mongo-signup?connectTimeoutMS=200"
	cfg.DBConnectTimeout = 300 * time.Millisecond

	_, err := MongoConnector(cfg, logging.Nop)(context.Background())
	assert.Error(t, err)
}
