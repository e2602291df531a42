package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/quickjot/quickjot/classifier"
	"github.com/quickjot/quickjot/config"
	"github.com/quickjot/quickjot/internal/metrics"
	"github.com/quickjot/quickjot/plugin"
	"github.com/quickjot/quickjot/router"
	"github.com/quickjot/quickjot/types"
)

// memStore is an in-memory conversation store for gateway tests.
type memStore struct {
	mu       sync.Mutex
	contexts map[string]*types.Context
	turns    map[string][]types.Turn
}

func newMemStore() *memStore {
	return &memStore{
		contexts: make(map[string]*types.Context),
		turns:    make(map[string][]types.Turn),
	}
}

func (s *memStore) GetContext(_ context.Context, userID string) (*types.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.contexts[userID]; ok {
		return c.Clone(), nil
	}
	return types.NewContext(userID), nil
}

func (s *memStore) UpsertContext(_ context.Context, c *types.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contexts[c.UserID] = c.Clone()
	return nil
}

func (s *memStore) AppendTurn(_ context.Context, turn *types.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns[turn.UserID] = append(s.turns[turn.UserID], *turn)
	return nil
}

func (s *memStore) RecentTurns(_ context.Context, userID string, limit int) ([]types.Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	turns := s.turns[userID]
	if len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	return append([]types.Turn(nil), turns...), nil
}

// fixedClassifier always routes to the same plugin and action.
type fixedClassifier struct {
	plugin string
	action string
}

func (f fixedClassifier) Decide(context.Context, classifier.Input) (*types.Decision, error) {
	return &types.Decision{Plugin: f.plugin, Action: f.action, Confidence: 1}, nil
}

// echoPlugin answers with the input text.
type echoPlugin struct{}

func (echoPlugin) Name() string        { return "echo" }
func (echoPlugin) DisplayName() string { return "Echo" }
func (echoPlugin) Description() string { return "echoes the input back" }
func (echoPlugin) Version() string     { return "1.0.0" }

func (echoPlugin) Initialize(context.Context, plugin.Dependencies) error { return nil }
func (echoPlugin) Shutdown(context.Context) error                        { return nil }

func (echoPlugin) Execute(_ context.Context, req *types.AccessRequest, _ *types.Context, _ *types.Decision) (*types.AccessResponse, error) {
	return types.Ok("echo: "+req.InputText, nil), nil
}

type serverOption func(*Options)

func withAuth(secret string) serverOption {
	return func(o *Options) { o.Auth.JWTSecret = secret }
}

func withRateLimit(rps float64, burst int) serverOption {
	return func(o *Options) {
		o.Server.RateLimitRPS = rps
		o.Server.RateLimitBurst = burst
	}
}

func newTestServer(t *testing.T, opts ...serverOption) *httptest.Server {
	t.Helper()

	manager := plugin.NewManager(plugin.Dependencies{}, zap.NewNop())
	require.NoError(t, manager.RegisterFactory("echo", func() plugin.Plugin { return echoPlugin{} }))
	require.NoError(t, manager.LoadAll(context.Background()))

	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector("quickjot", reg)

	rt := router.New(manager, newMemStore(), fixedClassifier{plugin: "echo", action: "say"},
		config.RouterConfig{}, collector, zap.NewNop())

	options := Options{
		Router:    rt,
		Manager:   manager,
		Server:    config.ServerConfig{HTTPPort: 0},
		Collector: collector,
		Gatherer:  reg,
		Logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&options)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	srv := httptest.NewServer(New(ctx, options).Handler(ctx))
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url string, body any, headers map[string]string) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(data))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, "ok", body["status"])
	assert.EqualValues(t, 1, body["plugins"])
}

func TestMessageRoundTrip(t *testing.T) {
	srv := newTestServer(t)

	resp := postJSON(t, srv.URL+"/v1/messages",
		map[string]any{"user_id": "u1", "input_text": "hello"}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "echo: hello", body["message"])
}

func TestMessageRequiresUser(t *testing.T) {
	srv := newTestServer(t)

	resp := postJSON(t, srv.URL+"/v1/messages", map[string]any{"input_text": "hello"}, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestMessageBadJSON(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Post(srv.URL+"/v1/messages", "application/json",
		strings.NewReader("{not json"))
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestMessageFailureStatus(t *testing.T) {
	// Blank input is rejected by the router, not the gateway.
	srv := newTestServer(t)

	resp := postJSON(t, srv.URL+"/v1/messages",
		map[string]any{"user_id": "u1", "input_text": "   "}, nil)
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, false, body["success"])
	assert.NotEmpty(t, body["error"])
}

func signToken(t *testing.T, secret, sub string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": sub,
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestJWTAuthRejectsMissingToken(t *testing.T) {
	srv := newTestServer(t, withAuth("sekrit"))

	resp := postJSON(t, srv.URL+"/v1/messages",
		map[string]any{"user_id": "u1", "input_text": "hello"}, nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
}

func TestJWTAuthRejectsBadToken(t *testing.T) {
	srv := newTestServer(t, withAuth("sekrit"))

	resp := postJSON(t, srv.URL+"/v1/messages",
		map[string]any{"input_text": "hello"},
		map[string]string{"Authorization": "Bearer " + signToken(t, "wrong-secret", "u1")})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
}

func TestJWTAuthSubjectWinsOverBody(t *testing.T) {
	srv := newTestServer(t, withAuth("sekrit"))

	resp := postJSON(t, srv.URL+"/v1/messages",
		map[string]any{"user_id": "forged", "input_text": "hello"},
		map[string]string{"Authorization": "Bearer " + signToken(t, "sekrit", "real-user")})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, true, body["success"])
}

func TestJWTAuthSkipsHealth(t *testing.T) {
	srv := newTestServer(t, withAuth("sekrit"))

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func TestPluginList(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/v1/plugins")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	plugins, ok := body["plugins"].([]any)
	require.True(t, ok)
	require.Len(t, plugins, 1)
	first, ok := plugins[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "echo", first["name"])
}

func TestPluginReload(t *testing.T) {
	srv := newTestServer(t)

	resp := postJSON(t, srv.URL+"/v1/plugins/echo/reload", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, true, body["reloaded"])
}

func TestPluginReloadUnknown(t *testing.T) {
	srv := newTestServer(t)

	resp := postJSON(t, srv.URL+"/v1/plugins/nope/reload", nil, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, false, body["reloaded"])
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t)

	// Generate one observed request first.
	resp := postJSON(t, srv.URL+"/v1/messages",
		map[string]any{"user_id": "u1", "input_text": "hello"}, nil)
	resp.Body.Close()

	mresp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer mresp.Body.Close()
	require.Equal(t, http.StatusOK, mresp.StatusCode)

	var buf bytes.Buffer
	_, err = buf.ReadFrom(mresp.Body)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "quickjot_http_requests_total")
}

func TestRateLimiter(t *testing.T) {
	srv := newTestServer(t, withRateLimit(1, 1))

	first, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	first.Body.Close()
	assert.Equal(t, http.StatusOK, first.StatusCode)

	second, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	second.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, second.StatusCode)
}

func TestChatWebSocket(t *testing.T) {
	srv := newTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/chat?user_id=u1"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "done")

	require.NoError(t, conn.Write(ctx, websocket.MessageText,
		[]byte(`{"input_text":"hello"}`)))

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)

	var resp types.AccessResponse
	require.NoError(t, json.Unmarshal(data, &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "echo: hello", resp.Message)
}

func TestChatWebSocketBadFrame(t *testing.T) {
	srv := newTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/chat?user_id=u1"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "done")

	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte("{not json")))

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)

	var resp types.AccessResponse
	require.NoError(t, json.Unmarshal(data, &resp))
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "JSON")

	// The session survives a bad frame.
	require.NoError(t, conn.Write(ctx, websocket.MessageText,
		[]byte(`{"input_text":"still here"}`)))
	_, data, err = conn.Read(ctx)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &resp))
	assert.True(t, resp.Success)
}

func TestChatRequiresUser(t *testing.T) {
	srv := newTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/chat"
	_, resp, err := websocket.Dial(ctx, wsURL, nil)
	require.Error(t, err)
	if resp != nil {
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	}
}
