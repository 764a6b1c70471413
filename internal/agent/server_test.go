package agent

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/nao1215/fogpush/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// switchableTransport はオフライン状態を切り替えられるRoundTripper。
type switchableTransport struct {
	base    http.RoundTripper
	offline atomic.Bool
}

func (s *switchableTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if s.offline.Load() {
		return nil, errors.New("dial tcp: network is unreachable")
	}
	return s.base.RoundTrip(req)
}

// hostEnv はテスト用に組み立てたホストサーバーと依存。
type hostEnv struct {
	handler   http.Handler
	agent     *Agent
	network   *switchableTransport
	center    *NotificationCenter
	clients   *ClientRegistry
	originURL string
}

// setupHost は実際のオリジンサーバーに中継するホストサーバーを構築し、エージェントを有効化する。
func setupHost(t *testing.T) *hostEnv {
	t.Helper()

	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/", "/index.html":
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = w.Write([]byte("<html>FOG Golf League</html>"))
		case "/app.js":
			w.Header().Set("Content-Type", "text/javascript")
			_, _ = w.Write([]byte("boot()"))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(origin.Close)

	network := &switchableTransport{base: http.DefaultTransport}
	center := NewNotificationCenter()
	clients := NewClientRegistry("http://localhost:8787/", nil)
	reg := prometheus.NewRegistry()

	a, err := New(Config{Origin: origin.URL, Scope: "http://localhost:8787/"}, NewMemoryStorage(),
		WithNetwork(network),
		WithNotifier(center),
		WithClients(clients),
		WithMetrics(metrics.NewAgent(reg)),
	)
	require.NoError(t, err)
	require.NoError(t, a.Start(t.Context()))

	s := NewServer(ServerConfig{
		Port:          "0",
		Agent:         a,
		Notifications: center,
		Clients:       clients,
		Gatherer:      reg,
		Log:           zerolog.Nop(),
	})
	return &hostEnv{handler: s.Handler(), agent: a, network: network, center: center, clients: clients, originURL: origin.URL}
}

// serve はホストサーバーにリクエストを送る。
func (e *hostEnv) serve(method, target string, header map[string]string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

// TestServer_Proxy はオリジンへの中継とオフライン時のフォールバックを検証する。
func TestServer_Proxy(t *testing.T) {
	t.Parallel()

	t.Run("オンラインではオリジンの内容を返すこと", func(t *testing.T) {
		t.Parallel()
		env := setupHost(t)

		w := env.serve(http.MethodGet, "/app.js", nil, nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "boot()", w.Body.String())
	})

	t.Run("オフラインでもキャッシュ済みのアセットを返すこと", func(t *testing.T) {
		t.Parallel()
		env := setupHost(t)

		require.Equal(t, http.StatusOK, env.serve(http.MethodGet, "/app.js", nil, nil).Code)
		env.network.offline.Store(true)

		w := env.serve(http.MethodGet, "/app.js", nil, nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "boot()", w.Body.String())
		assert.Equal(t, "text/javascript", w.Header().Get("Content-Type"))
	})

	t.Run("オフラインのナビゲーションはシェルを返すこと", func(t *testing.T) {
		t.Parallel()
		env := setupHost(t)
		env.network.offline.Store(true)

		w := env.serve(http.MethodGet, "/rounds/9", map[string]string{"Sec-Fetch-Mode": "navigate", "Accept": "text/html"}, nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "<html>FOG Golf League</html>", w.Body.String())
	})

	t.Run("オフラインで未キャッシュなら503を返すこと", func(t *testing.T) {
		t.Parallel()
		env := setupHost(t)
		env.network.offline.Store(true)

		w := env.serve(http.MethodGet, "/api/standings.json", nil, nil)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Equal(t, "Offline", w.Body.String())
	})

	t.Run("プロキシ形式のリクエストは指定ホストへ中継すること", func(t *testing.T) {
		t.Parallel()
		env := setupHost(t)

		w := env.serve(http.MethodGet, env.originURL+"/app.js", nil, nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "boot()", w.Body.String())
	})
}

// TestServer_PushAndClick はプッシュ受信から通知クリックまでの流れを検証する。
func TestServer_PushAndClick(t *testing.T) {
	t.Parallel()

	env := setupHost(t)

	w := env.serve(http.MethodPost, "/__agent/push", nil, []byte(`{"notification":{"title":"X"}}`))
	require.Equal(t, http.StatusCreated, w.Code)
	var n Notification
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &n))
	assert.Equal(t, "X", n.Title)
	assert.Equal(t, "New notification", n.Body)
	assert.True(t, strings.HasPrefix(n.Tag, "fog-notification-"))

	w = env.serve(http.MethodGet, "/__agent/notifications", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list []Notification
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list, 1)

	w = env.serve(http.MethodPost, "/__agent/clients", nil, []byte(`{"url":"/rounds/3"}`))
	require.Equal(t, http.StatusCreated, w.Code)
	var registered WindowClient
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &registered))
	assert.True(t, registered.Controlled, "有効化済みのエージェントでは制御下になる")

	w = env.serve(http.MethodPost, "/__agent/notifications/"+n.Tag+"/click", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var res ClickResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, ClickFocused, res.Action)
	assert.Equal(t, registered.ID, res.Client.ID)

	w = env.serve(http.MethodPost, "/__agent/notifications/"+n.Tag+"/click", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code, "閉じた通知は再度クリックできない")
}

// TestServer_Control はエージェント自身のAPIを検証する。
func TestServer_Control(t *testing.T) {
	t.Parallel()

	t.Run("ヘルスチェックで状態とストア名を返すこと", func(t *testing.T) {
		t.Parallel()
		env := setupHost(t)

		w := env.serve(http.MethodGet, "/__agent/health", nil, nil)
		require.Equal(t, http.StatusOK, w.Code)
		var body map[string]string
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, "ok", body["status"])
		assert.Equal(t, "activated", body["state"])
		assert.Equal(t, DefaultCacheName, body["cache"])
	})

	t.Run("大きすぎるペイロードは413を返すこと", func(t *testing.T) {
		t.Parallel()
		env := setupHost(t)

		w := env.serve(http.MethodPost, "/__agent/push", nil, bytes.Repeat([]byte("a"), maxPushPayload+1))
		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
		assert.Empty(t, env.center.List())
	})

	t.Run("閉じたウィンドウは一覧から消え再度の削除は404を返すこと", func(t *testing.T) {
		t.Parallel()
		env := setupHost(t)

		w := env.serve(http.MethodPost, "/__agent/clients", nil, []byte(`{"url":"/"}`))
		require.Equal(t, http.StatusCreated, w.Code)
		var registered WindowClient
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &registered))

		w = env.serve(http.MethodPut, "/__agent/clients/"+registered.ID, nil, nil)
		assert.Equal(t, http.StatusOK, w.Code)

		w = env.serve(http.MethodDelete, "/__agent/clients/"+registered.ID, nil, nil)
		assert.Equal(t, http.StatusNoContent, w.Code)

		w = env.serve(http.MethodGet, "/__agent/clients", nil, nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `[]`, w.Body.String())

		w = env.serve(http.MethodDelete, "/__agent/clients/"+registered.ID, nil, nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
		w = env.serve(http.MethodPut, "/__agent/clients/"+registered.ID, nil, nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("URLの無いウィンドウ登録は400を返すこと", func(t *testing.T) {
		t.Parallel()
		env := setupHost(t)

		w := env.serve(http.MethodPost, "/__agent/clients", nil, []byte(`{}`))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("メトリクスに経路別の件数が出力されること", func(t *testing.T) {
		t.Parallel()
		env := setupHost(t)
		env.serve(http.MethodGet, "/app.js", nil, nil)

		w := env.serve(http.MethodGet, "/__agent/metrics", nil, nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `fogpush_agent_fetches_total{source="network"}`)
	})
}
