package keepalive

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, upstream *httptest.Server, interval time.Duration) *Server {
	t.Helper()
	cfg := Config{
		UpstreamBaseURL:   upstream.URL,
		APIKey:            "sk-test",
		AnthropicVersion:  "2023-06-01",
		KeepaliveInterval: interval,
		AutoExitInterval:  time.Hour,
		StatsPath:         filepath.Join(t.TempDir(), "stats.json"),
		PIDPath:           filepath.Join(t.TempDir(), "keepalive.pid"),
	}
	s := New(cfg)
	t.Cleanup(s.lifetime.Stop)
	return s
}

func TestServer_HandleHealth(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer upstream.Close()
	s := newTestServer(t, upstream, time.Hour)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "cache-keepalive", body["service"])
	assert.Equal(t, upstream.URL, body["upstream"])
}

func TestServer_HandleMessages_ForwardsAndRecordsPrefix(t *testing.T) {
	var gotAuth string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("x-api-key")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer upstream.Close()
	s := newTestServer(t, upstream, time.Hour)

	body := `{"model":"claude-3","system":"be terse","tools":[],"messages":[{"role":"user","content":"hi"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())
	assert.Equal(t, "sk-test", gotAuth)
	assert.Equal(t, 1, s.stats.PrefixChanges)
}

func TestServer_HandleStop_RespondsThenStopsLifetime(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer upstream.Close()
	s := newTestServer(t, upstream, time.Hour)

	req := httptest.NewRequest(http.MethodPost, "/_stop", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "stopping", body["status"])

	require.Eventually(t, s.lifetime.Stopped, time.Second, 5*time.Millisecond)
}

func TestServer_KeepalivePing_FiresAfterInterval(t *testing.T) {
	var pings int64
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		_ = json.NewDecoder(r.Body).Decode(&payload)
		if msgs, ok := payload["messages"].([]any); ok && len(msgs) == 1 {
			if m, ok := msgs[0].(map[string]any); ok && m["content"] == "ping" {
				atomic.AddInt64(&pings, 1)
			}
		}
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte("event: message_start\ndata: {\"message\":{\"usage\":{}}}\n\n"))
	}))
	defer upstream.Close()

	s := newTestServer(t, upstream, 20*time.Millisecond)

	body := `{"model":"claude-3","system":"s","tools":[],"messages":[{"role":"user","content":"hi"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	require.Eventually(t, func() bool {
		return atomic.LoadInt64(&pings) >= 1
	}, time.Second, 10*time.Millisecond, "expected at least one keepalive ping after the interval elapsed")
}
