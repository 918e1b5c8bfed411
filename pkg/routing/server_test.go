package routing

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServer_RoutesBackgroundScenarioToItsTarget(t *testing.T) {
	var hitDefault, hitBackground bool
	defaultUp := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hitDefault = true
		w.WriteHeader(http.StatusOK)
	}))
	defer defaultUp.Close()
	backgroundUp := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hitBackground = true
		w.WriteHeader(http.StatusOK)
	}))
	defer backgroundUp.Close()

	cfg := Config{
		Default:   RouteTarget{BaseURL: defaultUp.URL},
		Scenarios: map[Scenario]RouteTarget{ScenarioBackground: {BaseURL: backgroundUp.URL}},
	}
	s, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(s.lifetime.Stop)

	body := `{"model":"claude-3-5-haiku","messages":[{"role":"user","content":"hi"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, hitDefault)
	assert.True(t, hitBackground)
}

func TestServer_NonMessagesRequestGoesToDefault(t *testing.T) {
	var hit bool
	defaultUp := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hit = true
		w.WriteHeader(http.StatusOK)
	}))
	defer defaultUp.Close()

	cfg := Config{Default: RouteTarget{BaseURL: defaultUp.URL}}
	s, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(s.lifetime.Stop)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, hit)
}

func TestServer_ProfileTargetInjectsAuthHeaderFromDisk(t *testing.T) {
	var gotAuth string
	profileUp := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("x-api-key")
		w.WriteHeader(http.StatusOK)
	}))
	defer profileUp.Close()

	dir := t.TempDir()
	profilePath := filepath.Join(dir, "work.json")
	require.NoError(t, os.WriteFile(profilePath, []byte(
		`{"baseUrl":"`+profileUp.URL+`","authHeader":"x-api-key","authToken":"secret-token"}`,
	), 0o644))

	cfg := Config{
		ProfilesDir: dir,
		Scenarios:   map[Scenario]RouteTarget{ScenarioThink: {ProfileName: "work"}},
	}
	s, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { s.lifetime.Stop() })

	body := `{"model":"claude-3-opus","thinking":{"type":"enabled"},"messages":[]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "secret-token", gotAuth)
}

func TestServer_ProviderPrefixRewritesPath(t *testing.T) {
	var gotPath string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	cfg := Config{
		Default: RouteTarget{BaseURL: upstream.URL, ProviderPrefix: "openai"},
	}
	s, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(s.lifetime.Stop)

	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(`{"model":"x"}`))
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "/api/provider/openai/v1/messages", gotPath)
}

func TestProfileStore_ResolveMissingProfile(t *testing.T) {
	s, err := NewProfileStore(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	_, ok := s.Resolve("nope")
	assert.False(t, ok)
}

func TestProfileStore_EmptyDirResolvesNothing(t *testing.T) {
	s, err := NewProfileStore("")
	require.NoError(t, err)
	defer s.Close()

	_, ok := s.Resolve("anything")
	assert.False(t, ok)
}
