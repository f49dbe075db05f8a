package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/gridjam/internal/config"
	"github.com/ManuGH/gridjam/internal/domain/session/model"
	"github.com/ManuGH/gridjam/internal/domain/session/registry"
	"github.com/ManuGH/gridjam/internal/domain/session/store"
	"github.com/ManuGH/gridjam/internal/web"
)

func testConfig() config.AppConfig {
	cfg := config.Defaults()
	cfg.PublicBaseURL = "https://gridjam.test"
	cfg.Store.Backend = "memory"
	// Generous so tests never trip the HTTP limiter.
	cfg.API.RateLimitRPS = 1000
	cfg.API.RateLimitBurst = 2000
	return cfg
}

func newTestServer(t *testing.T) (*httptest.Server, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	reg := registry.New(st, "memory")
	t.Cleanup(func() { _ = reg.Shutdown(context.Background()) })

	shellPath := filepath.Join(t.TempDir(), "index.html")
	require.NoError(t, os.WriteFile(shellPath,
		[]byte("<html><head><title>gridjam</title></head><body>app</body></html>"), 0o600))
	shell, err := web.LoadShell(shellPath)
	require.NoError(t, err)

	srv := New(testConfig(), reg, st, shell)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts, st
}

func doJSON(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func createSession(t *testing.T, ts *httptest.Server, body any) string {
	t.Helper()
	resp := doJSON(t, http.MethodPost, ts.URL+"/api/sessions", body)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	ref := decodeBody[sessionRef](t, resp)
	require.True(t, model.IsValidUUID(ref.ID))
	return ref.ID
}

func TestCreateSessionDefaults(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/sessions", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	ref := decodeBody[sessionRef](t, resp)
	assert.True(t, model.IsValidUUID(ref.ID))
	assert.Equal(t, "https://gridjam.test/s/"+ref.ID, ref.URL)

	get := doJSON(t, http.MethodGet, ts.URL+"/api/sessions/"+ref.ID, nil)
	require.Equal(t, http.StatusOK, get.StatusCode)
	sess := decodeBody[model.Session](t, get)
	assert.Len(t, sess.State.Tracks, 4)
	assert.Equal(t, model.DefaultTempo, sess.State.Tempo)
}

func TestCreateSessionWithInitialState(t *testing.T) {
	ts, _ := newTestServer(t)

	id := createSession(t, ts, map[string]any{
		"name":  "First Jam",
		"state": map[string]any{"tempo": 150},
	})
	get := doJSON(t, http.MethodGet, ts.URL+"/api/sessions/"+id, nil)
	sess := decodeBody[model.Session](t, get)
	assert.Equal(t, "First Jam", sess.Name)
	assert.Equal(t, 150, sess.State.Tempo)
	assert.Len(t, sess.State.Tracks, 4, "partial state keeps the default lanes")
}

func TestCreateSessionRejectsInvalidState(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/sessions", map[string]any{
		"state": map[string]any{"tempo": "fast"},
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	body := decodeBody[errorBody](t, resp)
	assert.NotEmpty(t, body.Details)
}

func TestCreateSessionRejectsMarkupName(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/sessions", map[string]any{
		"name": "<script>alert(1)</script>",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetSessionErrors(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := doJSON(t, http.MethodGet, ts.URL+"/api/sessions/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = doJSON(t, http.MethodGet, ts.URL+"/api/sessions/"+registry.NewSessionID(), nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPutSessionReplacesState(t *testing.T) {
	ts, _ := newTestServer(t)
	id := createSession(t, ts, nil)

	resp := doJSON(t, http.MethodPut, ts.URL+"/api/sessions/"+id, map[string]any{
		"name":  "Renamed",
		"state": map[string]any{"tempo": 90, "swing": 25},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	sess := decodeBody[model.Session](t, resp)
	assert.Equal(t, 90, sess.State.Tempo)
	assert.Equal(t, 25, sess.State.Swing)
	assert.Equal(t, "Renamed", sess.Name)
}

func TestPutSessionRequiresState(t *testing.T) {
	ts, _ := newTestServer(t)
	id := createSession(t, ts, nil)

	resp := doJSON(t, http.MethodPut, ts.URL+"/api/sessions/"+id, map[string]any{"name": "x"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPutSessionClampsOutOfRangeValues(t *testing.T) {
	ts, _ := newTestServer(t)
	id := createSession(t, ts, nil)

	resp := doJSON(t, http.MethodPut, ts.URL+"/api/sessions/"+id, map[string]any{
		"state": map[string]any{"tempo": 9999},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	sess := decodeBody[model.Session](t, resp)
	assert.Equal(t, model.MaxTempo, sess.State.Tempo)
}

func TestPublishMakesSessionImmutable(t *testing.T) {
	ts, _ := newTestServer(t)
	id := createSession(t, ts, nil)

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/sessions/"+id+"/publish", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doJSON(t, http.MethodPost, ts.URL+"/api/sessions/"+id+"/publish", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = doJSON(t, http.MethodPut, ts.URL+"/api/sessions/"+id, map[string]any{
		"state": map[string]any{"tempo": 100},
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestRemixPublishedParent(t *testing.T) {
	ts, _ := newTestServer(t)
	id := createSession(t, ts, map[string]any{"name": "Original"})

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/sessions/"+id+"/publish", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doJSON(t, http.MethodPost, ts.URL+"/api/sessions/"+id+"/remix", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	ref := decodeBody[sessionRef](t, resp)
	assert.NotEqual(t, id, ref.ID)

	child := decodeBody[model.Session](t, doJSON(t, http.MethodGet, ts.URL+"/api/sessions/"+ref.ID, nil))
	assert.False(t, child.Immutable, "remix of a published session is editable")
	assert.Equal(t, id, child.RemixedFrom)
	assert.Equal(t, "Original", child.RemixedFromName)
	assert.Zero(t, child.RemixCount)

	parent := decodeBody[model.Session](t, doJSON(t, http.MethodGet, ts.URL+"/api/sessions/"+id, nil))
	assert.Equal(t, 1, parent.RemixCount)
}

func TestBodyCapReturns413(t *testing.T) {
	ts, _ := newTestServer(t)

	huge := strings.Repeat("x", maxBodyBytes+1)
	resp := doJSON(t, http.MethodPost, ts.URL+"/api/sessions", map[string]any{"name": huge})
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestHealthEndpoints(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()

	resp, err = http.Get(ts.URL + "/readyz")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestSecurityHeadersPresent(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
	assert.NotEmpty(t, resp.Header.Get("Content-Security-Policy"))
}

func shellRequest(t *testing.T, ts *httptest.Server, path, userAgent string) string {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, ts.URL+path, nil)
	require.NoError(t, err)
	req.Header.Set("User-Agent", userAgent)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return buf.String()
}

func TestShellCrawlerShaping(t *testing.T) {
	ts, _ := newTestServer(t)
	id := createSession(t, ts, map[string]any{"name": "Crawl Me"})

	browser := shellRequest(t, ts, "/s/"+id, "Mozilla/5.0")
	assert.NotContains(t, browser, "og:title", "browsers get the plain shell")

	crawler := shellRequest(t, ts, "/s/"+id, "Twitterbot/1.0")
	assert.Contains(t, crawler, `og:title" content="Crawl Me"`)
	assert.Contains(t, crawler, fmt.Sprintf("https://gridjam.test/s/%s", id))

	unknown := shellRequest(t, ts, "/s/"+registry.NewSessionID(), "Twitterbot/1.0")
	assert.NotContains(t, unknown, "og:title", "unknown sessions get the plain shell")
}
