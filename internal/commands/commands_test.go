package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stockdesk/stockdesk-cli/internal/appctx"
	"github.com/stockdesk/stockdesk-cli/internal/config"
	"github.com/stockdesk/stockdesk-cli/internal/output"
)

// fakeBackend serves the auth endpoints plus a catch-all handler.
type fakeBackend struct {
	mu           sync.Mutex
	refreshCalls int
	logoutCalls  int
	refreshFail  bool

	handler http.HandlerFunc
}

func (b *fakeBackend) serve(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/auth/login":
		json.NewEncoder(w).Encode(map[string]any{
			"accessToken": "token-a",
			"csrfToken":   "csrf-a",
			"user":        map[string]any{"id": 3, "name": "Jordan", "email": "jordan@example.com"},
			"lastLogin":   "2026-08-28T08:30:00Z",
		})
	case "/auth/refresh":
		b.mu.Lock()
		b.refreshCalls++
		fail := b.refreshFail
		b.mu.Unlock()
		if fail {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"accessToken": "token-b"})
	case "/auth/logout":
		b.mu.Lock()
		b.logoutCalls++
		b.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	default:
		if b.handler != nil {
			b.handler(w, r)
			return
		}
		http.NotFound(w, r)
	}
}

// newCommandApp builds an app against a fake backend, with output captured
// in the returned buffer.
func newCommandApp(t *testing.T, handler http.HandlerFunc) (*appctx.App, *bytes.Buffer, *fakeBackend) {
	t.Helper()
	t.Setenv("STOCKDESK_NO_KEYRING", "1")

	b := &fakeBackend{handler: handler}
	srv := httptest.NewServer(http.HandlerFunc(b.serve))
	t.Cleanup(srv.Close)

	cfg := config.Default()
	cfg.BaseURL = srv.URL
	cfg.ConfigDir = t.TempDir()

	app, err := appctx.NewApp(cfg)
	require.NoError(t, err)
	t.Cleanup(app.Close)

	var buf bytes.Buffer
	app.Output = output.New(output.Options{Format: output.FormatJSON, Writer: &buf})
	return app, &buf, b
}

// runCommand executes a command's RunE with the app attached to its context.
func runCommand(t *testing.T, cmd *cobra.Command, app *appctx.App, args []string, flags map[string]string) error {
	t.Helper()
	cmd.SetContext(appctx.WithApp(context.Background(), app))
	for name, value := range flags {
		require.NoError(t, cmd.Flags().Set(name, value))
	}
	return cmd.RunE(cmd, args)
}

func TestAuthLoginCommand(t *testing.T) {
	app, buf, _ := newCommandApp(t, nil)

	err := runCommand(t, newAuthLoginCmd(), app, nil, map[string]string{
		"email":    "jordan@example.com",
		"password": "hunter2",
	})
	require.NoError(t, err)

	assert.True(t, app.Store.Snapshot().IsAuthenticated())
	assert.Contains(t, buf.String(), "Logged in as Jordan")
	assert.Contains(t, buf.String(), "jordan@example.com")
}

func TestAuthStatusLoggedOut(t *testing.T) {
	app, buf, b := newCommandApp(t, nil)
	b.refreshFail = true

	err := runCommand(t, newAuthStatusCmd(), app, nil, nil)
	require.NoError(t, err)

	var resp struct {
		OK      bool           `json:"ok"`
		Data    map[string]any `json:"data"`
		Summary string         `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.True(t, resp.OK)
	assert.Equal(t, false, resp.Data["authenticated"])
	assert.Equal(t, "Not logged in", resp.Summary)
}

func TestAuthStatusAfterLogin(t *testing.T) {
	app, buf, _ := newCommandApp(t, nil)

	_, err := app.Session.Login(context.Background(), "jordan@example.com", "hunter2")
	require.NoError(t, err)

	err = runCommand(t, newAuthStatusCmd(), app, nil, nil)
	require.NoError(t, err)

	var resp struct {
		Data    map[string]any `json:"data"`
		Summary string         `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, true, resp.Data["authenticated"])
	assert.Equal(t, "jordan@example.com", resp.Data["email"])
	assert.Equal(t, "Session active", resp.Summary)
}

func TestAuthLogoutIdempotent(t *testing.T) {
	app, buf, b := newCommandApp(t, nil)

	_, err := app.Session.Login(context.Background(), "jordan@example.com", "hunter2")
	require.NoError(t, err)

	require.NoError(t, runCommand(t, newAuthLogoutCmd(), app, nil, nil))
	assert.False(t, app.Store.Snapshot().IsAuthenticated())

	buf.Reset()
	require.NoError(t, runCommand(t, newAuthLogoutCmd(), app, nil, nil))
	assert.Contains(t, buf.String(), "logged_out")

	b.mu.Lock()
	defer b.mu.Unlock()
	assert.Equal(t, 1, b.logoutCalls)
}

func TestAuthRefreshCommand(t *testing.T) {
	app, buf, b := newCommandApp(t, nil)

	_, err := app.Session.Login(context.Background(), "jordan@example.com", "hunter2")
	require.NoError(t, err)

	require.NoError(t, runCommand(t, newAuthRefreshCmd(), app, nil, nil))
	assert.Contains(t, buf.String(), "Token refreshed")
	assert.Equal(t, "token-b", app.Store.Snapshot().AccessToken)

	b.mu.Lock()
	defer b.mu.Unlock()
	assert.Equal(t, 1, b.refreshCalls)
}

func TestAuthRefreshNotLoggedIn(t *testing.T) {
	app, _, b := newCommandApp(t, nil)
	b.refreshFail = true

	err := runCommand(t, newAuthRefreshCmd(), app, nil, nil)
	require.Error(t, err)
	assert.Equal(t, output.CodeAuth, output.AsError(err).Code)
}

func TestWhoamiNotLoggedIn(t *testing.T) {
	app, _, _ := newCommandApp(t, nil)

	err := runCommand(t, NewWhoamiCmd(), app, nil, nil)
	require.Error(t, err)
	assert.Equal(t, output.CodeAuth, output.AsError(err).Code)
}

func TestWhoamiAfterLogin(t *testing.T) {
	app, buf, _ := newCommandApp(t, nil)

	_, err := app.Session.Login(context.Background(), "jordan@example.com", "hunter2")
	require.NoError(t, err)

	require.NoError(t, runCommand(t, NewWhoamiCmd(), app, nil, nil))
	assert.Contains(t, buf.String(), "jordan@example.com")
	assert.Contains(t, buf.String(), "Jordan")
}

func TestAPIGetRequiresSession(t *testing.T) {
	app, _, b := newCommandApp(t, nil)
	b.refreshFail = true

	err := runCommand(t, newAPIGetCmd(), app, []string{"/items"}, nil)
	require.Error(t, err)

	apiErr := output.AsError(err)
	assert.Equal(t, output.CodeAuth, apiErr.Code)
	assert.Equal(t, "Not logged in", apiErr.Message)
}

func TestAPIGetAfterLogin(t *testing.T) {
	app, buf, _ := newCommandApp(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/items", r.URL.Path)
		fmt.Fprint(w, `{"items":[{"sku":"WH-100"}]}`)
	})

	_, err := app.Session.Login(context.Background(), "jordan@example.com", "hunter2")
	require.NoError(t, err)

	require.NoError(t, runCommand(t, newAPIGetCmd(), app, []string{"/items"}, nil))
	assert.Contains(t, buf.String(), "WH-100")
	assert.Contains(t, buf.String(), "GET /items (200)")
}

func TestAPIPostRequiresData(t *testing.T) {
	app, _, _ := newCommandApp(t, nil)

	_, err := app.Session.Login(context.Background(), "jordan@example.com", "hunter2")
	require.NoError(t, err)

	err = runCommand(t, newAPIPostCmd(), app, []string{"/orders"}, nil)
	require.Error(t, err)
	assert.Equal(t, output.CodeUsage, output.AsError(err).Code)
}

func TestAPIPostSendsBody(t *testing.T) {
	var gotBody string
	app, buf, _ := newCommandApp(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		raw, _ := json.Marshal(body)
		gotBody = string(raw)
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"id":9}`)
	})

	_, err := app.Session.Login(context.Background(), "jordan@example.com", "hunter2")
	require.NoError(t, err)

	err = runCommand(t, newAPIPostCmd(), app, []string{"/orders"}, map[string]string{
		"data": `{"sku":"WH-100","qty":2}`,
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"sku":"WH-100","qty":2}`, gotBody)
	assert.Contains(t, buf.String(), "POST /orders (201)")
}

func TestParseBodyFlag(t *testing.T) {
	body, err := parseBodyFlag(`{"a":1}`, true)
	require.NoError(t, err)
	assert.NotNil(t, body)

	_, err = parseBodyFlag("not json", true)
	require.Error(t, err)
	assert.Equal(t, output.CodeUsage, output.AsError(err).Code)

	body, err = parseBodyFlag("", false)
	require.NoError(t, err)
	assert.Nil(t, body)
}
