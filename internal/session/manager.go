package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/stockdesk/stockdesk-cli/internal/output"
)

const (
	// MaxRefreshAttempts caps consecutive token-exchange attempts before the
	// coordinator fails fast.
	MaxRefreshAttempts = 3

	csrfHeader = "X-CSRF-Token"

	logoutTimeout = 5 * time.Second
)

// Options configures a Manager. Everything the manager touches is injected
// so the session layer is testable without application bootstrap.
type Options struct {
	BaseURL     string
	LoginPath   string
	RefreshPath string
	LogoutPath  string

	// HTTPClient must carry a cookie jar: the refresh token rides in a
	// server-owned HTTP-only cookie the client never reads directly.
	HTTPClient *http.Client

	Logger *slog.Logger
}

// User is the signed-in identity returned by the login endpoint.
type User struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// LoginResult is what a successful login yields to the caller.
type LoginResult struct {
	User      User
	LastLogin string
}

// Manager owns the credential store's mutable state and coordinates token
// refresh: at most one token-exchange call is in flight regardless of how
// many callers request one concurrently.
type Manager struct {
	store     *Store
	artifacts *ArtifactStore
	origin    string

	loginPath   string
	refreshPath string
	logoutPath  string

	httpClient *http.Client
	logger     *slog.Logger

	refreshGroup singleflight.Group

	mu       sync.Mutex // guards attempts
	attempts int

	terminating atomic.Bool
	onTerminate atomic.Pointer[func()]
}

// NewManager creates a session manager bound to the given store and
// artifact store.
func NewManager(store *Store, artifacts *ArtifactStore, opts Options) *Manager {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	loginPath := opts.LoginPath
	if loginPath == "" {
		loginPath = "/auth/login"
	}
	refreshPath := opts.RefreshPath
	if refreshPath == "" {
		refreshPath = "/auth/refresh"
	}
	logoutPath := opts.LogoutPath
	if logoutPath == "" {
		logoutPath = "/auth/logout"
	}

	return &Manager{
		store:       store,
		artifacts:   artifacts,
		origin:      opts.BaseURL,
		loginPath:   loginPath,
		refreshPath: refreshPath,
		logoutPath:  logoutPath,
		httpClient:  httpClient,
		logger:      logger,
	}
}

// Store returns the credential store the manager mutates.
func (m *Manager) Store() *Store {
	return m.store
}

// OnTerminate registers a hook that runs after every session termination,
// once the local state is already cleared. The CLI uses it to force the
// unauthenticated path.
func (m *Manager) OnTerminate(fn func()) {
	m.onTerminate.Store(&fn)
}

// Attempts exposes the current refresh attempt counter.
func (m *Manager) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// Identity returns the persisted signed-in identity, if any.
func (m *Manager) Identity() (*Artifacts, error) {
	return m.artifacts.Load(m.origin)
}

// TokenExpiry reports when the in-memory access token expires. The second
// return is false when no token is held or it carries no expiry.
func (m *Manager) TokenExpiry() (time.Time, bool) {
	snap := m.store.Snapshot()
	if snap.AccessToken == "" {
		return time.Time{}, false
	}
	exp, err := tokenExpiry(snap.AccessToken)
	if err != nil {
		return time.Time{}, false
	}
	return exp, true
}

// Login exchanges credentials for a session. On success the credential
// store holds the new token pair and the anti-forgery token is persisted.
func (m *Manager) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	body, err := json.Marshal(map[string]string{
		"email":    email,
		"password": password,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.origin+m.loginPath, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, output.ErrNetwork(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusBadRequest:
		detail, _ := io.ReadAll(resp.Body)
		return nil, output.ErrValidation("Invalid login payload", detail)
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, output.ErrAuth("Invalid email or password")
	default:
		respBody, _ := io.ReadAll(resp.Body)
		return nil, output.ErrUnknown(resp.StatusCode, fmt.Sprintf("Login failed (HTTP %d): %s", resp.StatusCode, string(respBody)))
	}

	var loginResp struct {
		AccessToken string `json:"accessToken"`
		CSRFToken   string `json:"csrfToken"`
		User        User   `json:"user"`
		LastLogin   string `json:"lastLogin"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&loginResp); err != nil {
		return nil, fmt.Errorf("failed to decode login response: %w", err)
	}
	if loginResp.AccessToken == "" {
		return nil, output.ErrUnknown(resp.StatusCode, "Login response carried no access token")
	}

	// A fresh login starts with a clean refresh ledger.
	m.mu.Lock()
	m.attempts = 0
	m.mu.Unlock()

	m.store.setSession(loginResp.AccessToken, loginResp.CSRFToken)
	m.store.markBootstrapped()

	if err := m.artifacts.Save(m.origin, &Artifacts{
		CSRFToken: loginResp.CSRFToken,
		Email:     loginResp.User.Email,
		UserName:  loginResp.User.Name,
		LastLogin: loginResp.LastLogin,
	}); err != nil {
		m.logger.Debug("failed to persist session artifacts", "error", err)
	}

	return &LoginResult{User: loginResp.User, LastLogin: loginResp.LastLogin}, nil
}

// Refresh obtains a new access token through the single-flight coordinator
// and returns it. Concurrent callers share one token-exchange call; every
// waiter observes the store update before this returns.
//
// On failure the caller is expected to escalate via Terminate.
func (m *Manager) Refresh(ctx context.Context) (string, error) {
	token, err, shared := m.refreshGroup.Do("refresh", func() (any, error) {
		return m.doRefresh(ctx)
	})
	if err != nil {
		return "", err
	}
	if shared {
		m.logger.Debug("refresh call shared with concurrent waiters")
	}
	return token.(string), nil
}

func (m *Manager) doRefresh(ctx context.Context) (string, error) {
	m.mu.Lock()
	if m.attempts >= MaxRefreshAttempts {
		// Ceiling hit: fail fast without a network call, and reset so a
		// future fresh login does not inherit a poisoned counter.
		m.attempts = 0
		m.mu.Unlock()
		return "", output.ErrAuth("Session expired")
	}
	m.attempts++
	m.mu.Unlock()

	m.store.setResolving(true)
	defer m.store.setResolving(false)

	snap := m.store.Snapshot()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.origin+m.refreshPath, nil)
	if err != nil {
		return "", err
	}
	// The stale token and anti-forgery header accompany the HTTP-only
	// refresh cookie carried by the client's jar.
	if snap.AccessToken != "" {
		req.Header.Set("Authorization", "Bearer "+snap.AccessToken)
	}
	if snap.CSRFToken != "" {
		req.Header.Set(csrfHeader, snap.CSRFToken)
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		m.logger.Debug("token refresh failed", "error", err)
		return "", output.ErrNetwork(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		m.logger.Debug("token refresh rejected", "status", resp.StatusCode, "body", string(body))
		// The underlying cause stays in the logs; callers get the stable
		// session-expired message.
		return "", output.ErrAuth("Session expired")
	}

	var refreshResp struct {
		AccessToken string `json:"accessToken"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&refreshResp); err != nil {
		return "", fmt.Errorf("failed to decode refresh response: %w", err)
	}
	if refreshResp.AccessToken == "" {
		return "", output.ErrAuth("Session expired")
	}

	m.mu.Lock()
	m.attempts = 0
	m.mu.Unlock()

	// The store write happens before any waiter observes settlement, so no
	// request can replay with the pre-refresh token.
	m.store.setAccessToken(refreshResp.AccessToken)

	return refreshResp.AccessToken, nil
}

// Bootstrap performs the initial session-resolution pass: restore persisted
// artifacts, then attempt one refresh against the server-held cookie.
// Either outcome marks the store bootstrapped; a false bootstrapped flag
// must never be read as "unauthenticated".
func (m *Manager) Bootstrap(ctx context.Context) Snapshot {
	m.store.setResolving(true)

	if art, err := m.artifacts.Load(m.origin); err == nil && art.CSRFToken != "" {
		m.store.setCSRFToken(art.CSRFToken)
	}

	if _, err := m.Refresh(ctx); err != nil {
		m.logger.Debug("bootstrap refresh failed", "error", err)
		m.store.clear()
	}

	m.store.markBootstrapped()
	m.store.setResolving(false)
	return m.store.Snapshot()
}

// Logout is a user-initiated session termination. Local cleanup always
// succeeds; the server call is best-effort.
func (m *Manager) Logout(ctx context.Context) {
	m.Terminate(ctx)
}

// Terminate clears the credential store and persisted artifacts, notifies
// the server logout endpoint best-effort, and fires the termination hook.
// Concurrent calls collapse into one observable termination.
func (m *Manager) Terminate(ctx context.Context) {
	if !m.terminating.CompareAndSwap(false, true) {
		return
	}
	defer m.terminating.Store(false)

	snap := m.store.Snapshot()

	// Local cleanup first: the network call must never block or fail it.
	m.store.clear()
	if err := m.artifacts.Delete(m.origin); err != nil {
		m.logger.Debug("failed to delete session artifacts", "error", err)
	}

	if snap.IsAuthenticated() {
		m.notifyLogout(ctx, snap)
	}

	if fn := m.onTerminate.Load(); fn != nil {
		(*fn)()
	}
}

func (m *Manager) notifyLogout(ctx context.Context, snap Snapshot) {
	// Best-effort even when the caller's context is already done.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), logoutTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.origin+m.logoutPath, nil)
	if err != nil {
		return
	}
	req.Header.Set("Authorization", "Bearer "+snap.AccessToken)
	if snap.CSRFToken != "" {
		req.Header.Set(csrfHeader, snap.CSRFToken)
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		m.logger.Debug("server logout failed", "error", err)
		return
	}
	resp.Body.Close()
}
