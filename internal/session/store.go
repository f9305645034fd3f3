package session

import "sync"

// Snapshot is a point-in-time, read-only view of the credential state.
type Snapshot struct {
	AccessToken  string
	CSRFToken    string
	Resolving    bool
	Bootstrapped bool
}

// IsAuthenticated reports whether an access token is present. Presence
// implies capability, not validity; the server still has the final word.
func (s Snapshot) IsAuthenticated() bool {
	return s.AccessToken != ""
}

// Store is the in-memory credential record shared by the session layer.
// All other components are read-only observers; only the Manager mutates it,
// and only on login success, refresh success, and logout.
type Store struct {
	mu           sync.RWMutex
	accessToken  string
	csrfToken    string
	resolving    bool
	bootstrapped bool

	subMu sync.Mutex
	subs  []func(Snapshot)
}

// NewStore creates an empty credential store.
func NewStore() *Store {
	return &Store{}
}

// Snapshot returns the current credential state.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		AccessToken:  s.accessToken,
		CSRFToken:    s.csrfToken,
		Resolving:    s.resolving,
		Bootstrapped: s.bootstrapped,
	}
}

// Subscribe registers fn to run after every access-token change. The
// callback receives the snapshot taken right after the change.
func (s *Store) Subscribe(fn func(Snapshot)) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	s.subs = append(s.subs, fn)
}

func (s *Store) notify() {
	snap := s.Snapshot()
	s.subMu.Lock()
	subs := make([]func(Snapshot), len(s.subs))
	copy(subs, s.subs)
	s.subMu.Unlock()
	for _, fn := range subs {
		fn(snap)
	}
}

// setSession installs a full credential pair (login success).
func (s *Store) setSession(accessToken, csrfToken string) {
	s.mu.Lock()
	s.accessToken = accessToken
	s.csrfToken = csrfToken
	s.mu.Unlock()
	s.notify()
}

// setAccessToken replaces the access token only (refresh success).
func (s *Store) setAccessToken(accessToken string) {
	s.mu.Lock()
	s.accessToken = accessToken
	s.mu.Unlock()
	s.notify()
}

// setCSRFToken installs a restored anti-forgery token without touching the
// access token, so no subscriber fires.
func (s *Store) setCSRFToken(csrfToken string) {
	s.mu.Lock()
	s.csrfToken = csrfToken
	s.mu.Unlock()
}

func (s *Store) setResolving(v bool) {
	s.mu.Lock()
	s.resolving = v
	s.mu.Unlock()
}

// markBootstrapped records that the initial session-resolution pass has
// completed at least once. It is never unset.
func (s *Store) markBootstrapped() {
	s.mu.Lock()
	s.bootstrapped = true
	s.mu.Unlock()
}

// clear wipes the credential pair (logout / unrecoverable failure). The
// bootstrapped flag survives: a cleared session is
// bootstrapped-unauthenticated, not un-bootstrapped.
func (s *Store) clear() {
	s.mu.Lock()
	changed := s.accessToken != "" || s.csrfToken != ""
	s.accessToken = ""
	s.csrfToken = ""
	s.resolving = false
	s.mu.Unlock()
	if changed {
		s.notify()
	}
}
