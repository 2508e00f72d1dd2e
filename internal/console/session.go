package console

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

const sessionCookie = "shotlog_session"

// sessionStore keeps logged-in admin sessions in memory. Sessions do
// not survive a restart; the admin just logs in again. Handlers run
// concurrently, so the map is mutex-guarded.
type sessionStore struct {
	mu   sync.Mutex
	ttl  time.Duration
	live map[string]time.Time // token -> expiry
}

func newSessionStore(ttl time.Duration) *sessionStore {
	return &sessionStore{ttl: ttl, live: make(map[string]time.Time)}
}

// create mints a fresh session token.
func (s *sessionStore) create() string {
	token := uuid.NewString()
	s.mu.Lock()
	s.live[token] = time.Now().Add(s.ttl)
	s.mu.Unlock()
	return token
}

// valid reports whether token names a live session. An expired token
// is dropped on sight.
func (s *sessionStore) valid(token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	expiry, ok := s.live[token]
	if !ok {
		return false
	}
	if time.Now().After(expiry) {
		delete(s.live, token)
		return false
	}
	return true
}

// destroy ends one session. Unknown tokens are a no-op.
func (s *sessionStore) destroy(token string) {
	s.mu.Lock()
	delete(s.live, token)
	s.mu.Unlock()
}

// purge drops every expired session and returns how many went. The
// server calls this from its scheduled sweep so idle sessions do not
// accumulate between logins.
func (s *sessionStore) purge() int {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for token, expiry := range s.live {
		if now.After(expiry) {
			delete(s.live, token)
			n++
		}
	}
	return n
}
