package auth

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"sync"
	"time"
)

/* Session holds the access token shared by the remote client and the push channel
 * Listeners are told about every change of token, including it being cleared
 */
type Session struct {
	mu        sync.Mutex
	token     string
	listeners map[int]func(string)
	next      int
}

// NewSession creates a session holding token, which may be empty
func NewSession(token string) *Session {
	return &Session{
		token:     strings.TrimSpace(token),
		listeners: map[int]func(string){},
	}
}

// Token returns the current access token
func (s *Session) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

/* Set replaces the token and notifies listeners
 * Setting the same token again is a no-op
 */
func (s *Session) Set(token string) {
	token = strings.TrimSpace(token)
	s.mu.Lock()
	if token == s.token {
		s.mu.Unlock()
		return
	}
	s.token = token
	fns := make([]func(string), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(token)
	}
}

// Clear drops the token
func (s *Session) Clear() {
	s.Set("")
}

// OnChange registers fn for token changes and returns a func that unregisters it
func (s *Session) OnChange(fn func(token string)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.next
	s.next++
	s.listeners[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

/* ExpiresAt reads the exp claim of a JWT access token
 * The signature is not checked: the backend does that, this is only for reporting
 */
func ExpiresAt(token string) (time.Time, bool) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return time.Time{}, false
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return time.Time{}, false
	}
	var claims struct {
		Exp int64 `json:"exp"`
	}
	if err := json.Unmarshal(payload, &claims); err != nil || claims.Exp <= 0 {
		return time.Time{}, false
	}
	return time.Unix(claims.Exp, 0).UTC(), true
}
