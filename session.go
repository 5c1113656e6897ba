package auth

import (
	"sync"
	"time"
)

// Principal is the authenticated user's identity snapshot. It is replaced
// wholesale on every fetch and never partially mutated.
type Principal struct {
	ID        string  `json:"id"`
	Username  string  `json:"username,omitempty"`
	Email     string  `json:"email,omitempty"`
	FirstName string  `json:"first_name,omitempty"`
	LastName  string  `json:"last_name,omitempty"`
	Roles     RoleSet `json:"-"`
}

// DisplayName returns a human readable name for the principal.
func (p Principal) DisplayName() string {
	switch {
	case p.FirstName != "" && p.LastName != "":
		return p.FirstName + " " + p.LastName
	case p.FirstName != "":
		return p.FirstName
	case p.Username != "":
		return p.Username
	default:
		return p.Email
	}
}

// HasRole reports whether the principal holds role.
func (p Principal) HasRole(role string) bool {
	return p.Roles.Has(role)
}

func (p Principal) clone() Principal {
	p.Roles = p.Roles.clone()
	return p
}

// Credential is the bearer token used to authorize outgoing calls.
type Credential struct {
	Token     string
	ExpiresAt time.Time
}

// newCredential is the only constructor for Credential values and is used
// by the refresh path.
func newCredential(token string, expiresAt time.Time) Credential {
	return Credential{Token: token, ExpiresAt: expiresAt}
}

// TimeToExpiry returns the remaining validity. ok is false when the expiry
// is unknown.
func (c Credential) TimeToExpiry(now time.Time) (time.Duration, bool) {
	if c.ExpiresAt.IsZero() {
		return 0, false
	}
	return c.ExpiresAt.Sub(now), true
}

// Session is the local record of whether a user is authenticated and who
// they are. It has a single writer, the TokenProvider, and many readers.
type Session struct {
	mu            sync.RWMutex
	authenticated bool
	principal     *Principal
	credential    *Credential
	generation    uint64
}

// NewSession returns an unauthenticated session.
func NewSession() *Session {
	return &Session{}
}

// Authenticated reports whether the session holds an authenticated user.
func (s *Session) Authenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authenticated
}

// Principal returns a copy of the current principal snapshot.
func (s *Session) Principal() (Principal, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.principal == nil {
		return Principal{}, false
	}
	return s.principal.clone(), true
}

// Credential returns the current credential.
func (s *Session) Credential() (Credential, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.credential == nil {
		return Credential{}, false
	}
	return *s.credential, true
}

// Generation identifies the current token generation. It increases every
// time a new credential is stored or the session is cleared.
func (s *Session) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation
}

// snapshot reads the credential and its generation atomically.
func (s *Session) snapshot() (Credential, bool, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.authenticated || s.credential == nil {
		return Credential{}, false, s.generation
	}
	return *s.credential, true, s.generation
}

func (s *Session) setCredential(cred Credential) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authenticated = true
	s.credential = &cred
	s.generation++
}

func (s *Session) setPrincipal(p Principal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := p.clone()
	s.principal = &snapshot
}

func (s *Session) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authenticated = false
	s.principal = nil
	s.credential = nil
	s.generation++
}
