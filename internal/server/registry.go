package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/sessions"

	auth "github.com/goliatone/go-auth-pipeline"
)

const sessionIDKey = "sid"

// browserSession is the pipeline state owned by one browser.
type browserSession struct {
	id        string
	idp       auth.IdentityProvider
	tp        *auth.TokenProvider
	guard     *auth.RouteAccessController
	transport *auth.Transport
	flags     auth.FlagStore

	mu       sync.Mutex
	lastSeen time.Time
}

func (b *browserSession) touch(now time.Time) {
	b.mu.Lock()
	b.lastSeen = now
	b.mu.Unlock()
}

func (b *browserSession) idleSince(now time.Time) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return now.Sub(b.lastSeen)
}

// sessionFactory builds and initializes the pipeline for a new browser.
type sessionFactory func(ctx context.Context, id string) (*browserSession, error)

// registry maps the browser cookie to its pipeline state.
type registry struct {
	store      sessions.Store
	cookieName string
	idle       time.Duration
	factory    sessionFactory
	logger     auth.Logger
	now        func() time.Time

	mu      sync.Mutex
	entries map[string]*browserSession
}

func newRegistry(store sessions.Store, cookieName string, idle time.Duration, factory sessionFactory, logger auth.Logger) *registry {
	return &registry{
		store:      store,
		cookieName: cookieName,
		idle:       idle,
		factory:    factory,
		logger:     logger,
		now:        time.Now,
		entries:    make(map[string]*browserSession),
	}
}

// resolve returns the browser session for r, creating the cookie and the
// pipeline state on first use.
func (r *registry) resolve(w http.ResponseWriter, req *http.Request) (*browserSession, error) {
	cookie, err := r.store.Get(req, r.cookieName)
	if err != nil {
		r.logger.Warn("discarding unreadable session cookie", "error", err)
	}

	id, _ := cookie.Values[sessionIDKey].(string)
	if id == "" {
		id = uuid.NewString()
		cookie.Values[sessionIDKey] = id
		if err := cookie.Save(req, w); err != nil {
			return nil, err
		}
	}

	now := r.now()

	r.mu.Lock()
	bs, ok := r.entries[id]
	r.mu.Unlock()
	if ok {
		bs.touch(now)
		return bs, nil
	}

	bs, err = r.factory(req.Context(), id)
	if err != nil {
		return nil, err
	}
	bs.touch(now)

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.entries[id]; ok {
		return existing, nil
	}
	r.entries[id] = bs
	r.pruneLocked(now)
	return bs, nil
}

func (r *registry) pruneLocked(now time.Time) {
	for id, bs := range r.entries {
		if bs.idleSince(now) > r.idle {
			delete(r.entries, id)
			r.logger.Debug("browser session expired", "session", id)
		}
	}
}

func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
