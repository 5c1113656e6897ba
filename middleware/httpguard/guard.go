// Package httpguard runs the route access controller as net/http
// middleware, usable with chi or any http.Handler chain.
package httpguard

import (
	"errors"
	"net/http"

	auth "github.com/goliatone/go-auth-pipeline"
)

var (
	ErrLoginRequired = errors.New("login required")
	ErrUnauthorized  = errors.New("insufficient roles for route")
	ErrGuardMissing  = errors.New("route guard not configured")
)

// Config configures the middleware.
type Config struct {
	Skip func(*http.Request) bool

	// Guard is used for every request when Resolver is nil
	Guard    *auth.RouteAccessController
	Resolver func(*http.Request) (*auth.RouteAccessController, error)

	// Routes resolves the requirement of the request path. Roles, when
	// set, is required on every request instead.
	Routes *auth.RouteTable
	Roles  []string

	RedirectStatus int
	ErrorHandler   func(http.ResponseWriter, *http.Request, error)
}

// New returns the middleware.
func New(cfg Config) func(http.Handler) http.Handler {
	if cfg.RedirectStatus == 0 {
		cfg.RedirectStatus = http.StatusFound
	}
	if cfg.ErrorHandler == nil {
		cfg.ErrorHandler = defaultErrorHandler
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.Skip != nil && cfg.Skip(r) {
				next.ServeHTTP(w, r)
				return
			}

			guard, err := cfg.guard(r)
			if err != nil {
				cfg.ErrorHandler(w, r, err)
				return
			}

			recorder := auth.NewRedirectRecorder(r.URL.Path)
			decision := guard.CanActivate(auth.WithNavigator(r.Context(), recorder), cfg.route(r.URL.Path))

			if decision.Allowed {
				next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), decision.Principal)))
				return
			}

			if target, ok := recorder.Target(); ok {
				http.Redirect(w, r, target, cfg.RedirectStatus)
				return
			}

			if decision.State == auth.GuardDeniedUnauthorized {
				cfg.ErrorHandler(w, r, ErrUnauthorized)
				return
			}
			cfg.ErrorHandler(w, r, ErrLoginRequired)
		})
	}
}

func (c Config) guard(r *http.Request) (*auth.RouteAccessController, error) {
	if c.Resolver != nil {
		guard, err := c.Resolver(r)
		if err != nil {
			return nil, err
		}
		if guard != nil {
			return guard, nil
		}
	}
	if c.Guard == nil {
		return nil, ErrGuardMissing
	}
	return c.Guard, nil
}

func (c Config) route(path string) auth.Route {
	if len(c.Roles) > 0 {
		return auth.NewRoute(path, c.Roles...)
	}
	return c.Routes.Resolve(path)
}

func defaultErrorHandler(w http.ResponseWriter, _ *http.Request, err error) {
	status := http.StatusUnauthorized
	switch {
	case errors.Is(err, ErrUnauthorized):
		status = http.StatusForbidden
	case errors.Is(err, ErrGuardMissing):
		status = http.StatusInternalServerError
	}
	http.Error(w, err.Error(), status)
}
