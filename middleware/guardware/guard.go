// Package guardware runs the route access controller as go-router
// middleware. Navigation decided by the guard becomes an HTTP redirect.
package guardware

import (
	"errors"
	"net/http"

	"github.com/goliatone/go-router"

	auth "github.com/goliatone/go-auth-pipeline"
)

var (
	ErrLoginRequired  = errors.New("login required")
	ErrUnauthorized   = errors.New("insufficient roles for route")
	ErrGuardMissing   = errors.New("route guard not configured")
	DefaultContextKey = auth.PrincipalLocalsKey
)

// GuardResolver returns the controller for the current request, typically
// looked up from the browser session.
type GuardResolver func(router.Context) (*auth.RouteAccessController, error)

// Config defines the configuration for the guard middleware
type Config struct {
	// Skip defines a function to skip middleware
	Skip func(router.Context) bool

	// Guard is used for every request when Resolver is nil
	Guard    *auth.RouteAccessController
	Resolver GuardResolver

	// Routes resolves the requirement of the request path. Roles, when
	// set, is required on every request instead.
	Routes *auth.RouteTable
	Roles  []string

	// ContextKey is the Locals key holding the admitted principal
	ContextKey string

	RedirectStatus int

	ErrorHandler   router.ErrorHandler
	SuccessHandler router.HandlerFunc
}

// New creates a new guard middleware
func New(config ...Config) router.MiddlewareFunc {
	return func(hf router.HandlerFunc) router.HandlerFunc {
		cfg := configDefault(config...)

		return func(ctx router.Context) error {
			if cfg.Skip != nil && cfg.Skip(ctx) {
				return ctx.Next()
			}

			guard, err := cfg.guard(ctx)
			if err != nil {
				return cfg.ErrorHandler(ctx, err)
			}

			path := ctx.Path()
			recorder := auth.NewRedirectRecorder(path)
			base := ctx.Context()
			decision := guard.CanActivate(auth.WithNavigator(base, recorder), cfg.route(path))

			if decision.Allowed {
				ctx.Locals(cfg.ContextKey, decision.Principal)
				ctx.SetContext(auth.WithPrincipal(base, decision.Principal))
				return cfg.SuccessHandler(ctx)
			}

			if target, ok := recorder.Target(); ok {
				return ctx.Redirect(target, cfg.RedirectStatus)
			}

			if decision.State == auth.GuardDeniedUnauthorized {
				return cfg.ErrorHandler(ctx, ErrUnauthorized)
			}
			return cfg.ErrorHandler(ctx, ErrLoginRequired)
		}
	}
}

func (c Config) guard(ctx router.Context) (*auth.RouteAccessController, error) {
	if c.Resolver != nil {
		guard, err := c.Resolver(ctx)
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

func configDefault(config ...Config) Config {
	var cfg Config
	if len(config) > 0 {
		cfg = config[0]
	}

	if cfg.ContextKey == "" {
		cfg.ContextKey = DefaultContextKey
	}

	if cfg.RedirectStatus == 0 {
		cfg.RedirectStatus = http.StatusFound
	}

	if cfg.SuccessHandler == nil {
		cfg.SuccessHandler = func(ctx router.Context) error {
			return ctx.Next()
		}
	}

	if cfg.ErrorHandler == nil {
		cfg.ErrorHandler = func(ctx router.Context, err error) error {
			status := http.StatusUnauthorized
			if errors.Is(err, ErrUnauthorized) {
				status = http.StatusForbidden
			}
			return ctx.Status(status).SendString(err.Error())
		}
	}

	return cfg
}
