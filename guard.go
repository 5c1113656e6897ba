package auth

import (
	"context"
	"time"
)

// GuardState is a state of a single navigation check.
type GuardState string

const (
	GuardChecking           GuardState = "CHECKING"
	GuardAdmitted           GuardState = "ADMITTED"
	GuardDeniedLogin        GuardState = "DENIED_REDIRECT_LOGIN"
	GuardDeniedUnauthorized GuardState = "DENIED_REDIRECT_UNAUTHORIZED"
)

// Decision is the result of a navigation check.
type Decision struct {
	State     GuardState
	Allowed   bool
	Redirect  string
	Principal Principal
}

// GuardOption customizes RouteAccessController construction.
type GuardOption func(*RouteAccessController)

// WithGuardLogger overrides the logger.
func WithGuardLogger(logger Logger) GuardOption {
	return func(g *RouteAccessController) {
		if logger != nil {
			g.logger = NewRedactingLogger(logger)
		}
	}
}

// WithGuardMetrics records decisions by state.
func WithGuardMetrics(m *Metrics) GuardOption {
	return func(g *RouteAccessController) {
		g.metrics = m
	}
}

// WithGuardFlagStore sets the store the bypass flag is read from.
func WithGuardFlagStore(store FlagStore) GuardOption {
	return func(g *RouteAccessController) {
		g.flags = normalizeFlagStore(store)
	}
}

// RouteAccessController gates navigation on authentication and role
// membership. It keeps no state between checks beyond the session.
type RouteAccessController struct {
	tp      *TokenProvider
	config  Config
	flags   FlagStore
	logger  Logger
	metrics *Metrics
	now     func() time.Time
}

// NewRouteAccessController returns a controller backed by tp.
func NewRouteAccessController(tp *TokenProvider, opts ...GuardOption) *RouteAccessController {
	g := &RouteAccessController{
		tp:      tp,
		config:  tp.Config(),
		flags:   tp.flags,
		logger:  tp.logger,
		metrics: tp.metrics,
		now:     tp.now,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}

	return g
}

// CanActivate evaluates a navigation to route. It never fails: denials
// resolve to a Decision plus a navigation side effect.
func (g *RouteAccessController) CanActivate(ctx context.Context, route Route) Decision {
	d := g.check(ctx, route)
	g.metrics.guardDecision(d.State)
	g.logger.Debug("route access decision",
		"path", route.Path,
		"state", string(d.State),
		"allowed", d.Allowed,
	)
	return d
}

func (g *RouteAccessController) check(ctx context.Context, route Route) Decision {
	if g.bypassed(ctx) {
		return Decision{State: GuardAdmitted, Allowed: true}
	}

	if err := g.tp.WaitReady(ctx); err != nil && ctx.Err() != nil {
		g.logger.Warn("navigation abandoned before auth was ready", "path", route.Path, "error", err)
		return Decision{State: GuardDeniedLogin}
	}

	returnTarget := ReturnTarget(g.config, route.Path)

	if !g.tp.IsAuthenticated(ctx) {
		g.tp.Login(ctx, returnTarget)
		return Decision{State: GuardDeniedLogin}
	}

	principal, err := g.tp.LoadPrincipal(ctx)
	if err != nil {
		g.logger.Error("principal fetch failed, requesting login", "path", route.Path, "error", err)
		g.tp.Login(ctx, returnTarget)
		return Decision{State: GuardDeniedLogin}
	}

	publishSessionEvent(ctx, g.logger, g.tp.sinks, SessionEvent{
		Type:       SessionEventSynced,
		Principal:  principal,
		OccurredAt: g.now(),
	})

	if !route.Requirement.SatisfiedBy(principal.Roles) {
		g.logger.Info("role requirement not met",
			"path", route.Path,
			"required", route.Requirement.RequiredRoles.Slice(),
			"principal", principal.ID,
		)
		navigate(ctx, g.logger, g.config.UnauthorizedPath)
		return Decision{
			State:     GuardDeniedUnauthorized,
			Redirect:  g.config.UnauthorizedPath,
			Principal: principal,
		}
	}

	return Decision{State: GuardAdmitted, Allowed: true, Principal: principal}
}

func (g *RouteAccessController) bypassed(ctx context.Context) bool {
	value, ok, err := g.flags.Get(ctx, BypassFlagKey)
	if err != nil {
		g.logger.Warn("unable to read bypass flag", "error", err)
		return false
	}
	if !ok || value != "true" {
		return false
	}
	if !BypassEnabled {
		g.logger.Warn("bypass flag ignored in this build", "key", BypassFlagKey)
		return false
	}
	g.logger.Warn("route guard bypassed", "key", BypassFlagKey)
	return true
}

// ReturnTarget is the absolute URL a user returns to after logging in
// from a navigation to path. Root and home navigations return home.
func ReturnTarget(cfg Config, path string) string {
	if path == "" || path == "/" || path == cfg.HomePath {
		return cfg.AppBaseURL + cfg.HomePath
	}
	return cfg.AppBaseURL + path
}
