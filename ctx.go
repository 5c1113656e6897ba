package auth

import (
	"context"

	"github.com/goliatone/go-router"
)

var navigatorCtxKey = &contextKey{"navigator"}
var principalCtxKey = &contextKey{"principal"}

// PrincipalLocalsKey is the router locals key the guard middleware stores
// the admitted Principal under.
const PrincipalLocalsKey = "principal"

type contextKey struct {
	name string
}

// WithNavigator sets the Navigator used by login, logout, and redirect
// side effects triggered while handling ctx.
func WithNavigator(ctx context.Context, nav Navigator) context.Context {
	return context.WithValue(ctx, navigatorCtxKey, nav)
}

// NavigatorFromContext finds the Navigator in the context.
func NavigatorFromContext(ctx context.Context) (Navigator, bool) {
	if ctx == nil {
		return nil, false
	}
	nav, ok := ctx.Value(navigatorCtxKey).(Navigator)
	return nav, ok && nav != nil
}

// CurrentPath returns the path of the navigation in ctx, or "" if none.
func CurrentPath(ctx context.Context) string {
	nav, ok := NavigatorFromContext(ctx)
	if !ok {
		return ""
	}
	return nav.CurrentPath()
}

// WithPrincipal sets the admitted Principal in the given context.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalCtxKey, p)
}

// PrincipalFromContext finds the Principal in the context.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalCtxKey).(Principal)
	return p, ok
}

// GetRouterPrincipal extracts the Principal from the router context.
func GetRouterPrincipal(ctx router.Context) (Principal, bool) {
	raw := ctx.Locals(PrincipalLocalsKey)
	if raw == nil {
		return Principal{}, false
	}
	p, ok := raw.(Principal)
	return p, ok
}
