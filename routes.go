package auth

import (
	"strings"
)

// RouteRequirement is the role constraint attached to a navigation target.
// An empty requirement admits any authenticated user.
type RouteRequirement struct {
	RequiredRoles RoleSet
}

// Requires reports whether the requirement restricts by role.
func (r RouteRequirement) Requires() bool {
	return r.RequiredRoles.Len() > 0
}

// SatisfiedBy reports whether roles intersect the requirement.
func (r RouteRequirement) SatisfiedBy(roles RoleSet) bool {
	if !r.Requires() {
		return true
	}
	return r.RequiredRoles.Intersects(roles)
}

// Route is a navigation target.
type Route struct {
	Path        string
	Requirement RouteRequirement
}

// NewRoute builds a route that requires one of roles.
func NewRoute(path string, roles ...string) Route {
	return Route{Path: path, Requirement: RouteRequirement{RequiredRoles: NewRoleSet(roles...)}}
}

// RouteTable resolves navigation paths to their declared requirement.
// Entries ending in "/*" match the prefix; the longest match wins.
type RouteTable struct {
	entries []RouteConfig
}

// NewRouteTable builds a table from configuration.
func NewRouteTable(routes []RouteConfig) *RouteTable {
	entries := make([]RouteConfig, 0, len(routes))
	for _, r := range routes {
		if strings.TrimSpace(r.Path) == "" {
			continue
		}
		entries = append(entries, r)
	}
	return &RouteTable{entries: entries}
}

// Resolve returns the route for path. Unknown paths have no requirement.
func (t *RouteTable) Resolve(path string) Route {
	if t == nil {
		return Route{Path: path}
	}

	best := -1
	bestLen := -1
	for i, entry := range t.entries {
		n, ok := routeMatch(entry.Path, path)
		if ok && n > bestLen {
			best, bestLen = i, n
		}
	}

	if best < 0 {
		return Route{Path: path}
	}
	return NewRoute(path, t.entries[best].Roles...)
}

func routeMatch(pattern, path string) (int, bool) {
	if prefix, ok := strings.CutSuffix(pattern, "/*"); ok {
		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			return len(prefix), true
		}
		return 0, false
	}
	if strings.TrimSuffix(pattern, "/") == strings.TrimSuffix(path, "/") || pattern == path {
		return len(pattern) + 1, true
	}
	return 0, false
}
