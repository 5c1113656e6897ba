package auth

import (
	"sort"
	"strings"
)

// RoleSet is an immutable set of role names.
type RoleSet map[string]struct{}

// NewRoleSet builds a RoleSet, dropping blank names.
func NewRoleSet(roles ...string) RoleSet {
	set := make(RoleSet, len(roles))
	for _, role := range roles {
		role = strings.TrimSpace(role)
		if role == "" {
			continue
		}
		set[role] = struct{}{}
	}
	return set
}

// Has reports whether role is in the set.
func (s RoleSet) Has(role string) bool {
	_, ok := s[role]
	return ok
}

// Intersects reports whether at least one role is shared with other.
func (s RoleSet) Intersects(other RoleSet) bool {
	small, large := s, other
	if len(small) > len(large) {
		small, large = large, small
	}
	for role := range small {
		if large.Has(role) {
			return true
		}
	}
	return false
}

// Union returns a new set with the roles of both sets.
func (s RoleSet) Union(other RoleSet) RoleSet {
	out := make(RoleSet, len(s)+len(other))
	for role := range s {
		out[role] = struct{}{}
	}
	for role := range other {
		out[role] = struct{}{}
	}
	return out
}

// Slice returns the roles sorted.
func (s RoleSet) Slice() []string {
	out := make([]string, 0, len(s))
	for role := range s {
		out = append(out, role)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of roles.
func (s RoleSet) Len() int {
	return len(s)
}

func (s RoleSet) clone() RoleSet {
	return s.Union(nil)
}
