package oidc

import (
	"sort"

	"github.com/golang-jwt/jwt/v5"
)

// AccessClaims is the role-bearing part of a Keycloak access token.
type AccessClaims struct {
	jwt.RegisteredClaims
	PreferredUsername string               `json:"preferred_username,omitempty"`
	RealmAccess       RoleClaim            `json:"realm_access"`
	ResourceAccess    map[string]RoleClaim `json:"resource_access,omitempty"`
}

// RoleClaim is a list of role names.
type RoleClaim struct {
	Roles []string `json:"roles"`
}

// Roles merges realm roles with the roles granted on clientID. The result
// is sorted and free of duplicates.
func (c *AccessClaims) Roles(clientID string) []string {
	seen := make(map[string]struct{}, len(c.RealmAccess.Roles))
	out := make([]string, 0, len(c.RealmAccess.Roles))
	add := func(roles []string) {
		for _, role := range roles {
			if _, ok := seen[role]; ok || role == "" {
				continue
			}
			seen[role] = struct{}{}
			out = append(out, role)
		}
	}

	add(c.RealmAccess.Roles)
	if client, ok := c.ResourceAccess[clientID]; ok {
		add(client.Roles)
	}
	sort.Strings(out)
	return out
}
