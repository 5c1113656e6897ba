package auth

import (
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/mitchellh/mapstructure"
)

type rawProfile struct {
	ID                string         `mapstructure:"id"`
	Sub               string         `mapstructure:"sub"`
	Username          string         `mapstructure:"username"`
	PreferredUsername string         `mapstructure:"preferred_username"`
	Email             string         `mapstructure:"email"`
	FirstName         string         `mapstructure:"firstName"`
	GivenName         string         `mapstructure:"given_name"`
	LastName          string         `mapstructure:"lastName"`
	FamilyName        string         `mapstructure:"family_name"`
	Roles             any            `mapstructure:"roles"`
	RealmAccess       map[string]any `mapstructure:"realm_access"`
}

// NormalizePrincipal converts a loosely typed identity provider profile into
// a fixed-shape Principal. roles are merged with any roles found in the
// profile itself. Profiles that do not carry an identifier, or that carry a
// malformed email, are rejected.
func NormalizePrincipal(profile map[string]any, roles []string) (Principal, error) {
	if profile == nil {
		return Principal{}, withErrorMetadata(ErrInvalidPrincipal, nil, map[string]any{
			"reason": "empty profile",
		})
	}

	var raw rawProfile
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &raw,
	})
	if err != nil {
		return Principal{}, withErrorMetadata(ErrInvalidPrincipal, err, nil)
	}
	if err := decoder.Decode(profile); err != nil {
		return Principal{}, withErrorMetadata(ErrInvalidPrincipal, err, map[string]any{
			"reason": "undecodable profile",
		})
	}

	p := Principal{
		ID:        firstNonEmpty(raw.ID, raw.Sub),
		Username:  firstNonEmpty(raw.Username, raw.PreferredUsername),
		Email:     strings.TrimSpace(raw.Email),
		FirstName: firstNonEmpty(raw.FirstName, raw.GivenName),
		LastName:  firstNonEmpty(raw.LastName, raw.FamilyName),
	}

	all := NewRoleSet(roles...).Union(NewRoleSet(toStrings(raw.Roles)...))
	all = all.Union(NewRoleSet(realmRoles(raw.RealmAccess)...))
	p.Roles = all

	if err := validatePrincipal(p); err != nil {
		return Principal{}, withErrorMetadata(ErrInvalidPrincipal, err, map[string]any{
			"reason": err.Error(),
		})
	}

	return p, nil
}

func validatePrincipal(p Principal) error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.ID, validation.Required, validation.Length(1, 255)),
		validation.Field(&p.Email, is.Email),
	)
}

func realmRoles(realm map[string]any) []string {
	if realm == nil {
		return nil
	}
	raw, ok := realm["roles"]
	if !ok {
		return nil
	}
	return toStrings(raw)
}

func toStrings(raw any) []string {
	switch v := raw.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		return strings.Fields(v)
	default:
		return nil
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
