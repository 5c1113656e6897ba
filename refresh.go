package auth

import (
	"time"
)

// TokenState is the refresh policy verdict for a credential.
type TokenState string

const (
	// TokenValid means the credential can be used as is.
	TokenValid TokenState = "VALID"
	// TokenExpiring means the credential must be refreshed before use.
	TokenExpiring TokenState = "EXPIRING"
)

// RefreshPolicy decides whether a credential is inside its validity window.
type RefreshPolicy struct {
	MinValidity time.Duration
	Timeout     time.Duration
}

// NewRefreshPolicy builds a policy from cfg.
func NewRefreshPolicy(cfg Config) RefreshPolicy {
	cfg = cfg.WithDefaults()
	return RefreshPolicy{
		MinValidity: cfg.MinValidity,
		Timeout:     cfg.RefreshTimeout,
	}
}

// State classifies cred at now. A credential without a known expiry is
// valid; a credential without a token is expiring.
func (p RefreshPolicy) State(cred Credential, now time.Time) TokenState {
	if cred.Token == "" {
		return TokenExpiring
	}
	remaining, ok := cred.TimeToExpiry(now)
	if !ok {
		return TokenValid
	}
	if remaining < p.MinValidity {
		return TokenExpiring
	}
	return TokenValid
}
