package auth

import (
	"context"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// TokenProviderOption customizes TokenProvider construction.
type TokenProviderOption func(*TokenProvider)

// WithProviderLogger overrides the logger.
func WithProviderLogger(logger Logger) TokenProviderOption {
	return func(tp *TokenProvider) {
		if logger != nil {
			tp.logger = NewRedactingLogger(logger)
		}
	}
}

// WithProviderConfig sets the pipeline configuration.
func WithProviderConfig(cfg Config) TokenProviderOption {
	return func(tp *TokenProvider) {
		tp.config = cfg.WithDefaults()
		tp.policy = NewRefreshPolicy(tp.config)
	}
}

// WithProviderFlagStore sets the store used for the redirect target and
// the keys cleared on logout.
func WithProviderFlagStore(store FlagStore) TokenProviderOption {
	return func(tp *TokenProvider) {
		tp.flags = normalizeFlagStore(store)
	}
}

// WithProviderSessionSink adds a consumer of session events.
func WithProviderSessionSink(sink SessionSink) TokenProviderOption {
	return func(tp *TokenProvider) {
		if sink != nil {
			tp.sinks = append(tp.sinks, sink)
		}
	}
}

// WithProviderMetrics records refresh results.
func WithProviderMetrics(m *Metrics) TokenProviderOption {
	return func(tp *TokenProvider) {
		tp.metrics = m
	}
}

// WithProviderClock injects a custom clock (useful for tests).
func WithProviderClock(clock func() time.Time) TokenProviderOption {
	return func(tp *TokenProvider) {
		if clock != nil {
			tp.now = clock
		}
	}
}

// TokenProvider wraps the identity provider client and is the only writer
// of the Session.
type TokenProvider struct {
	idp     IdentityProvider
	session *Session
	config  Config
	policy  RefreshPolicy
	logger  Logger
	flags   FlagStore
	sinks   []SessionSink
	metrics *Metrics
	now     func() time.Time

	initOnce sync.Once
	ready    chan struct{}
	initErr  error

	sf singleflight.Group
}

// NewTokenProvider returns a provider that owns session.
func NewTokenProvider(idp IdentityProvider, session *Session, opts ...TokenProviderOption) *TokenProvider {
	if session == nil {
		session = NewSession()
	}
	cfg := DefaultConfig().WithDefaults()
	tp := &TokenProvider{
		idp:     idp,
		session: session,
		config:  cfg,
		policy:  NewRefreshPolicy(cfg),
		logger:  defLogger(),
		flags:   noopFlagStore{},
		now:     time.Now,
		ready:   make(chan struct{}),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(tp)
		}
	}

	return tp
}

// Session returns the session owned by the provider.
func (tp *TokenProvider) Session() *Session {
	return tp.session
}

// Config returns the effective configuration.
func (tp *TokenProvider) Config() Config {
	return tp.config
}

// Policy returns the refresh policy.
func (tp *TokenProvider) Policy() RefreshPolicy {
	return tp.policy
}

// Initialize restores the identity provider state. It runs once; later
// calls return the first result. The ready channel closes when it
// returns, also on failure.
func (tp *TokenProvider) Initialize(ctx context.Context) error {
	tp.initOnce.Do(func() {
		defer close(tp.ready)
		tp.initErr = tp.initialize(ctx)
	})
	return tp.initErr
}

func (tp *TokenProvider) initialize(ctx context.Context) error {
	loggedIn, err := tp.idp.Init(ctx)
	if err != nil {
		tp.logger.Error("identity provider init failed", "error", err)
		return withErrorMetadata(ErrNotInitialized, err, map[string]any{
			"stage": "init",
		})
	}

	if !loggedIn {
		tp.logger.Debug("identity provider initialized without session")
		return nil
	}

	if err := tp.Sync(ctx); err != nil {
		tp.logger.Warn("session restore failed", "error", err)
	}
	return nil
}

// Ready returns a channel closed once Initialize has completed.
func (tp *TokenProvider) Ready() <-chan struct{} {
	return tp.ready
}

// WaitReady blocks until Initialize completed or ctx is done.
func (tp *TokenProvider) WaitReady(ctx context.Context) error {
	select {
	case <-tp.ready:
		return tp.initErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsInitialized reports whether Initialize has completed.
func (tp *TokenProvider) IsInitialized() bool {
	select {
	case <-tp.ready:
		return true
	default:
		return false
	}
}

// Sync pulls the current token and principal from the identity provider
// into the session. It is used after an interactive login completes.
func (tp *TokenProvider) Sync(ctx context.Context) error {
	token, expiresAt, err := tp.idp.Token(ctx)
	if err != nil {
		return withErrorMetadata(ErrRefreshFailed, err, map[string]any{
			"stage": "sync",
		})
	}
	if token == "" {
		return withErrorMetadata(ErrRefreshFailed, nil, map[string]any{
			"stage":  "sync",
			"reason": "empty token",
		})
	}
	tp.session.setCredential(newCredential(token, expiresAt))

	if _, err := tp.LoadPrincipal(ctx); err != nil {
		return err
	}
	return nil
}

// IsAuthenticated queries the identity provider's live state.
func (tp *TokenProvider) IsAuthenticated(ctx context.Context) bool {
	return tp.idp.IsLoggedIn(ctx)
}

// Login begins an interactive login that returns to returnTarget. Failures
// are logged and leave the session unauthenticated.
func (tp *TokenProvider) Login(ctx context.Context, returnTarget string) {
	if err := tp.flags.Set(ctx, RedirectURLKey, returnTarget); err != nil {
		tp.logger.Warn("unable to persist return target", "key", RedirectURLKey, "error", err)
	}

	loginURL, err := tp.idp.Login(ctx, returnTarget)
	if err != nil {
		tp.logger.Error("interactive login unavailable",
			"error", withErrorMetadata(ErrLoginUnavailable, err, map[string]any{
				"return_target": returnTarget,
			}),
		)
		return
	}

	tp.logger.Info("redirecting to login", "return_target", returnTarget)
	navigate(ctx, tp.logger, loginURL)
}

// Logout ends the session. The local session and the configured persisted
// keys are always cleared, even when the remote call fails.
func (tp *TokenProvider) Logout(ctx context.Context) {
	endSessionURL, err := tp.idp.Logout(ctx, tp.config.AppBaseURL+"/")
	if err != nil {
		tp.logger.Error("remote logout failed", "error", err)
	}

	tp.clearSession(ctx, "logout")

	if err == nil && endSessionURL != "" {
		navigate(ctx, tp.logger, endSessionURL)
	}
}

func (tp *TokenProvider) clearSession(ctx context.Context, reason string) {
	tp.session.clear()

	if len(tp.config.LogoutClearKeys) > 0 {
		if err := tp.flags.Delete(ctx, tp.config.LogoutClearKeys...); err != nil {
			tp.logger.Warn("unable to clear persisted keys", "error", err)
		}
	}

	publishSessionEvent(ctx, tp.logger, tp.sinks, SessionEvent{
		Type:       SessionEventCleared,
		Reason:     reason,
		OccurredAt: tp.now(),
	})
}

// GetToken returns the current bearer token, refreshing it first when it
// is about to expire. It returns "" when no usable token exists.
func (tp *TokenProvider) GetToken(ctx context.Context) string {
	cred, ok, generation := tp.session.snapshot()
	if !ok {
		return ""
	}

	if tp.policy.State(cred, tp.now()) == TokenValid {
		return cred.Token
	}

	return tp.refresh(ctx, generation)
}

// refresh collapses concurrent callers for the same token generation into
// a single identity provider call.
func (tp *TokenProvider) refresh(ctx context.Context, generation uint64) string {
	key := strconv.FormatUint(generation, 10)

	ch := tp.sf.DoChan(key, func() (any, error) {
		return tp.doRefresh(ctx, generation)
	})

	select {
	case res := <-ch:
		token, _ := res.Val.(string)
		if res.Err != nil {
			return ""
		}
		return token
	case <-ctx.Done():
		tp.logger.Debug("token wait abandoned", "error", ctx.Err())
		return ""
	}
}

func (tp *TokenProvider) doRefresh(ctx context.Context, generation uint64) (string, error) {
	cred, ok, current := tp.session.snapshot()
	if current != generation {
		if !ok {
			return "", nil
		}
		return cred.Token, nil
	}

	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), tp.policy.Timeout)
	defer cancel()

	token, expiresAt, err := tp.updateToken(rctx)
	if err != nil {
		tp.metrics.refresh("failure")
		tp.logger.Error("token refresh failed, clearing session",
			"generation", generation,
			"error", withErrorMetadata(ErrRefreshFailed, err, map[string]any{
				"generation": generation,
			}),
		)
		tp.clearSession(rctx, "refresh_failed")
		return "", err
	}

	tp.session.setCredential(newCredential(token, expiresAt))
	tp.metrics.refresh("success")
	tp.logger.Debug("token refreshed", "expires_at", expiresAt)
	return token, nil
}

func (tp *TokenProvider) updateToken(ctx context.Context) (string, time.Time, error) {
	if _, err := tp.idp.UpdateToken(ctx, tp.policy.MinValidity); err != nil {
		return "", time.Time{}, err
	}
	token, expiresAt, err := tp.idp.Token(ctx)
	if err != nil {
		return "", time.Time{}, err
	}
	if token == "" {
		return "", time.Time{}, ErrRefreshFailed
	}
	return token, expiresAt, nil
}

// GetRoles returns the roles of the last fetched principal.
func (tp *TokenProvider) GetRoles() RoleSet {
	p, ok := tp.session.Principal()
	if !ok || !tp.session.Authenticated() {
		return NewRoleSet()
	}
	return p.Roles
}

// LoadPrincipal fetches the profile and roles from the identity provider,
// normalizes them, and replaces the session principal.
func (tp *TokenProvider) LoadPrincipal(ctx context.Context) (Principal, error) {
	profile, err := tp.idp.LoadUserProfile(ctx)
	if err != nil {
		return Principal{}, withErrorMetadata(ErrProfileUnavailable, err, nil)
	}

	principal, err := NormalizePrincipal(profile, tp.idp.UserRoles(ctx))
	if err != nil {
		tp.logger.Warn("profile rejected", "error", err)
		return Principal{}, err
	}

	tp.session.setPrincipal(principal)
	return principal, nil
}
