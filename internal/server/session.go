package server

import (
	"context"
	"net/http"

	auth "github.com/goliatone/go-auth-pipeline"
	"github.com/goliatone/go-auth-pipeline/activitymap"
	"github.com/goliatone/go-auth-pipeline/provider/static"
	"github.com/goliatone/go-auth-pipeline/store/redisflags"
)

type sessionCtxKey struct{}

func sessionFrom(ctx context.Context) (*browserSession, bool) {
	bs, ok := ctx.Value(sessionCtxKey{}).(*browserSession)
	return bs, ok && bs != nil
}

func browserSessionID(r *http.Request) string {
	if bs, ok := sessionFrom(r.Context()); ok {
		return bs.id
	}
	return ""
}

func (s *Server) withSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/healthz", "/metrics":
			next.ServeHTTP(w, r)
			return
		}

		bs, err := s.sessions.resolve(w, r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionCtxKey{}, bs)))
	})
}

func (s *Server) newBrowserSession(ctx context.Context, id string) (*browserSession, error) {
	idp, err := s.newIdentityProvider()
	if err != nil {
		return nil, err
	}

	var flags auth.FlagStore = auth.NewMemoryFlagStore(nil)
	if s.redis != nil {
		flags = redisflags.New(s.redis,
			redisflags.WithPrefix(s.config.Redis.Prefix),
			redisflags.WithTTL(s.config.Redis.TTL),
		).Scoped(id)
	}

	tp := auth.NewTokenProvider(idp, auth.NewSession(),
		auth.WithProviderConfig(s.config.Pipeline),
		auth.WithProviderLogger(s.logger),
		auth.WithProviderMetrics(s.metrics),
		auth.WithProviderFlagStore(flags),
		auth.WithProviderSessionSink(auth.SessionSinkFunc(func(_ context.Context, event auth.SessionEvent) error {
			activity := activitymap.Normalize(event, activitymap.WithSession(id))
			s.logger.Info("session event",
				"verb", activity.Verb,
				"actor", activity.ActorID,
				"session", activity.ObjectID,
				"metadata", activity.Metadata,
			)
			return nil
		})),
	)
	if err := tp.Initialize(ctx); err != nil {
		return nil, err
	}

	transport, err := auth.NewTransport(tp,
		auth.WithTransportBase(s.upstream),
		auth.WithTransportLogger(s.logger),
		auth.WithTransportMetrics(s.metrics),
	)
	if err != nil {
		return nil, err
	}

	return &browserSession{
		id:        id,
		idp:       idp,
		tp:        tp,
		guard:     auth.NewRouteAccessController(tp, auth.WithGuardLogger(s.logger), auth.WithGuardMetrics(s.metrics)),
		transport: transport,
		flags:     flags,
	}, nil
}

func (s *Server) newIdentityProvider() (auth.IdentityProvider, error) {
	if s.config.Provider == ProviderOIDC {
		return s.oidc.Session(), nil
	}
	return static.New(static.Config{
		SigningKey: []byte(s.config.Static.SigningKey),
		TokenTTL:   s.config.Static.TokenTTL,
		Latency:    s.config.Static.Latency,
		Users:      s.config.Static.Users,
	})
}
