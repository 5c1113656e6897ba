// Package server is a backend for frontend that keeps one auth pipeline
// per browser session, guards page navigation, and proxies /api calls to
// the banking API through the pipeline transport.
package server

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	goerrors "github.com/goliatone/go-errors"
	"github.com/gorilla/sessions"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	auth "github.com/goliatone/go-auth-pipeline"
	"github.com/goliatone/go-auth-pipeline/middleware/csrf"
	"github.com/goliatone/go-auth-pipeline/middleware/httpguard"
	"github.com/goliatone/go-auth-pipeline/provider/oidc"
	"github.com/goliatone/go-auth-pipeline/provider/static"
)

// Option customizes the Server.
type Option func(*Server)

// WithLogger overrides the logger.
func WithLogger(logger auth.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = auth.NewRedactingLogger(logger)
		}
	}
}

// WithUpstreamTransport replaces the transport below the pipeline.
func WithUpstreamTransport(rt http.RoundTripper) Option {
	return func(s *Server) {
		if rt != nil {
			s.upstream = rt
		}
	}
}

// WithRedisClient sets the client backing the shared flag store.
func WithRedisClient(client redis.Cmdable) Option {
	return func(s *Server) {
		s.redis = client
	}
}

// WithOIDCClient sets an already discovered OIDC client.
func WithOIDCClient(client *oidc.Client) Option {
	return func(s *Server) {
		s.oidc = client
	}
}

// Server wires the pipeline into an HTTP handler.
type Server struct {
	config   Config
	logger   auth.Logger
	metrics  *auth.Metrics
	gatherer prometheus.Gatherer
	routes   *auth.RouteTable
	upstream http.RoundTripper
	target   *url.URL
	redis    redis.Cmdable
	oidc     *oidc.Client
	sessions *registry
	handler  http.Handler
}

// New builds the server. With the OIDC provider and no WithOIDCClient
// option, discovery runs here.
func New(ctx context.Context, cfg Config, opts ...Option) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	target, err := url.Parse(cfg.UpstreamURL)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "invalid upstream_url")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	s := &Server{
		config:   cfg,
		logger:   auth.NewLogger(nil),
		metrics:  auth.NewMetrics(auth.WithMetricsRegistry(reg)),
		gatherer: reg,
		routes:   auth.NewRouteTable(cfg.Pipeline.Routes),
		upstream: http.DefaultTransport,
		target:   target,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	if s.redis == nil && cfg.Redis.Addr != "" {
		s.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	if cfg.Provider == ProviderOIDC && s.oidc == nil {
		client, err := oidc.NewClient(ctx, cfg.OIDC, oidc.WithLogger(s.logger))
		if err != nil {
			return nil, err
		}
		s.oidc = client
	}

	store := sessions.NewCookieStore([]byte(cfg.SessionKey))
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   int(cfg.SessionIdle.Seconds()),
		HttpOnly: true,
		Secure:   target.Scheme == "https",
		SameSite: http.SameSiteLaxMode,
	}
	s.sessions = newRegistry(store, cfg.CookieName, cfg.SessionIdle, s.newBrowserSession, s.logger)
	s.handler = s.router()
	return s, nil
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.config.Addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", s.config.Addr, "provider", s.config.Provider)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if s.oidc != nil {
		defer s.oidc.Close()
	}
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) csrfProtect(lookup string) func(http.Handler) http.Handler {
	return csrf.New(csrf.Config{
		SecureKey:    []byte(s.config.SessionKey),
		SessionKey:   browserSessionID,
		TokenLookup:  lookup,
		ErrorHandler: s.writeError,
	})
}

func (s *Server) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Group(func(r chi.Router) {
		r.Use(s.csrfProtect(""))
		r.Get("/auth/csrf", csrf.TokenHandler)
		r.Get(s.config.Pipeline.LoginPath, s.login)
		r.Get("/auth/callback", s.callback)
		r.Get(static.DefaultLoginURL, s.staticForm)
		r.Post(static.DefaultLoginURL, s.staticSignIn)
		r.Post("/auth/logout", s.logout)
		r.Get(s.config.Pipeline.UnauthorizedPath, s.unauthorized)
	})

	// proxied bodies must reach the upstream untouched
	r.With(s.csrfProtect("header:" + csrf.DefaultHeaderName)).Handle("/api/*", s.apiProxy())

	r.Group(func(r chi.Router) {
		r.Use(httpguard.New(httpguard.Config{
			Resolver: func(req *http.Request) (*auth.RouteAccessController, error) {
				bs, ok := sessionFrom(req.Context())
				if !ok {
					return nil, httpguard.ErrGuardMissing
				}
				return bs.guard, nil
			},
			Routes: s.routes,
		}))
		r.Get("/", func(w http.ResponseWriter, req *http.Request) {
			http.Redirect(w, req, s.config.Pipeline.HomePath, http.StatusFound)
		})
		r.Get("/*", s.page)
	})

	return s.withSession(r)
}
