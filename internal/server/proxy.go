package server

import (
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	auth "github.com/goliatone/go-auth-pipeline"
)

// HeaderLoginRedirect carries the login URL when an API call came back
// unauthenticated. Browsers cannot follow a redirect on a fetch, so the
// frontend navigates itself.
const HeaderLoginRedirect = "X-Login-Redirect"

// apiProxy forwards /api/* to the upstream API through the browser's
// pipeline transport.
func (s *Server) apiProxy() http.Handler {
	proxy := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(s.target)
			pr.Out.URL.Path = singleJoin(s.target.Path, strings.TrimPrefix(pr.In.URL.Path, "/api"))
			pr.Out.URL.RawPath = ""
			pr.SetXForwarded()
			pr.Out.Header.Del("Cookie")
			pr.Out.Header.Del("Authorization")
		},
		Transport: sessionTransport{},
		ModifyResponse: func(resp *http.Response) error {
			if nav, ok := auth.NavigatorFromContext(resp.Request.Context()); ok {
				if rec, ok := nav.(*auth.RedirectRecorder); ok {
					if target, ok := rec.Target(); ok {
						resp.Header.Set(HeaderLoginRedirect, target)
					}
				}
			}
			return nil
		},
		ErrorHandler: s.writeError,
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := auth.NewRedirectRecorder(s.currentPage(r))
		proxy.ServeHTTP(w, r.WithContext(auth.WithNavigator(r.Context(), recorder)))
	})
}

// currentPage is the page the browser was on when it made the API call.
func (s *Server) currentPage(r *http.Request) string {
	if ref := r.Header.Get("Referer"); ref != "" {
		if u, err := url.Parse(ref); err == nil && u.Path != "" {
			return u.Path
		}
	}
	return s.config.Pipeline.HomePath
}

// sessionTransport dispatches to the pipeline transport of the browser
// session found in the request context.
type sessionTransport struct{}

func (sessionTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	bs, ok := sessionFrom(req.Context())
	if !ok {
		return nil, auth.ErrNotInitialized
	}
	return bs.transport.RoundTrip(req)
}

func singleJoin(a, b string) string {
	switch {
	case b == "":
		return a
	case strings.HasSuffix(a, "/") && strings.HasPrefix(b, "/"):
		return a + b[1:]
	case !strings.HasSuffix(a, "/") && !strings.HasPrefix(b, "/"):
		return a + "/" + b
	}
	return a + b
}
