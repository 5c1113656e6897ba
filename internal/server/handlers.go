package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"

	auth "github.com/goliatone/go-auth-pipeline"
	"github.com/goliatone/go-auth-pipeline/middleware/csrf"
)

type exchanger interface {
	Exchange(ctx context.Context, state, code string) (string, error)
}

type signer interface {
	SignIn(ctx context.Context, username, password string) error
}

// login starts an interactive login. returnUrl is set by the pipeline when
// an API call came back unauthenticated.
func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	bs, ok := s.browserSession(w, r)
	if !ok {
		return
	}

	returnPath := r.URL.Query().Get(s.config.Pipeline.ReturnURLParam)
	if !s.safeTarget(returnPath) {
		returnPath = s.config.Pipeline.HomePath
	}

	recorder := auth.NewRedirectRecorder(r.URL.Path)
	bs.tp.Login(auth.WithNavigator(r.Context(), recorder), auth.ReturnTarget(s.config.Pipeline, returnPath))

	target, ok := recorder.Target()
	if !ok {
		s.writeError(w, r, auth.ErrLoginUnavailable)
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// callback completes an OIDC authorization code login.
func (s *Server) callback(w http.ResponseWriter, r *http.Request) {
	bs, ok := s.browserSession(w, r)
	if !ok {
		return
	}
	ex, ok := bs.idp.(exchanger)
	if !ok {
		http.NotFound(w, r)
		return
	}

	query := r.URL.Query()
	if errCode := query.Get("error"); errCode != "" {
		s.logger.Warn("identity provider rejected login", "error", errCode, "description", query.Get("error_description"))
		s.writeError(w, r, auth.ErrLoginUnavailable.Clone().WithMetadata(map[string]any{"idp_error": errCode}))
		return
	}

	returnTarget, err := ex.Exchange(r.Context(), query.Get("state"), query.Get("code"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.completeLogin(w, r, bs, returnTarget)
}

func (s *Server) staticForm(w http.ResponseWriter, r *http.Request) {
	bs, ok := s.browserSession(w, r)
	if !ok {
		return
	}
	if _, ok := bs.idp.(signer); !ok {
		http.NotFound(w, r)
		return
	}
	token, _ := csrf.FromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"method":       http.MethodPost,
		"fields":       []string{"username", "password", token.FieldName},
		"redirect_uri": r.URL.Query().Get("redirect_uri"),
		"csrf":         token,
	})
}

func (s *Server) staticSignIn(w http.ResponseWriter, r *http.Request) {
	bs, ok := s.browserSession(w, r)
	if !ok {
		return
	}
	sg, ok := bs.idp.(signer)
	if !ok {
		http.NotFound(w, r)
		return
	}

	if err := r.ParseForm(); err != nil {
		s.writeError(w, r, goerrors.Wrap(err, goerrors.CategoryBadInput, "invalid form").WithCode(goerrors.CodeBadRequest))
		return
	}
	if err := sg.SignIn(r.Context(), r.PostForm.Get("username"), r.PostForm.Get("password")); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.completeLogin(w, r, bs, r.FormValue("redirect_uri"))
}

func (s *Server) completeLogin(w http.ResponseWriter, r *http.Request, bs *browserSession, returnTarget string) {
	ctx := r.Context()
	if err := bs.tp.Sync(ctx); err != nil {
		s.writeError(w, r, err)
		return
	}

	if !s.safeTarget(returnTarget) {
		stored, ok, err := bs.flags.Get(ctx, auth.RedirectURLKey)
		if err != nil {
			s.logger.Warn("unable to read return target", "error", err)
		}
		returnTarget = s.config.Pipeline.HomePath
		if ok && s.safeTarget(stored) {
			returnTarget = stored
		}
	}
	if err := bs.flags.Delete(ctx, auth.RedirectURLKey); err != nil {
		s.logger.Warn("unable to clear return target", "error", err)
	}

	http.Redirect(w, r, returnTarget, http.StatusFound)
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	bs, ok := s.browserSession(w, r)
	if !ok {
		return
	}

	recorder := auth.NewRedirectRecorder(r.URL.Path)
	bs.tp.Logout(auth.WithNavigator(r.Context(), recorder))

	target, ok := recorder.Target()
	if !ok {
		target = "/"
	}
	http.Redirect(w, r, target, http.StatusFound)
}

func (s *Server) unauthorized(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusForbidden, map[string]any{
		"message": "You do not have permission to view this page",
		"home":    s.config.Pipeline.HomePath,
	})
}

// page answers an admitted navigation with the principal snapshot.
func (s *Server) page(w http.ResponseWriter, r *http.Request) {
	principal, _ := auth.PrincipalFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"path": r.URL.Path,
		"principal": map[string]any{
			"id":           principal.ID,
			"username":     principal.Username,
			"email":        principal.Email,
			"display_name": principal.DisplayName(),
			"roles":        principal.Roles.Slice(),
		},
	})
}

// browserSession returns the session attached by the session middleware,
// answering ErrNotInitialized when the handler runs without it.
func (s *Server) browserSession(w http.ResponseWriter, r *http.Request) (*browserSession, bool) {
	bs, ok := sessionFrom(r.Context())
	if !ok {
		s.writeError(w, r, auth.ErrNotInitialized)
	}
	return bs, ok
}

// safeTarget accepts local paths and URLs under the app base URL.
// Backslashes are rejected since browsers read them as slashes.
func (s *Server) safeTarget(target string) bool {
	if target == "" || strings.ContainsAny(target, "\\\r\n\t") {
		return false
	}
	u, err := url.Parse(target)
	if err != nil {
		return false
	}
	if base := s.config.Pipeline.AppBaseURL; base != "" && strings.HasPrefix(target, base+"/") {
		return true
	}
	return u.Scheme == "" && u.Host == "" &&
		strings.HasPrefix(target, "/") && !strings.HasPrefix(target, "//")
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if ce, ok := auth.AsClassified(err); ok {
		rich := ce.Rich()
		s.logger.Warn("request failed",
			"path", r.URL.Path,
			"kind", string(ce.Kind),
			"details", print.MaybePrettyJSON(rich.Metadata),
		)
		writeJSON(w, rich.Code, map[string]any{
			"kind":    string(ce.Kind),
			"message": ce.Message,
			"hint":    string(ce.Hint),
			"fields":  ce.FieldErrors,
		})
		return
	}

	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		rich = goerrors.Wrap(err, goerrors.CategoryInternal, "An unexpected server error occurred").
			WithCode(goerrors.CodeInternal)
	}
	code := rich.Code
	if code == 0 {
		code = goerrors.CodeInternal
	}

	s.logger.Error("request failed",
		"path", r.URL.Path,
		"error", rich.Message,
		"category", rich.Category,
		"details", print.MaybePrettyJSON(rich.Metadata),
	)
	writeJSON(w, code, map[string]any{
		"message":   rich.Message,
		"text_code": rich.TextCode,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
