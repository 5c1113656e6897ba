// Package csrf protects cookie authenticated endpoints against cross site
// request forgery. Tokens are stateless: an HMAC over a timestamp, a nonce
// and the browser session key.
package csrf

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

var (
	ErrTokenMissing = goerrors.New("CSRF token missing", goerrors.CategoryBadInput).
			WithTextCode("CSRF_TOKEN_MISSING").
			WithCode(goerrors.CodeBadRequest)

	ErrTokenMismatch = goerrors.New("CSRF token mismatch", goerrors.CategoryAuthz).
				WithTextCode("CSRF_TOKEN_MISMATCH").
				WithCode(goerrors.CodeForbidden)

	ErrTokenExpired = goerrors.New("CSRF token expired", goerrors.CategoryAuthz).
			WithTextCode("CSRF_TOKEN_EXPIRED").
			WithCode(goerrors.CodeForbidden)

	ErrSecureKeyMissing = goerrors.New("CSRF secure key must be at least 32 bytes", goerrors.CategoryBadInput).
				WithTextCode("CSRF_KEY_INVALID").
				WithCode(goerrors.CodeBadRequest)
)

const (
	DefaultTokenLength   = 32
	DefaultFormFieldName = "_token"
	DefaultHeaderName    = "X-CSRF-Token"
	DefaultExpiration    = 12 * time.Hour
	MinSecureKeyLength   = 32
)

// Config defines the configuration for the CSRF middleware.
type Config struct {
	// Skip defines a function to skip middleware
	Skip func(*http.Request) bool

	// SecureKey signs tokens. It must be at least MinSecureKeyLength bytes.
	SecureKey []byte

	// SessionKey binds tokens to a browser session. Tokens issued for one
	// session are rejected for another.
	SessionKey func(*http.Request) string

	TokenLength   int
	FormFieldName string
	HeaderName    string

	// TokenLookup lists where to look for the token, in order.
	// Format: "header:X-CSRF-Token,form:_token". Form lookups consume
	// the request body, so leave them out for proxied routes.
	TokenLookup string

	// SafeMethods are not validated.
	SafeMethods []string

	// Expiration is the token lifetime. Negative disables expiry checks.
	Expiration time.Duration

	ErrorHandler func(http.ResponseWriter, *http.Request, error)

	// Now is the clock, time.Now by default.
	Now func() time.Time
}

type ctxKey struct{}

// Info is the token issued for the current request.
type Info struct {
	Token      string `json:"token"`
	FieldName  string `json:"field_name"`
	HeaderName string `json:"header_name"`
}

// FromContext returns the token issued for the request.
func FromContext(ctx context.Context) (Info, bool) {
	info, ok := ctx.Value(ctxKey{}).(Info)
	return info, ok
}

// New creates the middleware. It panics when the secure key is too short.
func New(config ...Config) func(http.Handler) http.Handler {
	cfg := configDefault(config...)
	if len(cfg.SecureKey) < MinSecureKeyLength {
		panic(fmt.Errorf("csrf: %w", ErrSecureKeyMissing))
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.Skip != nil && cfg.Skip(r) {
				next.ServeHTTP(w, r)
				return
			}

			session := cfg.SessionKey(r)

			// safe methods don't require validation
			if !slices.Contains(cfg.SafeMethods, strings.ToUpper(r.Method)) {
				if err := validateToken(cfg, session, extractToken(r, cfg)); err != nil {
					cfg.ErrorHandler(w, r, err)
					return
				}
			}

			token, err := generateToken(cfg, session)
			if err != nil {
				cfg.ErrorHandler(w, r, err)
				return
			}

			info := Info{Token: token, FieldName: cfg.FormFieldName, HeaderName: cfg.HeaderName}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, info)))
		})
	}
}

// TokenHandler responds with the token issued by the middleware.
func TokenHandler(w http.ResponseWriter, r *http.Request) {
	info, ok := FromContext(r.Context())
	w.Header().Set("Content-Type", "application/json")
	if !ok {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": ErrTokenMissing.Message})
		return
	}

	w.Header().Set("Cache-Control", "no-store, max-age=0")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	_ = json.NewEncoder(w).Encode(info)
}

func generateToken(cfg Config, session string) (string, error) {
	nonce := make([]byte, cfg.TokenLength)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "unable to read CSRF nonce")
	}

	payload := fmt.Sprintf("%d:%s", cfg.Now().UTC().Unix(), hex.EncodeToString(nonce))
	token := payload + ":" + hex.EncodeToString(sign(cfg.SecureKey, payload, session))
	return base64.RawURLEncoding.EncodeToString([]byte(token)), nil
}

func validateToken(cfg Config, session, token string) error {
	if token == "" {
		return ErrTokenMissing
	}

	decoded, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return ErrTokenMismatch
	}

	parts := strings.Split(string(decoded), ":")
	if len(parts) != 3 {
		return ErrTokenMismatch
	}

	timestamp, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return ErrTokenMismatch
	}

	signature, err := hex.DecodeString(parts[2])
	if err != nil {
		return ErrTokenMismatch
	}

	if !hmac.Equal(signature, sign(cfg.SecureKey, parts[0]+":"+parts[1], session)) {
		return ErrTokenMismatch
	}

	if cfg.Expiration > 0 && cfg.Now().UTC().After(time.Unix(timestamp, 0).Add(cfg.Expiration)) {
		return ErrTokenExpired
	}
	return nil
}

// sign keys the MAC with the session so the session never travels in the token.
func sign(key []byte, payload, session string) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(payload))
	mac.Write([]byte{0})
	mac.Write([]byte(session))
	return mac.Sum(nil)
}

func extractToken(r *http.Request, cfg Config) string {
	for _, part := range strings.Split(cfg.TokenLookup, ",") {
		source, name, ok := strings.Cut(strings.TrimSpace(part), ":")
		if !ok || name == "" {
			continue
		}
		var token string
		switch source {
		case "header":
			token = r.Header.Get(name)
		case "form":
			token = formValue(r, name)
		}
		if token != "" {
			return token
		}
	}
	return ""
}

func formValue(r *http.Request, name string) string {
	ct := r.Header.Get("Content-Type")
	if strings.HasPrefix(ct, "application/x-www-form-urlencoded") || strings.HasPrefix(ct, "multipart/form-data") {
		return r.PostFormValue(name)
	}
	return ""
}

func configDefault(config ...Config) Config {
	var cfg Config
	if len(config) > 0 {
		cfg = config[0]
	}

	if cfg.TokenLength == 0 {
		cfg.TokenLength = DefaultTokenLength
	}
	if cfg.FormFieldName == "" {
		cfg.FormFieldName = DefaultFormFieldName
	}
	if cfg.HeaderName == "" {
		cfg.HeaderName = DefaultHeaderName
	}
	if cfg.TokenLookup == "" {
		cfg.TokenLookup = "header:" + cfg.HeaderName + ",form:" + cfg.FormFieldName
	}
	if cfg.SafeMethods == nil {
		cfg.SafeMethods = []string{http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace}
	}
	if cfg.Expiration == 0 {
		cfg.Expiration = DefaultExpiration
	}
	if cfg.SessionKey == nil {
		cfg.SessionKey = func(*http.Request) string { return "" }
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.ErrorHandler == nil {
		cfg.ErrorHandler = defaultErrorHandler
	}
	return cfg
}

func defaultErrorHandler(w http.ResponseWriter, _ *http.Request, err error) {
	status := http.StatusInternalServerError
	var rich *goerrors.Error
	if errors.As(err, &rich) && rich.Code != 0 {
		status = rich.Code
	}
	http.Error(w, err.Error(), status)
}

