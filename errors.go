package auth

import (
	"fmt"
	"net/http"

	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeNotInitialized     = "AUTH_NOT_INITIALIZED"
	TextCodeRefreshFailed      = "TOKEN_REFRESH_FAILED"
	TextCodeProfileUnavailable = "PROFILE_UNAVAILABLE"
	TextCodeInvalidPrincipal   = "INVALID_PRINCIPAL"
	TextCodeLoginUnavailable   = "LOGIN_UNAVAILABLE"
	TextCodeInvalidConfig      = "INVALID_CONFIG"
	TextCodeStateMismatch      = "LOGIN_STATE_MISMATCH"

	TextCodeNetwork        = "NETWORK_ERROR"
	TextCodeValidation     = "VALIDATION_ERROR"
	TextCodeAuthentication = "AUTHENTICATION_REQUIRED"
	TextCodeAuthorization  = "ACCESS_DENIED"
	TextCodeNotFound       = "NOT_FOUND"
	TextCodeTimeout        = "REQUEST_TIMEOUT"
	TextCodeServer         = "SERVER_ERROR"
	TextCodeUnknown        = "UNKNOWN_ERROR"
)

// ErrNotInitialized is returned when a guarded operation runs before
// TokenProvider.Initialize completed.
var ErrNotInitialized = goerrors.New("auth pipeline not initialized", goerrors.CategoryInternal).
	WithTextCode(TextCodeNotInitialized).
	WithCode(http.StatusServiceUnavailable)

// ErrRefreshFailed is logged when the identity provider cannot refresh the token.
var ErrRefreshFailed = goerrors.New("unable to refresh token", goerrors.CategoryAuth).
	WithTextCode(TextCodeRefreshFailed).
	WithCode(goerrors.CodeUnauthorized)

// ErrProfileUnavailable is returned when the user profile cannot be loaded.
var ErrProfileUnavailable = goerrors.New("unable to load user profile", goerrors.CategoryAuth).
	WithTextCode(TextCodeProfileUnavailable).
	WithCode(goerrors.CodeUnauthorized)

// ErrInvalidPrincipal is returned when a profile does not normalize into a Principal.
var ErrInvalidPrincipal = goerrors.New("invalid principal profile", goerrors.CategoryValidation).
	WithTextCode(TextCodeInvalidPrincipal).
	WithCode(goerrors.CodeBadRequest)

// ErrLoginUnavailable is logged when the identity provider cannot start a login.
var ErrLoginUnavailable = goerrors.New("unable to start interactive login", goerrors.CategoryAuth).
	WithTextCode(TextCodeLoginUnavailable).
	WithCode(goerrors.CodeUnauthorized)

// ErrInvalidConfig is returned by Config.Validate.
var ErrInvalidConfig = goerrors.New("invalid auth pipeline configuration", goerrors.CategoryBadInput).
	WithTextCode(TextCodeInvalidConfig).
	WithCode(goerrors.CodeBadRequest)

// ErrStateMismatch is returned when a login callback does not match a pending login.
var ErrStateMismatch = goerrors.New("login state mismatch", goerrors.CategoryAuth).
	WithTextCode(TextCodeStateMismatch).
	WithCode(goerrors.CodeUnauthorized)

// ErrorKind is the fixed failure taxonomy produced by response classification.
type ErrorKind string

const (
	KindNetwork        ErrorKind = "network"
	KindValidation     ErrorKind = "validation"
	KindAuthentication ErrorKind = "authentication"
	KindAuthorization  ErrorKind = "authorization"
	KindNotFound       ErrorKind = "not_found"
	KindTimeout        ErrorKind = "timeout"
	KindServer         ErrorKind = "server"
	KindUnknown        ErrorKind = "unknown"
)

// RecoveryHint tells the caller how a user can recover from a failure.
type RecoveryHint string

const (
	HintRetry         RecoveryHint = "retry"
	HintReload        RecoveryHint = "reload"
	HintRedirectLogin RecoveryHint = "redirect-login"
	HintNavigateHome  RecoveryHint = "navigate-home"
	HintShowMessage   RecoveryHint = "show-message"
)

var kindHints = map[ErrorKind]RecoveryHint{
	KindNetwork:        HintRetry,
	KindValidation:     HintShowMessage,
	KindAuthentication: HintRedirectLogin,
	KindAuthorization:  HintNavigateHome,
	KindNotFound:       HintNavigateHome,
	KindTimeout:        HintRetry,
	KindServer:         HintRetry,
	KindUnknown:        HintReload,
}

var kindMessages = map[ErrorKind]string{
	KindNetwork:        "Unable to reach the server. Check your connection and try again",
	KindValidation:     "The request contains invalid data",
	KindAuthentication: "Your session has expired. Please sign in again",
	KindAuthorization:  "You do not have permission to perform this action",
	KindNotFound:       "The requested resource was not found",
	KindTimeout:        "The request timed out",
	KindServer:         "The server encountered an error. Please try again later",
	KindUnknown:        "An unexpected error occurred",
}

// ClassifiedError is the normalized failure surfaced to feature code. It is
// created once per failed call and never mutated afterwards.
type ClassifiedError struct {
	Kind        ErrorKind
	HTTPStatus  int
	Message     string
	Retryable   bool
	Hint        RecoveryHint
	FieldErrors map[string]string
	Cause       error
}

func newClassifiedError(kind ErrorKind, status int, message string, cause error) *ClassifiedError {
	if message == "" {
		message = kindMessages[kind]
	}
	return &ClassifiedError{
		Kind:       kind,
		HTTPStatus: status,
		Message:    message,
		Retryable:  kind == KindNetwork || kind == KindTimeout || kind == KindServer,
		Hint:       kindHints[kind],
		Cause:      cause,
	}
}

func (e *ClassifiedError) Error() string {
	if e.HTTPStatus > 0 {
		return fmt.Sprintf("%s (%d): %s", e.Kind, e.HTTPStatus, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *ClassifiedError) Unwrap() error {
	return e.Cause
}

// HasStatus reports whether the failure carried an HTTP status.
func (e *ClassifiedError) HasStatus() bool {
	return e.HTTPStatus > 0
}

// Rich converts the classified error into a go-errors value suitable for
// HTTP error handlers.
func (e *ClassifiedError) Rich() *goerrors.Error {
	var rich *goerrors.Error
	category, code, textCode := e.richShape()
	if e.Cause != nil {
		rich = goerrors.Wrap(e.Cause, category, e.Message)
	} else {
		rich = goerrors.New(e.Message, category)
	}

	metadata := map[string]any{
		"kind":      string(e.Kind),
		"retryable": e.Retryable,
		"hint":      string(e.Hint),
	}
	if e.HTTPStatus > 0 {
		metadata["http_status"] = e.HTTPStatus
	}
	if len(e.FieldErrors) > 0 {
		metadata["field_errors"] = e.FieldErrors
	}

	return rich.WithCode(code).WithTextCode(textCode).WithMetadata(metadata)
}

func (e *ClassifiedError) richShape() (goerrors.Category, int, string) {
	switch e.Kind {
	case KindValidation:
		return goerrors.CategoryValidation, goerrors.CodeBadRequest, TextCodeValidation
	case KindAuthentication:
		return goerrors.CategoryAuth, goerrors.CodeUnauthorized, TextCodeAuthentication
	case KindAuthorization:
		return goerrors.CategoryAuthz, goerrors.CodeForbidden, TextCodeAuthorization
	case KindNotFound:
		return goerrors.CategoryNotFound, goerrors.CodeNotFound, TextCodeNotFound
	case KindNetwork:
		return goerrors.CategoryOperation, http.StatusBadGateway, TextCodeNetwork
	case KindTimeout:
		return goerrors.CategoryOperation, http.StatusGatewayTimeout, TextCodeTimeout
	case KindServer:
		return goerrors.CategoryInternal, http.StatusBadGateway, TextCodeServer
	default:
		return goerrors.CategoryInternal, goerrors.CodeInternal, TextCodeUnknown
	}
}

// AsClassified extracts a ClassifiedError from err.
func AsClassified(err error) (*ClassifiedError, bool) {
	var ce *ClassifiedError
	if goerrors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// IsKind reports whether err is a ClassifiedError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	ce, ok := AsClassified(err)
	return ok && ce.Kind == kind
}

func withErrorMetadata(base *goerrors.Error, cause error, metadata map[string]any) *goerrors.Error {
	clone := base.Clone()
	if clone == nil {
		return base
	}
	if cause != nil {
		clone.Source = cause
	}
	return clone.WithMetadata(metadata)
}
