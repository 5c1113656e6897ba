package auth

import (
	"strings"
)

const redactedValue = "[REDACTED]"

var sensitiveKeys = map[string]struct{}{
	"token":         {},
	"access_token":  {},
	"refresh_token": {},
	"id_token":      {},
	"authorization": {},
	"password":      {},
	"secret":        {},
	"client_secret": {},
	"code":          {},
	"code_verifier": {},
}

// IsSensitiveKey reports whether values logged under key must be masked.
func IsSensitiveKey(key string) bool {
	key = strings.ToLower(strings.TrimSpace(key))
	key = strings.ReplaceAll(key, "-", "_")
	_, ok := sensitiveKeys[key]
	return ok
}

// RedactArgs returns a copy of key/value args with sensitive values masked.
// Bearer credentials are masked wherever they appear in string values.
func RedactArgs(args []any) []any {
	if len(args) == 0 {
		return args
	}

	out := make([]any, len(args))
	copy(out, args)

	for i := 0; i < len(out); i++ {
		if i%2 == 0 {
			continue
		}
		if key, ok := out[i-1].(string); ok && IsSensitiveKey(key) {
			out[i] = redactedValue
			continue
		}
		if s, ok := out[i].(string); ok {
			out[i] = RedactBearer(s)
		}
	}

	return out
}

// RedactBearer masks the credential part of "Bearer <token>" fragments.
func RedactBearer(s string) string {
	lower := strings.ToLower(s)
	idx := strings.Index(lower, "bearer ")
	if idx < 0 {
		return s
	}

	start := idx + len("bearer ")
	end := start
	for end < len(s) && s[end] != ' ' && s[end] != ',' && s[end] != '"' {
		end++
	}
	if end == start {
		return s
	}

	return s[:start] + redactedValue + RedactBearer(s[end:])
}

type redactingLogger struct {
	next Logger
}

// NewRedactingLogger wraps next so sensitive fields never reach it.
func NewRedactingLogger(next Logger) Logger {
	if next == nil {
		return nil
	}
	if _, ok := next.(*redactingLogger); ok {
		return next
	}
	return &redactingLogger{next: next}
}

func (l *redactingLogger) Debug(msg string, args ...any) {
	l.next.Debug(RedactBearer(msg), RedactArgs(args)...)
}

func (l *redactingLogger) Info(msg string, args ...any) {
	l.next.Info(RedactBearer(msg), RedactArgs(args)...)
}

func (l *redactingLogger) Warn(msg string, args ...any) {
	l.next.Warn(RedactBearer(msg), RedactArgs(args)...)
}

func (l *redactingLogger) Error(msg string, args ...any) {
	l.next.Error(RedactBearer(msg), RedactArgs(args)...)
}
