package auth_test

import (
	"testing"

	auth "github.com/goliatone/go-auth-pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedactArgs(t *testing.T) {
	args := []any{
		"token", "abc.def.ghi",
		"Refresh-Token", "r-1",
		"path", "/accounts",
		"header", "Bearer abc.def.ghi",
		"attempt", 2,
	}

	out := auth.RedactArgs(args)
	assert.Equal(t, []any{
		"token", "[REDACTED]",
		"Refresh-Token", "[REDACTED]",
		"path", "/accounts",
		"header", "Bearer [REDACTED]",
		"attempt", 2,
	}, out)
	assert.Equal(t, "abc.def.ghi", args[1], "input must not be mutated")
}

func TestRedactBearer(t *testing.T) {
	assert.Equal(t, "no credentials here", auth.RedactBearer("no credentials here"))
	assert.Equal(t, "bearer [REDACTED], Bearer [REDACTED]", auth.RedactBearer("bearer a1, Bearer b2"))
	assert.Equal(t, "Bearer ", auth.RedactBearer("Bearer "))
}

func TestRedactingLoggerMasksSensitiveFields(t *testing.T) {
	capture := &captureLogger{}
	logger := auth.NewRedactingLogger(capture)

	logger.Info("sending Authorization: Bearer secret-token", "authorization", "Bearer secret-token", "url", "/api")

	require.Len(t, capture.calls, 1)
	call := capture.calls[0]
	assert.Equal(t, "sending Authorization: Bearer [REDACTED]", call.message)
	assert.Equal(t, []any{"authorization", "[REDACTED]", "url", "/api"}, call.args)

	assert.Same(t, logger, auth.NewRedactingLogger(logger))
	assert.Nil(t, auth.NewRedactingLogger(nil))
}

func TestNewZapLoggerLevels(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error", "bogus"} {
		z, err := auth.NewZapLogger(level)
		require.NoError(t, err, level)
		assert.NotNil(t, auth.NewLogger(z))
	}
	assert.NotNil(t, auth.NewLogger(nil))
}
