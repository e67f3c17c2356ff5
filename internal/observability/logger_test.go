package observability

import (
	"testing"

	"github.com/fulmenhq/gofulmen/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestParseLogLevel(t *testing.T) {
	cases := map[string]string{
		"trace":   "TRACE",
		"DEBUG":   "DEBUG",
		" info ":  "INFO",
		"warning": "WARN",
		"error":   "ERROR",
		"verbose": "INFO",
		"":        "INFO",
	}
	for in, want := range cases {
		assert.Equal(t, want, parseLogLevel(in), "level %q", in)
	}
}

func TestServerLoggerConfigProfiles(t *testing.T) {
	structured := serverLoggerConfig("keyrotor", "debug", "", "pool")
	assert.Equal(t, logging.ProfileStructured, structured.Profile)
	assert.Equal(t, "DEBUG", structured.DefaultLevel)
	assert.Equal(t, "pool", structured.StaticFields["namespace"])
	require.Len(t, structured.Sinks, 1)
	assert.Equal(t, "json", structured.Sinks[0].Format)

	simple := serverLoggerConfig("keyrotor", "warn", "SIMPLE")
	assert.Equal(t, logging.ProfileSimple, simple.Profile)
	assert.Equal(t, "WARN", simple.DefaultLevel)
	assert.Empty(t, simple.StaticFields)
}

func TestInitLoggers(t *testing.T) {
	originalCLI, originalServer := CLILogger, ServerLogger
	t.Cleanup(func() {
		CLILogger, ServerLogger = originalCLI, originalServer
	})

	InitCLILogger("keyrotor-test", true)
	require.NotNil(t, CLILogger)
	CLILogger.Debug("cli logger ready", zap.String("test", "value"))

	InitServerLogger("keyrotor-test", "info", "structured")
	require.NotNil(t, ServerLogger)
	ServerLogger.Info("server logger ready", zap.Int("keys", 3))

	InitServerLogger("keyrotor-test", "info", "simple")
	require.NotNil(t, ServerLogger)
}

func TestResolvePort(t *testing.T) {
	port, err := resolvePort("127.0.0.1:9191")
	require.NoError(t, err)
	assert.Equal(t, 9191, port)

	port, err = resolvePort("[::]:8081")
	require.NoError(t, err)
	assert.Equal(t, 8081, port)

	_, err = resolvePort("not-an-address")
	assert.Error(t, err)
}
