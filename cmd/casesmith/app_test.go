package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/casesmith/internal/config"
	"github.com/fyrsmithlabs/casesmith/internal/telemetry"
)

func TestInitLogger_OTELOutput(t *testing.T) {
	ctx := context.Background()

	t.Run("ships records when enabled", func(t *testing.T) {
		tel := telemetry.NewTestTelemetry()
		var buf bytes.Buffer
		logger, err := initLogger(config.LoggingConfig{Level: "info", Format: "json", OTEL: true}, &buf, false, tel.LoggerProvider())
		require.NoError(t, err)

		logger.Info(ctx, "output path adjusted")
		assert.Equal(t, []string{"output path adjusted"}, tel.Logs.Bodies())
		assert.Contains(t, buf.String(), "output path adjusted")
	})

	t.Run("quiet applies to both outputs", func(t *testing.T) {
		tel := telemetry.NewTestTelemetry()
		logger, err := initLogger(config.LoggingConfig{Level: "info", Format: "json", OTEL: true}, &bytes.Buffer{}, true, tel.LoggerProvider())
		require.NoError(t, err)

		logger.Info(ctx, "stage finished")
		logger.Warn(ctx, "telemetry degraded")
		assert.Equal(t, []string{"telemetry degraded"}, tel.Logs.Bodies())
	})

	t.Run("console only when disabled", func(t *testing.T) {
		tel := telemetry.NewTestTelemetry()
		logger, err := initLogger(config.LoggingConfig{Level: "info", Format: "json"}, &bytes.Buffer{}, false, tel.LoggerProvider())
		require.NoError(t, err)

		logger.Info(ctx, "run started")
		assert.Empty(t, tel.Logs.Bodies())
	})
}
