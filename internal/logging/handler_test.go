// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package logging_test

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"

	"github.com/gatehouse/gatehouse/internal/logging"
)

func TestSetup(t *testing.T) {
	t.Run("json format includes service and version", func(t *testing.T) {
		var buf bytes.Buffer
		logger := logging.Setup("gatehouse", "1.2.3", "json", &buf)

		logger.Info("hello")

		var record map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
		assert.Equal(t, "gatehouse", record["service"])
		assert.Equal(t, "1.2.3", record["version"])
		assert.Equal(t, "hello", record["msg"])
	})

	t.Run("text format produces readable output", func(t *testing.T) {
		var buf bytes.Buffer
		logger := logging.Setup("gatehouse", "dev", "text", &buf)

		logger.Info("login accepted", "username", "admin")

		out := buf.String()
		assert.Contains(t, out, "login accepted")
		assert.Contains(t, out, "username=admin")
		assert.Contains(t, out, "service=gatehouse")
	})

	t.Run("empty format defaults to json", func(t *testing.T) {
		var buf bytes.Buffer
		logger := logging.Setup("gatehouse", "dev", "", &buf)

		logger.Info("probe")

		assert.True(t, strings.HasPrefix(buf.String(), "{"))
	})

	t.Run("trace context is attached when present", func(t *testing.T) {
		var buf bytes.Buffer
		logger := logging.Setup("gatehouse", "dev", "json", &buf)

		traceID, err := trace.TraceIDFromHex("0102030405060708090a0b0c0d0e0f10")
		require.NoError(t, err)
		spanID, err := trace.SpanIDFromHex("0102030405060708")
		require.NoError(t, err)
		spanCtx := trace.NewSpanContext(trace.SpanContextConfig{
			TraceID: traceID,
			SpanID:  spanID,
		})
		ctx := trace.ContextWithSpanContext(context.Background(), spanCtx)

		logger.InfoContext(ctx, "traced")

		var record map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
		assert.Equal(t, traceID.String(), record["trace_id"])
		assert.Equal(t, spanID.String(), record["span_id"])
	})

	t.Run("no trace attrs without span context", func(t *testing.T) {
		var buf bytes.Buffer
		logger := logging.Setup("gatehouse", "dev", "json", &buf)

		logger.Info("untraced")

		var record map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
		assert.NotContains(t, record, "trace_id")
		assert.NotContains(t, record, "span_id")
	})

	t.Run("WithAttrs preserves service identity", func(t *testing.T) {
		var buf bytes.Buffer
		logger := logging.Setup("gatehouse", "dev", "json", &buf).With("component", "gate")

		logger.Info("scoped")

		var record map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
		assert.Equal(t, "gate", record["component"])
		assert.Equal(t, "gatehouse", record["service"])
	})
}
