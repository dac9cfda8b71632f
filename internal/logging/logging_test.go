package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warn"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("bogus"))
}

func TestNewWithWriterJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "info", "json")
	logger.Info("lockout set", "identifier", Mask("user@example.com"))

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "{"))
	assert.Contains(t, out, `"msg":"lockout set"`)
	assert.NotContains(t, out, "user@example.com")
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "warn", "text")
	logger.Info("hidden")
	logger.Warn("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestContextLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "info", "text")

	ctx := WithLogger(context.Background(), logger)
	ctx = WithRequestID(ctx, "req-1")
	L(ctx).Info("hello")

	assert.Equal(t, "req-1", RequestID(ctx))
	assert.Contains(t, buf.String(), "request_id=req-1")
}

func TestMask(t *testing.T) {
	assert.Equal(t, "", Mask(""))
	assert.Equal(t, Mask("a@b.com"), Mask("a@b.com"))
	assert.NotEqual(t, Mask("a@b.com"), Mask("c@d.com"))
	assert.True(t, strings.HasPrefix(Mask("a@b.com"), "hash:"))
}

func TestContextual(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "info", "text")

	Contextual(context.Background(), logger).Info("plain")
	assert.NotContains(t, buf.String(), "request_id")

	buf.Reset()
	Contextual(WithRequestID(context.Background(), "req-9"), logger).Info("tagged")
	assert.Contains(t, buf.String(), "request_id=req-9")
}
