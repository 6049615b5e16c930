package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/collectiond/internal/config"
)

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(NewDefaultConfig(), nil)
	require.NoError(t, err)
	require.NotNil(t, logger.Underlying())
	assert.True(t, logger.Enabled(zapcore.InfoLevel))
	assert.False(t, logger.Enabled(zapcore.DebugLevel))
}

func TestNewLogger_InvalidConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Format = "xml"

	_, err := NewLogger(cfg, nil)
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(c *Config) {}},
		{name: "console", mutate: func(c *Config) { c.Format = "console" }},
		{name: "no output", mutate: func(c *Config) { c.Output = OutputConfig{} }, wantErr: true},
		{name: "zero tick", mutate: func(c *Config) { c.Sampling.Tick = 0 }, wantErr: true},
		{name: "empty field value", mutate: func(c *Config) { c.Fields["env"] = "" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestFromSettings(t *testing.T) {
	cfg, err := FromSettings(config.LoggingConfig{Level: "trace", Format: "console", Output: "stderr"})
	require.NoError(t, err)
	assert.Equal(t, TraceLevel, cfg.Level)
	assert.Equal(t, "console", cfg.Format)
	assert.True(t, cfg.Output.Stderr)
	assert.False(t, cfg.Output.Stdout)

	_, err = FromSettings(config.LoggingConfig{Level: "loud"})
	assert.Error(t, err)

	_, err = FromSettings(config.LoggingConfig{Output: "syslog"})
	assert.Error(t, err)
}

func TestLevelFromString(t *testing.T) {
	l, err := LevelFromString("trace")
	require.NoError(t, err)
	assert.Equal(t, TraceLevel, l)

	l, err = LevelFromString("warn")
	require.NoError(t, err)
	assert.Equal(t, zapcore.WarnLevel, l)
}

func TestLogger_ContextFields(t *testing.T) {
	tl := NewTestLogger()

	provider := trace.NewTracerProvider()
	ctx, span := provider.Tracer("test").Start(context.Background(), "op")
	defer span.End()

	ctx = WithRequestID(ctx, "req-1")
	tl.Info(ctx, "collection created", zap.String("collection_id", "c1"))

	tl.AssertLogged(t, zapcore.InfoLevel, "collection created")
	tl.AssertField(t, "collection created", "request_id", "req-1")
	tl.AssertField(t, "collection created", "collection_id", "c1")

	entries := tl.FilterMessage("collection created").All()
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].ContextMap(), "trace_id")
}

func TestLogger_TraceLevel(t *testing.T) {
	tl := NewTestLogger()
	tl.Trace(context.Background(), "step entered")
	tl.AssertLogged(t, TraceLevel, "step entered")

	tl.Reset()
	assert.Empty(t, tl.All())
	tl.AssertNotLogged(t, TraceLevel, "step entered")
}

func TestWithRequestID_EmptyIgnored(t *testing.T) {
	ctx := WithRequestID(context.Background(), "")
	assert.Equal(t, "", RequestIDFromContext(ctx))
}
